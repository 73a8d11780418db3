package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() Config {
	cfg := Default()
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func TestDefaultMatchesReferenceDeployment(t *testing.T) {
	cfg := Default()

	if cfg.Render.CompilerPath != "pdflatex" || cfg.Render.ConverterPath != "pdftoppm" {
		t.Errorf("tool paths = %q, %q", cfg.Render.CompilerPath, cfg.Render.ConverterPath)
	}
	if cfg.Render.CompileTimeout != 20*time.Second || cfg.Render.RasterizeTimeout != 20*time.Second {
		t.Errorf("timeouts = %v, %v; want 20s each", cfg.Render.CompileTimeout, cfg.Render.RasterizeTimeout)
	}
	if cfg.Server.BodyLimit != 2*1024*1024 {
		t.Errorf("BodyLimit = %d, want 2MB", cfg.Server.BodyLimit)
	}
	if cfg.Server.Addr() != ":3001" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"render only skips app checks", func(c *Config) { c.Server.AppAPI = false; c.Auth.JWTSecret = "" }, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"zero timeout", func(c *Config) { c.Render.CompileTimeout = 0 }, "timeouts"},
		{"bad dpi", func(c *Config) { c.Render.DPI = 5 }, "render.dpi"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"redis cache without url", func(c *Config) { c.Cache.Backend = "redis" }, "redis.url"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"mongo without uri", func(c *Config) { c.Store.Backend = "mongo" }, "mongo_uri"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "OPENAI_API_KEY"},
		{"sendgrid without key", func(c *Config) { c.Mail.Provider = "sendgrid" }, "SENDGRID_API_KEY"},
		{"ses without region", func(c *Config) { c.Mail.Provider = "ses" }, "ses_region"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"PORT":           "8080",
		"PDFLATEX_PATH":  "/opt/texlive/bin/pdflatex",
		"PDFTOPPM_PATH":  "/usr/local/bin/pdftoppm",
		"GRAPHVIZ_PATH":  "/usr/bin/dot",
		"OPENAI_API_KEY": "sk-test",
		"JWT_SECRET":     testSecret,
		"REDIS_URL":      "redis://localhost:6379/0",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := applyEnv(&cfg, lookup); err != nil {
		t.Fatalf("applyEnv: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Port = %d", cfg.Server.Port)
	}
	if cfg.Render.CompilerPath != "/opt/texlive/bin/pdflatex" {
		t.Errorf("CompilerPath = %s", cfg.Render.CompilerPath)
	}
	if cfg.Render.ConverterPath != "/usr/local/bin/pdftoppm" {
		t.Errorf("ConverterPath = %s", cfg.Render.ConverterPath)
	}
	if cfg.Render.GraphvizPath != "/usr/bin/dot" {
		t.Errorf("GraphvizPath = %s", cfg.Render.GraphvizPath)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("an API key should switch the provider to openai, got %q", cfg.LLM.Provider)
	}
	if cfg.Redis.URL != "redis://localhost:6379/0" {
		t.Errorf("Redis.URL = %s", cfg.Redis.URL)
	}

	env["PORT"] = "eighty"
	if err := applyEnv(&cfg, lookup); err == nil {
		t.Error("non-numeric PORT should fail")
	}
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "examprep.toml")
	data := `
[server]
port = 4000
metrics = false

[render]
compile_timeout = "5s"
dpi = 150
strict_markup = true

[cache]
backend = "file"
dir = "/tmp/examprep-cache"

[auth]
jwt_secret = "` + testSecret + `"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	// Run from an empty directory so no stray .env is picked up.
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	t.Setenv("PDFTOPPM_PATH", "/custom/pdftoppm")
	t.Setenv("PORT", "")

	cfg, err := Load(path, func(c *Config) { c.Render.DPI = 200 })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Port = %d, want 4000 from file", cfg.Server.Port)
	}
	if cfg.Server.Metrics {
		t.Error("Metrics should be disabled by file")
	}
	if cfg.Render.CompileTimeout != 5*time.Second {
		t.Errorf("CompileTimeout = %v", cfg.Render.CompileTimeout)
	}
	if cfg.Render.RasterizeTimeout != 20*time.Second {
		t.Errorf("RasterizeTimeout = %v, want default", cfg.Render.RasterizeTimeout)
	}
	if !cfg.Render.StrictMarkup {
		t.Error("StrictMarkup not read from file")
	}
	if cfg.Render.DPI != 200 {
		t.Errorf("DPI = %d, want override 200", cfg.Render.DPI)
	}
	if cfg.Render.ConverterPath != "/custom/pdftoppm" {
		t.Errorf("ConverterPath = %s, want env value", cfg.Render.ConverterPath)
	}
	if cfg.Cache.Backend != "file" || cfg.Cache.Dir != "/tmp/examprep-cache" {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := "JWT_SECRET=" + testSecret + "\nPDFLATEX_PATH=/from/dotenv/pdflatex\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	// godotenv never overrides variables that are already set, so clear the
	// ones this test expects to come from the file.
	t.Setenv("PDFLATEX_PATH", "")
	os.Unsetenv("PDFLATEX_PATH")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")
	t.Setenv(EnvConfigPath, "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Render.CompilerPath != "/from/dotenv/pdflatex" {
		t.Errorf("CompilerPath = %s, want value from .env", cfg.Render.CompilerPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load should fail for a missing explicit config file")
	}
}

func TestRedacted(t *testing.T) {
	cfg := validConfig()
	cfg.LLM.APIKey = "sk-live"
	cfg.Store.MongoURI = "mongodb://user:pass@db:27017"
	cfg.Redis.URL = "redis://localhost:6379"

	r := cfg.Redacted()
	if r.Auth.JWTSecret == testSecret || r.LLM.APIKey == "sk-live" {
		t.Error("secrets not masked")
	}
	if r.Store.MongoURI != "mongodb://****@db:27017" {
		t.Errorf("MongoURI = %s", r.Store.MongoURI)
	}
	if r.Redis.URL != "redis://localhost:6379" {
		t.Errorf("URL without credentials should be unchanged: %s", r.Redis.URL)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Error("Redacted must not modify the receiver")
	}
}
