// Package config loads the process configuration once at startup.
//
// Values are layered, later sources winning:
//
//  1. built-in defaults ([Default])
//  2. an optional TOML file
//  3. an optional .env file in the working directory
//  4. environment variables
//
// [Load] returns a [Config] value. Constructors receive the sections they
// need by value, so nothing reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvConfigPath names the environment variable that points at a TOML file
// when --config is not given.
const EnvConfigPath = "EXAMPREP_CONFIG"

// MinJWTSecretLength is the shortest HS256 secret accepted.
const MinJWTSecretLength = 32

// Config is the complete process configuration.
type Config struct {
	Server ServerConfig `toml:"server"`
	Render RenderConfig `toml:"render"`
	Cache  CacheConfig  `toml:"cache"`
	Redis  RedisConfig  `toml:"redis"`
	Store  StoreConfig  `toml:"store"`
	Auth   AuthConfig   `toml:"auth"`
	LLM    LLMConfig    `toml:"llm"`
	Mail   MailConfig   `toml:"mail"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port              int           `toml:"port"`
	BodyLimit         int64         `toml:"body_limit"`
	ReadHeaderTimeout time.Duration `toml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `toml:"shutdown_timeout"`
	Metrics           bool          `toml:"metrics"`
	AppAPI            bool          `toml:"app_api"`
}

// Addr returns the listen address for Port.
func (s ServerConfig) Addr() string { return ":" + strconv.Itoa(s.Port) }

// RenderConfig configures the TikZ pipeline.
type RenderConfig struct {
	CompilerPath     string        `toml:"compiler_path"`
	ConverterPath    string        `toml:"converter_path"`
	GraphvizPath     string        `toml:"graphviz_path"` // empty runs "examprep graphviz"
	CompileTimeout   time.Duration `toml:"compile_timeout"`
	RasterizeTimeout time.Duration `toml:"rasterize_timeout"`
	DPI              int           `toml:"dpi"`
	MaxImageBytes    int64         `toml:"max_image_bytes"`
	StrictMarkup     bool          `toml:"strict_markup"`
	WorkDir          string        `toml:"work_dir"`
	CacheTTL         time.Duration `toml:"cache_ttl"`
}

// CacheConfig selects the render cache backend.
type CacheConfig struct {
	Backend string `toml:"backend"` // none, file, redis
	Dir     string `toml:"dir"`     // file backend directory; empty means the XDG cache dir
	Prefix  string `toml:"prefix"`  // namespace for keys in a shared redis
}

// RedisConfig is shared by the redis cache and the redis token store.
type RedisConfig struct {
	URL string `toml:"url"`
}

// StoreConfig selects the application data store.
type StoreConfig struct {
	Backend  string `toml:"backend"` // memory, mongo
	MongoURI string `toml:"mongo_uri"`
	Database string `toml:"database"`
	SeedFile string `toml:"seed_file"` // question bank loaded at startup
}

// AuthConfig configures access tokens and single-use email tokens.
type AuthConfig struct {
	JWTSecret string        `toml:"jwt_secret"`
	TokenTTL  time.Duration `toml:"token_ttl"`
	VerifyTTL time.Duration `toml:"verify_ttl"`
	ResetTTL  time.Duration `toml:"reset_ttl"`
	AppURL    string        `toml:"app_url"`
	Tokens    string        `toml:"tokens"` // memory, redis
}

// LLMConfig configures the completion provider.
type LLMConfig struct {
	Provider    string        `toml:"provider"` // openai, none
	APIKey      string        `toml:"api_key"`
	BaseURL     string        `toml:"base_url"`
	Model       string        `toml:"model"`
	VisionModel string        `toml:"vision_model"`
	Timeout     time.Duration `toml:"timeout"`
	History     int           `toml:"history"`
}

// MailConfig configures the transactional email sender.
type MailConfig struct {
	Provider    string `toml:"provider"` // log, sendgrid, ses
	From        string `toml:"from"`
	FromName    string `toml:"from_name"`
	SendGridKey string `toml:"sendgrid_key"`
	SESRegion   string `toml:"ses_region"`
}

// Default returns the built-in configuration. It matches the reference
// deployment: pdflatex and pdftoppm from PATH, 20s per stage, port 3001 and
// a 2 MB body cap.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:              3001,
			BodyLimit:         2 << 20,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			Metrics:           true,
			AppAPI:            true,
		},
		Render: RenderConfig{
			CompilerPath:     "pdflatex",
			ConverterPath:    "pdftoppm",
			CompileTimeout:   20 * time.Second,
			RasterizeTimeout: 20 * time.Second,
			DPI:              300,
			MaxImageBytes:    5 << 20,
			CacheTTL:         7 * 24 * time.Hour,
		},
		Cache: CacheConfig{Backend: "none"},
		Store: StoreConfig{Backend: "memory", Database: "examprep"},
		Auth: AuthConfig{
			TokenTTL:  24 * time.Hour,
			VerifyTTL: 48 * time.Hour,
			ResetTTL:  time.Hour,
			AppURL:    "http://localhost:5173",
			Tokens:    "memory",
		},
		LLM: LLMConfig{
			Provider:    "none",
			Model:       "gpt-4o-mini",
			VisionModel: "gpt-4o",
			Timeout:     60 * time.Second,
			History:     20,
		},
		Mail: MailConfig{
			Provider: "log",
			From:     "no-reply@examprep.local",
			FromName: "Exam Prep",
		},
	}
}

// Override adjusts a loaded configuration before validation. The CLI uses
// overrides to apply command-line flags.
type Override func(*Config)

// Load builds the configuration from defaults, the TOML file at path (or
// $EXAMPREP_CONFIG when path is empty), .env, the environment and finally
// overrides, then validates it.
func Load(path string, overrides ...Override) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("read .env: %w", err)
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	for _, o := range overrides {
		o(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables. lookup is os.LookupEnv outside
// tests.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %q is not a number", v)
		}
		cfg.Server.Port = port
	}
	str("PDFLATEX_PATH", &cfg.Render.CompilerPath)
	str("PDFTOPPM_PATH", &cfg.Render.ConverterPath)
	str("GRAPHVIZ_PATH", &cfg.Render.GraphvizPath)
	str("REDIS_URL", &cfg.Redis.URL)
	str("MONGO_URI", &cfg.Store.MongoURI)
	str("MONGO_DATABASE", &cfg.Store.Database)
	str("EXAMPREP_SEED", &cfg.Store.SeedFile)
	str("JWT_SECRET", &cfg.Auth.JWTSecret)
	str("APP_URL", &cfg.Auth.AppURL)
	str("OPENAI_API_KEY", &cfg.LLM.APIKey)
	str("OPENAI_BASE_URL", &cfg.LLM.BaseURL)
	str("OPENAI_MODEL", &cfg.LLM.Model)
	str("SENDGRID_API_KEY", &cfg.Mail.SendGridKey)
	str("AWS_REGION", &cfg.Mail.SESRegion)
	str("MAIL_FROM", &cfg.Mail.From)

	// A key in the environment is enough to switch providers on when the
	// file left them at their defaults.
	if cfg.LLM.Provider == "none" && cfg.LLM.APIKey != "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.Mail.Provider == "log" && cfg.Mail.SendGridKey != "" {
		cfg.Mail.Provider = "sendgrid"
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port %d out of range", c.Server.Port)
	}
	if c.Server.BodyLimit <= 0 {
		add("server.body_limit must be positive")
	}
	if c.Render.CompilerPath == "" {
		add("render.compiler_path is required")
	}
	if c.Render.ConverterPath == "" {
		add("render.converter_path is required")
	}
	if c.Render.CompileTimeout <= 0 || c.Render.RasterizeTimeout <= 0 {
		add("render timeouts must be positive")
	}
	if c.Render.DPI < 36 || c.Render.DPI > 1200 {
		add("render.dpi %d out of range 36..1200", c.Render.DPI)
	}
	if c.Render.MaxImageBytes <= 0 {
		add("render.max_image_bytes must be positive")
	}

	if !oneOf(c.Cache.Backend, "none", "file", "redis") {
		add("cache.backend %q must be none, file or redis", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Redis.URL == "" {
		add("cache.backend = redis requires redis.url or REDIS_URL")
	}

	if c.Server.AppAPI {
		if !oneOf(c.Store.Backend, "memory", "mongo") {
			add("store.backend %q must be memory or mongo", c.Store.Backend)
		}
		if c.Store.Backend == "mongo" && c.Store.MongoURI == "" {
			add("store.backend = mongo requires store.mongo_uri or MONGO_URI")
		}
		if len(c.Auth.JWTSecret) < MinJWTSecretLength {
			add("auth.jwt_secret must be at least %d bytes (set JWT_SECRET)", MinJWTSecretLength)
		}
		if !oneOf(c.Auth.Tokens, "memory", "redis") {
			add("auth.tokens %q must be memory or redis", c.Auth.Tokens)
		}
		if c.Auth.Tokens == "redis" && c.Redis.URL == "" {
			add("auth.tokens = redis requires redis.url or REDIS_URL")
		}
		if !oneOf(c.LLM.Provider, "openai", "none") {
			add("llm.provider %q must be openai or none", c.LLM.Provider)
		}
		if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
			add("llm.provider = openai requires an API key (OPENAI_API_KEY)")
		}
		if !oneOf(c.Mail.Provider, "log", "sendgrid", "ses") {
			add("mail.provider %q must be log, sendgrid or ses", c.Mail.Provider)
		}
		if c.Mail.Provider == "sendgrid" && c.Mail.SendGridKey == "" {
			add("mail.provider = sendgrid requires SENDGRID_API_KEY")
		}
		if c.Mail.Provider == "ses" && c.Mail.SESRegion == "" {
			add("mail.provider = ses requires mail.ses_region or AWS_REGION")
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	c.Auth.JWTSecret = mask(c.Auth.JWTSecret)
	c.LLM.APIKey = mask(c.LLM.APIKey)
	c.Mail.SendGridKey = mask(c.Mail.SendGridKey)
	c.Store.MongoURI = maskURL(c.Store.MongoURI)
	c.Redis.URL = maskURL(c.Redis.URL)
	return c
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// maskURL hides the userinfo part of a connection string.
func maskURL(s string) string {
	scheme := strings.Index(s, "://")
	at := strings.LastIndex(s, "@")
	if scheme < 0 || at < scheme {
		return s
	}
	return s[:scheme+3] + "****" + s[at:]
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
