// Package cli implements the examprep command-line interface.
package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/examprep/examprep/pkg/buildinfo"
	"github.com/examprep/examprep/pkg/cache"
	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/render"
	"github.com/examprep/examprep/pkg/store"
)

// =============================================================================
// Constants
// =============================================================================

// appName is the application name used for directories and display.
const appName = "examprep"

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	configPath string
	logFormat  string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{Logger: newLogger(w, level)}
}

// SetLogLevel updates the logger's level.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Exam prep platform and TikZ diagram renderer",
		Long: `examprep serves the exam-prep API: a TikZ rendering endpoint, accounts,
an AI tutor chat, a question bank with diagram rendering, and answer grading.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (TOML); defaults to $"+config.EnvConfigPath)
	root.PersistentFlags().StringVar(&c.logFormat, "log-format", "text", "log output: text, json or logfmt")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setLogFormat(c.Logger, c.logFormat)
	}

	root.AddCommand(c.serveCommand())
	root.AddCommand(c.renderCommand())
	root.AddCommand(c.graphvizCommand())
	root.AddCommand(c.seedCommand())
	root.AddCommand(c.questionsCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// =============================================================================
// Factories
// =============================================================================

// loadConfig loads the configuration named by --config.
func (c *CLI) loadConfig(overrides ...config.Override) (config.Config, error) {
	return config.Load(c.configPath, overrides...)
}

// renderOptions maps the render and cache sections onto renderer options.
// Without a graphviz_path, DOT layout runs in a child "examprep graphviz"
// process so the compile timeout can kill it.
func renderOptions(rc config.RenderConfig, cc config.CacheConfig) render.Options {
	gvPath, gvArgs := rc.GraphvizPath, []string(nil)
	if gvPath == "" {
		if exe, err := os.Executable(); err == nil {
			gvPath, gvArgs = exe, []string{"graphviz"}
		}
	}
	return render.Options{
		CompilerPath:     rc.CompilerPath,
		ConverterPath:    rc.ConverterPath,
		GraphvizPath:     gvPath,
		GraphvizArgs:     gvArgs,
		CompileTimeout:   rc.CompileTimeout,
		RasterizeTimeout: rc.RasterizeTimeout,
		DPI:              rc.DPI,
		MaxImageBytes:    rc.MaxImageBytes,
		StrictMarkup:     rc.StrictMarkup,
		CacheTTL:         rc.CacheTTL,
		CachePrefix:      cc.Prefix,
	}
}

// newCache opens the configured render cache. rdb is only used by the redis
// backend.
func newCache(cfg config.CacheConfig, rdb *redis.Client, noCache bool) (cache.Cache, error) {
	if noCache {
		return cache.NewNullCache(), nil
	}
	switch cfg.Backend {
	case "file":
		dir := cfg.Dir
		if dir == "" {
			var err error
			if dir, err = cacheDir(); err != nil {
				return cache.NewNullCache(), nil
			}
		}
		return cache.NewFileCache(dir)
	case "redis":
		return cache.NewRedisCache(rdb), nil
	default:
		return cache.NewNullCache(), nil
	}
}

// openStore opens the configured data store and loads the seed file into it
// when one is set.
func (c *CLI) openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var st store.Store
	switch cfg.Backend {
	case "mongo":
		ms, err := store.NewMongoStore(ctx, cfg.MongoURI, cfg.Database)
		if err != nil {
			return nil, err
		}
		st = ms
	default:
		st = store.NewMemoryStore()
	}

	if cfg.SeedFile != "" {
		seed, err := store.LoadSeed(cfg.SeedFile)
		if err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		if err := seed.Apply(ctx, st); err != nil {
			_ = st.Close(ctx)
			return nil, err
		}
		c.Logger.Info("loaded question bank", "file", cfg.SeedFile, "questions", len(seed.Questions))
	}
	return st, nil
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/examprep/).
func cacheDir() (string, error) {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache", appName), nil
}
