package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/examprep/examprep/internal/server"
	"github.com/examprep/examprep/pkg/auth"
	"github.com/examprep/examprep/pkg/buildinfo"
	"github.com/examprep/examprep/pkg/cache"
	"github.com/examprep/examprep/pkg/chat"
	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/grading"
	"github.com/examprep/examprep/pkg/llm"
	"github.com/examprep/examprep/pkg/mail"
	"github.com/examprep/examprep/pkg/observability/prom"
	"github.com/examprep/examprep/pkg/render"
	"github.com/examprep/examprep/pkg/session"
	"github.com/examprep/examprep/pkg/workspace"
)

// tokenCleanupInterval is how often expired in-memory email tokens are swept.
const tokenCleanupInterval = 10 * time.Minute

// serveOpts holds the command-line flags for the serve command.
type serveOpts struct {
	port       int
	renderOnly bool
	noMetrics  bool
}

// serveCommand creates the serve command.
func (c *CLI) serveCommand() *cobra.Command {
	var opts serveOpts

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Long: `Run the HTTP server.

POST /render and GET /health are always served. The application API under
/api needs auth.jwt_secret (JWT_SECRET); pass --render-only to run just the
renderer.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(func(cfg *config.Config) {
				if opts.port != 0 {
					cfg.Server.Port = opts.port
				}
				if opts.renderOnly {
					cfg.Server.AppAPI = false
				}
				if opts.noMetrics {
					cfg.Server.Metrics = false
				}
			})
			if err != nil {
				return err
			}
			return c.runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "listen port (default from config or $PORT)")
	cmd.Flags().BoolVar(&opts.renderOnly, "render-only", false, "serve only the render endpoints")
	cmd.Flags().BoolVar(&opts.noMetrics, "no-metrics", false, "disable /metrics")

	return cmd
}

// runServe wires the configured backends into the server and runs it until
// ctx is cancelled.
func (c *CLI) runServe(ctx context.Context, cfg config.Config) error {
	c.Logger.Info("starting examprep", "build", buildinfo.String())
	c.Logger.Debug("configuration", "config", fmt.Sprintf("%+v", cfg.Redacted()))

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	var rdb *redis.Client
	if cfg.Cache.Backend == "redis" || (cfg.Server.AppAPI && cfg.Auth.Tokens == "redis") {
		var err error
		if rdb, err = cache.NewRedisClient(ctx, cfg.Redis.URL); err != nil {
			return err
		}
		closers = append(closers, func() { _ = rdb.Close() })
	}

	rc, err := newCache(cfg.Cache, rdb, false)
	if err != nil {
		return err
	}
	if cfg.Cache.Backend != "redis" {
		closers = append(closers, func() { _ = rc.Close() })
	}

	deps := server.Deps{
		Renderer: render.NewRenderer(renderOptions(cfg.Render, cfg.Cache), workspace.NewManager(cfg.Render.WorkDir, c.Logger), rc, c.Logger),
		Logger:   c.Logger,
	}

	if cfg.Server.Metrics {
		m := prom.New()
		m.Register()
		deps.Metrics = m.Handler()
	}

	if cfg.Server.AppAPI {
		closeApp, err := c.wireApp(ctx, cfg, rdb, &deps)
		if err != nil {
			return err
		}
		closers = append(closers, closeApp)
	}

	return server.New(cfg.Server, deps).Run(ctx)
}

// wireApp opens the store and builds the application services. The
// returned func releases what it opened.
func (c *CLI) wireApp(ctx context.Context, cfg config.Config, rdb *redis.Client, deps *server.Deps) (func(), error) {
	st, err := c.openStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	closeStore := func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := st.Close(shutdownCtx); err != nil {
			c.Logger.Warn("close store", "err", err)
		}
	}

	var tokens session.TokenStore
	if cfg.Auth.Tokens == "redis" {
		tokens = session.NewRedisTokenStore(rdb, session.DefaultRedisPrefix)
	} else {
		mem := session.NewMemoryTokenStore()
		go sweepTokens(ctx, mem, c.Logger)
		tokens = mem
	}

	mailer, err := newMailer(ctx, cfg.Mail, c.Logger)
	if err != nil {
		closeStore()
		return nil, err
	}
	client, err := newLLM(cfg.LLM)
	if err != nil {
		closeStore()
		return nil, err
	}

	deps.Store = st
	deps.Auth = auth.NewService(st, tokens, mailer,
		auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		auth.Config{
			AppName:   cfg.Mail.FromName,
			AppURL:    cfg.Auth.AppURL,
			VerifyTTL: cfg.Auth.VerifyTTL,
			ResetTTL:  cfg.Auth.ResetTTL,
		}, c.Logger)
	deps.Chat = chat.NewAssistant(st, client, chat.Options{History: cfg.LLM.History}, c.Logger)
	deps.Grader = grading.NewGrader(st, client, c.Logger)

	c.Logger.Info("app API enabled",
		"store", cfg.Store.Backend,
		"tokens", cfg.Auth.Tokens,
		"mail", cfg.Mail.Provider,
		"llm", cfg.LLM.Provider,
	)
	return closeStore, nil
}

// newMailer builds the configured mail sender.
func newMailer(ctx context.Context, cfg config.MailConfig, logger *log.Logger) (mail.Sender, error) {
	switch cfg.Provider {
	case "sendgrid":
		return mail.NewSendGrid(cfg.SendGridKey, cfg.FromName, cfg.From), nil
	case "ses":
		return mail.NewSES(ctx, cfg.SESRegion, cfg.From)
	default:
		return mail.NewLogSender(logger), nil
	}
}

// newLLM builds the configured completion client. Without a provider the
// chat and grading routes answer with an upstream error.
func newLLM(cfg config.LLMConfig) (llm.Client, error) {
	if cfg.Provider != "openai" {
		return llm.Disabled, nil
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		VisionModel: cfg.VisionModel,
		Timeout:     cfg.Timeout,
	})
}

// sweepTokens drops expired tokens until ctx is done.
func sweepTokens(ctx context.Context, ts session.TokenStore, logger *log.Logger) {
	ticker := time.NewTicker(tokenCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ts.Cleanup(ctx); err != nil {
				logger.Warn("token cleanup failed", "err", err)
			}
		}
	}
}
