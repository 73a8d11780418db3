// Package server exposes the render pipeline and the exam-prep API over HTTP.
//
// The render routes (POST /render, POST /render/dot, GET /health) are always
// mounted. The application API under /api is mounted when
// [config.ServerConfig].AppAPI is set; it needs every field of [Deps].
package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/examprep/examprep/pkg/auth"
	"github.com/examprep/examprep/pkg/chat"
	"github.com/examprep/examprep/pkg/config"
	"github.com/examprep/examprep/pkg/grading"
	"github.com/examprep/examprep/pkg/render"
	"github.com/examprep/examprep/pkg/store"
)

// Deps are the collaborators behind the routes.
type Deps struct {
	Renderer *render.Renderer
	Auth     *auth.Service
	Store    store.Store
	Chat     *chat.Assistant
	Grader   *grading.Grader
	Metrics  http.Handler // served at /metrics when non-nil
	Logger   *log.Logger
}

// Server routes requests to the handlers.
type Server struct {
	cfg    config.ServerConfig
	deps   Deps
	logger *log.Logger
	router chi.Router
}

// New builds the router. It panics when AppAPI is set but an application
// dependency is missing, since that is a wiring bug.
func New(cfg config.ServerConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Renderer == nil {
		deps.Renderer = render.NewRenderer(render.DefaultOptions(), nil, nil, deps.Logger)
	}
	if cfg.AppAPI && (deps.Auth == nil || deps.Store == nil || deps.Chat == nil || deps.Grader == nil) {
		panic("server: app API enabled without its dependencies")
	}

	s := &Server{cfg: cfg, deps: deps, logger: deps.Logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(limitBody(s.cfg.BodyLimit))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})

	r.Get("/health", s.handleHealth)
	r.Post("/render", s.handleRender)
	r.Post("/render/dot", s.handleRenderDOT)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	if s.cfg.AppAPI {
		r.Route("/api", s.apiRoutes)
	}
	return r
}

func (s *Server) apiRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/login", s.handleLogin)
		r.Post("/verify-email", s.handleVerifyEmail)
		r.Post("/resend-verification", s.handleResendVerification)
		r.Post("/forgot-password", s.handleForgotPassword)
		r.Post("/reset-password", s.handleResetPassword)
		r.With(s.requireUser).Get("/me", s.handleMe)
	})

	r.Get("/questions", s.handleListQuestions)
	r.Get("/questions/{id}", s.handleQuestion)
	r.Get("/taxonomy", s.handleTaxonomy)
	r.Get("/taxonomy/{subject}", s.handleTaxonomySubject)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)
		r.Get("/chat/messages", s.handleChatHistory)
		r.Post("/chat/messages", s.handleChatSend)
		r.Delete("/chat/messages", s.handleChatClear)
		r.Get("/attempts", s.handleListAttempts)
		r.Post("/attempts", s.handleCreateAttempt)
		r.Post("/grade", s.handleGrade)
	})
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the configured port until ctx is cancelled, then shuts down
// gracefully. In-flight renders finish and clean up their workspaces.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
		ErrorLog:          s.logger.StandardLog(log.StandardLogOptions{ForceLevel: log.WarnLevel}),
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", ln.Addr().String(), "app_api", s.cfg.AppAPI)
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	s.logger.Info("shutting down", "timeout", timeout)
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
