package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ipulse/apiserver/config"
	"github.com/ipulse/apiserver/internal/db"
	"github.com/ipulse/apiserver/internal/events"
	"github.com/ipulse/apiserver/internal/handlers"
	"github.com/ipulse/apiserver/internal/services"
	"github.com/ipulse/apiserver/internal/store"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 30 * time.Second

// Server wraps the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	publisher  events.Publisher
	log        *logrus.Logger
}

// New wires the account service. An unreachable database does not stop
// startup; a broker that cannot be reached does.
func New(ctx context.Context, cfg config.Config, log *logrus.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(cfg.Database, db.Up); err != nil {
			log.WithError(err).Warn("automatic migration failed")
		}
	}

	publisher, err := events.New(ctx, cfg.Events, log)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("init events backend: %w", err)
	}

	userRepo := store.NewUserRepository(dbConn, store.DialectFor(cfg.Database.Driver))
	accountService := services.NewAccountService(userRepo, cfg.Account, publisher, log)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: log, NoColor: true}),
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz(accountService))
	handlers.AccountRouter(router, accountService)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.WithFields(logrus.Fields{
		"mode":   accountService.Mode(),
		"events": cfg.Events.Backend,
	}).Info("account service configured")

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		publisher:  publisher,
		log:        log,
	}, nil
}

// Router exposes the chi router, mainly for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases the broker and the
// database.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.publisher != nil {
		if cerr := s.publisher.Close(); cerr != nil {
			s.log.WithError(cerr).Warn("close events backend")
		}
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
