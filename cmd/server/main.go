package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/shoprules/internal/config"
	"github.com/liamcoop/shoprules/internal/logger"
	"github.com/liamcoop/shoprules/rules"
	"github.com/liamcoop/shoprules/validation"
)

// ServerOptions configures NewServer
type ServerOptions struct {
	// DB enables persisted rule definitions when non-nil
	DB               *sql.DB
	LoadDefaultRules bool
	RuleTimeout      time.Duration
	RequestTimeout   time.Duration
	Clock            rules.Clock
}

type Server struct {
	db           *sql.DB
	store        *rules.Store
	evaluator    *rules.Evaluator
	orchestrator *validation.Orchestrator
	compiler     *rules.CELCompiler
	source       *rules.PostgresDefinitionSource
	policy       rules.Policy
	registry     *prometheus.Registry
	validate     *validator.Validate
	router       *chi.Mux
}

// NewServer builds the rule registry, loads persisted definitions and sets up routes
func NewServer(ctx context.Context, opts ServerOptions) (*Server, error) {
	store := rules.NewStore()

	if opts.LoadDefaultRules {
		if err := rules.RegisterDefaultRules(store, opts.Clock); err != nil {
			return nil, err
		}
	}

	compiler, err := rules.NewCELCompiler(opts.Clock)
	if err != nil {
		return nil, err
	}

	s := &Server{
		db:       opts.DB,
		store:    store,
		compiler: compiler,
		policy:   rules.DefaultPolicy(),
		registry: prometheus.NewRegistry(),
		validate: validator.New(),
	}

	if opts.DB != nil {
		s.source = rules.NewPostgresDefinitionSource(opts.DB)
		loaded, err := s.source.LoadInto(ctx, store, compiler)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule definitions: %w", err)
		}
		logger.Info("Loaded persisted rule definitions", "count", loaded)
	}

	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registerLogCounters(s.registry)
	s.evaluator = rules.NewEvaluator(store,
		rules.WithLogger(logger.Events()),
		rules.WithMetrics(rules.NewMetrics(s.registry)),
		rules.WithConditionTimeout(opts.RuleTimeout),
	)
	s.orchestrator = validation.NewOrchestrator(s.evaluator)

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 60 * time.Second
	}
	s.setupRoutes(requestTimeout)

	stats := store.Stats()
	logger.Info("Rule registry ready", "rules", stats.TotalRules, "groups", stats.Groups)

	return s, nil
}

// registerLogCounters exposes the logger's unsampled counters
func registerLogCounters(reg prometheus.Registerer) {
	counters := []struct {
		name  string
		help  string
		value func() int64
	}{
		{"shoprules_log_errors_total", "Errors reported, including sampled-out log lines", logger.TotalErrors.Load},
		{"shoprules_log_warnings_total", "Warnings reported, including sampled-out log lines", logger.TotalWarnings.Load},
		{"shoprules_http_5xx_total", "HTTP responses with a 5xx status", logger.Total5xxErrors.Load},
		{"shoprules_http_4xx_total", "HTTP responses with a 4xx status", logger.Total4xxErrors.Load},
		{"shoprules_rule_violations_logged_total", "HIGH and CRITICAL rule failures written to the log", logger.TotalRuleViolations.Load},
		{"shoprules_security_events_total", "Security events written to the log", logger.TotalSecurityEvents.Load},
	}

	for _, c := range counters {
		value := c.value
		reg.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(value()) },
		))
	}
}

func (s *Server) setupRoutes(requestTimeout time.Duration) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Post("/api/v1/validate/{entityType}", s.handleValidate)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/status", s.handleRuleStatus)
		r.Post("/", s.handleCreateRule)
		r.Get("/{group}", s.handleListGroup)
		r.Delete("/{group}/{name}", s.handleDeleteRule)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func main() {
	configPath := flag.String("config", "", "Path to an optional config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to open database", "error", err)
		}
		defer db.Close()

		if err := db.Ping(); err != nil {
			logger.Fatal("Failed to ping database", "error", err)
		}
	} else {
		logger.Info("DATABASE_URL not set, running with built-in rules only")
	}

	server, err := NewServer(context.Background(), ServerOptions{
		DB:               db,
		LoadDefaultRules: cfg.LoadDefaultRules,
		RuleTimeout:      cfg.RuleTimeout,
		RequestTimeout:   cfg.RequestTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Port),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("Server stopped")
}
