package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aniketchurihar/CardioGenie/internal/agent"
	"github.com/Aniketchurihar/CardioGenie/internal/config"
	"github.com/Aniketchurihar/CardioGenie/internal/consultation"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/calendar"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/metrics"
	"github.com/Aniketchurihar/CardioGenie/internal/platform/telegram"
	"github.com/Aniketchurihar/CardioGenie/internal/report"
	"github.com/Aniketchurihar/CardioGenie/internal/rules"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake HTTP and WebSocket server",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := slog.Default()
	log.Info("CardioGenie starting", "version", version, "config", cfgFile, "storage", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Infrastructure
	repo, closeRepo, err := openRepository(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()

	catalog := rules.LoadFile(cfg.Rules.DatasetPath, log)
	log.Info("rule catalog loaded", "symptoms", catalog.Len())

	var m *metrics.Metrics
	if cfg.Server.EnableMetrics {
		m = metrics.New()
	}

	// 2. Clients
	tgClient := telegram.NewClient(cfg.Telegram.BotToken)
	if cfg.Telegram.BotToken == "" || cfg.Telegram.DoctorChatID == 0 {
		log.Warn("TELEGRAM_BOT_TOKEN or DOCTOR_CHAT_ID is not set; doctor summaries will fail")
	}
	calClient := calendar.New(cfg.Calendar, log)

	var extractor consultation.Extractor
	var phraser consultation.Phraser
	if cfg.LLM.APIKey != "" {
		llm := agent.NewClient(agent.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		extractor, phraser = llm, llm
	} else {
		log.Warn("no LLM api key configured; using pattern extraction and fixed phrasing")
	}

	// 3. Services
	policy, err := consultation.NewPolicy(cfg.Intake.RequiredFields, cfg.Intake.MaxFollowUpQuestions, cfg.Intake.MinResponses)
	if err != nil {
		return err
	}
	reportSvc := report.NewService(tgClient, calClient, report.Options{
		DoctorChatID:    cfg.Telegram.DoctorChatID,
		DoctorEmail:     cfg.Calendar.DoctorEmail,
		AttachPDF:       cfg.Telegram.AttachPDF,
		FontPath:        cfg.Telegram.FontPath,
		AppointmentLead: cfg.Calendar.AppointmentLead,
		Duration:        cfg.Calendar.Duration,
	}, log)

	svc := consultation.NewService(consultation.Deps{
		Catalog:         catalog,
		Policy:          policy,
		Store:           consultation.NewMemoryStore(),
		Repo:            repo,
		Extractor:       extractor,
		Phraser:         phraser,
		Notifier:        reportSvc,
		DispatchTimeout: cfg.Intake.DispatchTimeout,
		Logger:          log,
		Metrics:         m,
	})
	handler := consultation.NewHandler(svc, log, cfg.Server.MessagesPerSecond, cfg.Server.MessageBurst)

	// 4. Router
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS for the chat page and doctor dashboard
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization")
			if r.Method == http.MethodOptions {
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	consultation.RegisterRoutes(r, handler)
	calendar.RegisterRoutes(r, calClient)
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openRepository connects the configured storage backend.
func openRepository(ctx context.Context, cfg *config.Config, log *slog.Logger) (consultation.Repository, func(), error) {
	switch cfg.Storage.Backend {
	case "memory":
		log.Warn("using in-memory storage; sessions are lost on restart")
		return consultation.NewMemoryRepository(), func() {}, nil

	case "redis":
		rc := cfg.Storage.Redis
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping failed: %w", err)
		}
		log.Info("connected to redis", "addr", rc.Addr)
		return consultation.NewRedisRepository(client, rc.Prefix, rc.TTL), func() { _ = client.Close() }, nil

	default:
		db, err := connectPostgres(ctx, cfg.Storage.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Storage.AutoMigrate {
			if err := migrateUp(db, log); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return consultation.NewRepository(db), func() { _ = db.Close() }, nil
	}
}

// connectPostgres waits for the database to accept connections.
func connectPostgres(ctx context.Context, dsn string, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	const attempts = 10
	for i := 1; i <= attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			log.Info("connected to database")
			return db, nil
		}
		log.Info("waiting for database", "attempt", i, "of", attempts, "error", err)
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	_ = db.Close()
	return nil, fmt.Errorf("could not connect to database: %w", err)
}
