package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/audit"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/database"
	"github.com/JonasLeetTheWay/campus-events/internal/notify"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/outbox"
	"github.com/JonasLeetTheWay/campus-events/internal/rabbit"
	"github.com/JonasLeetTheWay/campus-events/internal/redis"
	"github.com/JonasLeetTheWay/campus-events/internal/server"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"
	"github.com/JonasLeetTheWay/campus-events/internal/workflow"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	logger := observability.NewLogger(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg, "campus-events")
	if err != nil {
		log.Fatal("Failed to set up tracing:", err)
	}
	defer shutdownOTel()

	// Connect to database and make sure the baseline catalog exists
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := database.SeedData(db, cfg); err != nil {
		log.Fatal("Failed to seed data:", err)
	}

	store, err := storage.New(cfg.UploadDir, cfg.MaxUploadBytes())
	if err != nil {
		log.Fatal("Failed to prepare upload directory:", err)
	}

	// Redis is optional: without it rate limits and idempotency keys are off
	redisClient := redis.NewClient(cfg)
	defer redisClient.Close()
	if err := redisClient.Ping(ctx); err != nil {
		logger.WithError(err).Warn("redis unavailable, requests will not be rate limited")
	}

	wf := workflow.NewService(db, logger)
	issuer := artifact.NewIssuer(db, store)
	settings := notify.NewSettings(db, cfg.Mail)

	publisher, closePublisher, err := newPublisher(ctx, cfg, db, issuer, settings, logger)
	if err != nil {
		log.Fatal("Failed to set up notifications:", err)
	}
	defer closePublisher()

	relay := outbox.NewRelay(db, publisher, logger, cfg.OutboxBatchSize, cfg.OutboxMaxAttempts)
	if redisClient != nil {
		relay.WithLocker(redisClient)
	}

	router := server.NewRouter(server.Deps{
		Config:   cfg,
		DB:       db,
		Redis:    redisClient,
		Store:    store,
		Workflow: wf,
		Issuer:   issuer,
		Settings: settings,
		Logger:   logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("port", cfg.Port).Info("campus events server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		relay.Run(gctx, cfg.OutboxInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped")
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// newPublisher sends outbox messages to RabbitMQ when RABBIT_URL is set, for
// cmd/notifier to pick up. Otherwise notifications are dispatched in-process.
func newPublisher(ctx context.Context, cfg *config.Config, db *gorm.DB, issuer *artifact.Issuer, settings *notify.Settings, logger observability.Logger) (outbox.Publisher, func(), error) {
	if cfg.RabbitURL != "" {
		conn, err := rabbit.Dial(cfg.RabbitURL)
		if err != nil {
			return nil, nil, err
		}
		pub, err := rabbit.NewPublisher(conn)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		logger.Info("publishing notifications to rabbitmq")
		return pub, func() {
			pub.Close()
			conn.Close()
		}, nil
	}

	recorder, closeAudit, err := audit.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	dispatcher := notify.NewDispatcher(db, issuer, notify.NewSMTPSender(settings), recorder, logger)
	logger.Info("dispatching notifications in-process")
	return notify.NewDirect(dispatcher), closeAudit, nil
}
