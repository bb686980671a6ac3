package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonasLeetTheWay/campus-events/internal/artifact"
	"github.com/JonasLeetTheWay/campus-events/internal/audit"
	"github.com/JonasLeetTheWay/campus-events/internal/config"
	"github.com/JonasLeetTheWay/campus-events/internal/database"
	"github.com/JonasLeetTheWay/campus-events/internal/notify"
	"github.com/JonasLeetTheWay/campus-events/internal/observability"
	"github.com/JonasLeetTheWay/campus-events/internal/rabbit"
	"github.com/JonasLeetTheWay/campus-events/internal/storage"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}
	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the notifier")
	}
	logger := observability.NewLogger(cfg.LogLevel).WithField("service", "notifier")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg, "campus-events-notifier")
	if err != nil {
		log.Fatal("Failed to set up tracing:", err)
	}
	defer shutdownOTel()

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	store, err := storage.New(cfg.UploadDir, cfg.MaxUploadBytes())
	if err != nil {
		log.Fatal("Failed to prepare upload directory:", err)
	}

	recorder, closeAudit, err := audit.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatal("Failed to connect audit store:", err)
	}
	defer closeAudit()

	settings := notify.NewSettings(db, cfg.Mail)
	dispatcher := notify.NewDispatcher(db, artifact.NewIssuer(db, store), notify.NewSMTPSender(settings), recorder, logger)

	conn, err := rabbit.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("Failed to connect to RabbitMQ:", err)
	}
	defer conn.Close()

	consumer, err := rabbit.NewConsumer(conn, rabbit.NotificationQueue, 8, logger)
	if err != nil {
		log.Fatal("Failed to create consumer:", err)
	}
	defer consumer.Close()

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("notifier consuming")
		return consumer.Consume(gctx, dispatcher.Handle)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case amqpErr := <-closed:
			if amqpErr == nil {
				return nil
			}
			return errors.Wrap(amqpErr, "rabbitmq connection closed")
		}
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("notifier stopped")
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}
