// cmd/worker/main.go
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/streadway/amqp"

	"github.com/unclebandit/wa-dispatch/internal/ai"
	"github.com/unclebandit/wa-dispatch/internal/config"
	"github.com/unclebandit/wa-dispatch/internal/db"
	"github.com/unclebandit/wa-dispatch/internal/lease"
	"github.com/unclebandit/wa-dispatch/internal/logger"
	"github.com/unclebandit/wa-dispatch/internal/queue"
	"github.com/unclebandit/wa-dispatch/internal/repository"
	"github.com/unclebandit/wa-dispatch/internal/service"
	"github.com/unclebandit/wa-dispatch/internal/whatsapp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("wa-dispatch-worker", "local", "info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New("wa-dispatch-worker", cfg.App.Env, cfg.App.LogLevel)

	if cfg.Queue.Driver != "amqp" {
		log.Fatal().Str("queue_driver", cfg.Queue.Driver).Msg("the standalone worker needs QUEUE_DRIVER=amqp; the memory queue runs inside the server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("database unavailable")
	}
	defer conn.Close()

	campaignRepo := &repository.CampaignRepository{DB: conn}
	logRepo := &repository.MessageLogRepository{DB: conn}
	instanceRepo := &repository.InstanceRepository{DB: conn}

	gateway := whatsapp.NewClient(cfg.WhatsApp, &http.Client{Timeout: cfg.WhatsApp.Timeout}, log)
	notifier := service.NewNotifier(instanceRepo, gateway, cfg.Dispatch.NotifyConcurrency, log)
	worker := service.NewMessageWorker(campaignRepo, logRepo, instanceRepo, gateway,
		ai.New(cfg.AI, log), notifier, lease.New(cfg.Redis, cfg.Dispatch.LeaseTTL, log), log)

	amqpConn, err := amqp.Dial(cfg.Queue.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer amqpConn.Close()

	consumer := queue.NewAMQPConsumer(amqpConn, cfg.Queue, cfg.Dispatch, log)
	log.Info().Int("max_attempts", cfg.Dispatch.MaxAttempts).Msg("Worker running, waiting for messages...")
	if err := consumer.Run(ctx, worker.Handle); err != nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("worker stopped")
}
