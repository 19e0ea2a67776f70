// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/streadway/amqp"

	"github.com/unclebandit/wa-dispatch/internal/ai"
	"github.com/unclebandit/wa-dispatch/internal/config"
	"github.com/unclebandit/wa-dispatch/internal/controller"
	"github.com/unclebandit/wa-dispatch/internal/db"
	"github.com/unclebandit/wa-dispatch/internal/handler"
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
		bootLog := logger.New("wa-dispatch-server", "local", "info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New("wa-dispatch-server", cfg.App.Env, cfg.App.LogLevel)

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

	var publisher queue.Publisher
	switch cfg.Queue.Driver {
	case "memory":
		// single process: this server also delivers the messages it plans
		q := queue.NewInMemoryQueue(cfg.Dispatch.MaxAttempts, cfg.Dispatch.RetryBackoff, log)
		defer q.Close()
		q.Subscribe(worker.Handle)
		publisher = q
	default:
		amqpConn, err := amqp.Dial(cfg.Queue.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer amqpConn.Close()
		publisher, err = queue.NewAMQPPublisher(amqpConn, cfg.Queue, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to set up publisher")
		}
	}

	delay := service.NewDelayScheduler(nil)
	planner := service.NewPlanner(campaignRepo, logRepo, publisher, delay, log)
	scheduler := service.NewScheduler(planner, cfg.Dispatch.SchedulerInterval, log)

	campaignService := &service.CampaignService{
		CampaignRepo: campaignRepo,
		LogRepo:      logRepo,
		Publisher:    publisher,
		Delay:        delay,
		Completion:   worker.Completion,
		Log:          log.With().Str("component", "campaign_service").Logger(),
		Now:          time.Now,
	}
	inbound := &service.InboundService{Logs: logRepo, Notifier: notifier, Log: log, Now: time.Now}

	r := chi.NewRouter()
	r.Use(logger.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.Middleware(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handler.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	(&controller.CampaignController{CampaignService: campaignService, Log: log}).RegisterRoutes(r)
	(&handler.SchedulerHandler{Scheduler: scheduler}).RegisterRoutes(r)
	(&handler.InboundHandler{Replies: inbound, Log: log}).RegisterRoutes(r)

	(&handler.JobHandler{Worker: worker, Log: log}).RegisterRoutes(r)

	go scheduler.Start(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr(), Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", srv.Addr).Str("queue_driver", cfg.Queue.Driver).Msg("Server running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
