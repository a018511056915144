package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/grc-events/internal/config"
	"github.com/jwalitptl/grc-events/internal/dispatcher"
	"github.com/jwalitptl/grc-events/internal/model"
	"github.com/jwalitptl/grc-events/internal/repository/postgres"
	"github.com/jwalitptl/grc-events/internal/runner"
	"github.com/jwalitptl/grc-events/internal/transport"
	"github.com/jwalitptl/grc-events/pkg/logger"
	"github.com/jwalitptl/grc-events/pkg/messaging/redis"
	"github.com/jwalitptl/grc-events/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Logger.Fatal().Err(err).Msg("Failed to load config")
	}

	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	logger := &logger.Logger{ZL: log.Logger}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		logger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), &log.Logger)
	if err != nil {
		logger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	baseRepo := postgres.NewBaseRepository(db)
	eventRepo := postgres.NewEventRepository(baseRepo)
	subRepo := postgres.NewSubscriptionRepository(baseRepo)
	deliveryRepo := postgres.NewDeliveryLogRepository(baseRepo, eventRepo, subRepo)
	deadRepo := postgres.NewDeadLetterRepository(baseRepo)

	m := metrics.New("grc_events")

	directCall := transport.NewDirectCallTransport(logger)
	// In-process consumers register here; the default handler just logs so
	// a misconfigured subscription is visible instead of silently failing.
	directCall.Register(transport.DefaultHandlerName, func(ctx context.Context, env transport.Envelope) error {
		logger.Info("default handler invoked", "event_type", env.EventType, "event_id", env.EventID.String())
		return nil
	})

	transports := map[model.DeliveryMethod]transport.Transport{
		model.DeliveryMethodWebhook:    transport.NewWebhookTransport(nil, logger),
		model.DeliveryMethodQueue:      transport.NewQueueTransport(broker, logger),
		model.DeliveryMethodDirectCall: directCall,
	}

	d := dispatcher.NewDispatcher(deliveryRepo, eventRepo, subRepo, transports, logger, m)
	r := runner.NewRunner(d, deliveryRepo, deadRepo, cfg.Runner.ToRunnerConfig(), logger, m)

	setupMonitoring(cfg.Monitoring, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down...")
		cancel()
	}()

	r.Start(ctx)
}

func setupMonitoring(cfg config.MonitoringConfig, logger *logger.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle(cfg.MetricsPath, promhttp.Handler())

	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.Port), mux); err != nil {
			logger.ZL.Error().Err(err).Msg("Monitoring server failed")
			os.Exit(1)
		}
	}()
}
