package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/forecast"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/entities"
	controller "github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/irrigation-controller"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

type Config struct {
	config.RabbitMQ
	config.Logging
	config.Weather

	Hostname      string `envconfig:"HOSTNAME" default:"local"`
	AggregatedSub string `envconfig:"AGGREGATED_SUB_TOPIC" default:"sensor/aggregated/#" validate:"required"`
	ResultSub     string `envconfig:"IRRIGATION_RESULT_SUB" default:"event/irrigationResult/#"`
	DecisionTopic string `envconfig:"DECISION_TOPIC_TEMPLATE" default:"event/irrigationDecision/{field}/{sensor}" validate:"required"`
	PlantingsPath string `envconfig:"PLANTINGS_CONFIG_PATH" default:"/app/config/plantings.json" validate:"required"`
	DeviceMap     string `envconfig:"DEVICE_GRPC_ADDR_MAP"`
	TZ            string `envconfig:"TZ" default:"Asia/Manila"`
	CooldownMin   int    `envconfig:"DECISION_COOLDOWN_MIN" default:"10" validate:"min=1"`
	MetricsPort   int    `envconfig:"METRICS_PORT" default:"9102" validate:"min=1,max=65535"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("irrigation-controller", cfg.Debug)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tz, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Warnw("invalid TZ, falling back to UTC", "tz", cfg.TZ, "error", err)
		tz = time.UTC
	}

	plantings, err := entities.LoadRegistry(cfg.PlantingsPath)
	if err != nil {
		log.Fatalw("load plantings", "path", cfg.PlantingsPath, "error", err)
	}

	mqClient, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		ClientID: "IrrigationController-" + cfg.Hostname,
		Kind:     "topic",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatalw("mqtt connect failed", "error", err)
	}

	var wc forecast.Provider = forecast.NewOWMClient(cfg.APIKey,
		forecast.WithBaseURL(cfg.BaseURL),
		forecast.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}),
		forecast.WithBreaker(cfg.BreakFails, time.Duration(cfg.BreakOpenMs)*time.Millisecond),
		forecast.WithLogger(log.Named("forecast")),
	)

	router, err := controller.NewDeviceRouter(cfg.DeviceMap)
	if err != nil {
		log.Fatalw("device router init", "error", err)
	}
	defer router.Close()

	m := metrics.New()
	var resConsumer rabbitmq.IConsumer
	if cfg.ResultSub != "" {
		resConsumer = rabbitmq.NewConsumer(mqClient, cfg.ResultSub, nil).WithLogger(log)
	}

	ctrl, err := controller.NewController(controller.Options{
		Consumer:       rabbitmq.NewConsumer(mqClient, cfg.AggregatedSub, nil).WithLogger(log),
		ResultConsumer: resConsumer,
		Publisher:      rabbitmq.NewPublisher(mqClient, "").WithLogger(log),
		Router:         router,
		Forecast:       wc,
		Plantings:      plantings,
		DecisionTopic:  cfg.DecisionTopic,
		TZ:             tz,
		Cooldown:       time.Duration(cfg.CooldownMin) * time.Minute,
		Metrics:        m,
		Logger:         log,
	})
	if err != nil {
		log.Fatalw("controller init", "error", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	hs := &http.Server{Addr: ":" + strconv.Itoa(cfg.MetricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server", "error", err)
		}
	}()

	log.Infow("irrigation controller running",
		"sub", cfg.AggregatedSub, "result_sub", cfg.ResultSub, "routes", cfg.DeviceMap, "plantings", len(plantings.All()))
	go ctrl.Start(ctx)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
}
