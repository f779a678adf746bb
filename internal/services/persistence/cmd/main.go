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

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/persistence"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

type Config struct {
	config.RabbitMQ
	config.Influx
	config.Logging

	ClientID    string `envconfig:"MQTT_CLIENT_ID" default:"persistence-service"`
	Topic       string `envconfig:"AGGREGATED_SUB_TOPIC" default:"sensor/aggregated/#" validate:"required"`
	Measurement string `envconfig:"MEASUREMENT" default:"soil_reading"`
	HTTPPort    int    `envconfig:"PORT" default:"8080" validate:"min=1,max=65535"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("persistence", cfg.Debug)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mqClient, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		ClientID: cfg.ClientID,
		Kind:     "topic",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatalw("mqtt connect failed", "error", err)
	}
	defer rabbitmq.CloseRabbitMQConn(mqClient)

	influx := influxdb2.NewClient(cfg.URL, cfg.Token)
	defer influx.Close()

	svc, err := persistence.NewService(persistence.Options{
		Consumer:    rabbitmq.NewConsumer(mqClient, cfg.Topic, nil).WithLogger(log),
		Writer:      influx.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		Query:       influx.QueryAPI(cfg.Org),
		Bucket:      cfg.Bucket,
		Measurement: cfg.Measurement,
		Logger:      log,
	})
	if err != nil {
		log.Fatalw("persistence init failed", "error", err)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           persistence.NewRouter(svc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("http listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server", "error", err)
		}
	}()

	go svc.Start(ctx)
	log.Infow("persistence running", "topic", cfg.Topic, "bucket", cfg.Bucket, "measurement", cfg.Measurement)

	<-ctx.Done()
	stop()

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	log.Info("shutdown complete")
}
