package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/aggregator"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

type Config struct {
	config.RabbitMQ
	config.Logging

	Hostname        string `envconfig:"HOSTNAME" default:"local"`
	SensorDataSub   string `envconfig:"SENSOR_DATA_SUB_TOPIC" default:"sensor/data/#" validate:"required"`
	AggregatedTopic string `envconfig:"AGGREGATED_TOPIC_TEMPLATE" default:"sensor/aggregated/{field}/{sensor}" validate:"required"`
	IntervalSec     int    `envconfig:"AGGREGATION_INTERVAL_SEC" default:"60" validate:"min=1"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("aggregator", cfg.Debug)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		ClientID: "dataAggregator-" + cfg.Hostname,
		Kind:     "topic",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatalw("mqtt connect failed", "error", err)
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	publisher := rabbitmq.NewPublisher(client, "").WithLogger(log)
	consumer := rabbitmq.NewConsumer(client, cfg.SensorDataSub, nil).WithLogger(log)

	svc := aggregator.NewDataAggregatorService(consumer, publisher, time.Duration(cfg.IntervalSec)*time.Second).
		WithTopic(cfg.AggregatedTopic).
		WithLogger(log)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		<-sigc
		cancel()
	}()

	log.Infow("data aggregator running", "sub", cfg.SensorDataSub, "interval_sec", cfg.IntervalSec)
	svc.Start(ctx)
}
