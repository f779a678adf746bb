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

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/event"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

type Config struct {
	config.RabbitMQ
	config.Influx
	config.Logging

	Hostname        string `envconfig:"HOSTNAME" default:"event-service"`
	Topics          string `envconfig:"EVENT_SUB_TOPICS" default:"event/irrigationDecision/#,event/StateChange/#,event/irrigationResult/#" validate:"required"`
	BatchSize       int    `envconfig:"WRITE_BATCH_SIZE" default:"10" validate:"min=1"`
	FlushIntervalMs int    `envconfig:"WRITE_FLUSH_INTERVAL_MS" default:"200" validate:"min=1"`
	HTTPPort        int    `envconfig:"HTTP_PORT" default:"8080" validate:"min=1,max=65535"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("event", cfg.Debug)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(cfg.BatchSize)).
		SetFlushInterval(uint(cfg.FlushIntervalMs))
	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	defer influx.Close()
	writeAPI := influx.WriteAPI(cfg.Org, cfg.Bucket)
	defer writeAPI.Flush()

	m := metrics.New()
	writer := event.NewWriter(writeAPI, m, log)

	mqttClient, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		ClientID: cfg.Hostname,
		Kind:     "topic",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatalw("mqtt connect failed", "error", err)
	}
	defer rabbitmq.CloseRabbitMQConn(mqttClient)

	router := event.NewRouter(
		event.NewInfluxStore(influx.QueryAPI(cfg.Org), cfg.Bucket),
		event.NewHealthHandler(mqttClient, influx, writer),
		event.NewReadyHandler(mqttClient, influx, writer, 2*time.Second),
		m,
	)
	hs := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Infow("http listening", "port", cfg.HTTPPort)
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server", "error", err)
		}
	}()

	handler := event.NewMQTTHandler(writer.Write, log)
	topics := rabbitmq.SplitTopics(cfg.Topics)
	consumer := rabbitmq.NewMultiConsumer(mqttClient, topics, handler.Handle).WithLogger(log)
	go consumer.ConsumeMessage(ctx)
	log.Infow("event service running", "topics", topics, "bucket", cfg.Bucket)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
	cancel()

	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
}
