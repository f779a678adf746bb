package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/entities"
	sensorSimulator "github.com/LeonardoBeccarini/fuzzy_irrigation/internal/sensor-simulator"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

type Config struct {
	config.RabbitMQ
	config.Logging

	FieldID     string  `envconfig:"FIELD_ID" default:"field1" validate:"required"`
	SensorID    string  `envconfig:"SENSOR_ID" default:"sensor1" validate:"required"`
	IntervalSec int     `envconfig:"PUBLISH_INTERVAL_SEC" default:"10" validate:"min=1"`
	Seed        float64 `envconfig:"INITIAL_MOISTURE" default:"0.30" validate:"min=0,max=1"`
	DecayPerMin float64 `envconfig:"MOISTURE_DECAY_PER_MIN" default:"0.001" validate:"min=0"`
	DataTopic   string  `envconfig:"SENSOR_DATA_TEMPLATE" default:"sensor/data/{field}/{sensor}"`
	StateSub    string  `envconfig:"STATECHANGE_SUB_TEMPLATE" default:"event/StateChange/{field}/{sensor}"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("sensor-simulator", cfg.Debug).With("field", cfg.FieldID, "sensor", cfg.SensorID)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		ClientID: "sensor-" + cfg.FieldID + "-" + cfg.SensorID,
		Kind:     "topic",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatalw("mqtt connect failed", "error", err)
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	sensor := entities.Sensor{FieldID: cfg.FieldID, ID: cfg.SensorID, State: entities.StateOff}
	stateTopic := rabbitmq.FormatTopic(cfg.StateSub, cfg.FieldID, cfg.SensorID)

	publisher := rabbitmq.NewPublisher(client, "").WithLogger(log)
	consumer := rabbitmq.NewConsumer(client, stateTopic, nil).WithLogger(log)
	generator := sensorSimulator.NewDataGenerator(cfg.DecayPerMin).WithSeed(cfg.Seed)
	sim := sensorSimulator.NewSensorSimulator(consumer, publisher, generator, &sensor).
		WithTopic(cfg.DataTopic).
		WithLogger(log)

	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
		<-sigc
		cancel()
	}()

	log.Infow("sensor simulator running", "interval_sec", cfg.IntervalSec, "state_sub", stateTopic)
	sim.Start(ctx, time.Duration(cfg.IntervalSec)*time.Second)
}
