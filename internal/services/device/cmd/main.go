package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/model/entities"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/device"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/rabbitmq"
)

type Config struct {
	config.RabbitMQ
	config.Logging

	Hostname      string `envconfig:"HOSTNAME" default:"local"`
	GRPCPort      int    `envconfig:"GRPC_PORT" default:"50051" validate:"min=1,max=65535"`
	MetricsPort   int    `envconfig:"METRICS_PORT" default:"9103" validate:"min=1,max=65535"`
	PlantingsPath string `envconfig:"PLANTINGS_CONFIG_PATH" default:"/app/config/plantings.json" validate:"required"`
	DecisionSub   string `envconfig:"DECISION_SUB_TOPIC" default:"event/irrigationDecision/#" validate:"required"`
	SensorDataSub string `envconfig:"SENSOR_DATA_SUB_TOPIC" default:"sensor/data/#"`
	StateTopic    string `envconfig:"EVENT_STATECHANGE_TEMPLATE" default:"event/StateChange/{field}/{sensor}"`
	ResultTopic   string `envconfig:"IRRIGATION_RESULT_TEMPLATE" default:"event/irrigationResult/{field}/{sensor}"`
	LivenessTTL   int    `envconfig:"SENSOR_LIVENESS_TTL_SEC" default:"60" validate:"min=1"`
	OfflineGrace  int    `envconfig:"OFFLINE_GRACE_SEC" default:"5" validate:"min=0"`
	// SimSpeedup fast-forwards valve runs in demos: one real second stands for SimSpeedup seconds.
	SimSpeedup int `envconfig:"VALVE_SIM_SPEEDUP" default:"1" validate:"min=1"`
}

func main() {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("device", cfg.Debug)
	defer func() { _ = log.Sync() }()

	plantings, err := entities.LoadRegistry(cfg.PlantingsPath)
	if err != nil {
		log.Fatalw("load plantings", "path", cfg.PlantingsPath, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := rabbitmq.NewRabbitMQConn(&rabbitmq.RabbitMQConfig{
		Host:     cfg.Host,
		Port:     cfg.Port,
		User:     cfg.User,
		Password: cfg.Password,
		ClientID: "device-service-" + cfg.Hostname,
		Kind:     "topic",
		Logger:   log,
	}, ctx)
	if err != nil {
		log.Fatalw("mqtt connect failed", "error", err)
	}
	defer rabbitmq.CloseRabbitMQConn(client)

	fields := make([]string, 0, len(plantings))
	for id := range plantings {
		fields = append(fields, id)
	}
	reporter := device.NewHealthReporter(fields, 5*time.Second)

	var heartbeats rabbitmq.IConsumer
	if cfg.SensorDataSub != "" {
		heartbeats = rabbitmq.NewConsumer(client, cfg.SensorDataSub, nil).WithLogger(log)
	}
	m := metrics.New()
	svc, err := device.NewDeviceService(device.Options{
		DecisionConsumer:  rabbitmq.NewConsumer(client, cfg.DecisionSub, nil).WithLogger(log),
		HeartbeatConsumer: heartbeats,
		Publisher:         rabbitmq.NewPublisher(client, "").WithLogger(log),
		Plantings:         plantings,
		Health:            reporter,
		StateTopic:        cfg.StateTopic,
		ResultTopic:       cfg.ResultTopic,
		Tick:              time.Second,
		Step:              time.Duration(cfg.SimSpeedup) * time.Second,
		LivenessTTL:       time.Duration(cfg.LivenessTTL) * time.Second,
		OfflineGrace:      time.Duration(cfg.OfflineGrace) * time.Second,
		Metrics:           m,
		Logger:            log,
	})
	if err != nil {
		log.Fatalw("device service init", "error", err)
	}

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		log.Fatalw("grpc listen", "port", cfg.GRPCPort, "error", err)
	}
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, reporter.Server())
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorw("grpc serve", "error", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{Addr: ":" + strconv.Itoa(cfg.MetricsPort), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("metrics server", "error", err)
		}
	}()

	stopped := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(stopped)
	}()
	log.Infow("device service running", "grpc_port", cfg.GRPCPort, "fields", fields,
		"decision_sub", cfg.DecisionSub, "speedup", cfg.SimSpeedup)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down")
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		log.Warn("valve runs did not finish in time")
	}
	grpcServer.GracefulStop()
	shCtx, shCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer shCancel()
	_ = hs.Shutdown(shCtx)
}
