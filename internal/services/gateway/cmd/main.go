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
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/forecast"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/gateway/app"
	controller "github.com/LeonardoBeccarini/fuzzy_irrigation/internal/services/irrigation-controller"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/logging"
	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/metrics"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.Must("gateway", cfg.Debug)
	defer func() { _ = log.Sync() }()

	devices, err := controller.NewDeviceRouter(cfg.DeviceMap)
	if err != nil {
		log.Fatalw("device router init", "error", err)
	}
	defer devices.Close()

	weather := forecast.NewOWMClient(cfg.APIKey,
		forecast.WithBaseURL(cfg.BaseURL),
		forecast.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond}),
		forecast.WithBreaker(cfg.BreakFails, time.Duration(cfg.BreakOpenMs)*time.Millisecond),
		forecast.WithLogger(log.Named("forecast")),
	)

	gw := app.NewGateway(app.Config{
		PersistenceBaseURL: cfg.PersistenceURL,
		EventsBaseURL:      cfg.EventURL,
		HTTPTimeout:        cfg.timeout(),
		BreakerFailures:    cfg.CBFails,
		BreakerOpenFor:     time.Duration(cfg.CBOpenMs) * time.Millisecond,
		DefaultCity:        cfg.City,
		Forecast:           weather,
		Devices:            devices,
		Metrics:            metrics.New(),
		Logger:             log,
	})

	lis, err := net.Listen("tcp", ":"+strconv.Itoa(cfg.GRPCPort))
	if err != nil {
		log.Fatalw("grpc listen", "port", cfg.GRPCPort, "error", err)
	}
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("gateway", healthpb.HealthCheckResponse_SERVING)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorw("grpc serve", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           gw.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("http server", "error", err)
		}
	}()
	log.Infow("gateway listening", "port", cfg.Port, "grpc_port", cfg.GRPCPort,
		"persistence", cfg.PersistenceURL, "events", cfg.EventURL, "default_city", cfg.City)

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
	log.Info("shutting down")

	hs.Shutdown()
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	grpcServer.GracefulStop()
}
