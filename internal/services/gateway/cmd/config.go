package main

import (
	"time"

	"github.com/LeonardoBeccarini/fuzzy_irrigation/pkg/config"
)

type Config struct {
	config.Logging
	config.Weather

	Port     int `envconfig:"PORT" default:"5009" validate:"min=1,max=65535"`
	GRPCPort int `envconfig:"GRPC_PORT" default:"50052" validate:"min=1,max=65535"`

	PersistenceURL string `envconfig:"PERSISTENCE_URL" default:"http://persistence.cloud:8080" validate:"omitempty,url"`
	EventURL       string `envconfig:"EVENT_URL" default:"http://event-service.fog:8080" validate:"omitempty,url"`
	DeviceMap      string `envconfig:"DEVICE_GRPC_ADDR_MAP"`
	UpstreamMs     int    `envconfig:"TIMEOUT_MS" default:"3000" validate:"min=100"`

	CBFails  uint32 `envconfig:"CB_REST_FAILS" default:"3" validate:"min=1"`
	CBOpenMs int    `envconfig:"CB_REST_OPEN_MS" default:"15000" validate:"min=100"`
}

func (c Config) timeout() time.Duration { return time.Duration(c.UpstreamMs) * time.Millisecond }

func loadConfig() (Config, error) {
	var cfg Config
	err := config.Load(&cfg)
	return cfg, err
}
