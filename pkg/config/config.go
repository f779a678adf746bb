// Package config loads service settings from the environment.
//
// Loading runs in three steps: an optional .env file is read with godotenv
// (existing variables win), envconfig fills the target struct from its tags
// and defaults, and validator checks the result.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type ErrorType string

const (
	ErrParsing    ErrorType = "parsing"
	ErrValidation ErrorType = "validation"
)

// Error is returned by Load.
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

var validate = validator.New()

// Load populates spec, a pointer to a struct with envconfig tags.
// Embedded structs share the top-level namespace, so the fragments below
// read the same variable names in every service.
func Load(spec any, envFiles ...string) error {
	_ = godotenv.Load(envFiles...)

	if err := envconfig.Process("", spec); err != nil {
		return &Error{Type: ErrParsing, Message: "failed to process environment configuration", Err: err}
	}
	if err := validate.Struct(spec); err != nil {
		return &Error{Type: ErrValidation, Message: "configuration validation failed", Err: err}
	}
	return nil
}

// RabbitMQ is the MQTT plugin endpoint of the broker.
type RabbitMQ struct {
	Host     string `envconfig:"RABBITMQ_HOST" default:"localhost" validate:"required"`
	Port     int    `envconfig:"RABBITMQ_PORT" default:"1883" validate:"min=1,max=65535"`
	User     string `envconfig:"RABBITMQ_USER" default:"guest"`
	Password string `envconfig:"RABBITMQ_PASSWORD" default:"guest"`
}

type Influx struct {
	URL    string `envconfig:"INFLUX_URL" default:"http://influxdb:8086" validate:"required,url"`
	Token  string `envconfig:"INFLUX_TOKEN"`
	Org    string `envconfig:"INFLUX_ORG" default:"sdcc" validate:"required"`
	Bucket string `envconfig:"INFLUX_BUCKET" default:"agri" validate:"required"`
}

type Logging struct {
	Debug bool `envconfig:"LOG_DEBUG" default:"false"`
}

type Weather struct {
	APIKey      string `envconfig:"OWM_API_KEY"`
	BaseURL     string `envconfig:"OWM_BASE_URL" default:"https://api.openweathermap.org/data/2.5/weather" validate:"required,url"`
	City        string `envconfig:"OWM_CITY" default:"Leon,Iloilo,PH"`
	TimeoutMs   int    `envconfig:"OWM_TIMEOUT_MS" default:"8000" validate:"min=100"`
	BreakFails  uint32 `envconfig:"OWM_CB_FAILS" default:"3" validate:"min=1"`
	BreakOpenMs int    `envconfig:"OWM_CB_OPEN_MS" default:"30000" validate:"min=0"`
}
