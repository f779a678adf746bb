// Package forecast looks up current weather from OpenWeatherMap and turns it
// into the rain probability consumed by the advisor.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	// FallbackRainChance is used whenever the lookup cannot be completed.
	FallbackRainChance = 30.0

	defaultBaseURL     = "https://api.openweathermap.org/data/2.5/weather"
	defaultTemperature = 25.0
	defaultHumidity    = 60.0
)

var ErrMissingAPIKey = errors.New("missing api key")

// Location is either a city query ("Leon,Iloilo,PH") or coordinates.
type Location struct {
	City string  `json:"city,omitempty"`
	Lat  float64 `json:"lat,omitempty"`
	Lon  float64 `json:"lon,omitempty"`
}

func (l Location) String() string {
	if l.City != "" {
		return l.City
	}
	return fmt.Sprintf("%.4f,%.4f", l.Lat, l.Lon)
}

// Conditions are the ambient readings reported with a forecast.
type Conditions struct {
	Main        string  `json:"main"`
	Description string  `json:"description"`
	RainMM      float64 `json:"rain_mm"`
	Cloudiness  float64 `json:"cloudiness"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
}

// Forecast is what the advisor consumes. Conditions is nil on fallback.
type Forecast struct {
	RainChance float64     `json:"rain_chance"`
	Conditions *Conditions `json:"conditions"`
	Fallback   bool        `json:"fallback"`
}

// Fallback is the forecast used when weather data is unavailable.
func Fallback() Forecast {
	return Forecast{RainChance: FallbackRainChance, Fallback: true}
}

// Provider is implemented by anything able to produce a rain forecast.
type Provider interface {
	RainChance(ctx context.Context, loc Location) Forecast
}

type owmCurrent struct {
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Main *struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
	} `json:"main"`
	Rain *struct {
		OneHour float64 `json:"1h"`
	} `json:"rain"`
	Clouds *struct {
		All float64 `json:"all"`
	} `json:"clouds"`
}

// OWMClient queries the OpenWeatherMap current-weather endpoint.
type OWMClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

// Option configures an OWMClient.
type Option func(*OWMClient)

func WithBaseURL(u string) Option { return func(c *OWMClient) { c.baseURL = strings.TrimRight(u, "/") } }

func WithHTTPClient(h *http.Client) Option { return func(c *OWMClient) { c.http = h } }

func WithLogger(l *zap.SugaredLogger) Option { return func(c *OWMClient) { c.logger = l } }

// WithBreaker trips after fails consecutive failures and stays open for openFor.
func WithBreaker(fails uint32, openFor time.Duration) Option {
	return func(c *OWMClient) { c.breaker = newBreaker(fails, openFor) }
}

func newBreaker(fails uint32, openFor time.Duration) *gobreaker.CircuitBreaker {
	if fails == 0 {
		fails = 1
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openweathermap",
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
	})
}

func NewOWMClient(apiKey string, opts ...Option) *OWMClient {
	c := &OWMClient{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 8 * time.Second},
		breaker: newBreaker(3, 30*time.Second),
		logger:  zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var _ Provider = (*OWMClient)(nil)

// RainChance never fails: any error yields Fallback().
func (c *OWMClient) RainChance(ctx context.Context, loc Location) Forecast {
	cond, err := c.Current(ctx, loc)
	if err != nil {
		c.logger.Warnf("forecast: lookup %s failed, using %.0f%% default: %v", loc, FallbackRainChance, err)
		return Fallback()
	}
	return Forecast{RainChance: RainChanceFrom(cond), Conditions: &cond}
}

// Current fetches and normalises the current conditions at loc.
func (c *OWMClient) Current(ctx context.Context, loc Location) (Conditions, error) {
	if c.apiKey == "" {
		return Conditions{}, ErrMissingAPIKey
	}
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, loc)
	})
	if err != nil {
		return Conditions{}, err
	}
	return res.(Conditions), nil
}

func (c *OWMClient) fetch(ctx context.Context, loc Location) (Conditions, error) {
	q := url.Values{}
	if loc.City != "" {
		q.Set("q", loc.City)
	} else {
		q.Set("lat", fmt.Sprintf("%f", loc.Lat))
		q.Set("lon", fmt.Sprintf("%f", loc.Lon))
	}
	q.Set("units", "metric")
	q.Set("appid", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return Conditions{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return Conditions{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Conditions{}, fmt.Errorf("owm status %d: %s", resp.StatusCode, string(b))
	}

	var out owmCurrent
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Conditions{}, fmt.Errorf("owm decode: %w", err)
	}
	if len(out.Weather) == 0 {
		return Conditions{}, errors.New("invalid weather data received")
	}

	cond := Conditions{
		Main:        strings.ToLower(out.Weather[0].Main),
		Description: strings.ToLower(out.Weather[0].Description),
		Temperature: defaultTemperature,
		Humidity:    defaultHumidity,
	}
	if out.Rain != nil {
		cond.RainMM = out.Rain.OneHour
	}
	if out.Clouds != nil {
		cond.Cloudiness = out.Clouds.All
	}
	if out.Main != nil {
		if out.Main.Temp != nil {
			cond.Temperature = *out.Main.Temp
		}
		if out.Main.Humidity != nil {
			cond.Humidity = *out.Main.Humidity
		}
	}
	return cond, nil
}

// RainChanceFrom maps current conditions onto a rain probability.
func RainChanceFrom(c Conditions) float64 {
	main, desc := strings.ToLower(c.Main), strings.ToLower(c.Description)
	switch {
	case c.RainMM > 0 || strings.Contains(main, "rain"):
		return 100
	case strings.Contains(main, "drizzle") || strings.Contains(desc, "light rain"):
		return 80
	case c.Cloudiness >= 70:
		return 60
	case c.Cloudiness >= 40:
		return 40
	default:
		return 10
	}
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx context.Context, loc Location) Forecast

func (f ProviderFunc) RainChance(ctx context.Context, loc Location) Forecast { return f(ctx, loc) }

// Static always returns fc. Useful when no API key is configured.
func Static(fc Forecast) Provider {
	return ProviderFunc(func(context.Context, Location) Forecast { return fc })
}
