package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var (
	ErrNotConfigured = errors.New("upstream not configured")
	// ErrStale marks an answer served from the last good response.
	ErrStale = errors.New("upstream unavailable, serving last good response")
)

// Upstream is a JSON GET endpoint of another service behind a circuit breaker.
type Upstream struct {
	name    string
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *zap.SugaredLogger

	mu       sync.RWMutex
	lastGood []byte
}

// NewUpstream trips the breaker after fails consecutive failures and keeps it
// open for openFor. An empty base leaves the upstream disabled.
func NewUpstream(name, base, path string, timeout time.Duration, fails uint32, openFor time.Duration) *Upstream {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	url := ""
	if base != "" {
		url = base + "/" + strings.TrimLeft(strings.TrimSpace(path), "/")
	}
	if fails == 0 {
		fails = 3
	}
	if openFor <= 0 {
		openFor = 15 * time.Second
	}
	return &Upstream{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: openFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
		}),
		log: zap.NewNop().Sugar(),
	}
}

func (u *Upstream) WithLogger(l *zap.SugaredLogger) *Upstream {
	if l != nil {
		u.log = l
	}
	return u
}

func (u *Upstream) State() gobreaker.State { return u.breaker.State() }

// GetJSON decodes the upstream answer into out. When the call fails and an
// earlier answer exists, that answer is decoded instead and the returned
// error wraps ErrStale.
func (u *Upstream) GetJSON(ctx context.Context, out any) error {
	if u == nil || u.url == "" {
		return ErrNotConfigured
	}
	res, err := u.breaker.Execute(func() (interface{}, error) {
		return u.fetch(ctx)
	})
	if err == nil {
		body := res.([]byte)
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%s decode: %w", u.name, err)
		}
		u.mu.Lock()
		u.lastGood = body
		u.mu.Unlock()
		return nil
	}

	u.log.Warnw("upstream failed", "upstream", u.name, "state", u.breaker.State().String(), "error", err)
	u.mu.RLock()
	last := u.lastGood
	u.mu.RUnlock()
	if last == nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}
	if jerr := json.Unmarshal(last, out); jerr != nil {
		return fmt.Errorf("%s: %w", u.name, err)
	}
	return fmt.Errorf("%s: %w: %v", u.name, ErrStale, err)
}

func (u *Upstream) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Error") != "" {
		return nil, fmt.Errorf("upstream error %s", resp.Header.Get("X-Error"))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if !json.Valid(body) {
		return nil, errors.New("invalid json")
	}
	return body, nil
}
