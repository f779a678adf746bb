package irrigation_controller

import (
	"sync"
	"time"
)

// historyDays is how many calendar days feed the recent irrigation score.
const historyDays = 3

// History keeps the irrigation level applied per sensor per local calendar day.
// Days roll over at local midnight.
type History struct {
	mu   sync.Mutex
	tz   *time.Location
	days map[string]map[time.Time]float64 // key -> day start -> level
}

func NewHistory(tz *time.Location) *History {
	if tz == nil {
		tz = time.UTC
	}
	return &History{tz: tz, days: make(map[string]map[time.Time]float64)}
}

// Add accumulates level on the day of at, capped at 100.
func (h *History) Add(key string, at time.Time, level float64) {
	if level <= 0 {
		return
	}
	day := midnightLocal(at, h.tz)

	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.days[key]
	if !ok {
		m = make(map[time.Time]float64)
		h.days[key] = m
	}
	v := m[day] + level
	if v > 100 {
		v = 100
	}
	m[day] = v
	h.prune(m, day)
}

// Window returns [today, yesterday, two days ago] as of now.
func (h *History) Window(key string, now time.Time) []float64 {
	today := midnightLocal(now, h.tz)
	out := make([]float64, historyDays)

	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.days[key]
	for i := range out {
		out[i] = m[today.AddDate(0, 0, -i)]
	}
	return out
}

// prune drops days older than the window anchored at newest.
func (h *History) prune(m map[time.Time]float64, newest time.Time) {
	cutoff := newest.AddDate(0, 0, -(historyDays - 1))
	for d := range m {
		if d.Before(cutoff) {
			delete(m, d)
		}
	}
}

func midnightLocal(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
