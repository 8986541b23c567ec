package monitoring

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"angelone_tickstream/metrics"
)

type HealthStatus struct {
	Status          string            `json:"status"`
	Uptime          string            `json:"uptime"`
	StartTime       time.Time         `json:"start_time"`
	MemoryUsage     uint64            `json:"memory_usage"`
	GoroutineCount  int               `json:"goroutine_count"`
	RecordsEmitted  uint64            `json:"records_emitted"`
	LastEmitted     *time.Time        `json:"last_emitted,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
	ComponentStatus map[string]string `json:"component_status"`
}

// Check reports a component problem as a non-nil error.
type Check func() error

type Health struct {
	start  time.Time
	mu     sync.RWMutex
	checks map[string]Check
}

func NewHealth() *Health {
	return &Health{start: time.Now(), checks: make(map[string]Check)}
}

func (h *Health) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Status runs every registered check.
func (h *Health) Status() HealthStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	emitted, last := metrics.GetStats()
	status := HealthStatus{
		Status:          "ok",
		Uptime:          time.Since(h.start).Round(time.Second).String(),
		StartTime:       h.start,
		MemoryUsage:     m.Alloc,
		GoroutineCount:  runtime.NumGoroutine(),
		RecordsEmitted:  emitted,
		ComponentStatus: make(map[string]string),
	}
	if !last.IsZero() {
		status.LastEmitted = &last
	}

	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](); err != nil {
			status.ComponentStatus[name] = "unhealthy"
			status.Status = "degraded"
			status.LastError = name + ": " + err.Error()
		} else {
			status.ComponentStatus[name] = "healthy"
		}
	}
	h.mu.RUnlock()
	return status
}

func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Status()
	w.Header().Set("Content-Type", "application/json")
	if status.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
