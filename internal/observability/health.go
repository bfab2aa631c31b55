package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// HealthChecker manages liveness and readiness state. Readiness is the AND
// of all registered subsystems (postgres, nats, core), so a lost dependency
// flips /readyz to 503 without touching liveness.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu         sync.Mutex
	subsystems map[string]bool
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime:  time.Now(),
		subsystems: make(map[string]bool),
	}
}

// SetSubsystem records a dependency's health and recomputes readiness.
func (h *HealthChecker) SetSubsystem(name string, up bool) {
	h.mu.Lock()
	h.subsystems[name] = up
	allUp := true
	for _, ok := range h.subsystems {
		if !ok {
			allUp = false
			break
		}
	}
	h.mu.Unlock()
	h.ready.Store(allUp)
}

// SetReady overrides readiness directly, used before subsystems register.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns HTTP 200 if the process is alive.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns HTTP 200 if every subsystem is up, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	subs := make(map[string]bool, len(h.subsystems))
	for name, up := range h.subsystems {
		subs[name] = up
	}
	h.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if h.ready.Load() {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "ready",
			"subsystems": subs,
		})
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":     "not_ready",
			"subsystems": subs,
		})
	}
}
