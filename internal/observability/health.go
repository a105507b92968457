package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

const (
	serviceName    = "voice-agent"
	serviceVersion = "1.0.0"

	readinessTimeout = 5 * time.Second
)

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Service      string                      `json:"service"`
	Version      string                      `json:"version"`
	Timestamp    string                      `json:"timestamp"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

type DependencyStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// HealthCheckFunc returns nil when the dependency is usable. Checks live with
// the dependency so this package does not import them.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheckHandler answers liveness probes. It never touches dependencies.
func HealthCheckHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, newStatus("healthy", nil))
	}
}

// ReadinessHandler runs every non-nil check concurrently and answers 503 if any
// fails or misses the deadline.
func ReadinessHandler(checks map[string]HealthCheckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			deps = make(map[string]DependencyStatus, len(checks))
		)
		for name, check := range checks {
			if check == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				dep := runCheck(ctx, check)
				mu.Lock()
				deps[name] = dep
				mu.Unlock()
			}()
		}
		wg.Wait()

		code, status := http.StatusOK, newStatus("ready", deps)
		for _, dep := range deps {
			if dep.Status != "healthy" {
				code, status.Status = http.StatusServiceUnavailable, "not_ready"
				break
			}
		}
		writeStatus(w, code, status)
	}
}

func runCheck(ctx context.Context, check HealthCheckFunc) DependencyStatus {
	start := time.Now()
	err := check(ctx)
	dep := DependencyStatus{Status: "healthy", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		dep.Status = "unhealthy"
		dep.Message = err.Error()
	}
	return dep
}

func newStatus(s string, deps map[string]DependencyStatus) HealthStatus {
	return HealthStatus{
		Status:       s,
		Service:      serviceName,
		Version:      serviceVersion,
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
		Dependencies: deps,
	}
}

func writeStatus(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
