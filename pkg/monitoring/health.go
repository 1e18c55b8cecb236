package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/NERVsystems/geogate/pkg/version"
)

const systemMetricsInterval = 15 * time.Second

// HealthChecker folds upstream probe results into one service verdict and
// keeps the runtime gauges fresh. Verdicts: healthy, degraded (some upstream
// trouble), unhealthy (most upstreams down).
type HealthChecker struct {
	serviceName string
	version     string
	startTime   time.Time

	mu          sync.RWMutex
	connections map[string]*ConnStatus

	cancel context.CancelFunc
}

// NewHealthChecker starts the runtime gauge loop; call Shutdown to end it.
func NewHealthChecker(serviceName, ver string) *HealthChecker {
	ctx, cancel := context.WithCancel(context.Background())
	hc := &HealthChecker{
		serviceName: serviceName,
		version:     ver,
		startTime:   time.Now(),
		connections: make(map[string]*ConnStatus),
		cancel:      cancel,
	}

	go func() {
		ticker := time.NewTicker(systemMetricsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hc.publishSystemMetrics()
			}
		}
	}()

	return hc
}

// Shutdown stops the runtime gauge loop.
func (hc *HealthChecker) Shutdown() {
	hc.cancel()
}

// UpdateConnection records the latest probe result for one upstream.
func (hc *HealthChecker) UpdateConnection(name, status string, latencyMs int64, err error) {
	s := &ConnStatus{Name: name, Status: status, Latency: latencyMs}
	if err != nil {
		s.Error = err.Error()
	}

	hc.mu.Lock()
	hc.connections[name] = s
	hc.mu.Unlock()
}

// RemoveConnection drops an upstream from aggregation.
func (hc *HealthChecker) RemoveConnection(name string) {
	hc.mu.Lock()
	delete(hc.connections, name)
	hc.mu.Unlock()
}

// GetHealth snapshots the aggregated health. A strict majority of upstreams
// in error makes the service unhealthy; any error or degraded upstream makes
// it degraded.
func (hc *HealthChecker) GetHealth() ServiceHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	var errored, degraded int
	connections := make(map[string]ConnStatus, len(hc.connections))
	for name, c := range hc.connections {
		connections[name] = *c
		switch c.Status {
		case "error", "disconnected":
			errored++
		case "degraded":
			degraded++
		}
	}

	status := "healthy"
	switch {
	case errored > len(hc.connections)/2:
		status = "unhealthy"
	case errored > 0 || degraded > 0:
		status = "degraded"
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := time.Since(hc.startTime)

	return ServiceHealth{
		Service:       hc.serviceName,
		Version:       hc.version,
		Status:        status,
		Uptime:        uptime,
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     hc.startTime,
		Connections:   connections,
		Metrics: map[string]any{
			"goroutines":           runtime.NumGoroutine(),
			"memory_alloc_mb":      m.Alloc / 1024 / 1024,
			"memory_sys_mb":        m.Sys / 1024 / 1024,
			"gc_runs":              m.NumGC,
			"cpu_count":            runtime.NumCPU(),
			"version_info":         version.Info(),
			"total_connections":    len(hc.connections),
			"error_connections":    errored,
			"degraded_connections": degraded,
		},
	}
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, "Failed to encode health response.", http.StatusInternalServerError)
	}
}

// HealthHandler serves the full health payload. A degraded gateway still
// answers 200; only unhealthy turns into 503.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.GetHealth()
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, code, health)
	}
}

// ReadinessHandler serves a minimal readiness verdict for orchestrators.
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.GetHealth()
		code := http.StatusOK
		if health.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		writeHealthJSON(w, code, map[string]any{
			"ready":  health.Status != "unhealthy",
			"status": health.Status,
		})
	}
}

// LivenessHandler answers as long as the process serves requests at all.
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealthJSON(w, http.StatusOK, map[string]any{
			"alive":  true,
			"uptime": time.Since(hc.startTime).String(),
		})
	}
}

func (hc *HealthChecker) publishSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	GoRoutines.Set(float64(runtime.NumGoroutine()))
	MemoryUsage.Set(float64(m.Alloc))
	GCRuns.Set(float64(m.NumGC))

	info := version.Info()
	SystemInfo.WithLabelValues(info["version"], info["go_version"], info["commit"], info["build_date"]).Set(1)
}

// ConnectionMonitor probes one upstream on an interval and feeds the result
// into the health checker. The first probe runs on Start.
type ConnectionMonitor struct {
	name     string
	checker  *HealthChecker
	probe    func() error
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewConnectionMonitor builds a monitor for one upstream. probe should
// complete within a few seconds; its error marks the connection down.
func NewConnectionMonitor(name string, hc *HealthChecker, probe func() error, interval time.Duration) *ConnectionMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionMonitor{
		name:     name,
		checker:  hc,
		probe:    probe,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins the probe loop.
func (cm *ConnectionMonitor) Start() {
	go func() {
		cm.runProbe()

		ticker := time.NewTicker(cm.interval)
		defer ticker.Stop()
		for {
			select {
			case <-cm.ctx.Done():
				return
			case <-ticker.C:
				cm.runProbe()
			}
		}
	}()
}

// Stop ends the probe loop.
func (cm *ConnectionMonitor) Stop() {
	cm.cancel()
}

func (cm *ConnectionMonitor) runProbe() {
	start := time.Now()
	err := cm.probe()

	status := "connected"
	if err != nil {
		status = "error"
	}
	cm.checker.UpdateConnection(cm.name, status, time.Since(start).Milliseconds(), err)
}
