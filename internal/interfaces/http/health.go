package http

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"
)

// Check probes one dependency; a nil error passes.
type Check func(ctx context.Context) error

// HealthHandler provides the run health endpoint
type HealthHandler struct {
	mu        sync.RWMutex
	checks    map[string]Check
	startTime time.Time
	version   string
	runID     string
	step      string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		checks:    make(map[string]Check),
		startTime: time.Now(),
		version:   version,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                 `json:"status"` // "healthy", "degraded"
	Timestamp time.Time              `json:"timestamp"`
	Uptime    string                 `json:"uptime"`
	Version   string                 `json:"version"`
	RunID     string                 `json:"run_id,omitempty"`
	Step      string                 `json:"step,omitempty"`
	System    SystemInfo             `json:"system"`
	Checks    map[string]CheckResult `json:"checks"`
}

// SystemInfo provides system-level information
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	MemAlloc      uint64 `json:"mem_alloc_bytes"`
	NumGC         uint32 `json:"num_gc"`
}

// CheckResult represents individual health check results
type CheckResult struct {
	Status   string `json:"status"` // "pass", "fail"
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration"`
}

// Register adds a named dependency check.
func (h *HealthHandler) Register(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// SetRun records the run being served and its current step.
func (h *HealthHandler) SetRun(runID, step string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runID = runID
	h.step = step
}

// ServeHTTP implements the health check endpoint. Failed dependency
// checks degrade the status but still answer 200; the run itself does
// not depend on the ledger or cache.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		RunID:     h.runID,
		Step:      h.step,
		System:    systemInfo(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	checks := make([]Check, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for i, name := range names {
		start := time.Now()
		res := CheckResult{Status: "pass"}
		if err := checks[i](ctx); err != nil {
			res.Status = "fail"
			res.Message = err.Error()
			resp.Status = "degraded"
		}
		res.Duration = time.Since(start).String()
		resp.Checks[name] = res
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		MemAlloc:      m.Alloc,
		NumGC:         m.NumGC,
	}
}
