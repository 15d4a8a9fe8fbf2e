package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// HealthStatus is the overall or per-check state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheckResponse is the body of /health.
type HealthCheckResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   VersionInfo            `json:"version"`
	Uptime    string                 `json:"uptime"`
	Wallet    string                 `json:"wallet"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
	RequestID string                 `json:"request_id,omitempty"`
}

// HealthCheck is one dependency's state.
type HealthCheck struct {
	Status   HealthStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
	Duration string       `json:"duration,omitempty"`
}

// SystemInfo holds runtime figures.
type SystemInfo struct {
	GoVersion     string `json:"go_version"`
	NumGoroutines int    `json:"num_goroutines"`
	GOMAXPROCS    int    `json:"gomaxprocs"`
	MemoryAlloc   uint64 `json:"memory_alloc_bytes"`
}

const healthCheckTimeout = 3 * time.Second

func (s *Server) checkLedger(ctx context.Context) HealthCheck {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	id, err := s.opts.Ledger.ChainID(ctx)
	check := HealthCheck{Duration: time.Since(start).String()}
	switch {
	case err != nil:
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
	case s.opts.Config.Ledger.ChainID != 0 && id != s.opts.Config.Ledger.ChainID:
		check.Status = HealthStatusUnhealthy
		check.Message = fmt.Sprintf("chain %d, want %d", id, s.opts.Config.Ledger.ChainID)
	default:
		check.Status = HealthStatusHealthy
		check.Message = fmt.Sprintf("chain %d", id)
	}
	return check
}

func (s *Server) checkSessionStore() HealthCheck {
	if s.opts.Store.Dirty(s.opts.Controller.Wallet()) {
		return HealthCheck{Status: HealthStatusDegraded, Message: "last session save failed"}
	}
	return HealthCheck{Status: HealthStatusHealthy}
}

func (s *Server) checkHistory(ctx context.Context) HealthCheck {
	if s.opts.History == nil {
		return HealthCheck{Status: HealthStatusDegraded, Message: "history disabled"}
	}
	start := time.Now()
	v, err := s.opts.History.Version(ctx)
	check := HealthCheck{Duration: time.Since(start).String()}
	if err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = err.Error()
		return check
	}
	check.Status = HealthStatusHealthy
	check.Message = fmt.Sprintf("schema version %d", v)
	return check
}

func overall(checks map[string]HealthCheck) HealthStatus {
	status := HealthStatusHealthy
	for _, c := range checks {
		switch c.Status {
		case HealthStatusUnhealthy:
			return HealthStatusUnhealthy
		case HealthStatusDegraded:
			status = HealthStatusDegraded
		}
	}
	return status
}

func systemInfo() SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return SystemInfo{
		GoVersion:     runtime.Version(),
		NumGoroutines: runtime.NumGoroutine(),
		GOMAXPROCS:    runtime.GOMAXPROCS(0),
		MemoryAlloc:   m.Alloc,
	}
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]HealthCheck{
		"ledger":  s.checkLedger(r.Context()),
		"session": s.checkSessionStore(),
		"history": s.checkHistory(r.Context()),
	}
	resp := HealthCheckResponse{
		Status:    overall(checks),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   GetVersionInfo(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Wallet:    s.opts.Controller.Wallet(),
		Checks:    checks,
		System:    systemInfo(),
		RequestID: middleware.GetReqID(r.Context()),
	}
	status := http.StatusOK
	if resp.Status == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(HealthStatusHealthy)})
}

// handleReadiness only requires the ledger; history is optional.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	check := s.checkLedger(r.Context())
	status := http.StatusOK
	if check.Status != HealthStatusHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, check)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}
