package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/process"

	"sessionchat/internal/room"
)

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Store       string         `json:"store"`
	Connections map[string]int `json:"connections"`
	Rooms       room.Stats     `json:"rooms"`
	Online      int            `json:"online"`
	System      SystemStats    `json:"system"`
}

type SystemStats struct {
	PID        int     `json:"pid"`
	Goroutines int     `json:"goroutines"`
	Uptime     string  `json:"uptime"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	Threads    int32   `json:"threads,omitempty"`
}

// GET /health. Answers 503 when the store is unreachable.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: s.now().UTC(),
		Store:     "healthy",
		System:    s.systemStats(),
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Store = "error: " + err.Error()
		}
	}
	if s.deps.Connections != nil {
		resp.Connections = s.deps.Connections.Stats()
	}
	if s.deps.Rooms != nil {
		resp.Rooms = s.deps.Rooms.Stats(ctx)
	}
	if s.deps.Presence != nil {
		resp.Online = len(s.deps.Presence.OnlineIdentities())
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// systemStats reports process figures. Values gopsutil cannot read on this
// platform are left zero.
func (s *Server) systemStats() SystemStats {
	stats := SystemStats{
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
		Uptime:     time.Since(s.startedAt).Round(time.Second).String(),
	}

	p, err := process.NewProcess(int32(stats.PID))
	if err != nil {
		return stats
	}
	if mem, err := p.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if threads, err := p.NumThreads(); err == nil {
		stats.Threads = threads
	}
	return stats
}
