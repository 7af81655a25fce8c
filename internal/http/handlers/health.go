// Package handlers provides HTTP API handlers for esplayer.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/esplayer/internal/player"
	"github.com/jmylchreest/esplayer/internal/resource"
	"github.com/jmylchreest/esplayer/internal/version"
)

// HealthHandler reports process, database, player and decoder slot health.
type HealthHandler struct {
	version   string
	uptime    func() time.Duration
	db        *gorm.DB
	player    func() player.State
	resources func() resource.Usage
}

// NewHealthHandler creates a new health handler reporting the build
// version and process uptime.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{
		version: version.Short(),
		uptime:  version.Uptime,
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithPlayer reports the player state.
func (h *HealthHandler) WithPlayer(state func() player.State) *HealthHandler {
	h.player = state
	return h
}

// WithResources reports decoder slot usage.
func (h *HealthHandler) WithResources(usage func() resource.Usage) *HealthHandler {
	h.resources = usage
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the service. The service is
// degraded when the session database does not answer.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	uptime := h.uptime()
	body := HealthResponse{
		Status:        "healthy",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       getCPUInfo(),
		Memory:        getMemoryInfo(),
		Database:      h.getDatabaseHealth(ctx),
	}
	if body.Database.Status == "error" {
		body.Status = "degraded"
	}
	if h.player != nil {
		st := h.player()
		body.Player = &st
	}
	if h.resources != nil {
		u := h.resources()
		body.Resources = &u
	}
	return &HealthOutput{Body: body}, nil
}

// getCPUInfo returns CPU load information.
func getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

// getMemoryInfo returns system and process memory usage.
func getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		info.ProcessMB = float64(memInfo.RSS) / 1024 / 1024
		if info.TotalMemoryMB > 0 {
			info.ProcessPercentage = info.ProcessMB / info.TotalMemoryMB * 100
		}
	}
	if n, err := proc.NumThreads(); err == nil {
		info.ProcessThreads = int(n)
	}
	info.Goroutines = runtime.NumGoroutine()
	return info
}

// getDatabaseHealth pings the session database.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "not_configured"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	health := DatabaseHealth{Status: "ok"}
	stats := sqlDB.Stats()
	health.OpenConnections = stats.OpenConnections
	health.InUse = stats.InUse

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}
