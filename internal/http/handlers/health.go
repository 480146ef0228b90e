// Package handlers provides HTTP API handlers for watchroom.
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
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	// activeTranscodes reports how many ffmpeg sessions are running.
	activeTranscodes func() int
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithActiveTranscodes sets the callback reporting running transcode sessions.
func (h *HealthHandler) WithActiveTranscodes(fn func() int) *HealthHandler {
	h.activeTranscodes = fn
	return h
}

// HealthResponse is the body of the health check endpoint.
type HealthResponse struct {
	Status           string            `json:"status"`
	Timestamp        string            `json:"timestamp"`
	Version          string            `json:"version"`
	Uptime           string            `json:"uptime"`
	UptimeSeconds    float64           `json:"uptime_seconds"`
	ActiveTranscodes int               `json:"active_transcodes"`
	CPUInfo          CPUInfo           `json:"cpu_info"`
	Memory           MemoryInfo        `json:"memory"`
	Database         DatabaseHealth    `json:"database"`
	Checks           map[string]string `json:"checks"`
}

// CPUInfo reports system load.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports system and process memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo reports the server process tree memory usage. Child
// processes are the running ffmpeg transcoders.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	ChildProcessesMB   float64 `json:"child_processes_mb"`
	ChildProcessCount  int     `json:"child_process_count"`
	TotalProcessTreeMB float64 `json:"total_process_tree_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
}

// DatabaseHealth reports connection pool state and responsiveness.
type DatabaseHealth struct {
	Status                 string  `json:"status"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Status int
	Body   struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
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

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetLivez reports that the process is running.
func (h *HealthHandler) GetLivez(ctx context.Context, _ *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the service can serve traffic.
func (h *HealthHandler) GetReadyz(ctx context.Context, _ *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{}

	ready := true

	if h.db == nil {
		out.Body.Components["database"] = "not_configured"
		ready = false
	} else if sqlDB, err := h.db.DB(); err != nil {
		out.Body.Components["database"] = "error"
		ready = false
	} else if err := sqlDB.PingContext(ctx); err != nil {
		out.Body.Components["database"] = "error"
		ready = false
	} else {
		out.Body.Components["database"] = "ok"
	}

	if ready {
		out.Body.Status = "ready"
		out.Status = 200
	} else {
		out.Body.Status = "not_ready"
		out.Status = 503
	}
	return out, nil
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	dbHealth := h.getDatabaseHealth(ctx)

	active := 0
	if h.activeTranscodes != nil {
		active = h.activeTranscodes()
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:           "healthy",
			Timestamp:        now.UTC().Format(time.RFC3339),
			Version:          h.version,
			Uptime:           uptime.Round(time.Second).String(),
			UptimeSeconds:    uptime.Seconds(),
			ActiveTranscodes: active,
			CPUInfo:          h.getCPUInfo(),
			Memory:           h.getMemoryInfo(),
			Database:         dbHealth,
			Checks: map[string]string{
				"database": dbHealth.Status,
			},
		},
	}, nil
}

// getCPUInfo returns CPU load information.
func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()

	info := CPUInfo{
		Cores: cores,
	}

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

// getMemoryInfo returns memory usage information.
func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	info.ProcessMemory = h.getProcessMemoryInfo(info.TotalMemoryMB)

	return info
}

// getProcessMemoryInfo returns process-tree memory information. The children
// are the ffmpeg transcoders this process spawned.
func (h *HealthHandler) getProcessMemoryInfo(totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return info
	}

	memInfo, err := proc.MemoryInfo()
	if err == nil && memInfo != nil {
		info.MainProcessMB = float64(memInfo.RSS) / 1024 / 1024
		info.TotalProcessTreeMB = info.MainProcessMB

		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}

	children, err := proc.Children()
	if err == nil {
		info.ChildProcessCount = len(children)
		for _, child := range children {
			childMem, err := child.MemoryInfo()
			if err == nil && childMem != nil {
				childMB := float64(childMem.RSS) / 1024 / 1024
				info.ChildProcessesMB += childMB
				info.TotalProcessTreeMB += childMB
			}
		}
	}

	return info
}

// getDatabaseHealth returns database health information.
func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{
		Status:             "ok",
		ResponseTimeStatus: "healthy",
	}

	if h.db == nil {
		health.Status = "unknown"
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle

	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	} else if health.ResponseTimeMS > 100 {
		health.ResponseTimeStatus = "slow"
	}

	return health
}
