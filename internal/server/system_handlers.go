package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/recommender/internal/database"
	"github.com/aristath/recommender/internal/di"
	"github.com/aristath/recommender/internal/modules/universe"
	"github.com/aristath/recommender/internal/scheduler"
)

// SystemHandlers serves process, database and job status
type SystemHandlers struct {
	container *di.Container
	log       zerolog.Logger
	startedAt time.Time
}

// NewSystemHandlers creates a new system handlers instance
func NewSystemHandlers(container *di.Container, log zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		container: container,
		log:       log.With().Str("handler", "system").Logger(),
		startedAt: time.Now(),
	}
}

// DatabaseStatus describes one SQLite database
type DatabaseStatus struct {
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	SizeMB    float64 `json:"size_mb"`
	WALSizeMB float64 `json:"wal_size_mb"`
	PageCount int64   `json:"page_count"`
	Error     string  `json:"error,omitempty"`
}

// SystemStatusResponse represents system status
type SystemStatusResponse struct {
	Status             string           `json:"status"`
	UptimeSeconds      float64          `json:"uptime_seconds"`
	CPUPercent         float64          `json:"cpu_percent"`
	MemoryPercent      float64          `json:"memory_percent"`
	Databases          []DatabaseStatus `json:"databases"`
	Universe           *universe.Stats  `json:"universe,omitempty"`
	CacheEntries       map[string]int64 `json:"cache_entries"`
	MemoryCacheEntries int              `json:"memory_cache_entries"`
	ScheduledJobs      int              `json:"scheduled_jobs"`
}

// JobInfo describes a job that can be triggered manually
type JobInfo struct {
	Name string `json:"name"`
}

// HandleSystemStatus returns process, database and cache status.
// Status is "degraded" when a database fails its quick check.
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cpuPercent, memPercent := h.getSystemStats()

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Databases:     []DatabaseStatus{},
		CacheEntries:  map[string]int64{},
	}

	for _, db := range []*database.DB{h.container.HistoryDB, h.container.CacheDB} {
		if db == nil {
			continue
		}
		status := DatabaseStatus{Name: db.Name(), Healthy: true}
		if err := db.QuickCheck(ctx); err != nil {
			status.Healthy = false
			status.Error = err.Error()
			response.Status = "degraded"
		} else if stats, err := db.GetStats(ctx); err == nil {
			status.SizeMB = float64(stats.SizeBytes) / 1024 / 1024
			status.WALSizeMB = float64(stats.WALSizeBytes) / 1024 / 1024
			status.PageCount = stats.PageCount
		}
		response.Databases = append(response.Databases, status)
	}

	if h.container.UniverseService != nil {
		stats, err := h.container.UniverseService.Stats(ctx)
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to get universe stats")
		} else {
			response.Universe = stats
		}
	}

	if h.container.CalculationCache != nil {
		counts, err := h.container.CalculationCache.Count()
		if err != nil {
			h.log.Warn().Err(err).Msg("Failed to count cache entries")
		} else {
			response.CacheEntries = counts
		}
	}
	if h.container.StatisticsCache != nil {
		response.MemoryCacheEntries = h.container.StatisticsCache.Len()
	}
	if h.container.Scheduler != nil {
		response.ScheduledJobs = h.container.Scheduler.Entries()
	}

	writeJSON(w, http.StatusOK, response, h.log)
}

// HandleListJobs lists the jobs accepted by HandleTriggerJob
func (h *SystemHandlers) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []JobInfo{}
	if h.container.Jobs != nil {
		for _, job := range h.container.Jobs.All() {
			if job != nil {
				jobs = append(jobs, JobInfo{Name: job.Name()})
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs}, h.log)
}

// HandleTriggerJob runs a job immediately and waits for it
// POST /api/system/jobs/{name}
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	job, ok := h.container.Jobs.ByName(name)
	if !ok || h.container.Scheduler == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"status":  "error",
			"message": fmt.Sprintf("unknown job %q", name),
		}, h.log)
		return
	}

	h.log.Info().Str("job", name).Msg("Manual job trigger")

	start := time.Now()
	if err := h.container.Scheduler.RunNow(job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrJobRunning) {
			status = http.StatusConflict
		}
		h.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		writeJSON(w, status, map[string]string{
			"status":  "error",
			"message": err.Error(),
		}, h.log)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "success",
		"job":         name,
		"duration_ms": time.Since(start).Milliseconds(),
	}, h.log)
}

// getSystemStats returns CPU and RAM usage percentages
func (h *SystemHandlers) getSystemStats() (float64, float64) {
	// 100ms sample keeps the endpoint responsive
	cpuPercent, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemory()
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return 0, 0
	}

	cpuAvg := 0.0
	if len(cpuPercent) > 0 {
		cpuAvg = cpuPercent[0]
	}

	return cpuAvg, memStat.UsedPercent
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}, log zerolog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
