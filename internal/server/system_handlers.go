package server

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/aristath/cryptofolio/internal/database"
	"github.com/aristath/cryptofolio/internal/httpapi"
	"github.com/aristath/cryptofolio/internal/scheduler"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// JobRunner is the scheduler surface exposed over HTTP
type JobRunner interface {
	Jobs() []scheduler.JobInfo
	RunNow(ctx context.Context, name string) error
}

// LedgerInspector reports on the per-portfolio ledger databases
type LedgerInspector interface {
	HealthCheck(ctx context.Context) map[string]string
	Databases() ([]*database.DB, error)
}

// SystemHandlers handles system-wide monitoring and operations endpoints
type SystemHandlers struct {
	log         zerolog.Logger
	dataDir     string
	startupTime time.Time
	databases   []*database.DB
	ledgers     LedgerInspector
	jobs        JobRunner
}

// NewSystemHandlers creates a new system handlers instance.
// databases are the shared process-wide databases; ledgers and jobs may be nil.
func NewSystemHandlers(log zerolog.Logger, dataDir string, databases []*database.DB, ledgers LedgerInspector, jobs JobRunner) *SystemHandlers {
	return &SystemHandlers{
		log:         log.With().Str("handler", "system").Logger(),
		dataDir:     dataDir,
		startupTime: time.Now(),
		databases:   databases,
		ledgers:     ledgers,
		jobs:        jobs,
	}
}

// RegisterRoutes registers the system routes
func (h *SystemHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/system", func(r chi.Router) {
		r.Get("/status", h.HandleSystemStatus)
		r.Get("/jobs", h.HandleJobsStatus)
		r.Post("/jobs/{name}/run", h.HandleTriggerJob)
		r.Get("/database/stats", h.HandleDatabaseStats)
	})
}

// DatabaseChecks pings every shared database and every open ledger.
// Keys are database names; values are "ok" or the failure message.
func (h *SystemHandlers) DatabaseChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(h.databases))
	for _, db := range h.databases {
		if err := db.QuickCheck(ctx); err != nil {
			checks[db.Name()] = err.Error()
		} else {
			checks[db.Name()] = "ok"
		}
	}
	if h.ledgers != nil {
		for id, result := range h.ledgers.HealthCheck(ctx) {
			checks["ledger:"+id] = result
		}
	}
	return checks
}

// SystemStatusResponse is the body of GET /api/system/status
type SystemStatusResponse struct {
	Status        string              `json:"status"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	CPUPercent    float64             `json:"cpu_percent"`
	MemoryPercent float64             `json:"memory_percent"`
	DiskFreeBytes uint64              `json:"disk_free_bytes"`
	DiskPercent   float64             `json:"disk_used_percent"`
	Databases     map[string]string   `json:"databases"`
	Jobs          []scheduler.JobInfo `json:"jobs"`
}

// HandleSystemStatus handles GET /api/system/status
func (h *SystemHandlers) HandleSystemStatus(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := h.getSystemStats(r.Context())

	response := SystemStatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startupTime).Seconds()),
		CPUPercent:    cpuPercent,
		MemoryPercent: memPercent,
		Databases:     h.DatabaseChecks(r.Context()),
		Jobs:          []scheduler.JobInfo{},
	}

	if usage, err := disk.UsageWithContext(r.Context(), h.dataDir); err != nil {
		h.log.Warn().Err(err).Msg("Failed to get disk usage")
	} else {
		response.DiskFreeBytes = usage.Free
		response.DiskPercent = usage.UsedPercent
	}

	for _, result := range response.Databases {
		if result != "ok" {
			response.Status = "degraded"
			break
		}
	}
	if h.jobs != nil {
		response.Jobs = h.jobs.Jobs()
	}

	httpapi.WriteData(w, http.StatusOK, response, h.log)
}

// HandleJobsStatus handles GET /api/system/jobs
func (h *SystemHandlers) HandleJobsStatus(w http.ResponseWriter, r *http.Request) {
	jobs := []scheduler.JobInfo{}
	if h.jobs != nil {
		jobs = h.jobs.Jobs()
	}
	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}, h.log)
}

// HandleTriggerJob handles POST /api/system/jobs/{name}/run.
// The job runs synchronously under the request context.
func (h *SystemHandlers) HandleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.jobs == nil {
		httpapi.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "scheduler not running"}, h.log)
		return
	}

	started := time.Now()
	if err := h.jobs.RunNow(r.Context(), name); err != nil {
		httpapi.WriteError(w, err, h.log)
		return
	}

	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"job":         name,
		"duration_ms": time.Since(started).Milliseconds(),
	}, h.log)
}

// DBInfo describes one database file
type DBInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	Profile   string `json:"profile"`
	SizeBytes int64  `json:"size_bytes"`
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	dbs := append([]*database.DB(nil), h.databases...)
	if h.ledgers != nil {
		ledgerDBs, err := h.ledgers.Databases()
		if err != nil {
			httpapi.WriteError(w, err, h.log)
			return
		}
		dbs = append(dbs, ledgerDBs...)
	}

	infos := make([]DBInfo, 0, len(dbs))
	var total int64
	for _, db := range dbs {
		size, err := db.SizeBytes(r.Context())
		if err != nil {
			h.log.Warn().Err(err).Str("database", db.Name()).Msg("Failed to size database")
		}
		total += size
		infos = append(infos, DBInfo{
			Name:      db.Name(),
			Path:      db.Path(),
			Profile:   string(db.Profile()),
			SizeBytes: size,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	httpapi.WriteData(w, http.StatusOK, map[string]interface{}{
		"databases":   infos,
		"total_bytes": total,
	}, h.log)
}

// getSystemStats samples CPU over a short window and reads memory usage
func (h *SystemHandlers) getSystemStats(ctx context.Context) (float64, float64) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil || len(cpuPercent) == 0 {
		h.log.Warn().Err(err).Msg("Failed to get CPU percentage")
		cpuPercent = []float64{0}
	}

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to get memory statistics")
		return cpuPercent[0], 0
	}

	return cpuPercent[0], memStat.UsedPercent
}
