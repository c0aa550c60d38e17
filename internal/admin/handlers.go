package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/assemblyline/internal/pipeline"
)

// Handlers serves the read-only pipeline endpoints
type Handlers struct {
	coordinator *pipeline.Coordinator
}

// NewHandlers creates handlers for coordinator
func NewHandlers(coordinator *pipeline.Coordinator) *Handlers {
	return &Handlers{coordinator: coordinator}
}

// Health reports liveness. A stopped pipeline answers 503.
func (h *Handlers) Health(c *gin.Context) {
	status := h.coordinator.Status()

	code := http.StatusOK
	if status.State == pipeline.RunStopped {
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status": http.StatusText(code),
		"run_id": status.RunID,
		"name":   status.Name,
		"state":  status.State,
		"uptime": h.coordinator.Metrics().Uptime().String(),
	})
}

// Status returns pool, worker and channel snapshots
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.coordinator.Status())
}

// Report returns per-role counters and latency summaries
func (h *Handlers) Report(c *gin.Context) {
	report := h.coordinator.Report()
	c.JSON(http.StatusOK, gin.H{
		"run_id":   report.RunID,
		"name":     report.Name,
		"duration": report.Duration.Round(time.Millisecond).String(),
		"roles":    report.Roles,
	})
}
