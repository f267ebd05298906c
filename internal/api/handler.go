package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/w3c/groups-server/internal/domain"
	apperrors "github.com/w3c/groups-server/internal/errors"
	"github.com/w3c/groups-server/internal/publish"
	"github.com/w3c/groups-server/internal/reconciler"
	"github.com/w3c/groups-server/internal/storage"
)

// Cycles starts reconciliation cycles and reports the last one
type Cycles interface {
	Trigger(trigger string)
	Last() *domain.CycleRun
}

// Artifacts reads published artifacts
type Artifacts interface {
	Read(relPath string) ([]byte, error)
}

// artifactPaths maps the served artifact names to their files
var artifactPaths = map[string]string{
	"repositories": publish.GroupRepositories,
	"groups":       publish.Groups,
}

// Handler handles API requests
type Handler struct {
	cycles    Cycles
	artifacts Artifacts
	history   storage.Storage
}

// NewHandler creates a new API handler. history may be nil when runs are not recorded.
func NewHandler(cycles Cycles, artifacts Artifacts, history storage.Storage) *Handler {
	return &Handler{
		cycles:    cycles,
		artifacts: artifacts,
		history:   history,
	}
}

// Nudge starts a cycle without waiting for it
// POST /nudge
func (h *Handler) Nudge(c *gin.Context) {
	h.cycles.Trigger(reconciler.TriggerManual)
	c.JSON(http.StatusAccepted, gin.H{
		"status": "nudged",
	})
}

// GetArtifact serves the last published version of an artifact
// GET /data/:name
func (h *Handler) GetArtifact(c *gin.Context) {
	relPath, ok := artifactPaths[c.Param("name")]
	if !ok {
		respondError(c, apperrors.NewNotFoundError("artifact "+c.Param("name")))
		return
	}

	data, err := h.artifacts.Read(relPath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// ListRuns returns the most recent cycle runs
// GET /api/v1/runs
func (h *Handler) ListRuns(c *gin.Context) {
	if h.history == nil {
		respondError(c, apperrors.NewUnavailableError("run history is not recorded"))
		return
	}

	runs, err := h.history.ListRuns(c.Request.Context(), parseLimit(c, storage.DefaultListLimit))
	if err != nil {
		respondError(c, err)
		return
	}
	if runs == nil {
		runs = []*domain.CycleRun{}
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// GetRun returns one cycle run
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	if h.history == nil {
		respondError(c, apperrors.NewUnavailableError("run history is not recorded"))
		return
	}

	run, err := h.history.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// parseLimit parses the limit query parameter
func parseLimit(c *gin.Context, defaultValue int) int {
	limitStr := c.Query("limit")
	if limitStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(limitStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	if value > 100 {
		return 100
	}
	return value
}

// HealthCheck returns the health status of the API and the outcome of the last cycle
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	body := gin.H{
		"status": "ok",
	}
	if last := h.cycles.Last(); last != nil {
		body["lastRun"] = last
	}
	c.JSON(http.StatusOK, body)
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeRateLimited:
			status = http.StatusTooManyRequests
		case apperrors.ErrCodeUpstream:
			status = http.StatusBadGateway
		case apperrors.ErrCodeUnavailable:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": err.Error(),
		},
	})
}
