package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"feeoracle/internal/pipeline"
	"feeoracle/internal/repository"
	"feeoracle/internal/session"
)

// RunHandler exposes the oracle's run history and an on-demand trigger.
type RunHandler struct {
	Repo     repository.RunRepository
	Pipeline *pipeline.Pipeline
	Session  *session.Session
	Logger   *zap.Logger
}

func (h *RunHandler) Register(r *gin.Engine) {
	r.GET("/api/v1/runs", h.listRuns)
	r.GET("/api/v1/runs/last", h.lastRun)
	r.GET("/api/v1/status", h.status)
	r.POST("/api/v1/runs/trigger", h.trigger)
}

func (h *RunHandler) listRuns(c *gin.Context) {
	if h.Repo == nil {
		fail(c, http.StatusServiceUnavailable, "run history persistence not configured")
		return
	}
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	items, err := h.Repo.ListRecentRuns(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, items)
}

func (h *RunHandler) lastRun(c *gin.Context) {
	if h.Repo == nil {
		fail(c, http.StatusServiceUnavailable, "run history persistence not configured")
		return
	}
	item, err := h.Repo.LastRun(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if item == nil {
		fail(c, http.StatusNotFound, "no runs recorded yet")
		return
	}
	ok(c, item)
}

func (h *RunHandler) status(c *gin.Context) {
	writerEnabled := false
	if h.Pipeline != nil && h.Pipeline.Writer != nil {
		writerEnabled = h.Pipeline.Writer.Enabled()
	}
	sessionAgeMin := 0.0
	if h.Session != nil {
		sessionAgeMin = h.Session.CurrentAge().Minutes()
	}
	ok(c, gin.H{
		"writer_enabled":      writerEnabled,
		"session_age_minutes": sessionAgeMin,
	})
}

// trigger runs the pipeline synchronously. A trigger that lands while the
// scheduled run is active is rejected, not queued.
func (h *RunHandler) trigger(c *gin.Context) {
	record, err := h.Pipeline.Run(c.Request.Context())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		fail(c, http.StatusConflict, "run already in progress")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	if h.Logger != nil {
		h.Logger.Info("manual oracle run complete", zap.String("commit_status", record.CommitStatus))
	}
	ok(c, record)
}
