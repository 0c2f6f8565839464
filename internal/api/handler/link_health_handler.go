package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
)

// LinkHealthRunner is the part of the link health service the handler drives.
type LinkHealthRunner interface {
	CheckLinks(ctx context.Context) (*domain.LinkHealthReport, error)
	GetResults(ctx context.Context, filter domain.LinkFilter) (*domain.LinkHealthReport, error)
	History(ctx context.Context) ([]domain.LinkHealthHistoryEntry, error)
	LastRun(ctx context.Context) (time.Time, error)
	IsRunning() bool
}

// LinkHealthHandler exposes link health runs to admins.
type LinkHealthHandler struct {
	links LinkHealthRunner
}

// NewLinkHealthHandler creates a new link health handler.
func NewLinkHealthHandler(links LinkHealthRunner) *LinkHealthHandler {
	return &LinkHealthHandler{links: links}
}

// LinkHealthStatusResponse represents the link health status.
type LinkHealthStatusResponse struct {
	IsRunning bool   `json:"is_running"`
	LastRun   string `json:"last_run,omitempty"`
}

// Check runs a full check and returns the report. The run outlives a client
// that disconnects early so its results are still persisted.
func (h *LinkHealthHandler) Check(c *gin.Context) {
	ctx := c.Request.Context()
	start := time.Now()

	report, err := h.links.CheckLinks(context.WithoutCancel(ctx))
	if err != nil {
		if errors.Is(err, domain.ErrCheckInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.With(logger.Fields{logger.FieldDurationMs: time.Since(start).Milliseconds()}).
			Error(ctx, "Link health check failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "link health check failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Results returns the last report narrowed by ?filter=all|healthy|broken.
func (h *LinkHealthHandler) Results(c *gin.Context) {
	filter, err := domain.ParseLinkFilter(c.Query("filter"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter must be one of: all, healthy, broken"})
		return
	}

	report, err := h.links.GetResults(c.Request.Context(), filter)
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to load link health results: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load results"})
		return
	}
	// no run yet: report is null
	c.JSON(http.StatusOK, gin.H{"report": report})
}

// History returns the rolling run history, oldest first.
func (h *LinkHealthHandler) History(c *gin.Context) {
	history, err := h.links.History(c.Request.Context())
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to load link health history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// Status reports whether a run is in flight and when the last one finished.
func (h *LinkHealthHandler) Status(c *gin.Context) {
	resp := LinkHealthStatusResponse{IsRunning: h.links.IsRunning()}
	last, err := h.links.LastRun(c.Request.Context())
	if err != nil {
		logger.CtxWarn(c.Request.Context(), "Failed to load last link health run: %v", err)
	}
	if !last.IsZero() {
		resp.LastRun = last.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
