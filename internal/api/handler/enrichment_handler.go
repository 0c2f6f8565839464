package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/timmy/curator/internal/domain"
	"github.com/timmy/curator/internal/logger"
)

// EnrichmentRunner is the part of the enrichment service the handler drives.
type EnrichmentRunner interface {
	StartJob(ctx context.Context, filter domain.JobFilter) (*domain.EnrichmentJob, error)
	CancelJob(ctx context.Context, jobID string) (*domain.EnrichmentJob, error)
	GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusReport, error)
	ListJobs(ctx context.Context) ([]domain.EnrichmentJob, error)
}

// EnrichmentHandler exposes enrichment jobs to admins.
type EnrichmentHandler struct {
	enrichment EnrichmentRunner
}

// NewEnrichmentHandler creates a new enrichment handler.
func NewEnrichmentHandler(enrichment EnrichmentRunner) *EnrichmentHandler {
	return &EnrichmentHandler{enrichment: enrichment}
}

// StartJobRequest represents the start job API request.
type StartJobRequest struct {
	Filter string `json:"filter"`
}

// StartJob creates a job and returns it right away; the work continues in the background.
func (h *EnrichmentHandler) StartJob(c *gin.Context) {
	ctx := c.Request.Context()

	var req StartJobRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			logger.CtxWarn(ctx, "Invalid start job request: client_ip=%s, error=%v", c.ClientIP(), err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if req.Filter == "" {
		req.Filter = string(domain.JobFilterAll)
	}
	filter, err := domain.ParseJobFilter(req.Filter)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "filter must be one of: all, unenriched"})
		return
	}

	job, err := h.enrichment.StartJob(ctx, filter)
	if err != nil {
		logger.CtxError(ctx, "Failed to start enrichment job: filter=%s, error=%v", filter, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start job"})
		return
	}

	c.JSON(http.StatusAccepted, job)
}

// ListJobs returns every job, newest first.
func (h *EnrichmentHandler) ListJobs(c *gin.Context) {
	jobs, err := h.enrichment.ListJobs(c.Request.Context())
	if err != nil {
		logger.CtxError(c.Request.Context(), "Failed to list jobs: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []domain.EnrichmentJob{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// GetJob returns a job with its item counts.
func (h *EnrichmentHandler) GetJob(c *gin.Context) {
	report, err := h.enrichment.GetJobStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// CancelJob cancels a job. Cancelling a finished job returns it unchanged.
func (h *EnrichmentHandler) CancelJob(c *gin.Context) {
	job, err := h.enrichment.CancelJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *EnrichmentHandler) writeJobError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	logger.CtxError(c.Request.Context(), "Job request failed: job_id=%s, error=%v", c.Param("id"), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
