package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"

	"github.com/chainwright/forge/internal/interfaces"
	"github.com/chainwright/forge/internal/models"
	"github.com/chainwright/forge/internal/services/forge"
)

// JobHandler handles forge job API requests
type JobHandler struct {
	forgeService *forge.Service
	jobStorage   interfaces.JobStorage
	validate     *validator.Validate
	logger       arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(forgeService *forge.Service, jobStorage interfaces.JobStorage, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		forgeService: forgeService,
		jobStorage:   jobStorage,
		validate:     validator.New(),
		logger:       logger,
	}
}

// SubmitJobHandler accepts a job submission and queues it for execution.
// POST /api/jobs
func (h *JobHandler) SubmitJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var sub models.JobSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := h.validate.Struct(&sub); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid submission: "+err.Error())
		return
	}

	job, err := h.forgeService.Submit(r.Context(), OwnerFromRequest(r), &sub)
	if err != nil {
		var verr *forge.ValidationError
		if errors.As(err, &verr) {
			WriteJSON(w, http.StatusBadRequest, map[string]string{
				"status": "error",
				"code":   verr.Code,
				"error":  verr.Message,
			})
			return
		}
		h.logger.Error().Err(err).Msg("Failed to submit job")
		WriteError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	// A cache hit returns the prior terminal record immediately.
	status := http.StatusAccepted
	if job.IsTerminal() {
		status = http.StatusOK
	}
	WriteJSON(w, status, job)
}

// GetJobHandler returns a single job by ID
// GET /api/jobs/{id}
func (h *JobHandler) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.forgeService.GetJob(r.Context(), jobID, OwnerFromRequest(r))
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// GetJobLogHandler returns the raw output log of a job, for polling clients
// that do not hold a websocket open.
// GET /api/jobs/{id}/log
func (h *JobHandler) GetJobLogHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.forgeService.GetJob(r.Context(), jobID, OwnerFromRequest(r))
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job_id":   job.ID,
		"status":   job.Status,
		"log":      job.OutputLog,
		"terminal": job.IsTerminal(),
	})
}

// ListJobsHandler returns a paginated list of jobs
// GET /api/jobs?limit=50&offset=0&status=completed&kind=test
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	opts := &interfaces.JobListOptions{
		Status:   r.URL.Query().Get("status"),
		Kind:     r.URL.Query().Get("kind"),
		Owner:    OwnerFromRequest(r),
		Limit:    QueryInt(r, "limit", 50),
		Offset:   QueryInt(r, "offset", 0),
		OrderBy:  r.URL.Query().Get("order_by"),
		OrderDir: r.URL.Query().Get("order_dir"),
	}

	jobs, err := h.forgeService.ListJobs(ctx, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	totalCount, err := h.jobStorage.CountJobs(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to count jobs")
		totalCount = len(jobs)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":        jobs,
		"total_count": totalCount,
		"limit":       opts.Limit,
		"offset":      opts.Offset,
	})
}

// StatsHandler returns job counts broken down by status
// GET /api/jobs/stats
func (h *JobHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	total, err := h.jobStorage.CountJobs(ctx)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to count jobs")
		WriteError(w, http.StatusInternalServerError, "failed to count jobs")
		return
	}

	byStatus := make(map[string]int)
	for _, status := range []models.JobStatus{
		models.JobStatusQueued,
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusTimeout,
	} {
		count, err := h.jobStorage.CountJobsByStatus(ctx, status)
		if err != nil {
			h.logger.Warn().Err(err).Str("status", string(status)).Msg("Failed to count jobs by status")
			continue
		}
		byStatus[string(status)] = count
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"total_count": total,
		"by_status":   byStatus,
	})
}

// DeleteJobHandler removes a terminal job. Running jobs cannot be deleted;
// the stale sweep is the only path that terminates them externally.
// DELETE /api/jobs/{id}
func (h *JobHandler) DeleteJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := jobIDFromPath(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}
	ctx := r.Context()

	job, err := h.forgeService.GetJob(ctx, jobID, OwnerFromRequest(r))
	if err != nil {
		WriteError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.Status == models.JobStatusRunning {
		WriteError(w, http.StatusConflict, "cannot delete a running job")
		return
	}

	if err := h.jobStorage.DeleteJob(ctx, job.ID); err != nil {
		h.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to delete job")
		WriteError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}

	WriteSuccess(w, "job deleted")
}

// jobIDFromPath extracts the job ID from paths like /api/jobs/{id} and
// /api/jobs/{id}/log.
func jobIDFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 3 {
		return ""
	}
	return parts[2]
}
