package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"templater/internal/httpkit"
	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/repositories"
	"templater/internal/worker/queue"
	"templater/internal/worker/util"
)

// PostJob queues a job for the worker and answers 202 with its id.
func (h *Handler) PostJob(w http.ResponseWriter, r *http.Request) error {
	var job models.RenderJob
	if err := httpkit.DecodeJSON(w, r, &job); err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpapi.post_job", "invalid job body")
	}
	if err := job.Validate(); err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "httpapi.post_job", "invalid job")
	}
	if job.Output.Kind == models.OutputToBuffer {
		return errors.ValidationField("output", "queued jobs need a file or URL destination")
	}
	if job.Output.WritesLocalFile() && !h.mayOutputToFile {
		return errors.OutputNotAllowed(job.Output.Path)
	}

	id := util.NewJobID()
	if err := h.queue.Enqueue(r.Context(), queue.Message{ID: id, Job: job}); err != nil {
		return errors.Wrap(err, "httpapi.post_job", "could not enqueue job").WithField("job_id", id)
	}

	h.log.FromContext(r.Context()).Info("job queued", "job_id", id, "template", job.Template.String())
	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"id": id})
	return nil
}

type jobView struct {
	ID         string          `json:"id"`
	Template   string          `json:"template"`
	Output     string          `json:"output"`
	Status     models.JobState `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// GetJob reports a job's ledger state. Failure details stay server-side.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "jobId")

	rec, err := h.jobs.Get(r.Context(), id)
	if stderrors.Is(err, repositories.ErrJobNotFound) {
		return errors.New(errors.CodeNotFound, "job not found").WithField("job_id", id)
	}
	if err != nil {
		return errors.Wrap(err, "httpapi.get_job", "could not read job").WithField("job_id", id)
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": jobView{
		ID:         rec.ID,
		Template:   rec.Template,
		Output:     rec.Output,
		Status:     rec.Status,
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
		FinishedAt: rec.FinishedAt,
	}})
	return nil
}
