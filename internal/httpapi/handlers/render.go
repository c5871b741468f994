package handlers

import (
	"net/http"

	"templater/internal/httpkit"
	"templater/internal/models"
	"templater/internal/pkg/errors"
)

// Render runs the posted job synchronously. Buffer destinations get the
// artifact as an attachment, every other destination an empty object.
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) error {
	var job models.RenderJob
	if err := httpkit.DecodeJSON(w, r, &job); err != nil {
		return errors.WrapWithCode(err, errors.CodeBadRequest, "httpapi.render", "invalid job body")
	}

	out, err := h.proc.ProcessJob(r.Context(), job)
	if err != nil {
		return err
	}
	if out == nil {
		httpkit.WriteJSON(w, http.StatusOK, struct{}{})
		return nil
	}
	httpkit.WriteAttachment(w, out.MimeType, out.Filename, out.Buffer)
	return nil
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}
