package handlers

import (
	"context"
	"net/http"
	"os"
	"time"

	"templater/internal/httpkit"
)

const checkTimeout = 5 * time.Second

// Health reports service status. With ?deep=true it also probes the
// templates directory, the compiler and the optional ledger and queue.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := h.log.FromContext(ctx)

	health := map[string]any{
		"status":  "ok",
		"service": "templater",
	}

	if r.URL.Query().Get("deep") == "true" {
		checks := h.deepHealthCheck(ctx)
		health["checks"] = checks

		for name, check := range checks {
			if check["status"] != "ok" {
				health["status"] = "degraded"
				log.Warn("health check degraded", "check", name, "error", check["error"])
				break
			}
		}
	}

	httpkit.WriteJSON(w, http.StatusOK, health)
}

func (h *Handler) deepHealthCheck(ctx context.Context) map[string]map[string]any {
	checks := map[string]map[string]any{
		"templates": h.checkTemplates(),
	}
	if h.compiler != nil {
		checks["compiler"] = probe(func() error { return h.compiler.Available() })
	}
	if h.jobs != nil {
		checks["ledger"] = probeCtx(ctx, h.jobs.Ping)
	}
	if h.queue != nil {
		checks["queue"] = probeCtx(ctx, h.queue.Ping)
	}
	return checks
}

func (h *Handler) checkTemplates() map[string]any {
	result := probe(func() error {
		info, err := os.Stat(h.templatesPath)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return &os.PathError{Op: "stat", Path: h.templatesPath, Err: os.ErrInvalid}
		}
		return nil
	})
	result["path"] = h.templatesPath
	return result
}

func probeCtx(ctx context.Context, ping func(context.Context) error) map[string]any {
	checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return probe(func() error { return ping(checkCtx) })
}

func probe(check func() error) map[string]any {
	start := time.Now()
	result := map[string]any{"status": "ok"}
	if err := check(); err != nil {
		result["status"] = "error"
		result["error"] = err.Error()
	}
	result["latency_ms"] = time.Since(start).Milliseconds()
	return result
}
