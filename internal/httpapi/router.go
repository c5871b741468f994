// Package httpapi exposes the render pipeline over HTTP.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"templater/internal/httpapi/handlers"
	"templater/internal/httpkit"
	"templater/internal/pkg/logger"
	"templater/internal/pkg/middleware"
)

type Deps struct {
	Handlers       handlers.Deps
	AllowedOrigins []string
	Log            *logger.Logger
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	if d.Handlers.Log == nil {
		d.Handlers.Log = log
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(log))
	r.Use(middleware.Recovery(log))
	r.Use(httpkit.CORS(httpkit.CORSOptions{
		AllowedOrigins: d.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		MaxAgeSeconds:  600,
	}))

	h := handlers.New(d.Handlers)
	wrap := func(fn middleware.ErrorHandlerFunc) http.HandlerFunc {
		return middleware.WrapHandler(log, fn)
	}

	r.Post("/", wrap(h.Render))
	r.Get("/_healthz", h.Healthz)
	r.Get("/health", h.Health)

	if h.HasQueue() {
		r.Post("/jobs", wrap(h.PostJob))
	}
	if h.HasLedger() {
		r.Get("/jobs/{jobId}", wrap(h.GetJob))
	}

	return r
}
