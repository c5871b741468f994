package handlers

import (
	"context"

	"templater/internal/models"
	"templater/internal/pkg/logger"
	"templater/internal/worker/queue"
)

// JobProcessor runs a render job to completion.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job models.RenderJob) (*models.OutputBuffer, error)
}

// JobStore reads ledger records.
type JobStore interface {
	Get(ctx context.Context, id string) (*models.JobRecord, error)
	Ping(ctx context.Context) error
}

// CompilerProbe reports whether the document compiler can be started.
type CompilerProbe interface {
	Available() error
}

type Deps struct {
	Processor JobProcessor
	// Queue and Jobs are optional. Without them the /jobs routes are absent
	// and the matching health checks are skipped.
	Queue           queue.Queue
	Jobs            JobStore
	Compiler        CompilerProbe
	TemplatesPath   string
	MayOutputToFile bool
	Log             *logger.Logger
}

type Handler struct {
	proc            JobProcessor
	queue           queue.Queue
	jobs            JobStore
	compiler        CompilerProbe
	templatesPath   string
	mayOutputToFile bool
	log             *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		proc:            d.Processor,
		queue:           d.Queue,
		jobs:            d.Jobs,
		compiler:        d.Compiler,
		templatesPath:   d.TemplatesPath,
		mayOutputToFile: d.MayOutputToFile,
		log:             log.WithComponent("httpapi"),
	}
}

// Log returns the handler's logger for error middleware.
func (h *Handler) Log() *logger.Logger { return h.log }

// HasQueue reports whether queued submission is configured.
func (h *Handler) HasQueue() bool { return h.queue != nil }

// HasLedger reports whether job records can be read.
func (h *Handler) HasLedger() bool { return h.jobs != nil }
