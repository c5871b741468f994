package worker

import (
	"context"

	"templater/internal/models"
	"templater/internal/pkg/logger"
	"templater/internal/worker/queue"
)

// JobProcessor runs a single render job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job models.RenderJob) (*models.OutputBuffer, error)
}

type Deps struct {
	Queue     queue.Queue
	Processor JobProcessor
	// Concurrency bounds the jobs running at once. Values below 1 mean 1.
	Concurrency int
	Log         *logger.Logger
}
