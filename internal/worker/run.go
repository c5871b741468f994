// Package worker consumes queued render jobs.
package worker

import (
	"context"
	"sync"
	"time"

	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/worker/queue"
	"templater/internal/worker/util"
)

const (
	statusDispatched = "dispatched"
	statusFailed     = "failed"
)

// retryDelay is the pause after a failed receive.
var retryDelay = time.Second

// Run pulls messages until ctx is canceled, then waits for the jobs already
// started. Jobs are not interrupted by the cancellation.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	concurrency := d.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	log.Info("worker started", "concurrency", concurrency)

	for {
		// Take a slot before receiving so nothing is popped that cannot start.
		select {
		case <-ctx.Done():
			log.Info("worker context canceled, draining in-flight jobs")
			return ctx.Err()
		case sem <- struct{}{}:
		}

		delivery, err := d.Queue.Receive(ctx)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				log.Info("worker stopping due to context cancellation")
				return ctx.Err()
			}
			log.Warn("queue receive error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
			case <-time.After(retryDelay):
			}
			continue
		}
		if delivery == nil {
			<-sem
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			handle(context.WithoutCancel(ctx), d, log, delivery)
		}()
	}
}

func handle(ctx context.Context, d Deps, log *logger.Logger, delivery *queue.Delivery) {
	defer func() {
		if err := delivery.Ack(ctx); err != nil {
			log.Warn("queue ack failed", "error", err.Error())
		}
	}()

	if delivery.Err != nil {
		log.Error("dropping malformed message", "error", delivery.Err.Error(), "body", clip(delivery.Raw, 512))
		return
	}

	msg := delivery.Message
	if msg.ID == "" {
		msg.ID = util.NewJobID()
	}
	ctx = logger.ContextWithJobID(ctx, msg.ID)
	jobLog := log.FromContext(ctx)

	jobLog.Info("processing job", "template", msg.Job.Template.String())
	start := time.Now()

	err := validate(msg.Job)
	if err == nil {
		_, err = d.Processor.ProcessJob(ctx, msg.Job)
	}

	res := queue.Result{ID: msg.ID, Status: statusDispatched}
	if err != nil {
		res.Status = statusFailed
		res.Code = string(errors.GetCode(err))
		res.Error = err.Error()
		jobLog.Error("job failed",
			"error", err.Error(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		jobLog.Info("job completed",
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	if err := d.Queue.Publish(ctx, res); err != nil {
		jobLog.Warn("result publish failed", "error", err.Error())
	}
}

// validate rejects jobs a queue consumer cannot serve.
func validate(job models.RenderJob) error {
	if job.Output.Kind == models.OutputToBuffer {
		return errors.ValidationField("output", "queued jobs need a file or URL destination")
	}
	return nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
