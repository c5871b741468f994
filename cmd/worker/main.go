package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"

	"templater/internal/bootstrap"
	"templater/internal/config"
	"templater/internal/pkg/shutdown"
	"templater/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "templater-worker: "+err.Error())
		os.Exit(1)
	}

	log := bootstrap.NewLogger(cfg.Log, "templater-worker", os.Stdout)
	log.Info("starting templater worker",
		"queue_backend", cfg.Queue.Backend,
		"concurrency", cfg.Queue.Concurrency,
	)

	if !cfg.Queue.Configured() {
		log.Error("queue is not configured, set REDIS_ADDR or SQS_QUEUE_URL")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdownMgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)

	ledger, err := bootstrap.OpenLedger(ctx, cfg.DatabaseURL, log, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to open job ledger", err)
	}

	q, err := bootstrap.OpenQueue(ctx, cfg.Queue, log, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to open queue", err)
	}

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, bootstrap.PipelineOptions{Ledger: ledger}, log)
	if err != nil {
		log.LogFatal("failed to build pipeline", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- worker.Run(ctx, worker.Deps{
			Queue:       q,
			Processor:   pipeline.State,
			Concurrency: cfg.Queue.Concurrency,
			Log:         log,
		})
	}()

	// Registered last so it runs first: stop receiving and drain before
	// the queue and ledger clients close.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		cancel()
		select {
		case err := <-done:
			if err != nil && !stderrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	shutdownMgr.Wait()
}
