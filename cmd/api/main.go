package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"templater/internal/bootstrap"
	"templater/internal/config"
	"templater/internal/httpapi"
	"templater/internal/httpapi/handlers"
	"templater/internal/pkg/shutdown"
	"templater/internal/worker/queue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "templater-api: "+err.Error())
		os.Exit(1)
	}

	log := bootstrap.NewLogger(cfg.Log, "templater-api", os.Stdout)
	log.Info("starting templater API", "addr", cfg.HTTP.Addr)

	ctx := context.Background()

	// Zero timeout lets in-flight renders finish however long they take.
	shutdownMgr := shutdown.NewManager(log, cfg.HTTP.ShutdownTimeout)

	ledger, err := bootstrap.OpenLedger(ctx, cfg.DatabaseURL, log, shutdownMgr)
	if err != nil {
		log.LogFatal("failed to open job ledger", err)
	}

	pipeline, err := bootstrap.NewPipeline(ctx, cfg, bootstrap.PipelineOptions{Ledger: ledger}, log)
	if err != nil {
		log.LogFatal("failed to build pipeline", err)
	}

	var q queue.Queue
	if cfg.Queue.Configured() {
		if q, err = bootstrap.OpenQueue(ctx, cfg.Queue, log, shutdownMgr); err != nil {
			log.LogFatal("failed to open queue", err)
		}
	}

	deps := handlers.Deps{
		Processor:       pipeline.State,
		Queue:           q,
		Compiler:        pipeline.Compiler,
		TemplatesPath:   cfg.TemplatesPath,
		MayOutputToFile: cfg.MayOutputToFile,
		Log:             log,
	}
	if ledger != nil {
		deps.Jobs = ledger
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers:       deps,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            log,
	})

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
