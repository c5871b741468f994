// Package bootstrap assembles the long-running services from configuration.
package bootstrap

import (
	"context"
	"io"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"templater/internal/config"
	"templater/internal/httpkit"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/pkg/shutdown"
	"templater/internal/repositories"
	"templater/internal/storage"
	"templater/internal/worker/compiler"
	"templater/internal/worker/processor"
	"templater/internal/worker/queue"
	"templater/internal/worker/renderer"
)

// NewLogger builds the service logger from cfg. A nil out means stdout.
func NewLogger(cfg config.LogConfig, service string, out io.Writer) *logger.Logger {
	if out == nil {
		out = os.Stdout
	}
	return logger.New(cfg.Logger(service, out))
}

// Pipeline is the processing state together with the pieces health checks
// need to see.
type Pipeline struct {
	State    *processor.State
	Compiler *compiler.ConTeXt
	Storage  *storage.Registry
}

// PipelineOptions carries the optional collaborators of NewPipeline.
type PipelineOptions struct {
	Ledger *repositories.JobRepository
	Stdin  io.Reader
	Stdout io.Writer
}

// NewPipeline wires the evaluator, compiler and storage registry around one
// lazily built HTTP client.
func NewPipeline(ctx context.Context, cfg *config.Config, opts PipelineOptions, log *logger.Logger) (*Pipeline, error) {
	ledger := opts.Ledger
	client := httpkit.NewLazyClient(nil)

	registry, err := storage.NewRegistry(ctx, cfg.Storage, client.Get, log)
	if err != nil {
		return nil, err
	}

	cc := &compiler.ConTeXt{
		Command: cfg.Compiler.Command,
		Timeout: cfg.Compiler.Timeout,
		Log:     log,
	}

	deps := processor.Deps{
		Evaluator:       renderer.New(cfg.TemplatesPath, cfg.AssetsPath, log),
		Compiler:        cc,
		Storage:         registry,
		HTTPClient:      client.Get,
		MayOutputToFile: cfg.MayOutputToFile,
		UploadTimeout:   cfg.UploadTimeout,
		TempRoot:        cfg.WorkRoot,
		Stdin:           opts.Stdin,
		Stdout:          opts.Stdout,
		Log:             log,
	}
	if ledger != nil {
		deps.Ledger = ledger
	}

	log.Info("pipeline ready",
		"templates_path", cfg.TemplatesPath,
		"assets_path", cfg.AssetsPath,
		"may_output_to_file", cfg.MayOutputToFile,
		"upload_schemes", registry.Schemes(),
		"ledger", ledger != nil,
	)

	return &Pipeline{State: processor.New(deps), Compiler: cc, Storage: registry}, nil
}

// OpenLedger connects to PostgreSQL and ensures the ledger table exists.
// It returns nil, nil when databaseURL is empty.
func OpenLedger(ctx context.Context, databaseURL string, log *logger.Logger, mgr *shutdown.Manager) (*repositories.JobRepository, error) {
	if databaseURL == "" {
		log.Info("DATABASE_URL not set, job ledger disabled")
		return nil, nil
	}

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap.ledger", "failed to connect to PostgreSQL")
	}
	mgr.RegisterSimple("postgres", pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return nil, errors.Wrap(err, "bootstrap.ledger", "failed to ping PostgreSQL")
	}

	repo := repositories.NewJobRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, errors.Wrap(err, "bootstrap.ledger", "failed to create ledger table")
	}
	log.Info("PostgreSQL connected")
	return repo, nil
}

// OpenQueue connects the configured queue back-end.
func OpenQueue(ctx context.Context, cfg config.QueueConfig, log *logger.Logger, mgr *shutdown.Manager) (queue.Queue, error) {
	switch cfg.Backend {
	case config.QueueSQS:
		if cfg.SQSQueueURL == "" {
			return nil, errors.ValidationField(config.KeySQSQueueURL, "SQS queue URL is required")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "bootstrap.queue", "failed to load AWS config")
		}
		log.Info("using SQS queue", "queue_url", cfg.SQSQueueURL, "result_url", cfg.SQSResultURL)
		return queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL, cfg.SQSResultURL), nil

	default:
		if cfg.RedisAddr == "" {
			return nil, errors.ValidationField(config.KeyRedisAddr, "Redis address is required")
		}
		log.Info("connecting to Redis", "addr", cfg.RedisAddr)
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		mgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "bootstrap.queue", "failed to ping Redis")
		}
		log.Info("Redis connected", "queue", cfg.Name, "result_queue", cfg.ResultQueue)
		return queue.NewRedisQueue(rdb, cfg.Name, cfg.ResultQueue), nil
	}
}
