// Package processor runs render jobs: it resolves inputs, evaluates the
// template, compiles when needed and delivers the artifact.
package processor

import (
	"context"
	"io"
	"net/http"
	"time"

	"templater/internal/httpkit"
	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/worker/util"
)

// Registry resolves URL schemes to storage back-ends.
type Registry interface {
	Destinations
	FetcherSource
}

// Ledger records job lifecycles. Failures to record never fail a job.
type Ledger interface {
	Start(ctx context.Context, id string, job models.RenderJob) error
	Transition(ctx context.Context, id string, state models.JobState) error
	Finish(ctx context.Context, id string, state models.JobState, cause error) error
}

type Deps struct {
	Evaluator Evaluator
	Compiler  Compiler
	Storage   Registry
	// HTTPClient returns the shared client for URL inputs. Defaults to a
	// client built on first use.
	HTTPClient func() *http.Client
	// MayOutputToFile allows destinations that write local files.
	MayOutputToFile bool
	UploadTimeout   time.Duration
	// TempRoot holds the per-job work directories. Empty means the
	// system temp directory.
	TempRoot string
	Ledger   Ledger
	Stdin    io.Reader
	Stdout   io.Writer
	Log      *logger.Logger
}

// State is shared by every job of a process and is read-only once built.
type State struct {
	evaluator       Evaluator
	compiler        Compiler
	mayOutputToFile bool
	tempRoot        string
	ledger          Ledger
	httpClient      func() *http.Client
	log             *logger.Logger

	inputs     *InputResolver
	dispatcher *OutputDispatcher
}

func New(d Deps) *State {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	client := d.HTTPClient
	if client == nil {
		client = httpkit.NewLazyClient(nil).Get
	}

	s := &State{
		evaluator:       d.Evaluator,
		compiler:        d.Compiler,
		mayOutputToFile: d.MayOutputToFile,
		tempRoot:        d.TempRoot,
		ledger:          d.Ledger,
		httpClient:      client,
		log:             log,
	}

	var fetchers FetcherSource
	var destinations Destinations
	if d.Storage != nil {
		fetchers = d.Storage
		destinations = d.Storage
	}
	s.inputs = NewInputResolver(client, fetchers, d.Stdin, d.Log)
	s.dispatcher = NewOutputDispatcher(destinations, d.Stdout, d.UploadTimeout, d.Log)

	return s
}

// HTTPClient returns the shared client, building it on first use.
func (s *State) HTTPClient() *http.Client { return s.httpClient() }

func (s *State) MayOutputToFile() bool { return s.mayOutputToFile }

// ProcessJob runs job to completion. The returned buffer is non-nil only for
// buffer destinations. A job id already stored in ctx is reused.
func (s *State) ProcessJob(ctx context.Context, job models.RenderJob) (*models.OutputBuffer, error) {
	jobID := logger.JobIDFromContext(ctx)
	if jobID == "" {
		jobID = util.NewJobID()
		ctx = logger.ContextWithJobID(ctx, jobID)
	}
	log := s.log.FromContext(ctx)

	// 0. Reject what can be rejected before any work
	if err := job.Validate(); err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "processor.validate", "invalid render job")
	}
	if !s.mayOutputToFile && job.Output.WritesLocalFile() {
		log.Warn("file output refused", "destination", job.Output.Path)
		return nil, errors.OutputNotAllowed(job.Output.Path)
	}

	t := s.track(ctx, jobID, job)
	buf, err := s.run(ctx, job, t)
	if err != nil {
		return nil, t.fail(ctx, err)
	}
	return buf, nil
}

func (s *State) run(ctx context.Context, job models.RenderJob, t *tracker) (*models.OutputBuffer, error) {
	// 1. Work directory, removed on every path out of run
	dir, err := NewWorkDir(s.tempRoot)
	if err != nil {
		return nil, errors.Wrap(err, "processor.workdir", "could not create work directory")
	}
	defer func() {
		if err := dir.Close(); err != nil {
			t.log.Warn("work directory not removed", "path", dir.Path(), "error", err.Error())
		}
	}()
	t.log.Debug("work directory created", "path", dir.Path())

	// 2. Inputs
	bindings, err := s.inputs.Resolve(ctx, job.Inputs)
	if err != nil {
		return nil, errors.Wrap(err, "processor.inputs", "could not resolve inputs")
	}

	// 3. Template
	artifact, err := s.writeTemplate(ctx, dir, job.Template, bindings)
	if err != nil {
		return nil, errors.Wrap(err, "processor.template", "could not create template")
	}
	t.to(ctx, models.StateTemplateRendered)

	// 4. Compile
	if job.Template.ShouldCompile() {
		artifact, err = s.compile(ctx, dir, artifact)
		if err != nil {
			return nil, err
		}
		t.to(ctx, models.StateCompiled)
	}

	// 5. Dispatch
	buf, err := s.dispatcher.Dispatch(ctx, Artifact{Path: artifact, MimeType: job.Template.MimeType()}, job.Output)
	if err != nil {
		return nil, errors.Wrap(err, "processor.dispatch", "could not dispatch output")
	}
	t.done(ctx)

	return buf, nil
}

// tracker follows one job through its states.
type tracker struct {
	id     string
	state  models.JobState
	start  time.Time
	ledger Ledger
	log    *logger.Logger
}

func (s *State) track(ctx context.Context, id string, job models.RenderJob) *tracker {
	t := &tracker{
		id:     id,
		state:  models.StateCreated,
		start:  time.Now(),
		ledger: s.ledger,
		log:    s.log.FromContext(ctx),
	}
	t.log.Debug("job created",
		"template", job.Template.String(),
		"inputs", len(job.Inputs),
		"output", job.Output.Kind.String(),
	)
	if t.ledger != nil {
		if err := t.ledger.Start(context.WithoutCancel(ctx), id, job); err != nil {
			t.log.Warn("ledger start failed", "error", err.Error())
		}
	}
	return t
}

func (t *tracker) to(ctx context.Context, next models.JobState) {
	t.log.Debug("job state changed", "from", string(t.state), "to", string(next))
	t.state = next
	if t.ledger != nil {
		if err := t.ledger.Transition(context.WithoutCancel(ctx), t.id, next); err != nil {
			t.log.Warn("ledger transition failed", "state", string(next), "error", err.Error())
		}
	}
}

func (t *tracker) done(ctx context.Context) {
	t.log.Debug("job state changed", "from", string(t.state), "to", string(models.StateDispatched))
	t.state = models.StateDispatched
	t.log.Info("job dispatched", "duration_ms", time.Since(t.start).Milliseconds())
	t.finish(ctx, nil)
}

func (t *tracker) fail(ctx context.Context, cause error) error {
	log := t.log.With("state", string(t.state), "duration_ms", time.Since(t.start).Milliseconds())

	var coded *errors.Error
	if errors.As(cause, &coded) {
		args := []any{
			"code", string(coded.Code),
			"op", coded.Op,
			"message", coded.Message,
			"error", cause.Error(),
		}
		for k, v := range errors.GetFields(cause) {
			args = append(args, k, v)
		}
		log.Error("job failed", args...)
	} else {
		log.Error("job failed", "error", cause.Error())
	}

	t.state = models.StateFailed
	t.finish(ctx, cause)
	return cause
}

func (t *tracker) finish(ctx context.Context, cause error) {
	if t.ledger == nil {
		return
	}
	if err := t.ledger.Finish(context.WithoutCancel(ctx), t.id, t.state, cause); err != nil {
		t.log.Warn("ledger finish failed", "error", err.Error())
	}
}
