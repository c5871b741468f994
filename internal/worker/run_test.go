package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/worker/queue"
)

type memQueue struct {
	in chan *queue.Delivery

	mu      sync.Mutex
	results []queue.Result
	failN   atomic.Int32
}

func newMemQueue() *memQueue {
	return &memQueue{in: make(chan *queue.Delivery, 16)}
}

func (q *memQueue) Enqueue(_ context.Context, msg queue.Message) error {
	q.in <- &queue.Delivery{Message: msg}
	return nil
}

func (q *memQueue) Receive(ctx context.Context) (*queue.Delivery, error) {
	if q.failN.Load() > 0 {
		q.failN.Add(-1)
		return nil, fmt.Errorf("connection refused")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d := <-q.in:
		return d, nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func (q *memQueue) Publish(_ context.Context, res queue.Result) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, res)
	return nil
}

func (q *memQueue) Ping(context.Context) error { return nil }

func (q *memQueue) snapshot() []queue.Result {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Result(nil), q.results...)
}

type fakeProcessor struct {
	delay   time.Duration
	fail    error
	running atomic.Int32
	peak    atomic.Int32
	ids     sync.Map
}

func (p *fakeProcessor) ProcessJob(ctx context.Context, job models.RenderJob) (*models.OutputBuffer, error) {
	n := p.running.Add(1)
	defer p.running.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	p.ids.Store(logger.JobIDFromContext(ctx), job.Template.String())
	time.Sleep(p.delay)
	return nil, p.fail
}

func fileJob(template string) models.RenderJob {
	return models.RenderJob{Template: models.TemplateRef(template), Output: models.ToFile("/tmp/out.txt")}
}

func waitResults(t *testing.T, q *memQueue, n int) []queue.Result {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if res := q.snapshot(); len(res) >= n {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d results, got %d", n, len(q.snapshot()))
	return nil
}

func runWorker(t *testing.T, d Deps) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, d) }()
	return cancel, done
}

func TestRunProcessesAndPublishes(t *testing.T) {
	q := newMemQueue()
	proc := &fakeProcessor{}
	cancel, done := runWorker(t, Deps{Queue: q, Processor: proc, Concurrency: 2, Log: logger.Discard()})

	_ = q.Enqueue(context.Background(), queue.Message{ID: "job-1", Job: fileJob("hello.txt")})
	res := waitResults(t, q, 1)
	cancel()
	<-done

	if res[0].ID != "job-1" || res[0].Status != statusDispatched {
		t.Errorf("unexpected result %+v", res[0])
	}
	if tpl, ok := proc.ids.Load("job-1"); !ok || tpl != "hello.txt" {
		t.Errorf("expected job to run under its message id, got %v", tpl)
	}
}

func TestRunReportsFailures(t *testing.T) {
	q := newMemQueue()
	proc := &fakeProcessor{fail: errors.New(errors.CodeCompilationFailed, "could not compile file")}
	cancel, done := runWorker(t, Deps{Queue: q, Processor: proc, Log: logger.Discard()})

	_ = q.Enqueue(context.Background(), queue.Message{ID: "job-2", Job: fileJob("doc.tex")})
	res := waitResults(t, q, 1)
	cancel()
	<-done

	if res[0].Status != statusFailed {
		t.Fatalf("expected failed status, got %+v", res[0])
	}
	if res[0].Code != string(errors.CodeCompilationFailed) {
		t.Errorf("expected code %s, got %s", errors.CodeCompilationFailed, res[0].Code)
	}
}

func TestRunRejectsBufferOutput(t *testing.T) {
	q := newMemQueue()
	proc := &fakeProcessor{}
	cancel, done := runWorker(t, Deps{Queue: q, Processor: proc, Log: logger.Discard()})

	_ = q.Enqueue(context.Background(), queue.Message{ID: "job-3", Job: models.RenderJob{Template: "a.txt", Output: models.ToBuffer()}})
	res := waitResults(t, q, 1)
	cancel()
	<-done

	if res[0].Code != string(errors.CodeValidation) {
		t.Errorf("expected validation error, got %+v", res[0])
	}
	if _, ran := proc.ids.Load("job-3"); ran {
		t.Error("buffer job must not reach the processor")
	}
}

func TestRunAssignsMissingID(t *testing.T) {
	q := newMemQueue()
	cancel, done := runWorker(t, Deps{Queue: q, Processor: &fakeProcessor{}, Log: logger.Discard()})

	_ = q.Enqueue(context.Background(), queue.Message{Job: fileJob("a.txt")})
	res := waitResults(t, q, 1)
	cancel()
	<-done

	if res[0].ID == "" {
		t.Error("expected a generated job id")
	}
}

func TestRunDropsMalformedMessages(t *testing.T) {
	q := newMemQueue()
	proc := &fakeProcessor{}
	cancel, done := runWorker(t, Deps{Queue: q, Processor: proc, Log: logger.Discard()})

	q.in <- &queue.Delivery{Raw: "{", Err: fmt.Errorf("decode message: unexpected EOF")}
	_ = q.Enqueue(context.Background(), queue.Message{ID: "after", Job: fileJob("a.txt")})
	res := waitResults(t, q, 1)
	cancel()
	<-done

	if len(res) != 1 || res[0].ID != "after" {
		t.Errorf("expected only the valid message to produce a result, got %+v", res)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	q := newMemQueue()
	proc := &fakeProcessor{delay: 30 * time.Millisecond}
	cancel, done := runWorker(t, Deps{Queue: q, Processor: proc, Concurrency: 2, Log: logger.Discard()})

	for i := 0; i < 6; i++ {
		_ = q.Enqueue(context.Background(), queue.Message{ID: fmt.Sprintf("job-%d", i), Job: fileJob("a.txt")})
	}
	waitResults(t, q, 6)
	cancel()
	<-done

	if peak := proc.peak.Load(); peak > 2 {
		t.Errorf("expected at most 2 concurrent jobs, saw %d", peak)
	}
}

func TestRunDrainsInFlightJobs(t *testing.T) {
	q := newMemQueue()
	proc := &fakeProcessor{delay: 100 * time.Millisecond}
	cancel, done := runWorker(t, Deps{Queue: q, Processor: proc, Log: logger.Discard()})

	_ = q.Enqueue(context.Background(), queue.Message{ID: "slow", Job: fileJob("a.txt")})
	for proc.running.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	if err := <-done; err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	res := q.snapshot()
	if len(res) != 1 || res[0].Status != statusDispatched {
		t.Errorf("expected in-flight job to finish before Run returned, got %+v", res)
	}
}

func TestRunRetriesReceiveErrors(t *testing.T) {
	old := retryDelay
	retryDelay = 5 * time.Millisecond
	defer func() { retryDelay = old }()

	q := newMemQueue()
	q.failN.Store(3)
	cancel, done := runWorker(t, Deps{Queue: q, Processor: &fakeProcessor{}, Log: logger.Discard()})

	_ = q.Enqueue(context.Background(), queue.Message{ID: "x", Job: fileJob("a.txt")})
	waitResults(t, q, 1)
	cancel()
	<-done
}
