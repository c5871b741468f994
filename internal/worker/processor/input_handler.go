package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/ports"
)

// FetcherSource looks up the fetcher for a non-HTTP URL scheme.
type FetcherSource interface {
	Fetcher(scheme string) (ports.Fetcher, bool)
}

// InputResolver loads a job's inputs and merges them into one binding set.
type InputResolver struct {
	client   func() *http.Client
	fetchers FetcherSource
	log      *logger.Logger

	stdinMu sync.Mutex
	stdin   io.Reader
}

func NewInputResolver(client func() *http.Client, fetchers FetcherSource, stdin io.Reader, log *logger.Logger) *InputResolver {
	if log == nil {
		log = logger.Discard()
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	return &InputResolver{
		client:   client,
		fetchers: fetchers,
		stdin:    stdin,
		log:      log.WithComponent("inputs"),
	}
}

// Resolve fetches all inputs concurrently and merges them in the order they
// were given, later keys replacing earlier ones. The first failure cancels
// the remaining fetches and is returned.
func (r *InputResolver) Resolve(ctx context.Context, inputs []models.Input) (models.Bindings, error) {
	docs := make([]models.Bindings, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		i, in := i, in
		g.Go(func() error {
			b, err := r.load(gctx, in)
			if err != nil {
				return err
			}
			docs[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := models.Bindings{}
	for _, doc := range docs {
		merged.Merge(doc)
	}
	r.log.FromContext(ctx).Debug("inputs resolved", "sources", len(inputs), "keys", merged.Keys())
	return merged, nil
}

func (r *InputResolver) load(ctx context.Context, in models.Input) (models.Bindings, error) {
	switch {
	case in.IsInline():
		return in.Data, nil
	case in.Ref.IsStdio():
		return r.loadStdin()
	case in.Ref.IsURL():
		return r.loadURL(ctx, in.Ref.URL)
	default:
		return r.loadFile(in.Ref.Path)
	}
}

// loadStdin reads standard input as JSON. Only one job reads it at a time.
func (r *InputResolver) loadStdin() (models.Bindings, error) {
	r.stdinMu.Lock()
	defer r.stdinMu.Unlock()

	b, err := decodeBindings(formatJSON, r.stdin)
	if err != nil {
		return nil, errors.InputFetch("standard input", err)
	}
	return b, nil
}

// loadFile opens the file before looking at its extension, so a missing
// file is always a fetch error.
func (r *InputResolver) loadFile(path string) (models.Bindings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.InputFetch(path, err)
	}
	defer f.Close()

	format, ok := formatFromExtension(path)
	if !ok {
		return nil, errors.UnsupportedInput(path, "extension")
	}

	b, err := decodeBindings(format, f)
	if err != nil {
		return nil, errors.InputFetch(path, err).WithField("format", string(format))
	}
	return b, nil
}

func (r *InputResolver) loadURL(ctx context.Context, u *url.URL) (models.Bindings, error) {
	source := u.String()

	body, contentType, err := r.open(ctx, u)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	format, ok := formatFromContentType(contentType)
	if !ok {
		return nil, errors.UnsupportedInput(source, contentType)
	}

	b, err := decodeBindings(format, body)
	if err != nil {
		return nil, errors.InputFetch(source, err).WithField("format", string(format))
	}
	return b, nil
}

func (r *InputResolver) open(ctx context.Context, u *url.URL) (io.ReadCloser, string, error) {
	source := u.String()
	scheme := strings.ToLower(u.Scheme)

	if scheme != "http" && scheme != "https" {
		if r.fetchers != nil {
			if f, ok := r.fetchers.Fetcher(scheme); ok {
				rc, contentType, err := f.Fetch(ctx, u)
				if err != nil {
					return nil, "", errors.InputFetch(source, err)
				}
				return rc, contentType, nil
			}
		}
		return nil, "", errors.UnsupportedInput(source, "scheme "+scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, "", errors.InputFetch(source, err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")

	client := http.DefaultClient
	if r.client != nil {
		client = r.client()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", errors.InputFetch(source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, "", errors.InputFetch(source, fmt.Errorf("unexpected status %s", resp.Status)).
			WithField("status", resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
