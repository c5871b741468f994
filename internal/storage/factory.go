// Package storage wires the artifact destinations and remote input sources
// available to the pipeline.
package storage

import (
	"context"
	"net/http"
	"sort"
	"strings"

	"templater/internal/adapters/storage/gdrive"
	"templater/internal/adapters/storage/httpput"
	"templater/internal/adapters/storage/localfs"
	"templater/internal/pkg/logger"
	"templater/internal/ports"
)

type Config struct {
	GDrive gdrive.Credentials
}

// Registry maps URL schemes to uploaders and fetchers. It is filled at
// start-up and only read afterwards.
type Registry struct {
	uploaders map[string]ports.Uploader
	fetchers  map[string]ports.Fetcher
	files     ports.FileStore
}

// NewRegistry always registers http and https uploads and local files.
// Drive is added when its credentials are complete.
func NewRegistry(ctx context.Context, cfg Config, client func() *http.Client, log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Discard()
	}

	r := NewEmptyRegistry(localfs.New())
	r.Register(httpput.New(client, log))

	if cfg.GDrive.Complete() {
		drv, err := gdrive.NewFromCredentials(ctx, cfg.GDrive, log)
		if err != nil {
			return nil, err
		}
		r.Register(drv)
		r.RegisterFetcher(drv)
		log.Info("drive storage enabled", "folder_id", cfg.GDrive.FolderID)
	}

	return r, nil
}

// NewEmptyRegistry returns a registry with no remote back-ends.
func NewEmptyRegistry(files ports.FileStore) *Registry {
	return &Registry{
		uploaders: map[string]ports.Uploader{},
		fetchers:  map[string]ports.Fetcher{},
		files:     files,
	}
}

func (r *Registry) Register(u ports.Uploader) {
	for _, s := range u.Schemes() {
		r.uploaders[strings.ToLower(s)] = u
	}
}

func (r *Registry) RegisterFetcher(f ports.Fetcher) {
	for _, s := range f.Schemes() {
		r.fetchers[strings.ToLower(s)] = f
	}
}

func (r *Registry) Uploader(scheme string) (ports.Uploader, bool) {
	u, ok := r.uploaders[strings.ToLower(scheme)]
	return u, ok
}

func (r *Registry) Fetcher(scheme string) (ports.Fetcher, bool) {
	f, ok := r.fetchers[strings.ToLower(scheme)]
	return f, ok
}

func (r *Registry) Files() ports.FileStore { return r.files }

// Schemes lists the upload schemes, sorted.
func (r *Registry) Schemes() []string {
	out := make([]string, 0, len(r.uploaders))
	for s := range r.uploaders {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
