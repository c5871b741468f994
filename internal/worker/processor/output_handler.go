package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"templater/internal/adapters/storage/localfs"
	"templater/internal/models"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/ports"
)

// stdoutChunk is the largest single write to standard output.
const stdoutChunk = 32 << 10

// Destinations provides the stores artifacts are delivered to.
type Destinations interface {
	Uploader(scheme string) (ports.Uploader, bool)
	Files() ports.FileStore
}

// Artifact is the final file of a job together with the media type of the
// template it came from.
type Artifact struct {
	Path     string
	MimeType string
}

// OutputDispatcher delivers artifacts to buffers, local files, standard
// output and remote stores.
type OutputDispatcher struct {
	destinations  Destinations
	files         ports.FileStore
	uploadTimeout time.Duration
	log           *logger.Logger

	stdoutMu sync.Mutex
	stdout   io.Writer
}

func NewOutputDispatcher(destinations Destinations, stdout io.Writer, uploadTimeout time.Duration, log *logger.Logger) *OutputDispatcher {
	if log == nil {
		log = logger.Discard()
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	var files ports.FileStore
	if destinations != nil {
		files = destinations.Files()
	}
	if files == nil {
		files = localfs.New()
	}
	return &OutputDispatcher{
		destinations:  destinations,
		files:         files,
		uploadTimeout: uploadTimeout,
		log:           log.WithComponent("dispatch"),
		stdout:        stdout,
	}
}

// Dispatch delivers art to out. Only buffer destinations return a payload.
func (d *OutputDispatcher) Dispatch(ctx context.Context, art Artifact, out models.OutputRef) (*models.OutputBuffer, error) {
	switch out.Kind {
	case models.OutputToBuffer:
		return d.toBuffer(art)
	case models.OutputToFile:
		if out.IsStdio() {
			return nil, d.toStdout(ctx, art)
		}
		return nil, d.toFile(ctx, art, out.Path)
	case models.OutputToURL:
		return nil, d.toURL(ctx, art, out)
	default:
		return nil, errors.Newf(errors.CodeInternal, "unknown output kind %d", out.Kind)
	}
}

func (d *OutputDispatcher) toBuffer(art Artifact) (*models.OutputBuffer, error) {
	buf, err := os.ReadFile(art.Path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.buffer", "could not read from file")
	}
	return &models.OutputBuffer{
		Buffer:   buf,
		Filename: filepath.Base(art.Path),
		MimeType: art.MimeType,
	}, nil
}

func (d *OutputDispatcher) toStdout(ctx context.Context, art Artifact) error {
	f, err := os.Open(art.Path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.stdout", "could not read from file")
	}
	defer f.Close()

	d.stdoutMu.Lock()
	defer d.stdoutMu.Unlock()

	buf := make([]byte, stdoutChunk)
	for {
		if err := ctx.Err(); err != nil {
			return errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.stdout", "output interrupted")
		}
		n, rerr := f.Read(buf)
		if n > 0 {
			if _, err := d.stdout.Write(buf[:n]); err != nil {
				return errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.stdout", "could not write to stdout")
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return errors.WrapWithCode(rerr, errors.CodeDispatchIO, "dispatch.stdout", "could not read from file")
		}
	}
}

func (d *OutputDispatcher) toFile(ctx context.Context, art Artifact, path string) error {
	f, err := os.Open(art.Path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.file", "could not read from file")
	}
	defer f.Close()

	n, err := d.files.Put(ctx, path, f)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.file", "could not copy file").
			WithField("destination", path)
	}
	d.log.FromContext(ctx).Debug("artifact written", "destination", path, "bytes", n)
	return nil
}

func (d *OutputDispatcher) toURL(ctx context.Context, art Artifact, out models.OutputRef) error {
	dest := out.URL.String()

	var uploader ports.Uploader
	if d.destinations != nil {
		uploader, _ = d.destinations.Uploader(out.URL.Scheme)
	}
	if uploader == nil {
		return errors.Newf(errors.CodeDispatchIO, "no uploader for scheme %q", out.URL.Scheme).
			WithField("url", dest)
	}

	f, err := os.Open(art.Path)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeDispatchIO, "dispatch.url", "could not read from file")
	}
	defer f.Close()

	size := int64(-1)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	if d.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.uploadTimeout)
		defer cancel()
	}

	res, err := uploader.Upload(ctx, ports.UploadInput{
		Destination: out.URL,
		ContentType: art.MimeType,
		Reader:      f,
		Size:        size,
	})
	if err != nil {
		return stageError(err, errors.CodeDispatchIO, "dispatch.url", "could not upload file")
	}

	d.log.FromContext(ctx).Debug("artifact uploaded",
		"url", dest,
		"location", res.Location,
		"checksum", res.Checksum,
		"bytes", res.Size,
	)
	return nil
}
