// Package httpput uploads artifacts with a streamed HTTP PUT, as accepted by
// S3-compatible object stores and presigned URLs, and verifies the ETag.
package httpput

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"templater/internal/adapters/storage/checksum"
	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
	"templater/internal/ports"
)

// Uploader implements ports.Uploader for http and https URLs.
type Uploader struct {
	client func() *http.Client
	log    *logger.Logger
}

// New returns an uploader that obtains its HTTP client from client on every
// upload, so a lazily built shared client can be passed in.
func New(client func() *http.Client, log *logger.Logger) *Uploader {
	if client == nil {
		client = func() *http.Client { return http.DefaultClient }
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Uploader{client: client, log: log.WithComponent("httpput")}
}

func (u *Uploader) Schemes() []string { return []string{"http", "https"} }

func (u *Uploader) Upload(ctx context.Context, in ports.UploadInput) (ports.UploadOutput, error) {
	dest := in.Destination.String()
	body := checksum.NewReader(in.Reader)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, body)
	if err != nil {
		return ports.UploadOutput{}, errors.WrapWithCode(err, errors.CodeDispatchIO, "httpput.request", "cannot build upload request").
			WithField("url", dest)
	}
	if in.Size >= 0 {
		req.ContentLength = in.Size
	} else {
		req.ContentLength = -1
	}
	if in.ContentType != "" {
		req.Header.Set("Content-Type", in.ContentType)
	}

	resp, err := u.client().Do(req)
	if err != nil {
		return ports.UploadOutput{}, errors.WrapWithCode(err, errors.CodeDispatchIO, "httpput.upload", "upload failed").
			WithField("url", dest)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
	}()

	// The transport closes the request body once it is done sending. Only
	// then is the digest complete.
	select {
	case <-body.Closed():
	case <-ctx.Done():
		return ports.UploadOutput{}, errors.WrapWithCode(ctx.Err(), errors.CodeDispatchIO, "httpput.upload", "upload interrupted").
			WithField("url", dest)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ports.UploadOutput{}, errors.WrapWithCode(fmt.Errorf("http status %d", resp.StatusCode), errors.CodeDispatchIO, "httpput.upload", "upload rejected").
			WithFields(map[string]any{"url": dest, "status": resp.StatusCode})
	}

	sum := body.Sum()
	etag := resp.Header.Get("ETag")
	if etag == "" {
		return ports.UploadOutput{}, errors.New(errors.CodeMissingIntegrity, "upload response has no ETag").
			WithFields(map[string]any{"url": dest, "checksum": sum})
	}
	if !checksum.Matches(etag, sum) {
		return ports.UploadOutput{}, errors.Newf(errors.CodeIntegrityCheckFailed, "ETag %s does not match checksum %s", etag, sum).
			WithFields(map[string]any{"url": dest, "etag": etag, "checksum": sum})
	}

	u.log.FromContext(ctx).Debug("upload verified", "url", dest, "bytes", body.N(), "checksum", sum)
	return ports.UploadOutput{Location: dest, Checksum: sum, Size: body.N()}, nil
}
