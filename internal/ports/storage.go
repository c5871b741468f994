package ports

import (
	"context"
	"io"
	"net/url"
)

type UploadInput struct {
	Destination *url.URL
	ContentType string
	// Reader is streamed to the destination and never buffered whole.
	Reader io.Reader
	// Size is the exact number of bytes Reader yields, or -1 if unknown.
	Size int64
}

type UploadOutput struct {
	// Location is the URL written to, or the provider's object id.
	Location string
	// Checksum is the hex MD5 of the uploaded bytes, as confirmed by the
	// destination.
	Checksum string
	Size     int64
}

// Uploader delivers artifacts to remote destinations and verifies that the
// destination stored exactly the bytes that were sent.
type Uploader interface {
	Schemes() []string
	Upload(ctx context.Context, in UploadInput) (UploadOutput, error)
}

// Fetcher reads input documents from non-HTTP sources.
type Fetcher interface {
	Schemes() []string
	Fetch(ctx context.Context, src *url.URL) (rc io.ReadCloser, contentType string, err error)
}

// FileStore writes artifacts to local paths.
type FileStore interface {
	Put(ctx context.Context, path string, r io.Reader) (int64, error)
}
