// Package checksum computes upload digests while bytes are streamed and
// compares them with what a storage endpoint reports back.
package checksum

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"strings"
	"sync"
)

// Reader hashes every byte read through it. Close reports that the consumer
// is done, which is how callers learn the digest is final.
type Reader struct {
	r      io.Reader
	h      hash.Hash
	n      int64
	once   sync.Once
	closed chan struct{}
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r, h: md5.New(), closed: make(chan struct{})}
}

func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.h.Write(p[:n])
		r.n += int64(n)
	}
	return n, err
}

// Close marks the stream as finished. The underlying reader is not closed.
func (r *Reader) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

// Closed is closed once Close has been called.
func (r *Reader) Closed() <-chan struct{} { return r.closed }

// Sum returns the hex MD5 of the bytes read so far.
func (r *Reader) Sum() string { return hex.EncodeToString(r.h.Sum(nil)) }

// N returns the number of bytes read so far.
func (r *Reader) N() int64 { return r.n }

// StripQuotes removes one pair of surrounding double quotes, if present.
func StripQuotes(etag string) string {
	if len(etag) >= 2 && etag[0] == '"' && etag[len(etag)-1] == '"' {
		return etag[1 : len(etag)-1]
	}
	return etag
}

// Matches reports whether the reported digest, once unquoted, equals the
// computed hex digest. Hex case is ignored.
func Matches(reported, computed string) bool {
	return strings.EqualFold(StripQuotes(strings.TrimSpace(reported)), computed)
}

// Of returns the hex MD5 of b.
func Of(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}
