package httpkit

import (
	"net"
	"net/http"
	"sync"
	"time"
)

// LazyClient builds a single *http.Client the first time it is asked for
// one and hands out the same client afterwards. Safe for concurrent use.
type LazyClient struct {
	once   sync.Once
	build  func() *http.Client
	client *http.Client
}

// NewLazyClient defers build until the first Get. A nil build uses
// NewClient.
func NewLazyClient(build func() *http.Client) *LazyClient {
	if build == nil {
		build = NewClient
	}
	return &LazyClient{build: build}
}

func (l *LazyClient) Get() *http.Client {
	l.once.Do(func() {
		l.client = l.build()
	})
	return l.client
}

// NewClient returns a pooled client for input fetches and uploads. It has
// no overall timeout; callers bound requests through their contexts.
func NewClient() *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport}
}
