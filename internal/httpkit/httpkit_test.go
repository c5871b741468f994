package httpkit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS(CORSOptions{AllowedOrigins: SplitOrigins(" https://app.example.com , ")})(next)

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Origin", "https://app.example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
			t.Errorf("expected allow origin header, got %q", got)
		}
		if got := rec.Header().Get("Access-Control-Max-Age"); got != "600" {
			t.Errorf("expected max age 600, got %q", got)
		}
		if !strings.Contains(rec.Header().Get("Access-Control-Expose-Headers"), "Content-Disposition") {
			t.Error("expected Content-Disposition to be exposed")
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("expected no allow origin header, got %q", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest("OPTIONS", "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Template string `json:"template"`
	}

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"template":"hello.txt"}`))
		var p payload
		if err := DecodeJSON(httptest.NewRecorder(), req, &p); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Template != "hello.txt" {
			t.Errorf("expected hello.txt, got %s", p.Template)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"template":"a","extra":1}`))
		var p payload
		if err := DecodeJSON(httptest.NewRecorder(), req, &p); err == nil {
			t.Error("expected error for unknown field")
		}
	})

	t.Run("trailing data", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"template":"a"} {"template":"b"}`))
		var p payload
		if err := DecodeJSON(httptest.NewRecorder(), req, &p); err == nil {
			t.Error("expected error for trailing data")
		}
	})
}

func TestWriteAttachment(t *testing.T) {
	rec := httptest.NewRecorder()

	WriteAttachment(rec, "application/pdf", "invoice.pdf", []byte("%PDF-1.5"))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="invoice.pdf"` {
		t.Errorf("unexpected disposition %q", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("unexpected content type %q", got)
	}
	if rec.Body.String() != "%PDF-1.5" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestLazyClientBuildsOnce(t *testing.T) {
	var builds atomic.Int32
	lazy := NewLazyClient(func() *http.Client {
		builds.Add(1)
		return &http.Client{}
	})

	if builds.Load() != 0 {
		t.Fatal("expected no client before first use")
	}

	clients := make([]*http.Client, 8)
	var wg sync.WaitGroup
	for i := range clients {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			clients[i] = lazy.Get()
		}()
	}
	wg.Wait()

	if builds.Load() != 1 {
		t.Errorf("expected one build, got %d", builds.Load())
	}
	for i, c := range clients {
		if c != clients[0] {
			t.Errorf("client %d differs from the first", i)
		}
	}
}

func TestNewLazyClientDefault(t *testing.T) {
	c := NewLazyClient(nil).Get()
	if c == nil || c.Transport == nil {
		t.Fatal("expected default pooled client")
	}
}
