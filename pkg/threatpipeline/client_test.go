package threatpipeline

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func testClientLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientSearchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req SearchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if req.Model != "gpt-4o" {
			t.Errorf("req.Model = %q, want gpt-4o", req.Model)
		}
		resp := SearchResponse{
			Model: "gpt-4o",
			Usage: Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
			Output: []OutputItem{{
				Type: "message",
				Role: "assistant",
				Content: []ContentItem{{Type: "output_text", Text: "[]"}},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testClientLogger())
	resp, err := c.Search(t.Context(), SearchRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Text() != "[]" {
		t.Errorf("resp.Text() = %q, want []", resp.Text())
	}
	if resp.Usage.TotalTokens != 30 {
		t.Errorf("resp.Usage.TotalTokens = %d, want 30", resp.Usage.TotalTokens)
	}
}

func TestClientSearchAbortsOn401WithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key", testClientLogger())
	_, err := c.Search(t.Context(), SearchRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected an error on 401")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server received %d calls, want exactly 1 (no retry on 401)", got)
	}
}

func TestClientSearchAbortsOn403WithoutRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bad-key", testClientLogger())
	_, err := c.Dedupe(t.Context(), SearchRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected an error on 403")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server received %d calls, want exactly 1 (no retry on 403)", got)
	}
}

func TestClientSearchRetriesOnceWithoutSchemaConstraintOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		var req SearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if n == 1 {
			if req.Text == nil {
				t.Error("expected the first attempt to carry the structured-output constraint")
			}
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Text != nil {
			t.Error("expected the retry to have dropped the structured-output constraint")
		}
		resp := SearchResponse{Output: []OutputItem{{Type: "message", Content: []ContentItem{{Type: "output_text", Text: "ok"}}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testClientLogger())
	resp, err := c.Search(t.Context(), SearchRequest{Model: "gpt-4o", Text: &TextFormat{Format: FormatSpec{Type: "json_schema"}}})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("resp.Text() = %q, want ok", resp.Text())
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server received %d calls, want exactly 2", got)
	}
}

func TestClientDedupeDoesNotRetryFormatOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testClientLogger())
	_, err := c.Dedupe(t.Context(), SearchRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected an error on a persistent 400")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("server received %d calls, want exactly 1 (Dedupe has no format-retry branch)", got)
	}
}

func TestClientSearchRetriesTransient5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := SearchResponse{Output: []OutputItem{{Type: "message", Content: []ContentItem{{Type: "output_text", Text: "recovered"}}}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", testClientLogger())
	resp, err := c.Search(t.Context(), SearchRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Text() != "recovered" {
		t.Errorf("resp.Text() = %q, want recovered", resp.Text())
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("server received %d calls, want exactly 2", got)
	}
}
