package books

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient("test-key")
	c.baseURL = srv.URL
	return c
}

func TestFindPreviewPicksBrowsableVolume(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		w.Write([]byte(`{"totalItems": 2, "items": [
			{"id": "v1", "volumeInfo": {"title": "Dune", "previewLink": "https://books.example/v1"},
			 "accessInfo": {"viewability": "NO_PAGES"}},
			{"id": "v2", "volumeInfo": {"title": "Dune", "authors": ["Frank Herbert"], "pageCount": 412,
			 "previewLink": "https://books.example/v2"},
			 "accessInfo": {"viewability": "PARTIAL"}}
		]}`))
	})

	v, err := c.FindPreview(context.Background(), "Dune", "Frank Herbert")
	if err != nil {
		t.Fatalf("FindPreview: %v", err)
	}
	if v.ID != "v2" {
		t.Errorf("ID = %q, want v2 (first browsable volume)", v.ID)
	}
	if v.PreviewLink != "https://books.example/v2" {
		t.Errorf("PreviewLink = %q", v.PreviewLink)
	}
	if !strings.Contains(gotQuery, "intitle:Dune") || !strings.Contains(gotQuery, "inauthor:Frank Herbert") {
		t.Errorf("query = %q, want intitle and inauthor terms", gotQuery)
	}
}

func TestFindPreviewNoBrowsableVolume(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"totalItems": 1, "items": [
			{"id": "v1", "volumeInfo": {"title": "Dune", "previewLink": "https://books.example/v1"},
			 "accessInfo": {"viewability": "NO_PAGES"}}
		]}`))
	})

	_, err := c.FindPreview(context.Background(), "Dune", "")
	if !errors.Is(err, ErrNoPreview) {
		t.Fatalf("err = %v, want ErrNoPreview", err)
	}
}

func TestFindPreviewAPIFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := c.FindPreview(context.Background(), "Dune", "")
	if err == nil || errors.Is(err, ErrNoPreview) {
		t.Fatalf("err = %v, want transport error distinct from ErrNoPreview", err)
	}
}
