package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/local/bookfetcher/internal/ai"
	"github.com/local/bookfetcher/internal/books"
	"github.com/local/bookfetcher/internal/classify"
	"github.com/local/bookfetcher/internal/config"
	"github.com/local/bookfetcher/internal/extract"
	"github.com/local/bookfetcher/internal/identify"
	"github.com/local/bookfetcher/internal/store"
)

type fakeLLM struct{ text string }

func (f *fakeLLM) Do(_ context.Context, _ ai.Request) (ai.Response, string, error) {
	return ai.Response{Text: f.text}, "openai", nil
}

type fakeBooks struct {
	vol books.Volume
	err error
}

func (f *fakeBooks) FindPreview(_ context.Context, _, _ string) (books.Volume, error) {
	return f.vol, f.err
}

type fakeClassifier struct{ verdict classify.Verdict }

func (f *fakeClassifier) Classify(_ context.Context, _ []classify.Page) classify.Verdict {
	return f.verdict
}

type fakeEngine struct{}

func (fakeEngine) Available() bool { return true }
func (fakeEngine) Recognize(_ context.Context, path string) (string, error) {
	return "Narrative text rendered from " + path, nil
}

type fakeCapturer struct{ pages int }

func (f *fakeCapturer) CapturePage(_ context.Context, n int) (extract.PageCapture, error) {
	if n > f.pages {
		return extract.PageCapture{}, errors.New("past last page")
	}
	return extract.PageCapture{PageNumber: n, ImagePath: fmt.Sprintf("/tmp/sessions/x/page_%d.png", n)}, nil
}

func (f *fakeCapturer) NavigateNext(_ context.Context) error { return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server, store.Sessions) {
	t.Helper()
	cfg := config.FromEnv()
	cfg.Extraction.MaxPages = 3
	cfg.Extraction.WorkDir = t.TempDir()
	sessions := store.NewMemorySessions()

	sel := 2
	srv := New(Dependencies{
		Cfg:        cfg,
		Sessions:   sessions,
		Identifier: identify.New(&fakeLLM{text: `{"title": "Dune", "author": "Frank Herbert"}`}),
		Books:      &fakeBooks{vol: books.Volume{PreviewLink: "https://books.example/preview"}},
		Classifier: &fakeClassifier{verdict: classify.Verdict{
			Kind:         classify.KindFiction,
			ContentPages: []int{1, 2},
			SelectedPage: sel,
			Reasoning:    "story begins on the first content page",
		}},
		Engine: fakeEngine{},
	})
	srv.newCapturer = func(_ context.Context, _, _ string) (extract.Capturer, func() error, error) {
		return &fakeCapturer{pages: 3}, func() error { return nil }, nil
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts, sessions
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealth(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestIdentifyBook(t *testing.T) {
	_, ts, _ := newTestServer(t)
	img := base64.StdEncoding.EncodeToString(append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...))
	resp := postJSON(t, ts.URL+"/identify-book", fmt.Sprintf(`{"image": %q}`, img))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var book identify.Book
	if err := json.NewDecoder(resp.Body).Decode(&book); err != nil {
		t.Fatal(err)
	}
	if book.Title != "Dune" {
		t.Errorf("Title = %q, want Dune", book.Title)
	}
}

func TestIdentifyBookMissingImage(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/identify-book", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStartAutomationRunsToCompletion(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/start-automation", `{"title": "Dune", "author": "Frank Herbert"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var started startResp
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started.SessionID == "" {
		t.Fatal("missing session id")
	}

	// Poll until the background session finishes.
	deadline := time.Now().Add(5 * time.Second)
	var sess store.Session
	for time.Now().Before(deadline) {
		r, err := http.Get(ts.URL + "/automation-status/" + started.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		err = json.NewDecoder(r.Body).Decode(&sess)
		r.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if sess.Status == "complete" || sess.Status == "error" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if sess.Status != "complete" {
		t.Fatalf("final status = %q (error %q), want complete", sess.Status, sess.Error)
	}

	var result extract.Result
	if err := json.Unmarshal(sess.Result, &result); err != nil {
		t.Fatalf("result payload: %v", err)
	}
	if !result.Success {
		t.Errorf("result.Success = false, error %q", result.Error)
	}
	if result.SelectedPage == nil || *result.SelectedPage != 2 {
		t.Errorf("SelectedPage = %v, want 2", result.SelectedPage)
	}
	if result.PagesExtracted != 3 {
		t.Errorf("PagesExtracted = %d, want 3", result.PagesExtracted)
	}
}

// ctxSessions fails writes once the caller's context is dead, the way the
// Redis backend would.
type ctxSessions struct{ store.Sessions }

func (c ctxSessions) Set(ctx context.Context, id string, sess store.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Sessions.Set(ctx, id, sess)
}

// stallingCapturer serves the first pages promptly and then blocks until the
// session context expires.
type stallingCapturer struct{ serve int }

func (f *stallingCapturer) CapturePage(ctx context.Context, n int) (extract.PageCapture, error) {
	if n > f.serve {
		<-ctx.Done()
		return extract.PageCapture{}, ctx.Err()
	}
	return extract.PageCapture{PageNumber: n, ImagePath: fmt.Sprintf("/tmp/sessions/x/page_%d.png", n)}, nil
}

func (f *stallingCapturer) NavigateNext(_ context.Context) error { return nil }

func TestSessionTimeoutStillRecordsOutcome(t *testing.T) {
	cfg := config.FromEnv()
	cfg.Extraction.MaxPages = 3
	cfg.Extraction.WorkDir = t.TempDir()
	cfg.Extraction.SessionTimeout = 100 * time.Millisecond
	sessions := ctxSessions{store.NewMemorySessions()}

	srv := New(Dependencies{
		Cfg:        cfg,
		Sessions:   sessions,
		Identifier: identify.New(&fakeLLM{text: `{}`}),
		Books:      &fakeBooks{vol: books.Volume{PreviewLink: "https://books.example/preview"}},
		Classifier: &fakeClassifier{verdict: classify.Verdict{Kind: classify.KindUnknown}},
		Engine:     fakeEngine{},
	})
	srv.newCapturer = func(_ context.Context, _, _ string) (extract.Capturer, func() error, error) {
		return &stallingCapturer{serve: 2}, func() error { return nil }, nil
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	resp := postJSON(t, ts.URL+"/start-automation", `{"title": "Dune", "author": "Frank Herbert"}`)
	var started startResp
	if err := json.NewDecoder(resp.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	var sess store.Session
	for time.Now().Before(deadline) {
		got, ok, err := sessions.Get(context.Background(), started.SessionID)
		if err != nil {
			t.Fatal(err)
		}
		if ok && (got.Status == "complete" || got.Status == "error") {
			sess = got
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if sess.Status != "complete" && sess.Status != "error" {
		t.Fatalf("session stuck at %q after timeout, want a terminal status", sess.Status)
	}
	if sess.Status == "complete" {
		var result extract.Result
		if err := json.Unmarshal(sess.Result, &result); err != nil {
			t.Fatalf("result payload: %v", err)
		}
		if result.PagesExtracted == 0 {
			t.Error("PagesExtracted = 0, want the pages captured before the timeout")
		}
	}
}

func TestStartAutomationRequiresReference(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/start-automation", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatusUnknownSession(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/automation-status/no-such-session")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestScreenshotTraversalRejected(t *testing.T) {
	_, ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/screenshot/..%2f..%2fetc%2fpasswd", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("path traversal served a file")
	}
}

func TestFactsEndpoint(t *testing.T) {
	_, ts, _ := newTestServer(t)
	resp := postJSON(t, ts.URL+"/generate-book-facts", `{"title": "Dune", "author": "Frank Herbert"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out struct {
		Facts []identify.Fact `json:"facts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Facts) != 6 {
		t.Errorf("len(facts) = %d, want 6", len(out.Facts))
	}
}
