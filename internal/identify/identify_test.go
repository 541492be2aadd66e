package identify

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/local/bookfetcher/internal/ai"
)

type fakeLLM struct {
	text    string
	err     error
	lastReq ai.Request
}

func (f *fakeLLM) Do(_ context.Context, req ai.Request) (ai.Response, string, error) {
	f.lastReq = req
	if f.err != nil {
		return ai.Response{}, "openai", f.err
	}
	return ai.Response{Text: f.text}, "openai", nil
}

// pngPayload builds a base64 blob that detects as image/png.
func pngPayload() string {
	raw := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestFromCover(t *testing.T) {
	fake := &fakeLLM{text: `{"title": "The Left Hand of Darkness", "author": "Ursula K. Le Guin"}`}
	book, err := New(fake).FromCover(context.Background(), pngPayload())
	if err != nil {
		t.Fatalf("FromCover: %v", err)
	}
	if book.Title != "The Left Hand of Darkness" || book.Author != "Ursula K. Le Guin" {
		t.Errorf("book = %+v", book)
	}
	if fake.lastReq.ImageBase64 == "" || fake.lastReq.ImageMIME != "image/png" {
		t.Errorf("request image = mime %q, want image/png with payload", fake.lastReq.ImageMIME)
	}
	if fake.lastReq.Temperature != 0 {
		t.Errorf("Temperature = %v, want 0", fake.lastReq.Temperature)
	}
}

func TestFromCoverDataURL(t *testing.T) {
	fake := &fakeLLM{text: `{"title": "Dune", "author": "Frank Herbert"}`}
	data := "data:image/png;base64," + pngPayload()
	if _, err := New(fake).FromCover(context.Background(), data); err != nil {
		t.Fatalf("FromCover with data URL: %v", err)
	}
}

func TestFromCoverNotABook(t *testing.T) {
	fake := &fakeLLM{text: `{"not_a_book_cover": true}`}
	_, err := New(fake).FromCover(context.Background(), pngPayload())
	if !errors.Is(err, ErrNotBookCover) {
		t.Fatalf("err = %v, want ErrNotBookCover", err)
	}
}

func TestFromCoverRejectsNonImage(t *testing.T) {
	fake := &fakeLLM{text: `{}`}
	payload := base64.StdEncoding.EncodeToString([]byte("just some text, not an image"))
	_, err := New(fake).FromCover(context.Background(), payload)
	if !errors.Is(err, ErrBadImage) {
		t.Fatalf("err = %v, want ErrBadImage", err)
	}
	if fake.lastReq.Prompt != "" {
		t.Error("model must not be called for a non-image payload")
	}
}

func TestFromCoverFencedResponse(t *testing.T) {
	fake := &fakeLLM{text: "```json\n{\"title\": \"Emma\", \"author\": \"Jane Austen\"}\n```"}
	book, err := New(fake).FromCover(context.Background(), pngPayload())
	if err != nil {
		t.Fatalf("FromCover: %v", err)
	}
	if book.Title != "Emma" {
		t.Errorf("Title = %q, want Emma", book.Title)
	}
}

func TestFromCoverFullShape(t *testing.T) {
	fake := &fakeLLM{text: `{"title": "Dune", "author": "Frank Herbert", "genre": "Science Fiction", "description": "Desert planet politics."}`}
	book, err := New(fake).FromCover(context.Background(), pngPayload())
	if err != nil {
		t.Fatalf("FromCover: %v", err)
	}
	if book.Genre != "Science Fiction" || book.Description != "Desert planet politics." {
		t.Errorf("book = %+v, want genre and description carried through", book)
	}
}

func TestFromCoverUnparseableFallsBackToRawText(t *testing.T) {
	fake := &fakeLLM{text: "This appears to be Dune by Frank Herbert, a science fiction classic."}
	book, err := New(fake).FromCover(context.Background(), pngPayload())
	if err != nil {
		t.Fatalf("FromCover on prose response: %v", err)
	}
	if book.Title != "Unknown Title" || book.Author != "Unknown Author" {
		t.Errorf("book = %+v, want unknown placeholders", book)
	}
	if book.Description != fake.text {
		t.Errorf("Description = %q, want the raw model text", book.Description)
	}
}

func TestFromCoverMissingFieldsFallBack(t *testing.T) {
	fake := &fakeLLM{text: `{"title": "", "author": ""}`}
	book, err := New(fake).FromCover(context.Background(), pngPayload())
	if err != nil {
		t.Fatalf("FromCover: %v", err)
	}
	if book.Title != "Unknown Title" || book.Author != "Unknown Author" {
		t.Errorf("book = %+v, want Unknown Title / Unknown Author", book)
	}
}

func TestFactsHappyPath(t *testing.T) {
	fake := &fakeLLM{text: `{"facts": [
		{"icon": "📚", "text": "a"}, {"icon": "📚", "text": "b"}, {"icon": "📚", "text": "c"},
		{"icon": "📚", "text": "d"}, {"icon": "📚", "text": "e"}, {"icon": "📚", "text": "f"}]}`}
	facts := New(fake).Facts(context.Background(), Book{Title: "Dune", Author: "Frank Herbert"})
	if len(facts) != 6 {
		t.Fatalf("len(facts) = %d, want 6", len(facts))
	}
	if facts[0].Text != "a" || facts[5].Text != "f" {
		t.Errorf("facts = %+v", facts)
	}
}

func TestFactsFallbackOnError(t *testing.T) {
	fake := &fakeLLM{err: errors.New("rate limited")}
	facts := New(fake).Facts(context.Background(), Book{Title: "Dune"})
	if len(facts) != 6 {
		t.Fatalf("len(facts) = %d, want 6", len(facts))
	}
	if facts[0] != fallbackFacts[0] {
		t.Error("expected fallback facts on model failure")
	}
}

func TestFactsPadsShortList(t *testing.T) {
	fake := &fakeLLM{text: `{"facts": [{"icon": "📚", "text": "only one"}]}`}
	facts := New(fake).Facts(context.Background(), Book{Title: "Dune"})
	if len(facts) != 6 {
		t.Fatalf("len(facts) = %d, want 6", len(facts))
	}
	if facts[0].Text != "only one" {
		t.Errorf("facts[0] = %+v", facts[0])
	}
}
