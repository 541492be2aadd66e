// Package identify recognizes a book from a photo of its cover and generates
// short reader-facing facts about it.
package identify

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/ai"
	"github.com/local/bookfetcher/internal/classify"
)

// ErrNotBookCover is returned when the vision model decides the submitted
// photo does not show a book cover.
var ErrNotBookCover = errors.New("image is not a book cover")

// ErrBadImage is returned when the payload is not a decodable raster image.
var ErrBadImage = errors.New("unsupported or corrupt image data")

// Book is the identification result.
type Book struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
}

// Completer is the language-model call this package depends on.
type Completer interface {
	Do(ctx context.Context, req ai.Request) (ai.Response, string, error)
}

// Identifier answers cover-identification and fact-generation requests.
type Identifier struct {
	llm Completer
}

func New(llm Completer) *Identifier {
	return &Identifier{llm: llm}
}

const identifyPrompt = `Look at this book cover image. Identify the book's title, author, genre and give a one-sentence description.
Respond with JSON only: {"title": "...", "author": "...", "genre": "...", "description": "..."}.
If the image is not a book cover, respond with: {"not_a_book_cover": true}.`

// allowed raster formats for cover photos
var coverMIMEs = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// FromCover identifies the book shown in imageData, a base64 payload with or
// without a data-URL prefix.
func (i *Identifier) FromCover(ctx context.Context, imageData string) (Book, error) {
	raw, mime, err := decodeImage(imageData)
	if err != nil {
		return Book{}, err
	}

	resp, provider, err := i.llm.Do(ctx, ai.Request{
		SystemPrompt: "You are a book identification expert. Respond only with valid JSON.",
		Prompt:       identifyPrompt,
		Temperature:  0,
		MaxTokens:    200,
		ImageBase64:  base64.StdEncoding.EncodeToString(raw),
		ImageMIME:    mime,
	})
	if err != nil {
		return Book{}, fmt.Errorf("cover identification failed: %w", err)
	}

	var parsed struct {
		Title        string `json:"title"`
		Author       string `json:"author"`
		Genre        string `json:"genre"`
		Description  string `json:"description"`
		NotBookCover bool   `json:"not_a_book_cover"`
	}
	if err := json.Unmarshal([]byte(classify.StripFences(resp.Text)), &parsed); err != nil {
		// The model answered but not in JSON. Keep whatever it said as the
		// description rather than failing the request.
		log.Warn().Str("provider", provider).Str("raw", resp.Text).Msg("unparseable identification response")
		return Book{
			Title:       "Unknown Title",
			Author:      "Unknown Author",
			Description: truncate(strings.TrimSpace(resp.Text), 200),
		}, nil
	}
	if parsed.NotBookCover {
		return Book{}, ErrNotBookCover
	}

	book := Book{
		Title:       strings.TrimSpace(parsed.Title),
		Author:      strings.TrimSpace(parsed.Author),
		Genre:       strings.TrimSpace(parsed.Genre),
		Description: strings.TrimSpace(parsed.Description),
	}
	if book.Title == "" {
		book.Title = "Unknown Title"
	}
	if book.Author == "" {
		book.Author = "Unknown Author"
	}
	log.Info().Str("title", book.Title).Str("author", book.Author).Str("provider", provider).Msg("book identified")
	return book, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// decodeImage strips an optional data-URL prefix, base64-decodes the payload
// and verifies it is an accepted raster format.
func decodeImage(data string) ([]byte, string, error) {
	data = strings.TrimSpace(data)
	if i := strings.Index(data, ";base64,"); i >= 0 && strings.HasPrefix(data, "data:") {
		data = data[i+len(";base64,"):]
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBadImage, err)
	}
	if len(raw) == 0 {
		return nil, "", ErrBadImage
	}
	mt := mimetype.Detect(raw)
	if !coverMIMEs[mt.String()] {
		return nil, "", fmt.Errorf("%w: detected %s", ErrBadImage, mt.String())
	}
	return raw, mt.String(), nil
}
