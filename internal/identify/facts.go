package identify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/ai"
	"github.com/local/bookfetcher/internal/classify"
)

// Fact is one short reader-facing item shown while a session runs.
type Fact struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

const factCount = 6

// fallbackFacts is served whenever the model cannot produce a usable list, so
// the caller always gets exactly factCount entries.
var fallbackFacts = []Fact{
	{Icon: "📚", Text: "The average novel contains around 90,000 words."},
	{Icon: "🖨️", Text: "Gutenberg's press could print about 240 pages per hour."},
	{Icon: "📖", Text: "The longest published novel runs over a million words."},
	{Icon: "✍️", Text: "Many famous authors wrote their first drafts longhand."},
	{Icon: "🏛️", Text: "The Library of Congress holds more than 170 million items."},
	{Icon: "🔤", Text: "The first typewritten book manuscript was Life on the Mississippi."},
}

// Facts asks the model for six interesting facts about the book. On any
// failure it falls back to a static list rather than erroring.
func (i *Identifier) Facts(ctx context.Context, book Book) []Fact {
	prompt := fmt.Sprintf(`Generate exactly %d short, interesting facts about the book "%s" by %s.
Respond with JSON only: {"facts": [{"icon": "<single emoji>", "text": "<one sentence>"}, ...]}`,
		factCount, book.Title, book.Author)

	resp, provider, err := i.llm.Do(ctx, ai.Request{
		SystemPrompt: "You are a book trivia expert. Respond only with valid JSON.",
		Prompt:       prompt,
		Temperature:  0.7,
		MaxTokens:    600,
	})
	if err != nil {
		log.Warn().Err(err).Str("title", book.Title).Msg("fact generation failed, serving fallback facts")
		return fallbackFacts
	}

	var parsed struct {
		Facts []Fact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(classify.StripFences(resp.Text)), &parsed); err != nil || len(parsed.Facts) == 0 {
		log.Warn().Str("provider", provider).Msg("unparseable facts response, serving fallback facts")
		return fallbackFacts
	}

	facts := parsed.Facts
	if len(facts) > factCount {
		facts = facts[:factCount]
	}
	for len(facts) < factCount {
		facts = append(facts, fallbackFacts[len(facts)%len(fallbackFacts)])
	}
	return facts
}
