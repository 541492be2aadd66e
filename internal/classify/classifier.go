package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/ai"
	"github.com/local/bookfetcher/internal/metrics"
)

// Kind is the book classification returned by the model.
type Kind string

const (
	KindFiction    Kind = "fiction"
	KindNonFiction Kind = "non-fiction"
	KindUnknown    Kind = "unknown"
)

// Page is one OCR'd page handed to the classifier. Pages must be sorted by
// ascending Number before calling Classify; the model reasons about list
// ordinals and the classifier maps them back through this slice.
type Page struct {
	Number int
	Text   string
}

// Verdict is the outcome of one classifier invocation. ContentPages and
// SelectedPage hold real page numbers, already mapped from the model's
// positional indices. SelectedPage is 0 when no page qualifies.
type Verdict struct {
	Kind         Kind
	ContentPages []int
	SelectedPage int
	Reasoning    string
}

// Completer is the language-model call the classifier depends on.
// *ai.Caller satisfies it.
type Completer interface {
	Do(ctx context.Context, req ai.Request) (ai.Response, string, error)
}

const (
	defaultPreviewChars = 400
	defaultMaxTokens    = 200

	systemPrompt = "You are a book analysis expert. Respond only with valid JSON."
)

// Classifier asks a language model to separate front matter from story
// content and classify the book as fiction or non-fiction.
type Classifier struct {
	llm          Completer
	previewChars int
	maxTokens    int
}

func New(llm Completer) *Classifier {
	return &Classifier{llm: llm, previewChars: defaultPreviewChars, maxTokens: defaultMaxTokens}
}

// SetPreviewChars overrides how much of each page's text goes into the
// prompt summary.
func (c *Classifier) SetPreviewChars(n int) {
	if n > 0 {
		c.previewChars = n
	}
}

// modelVerdict is the JSON object the model must produce.
type modelVerdict struct {
	Classification string `json:"classification"`
	ContentPages   []int  `json:"content_pages"`
	SelectedPage   *int   `json:"selected_page"`
	Reasoning      string `json:"reasoning"`
}

// Classify submits all page summaries in one deterministic request and
// returns a verdict. It never returns an error: any failure (transport,
// malformed JSON) folds into an unknown verdict carrying the error detail.
func (c *Classifier) Classify(ctx context.Context, pages []Page) Verdict {
	if !anyText(pages) {
		v := Verdict{Kind: KindUnknown, Reasoning: "no recognizable text on any page"}
		metrics.IncClassifierCall(string(v.Kind))
		return v
	}

	resp, provider, err := c.llm.Do(ctx, ai.Request{
		SystemPrompt: systemPrompt,
		Prompt:       c.buildPrompt(pages),
		Temperature:  0,
		MaxTokens:    c.maxTokens,
	})
	if err != nil {
		return c.unknown(fmt.Sprintf("classification call failed: %v", err))
	}

	var mv modelVerdict
	if err := json.Unmarshal([]byte(StripFences(resp.Text)), &mv); err != nil {
		return c.unknown(fmt.Sprintf("malformed classifier response: %v", err))
	}

	kind := parseKind(mv.Classification)
	contentPages := mapOrdinals(mv.ContentPages, pages)
	selected, _ := SelectPage(kind, contentPages)

	if mv.SelectedPage != nil && *mv.SelectedPage != 0 {
		// The model applies the rule too; we recompute locally and only log
		// disagreements.
		if modelPage := mapOrdinal(*mv.SelectedPage, pages); modelPage != selected {
			log.Debug().
				Int("model_selected", modelPage).
				Int("local_selected", selected).
				Str("provider", provider).
				Msg("classifier selection recomputed locally")
		}
	}

	v := Verdict{
		Kind:         kind,
		ContentPages: contentPages,
		SelectedPage: selected,
		Reasoning:    mv.Reasoning,
	}
	metrics.IncClassifierCall(string(v.Kind))
	return v
}

func (c *Classifier) unknown(reason string) Verdict {
	log.Warn().Str("reason", reason).Msg("classifier degraded to unknown verdict")
	metrics.IncClassifierCall(string(KindUnknown))
	return Verdict{Kind: KindUnknown, Reasoning: reason}
}

// SelectPage applies the fixed selection rule to content pages sorted
// ascending: non-fiction takes the first content page, fiction the second
// (or the only one). The second return is false when no page qualifies.
func SelectPage(kind Kind, contentPages []int) (int, bool) {
	switch {
	case kind == KindNonFiction && len(contentPages) >= 1:
		return contentPages[0], true
	case kind == KindFiction && len(contentPages) >= 2:
		return contentPages[1], true
	case kind == KindFiction && len(contentPages) == 1:
		return contentPages[0], true
	default:
		return 0, false
	}
}

func (c *Classifier) buildPrompt(pages []Page) string {
	summaries := make([]string, 0, len(pages))
	for i, p := range pages {
		preview := p.Text
		if runes := []rune(preview); len(runes) > c.previewChars {
			preview = string(runes[:c.previewChars]) + "..."
		}
		summaries = append(summaries, fmt.Sprintf("Page %d: %d characters\n%s", i+1, len([]rune(p.Text)), preview))
	}

	return fmt.Sprintf(`You are analyzing a book with %d extracted pages. Your task is to:

1. Identify which pages contain ACTUAL STORY CONTENT (not title pages, copyright, table of contents, forewords, introductions, etc.)
2. Classify the book as fiction or non-fiction
3. Select the appropriate page based on these rules:
   - If NON-FICTION: return the 1st actual content page
   - If FICTION: return the 2nd actual content page (or 1st if only one exists)

Here are all the pages:

%s

Respond with ONLY a JSON object in this exact format:
{
    "classification": "fiction" or "non-fiction",
    "content_pages": [list of page numbers that contain actual story/content, not front matter],
    "selected_page": page number to return based on the rules,
    "reasoning": "brief explanation of your selections"
}`, len(pages), strings.Join(summaries, "\n\n---\n\n"))
}

// StripFences removes a surrounding markdown code fence, with or without a
// json language tag, so the payload can be JSON-parsed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```json") {
		s = s[len("```json"):]
	} else if strings.HasPrefix(s, "```") {
		s = s[len("```"):]
	}
	if strings.HasSuffix(s, "```") {
		s = s[:len(s)-len("```")]
	}
	return strings.TrimSpace(s)
}

func parseKind(s string) Kind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fiction":
		return KindFiction
	case "non-fiction", "nonfiction", "non_fiction":
		return KindNonFiction
	default:
		return KindUnknown
	}
}

// mapOrdinals maps 1-based list positions from the model to real page
// numbers, dropping anything out of range. The result is sorted ascending
// and deduplicated.
func mapOrdinals(ordinals []int, pages []Page) []int {
	seen := make(map[int]bool, len(ordinals))
	var nums []int
	for _, ord := range ordinals {
		n := mapOrdinal(ord, pages)
		if n == 0 || seen[n] {
			continue
		}
		seen[n] = true
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}

func mapOrdinal(ord int, pages []Page) int {
	if ord < 1 || ord > len(pages) {
		return 0
	}
	return pages[ord-1].Number
}

func anyText(pages []Page) bool {
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
	}
	return false
}
