package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/classify"
	"github.com/local/bookfetcher/internal/metrics"
	"github.com/local/bookfetcher/internal/ocr"
)

// Classifier produces a verdict over the pages recognized so far.
// *classify.Classifier satisfies it.
type Classifier interface {
	Classify(ctx context.Context, pages []classify.Page) classify.Verdict
}

// Options tune a session. Zero values fall back to the defaults of the
// observed extraction flow.
type Options struct {
	// MaxPages caps the number of preview pages captured.
	MaxPages int
	// CheckInterval is the early-stop cadence: a classifier checkpoint runs
	// after every CheckInterval-th successfully captured page.
	CheckInterval int
	// MinAnalysisPages is the minimum number of OCR'd pages required before
	// a checkpoint verdict is attempted.
	MinAnalysisPages int
	// OCRConcurrency bounds the number of concurrent OCR runs.
	OCRConcurrency int
	// Progress, when set, receives step updates.
	Progress ProgressFunc
}

func (o *Options) defaults() {
	if o.MaxPages <= 0 {
		o.MaxPages = 18
	}
	if o.CheckInterval <= 0 {
		o.CheckInterval = 3
	}
	if o.MinAnalysisPages <= 0 {
		o.MinAnalysisPages = 3
	}
	if o.OCRConcurrency <= 0 {
		o.OCRConcurrency = 4
	}
}

// Coordinator orchestrates one extraction session: sequential page capture,
// concurrent per-page OCR, periodic early-stop checkpoints, and a final
// classification over the complete sorted page set.
type Coordinator struct {
	capturer   Capturer
	engine     ocr.Engine
	classifier Classifier
	opts       Options
}

func New(capturer Capturer, engine ocr.Engine, classifier Classifier, opts Options) *Coordinator {
	opts.defaults()
	return &Coordinator{capturer: capturer, engine: engine, classifier: classifier, opts: opts}
}

// ocrTask is one in-flight OCR unit. done is closed exactly once, after
// which text is immutable.
type ocrTask struct {
	pageNumber int
	imagePath  string
	done       chan struct{}
	text       PageText
}

// Run drives the session to completion and always returns a Result.
func (c *Coordinator) Run(ctx context.Context) Result {
	sem := make(chan struct{}, c.opts.OCRConcurrency)

	var (
		tasks        []*ocrTask
		imagePaths   = make(map[int]string)
		captured     int
		highest      int
		stoppedEarly bool
		lastErr      error
	)

capture:
	for pageNum := 1; pageNum <= c.opts.MaxPages; pageNum++ {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}

		pc, err := c.capturer.CapturePage(ctx, pageNum)
		if err != nil {
			// Per-page capture failure is non-fatal: skip and move on.
			lastErr = err
			metrics.IncPageCaptured("failed")
			log.Warn().Err(err).Int("page", pageNum).Msg("page capture failed, continuing")
			if pageNum < c.opts.MaxPages {
				if nerr := c.capturer.NavigateNext(ctx); nerr != nil {
					log.Warn().Err(nerr).Int("page", pageNum).Msg("navigation failed")
				}
			}
			continue
		}

		captured++
		highest = pageNum
		imagePaths[pageNum] = pc.ImagePath
		tasks = append(tasks, c.dispatchOCR(ctx, sem, pc))
		metrics.IncPageCaptured("success")
		c.progress(fmt.Sprintf("page_%d", pageNum), fmt.Sprintf("Captured page %d", pageNum))

		// Early-stop checkpoint after every CheckInterval-th page, once
		// enough pages exist to reason about.
		if pageNum >= c.opts.MinAnalysisPages && pageNum%c.opts.CheckInterval == 0 {
			pages := c.await(ctx, tasks)
			if len(pages) >= c.opts.MinAnalysisPages {
				verdict := c.classifier.Classify(ctx, toClassifyPages(pages))
				if verdict.SelectedPage != 0 && verdict.SelectedPage <= highest {
					log.Info().
						Int("target_page", verdict.SelectedPage).
						Str("classification", string(verdict.Kind)).
						Int("after_pages", pageNum).
						Msg("early stop: target page already captured")
					c.progress("early_stop", fmt.Sprintf("Found target page %d for %s, stopping extraction", verdict.SelectedPage, verdict.Kind))
					stoppedEarly = true
					metrics.IncEarlyStop()
					break capture
				}
			}
		}

		if pageNum < c.opts.MaxPages {
			if err := c.capturer.NavigateNext(ctx); err != nil {
				log.Warn().Err(err).Int("page", pageNum).Msg("navigation failed")
			}
		}
	}

	// Finalizing: await every dispatched OCR task, merge sorted, classify
	// the complete set. This verdict supersedes any checkpoint verdict.
	pages := c.await(ctx, tasks)

	if captured == 0 {
		msg := "no pages captured"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		metrics.IncSession("failed")
		return Result{Success: false, Error: msg, SelectedPage: nil, SelectedText: nil}
	}

	c.progress("analysis", fmt.Sprintf("Analyzing %d extracted pages", len(pages)))
	verdict := c.classifier.Classify(ctx, toClassifyPages(pages))

	res := Result{
		Success:        true,
		PagesExtracted: captured,
		Classification: string(verdict.Kind),
		ContentPages:   verdict.ContentPages,
		Reasoning:      verdict.Reasoning,
		AllPages:       pages,
		StoppedEarly:   stoppedEarly,
	}
	if verdict.SelectedPage != 0 {
		selected := verdict.SelectedPage
		res.SelectedPage = &selected
		for i := range pages {
			if pages[i].PageNumber == selected {
				res.SelectedText = &pages[i].Text
				break
			}
		}
		if path, ok := imagePaths[selected]; ok {
			name := filepath.Base(path)
			res.SelectedFile = &name
			res.SelectedImagePath = path
		}
	}
	metrics.IncSession("success")
	return res
}

// dispatchOCR starts one OCR task for a captured page. The task never fails
// the session: any engine error yields an empty-text PageText.
func (c *Coordinator) dispatchOCR(ctx context.Context, sem chan struct{}, pc PageCapture) *ocrTask {
	t := &ocrTask{pageNumber: pc.PageNumber, imagePath: pc.ImagePath, done: make(chan struct{})}
	go func() {
		defer close(t.done)
		sem <- struct{}{}
		defer func() { <-sem }()

		start := time.Now()
		raw, err := c.engine.Recognize(ctx, pc.ImagePath)
		metrics.ObserveOCR(time.Since(start))
		if err != nil {
			metrics.IncOCRFailure()
			log.Warn().Err(err).Int("page", pc.PageNumber).Msg("ocr failed, using empty text")
			raw = ""
		}
		cleaned := ocr.CleanText(raw)
		t.text = PageText{
			PageNumber: pc.PageNumber,
			Raw:        raw,
			Text:       cleaned,
			Length:     len([]rune(cleaned)),
		}
	}()
	return t
}

// await blocks until every given task has finished (or the context is
// cancelled, in which case only finished tasks are included) and returns
// their texts sorted by page number. Completion order is unrelated to
// dispatch order, hence the sort.
func (c *Coordinator) await(ctx context.Context, tasks []*ocrTask) []PageText {
	out := make([]PageText, 0, len(tasks))
	for _, t := range tasks {
		select {
		case <-t.done:
			out = append(out, t.text)
		case <-ctx.Done():
			select {
			case <-t.done:
				out = append(out, t.text)
			default:
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageNumber < out[j].PageNumber })
	return out
}

func (c *Coordinator) progress(step, description string) {
	if c.opts.Progress != nil {
		c.opts.Progress(step, description)
	}
}

func toClassifyPages(pages []PageText) []classify.Page {
	out := make([]classify.Page, len(pages))
	for i, p := range pages {
		out[i] = classify.Page{Number: p.PageNumber, Text: p.Text}
	}
	return out
}
