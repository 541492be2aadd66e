package extract

import "context"

// PageCapture is one browser-rendered page image, produced by the capture
// collaborator. ImagePath is written once and never mutated.
type PageCapture struct {
	PageNumber int
	ImagePath  string
}

// PageText is the OCR result for one captured page. Text is the cleaned
// text used for all downstream reasoning; Raw is kept for diagnostics only.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Raw        string `json:"-"`
	Text       string `json:"text"`
	Length     int    `json:"text_length"`
}

// Result is the session outcome. A session always yields a Result: "no
// content found" is Success true with a nil SelectedText, distinct from
// Success false (total capture failure).
type Result struct {
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
	PagesExtracted int        `json:"pages_extracted"`
	Classification string     `json:"classification,omitempty"`
	ContentPages   []int      `json:"content_pages,omitempty"`
	SelectedPage   *int       `json:"selected_page_number"`
	Reasoning      string     `json:"reasoning,omitempty"`
	SelectedText   *string    `json:"selected_page_content"`
	SelectedFile   *string    `json:"selected_page_filename,omitempty"`
	AllPages       []PageText `json:"all_pages,omitempty"`
	StoppedEarly   bool       `json:"stopped_early,omitempty"`

	// SelectedImagePath is the on-disk path of the selected page image,
	// for archival. Not part of the wire result.
	SelectedImagePath string `json:"-"`
}

// Capturer is the external page-capture collaborator. One capturer drives
// one browser page object, so calls are strictly sequential; the
// coordinator never invokes it from two goroutines.
type Capturer interface {
	// CapturePage renders the current page to an image file and returns
	// its capture record. pageNumber is assigned by the coordinator.
	CapturePage(ctx context.Context, pageNumber int) (PageCapture, error)
	// NavigateNext advances the reader to the next page.
	NavigateNext(ctx context.Context) error
}

// ProgressFunc receives step updates the session store can record.
type ProgressFunc func(step, description string)
