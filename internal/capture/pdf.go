package capture

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"

	"github.com/local/bookfetcher/internal/extract"
)

const renderDPI = 150

// PDF renders pages of a local or downloaded preview PDF straight to PNG,
// bypassing browser automation entirely.
type PDF struct {
	doc       *fitz.Document
	outputDir string
	pageCount int
	localPath string
	tempFile  string
}

// OpenPDF resolves ref (filesystem path, file:// or http(s):// URL), verifies
// it parses as a PDF and prepares it for page rendering into outputDir.
func OpenPDF(ctx context.Context, ref, outputDir string) (*PDF, error) {
	if i := strings.Index(ref, "#"); i >= 0 {
		ref = ref[:i]
	}

	var localPath, tempFile string
	var err error
	switch {
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		localPath, err = downloadToTemp(ctx, ref)
		tempFile = localPath
	case strings.HasPrefix(ref, "file://"):
		localPath = strings.TrimPrefix(ref, "file://")
	default:
		localPath = ref
	}
	if err != nil {
		return nil, err
	}

	cleanup := func() {
		if tempFile != "" {
			os.Remove(tempFile)
		}
	}

	// pdfcpu validates the file before mupdf touches it.
	pageCount, err := api.PageCountFile(localPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("pdf page count failed: %w", err)
	}

	doc, err := fitz.New(localPath)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		doc.Close()
		cleanup()
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	log.Info().Str("pdf", filepath.Base(localPath)).Int("pages", pageCount).Msg("opened preview PDF")
	return &PDF{doc: doc, outputDir: outputDir, pageCount: pageCount, localPath: localPath, tempFile: tempFile}, nil
}

// PageCount returns the number of pages in the document.
func (p *PDF) PageCount() int { return p.pageCount }

// CapturePage renders one page to PNG in the session output directory.
func (p *PDF) CapturePage(ctx context.Context, pageNumber int) (extract.PageCapture, error) {
	if err := ctx.Err(); err != nil {
		return extract.PageCapture{}, err
	}
	if pageNumber < 1 || pageNumber > p.pageCount {
		return extract.PageCapture{}, fmt.Errorf("page %d out of range (document has %d pages)", pageNumber, p.pageCount)
	}

	// go-fitz uses 0-based indexing
	img, err := p.doc.ImageDPI(pageNumber-1, renderDPI)
	if err != nil {
		return extract.PageCapture{}, fmt.Errorf("failed to render page %d: %w", pageNumber, err)
	}

	outPath := filepath.Join(p.outputDir, fmt.Sprintf("page_%d.png", pageNumber))
	f, err := os.Create(outPath)
	if err != nil {
		return extract.PageCapture{}, fmt.Errorf("failed to create image file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(outPath)
		return extract.PageCapture{}, fmt.Errorf("failed to encode page %d: %w", pageNumber, err)
	}
	if err := f.Close(); err != nil {
		return extract.PageCapture{}, err
	}
	return extract.PageCapture{PageNumber: pageNumber, ImagePath: outPath}, nil
}

// NavigateNext is a no-op for PDFs: every page is addressable directly.
func (p *PDF) NavigateNext(_ context.Context) error { return nil }

// Close releases the document and any downloaded temp file.
func (p *PDF) Close() error {
	err := p.doc.Close()
	if p.tempFile != "" {
		os.Remove(p.tempFile)
	}
	return err
}

func downloadToTemp(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pdf download failed: http %d", resp.StatusCode)
	}

	f, err := os.CreateTemp("", "preview-*.pdf")
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
