package ocr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Engine recognizes text from a page image.
type Engine interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
	Available() bool
}

// Tesseract runs the tesseract CLI in stdout mode.
type Tesseract struct {
	binary   string
	language string
}

// NewTesseract locates the tesseract binary. The engine still constructs if
// the binary is missing; Available reports false and every Recognize call
// fails, which callers treat as a degraded-mode condition.
func NewTesseract(language string) *Tesseract {
	if language == "" {
		language = "eng"
	}
	path, _ := exec.LookPath("tesseract")
	if path == "" {
		path = "tesseract"
	}
	return &Tesseract{binary: path, language: language}
}

func (t *Tesseract) Available() bool {
	cmd := exec.Command(t.binary, "--version")
	return cmd.Run() == nil
}

func (t *Tesseract) Recognize(ctx context.Context, imagePath string) (string, error) {
	cmd := exec.CommandContext(ctx, t.binary, imagePath, "stdout", "-l", t.language)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract ocr: %w", err)
	}
	return strings.TrimSpace(string(output)), nil
}
