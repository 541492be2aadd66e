package ocr

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	// Runs of base64-looking characters: encoding artifacts, not prose.
	base64LineRe = regexp.MustCompile(`^[A-Za-z0-9+/=]{20,}$`)

	// Lines made of digits, whitespace and bare symbols only.
	symbolLineRe = regexp.MustCompile(`^[0-9\s\-_+=.,;:!@#$%^&*()]{5,}$`)
)

// watermarkFragments are substrings of known reader-overlay artifacts that
// tesseract picks up from preview vendor chrome.
var watermarkFragments = []string{
	"ogle Books",
	"nd enjoy eslr access to your favor estos",
	"Powered by Google Books API",
	"This downloads and extracts text from Google Books PDF previews",
}

// CleanText strips OCR noise from raw recognized text. It is pure and
// deterministic; running it over its own output is a no-op. Empty input
// yields empty output.
//
// Lines are judged independently and dropped on the first matching rule:
// empty after trimming, base64-like runs, low readable-character ratio,
// too short, digit/symbol-only, or containing a known watermark fragment.
func CleanText(raw string) string {
	if raw == "" {
		return ""
	}

	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if base64LineRe.MatchString(line) {
			continue
		}
		if runes := []rune(line); len(runes) > 10 {
			readable := 0
			for _, r := range runes {
				if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
					readable++
				}
			}
			if float64(readable)/float64(len(runes)) < 0.7 {
				continue
			}
		}
		if len([]rune(line)) < 3 {
			continue
		}
		if symbolLineRe.MatchString(line) {
			continue
		}
		if containsWatermark(line) {
			continue
		}
		kept = append(kept, line)
	}

	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func containsWatermark(line string) bool {
	for _, frag := range watermarkFragments {
		if strings.Contains(line, frag) {
			return true
		}
	}
	return false
}
