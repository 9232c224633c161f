// Package pdftext turns an uploaded PDF into plain reference text.
package pdftext

import (
	"fmt"
	"os/exec"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

// Extract returns the text content of the PDF at path.
// It prefers the system pdftotext tool (better layout and CJK support) and
// falls back to the pure-Go reader when the tool is missing or fails.
func Extract(path string) (string, error) {
	if text, err := extractWithPdftotext(path); err == nil && text != "" {
		return text, nil
	}
	return extractWithGoLib(path)
}

func extractWithPdftotext(path string) (string, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return "", fmt.Errorf("pdftotext not found: %w", err)
	}
	cmd := exec.Command("pdftotext", "-layout", "-enc", "UTF-8", path, "-")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("pdftotext failed: %w", err)
	}
	text := Normalize(string(output))
	if text == "" {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return text, nil
}

func extractWithGoLib(path string) (string, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing the whole upload.
			continue
		}
		if text = Normalize(text); text != "" {
			parts = append(parts, text)
		}
	}
	full := strings.TrimSpace(strings.Join(parts, "\n\n"))
	if full == "" {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return full, nil
}

// Normalize strips control and zero-width characters, collapses runs of
// spaces, trims each line, and squeezes blank-line runs down to one.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\uFEFF' || r == '​' || r == '⁠' || r == '­':
			// zero-width / soft-hyphen noise from extractors
		case r == ' ' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// drop (includes \r; \n handled above)
		default:
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
