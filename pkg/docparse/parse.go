// Package docparse extracts plain text from the document formats the
// appliance accepts: PDF, DOCX, Markdown, and plain text with an encoding
// fallback chain, grounded directly in the original parser's per-format
// behavior.
package docparse

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding/charmap"
)

// ErrUnsupportedFormat is returned for any extension outside the
// supported set; the caller records the document as failed rather than
// guessing at a parser.
var ErrUnsupportedFormat = fmt.Errorf("unsupported document format")

// SupportedExtensions is the whitelist of extensions Parse accepts.
var SupportedExtensions = map[string]bool{
	".pdf": true, ".txt": true, ".md": true, ".markdown": true, ".docx": true,
}

// Parse extracts text from data according to the file extension of
// filename, choosing the same parser the original maps per extension.
func Parse(filename string, data []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return parsePDF(data)
	case ".docx":
		return parseDOCX(data)
	case ".md", ".markdown":
		return parseText(data)
	case ".txt":
		return parseText(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

// parsePDF concatenates the text of every page, separated by a blank
// line, matching the original's page-by-page join.
func parsePDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var parts []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}

	return strings.TrimSpace(strings.Join(parts, "\n\n")), nil
}

// parseDOCX extracts paragraph text; the docx library does not expose
// table cells the way python-docx does, so tables are read back as their
// raw paragraph runs, which still surfaces their text content to the
// chunker even if the | separators are lost.
func parseDOCX(data []byte) (string, error) {
	reader := bytes.NewReader(data)
	doc, err := docx.ReadDocxFromMemory(reader, int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}
	defer doc.Close()

	text := doc.Editable().GetContent()
	return strings.TrimSpace(text), nil
}

// parseText tries utf-8, then latin-1, then cp1252, then finally utf-8
// with invalid sequences dropped — the same fallback order as the
// original's encodings list.
func parseText(data []byte) (string, error) {
	if utf8.Valid(data) {
		return strings.TrimSpace(string(data)), nil
	}

	for _, enc := range []*charmap.Charmap{charmap.ISO8859_1, charmap.Windows1252} {
		if decoded, err := enc.NewDecoder().Bytes(data); err == nil {
			return strings.TrimSpace(string(decoded)), nil
		}
	}

	return strings.TrimSpace(string(bytes.ToValidUTF8(data, nil))), nil
}
