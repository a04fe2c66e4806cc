package docparse

import (
	"errors"
	"testing"
)

func TestParseUnsupportedExtension(t *testing.T) {
	_, err := Parse("archive.zip", []byte("data"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("Parse(.zip) err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestParseTextUTF8(t *testing.T) {
	text, err := parseText([]byte("  Rechnung ueber 100 Euro  "))
	if err != nil {
		t.Fatalf("parseText: %v", err)
	}
	if text != "Rechnung ueber 100 Euro" {
		t.Errorf("parseText = %q, want trimmed text", text)
	}
}

func TestParseTextLatin1Fallback(t *testing.T) {
	// 0xFC is ü in both Latin-1 and Windows-1252, and is not valid standalone UTF-8.
	data := []byte{'G', 'r', 0xFC, 0xDF, 'e'}
	text, err := parseText(data)
	if err != nil {
		t.Fatalf("parseText: %v", err)
	}
	if text == "" {
		t.Error("parseText should have recovered text via an encoding fallback")
	}
}

func TestParseDispatchesByExtension(t *testing.T) {
	for _, ext := range []string{".txt", ".md", ".markdown"} {
		if _, err := Parse("file"+ext, []byte("hello")); err != nil {
			t.Errorf("Parse(%q) = %v, want no error", ext, err)
		}
	}
}

func TestSupportedExtensions(t *testing.T) {
	for _, ext := range []string{".pdf", ".txt", ".md", ".markdown", ".docx"} {
		if !SupportedExtensions[ext] {
			t.Errorf("SupportedExtensions missing %q", ext)
		}
	}
	if SupportedExtensions[".exe"] {
		t.Error("SupportedExtensions should not include .exe")
	}
}
