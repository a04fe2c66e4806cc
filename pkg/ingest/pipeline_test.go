package ingest

import "testing"

func TestContentHashDeterministic(t *testing.T) {
	a := contentHash([]byte("hello world"))
	b := contentHash([]byte("hello world"))
	if a != b {
		t.Fatalf("contentHash not deterministic: %s != %s", a, b)
	}
	if a == contentHash([]byte("hello world!")) {
		t.Fatal("contentHash collided for different input")
	}
}

func TestFileHashVariesByPathAndSize(t *testing.T) {
	a := fileHash("report.pdf", 100)
	b := fileHash("report.pdf", 101)
	c := fileHash("other.pdf", 100)
	if a == b || a == c {
		t.Fatal("fileHash should vary with path or size")
	}
}

func TestMimeType(t *testing.T) {
	cases := map[string]string{
		"report.PDF":  "application/pdf",
		"notes.md":    "text/markdown",
		"letter.docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"data.bin":    "application/octet-stream",
	}
	for filename, want := range cases {
		if got := mimeType(filename); got != want {
			t.Errorf("mimeType(%q) = %q, want %q", filename, got, want)
		}
	}
}

func TestNonEmptyOr(t *testing.T) {
	if got := nonEmptyOr("", "fallback"); got != "fallback" {
		t.Errorf("nonEmptyOr empty = %q, want fallback", got)
	}
	if got := nonEmptyOr("  ", "fallback"); got != "fallback" {
		t.Errorf("nonEmptyOr whitespace = %q, want fallback", got)
	}
	if got := nonEmptyOr("Vertrag", "fallback"); got != "Vertrag" {
		t.Errorf("nonEmptyOr value = %q, want Vertrag", got)
	}
}

func TestCategoryConfidence(t *testing.T) {
	if got := categoryConfidence(defaultCategory); got != 0.3 {
		t.Errorf("categoryConfidence(default) = %v, want 0.3", got)
	}
	if got := categoryConfidence("Vertraege"); got != 0.7 {
		t.Errorf("categoryConfidence(specific) = %v, want 0.7", got)
	}
}

func TestPipelineDefaults(t *testing.T) {
	p := New(nil, nil, nil, nil, nil, nil, nil, nil, "documents", Config{})
	if p.cfg.MaxKeywords != 10 {
		t.Errorf("default MaxKeywords = %d, want 10", p.cfg.MaxKeywords)
	}
	if p.cfg.SimilarityTopK != 5 {
		t.Errorf("default SimilarityTopK = %d, want 5", p.cfg.SimilarityTopK)
	}
}
