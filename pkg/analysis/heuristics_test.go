package analysis

import (
	"reflect"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"german", "Der Vertrag wird am Montag unterzeichnet und ist gueltig.", "de"},
		{"english", "The contract is signed on Monday and will be valid.", "en"},
		{"empty defaults german", "", "de"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DetectLanguage(c.text); got != c.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", c.text, got, c.want)
			}
		})
	}
}

func TestExtractKeyTopics(t *testing.T) {
	text := "Vertrag Vertrag Vertrag Kunde Kunde Lieferung"
	got := ExtractKeyTopics(text, 2)
	want := []string{"vertrag", "kunde"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractKeyTopics = %v, want %v", got, want)
	}
}

func TestExtractKeyTopicsDropsStopwords(t *testing.T) {
	got := ExtractKeyTopics("und oder nicht Rechnung Rechnung", 5)
	for _, w := range got {
		if w == "und" || w == "oder" || w == "nicht" {
			t.Errorf("ExtractKeyTopics should drop stopword %q", w)
		}
	}
	if len(got) == 0 || got[0] != "rechnung" {
		t.Errorf("ExtractKeyTopics = %v, want top word rechnung", got)
	}
}

func TestExtractKeyTopicsRespectsMax(t *testing.T) {
	got := ExtractKeyTopics("alpha beta gamma delta epsilon zeta eta theta", 3)
	if len(got) != 3 {
		t.Errorf("len(ExtractKeyTopics) = %d, want 3", len(got))
	}
}
