// Package analysis provides the TF-based fallbacks used when AI analysis
// is disabled or fails validation: word-count language detection and
// simple term-frequency keyword extraction, both direct ports of the
// original's heuristics.
package analysis

import (
	"regexp"
	"sort"
	"strings"
)

var germanIndicators = []string{
	"und", "der", "die", "das", "ist", "ein", "eine", "für", "mit",
	"auf", "werden", "wird", "kann", "auch", "nicht", "sind", "haben",
}

var englishIndicators = []string{
	"the", "and", "is", "are", "for", "with", "can", "also",
	"not", "have", "this", "that", "from", "will", "would",
}

// DetectLanguage returns "de" or "en" by counting how many of each
// language's indicator words appear (each counted once); ties and the no-evidence case both default to German, the
// appliance's primary deployment language.
func DetectLanguage(text string) string {
	padded := " " + strings.ToLower(text) + " "

	count := func(words []string) int {
		n := 0
		for _, w := range words {
			if strings.Contains(padded, " "+w+" ") {
				n++
			}
		}
		return n
	}

	german := count(germanIndicators)
	english := count(englishIndicators)
	if english > german {
		return "en"
	}
	return "de"
}

var topicTokenPattern = regexp.MustCompile(`\b[a-zäöüß]{4,}\b`)

var stopwords = buildStopwords()

func buildStopwords() map[string]bool {
	words := []string{
		"und", "der", "die", "das", "ist", "ein", "eine", "für", "mit", "auf",
		"werden", "wird", "kann", "auch", "nicht", "sind", "haben", "oder", "von",
		"zu", "an", "bei", "nach", "aus", "wenn", "als", "wie", "so", "es",
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
		"of", "with", "by", "from", "is", "are", "was", "were", "be", "been",
		"being", "have", "has", "had", "do", "does", "did", "will", "would",
		"could", "should", "may", "might", "must", "shall", "can", "this", "that",
	}
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}

// ExtractKeyTopics returns up to maxTopics lowercase words ranked by raw
// frequency after stopword removal, a cheap substitute for AI-generated
// keywords when AI analysis is disabled or unavailable.
func ExtractKeyTopics(text string, maxTopics int) []string {
	matches := topicTokenPattern.FindAllString(strings.ToLower(text), -1)

	freq := make(map[string]int)
	for _, w := range matches {
		if stopwords[w] {
			continue
		}
		freq[w]++
	}

	type pair struct {
		word  string
		count int
	}
	pairs := make([]pair, 0, len(freq))
	for w, c := range freq {
		pairs = append(pairs, pair{w, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].word < pairs[j].word
	})

	if len(pairs) > maxTopics {
		pairs = pairs[:maxTopics]
	}
	topics := make([]string, len(pairs))
	for i, p := range pairs {
		topics[i] = p.word
	}
	return topics
}
