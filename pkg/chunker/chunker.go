// Package chunker splits document text into parent and child chunks using
// a German-aware separator hierarchy, a direct port of the original's
// recursive splitting algorithm.
package chunker

import "strings"

// GermanSeparators is the ordered list of split points tried from most to
// least preferred: structural breaks first (triple/double newline, legal
// section markers), then a single newline, then sentence and clause
// punctuation. Carried over unchanged from the original as the default
// separator table.
var GermanSeparators = []string{
	"\n\n\n", "\n\n",
	"\n§ ", "\nArtikel ", "\nAbsatz ", "\nAnlage ", "\nAbschnitt ",
	"\n",
	". ", "! ", "? ", "; ", ", ",
}

// ParentChunk is a coarse section of a document, itself split into
// ChildChunks for embedding.
type ParentChunk struct {
	Index      int
	Text       string
	CharStart  int
	CharEnd    int
	WordCount  int
	TokenCount int
}

// ChildChunk is a fine-grained span within a single parent, the unit that
// is actually embedded and written to the vector store.
type ChildChunk struct {
	ParentIndex int
	ChildIndex  int
	GlobalIndex int
	Text        string
	CharStart   int
	CharEnd     int
	WordCount   int
}

// germanTokenRatio approximates German tokens per word for the
// token_count estimate; German compounds and inflection produce slightly
// more subword tokens per word than English on average.
const germanTokenRatio = 1.33

// Chunk splits text into a hierarchy of parent chunks (around parentSize
// words) and, within each, child chunks (around childSize words). The
// childOverlap parameter is accepted for interface compatibility with the
// original but is ignored: child chunks are contiguous, non-overlapping
// spans of their parent, and no text is repeated across chunk boundaries.
func Chunk(text string, parentSize, childSize, childOverlap int) ([]ParentChunk, []ChildChunk) {
	_ = childOverlap

	parentTexts := recursiveSplit(text, parentSize, GermanSeparators)

	var parents []ParentChunk
	var children []ChildChunk

	charOffset := 0
	globalIndex := 0

	for pIdx, pText := range parentTexts {
		start := strings.Index(text[charOffset:], pText)
		var charStart int
		if start < 0 {
			charStart = charOffset
		} else {
			charStart = charOffset + start
		}
		charEnd := charStart + len(pText)
		charOffset = charEnd

		wordCount := len(strings.Fields(pText))
		parents = append(parents, ParentChunk{
			Index:      pIdx,
			Text:       pText,
			CharStart:  charStart,
			CharEnd:    charEnd,
			WordCount:  wordCount,
			TokenCount: int(float64(wordCount) * germanTokenRatio),
		})

		childTexts := recursiveSplit(pText, childSize, GermanSeparators)
		childOffset := charStart
		for cIdx, cText := range childTexts {
			cStart := strings.Index(pText[childOffset-charStart:], cText)
			var absStart int
			if cStart < 0 {
				absStart = childOffset
			} else {
				absStart = childOffset + cStart
			}
			absEnd := absStart + len(cText)
			childOffset = absEnd

			children = append(children, ChildChunk{
				ParentIndex: pIdx,
				ChildIndex:  cIdx,
				GlobalIndex: globalIndex,
				Text:        cText,
				CharStart:   absStart,
				CharEnd:     absEnd,
				WordCount:   len(strings.Fields(cText)),
			})
			globalIndex++
		}
	}

	return parents, children
}

// recursiveSplit is a direct port of the original's _recursive_split: the
// base case returns the text whole once it is under maxWords; otherwise it
// splits on the first available separator and, if that separator produced
// only a single piece (i.e. it never occurs in the text), recurses into the
// remaining separator list against the whole text. Once split into multiple
// pieces, it greedily re-merges them, flushing into a new chunk whenever
// adding the next piece would exceed maxWords, and recursively
// sub-splitting any individual piece that alone exceeds maxWords.
func recursiveSplit(text string, maxWords int, separators []string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if len(strings.Fields(trimmed)) <= maxWords {
		return []string{trimmed}
	}

	if len(separators) == 0 {
		return hardSplitByWords(trimmed, maxWords)
	}

	sep := separators[0]
	parts := strings.Split(text, sep)
	if len(parts) <= 1 {
		return recursiveSplit(text, maxWords, separators[1:])
	}

	var chunks []string
	var current strings.Builder
	currentWords := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
			currentWords = 0
		}
	}

	for i, part := range parts {
		partWords := len(strings.Fields(part))

		if partWords > maxWords {
			flush()
			chunks = append(chunks, recursiveSplit(part, maxWords, separators[1:])...)
			continue
		}

		if currentWords+partWords > maxWords {
			flush()
		}

		if current.Len() > 0 {
			current.WriteString(sep)
		}
		current.WriteString(part)
		currentWords += partWords
		_ = i
	}
	flush()

	return chunks
}

func hardSplitByWords(text string, maxWords int) []string {
	words := strings.Fields(text)
	var chunks []string
	for i := 0; i < len(words); i += maxWords {
		end := i + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], " "))
	}
	return chunks
}
