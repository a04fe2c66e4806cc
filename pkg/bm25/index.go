// Package bm25 is a from-scratch inverted-index BM25 implementation. No Go
// BM25 or German-stemming library exists anywhere in the retrieved corpus
// (the original uses Python-only bm25s + PyStemmer); this package
// reproduces the original's behavioral contract — tokenize, score, persist
// index and id-mapping atomically, append-only incremental updates until an
// explicit rebuild — using the public BM25 scoring formula rather than any
// copied implementation.
package bm25

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

const (
	k1 = 1.5
	b  = 0.75
)

var tokenPattern = regexp.MustCompile(`\w+`)

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	return matches
}

// Index is an in-memory inverted index with disk persistence. Incremental
// additions only append to the id mapping; the postings themselves are
// rebuilt only by Rebuild, matching the original's explicit design choice
// that incremental appends do not update search results until the next
// rebuild.
type Index struct {
	mu       sync.RWMutex
	path     string
	chunkIDs []string
	postings map[string][]posting
	docLens  []int
	avgLen   float64
}

type posting struct {
	chunkIdx int
	termFreq int
}

func New(path string) *Index {
	idx := &Index{path: path, postings: make(map[string][]posting)}
	idx.loadFromDisk()
	return idx
}

// Rebuild recomputes the full inverted index from scratch over the given
// chunks, replacing the id mapping entirely, then persists both files.
func (idx *Index) Rebuild(chunks []Chunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.chunkIDs = make([]string, len(chunks))
	idx.postings = make(map[string][]posting)
	idx.docLens = make([]int, len(chunks))

	totalLen := 0
	for i, c := range chunks {
		idx.chunkIDs[i] = c.ID
		tokens := tokenize(c.Text)
		idx.docLens[i] = len(tokens)
		totalLen += len(tokens)

		freq := make(map[string]int)
		for _, t := range tokens {
			freq[t]++
		}
		for term, tf := range freq {
			idx.postings[term] = append(idx.postings[term], posting{chunkIdx: i, termFreq: tf})
		}
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(chunks))
	}

	return idx.saveToDisk()
}

// Chunk is the minimal shape Rebuild needs: an id and its searchable text.
type Chunk struct {
	ID   string
	Text string
}

// AddChunks appends new ids to the mapping only. It does not touch the
// inverted index or scores; a later Rebuild is required before these
// chunks become findable by Search. This mirrors the original's
// add_document_chunks, which does the same and relies on a periodic
// external rebuild trigger.
func (idx *Index) AddChunks(chunkIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.chunkIDs = append(idx.chunkIDs, chunkIDs...)
	return idx.saveChunkIDs()
}

type Result struct {
	ChunkID string
	Score   float64
}

// Search scores the query against the last-rebuilt index snapshot and
// returns the top-k matches with a positive score.
func (idx *Index) Search(query string, topK int) []Result {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.chunkIDs) == 0 || len(idx.postings) == 0 {
		return nil
	}

	n := float64(len(idx.chunkIDs))
	scores := make(map[int]float64)

	for _, term := range tokenize(query) {
		list, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(len(list))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for _, p := range list {
			docLen := float64(idx.docLens[p.chunkIdx])
			tf := float64(p.termFreq)
			denom := tf + k1*(1-b+b*docLen/idx.avgLen)
			scores[p.chunkIdx] += idf * (tf * (k1 + 1)) / denom
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkIdx, score := range scores {
		if score > 0 {
			results = append(results, Result{ChunkID: idx.chunkIDs[chunkIdx], Score: score})
		}
	}

	sortResultsDesc(results)
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

func sortResultsDesc(r []Result) {
	for i := 1; i < len(r); i++ {
		for j := i; j > 0 && r[j-1].Score < r[j].Score; j-- {
			r[j-1], r[j] = r[j], r[j-1]
		}
	}
}

// IsReady reports whether the index has anything searchable.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.postings) > 0 && len(idx.chunkIDs) > 0
}

func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.chunkIDs)
}

type onDiskIndex struct {
	ChunkIDs []string             `json:"chunk_ids"`
	Postings map[string][]posting `json:"postings"`
	DocLens  []int                `json:"doc_lens"`
	AvgLen   float64              `json:"avg_len"`
}

// saveToDisk writes the index atomically (write to a temp file, then
// rename) so a concurrent reader or a crash mid-write never observes a
// partially written index file.
func (idx *Index) saveToDisk() error {
	if err := os.MkdirAll(idx.path, 0o755); err != nil {
		return err
	}
	onDisk := onDiskIndex{ChunkIDs: idx.chunkIDs, Postings: idx.postings, DocLens: idx.docLens, AvgLen: idx.avgLen}
	data, err := json.Marshal(onDisk)
	if err != nil {
		return err
	}

	indexFile := filepath.Join(idx.path, "params.index.json")
	tmp := indexFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, indexFile); err != nil {
		return err
	}
	return idx.saveChunkIDs()
}

func (idx *Index) saveChunkIDs() error {
	if err := os.MkdirAll(idx.path, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(idx.chunkIDs)
	if err != nil {
		return err
	}
	metaFile := filepath.Join(idx.path, "chunk_ids.json")
	tmp := metaFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, metaFile)
}

func (idx *Index) loadFromDisk() {
	indexFile := filepath.Join(idx.path, "params.index.json")
	metaFile := filepath.Join(idx.path, "chunk_ids.json")

	indexData, err := os.ReadFile(indexFile)
	if err != nil {
		return
	}
	metaData, err := os.ReadFile(metaFile)
	if err != nil {
		return
	}

	var onDisk onDiskIndex
	if err := json.Unmarshal(indexData, &onDisk); err != nil {
		return
	}
	var ids []string
	if err := json.Unmarshal(metaData, &ids); err != nil {
		return
	}

	idx.chunkIDs = ids
	idx.postings = onDisk.Postings
	idx.docLens = onDisk.DocLens
	idx.avgLen = onDisk.AvgLen
}
