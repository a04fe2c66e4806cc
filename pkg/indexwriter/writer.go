// Package indexwriter fans a chunked document out to every index that
// backs retrieval: the relational chunk table, the vector store, and the
// BM25 keyword index. All three must agree on chunk ids, so ids are
// derived deterministically from the document id and chunk position
// rather than randomly generated, making a re-run of the same document
// idempotent across all three stores.
package indexwriter

import (
	"context"
	"crypto/sha1"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/aegis/pkg/bm25"
	"github.com/cuemby/aegis/pkg/chunker"
	"github.com/cuemby/aegis/pkg/embedclient"
	"github.com/cuemby/aegis/pkg/log"
	"github.com/cuemby/aegis/pkg/store"
	"github.com/cuemby/aegis/pkg/vectorstore"
)

// payloadTextLimit bounds the payload's "text" preview field, matching §3's
// bit-exact vector payload contract exactly.
const payloadTextLimit = 500

const embedBatchSize = 32

// Writer owns the three downstream indexes a document's children are
// written to and performs the fan-out in the fixed order the retrieval
// path depends on: relational rows first (so a document is always
// queryable even if the vector upsert fails), then vectors, then the
// keyword index.
type Writer struct {
	st         *store.Store
	vectors    *vectorstore.Client
	embed      *embedclient.Client
	bm25Index  *bm25.Index
	collection string
}

func New(st *store.Store, vectors *vectorstore.Client, embed *embedclient.Client, bm25Index *bm25.Index, collection string) *Writer {
	return &Writer{st: st, vectors: vectors, embed: embed, bm25Index: bm25Index, collection: collection}
}

// chunkID derives a stable UUID (v5, namespace = document id) from the
// document id and the chunk's position, so re-ingesting the same document
// produces the exact same chunk and point ids instead of orphaning the
// previous generation's rows and vectors.
func chunkID(documentID string, parentIndex, childIndex int) string {
	ns, err := uuid.Parse(documentID)
	if err != nil {
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID))
	}
	name := fmt.Sprintf("%d:%d", parentIndex, childIndex)
	return uuid.NewSHA1(ns, []byte(name)).String()
}

// contentHash is the SHA-1 hex digest of a child chunk's text, stored in
// its vector payload as content_hash. The embedding migration does not
// read it; its swap step compares point counts only.
func contentHash(text string) string {
	sum := sha1.Sum([]byte(text))
	return fmt.Sprintf("%x", sum)
}

// Write persists every parent and child chunk for a document: relational
// rows for both, embeddings and vector upserts for children only (parents
// are never directly searched), and a BM25 id-mapping append. It returns
// the number of child chunks written, which the caller persists back onto
// the document row as chunk_count.
func (w *Writer) Write(ctx context.Context, documentID string, parents []chunker.ParentChunk, children []chunker.ChildChunk, metadata map[string]any) (int, error) {
	logger := log.WithDocumentID(documentID)

	rows := make([]store.ChunkRow, 0, len(parents)+len(children))
	parentIDs := make(map[int]string, len(parents))

	for _, p := range parents {
		id := chunkID(documentID, p.Index, -1)
		parentIDs[p.Index] = id
		rows = append(rows, store.ChunkRow{
			ID:         id,
			DocumentID: documentID,
			ChunkIndex: p.Index,
			ChunkText:  p.Text,
			CharStart:  p.CharStart,
			CharEnd:    p.CharEnd,
			WordCount:  p.WordCount,
		})
	}

	childIDs := make([]string, len(children))
	for i, c := range children {
		id := chunkID(documentID, c.ParentIndex, c.ChildIndex)
		childIDs[i] = id
		parentID := parentIDs[c.ParentIndex]
		childIndex := c.ChildIndex
		rows = append(rows, store.ChunkRow{
			ID:            id,
			DocumentID:    documentID,
			ChunkIndex:    c.GlobalIndex,
			ChunkText:     c.Text,
			CharStart:     c.CharStart,
			CharEnd:       c.CharEnd,
			WordCount:     c.WordCount,
			ParentChunkID: &parentID,
			ChildIndex:    &childIndex,
		})
	}

	if err := w.st.SaveChunks(ctx, documentID, rows); err != nil {
		return 0, fmt.Errorf("save chunk rows: %w", err)
	}

	indexedAt := time.Now().UTC()
	if err := w.embedAndUpsert(ctx, documentID, children, childIDs, parentIDs, metadata, indexedAt); err != nil {
		return 0, fmt.Errorf("embed and upsert children: %w", err)
	}

	if len(childIDs) > 0 {
		if err := w.bm25Index.AddChunks(childIDs); err != nil {
			logger.Warn().Err(err).Msg("bm25 incremental add failed, search index will lag until next rebuild")
		}
	}

	logger.Info().Int("parents", len(parents)).Int("children", len(children)).Msg("document indexed")
	return len(children), nil
}

// embedAndUpsert builds the bit-exact vector payload contract for every
// child chunk and upserts it in embedBatchSize batches. parentIDs maps a
// parent chunk's index to its own chunk id, so each point can carry its
// parent's id without a second round trip to the relational store.
func (w *Writer) embedAndUpsert(ctx context.Context, documentID string, children []chunker.ChildChunk, childIDs []string, parentIDs map[int]string, metadata map[string]any, indexedAt time.Time) error {
	totalChunks := len(children)

	for start := 0; start < len(children); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(children) {
			end = len(children)
		}
		batch := children[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := w.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding server returned %d vectors for %d texts", len(vectors), len(batch))
		}

		points := make([]vectorstore.Point, len(batch))
		for i, c := range batch {
			payload := map[string]any{
				"document_id":     documentID,
				"parent_index":    c.ParentIndex,
				"parent_chunk_id": parentIDs[c.ParentIndex],
				"child_index":     c.ChildIndex,
				"chunk_index":     c.GlobalIndex,
				"total_chunks":    totalChunks,
				"text":            truncateText(c.Text, payloadTextLimit),
				"indexed_at":      indexedAt,
				"content_hash":    contentHash(c.Text),
			}
			for k, v := range metadata {
				payload[k] = v
			}
			if spaceID, ok := payload["space_id"]; ok {
				// No spaces table backs this schema (see pkg/migration's
				// SpacesOnly no-op); the space's own id is the only
				// identifier available, so it stands in for both name and
				// slug rather than leaving the contract's keys absent.
				if _, ok := payload["space_name"]; !ok {
					payload["space_name"] = spaceID
				}
				if _, ok := payload["space_slug"]; !ok {
					payload["space_slug"] = spaceID
				}
			}
			points[i] = vectorstore.Point{
				ID:      childIDs[start+i],
				Vector:  vectors[i],
				Payload: payload,
			}
		}

		if err := w.vectors.Upsert(ctx, w.collection, points); err != nil {
			return err
		}
	}
	return nil
}

// truncateText enforces the payload's text-preview length cap, matching
// §3's bit-exact vector payload contract exactly. Runes, not bytes, so a
// multi-byte character (the German text pkg/analysis detects) is never
// split in half.
func truncateText(text string, limit int) string {
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// Delete removes a document's vectors and leaves the relational
// tombstone in place; the BM25 index only loses the document on its next
// full rebuild, matching the append-only incremental path.
func (w *Writer) Delete(ctx context.Context, documentID string) error {
	return w.vectors.DeleteByDocument(ctx, w.collection, documentID)
}

// RebuildBM25 replaces the keyword index's postings with a fresh
// computation over every indexed chunk, the periodic maintenance
// operation that makes incrementally added chunks actually searchable.
func (w *Writer) RebuildBM25(ctx context.Context, documentIDs []string) error {
	var chunks []bm25.Chunk
	for _, docID := range documentIDs {
		rows, err := w.st.GetChunksByDocument(ctx, docID)
		if err != nil {
			return fmt.Errorf("load chunks for document %s: %w", docID, err)
		}
		for _, r := range rows {
			if r.ParentChunkID == nil {
				continue
			}
			chunks = append(chunks, bm25.Chunk{ID: r.ID, Text: r.ChunkText})
		}
	}
	return w.bm25Index.Rebuild(chunks)
}
