package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// ChunkRow is the persisted shape of both parent and child chunks; child
// rows carry a non-nil ParentChunkID and ChildIndex, parent rows leave both
// nil/zero.
type ChunkRow struct {
	ID            string
	DocumentID    string
	ChunkIndex    int
	ChunkText     string
	CharStart     int
	CharEnd       int
	WordCount     int
	ParentChunkID *string
	ChildIndex    *int
}

// SaveChunks replaces every chunk belonging to a document: prior rows are
// deleted, then the full new set is bulk-inserted in one transaction. This
// mirrors the original's delete-then-insert pattern and gives reindexing its
// idempotence: re-running ingest for the same document always yields the
// same children (same deterministic ids), never duplicates.
func (s *Store) SaveChunks(ctx context.Context, documentID string, chunks []ChunkRow) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
		return err
	}

	rowsInput := make([][]any, len(chunks))
	for i, c := range chunks {
		rowsInput[i] = []any{
			c.ID, c.DocumentID, c.ChunkIndex, c.ChunkText, c.CharStart, c.CharEnd,
			c.WordCount, c.ParentChunkID, c.ChildIndex,
		}
	}

	if len(rowsInput) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"document_chunks"},
			[]string{"id", "document_id", "chunk_index", "chunk_text", "char_start", "char_end", "word_count", "parent_chunk_id", "child_index"},
			pgx.CopyFromRows(rowsInput),
		)
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE documents SET chunk_count = $1 WHERE id = $2`, len(chunks), documentID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetChunkByID looks up a single chunk row, used to resolve a BM25 search
// hit's chunk id back to its text and owning document.
func (s *Store) GetChunkByID(ctx context.Context, id string) (*ChunkRow, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT id, document_id, chunk_index, chunk_text, char_start, char_end, word_count, parent_chunk_id, child_index
		FROM document_chunks WHERE id = $1
	`, id)
	var c ChunkRow
	if err := row.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.ChunkText, &c.CharStart, &c.CharEnd, &c.WordCount, &c.ParentChunkID, &c.ChildIndex); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]ChunkRow, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, document_id, chunk_index, chunk_text, char_start, char_end, word_count, parent_chunk_id, child_index
		FROM document_chunks WHERE document_id = $1 ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ChunkRow
	for rows.Next() {
		var c ChunkRow
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.ChunkText, &c.CharStart, &c.CharEnd, &c.WordCount, &c.ParentChunkID, &c.ChildIndex); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
