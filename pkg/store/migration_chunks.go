package store

import "context"

// MigrationChunk is a chunk row joined with just enough document metadata
// to rebuild its vector-store payload during an embedding migration.
type MigrationChunk struct {
	ID            string
	DocumentID    string
	ChunkIndex    int
	ChunkText     string
	ParentChunkID *string
	ChildIndex    *int
	DocumentName  string
	SpaceID       string
	CategoryName  string
}

// CountChunks returns the total number of chunks belonging to
// non-deleted documents, the denominator a migration run reports progress
// against.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		WHERE d.deleted_at IS NULL
	`).Scan(&count)
	return count, err
}

// FetchChunkBatch returns one page of chunks ordered the same way on every
// call (document_id, chunk_index), so repeated calls at the same offset
// after a resume return the identical set a fresh run would have produced.
func (s *Store) FetchChunkBatch(ctx context.Context, offset, limit int) ([]MigrationChunk, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT
			dc.id, dc.document_id, dc.chunk_index, dc.chunk_text, dc.parent_chunk_id, dc.child_index,
			d.filename, COALESCE(d.space_id, ''), COALESCE(cat.name, 'Allgemein')
		FROM document_chunks dc
		JOIN documents d ON dc.document_id = d.id
		LEFT JOIN document_categories cat ON d.category_id = cat.id
		WHERE d.deleted_at IS NULL
		ORDER BY dc.document_id, dc.chunk_index
		OFFSET $1 LIMIT $2
	`, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MigrationChunk
	for rows.Next() {
		var c MigrationChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.ChunkText, &c.ParentChunkID, &c.ChildIndex,
			&c.DocumentName, &c.SpaceID, &c.CategoryName); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
