package store

import "context"

// SaveSimilarity records a similarity score between two documents. The pair
// is canonicalized (lower id first) before writing so the same pair is
// never stored twice in both orders; a repeated computation updates the
// existing row in place.
func (s *Store) SaveSimilarity(ctx context.Context, docA, docB string, score float64) error {
	id1, id2 := docA, docB
	if id2 < id1 {
		id1, id2 = id2, id1
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO document_similarities (document_id_1, document_id_2, score, computed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (document_id_1, document_id_2) DO UPDATE SET score = EXCLUDED.score, computed_at = now()
	`, id1, id2, score)
	return err
}

type SimilarDocument struct {
	DocumentID string
	Score      float64
}

// GetSimilarDocuments returns the top-K documents most similar to the given
// one, considering rows in either canonical position.
func (s *Store) GetSimilarDocuments(ctx context.Context, documentID string, topK int) ([]SimilarDocument, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT CASE WHEN document_id_1 = $1 THEN document_id_2 ELSE document_id_1 END AS other_id, score
		FROM document_similarities
		WHERE document_id_1 = $1 OR document_id_2 = $1
		ORDER BY score DESC
		LIMIT $2
	`, documentID, topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SimilarDocument
	for rows.Next() {
		var sd SimilarDocument
		if err := rows.Scan(&sd.DocumentID, &sd.Score); err != nil {
			return nil, err
		}
		out = append(out, sd)
	}
	return out, rows.Err()
}
