package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type QueueItem struct {
	ID         int64
	DocumentID string
}

func (s *Store) AddToQueue(ctx context.Context, documentID string) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO document_processing_queue (document_id, status) VALUES ($1, 'queued')
	`, documentID)
	return err
}

// GetNextQueueItem dequeues the oldest queued item, using SKIP LOCKED so
// concurrent scans never block on or double-claim the same row.
func (s *Store) GetNextQueueItem(ctx context.Context) (*QueueItem, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var item QueueItem
	err = tx.QueryRow(ctx, `
		SELECT id, document_id FROM document_processing_queue
		WHERE status = 'queued'
		ORDER BY enqueued_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&item.ID, &item.DocumentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE document_processing_queue SET status = 'processing', started_at = now() WHERE id = $1
	`, item.ID); err != nil {
		return nil, err
	}

	return &item, tx.Commit(ctx)
}

func (s *Store) CompleteQueueItem(ctx context.Context, id int64) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE document_processing_queue SET status = 'completed', completed_at = now() WHERE id = $1
	`, id)
	return err
}
