package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

type Category struct {
	ID          int
	Name        string
	Description string
}

func (s *Store) GetCategories(ctx context.Context) ([]Category, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, COALESCE(description, '') FROM document_categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetCategoryByName(ctx context.Context, name string) (*Category, error) {
	var c Category
	err := s.Pool.QueryRow(ctx, `SELECT id, name, COALESCE(description, '') FROM document_categories WHERE name = $1`, name).
		Scan(&c.ID, &c.Name, &c.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// GetOrCreateCategory looks up a category by name, falling back to the
// generic "Allgemein" bucket used throughout the German-language corpus
// when no finer classification is available, creating it if missing.
func (s *Store) GetOrCreateCategory(ctx context.Context, name string) (*Category, error) {
	if name == "" {
		name = "Allgemein"
	}
	if c, err := s.GetCategoryByName(ctx, name); err == nil {
		return c, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	var c Category
	err := s.Pool.QueryRow(ctx, `
		INSERT INTO document_categories (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, COALESCE(description, '')
	`, name).Scan(&c.ID, &c.Name, &c.Description)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateDocumentCategory(ctx context.Context, documentID string, categoryID int, confidence float64) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE documents SET category_id = $1, category_confidence = $2 WHERE id = $3
	`, categoryID, confidence, documentID)
	return err
}
