package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"khyanalt/internal/domain"
)

// CreateTemplate inserts an inspection template definition.
func (s *Store) CreateTemplate(ctx context.Context, t *domain.InspectionTemplate) (*domain.InspectionTemplate, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inspection_templates (name, type, questions) VALUES (?, ?, ?)`,
		t.Name, t.Type, t.Questions)
	if err != nil {
		return nil, fmt.Errorf("failed to create template: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read template id: %w", err)
	}
	return s.GetTemplate(ctx, id)
}

// GetTemplate loads one template by id.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*domain.InspectionTemplate, error) {
	var t domain.InspectionTemplate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, type, questions, created_at FROM inspection_templates WHERE id = ?`, id).
		Scan(&t.ID, &t.Name, &t.Type, &t.Questions, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load template %d: %w", id, err)
	}
	return &t, nil
}
