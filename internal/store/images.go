package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"khyanalt/internal/domain"
)

const imageCols = `id, answer_id, field_id, section, image_order, image_url, uploaded_by, created_at`

func scanImage(row interface{ Scan(...interface{}) error }) (*domain.QuestionImage, error) {
	var img domain.QuestionImage
	err := row.Scan(&img.ID, &img.AnswerID, &img.FieldID, &img.Section, &img.ImageOrder,
		&img.ImageURL, &img.UploadedBy, &img.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// InsertImage records one image placement. The UNIQUE(answer_id, field_id,
// image_order) index is the sole enforcer of slot uniqueness; a violation at
// commit surfaces as domain.ErrImageSlotTaken.
func (s *Store) InsertImage(ctx context.Context, img *domain.QuestionImage) (*domain.QuestionImage, error) {
	if img.ImageOrder < 1 {
		return nil, fmt.Errorf("%w: image order must be >= 1", domain.ErrValidation)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inspection_question_images
		 (answer_id, field_id, section, image_order, image_url, uploaded_by)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		img.AnswerID, img.FieldID, img.Section, img.ImageOrder, img.ImageURL, img.UploadedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("slot (%d, %s, %d): %w",
				img.AnswerID, img.FieldID, img.ImageOrder, domain.ErrImageSlotTaken)
		}
		return nil, fmt.Errorf("failed to insert image row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read image id: %w", err)
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageCols+` FROM inspection_question_images WHERE id = ?`, id)
	return scanImage(row)
}

// isUniqueViolation matches the sqlite unique-constraint error without
// binding to driver error codes across versions.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetImageBySlot returns the occupying image for a slot, if any.
func (s *Store) GetImageBySlot(ctx context.Context, answerID int64, fieldID string, order int) (*domain.QuestionImage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+imageCols+` FROM inspection_question_images
		 WHERE answer_id = ? AND field_id = ? AND image_order = ?`,
		answerID, fieldID, order)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("image slot: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image slot: %w", err)
	}
	return img, nil
}

// ListImagesByAnswer returns the answer's images ordered by
// (section, field_id, image_order).
func (s *Store) ListImagesByAnswer(ctx context.Context, answerID int64) ([]*domain.QuestionImage, error) {
	return s.listImages(ctx,
		`SELECT `+imageCols+` FROM inspection_question_images
		 WHERE answer_id = ? ORDER BY section, field_id, image_order`, answerID)
}

// ListImagesByInspection resolves via the owning answer rows.
func (s *Store) ListImagesByInspection(ctx context.Context, inspectionID int64) ([]*domain.QuestionImage, error) {
	return s.listImages(ctx,
		`SELECT `+imageCols+` FROM inspection_question_images
		 WHERE answer_id IN (SELECT id FROM inspection_answers WHERE inspection_id = ?)
		 ORDER BY section, field_id, image_order`, inspectionID)
}

func (s *Store) listImages(ctx context.Context, query string, arg interface{}) ([]*domain.QuestionImage, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var out []*domain.QuestionImage
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		out = append(out, img)
	}
	return out, rows.Err()
}

// DeleteImage removes one image row, freeing its slot.
func (s *Store) DeleteImage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM inspection_question_images WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete image %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("image %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteImagesByInspection is the cascade used by inspection delete.
func (s *Store) DeleteImagesByInspection(ctx context.Context, inspectionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM inspection_question_images WHERE answer_id IN
		 (SELECT id FROM inspection_answers WHERE inspection_id = ?)`, inspectionID)
	if err != nil {
		return fmt.Errorf("failed to delete inspection images: %w", err)
	}
	return nil
}
