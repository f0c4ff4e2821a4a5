package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"khyanalt/internal/domain"
)

const answerCols = `id, inspection_id, answers, answered_by, answered_at, created_at, updated_at`

func scanAnswer(row interface{ Scan(...interface{}) error }) (*domain.InspectionAnswer, error) {
	var a domain.InspectionAnswer
	err := row.Scan(&a.ID, &a.InspectionID, &a.Answers, &a.AnsweredBy, &a.AnsweredAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// InsertAnswer creates a new answer row.
func (s *Store) InsertAnswer(ctx context.Context, inspectionID int64, answers []byte, answeredBy int64, answeredAt time.Time) (*domain.InspectionAnswer, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO inspection_answers (inspection_id, answers, answered_by, answered_at)
		 VALUES (?, ?, ?, ?)`,
		inspectionID, answers, answeredBy, answeredAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert answer row: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read answer id: %w", err)
	}
	return s.GetAnswer(ctx, id)
}

// UpdateAnswer rewrites an existing row's document and writer metadata.
func (s *Store) UpdateAnswer(ctx context.Context, id int64, answers []byte, answeredBy int64, answeredAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inspection_answers SET answers = ?, answered_by = ?, answered_at = ?, updated_at = ?
		 WHERE id = ?`,
		answers, answeredBy, answeredAt, answeredAt, id)
	if err != nil {
		return fmt.Errorf("failed to update answer row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("answer %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetAnswer loads one answer row by id.
func (s *Store) GetAnswer(ctx context.Context, id int64) (*domain.InspectionAnswer, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+answerCols+` FROM inspection_answers WHERE id = ?`, id)
	a, err := scanAnswer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("answer %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load answer %d: %w", id, err)
	}
	return a, nil
}

// ListAnswersByInspection returns every answer row for the inspection in
// answeredAt ascending order (the completion-collapse read order).
func (s *Store) ListAnswersByInspection(ctx context.Context, inspectionID int64) ([]*domain.InspectionAnswer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+answerCols+` FROM inspection_answers
		 WHERE inspection_id = ? ORDER BY answered_at ASC, id ASC`, inspectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list answers: %w", err)
	}
	defer rows.Close()

	var out []*domain.InspectionAnswer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan answer: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnswers removes the given answer rows and reparents their image rows
// onto newAnswerID so uploaded photographs survive the completion collapse.
func (s *Store) DeleteAnswers(ctx context.Context, ids []int64, newAnswerID int64) error {
	for _, id := range ids {
		if id == newAnswerID {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE OR IGNORE inspection_question_images SET answer_id = ? WHERE answer_id = ?`,
			newAnswerID, id); err != nil {
			return fmt.Errorf("failed to reparent images from answer %d: %w", id, err)
		}
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM inspection_answers WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete answer %d: %w", id, err)
		}
	}
	return nil
}
