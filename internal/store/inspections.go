package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"khyanalt/internal/domain"
)

const inspectionCols = `id, organization_id, device_id, site_id, contract_id, template_id,
	title, type, schedule_type, status, progress, assigned_to, created_by, updated_by,
	scheduled_at, completed_at, created_at, updated_at, deleted_at`

func scanInspection(row interface{ Scan(...interface{}) error }) (*domain.Inspection, error) {
	var (
		i                                    domain.Inspection
		siteID, contractID, templateID       sql.NullInt64
		assignedTo, updatedBy                sql.NullInt64
		scheduledAt, completedAt, deletedAt  sql.NullTime
	)
	err := row.Scan(&i.ID, &i.OrganizationID, &i.DeviceID, &siteID, &contractID, &templateID,
		&i.Title, &i.Type, &i.ScheduleType, &i.Status, &i.Progress, &assignedTo, &i.CreatedBy,
		&updatedBy, &scheduledAt, &completedAt, &i.CreatedAt, &i.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	i.SiteID = int64Ptr(siteID)
	i.ContractID = int64Ptr(contractID)
	i.TemplateID = int64Ptr(templateID)
	i.AssignedTo = int64Ptr(assignedTo)
	i.UpdatedBy = int64Ptr(updatedBy)
	i.ScheduledAt = timePtr(scheduledAt)
	i.CompletedAt = timePtr(completedAt)
	i.DeletedAt = timePtr(deletedAt)
	return &i, nil
}

// CreateInspection inserts a new DRAFT inspection and returns it.
func (s *Store) CreateInspection(ctx context.Context, p *domain.CreateInspectionParams) (*domain.Inspection, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO inspections
		(organization_id, device_id, site_id, contract_id, template_id, title,
		 type, schedule_type, status, progress, assigned_to, created_by, scheduled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		p.OrganizationID, p.DeviceID, nullInt64(p.SiteID), nullInt64(p.ContractID),
		nullInt64(p.TemplateID), p.Title, p.Type, p.ScheduleType, domain.StatusDraft,
		nullInt64(p.AssignedTo), p.CreatedBy, nullTime(p.ScheduledAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create inspection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read inspection id: %w", err)
	}
	return s.GetInspection(ctx, id)
}

// GetInspection loads one inspection by id. Soft-deleted rows return
// domain.ErrNotFound.
func (s *Store) GetInspection(ctx context.Context, id int64) (*domain.Inspection, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+inspectionCols+` FROM inspections WHERE id = ? AND deleted_at IS NULL`, id)
	insp, err := scanInspection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inspection %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load inspection %d: %w", id, err)
	}
	return insp, nil
}

// ListInspectionsByOrganization returns the org-scoped admin listing, newest
// first, with total count for pagination.
func (s *Store) ListInspectionsByOrganization(ctx context.Context, orgID int64, limit, offset int) ([]*domain.Inspection, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inspections WHERE organization_id = ? AND deleted_at IS NULL`,
		orgID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count inspections: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inspectionCols+` FROM inspections
		 WHERE organization_id = ? AND deleted_at IS NULL
		 ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, orgID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list inspections: %w", err)
	}
	defer rows.Close()

	var out []*domain.Inspection
	for rows.Next() {
		insp, err := scanInspection(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan inspection: %w", err)
		}
		out = append(out, insp)
	}
	return out, total, rows.Err()
}

// ListInspectionsByScheduleType returns inspections assigned to the user
// with the given schedule type and an active status. The filter deliberately
// keys on the assignee, not the caller's organization, so cross-organization
// assignment works for the inspector client.
func (s *Store) ListInspectionsByScheduleType(ctx context.Context, userID int64, st domain.ScheduleType) ([]*domain.Inspection, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+inspectionCols+` FROM inspections
		 WHERE assigned_to = ? AND schedule_type = ? AND deleted_at IS NULL
		   AND status IN (?, ?, ?)
		 ORDER BY scheduled_at ASC, id ASC`,
		userID, st, domain.StatusDraft, domain.StatusInProgress, domain.StatusSubmitted)
	if err != nil {
		return nil, fmt.Errorf("failed to list inspections by schedule type: %w", err)
	}
	defer rows.Close()

	var out []*domain.Inspection
	for rows.Next() {
		insp, err := scanInspection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan inspection: %w", err)
		}
		out = append(out, insp)
	}
	return out, rows.Err()
}

// UpdateInspectionProgress applies the per-write status/progress movement.
func (s *Store) UpdateInspectionProgress(ctx context.Context, id int64, status domain.InspectionStatus, progress int, updatedBy int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inspections SET status = ?, progress = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		status, progress, updatedBy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update inspection progress: %w", err)
	}
	return nil
}

// CompleteInspection marks the inspection SUBMITTED with full progress.
func (s *Store) CompleteInspection(ctx context.Context, id int64, updatedBy int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE inspections SET status = ?, progress = 100, completed_at = ?,
		 updated_by = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		domain.StatusSubmitted, at, updatedBy, at, id)
	if err != nil {
		return fmt.Errorf("failed to complete inspection: %w", err)
	}
	return nil
}

// AssignInspection reassigns the inspection to userID.
func (s *Store) AssignInspection(ctx context.Context, id, userID, updatedBy int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE inspections SET assigned_to = ?, updated_by = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		userID, updatedBy, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to assign inspection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read assign result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("inspection %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// DeleteInspection soft-deletes the inspection and hard-deletes its answer
// rows and image rows (the cascade the clients rely on).
func (s *Store) DeleteInspection(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM inspection_question_images WHERE answer_id IN
		 (SELECT id FROM inspection_answers WHERE inspection_id = ?)`, id); err != nil {
		return fmt.Errorf("failed to delete inspection images: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM inspection_answers WHERE inspection_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete inspection answers: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE inspections SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to delete inspection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("inspection %d: %w", id, domain.ErrNotFound)
	}
	return nil
}
