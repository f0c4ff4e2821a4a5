package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"khyanalt/internal/domain"
)

const userCols = `id, organization_id, full_name, email, phone, role, password_hash, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.OrganizationID, &u.FullName, &u.Email, &u.Phone, &u.Role,
		&u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u *domain.User) (*domain.User, error) {
	if !u.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrValidation, u.Role)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (organization_id, full_name, email, phone, role, password_hash)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.OrganizationID, u.FullName, u.Email, u.Phone, u.Role, u.PasswordHash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: email %q already registered", domain.ErrValidation, u.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read user id: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser loads one user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail loads one user by email (login path).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", email, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %q: %w", email, err)
	}
	return u, nil
}
