package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"khyanalt/internal/domain"
)

// CreateOrganization inserts a tenant.
func (s *Store) CreateOrganization(ctx context.Context, o *domain.Organization) (*domain.Organization, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO organizations (name, code, contact_name, contact_phone, contact_email)
		 VALUES (?, ?, ?, ?, ?)`,
		o.Name, o.Code, o.ContactName, o.ContactPhone, o.ContactEmail)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: organization code %q already exists", domain.ErrValidation, o.Code)
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read organization id: %w", err)
	}
	return s.GetOrganization(ctx, id)
}

// GetOrganization loads one tenant by id.
func (s *Store) GetOrganization(ctx context.Context, id int64) (*domain.Organization, error) {
	var o domain.Organization
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, code, contact_name, contact_phone, contact_email, created_at, updated_at
		 FROM organizations WHERE id = ?`, id).
		Scan(&o.ID, &o.Name, &o.Code, &o.ContactName, &o.ContactPhone, &o.ContactEmail,
			&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load organization %d: %w", id, err)
	}
	return &o, nil
}

// CreateSite inserts a site.
func (s *Store) CreateSite(ctx context.Context, site *domain.Site) (*domain.Site, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sites (organization_id, name, address) VALUES (?, ?, ?)`,
		site.OrganizationID, site.Name, site.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to create site: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetSite(ctx, id)
}

// GetSite loads one site by id.
func (s *Store) GetSite(ctx context.Context, id int64) (*domain.Site, error) {
	var site domain.Site
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, name, address, created_at FROM sites WHERE id = ?`, id).
		Scan(&site.ID, &site.OrganizationID, &site.Name, &site.Address, &site.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("site %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load site %d: %w", id, err)
	}
	return &site, nil
}

// CreateContract inserts a service contract.
func (s *Store) CreateContract(ctx context.Context, c *domain.Contract) (*domain.Contract, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contracts (organization_id, site_id, contract_no, company, contact, starts_at, ends_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.OrganizationID, nullInt64(c.SiteID), c.ContractNo, c.Company, c.Contact,
		nullTime(c.StartsAt), nullTime(c.EndsAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create contract: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetContract(ctx, id)
}

// GetContract loads one contract by id.
func (s *Store) GetContract(ctx context.Context, id int64) (*domain.Contract, error) {
	var (
		c        domain.Contract
		siteID   sql.NullInt64
		startsAt sql.NullTime
		endsAt   sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, site_id, contract_no, company, contact, starts_at, ends_at, created_at
		 FROM contracts WHERE id = ?`, id).
		Scan(&c.ID, &c.OrganizationID, &siteID, &c.ContractNo, &c.Company, &c.Contact,
			&startsAt, &endsAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contract %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contract %d: %w", id, err)
	}
	c.SiteID = int64Ptr(siteID)
	c.StartsAt = timePtr(startsAt)
	c.EndsAt = timePtr(endsAt)
	return &c, nil
}

// CreateDevice inserts a device.
func (s *Store) CreateDevice(ctx context.Context, d *domain.Device) (*domain.Device, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (organization_id, site_id, model_id, serial_no, name)
		 VALUES (?, ?, ?, ?, ?)`,
		d.OrganizationID, nullInt64(d.SiteID), nullInt64(d.ModelID), d.SerialNo, d.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create device: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetDevice(ctx, id)
}

// GetDevice loads one device by id.
func (s *Store) GetDevice(ctx context.Context, id int64) (*domain.Device, error) {
	var (
		d       domain.Device
		siteID  sql.NullInt64
		modelID sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, site_id, model_id, serial_no, name, created_at
		 FROM devices WHERE id = ?`, id).
		Scan(&d.ID, &d.OrganizationID, &siteID, &modelID, &d.SerialNo, &d.Name, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device %d: %w", id, err)
	}
	d.SiteID = int64Ptr(siteID)
	d.ModelID = int64Ptr(modelID)
	return &d, nil
}

// GetDeviceModel loads one device model by id.
func (s *Store) GetDeviceModel(ctx context.Context, id int64) (*domain.DeviceModel, error) {
	var m domain.DeviceModel
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, manufacturer, capacity FROM device_models WHERE id = ?`, id).
		Scan(&m.ID, &m.Name, &m.Manufacturer, &m.Capacity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device model %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load device model %d: %w", id, err)
	}
	return &m, nil
}

// CreateDeviceModel inserts a device model.
func (s *Store) CreateDeviceModel(ctx context.Context, m *domain.DeviceModel) (*domain.DeviceModel, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO device_models (name, manufacturer, capacity) VALUES (?, ?, ?)`,
		m.Name, m.Manufacturer, m.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create device model: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.GetDeviceModel(ctx, id)
}
