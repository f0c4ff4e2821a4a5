package domain

import "time"

// Organization is the tenant. It is the root of ownership for sites,
// contracts, devices, users, and inspections. ContactEmail is where
// completed-inspection reports are delivered; when empty, delivery is
// silently skipped.
type Organization struct {
	ID           int64
	Name         string
	Code         string // unique tenant code
	ContactName  string
	ContactPhone string
	ContactEmail string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Site is a physical location belonging to an organization.
type Site struct {
	ID             int64
	OrganizationID int64
	Name           string
	Address        string
	CreatedAt      time.Time
}

// Contract is a service contract covering devices at a site.
type Contract struct {
	ID             int64
	OrganizationID int64
	SiteID         *int64
	ContractNo     string
	Company        string
	Contact        string
	StartsAt       *time.Time
	EndsAt         *time.Time
	CreatedAt      time.Time
}

// DeviceModel describes a weighing-scale model.
type DeviceModel struct {
	ID           int64
	Name         string
	Manufacturer string
	Capacity     string
}

// Device is a physical weighing scale under inspection.
type Device struct {
	ID             int64
	OrganizationID int64
	SiteID         *int64
	ModelID        *int64
	SerialNo       string
	Name           string
	CreatedAt      time.Time
}
