package store

import (
	"fmt"

	"khyanalt/internal/logging"
)

// migration is one idempotent schema step. Steps run in order inside a
// transaction; schema_version records the last applied step.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS organizations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				code TEXT NOT NULL UNIQUE,
				contact_name TEXT NOT NULL DEFAULT '',
				contact_phone TEXT NOT NULL DEFAULT '',
				contact_email TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS sites (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				organization_id INTEGER NOT NULL REFERENCES organizations(id),
				name TEXT NOT NULL,
				address TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS contracts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				organization_id INTEGER NOT NULL REFERENCES organizations(id),
				site_id INTEGER REFERENCES sites(id),
				contract_no TEXT NOT NULL,
				company TEXT NOT NULL DEFAULT '',
				contact TEXT NOT NULL DEFAULT '',
				starts_at DATETIME,
				ends_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS device_models (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				manufacturer TEXT NOT NULL DEFAULT '',
				capacity TEXT NOT NULL DEFAULT ''
			)`,
			`CREATE TABLE IF NOT EXISTS devices (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				organization_id INTEGER NOT NULL REFERENCES organizations(id),
				site_id INTEGER REFERENCES sites(id),
				model_id INTEGER REFERENCES device_models(id),
				serial_no TEXT NOT NULL DEFAULT '',
				name TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				organization_id INTEGER NOT NULL REFERENCES organizations(id),
				full_name TEXT NOT NULL,
				email TEXT NOT NULL UNIQUE,
				phone TEXT NOT NULL DEFAULT '',
				role TEXT NOT NULL DEFAULT 'INSPECTOR',
				password_hash TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS inspection_templates (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL,
				type TEXT NOT NULL DEFAULT 'INSPECTION',
				questions TEXT NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS inspections (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				organization_id INTEGER NOT NULL REFERENCES organizations(id),
				device_id INTEGER NOT NULL REFERENCES devices(id),
				site_id INTEGER REFERENCES sites(id),
				contract_id INTEGER REFERENCES contracts(id),
				template_id INTEGER REFERENCES inspection_templates(id),
				title TEXT NOT NULL DEFAULT '',
				type TEXT NOT NULL,
				schedule_type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'DRAFT',
				progress INTEGER NOT NULL DEFAULT 0,
				assigned_to INTEGER REFERENCES users(id),
				created_by INTEGER NOT NULL REFERENCES users(id),
				updated_by INTEGER REFERENCES users(id),
				scheduled_at DATETIME,
				completed_at DATETIME,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				deleted_at DATETIME
			)`,
			`CREATE INDEX IF NOT EXISTS idx_inspections_assigned
				ON inspections(assigned_to, schedule_type)`,
			`CREATE INDEX IF NOT EXISTS idx_inspections_org
				ON inspections(organization_id)`,
			`CREATE TABLE IF NOT EXISTS inspection_answers (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				inspection_id INTEGER NOT NULL REFERENCES inspections(id) ON DELETE CASCADE,
				answers TEXT NOT NULL,
				answered_by INTEGER NOT NULL,
				answered_at DATETIME NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_answers_inspection
				ON inspection_answers(inspection_id, answered_at)`,
			`CREATE TABLE IF NOT EXISTS inspection_question_images (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				answer_id INTEGER NOT NULL REFERENCES inspection_answers(id) ON DELETE CASCADE,
				field_id TEXT NOT NULL,
				section TEXT NOT NULL,
				image_order INTEGER NOT NULL CHECK (image_order >= 1),
				image_url TEXT NOT NULL,
				uploaded_by INTEGER NOT NULL,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE (answer_id, field_id, image_order)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_images_answer
				ON inspection_question_images(answer_id, section, field_id, image_order)`,
		},
	},
}

// migrate applies pending schema steps.
func (s *Store) migrate() error {
	if _, err := s.db.ExecContext(ctxBG(), `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctxBG(), `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logging.Store("applying migration %d (%s)", m.version, m.name)
		for _, stmt := range m.stmts {
			if _, err := s.db.ExecContext(ctxBG(), stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := s.db.ExecContext(ctxBG(), `INSERT INTO schema_version (version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}
	return nil
}
