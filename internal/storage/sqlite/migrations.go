package sqlite

import (
	"context"
	"database/sql"
)

// Migrate runs all database migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		// Roles table
		`CREATE TABLE IF NOT EXISTS roles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			created_by TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			updated_by TEXT NOT NULL
		)`,

		// Workflow definitions table
		`CREATE TABLE IF NOT EXISTS workflow_definitions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			created_by TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			updated_by TEXT NOT NULL
		)`,

		// Step definitions table; position is the declared order within the definition
		`CREATE TABLE IF NOT EXISTS step_definitions (
			id TEXT NOT NULL,
			definition_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			step_order INTEGER,
			max_minutes INTEGER,
			auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
			approved_next_step_id TEXT,
			rejected_next_step_id TEXT,
			PRIMARY KEY (definition_id, id),
			FOREIGN KEY (definition_id) REFERENCES workflow_definitions(id) ON DELETE CASCADE
		)`,

		// Required approval roles per step
		`CREATE TABLE IF NOT EXISTS step_required_roles (
			definition_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			role_id TEXT NOT NULL,
			PRIMARY KEY (definition_id, step_id, role_id),
			FOREIGN KEY (definition_id, step_id) REFERENCES step_definitions(definition_id, id) ON DELETE CASCADE,
			FOREIGN KEY (role_id) REFERENCES roles(id)
		)`,

		// Workflow instances table
		`CREATE TABLE IF NOT EXISTS workflow_instances (
			id TEXT PRIMARY KEY,
			definition_id TEXT NOT NULL,
			current_step_id TEXT,
			is_completed BOOLEAN NOT NULL DEFAULT FALSE,
			started_at DATETIME NOT NULL,
			ended_at DATETIME,
			created_at DATETIME NOT NULL,
			created_by TEXT NOT NULL,
			updated_at DATETIME NOT NULL,
			updated_by TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY (definition_id) REFERENCES workflow_definitions(id)
		)`,

		// Step instances table; expires_at is set while a time limit is attached
		`CREATE TABLE IF NOT EXISTS step_instances (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			step_definition_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			resolution INTEGER NOT NULL DEFAULT 0,
			expires_at DATETIME,
			auto_approve BOOLEAN NOT NULL DEFAULT FALSE,
			FOREIGN KEY (instance_id) REFERENCES workflow_instances(id) ON DELETE CASCADE
		)`,

		// Approvals table (append-only)
		`CREATE TABLE IF NOT EXISTS step_approvals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			step_instance_id TEXT NOT NULL,
			decision INTEGER NOT NULL,
			actor TEXT NOT NULL DEFAULT '',
			comments TEXT NOT NULL DEFAULT '',
			decided_at DATETIME NOT NULL,
			FOREIGN KEY (step_instance_id) REFERENCES step_instances(id) ON DELETE CASCADE
		)`,

		// Indexes for efficient queries
		`CREATE INDEX IF NOT EXISTS idx_instances_definition ON workflow_instances(definition_id, started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_active ON workflow_instances(is_completed, current_step_id)`,
		`CREATE INDEX IF NOT EXISTS idx_step_instances_instance ON step_instances(instance_id, position)`,
		`CREATE INDEX IF NOT EXISTS idx_step_instances_expires ON step_instances(expires_at) WHERE expires_at IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_step_approvals_step ON step_approvals(step_instance_id)`,
	}

	for _, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return err
		}
	}

	return nil
}
