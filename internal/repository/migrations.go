package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"
)

type migration struct {
	version    int
	name       string
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "init_core_tables",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS environments (
				id TEXT PRIMARY KEY,
				user_id TEXT NOT NULL,
				name TEXT NOT NULL,
				namespace TEXT NOT NULL,
				template_id TEXT NOT NULL,
				git_json TEXT,
				quota_cpu_millis INTEGER NOT NULL,
				quota_memory_bytes INTEGER NOT NULL,
				quota_storage_bytes INTEGER NOT NULL,
				quota_max_pods INTEGER NOT NULL,
				quota_max_services INTEGER NOT NULL,
				ports_json TEXT,
				env_vars_json TEXT,
				state TEXT NOT NULL,
				state_message TEXT,
				access_url TEXT,
				created_at TEXT NOT NULL,
				expires_at TEXT NOT NULL,
				started_at TEXT,
				stopped_at TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS templates (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				base_image TEXT,
				stack_language TEXT NOT NULL,
				stack_version TEXT NOT NULL,
				stack_framework TEXT,
				stack_packages_json TEXT,
				exposed_ports_json TEXT,
				env_vars_json TEXT,
				quota_cpu_millis INTEGER NOT NULL,
				quota_memory_bytes INTEGER NOT NULL,
				quota_storage_bytes INTEGER NOT NULL,
				quota_max_pods INTEGER NOT NULL,
				quota_max_services INTEGER NOT NULL,
				enabled INTEGER NOT NULL DEFAULT 1,
				created_at TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				username TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_environments_state ON environments(state)`,
			`CREATE INDEX IF NOT EXISTS idx_environments_name ON environments(name)`,
			`CREATE INDEX IF NOT EXISTS idx_environments_namespace ON environments(namespace)`,
			`CREATE INDEX IF NOT EXISTS idx_environments_user ON environments(user_id)`,
			`CREATE INDEX IF NOT EXISTS idx_environments_template ON environments(template_id)`,
		},
	},
}

// migrate applies any pending migrations in version order, each in its
// own transaction. Applied versions are tracked in schema_migrations so
// the runner is safe to call on every startup.
func migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}
	if err := validateMigrations(); err != nil {
		return err
	}
	if err := ensureSchemaMigrations(db); err != nil {
		return err
	}
	applied, err := loadAppliedVersions(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if _, ok := applied[m.version]; ok {
			continue
		}
		if err := applyMigration(db, m); err != nil {
			return err
		}
	}
	return nil
}

func validateMigrations() error {
	if !sort.SliceIsSorted(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	}) {
		return errors.New("migrations are not ordered by version")
	}
	seen := make(map[int]struct{}, len(migrations))
	for _, m := range migrations {
		if _, ok := seen[m.version]; ok {
			return fmt.Errorf("duplicate migration version %d", m.version)
		}
		seen[m.version] = struct{}{}
	}
	return nil
}

func ensureSchemaMigrations(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func loadAppliedVersions(db *sql.DB) (map[int]struct{}, error) {
	rows, err := db.Query(`SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("list schema_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[int]struct{})
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[version] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return applied, nil
}

func applyMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	for _, stmt := range m.statements {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, formatTime(time.Now()),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", m.version, err)
	}
	return nil
}
