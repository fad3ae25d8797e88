package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

const templateColumns = `id, name, base_image,
	stack_language, stack_version, stack_framework, stack_packages_json,
	exposed_ports_json, env_vars_json,
	quota_cpu_millis, quota_memory_bytes, quota_storage_bytes, quota_max_pods, quota_max_services,
	enabled, created_at`

// CreateTemplate inserts a new template. A duplicate id is rejected.
func (s *Store) CreateTemplate(ctx context.Context, tmpl *domain.Template) error {
	if err := s.ready(); err != nil {
		return err
	}
	if tmpl == nil || tmpl.ID == "" {
		return errors.New("template id is required")
	}
	if tmpl.Stack.Language == "" || tmpl.Stack.Version == "" {
		return errors.New("template stack language and version are required")
	}

	packagesJSON, err := marshalNullable(tmpl.Stack.Packages)
	if err != nil {
		return err
	}
	portsJSON, err := marshalNullable(tmpl.ExposedPorts)
	if err != nil {
		return err
	}
	envVarsJSON, err := marshalNullable(tmpl.EnvVars)
	if err != nil {
		return err
	}
	createdAt := tmpl.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.DB.ExecContext(ctx, `INSERT INTO templates (
		id, name, base_image,
		stack_language, stack_version, stack_framework, stack_packages_json,
		exposed_ports_json, env_vars_json,
		quota_cpu_millis, quota_memory_bytes, quota_storage_bytes, quota_max_pods, quota_max_services,
		enabled, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tmpl.ID, tmpl.Name, nullIfEmpty(tmpl.BaseImage),
		tmpl.Stack.Language, tmpl.Stack.Version, nullIfEmpty(tmpl.Stack.Framework), packagesJSON,
		portsJSON, envVarsJSON,
		tmpl.DefaultQuota.CPUMillis, tmpl.DefaultQuota.MemoryBytes, tmpl.DefaultQuota.StorageBytes,
		tmpl.DefaultQuota.MaxPods, tmpl.DefaultQuota.MaxServices,
		boolToInt(tmpl.Enabled), formatTime(createdAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict(apperrors.CodeTemplateExists, "template id already exists").
				WithParams(map[string]interface{}{"template_id": tmpl.ID})
		}
		return fmt.Errorf("insert template %s: %w", tmpl.ID, err)
	}
	return nil
}

// GetTemplate loads a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*domain.Template, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	tmpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound(apperrors.CodeTemplateNotFound, "template not found").
			WithParams(map[string]interface{}{"template_id": id})
	}
	return tmpl, err
}

// ListTemplates returns all templates ordered by id.
func (s *Store) ListTemplates(ctx context.Context) ([]*domain.Template, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM templates ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()
	var out []*domain.Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return out, nil
}

// DeleteTemplate removes a template unless a non-terminal environment
// still references it; templates in use are immutable.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	n, err := s.templateRefCount(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return apperrors.Conflict(apperrors.CodeTemplateInUse, "template is referenced by active environments").
			WithParams(map[string]interface{}{"template_id": id, "environments": n})
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, err)
	}
	if affected == 0 {
		return apperrors.NotFound(apperrors.CodeTemplateNotFound, "template not found").
			WithParams(map[string]interface{}{"template_id": id})
	}
	return nil
}

// SetTemplateEnabled toggles whether new environments may use the
// template. Disabling never touches existing environments.
func (s *Store) SetTemplateEnabled(ctx context.Context, id string, enabled bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx,
		`UPDATE templates SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("update template %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template %s: %w", id, err)
	}
	if affected == 0 {
		return apperrors.NotFound(apperrors.CodeTemplateNotFound, "template not found").
			WithParams(map[string]interface{}{"template_id": id})
	}
	return nil
}

func (s *Store) templateRefCount(ctx context.Context, id string) (int, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM environments WHERE template_id = ? AND state != ?`,
		id, string(domain.StateDeleted))
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count template references %s: %w", id, err)
	}
	return n, nil
}

func scanTemplate(row rowScanner) (*domain.Template, error) {
	var (
		tmpl         domain.Template
		baseImage    sql.NullString
		framework    sql.NullString
		packagesJSON sql.NullString
		portsJSON    sql.NullString
		envVarsJSON  sql.NullString
		enabled      int
		createdAt    string
	)
	err := row.Scan(
		&tmpl.ID, &tmpl.Name, &baseImage,
		&tmpl.Stack.Language, &tmpl.Stack.Version, &framework, &packagesJSON,
		&portsJSON, &envVarsJSON,
		&tmpl.DefaultQuota.CPUMillis, &tmpl.DefaultQuota.MemoryBytes, &tmpl.DefaultQuota.StorageBytes,
		&tmpl.DefaultQuota.MaxPods, &tmpl.DefaultQuota.MaxServices,
		&enabled, &createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan template: %w", err)
	}

	tmpl.BaseImage = baseImage.String
	tmpl.Stack.Framework = framework.String
	if packagesJSON.Valid {
		if err := json.Unmarshal([]byte(packagesJSON.String), &tmpl.Stack.Packages); err != nil {
			return nil, fmt.Errorf("decode template packages: %w", err)
		}
	}
	if portsJSON.Valid {
		if err := json.Unmarshal([]byte(portsJSON.String), &tmpl.ExposedPorts); err != nil {
			return nil, fmt.Errorf("decode template ports: %w", err)
		}
	}
	if envVarsJSON.Valid {
		if err := json.Unmarshal([]byte(envVarsJSON.String), &tmpl.EnvVars); err != nil {
			return nil, fmt.Errorf("decode template env vars: %w", err)
		}
	}
	tmpl.Enabled = enabled != 0
	if tmpl.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure. modernc.org/sqlite surfaces these as formatted errors rather
// than a typed value.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
