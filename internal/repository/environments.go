package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

const envColumns = `id, user_id, name, namespace, template_id, git_json,
	quota_cpu_millis, quota_memory_bytes, quota_storage_bytes, quota_max_pods, quota_max_services,
	ports_json, env_vars_json, state, state_message, access_url,
	created_at, expires_at, started_at, stopped_at`

// SaveEnvironment inserts or replaces the full environment record. The
// lifecycle manager calls this on every state transition, so the write
// is an upsert keyed on id.
func (s *Store) SaveEnvironment(ctx context.Context, env *domain.Environment) error {
	if err := s.ready(); err != nil {
		return err
	}
	if env == nil || env.ID == "" {
		return errors.New("environment id is required")
	}

	gitJSON, err := marshalNullable(env.Git)
	if err != nil {
		return err
	}
	portsJSON, err := marshalNullable(env.Ports)
	if err != nil {
		return err
	}
	envVarsJSON, err := marshalNullable(env.EnvVars)
	if err != nil {
		return err
	}

	_, err = s.DB.ExecContext(ctx, `INSERT INTO environments (
		id, user_id, name, namespace, template_id, git_json,
		quota_cpu_millis, quota_memory_bytes, quota_storage_bytes, quota_max_pods, quota_max_services,
		ports_json, env_vars_json, state, state_message, access_url,
		created_at, expires_at, started_at, stopped_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		user_id = excluded.user_id,
		name = excluded.name,
		namespace = excluded.namespace,
		template_id = excluded.template_id,
		git_json = excluded.git_json,
		quota_cpu_millis = excluded.quota_cpu_millis,
		quota_memory_bytes = excluded.quota_memory_bytes,
		quota_storage_bytes = excluded.quota_storage_bytes,
		quota_max_pods = excluded.quota_max_pods,
		quota_max_services = excluded.quota_max_services,
		ports_json = excluded.ports_json,
		env_vars_json = excluded.env_vars_json,
		state = excluded.state,
		state_message = excluded.state_message,
		access_url = excluded.access_url,
		expires_at = excluded.expires_at,
		started_at = excluded.started_at,
		stopped_at = excluded.stopped_at`,
		env.ID, env.UserID, env.Name, env.Namespace, env.TemplateID, gitJSON,
		env.Quota.CPUMillis, env.Quota.MemoryBytes, env.Quota.StorageBytes,
		env.Quota.MaxPods, env.Quota.MaxServices,
		portsJSON, envVarsJSON, string(env.State), nullIfEmpty(env.StateMessage), nullIfEmpty(env.AccessURL),
		formatTime(env.CreatedAt), formatTime(env.ExpiresAt),
		nullableTime(env.StartedAt), nullableTime(env.StoppedAt),
	)
	if err != nil {
		return fmt.Errorf("save environment %s: %w", env.ID, err)
	}
	return nil
}

// GetEnvironment loads an environment by id.
func (s *Store) GetEnvironment(ctx context.Context, id string) (*domain.Environment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+envColumns+` FROM environments WHERE id = ?`, id)
	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrEnvironmentNotFoundf(id)
	}
	return env, err
}

// GetEnvironmentByName resolves a non-terminal environment by its
// user-facing name. Terminal records are skipped so the name is free
// for reuse after deletion.
func (s *Store) GetEnvironmentByName(ctx context.Context, name string) (*domain.Environment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+envColumns+` FROM environments
		WHERE name = ? AND state != ? ORDER BY created_at DESC LIMIT 1`,
		name, string(domain.StateDeleted))
	env, err := scanEnvironment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrEnvironmentNotFoundf(name)
	}
	return env, err
}

// ListNonTerminal returns all environments not yet Deleted, ordered by
// creation time. The expiry sweep and reconcile loop walk this set.
func (s *Store) ListNonTerminal(ctx context.Context) ([]*domain.Environment, error) {
	return s.listWhere(ctx, `state != ?`, string(domain.StateDeleted))
}

// ListByNamespacePrefix returns non-terminal environments whose
// namespace starts with prefix.
func (s *Store) ListByNamespacePrefix(ctx context.Context, prefix string) ([]*domain.Environment, error) {
	return s.listWhere(ctx, `namespace LIKE ? AND state != ?`, prefix+"%", string(domain.StateDeleted))
}

// ListByUser returns all environments owned by a user, newest first,
// terminal records included.
func (s *Store) ListByUser(ctx context.Context, userID string) ([]*domain.Environment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+envColumns+` FROM environments WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list environments for user %s: %w", userID, err)
	}
	return collectEnvironments(rows)
}

func (s *Store) listWhere(ctx context.Context, where string, args ...interface{}) ([]*domain.Environment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+envColumns+` FROM environments WHERE `+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list environments: %w", err)
	}
	return collectEnvironments(rows)
}

func collectEnvironments(rows *sql.Rows) ([]*domain.Environment, error) {
	defer rows.Close()
	var out []*domain.Environment
	for rows.Next() {
		env, err := scanEnvironment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate environments: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEnvironment(row rowScanner) (*domain.Environment, error) {
	var (
		env                  domain.Environment
		gitJSON              sql.NullString
		portsJSON            sql.NullString
		envVarsJSON          sql.NullString
		state                string
		stateMessage         sql.NullString
		accessURL            sql.NullString
		createdAt, expiresAt string
		startedAt, stoppedAt sql.NullString
	)
	err := row.Scan(
		&env.ID, &env.UserID, &env.Name, &env.Namespace, &env.TemplateID, &gitJSON,
		&env.Quota.CPUMillis, &env.Quota.MemoryBytes, &env.Quota.StorageBytes,
		&env.Quota.MaxPods, &env.Quota.MaxServices,
		&portsJSON, &envVarsJSON, &state, &stateMessage, &accessURL,
		&createdAt, &expiresAt, &startedAt, &stoppedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan environment: %w", err)
	}

	if gitJSON.Valid {
		env.Git = &domain.GitSource{}
		if err := json.Unmarshal([]byte(gitJSON.String), env.Git); err != nil {
			return nil, fmt.Errorf("decode git source: %w", err)
		}
	}
	if portsJSON.Valid {
		if err := json.Unmarshal([]byte(portsJSON.String), &env.Ports); err != nil {
			return nil, fmt.Errorf("decode ports: %w", err)
		}
	}
	if envVarsJSON.Valid {
		if err := json.Unmarshal([]byte(envVarsJSON.String), &env.EnvVars); err != nil {
			return nil, fmt.Errorf("decode env vars: %w", err)
		}
	}
	env.State = domain.EnvState(state)
	env.StateMessage = stateMessage.String
	env.AccessURL = accessURL.String
	if env.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if env.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if env.StartedAt, err = parseNullableTime(startedAt); err != nil {
		return nil, err
	}
	if env.StoppedAt, err = parseNullableTime(stoppedAt); err != nil {
		return nil, err
	}
	return &env, nil
}
