package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func testEnvironment(id, name string) *domain.Environment {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Environment{
		ID:         id,
		UserID:     "user-1",
		Name:       name,
		Namespace:  "env-" + name,
		TemplateID: "node-react",
		Git:        &domain.GitSource{RepoURL: "https://github.com/acme/app.git", Branch: "main"},
		Quota: domain.QuotaPolicy{
			CPUMillis:    1000,
			MemoryBytes:  2 << 30,
			StorageBytes: 10 << 30,
			MaxPods:      5,
			MaxServices:  5,
		},
		Ports:     []int{8080},
		EnvVars:   map[string]string{"NODE_ENV": "development"},
		State:     domain.StateRunning,
		AccessURL: "http://" + name + ".dev.example.com",
		CreatedAt: created,
		ExpiresAt: created.Add(8 * time.Hour),
	}
}

func TestSaveEnvironment_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	env := testEnvironment("env-1", "alice")
	started := time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC)
	env.StartedAt = &started

	require.NoError(t, store.SaveEnvironment(ctx, env))

	got, err := store.GetEnvironment(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, env.Name, got.Name)
	assert.Equal(t, env.Namespace, got.Namespace)
	assert.Equal(t, env.Quota, got.Quota)
	assert.Equal(t, env.Ports, got.Ports)
	assert.Equal(t, env.EnvVars, got.EnvVars)
	assert.Equal(t, domain.StateRunning, got.State)
	assert.Equal(t, env.AccessURL, got.AccessURL)
	require.NotNil(t, got.Git)
	assert.Equal(t, "main", got.Git.Branch)
	require.NotNil(t, got.StartedAt)
	assert.True(t, started.Equal(*got.StartedAt))
	assert.Nil(t, got.StoppedAt)
	assert.True(t, env.ExpiresAt.Equal(got.ExpiresAt))
}

func TestSaveEnvironment_UpsertOnTransition(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	env := testEnvironment("env-1", "alice")
	env.State = domain.StateProvisioning
	require.NoError(t, store.SaveEnvironment(ctx, env))

	env.State = domain.StateRunning
	env.StateMessage = ""
	env.AccessURL = "http://alice.dev.example.com"
	require.NoError(t, store.SaveEnvironment(ctx, env))

	got, err := store.GetEnvironment(ctx, "env-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRunning, got.State)

	all, err := store.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGetEnvironment_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.GetEnvironment(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEnvironmentNotFound))
}

func TestGetEnvironmentByName_SkipsTerminal(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	old := testEnvironment("env-1", "alice")
	old.State = domain.StateDeleted
	require.NoError(t, store.SaveEnvironment(ctx, old))

	// Name unresolvable while only a deleted record holds it.
	_, err := store.GetEnvironmentByName(ctx, "alice")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeEnvironmentNotFound))

	// A fresh environment reclaims the name.
	fresh := testEnvironment("env-2", "alice")
	fresh.CreatedAt = old.CreatedAt.Add(time.Hour)
	require.NoError(t, store.SaveEnvironment(ctx, fresh))

	got, err := store.GetEnvironmentByName(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "env-2", got.ID)
}

func TestListNonTerminal(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	running := testEnvironment("env-1", "alice")
	failed := testEnvironment("env-2", "bob")
	failed.State = domain.StateFailed
	gone := testEnvironment("env-3", "carol")
	gone.State = domain.StateDeleted
	for _, env := range []*domain.Environment{running, failed, gone} {
		require.NoError(t, store.SaveEnvironment(ctx, env))
	}

	got, err := store.ListNonTerminal(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []string{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []string{"env-1", "env-2"}, ids)
}

func TestListByNamespacePrefix(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i, name := range []string{"load-01", "load-02", "solo"} {
		env := testEnvironment("env-"+name, name)
		env.CreatedAt = env.CreatedAt.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.SaveEnvironment(ctx, env))
	}

	got, err := store.ListByNamespacePrefix(ctx, "env-load-")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "env-load-01", got[0].Namespace)
	assert.Equal(t, "env-load-02", got[1].Namespace)
}

func TestListByUser(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	mine := testEnvironment("env-1", "alice")
	deletedMine := testEnvironment("env-2", "alice-old")
	deletedMine.State = domain.StateDeleted
	deletedMine.CreatedAt = mine.CreatedAt.Add(-time.Hour)
	other := testEnvironment("env-3", "bob")
	other.UserID = "user-2"
	for _, env := range []*domain.Environment{mine, deletedMine, other} {
		require.NoError(t, store.SaveEnvironment(ctx, env))
	}

	got, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Newest first, terminal records included for history.
	assert.Equal(t, "env-1", got[0].ID)
	assert.Equal(t, "env-2", got[1].ID)
}

func TestSaveEnvironment_Validation(t *testing.T) {
	ctx := context.Background()

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).SaveEnvironment(ctx, testEnvironment("env-1", "alice"))
		assert.EqualError(t, err, "db store is nil")
	})

	t.Run("missing id", func(t *testing.T) {
		store := openTestStore(t)
		env := testEnvironment("", "alice")
		err := store.SaveEnvironment(ctx, env)
		assert.EqualError(t, err, "environment id is required")
	})
}
