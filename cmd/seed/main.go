// Package main seeds templates and a default admin account. Seeding is
// idempotent; existing records are left untouched.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hjimin027/kubdev-auto-system/internal/config"
	"github.com/hjimin027/kubdev-auto-system/internal/domain"
	"github.com/hjimin027/kubdev-auto-system/internal/manifest"
	apperrors "github.com/hjimin027/kubdev-auto-system/internal/pkg/errors"
	"github.com/hjimin027/kubdev-auto-system/internal/pkg/logger"
	"github.com/hjimin027/kubdev-auto-system/internal/repository"
	"github.com/hjimin027/kubdev-auto-system/internal/service"
	"github.com/hjimin027/kubdev-auto-system/internal/stack"
)

type seedFile struct {
	Templates []seedTemplate `yaml:"templates"`
}

type seedTemplate struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	Language     string            `yaml:"language"`
	Version      string            `yaml:"version"`
	Framework    string            `yaml:"framework"`
	Packages     []string          `yaml:"packages"`
	ExposedPorts []int             `yaml:"exposed_ports"`
	EnvVars      map[string]string `yaml:"env_vars"`
	Quota        struct {
		CPUMillis    int64 `yaml:"cpu_millis"`
		MemoryBytes  int64 `yaml:"memory_bytes"`
		StorageBytes int64 `yaml:"storage_bytes"`
		MaxPods      int   `yaml:"max_pods"`
		MaxServices  int   `yaml:"max_services"`
	} `yaml:"quota"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	templatesPath := flag.String("templates", "templates.yaml", "path to the template seed file")
	adminUser := flag.String("admin-user", "admin", "default admin username")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	store, err := repository.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	compiler := stack.NewCompiler(cfg.Cluster.Registry)

	if err := seedTemplates(ctx, store, compiler, *templatesPath); err != nil {
		return err
	}
	if err := seedAdmin(ctx, store, *adminUser); err != nil {
		return err
	}

	logger.Info("seeding completed")
	return nil
}

func seedTemplates(ctx context.Context, store *repository.Store, compiler *stack.Compiler, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("template seed file not found, skipping", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("read seed file %s: %w", path, err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for _, t := range file.Templates {
		tmpl := &domain.Template{
			ID:   t.ID,
			Name: t.Name,
			Stack: domain.StackConfig{
				Language:  t.Language,
				Version:   t.Version,
				Framework: t.Framework,
				Packages:  t.Packages,
			},
			ExposedPorts: t.ExposedPorts,
			EnvVars:      t.EnvVars,
			DefaultQuota: domain.QuotaPolicy{
				CPUMillis:    t.Quota.CPUMillis,
				MemoryBytes:  t.Quota.MemoryBytes,
				StorageBytes: t.Quota.StorageBytes,
				MaxPods:      t.Quota.MaxPods,
				MaxServices:  t.Quota.MaxServices,
			},
			Enabled: true,
		}
		if err := compiler.Validate(tmpl.Stack); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
		if err := manifest.ValidatePorts(tmpl.ExposedPorts); err != nil {
			return fmt.Errorf("template %s: %w", t.ID, err)
		}
		err := store.CreateTemplate(ctx, tmpl)
		switch {
		case err == nil:
			logger.Info("template seeded", zap.String("id", t.ID))
		case apperrors.HasCode(err, apperrors.CodeTemplateExists):
			logger.Info("template already present", zap.String("id", t.ID))
		default:
			return fmt.Errorf("seed template %s: %w", t.ID, err)
		}
	}
	return nil
}

func seedAdmin(ctx context.Context, store *repository.Store, username string) error {
	users := service.NewUserService(store)
	if _, err := store.GetUserByUsername(ctx, username); err == nil {
		logger.Info("admin user already present", zap.String("username", username))
		return nil
	}

	password := os.Getenv("KUBDEV_ADMIN_PASSWORD")
	generated := password == ""
	if generated {
		user, err := users.EnsureUser(ctx, username)
		if err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		logger.Warn("admin user created with a random password; set KUBDEV_ADMIN_PASSWORD to control it",
			zap.String("username", user.Username))
		return nil
	}

	if _, err := users.Register(ctx, username, password); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	logger.Info("admin user created", zap.String("username", username))
	return nil
}
