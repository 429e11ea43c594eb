package persistence

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
)

const schemaMigrationsDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
    name       TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PendingMigrations lists the .sql files in dir in apply order.
func PendingMigrations(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, goerr.Wrap(err, "read migrations", goerr.V("dir", dir))
	}

	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		filenames = append(filenames, entry.Name())
	}
	sort.Strings(filenames)
	return filenames, nil
}

// RunMigrations applies every migration in dir that schema_migrations has not recorded.
// Each file runs in its own transaction together with its bookkeeping row.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, dir string, logger *zap.Logger) error {
	if pool == nil {
		logger.Warn("no postgres pool available; skipping migrations")
		return nil
	}

	filenames, err := PendingMigrations(dir)
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, schemaMigrationsDDL); err != nil {
		return goerr.Wrap(err, "create schema_migrations")
	}

	applied := 0
	for _, name := range filenames {
		var exists bool
		if err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name=$1)`, name).Scan(&exists); err != nil {
			return goerr.Wrap(err, "check migration", goerr.V("file", name))
		}
		if exists {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return goerr.Wrap(err, "read migration", goerr.V("file", name))
		}

		logger.Info("applying migration", zap.String("file", name))
		tx, err := pool.Begin(ctx)
		if err != nil {
			return goerr.Wrap(err, "begin migration", goerr.V("file", name))
		}
		if _, err := tx.Exec(ctx, string(content)); err != nil {
			_ = tx.Rollback(ctx)
			return goerr.Wrap(err, "apply migration", goerr.V("file", name))
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return goerr.Wrap(err, "record migration", goerr.V("file", name))
		}
		if err := tx.Commit(ctx); err != nil {
			return goerr.Wrap(err, "commit migration", goerr.V("file", name))
		}
		applied++
	}

	logger.Info("migrations applied", zap.Int("applied", applied), zap.Int("total", len(filenames)))
	return nil
}
