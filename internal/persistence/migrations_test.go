package persistence_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"go.uber.org/zap"

	"github.com/spec-kit/case-engine/internal/persistence"
)

func TestPendingMigrationsOrdersSQLFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.sql", "0001_a.sql", "README.md"} {
		gt.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600)).Required()
	}
	gt.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o700)).Required()

	names, err := persistence.PendingMigrations(dir)
	gt.NoError(t, err).Required()
	gt.Value(t, names).Equal([]string{"0001_a.sql", "0002_b.sql"})
}

func TestPendingMigrationsMissingDir(t *testing.T) {
	_, err := persistence.PendingMigrations(filepath.Join(t.TempDir(), "absent"))
	gt.Value(t, err).NotNil()
}

func TestRepositoryMigrationsArePresent(t *testing.T) {
	names, err := persistence.PendingMigrations(filepath.Join("..", "..", "migrations"))
	gt.NoError(t, err).Required()
	gt.Array(t, names).Length(1)
}

func TestRunMigrationsWithoutPool(t *testing.T) {
	gt.NoError(t, persistence.RunMigrations(context.Background(), nil, "migrations", zap.NewNop()))
}

func TestDisabledClients(t *testing.T) {
	var pg *persistence.Postgres
	gt.Bool(t, pg.Enabled()).False()
	pg.Close()

	r := &persistence.Redis{}
	gt.Bool(t, r.Enabled()).False()
	gt.Value(t, r.Ping(context.Background())).Equal(persistence.ErrRedisDisabled)
}
