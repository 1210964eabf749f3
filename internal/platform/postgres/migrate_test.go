package postgres

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationsDir() string {
	return filepath.Join("..", "..", "..", "db", "migrations")
}

func TestPendingFilesOrdersUpMigrationsOnly(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_b.up.sql":   {Data: []byte("SELECT 2")},
		"0001_a.up.sql":   {Data: []byte("SELECT 1")},
		"0001_a.down.sql": {Data: []byte("SELECT 0")},
		"README.md":       {Data: []byte("docs")},
	}
	files, err := PendingFiles(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, files)
}

func TestEveryUpMigrationHasDown(t *testing.T) {
	files, err := PendingFiles(os.DirFS(migrationsDir()))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		down := strings.TrimSuffix(f, ".up.sql") + ".down.sql"
		_, err := os.Stat(filepath.Join(migrationsDir(), down))
		assert.NoError(t, err, "missing down migration for %s", f)
	}
}

func TestAuditLogImmutabilityMigrationUsesBlockingTriggers(t *testing.T) {
	sqlBytes, err := os.ReadFile(filepath.Join(migrationsDir(), "0002_audit_logs_immutability.up.sql"))
	require.NoError(t, err)
	sqlText := string(sqlBytes)

	for _, snippet := range []string{
		"audit_logs_immutable_guard",
		"RAISE EXCEPTION",
		"CREATE TRIGGER trg_audit_logs_block_update",
		"CREATE TRIGGER trg_audit_logs_block_delete",
	} {
		assert.Contains(t, sqlText, snippet)
	}
	assert.NotContains(t, sqlText, "DO INSTEAD NOTHING")
}
