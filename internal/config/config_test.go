package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server_id: ws-test
cache_ttl_ms: 2000
modules:
  pt:
    label: Clinic
    tables: [clinic_patients, clinic_visits, clinic_patients, "  "]
    schema_fallback_path: schema/pt.json
  fin:
    label: Finance
    tables: [finance_entries]
    schema_fallback_path: schema/fin.json
branches:
  branches:
    clinic:
      label: Main Clinic
      modules: [pt]
  patterns:
    - match: "^fin-"
      modules: [fin]
  defaults: [pt, fin]
security:
  secret_fields:
    clinic_patients: [ssn]
  locked_tables: [clinic_audit]
archive:
  driver: sqlite3
  dsn: file:journal.db
  interval_ms: 60000
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "modstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ws-test", cfg.ServerID)
	assert.Equal(t, 2*time.Second, cfg.CacheTTL)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "data", "branches"), cfg.BranchesDir)

	def, err := cfg.Module("pt")
	require.NoError(t, err)
	// duplicates and blanks dropped, order preserved
	assert.Equal(t, []string{"clinic_patients", "clinic_visits"}, def.Tables)

	assert.Equal(t, "sqlite3", cfg.Archive.Driver)
	assert.Equal(t, time.Minute, cfg.Archive.Interval)
	assert.Equal(t, []string{"pt"}, cfg.Branches.Branches["clinic"].Modules)
	assert.Equal(t, []string{"ssn"}, cfg.Security.SecretFields["clinic_patients"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := writeConfig(t, "modules: [not, a, map]")
	_, err := Load(path)
	require.Error(t, err)
}

func TestUnknownModule(t *testing.T) {
	cfg := Default(t.TempDir())
	_, err := cfg.Module("ghost")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestDefaults(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)

	assert.Equal(t, root, cfg.RootDir)
	assert.Equal(t, filepath.Join(root, "data", "branches"), cfg.BranchesDir)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, DefaultArchiveInterval, cfg.Archive.Interval)
	assert.Equal(t, "pgx", cfg.Archive.Driver)
	assert.NotEmpty(t, cfg.ServerID)
}

func TestIntervalFloor(t *testing.T) {
	path := writeConfig(t, "archive:\n  interval_ms: 1\ncache_ttl_ms: 1\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, MinArchiveInterval, cfg.Archive.Interval)
	assert.Equal(t, MinCacheTTL, cfg.CacheTTL)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MODSTORE_JOURNAL_DSN", "postgres://journal")
	t.Setenv("MODSTORE_JOURNAL_DRIVER", "pgx")
	t.Setenv("MODSTORE_ARCHIVE_DISABLED", "true")
	t.Setenv("MODSTORE_ARCHIVE_INTERVAL_MS", "30000")
	t.Setenv("MODSTORE_SERVER_ID", "ws-override")

	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://journal", cfg.Archive.DSN)
	assert.Equal(t, "pgx", cfg.Archive.Driver)
	assert.True(t, cfg.Archive.Disabled)
	assert.Equal(t, 30*time.Second, cfg.Archive.Interval)
	assert.Equal(t, "ws-override", cfg.ServerID)
}
