package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"tables": [
		{
			"name": "clinic_patients",
			"columns": [
				{"name": "id", "type": "string", "required": true},
				{"name": "name", "type": "string"},
				{"name": "ssn", "type": "string"}
			]
		}
	]
}`

const testSeed = `{
	"version": 1,
	"tables": {
		"clinic_patients": [
			{"id": "p1", "name": "Ali", "ssn": "123-45-6789"}
		]
	}
}`

// writeFixture lays out a config file, central schema, and central seed in a
// temp root and returns the config path.
func writeFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	configYAML := `
server_id: ws-test
modules:
  pt:
    label: Clinic
    tables: [clinic_patients]
    schema_fallback_path: schema/pt.json
    seed_fallback_path: seeds/pt.json
branches:
  defaults: [pt]
security:
  secret_fields:
    clinic_patients: [ssn]
`
	for path, contents := range map[string]string{
		"modstore.yaml":  configYAML,
		"schema/pt.json": testSchema,
		"seeds/pt.json":  testSeed,
	} {
		full := filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(contents), 0o644))
	}
	return filepath.Join(root, "modstore.yaml")
}

// execute runs the CLI with args and returns stdout and the command error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestValidateCommand(t *testing.T) {
	cfg := writeFixture(t)
	out, err := execute(t, "validate", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
}

func TestValidateCommandMissingTable(t *testing.T) {
	cfg := writeFixture(t)
	// require a table the schema does not declare
	raw, err := os.ReadFile(cfg)
	require.NoError(t, err)
	patched := strings.Replace(string(raw), "tables: [clinic_patients]", "tables: [clinic_patients, clinic_visits]", 1)
	require.NoError(t, os.WriteFile(cfg, []byte(patched), 0o644))

	_, err = execute(t, "validate", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestValidateCommandRejectsBadFormat(t *testing.T) {
	_, err := execute(t, "validate", "--format", "xml")
	require.Error(t, err)
}

func TestSnapshotCommandRedacts(t *testing.T) {
	cfg := writeFixture(t)
	out, err := execute(t, "snapshot", "clinic", "--config", cfg, "--format", "json")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, out, `"branchId": "clinic"`)
	assert.Contains(t, out, "Ali")
	assert.NotContains(t, out, "123-45-6789")
}

func TestTablesCommand(t *testing.T) {
	cfg := writeFixture(t)
	out, err := execute(t, "tables", "pt", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "clinic_patients")
	assert.Contains(t, out, "required")
}

func TestQueryCommand(t *testing.T) {
	cfg := writeFixture(t)
	// build the store first so the live document exists
	_, err := execute(t, "snapshot", "clinic", "--config", cfg)
	require.NoError(t, err)

	out, err := execute(t, "query", "clinic", "pt", "SELECT * FROM clinic_patients", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `"id":"p1"`)

	_, err = execute(t, "query", "clinic", "pt", "DELETE FROM clinic_patients", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestHydrateCommand(t *testing.T) {
	cfg := writeFixture(t)
	_, err := execute(t, "snapshot", "clinic", "--config", cfg)
	require.NoError(t, err)

	out, err := execute(t, "hydrate", "--config", cfg, "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, "clinic::pt")
}

func TestArchiveCommandRequiresDSN(t *testing.T) {
	cfg := writeFixture(t)
	_, err := execute(t, "archive", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestArchiveCommandSQLite(t *testing.T) {
	cfg := writeFixture(t)
	_, err := execute(t, "snapshot", "clinic", "--config", cfg)
	require.NoError(t, err)

	dsn := filepath.Join(t.TempDir(), "journal.db")
	out, err := execute(t, "archive", "--config", cfg, "--driver", "sqlite3", "--dsn", dsn)
	require.NoError(t, err)
	assert.Contains(t, out, "archived")
	assert.FileExists(t, dsn)
}
