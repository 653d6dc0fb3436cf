package layout

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osplatform/modstore/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default(t.TempDir())
	cfg.Modules["pt"] = &config.ModuleDefinition{
		Tables:             []string{"clinic_patients"},
		SchemaFallbackPath: "schema/pt.json",
	}
	return cfg
}

func TestEncodeDecodeID(t *testing.T) {
	cases := []struct {
		id      string
		encoded string
	}{
		{"clinic", "clinic"},
		{"clinic/main", "clinic%2Fmain"},
		{"fin 2024", "fin%202024"},
	}
	for _, c := range cases {
		assert.Equal(t, c.encoded, EncodeID(c.id))
		assert.Equal(t, c.id, DecodeID(c.encoded))
	}
}

func TestNormalizeIDComposesUnicode(t *testing.T) {
	composed := "kindergärten"          // ä precomposed
	decomposed := "kindergärten"       // a + combining diaeresis
	assert.Equal(t, composed, NormalizeID(decomposed))
	assert.Equal(t, EncodeID(composed), EncodeID(decomposed))
}

func TestDecodeIDMalformed(t *testing.T) {
	// stray directory names never abort a walk
	assert.Equal(t, "bad%zz", DecodeID("bad%zz"))
}

func TestReadWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")
	in := map[string]any{"version": float64(3), "name": "Ali"}
	require.NoError(t, WriteJSON(path, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), raw[len(raw)-1])

	out := map[string]any{}
	require.NoError(t, ReadJSON(path, &out))
	assert.Equal(t, in, out)
}

func TestReadJSONMissing(t *testing.T) {
	err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &struct{}{})
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}

func TestDescribeFile(t *testing.T) {
	dir := t.TempDir()
	missing, err := DescribeFile(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.False(t, missing.Exists)

	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	present, err := DescribeFile(path)
	require.NoError(t, err)
	assert.True(t, present.Exists)
	assert.False(t, present.MTime.IsZero())

	// directories don't count as files
	described, err := DescribeFile(dir)
	require.NoError(t, err)
	assert.False(t, described.Exists)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.json")
	dst := filepath.Join(dir, "history", "dst.json")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	require.NoError(t, MoveFile(src, dst))
	assert.False(t, FileExists(src))
	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(raw))
}

func TestPathsLayout(t *testing.T) {
	cfg := testConfig(t)
	p := NewPaths(cfg)

	moduleDir := p.BranchModuleDir("clinic", "pt")
	assert.Equal(t, filepath.Join(cfg.BranchesDir, "clinic", "modules", "pt"), moduleDir)

	live, err := p.ModuleLivePath("clinic", "pt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(moduleDir, "live", "data.json"), live)

	events, err := p.ModuleEventsDir("clinic", "pt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(moduleDir, "history", "events"), events)

	archive, err := p.ModuleArchivePath("clinic", "pt", "2026-01-02T03-04-05Z")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(moduleDir, "history", "2026-01-02T03-04-05Z.json"), archive)

	central, err := p.ModuleSchemaFallbackPath("pt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.RootDir, "schema", "pt.json"), central)

	_, err = p.ModuleLivePath("clinic", "ghost")
	assert.ErrorIs(t, err, config.ErrUnknownModule)
}

func TestEnsureBranchModuleLayout(t *testing.T) {
	cfg := testConfig(t)
	p := NewPaths(cfg)
	require.NoError(t, p.EnsureBranchModuleLayout("clinic", "pt"))

	for _, sub := range []string{"live", "history/events", "history/purge"} {
		dir := filepath.Join(p.BranchModuleDir("clinic", "pt"), filepath.FromSlash(sub))
		info, err := os.Stat(dir)
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
}

func TestResolveBranchSchemaPath(t *testing.T) {
	cfg := testConfig(t)
	p := NewPaths(cfg)
	moduleDir := p.BranchModuleDir("clinic", "pt")

	assert.Empty(t, p.ResolveBranchSchemaPath("clinic", "pt"))

	legacy := filepath.Join(moduleDir, "schema", "definition.json")
	require.NoError(t, WriteJSON(legacy, map[string]any{"tables": []any{}}))
	assert.Equal(t, legacy, p.ResolveBranchSchemaPath("clinic", "pt"))

	direct := filepath.Join(moduleDir, "schema.json")
	require.NoError(t, WriteJSON(direct, map[string]any{"tables": []any{}}))
	assert.Equal(t, direct, p.ResolveBranchSchemaPath("clinic", "pt"))
}
