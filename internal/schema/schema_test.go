package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patientsSchema = `{
	"tables": [
		{
			"name": "clinic_patients",
			"label": "Patients",
			"columns": [
				{"name": "id", "type": "string", "required": true},
				{"name": "name", "type": "string"},
				{"name": "ssn", "type": "string", "displayHint": "masked"}
			]
		}
	]
}`

func TestLoadTopLevelTables(t *testing.T) {
	e := New()
	require.NoError(t, e.Load([]byte(patientsSchema), "patients.json"))

	table, err := e.GetTable("clinic_patients")
	require.NoError(t, err)
	assert.Equal(t, "Patients", table.Label)
	require.Len(t, table.Columns, 3)
	assert.Equal(t, "id", table.Columns[0].Name)
	assert.True(t, table.Columns[0].Required)
}

func TestLoadLegacyNesting(t *testing.T) {
	e := New()
	raw := `{"schema": {"tables": [{"name": "finance_entries"}]}}`
	require.NoError(t, e.Load([]byte(raw), "fin.json"))
	assert.True(t, e.HasTable("finance_entries"))
}

func TestLoadMergesByName(t *testing.T) {
	e := New()
	require.NoError(t, e.Load([]byte(`{"tables": [{"name": "a"}, {"name": "b"}]}`), "one"))
	require.NoError(t, e.Load([]byte(`{"tables": [{"name": "b", "label": "Replaced"}, {"name": "c"}]}`), "two"))

	assert.Equal(t, []string{"a", "b", "c"}, e.TableNames())
	b, err := e.GetTable("b")
	require.NoError(t, err)
	assert.Equal(t, "Replaced", b.Label)
}

func TestLoadRejectsMalformedShape(t *testing.T) {
	e := New()
	cases := map[string]string{
		"tables not a list":  `{"tables": {"name": "x"}}`,
		"table without name": `{"tables": [{"label": "missing name"}]}`,
		"empty table name":   `{"tables": [{"name": ""}]}`,
		"column not object":  `{"tables": [{"name": "x", "columns": ["id"]}]}`,
		"not json":           `tables:`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, e.Load([]byte(raw), name))
		})
	}
	// nothing merged from rejected documents
	assert.Empty(t, e.TableNames())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "patients.json")
	require.NoError(t, os.WriteFile(path, []byte(patientsSchema), 0o644))

	e := New()
	require.NoError(t, e.LoadFromFile(path))
	assert.True(t, e.HasTable("clinic_patients"))

	err := e.LoadFromFile(filepath.Join(dir, "absent.json"))
	require.Error(t, err)
}

func TestGetTableUnknown(t *testing.T) {
	e := New()
	_, err := e.GetTable("ghost")
	assert.ErrorIs(t, err, ErrUnknownTable)
}
