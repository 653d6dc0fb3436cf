package redact

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/hybrid"
)

func testPolicy() *Policy {
	return NewPolicy(config.SecurityConfig{
		SecretFields: map[string][]string{
			"Clinic_Patients": {"ssn", "insuranceNo"},
		},
		LockedTables: []string{" clinic_audit "},
	})
}

func TestRecordStripsSecretFields(t *testing.T) {
	p := testPolicy()
	rec := p.Record("clinic_patients", hybrid.Record{
		"id":   "p1",
		"name": "Ali",
		"ssn":  "123-45-6789",
	})
	require.NotNil(t, rec)
	assert.Equal(t, "Ali", rec["name"])
	assert.NotContains(t, rec, "ssn")
}

func TestTableMatchingIsCaseInsensitive(t *testing.T) {
	p := testPolicy()
	rec := p.Record("CLINIC_PATIENTS", hybrid.Record{"ssn": "x", "id": "p1"})
	require.NotNil(t, rec)
	assert.NotContains(t, rec, "ssn")

	assert.True(t, p.Locked("Clinic_Audit"))
}

func TestLockedTableYieldsNothing(t *testing.T) {
	p := testPolicy()
	assert.Nil(t, p.Record("clinic_audit", hybrid.Record{"id": "a1"}))
	assert.Nil(t, p.Rows("clinic_audit", []hybrid.Record{{"id": "a1"}}))
}

func TestTablesOmitsLocked(t *testing.T) {
	p := testPolicy()
	out := p.Tables(map[string][]hybrid.Record{
		"clinic_patients": {{"id": "p1", "ssn": "123"}},
		"clinic_audit":    {{"id": "a1"}},
	})
	assert.NotContains(t, out, "clinic_audit")
	require.Len(t, out["clinic_patients"], 1)
	assert.NotContains(t, out["clinic_patients"][0], "ssn")
}

func TestSnapshotLeavesSourceUntouched(t *testing.T) {
	p := testPolicy()
	doc := hybrid.Document{
		Version: 3,
		Meta:    map[string]any{"counter": 1},
		Tables: map[string][]hybrid.Record{
			"clinic_patients": {{"id": "p1", "ssn": "123"}},
		},
	}
	redacted := p.Snapshot(doc)
	assert.NotContains(t, redacted.Tables["clinic_patients"][0], "ssn")
	assert.Equal(t, int64(3), redacted.Version)
	// the original record still carries the field
	assert.Contains(t, doc.Tables["clinic_patients"][0], "ssn")
}

func TestUnconfiguredTablePassesThrough(t *testing.T) {
	p := testPolicy()
	rec := p.Record("finance_entries", hybrid.Record{"id": "f1", "amount": 12})
	assert.Equal(t, hybrid.Record{"id": "f1", "amount": 12}, rec)
}
