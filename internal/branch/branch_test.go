package branch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osplatform/modstore/internal/config"
	"github.com/osplatform/modstore/internal/hybrid"
	"github.com/osplatform/modstore/internal/logging"
	"github.com/osplatform/modstore/internal/redact"
	"github.com/osplatform/modstore/internal/testutil"
)

func testRouter(t *testing.T) *Router {
	t.Helper()
	return NewRouter(config.BranchConfig{
		Branches: map[string]config.BranchEntry{
			"clinic": {Label: "Main Clinic", Modules: []string{"pt"}},
		},
		Patterns: []config.Pattern{
			{Match: "^fin-", Modules: []string{"fin"}},
			{Match: "[invalid", Modules: []string{"never"}},
		},
		Defaults: []string{"pt", "fin"},
	}, logging.NewNop())
}

func TestRouterExplicitEntryWins(t *testing.T) {
	r := testRouter(t)
	assert.Equal(t, []string{"pt"}, r.Modules("clinic"))
	assert.Equal(t, "Main Clinic", r.Label("clinic"))
}

func TestRouterPatternMatch(t *testing.T) {
	r := testRouter(t)
	assert.Equal(t, []string{"fin"}, r.Modules("fin-east"))
	assert.Equal(t, "fin-east", r.Label("fin-east"))
}

func TestRouterDefaults(t *testing.T) {
	r := testRouter(t)
	assert.Equal(t, []string{"pt", "fin"}, r.Modules("unknown-branch"))
}

func TestRouterInvalidPatternSkipped(t *testing.T) {
	r := testRouter(t)
	// the broken pattern never routes; defaults apply
	assert.Equal(t, []string{"pt", "fin"}, r.Modules("[invalid"))
}

func builderEnv(t *testing.T) (*testutil.Env, *Builder) {
	t.Helper()
	env := testutil.NewEnv(t)
	env.AddModule("pt", "Clinic", "clinic_patients")
	env.WriteCentralSchema("pt", "clinic_patients")
	env.Config.Branches.Defaults = []string{"pt"}
	env.Config.Security = config.SecurityConfig{
		SecretFields: map[string][]string{"clinic_patients": {"ssn"}},
		LockedTables: []string{"clinic_audit"},
	}

	router := NewRouter(env.Config.Branches, env.Logger)
	policy := redact.NewPolicy(env.Config.Security)
	b := NewBuilder(env.Config, router, env.Registry, policy, env.Logger)
	b.now = env.Clock.Now
	return env, b
}

func TestBuildSnapshotGolden(t *testing.T) {
	env, b := builderEnv(t)
	env.WriteCentralSeed("pt", hybrid.Document{
		Tables: map[string][]hybrid.Record{
			"clinic_patients": {{"id": "p1", "name": "Ali", "ssn": "123-45-6789"}},
			"clinic_audit":    {{"id": "a1"}},
		},
	})

	snapshot, err := b.BuildSnapshot(context.Background(), "clinic")
	require.NoError(t, err)

	data, err := json.MarshalIndent(snapshot, "", "  ")
	require.NoError(t, err)
	data = append(data, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "clinic_snapshot", data)
}

func TestBuildSnapshotOmitsFailingModule(t *testing.T) {
	env, b := builderEnv(t)
	// fin's central schema is never written, so ensuring it fails
	env.AddModule("fin", "Finance", "finance_entries")
	env.Config.Branches.Defaults = []string{"pt", "fin"}

	snapshot, err := b.BuildSnapshot(context.Background(), "clinic")
	require.NoError(t, err)
	assert.Contains(t, snapshot.Modules, "pt")
	assert.NotContains(t, snapshot.Modules, "fin")
}

func TestSummaries(t *testing.T) {
	env, b := builderEnv(t)
	env.WriteCentralSeed("pt", hybrid.Document{
		Tables: map[string][]hybrid.Record{"clinic_patients": {{"id": "p1"}}},
	})

	summaries := b.Summaries(context.Background(), "clinic")
	require.Len(t, summaries, 1)
	assert.Equal(t, "pt", summaries[0].ModuleID)
	assert.Equal(t, "Clinic", summaries[0].Label)
	assert.Equal(t, int64(1), summaries[0].Version)
	assert.Equal(t, 1, summaries[0].Meta["counter"])
}
