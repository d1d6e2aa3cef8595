package policy

import (
	"testing"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool { return &b }

func vol(id, name, project string, sizeGB int, bootable bool, meta map[string]string) VolumeContext {
	return VolumeContext{
		Volume: types.Volume{
			ID: id, Name: name, ProjectID: project,
			SizeGB: sizeGB, Bootable: bootable, Metadata: meta,
		},
		TenantName: "acme",
		DomainName: "default",
	}
}

func TestFirstMatchWins(t *testing.T) {
	rules := []Rule{
		{
			Name: "exclude-scratch", Priority: 10,
			Match:        MatchSpec{VolumeName: []string{"scratch"}},
			AutoSnapshot: false,
		},
		{
			Name: "default-daily", Priority: 20,
			Match:        MatchSpec{},
			AutoSnapshot: true,
			Policies:     []string{"daily_5"},
			Retention:    map[string]int{"daily_5": 5},
		},
	}
	engine := NewEngine(rules)

	vols := []VolumeContext{
		vol("v1", "scratch-data", "p1", 10, false, nil),
		vol("v2", "app-db", "p1", 10, false, nil),
	}
	decisions := engine.Evaluate(vols, nil, time.Now())
	require.Len(t, decisions, 2)

	assert.True(t, decisions[0].Excluded)
	assert.Nil(t, decisions[0].Assignment)
	assert.Equal(t, "exclude-scratch", decisions[0].Rule.Name)

	require.NotNil(t, decisions[1].Assignment)
	assert.Equal(t, "rule:default-daily", decisions[1].Assignment.PolicySetID)
	assert.Equal(t, types.AssignmentSourceRule, decisions[1].Assignment.Source)
	assert.True(t, decisions[1].Assignment.AutoSnapshot)
}

func TestNoRuleMatchMeansNoAssignment(t *testing.T) {
	rules := []Rule{{
		Name: "bootable-only", Priority: 1,
		Match:        MatchSpec{Bootable: boolPtr(true)},
		AutoSnapshot: true,
		Policies:     []string{"daily_5"},
		Retention:    map[string]int{"daily_5": 5},
	}}
	engine := NewEngine(rules)

	decisions := engine.Evaluate([]VolumeContext{
		vol("v1", "data", "p1", 10, false, nil),
	}, nil, time.Now())
	require.Len(t, decisions, 1)
	assert.Nil(t, decisions[0].Rule)
	assert.Nil(t, decisions[0].Assignment)
	assert.False(t, decisions[0].Excluded)
}

func TestMatchPredicatesAreANDed(t *testing.T) {
	rule := Rule{
		Name: "narrow", Priority: 1,
		Match: MatchSpec{
			TenantName:       []string{"acme"},
			SizeGB:           &SizeRange{Min: 10, Max: 100},
			MetadataEquals:   map[string]string{"tier": "gold"},
			MetadataContains: map[string]string{"app": "data"},
		},
		AutoSnapshot: true,
		Policies:     []string{"daily_5"},
		Retention:    map[string]int{"daily_5": 5},
	}
	engine := NewEngine([]Rule{rule})

	match := vol("v1", "db", "p1", 50, true, map[string]string{"tier": "gold", "app": "database"})
	tooSmall := vol("v2", "db", "p1", 5, true, map[string]string{"tier": "gold", "app": "database"})
	wrongTier := vol("v3", "db", "p1", 50, true, map[string]string{"tier": "silver", "app": "database"})
	missingMeta := vol("v4", "db", "p1", 50, true, map[string]string{"tier": "gold"})

	decisions := engine.Evaluate([]VolumeContext{match, tooSmall, wrongTier, missingMeta}, nil, time.Now())
	assert.NotNil(t, decisions[0].Assignment)
	assert.Nil(t, decisions[1].Assignment)
	assert.Nil(t, decisions[2].Assignment)
	assert.Nil(t, decisions[3].Assignment)
}

func TestExclusionsBehaveLikeOptOut(t *testing.T) {
	rules := []Rule{{
		Name: "all", Priority: 1,
		AutoSnapshot: true,
		Policies:     []string{"daily_5"},
		Retention:    map[string]int{"daily_5": 5},
	}}
	engine := NewEngine(rules)

	now := time.Now().UTC()
	exclusions := []*types.Exclusion{
		{ID: "e1", VolumeID: "v1"},                                          // permanent
		{ID: "e2", VolumeID: "v2", ExpiresAt: now.Add(-time.Hour)},          // expired
		{ID: "e3", ProjectID: "p-quarantine", ExpiresAt: now.Add(time.Hour)}, // project-wide
	}

	vols := []VolumeContext{
		vol("v1", "a", "p1", 10, false, nil),
		vol("v2", "b", "p1", 10, false, nil),
		vol("v3", "c", "p-quarantine", 10, false, nil),
	}
	decisions := engine.Evaluate(vols, exclusions, now)
	assert.True(t, decisions[0].Excluded)
	assert.NotNil(t, decisions[1].Assignment) // expired exclusion no longer holds
	assert.True(t, decisions[2].Excluded)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	rules := []Rule{
		{Name: "a", Priority: 5, Match: MatchSpec{VolumeName: []string{"db"}},
			AutoSnapshot: true, Policies: []string{"daily_5"}, Retention: map[string]int{"daily_5": 3}},
		{Name: "b", Priority: 1, Match: MatchSpec{VolumeName: []string{"db"}},
			AutoSnapshot: true, Policies: []string{"monthly_1st"}, Retention: map[string]int{"monthly_1st": 12}},
	}
	// Engine expects pre-sorted rules, as produced by ParseRules.
	sorted, err := ParseRules(mustYAML(t, rules))
	require.NoError(t, err)
	engine := NewEngine(sorted)

	vols := []VolumeContext{vol("v1", "db-1", "p1", 10, false, nil)}
	first := engine.Evaluate(vols, nil, time.Now())
	second := engine.Evaluate(vols, nil, time.Now())
	require.Equal(t, first[0].Rule.Name, second[0].Rule.Name)
	assert.Equal(t, "b", first[0].Rule.Name) // lower priority number wins
}
