package policy

import (
	"strings"
	"time"

	"github.com/cloudmason/snapguard/pkg/types"
)

// VolumeContext is one volume enriched with the tenant attributes rules can
// match on. The worker builds these from the inventory mirror.
type VolumeContext struct {
	Volume     types.Volume
	TenantName string
	DomainName string
}

// Decision is the engine's verdict for one volume.
type Decision struct {
	VolumeID   string
	Rule       *Rule // nil when no rule matched
	Excluded   bool  // matched an opt-out rule or an active exclusion
	Assignment *types.Assignment
	PolicySet  *types.PolicySet
}

// Engine evaluates the rule document against volume inventory. It is
// stateless: two calls with identical inputs produce identical outputs.
type Engine struct {
	rules []Rule
}

// NewEngine wraps an already-validated, priority-sorted rule list.
func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate computes the decision set for the given volumes. Exclusions still
// active at now behave exactly like an opt-out rule match. First matching
// rule wins; a volume matched by no rule receives no assignment.
func (e *Engine) Evaluate(vols []VolumeContext, exclusions []*types.Exclusion, now time.Time) []Decision {
	excludedVolumes := make(map[string]bool)
	excludedProjects := make(map[string]bool)
	for _, ex := range exclusions {
		if !ex.Active(now) {
			continue
		}
		if ex.VolumeID != "" {
			excludedVolumes[ex.VolumeID] = true
		}
		if ex.ProjectID != "" {
			excludedProjects[ex.ProjectID] = true
		}
	}

	decisions := make([]Decision, 0, len(vols))
	for i := range vols {
		vc := &vols[i]
		d := Decision{VolumeID: vc.Volume.ID}

		if excludedVolumes[vc.Volume.ID] || excludedProjects[vc.Volume.ProjectID] {
			d.Excluded = true
			decisions = append(decisions, d)
			continue
		}

		for j := range e.rules {
			rule := &e.rules[j]
			if !rule.Match.matches(vc) {
				continue
			}
			d.Rule = rule
			if !rule.AutoSnapshot {
				d.Excluded = true
				break
			}
			ps := policySetFor(rule)
			d.PolicySet = ps
			d.Assignment = &types.Assignment{
				VolumeID:     vc.Volume.ID,
				PolicySetID:  ps.ID,
				AutoSnapshot: true,
				Source:       types.AssignmentSourceRule,
			}
			break
		}
		decisions = append(decisions, d)
	}
	return decisions
}

// policySetFor derives the stored PolicySet from a rule. The ID is stable
// across passes so re-evaluation upserts rather than duplicates.
func policySetFor(r *Rule) *types.PolicySet {
	retention := make(map[string]int, len(r.Retention))
	for k, v := range r.Retention {
		retention[k] = v
	}
	return &types.PolicySet{
		ID:        "rule:" + r.Name,
		Name:      r.Name,
		Scope:     "global",
		Policies:  append([]string(nil), r.Policies...),
		Retention: retention,
		Priority:  r.Priority,
		IsActive:  true,
	}
}

func (m *MatchSpec) matches(vc *VolumeContext) bool {
	if len(m.TenantName) > 0 && !containsExact(m.TenantName, vc.TenantName) {
		return false
	}
	if len(m.DomainName) > 0 && !containsExact(m.DomainName, vc.DomainName) {
		return false
	}
	if len(m.VolumeName) > 0 && !containsSubstring(m.VolumeName, vc.Volume.Name) {
		return false
	}
	if m.SizeGB != nil {
		if vc.Volume.SizeGB < m.SizeGB.Min {
			return false
		}
		if m.SizeGB.Max > 0 && vc.Volume.SizeGB > m.SizeGB.Max {
			return false
		}
	}
	if m.Bootable != nil && vc.Volume.Bootable != *m.Bootable {
		return false
	}
	for key, want := range m.MetadataEquals {
		if vc.Volume.Metadata[key] != want {
			return false
		}
	}
	for key, want := range m.MetadataContains {
		got, ok := vc.Volume.Metadata[key]
		if !ok || !strings.Contains(got, want) {
			return false
		}
	}
	return true
}

func containsExact(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsSubstring(patterns []string, name string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}
