package policy

import (
	"fmt"
	"os"
	"sort"

	"github.com/cloudmason/snapguard/pkg/log"
	"gopkg.in/yaml.v3"
)

// SizeRange is an inclusive size predicate in gigabytes. Zero Max means
// unbounded above.
type SizeRange struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// MatchSpec is the capability set of one rule. Every supplied field must
// match (logical AND); within a list-valued field any element matches.
type MatchSpec struct {
	TenantName       []string          `json:"tenant_name,omitempty" yaml:"tenant_name,omitempty"`
	DomainName       []string          `json:"domain_name,omitempty" yaml:"domain_name,omitempty"`
	VolumeName       []string          `json:"volume_name,omitempty" yaml:"volume_name,omitempty"` // substring match
	SizeGB           *SizeRange        `json:"size_gb,omitempty" yaml:"size_gb,omitempty"`
	Bootable         *bool             `json:"bootable,omitempty" yaml:"bootable,omitempty"`
	MetadataEquals   map[string]string `json:"metadata_equals,omitempty" yaml:"metadata_equals,omitempty"`
	MetadataContains map[string]string `json:"metadata_contains,omitempty" yaml:"metadata_contains,omitempty"`
}

// Rule is one entry of the declarative rule document.
type Rule struct {
	Name         string         `json:"name" yaml:"name"`
	Priority     int            `json:"priority" yaml:"priority"` // lower = higher precedence
	Match        MatchSpec      `json:"match" yaml:"match"`
	AutoSnapshot bool           `json:"auto_snapshot" yaml:"auto_snapshot"`
	Policies     []string       `json:"policies" yaml:"policies"`
	Retention    map[string]int `json:"retention" yaml:"retention"`
}

// knownMatchKeys is the closed set of match predicate names. Anything else in
// a rule file is ignored with a warning.
var knownMatchKeys = map[string]bool{
	"tenant_name":       true,
	"domain_name":       true,
	"volume_name":       true,
	"size_gb":           true,
	"bootable":          true,
	"metadata_equals":   true,
	"metadata_contains": true,
}

// LoadRules reads and validates the rule document at path. The document is a
// list of rule objects; both JSON and YAML encodings are accepted. Rules come
// back sorted by priority, ready for first-match evaluation.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates a rule document.
func ParseRules(data []byte) ([]Rule, error) {
	var rules []Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	// A second loose pass catches match keys the typed decode silently drops.
	var raw []struct {
		Name  string         `yaml:"name"`
		Match map[string]any `yaml:"match"`
	}
	if err := yaml.Unmarshal(data, &raw); err == nil {
		logger := log.WithComponent("policy")
		for _, r := range raw {
			for key := range r.Match {
				if !knownMatchKeys[key] {
					logger.Warn().Str("rule", r.Name).Str("key", key).
						Msg("Ignoring unknown match key")
				}
			}
		}
	}

	seen := make(map[string]bool, len(rules))
	for i := range rules {
		if err := validateRule(&rules[i]); err != nil {
			return nil, fmt.Errorf("rule %q: %w", rules[i].Name, err)
		}
		if seen[rules[i].Name] {
			return nil, fmt.Errorf("duplicate rule name %q", rules[i].Name)
		}
		seen[rules[i].Name] = true
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority < rules[j].Priority
	})
	return rules, nil
}

func validateRule(r *Rule) error {
	if r.Name == "" {
		return fmt.Errorf("rule has no name")
	}
	if !r.AutoSnapshot {
		// Opt-out rules carry no policies; nothing more to check.
		return nil
	}
	if len(r.Policies) == 0 {
		return fmt.Errorf("auto_snapshot rule lists no policies")
	}
	for _, p := range r.Policies {
		keep, ok := r.Retention[p]
		if !ok {
			return fmt.Errorf("policy %q has no retention entry", p)
		}
		if keep <= 0 {
			return fmt.Errorf("policy %q retention must be positive, got %d", p, keep)
		}
	}
	if r.Match.SizeGB != nil && r.Match.SizeGB.Max > 0 && r.Match.SizeGB.Min > r.Match.SizeGB.Max {
		return fmt.Errorf("size_gb range is inverted")
	}
	return nil
}
