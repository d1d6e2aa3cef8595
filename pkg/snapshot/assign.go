package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudmason/snapguard/pkg/log"
	"github.com/cloudmason/snapguard/pkg/policy"
	"github.com/cloudmason/snapguard/pkg/types"
)

// runPolicyAssignment is stage A: load the rule document, evaluate it against
// current volume inventory, and persist the resulting assignments. Rule-load
// failures propagate so the supervisor can restart the process with a fixed
// rule file.
func (w *Worker) runPolicyAssignment(ctx context.Context) error {
	logger := log.WithComponent("policy-assign")

	rules, err := policy.LoadRules(w.cfg.RulesFile)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	inv, err := w.syncInventory(ctx)
	if err != nil {
		return err
	}

	exclusions, err := w.store.ListExclusions()
	if err != nil {
		return err
	}

	contexts := make([]policy.VolumeContext, 0, len(inv.Volumes))
	for _, vol := range inv.Volumes {
		contexts = append(contexts, policy.VolumeContext{
			Volume:     vol,
			TenantName: inv.tenantName(vol.ProjectID),
			DomainName: inv.domainName(vol.ProjectID),
		})
	}

	engine := policy.NewEngine(rules)
	decisions := engine.Evaluate(contexts, exclusions, time.Now().UTC())

	// Policy sets first so assignments never dangle.
	seenSets := make(map[string]bool)
	assigned, excluded := 0, 0
	for i := range decisions {
		d := &decisions[i]
		if d.PolicySet != nil && !seenSets[d.PolicySet.ID] {
			if err := w.store.UpsertPolicySet(d.PolicySet); err != nil {
				return err
			}
			seenSets[d.PolicySet.ID] = true
		}
	}

	// Assignments land in bounded chunks, each chunk one transaction.
	var batch []*types.Assignment
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.store.UpsertAssignments(batch); err != nil {
			return err
		}
		assigned += len(batch)
		batch = batch[:0]
		return nil
	}
	for i := range decisions {
		d := &decisions[i]
		switch {
		case d.Assignment != nil:
			batch = append(batch, d.Assignment)
			if len(batch) >= w.cfg.AssignmentChunk {
				if err := flush(); err != nil {
					return err
				}
			}
		case d.Excluded:
			// Opt-out and exclusions drop any rule-sourced assignment.
			if err := w.dropRuleAssignment(d.VolumeID); err != nil {
				return err
			}
			excluded++
		}
	}
	if err := flush(); err != nil {
		return err
	}

	logger.Info().
		Int("volumes", len(contexts)).
		Int("assigned", assigned).
		Int("excluded", excluded).
		Int("rules", len(rules)).
		Msg("Policy assignment pass complete")
	return nil
}

// dropRuleAssignment removes a rule-sourced assignment for an excluded
// volume. Operator-sourced assignments stay.
func (w *Worker) dropRuleAssignment(volumeID string) error {
	existing, err := w.store.GetAssignment(volumeID)
	if err != nil {
		return nil // no assignment to drop
	}
	if existing.Source != types.AssignmentSourceOperator {
		return w.store.DeleteAssignment(volumeID)
	}
	return nil
}
