/*
Package policy evaluates the declarative rule document against volume
inventory and computes policy-set assignments.

Rules are ordered by priority (lower wins) and evaluated first-match: the
first rule whose predicates all hold decides the volume's fate. An opt-out
rule (auto_snapshot=false) excludes the volume; a matching opt-in rule yields
an Assignment pointing at a PolicySet derived from the rule. Volumes matched
by no rule receive no assignment and are never snapshotted.

	rule file ──▶ LoadRules ──▶ Engine.Evaluate(volumes, exclusions)
	                                      │
	                                      ▼
	                    []Decision { Assignment | Excluded | nothing }

The calendar gates (daily_5, monthly_1st, monthly_15th) live here as a pure
function so both the worker and tests share one definition of "scheduled
today". All calendar math is UTC.
*/
package policy
