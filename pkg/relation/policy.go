// Package relation implements the Relation Engine (spec §4.3): sibling,
// child and free relations between entity records, and the three-phase
// deletion algorithm (Plan, Apply, CleanUp) that honors each edge's
// deletion policy.
package relation

import "github.com/kittclouds/reindeer/pkg/family"

// Kind and Policy are declared in package family, beside family.Edge (so
// the family package, which both pkg/entity and this package depend on, has
// no reverse dependency on relation); these aliases let the rest of this module spell them
// relation.Kind / relation.Policy as the domain vocabulary suggests.
type (
	Kind   = family.Kind
	Policy = family.Policy
)

const (
	KindSibling = family.KindSibling
	KindChild   = family.KindChild
	KindFree    = family.KindFree
)

const (
	PolicyCascade   = family.PolicyCascade
	PolicyBreakLink = family.PolicyBreakLink
	PolicyError     = family.PolicyError
)
