// Package policy defines the polstore data model: policies, rules,
// principal assignments, and the resolution from rules to principals.
package policy

// Action represents the effect of a rule.
// It is a string type for JSON compatibility.
type Action string

const (
	// ActionAllow grants access to the rule's resource.
	ActionAllow Action = "ALLOW"
	// ActionDeny denies access to the rule's resource.
	ActionDeny Action = "DENY"
)

// IsValid returns true if the action is one of the closed set {ALLOW, DENY}.
func (a Action) IsValid() bool {
	return a == ActionAllow || a == ActionDeny
}

// Status represents the lifecycle state of a policy.
type Status string

const (
	// StatusActive marks a live policy, visible to all read paths.
	StatusActive Status = "ACTIVE"
	// StatusDeleted marks a soft-deleted policy. Terminal: a deleted
	// policy is invisible to default reads and accepts no further updates.
	StatusDeleted Status = "DELETED"
)

// IsValid returns true if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusDeleted
}

// Rule is an action/resource/condition triple.
//
// ID is the semantic identifier referenced by assignments; it is distinct
// from the storage key under which the rule lives in a RuleSet.
type Rule struct {
	ID         string `json:"id"`
	Action     Action `json:"action"`
	Resource   string `json:"resource"`
	Conditions string `json:"conditions"`
}

// RuleSet maps free-form storage keys to rules. The key is only a storage
// address; Rule.ID carries the meaning. Distinct keys may hold rules with
// colliding IDs, and an ID may go unreferenced by any assignment.
type RuleSet map[string]Rule

// Assignments binds group and user names to ordered lists of rule IDs.
// Referenced rule IDs need not exist in the owning policy's rule set;
// dangling references are dropped during resolution.
type Assignments struct {
	Groups map[string][]string `json:"groups"`
	Users  map[string][]string `json:"users"`
}

// Policy is a versioned, tenant-scoped bundle of rules and assignments.
type Policy struct {
	PolicyID    string      `json:"policyId"`
	Version     string      `json:"version"`
	TenantID    string      `json:"tenantId"`
	Location    string      `json:"location"`
	Rules       RuleSet     `json:"rules"`
	Assignments Assignments `json:"assignments"`
	Status      Status      `json:"status,omitempty"`
}

// Document wraps exactly one policy; it is the unit of storage and transfer.
type Document struct {
	Policy Policy `json:"policy"`
}

// EffectiveStatus returns the policy's status, defaulting to ACTIVE
// when the field is absent.
func (p *Policy) EffectiveStatus() Status {
	if p.Status == "" {
		return StatusActive
	}
	return p.Status
}

// RuleCount returns the number of stored rules.
func (p *Policy) RuleCount() int {
	return len(p.Rules)
}

// GroupCount returns the number of group assignments.
func (p *Policy) GroupCount() int {
	return len(p.Assignments.Groups)
}

// UserCount returns the number of user assignments.
func (p *Policy) UserCount() int {
	return len(p.Assignments.Users)
}
