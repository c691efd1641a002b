package policy

import (
	"encoding/json"
	"sort"
)

// Patch is a sparse update to a stored document. Every field, including
// the nested policy object itself, is optional; absent fields leave the
// stored value untouched.
type Patch struct {
	Policy *PolicyPatch `json:"policy,omitempty"`
}

// PolicyPatch carries the fields of a policy that an update may change.
// A present rules or assignments value replaces the stored map wholesale.
type PolicyPatch struct {
	PolicyID    *string      `json:"policyId,omitempty"`
	Version     *string      `json:"version,omitempty"`
	TenantID    *string      `json:"tenantId,omitempty"`
	Location    *string      `json:"location,omitempty"`
	Rules       RuleSet      `json:"rules,omitempty"`
	Assignments *Assignments `json:"assignments,omitempty"`
	Status      *Status      `json:"status,omitempty"`
}

// ParsePatch decodes an arbitrary JSON payload into a validated Patch.
func ParsePatch(data []byte) (*Patch, *ValidationErrors) {
	var patch Patch
	if err := json.Unmarshal(data, &patch); err != nil {
		errs := &ValidationErrors{}
		errs.add("document", "invalid JSON: "+err.Error())
		return nil, errs
	}
	if errs := patch.Validate(); errs != nil {
		return nil, errs
	}
	return &patch, nil
}

// Validate applies the create-path shape rules to only the fields present.
// Rules supplied in a patch may omit conditions.
func (p *Patch) Validate() *ValidationErrors {
	errs := &ValidationErrors{}
	if p.Policy == nil {
		return nil
	}
	pp := p.Policy

	if pp.PolicyID != nil {
		requireString(errs, "policy.policyId", *pp.PolicyID)
	}
	if pp.Version != nil {
		requireString(errs, "policy.version", *pp.Version)
	}
	if pp.TenantID != nil {
		requireString(errs, "policy.tenantId", *pp.TenantID)
	}
	if pp.Location != nil {
		requireString(errs, "policy.location", *pp.Location)
	}
	if pp.Status != nil && !pp.Status.IsValid() {
		errs.add("policy.status", "must be one of ACTIVE, DELETED")
	}

	keys := make([]string, 0, len(pp.Rules))
	for k := range pp.Rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rule := pp.Rules[k]
		validateRule(errs, "policy.rules."+k, &rule, true)
	}

	return errs.orNil()
}

// Changes lists the dotted names of the fields the patch touches, in a
// stable order. Used for the updated-event diff.
func (p *Patch) Changes() []string {
	if p.Policy == nil {
		return nil
	}
	pp := p.Policy
	var changes []string
	if pp.PolicyID != nil {
		changes = append(changes, "policy.policyId")
	}
	if pp.Version != nil {
		changes = append(changes, "policy.version")
	}
	if pp.TenantID != nil {
		changes = append(changes, "policy.tenantId")
	}
	if pp.Location != nil {
		changes = append(changes, "policy.location")
	}
	if pp.Rules != nil {
		changes = append(changes, "policy.rules")
	}
	if pp.Assignments != nil {
		changes = append(changes, "policy.assignments")
	}
	if pp.Status != nil {
		changes = append(changes, "policy.status")
	}
	return changes
}

// Apply merges the patch into a copy of doc and returns the result.
// The input document is not modified.
func (p *Patch) Apply(doc *Document) *Document {
	merged := *doc
	if p.Policy == nil {
		return &merged
	}
	pp := p.Policy

	if pp.PolicyID != nil {
		merged.Policy.PolicyID = *pp.PolicyID
	}
	if pp.Version != nil {
		merged.Policy.Version = *pp.Version
	}
	if pp.TenantID != nil {
		merged.Policy.TenantID = *pp.TenantID
	}
	if pp.Location != nil {
		merged.Policy.Location = *pp.Location
	}
	if pp.Rules != nil {
		merged.Policy.Rules = pp.Rules
	}
	if pp.Assignments != nil {
		merged.Policy.Assignments = *pp.Assignments
	}
	if pp.Status != nil {
		merged.Policy.Status = *pp.Status
	}
	return &merged
}
