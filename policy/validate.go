package policy

import (
	"encoding/json"
	"sort"
	"strings"
)

// ParseDocument decodes an arbitrary JSON payload into a typed Document.
// It is the boundary from any transport layer: bytes in, a fully validated
// document or a *ValidationErrors out, never both.
func ParseDocument(data []byte) (*Document, *ValidationErrors) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		errs := &ValidationErrors{}
		errs.add("document", "invalid JSON: "+err.Error())
		return nil, errs
	}
	if errs := doc.Validate(); errs != nil {
		return nil, errs
	}
	return &doc, nil
}

// Validate checks the document against the create-path contract: all
// required string fields present and non-blank after trimming, action
// restricted to the closed enum, conditions required on every rule.
// Returns nil when the document is valid.
func (d *Document) Validate() *ValidationErrors {
	errs := &ValidationErrors{}
	validatePolicy(errs, "policy", &d.Policy)
	return errs.orNil()
}

func validatePolicy(errs *ValidationErrors, path string, p *Policy) {
	requireString(errs, path+".policyId", p.PolicyID)
	requireString(errs, path+".version", p.Version)
	requireString(errs, path+".tenantId", p.TenantID)
	requireString(errs, path+".location", p.Location)

	if p.Status != "" && !p.Status.IsValid() {
		errs.add(path+".status", "must be one of ACTIVE, DELETED")
	}

	// Sort storage keys so the error list is stable across runs.
	keys := make([]string, 0, len(p.Rules))
	for k := range p.Rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		rule := p.Rules[k]
		validateRule(errs, path+".rules."+k, &rule, false)
	}
}

// validateRule checks a single rule. When sparse is true (update path)
// absent fields are skipped and conditions may be empty.
func validateRule(errs *ValidationErrors, path string, r *Rule, sparse bool) {
	if !sparse || r.ID != "" {
		requireString(errs, path+".id", r.ID)
	}
	if !sparse || r.Action != "" {
		if !r.Action.IsValid() {
			errs.add(path+".action", "must be one of ALLOW, DENY")
		}
	}
	if !sparse || r.Resource != "" {
		requireString(errs, path+".resource", r.Resource)
	}
	if !sparse {
		requireString(errs, path+".conditions", r.Conditions)
	}
}

func requireString(errs *ValidationErrors, path, value string) {
	if strings.TrimSpace(value) == "" {
		errs.add(path, "is required")
	}
}
