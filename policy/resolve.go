package policy

import "sort"

// Principals holds the group and user names bound to one rule.
type Principals struct {
	Groups []string `json:"groups"`
	Users  []string `json:"users"`
}

// RuleToPrincipals maps a rule's semantic ID to the principals bound to it.
// Every rule ID declared in the policy's rule set appears as a key, even
// when nothing is bound to it.
type RuleToPrincipals map[string]*Principals

// Resolve inverts a policy's principal-centric assignments into the
// rule-centric view. It is pure and total: the input is never modified
// and resolution cannot fail.
//
// Assignment entries naming a rule ID that is not declared in the rule
// set are dropped silently. When two storage keys hold rules with the
// same ID they collapse into a single output entry. Principal lists are
// not de-duplicated.
func Resolve(p *Policy) RuleToPrincipals {
	out := make(RuleToPrincipals, len(p.Rules))
	for _, rule := range p.Rules {
		out[rule.ID] = &Principals{
			Groups: []string{},
			Users:  []string{},
		}
	}

	// Principal names are traversed in sorted order so the output is
	// deterministic; each principal's rule ID list keeps its own order.
	for _, group := range sortedKeys(p.Assignments.Groups) {
		for _, ruleID := range p.Assignments.Groups[group] {
			if entry, ok := out[ruleID]; ok {
				entry.Groups = append(entry.Groups, group)
			}
		}
	}
	for _, user := range sortedKeys(p.Assignments.Users) {
		for _, ruleID := range p.Assignments.Users[user] {
			if entry, ok := out[ruleID]; ok {
				entry.Users = append(entry.Users, user)
			}
		}
	}

	return out
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
