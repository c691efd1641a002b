package policy

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		want   RuleToPrincipals
	}{
		{
			name: "groups with dangling reference",
			policy: Policy{
				Rules: RuleSet{
					"r1": {ID: "1", Action: ActionAllow, Resource: "a", Conditions: "true"},
					"r2": {ID: "2", Action: ActionAllow, Resource: "b", Conditions: "true"},
				},
				Assignments: Assignments{
					Groups: map[string][]string{
						"g1": {"1", "2"},
						"g2": {"1", "9"},
					},
					Users: map[string][]string{},
				},
			},
			want: RuleToPrincipals{
				"1": {Groups: []string{"g1", "g2"}, Users: []string{}},
				"2": {Groups: []string{"g1"}, Users: []string{}},
			},
		},
		{
			name: "users and groups",
			policy: Policy{
				Rules: RuleSet{
					"read":  {ID: "read", Action: ActionAllow, Resource: "docs", Conditions: "true"},
					"write": {ID: "write", Action: ActionAllow, Resource: "docs", Conditions: "true"},
				},
				Assignments: Assignments{
					Groups: map[string][]string{"editors": {"read", "write"}},
					Users:  map[string][]string{"alice": {"read"}, "bob": {"write", "read"}},
				},
			},
			want: RuleToPrincipals{
				"read":  {Groups: []string{"editors"}, Users: []string{"alice", "bob"}},
				"write": {Groups: []string{"editors"}, Users: []string{"bob"}},
			},
		},
		{
			name: "no assignments still yields every rule",
			policy: Policy{
				Rules: RuleSet{
					"r1": {ID: "1", Action: ActionDeny, Resource: "x", Conditions: "true"},
				},
			},
			want: RuleToPrincipals{
				"1": {Groups: []string{}, Users: []string{}},
			},
		},
		{
			name: "assignments only to unknown rules",
			policy: Policy{
				Rules: RuleSet{},
				Assignments: Assignments{
					Groups: map[string][]string{"g1": {"1", "2"}},
					Users:  map[string][]string{"u1": {"3"}},
				},
			},
			want: RuleToPrincipals{},
		},
		{
			name: "duplicate rule ids collapse to one entry",
			policy: Policy{
				Rules: RuleSet{
					"r1": {ID: "1", Action: ActionAllow, Resource: "a", Conditions: "true"},
					"r2": {ID: "1", Action: ActionDeny, Resource: "b", Conditions: "true"},
				},
				Assignments: Assignments{
					Groups: map[string][]string{"g1": {"1"}},
				},
			},
			want: RuleToPrincipals{
				"1": {Groups: []string{"g1"}, Users: []string{}},
			},
		},
		{
			name: "repeated references are not de-duplicated",
			policy: Policy{
				Rules: RuleSet{
					"r1": {ID: "1", Action: ActionAllow, Resource: "a", Conditions: "true"},
				},
				Assignments: Assignments{
					Groups: map[string][]string{"g1": {"1", "1"}},
				},
			},
			want: RuleToPrincipals{
				"1": {Groups: []string{"g1", "g1"}, Users: []string{}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(&tt.policy)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %+v, want %+v", dump(got), dump(tt.want))
			}
		})
	}
}

func TestResolve_DoesNotMutateInput(t *testing.T) {
	p := Policy{
		Rules: RuleSet{
			"r1": {ID: "1", Action: ActionAllow, Resource: "a", Conditions: "true"},
		},
		Assignments: Assignments{
			Groups: map[string][]string{"g1": {"1"}},
			Users:  map[string][]string{"u1": {"1"}},
		},
	}

	out := Resolve(&p)
	out["1"].Groups = append(out["1"].Groups, "mutated")

	if len(p.Assignments.Groups["g1"]) != 1 || p.Assignments.Groups["g1"][0] != "1" {
		t.Errorf("input assignments changed: %v", p.Assignments.Groups)
	}
	if len(p.Rules) != 1 {
		t.Errorf("input rules changed: %v", p.Rules)
	}
}

func dump(m RuleToPrincipals) map[string]Principals {
	out := make(map[string]Principals, len(m))
	for k, v := range m {
		out[k] = *v
	}
	return out
}
