package policy

import (
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }

func TestPatch_Validate(t *testing.T) {
	deleted := StatusDeleted
	bogus := Status("GONE")

	tests := []struct {
		name     string
		patch    Patch
		wantErrs []string
	}{
		{
			name:  "empty patch is valid",
			patch: Patch{},
		},
		{
			name:  "version only",
			patch: Patch{Policy: &PolicyPatch{Version: strPtr("2.0")}},
		},
		{
			name:     "blank version rejected",
			patch:    Patch{Policy: &PolicyPatch{Version: strPtr("  ")}},
			wantErrs: []string{"policy.version: is required"},
		},
		{
			name:  "status to deleted",
			patch: Patch{Policy: &PolicyPatch{Status: &deleted}},
		},
		{
			name:     "unknown status rejected",
			patch:    Patch{Policy: &PolicyPatch{Status: &bogus}},
			wantErrs: []string{"policy.status: must be one of ACTIVE, DELETED"},
		},
		{
			name: "rule without conditions allowed on update",
			patch: Patch{Policy: &PolicyPatch{
				Rules: RuleSet{"r1": {ID: "1", Action: ActionAllow, Resource: "docs"}},
			}},
		},
		{
			name: "rule with invalid action rejected",
			patch: Patch{Policy: &PolicyPatch{
				Rules: RuleSet{"r1": {ID: "1", Action: Action("NOPE"), Resource: "docs"}},
			}},
			wantErrs: []string{"policy.rules.r1.action: must be one of ALLOW, DENY"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.patch.Validate()
			if len(tt.wantErrs) == 0 {
				if errs != nil {
					t.Fatalf("Validate() = %v, want nil", errs)
				}
				return
			}
			if errs == nil {
				t.Fatalf("Validate() = nil, want %v", tt.wantErrs)
			}
			if !reflect.DeepEqual(errs.Messages(), tt.wantErrs) {
				t.Errorf("Validate() = %v, want %v", errs.Messages(), tt.wantErrs)
			}
		})
	}
}

func TestPatch_Apply_PreservesUntouchedFields(t *testing.T) {
	doc := validDocument()

	patch := Patch{Policy: &PolicyPatch{Version: strPtr("2.0")}}
	merged := patch.Apply(&doc)

	if merged.Policy.Version != "2.0" {
		t.Errorf("Version = %q, want %q", merged.Policy.Version, "2.0")
	}

	// Everything else is byte-for-byte what it was.
	want := validDocument()
	want.Policy.Version = "2.0"
	if !reflect.DeepEqual(merged.Policy, want.Policy) {
		t.Errorf("Apply() = %+v, want %+v", merged.Policy, want.Policy)
	}

	// The source document was not modified.
	if doc.Policy.Version != "1.0" {
		t.Errorf("source Version = %q, want %q", doc.Policy.Version, "1.0")
	}
}

func TestPatch_Apply_ReplacesMapsWholesale(t *testing.T) {
	doc := validDocument()

	patch := Patch{Policy: &PolicyPatch{
		Rules: RuleSet{"other": {ID: "9", Action: ActionDeny, Resource: "x", Conditions: "true"}},
	}}
	merged := patch.Apply(&doc)

	if len(merged.Policy.Rules) != 1 {
		t.Fatalf("Rules = %v, want the patch map only", merged.Policy.Rules)
	}
	if _, ok := merged.Policy.Rules["other"]; !ok {
		t.Errorf("Rules missing patch entry: %v", merged.Policy.Rules)
	}
}

func TestPatch_Changes(t *testing.T) {
	deleted := StatusDeleted

	tests := []struct {
		name  string
		patch Patch
		want  []string
	}{
		{
			name:  "empty patch",
			patch: Patch{},
			want:  nil,
		},
		{
			name: "version and location",
			patch: Patch{Policy: &PolicyPatch{
				Version:  strPtr("2.0"),
				Location: strPtr("eu-west"),
			}},
			want: []string{"policy.version", "policy.location"},
		},
		{
			name:  "status only",
			patch: Patch{Policy: &PolicyPatch{Status: &deleted}},
			want:  []string{"policy.status"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.patch.Changes(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Changes() = %v, want %v", got, tt.want)
			}
		})
	}
}
