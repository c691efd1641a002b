package manager

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msimon/polstore/notify"
	"github.com/msimon/polstore/policy"
	"github.com/msimon/polstore/store"
)

// recordingNotifier captures delivered events and can be told to fail.
type recordingNotifier struct {
	mu      sync.Mutex
	created []notify.CreatedEvent
	updated []notify.UpdatedEvent
	deleted []notify.DeletedEvent
	fail    bool
}

func (n *recordingNotifier) PolicyCreated(ctx context.Context, event notify.CreatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notifier down")
	}
	n.created = append(n.created, event)
	return nil
}

func (n *recordingNotifier) PolicyUpdated(ctx context.Context, event notify.UpdatedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notifier down")
	}
	n.updated = append(n.updated, event)
	return nil
}

func (n *recordingNotifier) PolicyDeleted(ctx context.Context, event notify.DeletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("notifier down")
	}
	n.deleted = append(n.deleted, event)
	return nil
}

func testDocument(id string) policy.Document {
	return policy.Document{
		Policy: policy.Policy{
			PolicyID: id,
			Version:  "1.0",
			TenantID: "acme",
			Location: "us-east",
			Rules: policy.RuleSet{
				"r1": {ID: "1", Action: policy.ActionAllow, Resource: "reports", Conditions: "true"},
				"r2": {ID: "2", Action: policy.ActionAllow, Resource: "exports", Conditions: "true"},
			},
			Assignments: policy.Assignments{
				Groups: map[string][]string{
					"g1": {"1", "2"},
					"g2": {"1", "9"},
				},
				Users: map[string][]string{},
			},
		},
	}
}

func newTestManager(t *testing.T) (*Manager, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	m := New(store.NewMemoryStore(), WithNotifier(n))
	return m, n
}

func TestManager_CreateAndGet(t *testing.T) {
	m, n := newTestManager(t)
	ctx := context.Background()

	doc := testDocument("p1")
	rec, err := m.Create(ctx, &doc)
	require.NoError(t, err)
	assert.Equal(t, policy.StatusActive, rec.Document.Policy.Status, "status defaults to ACTIVE")

	got, err := m.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, doc.Policy.PolicyID, got.Document.Policy.PolicyID)
	assert.Equal(t, doc.Policy.Rules, got.Document.Policy.Rules)
	assert.False(t, got.CreatedAt.IsZero())

	m.Close()
	require.Len(t, n.created, 1)
	assert.Equal(t, "p1", n.created[0].PolicyID)
	assert.Equal(t, "acme", n.created[0].TenantID)
	assert.Equal(t, 2, n.created[0].RuleCount)
	assert.Equal(t, 2, n.created[0].GroupCount)
	assert.Equal(t, 0, n.created[0].UserCount)
}

func TestManager_CreateInvalidDocument(t *testing.T) {
	m, n := newTestManager(t)

	doc := testDocument("p1")
	doc.Policy.TenantID = ""

	_, err := m.Create(context.Background(), &doc)
	require.Error(t, err)

	var verrs *policy.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, []string{"policy.tenantId: is required"}, verrs.Messages())

	// Nothing was persisted and no event fired.
	_, err = m.Get(context.Background(), "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	m.Close()
	assert.Empty(t, n.created)
}

func TestManager_CreateConflict(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	doc := testDocument("p1")
	_, err := m.Create(ctx, &doc)
	require.NoError(t, err)

	dup := testDocument("p1")
	_, err = m.Create(ctx, &dup)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestManager_Update(t *testing.T) {
	m, n := newTestManager(t)
	ctx := context.Background()

	doc := testDocument("p1")
	_, err := m.Create(ctx, &doc)
	require.NoError(t, err)

	version := "2.0"
	patch := &policy.Patch{Policy: &policy.PolicyPatch{Version: &version}}

	rec, err := m.Update(ctx, "p1", patch)
	require.NoError(t, err)
	assert.Equal(t, "2.0", rec.Document.Policy.Version)

	// Untouched fields survive the patch.
	assert.Equal(t, "acme", rec.Document.Policy.TenantID)
	assert.Equal(t, "us-east", rec.Document.Policy.Location)
	assert.Equal(t, doc.Policy.Rules, rec.Document.Policy.Rules)

	m.Close()
	require.Len(t, n.updated, 1)
	assert.Equal(t, []string{"policy.version"}, n.updated[0].Changes)
}

func TestManager_UpdateRejectsIdentityChange(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	doc := testDocument("p1")
	_, err := m.Create(ctx, &doc)
	require.NoError(t, err)

	other := "p2"
	_, err = m.Update(ctx, "p1", &policy.Patch{Policy: &policy.PolicyPatch{PolicyID: &other}})
	require.Error(t, err)

	var verrs *policy.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs.Messages()[0], "policy.policyId")
}

func TestManager_UpdateNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	version := "2.0"
	patch := &policy.Patch{Policy: &policy.PolicyPatch{Version: &version}}

	_, err := m.Update(context.Background(), "ghost", patch)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_SoftDeleteTerminality(t *testing.T) {
	m, n := newTestManager(t)
	ctx := context.Background()

	doc := testDocument("p1")
	_, err := m.Create(ctx, &doc)
	require.NoError(t, err)

	rec, err := m.Delete(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, policy.StatusDeleted, rec.Document.Policy.Status)

	// Every default read path now reports not-found.
	_, err = m.Get(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	recs, err := m.GetByTenant(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = m.ResolveAssignments(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Further lifecycle operations miss too.
	version := "2.0"
	_, err = m.Update(ctx, "p1", &policy.Patch{Policy: &policy.PolicyPatch{Version: &version}})
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = m.Delete(ctx, "p1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// An explicit status filter still reaches the record.
	recs, err = m.List(ctx, ListQuery{Status: policy.StatusDeleted})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "p1", recs[0].Document.Policy.PolicyID)

	m.Close()
	require.Len(t, n.deleted, 1)
	assert.Equal(t, "acme", n.deleted[0].TenantID)
	assert.Equal(t, policy.StatusDeleted, n.deleted[0].Status)
}

func TestManager_ResolveAssignments(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	doc := testDocument("p1")
	_, err := m.Create(ctx, &doc)
	require.NoError(t, err)

	got, err := m.ResolveAssignments(ctx, "p1")
	require.NoError(t, err)

	want := policy.RuleToPrincipals{
		"1": {Groups: []string{"g1", "g2"}, Users: []string{}},
		"2": {Groups: []string{"g1"}, Users: []string{}},
	}
	assert.Equal(t, want, got)
}

func TestManager_ListByTenant(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	a := testDocument("a")
	b := testDocument("b")
	b.Policy.TenantID = "globex"

	_, err := m.Create(ctx, &a)
	require.NoError(t, err)
	_, err = m.Create(ctx, &b)
	require.NoError(t, err)

	recs, err := m.List(ctx, ListQuery{TenantID: "globex"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].Document.Policy.PolicyID)
}

func TestManager_NotifierFailureDoesNotFailOperation(t *testing.T) {
	n := &recordingNotifier{fail: true}
	m := New(store.NewMemoryStore(), WithNotifier(n))
	ctx := context.Background()

	doc := testDocument("p1")
	_, err := m.Create(ctx, &doc)
	require.NoError(t, err, "create must succeed even when the notifier is down")

	_, err = m.Delete(ctx, "p1")
	require.NoError(t, err, "delete must succeed even when the notifier is down")

	m.Close()
	assert.Empty(t, n.created)
	assert.Empty(t, n.deleted)
}
