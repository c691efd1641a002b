// Package manager implements the policy lifecycle: create, read,
// update, soft-delete, and assignment resolution over a Store.
package manager

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/msimon/polstore/notify"
	"github.com/msimon/polstore/policy"
	"github.com/msimon/polstore/store"
)

// notifyTimeout bounds the delivery attempt of one detached event.
const notifyTimeout = 5 * time.Second

// Logger is an interface for logging during lifecycle operations.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// defaultLogger wraps the standard log package.
type defaultLogger struct{}

func (l *defaultLogger) Info(msg string, args ...any) {
	log.Printf("INFO: "+msg, args...)
}

func (l *defaultLogger) Warn(msg string, args ...any) {
	log.Printf("WARN: "+msg, args...)
}

func (l *defaultLogger) Debug(msg string, args ...any) {
	log.Printf("DEBUG: "+msg, args...)
}

// Manager owns the authoritative copy of each policy record. It holds no
// record state of its own: the store arbitrates all shared data, and the
// manager adds no locking beyond the store's atomic single-record
// operations. Change events are delivered on detached tasks and never
// affect an operation's outcome.
type Manager struct {
	store    store.Store
	notifier notify.Notifier
	logger   Logger

	// wg tracks in-flight detached notifications.
	wg sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithNotifier sets the event sink for lifecycle notifications.
func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New creates a Manager on the given store. Without options, events are
// discarded and logging goes to the standard logger.
func New(s store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:    s,
		notifier: notify.Nop{},
		logger:   &defaultLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Close waits for in-flight notifications to finish delivering.
func (m *Manager) Close() {
	m.wg.Wait()
}

// Create validates and persists a new policy document. The stored status
// defaults to ACTIVE when the document carries none. Identity collisions
// surface as store.ErrConflict.
func (m *Manager) Create(ctx context.Context, doc *policy.Document) (*store.Record, error) {
	if errs := doc.Validate(); errs != nil {
		return nil, errs
	}

	cp := *doc
	if cp.Policy.Status == "" {
		cp.Policy.Status = policy.StatusActive
	}

	rec, err := m.store.Insert(ctx, &cp)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("created policy %s", rec.Document.Policy.PolicyID)

	event := notify.NewCreatedEvent(&rec.Document.Policy)
	m.dispatch("created", func(ctx context.Context) error {
		return m.notifier.PolicyCreated(ctx, event)
	})

	return rec, nil
}

// Get returns the policy record only while it is not soft-deleted.
// A deleted record is indistinguishable from one that never existed.
func (m *Manager) Get(ctx context.Context, id string) (*store.Record, error) {
	return m.store.FindOne(ctx, store.Filter{PolicyID: id, ExcludeDeleted: true})
}

// GetByTenant returns the tenant's non-deleted policy records.
func (m *Manager) GetByTenant(ctx context.Context, tenantID string) ([]*store.Record, error) {
	return m.store.FindMany(ctx, store.Filter{TenantID: tenantID, ExcludeDeleted: true})
}

// ListQuery filters a List call. An explicit Status overrides the
// default exclusion of deleted records, so callers can ask for deleted
// policies on purpose.
type ListQuery struct {
	TenantID string
	Status   policy.Status
}

// List returns records matching the query. Deleted records are excluded
// unless the query names a status explicitly.
func (m *Manager) List(ctx context.Context, q ListQuery) ([]*store.Record, error) {
	f := store.Filter{TenantID: q.TenantID, ExcludeDeleted: true}
	if q.Status != "" {
		f.Status = q.Status
	}
	return m.store.FindMany(ctx, f)
}

// Update merges a sparse patch into the policy's stored document. Only a
// non-deleted record can be updated; otherwise store.ErrNotFound is
// returned, whether the policy never existed or was already deleted.
// A failed update applies nothing.
func (m *Manager) Update(ctx context.Context, id string, patch *policy.Patch) (*store.Record, error) {
	if patch == nil {
		patch = &policy.Patch{}
	}
	if errs := patch.Validate(); errs != nil {
		return nil, errs
	}
	if patch.Policy != nil && patch.Policy.PolicyID != nil {
		errs := &policy.ValidationErrors{Errors: []*policy.ValidationError{
			{Path: "policy.policyId", Message: "cannot be changed"},
		}}
		return nil, errs
	}

	rec, err := m.store.FindOneAndUpdate(ctx, store.Filter{PolicyID: id, ExcludeDeleted: true}, patch)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("updated policy %s", id)

	event := notify.NewUpdatedEvent(&rec.Document.Policy, patch.Changes())
	m.dispatch("updated", func(ctx context.Context) error {
		return m.notifier.PolicyUpdated(ctx, event)
	})

	return rec, nil
}

// Delete soft-deletes the policy by flipping its status to DELETED.
// The transition is terminal: a second delete and any later update see
// store.ErrNotFound, the same as for a policy that never existed.
func (m *Manager) Delete(ctx context.Context, id string) (*store.Record, error) {
	deleted := policy.StatusDeleted
	patch := &policy.Patch{Policy: &policy.PolicyPatch{Status: &deleted}}

	rec, err := m.store.FindOneAndUpdate(ctx, store.Filter{PolicyID: id, ExcludeDeleted: true}, patch)
	if err != nil {
		return nil, err
	}

	m.logger.Debug("deleted policy %s", id)

	event := notify.NewDeletedEvent(id, rec.Document.Policy.TenantID)
	m.dispatch("deleted", func(ctx context.Context) error {
		return m.notifier.PolicyDeleted(ctx, event)
	})

	return rec, nil
}

// ResolveAssignments reads the policy and inverts its assignments into
// the rule-to-principals view. A missing or deleted policy short-circuits
// with store.ErrNotFound before resolution.
func (m *Manager) ResolveAssignments(ctx context.Context, id string) (policy.RuleToPrincipals, error) {
	rec, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return policy.Resolve(&rec.Document.Policy), nil
}

// dispatch runs a notification delivery on a detached task. Failures go
// to the logging sink; the caller never observes them.
func (m *Manager) dispatch(kind string, deliver func(ctx context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()

		if err := deliver(ctx); err != nil {
			m.logger.Warn("delivering %s event: %v", kind, err)
		}
	}()
}
