// Package store defines persistence for policy documents and its
// in-memory and NATS KV backed implementations.
package store

import (
	"context"
	"time"

	"github.com/msimon/polstore/policy"
)

// Record is the persisted form of a policy document: the document itself
// plus store-managed metadata.
type Record struct {
	Document  policy.Document `json:"document"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`

	// Revision is the store's version counter for the record. It backs
	// the atomic compare-and-swap in FindOneAndUpdate and is not part
	// of the document.
	Revision uint64 `json:"-"`
}

// Filter is a structural predicate over stored records. Zero-valued
// fields do not constrain the match. An explicit Status overrides
// ExcludeDeleted, so callers can ask for deleted records on purpose.
type Filter struct {
	PolicyID       string
	TenantID       string
	Status         policy.Status
	ExcludeDeleted bool
}

// Matches reports whether the record satisfies the filter.
func (f Filter) Matches(r *Record) bool {
	p := &r.Document.Policy
	if f.PolicyID != "" && p.PolicyID != f.PolicyID {
		return false
	}
	if f.TenantID != "" && p.TenantID != f.TenantID {
		return false
	}
	if f.Status != "" {
		return p.EffectiveStatus() == f.Status
	}
	if f.ExcludeDeleted && p.EffectiveStatus() == policy.StatusDeleted {
		return false
	}
	return true
}

// Store provides persistence for policy records. Implementations own all
// concurrency control; FindOneAndUpdate must be atomic per record.
type Store interface {
	// Insert persists a new record for the document.
	// Returns ErrConflict when a record with the same policy ID exists.
	Insert(ctx context.Context, doc *policy.Document) (*Record, error)

	// FindOne returns the first record matching the filter.
	// Returns ErrNotFound when nothing matches.
	FindOne(ctx context.Context, f Filter) (*Record, error)

	// FindMany returns all records matching the filter, ordered by policy ID.
	FindMany(ctx context.Context, f Filter) ([]*Record, error)

	// FindOneAndUpdate atomically locates a record matching the filter,
	// applies the patch, and returns the updated record.
	// Returns ErrNotFound when no record matches the filter at the time
	// of the atomic read-modify-write.
	FindOneAndUpdate(ctx context.Context, f Filter, patch *policy.Patch) (*Record, error)
}
