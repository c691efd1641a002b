// Package notify defines the change events emitted after policy
// lifecycle transitions and the sinks that deliver them.
//
// Delivery is best-effort everywhere: a notifier error never fails the
// lifecycle operation that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/msimon/polstore/policy"
)

// UnknownTenant is the sentinel tenant used on a deleted event when the
// tenant cannot be determined from the update result.
const UnknownTenant = "unknown"

// CreatedEvent is emitted after a policy is created.
type CreatedEvent struct {
	PolicyID   string        `json:"policyId"`
	TenantID   string        `json:"tenantId"`
	Version    string        `json:"version"`
	Location   string        `json:"location"`
	Status     policy.Status `json:"status"`
	RuleCount  int           `json:"ruleCount"`
	GroupCount int           `json:"groupCount"`
	UserCount  int           `json:"userCount"`
	Timestamp  time.Time     `json:"timestamp"`
}

// UpdatedEvent is emitted after a policy is updated. Changes lists the
// dotted field names the update touched.
type UpdatedEvent struct {
	PolicyID   string        `json:"policyId"`
	TenantID   string        `json:"tenantId"`
	Version    string        `json:"version"`
	Location   string        `json:"location"`
	Status     policy.Status `json:"status"`
	RuleCount  int           `json:"ruleCount"`
	GroupCount int           `json:"groupCount"`
	UserCount  int           `json:"userCount"`
	Changes    []string      `json:"changes,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// DeletedEvent is emitted after a policy is soft-deleted.
type DeletedEvent struct {
	PolicyID  string        `json:"policyId"`
	TenantID  string        `json:"tenantId"`
	Status    policy.Status `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
}

// Notifier delivers policy change events.
type Notifier interface {
	PolicyCreated(ctx context.Context, event CreatedEvent) error
	PolicyUpdated(ctx context.Context, event UpdatedEvent) error
	PolicyDeleted(ctx context.Context, event DeletedEvent) error
}

// NewCreatedEvent builds a CreatedEvent from a stored policy.
func NewCreatedEvent(p *policy.Policy) CreatedEvent {
	return CreatedEvent{
		PolicyID:   p.PolicyID,
		TenantID:   p.TenantID,
		Version:    p.Version,
		Location:   p.Location,
		Status:     p.EffectiveStatus(),
		RuleCount:  p.RuleCount(),
		GroupCount: p.GroupCount(),
		UserCount:  p.UserCount(),
		Timestamp:  time.Now().UTC(),
	}
}

// NewUpdatedEvent builds an UpdatedEvent from an updated policy and the
// list of changed fields supplied by the caller.
func NewUpdatedEvent(p *policy.Policy, changes []string) UpdatedEvent {
	return UpdatedEvent{
		PolicyID:   p.PolicyID,
		TenantID:   p.TenantID,
		Version:    p.Version,
		Location:   p.Location,
		Status:     p.EffectiveStatus(),
		RuleCount:  p.RuleCount(),
		GroupCount: p.GroupCount(),
		UserCount:  p.UserCount(),
		Changes:    changes,
		Timestamp:  time.Now().UTC(),
	}
}

// NewDeletedEvent builds a DeletedEvent. An empty tenant falls back to
// the UnknownTenant sentinel.
func NewDeletedEvent(policyID, tenantID string) DeletedEvent {
	if tenantID == "" {
		tenantID = UnknownTenant
	}
	return DeletedEvent{
		PolicyID:  policyID,
		TenantID:  tenantID,
		Status:    policy.StatusDeleted,
		Timestamp: time.Now().UTC(),
	}
}

// Nop is a Notifier that discards every event.
type Nop struct{}

func (Nop) PolicyCreated(ctx context.Context, event CreatedEvent) error { return nil }
func (Nop) PolicyUpdated(ctx context.Context, event UpdatedEvent) error { return nil }
func (Nop) PolicyDeleted(ctx context.Context, event DeletedEvent) error { return nil }
