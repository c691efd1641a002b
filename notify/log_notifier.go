package notify

import (
	"context"
	"log"
)

// LogNotifier writes events to the standard logger. Useful for local
// runs and as a fallback when no event transport is configured.
type LogNotifier struct{}

func (LogNotifier) PolicyCreated(ctx context.Context, event CreatedEvent) error {
	log.Printf("policy created: id=%s tenant=%s version=%s rules=%d",
		event.PolicyID, event.TenantID, event.Version, event.RuleCount)
	return nil
}

func (LogNotifier) PolicyUpdated(ctx context.Context, event UpdatedEvent) error {
	log.Printf("policy updated: id=%s tenant=%s version=%s changes=%v",
		event.PolicyID, event.TenantID, event.Version, event.Changes)
	return nil
}

func (LogNotifier) PolicyDeleted(ctx context.Context, event DeletedEvent) error {
	log.Printf("policy deleted: id=%s tenant=%s", event.PolicyID, event.TenantID)
	return nil
}
