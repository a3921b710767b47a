// Package notify delivers user-facing notifications. Delivery is
// best-effort: the engine calls Send after a state transition has
// committed, and a failed send never rolls the transition back.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"modmarket/internal/domain"
	"modmarket/internal/repo"
)

// Notification types.
const (
	TypeModuleClaimed     = "module.claimed"
	TypeDeliverySubmitted = "delivery.submitted"
	TypeReviewResult      = "review.result"
	TypeAbandonRequested  = "abandon.requested"
	TypeAbandonResolved   = "abandon.resolved"
	TypeModuleCancelled   = "module.cancelled"
	TypeReputationChanged = "reputation.changed"
)

// Sink accepts notifications for delivery.
type Sink interface {
	Send(ctx context.Context, n domain.Notification)
}

// Store persists notifications in the notifications table where the
// API and CLI read them back.
type Store struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (s Store) Send(ctx context.Context, n domain.Notification) {
	if n.RecipientID == "" {
		return
	}
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == "" {
		now := s.Now
		if now == nil {
			now = time.Now
		}
		n.CreatedAt = now().UTC().Format(time.RFC3339)
	}
	if err := s.Repo.InsertNotification(ctx, n); err != nil {
		log.Printf("notify: store notification for %s failed: %v", n.RecipientID, err)
	}
}

// Discard drops every notification; handy in tests.
type Discard struct{}

func (Discard) Send(context.Context, domain.Notification) {}
