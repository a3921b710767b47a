package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"

	"modmarket/internal/domain"
	"modmarket/internal/repo"
)

// --- notifications ---

func (e *Engine) Notifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

func (e *Engine) UnreadNotificationCount(ctx context.Context, recipientID string) (int, error) {
	return e.Repo.CountUnreadNotifications(ctx, recipientID)
}

func (e *Engine) MarkNotificationRead(ctx context.Context, id, recipientID string) error {
	return e.Repo.MarkNotificationRead(ctx, id, recipientID)
}

func (e *Engine) MarkAllNotificationsRead(ctx context.Context, recipientID string) (int64, error) {
	return e.Repo.MarkAllNotificationsRead(ctx, recipientID)
}

// --- events ---

func (e *Engine) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, projectID, evtType, entityKind, entityID)
}

// --- api keys ---

// CreateAPIKey mints a key for a user and returns the plaintext exactly
// once; only the hash is stored.
func (e *Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return domain.APIKey{}, "", err
	}
	plaintext := "mk_" + hex.EncodeToString(raw)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plaintext),
		CreatedAt: e.nowStr(),
	}
	if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
		return domain.APIKey{}, "", err
	}
	return key, plaintext, nil
}

func (e *Engine) LookupAPIKey(ctx context.Context, plaintext string) (domain.APIKey, error) {
	return e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(plaintext))
}
