package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"modmarket/internal/domain"
	"modmarket/internal/events"
	"modmarket/internal/notify"
	"modmarket/internal/repo"
)

// RequestAbandon opens an abandon request for an assignee. The slot is
// not released until a commander approves; the reason has a minimum
// length so commanders get something to judge.
func (e *Engine) RequestAbandon(ctx context.Context, actorID, moduleID, reason string) (domain.AbandonRequest, error) {
	if len(reason) < e.Config.Limits.MinAbandonReason {
		return domain.AbandonRequest{}, validationf("reason", "must be at least %d characters", e.Config.Limits.MinAbandonReason)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetModuleTx(ctx, tx, moduleID)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	if m.Terminal() {
		return domain.AbandonRequest{}, ErrInvalidState
	}
	if _, err := e.Repo.GetAssignmentTx(ctx, tx, moduleID, actorID); err != nil {
		if err == repo.ErrNotFound {
			return domain.AbandonRequest{}, ErrNotEligible
		}
		return domain.AbandonRequest{}, err
	}
	pending, err := e.Repo.HasPendingAbandonRequestTx(ctx, tx, moduleID, actorID)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	// Retrying cannot help while the first request is still pending.
	if pending {
		return domain.AbandonRequest{}, ErrInvalidState
	}
	req := domain.AbandonRequest{
		ID:          uuid.New().String(),
		ModuleID:    moduleID,
		RequesterID: actorID,
		Reason:      reason,
		Status:      domain.AbandonPending,
		CreatedAt:   e.nowStr(),
	}
	if err := e.Repo.InsertAbandonRequestTx(ctx, tx, req); err != nil {
		return domain.AbandonRequest{}, err
	}
	if err := e.Events.Append(ctx, tx, events.AbandonRequested, m.ProjectID, "abandon_request", req.ID, actorID, events.EventPayload{
		"module_id": moduleID,
	}); err != nil {
		return domain.AbandonRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AbandonRequest{}, err
	}
	if p, err := e.Repo.GetProject(ctx, m.ProjectID); err == nil {
		e.send(ctx, domain.Notification{
			RecipientID: p.CreatorID,
			Type:        notify.TypeAbandonRequested,
			Title:       "Abandon requested",
			Body:        fmt.Sprintf("An assignee asked to abandon module %q.", m.Title),
			ModuleID:    m.ID,
		})
	}
	return req, nil
}

// ReviewAbandon resolves a pending abandon request. Approval removes the
// assignment, frees the requester's claim slot and, when the last
// assignee leaves, moves the module back to open.
func (e *Engine) ReviewAbandon(ctx context.Context, actorID, requestID string, approve bool, comment string) (domain.AbandonRequest, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetAbandonRequestTx(ctx, tx, requestID)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	m, err := e.Repo.GetModuleTx(ctx, tx, req.ModuleID)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	if p.CreatorID != actorID {
		return domain.AbandonRequest{}, ErrNotEligible
	}
	if req.Status != domain.AbandonPending {
		return domain.AbandonRequest{}, ErrInvalidState
	}

	now := e.nowStr()
	status := domain.AbandonRejected
	if approve {
		status = domain.AbandonApproved
	}
	ok, err := e.Repo.ResolveAbandonRequestTx(ctx, tx, requestID, status, comment, now)
	if err != nil {
		return domain.AbandonRequest{}, err
	}
	if !ok {
		return domain.AbandonRequest{}, ErrConflict
	}

	if approve {
		removed, err := e.Repo.DeleteAssignmentTx(ctx, tx, req.ModuleID, req.RequesterID)
		if err != nil {
			return domain.AbandonRequest{}, err
		}
		if removed {
			if err := e.Repo.DecrementTaskCountTx(ctx, tx, req.RequesterID); err != nil {
				return domain.AbandonRequest{}, err
			}
		}
		left, err := e.Repo.CountAssignmentsTx(ctx, tx, req.ModuleID)
		if err != nil {
			return domain.AbandonRequest{}, err
		}
		if left == 0 && m.Status == domain.ModuleInProgress {
			ok, err := e.Repo.UpdateModuleStatusTx(ctx, tx, m.ID, domain.ModuleInProgress, domain.ModuleOpen, now)
			if err != nil {
				return domain.AbandonRequest{}, err
			}
			if !ok {
				return domain.AbandonRequest{}, ErrConflict
			}
			if err := e.Events.Append(ctx, tx, events.ModuleReopened, m.ProjectID, "module", m.ID, actorID, nil); err != nil {
				return domain.AbandonRequest{}, err
			}
		}
	}

	if err := e.Events.Append(ctx, tx, events.AbandonResolved, m.ProjectID, "abandon_request", req.ID, actorID, events.EventPayload{
		"approved": approve,
	}); err != nil {
		return domain.AbandonRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AbandonRequest{}, err
	}

	verdict := "rejected"
	if approve {
		verdict = "approved"
	}
	e.send(ctx, domain.Notification{
		RecipientID: req.RequesterID,
		Type:        notify.TypeAbandonResolved,
		Title:       "Abandon request " + verdict,
		Body:        fmt.Sprintf("Your abandon request for module %q was %s.", m.Title, verdict),
		ModuleID:    m.ID,
	})
	return e.Repo.GetAbandonRequest(ctx, requestID)
}

func (e *Engine) GetAbandonRequest(ctx context.Context, id string) (domain.AbandonRequest, error) {
	return e.Repo.GetAbandonRequest(ctx, id)
}

func (e *Engine) ListAbandonRequests(ctx context.Context, status string) ([]domain.AbandonRequest, error) {
	return e.Repo.ListAbandonRequests(ctx, status)
}
