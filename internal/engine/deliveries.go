package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"modmarket/internal/domain"
	"modmarket/internal/events"
	"modmarket/internal/notify"
	"modmarket/internal/repo"
)

// SubmitDelivery records a node's completed work on a module. A node may
// have at most one pending delivery per module; resubmission is allowed
// after a rejection.
func (e *Engine) SubmitDelivery(ctx context.Context, actorID, moduleID, content string, attachments []domain.Attachment) (domain.Delivery, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Delivery{}, validationf("content", "must not be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Delivery{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetModuleTx(ctx, tx, moduleID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if m.Terminal() {
		return domain.Delivery{}, ErrInvalidState
	}
	if _, err := e.Repo.GetAssignmentTx(ctx, tx, moduleID, actorID); err != nil {
		if err == repo.ErrNotFound {
			return domain.Delivery{}, ErrNotEligible
		}
		return domain.Delivery{}, err
	}
	pending, err := e.Repo.HasPendingDeliveryTx(ctx, tx, moduleID, actorID)
	if err != nil {
		return domain.Delivery{}, err
	}
	if pending {
		return domain.Delivery{}, ErrDuplicatePendingDelivery
	}
	d := domain.Delivery{
		ID:          uuid.New().String(),
		ModuleID:    moduleID,
		SubmitterID: actorID,
		Content:     content,
		Attachments: attachments,
		Status:      domain.DeliveryPending,
		SubmittedAt: e.nowStr(),
	}
	if err := e.Repo.InsertDeliveryTx(ctx, tx, d); err != nil {
		return domain.Delivery{}, err
	}
	if err := e.Events.Append(ctx, tx, events.DeliverySubmitted, m.ProjectID, "delivery", d.ID, actorID, events.EventPayload{
		"module_id": moduleID,
	}); err != nil {
		return domain.Delivery{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Delivery{}, err
	}
	if p, err := e.Repo.GetProject(ctx, m.ProjectID); err == nil {
		e.send(ctx, domain.Notification{
			RecipientID: p.CreatorID,
			Type:        notify.TypeDeliverySubmitted,
			Title:       "Delivery submitted",
			Body:        fmt.Sprintf("A delivery for module %q is waiting for review.", m.Title),
			ModuleID:    m.ID,
		})
	}
	return d, nil
}

func (e *Engine) GetDelivery(ctx context.Context, id string) (domain.Delivery, error) {
	return e.Repo.GetDelivery(ctx, id)
}

func (e *Engine) ListDeliveries(ctx context.Context, moduleID string) ([]domain.Delivery, error) {
	if _, err := e.Repo.GetModule(ctx, moduleID); err != nil {
		return nil, err
	}
	return e.Repo.ListDeliveries(ctx, moduleID)
}

type ReviewInput struct {
	Decision    string
	Feedback    string
	TotalScore  *int
	Allocations map[string]int
}

// ReviewDelivery is the commander's verdict on a delivery. A pass
// completes the whole module: every assignee's slot is released and the
// total score is divided among them. A close ends the module without
// reputation. A reject sends only this delivery back; the assignment
// stays live.
func (e *Engine) ReviewDelivery(ctx context.Context, actorID, deliveryID string, in ReviewInput) (domain.Review, error) {
	switch in.Decision {
	case domain.DecisionPass, domain.DecisionReject, domain.DecisionClose:
	default:
		return domain.Review{}, validationf("decision", "must be pass, reject or close")
	}
	if in.Decision == domain.DecisionReject && strings.TrimSpace(in.Feedback) == "" {
		return domain.Review{}, validationf("feedback", "required when rejecting a delivery")
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer tx.Rollback()
	d, err := e.Repo.GetDeliveryTx(ctx, tx, deliveryID)
	if err != nil {
		return domain.Review{}, err
	}
	m, err := e.Repo.GetModuleTx(ctx, tx, d.ModuleID)
	if err != nil {
		return domain.Review{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Review{}, err
	}
	if p.CreatorID != actorID {
		return domain.Review{}, ErrNotEligible
	}
	if d.Status != domain.DeliveryPending || m.Terminal() {
		return domain.Review{}, ErrInvalidState
	}

	now := e.nowStr()
	// Only a pass carries a score; see below.
	rev := domain.Review{
		ID:         uuid.New().String(),
		DeliveryID: d.ID,
		ReviewerID: actorID,
		Decision:   in.Decision,
		Feedback:   in.Feedback,
		ReviewedAt: now,
	}

	var rewarded map[string]int
	switch in.Decision {
	case domain.DecisionPass:
		assignments, err := e.Repo.ListAssignmentsTx(ctx, tx, m.ID)
		if err != nil {
			return domain.Review{}, err
		}
		total := 0
		if in.TotalScore != nil {
			total = *in.TotalScore
		} else if m.Bounty != nil {
			total = *m.Bounty
		}
		if total <= 0 {
			return domain.Review{}, validationf("total_score", "a positive total is required to pass")
		}
		rewarded, err = allocateScores(total, assignments, in.Allocations, e.Config.Policy.Remainder)
		if err != nil {
			return domain.Review{}, err
		}
		rev.TotalScore = &total
		rev.Allocations = rewarded
		if err := e.Repo.SetDeliveryStatusTx(ctx, tx, d.ID, domain.DeliveryAccepted); err != nil {
			return domain.Review{}, err
		}
		if err := e.Repo.CloseModulePendingDeliveriesTx(ctx, tx, m.ID); err != nil {
			return domain.Review{}, err
		}
		ok, err := e.Repo.UpdateModuleStatusTx(ctx, tx, m.ID, m.Status, domain.ModuleCompleted, now)
		if err != nil {
			return domain.Review{}, err
		}
		if !ok {
			return domain.Review{}, ErrConflict
		}
		for _, a := range assignments {
			score := rewarded[a.UserID]
			if err := e.Repo.ApplyReputationTx(ctx, tx, a.UserID, score); err != nil {
				return domain.Review{}, err
			}
			if err := e.Repo.InsertReputationEntryTx(ctx, tx, domain.ReputationEntry{
				ID:        uuid.New().String(),
				UserID:    a.UserID,
				Change:    score,
				Reason:    "module passed",
				ModuleID:  m.ID,
				CreatedAt: now,
			}); err != nil {
				return domain.Review{}, err
			}
			if err := e.Repo.DecrementTaskCountTx(ctx, tx, a.UserID); err != nil {
				return domain.Review{}, err
			}
		}
		if err := e.Repo.DeleteModuleAssignmentsTx(ctx, tx, m.ID); err != nil {
			return domain.Review{}, err
		}
		if err := e.Events.Append(ctx, tx, events.ModuleCompleted, m.ProjectID, "module", m.ID, actorID, events.EventPayload{
			"total_score": total,
		}); err != nil {
			return domain.Review{}, err
		}
	case domain.DecisionReject:
		if err := e.Repo.SetDeliveryStatusTx(ctx, tx, d.ID, domain.DeliveryRejected); err != nil {
			return domain.Review{}, err
		}
	case domain.DecisionClose:
		assignments, err := e.Repo.ListAssignmentsTx(ctx, tx, m.ID)
		if err != nil {
			return domain.Review{}, err
		}
		if err := e.Repo.CloseModulePendingDeliveriesTx(ctx, tx, m.ID); err != nil {
			return domain.Review{}, err
		}
		ok, err := e.Repo.UpdateModuleStatusTx(ctx, tx, m.ID, m.Status, domain.ModuleClosed, now)
		if err != nil {
			return domain.Review{}, err
		}
		if !ok {
			return domain.Review{}, ErrConflict
		}
		for _, a := range assignments {
			if err := e.Repo.DecrementTaskCountTx(ctx, tx, a.UserID); err != nil {
				return domain.Review{}, err
			}
		}
		if err := e.Repo.DeleteModuleAssignmentsTx(ctx, tx, m.ID); err != nil {
			return domain.Review{}, err
		}
		if err := e.Events.Append(ctx, tx, events.ModuleClosed, m.ProjectID, "module", m.ID, actorID, nil); err != nil {
			return domain.Review{}, err
		}
	}

	if err := e.Repo.InsertReviewTx(ctx, tx, rev); err != nil {
		return domain.Review{}, err
	}
	if err := e.Events.Append(ctx, tx, events.DeliveryReviewed, m.ProjectID, "delivery", d.ID, actorID, events.EventPayload{
		"decision": in.Decision,
	}); err != nil {
		return domain.Review{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}

	e.notifyReviewOutcome(ctx, m, d, in.Decision, rewarded)
	return rev, nil
}

func (e *Engine) notifyReviewOutcome(ctx context.Context, m domain.Module, d domain.Delivery, decision string, rewarded map[string]int) {
	switch decision {
	case domain.DecisionPass:
		for userID, score := range rewarded {
			e.send(ctx, domain.Notification{
				RecipientID: userID,
				Type:        notify.TypeReviewResult,
				Title:       "Module passed",
				Body:        fmt.Sprintf("Module %q passed review; you earned %d reputation.", m.Title, score),
				ModuleID:    m.ID,
			})
		}
	case domain.DecisionReject:
		e.send(ctx, domain.Notification{
			RecipientID: d.SubmitterID,
			Type:        notify.TypeReviewResult,
			Title:       "Delivery rejected",
			Body:        fmt.Sprintf("Your delivery for module %q was rejected; you may resubmit.", m.Title),
			ModuleID:    m.ID,
		})
	case domain.DecisionClose:
		e.send(ctx, domain.Notification{
			RecipientID: d.SubmitterID,
			Type:        notify.TypeReviewResult,
			Title:       "Module closed",
			Body:        fmt.Sprintf("Module %q was closed without reward.", m.Title),
			ModuleID:    m.ID,
		})
	}
}

func (e *Engine) ListModuleReviews(ctx context.Context, moduleID string) ([]domain.Review, error) {
	if _, err := e.Repo.GetModule(ctx, moduleID); err != nil {
		return nil, err
	}
	return e.Repo.ListModuleReviews(ctx, moduleID)
}
