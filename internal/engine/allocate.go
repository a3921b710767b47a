package engine

import (
	"modmarket/internal/config"
	"modmarket/internal/domain"
)

// allocateScores decides how a passed module's total score is divided
// among its assignees. An explicit allocation map wins when given: every
// key must name an assignee and the amounts must sum to the total.
// Otherwise the total is split equally, with the remainder going to the
// earliest claimant (assignments arrive ordered by claim time) unless
// the strict remainder policy is in force.
func allocateScores(total int, assignments []domain.Assignment, explicit map[string]int, remainderPolicy string) (map[string]int, error) {
	if len(assignments) == 0 {
		return nil, ErrInvalidState
	}
	if total < 0 {
		return nil, validationf("total_score", "must not be negative")
	}

	if len(explicit) > 0 {
		assigned := make(map[string]bool, len(assignments))
		for _, a := range assignments {
			assigned[a.UserID] = true
		}
		sum := 0
		for userID, amount := range explicit {
			if !assigned[userID] {
				return nil, validationf("allocations", "user %s is not an assignee", userID)
			}
			if amount < 0 {
				return nil, validationf("allocations", "amount for %s must not be negative", userID)
			}
			sum += amount
		}
		if sum != total {
			return nil, ErrAllocationMismatch
		}
		out := make(map[string]int, len(assignments))
		for _, a := range assignments {
			out[a.UserID] = explicit[a.UserID]
		}
		return out, nil
	}

	n := len(assignments)
	base := total / n
	remainder := total % n
	if remainder != 0 && remainderPolicy == config.RemainderStrict {
		return nil, ErrAllocationMismatch
	}
	out := make(map[string]int, n)
	for i, a := range assignments {
		score := base
		if i == 0 {
			score += remainder
		}
		out[a.UserID] = score
	}
	return out, nil
}
