package engine

import (
	"time"

	"modmarket/internal/domain"
)

// ClaimPolicy holds the rules evaluated before a claim is attempted.
// The numeric caps themselves are enforced by guarded SQL inside the
// transaction; the policy covers everything a plain read can decide.
type ClaimPolicy struct {
	AllowLateJoin        bool
	BlockClaimsOnTimeout bool
}

// Check returns the first rule the claim violates, or nil.
func (p ClaimPolicy) Check(user domain.User, m domain.Module, now time.Time) error {
	if user.Role != domain.RoleNode {
		return ErrNotEligible
	}
	if m.Terminal() {
		return ErrInvalidState
	}
	if p.BlockClaimsOnTimeout && m.TimedOut(now) {
		return ErrInvalidState
	}
	if m.Status == domain.ModuleInProgress && !p.AllowLateJoin {
		return ErrInvalidState
	}
	return nil
}
