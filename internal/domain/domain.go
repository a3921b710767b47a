package domain

import "time"

// Roles.
const (
	RoleCommander = "commander"
	RoleNode      = "node"
)

// Module statuses.
const (
	ModuleOpen       = "open"
	ModuleInProgress = "in_progress"
	ModuleCompleted  = "completed"
	ModuleClosed     = "closed"
)

// Delivery statuses.
const (
	DeliveryPending  = "pending"
	DeliveryAccepted = "accepted"
	DeliveryRejected = "rejected"
	DeliveryClosed   = "closed"
)

// Review decisions.
const (
	DecisionPass   = "pass"
	DecisionReject = "reject"
	DecisionClose  = "close"
)

// Abandon request statuses.
const (
	AbandonPending  = "pending"
	AbandonApproved = "approved"
	AbandonRejected = "rejected"
)

type User struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	Role                string `json:"role" enum:"commander,node"`
	ReputationScore     int    `json:"reputation_score"`
	ConcurrentTaskCount int    `json:"concurrent_task_count"`
	CreatedAt           string `json:"created_at" format:"date-time"`
}

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"planning,active,paused,completed"`
	CreatorID   string `json:"creator_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Module struct {
	ID          string       `json:"id"`
	ProjectID   string       `json:"project_id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      string       `json:"status" enum:"open,in_progress,completed,closed"`
	Bounty      *int         `json:"bounty,omitempty"`
	Deadline    *string      `json:"deadline,omitempty" format:"date-time"`
	IsTimeout   bool         `json:"is_timeout"`
	Assignees   []Assignment `json:"assignees,omitempty"`
	CreatedAt   string       `json:"created_at" format:"date-time"`
	UpdatedAt   string       `json:"updated_at" format:"date-time"`
}

// Terminal reports whether no further assignment, delivery or review is accepted.
func (m Module) Terminal() bool {
	return m.Status == ModuleCompleted || m.Status == ModuleClosed
}

// TimedOut derives the timeout flag; it is never persisted.
func (m Module) TimedOut(now time.Time) bool {
	if m.Deadline == nil || m.Terminal() {
		return false
	}
	deadline, err := time.Parse(time.RFC3339, *m.Deadline)
	if err != nil {
		return false
	}
	return now.After(deadline)
}

type Assignment struct {
	ModuleID  string `json:"module_id"`
	UserID    string `json:"user_id"`
	ClaimedAt string `json:"claimed_at" format:"date-time"`
}

type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Delivery struct {
	ID          string       `json:"id"`
	ModuleID    string       `json:"module_id"`
	SubmitterID string       `json:"submitter_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Status      string       `json:"status" enum:"pending,accepted,rejected,closed"`
	SubmittedAt string       `json:"submitted_at" format:"date-time"`
}

type Review struct {
	ID          string         `json:"id"`
	DeliveryID  string         `json:"delivery_id"`
	ReviewerID  string         `json:"reviewer_id"`
	Decision    string         `json:"decision" enum:"pass,reject,close"`
	Feedback    string         `json:"feedback,omitempty"`
	TotalScore  *int           `json:"total_score,omitempty"`
	Allocations map[string]int `json:"allocations,omitempty"`
	ReviewedAt  string         `json:"reviewed_at" format:"date-time"`
}

type AbandonRequest struct {
	ID            string  `json:"id"`
	ModuleID      string  `json:"module_id"`
	RequesterID   string  `json:"requester_id"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status" enum:"pending,approved,rejected"`
	ReviewComment string  `json:"review_comment,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ResolvedAt    *string `json:"resolved_at,omitempty" format:"date-time"`
}

type Notification struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	Type        string `json:"type"`
	Title       string `json:"title"`
	Body        string `json:"body,omitempty"`
	ModuleID    string `json:"module_id,omitempty"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ReputationEntry struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Change    int    `json:"change"`
	Reason    string `json:"reason,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
