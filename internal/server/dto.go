package server

import (
	"modmarket/internal/domain"
)

// Request payloads

type RegisterUserRequest struct {
	Username string `json:"username"`
	Role     string `json:"role" enum:"commander,node"`
}

type DevLoginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateAPIKeyResponse struct {
	ID        string `json:"id"`
	Key       string `json:"key"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Status      string  `json:"status,omitempty" enum:"planning,active,paused,completed"`
	Description *string `json:"description,omitempty"`
}

type CreateModuleRequest struct {
	ProjectID   string  `json:"project_id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Bounty      *int    `json:"bounty,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type UpdateModuleRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Bounty      *int    `json:"bounty,omitempty"`
	Deadline    *string `json:"deadline,omitempty" format:"date-time"`
}

type SubmitDeliveryRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

type ReviewDeliveryRequest struct {
	Decision    string         `json:"decision" enum:"pass,reject,close"`
	Feedback    string         `json:"feedback,omitempty"`
	TotalScore  *int           `json:"total_score,omitempty"`
	Allocations map[string]int `json:"allocations,omitempty"`
}

type RequestAbandonRequest struct {
	Reason string `json:"reason"`
}

type ReviewAbandonRequest struct {
	Approve bool   `json:"approve"`
	Comment string `json:"comment,omitempty"`
}

// Response payloads

type UserResponse struct {
	ID                  string `json:"id"`
	Username            string `json:"username"`
	Role                string `json:"role" enum:"commander,node"`
	ReputationScore     int    `json:"reputation_score"`
	ConcurrentTaskCount int    `json:"concurrent_task_count"`
	CreatedAt           string `json:"created_at" format:"date-time"`
}

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status" enum:"planning,active,paused,completed"`
	CreatorID   string `json:"creator_id"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type AssigneeResponse struct {
	UserID    string `json:"user_id"`
	ClaimedAt string `json:"claimed_at" format:"date-time"`
}

type ModuleResponse struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"project_id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	Status      string             `json:"status" enum:"open,in_progress,completed,closed"`
	Bounty      *int               `json:"bounty,omitempty"`
	Deadline    *string            `json:"deadline,omitempty" format:"date-time"`
	IsTimeout   bool               `json:"is_timeout"`
	Assignees   []AssigneeResponse `json:"assignees"`
	CreatedAt   string             `json:"created_at" format:"date-time"`
	UpdatedAt   string             `json:"updated_at" format:"date-time"`
}

type DeliveryResponse struct {
	ID          string              `json:"id"`
	ModuleID    string              `json:"module_id"`
	SubmitterID string              `json:"submitter_id"`
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
	Status      string              `json:"status" enum:"pending,accepted,rejected,closed"`
	SubmittedAt string              `json:"submitted_at" format:"date-time"`
}

type ReviewResponse struct {
	ID          string         `json:"id"`
	DeliveryID  string         `json:"delivery_id"`
	ReviewerID  string         `json:"reviewer_id"`
	Decision    string         `json:"decision" enum:"pass,reject,close"`
	Feedback    string         `json:"feedback,omitempty"`
	TotalScore  *int           `json:"total_score,omitempty"`
	Allocations map[string]int `json:"allocations,omitempty"`
	ReviewedAt  string         `json:"reviewed_at" format:"date-time"`
}

type AbandonRequestResponse struct {
	ID            string  `json:"id"`
	ModuleID      string  `json:"module_id"`
	RequesterID   string  `json:"requester_id"`
	Reason        string  `json:"reason"`
	Status        string  `json:"status" enum:"pending,approved,rejected"`
	ReviewComment string  `json:"review_comment,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	ResolvedAt    *string `json:"resolved_at,omitempty" format:"date-time"`
}

type NotificationResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Body      string `json:"body,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
	IsRead    bool   `json:"is_read"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ReputationEntryResponse struct {
	ID        string `json:"id"`
	Change    int    `json:"change"`
	Reason    string `json:"reason,omitempty"`
	ModuleID  string `json:"module_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Source   string `json:"source,omitempty"`
}

// Mappers

func userResponse(u domain.User) UserResponse {
	return UserResponse{
		ID:                  u.ID,
		Username:            u.Username,
		Role:                u.Role,
		ReputationScore:     u.ReputationScore,
		ConcurrentTaskCount: u.ConcurrentTaskCount,
		CreatedAt:           u.CreatedAt,
	}
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Status:      p.Status,
		CreatorID:   p.CreatorID,
		CreatedAt:   p.CreatedAt,
	}
}

func moduleResponse(m domain.Module) ModuleResponse {
	assignees := make([]AssigneeResponse, 0, len(m.Assignees))
	for _, a := range m.Assignees {
		assignees = append(assignees, AssigneeResponse{
			UserID:    a.UserID,
			ClaimedAt: a.ClaimedAt,
		})
	}
	return ModuleResponse{
		ID:          m.ID,
		ProjectID:   m.ProjectID,
		Title:       m.Title,
		Description: m.Description,
		Status:      m.Status,
		Bounty:      m.Bounty,
		Deadline:    m.Deadline,
		IsTimeout:   m.IsTimeout,
		Assignees:   assignees,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func deliveryResponse(d domain.Delivery) DeliveryResponse {
	return DeliveryResponse{
		ID:          d.ID,
		ModuleID:    d.ModuleID,
		SubmitterID: d.SubmitterID,
		Content:     d.Content,
		Attachments: d.Attachments,
		Status:      d.Status,
		SubmittedAt: d.SubmittedAt,
	}
}

func reviewResponse(r domain.Review) ReviewResponse {
	return ReviewResponse{
		ID:          r.ID,
		DeliveryID:  r.DeliveryID,
		ReviewerID:  r.ReviewerID,
		Decision:    r.Decision,
		Feedback:    r.Feedback,
		TotalScore:  r.TotalScore,
		Allocations: r.Allocations,
		ReviewedAt:  r.ReviewedAt,
	}
}

func abandonResponse(a domain.AbandonRequest) AbandonRequestResponse {
	return AbandonRequestResponse{
		ID:            a.ID,
		ModuleID:      a.ModuleID,
		RequesterID:   a.RequesterID,
		Reason:        a.Reason,
		Status:        a.Status,
		ReviewComment: a.ReviewComment,
		CreatedAt:     a.CreatedAt,
		ResolvedAt:    a.ResolvedAt,
	}
}

func notificationResponse(n domain.Notification) NotificationResponse {
	return NotificationResponse{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		ModuleID:  n.ModuleID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func mapModules(items []domain.Module) []ModuleResponse {
	res := make([]ModuleResponse, 0, len(items))
	for _, m := range items {
		res = append(res, moduleResponse(m))
	}
	return res
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapDeliveries(items []domain.Delivery) []DeliveryResponse {
	res := make([]DeliveryResponse, 0, len(items))
	for _, d := range items {
		res = append(res, deliveryResponse(d))
	}
	return res
}
