package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"modmarket/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerAuth(api huma.API, e *engine.Engine, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "user_id is required", nil)
		}
		role := input.Body.Role
		if role == "" {
			u, err := e.GetUser(ctx, userID)
			if err != nil {
				return nil, handleError(err)
			}
			role = u.Role
		}
		token, err := signDevToken(authCfg.JWTSecret, userID, role, time.Now())
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/auth/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, plaintext, err := e.CreateAPIKey(ctx, actorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{
			ID:        key.ID,
			Key:       plaintext,
			Name:      key.Name,
			CreatedAt: key.CreatedAt,
		}}, nil
	})
}

func registerUsers(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-user",
		Method:        http.MethodPost,
		Path:          "/users",
		Summary:       "Register user",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterUserRequest `json:"body"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		u, err := e.RegisterUser(ctx, input.Body.Username, input.Body.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-user",
		Method:      http.MethodGet,
		Path:        "/users/{id}",
		Summary:     "Get user",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body UserResponse `json:"body"`
	}, error) {
		u, err := e.GetUser(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UserResponse `json:"body"`
		}{Body: userResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.UserID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		resp := WhoAmIResponse{UserID: principal.UserID, Role: principal.Role, Source: principal.Source}
		if u, err := e.GetUser(ctx, principal.UserID); err == nil {
			resp.Username = u.Username
			resp.Role = u.Role
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboard",
		Summary:     "Reputation leaderboard",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []UserResponse `json:"body"`
	}, error) {
		users, err := e.Leaderboard(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]UserResponse, 0, len(users))
		for _, u := range users {
			res = append(res, userResponse(u))
		}
		return &struct {
			Body []UserResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "user-reputation-history",
		Method:      http.MethodGet,
		Path:        "/users/{id}/reputation",
		Summary:     "Reputation history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ReputationEntryResponse `json:"body"`
	}, error) {
		entries, err := e.ReputationHistory(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ReputationEntryResponse, 0, len(entries))
		for _, entry := range entries {
			res = append(res, ReputationEntryResponse{
				ID:        entry.ID,
				Change:    entry.Change,
				Reason:    entry.Reason,
				ModuleID:  entry.ModuleID,
				CreatedAt: entry.CreatedAt,
			})
		}
		return &struct {
			Body []ReputationEntryResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerProjects(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, actorID, input.Body.Name, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		items, err := e.ListProjects(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		p, err := e.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{id}",
		Summary:     "Update project",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, actorID, input.ID, input.Body.Status, input.Body.Description)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerModules(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-module",
		Method:        http.MethodPost,
		Path:          "/modules",
		Summary:       "Publish module",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body CreateModuleRequest `json:"body"`
	}) (*struct {
		Body ModuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CreateModule(ctx, actorID, engine.CreateModuleInput{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Bounty:      input.Body.Bounty,
			Deadline:    input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ModuleResponse `json:"body"`
		}{Body: moduleResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-modules",
		Method:      http.MethodGet,
		Path:        "/modules",
		Summary:     "List modules",
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		Status    string `query:"status" enum:",open,in_progress,completed,closed"`
	}) (*struct {
		Body []ModuleResponse `json:"body"`
	}, error) {
		items, err := e.ListModules(ctx, input.ProjectID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ModuleResponse `json:"body"`
		}{Body: mapModules(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-module",
		Method:      http.MethodGet,
		Path:        "/modules/{id}",
		Summary:     "Get module",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ModuleResponse `json:"body"`
	}, error) {
		m, err := e.GetModuleView(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ModuleResponse `json:"body"`
		}{Body: moduleResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-module",
		Method:      http.MethodPatch,
		Path:        "/modules/{id}",
		Summary:     "Update module",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body UpdateModuleRequest `json:"body"`
	}) (*struct {
		Body ModuleResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.UpdateModule(ctx, actorID, input.ID, engine.UpdateModuleInput{
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Bounty:      input.Body.Bounty,
			Deadline:    input.Body.Deadline,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ModuleResponse `json:"body"`
		}{Body: moduleResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "claim-module",
		Method:      http.MethodPost,
		Path:        "/modules/{id}/claim",
		Summary:     "Claim module",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ModuleResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.ClaimModule(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ModuleResponse `json:"body"`
		}{Body: moduleResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-module",
		Method:      http.MethodPost,
		Path:        "/modules/{id}/cancel",
		Summary:     "Cancel module",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ModuleResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.CancelModule(ctx, actorID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ModuleResponse `json:"body"`
		}{Body: moduleResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-module-reviews",
		Method:      http.MethodGet,
		Path:        "/modules/{id}/reviews",
		Summary:     "List module reviews",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []ReviewResponse `json:"body"`
	}, error) {
		items, err := e.ListModuleReviews(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ReviewResponse, 0, len(items))
		for _, r := range items {
			res = append(res, reviewResponse(r))
		}
		return &struct {
			Body []ReviewResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerDeliveries(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-delivery",
		Method:        http.MethodPost,
		Path:          "/modules/{id}/deliveries",
		Summary:       "Submit delivery",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body SubmitDeliveryRequest `json:"body"`
	}) (*struct {
		Body DeliveryResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		d, err := e.SubmitDelivery(ctx, actorID, input.ID, input.Body.Content, input.Body.Attachments)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliveryResponse `json:"body"`
		}{Body: deliveryResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-deliveries",
		Method:      http.MethodGet,
		Path:        "/modules/{id}/deliveries",
		Summary:     "List deliveries",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []DeliveryResponse `json:"body"`
	}, error) {
		items, err := e.ListDeliveries(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []DeliveryResponse `json:"body"`
		}{Body: mapDeliveries(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-delivery",
		Method:      http.MethodGet,
		Path:        "/deliveries/{id}",
		Summary:     "Get delivery",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body DeliveryResponse `json:"body"`
	}, error) {
		d, err := e.GetDelivery(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DeliveryResponse `json:"body"`
		}{Body: deliveryResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "review-delivery",
		Method:        http.MethodPost,
		Path:          "/deliveries/{id}/review",
		Summary:       "Review delivery",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body ReviewDeliveryRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rev, err := e.ReviewDelivery(ctx, actorID, input.ID, engine.ReviewInput{
			Decision:    input.Body.Decision,
			Feedback:    input.Body.Feedback,
			TotalScore:  input.Body.TotalScore,
			Allocations: input.Body.Allocations,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: reviewResponse(rev)}, nil
	})
}

func registerAbandonRequests(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "request-abandon",
		Method:        http.MethodPost,
		Path:          "/modules/{id}/abandon",
		Summary:       "Request abandon",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body RequestAbandonRequest `json:"body"`
	}) (*struct {
		Body AbandonRequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.RequestAbandon(ctx, actorID, input.ID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AbandonRequestResponse `json:"body"`
		}{Body: abandonResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-abandon-requests",
		Method:      http.MethodGet,
		Path:        "/abandon-requests",
		Summary:     "List abandon requests",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:",pending,approved,rejected"`
	}) (*struct {
		Body []AbandonRequestResponse `json:"body"`
	}, error) {
		items, err := e.ListAbandonRequests(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]AbandonRequestResponse, 0, len(items))
		for _, a := range items {
			res = append(res, abandonResponse(a))
		}
		return &struct {
			Body []AbandonRequestResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-abandon-request",
		Method:      http.MethodGet,
		Path:        "/abandon-requests/{id}",
		Summary:     "Get abandon request",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body AbandonRequestResponse `json:"body"`
	}, error) {
		req, err := e.GetAbandonRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AbandonRequestResponse `json:"body"`
		}{Body: abandonResponse(req)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-abandon-request",
		Method:      http.MethodPost,
		Path:        "/abandon-requests/{id}/review",
		Summary:     "Review abandon request",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ReviewAbandonRequest `json:"body"`
	}) (*struct {
		Body AbandonRequestResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.ReviewAbandon(ctx, actorID, input.ID, input.Body.Approve, input.Body.Comment)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AbandonRequestResponse `json:"body"`
		}{Body: abandonResponse(req)}, nil
	})
}

func registerNotifications(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "List notifications",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*struct {
		Body []NotificationResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.Notifications(ctx, actorID, input.Unread, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]NotificationResponse, 0, len(items))
		for _, n := range items {
			res = append(res, notificationResponse(n))
		}
		return &struct {
			Body []NotificationResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "unread-notification-count",
		Method:      http.MethodGet,
		Path:        "/notifications/unread-count",
		Summary:     "Unread notification count",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.UnreadNotificationCount(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int `json:"body"`
		}{Body: map[string]int{"unread": n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-notification-read",
		Method:      http.MethodPost,
		Path:        "/notifications/{id}/read",
		Summary:     "Mark notification read",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.MarkNotificationRead(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-all-notifications-read",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark all notifications read",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.MarkAllNotificationsRead(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: map[string]int64{"updated": n}}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events",
	}, func(ctx context.Context, input *struct {
		Limit      int    `query:"limit" default:"100"`
		Cursor     int64  `query:"cursor"`
		ProjectID  string `query:"project_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		items, err := e.LatestEvents(ctx, input.Limit, input.Cursor, input.ProjectID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			res = append(res, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: res}, nil
	})
}
