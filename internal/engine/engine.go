// Package engine implements the module lifecycle: publishing, claiming,
// delivery, review and reputation allocation. Every mutation runs in a
// single SQLite transaction; audit events are written inside the
// transaction while notifications go out only after commit.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"modmarket/internal/config"
	"modmarket/internal/domain"
	"modmarket/internal/events"
	"modmarket/internal/notify"
	"modmarket/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Notify notify.Sink
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) *Engine {
	r := repo.Repo{DB: db}
	e := &Engine{
		DB:     db,
		Repo:   r,
		Config: cfg,
		Now:    time.Now,
	}
	// Event and notification timestamps follow the engine clock, so a
	// swapped Now covers them too.
	e.Events = events.Writer{DB: db, Now: e.now}
	e.Notify = notify.Store{Repo: r, Now: e.now}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) nowStr() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e *Engine) claimPolicy() ClaimPolicy {
	return ClaimPolicy{
		AllowLateJoin:        e.Config.Policy.AllowLateJoin,
		BlockClaimsOnTimeout: e.Config.Policy.BlockClaimsOnTimeout,
	}
}

func (e *Engine) send(ctx context.Context, n domain.Notification) {
	if e.Notify == nil {
		return
	}
	e.Notify.Send(ctx, n)
}

// --- users ---

func (e *Engine) RegisterUser(ctx context.Context, username, role string) (domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return domain.User{}, validationf("username", "must not be empty")
	}
	if role != domain.RoleCommander && role != domain.RoleNode {
		return domain.User{}, validationf("role", "must be %q or %q", domain.RoleCommander, domain.RoleNode)
	}
	u := domain.User{
		ID:              uuid.New().String(),
		Username:        username,
		Role:            role,
		ReputationScore: e.Config.Limits.BaselineReputation,
		CreatedAt:       e.nowStr(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertUserTx(ctx, tx, u); err != nil {
		return domain.User{}, err
	}
	entry := domain.ReputationEntry{
		ID:        uuid.New().String(),
		UserID:    u.ID,
		Change:    u.ReputationScore,
		Reason:    "baseline",
		CreatedAt: u.CreatedAt,
	}
	if err := e.Repo.InsertReputationEntryTx(ctx, tx, entry); err != nil {
		return domain.User{}, err
	}
	if err := e.Events.Append(ctx, tx, events.UserRegistered, "", "user", u.ID, u.ID, events.EventPayload{
		"username": u.Username,
		"role":     u.Role,
	}); err != nil {
		return domain.User{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e *Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

func (e *Engine) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return e.Repo.GetUserByUsername(ctx, username)
}

// Leaderboard returns users ranked by reputation score.
func (e *Engine) Leaderboard(ctx context.Context, limit int) ([]domain.User, error) {
	return e.Repo.ListUsersByReputation(ctx, limit)
}

func (e *Engine) ReputationHistory(ctx context.Context, userID string) ([]domain.ReputationEntry, error) {
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return e.Repo.ListReputationHistory(ctx, userID)
}

// --- projects ---

func (e *Engine) CreateProject(ctx context.Context, actorID, name, description string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, validationf("name", "must not be empty")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	actor, err := e.Repo.GetUserTx(ctx, tx, actorID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("actor: %w", err)
	}
	if actor.Role != domain.RoleCommander {
		return domain.Project{}, ErrNotEligible
	}
	p := domain.Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Status:      "active",
		CreatorID:   actor.ID,
		CreatedAt:   e.nowStr(),
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ProjectCreated, p.ID, "project", p.ID, actor.ID, events.EventPayload{
		"name": p.Name,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e *Engine) UpdateProject(ctx context.Context, actorID, projectID, status string, description *string) (domain.Project, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if p.CreatorID != actorID {
		return domain.Project{}, ErrNotEligible
	}
	if status != "" {
		switch status {
		case "planning", "active", "paused", "completed":
		default:
			return domain.Project{}, validationf("status", "unknown project status %q", status)
		}
	}
	if err := e.Repo.UpdateProject(ctx, projectID, status, description); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

func (e *Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

func (e *Engine) ListProjects(ctx context.Context) ([]domain.Project, error) {
	return e.Repo.ListProjects(ctx)
}

// --- modules ---

type CreateModuleInput struct {
	ProjectID   string
	Title       string
	Description string
	Bounty      *int
	Deadline    *string
}

func (e *Engine) CreateModule(ctx context.Context, actorID string, in CreateModuleInput) (domain.Module, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return domain.Module{}, validationf("title", "must not be empty")
	}
	if in.Bounty != nil && *in.Bounty < 0 {
		return domain.Module{}, validationf("bounty", "must not be negative")
	}
	if in.Deadline != nil && *in.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, *in.Deadline); err != nil {
			return domain.Module{}, validationf("deadline", "must be RFC3339: %v", err)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Module{}, err
	}
	defer tx.Rollback()
	actor, err := e.Repo.GetUserTx(ctx, tx, actorID)
	if err != nil {
		return domain.Module{}, fmt.Errorf("actor: %w", err)
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, in.ProjectID)
	if err != nil {
		return domain.Module{}, fmt.Errorf("project: %w", err)
	}
	if actor.Role != domain.RoleCommander || p.CreatorID != actor.ID {
		return domain.Module{}, ErrNotEligible
	}
	now := e.nowStr()
	m := domain.Module{
		ID:          uuid.New().String(),
		ProjectID:   p.ID,
		Title:       in.Title,
		Description: in.Description,
		Status:      domain.ModuleOpen,
		Bounty:      in.Bounty,
		Deadline:    in.Deadline,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertModuleTx(ctx, tx, m); err != nil {
		return domain.Module{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModuleCreated, p.ID, "module", m.ID, actor.ID, events.EventPayload{
		"title": m.Title,
	}); err != nil {
		return domain.Module{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Module{}, err
	}
	return m, nil
}

type UpdateModuleInput struct {
	Title       *string
	Description *string
	Bounty      *int
	Deadline    *string
}

// UpdateModule edits a module's fields. Only open modules can be edited;
// once a node has claimed, the terms are fixed.
func (e *Engine) UpdateModule(ctx context.Context, actorID, moduleID string, in UpdateModuleInput) (domain.Module, error) {
	m, err := e.Repo.GetModule(ctx, moduleID)
	if err != nil {
		return domain.Module{}, err
	}
	p, err := e.Repo.GetProject(ctx, m.ProjectID)
	if err != nil {
		return domain.Module{}, err
	}
	if p.CreatorID != actorID {
		return domain.Module{}, ErrNotEligible
	}
	if m.Status != domain.ModuleOpen {
		return domain.Module{}, ErrInvalidState
	}
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return domain.Module{}, validationf("title", "must not be empty")
	}
	if in.Bounty != nil && *in.Bounty < 0 {
		return domain.Module{}, validationf("bounty", "must not be negative")
	}
	if in.Deadline != nil && *in.Deadline != "" {
		if _, err := time.Parse(time.RFC3339, *in.Deadline); err != nil {
			return domain.Module{}, validationf("deadline", "must be RFC3339: %v", err)
		}
	}
	if err := e.Repo.UpdateModuleFields(ctx, moduleID, in.Title, in.Description, in.Bounty, in.Deadline, e.nowStr()); err != nil {
		return domain.Module{}, err
	}
	return e.GetModuleView(ctx, moduleID)
}

// CancelModule closes a module before review. Claim slots are released
// and assignees are told; no reputation moves.
func (e *Engine) CancelModule(ctx context.Context, actorID, moduleID string) (domain.Module, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Module{}, err
	}
	defer tx.Rollback()
	m, err := e.Repo.GetModuleTx(ctx, tx, moduleID)
	if err != nil {
		return domain.Module{}, err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, m.ProjectID)
	if err != nil {
		return domain.Module{}, err
	}
	if p.CreatorID != actorID {
		return domain.Module{}, ErrNotEligible
	}
	if m.Terminal() {
		return domain.Module{}, ErrInvalidState
	}
	now := e.nowStr()
	ok, err := e.Repo.UpdateModuleStatusTx(ctx, tx, moduleID, m.Status, domain.ModuleClosed, now)
	if err != nil {
		return domain.Module{}, err
	}
	if !ok {
		return domain.Module{}, ErrConflict
	}
	assignments, err := e.Repo.ListAssignmentsTx(ctx, tx, moduleID)
	if err != nil {
		return domain.Module{}, err
	}
	for _, a := range assignments {
		if err := e.Repo.DecrementTaskCountTx(ctx, tx, a.UserID); err != nil {
			return domain.Module{}, err
		}
	}
	if err := e.Repo.DeleteModuleAssignmentsTx(ctx, tx, moduleID); err != nil {
		return domain.Module{}, err
	}
	if err := e.Repo.CloseModulePendingDeliveriesTx(ctx, tx, moduleID); err != nil {
		return domain.Module{}, err
	}
	if err := e.Events.Append(ctx, tx, events.ModuleCancelled, m.ProjectID, "module", m.ID, actorID, nil); err != nil {
		return domain.Module{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Module{}, err
	}
	for _, a := range assignments {
		e.send(ctx, domain.Notification{
			RecipientID: a.UserID,
			Type:        notify.TypeModuleCancelled,
			Title:       "Module cancelled",
			Body:        fmt.Sprintf("Module %q was cancelled by its commander.", m.Title),
			ModuleID:    m.ID,
		})
	}
	return e.GetModuleView(ctx, moduleID)
}

// GetModuleView loads a module with its assignees and the derived
// timeout flag.
func (e *Engine) GetModuleView(ctx context.Context, id string) (domain.Module, error) {
	m, err := e.Repo.GetModule(ctx, id)
	if err != nil {
		return domain.Module{}, err
	}
	assignments, err := e.Repo.ListAssignments(ctx, id)
	if err != nil {
		return domain.Module{}, err
	}
	m.Assignees = assignments
	m.IsTimeout = m.TimedOut(e.now())
	return m, nil
}

func (e *Engine) ListModules(ctx context.Context, projectID, status string) ([]domain.Module, error) {
	mods, err := e.Repo.ListModules(ctx, projectID, status)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range mods {
		mods[i].IsTimeout = mods[i].TimedOut(now)
	}
	return mods, nil
}

// ClaimModule assigns a node to a module. The concurrency ceiling and
// the assignee cap are enforced by guarded writes so two parallel claims
// cannot both squeeze past a full limit.
func (e *Engine) ClaimModule(ctx context.Context, actorID, moduleID string) (domain.Module, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Module{}, err
	}
	defer tx.Rollback()
	actor, err := e.Repo.GetUserTx(ctx, tx, actorID)
	if err != nil {
		return domain.Module{}, fmt.Errorf("actor: %w", err)
	}
	m, err := e.Repo.GetModuleTx(ctx, tx, moduleID)
	if err != nil {
		return domain.Module{}, err
	}
	if err := e.claimPolicy().Check(actor, m, e.now()); err != nil {
		return domain.Module{}, err
	}
	if _, err := e.Repo.GetAssignmentTx(ctx, tx, moduleID, actor.ID); err == nil {
		return domain.Module{}, ErrAlreadyAssigned
	} else if err != repo.ErrNotFound {
		return domain.Module{}, err
	}
	ok, err := e.Repo.IncrementTaskCountTx(ctx, tx, actor.ID, e.Config.Limits.MaxConcurrentClaims)
	if err != nil {
		return domain.Module{}, err
	}
	if !ok {
		return domain.Module{}, ErrConcurrencyLimitReached
	}
	now := e.nowStr()
	a := domain.Assignment{ModuleID: moduleID, UserID: actor.ID, ClaimedAt: now}
	ok, err = e.Repo.InsertAssignmentTx(ctx, tx, a, e.Config.Limits.MaxModuleAssignees)
	if err != nil {
		return domain.Module{}, err
	}
	if !ok {
		return domain.Module{}, ErrCapacityExceeded
	}
	if m.Status == domain.ModuleOpen {
		ok, err = e.Repo.UpdateModuleStatusTx(ctx, tx, moduleID, domain.ModuleOpen, domain.ModuleInProgress, now)
		if err != nil {
			return domain.Module{}, err
		}
		if !ok {
			return domain.Module{}, ErrConflict
		}
	}
	if err := e.Events.Append(ctx, tx, events.ModuleClaimed, m.ProjectID, "module", m.ID, actor.ID, events.EventPayload{
		"username": actor.Username,
	}); err != nil {
		return domain.Module{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Module{}, err
	}
	if p, err := e.Repo.GetProject(ctx, m.ProjectID); err == nil {
		e.send(ctx, domain.Notification{
			RecipientID: p.CreatorID,
			Type:        notify.TypeModuleClaimed,
			Title:       "Module claimed",
			Body:        fmt.Sprintf("%s claimed module %q.", actor.Username, m.Title),
			ModuleID:    m.ID,
		})
	}
	return e.GetModuleView(ctx, moduleID)
}
