package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"modmarket/internal/config"
	"modmarket/internal/db"
	"modmarket/internal/domain"
	"modmarket/internal/migrate"
)

type testEnv struct {
	t   *testing.T
	eng *Engine
	cfg *config.Config
	now time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	env := &testEnv{t: t, cfg: cfg, now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	env.eng = New(conn, cfg)
	env.eng.Now = func() time.Time { return env.now }
	return env
}

func (env *testEnv) tick() { env.now = env.now.Add(time.Minute) }

func (env *testEnv) user(role string) domain.User {
	env.t.Helper()
	u, err := env.eng.RegisterUser(context.Background(), fmt.Sprintf("%s-%d", role, env.now.UnixNano()), role)
	if err != nil {
		env.t.Fatalf("register %s: %v", role, err)
	}
	env.tick()
	return u
}

func (env *testEnv) module(commander domain.User, bounty int) domain.Module {
	env.t.Helper()
	ctx := context.Background()
	p, err := env.eng.CreateProject(ctx, commander.ID, fmt.Sprintf("proj-%d", env.now.UnixNano()), "")
	if err != nil {
		env.t.Fatalf("create project: %v", err)
	}
	m, err := env.eng.CreateModule(ctx, commander.ID, CreateModuleInput{
		ProjectID: p.ID,
		Title:     "build the widget",
		Bounty:    &bounty,
	})
	if err != nil {
		env.t.Fatalf("create module: %v", err)
	}
	env.tick()
	return m
}

func (env *testEnv) claim(u domain.User, m domain.Module) {
	env.t.Helper()
	if _, err := env.eng.ClaimModule(context.Background(), u.ID, m.ID); err != nil {
		env.t.Fatalf("claim: %v", err)
	}
	env.tick()
}

func (env *testEnv) deliver(u domain.User, m domain.Module) domain.Delivery {
	env.t.Helper()
	d, err := env.eng.SubmitDelivery(context.Background(), u.ID, m.ID, "done, see attached", nil)
	if err != nil {
		env.t.Fatalf("submit delivery: %v", err)
	}
	env.tick()
	return d
}

func TestRegisterUserBaseline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	u := env.user(domain.RoleNode)
	if u.ReputationScore != 100 {
		t.Fatalf("baseline reputation = %d, want 100", u.ReputationScore)
	}
	history, err := env.eng.ReputationHistory(ctx, u.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].Change != 100 || history[0].Reason != "baseline" {
		t.Fatalf("unexpected history %+v", history)
	}

	if _, err := env.eng.RegisterUser(ctx, "", domain.RoleNode); err == nil {
		t.Fatal("empty username accepted")
	}
	var verr ValidationError
	if _, err := env.eng.RegisterUser(ctx, "x", "admiral"); !errors.As(err, &verr) {
		t.Fatalf("bad role: got %v, want ValidationError", err)
	}
}

func TestClaimMovesModuleInProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)

	got, err := env.eng.ClaimModule(ctx, node.ID, m.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Status != domain.ModuleInProgress {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	if len(got.Assignees) != 1 || got.Assignees[0].UserID != node.ID {
		t.Fatalf("assignees = %+v", got.Assignees)
	}

	if _, err := env.eng.ClaimModule(ctx, node.ID, m.ID); !errors.Is(err, ErrAlreadyAssigned) {
		t.Fatalf("second claim: got %v, want ErrAlreadyAssigned", err)
	}

	u, err := env.eng.GetUser(ctx, node.ID)
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if u.ConcurrentTaskCount != 1 {
		t.Fatalf("concurrent_task_count = %d, want 1", u.ConcurrentTaskCount)
	}
}

func TestClaimConcurrencyCeiling(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)

	for i := 0; i < env.cfg.Limits.MaxConcurrentClaims; i++ {
		env.claim(node, env.module(commander, 10))
	}
	extra := env.module(commander, 10)
	if _, err := env.eng.ClaimModule(ctx, node.ID, extra.ID); !errors.Is(err, ErrConcurrencyLimitReached) {
		t.Fatalf("got %v, want ErrConcurrencyLimitReached", err)
	}
	// The failed claim must not leak a slot or an assignment.
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ConcurrentTaskCount != env.cfg.Limits.MaxConcurrentClaims {
		t.Fatalf("concurrent_task_count = %d after rollback", u.ConcurrentTaskCount)
	}
	view, _ := env.eng.GetModuleView(ctx, extra.ID)
	if len(view.Assignees) != 0 {
		t.Fatalf("assignment leaked: %+v", view.Assignees)
	}
}

func TestClaimAssigneeCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	m := env.module(commander, 100)

	for i := 0; i < env.cfg.Limits.MaxModuleAssignees; i++ {
		env.claim(env.user(domain.RoleNode), m)
	}
	sixth := env.user(domain.RoleNode)
	if _, err := env.eng.ClaimModule(ctx, sixth.ID, m.ID); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}
	u, _ := env.eng.GetUser(ctx, sixth.ID)
	if u.ConcurrentTaskCount != 0 {
		t.Fatalf("slot leaked on rejected claim: %d", u.ConcurrentTaskCount)
	}
}

func TestClaimEligibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	m := env.module(commander, 100)

	if _, err := env.eng.ClaimModule(ctx, commander.ID, m.ID); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("commander claim: got %v, want ErrNotEligible", err)
	}

	if _, err := env.eng.CancelModule(ctx, commander.ID, m.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	node := env.user(domain.RoleNode)
	if _, err := env.eng.ClaimModule(ctx, node.ID, m.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("claim on closed: got %v, want ErrInvalidState", err)
	}
}

func TestClaimBlockedAfterDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	p, err := env.eng.CreateProject(ctx, commander.ID, "deadline proj", "")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	deadline := env.now.Add(time.Hour).Format(time.RFC3339)
	m, err := env.eng.CreateModule(ctx, commander.ID, CreateModuleInput{ProjectID: p.ID, Title: "timed", Deadline: &deadline})
	if err != nil {
		t.Fatalf("module: %v", err)
	}

	env.now = env.now.Add(2 * time.Hour)
	node := env.user(domain.RoleNode)
	if _, err := env.eng.ClaimModule(ctx, node.ID, m.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("claim after deadline: got %v, want ErrInvalidState", err)
	}
	view, err := env.eng.GetModuleView(ctx, m.ID)
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !view.IsTimeout {
		t.Fatal("is_timeout not derived")
	}
	if view.Status != domain.ModuleOpen {
		t.Fatalf("timeout must not be persisted as a status, got %s", view.Status)
	}
}

func TestSubmitDeliveryRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	outsider := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)

	if _, err := env.eng.SubmitDelivery(ctx, outsider.ID, m.ID, "not mine", nil); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("outsider delivery: got %v, want ErrNotEligible", err)
	}

	env.deliver(node, m)
	if _, err := env.eng.SubmitDelivery(ctx, node.ID, m.ID, "again", nil); !errors.Is(err, ErrDuplicatePendingDelivery) {
		t.Fatalf("duplicate pending: got %v", err)
	}
}

func TestReviewPassEqualSplit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	a := env.user(domain.RoleNode)
	b := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(a, m)
	env.claim(b, m)
	d := env.deliver(a, m)
	stale := env.deliver(b, m)

	rev, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rev.Allocations[a.ID] != 50 || rev.Allocations[b.ID] != 50 {
		t.Fatalf("allocations = %+v, want 50/50", rev.Allocations)
	}

	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if view.Status != domain.ModuleCompleted {
		t.Fatalf("module status = %s, want completed", view.Status)
	}
	for _, u := range []domain.User{a, b} {
		got, _ := env.eng.GetUser(ctx, u.ID)
		if got.ReputationScore != 150 {
			t.Fatalf("%s reputation = %d, want 150", u.Username, got.ReputationScore)
		}
		if got.ConcurrentTaskCount != 0 {
			t.Fatalf("%s slot not released", u.Username)
		}
	}

	// The other pending delivery is closed out with the module.
	other, _ := env.eng.GetDelivery(ctx, stale.ID)
	if other.Status != domain.DeliveryClosed {
		t.Fatalf("sibling delivery status = %s, want closed", other.Status)
	}

	// A resolved module accepts no further review.
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, stale.ID, ReviewInput{Decision: domain.DecisionPass}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second review: got %v, want ErrInvalidState", err)
	}
}

func TestReviewPassRemainderToEarliest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	first := env.user(domain.RoleNode)
	second := env.user(domain.RoleNode)
	m := env.module(commander, 101)
	env.claim(first, m)
	env.claim(second, m)
	d := env.deliver(first, m)

	rev, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rev.Allocations[first.ID] != 51 || rev.Allocations[second.ID] != 50 {
		t.Fatalf("allocations = %+v, want 51 to the earliest claimant", rev.Allocations)
	}
}

func TestReviewPassStrictRemainder(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Policy.Remainder = config.RemainderStrict
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	first := env.user(domain.RoleNode)
	second := env.user(domain.RoleNode)
	m := env.module(commander, 101)
	env.claim(first, m)
	env.claim(second, m)
	d := env.deliver(first, m)

	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass}); !errors.Is(err, ErrAllocationMismatch) {
		t.Fatalf("got %v, want ErrAllocationMismatch", err)
	}
	// Nothing moved.
	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if view.Status != domain.ModuleInProgress {
		t.Fatalf("module status = %s after failed review", view.Status)
	}
}

func TestReviewPassExplicitAllocations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	a := env.user(domain.RoleNode)
	b := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(a, m)
	env.claim(b, m)
	d := env.deliver(a, m)

	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{
		Decision:    domain.DecisionPass,
		Allocations: map[string]int{a.ID: 90, b.ID: 20},
	}); !errors.Is(err, ErrAllocationMismatch) {
		t.Fatalf("sum 110 of 100: got %v, want ErrAllocationMismatch", err)
	}

	var verr ValidationError
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{
		Decision:    domain.DecisionPass,
		Allocations: map[string]int{"ghost": 100},
	}); !errors.As(err, &verr) {
		t.Fatalf("unknown assignee: got %v, want ValidationError", err)
	}

	rev, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{
		Decision:    domain.DecisionPass,
		Allocations: map[string]int{a.ID: 70, b.ID: 30},
	})
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if rev.Allocations[a.ID] != 70 || rev.Allocations[b.ID] != 30 {
		t.Fatalf("allocations = %+v", rev.Allocations)
	}
	gotA, _ := env.eng.GetUser(ctx, a.ID)
	gotB, _ := env.eng.GetUser(ctx, b.ID)
	if gotA.ReputationScore != 170 || gotB.ReputationScore != 130 {
		t.Fatalf("reputation = %d/%d, want 170/130", gotA.ReputationScore, gotB.ReputationScore)
	}
}

func TestReviewPassRequiresPositiveTotal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	p, err := env.eng.CreateProject(ctx, commander.ID, "unbountied", "")
	if err != nil {
		t.Fatalf("project: %v", err)
	}
	m, err := env.eng.CreateModule(ctx, commander.ID, CreateModuleInput{ProjectID: p.ID, Title: "goodwill work"})
	if err != nil {
		t.Fatalf("module: %v", err)
	}
	env.claim(node, m)
	d := env.deliver(node, m)

	var verr ValidationError
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass}); !errors.As(err, &verr) {
		t.Fatalf("pass with no score and no bounty: got %v, want ValidationError", err)
	}
	zero := 0
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass, TotalScore: &zero}); !errors.As(err, &verr) {
		t.Fatalf("pass with zero total: got %v, want ValidationError", err)
	}
	// The rejected pass must leave the module and the node untouched.
	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if view.Status != domain.ModuleInProgress {
		t.Fatalf("module status = %s after failed pass", view.Status)
	}
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ReputationScore != 100 || u.ConcurrentTaskCount != 1 {
		t.Fatalf("failed pass moved the node: %+v", u)
	}

	score := 60
	rev, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass, TotalScore: &score})
	if err != nil {
		t.Fatalf("explicit total: %v", err)
	}
	if rev.Allocations[node.ID] != 60 {
		t.Fatalf("allocations = %+v", rev.Allocations)
	}
}

func TestReviewRejectRequiresFeedback(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)
	d := env.deliver(node, m)

	var verr ValidationError
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionReject}); !errors.As(err, &verr) {
		t.Fatalf("reject without feedback: got %v, want ValidationError", err)
	}
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionReject, Feedback: "   "}); !errors.As(err, &verr) {
		t.Fatalf("blank feedback: got %v, want ValidationError", err)
	}
	got, _ := env.eng.GetDelivery(ctx, d.ID)
	if got.Status != domain.DeliveryPending {
		t.Fatalf("failed reject touched the delivery: %s", got.Status)
	}

	// A stray score on a reject is discarded, not recorded.
	ninety := 90
	rev, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionReject, Feedback: "missing edge cases", TotalScore: &ninety})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rev.TotalScore != nil {
		t.Fatalf("reject review carries a score: %d", *rev.TotalScore)
	}
	reviews, err := env.eng.ListModuleReviews(ctx, m.ID)
	if err != nil {
		t.Fatalf("list reviews: %v", err)
	}
	if len(reviews) != 1 || reviews[0].TotalScore != nil {
		t.Fatalf("persisted reject review = %+v", reviews)
	}
}

func TestReviewReject(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)
	d := env.deliver(node, m)

	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionReject, Feedback: "needs tests"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	got, _ := env.eng.GetDelivery(ctx, d.ID)
	if got.Status != domain.DeliveryRejected {
		t.Fatalf("delivery status = %s, want rejected", got.Status)
	}
	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if view.Status != domain.ModuleInProgress || len(view.Assignees) != 1 {
		t.Fatalf("reject must keep the assignment live: %s %+v", view.Status, view.Assignees)
	}
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ReputationScore != 100 || u.ConcurrentTaskCount != 1 {
		t.Fatalf("reject moved reputation or freed the slot: %+v", u)
	}

	// Resubmission after rejection is allowed.
	env.deliver(node, m)
}

func TestReviewClose(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)
	d := env.deliver(node, m)

	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionClose}); err != nil {
		t.Fatalf("close: %v", err)
	}
	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if view.Status != domain.ModuleClosed {
		t.Fatalf("module status = %s, want closed", view.Status)
	}
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ReputationScore != 100 {
		t.Fatalf("close granted reputation: %d", u.ReputationScore)
	}
	if u.ConcurrentTaskCount != 0 {
		t.Fatal("close did not release the slot")
	}
}

func TestReviewRequiresProjectCommander(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	stranger := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)
	d := env.deliver(node, m)

	if _, err := env.eng.ReviewDelivery(ctx, stranger.ID, d.ID, ReviewInput{Decision: domain.DecisionPass}); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("got %v, want ErrNotEligible", err)
	}
}

func TestAbandonFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)

	var verr ValidationError
	if _, err := env.eng.RequestAbandon(ctx, node.ID, m.ID, "nope"); !errors.As(err, &verr) {
		t.Fatalf("short reason: got %v, want ValidationError", err)
	}

	req, err := env.eng.RequestAbandon(ctx, node.ID, m.ID, "urgent conflicting work came up")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.eng.RequestAbandon(ctx, node.ID, m.ID, "asking twice just in case"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("duplicate pending request: got %v, want ErrInvalidState", err)
	}

	resolved, err := env.eng.ReviewAbandon(ctx, commander.ID, req.ID, true, "ok")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resolved.Status != domain.AbandonApproved || resolved.ResolvedAt == nil {
		t.Fatalf("resolved = %+v", resolved)
	}

	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if len(view.Assignees) != 0 {
		t.Fatalf("assignment survived approval: %+v", view.Assignees)
	}
	if view.Status != domain.ModuleOpen {
		t.Fatalf("module status = %s, want open after last assignee left", view.Status)
	}
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ConcurrentTaskCount != 0 {
		t.Fatal("slot not freed on approval")
	}

	if _, err := env.eng.ReviewAbandon(ctx, commander.ID, req.ID, true, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("re-resolve: got %v, want ErrInvalidState", err)
	}
}

func TestAbandonRejectKeepsAssignment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	other := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)
	env.claim(other, m)

	req, err := env.eng.RequestAbandon(ctx, node.ID, m.ID, "lost interest in this module")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := env.eng.ReviewAbandon(ctx, commander.ID, req.ID, false, "finish it"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	view, _ := env.eng.GetModuleView(ctx, m.ID)
	if len(view.Assignees) != 2 || view.Status != domain.ModuleInProgress {
		t.Fatalf("reject must change nothing: %s %+v", view.Status, view.Assignees)
	}
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ConcurrentTaskCount != 1 {
		t.Fatalf("slot count = %d, want 1", u.ConcurrentTaskCount)
	}
}

func TestCancelModuleReleasesSlotsAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)
	env.claim(node, m)
	env.deliver(node, m)

	view, err := env.eng.CancelModule(ctx, commander.ID, m.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if view.Status != domain.ModuleClosed {
		t.Fatalf("status = %s, want closed", view.Status)
	}
	u, _ := env.eng.GetUser(ctx, node.ID)
	if u.ConcurrentTaskCount != 0 {
		t.Fatal("cancel did not release the slot")
	}
	ds, _ := env.eng.Repo.ListDeliveries(ctx, m.ID)
	if len(ds) != 1 || ds[0].Status != domain.DeliveryClosed {
		t.Fatalf("pending delivery not closed: %+v", ds)
	}

	ns, err := env.eng.Notifications(ctx, node.ID, true, 10)
	if err != nil {
		t.Fatalf("notifications: %v", err)
	}
	found := false
	for _, n := range ns {
		if n.ModuleID == m.ID && n.Type == "module.cancelled" {
			found = true
		}
	}
	if !found {
		t.Fatalf("assignee not notified of cancellation: %+v", ns)
	}
}

func TestUpdateModuleOnlyWhileOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	node := env.user(domain.RoleNode)
	m := env.module(commander, 100)

	title := "revised widget"
	got, err := env.eng.UpdateModule(ctx, commander.ID, m.ID, UpdateModuleInput{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Title != title {
		t.Fatalf("title = %s", got.Title)
	}

	env.claim(node, m)
	if _, err := env.eng.UpdateModule(ctx, commander.ID, m.ID, UpdateModuleInput{Title: &title}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("update after claim: got %v, want ErrInvalidState", err)
	}
}

func TestEventTimestampsFollowEngineClock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	want := env.now.UTC().Format(time.RFC3339)

	if _, err := env.eng.RegisterUser(ctx, "clockwatcher", domain.RoleNode); err != nil {
		t.Fatalf("register: %v", err)
	}
	evts, err := env.eng.LatestEvents(ctx, 10, 0, "", "", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) == 0 {
		t.Fatal("no events recorded")
	}
	if evts[0].TS != want {
		t.Fatalf("event ts = %s, want %s", evts[0].TS, want)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	commander := env.user(domain.RoleCommander)
	winner := env.user(domain.RoleNode)
	m := env.module(commander, 40)
	env.claim(winner, m)
	d := env.deliver(winner, m)
	if _, err := env.eng.ReviewDelivery(ctx, commander.ID, d.ID, ReviewInput{Decision: domain.DecisionPass}); err != nil {
		t.Fatalf("review: %v", err)
	}

	board, err := env.eng.Leaderboard(ctx, 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(board) < 2 || board[0].ID != winner.ID || board[0].ReputationScore != 140 {
		t.Fatalf("leaderboard = %+v", board)
	}
}
