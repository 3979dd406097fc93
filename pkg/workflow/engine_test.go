package workflow_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/contractflow/contractflow/pkg/policy"
	"github.com/contractflow/contractflow/pkg/stores"
	"github.com/contractflow/contractflow/pkg/workflow"
)

const (
	manager = "alice"
	legal   = "lena"
	head    = "hugo"
	finance = "fred"
)

type recordingNotifier struct {
	mu    sync.Mutex
	notes []workflow.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n workflow.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) actions() []workflow.Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.Action, 0, len(r.notes))
	for _, n := range r.notes {
		out = append(out, n.Action)
	}
	return out
}

type staticRouter []workflow.TrackType

func (s staticRouter) RequiredTracks(context.Context, workflow.CreateInput) ([]workflow.TrackType, error) {
	return s, nil
}

type testEnv struct {
	engine   *workflow.Engine
	notifier *recordingNotifier
}

func setupStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupOracle(t *testing.T) *policy.Engine {
	t.Helper()
	b := policy.DefaultBindings()
	b.Bindings = map[string][]string{
		manager: {"contract_manager"},
		legal:   {"legal_manager"},
		head:    {"legal_head"},
		finance: {"finance_manager"},
	}
	oracle, err := policy.NewEngine(zerolog.Nop(), b)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return oracle
}

func setupEngine(t *testing.T, store workflow.Store, opts ...workflow.Option) *testEnv {
	t.Helper()
	env := &testEnv{notifier: &recordingNotifier{}}
	opts = append([]workflow.Option{workflow.WithNotifier(env.notifier)}, opts...)
	engine, err := workflow.NewEngine(store, setupOracle(t), workflow.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	env.engine = engine
	return env
}

func newEnv(t *testing.T, opts ...workflow.Option) *testEnv {
	t.Helper()
	return setupEngine(t, setupStore(t), opts...)
}

func (env *testEnv) create(t *testing.T, tracks ...workflow.TrackType) *workflow.ContractView {
	t.Helper()
	v, err := env.engine.Create(context.Background(), manager, workflow.CreateInput{
		Title:             "Framework agreement",
		Amount:            250000,
		Currency:          "eur",
		CounterpartyName:  "Acme",
		CounterpartyEmail: "legal@acme.test",
		RequiredTracks:    tracks,
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return v
}

func (env *testEnv) submit(t *testing.T, contractID string, target workflow.TrackType) *workflow.ApprovalTrack {
	t.Helper()
	v, err := env.engine.Submit(context.Background(), manager, contractID, target)
	if err != nil {
		t.Fatalf("submit %s failed: %v", target, err)
	}
	return v.CurrentTrack(target)
}

// assertConsistent re-reads the contract and checks the stored status equals
// the status derived from its tracks.
func (env *testEnv) assertConsistent(t *testing.T, contractID string) *workflow.ContractView {
	t.Helper()
	v, err := env.engine.GetContract(context.Background(), contractID)
	if err != nil {
		t.Fatalf("get contract failed: %v", err)
	}
	if derived := workflow.DeriveView(v); derived != v.Contract.Status {
		t.Errorf("stored status %s differs from derived %s", v.Contract.Status, derived)
	}
	open := map[workflow.TrackType]int{}
	for _, tr := range v.Tracks {
		if tr.Status.IsOpen() {
			open[tr.Type]++
		}
	}
	for typ, n := range open {
		if n > 1 {
			t.Errorf("%d open %s tracks", n, typ)
		}
	}
	return v
}

func (env *testEnv) auditActions(t *testing.T, contractID string) []workflow.Action {
	t.Helper()
	entries, err := env.engine.AuditTrail(context.Background(), contractID, 0, 0)
	if err != nil {
		t.Fatalf("audit trail failed: %v", err)
	}
	out := make([]workflow.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func equalActions(a, b []workflow.Action) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCreate(t *testing.T) {
	env := newEnv(t)
	v := env.create(t)

	c := v.Contract
	if c.Status != workflow.StatusDraft || c.Version != 1 {
		t.Errorf("expected DRAFT v1, got %s v%d", c.Status, c.Version)
	}
	if c.Currency != "EUR" {
		t.Errorf("expected currency to be upper-cased, got %s", c.Currency)
	}
	if len(c.RequiredTracks) != 2 {
		t.Errorf("expected both tracks by default, got %v", c.RequiredTracks)
	}
	if got := env.auditActions(t, c.ID); !equalActions(got, []workflow.Action{workflow.ActionCreated}) {
		t.Errorf("unexpected audit trail %v", got)
	}

	_, err := env.engine.Create(context.Background(), legal, workflow.CreateInput{Title: "x", CounterpartyName: "y"})
	if !workflow.IsForbidden(err) {
		t.Errorf("expected forbidden for a legal reviewer, got %v", err)
	}
	_, err = env.engine.Create(context.Background(), manager, workflow.CreateInput{CounterpartyName: "y"})
	if !workflow.IsValidation(err) {
		t.Errorf("expected validation error for a missing title, got %v", err)
	}
}

func TestCreateUsesRouter(t *testing.T) {
	env := newEnv(t, workflow.WithRouter(staticRouter{workflow.TrackFinance}))
	if got := env.create(t).Contract.RequiredTracks; len(got) != 1 || got[0] != workflow.TrackFinance {
		t.Errorf("expected router result [FINANCE], got %v", got)
	}
	if got := env.create(t, workflow.TrackLegal).Contract.RequiredTracks; len(got) != 1 || got[0] != workflow.TrackLegal {
		t.Errorf("expected explicit tracks to win, got %v", got)
	}

	env = newEnv(t, workflow.WithRouter(staticRouter{}))
	if got := env.create(t).Contract.RequiredTracks; len(got) != 2 {
		t.Errorf("expected empty routing to fall back to defaults, got %v", got)
	}
}

func TestScenarioSubmitLegal(t *testing.T) {
	env := newEnv(t)
	v := env.create(t)

	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	if tr.Status != workflow.TrackPending || tr.ActorRole != workflow.RoleManager {
		t.Errorf("expected PENDING manager track, got %s %s", tr.Status, tr.ActorRole)
	}
	got := env.assertConsistent(t, v.Contract.ID)
	if got.Contract.Status != workflow.StatusSentToLegal {
		t.Errorf("expected SENT_TO_LEGAL, got %s", got.Contract.Status)
	}
	if got.Contract.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Contract.Version)
	}

	_, err := env.engine.Submit(context.Background(), manager, v.Contract.ID, workflow.TrackLegal)
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected double submission to be invalid state, got %v", err)
	}
}

func TestScenarioRejectAndResubmit(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t)
	first := env.submit(t, v.Contract.ID, workflow.TrackLegal)

	rejected, err := env.engine.Reject(ctx, legal, first.ID, "missing indemnity clause")
	if err != nil {
		t.Fatalf("reject failed: %v", err)
	}
	if rejected.Contract.Status != workflow.StatusRevisionRequested {
		t.Fatalf("expected REVISION_REQUESTED, got %s", rejected.Contract.Status)
	}

	second := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	if second.ID == first.ID {
		t.Fatal("expected a fresh track for the new review cycle")
	}

	got := env.assertConsistent(t, v.Contract.ID)
	if got.Contract.Status != workflow.StatusSentToLegal {
		t.Errorf("expected SENT_TO_LEGAL, got %s", got.Contract.Status)
	}
	if len(got.Tracks) != 2 {
		t.Fatalf("expected 2 tracks in history, got %d", len(got.Tracks))
	}
	old := got.Track(first.ID)
	if old.Status != workflow.TrackRejected || old.Comment != "missing indemnity clause" {
		t.Errorf("expected first track kept as REJECTED with its comment, got %s %q", old.Status, old.Comment)
	}
	if old.DecidedBy == nil || *old.DecidedBy != legal {
		t.Errorf("expected decided_by %s, got %v", legal, old.DecidedBy)
	}

	entries, err := env.engine.AuditTrail(ctx, v.Contract.ID, 0, 0)
	if err != nil {
		t.Fatalf("audit trail failed: %v", err)
	}
	rej := entries[2]
	if rej.Action != workflow.ActionRejected || rej.Comment != "missing indemnity clause" {
		t.Errorf("expected rejection audit with verbatim comment, got %s %q", rej.Action, rej.Comment)
	}
	var meta workflow.TransitionMetadata
	if err := json.Unmarshal(rej.Metadata, &meta); err != nil {
		t.Fatalf("failed to decode metadata: %v", err)
	}
	if meta.From != workflow.StatusSentToLegal || meta.To != workflow.StatusRevisionRequested {
		t.Errorf("unexpected transition %s -> %s", meta.From, meta.To)
	}
}

func TestScenarioParallelApproval(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t)
	id := v.Contract.ID

	lt := env.submit(t, id, workflow.TrackLegal)
	ft := env.submit(t, id, workflow.TrackFinance)
	if got := env.assertConsistent(t, id).Contract.Status; got != workflow.StatusInReview {
		t.Errorf("expected IN_REVIEW with both tracks in flight, got %s", got)
	}

	if _, err := env.engine.Approve(ctx, legal, lt.ID, "ok, 12 chars"); err != nil {
		t.Fatalf("legal approve failed: %v", err)
	}
	if got := env.assertConsistent(t, id).Contract.Status; got != workflow.StatusSentToFinance {
		t.Errorf("expected SENT_TO_FINANCE while finance is pending, got %s", got)
	}

	final, err := env.engine.Approve(ctx, finance, ft.ID, "ok, 12 chars")
	if err != nil {
		t.Fatalf("finance approve failed: %v", err)
	}
	if final.Contract.Status != workflow.StatusApproved {
		t.Errorf("expected APPROVED, got %s", final.Contract.Status)
	}
	env.assertConsistent(t, id)

	_, err = env.engine.Approve(ctx, legal, lt.ID, "approving twice")
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected resolved track to be invalid state, got %v", err)
	}
}

func TestScenarioShortComment(t *testing.T) {
	env := newEnv(t)
	v := env.create(t)
	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)

	_, err := env.engine.Approve(context.Background(), legal, tr.ID, "short")
	if !workflow.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var werr *workflow.Error
	if errors.As(err, &werr) && werr.Code != workflow.ErrCodeCommentTooShort {
		t.Errorf("expected code %s, got %s", workflow.ErrCodeCommentTooShort, werr.Code)
	}

	_, err = env.engine.Approve(context.Background(), legal, tr.ID, "   padded   ")
	if !workflow.IsValidation(err) {
		t.Errorf("expected whitespace not to count, got %v", err)
	}

	got := env.assertConsistent(t, v.Contract.ID)
	if got.Track(tr.ID).Status != workflow.TrackPending {
		t.Errorf("expected track to stay PENDING, got %s", got.Track(tr.ID).Status)
	}
	if got.Contract.Version != 2 {
		t.Errorf("expected version unchanged at 2, got %d", got.Contract.Version)
	}
}

func TestScenarioEscalation(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)

	_, err := env.engine.Escalate(ctx, finance, tr.ID)
	if !workflow.IsForbidden(err) {
		t.Errorf("expected finance escalation to be forbidden, got %v", err)
	}

	escalated, err := env.engine.Escalate(ctx, legal, tr.ID)
	if err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if escalated.Contract.Status != workflow.StatusPendingLegalHead {
		t.Errorf("expected PENDING_LEGAL_HEAD, got %s", escalated.Contract.Status)
	}
	got := escalated.Track(tr.ID)
	if got.ActorRole != workflow.RoleHead || got.Status != workflow.TrackEscalated {
		t.Errorf("expected HEAD/ESCALATED, got %s/%s", got.ActorRole, got.Status)
	}

	_, err = env.engine.Escalate(ctx, legal, tr.ID)
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected second escalation to be invalid state, got %v", err)
	}

	_, err = env.engine.Approve(ctx, legal, tr.ID, "manager cannot decide this")
	if !workflow.IsForbidden(err) {
		t.Errorf("expected manager approval of escalated track to be forbidden, got %v", err)
	}

	approved, err := env.engine.Approve(ctx, head, tr.ID, "head approves the deviation")
	if err != nil {
		t.Fatalf("head approve failed: %v", err)
	}
	if approved.Contract.Status != workflow.StatusApproved {
		t.Errorf("expected APPROVED, got %s", approved.Contract.Status)
	}
	env.assertConsistent(t, v.Contract.ID)
}

func TestEscalationResetsOnNewCycle(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)

	if _, err := env.engine.Escalate(ctx, legal, tr.ID); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if _, err := env.engine.RequestRevision(ctx, head, tr.ID, "rework clause 7"); err != nil {
		t.Fatalf("request revision failed: %v", err)
	}

	fresh := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	if fresh.Escalated || fresh.ActorRole != workflow.RoleManager {
		t.Errorf("expected fresh unescalated track, got escalated=%v role=%s", fresh.Escalated, fresh.ActorRole)
	}
	if _, err := env.engine.Escalate(ctx, legal, fresh.ID); err != nil {
		t.Errorf("expected the new cycle to be escalatable, got %v", err)
	}
}

func TestEscalationDuringParallelReview(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t)
	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	env.submit(t, v.Contract.ID, workflow.TrackFinance)
	if got := env.assertConsistent(t, v.Contract.ID); got.Contract.Status != workflow.StatusInReview {
		t.Fatalf("expected IN_REVIEW, got %s", got.Contract.Status)
	}

	actions, err := env.engine.AvailableActions(ctx, legal, v.Contract.ID)
	if err != nil {
		t.Fatalf("available actions failed: %v", err)
	}
	offered := false
	for _, a := range actions {
		if a.Operation == workflow.OpEscalate && a.TrackID == tr.ID {
			offered = true
		}
	}
	if !offered {
		t.Errorf("expected escalate to be offered during parallel review, got %v", actions)
	}

	escalated, err := env.engine.Escalate(ctx, legal, tr.ID)
	if err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if escalated.Contract.Status != workflow.StatusPendingLegalHead {
		t.Errorf("expected PENDING_LEGAL_HEAD, got %s", escalated.Contract.Status)
	}
	env.assertConsistent(t, v.Contract.ID)

	cancelled, err := env.engine.Cancel(ctx, manager, v.Contract.ID, "deal withdrawn")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Contract.Status != workflow.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Contract.Status)
	}
	for _, got := range cancelled.Tracks {
		if got.Status.IsOpen() {
			t.Errorf("track %s (%s) left open after cancel", got.ID, got.Type)
		}
	}
	want := []workflow.Action{
		workflow.ActionCreated, workflow.ActionSubmitted, workflow.ActionSubmitted,
		workflow.ActionEscalated, workflow.ActionCancelled,
	}
	if got := env.auditActions(t, v.Contract.ID); !equalActions(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
}

func TestResubmitAfterClockStepBack(t *testing.T) {
	var (
		mu  sync.Mutex
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	env := newEnv(t, workflow.WithClock(clock))
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	first := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	if _, err := env.engine.Reject(ctx, legal, first.ID, "liability cap missing"); err != nil {
		t.Fatalf("reject failed: %v", err)
	}

	mu.Lock()
	now = now.Add(-time.Minute)
	mu.Unlock()

	second := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	got := env.assertConsistent(t, v.Contract.ID)
	if got.Contract.Status != workflow.StatusSentToLegal {
		t.Errorf("expected SENT_TO_LEGAL, got %s", got.Contract.Status)
	}
	if cur := got.CurrentTrack(workflow.TrackLegal); cur == nil || cur.ID != second.ID {
		t.Errorf("expected the resubmitted track to be current, got %+v", cur)
	}
}

func TestStartReview(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackFinance)
	tr := env.submit(t, v.Contract.ID, workflow.TrackFinance)

	_, err := env.engine.StartReview(ctx, legal, tr.ID)
	if !workflow.IsForbidden(err) {
		t.Errorf("expected legal reviewer to be forbidden on finance track, got %v", err)
	}

	started, err := env.engine.StartReview(ctx, finance, tr.ID)
	if err != nil {
		t.Fatalf("start review failed: %v", err)
	}
	if started.Contract.Status != workflow.StatusFinanceReviewInProgress {
		t.Errorf("expected FINANCE_REVIEW_IN_PROGRESS, got %s", started.Contract.Status)
	}
	if started.Track(tr.ID).OpenedAt == nil {
		t.Error("expected opened_at to be set")
	}

	_, err = env.engine.StartReview(ctx, finance, tr.ID)
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected second start to be invalid state, got %v", err)
	}
	env.assertConsistent(t, v.Contract.ID)
}

func TestSendAndUploadSigned(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	id := v.Contract.ID

	_, err := env.engine.Send(ctx, manager, id)
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected send from DRAFT to be invalid state, got %v", err)
	}

	tr := env.submit(t, id, workflow.TrackLegal)
	if _, err := env.engine.Approve(ctx, legal, tr.ID, "all clauses fine"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	_, err = env.engine.UploadSigned(ctx, manager, id, "s3://signed.pdf")
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected upload before send to be invalid state, got %v", err)
	}
	_, err = env.engine.Send(ctx, legal, id)
	if !workflow.IsForbidden(err) {
		t.Errorf("expected send by legal to be forbidden, got %v", err)
	}

	sent, err := env.engine.Send(ctx, manager, id)
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if sent.Contract.Status != workflow.StatusSentToCounterparty {
		t.Errorf("expected SENT_TO_COUNTERPARTY, got %s", sent.Contract.Status)
	}

	_, err = env.engine.UploadSigned(ctx, manager, id, " ")
	if !workflow.IsValidation(err) {
		t.Errorf("expected empty reference to be a validation error, got %v", err)
	}
	done, err := env.engine.UploadSigned(ctx, manager, id, "s3://signed.pdf")
	if err != nil {
		t.Fatalf("upload signed failed: %v", err)
	}
	if done.Contract.Status != workflow.StatusActive {
		t.Errorf("expected ACTIVE, got %s", done.Contract.Status)
	}
	if done.Contract.SignedAttachment == nil || *done.Contract.SignedAttachment != "s3://signed.pdf" {
		t.Errorf("expected signed attachment to be stored")
	}

	want := []workflow.Action{
		workflow.ActionCreated, workflow.ActionSubmitted, workflow.ActionApproved,
		workflow.ActionSent, workflow.ActionExecuted,
	}
	if got := env.auditActions(t, id); !equalActions(got, want) {
		t.Errorf("audit trail = %v, want %v", got, want)
	}
}

func TestExecutionStatusConfigurable(t *testing.T) {
	store := setupStore(t)
	cfg := workflow.DefaultConfig()
	cfg.ExecutionStatus = workflow.StatusExecuted
	engine, err := workflow.NewEngine(store, setupOracle(t), cfg)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	env := &testEnv{engine: engine}
	ctx := context.Background()

	v := env.create(t, workflow.TrackFinance)
	tr := env.submit(t, v.Contract.ID, workflow.TrackFinance)
	if _, err := engine.Approve(ctx, finance, tr.ID, "budget confirmed"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if _, err := engine.Send(ctx, manager, v.Contract.ID); err != nil {
		t.Fatalf("send failed: %v", err)
	}
	done, err := engine.UploadSigned(ctx, manager, v.Contract.ID, "dms://42")
	if err != nil {
		t.Fatalf("upload signed failed: %v", err)
	}
	if done.Contract.Status != workflow.StatusExecuted {
		t.Errorf("expected EXECUTED, got %s", done.Contract.Status)
	}

	cfg.ExecutionStatus = workflow.StatusApproved
	if _, err := workflow.NewEngine(store, setupOracle(t), cfg); err == nil {
		t.Error("expected an invalid execution status to be refused")
	}
}

func TestCancel(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	v := env.create(t)
	id := v.Contract.ID
	lt := env.submit(t, id, workflow.TrackLegal)
	ft := env.submit(t, id, workflow.TrackFinance)
	if _, err := env.engine.Approve(ctx, legal, lt.ID, "legal is fine here"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	_, err := env.engine.Cancel(ctx, manager, id, "")
	if !workflow.IsValidation(err) {
		t.Errorf("expected empty reason to be a validation error, got %v", err)
	}
	_, err = env.engine.Cancel(ctx, finance, id, "not mine to cancel")
	if !workflow.IsForbidden(err) {
		t.Errorf("expected finance cancel to be forbidden, got %v", err)
	}

	cancelled, err := env.engine.Cancel(ctx, manager, id, "deal fell through")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Contract.Status != workflow.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Contract.Status)
	}
	if got := cancelled.Track(lt.ID).Status; got != workflow.TrackApproved {
		t.Errorf("expected legal decision preserved as APPROVED, got %s", got)
	}
	closed := cancelled.Track(ft.ID)
	if closed.Status != workflow.TrackRejected || closed.Comment == "" {
		t.Errorf("expected open finance track closed as REJECTED with a system comment, got %s %q", closed.Status, closed.Comment)
	}
	env.assertConsistent(t, id)

	_, err = env.engine.Cancel(ctx, manager, id, "again")
	if !workflow.IsInvalidState(err) {
		t.Errorf("expected cancel of CANCELLED to be invalid state, got %v", err)
	}
}

func TestCancelRefusedAfterApproval(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	id := v.Contract.ID
	tr := env.submit(t, id, workflow.TrackLegal)
	if _, err := env.engine.Approve(ctx, legal, tr.ID, "approved as drafted"); err != nil {
		t.Fatalf("approve failed: %v", err)
	}

	steps := []struct {
		name    string
		advance func() error
	}{
		{"approved", func() error { return nil }},
		{"sent", func() error { _, err := env.engine.Send(ctx, manager, id); return err }},
		{"active", func() error { _, err := env.engine.UploadSigned(ctx, manager, id, "ref"); return err }},
	}
	for _, step := range steps {
		if err := step.advance(); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		before := env.assertConsistent(t, id)
		_, err := env.engine.Cancel(ctx, manager, id, "too late")
		if !workflow.IsInvalidState(err) {
			t.Errorf("%s: expected invalid state, got %v", step.name, err)
		}
		after := env.assertConsistent(t, id)
		if after.Contract.Version != before.Contract.Version || after.Contract.Status != before.Contract.Status {
			t.Errorf("%s: refused cancel mutated the contract", step.name)
		}
	}
}

func TestExpectedVersionConflict(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t)

	_, err := env.engine.Submit(ctx, manager, v.Contract.ID, workflow.TrackLegal, workflow.AtVersion(5))
	if !workflow.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	var werr *workflow.Error
	if !errors.As(err, &werr) || werr.CurrentStatus != workflow.StatusDraft || werr.ContractID != v.Contract.ID {
		t.Errorf("expected conflict to carry contract id and status, got %+v", werr)
	}

	if _, err := env.engine.Submit(ctx, manager, v.Contract.ID, workflow.TrackLegal, workflow.AtVersion(1)); err != nil {
		t.Errorf("expected submit at the current version to succeed, got %v", err)
	}
}

func TestConcurrentApproveSingleWinner(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.engine.Approve(ctx, legal, tr.ID, "approved in parallel", workflow.AtVersion(2))
		}(i)
	}
	close(start)
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case workflow.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Errorf("expected one winner and one conflict, got %d/%d", wins, conflicts)
	}

	approvals := 0
	for _, a := range env.auditActions(t, v.Contract.ID) {
		if a == workflow.ActionApproved {
			approvals++
		}
	}
	if approvals != 1 {
		t.Errorf("expected exactly one approval audit entry, got %d", approvals)
	}
	env.assertConsistent(t, v.Contract.ID)
}

// failingAuditStore fails every audit append inside the transaction.
type failingAuditStore struct {
	*stores.SQLiteStore
}

type failingAuditTx struct {
	workflow.Tx
}

func (failingAuditTx) AppendAudit(context.Context, *workflow.AuditEntry) error {
	return errors.New("audit log unavailable")
}

func (s failingAuditStore) WithTx(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return s.SQLiteStore.WithTx(ctx, func(tx workflow.Tx) error {
		return fn(failingAuditTx{tx})
	})
}

func TestAuditFailureRollsBackState(t *testing.T) {
	store := setupStore(t)
	good := setupEngine(t, store)
	v := good.create(t)

	bad := setupEngine(t, failingAuditStore{store})
	_, err := bad.engine.Submit(context.Background(), manager, v.Contract.ID, workflow.TrackLegal)
	if workflow.ClassOf(err) != workflow.ErrorClassInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if len(bad.notifier.actions()) != 0 {
		t.Error("expected no notification for a failed operation")
	}

	got := good.assertConsistent(t, v.Contract.ID)
	if got.Contract.Status != workflow.StatusDraft || got.Contract.Version != 1 || len(got.Tracks) != 0 {
		t.Errorf("expected untouched DRAFT v1 without tracks, got %s v%d with %d tracks",
			got.Contract.Status, got.Contract.Version, len(got.Tracks))
	}
	if actions := good.auditActions(t, v.Contract.ID); len(actions) != 1 {
		t.Errorf("expected only the creation audit entry, got %v", actions)
	}
}

// staleViewStore hides every track from the loaded view, leaving the indexed
// open-track lookup as the only source of truth for Submit.
type staleViewStore struct {
	*stores.SQLiteStore
}

type staleViewTx struct {
	workflow.Tx
}

func (staleViewTx) ListTracks(context.Context, string) ([]*workflow.ApprovalTrack, error) {
	return []*workflow.ApprovalTrack{}, nil
}

func (s staleViewStore) WithTx(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return s.SQLiteStore.WithTx(ctx, func(tx workflow.Tx) error {
		return fn(staleViewTx{tx})
	})
}

func TestSubmitChecksOpenTrackInTransaction(t *testing.T) {
	store := setupStore(t)
	good := setupEngine(t, store)
	v := good.create(t, workflow.TrackLegal)
	tr := good.submit(t, v.Contract.ID, workflow.TrackLegal)

	stale := setupEngine(t, staleViewStore{store})
	_, err := stale.engine.Submit(context.Background(), manager, v.Contract.ID, workflow.TrackLegal)
	var werr *workflow.Error
	if !errors.As(err, &werr) || werr.Code != workflow.ErrCodeTrackOpen {
		t.Fatalf("expected %s, got %v", workflow.ErrCodeTrackOpen, err)
	}
	if werr.TrackID != tr.ID {
		t.Errorf("expected the open track %s to be reported, got %q", tr.ID, werr.TrackID)
	}
	if got := good.assertConsistent(t, v.Contract.ID); len(got.Tracks) != 1 {
		t.Errorf("expected a single track, got %d", len(got.Tracks))
	}
}

func TestNotificationsFollowCommits(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	tr := env.submit(t, v.Contract.ID, workflow.TrackLegal)
	if _, err := env.engine.Approve(ctx, legal, tr.ID, "short"); err == nil {
		t.Fatal("expected short comment to fail")
	}
	if _, err := env.engine.RequestRevision(ctx, legal, tr.ID, "please update the SLA"); err != nil {
		t.Fatalf("request revision failed: %v", err)
	}

	want := []workflow.Action{workflow.ActionCreated, workflow.ActionSubmitted, workflow.ActionRevisionRequested}
	if got := env.notifier.actions(); !equalActions(got, want) {
		t.Errorf("notifications = %v, want %v", got, want)
	}
	last := env.notifier.notes[len(env.notifier.notes)-1]
	if last.TrackID != tr.ID || last.Comment != "please update the SLA" || last.To != workflow.StatusRevisionRequested {
		t.Errorf("unexpected notification %+v", last)
	}
}

func TestAvailableActions(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()
	v := env.create(t, workflow.TrackLegal)
	id := v.Contract.ID

	ops := func(actor string) map[workflow.Operation]bool {
		t.Helper()
		actions, err := env.engine.AvailableActions(ctx, actor, id)
		if err != nil {
			t.Fatalf("available actions failed: %v", err)
		}
		out := map[workflow.Operation]bool{}
		for _, a := range actions {
			out[a.Operation] = true
		}
		return out
	}

	if got := ops(manager); !got[workflow.OpSubmit] || !got[workflow.OpCancel] || got[workflow.OpSend] {
		t.Errorf("unexpected manager actions on draft: %v", got)
	}
	if got := ops(legal); len(got) != 0 {
		t.Errorf("expected no legal actions on draft, got %v", got)
	}

	tr := env.submit(t, id, workflow.TrackLegal)
	got := ops(legal)
	for _, op := range []workflow.Operation{workflow.OpStartReview, workflow.OpApprove, workflow.OpReject, workflow.OpRequestRevision, workflow.OpEscalate} {
		if !got[op] {
			t.Errorf("expected legal reviewer to have %s", op)
		}
	}
	if got := ops(head); !got[workflow.OpApprove] || got[workflow.OpEscalate] {
		t.Errorf("expected legal head to decide but not escalate, got %v", got)
	}

	if _, err := env.engine.Escalate(ctx, legal, tr.ID); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}
	if got := ops(legal); got[workflow.OpApprove] || got[workflow.OpEscalate] {
		t.Errorf("expected manager to lose actions after escalation, got %v", got)
	}
	if got := ops(head); !got[workflow.OpApprove] {
		t.Errorf("expected legal head to approve escalated track, got %v", got)
	}
	if got := ops(manager); !got[workflow.OpCancel] {
		t.Errorf("expected manager to keep cancel during review, got %v", got)
	}
}
