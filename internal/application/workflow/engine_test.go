package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/history"
	"github.com/garyjia/crm-workflow/internal/application/notify"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/event"
	domainwf "github.com/garyjia/crm-workflow/internal/domain/workflow"
)

var (
	owner  = domainwf.Actor{ID: "owner", Name: "Lin", Role: domainwf.RoleUser}
	admin  = domainwf.Actor{ID: "admin-1", Name: "Ana", Role: domainwf.RoleAdmin}
	other  = domainwf.Actor{ID: "someone-else", Role: domainwf.RoleUser}
	admins = []*entity.Profile{
		{ID: "admin-1", Name: "Ana", Role: domainwf.RoleAdmin, Active: true},
		{ID: "admin-2", Name: "Bo", Role: domainwf.RoleAdmin, Active: true},
		{ID: "admin-3", Name: "Cy", Role: domainwf.RoleAdmin, Active: true},
		{ID: "admin-4", Name: "Di", Role: domainwf.RoleAdmin, Active: true},
	}
)

type fixture struct {
	apps          *mockAppRepo
	docs          *mockDocRepo
	pending       *mockPendingRepo
	tx            *mockTxManager
	changes       *mockChangeRepo
	notifications *mockNotificationRepo
	email         *mockEmailSender
	bus           *mockDispatcher
	recorder      *history.Recorder
	notifier      *notify.Dispatcher
	engine        Engine
}

func newFixture(t *testing.T, status domainwf.Status, docs ...entity.Document) *fixture {
	t.Helper()

	var clockMu sync.Mutex
	clock := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	now := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}

	f := &fixture{
		apps:          &mockAppRepo{apps: map[string]*entity.Application{}},
		docs:          &mockDocRepo{docs: map[string][]entity.Document{}},
		pending:       &mockPendingRepo{rows: map[string]*entity.PendingTransition{}},
		tx:            &mockTxManager{},
		changes:       &mockChangeRepo{},
		notifications: &mockNotificationRepo{},
		email:         &mockEmailSender{},
		bus:           &mockDispatcher{},
	}

	profiles := &mockProfileRepo{profiles: append([]*entity.Profile{
		{ID: "owner", Name: "Lin", Email: "lin@example.com", Role: domainwf.RoleUser, Active: true},
	}, admins...)}

	f.recorder = history.NewRecorder(f.changes, zap.NewNop())
	f.notifier = notify.NewDispatcher(f.notifications, profiles, zap.NewNop(), notify.WithEmail(f.email))
	f.engine = NewEngine(f.apps, f.docs, f.pending, f.tx, f.recorder, f.notifier,
		WithDispatcher(f.bus), WithClock(now), WithResumeGrace(0))

	require.NoError(t, f.apps.Create(context.Background(), &entity.Application{
		ID: "app-1", Reference: "APP-0001", OwnerID: "owner", Status: status,
	}))
	for i := range docs {
		docs[i].ApplicationID = "app-1"
		require.NoError(t, f.docs.Create(context.Background(), &docs[i]))
	}
	return f
}

func uploaded(names ...string) []entity.Document {
	out := make([]entity.Document, 0, len(names))
	for i, n := range names {
		out = append(out, entity.Document{ID: string(rune('a' + i)), Name: n, IsMandatory: true, IsUploaded: true})
	}
	return out
}

func TestEngine_EndToEndScenario(t *testing.T) {
	f := newFixture(t, domainwf.StatusDraft, uploaded("Passport", "Bank statement")...)
	ctx := context.Background()

	out, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusSubmitted, owner, "")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StatusDraft, out.PreviousStatus)
	assert.Equal(t, domainwf.StatusSubmitted, out.NewStatus)
	assert.Equal(t, domainwf.StatusSubmitted, f.apps.status("app-1"))
	assert.False(t, out.Degraded())
	assert.True(t, out.Completed)

	changes, err := f.recorder.ListFor(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, changes, 1)

	_, err = f.engine.RequestTransition(ctx, "app-1", domainwf.StatusSentToBank, admin, "")
	require.NoError(t, err)

	_, err = f.engine.RequestTransition(ctx, "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)

	_, err = f.engine.RequestTransition(ctx, "app-1", domainwf.StatusPaid, admin, "")
	require.NoError(t, err)

	for _, target := range domainwf.Statuses() {
		_, err = f.engine.RequestTransition(ctx, "app-1", target, admin, "closing note")
		assert.ErrorIs(t, err, domainwf.ErrInvalidTransition, target.String())
	}

	changes, err = f.recorder.ListFor(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, domainwf.StatusPaid, changes[0].NewStatus)
	assert.Equal(t, f.apps.status("app-1"), changes[0].NewStatus)
	assert.Empty(t, history.ValidateChain(changes))

	assert.Len(t, f.bus.events, 4)
	assert.Equal(t, event.TypeStatusChanged, f.bus.events[0].Type)
	assert.Equal(t, "Submitted", f.bus.events[0].GetPayloadString(event.KeyNewStatus))
}

func TestEngine_CommentRequired(t *testing.T) {
	f := newFixture(t, domainwf.StatusSentToBank)
	ctx := context.Background()

	_, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusRejected, admin, "")
	assert.ErrorIs(t, err, domainwf.ErrMissingComment)
	assert.Equal(t, domainwf.StatusSentToBank, f.apps.status("app-1"))
	assert.Empty(t, f.changes.rows)

	_, err = f.engine.RequestTransition(ctx, "app-1", domainwf.StatusRejected, admin, " \x00 ")
	assert.ErrorIs(t, err, domainwf.ErrMissingComment)

	out, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusRejected, admin, "bank declined")
	require.NoError(t, err)
	assert.Equal(t, "bank declined", out.StatusChange.Comment)
}

func TestEngine_IncompleteDocuments(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted,
		entity.Document{ID: "d1", Name: "Passport", IsMandatory: true, IsUploaded: true},
		entity.Document{ID: "d2", Name: "Bank statement", IsMandatory: true},
	)

	_, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusSentToBank, admin, "")

	var incomplete *domainwf.IncompleteDocumentsError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"Bank statement"}, incomplete.Missing)
	assert.Equal(t, domainwf.StatusSubmitted, f.apps.status("app-1"))
	assert.Empty(t, f.pending.rows)
}

func TestEngine_PreconditionOrder(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted, entity.Document{ID: "d1", Name: "Passport", IsMandatory: true})

	// not in the user's table: role permission wins over the comment
	_, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusReturned, owner, "")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)

	// missing documents do not mask the comment requirement
	f2 := newFixture(t, domainwf.StatusSentToBank, entity.Document{ID: "d1", Name: "Passport", IsMandatory: true})
	_, err = f2.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusNeedMoreInfo, admin, "")
	assert.ErrorIs(t, err, domainwf.ErrMissingComment)
}

func TestEngine_ActorChecks(t *testing.T) {
	f := newFixture(t, domainwf.StatusDraft)
	ctx := context.Background()

	_, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusSubmitted, other, "")
	assert.ErrorIs(t, err, domainwf.ErrForbidden)

	_, err = f.engine.RequestTransition(ctx, "app-1", domainwf.StatusSubmitted, domainwf.Actor{}, "")
	assert.ErrorIs(t, err, domainwf.ErrForbidden)

	_, err = f.engine.RequestTransition(ctx, "missing", domainwf.StatusSubmitted, owner, "")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestEngine_PersistenceFailureRollsBack(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted)
	f.apps.casErr = errDiskFull

	out, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusSentToBank, admin, "")

	assert.Nil(t, out)
	assert.ErrorIs(t, err, domainwf.ErrPersistence)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Empty(t, f.changes.rows)
	assert.Zero(t, f.notifications.count())
	assert.Empty(t, f.bus.events)
}

func TestEngine_TransactionFailureIsPersistenceError(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted)
	f.tx.commitErr = errors.New("database is locked")

	_, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusSentToBank, admin, "")
	assert.ErrorIs(t, err, domainwf.ErrPersistence)
}

func TestEngine_StatusConflict(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted)
	f.apps.staleOnce = true

	_, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusSentToBank, admin, "")

	assert.ErrorIs(t, err, domainwf.ErrStatusConflict)
	assert.Empty(t, f.pending.rows)
}

func TestEngine_FanOut(t *testing.T) {
	f := newFixture(t, domainwf.StatusSentToBank)

	// actor admin-1 is excluded: owner + admin-2..4
	out, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)

	assert.Equal(t, 4, out.Notification.InAppCount)
	assert.Equal(t, 4, f.notifications.count())
	assert.True(t, out.Notification.EmailSent)
	assert.Equal(t, 1, f.email.count())
}

func TestEngine_SideEffectFailureDoesNotFailTransition(t *testing.T) {
	f := newFixture(t, domainwf.StatusSentToBank)
	f.email.setErr(errors.New("smtp timeout"))

	out, err := f.engine.RequestTransition(context.Background(), "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)

	assert.True(t, out.Primary.OK)
	assert.True(t, out.Degraded())
	assert.False(t, out.Completed)
	assert.ErrorIs(t, out.SideEffectErr(), domainwf.ErrNotificationDispatch)
	assert.Equal(t, domainwf.StatusComplete, f.apps.status("app-1"))
	assert.Equal(t, 4, f.notifications.count())

	p, err := f.pending.GetByID(context.Background(), out.TransitionID)
	require.NoError(t, err)
	assert.True(t, p.HistoryDone)
	assert.True(t, p.NotifiedDone)
	assert.False(t, p.EmailDone)
	assert.Contains(t, p.LastError, "smtp timeout")
}

func TestEngine_ResumeDoesNotDuplicate(t *testing.T) {
	f := newFixture(t, domainwf.StatusSentToBank)
	ctx := context.Background()
	f.changes.setErr(errDiskFull)
	f.email.setErr(errors.New("smtp timeout"))

	out, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)
	require.True(t, out.Degraded())
	assert.Empty(t, f.changes.rows)
	assert.Equal(t, 4, f.notifications.count())

	f.changes.setErr(nil)
	f.email.setErr(nil)

	resumed, err := f.engine.Resume(ctx, out.TransitionID)
	require.NoError(t, err)
	assert.False(t, resumed.Degraded())
	assert.True(t, resumed.Completed)
	require.NotNil(t, resumed.StatusChange)
	assert.Equal(t, out.TransitionID, resumed.StatusChange.TransitionID)

	again, err := f.engine.Resume(ctx, out.TransitionID)
	require.NoError(t, err)
	for _, r := range again.SideEffects {
		assert.True(t, r.Skipped, r.Name)
	}

	assert.Len(t, f.changes.rows, 1)
	assert.Equal(t, 4, f.notifications.count())
	assert.Equal(t, 1, f.email.count())

	p, err := f.pending.GetByID(ctx, out.TransitionID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Attempts)
	assert.NotNil(t, p.CompletedAt)
}

func TestEngine_ResumeUnknownTransition(t *testing.T) {
	f := newFixture(t, domainwf.StatusDraft)
	_, err := f.engine.Resume(context.Background(), "nope")
	assert.ErrorIs(t, err, domainwf.ErrNotFound)
}

func TestEngine_ResumePending(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted)
	ctx := context.Background()
	f.changes.setErr(errDiskFull)

	_, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusSentToBank, admin, "")
	require.NoError(t, err)
	_, err = f.engine.RequestTransition(ctx, "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)

	f.changes.setErr(nil)
	outcomes, err := f.engine.ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)

	changes, err := f.recorder.ListFor(ctx, "app-1")
	require.NoError(t, err)
	assert.Len(t, changes, 2)

	left, err := f.pending.ListIncomplete(ctx, farFuture, 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

var farFuture = time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)

func TestEngine_ResumeWhileFollowUpsRun(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted, uploaded("Passport")...)
	ctx := context.Background()
	entered, release := f.email.holdSends()

	type result struct {
		out *Outcome
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusSentToBank, admin, "")
		done <- result{out, err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("email send never started")
	}

	open, err := f.pending.ListIncomplete(ctx, farFuture, 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	transitionID := open[0].ID

	outcomes, err := f.engine.ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, outcomes)

	_, err = f.engine.Resume(ctx, transitionID)
	assert.ErrorIs(t, err, domainwf.ErrFollowUpsInProgress)

	release()
	var first result
	select {
	case first = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transition never finished")
	}
	require.NoError(t, first.err)
	assert.True(t, first.out.Completed)

	again, err := f.engine.Resume(ctx, transitionID)
	require.NoError(t, err)
	for _, r := range again.SideEffects {
		assert.True(t, r.Skipped, r.Name)
	}

	assert.Equal(t, 1, f.email.count())
	assert.Len(t, f.changes.rows, 1)
	assert.Equal(t, 4, f.notifications.count())
}

func TestEngine_ResumeTakesOverExpiredClaim(t *testing.T) {
	f := newFixture(t, domainwf.StatusComplete)
	ctx := context.Background()

	stale := time.Date(2026, 5, 4, 7, 0, 0, 0, time.UTC)
	held := farFuture
	for id, until := range map[string]*time.Time{"t-stale": &stale, "t-held": &held} {
		require.NoError(t, f.pending.Create(ctx, &entity.PendingTransition{
			ID: id, ApplicationID: "app-1",
			PreviousStatus: domainwf.StatusSentToBank, NewStatus: domainwf.StatusComplete,
			ActorID: admin.ID, ActorRole: admin.Role,
			CreatedAt:    time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC),
			ClaimedUntil: until,
		}))
	}

	out, err := f.engine.Resume(ctx, "t-stale")
	require.NoError(t, err)
	assert.True(t, out.Completed)

	_, err = f.engine.Resume(ctx, "t-held")
	assert.ErrorIs(t, err, domainwf.ErrFollowUpsInProgress)

	p, err := f.pending.GetByID(ctx, "t-stale")
	require.NoError(t, err)
	assert.Nil(t, p.ClaimedUntil)
	assert.NotNil(t, p.CompletedAt)
}

func TestEngine_ResumePendingRespectsGrace(t *testing.T) {
	f := newFixture(t, domainwf.StatusSentToBank)
	ctx := context.Background()
	f.changes.setErr(errDiskFull)

	_, err := f.engine.RequestTransition(ctx, "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)
	f.changes.setErr(nil)

	shortlyAfter := func() time.Time { return time.Date(2026, 5, 4, 8, 1, 0, 0, time.UTC) }
	patient := NewEngine(f.apps, f.docs, f.pending, f.tx, f.recorder, f.notifier,
		WithClock(shortlyAfter), WithResumeGrace(time.Hour))
	outcomes, err := patient.ResumePending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, outcomes, "transition is too young for the worker")
	assert.Empty(t, f.changes.rows)

	outcomes, err = f.engine.ResumePending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Completed)
	assert.Len(t, f.changes.rows, 1)
}

func TestEngine_ManualOverride(t *testing.T) {
	f := newFixture(t, domainwf.StatusPaid)
	ctx := context.Background()

	_, err := f.engine.ManualOverride(ctx, "app-1", domainwf.StatusComplete, owner, "")
	assert.ErrorIs(t, err, domainwf.ErrForbidden)

	out, err := f.engine.ManualOverride(ctx, "app-1", domainwf.StatusComplete, admin, "")
	require.NoError(t, err)
	assert.Equal(t, "Manual override by Ana", out.StatusChange.Comment)
	assert.Equal(t, domainwf.StatusComplete, f.apps.status("app-1"))
	assert.True(t, f.bus.events[0].GetPayloadBool(event.KeyOverride))

	out, err = f.engine.ManualOverride(ctx, "app-1", domainwf.StatusRejected, admin, "duplicate payment reversed")
	require.NoError(t, err)
	assert.Equal(t, "duplicate payment reversed", out.StatusChange.Comment)

	_, err = f.engine.ManualOverride(ctx, "app-1", domainwf.StatusRejected, admin, "again")
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
}

func TestEngine_ManualOverrideKeepsDocumentGate(t *testing.T) {
	f := newFixture(t, domainwf.StatusDraft, entity.Document{ID: "d1", Name: "Passport", IsMandatory: true})

	_, err := f.engine.ManualOverride(context.Background(), "app-1", domainwf.StatusSentToBank, admin, "")
	assert.ErrorIs(t, err, domainwf.ErrIncompleteDocuments)
}

func TestEngine_Preview(t *testing.T) {
	f := newFixture(t, domainwf.StatusSubmitted, entity.Document{ID: "d1", Name: "Passport", IsMandatory: true})

	decisions, err := f.engine.Preview(context.Background(), "app-1", admin)
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, domainwf.StatusReturned, decisions[0].Target)
	assert.True(t, decisions[0].Allowed)
	assert.False(t, decisions[1].Allowed)
	assert.Equal(t, []string{"Passport"}, decisions[1].MissingDocuments)

	_, err = f.engine.Preview(context.Background(), "app-1", other)
	assert.ErrorIs(t, err, domainwf.ErrForbidden)
}

func TestSnapshot(t *testing.T) {
	before := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	after := before.Add(time.Hour)
	app := &entity.Application{Status: domainwf.StatusSubmitted, UpdatedAt: before}

	snap := ApplyOptimistic(app, domainwf.StatusSentToBank, after)
	assert.Equal(t, domainwf.StatusSentToBank, app.Status)
	assert.Equal(t, domainwf.StatusSubmitted, snap.Previous())

	snap.Rollback()
	assert.Equal(t, domainwf.StatusSubmitted, app.Status)
	assert.Equal(t, before, app.UpdatedAt)

	snap = ApplyOptimistic(app, domainwf.StatusReturned, after)
	snap.Commit()
	snap.Rollback()
	assert.Equal(t, domainwf.StatusReturned, app.Status)
	assert.Equal(t, after, app.UpdatedAt)
}
