package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/crm-workflow/internal/application/dispatcher"
	"github.com/garyjia/crm-workflow/internal/application/gate"
	"github.com/garyjia/crm-workflow/internal/application/history"
	"github.com/garyjia/crm-workflow/internal/application/notify"
	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/event"
	domainwf "github.com/garyjia/crm-workflow/internal/domain/workflow"
	"github.com/garyjia/crm-workflow/pkg/utils"
)

const (
	maxCommentLength = 2000

	defaultClaimLease  = 5 * time.Minute
	defaultResumeGrace = 30 * time.Second
)

// HistoryAppender records status changes
type HistoryAppender interface {
	Append(ctx context.Context, e history.Entry) (*entity.StatusChange, error)
}

// Notifier delivers transition notifications one channel at a time
type Notifier interface {
	NotifyInApp(ctx context.Context, evt notify.TransitionEvent) (int, []string)
	SendEmail(ctx context.Context, evt notify.TransitionEvent) (bool, error)
	PostChat(ctx context.Context, evt notify.TransitionEvent) (bool, error)
}

type engineImpl struct {
	apps      port.ApplicationRepository
	docs      port.DocumentRepository
	pending   port.PendingTransitionRepository
	txManager port.TransactionManager
	history   HistoryAppender
	notifier  Notifier
	gate      *gate.Gate

	bus    dispatcher.Dispatcher
	logger *zap.Logger
	now    func() time.Time

	claimLease  time.Duration
	resumeGrace time.Duration
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher publishes status_changed events to the event bus
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.bus = d
	}
}

// WithLogger sets the engine logger
func WithLogger(logger *zap.Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) EngineOption {
	return func(e *engineImpl) {
		e.now = now
	}
}

// WithClaimLease sets how long one follow-up run holds a transition. A run
// that dies keeps others away until the lease runs out.
func WithClaimLease(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d > 0 {
			e.claimLease = d
		}
	}
}

// WithResumeGrace makes ResumePending leave transitions younger than d alone
func WithResumeGrace(d time.Duration) EngineOption {
	return func(e *engineImpl) {
		if d >= 0 {
			e.resumeGrace = d
		}
	}
}

// WithGate replaces the default transition gate
func WithGate(g *gate.Gate) EngineOption {
	return func(e *engineImpl) {
		e.gate = g
	}
}

// NewEngine creates a new workflow engine
func NewEngine(
	apps port.ApplicationRepository,
	docs port.DocumentRepository,
	pending port.PendingTransitionRepository,
	txManager port.TransactionManager,
	historyAppender HistoryAppender,
	notifier Notifier,
	opts ...EngineOption,
) Engine {
	e := &engineImpl{
		apps:      apps,
		docs:      docs,
		pending:   pending,
		txManager: txManager,
		history:   historyAppender,
		notifier:  notifier,
		gate:      gate.Default(),
		logger:    zap.NewNop(),
		now:       time.Now,

		claimLease:  defaultClaimLease,
		resumeGrace: defaultResumeGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *engineImpl) RequestTransition(ctx context.Context, applicationID string, target domainwf.Status, actor domainwf.Actor, comment string) (*Outcome, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}

	app, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !app.IsOwnedBy(actor.ID) {
		return nil, fmt.Errorf("%w: %s does not own application %s", domainwf.ErrForbidden, actor.ID, app.ID)
	}

	comment = cleanComment(comment)

	// role permission, then comment, then documents
	decision := e.gate.CanTransition(app, target, actor.Role)
	if err := decision.Err(); err != nil && !errors.Is(err, domainwf.ErrIncompleteDocuments) {
		return nil, err
	}
	if err := gate.CheckComment(target, comment); err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, decision.Err()
	}

	return e.commit(ctx, app, target, actor, comment, false)
}

func (e *engineImpl) ManualOverride(ctx context.Context, applicationID string, target domainwf.Status, actor domainwf.Actor, comment string) (*Outcome, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	if !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: manual override requires the admin role", domainwf.ErrForbidden)
	}

	app, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	decision := e.gate.CanOverride(app, target)
	if !decision.Allowed {
		return nil, decision.Err()
	}

	comment = cleanComment(comment)
	if comment == "" {
		comment = OverrideReason(actor)
	}

	e.logger.Info("Manual status override",
		zap.String("application_id", app.ID),
		zap.String("actor_id", actor.ID),
		zap.String("from", app.Status.String()),
		zap.String("to", target.String()))

	return e.commit(ctx, app, target, actor, comment, true)
}

// OverrideReason is the comment recorded for overrides without one
func OverrideReason(actor domainwf.Actor) string {
	return "Manual override by " + actor.DisplayName()
}

func (e *engineImpl) Preview(ctx context.Context, applicationID string, actor domainwf.Actor) ([]gate.Decision, error) {
	if err := validateActor(actor); err != nil {
		return nil, err
	}
	app, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !app.IsOwnedBy(actor.ID) {
		return nil, fmt.Errorf("%w: %s does not own application %s", domainwf.ErrForbidden, actor.ID, app.ID)
	}
	return e.gate.Preview(app, actor.Role), nil
}

func (e *engineImpl) Resume(ctx context.Context, transitionID string) (*Outcome, error) {
	p, err := e.pending.GetByID(ctx, transitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load transition: %w", domainwf.ErrPersistence, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: transition %s", domainwf.ErrNotFound, transitionID)
	}
	if p.Done() {
		return e.finishedOutcome(ctx, p)
	}
	return e.resume(ctx, p.ID)
}

func (e *engineImpl) ResumePending(ctx context.Context, limit int) ([]*Outcome, error) {
	cutoff := e.now().UTC().Add(-e.resumeGrace)
	list, err := e.pending.ListIncomplete(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending transitions: %w", domainwf.ErrPersistence, err)
	}

	outcomes := make([]*Outcome, 0, len(list))
	for _, p := range list {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		o, err := e.resume(ctx, p.ID)
		if errors.Is(err, domainwf.ErrFollowUpsInProgress) {
			e.logger.Debug("Transition follow-ups held by another run",
				zap.String("transition_id", p.ID))
			continue
		}
		if err != nil {
			e.logger.Error("Failed to resume transition",
				zap.String("transition_id", p.ID),
				zap.Error(err))
			continue
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, nil
}

// resume claims the transition, then reloads its progress from storage and
// runs what is left.
func (e *engineImpl) resume(ctx context.Context, transitionID string) (*Outcome, error) {
	now := e.now().UTC()
	until := now.Add(e.claimLease)
	claimed, err := e.pending.Claim(ctx, transitionID, now, until)
	if err != nil {
		return nil, fmt.Errorf("%w: claim transition: %w", domainwf.ErrPersistence, err)
	}

	p, err := e.pending.GetByID(ctx, transitionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load transition: %w", domainwf.ErrPersistence, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: transition %s", domainwf.ErrNotFound, transitionID)
	}
	if !claimed {
		if p.Done() {
			return e.finishedOutcome(ctx, p)
		}
		return nil, fmt.Errorf("%w: transition %s", domainwf.ErrFollowUpsInProgress, transitionID)
	}
	p.ClaimedUntil = &until

	out, err := e.baseOutcome(ctx, p)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Resuming transition follow-ups",
		zap.String("transition_id", p.ID),
		zap.Int("attempts", p.Attempts))
	e.followUps(ctx, p, out.Application, out)
	return out, nil
}

func (e *engineImpl) baseOutcome(ctx context.Context, p *entity.PendingTransition) (*Outcome, error) {
	app, err := e.apps.GetByID(ctx, p.ApplicationID)
	if err != nil {
		return nil, fmt.Errorf("%w: load application: %w", domainwf.ErrPersistence, err)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: application %s", domainwf.ErrNotFound, p.ApplicationID)
	}
	return &Outcome{
		TransitionID:   p.ID,
		Application:    app,
		PreviousStatus: p.PreviousStatus,
		NewStatus:      p.NewStatus,
		Primary:        okResult(StepStatus),
	}, nil
}

func (e *engineImpl) finishedOutcome(ctx context.Context, p *entity.PendingTransition) (*Outcome, error) {
	out, err := e.baseOutcome(ctx, p)
	if err != nil {
		return nil, err
	}
	out.Completed = true
	out.SideEffects = []Result{
		skippedResult(StepHistory),
		skippedResult(StepInApp),
		skippedResult(StepEmail),
		skippedResult(StepChat),
	}
	return out, nil
}

// commit writes the status with a compare-and-set together with the pending
// transition row. Nothing after this point can fail the transition.
func (e *engineImpl) commit(ctx context.Context, app *entity.Application, target domainwf.Status, actor domainwf.Actor, comment string, override bool) (*Outcome, error) {
	now := e.now().UTC()
	claimedUntil := now.Add(e.claimLease)
	transitionID := uuid.NewString()
	snap := ApplyOptimistic(app, target, now)

	p := &entity.PendingTransition{
		ID:             transitionID,
		ApplicationID:  app.ID,
		PreviousStatus: snap.Previous(),
		NewStatus:      target,
		ActorID:        actor.ID,
		ActorRole:      actor.Role,
		ActorName:      actor.Name,
		Comment:        comment,
		Override:       override,
		CreatedAt:      now,
		ClaimedUntil:   &claimedUntil,
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := e.apps.CompareAndSetStatus(txCtx, app.ID, snap.Previous(), target, now)
		if err != nil {
			return fmt.Errorf("%w: update status: %w", domainwf.ErrPersistence, err)
		}
		if !ok {
			return fmt.Errorf("%w: application %s is no longer %s", domainwf.ErrStatusConflict, app.ID, snap.Previous())
		}
		if err := e.pending.Create(txCtx, p); err != nil {
			return fmt.Errorf("%w: record transition: %w", domainwf.ErrPersistence, err)
		}
		return nil
	})
	if err != nil {
		snap.Rollback()
		if !errors.Is(err, domainwf.ErrStatusConflict) && !errors.Is(err, domainwf.ErrPersistence) {
			err = fmt.Errorf("%w: %w", domainwf.ErrPersistence, err)
		}
		e.logger.Error("Status transition failed",
			zap.String("application_id", app.ID),
			zap.String("target", target.String()),
			zap.Error(err))
		return nil, err
	}
	snap.Commit()

	e.logger.Info("Status transition committed",
		zap.String("transition_id", transitionID),
		zap.String("application_id", app.ID),
		zap.String("from", p.PreviousStatus.String()),
		zap.String("to", target.String()),
		zap.String("actor_id", actor.ID),
		zap.String("actor_role", actor.Role.String()),
		zap.Bool("override", override))

	out := &Outcome{
		TransitionID:   transitionID,
		Application:    app,
		PreviousStatus: p.PreviousStatus,
		NewStatus:      target,
		Primary:        okResult(StepStatus),
	}
	e.followUps(ctx, p, app, out)
	e.publish(ctx, p)
	return out, nil
}

// followUps runs each unfinished step once and records progress on p. The
// caller must hold the claim on p. Failures are reported in the outcome and
// left for a later resume.
func (e *engineImpl) followUps(ctx context.Context, p *entity.PendingTransition, app *entity.Application, out *Outcome) {
	p.Attempts++
	evt := notify.TransitionEvent{
		TransitionID:   p.ID,
		Application:    app,
		PreviousStatus: p.PreviousStatus,
		NewStatus:      p.NewStatus,
		Actor:          p.Actor(),
		Comment:        p.Comment,
		Override:       p.Override,
		At:             p.CreatedAt,
	}
	var failures []string

	if p.HistoryDone {
		out.SideEffects = append(out.SideEffects, skippedResult(StepHistory))
	} else {
		change, err := e.history.Append(ctx, history.Entry{
			TransitionID:   p.ID,
			ApplicationID:  p.ApplicationID,
			PreviousStatus: p.PreviousStatus,
			NewStatus:      p.NewStatus,
			ActorID:        p.ActorID,
			ActorRole:      p.ActorRole,
			Comment:        p.Comment,
			At:             p.CreatedAt,
		})
		if err != nil {
			out.SideEffects = append(out.SideEffects, failedResult(StepHistory, err))
			failures = append(failures, err.Error())
		} else {
			p.HistoryDone = true
			out.StatusChange = change
			out.SideEffects = append(out.SideEffects, okResult(StepHistory))
		}
	}

	if p.NotifiedDone {
		out.SideEffects = append(out.SideEffects, skippedResult(StepInApp))
	} else {
		count, errs := e.notifier.NotifyInApp(ctx, evt)
		out.Notification.InAppCount = count
		out.Notification.Errors = append(out.Notification.Errors, errs...)
		if len(errs) > 0 {
			err := fmt.Errorf("%w: %s", domainwf.ErrNotificationDispatch, strings.Join(errs, "; "))
			out.SideEffects = append(out.SideEffects, failedResult(StepInApp, err))
			failures = append(failures, errs...)
		} else {
			p.NotifiedDone = true
			out.SideEffects = append(out.SideEffects, okResult(StepInApp))
		}
	}

	if p.EmailDone {
		out.SideEffects = append(out.SideEffects, skippedResult(StepEmail))
	} else {
		sent, err := e.notifier.SendEmail(ctx, evt)
		out.Notification.EmailSent = sent
		if err != nil {
			out.Notification.Errors = append(out.Notification.Errors, err.Error())
			out.SideEffects = append(out.SideEffects, failedResult(StepEmail, err))
			failures = append(failures, err.Error())
		} else {
			p.EmailDone = true
			out.SideEffects = append(out.SideEffects, okResult(StepEmail))
		}
	}

	if p.ChatDone {
		out.SideEffects = append(out.SideEffects, skippedResult(StepChat))
	} else {
		posted, err := e.notifier.PostChat(ctx, evt)
		out.Notification.ChatPosted = posted
		if err != nil {
			out.Notification.Errors = append(out.Notification.Errors, err.Error())
			out.SideEffects = append(out.SideEffects, failedResult(StepChat, err))
			failures = append(failures, err.Error())
		} else {
			p.ChatDone = true
			out.SideEffects = append(out.SideEffects, okResult(StepChat))
		}
	}

	p.LastError = utils.Truncate(strings.Join(failures, "; "), 1000)
	if p.Done() {
		completed := e.now().UTC()
		p.CompletedAt = &completed
		out.Completed = true
	}

	if err := e.pending.Update(ctx, p); err != nil {
		err = fmt.Errorf("%w: update transition progress: %w", domainwf.ErrPersistence, err)
		out.SideEffects = append(out.SideEffects, failedResult(StepBookkeeping, err))
		e.logger.Error("Failed to record follow-up progress",
			zap.String("transition_id", p.ID),
			zap.Error(err))
	}

	if len(failures) > 0 {
		e.logger.Warn("Transition follow-ups incomplete",
			zap.String("transition_id", p.ID),
			zap.Strings("errors", failures))
	}
}

func (e *engineImpl) publish(ctx context.Context, p *entity.PendingTransition) {
	if e.bus == nil {
		return
	}
	evt := event.NewEventWithCorrelation(event.TypeStatusChanged, p.ApplicationID, map[string]interface{}{
		event.KeyPreviousStatus: p.PreviousStatus.String(),
		event.KeyNewStatus:      p.NewStatus.String(),
		event.KeyActorID:        p.ActorID,
		event.KeyActorRole:      p.ActorRole.String(),
		event.KeyComment:        p.Comment,
		event.KeyOverride:       p.Override,
	}, p.ID)
	e.bus.DispatchAsync(ctx, evt)
}

// load returns the application with its documents
func (e *engineImpl) load(ctx context.Context, applicationID string) (*entity.Application, error) {
	app, err := e.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, fmt.Errorf("%w: load application: %w", domainwf.ErrPersistence, err)
	}
	if app == nil {
		return nil, fmt.Errorf("%w: application %s", domainwf.ErrNotFound, applicationID)
	}

	docs, err := e.docs.ListByApplication(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: load documents: %w", domainwf.ErrPersistence, err)
	}
	app.Documents = docs
	return app, nil
}

func validateActor(actor domainwf.Actor) error {
	if actor.ID == "" || !actor.Role.IsValid() {
		return fmt.Errorf("%w: actor identity is required", domainwf.ErrForbidden)
	}
	return nil
}

func cleanComment(comment string) string {
	return utils.Truncate(utils.SanitizeString(comment), maxCommentLength)
}
