package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/garyjia/crm-workflow/internal/application/dispatcher"
	"github.com/garyjia/crm-workflow/internal/application/port"
	"github.com/garyjia/crm-workflow/internal/domain/entity"
	"github.com/garyjia/crm-workflow/internal/domain/event"
	domainwf "github.com/garyjia/crm-workflow/internal/domain/workflow"
)

type mockAppRepo struct {
	mu     sync.Mutex
	apps   map[string]*entity.Application
	casErr error
	// staleOnce makes the next compare-and-set lose a race
	staleOnce bool
}

func (m *mockAppRepo) Create(ctx context.Context, app *entity.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *app
	m.apps[app.ID] = &cp
	return nil
}

func (m *mockAppRepo) GetByID(ctx context.Context, id string) (*entity.Application, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return nil, nil
	}
	cp := *app
	cp.Documents = nil
	return &cp, nil
}

func (m *mockAppRepo) List(ctx context.Context, filter port.ApplicationFilter) ([]*entity.Application, error) {
	return nil, nil
}

func (m *mockAppRepo) CompareAndSetStatus(ctx context.Context, id string, expected, next domainwf.Status, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.casErr != nil {
		return false, m.casErr
	}
	if m.staleOnce {
		m.staleOnce = false
		return false, nil
	}
	app, ok := m.apps[id]
	if !ok || app.Status != expected {
		return false, nil
	}
	app.Status = next
	app.UpdatedAt = at
	return true, nil
}

func (m *mockAppRepo) UpdateRisk(ctx context.Context, id string, score int, level string) error {
	return nil
}

func (m *mockAppRepo) status(id string) domainwf.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apps[id].Status
}

type mockDocRepo struct {
	docs map[string][]entity.Document
}

func (m *mockDocRepo) Create(ctx context.Context, doc *entity.Document) error {
	m.docs[doc.ApplicationID] = append(m.docs[doc.ApplicationID], *doc)
	return nil
}

func (m *mockDocRepo) ListByApplication(ctx context.Context, applicationID string) ([]entity.Document, error) {
	return append([]entity.Document(nil), m.docs[applicationID]...), nil
}

func (m *mockDocRepo) MarkUploaded(ctx context.Context, applicationID, documentID, filePath string, at time.Time) (bool, error) {
	for i, d := range m.docs[applicationID] {
		if d.ID == documentID {
			m.docs[applicationID][i].IsUploaded = true
			return true, nil
		}
	}
	return false, nil
}

type mockPendingRepo struct {
	mu        sync.Mutex
	rows      map[string]*entity.PendingTransition
	createErr error
}

func (m *mockPendingRepo) Create(ctx context.Context, p *entity.PendingTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	cp := *p
	if p.ClaimedUntil != nil {
		until := *p.ClaimedUntil
		cp.ClaimedUntil = &until
	}
	m.rows[p.ID] = &cp
	return nil
}

func (m *mockPendingRepo) GetByID(ctx context.Context, id string) (*entity.PendingTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	if p.ClaimedUntil != nil {
		until := *p.ClaimedUntil
		cp.ClaimedUntil = &until
	}
	return &cp, nil
}

func (m *mockPendingRepo) Claim(ctx context.Context, id string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.rows[id]
	if !ok || p.CompletedAt != nil {
		return false, nil
	}
	if p.ClaimedUntil != nil && !p.ClaimedUntil.Before(now) {
		return false, nil
	}
	p.ClaimedUntil = &until
	return true, nil
}

// Update mirrors the sqlite repository: flags are only set, never cleared
func (m *mockPendingRepo) Update(ctx context.Context, p *entity.PendingTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[p.ID]
	if !ok {
		return nil
	}
	row.HistoryDone = row.HistoryDone || p.HistoryDone
	row.NotifiedDone = row.NotifiedDone || p.NotifiedDone
	row.EmailDone = row.EmailDone || p.EmailDone
	row.ChatDone = row.ChatDone || p.ChatDone
	if p.Attempts > row.Attempts {
		row.Attempts = p.Attempts
	}
	row.LastError = p.LastError
	if row.CompletedAt == nil {
		row.CompletedAt = p.CompletedAt
	}
	if row.ClaimedUntil != nil && p.ClaimedUntil != nil && row.ClaimedUntil.Equal(*p.ClaimedUntil) {
		row.ClaimedUntil = nil
	}
	return nil
}

func (m *mockPendingRepo) ListIncomplete(ctx context.Context, createdBefore time.Time, limit int) ([]*entity.PendingTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.PendingTransition
	for _, p := range m.rows {
		if p.CompletedAt == nil && !p.CreatedAt.After(createdBefore) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// mockTxManager runs fn directly; rollback is simulated by the repos not being touched on error
type mockTxManager struct {
	commitErr error
}

func (m *mockTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	return fn(ctx)
}

type mockChangeRepo struct {
	mu        sync.Mutex
	rows      []*entity.StatusChange
	appendErr error
}

func (m *mockChangeRepo) Append(ctx context.Context, c *entity.StatusChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return false, m.appendErr
	}
	for _, r := range m.rows {
		if r.TransitionID == c.TransitionID {
			return false, nil
		}
	}
	cp := *c
	m.rows = append(m.rows, &cp)
	return true, nil
}

func (m *mockChangeRepo) GetByTransitionID(ctx context.Context, id string) (*entity.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TransitionID == id {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockChangeRepo) ListByApplication(ctx context.Context, appID string) ([]*entity.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.StatusChange
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].ApplicationID == appID {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}

func (m *mockChangeRepo) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendErr = err
}

type mockNotificationRepo struct {
	mu   sync.Mutex
	rows []*entity.Notification
}

func (m *mockNotificationRepo) Create(ctx context.Context, n *entity.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.TransitionID == n.TransitionID && r.UserID == n.UserID {
			return false, nil
		}
	}
	m.rows = append(m.rows, n)
	return true, nil
}

func (m *mockNotificationRepo) GetByID(ctx context.Context, id string) (*entity.Notification, error) {
	return nil, nil
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	return nil, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, id string) error {
	return nil
}

func (m *mockNotificationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type mockProfileRepo struct {
	profiles []*entity.Profile
}

func (m *mockProfileRepo) Upsert(ctx context.Context, p *entity.Profile) error {
	m.profiles = append(m.profiles, p)
	return nil
}

func (m *mockProfileRepo) GetByID(ctx context.Context, id string) (*entity.Profile, error) {
	for _, p := range m.profiles {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, nil
}

func (m *mockProfileRepo) ListActiveAdmins(ctx context.Context) ([]*entity.Profile, error) {
	var out []*entity.Profile
	for _, p := range m.profiles {
		if p.Role == domainwf.RoleAdmin && p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockEmailSender struct {
	mu   sync.Mutex
	sent []port.EmailMessage
	err  error

	// hold, when set, parks each Send after announcing it on entered
	hold    chan struct{}
	entered chan struct{}
}

func (m *mockEmailSender) Send(ctx context.Context, msg port.EmailMessage) error {
	m.mu.Lock()
	hold, entered := m.hold, m.entered
	m.mu.Unlock()
	if hold != nil {
		entered <- struct{}{}
		<-hold
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockEmailSender) holdSends() (entered <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hold = make(chan struct{})
	m.entered = make(chan struct{}, 4)
	hold := m.hold
	return m.entered, func() { close(hold) }
}

func (m *mockEmailSender) setErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *mockEmailSender) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) Subscribe(eventType event.Type, handler dispatcher.Handler) {}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name, description string, handler dispatcher.Handler) {
}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.DispatchAsync(ctx, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo {
	return nil
}

func (m *mockDispatcher) Close() error {
	return nil
}

var errDiskFull = errors.New("disk full")
