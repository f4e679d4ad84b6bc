package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/wenwu/saas-platform/botfleet/internal/client"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
	"github.com/wenwu/saas-platform/botfleet/internal/repository"
)

// ---------- in-memory accounts ----------

type memAccounts struct {
	mu     sync.Mutex
	rows   map[int64]*models.Account
	nextID int64
	clock  time.Time
	err    error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{rows: map[int64]*models.Account{}, clock: time.Unix(1700000000, 0)}
}

func (m *memAccounts) add(name string, tier models.InstanceType, enabled bool) *models.Account {
	a := &models.Account{Name: name, APIKey: "key-" + name, AppID: "app-" + name, InstanceType: tier, Enabled: enabled}
	_ = m.Create(context.Background(), a)
	return a
}

func (m *memAccounts) Create(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = m.clock
	cp := *a
	m.rows[a.ID] = &cp
	return nil
}

func (m *memAccounts) GetByID(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memAccounts) List(_ context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.rows {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memAccounts) ListEnabled(_ context.Context) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Account
	for _, a := range m.rows {
		if a.Enabled {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastUsedAt, out[j].LastUsedAt
		switch {
		case a == nil && b == nil:
			return out[i].ID < out[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memAccounts) SetEnabled(_ context.Context, id int64, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Enabled = enabled
	return nil
}

func (m *memAccounts) MarkUsed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.clock = m.clock.Add(time.Second)
	t := m.clock
	a.LastUsedAt = &t
	return nil
}

func (m *memAccounts) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memAccounts) Stats(_ context.Context) (*models.AccountStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.AccountStats{}
	for _, a := range m.rows {
		s.Total++
		if a.Enabled {
			s.Enabled++
		}
	}
	return s, nil
}

func (m *memAccounts) lastUsed(id int64) *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].LastUsedAt
}

// ---------- in-memory deployments ----------

type memDeployments struct {
	mu        sync.Mutex
	rows      map[int64]*models.Deployment
	nextID    int64
	accounts  *memAccounts
	createErr error
}

func newMemDeployments(accounts *memAccounts) *memDeployments {
	return &memDeployments{rows: map[int64]*models.Deployment{}, accounts: accounts}
}

func (m *memDeployments) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memDeployments) joined(d *models.Deployment) *models.Deployment {
	cp := *d
	cp.AccountName = nil
	if a, err := m.accounts.GetByID(context.Background(), d.AccountID); err == nil {
		name := a.Name
		cp.AccountName = &name
	}
	return &cp
}

func (m *memDeployments) Create(_ context.Context, d *models.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	m.nextID++
	d.ID = m.nextID
	d.CreatedAt = time.Unix(1700000000+m.nextID, 0)
	cp := *d
	m.rows[d.ID] = &cp
	return nil
}

func (m *memDeployments) GetByID(_ context.Context, id int64) (*models.Deployment, error) {
	m.mu.Lock()
	d, ok := m.rows[id]
	m.mu.Unlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return m.joined(d), nil
}

func (m *memDeployments) filter(keep func(*models.Deployment) bool) []*models.Deployment {
	m.mu.Lock()
	var rows []*models.Deployment
	for _, d := range m.rows {
		if keep(d) {
			rows = append(rows, d)
		}
	}
	m.mu.Unlock()
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	out := make([]*models.Deployment, 0, len(rows))
	for _, d := range rows {
		out = append(out, m.joined(d))
	}
	return out
}

func (m *memDeployments) ListByUser(_ context.Context, userID string) ([]*models.Deployment, error) {
	return m.filter(func(d *models.Deployment) bool { return d.UserID == userID }), nil
}

func (m *memDeployments) List(_ context.Context) ([]*models.Deployment, error) {
	return m.filter(func(*models.Deployment) bool { return true }), nil
}

func (m *memDeployments) update(id int64, fn func(*models.Deployment)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(d)
	return nil
}

func (m *memDeployments) UpdateStatus(_ context.Context, id int64, status models.DeploymentStatus) error {
	return m.update(id, func(d *models.Deployment) { d.Status = status })
}

func (m *memDeployments) UpdatePublicURL(_ context.Context, id int64, url string) error {
	return m.update(id, func(d *models.Deployment) { d.PublicURL = &url })
}

func (m *memDeployments) SetPingEnabled(_ context.Context, id int64, enabled bool) error {
	return m.update(id, func(d *models.Deployment) { d.PingEnabled = enabled })
}

func (m *memDeployments) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.rows, id)
	return nil
}

func (m *memDeployments) Stats(_ context.Context) (*models.DeploymentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &models.DeploymentStats{}
	for _, d := range m.rows {
		s.Total++
		switch d.Status {
		case models.StatusRunning:
			s.Running++
		case models.StatusError:
			s.Error++
		}
		if d.PingEnabled {
			s.Pinging++
		}
	}
	return s, nil
}

func (m *memDeployments) CountByAccount(_ context.Context, accountID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, d := range m.rows {
		if d.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

func (m *memDeployments) status(id int64) models.DeploymentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id].Status
}

// ---------- in-memory events ----------

type memEvents struct {
	mu     sync.Mutex
	events []*models.DeploymentEvent
	err    error
}

func (m *memEvents) Record(_ context.Context, deploymentID int64, action, status, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, &models.DeploymentEvent{
		DeploymentID: deploymentID, Action: action, Status: status, Message: message,
	})
	return nil
}

func (m *memEvents) ListByDeployment(_ context.Context, deploymentID int64, limit int) ([]*models.DeploymentEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.DeploymentEvent
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if m.events[i].DeploymentID == deploymentID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}

func (m *memEvents) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

// ---------- mock provider ----------

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) CreateService(ctx context.Context, acct *models.Account, bot client.BotConfig) (*client.Service, error) {
	args := m.Called(ctx, acct, bot)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Service), args.Error(1)
}

func (m *mockProvider) GetService(ctx context.Context, acct *models.Account, serviceID string) (*client.Service, error) {
	args := m.Called(ctx, acct, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.Service), args.Error(1)
}

func (m *mockProvider) ServiceEnv(ctx context.Context, acct *models.Account, serviceID string) ([]client.EnvVar, error) {
	args := m.Called(ctx, acct, serviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]client.EnvVar), args.Error(1)
}

func (m *mockProvider) PauseService(ctx context.Context, acct *models.Account, serviceID string) error {
	return m.Called(ctx, acct, serviceID).Error(0)
}

func (m *mockProvider) ResumeService(ctx context.Context, acct *models.Account, serviceID string) error {
	return m.Called(ctx, acct, serviceID).Error(0)
}

func (m *mockProvider) RedeployService(ctx context.Context, acct *models.Account, serviceID string) error {
	return m.Called(ctx, acct, serviceID).Error(0)
}

func (m *mockProvider) DeleteService(ctx context.Context, acct *models.Account, serviceID string) error {
	return m.Called(ctx, acct, serviceID).Error(0)
}

func (m *mockProvider) ValidateAPIKey(ctx context.Context, apiKey string) (bool, error) {
	args := m.Called(ctx, apiKey)
	return args.Bool(0), args.Error(1)
}
