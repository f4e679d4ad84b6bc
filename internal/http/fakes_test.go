package http

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wenwu/saas-platform/botfleet/internal/client"
	"github.com/wenwu/saas-platform/botfleet/internal/keepalive"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
	"github.com/wenwu/saas-platform/botfleet/internal/repository"
)

type accountStore struct {
	mu     sync.Mutex
	rows   map[int64]*models.Account
	nextID int64
}

func (s *accountStore) Create(_ context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	a.ID = s.nextID
	a.CreatedAt = time.Unix(1700000000, 0)
	cp := *a
	s.rows[a.ID] = &cp
	return nil
}

func (s *accountStore) GetByID(_ context.Context, id int64) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *accountStore) List(_ context.Context) ([]*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Account, 0, len(s.rows))
	for _, a := range s.rows {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *accountStore) ListEnabled(ctx context.Context) ([]*models.Account, error) {
	all, _ := s.List(ctx)
	var out []*models.Account
	for _, a := range all {
		if a.Enabled {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *accountStore) SetEnabled(_ context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Enabled = enabled
	return nil
}

func (s *accountStore) MarkUsed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.rows[id]; ok {
		now := time.Now()
		a.LastUsedAt = &now
	}
	return nil
}

func (s *accountStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *accountStore) Stats(_ context.Context) (*models.AccountStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &models.AccountStats{Total: len(s.rows)}
	for _, a := range s.rows {
		if a.Enabled {
			st.Enabled++
		}
	}
	return st, nil
}

type deploymentStore struct {
	mu     sync.Mutex
	rows   map[int64]*models.Deployment
	nextID int64
}

func (s *deploymentStore) Create(_ context.Context, d *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	d.ID = s.nextID
	cp := *d
	s.rows[d.ID] = &cp
	return nil
}

func (s *deploymentStore) GetByID(_ context.Context, id int64) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *deploymentStore) ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error) {
	all, _ := s.List(ctx)
	var out []*models.Deployment
	for _, d := range all {
		if d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *deploymentStore) List(_ context.Context) ([]*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Deployment, 0, len(s.rows))
	for _, d := range s.rows {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *deploymentStore) update(id int64, fn func(d *models.Deployment)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(d)
	return nil
}

func (s *deploymentStore) UpdateStatus(_ context.Context, id int64, status models.DeploymentStatus) error {
	return s.update(id, func(d *models.Deployment) { d.Status = status })
}

func (s *deploymentStore) UpdatePublicURL(_ context.Context, id int64, url string) error {
	return s.update(id, func(d *models.Deployment) { d.PublicURL = &url })
}

func (s *deploymentStore) SetPingEnabled(_ context.Context, id int64, enabled bool) error {
	return s.update(id, func(d *models.Deployment) { d.PingEnabled = enabled })
}

func (s *deploymentStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[id]; !ok {
		return repository.ErrNotFound
	}
	delete(s.rows, id)
	return nil
}

func (s *deploymentStore) Stats(_ context.Context) (*models.DeploymentStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &models.DeploymentStats{Total: len(s.rows)}
	for _, d := range s.rows {
		if d.Status == models.StatusRunning {
			st.Running++
		}
	}
	return st, nil
}

func (s *deploymentStore) CountByAccount(_ context.Context, accountID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, d := range s.rows {
		if d.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

type eventStore struct {
	mu     sync.Mutex
	events []*models.DeploymentEvent
}

func (s *eventStore) Record(_ context.Context, deploymentID int64, action, status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append([]*models.DeploymentEvent{{
		ID:           action,
		DeploymentID: deploymentID,
		Action:       action,
		Status:       status,
		Message:      message,
	}}, s.events...)
	return nil
}

func (s *eventStore) ListByDeployment(_ context.Context, deploymentID int64, limit int) ([]*models.DeploymentEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.DeploymentEvent
	for _, e := range s.events {
		if e.DeploymentID == deploymentID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

// stubProvider answers every call with the configured values.
type stubProvider struct {
	mu        sync.Mutex
	err       error
	service   *client.Service
	env       []client.EnvVar
	keyValid  bool
	calls     []string
	createdID string
}

func (p *stubProvider) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	return p.err
}

func (p *stubProvider) CreateService(_ context.Context, acct *models.Account, bot client.BotConfig) (*client.Service, error) {
	if err := p.record("create"); err != nil {
		return nil, err
	}
	return &client.Service{ID: p.createdID, Name: client.ServiceName(bot.UserID, time.UnixMilli(1700000000000)), AppID: acct.AppID, Status: "STARTING"}, nil
}

func (p *stubProvider) GetService(context.Context, *models.Account, string) (*client.Service, error) {
	if err := p.record("get"); err != nil {
		return nil, err
	}
	return p.service, nil
}

func (p *stubProvider) ServiceEnv(context.Context, *models.Account, string) ([]client.EnvVar, error) {
	if err := p.record("env"); err != nil {
		return nil, err
	}
	return p.env, nil
}

func (p *stubProvider) PauseService(context.Context, *models.Account, string) error {
	return p.record("pause")
}

func (p *stubProvider) ResumeService(context.Context, *models.Account, string) error {
	return p.record("resume")
}

func (p *stubProvider) RedeployService(context.Context, *models.Account, string) error {
	return p.record("redeploy")
}

func (p *stubProvider) DeleteService(context.Context, *models.Account, string) error {
	return p.record("delete")
}

func (p *stubProvider) ValidateAPIKey(context.Context, string) (bool, error) {
	if err := p.record("validate"); err != nil {
		return false, err
	}
	return p.keyValid, nil
}

type stubPinger struct {
	targets  []*models.Deployment
	result   keepalive.Result
	err      error
	running  bool
	cycleCtx context.Context
}

func (p *stubPinger) RunCycle(ctx context.Context) (keepalive.Result, error) {
	p.cycleCtx = ctx
	return p.result, p.err
}

func (p *stubPinger) Targets(context.Context) ([]*models.Deployment, error) {
	return p.targets, nil
}

func (p *stubPinger) Running() bool {
	return p.running
}
