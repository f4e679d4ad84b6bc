package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/botfleet/internal/models"
	"github.com/wenwu/saas-platform/botfleet/internal/repository"
)

type deploymentCounter interface {
	CountByAccount(ctx context.Context, accountID int64) (int, error)
}

type keyValidator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (bool, error)
}

// AccountPool rotates provisioning across enabled Koyeb accounts,
// least recently used first.
//
// Selection and leasing are serialized in-process, so concurrent
// provisioning calls spread over distinct accounts while any are free.
type AccountPool struct {
	accounts    AccountStore
	deployments deploymentCounter
	validator   keyValidator
	log         *zap.Logger

	mu     sync.Mutex
	leased map[int64]int
}

// NewAccountPool creates an account pool. validator may be nil, in which
// case API keys are not checked against Koyeb on creation.
func NewAccountPool(accounts AccountStore, deployments deploymentCounter, validator keyValidator, log *zap.Logger) *AccountPool {
	return &AccountPool{
		accounts:    accounts,
		deployments: deployments,
		validator:   validator,
		log:         log.Named("account_pool"),
		leased:      make(map[int64]int),
	}
}

// Next returns the enabled account used least recently. Never-used accounts
// come first; ties go to the lowest id.
func (p *AccountPool) Next(ctx context.Context) (*models.Account, error) {
	accounts, err := p.accounts.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccountAvailable
	}
	return accounts[0], nil
}

// Lease is an account reserved for one provisioning attempt. Exactly one of
// Commit or Release takes effect; later calls are no-ops.
type Lease struct {
	Account *models.Account

	pool *AccountPool
	once sync.Once
}

// Acquire picks the next account, skipping accounts leased by in-flight
// provisioning. When every enabled account is leased it falls back to the
// least recently used one.
func (p *AccountPool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accounts, err := p.accounts.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccountAvailable
	}

	chosen := accounts[0]
	for _, a := range accounts {
		if p.leased[a.ID] == 0 {
			chosen = a
			break
		}
	}
	p.leased[chosen.ID]++
	return &Lease{Account: chosen, pool: p}, nil
}

// Commit marks the leased account used and frees the lease.
func (l *Lease) Commit(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		err = l.pool.MarkUsed(ctx, l.Account.ID)
		l.pool.release(l.Account.ID)
	})
	return err
}

// Release frees the lease without touching the account's rotation order.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.pool.release(l.Account.ID)
	})
}

func (p *AccountPool) release(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.leased[id] <= 1 {
		delete(p.leased, id)
		return
	}
	p.leased[id]--
}

// MarkUsed stamps the account's last-used time.
func (p *AccountPool) MarkUsed(ctx context.Context, id int64) error {
	if err := p.accounts.MarkUsed(ctx, id); err != nil {
		return p.wrap(err, id, "mark account used")
	}
	return nil
}

func (p *AccountPool) List(ctx context.Context) ([]*models.Account, error) {
	accounts, err := p.accounts.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

func (p *AccountPool) Get(ctx context.Context, id int64) (*models.Account, error) {
	a, err := p.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, p.wrap(err, id, "get account")
	}
	return a, nil
}

func (p *AccountPool) Stats(ctx context.Context) (*models.AccountStats, error) {
	stats, err := p.accounts.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("account stats: %w", err)
	}
	return stats, nil
}

// Create adds an enabled account to the pool. Unless req.SkipValidation is
// set, the API key is checked against Koyeb first.
func (p *AccountPool) Create(ctx context.Context, req *models.CreateAccountRequest) (*models.Account, error) {
	a := &models.Account{
		Name:         strings.TrimSpace(req.Name),
		APIKey:       strings.TrimSpace(req.APIKey),
		AppID:        strings.TrimSpace(req.AppID),
		InstanceType: req.InstanceType,
		Enabled:      true,
	}
	if a.InstanceType == "" {
		a.InstanceType = models.DefaultInstanceType
	}

	switch {
	case a.Name == "":
		return nil, invalid("name", "Account name is required")
	case a.APIKey == "":
		return nil, invalid("api_key", "API key is required")
	case a.AppID == "":
		return nil, invalid("app_id", "App ID is required")
	case !a.InstanceType.Valid():
		return nil, invalid("instance_type", "Instance type must be one of: free, micro, small, medium, large")
	}

	if !req.SkipValidation && p.validator != nil {
		ok, err := p.validator.ValidateAPIKey(ctx, a.APIKey)
		if err != nil {
			return nil, fmt.Errorf("validate api key: %w", err)
		}
		if !ok {
			return nil, invalid("api_key", "Invalid Koyeb API key")
		}
	}

	if err := p.accounts.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	p.log.Info("account added",
		zap.Int64("account_id", a.ID),
		zap.String("name", a.Name),
		zap.String("instance_type", string(a.InstanceType)),
	)
	return a, nil
}

// SetEnabled enables or disables an account. Deployments already hosted on
// a disabled account are untouched.
func (p *AccountPool) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := p.accounts.SetEnabled(ctx, id, enabled); err != nil {
		return p.wrap(err, id, "set account enabled")
	}
	p.log.Info("account toggled", zap.Int64("account_id", id), zap.Bool("enabled", enabled))
	return nil
}

// Delete removes an account that no deployment references.
func (p *AccountPool) Delete(ctx context.Context, id int64) error {
	n, err := p.deployments.CountByAccount(ctx, id)
	if err != nil {
		return fmt.Errorf("count account deployments: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("account %d has %d deployments: %w", id, n, ErrAccountInUse)
	}
	if err := p.accounts.Delete(ctx, id); err != nil {
		return p.wrap(err, id, "delete account")
	}
	p.log.Info("account deleted", zap.Int64("account_id", id))
	return nil
}

func (p *AccountPool) wrap(err error, id int64, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}
