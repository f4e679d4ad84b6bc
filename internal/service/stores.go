package service

import (
	"context"

	"github.com/wenwu/saas-platform/botfleet/internal/client"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
	"github.com/wenwu/saas-platform/botfleet/internal/repository"
)

// AccountStore is implemented by repository.AccountRepository.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	List(ctx context.Context) ([]*models.Account, error)
	ListEnabled(ctx context.Context) ([]*models.Account, error)
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	MarkUsed(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*models.AccountStats, error)
}

// DeploymentStore is implemented by repository.DeploymentRepository.
type DeploymentStore interface {
	Create(ctx context.Context, d *models.Deployment) error
	GetByID(ctx context.Context, id int64) (*models.Deployment, error)
	ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error)
	List(ctx context.Context) ([]*models.Deployment, error)
	UpdateStatus(ctx context.Context, id int64, status models.DeploymentStatus) error
	UpdatePublicURL(ctx context.Context, id int64, url string) error
	SetPingEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
	Stats(ctx context.Context) (*models.DeploymentStats, error)
	CountByAccount(ctx context.Context, accountID int64) (int, error)
}

// EventStore is implemented by repository.EventRepository.
type EventStore interface {
	Record(ctx context.Context, deploymentID int64, action, status, message string) error
	ListByDeployment(ctx context.Context, deploymentID int64, limit int) ([]*models.DeploymentEvent, error)
}

// Provider is the hosting platform API, implemented by client.KoyebClient.
type Provider interface {
	CreateService(ctx context.Context, acct *models.Account, bot client.BotConfig) (*client.Service, error)
	GetService(ctx context.Context, acct *models.Account, serviceID string) (*client.Service, error)
	ServiceEnv(ctx context.Context, acct *models.Account, serviceID string) ([]client.EnvVar, error)
	PauseService(ctx context.Context, acct *models.Account, serviceID string) error
	ResumeService(ctx context.Context, acct *models.Account, serviceID string) error
	RedeployService(ctx context.Context, acct *models.Account, serviceID string) error
	DeleteService(ctx context.Context, acct *models.Account, serviceID string) error
	ValidateAPIKey(ctx context.Context, apiKey string) (bool, error)
}

var (
	_ AccountStore    = (*repository.AccountRepository)(nil)
	_ DeploymentStore = (*repository.DeploymentRepository)(nil)
	_ EventStore      = (*repository.EventRepository)(nil)
	_ Provider        = (*client.KoyebClient)(nil)
)
