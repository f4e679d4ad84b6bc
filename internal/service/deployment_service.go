package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wenwu/saas-platform/botfleet/internal/client"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
	"github.com/wenwu/saas-platform/botfleet/internal/repository"
)

// Action is a lifecycle action on a deployment.
type Action string

const (
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionRedeploy Action = "redeploy"
	ActionSync     Action = "sync"
	ActionDelete   Action = "delete"
)

// ParseAction normalizes s and rejects unknown actions with ErrInvalidAction.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionPause, ActionResume, ActionRedeploy, ActionSync, ActionDelete:
		return a, nil
	}
	return "", ErrInvalidAction
}

const eventListLimit = 50

// DeploymentDetails is the admin detail view of a deployment: the ledger row,
// the live Koyeb service and its environment with secrets masked.
type DeploymentDetails struct {
	Deployment models.DeploymentView `json:"deployment"`
	Service    *client.Service       `json:"service"`
	EnvVars    []client.EnvVar       `json:"envVars"`
}

// DeploymentService orchestrates provisioning and lifecycle actions across
// the account pool, the Koyeb API and the deployment ledger.
type DeploymentService struct {
	pool        *AccountPool
	accounts    AccountStore
	deployments DeploymentStore
	events      EventStore
	provider    Provider
	urlTemplate string
	log         *zap.Logger
}

// NewDeploymentService creates a new deployment service
func NewDeploymentService(
	pool *AccountPool,
	accounts AccountStore,
	deployments DeploymentStore,
	events EventStore,
	provider Provider,
	urlTemplate string,
	log *zap.Logger,
) *DeploymentService {
	return &DeploymentService{
		pool:        pool,
		accounts:    accounts,
		deployments: deployments,
		events:      events,
		provider:    provider,
		urlTemplate: urlTemplate,
		log:         log.Named("deployments"),
	}
}

// Provision creates a bot service on the next available account and records it.
//
// Nothing is written and no account is marked used unless Koyeb accepted the
// service. If the ledger write fails afterwards the service is removed again.
func (s *DeploymentService) Provision(ctx context.Context, req *models.DeployRequest) (*models.DeployResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.DiscordToken = strings.TrimSpace(req.DiscordToken)
	req.DiscordClientID = strings.TrimSpace(req.DiscordClientID)
	req.DiscordOwnerID = strings.TrimSpace(req.DiscordOwnerID)
	req.DiscordGuildID = strings.TrimSpace(req.DiscordGuildID)

	if err := ValidateStruct(req); err != nil {
		return nil, err
	}
	if err := validateUserID(req.UserID); err != nil {
		return nil, err
	}

	lease, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	acct := lease.Account

	// From here on Koyeb may hold a service; finish under the client timeout
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	svc, err := s.provider.CreateService(ctx, acct, client.BotConfig{
		UserID:          req.UserID,
		DiscordToken:    req.DiscordToken,
		DiscordClientID: req.DiscordClientID,
		DiscordOwnerID:  req.DiscordOwnerID,
		DiscordGuildID:  req.DiscordGuildID,
	})
	if err != nil {
		lease.Release()
		s.log.Warn("create service failed",
			zap.String("user_id", req.UserID),
			zap.Int64("account_id", acct.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("create koyeb service: %w", err)
	}

	publicURL := client.PublicURL(s.urlTemplate, svc.Name)
	d := &models.Deployment{
		UserID:          req.UserID,
		ServiceID:       svc.ID,
		ServiceName:     svc.Name,
		AccountID:       acct.ID,
		DiscordToken:    req.DiscordToken,
		DiscordClientID: req.DiscordClientID,
		DiscordOwnerID:  req.DiscordOwnerID,
		PublicURL:       &publicURL,
		Status:          models.StatusDeploying,
	}
	if req.DiscordGuildID != "" {
		guild := req.DiscordGuildID
		d.DiscordGuildID = &guild
	}

	if err := s.deployments.Create(ctx, d); err != nil {
		lease.Release()
		if delErr := s.provider.DeleteService(ctx, acct, svc.ID); delErr != nil {
			s.log.Error("orphaned koyeb service after ledger failure",
				zap.String("service_id", svc.ID),
				zap.Int64("account_id", acct.ID),
				zap.Error(delErr),
			)
		}
		return nil, fmt.Errorf("record deployment: %w", err)
	}

	if err := lease.Commit(ctx); err != nil {
		s.log.Warn("mark account used failed", zap.Int64("account_id", acct.ID), zap.Error(err))
	}

	s.record(ctx, d.ID, models.EventProvisioned, d.Status,
		fmt.Sprintf("service %s created on account %s", svc.ID, acct.Name))
	s.log.Info("deployment provisioned",
		zap.Int64("deployment_id", d.ID),
		zap.String("service_id", svc.ID),
		zap.String("user_id", d.UserID),
		zap.Int64("account_id", acct.ID),
	)

	return &models.DeployResponse{
		DeploymentID: d.ID,
		ServiceID:    svc.ID,
		ServiceName:  svc.Name,
		PublicURL:    publicURL,
		Status:       d.Status,
	}, nil
}

// ApplyAction runs a lifecycle action against the deployment's Koyeb service
// and reconciles the ledger. Provider errors are returned unchanged (wrapped).
func (s *DeploymentService) ApplyAction(ctx context.Context, id int64, action string) (*models.ActionResponse, error) {
	act, err := ParseAction(action)
	if err != nil {
		return nil, err
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	acct, err := s.accounts.GetByID(ctx, d.AccountID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("get account: %w", err)
		}
		if act != ActionDelete {
			return nil, fmt.Errorf("deployment %d: %w", id, ErrAccountMissing)
		}
		// orphan: nothing left to call on the provider side
		acct = nil
	}

	// provider calls and the ledger update are not cancelled with the caller
	ctx = context.WithoutCancel(ctx)

	resp := &models.ActionResponse{Action: string(act)}
	switch act {
	case ActionPause:
		if err := s.provider.PauseService(ctx, acct, d.ServiceID); err != nil {
			return nil, fmt.Errorf("pause service: %w", err)
		}
		resp.Status = models.StatusStopped
	case ActionResume:
		if err := s.provider.ResumeService(ctx, acct, d.ServiceID); err != nil {
			return nil, fmt.Errorf("resume service: %w", err)
		}
		resp.Status = models.StatusDeploying
	case ActionRedeploy:
		if err := s.provider.RedeployService(ctx, acct, d.ServiceID); err != nil {
			return nil, fmt.Errorf("redeploy service: %w", err)
		}
		resp.Status = models.StatusDeploying
	case ActionSync:
		return s.sync(ctx, d, acct)
	case ActionDelete:
		return s.delete(ctx, d, acct)
	}

	if err := s.deployments.UpdateStatus(ctx, d.ID, resp.Status); err != nil {
		return nil, s.wrap(err, d.ID, "update deployment status")
	}
	s.record(ctx, d.ID, eventFor(act), resp.Status, "")
	s.log.Info("deployment action applied",
		zap.Int64("deployment_id", d.ID),
		zap.String("action", string(act)),
		zap.String("status", string(resp.Status)),
	)
	return resp, nil
}

// Delete removes a deployment's service and its ledger row.
func (s *DeploymentService) Delete(ctx context.Context, id int64) error {
	_, err := s.ApplyAction(ctx, id, string(ActionDelete))
	return err
}

func (s *DeploymentService) sync(ctx context.Context, d *models.Deployment, acct *models.Account) (*models.ActionResponse, error) {
	svc, err := s.provider.GetService(ctx, acct, d.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("get service: %w", err)
	}

	status := models.StatusDeleted
	if svc != nil {
		status = client.MapStatus(svc.Status)
	}
	if err := s.deployments.UpdateStatus(ctx, d.ID, status); err != nil {
		return nil, s.wrap(err, d.ID, "update deployment status")
	}
	if svc != nil && d.PublicURL == nil && svc.Name != "" {
		if err := s.deployments.UpdatePublicURL(ctx, d.ID, client.PublicURL(s.urlTemplate, svc.Name)); err != nil {
			s.log.Warn("backfill public url failed", zap.Int64("deployment_id", d.ID), zap.Error(err))
		}
	}

	msg := ""
	if svc != nil {
		msg = "koyeb status " + svc.Status
	}
	s.record(ctx, d.ID, models.EventSynced, status, msg)
	return &models.ActionResponse{Action: string(ActionSync), Status: status, Synced: true}, nil
}

func (s *DeploymentService) delete(ctx context.Context, d *models.Deployment, acct *models.Account) (*models.ActionResponse, error) {
	if acct != nil {
		if err := s.provider.DeleteService(ctx, acct, d.ServiceID); err != nil {
			return nil, fmt.Errorf("delete service: %w", err)
		}
	} else {
		s.log.Warn("deleting orphaned deployment", zap.Int64("deployment_id", d.ID), zap.Int64("account_id", d.AccountID))
	}

	if err := s.deployments.Delete(ctx, d.ID); err != nil {
		return nil, s.wrap(err, d.ID, "delete deployment")
	}
	s.record(ctx, d.ID, models.EventDeleted, models.StatusDeleted, "")
	s.log.Info("deployment deleted", zap.Int64("deployment_id", d.ID), zap.String("service_id", d.ServiceID))
	return &models.ActionResponse{Action: string(ActionDelete), Deleted: true}, nil
}

func (s *DeploymentService) Get(ctx context.Context, id int64) (*models.Deployment, error) {
	d, err := s.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, s.wrap(err, id, "get deployment")
	}
	return d, nil
}

// Details fetches the live service and its current environment in parallel.
func (s *DeploymentService) Details(ctx context.Context, id int64) (*DeploymentDetails, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	acct, err := s.accounts.GetByID(ctx, d.AccountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("deployment %d: %w", id, ErrAccountMissing)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}

	var (
		svc *client.Service
		env []client.EnvVar
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		svc, err = s.provider.GetService(gctx, acct, d.ServiceID)
		return err
	})
	g.Go(func() error {
		var err error
		env, err = s.provider.ServiceEnv(gctx, acct, d.ServiceID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch service details: %w", err)
	}

	masked := make([]client.EnvVar, 0, len(env))
	for _, e := range env {
		if strings.Contains(e.Key, "TOKEN") || strings.Contains(e.Key, "SECRET") {
			e.Value = models.Mask(e.Value, 10)
		}
		masked = append(masked, e)
	}

	return &DeploymentDetails{
		Deployment: models.NewDeploymentView(d),
		Service:    svc,
		EnvVars:    masked,
	}, nil
}

func (s *DeploymentService) List(ctx context.Context) ([]*models.Deployment, error) {
	list, err := s.deployments.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return list, nil
}

func (s *DeploymentService) ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error) {
	userID = strings.TrimSpace(userID)
	if err := validateUserID(userID); err != nil {
		return nil, err
	}
	list, err := s.deployments.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list user deployments: %w", err)
	}
	return list, nil
}

func (s *DeploymentService) Stats(ctx context.Context) (*models.DeploymentStats, error) {
	stats, err := s.deployments.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("deployment stats: %w", err)
	}
	return stats, nil
}

// SetPing turns keep-alive probing on or off for a deployment.
func (s *DeploymentService) SetPing(ctx context.Context, id int64, enabled bool) error {
	if err := s.deployments.SetPingEnabled(ctx, id, enabled); err != nil {
		return s.wrap(err, id, "set ping enabled")
	}
	msg := "ping disabled"
	if enabled {
		msg = "ping enabled"
	}
	s.record(ctx, id, models.EventPingToggled, "", msg)
	return nil
}

// Events returns the audit trail of a deployment, newest first. The trail
// outlives the deployment row.
func (s *DeploymentService) Events(ctx context.Context, id int64) ([]*models.DeploymentEvent, error) {
	events, err := s.events.ListByDeployment(ctx, id, eventListLimit)
	if err != nil {
		return nil, fmt.Errorf("list deployment events: %w", err)
	}
	return events, nil
}

// record never fails the calling operation.
func (s *DeploymentService) record(ctx context.Context, id int64, action string, status models.DeploymentStatus, message string) {
	if err := s.events.Record(ctx, id, action, string(status), message); err != nil {
		s.log.Warn("record deployment event failed",
			zap.Int64("deployment_id", id),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *DeploymentService) wrap(err error, id int64, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("deployment %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func eventFor(a Action) string {
	switch a {
	case ActionPause:
		return models.EventPaused
	case ActionResume:
		return models.EventResumed
	case ActionRedeploy:
		return models.EventRedeployed
	case ActionSync:
		return models.EventSynced
	default:
		return models.EventDeleted
	}
}
