package http

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/botfleet/internal/client"
	"github.com/wenwu/saas-platform/botfleet/internal/config"
	"github.com/wenwu/saas-platform/botfleet/internal/keepalive"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
	"github.com/wenwu/saas-platform/botfleet/internal/service"
)

// PingRunner is the keep-alive poller as seen by the admin API.
type PingRunner interface {
	RunCycle(ctx context.Context) (keepalive.Result, error)
	Targets(ctx context.Context) ([]*models.Deployment, error)
	Running() bool
}

type Handler struct {
	deployments *service.DeploymentService
	accounts    *service.AccountPool
	poller      PingRunner
	admin       config.AdminConfig
	log         *zap.Logger
	now         func() time.Time
}

func NewHandler(
	deployments *service.DeploymentService,
	accounts *service.AccountPool,
	poller PingRunner,
	admin config.AdminConfig,
	log *zap.Logger,
) *Handler {
	return &Handler{
		deployments: deployments,
		accounts:    accounts,
		poller:      poller,
		admin:       admin,
		log:         log.Named("http"),
		now:         time.Now,
	}
}

// ==================== Public API Handlers ====================

// Deploy provisions a bot from the deploy form
func (h *Handler) Deploy(c *gin.Context) {
	var req models.DeployRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.deployments.Provision(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}

	h.log.Info("bot deployed",
		zap.String("user_id", req.UserID),
		zap.Int64("deployment_id", resp.DeploymentID),
		zap.String("service_name", resp.ServiceName),
	)
	ok(c, http.StatusOK, resp)
}

// ListUserDeployments lists the deployments of one user (?user_id=).
// The route is unauthenticated so only status fields are exposed.
func (h *Handler) ListUserDeployments(c *gin.Context) {
	list, err := h.deployments.ListByUser(c.Request.Context(), c.Query("user_id"))
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	views := make([]models.UserDeploymentView, 0, len(list))
	for _, d := range list {
		views = append(views, models.NewUserDeploymentView(d))
	}
	ok(c, http.StatusOK, views)
}

// ==================== Admin API Handlers ====================

// Login exchanges the admin password for a bearer token
func (h *Handler) Login(c *gin.Context) {
	var req models.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	if h.admin.Password == "" ||
		subtle.ConstantTimeCompare([]byte(req.Password), []byte(h.admin.Password)) != 1 {
		fail(c, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, expiresAt, err := IssueAdminToken(h.admin.JWTSecret, h.admin.TokenTTL, h.now())
	if err != nil {
		h.respondError(c, err, "")
		return
	}
	ok(c, http.StatusOK, models.LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// ListAccounts returns every account with masked keys plus pool stats
func (h *Handler) ListAccounts(c *gin.Context) {
	ctx := c.Request.Context()
	accounts, err := h.accounts.List(ctx)
	if err != nil {
		h.respondError(c, err, "Account")
		return
	}
	stats, err := h.accounts.Stats(ctx)
	if err != nil {
		h.respondError(c, err, "Account")
		return
	}

	views := make([]models.AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, models.NewAccountView(a))
	}
	ok(c, http.StatusOK, gin.H{"accounts": views, "stats": stats})
}

// CreateAccount adds a Koyeb account to the pool
func (h *Handler) CreateAccount(c *gin.Context) {
	var req models.CreateAccountRequest
	if !bindJSON(c, &req) {
		return
	}

	acct, err := h.accounts.Create(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err, "Account")
		return
	}
	ok(c, http.StatusCreated, models.NewAccountView(acct))
}

// ToggleAccount enables or disables an account
func (h *Handler) ToggleAccount(c *gin.Context) {
	id, valid := pathID(c, "Invalid account ID")
	if !valid {
		return
	}
	var req models.ToggleRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.accounts.SetEnabled(c.Request.Context(), id, *req.Enabled); err != nil {
		h.respondError(c, err, "Account")
		return
	}
	ok(c, http.StatusOK, gin.H{"updated": true, "enabled": *req.Enabled})
}

// DeleteAccount removes an account that hosts no deployments
func (h *Handler) DeleteAccount(c *gin.Context) {
	id, valid := pathID(c, "Invalid account ID")
	if !valid {
		return
	}

	if err := h.accounts.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Account")
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

// ListDeployments returns every deployment with masked tokens plus stats
func (h *Handler) ListDeployments(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.deployments.List(ctx)
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	stats, err := h.deployments.Stats(ctx)
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	ok(c, http.StatusOK, gin.H{"deployments": deploymentViews(list), "stats": stats})
}

// GetDeployment returns the ledger row with the live Koyeb service and env
func (h *Handler) GetDeployment(c *gin.Context) {
	id, valid := pathID(c, "Invalid deployment ID")
	if !valid {
		return
	}

	details, err := h.deployments.Details(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	ok(c, http.StatusOK, details)
}

// DeploymentAction applies pause, resume, redeploy, sync or delete
func (h *Handler) DeploymentAction(c *gin.Context) {
	id, valid := pathID(c, "Invalid deployment ID")
	if !valid {
		return
	}
	var req models.ActionRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.deployments.ApplyAction(c.Request.Context(), id, req.Action)
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	ok(c, http.StatusOK, resp)
}

// DeleteDeployment deletes the Koyeb service and the ledger row
func (h *Handler) DeleteDeployment(c *gin.Context) {
	id, valid := pathID(c, "Invalid deployment ID")
	if !valid {
		return
	}

	if err := h.deployments.Delete(c.Request.Context(), id); err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	ok(c, http.StatusOK, gin.H{"deleted": true})
}

// SetDeploymentPing toggles keep-alive probing for a deployment
func (h *Handler) SetDeploymentPing(c *gin.Context) {
	id, valid := pathID(c, "Invalid deployment ID")
	if !valid {
		return
	}
	var req models.ToggleRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := h.deployments.SetPing(c.Request.Context(), id, *req.Enabled); err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	ok(c, http.StatusOK, gin.H{"updated": true, "ping_enabled": *req.Enabled})
}

// DeploymentEvents returns the audit trail of a deployment
func (h *Handler) DeploymentEvents(c *gin.Context) {
	id, valid := pathID(c, "Invalid deployment ID")
	if !valid {
		return
	}

	events, err := h.deployments.Events(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err, "Deployment")
		return
	}
	views := make([]models.EventView, 0, len(events))
	for _, e := range events {
		views = append(views, models.EventView{
			ID:        e.ID,
			Action:    e.Action,
			Status:    e.Status,
			Message:   e.Message,
			CreatedAt: e.CreatedAt,
		})
	}
	ok(c, http.StatusOK, views)
}

// PingStatus lists the keep-alive targets and whether the poller runs
func (h *Handler) PingStatus(c *gin.Context) {
	targets, err := h.poller.Targets(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "")
		return
	}

	views := make([]models.PingTarget, 0, len(targets))
	for _, d := range targets {
		views = append(views, models.PingTarget{
			ID:          d.ID,
			ServiceName: d.ServiceName,
			PublicURL:   d.PublicURL,
			LastPingAt:  d.LastPingAt,
		})
	}
	ok(c, http.StatusOK, gin.H{
		"count":       len(views),
		"deployments": views,
		"running":     h.poller.Running(),
	})
}

// RunPing triggers one keep-alive cycle and waits for its result.
// The cycle finishes even if the admin disconnects.
func (h *Handler) RunPing(c *gin.Context) {
	res, err := h.poller.RunCycle(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		if errors.Is(err, keepalive.ErrCycleInProgress) {
			fail(c, http.StatusConflict, "A keep-alive cycle is already running")
			return
		}
		h.respondError(c, err, "")
		return
	}
	ok(c, http.StatusOK, res)
}

// ==================== Helpers ====================

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

// respondError maps service and provider errors to status codes.
// subject names the resource in not-found messages.
func (h *Handler) respondError(c *gin.Context, err error, subject string) {
	var verr *service.ValidationError
	var apiErr *client.APIError

	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, verr.Message)
	case errors.Is(err, service.ErrNoAccountAvailable):
		fail(c, http.StatusServiceUnavailable, "No available Koyeb accounts. Please try again later.")
	case errors.Is(err, service.ErrAccountMissing):
		fail(c, http.StatusNotFound, "Associated Koyeb account not found")
	case errors.Is(err, service.ErrNotFound):
		if subject == "" {
			subject = "Resource"
		}
		fail(c, http.StatusNotFound, subject+" not found")
	case errors.Is(err, service.ErrAccountInUse):
		fail(c, http.StatusConflict, "Account still has deployments. Delete them first.")
	case errors.As(err, &apiErr):
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, apiErr.Message)
	case errors.Is(err, client.ErrUnexpectedResponse):
		_ = c.Error(err)
		fail(c, http.StatusBadGateway, "Unexpected response from Koyeb")
	default:
		_ = c.Error(err)
		fail(c, http.StatusInternalServerError, "Internal server error")
	}
}

// bindJSON binds the body and writes a 400 on failure.
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		var verr *service.ValidationError
		if errors.As(service.TranslateValidation(err), &verr) {
			fail(c, http.StatusBadRequest, verr.Message)
		} else {
			fail(c, http.StatusBadRequest, "Invalid request body")
		}
		return false
	}
	return true
}

func pathID(c *gin.Context, msg string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, msg)
		return 0, false
	}
	return id, true
}

func deploymentViews(list []*models.Deployment) []models.DeploymentView {
	views := make([]models.DeploymentView, 0, len(list))
	for _, d := range list {
		views = append(views, models.NewDeploymentView(d))
	}
	return views
}
