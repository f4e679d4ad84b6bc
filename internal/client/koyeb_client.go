package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/botfleet/internal/config"
	"github.com/wenwu/saas-platform/botfleet/internal/metrics"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

// ErrUnexpectedResponse is returned when Koyeb answers 2xx with a payload
// that does not have the documented shape.
var ErrUnexpectedResponse = errors.New("unexpected koyeb response")

// APIError is a non-2xx answer from the Koyeb API.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("koyeb %s returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a Koyeb 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// KoyebClient calls the Koyeb REST API on behalf of pool accounts.
// Every call is scoped by the account's API key; there are no retries.
type KoyebClient struct {
	baseURL         string
	httpClient      *http.Client
	dockerImage     string
	port            int
	region          string
	defaultInstance models.InstanceType
	metrics         *metrics.Metrics
	log             *zap.Logger
	now             func() time.Time
}

// NewKoyebClient creates a Koyeb client from the koyeb config section.
func NewKoyebClient(cfg config.KoyebConfig, m *metrics.Metrics, log *zap.Logger) *KoyebClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	defaultInstance := models.InstanceType(cfg.DefaultInstanceType)
	if !defaultInstance.Valid() {
		defaultInstance = models.DefaultInstanceType
	}
	return &KoyebClient{
		baseURL:         strings.TrimRight(cfg.APIBase, "/"),
		httpClient:      &http.Client{Timeout: timeout},
		dockerImage:     cfg.DockerImage,
		port:            cfg.Port,
		region:          cfg.Region,
		defaultInstance: defaultInstance,
		metrics:         m,
		log:             log.Named("koyeb"),
		now:             time.Now,
	}
}

// BotConfig carries the bot credentials injected into the container.
type BotConfig struct {
	UserID          string
	DiscordToken    string
	DiscordClientID string
	DiscordOwnerID  string
	DiscordGuildID  string
}

// EnvVar is one container environment variable.
type EnvVar struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type DockerSource struct {
	Image string `json:"image"`
}

type PortSpec struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

type RouteSpec struct {
	Path string `json:"path"`
	Port int    `json:"port"`
}

type InstanceTypeSpec struct {
	Type string `json:"type"`
}

type ScalingSpec struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// ServiceDefinition is the declarative definition of a Koyeb service.
type ServiceDefinition struct {
	Name          string             `json:"name"`
	Docker        DockerSource       `json:"docker"`
	Env           []EnvVar           `json:"env"`
	Ports         []PortSpec         `json:"ports"`
	Routes        []RouteSpec        `json:"routes"`
	InstanceTypes []InstanceTypeSpec `json:"instance_types"`
	Regions       []string           `json:"regions"`
	Scalings      []ScalingSpec      `json:"scalings"`
}

// CreateServiceRequest is the body of POST /services
type CreateServiceRequest struct {
	AppID      string            `json:"app_id"`
	Definition ServiceDefinition `json:"definition"`
}

// Service is a Koyeb service as returned by the API
type Service struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AppID     string `json:"app_id"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

type serviceEnvelope struct {
	Service *Service `json:"service"`
}

// DeploymentInfo is one entry of GET /deployments
type DeploymentInfo struct {
	ID         string `json:"id"`
	ServiceID  string `json:"service_id"`
	Status     string `json:"status"`
	Definition *struct {
		Env []EnvVar `json:"env"`
	} `json:"definition,omitempty"`
}

type deploymentsEnvelope struct {
	Deployments []DeploymentInfo `json:"deployments"`
}

// ServiceName builds a collision-free service name for a user.
func ServiceName(userID string, now time.Time) string {
	return fmt.Sprintf("bot-%s-%d", strings.ToLower(userID), now.UnixMilli())
}

// PublicURL renders the public URL of a service from a template containing %s.
func PublicURL(template, serviceName string) string {
	return fmt.Sprintf(template, serviceName)
}

// BuildServiceDefinition builds the create payload for a bot on acct.
// Free-tier accounts scale to zero; every other tier keeps one instance up.
func (c *KoyebClient) BuildServiceDefinition(acct *models.Account, bot BotConfig) *CreateServiceRequest {
	instanceType := acct.InstanceType
	if !instanceType.Valid() {
		instanceType = c.defaultInstance
	}
	minScale := 1
	if instanceType == models.InstanceFree {
		minScale = 0
	}
	port := strconv.Itoa(c.port)

	return &CreateServiceRequest{
		AppID: acct.AppID,
		Definition: ServiceDefinition{
			Name:   ServiceName(bot.UserID, c.now()),
			Docker: DockerSource{Image: c.dockerImage},
			Env: []EnvVar{
				{Key: "DISCORD_TOKEN", Value: bot.DiscordToken},
				{Key: "DISCORD_CLIENT_ID", Value: bot.DiscordClientID},
				{Key: "DISCORD_OWNER_ID", Value: bot.DiscordOwnerID},
				{Key: "DISCORD_GUILD_ID", Value: bot.DiscordGuildID},
				{Key: "API_ENABLED", Value: "true"},
				{Key: "PORT", Value: port},
			},
			Ports:         []PortSpec{{Port: c.port, Protocol: "http"}},
			Routes:        []RouteSpec{{Path: "/", Port: c.port}},
			InstanceTypes: []InstanceTypeSpec{{Type: string(instanceType)}},
			Regions:       []string{c.region},
			Scalings:      []ScalingSpec{{Min: minScale, Max: 1}},
		},
	}
}

// CreateService creates a bot service under acct.
func (c *KoyebClient) CreateService(ctx context.Context, acct *models.Account, bot BotConfig) (*Service, error) {
	req := c.BuildServiceDefinition(acct, bot)
	c.log.Info("creating service",
		zap.Int64("account_id", acct.ID),
		zap.String("service_name", req.Definition.Name),
		zap.String("instance_type", req.Definition.InstanceTypes[0].Type),
	)

	var env serviceEnvelope
	if err := c.do(ctx, "create_service", http.MethodPost, "/services", acct.APIKey, req, &env); err != nil {
		return nil, err
	}
	if env.Service == nil || env.Service.ID == "" || env.Service.Name == "" {
		return nil, fmt.Errorf("create service: %w: missing service id or name", ErrUnexpectedResponse)
	}

	c.log.Info("service created", zap.String("service_id", env.Service.ID), zap.String("service_name", env.Service.Name))
	return env.Service, nil
}

// GetService fetches a service. A missing service returns (nil, nil).
func (c *KoyebClient) GetService(ctx context.Context, acct *models.Account, serviceID string) (*Service, error) {
	var env serviceEnvelope
	err := c.do(ctx, "get_service", http.MethodGet, "/services/"+url.PathEscape(serviceID), acct.APIKey, nil, &env)
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if env.Service == nil || env.Service.ID == "" {
		return nil, fmt.Errorf("get service: %w: missing service", ErrUnexpectedResponse)
	}
	return env.Service, nil
}

// ListDeployments lists a service's deployments, most recent first.
func (c *KoyebClient) ListDeployments(ctx context.Context, acct *models.Account, serviceID string) ([]DeploymentInfo, error) {
	var env deploymentsEnvelope
	path := "/deployments?service_id=" + url.QueryEscape(serviceID)
	if err := c.do(ctx, "list_deployments", http.MethodGet, path, acct.APIKey, nil, &env); err != nil {
		return nil, err
	}
	return env.Deployments, nil
}

// ServiceEnv returns the environment of the service's latest deployment.
func (c *KoyebClient) ServiceEnv(ctx context.Context, acct *models.Account, serviceID string) ([]EnvVar, error) {
	deployments, err := c.ListDeployments(ctx, acct, serviceID)
	if err != nil {
		return nil, err
	}
	if len(deployments) == 0 || deployments[0].Definition == nil {
		return []EnvVar{}, nil
	}
	return deployments[0].Definition.Env, nil
}

// PauseService pauses a service.
func (c *KoyebClient) PauseService(ctx context.Context, acct *models.Account, serviceID string) error {
	return c.do(ctx, "pause_service", http.MethodPost, "/services/"+url.PathEscape(serviceID)+"/pause", acct.APIKey, nil, nil)
}

// ResumeService resumes a paused service.
func (c *KoyebClient) ResumeService(ctx context.Context, acct *models.Account, serviceID string) error {
	return c.do(ctx, "resume_service", http.MethodPost, "/services/"+url.PathEscape(serviceID)+"/resume", acct.APIKey, nil, nil)
}

// RedeployService triggers a new deployment of a service.
func (c *KoyebClient) RedeployService(ctx context.Context, acct *models.Account, serviceID string) error {
	return c.do(ctx, "redeploy_service", http.MethodPost, "/services/"+url.PathEscape(serviceID)+"/redeploy", acct.APIKey, nil, nil)
}

// DeleteService deletes a service. A service that is already gone is not an error.
func (c *KoyebClient) DeleteService(ctx context.Context, acct *models.Account, serviceID string) error {
	err := c.do(ctx, "delete_service", http.MethodDelete, "/services/"+url.PathEscape(serviceID), acct.APIKey, nil, nil)
	if IsNotFound(err) {
		c.log.Info("service already deleted", zap.String("service_id", serviceID))
		return nil
	}
	return err
}

// ValidateAPIKey checks an API key against GET /apps.
// A rejected key returns (false, nil).
func (c *KoyebClient) ValidateAPIKey(ctx context.Context, apiKey string) (bool, error) {
	err := c.do(ctx, "list_apps", http.MethodGet, "/apps", apiKey, nil, nil)
	if err == nil {
		return true, nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return false, err
}

func (c *KoyebClient) do(ctx context.Context, op, method, path, apiKey string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	if in != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.ObserveProviderRequest(op, 0, time.Since(start))
		return fmt.Errorf("%s: send request: %w", op, err)
	}
	defer resp.Body.Close()
	c.metrics.ObserveProviderRequest(op, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(resp.StatusCode, respBody)}
		if resp.StatusCode != http.StatusNotFound {
			c.log.Warn("koyeb request failed",
				zap.String("op", op),
				zap.Int("status", resp.StatusCode),
				zap.String("message", apiErr.Message),
			)
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, ErrUnexpectedResponse, err)
	}
	return nil
}

// errorMessage extracts the provider's message from an error body.
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return fmt.Sprintf("Koyeb API error (%d)", status)
}
