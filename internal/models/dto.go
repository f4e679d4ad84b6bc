package models

import "time"

// ==================== Public API DTOs ====================

// DeployRequest is sent by the deploy form to provision a bot
type DeployRequest struct {
	UserID          string `json:"user_id" binding:"required,max=32"`
	DiscordToken    string `json:"discord_token" binding:"required"`
	DiscordClientID string `json:"discord_client_id" binding:"required"`
	DiscordOwnerID  string `json:"discord_owner_id" binding:"required"`
	DiscordGuildID  string `json:"discord_guild_id"`
}

// DeployResponse is returned after a successful provisioning call
type DeployResponse struct {
	DeploymentID int64            `json:"deployment_id"`
	ServiceID    string           `json:"service_id"`
	ServiceName  string           `json:"service_name"`
	PublicURL    string           `json:"public_url"`
	Status       DeploymentStatus `json:"status"`
}

// ==================== Admin API DTOs ====================

// LoginRequest exchanges the admin password for a bearer token
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// LoginResponse carries the signed admin token
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateAccountRequest adds a Koyeb account to the pool
type CreateAccountRequest struct {
	Name           string       `json:"name" binding:"required"`
	APIKey         string       `json:"api_key" binding:"required"`
	AppID          string       `json:"app_id" binding:"required"`
	InstanceType   InstanceType `json:"instance_type" binding:"omitempty,oneof=free micro small medium large"`
	SkipValidation bool         `json:"skip_validation"`
}

// ToggleRequest flips a boolean flag (account enabled, deployment ping)
type ToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ActionRequest applies a lifecycle action to a deployment
type ActionRequest struct {
	Action string `json:"action" binding:"required"`
}

// ActionResponse is returned after a lifecycle action
type ActionResponse struct {
	Action  string           `json:"action"`
	Status  DeploymentStatus `json:"status,omitempty"`
	Synced  bool             `json:"synced,omitempty"`
	Deleted bool             `json:"deleted,omitempty"`
}

// AccountView is an account with its API key masked
type AccountView struct {
	ID           int64        `json:"id"`
	Name         string       `json:"name"`
	APIKey       string       `json:"api_key"`
	AppID        string       `json:"app_id"`
	InstanceType InstanceType `json:"instance_type"`
	Enabled      bool         `json:"enabled"`
	LastUsedAt   *time.Time   `json:"last_used_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// DeploymentView is a deployment with its bot token masked
type DeploymentView struct {
	ID              int64            `json:"id"`
	UserID          string           `json:"user_id"`
	ServiceID       string           `json:"service_id"`
	ServiceName     string           `json:"service_name"`
	AccountID       int64            `json:"koyeb_account_id"`
	AccountName     string           `json:"account_name"`
	DiscordToken    string           `json:"discord_token"`
	DiscordClientID string           `json:"discord_client_id"`
	DiscordOwnerID  string           `json:"discord_owner_id"`
	DiscordGuildID  *string          `json:"discord_guild_id"`
	PublicURL       *string          `json:"public_url"`
	Status          DeploymentStatus `json:"status"`
	PingEnabled     bool             `json:"ping_enabled"`
	LastPingAt      *time.Time       `json:"last_ping_at"`
	CreatedAt       time.Time        `json:"created_at"`
}

// UserDeploymentView is what the public API shows a user about their bots
type UserDeploymentView struct {
	ID          int64            `json:"id"`
	ServiceName string           `json:"service_name"`
	Status      DeploymentStatus `json:"status"`
	PublicURL   *string          `json:"public_url"`
	CreatedAt   time.Time        `json:"created_at"`
}

// PingTarget is a ping-eligible deployment as shown on the admin dashboard
type PingTarget struct {
	ID          int64      `json:"id"`
	ServiceName string     `json:"service_name"`
	PublicURL   *string    `json:"public_url"`
	LastPingAt  *time.Time `json:"last_ping_at"`
}

// EventView is a deployment audit entry
type EventView struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// UnknownAccountName is displayed for deployments whose account was removed
const UnknownAccountName = "Unknown"

// Mask keeps the first n characters of a secret.
func Mask(secret string, n int) string {
	if len(secret) <= n {
		return secret + "..."
	}
	return secret[:n] + "..."
}

// NewAccountView masks the API key of a.
func NewAccountView(a *Account) AccountView {
	return AccountView{
		ID:           a.ID,
		Name:         a.Name,
		APIKey:       Mask(a.APIKey, 8),
		AppID:        a.AppID,
		InstanceType: a.InstanceType,
		Enabled:      a.Enabled,
		LastUsedAt:   a.LastUsedAt,
		CreatedAt:    a.CreatedAt,
	}
}

// NewDeploymentView masks the Discord token of d.
func NewDeploymentView(d *Deployment) DeploymentView {
	accountName := UnknownAccountName
	if d.AccountName != nil {
		accountName = *d.AccountName
	}
	return DeploymentView{
		ID:              d.ID,
		UserID:          d.UserID,
		ServiceID:       d.ServiceID,
		ServiceName:     d.ServiceName,
		AccountID:       d.AccountID,
		AccountName:     accountName,
		DiscordToken:    Mask(d.DiscordToken, 10),
		DiscordClientID: d.DiscordClientID,
		DiscordOwnerID:  d.DiscordOwnerID,
		DiscordGuildID:  d.DiscordGuildID,
		PublicURL:       d.PublicURL,
		Status:          d.Status,
		PingEnabled:     d.PingEnabled,
		LastPingAt:      d.LastPingAt,
		CreatedAt:       d.CreatedAt,
	}
}

func NewUserDeploymentView(d *Deployment) UserDeploymentView {
	return UserDeploymentView{
		ID:          d.ID,
		ServiceName: d.ServiceName,
		Status:      d.Status,
		PublicURL:   d.PublicURL,
		CreatedAt:   d.CreatedAt,
	}
}
