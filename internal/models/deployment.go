package models

import "time"

// DeploymentStatus is the locally cached lifecycle state of a deployment.
type DeploymentStatus string

const (
	StatusPending   DeploymentStatus = "pending"
	StatusDeploying DeploymentStatus = "deploying"
	StatusRunning   DeploymentStatus = "running"
	StatusStopped   DeploymentStatus = "stopped"
	StatusError     DeploymentStatus = "error"
	StatusDeleted   DeploymentStatus = "deleted"
)

// Deployment is one hosted bot instance.
type Deployment struct {
	ID          int64
	UserID      string
	ServiceID   string
	ServiceName string
	AccountID   int64

	// Bot credentials injected into the container
	DiscordToken    string
	DiscordClientID string
	DiscordOwnerID  string
	DiscordGuildID  *string

	PublicURL   *string
	Status      DeploymentStatus
	PingEnabled bool
	LastPingAt  *time.Time
	CreatedAt   time.Time

	// AccountName is joined from koyeb_accounts; nil when the account is gone.
	AccountName *string
}

// DeploymentStats aggregates the deployment ledger.
type DeploymentStats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Error   int `json:"error"`
	Pinging int `json:"pinging"`
}

// DeploymentEvent is one entry of a deployment's audit trail.
type DeploymentEvent struct {
	ID           string
	DeploymentID int64
	Action       string
	Status       string
	Message      string
	CreatedAt    time.Time
}

// Deployment event actions
const (
	EventProvisioned = "provisioned"
	EventPaused      = "paused"
	EventResumed     = "resumed"
	EventRedeployed  = "redeployed"
	EventSynced      = "synced"
	EventDeleted     = "deleted"
	EventPingToggled = "ping_toggled"
)
