package client

import (
	"strings"

	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

var koyebStatusMap = map[string]models.DeploymentStatus{
	"STARTING":     models.StatusDeploying,
	"HEALTHY":      models.StatusRunning,
	"UNHEALTHY":    models.StatusError,
	"STOPPING":     models.StatusStopped,
	"STOPPED":      models.StatusStopped,
	"ERRORING":     models.StatusError,
	"ERROR":        models.StatusError,
	"DELETING":     models.StatusDeleted,
	"DELETED":      models.StatusDeleted,
	"PENDING":      models.StatusPending,
	"PROVISIONING": models.StatusDeploying,
	"SLEEPING":     models.StatusStopped,
}

// MapStatus translates a Koyeb service status into a deployment status.
// Unknown values map to pending.
func MapStatus(koyebStatus string) models.DeploymentStatus {
	if status, ok := koyebStatusMap[strings.ToUpper(strings.TrimSpace(koyebStatus))]; ok {
		return status
	}
	return models.StatusPending
}
