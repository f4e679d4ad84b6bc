package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

type EventRepository struct {
	db DB
}

func NewEventRepository(db DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create creates a new deployment event
func (r *EventRepository) Create(ctx context.Context, ev *models.DeploymentEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}

	query := `
		INSERT INTO deployment_events (id, deployment_id, action, status, message)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.Exec(ctx, query, ev.ID, ev.DeploymentID, ev.Action, ev.Status, ev.Message)
	if err != nil {
		return fmt.Errorf("insert deployment event: %w", err)
	}

	return nil
}

// ListByDeployment retrieves events for a deployment, newest first
func (r *EventRepository) ListByDeployment(ctx context.Context, deploymentID int64, limit int) ([]*models.DeploymentEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, deployment_id, action, status, message, created_at
		FROM deployment_events
		WHERE deployment_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, deploymentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query deployment events: %w", err)
	}
	defer rows.Close()

	var events []*models.DeploymentEvent
	for rows.Next() {
		ev := &models.DeploymentEvent{}
		if err := rows.Scan(&ev.ID, &ev.DeploymentID, &ev.Action, &ev.Status, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan deployment event: %w", err)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

// Record is a helper to log an action
func (r *EventRepository) Record(ctx context.Context, deploymentID int64, action, status, message string) error {
	return r.Create(ctx, &models.DeploymentEvent{
		DeploymentID: deploymentID,
		Action:       action,
		Status:       status,
		Message:      message,
	})
}
