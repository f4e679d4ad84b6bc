package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

// Display reads join the owning account's name; it is NULL once the account is gone.
const deploymentSelect = `
	SELECT d.id, d.user_id, d.service_id, d.service_name, d.koyeb_account_id,
		   d.discord_token, d.discord_client_id, d.discord_owner_id, d.discord_guild_id,
		   d.public_url, d.status, d.ping_enabled, d.last_ping_at, d.created_at,
		   a.name
	FROM deployments d
	LEFT JOIN koyeb_accounts a ON a.id = d.koyeb_account_id
`

type DeploymentRepository struct {
	db DB
}

func NewDeploymentRepository(db DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

func (r *DeploymentRepository) Create(ctx context.Context, d *models.Deployment) error {
	query := `
		INSERT INTO deployments (
			user_id, service_id, service_name, koyeb_account_id,
			discord_token, discord_client_id, discord_owner_id, discord_guild_id,
			public_url, status, ping_enabled
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11
		)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		d.UserID, d.ServiceID, d.ServiceName, d.AccountID,
		d.DiscordToken, d.DiscordClientID, d.DiscordOwnerID, d.DiscordGuildID,
		d.PublicURL, d.Status, d.PingEnabled,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepository) GetByID(ctx context.Context, id int64) (*models.Deployment, error) {
	return r.scanOne(r.db.QueryRow(ctx, deploymentSelect+` WHERE d.id = $1`, id))
}

func (r *DeploymentRepository) GetByServiceID(ctx context.Context, serviceID string) (*models.Deployment, error) {
	return r.scanOne(r.db.QueryRow(ctx, deploymentSelect+` WHERE d.service_id = $1`, serviceID))
}

func (r *DeploymentRepository) ListByUser(ctx context.Context, userID string) ([]*models.Deployment, error) {
	rows, err := r.db.Query(ctx, deploymentSelect+` WHERE d.user_id = $1 ORDER BY d.created_at DESC, d.id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query deployments by user: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// List returns every deployment, newest first.
func (r *DeploymentRepository) List(ctx context.Context) ([]*models.Deployment, error) {
	rows, err := r.db.Query(ctx, deploymentSelect+` ORDER BY d.created_at DESC, d.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListPingEligible returns deployments with keep-alive on and a known public URL.
func (r *DeploymentRepository) ListPingEligible(ctx context.Context) ([]*models.Deployment, error) {
	rows, err := r.db.Query(ctx, deploymentSelect+`
		WHERE d.ping_enabled = TRUE AND d.public_url IS NOT NULL AND d.public_url <> ''
		ORDER BY d.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ping eligible deployments: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *DeploymentRepository) UpdateStatus(ctx context.Context, id int64, status models.DeploymentStatus) error {
	return r.exec(ctx, "update deployment status",
		`UPDATE deployments SET status = $1 WHERE id = $2`, status, id)
}

func (r *DeploymentRepository) UpdatePublicURL(ctx context.Context, id int64, url string) error {
	return r.exec(ctx, "update deployment public_url",
		`UPDATE deployments SET public_url = $1 WHERE id = $2`, url, id)
}

func (r *DeploymentRepository) SetPingEnabled(ctx context.Context, id int64, enabled bool) error {
	return r.exec(ctx, "update deployment ping_enabled",
		`UPDATE deployments SET ping_enabled = $1 WHERE id = $2`, enabled, id)
}

func (r *DeploymentRepository) TouchLastPing(ctx context.Context, id int64) error {
	return r.exec(ctx, "update deployment last_ping_at",
		`UPDATE deployments SET last_ping_at = NOW() WHERE id = $1`, id)
}

func (r *DeploymentRepository) Delete(ctx context.Context, id int64) error {
	return r.exec(ctx, "delete deployment", `DELETE FROM deployments WHERE id = $1`, id)
}

func (r *DeploymentRepository) CountByAccount(ctx context.Context, accountID int64) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM deployments WHERE koyeb_account_id = $1`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count deployments by account: %w", err)
	}
	return n, nil
}

func (r *DeploymentRepository) Stats(ctx context.Context) (*models.DeploymentStats, error) {
	query := `
		SELECT COUNT(*),
			   COUNT(*) FILTER (WHERE status = 'running'),
			   COUNT(*) FILTER (WHERE status = 'error'),
			   COUNT(*) FILTER (WHERE ping_enabled)
		FROM deployments
	`
	stats := &models.DeploymentStats{}
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Total, &stats.Running, &stats.Error, &stats.Pinging); err != nil {
		return nil, fmt.Errorf("deployment stats: %w", err)
	}
	return stats, nil
}

func (r *DeploymentRepository) exec(ctx context.Context, what, query string, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanDeployment(row pgx.Row, d *models.Deployment) error {
	return row.Scan(
		&d.ID, &d.UserID, &d.ServiceID, &d.ServiceName, &d.AccountID,
		&d.DiscordToken, &d.DiscordClientID, &d.DiscordOwnerID, &d.DiscordGuildID,
		&d.PublicURL, &d.Status, &d.PingEnabled, &d.LastPingAt, &d.CreatedAt,
		&d.AccountName,
	)
}

func (r *DeploymentRepository) scanOne(row pgx.Row) (*models.Deployment, error) {
	d := &models.Deployment{}
	if err := scanDeployment(row, d); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan deployment: %w", err)
	}
	return d, nil
}

func (r *DeploymentRepository) scanMany(rows pgx.Rows) ([]*models.Deployment, error) {
	var results []*models.Deployment
	for rows.Next() {
		d := &models.Deployment{}
		if err := scanDeployment(rows, d); err != nil {
			return nil, fmt.Errorf("scan deployment row: %w", err)
		}
		results = append(results, d)
	}
	return results, rows.Err()
}
