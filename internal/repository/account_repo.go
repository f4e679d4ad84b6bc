package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/wenwu/saas-platform/botfleet/internal/models"
)

const accountColumns = `id, name, api_key, app_id, instance_type, enabled, last_used_at, created_at`

type AccountRepository struct {
	db DB
}

func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	query := `
		INSERT INTO koyeb_accounts (name, api_key, app_id, instance_type, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query, a.Name, a.APIKey, a.AppID, a.InstanceType, a.Enabled).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert koyeb_account: %w", err)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM koyeb_accounts WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// List returns every account, newest first.
func (r *AccountRepository) List(ctx context.Context) ([]*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM koyeb_accounts ORDER BY created_at DESC, id DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query koyeb_accounts: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

// ListEnabled returns enabled accounts in rotation order: never used first,
// then least recently used, ties broken by id.
func (r *AccountRepository) ListEnabled(ctx context.Context) ([]*models.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM koyeb_accounts
		WHERE enabled = TRUE
		ORDER BY last_used_at ASC NULLS FIRST, id ASC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query enabled koyeb_accounts: %w", err)
	}
	defer rows.Close()
	return r.scanMany(rows)
}

func (r *AccountRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE koyeb_accounts SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("update koyeb_account enabled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) MarkUsed(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE koyeb_accounts SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark koyeb_account used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM koyeb_accounts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete koyeb_account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *AccountRepository) Stats(ctx context.Context) (*models.AccountStats, error) {
	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE enabled) FROM koyeb_accounts`
	stats := &models.AccountStats{}
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Total, &stats.Enabled); err != nil {
		return nil, fmt.Errorf("account stats: %w", err)
	}
	return stats, nil
}

func (r *AccountRepository) scanOne(row pgx.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(&a.ID, &a.Name, &a.APIKey, &a.AppID, &a.InstanceType, &a.Enabled, &a.LastUsedAt, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan koyeb_account: %w", err)
	}
	return a, nil
}

func (r *AccountRepository) scanMany(rows pgx.Rows) ([]*models.Account, error) {
	var results []*models.Account
	for rows.Next() {
		a := &models.Account{}
		err := rows.Scan(&a.ID, &a.Name, &a.APIKey, &a.AppID, &a.InstanceType, &a.Enabled, &a.LastUsedAt, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan koyeb_account row: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}
