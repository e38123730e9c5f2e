package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(ctx context.Context, c *model.Campaign) error
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
	List(ctx context.Context, tenantID string, offset, limit int, channel, status string) ([]*model.Campaign, int, error)
	UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error
	MarkCompleted(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, id string) (*model.CampaignStats, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

const campaignColumns = `id, tenant_id, name, channel, status, template_code, body,
	credit_eligible, sent_count, failed_count, spent_cents, scheduled_at, created_at, updated_at`

func (r *CampaignRepository) Create(ctx context.Context, c *model.Campaign) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	c.CreatedAt = time.Now()
	query := `
		INSERT INTO campaigns (id, tenant_id, name, channel, status, template_code, body,
			credit_eligible, sent_count, failed_count, spent_cents, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, 0, 0, $9, $10)
	`
	_, err := r.DB.ExecContext(ctx, query,
		c.ID, c.TenantID, c.Name, c.Channel, c.Status, c.TemplateCode, c.Body,
		c.CreditEligible, c.ScheduledAt, c.CreatedAt)
	return err
}

func (r *CampaignRepository) GetByID(ctx context.Context, id string) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, apperr.NewCampaignNotFound(id)
	}
	return c, err
}

func (r *CampaignRepository) List(ctx context.Context, tenantID string, offset, limit int, channel, status string) ([]*model.Campaign, int, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE tenant_id=$1`
	countQuery := `SELECT COUNT(*) FROM campaigns WHERE tenant_id=$1`
	args := []any{tenantID}
	argPos := 2

	if channel != "" {
		clause := fmt.Sprintf(" AND channel=$%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, channel)
		argPos++
	}
	if status != "" {
		clause := fmt.Sprintf(" AND status=$%d", argPos)
		query += clause
		countQuery += clause
		args = append(args, status)
		argPos++
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, total, rows.Err()
}

func (r *CampaignRepository) UpdateStatus(ctx context.Context, id string, status model.CampaignStatus) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2
	`, status, id)
	return err
}

// MarkCompleted flips sending -> completed; conditional so two workers
// finishing the same campaign's last messages race harmlessly.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE campaigns SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.CampaignCompleted, id, model.CampaignSending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) Stats(ctx context.Context, id string) (*model.CampaignStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM outbox_messages WHERE campaign_id=$1 GROUP BY status
	`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats model.CampaignStats
	for rows.Next() {
		var status model.MessageStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		switch status {
		case model.StatusPending:
			stats.Pending = count
		case model.StatusProcessing:
			stats.Processing = count
		case model.StatusRetry:
			stats.Retry = count
		case model.StatusSent:
			stats.Sent = count
		case model.StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	return &stats, rows.Err()
}

// incrementCampaignCountersTx runs inside a settle or fail transaction so
// counters commit atomically with the message's terminal state.
func incrementCampaignCountersTx(ctx context.Context, tx *sql.Tx, campaignID string, sentDelta, failedDelta int, costDelta int64) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE campaigns
		SET sent_count = sent_count + $1,
		    failed_count = failed_count + $2,
		    spent_cents = spent_cents + $3,
		    updated_at = NOW()
		WHERE id=$4
	`, sentDelta, failedDelta, costDelta, campaignID)
	return err
}

func scanCampaign(s rowScanner) (*model.Campaign, error) {
	var c model.Campaign
	var scheduledAt, updatedAt sql.NullTime
	err := s.Scan(&c.ID, &c.TenantID, &c.Name, &c.Channel, &c.Status,
		&c.TemplateCode, &c.Body, &c.CreditEligible, &c.SentCount,
		&c.FailedCount, &c.SpentCents, &scheduledAt, &c.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if scheduledAt.Valid {
		c.ScheduledAt = &scheduledAt.Time
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.Time
	}
	return &c, nil
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
