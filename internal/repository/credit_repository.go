package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

type CreditRepositoryInterface interface {
	GetOrCreate(ctx context.Context, tenantID, yearMonth string, defaultQuota int) (*model.CreditAllocation, error)
	Consume(ctx context.Context, tenantID, yearMonth string, units int, campaignRef string, channel model.Channel) (int, error)
	Release(ctx context.Context, tenantID, yearMonth string, units int, campaignRef string, channel model.Channel) (int, error)
	Adjust(ctx context.Context, tenantID, yearMonth string, totalDelta int) error
}

type CreditRepository struct {
	DB *sql.DB
}

// GetOrCreate returns the tenant's allocation for the month, creating one
// with the default quota on first access. Unused credits from earlier months
// never carry over; a fresh month simply gets a fresh row.
func (r *CreditRepository) GetOrCreate(ctx context.Context, tenantID, yearMonth string, defaultQuota int) (*model.CreditAllocation, error) {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO credit_allocations (id, tenant_id, year_month, total_credits, used_credits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
		ON CONFLICT (tenant_id, year_month) DO NOTHING
	`, uuid.New().String(), tenantID, yearMonth, defaultQuota)
	if err != nil {
		return nil, err
	}

	var a model.CreditAllocation
	err = r.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, year_month, total_credits, used_credits, created_at, updated_at
		FROM credit_allocations
		WHERE tenant_id=$1 AND year_month=$2
	`, tenantID, yearMonth).Scan(&a.ID, &a.TenantID, &a.YearMonth, &a.TotalCredits, &a.UsedCredits, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Consume increments used credits by at most the remaining quota and logs
// the usage, all in one transaction. The remaining amount is re-read under a
// row lock, so a race against another consumer shrinks the consumed amount
// instead of overdrawing the quota. Returns the units actually consumed.
func (r *CreditRepository) Consume(ctx context.Context, tenantID, yearMonth string, units int, campaignRef string, channel model.Channel) (int, error) {
	if units <= 0 {
		return 0, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var allocationID string
	var total, used int
	err = tx.QueryRowContext(ctx, `
		SELECT id, total_credits, used_credits
		FROM credit_allocations
		WHERE tenant_id=$1 AND year_month=$2
		FOR UPDATE
	`, tenantID, yearMonth).Scan(&allocationID, &total, &used)
	if err != nil {
		return 0, err
	}

	remaining := total - used
	if remaining <= 0 {
		return 0, tx.Commit()
	}
	consumed := units
	if consumed > remaining {
		consumed = remaining
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_allocations
		SET used_credits = used_credits + $1, updated_at = NOW()
		WHERE id=$2
	`, consumed, allocationID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_usages (id, allocation_id, campaign_ref, channel, units_used, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), allocationID, campaignRef, channel, consumed); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return consumed, nil
}

// Release undoes part of a consumption after the send it paid for failed to
// queue. Used credits floor at zero and the usage log records the return as
// negative units, keeping Consume's audit trail balanced.
func (r *CreditRepository) Release(ctx context.Context, tenantID, yearMonth string, units int, campaignRef string, channel model.Channel) (int, error) {
	if units <= 0 {
		return 0, nil
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var allocationID string
	var used int
	err = tx.QueryRowContext(ctx, `
		SELECT id, used_credits
		FROM credit_allocations
		WHERE tenant_id=$1 AND year_month=$2
		FOR UPDATE
	`, tenantID, yearMonth).Scan(&allocationID, &used)
	if err != nil {
		return 0, err
	}

	released := units
	if released > used {
		released = used
	}
	if released == 0 {
		return 0, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE credit_allocations
		SET used_credits = used_credits - $1, updated_at = NOW()
		WHERE id=$2
	`, released, allocationID); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_usages (id, allocation_id, campaign_ref, channel, units_used, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), allocationID, campaignRef, channel, -released); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return released, nil
}

// Adjust is the explicit admin quota change, the only path that can shrink
// an allocation.
func (r *CreditRepository) Adjust(ctx context.Context, tenantID, yearMonth string, totalDelta int) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE credit_allocations
		SET total_credits = total_credits + $1, updated_at = NOW()
		WHERE tenant_id=$2 AND year_month=$3
	`, totalDelta, tenantID, yearMonth)
	return err
}

var _ CreditRepositoryInterface = (*CreditRepository)(nil)
