package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

// SettleParams describes the single all-or-nothing transaction that closes a
// dispatched message: terminal SENT status, wallet debit, ledger entry and
// campaign counters commit together or not at all.
type SettleParams struct {
	MessageID   string
	TenantID    string
	CampaignID  *string
	ProviderRef string
	CostCents   int64
	Meta        model.LedgerMeta
}

type OutboxRepositoryInterface interface {
	Enqueue(ctx context.Context, msg *model.OutboxMessage) (*model.OutboxMessage, error)
	GetByID(ctx context.Context, id string) (*model.OutboxMessage, error)
	ClaimBatch(ctx context.Context, channel model.Channel, limit int, minAge time.Duration) ([]*model.OutboxMessage, error)
	SettleSent(ctx context.Context, p SettleParams) (int64, error)
	MarkRetry(ctx context.Context, id, reason string) error
	MarkFailed(ctx context.Context, id, reason string) error
	Release(ctx context.Context, id string) error
	HasPendingKind(ctx context.Context, tenantID string, kind model.MessageKind) (bool, error)
	PendingCountByCampaign(ctx context.Context, campaignID string) (int, error)
}

type OutboxRepository struct {
	DB *sql.DB
}

const outboxColumns = `id, tenant_id, campaign_id, channel, kind, recipient, template_code,
	variables, cost_cents, status, retry_count, scheduled_at,
	provider_group_id, provider_ref, fail_reason, idempotency_key, created_at, updated_at`

// Enqueue inserts a message, deduplicating on the caller-supplied idempotency
// key. A retried UI request lands on the existing row instead of creating a
// duplicate.
func (r *OutboxRepository) Enqueue(ctx context.Context, msg *model.OutboxMessage) (*model.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Status == "" {
		msg.Status = model.StatusPending
	}
	if msg.ScheduledAt.IsZero() {
		msg.ScheduledAt = time.Now()
	}

	vars, err := json.Marshal(msg.Variables)
	if err != nil {
		return nil, fmt.Errorf("marshal variables: %w", err)
	}

	query := `
		INSERT INTO outbox_messages
			(id, tenant_id, campaign_id, channel, kind, recipient, template_code,
			 variables, cost_cents, status, retry_count, scheduled_at,
			 provider_group_id, idempotency_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
	`
	_, err = r.DB.ExecContext(ctx, query,
		msg.ID, msg.TenantID, msg.CampaignID, msg.Channel, msg.Kind,
		msg.Recipient, msg.TemplateCode, vars, msg.CostCents, msg.Status,
		msg.ScheduledAt, msg.ProviderGroupID, msg.IdempotencyKey,
	)
	if err != nil {
		return nil, err
	}

	// Re-read through the key: on conflict this returns the row some earlier
	// request created.
	return r.getByIdempotencyKey(ctx, msg.IdempotencyKey)
}

func (r *OutboxRepository) getByIdempotencyKey(ctx context.Context, key string) (*model.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE idempotency_key=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, key))
}

func (r *OutboxRepository) GetByID(ctx context.Context, id string) (*model.OutboxMessage, error) {
	query := `SELECT ` + outboxColumns + ` FROM outbox_messages WHERE id=$1`
	return r.scanOne(r.DB.QueryRowContext(ctx, query, id))
}

// ClaimBatch atomically claims up to limit due messages for one channel.
// minAge keeps freshly enqueued SMS group messages out of the batch until the
// provider has had time to produce a meaningful status.
func (r *OutboxRepository) ClaimBatch(ctx context.Context, channel model.Channel, limit int, minAge time.Duration) ([]*model.OutboxMessage, error) {
	query := `
		UPDATE outbox_messages
		SET status=$1, updated_at=NOW()
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE channel=$2
			  AND status IN ($3, $4)
			  AND scheduled_at <= NOW()
			  AND created_at <= NOW() - ($5::bigint * INTERVAL '1 second')
			ORDER BY scheduled_at
			LIMIT $6
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := r.DB.QueryContext(ctx, query,
		model.StatusProcessing, channel, model.StatusPending, model.StatusRetry,
		int64(minAge.Seconds()), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var claimed []*model.OutboxMessage
	for rows.Next() {
		msg, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, msg)
	}
	return claimed, rows.Err()
}

// SettleSent commits the terminal success state. For billable messages the
// returned balance is the wallet balance after the debit; callers use it to
// trigger the low-balance alert. Cost-exempt messages touch neither wallet
// nor ledger.
func (r *OutboxRepository) SettleSent(ctx context.Context, p SettleParams) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status=$1, provider_ref=$2, fail_reason='', updated_at=NOW()
		WHERE id=$3
	`, model.StatusSent, p.ProviderRef, p.MessageID)
	if err != nil {
		return 0, err
	}

	var balance int64
	if p.CostCents > 0 {
		meta := p.Meta
		meta.MessageID = p.MessageID
		balance, err = debitWalletTx(ctx, tx, p.TenantID, p.CostCents, model.LedgerKindSendDebit, meta)
		if err != nil {
			return 0, err
		}
	}

	if p.CampaignID != nil {
		if err := incrementCampaignCountersTx(ctx, tx, *p.CampaignID, 1, 0, p.CostCents); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// MarkRetry puts a message back in the pool after a transient provider
// failure. The next poll cycle picks it up again.
func (r *OutboxRepository) MarkRetry(ctx context.Context, id, reason string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status=$1, retry_count=retry_count+1, fail_reason=$2, updated_at=NOW()
		WHERE id=$3
	`, model.StatusRetry, reason, id)
	return err
}

// MarkFailed is terminal. The fail reason stays on the row for operators.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id, reason string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var campaignID sql.NullString
	err = tx.QueryRowContext(ctx, `
		UPDATE outbox_messages
		SET status=$1, fail_reason=$2, updated_at=NOW()
		WHERE id=$3
		RETURNING campaign_id
	`, model.StatusFailed, reason, id).Scan(&campaignID)
	if err != nil {
		return err
	}

	if campaignID.Valid {
		if err := incrementCampaignCountersTx(ctx, tx, campaignID.String, 0, 1, 0); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Release returns a claimed message to PENDING without consuming a retry.
// Used when the problem is operator-side (config) or the provider has not
// produced a final status yet.
func (r *OutboxRepository) Release(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status=$3
	`, model.StatusPending, id, model.StatusProcessing)
	return err
}

// HasPendingKind reports whether the tenant already has an undelivered
// message of the given kind. The low-balance notifier uses it to avoid
// stacking alerts inside one low period.
func (r *OutboxRepository) HasPendingKind(ctx context.Context, tenantID string, kind model.MessageKind) (bool, error) {
	var exists bool
	err := r.DB.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM outbox_messages
			WHERE tenant_id=$1 AND kind=$2 AND status IN ($3, $4, $5)
		)
	`, tenantID, kind, model.StatusPending, model.StatusProcessing, model.StatusRetry).Scan(&exists)
	return exists, err
}

func (r *OutboxRepository) PendingCountByCampaign(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM outbox_messages
		WHERE campaign_id=$1 AND status IN ($2, $3, $4)
	`, campaignID, model.StatusPending, model.StatusProcessing, model.StatusRetry).Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *OutboxRepository) scanOne(row *sql.Row) (*model.OutboxMessage, error) {
	msg, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (r *OutboxRepository) scanRow(s rowScanner) (*model.OutboxMessage, error) {
	var msg model.OutboxMessage
	var campaignID, providerGroupID, providerRef, failReason sql.NullString
	var vars []byte

	err := s.Scan(
		&msg.ID, &msg.TenantID, &campaignID, &msg.Channel, &msg.Kind,
		&msg.Recipient, &msg.TemplateCode, &vars, &msg.CostCents, &msg.Status,
		&msg.RetryCount, &msg.ScheduledAt, &providerGroupID, &providerRef,
		&failReason, &msg.IdempotencyKey, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if campaignID.Valid {
		msg.CampaignID = &campaignID.String
	}
	msg.ProviderGroupID = providerGroupID.String
	msg.ProviderRef = providerRef.String
	msg.FailReason = failReason.String
	if len(vars) > 0 {
		if err := json.Unmarshal(vars, &msg.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	return &msg, nil
}

var _ OutboxRepositoryInterface = (*OutboxRepository)(nil)
