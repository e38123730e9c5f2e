package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

type PaymentRepositoryInterface interface {
	Create(ctx context.Context, rec *model.PaymentRecord) error
	GetByOrderID(ctx context.Context, orderID string) (*model.PaymentRecord, error)
	MarkPaid(ctx context.Context, orderID, paymentKey string) (bool, error)
}

type PaymentRepository struct {
	DB *sql.DB
}

func (r *PaymentRepository) Create(ctx context.Context, rec *model.PaymentRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = model.PaymentPending
	}
	return r.DB.QueryRowContext(ctx, `
		INSERT INTO payment_records (id, tenant_id, provider_order_id, amount_cents, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING created_at
	`, rec.ID, rec.TenantID, rec.ProviderOrderID, rec.AmountCents, rec.Status).Scan(&rec.CreatedAt)
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*model.PaymentRecord, error) {
	var rec model.PaymentRecord
	var paymentKey sql.NullString
	var paidAt sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, provider_order_id, amount_cents, status, provider_payment_key, created_at, paid_at
		FROM payment_records
		WHERE provider_order_id=$1
	`, orderID).Scan(&rec.ID, &rec.TenantID, &rec.ProviderOrderID, &rec.AmountCents,
		&rec.Status, &paymentKey, &rec.CreatedAt, &paidAt)
	if err == sql.ErrNoRows {
		return nil, apperr.NewPaymentNotFound(orderID)
	}
	if err != nil {
		return nil, err
	}
	rec.ProviderPaymentKey = paymentKey.String
	if paidAt.Valid {
		rec.PaidAt = &paidAt.Time
	}
	return &rec, nil
}

// MarkPaid is the conditional PENDING -> PAID transition. A second caller
// observes zero rows affected, which keeps the record PAID exactly once.
func (r *PaymentRepository) MarkPaid(ctx context.Context, orderID, paymentKey string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE payment_records
		SET status=$1, provider_payment_key=$2, paid_at=NOW()
		WHERE provider_order_id=$3 AND status=$4
	`, model.PaymentPaid, paymentKey, orderID, model.PaymentPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ PaymentRepositoryInterface = (*PaymentRepository)(nil)
