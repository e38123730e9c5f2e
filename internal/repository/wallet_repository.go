package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

type WalletRepositoryInterface interface {
	GetOrCreate(ctx context.Context, tenantID string) (*model.Wallet, error)
	Debit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error)
	Credit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error)
	FindLedgerByPaymentKey(ctx context.Context, paymentKey string) (*model.LedgerEntry, error)
	LedgerSum(ctx context.Context, tenantID string) (int64, error)
}

type WalletRepository struct {
	DB *sql.DB
}

// GetOrCreate reads the wallet, creating a zero-balance row on first access.
// A tenant without a wallet is not an error.
func (r *WalletRepository) GetOrCreate(ctx context.Context, tenantID string) (*model.Wallet, error) {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO wallets (tenant_id, balance_cents, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID)
	if err != nil {
		return nil, err
	}

	var w model.Wallet
	err = r.DB.QueryRowContext(ctx, `
		SELECT tenant_id, balance_cents, created_at, updated_at
		FROM wallets WHERE tenant_id=$1
	`, tenantID).Scan(&w.TenantID, &w.BalanceCents, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Debit decrements the balance and appends a ledger entry in one transaction.
// The conditional update is the negative-balance guard: zero rows affected
// aborts with ErrInsufficientBalance and nothing is written.
func (r *WalletRepository) Debit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := debitWalletTx(ctx, tx, tenantID, amountCents, kind, meta)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// Credit is the symmetric operation without a floor check.
func (r *WalletRepository) Credit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	balance, err := creditWalletTx(ctx, tx, tenantID, amountCents, kind, meta)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

// FindLedgerByPaymentKey is the idempotency probe for top-up confirmation:
// an existing entry means this payment key was already settled.
func (r *WalletRepository) FindLedgerByPaymentKey(ctx context.Context, paymentKey string) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	var meta []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT id, tenant_id, delta_cents, kind, status, balance_after_cents, meta, created_at
		FROM ledger_entries
		WHERE meta->>'payment_key' = $1
	`, paymentKey).Scan(&e.ID, &e.TenantID, &e.DeltaCents, &e.Kind, &e.Status, &e.BalanceAfterCents, &meta, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &e.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal ledger meta: %w", err)
	}
	return &e, nil
}

// LedgerSum replays the audit log. It must always equal the wallet's balance
// column; support uses the difference to spot drift.
func (r *WalletRepository) LedgerSum(ctx context.Context, tenantID string) (int64, error) {
	var sum int64
	err := r.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(delta_cents), 0) FROM ledger_entries WHERE tenant_id=$1
	`, tenantID).Scan(&sum)
	return sum, err
}

// debitWalletTx runs inside the caller's transaction so message settlement
// and top-up flows share one debit/credit implementation.
func debitWalletTx(ctx context.Context, tx *sql.Tx, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	// Lazy wallet init: a first-ever debit attempt still gets a row (and then
	// fails the floor check against a zero balance).
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (tenant_id, balance_cents, created_at, updated_at)
		VALUES ($1, 0, NOW(), NOW())
		ON CONFLICT (tenant_id) DO NOTHING
	`, tenantID); err != nil {
		return 0, err
	}

	var balance int64
	err := tx.QueryRowContext(ctx, `
		UPDATE wallets
		SET balance_cents = balance_cents - $1, updated_at = NOW()
		WHERE tenant_id = $2 AND balance_cents >= $1
		RETURNING balance_cents
	`, amountCents, tenantID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, apperr.ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}

	if err := insertLedgerTx(ctx, tx, tenantID, -amountCents, kind, balance, meta); err != nil {
		return 0, err
	}
	return balance, nil
}

func creditWalletTx(ctx context.Context, tx *sql.Tx, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO wallets (tenant_id, balance_cents, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (tenant_id)
		DO UPDATE SET balance_cents = wallets.balance_cents + $2, updated_at = NOW()
		RETURNING balance_cents
	`, tenantID, amountCents).Scan(&balance)
	if err != nil {
		return 0, err
	}

	if err := insertLedgerTx(ctx, tx, tenantID, amountCents, kind, balance, meta); err != nil {
		return 0, err
	}
	return balance, nil
}

func insertLedgerTx(ctx context.Context, tx *sql.Tx, tenantID string, deltaCents int64, kind model.LedgerKind, balanceAfter int64, meta model.LedgerMeta) error {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal ledger meta: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, tenant_id, delta_cents, kind, status, balance_after_cents, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, uuid.New().String(), tenantID, deltaCents, kind, model.LedgerStatusDone, balanceAfter, metaJSON)
	return err
}

var _ WalletRepositoryInterface = (*WalletRepository)(nil)
