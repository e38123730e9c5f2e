// internal/wallet/ledger.go
package wallet

import (
	"context"

	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/metrics"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// Alerter receives the post-debit balance and decides whether to raise a
// low-balance alert. Implemented by Notifier; nil disables alerts.
type Alerter interface {
	MaybeNotify(ctx context.Context, tenantID string, balanceCents int64)
}

// Ledger owns tenant prepaid balances. Every mutation goes through a single
// transaction that also appends a ledger entry; balance and audit log cannot
// drift apart.
type Ledger struct {
	Wallets repository.WalletRepositoryInterface
	Alerter Alerter
	Log     *zap.Logger
}

func NewLedger(wallets repository.WalletRepositoryInterface, alerter Alerter, log *zap.Logger) *Ledger {
	return &Ledger{Wallets: wallets, Alerter: alerter, Log: log}
}

// Debit charges the tenant. Fails atomically with ErrInsufficientBalance if
// the result would be negative. The low-balance check runs after the commit
// and is fire-and-forget.
func (l *Ledger) Debit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	balance, err := l.Wallets.Debit(ctx, tenantID, amountCents, kind, meta)
	if err != nil {
		return 0, err
	}
	metrics.WalletDebitsTotal.WithLabelValues(string(kind)).Inc()
	l.Log.Info("wallet debit",
		zap.String("tenant_id", tenantID),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("balance_cents", balance))

	if l.Alerter != nil {
		l.Alerter.MaybeNotify(ctx, tenantID, balance)
	}
	return balance, nil
}

// Credit tops up the tenant. No floor check.
func (l *Ledger) Credit(ctx context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	balance, err := l.Wallets.Credit(ctx, tenantID, amountCents, kind, meta)
	if err != nil {
		return 0, err
	}
	metrics.WalletCreditsTotal.WithLabelValues(string(kind)).Inc()
	l.Log.Info("wallet credit",
		zap.String("tenant_id", tenantID),
		zap.Int64("amount_cents", amountCents),
		zap.Int64("balance_cents", balance))
	return balance, nil
}

// Balance reads the current balance, lazily creating the wallet row for a
// tenant seen for the first time.
func (l *Ledger) Balance(ctx context.Context, tenantID string) (int64, error) {
	w, err := l.Wallets.GetOrCreate(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	return w.BalanceCents, nil
}

// Audit replays the ledger and reports it against the materialized balance.
// The two must be equal; a drift means a balance mutation escaped the
// ledgered transaction path and needs operator attention.
func (l *Ledger) Audit(ctx context.Context, tenantID string) (balance, ledgerSum int64, err error) {
	w, err := l.Wallets.GetOrCreate(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	sum, err := l.Wallets.LedgerSum(ctx, tenantID)
	if err != nil {
		return 0, 0, err
	}
	if w.BalanceCents != sum {
		l.Log.Error("wallet balance drifted from ledger",
			zap.String("tenant_id", tenantID),
			zap.Int64("balance_cents", w.BalanceCents),
			zap.Int64("ledger_sum_cents", sum))
	}
	return w.BalanceCents, sum, nil
}

// FindEntryByPaymentKey exposes the top-up idempotency probe to the payment
// reconciler.
func (l *Ledger) FindEntryByPaymentKey(ctx context.Context, paymentKey string) (*model.LedgerEntry, error) {
	return l.Wallets.FindLedgerByPaymentKey(ctx, paymentKey)
}
