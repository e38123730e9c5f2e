// internal/wallet/ledger_test.go
package wallet_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
	"github.com/tmrdanny/taghere-crm-sub004/internal/wallet"
)

type fakeWalletRepo struct {
	balance int64
	entries []model.LedgerEntry
}

func (f *fakeWalletRepo) GetOrCreate(_ context.Context, tenantID string) (*model.Wallet, error) {
	return &model.Wallet{TenantID: tenantID, BalanceCents: f.balance}, nil
}

func (f *fakeWalletRepo) Debit(_ context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	if f.balance < amountCents {
		return 0, apperr.ErrInsufficientBalance
	}
	f.balance -= amountCents
	f.entries = append(f.entries, model.LedgerEntry{
		TenantID: tenantID, DeltaCents: -amountCents, Kind: kind, BalanceAfterCents: f.balance, Meta: meta,
	})
	return f.balance, nil
}

func (f *fakeWalletRepo) Credit(_ context.Context, tenantID string, amountCents int64, kind model.LedgerKind, meta model.LedgerMeta) (int64, error) {
	f.balance += amountCents
	f.entries = append(f.entries, model.LedgerEntry{
		TenantID: tenantID, DeltaCents: amountCents, Kind: kind, BalanceAfterCents: f.balance, Meta: meta,
	})
	return f.balance, nil
}

func (f *fakeWalletRepo) FindLedgerByPaymentKey(_ context.Context, paymentKey string) (*model.LedgerEntry, error) {
	for i := range f.entries {
		if f.entries[i].Meta.PaymentKey == paymentKey {
			return &f.entries[i], nil
		}
	}
	return nil, nil
}

func (f *fakeWalletRepo) LedgerSum(_ context.Context, _ string) (int64, error) {
	var sum int64
	for _, e := range f.entries {
		sum += e.DeltaCents
	}
	return sum, nil
}

type recordingAlerter struct {
	balances []int64
}

func (r *recordingAlerter) MaybeNotify(_ context.Context, _ string, balanceCents int64) {
	r.balances = append(r.balances, balanceCents)
}

func TestDebitChecksBalanceAfterCommit(t *testing.T) {
	repo := &fakeWalletRepo{balance: 500}
	alerter := &recordingAlerter{}
	l := wallet.NewLedger(repo, alerter, zap.NewNop())

	balance, err := l.Debit(context.Background(), "t1", 200, model.LedgerKindSendDebit, model.LedgerMeta{MessageID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, int64(300), balance)

	// The alerter always sees the post-debit balance; it decides the
	// threshold itself.
	if assert.Len(t, alerter.balances, 1) {
		assert.Equal(t, int64(300), alerter.balances[0])
	}
}

func TestDebitRefusedLeavesBalanceUntouched(t *testing.T) {
	repo := &fakeWalletRepo{balance: 100}
	alerter := &recordingAlerter{}
	l := wallet.NewLedger(repo, alerter, zap.NewNop())

	_, err := l.Debit(context.Background(), "t1", 200, model.LedgerKindSendDebit, model.LedgerMeta{})
	require.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Equal(t, int64(100), repo.balance)
	assert.Empty(t, alerter.balances, "a refused debit must not raise an alert")
}

func TestCreditAndLedgerStayConsistent(t *testing.T) {
	repo := &fakeWalletRepo{}
	l := wallet.NewLedger(repo, nil, zap.NewNop())

	ctx := context.Background()
	_, err := l.Credit(ctx, "t1", 1000, model.LedgerKindTopup, model.LedgerMeta{PaymentKey: "pk-1"})
	require.NoError(t, err)
	_, err = l.Debit(ctx, "t1", 400, model.LedgerKindSendDebit, model.LedgerMeta{MessageID: "m1"})
	require.NoError(t, err)

	balance, sum, err := l.Audit(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), balance)
	assert.Equal(t, balance, sum, "ledger replay must equal the balance")

	entry, err := l.FindEntryByPaymentKey(ctx, "pk-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(1000), entry.DeltaCents)
}
