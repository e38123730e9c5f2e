// internal/model/wallet.go
package model

import "time"

// Wallet holds a tenant's prepaid balance in minor currency units.
// Created lazily on first top-up or first debit attempt. Mutated only inside
// a transaction that also appends a LedgerEntry.
type Wallet struct {
	TenantID     string    `db:"tenant_id" json:"tenant_id"`
	BalanceCents int64     `db:"balance_cents" json:"balance_cents"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

type LedgerKind string

const (
	LedgerKindTopup     LedgerKind = "TOPUP"
	LedgerKindSendDebit LedgerKind = "SEND_DEBIT"
	LedgerKindAdjust    LedgerKind = "ADJUST"
)

// LedgerMeta carries provider correlation for an entry. PaymentKey is the
// idempotency handle for top-ups: a second confirm call with the same key
// finds the existing entry and does not credit again.
type LedgerMeta struct {
	PaymentKey string `json:"payment_key,omitempty"`
	OrderID    string `json:"order_id,omitempty"`
	Method     string `json:"method,omitempty"`
	MessageID  string `json:"message_id,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// LedgerEntry is the append-only audit record of one balance mutation.
// A wallet's balance always equals the sum of its entry deltas.
type LedgerEntry struct {
	ID                string     `db:"id" json:"id"`
	TenantID          string     `db:"tenant_id" json:"tenant_id"`
	DeltaCents        int64      `db:"delta_cents" json:"delta_cents"`
	Kind              LedgerKind `db:"kind" json:"kind"`
	Status            string     `db:"status" json:"status"`
	BalanceAfterCents int64      `db:"balance_after_cents" json:"balance_after_cents"`
	Meta              LedgerMeta `db:"meta" json:"meta"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
}

const LedgerStatusDone = "DONE"
