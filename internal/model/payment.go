// internal/model/payment.go
package model

import "time"

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

// PaymentRecord is a wallet top-up order. Created before the provider
// confirmation is requested; moved to PAID exactly once.
type PaymentRecord struct {
	ID                 string        `db:"id" json:"id"`
	TenantID           string        `db:"tenant_id" json:"tenant_id"`
	ProviderOrderID    string        `db:"provider_order_id" json:"provider_order_id"`
	AmountCents        int64         `db:"amount_cents" json:"amount_cents"`
	Status             PaymentStatus `db:"status" json:"status"`
	ProviderPaymentKey string        `db:"provider_payment_key" json:"provider_payment_key,omitempty"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	PaidAt             *time.Time    `db:"paid_at" json:"paid_at,omitempty"`
}
