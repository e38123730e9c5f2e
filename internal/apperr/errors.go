// internal/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
)

// ErrInsufficientBalance aborts a debit whose result would be negative.
// Not retryable: the tenant must top up first.
var ErrInsufficientBalance = errors.New("insufficient wallet balance")

// ErrCampaignNotFound is returned when a campaign id does not exist.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign %s not found", e.CampaignID)
}

func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrPaymentNotFound is returned when no top-up order matches the given
// provider order id.
type ErrPaymentNotFound struct {
	OrderID string
}

func (e *ErrPaymentNotFound) Error() string {
	return fmt.Sprintf("payment order %s not found", e.OrderID)
}

func NewPaymentNotFound(orderID string) error {
	return &ErrPaymentNotFound{OrderID: orderID}
}

// ErrAmountMismatch rejects a confirm call whose declared amount does not
// match the stored top-up order. Checked before any provider call.
type ErrAmountMismatch struct {
	OrderID        string
	ExpectedCents  int64
	DeclaredCents  int64
}

func (e *ErrAmountMismatch) Error() string {
	return fmt.Sprintf("payment order %s amount mismatch: expected %d, declared %d",
		e.OrderID, e.ExpectedCents, e.DeclaredCents)
}

// ErrInvalidSendState rejects sending a campaign from a terminal status.
type ErrInvalidSendState struct {
	CampaignID string
	Status     string
}

func (e *ErrInvalidSendState) Error() string {
	return fmt.Sprintf("campaign %s cannot be sent in status %s", e.CampaignID, e.Status)
}
