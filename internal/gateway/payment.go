// internal/gateway/payment.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/config"
)

// Payment provider error codes that form the ambiguous settlement class: the
// provider may have completed the payment even though the confirm call
// errored.
const (
	PayErrAlreadyProcessed   = "ALREADY_PROCESSED_PAYMENT"
	PayErrProviderProcessing = "PROVIDER_PROCESSING"
)

const PaymentDone = "DONE"

type ConfirmResult struct {
	Status           string `json:"status"`
	TotalAmountCents int64  `json:"totalAmount"`
	Method           string `json:"method"`
}

type PaymentLookup struct {
	Status           string `json:"status"`
	TotalAmountCents int64  `json:"totalAmount"`
	Method           string `json:"method"`
}

// PaymentGateway is the thin client to the payment provider's confirm and
// status endpoints.
type PaymentGateway interface {
	Confirm(ctx context.Context, paymentKey, orderID string, amountCents int64) (*ConfirmResult, error)
	Status(ctx context.Context, paymentKey string) (*PaymentLookup, error)
}

// PaymentError is a non-2xx confirm/status response.
type PaymentError struct {
	HTTPStatus int
	Code       string
	Message    string
	Err        error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment provider: %v", e.Err)
	}
	return fmt.Sprintf("payment provider: %d %s %s", e.HTTPStatus, e.Code, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// Ambiguous reports whether the true payment outcome is unknown despite the
// error: the caller should fall back to a status query.
func (e *PaymentError) Ambiguous() bool {
	return e.Code == PayErrAlreadyProcessed || e.Code == PayErrProviderProcessing
}

func IsAmbiguous(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe) && pe.Ambiguous()
}

type paymentClient struct {
	http *resty.Client
	log  *zap.Logger
}

func NewPaymentGateway(cfg config.PaymentConfig, log *zap.Logger) (PaymentGateway, error) {
	if cfg.SecretKey == "" {
		return nil, &ConfigError{Reason: "payment secret key not configured"}
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15 * time.Second).
		SetBasicAuth(cfg.SecretKey, "")
	return &paymentClient{http: client, log: log}, nil
}

type paymentErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *paymentClient) Confirm(ctx context.Context, paymentKey, orderID string, amountCents int64) (*ConfirmResult, error) {
	var out ConfirmResult
	var perr paymentErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"paymentKey": paymentKey,
			"orderId":    orderID,
			"amount":     amountCents,
		}).
		SetResult(&out).
		SetError(&perr).
		Post("/v1/payments/confirm")
	if err != nil {
		return nil, &PaymentError{Err: err}
	}
	if resp.IsError() {
		return nil, &PaymentError{HTTPStatus: resp.StatusCode(), Code: perr.Code, Message: perr.Message}
	}
	return &out, nil
}

func (c *paymentClient) Status(ctx context.Context, paymentKey string) (*PaymentLookup, error) {
	var out PaymentLookup
	var perr paymentErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&perr).
		Get("/v1/payments/" + paymentKey)
	if err != nil {
		return nil, &PaymentError{Err: err}
	}
	if resp.IsError() {
		return nil, &PaymentError{HTTPStatus: resp.StatusCode(), Code: perr.Code, Message: perr.Message}
	}
	return &out, nil
}
