// internal/gateway/errors.go
package gateway

import (
	"errors"
	"fmt"
)

// ProviderError is any failure returned by the messaging provider, either a
// transport error (Err set) or an API error (Code/HTTPStatus set).
type ProviderError struct {
	Op         string
	HTTPStatus int
	Code       string
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("provider %s: %d %s %s", e.Op, e.HTTPStatus, e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying: network errors
// and provider 5xx/429 responses. 4xx responses are permanent.
func (e *ProviderError) Transient() bool {
	if e.Err != nil {
		return true
	}
	return e.HTTPStatus >= 500 || e.HTTPStatus == 429
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	return false
}

// ConfigError marks an operator-side problem (missing credentials, missing
// template). Workers release their claims and skip the cycle rather than
// failing messages over it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "gateway config: " + e.Reason }

func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
