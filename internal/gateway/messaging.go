// internal/gateway/messaging.go
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/config"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

// DeliveryStatus is the provider-reported state of one recipient in a group.
type DeliveryStatus string

const (
	DeliverySent    DeliveryStatus = "SENT"
	DeliveryFailed  DeliveryStatus = "FAILED"
	DeliveryPending DeliveryStatus = "PENDING"
)

type SendRequest struct {
	Channel      model.Channel     `json:"channel"`
	Recipient    string            `json:"to"`
	TemplateCode string            `json:"template_code"`
	Variables    map[string]string `json:"variables,omitempty"`
}

type SendResult struct {
	ProviderMessageID string `json:"message_id"`
}

type GroupSendRequest struct {
	Channel      model.Channel `json:"channel"`
	TemplateCode string        `json:"template_code,omitempty"`
	Body         string        `json:"body,omitempty"`
	Recipients   []string      `json:"recipients"`
}

type GroupSendResult struct {
	GroupID string `json:"group_id"`
}

type StatusResult struct {
	Status     DeliveryStatus `json:"status"`
	FailReason string         `json:"fail_reason,omitempty"`
}

// MessageGateway is the thin client to the external messaging aggregator.
// Network calls only; no business logic.
type MessageGateway interface {
	// Send dispatches one transactional push message.
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
	// CreateGroup enqueues an SMS batch on the provider side and returns the
	// group id. Delivery is asynchronous; poll GroupStatus afterwards.
	CreateGroup(ctx context.Context, req GroupSendRequest) (*GroupSendResult, error)
	// GroupStatus reports the delivery state of one recipient in a group.
	GroupStatus(ctx context.Context, groupID, recipient string) (*StatusResult, error)
}

type messagingClient struct {
	http *resty.Client
	log  *zap.Logger
}

// NewMessageGateway builds the provider client from startup config. The
// instance is constructed once and injected; credential changes mean
// constructing a new one, not mutating this one.
func NewMessageGateway(cfg config.MessagingConfig, log *zap.Logger) (MessageGateway, error) {
	if cfg.APIKey == "" || cfg.SenderKey == "" {
		return nil, &ConfigError{Reason: "messaging api key / sender key not configured"}
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("X-Sender-Key", cfg.SenderKey)
	return &messagingClient{http: client, log: log}, nil
}

type providerErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *messagingClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	var out SendResult
	var perr providerErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&perr).
		Post("/v1/messages")
	if err != nil {
		return nil, &ProviderError{Op: "send", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Op: "send", HTTPStatus: resp.StatusCode(), Code: perr.Code, Message: perr.Message}
	}
	return &out, nil
}

func (c *messagingClient) CreateGroup(ctx context.Context, req GroupSendRequest) (*GroupSendResult, error) {
	var out GroupSendResult
	var perr providerErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&perr).
		Post("/v1/message-groups")
	if err != nil {
		return nil, &ProviderError{Op: "create_group", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Op: "create_group", HTTPStatus: resp.StatusCode(), Code: perr.Code, Message: perr.Message}
	}
	return &out, nil
}

func (c *messagingClient) GroupStatus(ctx context.Context, groupID, recipient string) (*StatusResult, error) {
	var out StatusResult
	var perr providerErrorBody

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("to", recipient).
		SetResult(&out).
		SetError(&perr).
		Get(fmt.Sprintf("/v1/message-groups/%s/status", groupID))
	if err != nil {
		return nil, &ProviderError{Op: "group_status", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Op: "group_status", HTTPStatus: resp.StatusCode(), Code: perr.Code, Message: perr.Message}
	}
	return &out, nil
}
