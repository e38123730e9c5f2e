// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tmrdanny/taghere-crm-sub004/internal/apperr"
	"github.com/tmrdanny/taghere-crm-sub004/internal/campaign"
	"github.com/tmrdanny/taghere-crm-sub004/internal/model"
)

// CampaignHandler holds the dependencies for campaign-related HTTP handlers.
type CampaignHandler struct {
	Service *campaign.Service
	Log     *zap.Logger
}

func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TenantID       string     `json:"tenant_id"`
		Name           string     `json:"name"`
		Channel        string     `json:"channel"`
		TemplateCode   string     `json:"template_code"`
		Body           string     `json:"body"`
		CreditEligible bool       `json:"credit_eligible"`
		ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if body.TenantID == "" || body.Name == "" {
		http.Error(w, "tenant_id and name are required", http.StatusBadRequest)
		return
	}

	c := &model.Campaign{
		TenantID:       body.TenantID,
		Name:           body.Name,
		Channel:        model.Channel(body.Channel),
		TemplateCode:   body.TemplateCode,
		Body:           body.Body,
		CreditEligible: body.CreditEligible,
		ScheduledAt:    body.ScheduledAt,
	}
	if err := h.Service.CreateCampaign(r.Context(), c); err != nil {
		http.Error(w, "failed to create campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(c)
}

func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	tenantID := r.URL.Query().Get("tenant_id")
	channel := r.URL.Query().Get("channel")
	status := r.URL.Query().Get("status")

	campaigns, pagination, err := h.Service.ListCampaigns(r.Context(), tenantID, page, pageSize, channel, status)
	if err != nil {
		http.Error(w, "failed to fetch campaigns: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (h *CampaignHandler) GetCampaignWithStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	details, err := h.Service.GetDetailsWithStats(r.Context(), id)
	if err != nil {
		var notFound *apperr.ErrCampaignNotFound
		if errors.As(err, &notFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, "failed to fetch campaign: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(details)
}

func (h *CampaignHandler) SendCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Recipients []campaign.Recipient `json:"recipients"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if len(body.Recipients) == 0 {
		http.Error(w, "recipients are required", http.StatusBadRequest)
		return
	}

	result, err := h.Service.SendCampaign(r.Context(), id, body.Recipients)
	if err != nil {
		var notFound *apperr.ErrCampaignNotFound
		var badState *apperr.ErrInvalidSendState
		switch {
		case errors.As(err, &notFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.As(err, &badState):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			h.Log.Error("campaign send failed", zap.String("campaign_id", id), zap.Error(err))
			http.Error(w, "failed to send campaign: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(result)
}
