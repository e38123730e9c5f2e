// internal/handler/message_handler.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tmrdanny/taghere-crm-sub004/internal/repository"
)

// MessageHandler exposes single outbox rows for support lookups: terminal
// fail reasons and provider references live on the row.
type MessageHandler struct {
	Outbox repository.OutboxRepositoryInterface
}

func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := h.Outbox.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, "failed to fetch message: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if msg == nil {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(msg)
}
