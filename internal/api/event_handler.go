package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/recapd/recapd/internal/api/shared"
	"github.com/recapd/recapd/internal/domain"
	"github.com/recapd/recapd/internal/ingest"
)

// NotificationItem is one event in a webhook notification batch.
type NotificationItem struct {
	ID                string     `json:"id"                            validate:"required"`
	MeetingExternalID string     `json:"meeting_external_id"           validate:"required"`
	Subject           string     `json:"subject"`
	OrganizerEmail    string     `json:"organizer_email"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
}

// NotificationRequest represents the webhook notification body: a batch
// of events under a "value" key, matching the provider's delivery shape.
type NotificationRequest struct {
	Value []NotificationItem `json:"value" validate:"required,min=1,dive"`
}

// NotificationResult is the per-event outcome in the batch response.
type NotificationResult struct {
	ID       string `json:"id"`
	Decision string `json:"decision,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NotificationResponse is the response body for a notification batch.
type NotificationResponse struct {
	Results []NotificationResult `json:"results"`
}

// EventHandler handles webhook notification and event admin requests.
type EventHandler struct {
	ingestor  *ingest.Ingestor
	validator *validator.Validate
	logger    *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(ingestor *ingest.Ingestor, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		ingestor:  ingestor,
		validator: validator.New(),
		logger:    logger,
	}
}

// HandleNotification handles POST /api/events/notifications requests.
// Subscription validation handshakes carry a validationToken query
// parameter and expect it echoed back in plain text.
func (h *EventHandler) HandleNotification(w http.ResponseWriter, r *http.Request) {
	if token := r.URL.Query().Get("validationToken"); token != "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(token)); err != nil {
			h.logger.Error("failed to echo validation token", "error", err)
		}
		return
	}

	var req NotificationRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: "+err.Error())
		return
	}

	results := make([]NotificationResult, 0, len(req.Value))
	for _, item := range req.Value {
		payload := ingest.EventPayload{
			MeetingExternalID: item.MeetingExternalID,
			Subject:           item.Subject,
			OrganizerEmail:    item.OrganizerEmail,
			StartTime:         item.StartTime,
			EndTime:           item.EndTime,
		}

		decision, err := h.ingestor.IngestEvent(r.Context(), item.ID, payload, domain.EventSourceWebhook)
		if err != nil {
			h.logger.Error("failed to ingest webhook event",
				"external_id", item.ID,
				"error", err)
			results = append(results, NotificationResult{
				ID:    item.ID,
				Error: GetSafeErrorMessage(err),
			})
			continue
		}

		results = append(results, NotificationResult{
			ID:       item.ID,
			Decision: string(decision),
		})
	}

	// 202: ingestion only enqueues work; processing happens asynchronously.
	shared.RespondWithJSON(w, r, http.StatusAccepted, NotificationResponse{Results: results})
}

// ForgetEvent handles DELETE /api/events/{externalID} requests, the
// operator override that removes an event's dedup record so its next
// delivery is reprocessed.
func (h *EventHandler) ForgetEvent(w http.ResponseWriter, r *http.Request) {
	externalID := chi.URLParam(r, "externalID")
	if externalID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Missing event ID")
		return
	}

	if err := h.ingestor.Forget(r.Context(), externalID); err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
