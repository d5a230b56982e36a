package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"textreviews/internal/delivery"
)

// DeliveryHandler exposes the review event delivery queue.
type DeliveryHandler struct {
	manager *delivery.Manager
}

// NewDeliveryHandler creates a DeliveryHandler. A nil manager makes every endpoint
// answer 503.
func NewDeliveryHandler(manager *delivery.Manager) *DeliveryHandler {
	return &DeliveryHandler{manager: manager}
}

type pendingEvents struct {
	delivery.Summary
	ShownCount int              `json:"shown_count"`
	Events     []delivery.Event `json:"events"`
}

// List handles GET /api/deliveries.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	events := h.manager.PendingEvents(limit)
	respondJSON(w, http.StatusOK, pendingEvents{
		Summary:    h.manager.Summary(),
		ShownCount: len(events),
		Events:     events,
	})
}

// Event handles GET /api/deliveries/{eventId}.
func (h *DeliveryHandler) Event(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	event, ok := h.manager.GetEventStatus(mux.Vars(r)["eventId"])
	if !ok {
		respondError(w, http.StatusNotFound, "Event not found or already completed")
		return
	}
	respondJSON(w, http.StatusOK, event)
}

type retryResponse struct {
	Message string `json:"message"`
	Started int    `json:"started"`
}

// Retry handles POST /api/deliveries/retry and POST /api/deliveries/retry/{eventId}.
func (h *DeliveryHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	eventID := mux.Vars(r)["eventId"]
	if eventID == "" {
		n := h.manager.RetryPending()
		respondJSON(w, http.StatusOK, retryResponse{Message: "Retry triggered for pending events", Started: n})
		return
	}

	if !h.manager.Retry(eventID) {
		respondError(w, http.StatusNotFound, "Event not found")
		return
	}
	respondJSON(w, http.StatusOK, retryResponse{Message: "Retry triggered for event: " + eventID, Started: 1})
}

func (h *DeliveryHandler) available(w http.ResponseWriter) bool {
	if h.manager == nil {
		respondError(w, http.StatusServiceUnavailable, "Delivery manager not initialized")
		return false
	}
	return true
}
