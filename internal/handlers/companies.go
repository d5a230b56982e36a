package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/hlog"

	"textreviews/internal/models"
	"textreviews/internal/phone"
	"textreviews/internal/store"
)

// ReviewRequester texts a customer a review request.
type ReviewRequester interface {
	SendReviewRequest(ctx context.Context, companyID int64, customerPhone string) (*models.ReviewRequest, error)
}

// ReviewReader serves the dashboard's read side.
type ReviewReader interface {
	ListByCompany(ctx context.Context, companyID int64, limit int) ([]models.Review, error)
	Stats(ctx context.Context, companyID int64) (*models.ReviewStats, error)
}

// CompanyHandler serves /api/companies/{id}/...
type CompanyHandler struct {
	dispatch ReviewRequester
	reviews  ReviewReader
}

// NewCompanyHandler creates a CompanyHandler.
func NewCompanyHandler(dispatch ReviewRequester, reviews ReviewReader) (*CompanyHandler, error) {
	if dispatch == nil {
		return nil, fmt.Errorf("dispatch service cannot be nil")
	}
	if reviews == nil {
		return nil, fmt.Errorf("review store cannot be nil")
	}
	return &CompanyHandler{dispatch: dispatch, reviews: reviews}, nil
}

type sendReviewRequest struct {
	CustomerPhone string `json:"customerPhone"`
}

type sendReviewResponse struct {
	SID string `json:"sid"`
}

// SendReview handles POST /api/companies/{id}/send-review.
func (h *CompanyHandler) SendReview(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromPath(w, r)
	if !ok {
		return
	}

	var body sendReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	req, err := h.dispatch.SendReviewRequest(r.Context(), companyID, body.CustomerPhone)
	switch {
	case errors.Is(err, phone.ErrEmpty):
		respondError(w, http.StatusBadRequest, "customerPhone is required")
		return
	case errors.Is(err, store.ErrCompanyNotFound):
		respondError(w, http.StatusNotFound, "Company not found")
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Int64("companyID", companyID).Msg("Error sending review request")
		respondError(w, http.StatusInternalServerError, "Failed to send review request: "+err.Error())
		return
	}

	respondJSON(w, http.StatusOK, sendReviewResponse{SID: req.OutboundMessageID})
}

// Reviews handles GET /api/companies/{id}/reviews.
func (h *CompanyHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromPath(w, r)
	if !ok {
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}

	reviews, err := h.reviews.ListByCompany(r.Context(), companyID, limit)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("companyID", companyID).Msg("Error fetching company reviews")
		respondError(w, http.StatusInternalServerError, "Failed to fetch company reviews")
		return
	}
	respondJSON(w, http.StatusOK, reviews)
}

// Stats handles GET /api/companies/{id}/stats.
func (h *CompanyHandler) Stats(w http.ResponseWriter, r *http.Request) {
	companyID, ok := companyIDFromPath(w, r)
	if !ok {
		return
	}

	stats, err := h.reviews.Stats(r.Context(), companyID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Int64("companyID", companyID).Msg("Error fetching company stats")
		respondError(w, http.StatusInternalServerError, "Failed to fetch company stats")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func companyIDFromPath(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid company id")
		return 0, false
	}
	return id, true
}
