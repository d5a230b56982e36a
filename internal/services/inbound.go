package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"textreviews/internal/models"
	"textreviews/internal/rating"
	"textreviews/internal/store"
)

// EventReviewReceived is published after a reply has been recorded as a review.
const EventReviewReceived = "review.received"

// Outcome tells the webhook how an inbound reply was handled.
type Outcome int

const (
	// OutcomeEmpty means the reply had no text and no rating; nothing was written.
	OutcomeEmpty Outcome = iota
	// OutcomeNoOpenRequest means the sender has no pending review request; the reply is dropped.
	OutcomeNoOpenRequest
	// OutcomeRecorded means a review was written and the request resolved.
	OutcomeRecorded
	// OutcomeDuplicate means the request had already been resolved by a concurrent reply.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeNoOpenRequest:
		return "no_open_request"
	case OutcomeRecorded:
		return "recorded"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// InboundMessage is an SMS reply as delivered by the carrier.
type InboundMessage struct {
	From      string
	Body      string
	MessageID string
}

// RequestResolver owns the pending -> resolved transition.
type RequestResolver interface {
	Resolve(ctx context.Context, requestID int64, responseMessageID string, rating *int, body string) (*models.ReviewRequest, error)
	ResolveWithReview(ctx context.Context, requestID int64, responseMessageID string, review models.Review) (*models.ReviewRequest, *models.Review, error)
}

// ReviewWriter appends reviews.
type ReviewWriter interface {
	Insert(ctx context.Context, companyID *int64, phoneFrom, body string, rating *int) (*models.Review, error)
}

// EventSink accepts events for asynchronous delivery and returns the event id.
type EventSink interface {
	Enqueue(eventType string, payload any) string
}

// ReviewEvent is the payload of EventReviewReceived.
type ReviewEvent struct {
	Review          models.Review `json:"review"`
	ReviewRequestID int64         `json:"review_request_id"`
	MessageSID      string        `json:"message_sid"`
}

// InboundService turns carrier replies into reviews.
type InboundService struct {
	matcher  *RequestMatcher
	requests RequestResolver
	reviews  ReviewWriter
	events   EventSink
	atomic   bool
}

// InboundOption configures an InboundService.
type InboundOption func(*InboundService)

// WithAtomicResolve writes the review and resolves the request in one transaction,
// so a reply that loses a race leaves no review behind.
func WithAtomicResolve(atomic bool) InboundOption {
	return func(s *InboundService) { s.atomic = atomic }
}

// WithEventSink publishes EventReviewReceived for every recorded review.
func WithEventSink(events EventSink) InboundOption {
	return func(s *InboundService) { s.events = events }
}

// NewInboundService creates an InboundService.
func NewInboundService(matcher *RequestMatcher, requests RequestResolver, reviews ReviewWriter, opts ...InboundOption) (*InboundService, error) {
	if matcher == nil {
		return nil, fmt.Errorf("request matcher cannot be nil")
	}
	if requests == nil {
		return nil, fmt.Errorf("request store cannot be nil")
	}
	if reviews == nil {
		return nil, fmt.Errorf("review store cannot be nil")
	}
	s := &InboundService{matcher: matcher, requests: requests, reviews: reviews}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// HandleInbound records msg as a review of the sender's newest pending request.
// Any returned error wraps store.ErrStorageUnavailable.
func (s *InboundService) HandleInbound(ctx context.Context, msg InboundMessage) (Outcome, error) {
	extracted := rating.Extract(msg.Body)
	logger := log.With().Str("from", msg.From).Str("smsSid", msg.MessageID).Logger()

	if extracted.Body == "" && extracted.Rating == nil {
		logger.Info().Msg("Empty message, sending thanks")
		return OutcomeEmpty, nil
	}

	req, err := s.matcher.FindOpenRequest(ctx, nil, msg.From)
	if err != nil {
		logger.Error().Err(err).Msg("Error fetching review request")
		return 0, err
	}
	if req == nil {
		logger.Warn().Msg("No open review request found, dropping reply")
		return OutcomeNoOpenRequest, nil
	}
	logger = logger.With().Int64("reviewRequestID", req.ID).Int64("companyID", req.CompanyID).Logger()

	var (
		resolved *models.ReviewRequest
		review   *models.Review
	)
	companyID := req.CompanyID
	if s.atomic {
		resolved, review, err = s.requests.ResolveWithReview(ctx, req.ID, msg.MessageID, models.Review{
			CompanyID: &companyID,
			PhoneFrom: msg.From,
			Body:      extracted.Body,
			Rating:    extracted.Rating,
		})
	} else {
		review, err = s.reviews.Insert(ctx, &companyID, msg.From, extracted.Body, extracted.Rating)
		if err != nil {
			logger.Error().Err(err).Msg("Error inserting review")
			return 0, err
		}
		resolved, err = s.requests.Resolve(ctx, req.ID, msg.MessageID, extracted.Rating, extracted.Body)
	}

	switch {
	case errors.Is(err, store.ErrAlreadyResolved):
		logger.Warn().Msg("Review request was resolved by a concurrent reply")
		return OutcomeDuplicate, nil
	case err != nil:
		logger.Error().Err(err).Msg("Error resolving review request")
		return 0, err
	}

	ev := logger.Info()
	if extracted.Rating != nil {
		ev = ev.Int("rating", *extracted.Rating)
	}
	ev.Int64("reviewID", review.ID).Msg("Successfully processed review")

	if s.events != nil {
		eventID := s.events.Enqueue(EventReviewReceived, ReviewEvent{
			Review:          *review,
			ReviewRequestID: resolved.ID,
			MessageSID:      msg.MessageID,
		})
		logger.Debug().Str("eventID", eventID).Msg("Review event queued for delivery")
	}
	return OutcomeRecorded, nil
}
