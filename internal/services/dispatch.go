package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"textreviews/internal/models"
	"textreviews/internal/phone"
)

// ErrDispatchFailed wraps carrier failures while sending a review request.
var ErrDispatchFailed = errors.New("review request dispatch failed")

// Sender sends an SMS and returns the carrier's message id.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) (string, error)
}

// CompanyFinder loads companies.
type CompanyFinder interface {
	Get(ctx context.Context, id int64) (*models.Company, error)
}

// RequestCreator inserts pending review requests.
type RequestCreator interface {
	Create(ctx context.Context, companyID int64, phone, outboundMessageID string) (*models.ReviewRequest, error)
}

// DispatchService texts customers a review request and remembers it so the reply can be matched.
type DispatchService struct {
	companies CompanyFinder
	sender    Sender
	requests  RequestCreator
	cache     *cache.Cache
}

// NewDispatchService creates a DispatchService. Company names are cached for companyTTL.
func NewDispatchService(companies CompanyFinder, sender Sender, requests RequestCreator, companyTTL time.Duration) (*DispatchService, error) {
	if companies == nil {
		return nil, fmt.Errorf("company store cannot be nil")
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if requests == nil {
		return nil, fmt.Errorf("request store cannot be nil")
	}
	return &DispatchService{
		companies: companies,
		sender:    sender,
		requests:  requests,
		cache:     cache.New(companyTTL, 2*companyTTL),
	}, nil
}

// ReviewRequestText is the SMS sent to a customer of companyName.
func ReviewRequestText(companyName string) string {
	return fmt.Sprintf("Thanks for visiting %s. Reply with 1-5 stars and feedback.", companyName)
}

// SendReviewRequest texts customerPhone on behalf of companyID and stores the pending request.
func (s *DispatchService) SendReviewRequest(ctx context.Context, companyID int64, customerPhone string) (*models.ReviewRequest, error) {
	to, err := phone.FormatE164(customerPhone)
	if err != nil {
		return nil, err
	}

	company, err := s.company(ctx, companyID)
	if err != nil {
		return nil, err
	}

	sid, err := s.sender.SendSMS(ctx, to, ReviewRequestText(company.Name))
	if err != nil {
		log.Error().Err(err).Int64("companyID", companyID).Str("to", to).Msg("Failed to send review request SMS")
		return nil, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	req, err := s.requests.Create(ctx, companyID, to, sid)
	if err != nil {
		log.Error().Err(err).Int64("companyID", companyID).Str("sid", sid).Msg("Review request sent but not stored")
		return nil, err
	}
	return req, nil
}

func (s *DispatchService) company(ctx context.Context, id int64) (*models.Company, error) {
	key := strconv.FormatInt(id, 10)
	if c, found := s.cache.Get(key); found {
		return c.(*models.Company), nil
	}
	c, err := s.companies.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Set(key, c, cache.DefaultExpiration)
	return c, nil
}
