package services

import (
	"context"
	"fmt"

	"textreviews/internal/models"
)

// OpenRequestFinder lists pending review requests for a phone, newest first.
type OpenRequestFinder interface {
	FindOpen(ctx context.Context, phone string, companyID *int64) ([]models.ReviewRequest, error)
}

// RequestMatcher decides which outstanding review request an inbound reply answers.
type RequestMatcher struct {
	requests OpenRequestFinder
}

// NewRequestMatcher creates a RequestMatcher.
func NewRequestMatcher(requests OpenRequestFinder) (*RequestMatcher, error) {
	if requests == nil {
		return nil, fmt.Errorf("request store cannot be nil")
	}
	return &RequestMatcher{requests: requests}, nil
}

// FindOpenRequest returns the most recently created pending request sent to phone,
// or nil when there is none. A non-nil companyID narrows the search to one company.
func (m *RequestMatcher) FindOpenRequest(ctx context.Context, companyID *int64, phone string) (*models.ReviewRequest, error) {
	open, err := m.requests.FindOpen(ctx, phone, companyID)
	if err != nil {
		return nil, fmt.Errorf("match open review request: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}
	req := open[0]
	return &req, nil
}
