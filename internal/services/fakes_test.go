package services

import (
	"context"
	"sync"

	"textreviews/internal/models"
)

type fakeFinder struct {
	findOpen func(ctx context.Context, phone string, companyID *int64) ([]models.ReviewRequest, error)
}

func (f *fakeFinder) FindOpen(ctx context.Context, phone string, companyID *int64) ([]models.ReviewRequest, error) {
	return f.findOpen(ctx, phone, companyID)
}

type fakeResolver struct {
	resolve           func(ctx context.Context, requestID int64, responseMessageID string, rating *int, body string) (*models.ReviewRequest, error)
	resolveWithReview func(ctx context.Context, requestID int64, responseMessageID string, review models.Review) (*models.ReviewRequest, *models.Review, error)
}

func (f *fakeResolver) Resolve(ctx context.Context, requestID int64, responseMessageID string, rating *int, body string) (*models.ReviewRequest, error) {
	return f.resolve(ctx, requestID, responseMessageID, rating, body)
}

func (f *fakeResolver) ResolveWithReview(ctx context.Context, requestID int64, responseMessageID string, review models.Review) (*models.ReviewRequest, *models.Review, error) {
	return f.resolveWithReview(ctx, requestID, responseMessageID, review)
}

type recordingSink struct {
	mu     sync.Mutex
	events []any
}

func (s *recordingSink) Enqueue(eventType string, payload any) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, payload)
	return eventType
}

type fakeSender struct {
	calls   int
	to      string
	body    string
	sendErr error
}

func (f *fakeSender) SendSMS(_ context.Context, to, body string) (string, error) {
	f.calls++
	f.to, f.body = to, body
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return "SM-outbound", nil
}

type countingCompanies struct {
	calls int
	get   func(ctx context.Context, id int64) (*models.Company, error)
}

func (c *countingCompanies) Get(ctx context.Context, id int64) (*models.Company, error) {
	c.calls++
	return c.get(ctx, id)
}
