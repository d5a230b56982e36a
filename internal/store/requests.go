package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"textreviews/internal/models"
)

const requestColumns = `id, company_id, customer_phone, message_sid, responded, response_sid, rating, body, created_at`

// RequestStore persists review requests and owns their pending -> resolved transition.
type RequestStore struct {
	base
}

// NewRequestStore creates a RequestStore. Every call is bounded by timeout when it is positive.
func NewRequestStore(db *sqlx.DB, timeout time.Duration) *RequestStore {
	return &RequestStore{base: newBase(db, timeout)}
}

// SetClock replaces the clock used for created_at.
func (s *RequestStore) SetClock(now func() time.Time) {
	s.now = now
}

// Create inserts a pending review request.
func (s *RequestStore) Create(ctx context.Context, companyID int64, phone, outboundMessageID string) (*models.ReviewRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	req := models.ReviewRequest{
		CompanyID:         companyID,
		CustomerPhone:     phone,
		OutboundMessageID: outboundMessageID,
		CreatedAt:         s.now(),
	}

	query := s.rebind(`INSERT INTO review_requests (company_id, customer_phone, message_sid, responded, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, query, companyID, phone, outboundMessageID, false, req.CreatedAt).Scan(&req.ID); err != nil {
		return nil, storageErr("create review request", err)
	}

	log.Debug().Int64("reviewRequestID", req.ID).Int64("companyID", companyID).Str("phone", phone).Msg("Review request created")
	return &req, nil
}

// Get loads a review request by id.
func (s *RequestStore) Get(ctx context.Context, id int64) (*models.ReviewRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return getRequest(ctx, s.db, id)
}

// FindOpen lists unresolved requests sent to phone, newest first. Ties on created_at
// are broken by id so the most recently inserted row comes first.
// A non-nil companyID restricts the search to that company.
func (s *RequestStore) FindOpen(ctx context.Context, phone string, companyID *int64) ([]models.ReviewRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + requestColumns + ` FROM review_requests WHERE customer_phone = ? AND responded = ?`
	args := []any{phone, false}
	if companyID != nil {
		query += ` AND company_id = ?`
		args = append(args, *companyID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	var out []models.ReviewRequest
	if err := s.db.SelectContext(ctx, &out, s.rebind(query), args...); err != nil {
		return nil, storageErr("find open review requests", err)
	}
	return out, nil
}

// Resolve marks a pending request as answered by responseMessageID.
// The update only applies while responded is still false, so of two concurrent
// calls exactly one wins and the other gets ErrAlreadyResolved.
func (s *RequestStore) Resolve(ctx context.Context, requestID int64, responseMessageID string, rating *int, body string) (*models.ReviewRequest, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := resolveRequest(ctx, s.db, requestID, responseMessageID, rating, body); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			return nil, s.classifyMiss(ctx, requestID)
		}
		return nil, err
	}

	return getRequest(ctx, s.db, requestID)
}

// ResolveWithReview inserts review and resolves the request in one transaction.
// When the request was already resolved the review is rolled back.
func (s *RequestStore) ResolveWithReview(ctx context.Context, requestID int64, responseMessageID string, review models.Review) (*models.ReviewRequest, *models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, storageErr("begin resolve transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if review.CreatedAt.IsZero() {
		review.CreatedAt = s.now()
	}
	if err := insertReview(ctx, tx, &review); err != nil {
		return nil, nil, err
	}

	if err := resolveRequest(ctx, tx, requestID, responseMessageID, review.Rating, review.Body); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			_ = tx.Rollback()
			return nil, nil, s.classifyMiss(ctx, requestID)
		}
		return nil, nil, err
	}

	req, err := getRequest(ctx, tx, requestID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, storageErr("commit resolve transaction", err)
	}
	return req, &review, nil
}

// classifyMiss tells apart a missing request from one that was already resolved.
func (s *RequestStore) classifyMiss(ctx context.Context, requestID int64) error {
	if _, err := getRequest(ctx, s.db, requestID); err != nil {
		return err
	}
	return ErrAlreadyResolved
}

func resolveRequest(ctx context.Context, ext sqlx.ExtContext, requestID int64, responseMessageID string, rating *int, body string) error {
	query := ext.Rebind(`UPDATE review_requests
		SET responded = ?, response_sid = ?, rating = ?, body = ?
		WHERE id = ? AND responded = ?`)
	res, err := ext.ExecContext(ctx, query, true, responseMessageID, nullableInt(rating), body, requestID, false)
	if err != nil {
		return storageErr("resolve review request", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("resolve review request", err)
	}
	if n == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

func getRequest(ctx context.Context, q sqlx.ExtContext, id int64) (*models.ReviewRequest, error) {
	var req models.ReviewRequest
	query := q.Rebind(`SELECT ` + requestColumns + ` FROM review_requests WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &req, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, storageErr("get review request", err)
	}
	return &req, nil
}
