package store

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"textreviews/internal/models"
)

const reviewColumns = `id, company_id, phone_from, body, rating, created_at`

// ReviewStore appends reviews and serves the read side of the dashboard.
type ReviewStore struct {
	base
}

// NewReviewStore creates a ReviewStore.
func NewReviewStore(db *sqlx.DB, timeout time.Duration) *ReviewStore {
	return &ReviewStore{base: newBase(db, timeout)}
}

// Insert appends a review. There is no uniqueness check: redelivered replies
// may produce duplicates.
func (s *ReviewStore) Insert(ctx context.Context, companyID *int64, phoneFrom, body string, rating *int) (*models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	review := models.Review{
		CompanyID: companyID,
		PhoneFrom: phoneFrom,
		Body:      body,
		Rating:    rating,
		CreatedAt: s.now(),
	}
	if err := insertReview(ctx, s.db, &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ListByCompany returns up to limit reviews of a company, newest first.
func (s *ReviewStore) ListByCompany(ctx context.Context, companyID int64, limit int) ([]models.Review, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	query := s.rebind(`SELECT ` + reviewColumns + ` FROM reviews WHERE company_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)

	out := []models.Review{}
	if err := s.db.SelectContext(ctx, &out, query, companyID, limit); err != nil {
		return nil, storageErr("list reviews", err)
	}
	return out, nil
}

// Stats counts a company's reviews and averages their ratings. Unrated reviews
// count towards the total but add nothing to the sum.
func (s *ReviewStore) Stats(ctx context.Context, companyID int64) (*models.ReviewStats, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var ratings []sql.NullInt64
	query := s.rebind(`SELECT rating FROM reviews WHERE company_id = ?`)
	if err := s.db.SelectContext(ctx, &ratings, query, companyID); err != nil {
		return nil, storageErr("review stats", err)
	}

	stats := &models.ReviewStats{
		TotalReviews:       len(ratings),
		RatingDistribution: map[int]int{1: 0, 2: 0, 3: 0, 4: 0, 5: 0},
	}
	if len(ratings) == 0 {
		return stats, nil
	}

	total := 0
	for _, r := range ratings {
		if !r.Valid {
			continue
		}
		v := int(r.Int64)
		total += v
		if v >= 1 && v <= 5 {
			stats.RatingDistribution[v]++
		}
	}
	stats.AverageRating = math.Round(float64(total)/float64(len(ratings))*10) / 10
	return stats, nil
}

func insertReview(ctx context.Context, ext sqlx.ExtContext, review *models.Review) error {
	query := ext.Rebind(`INSERT INTO reviews (company_id, phone_from, body, rating, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id`)
	row := ext.QueryRowxContext(ctx, query,
		nullableInt64(review.CompanyID), review.PhoneFrom, review.Body, nullableInt(review.Rating), review.CreatedAt)
	if err := row.Scan(&review.ID); err != nil {
		return storageErr("insert review", err)
	}
	return nil
}
