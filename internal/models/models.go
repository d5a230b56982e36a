package models

import (
	"time"
)

// Company is a business that sends review requests. Managed outside this service.
type Company struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReviewRequest records an outbound SMS asking a customer for a review.
// It starts pending and is resolved at most once by the customer's reply.
type ReviewRequest struct {
	ID                int64     `db:"id" json:"id"`
	CompanyID         int64     `db:"company_id" json:"company_id"`
	CustomerPhone     string    `db:"customer_phone" json:"customer_phone"`
	OutboundMessageID string    `db:"message_sid" json:"message_sid"`
	Responded         bool      `db:"responded" json:"responded"`
	ResponseMessageID *string   `db:"response_sid" json:"response_sid"`
	Rating            *int      `db:"rating" json:"rating"`
	Body              *string   `db:"body" json:"body"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

// Review is a customer's reply, stored once and never changed by the webhook.
type Review struct {
	ID        int64     `db:"id" json:"id"`
	CompanyID *int64    `db:"company_id" json:"company_id"`
	PhoneFrom string    `db:"phone_from" json:"phone_from"`
	Body      string    `db:"body" json:"body"`
	Rating    *int      `db:"rating" json:"rating"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReviewStats summarizes a company's reviews.
type ReviewStats struct {
	TotalReviews       int         `json:"totalReviews"`
	AverageRating      float64     `json:"averageRating"`
	RatingDistribution map[int]int `json:"ratingDistribution"`
}
