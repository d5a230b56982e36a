package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"textreviews/internal/models"
)

// CompanyStore reads companies. Companies are created by the dashboard, not here.
type CompanyStore struct {
	base
}

func NewCompanyStore(db *sqlx.DB, timeout time.Duration) *CompanyStore {
	return &CompanyStore{base: newBase(db, timeout)}
}

// Get loads a company by id.
func (s *CompanyStore) Get(ctx context.Context, id int64) (*models.Company, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var c models.Company
	if err := s.db.GetContext(ctx, &c, s.rebind(`SELECT id, name, created_at FROM companies WHERE id = ?`), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCompanyNotFound
		}
		return nil, storageErr("get company", err)
	}
	return &c, nil
}

// Create inserts a company. Used by seeding and tests.
func (s *CompanyStore) Create(ctx context.Context, name string) (*models.Company, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	c := models.Company{Name: name, CreatedAt: s.now()}
	query := s.rebind(`INSERT INTO companies (name, created_at) VALUES (?, ?) RETURNING id`)
	if err := s.db.QueryRowxContext(ctx, query, name, c.CreatedAt).Scan(&c.ID); err != nil {
		return nil, storageErr("create company", err)
	}
	return &c, nil
}
