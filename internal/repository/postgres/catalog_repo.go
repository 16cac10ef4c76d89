package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

// CatalogRepo reads books and users, the reference data owned outside this service.
type CatalogRepo struct{ db *DB }

var (
	_ repository.Catalog = (*CatalogRepo)(nil)
	_ repository.Users   = (*CatalogRepo)(nil)
)

// NewCatalogRepo constructs a catalog reader.
func NewCatalogRepo(db *DB) *CatalogRepo { return &CatalogRepo{db: db} }

// GetBook loads a book by ID.
func (r *CatalogRepo) GetBook(ctx context.Context, id uuid.UUID) (model.Book, error) {
	const q = `SELECT id, title, author, stock_for_loan, stock_for_sale FROM books WHERE id = $1`
	var b model.Book
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&b.ID, &b.Title, &b.Author, &b.StockForLoan, &b.StockForSale); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Book{}, errs.ErrNotFound
		}
		return model.Book{}, err
	}
	return b, nil
}

// GetUser loads a user by ID.
func (r *CatalogRepo) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	const q = `SELECT id, name, email, is_admin FROM users WHERE id = $1`
	var u model.User
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Name, &u.Email, &u.IsAdmin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.User{}, errs.ErrNotFound
		}
		return model.User{}, err
	}
	return u, nil
}

// ListBooks returns every catalog book, used to seed the stock ledger.
func (r *CatalogRepo) ListBooks(ctx context.Context) ([]model.Book, error) {
	const q = `SELECT id, title, author, stock_for_loan, stock_for_sale FROM books ORDER BY title, id`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Book, 0)
	for rows.Next() {
		var b model.Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.StockForLoan, &b.StockForSale); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
