package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
)

// SaleRepo implements SaleRepository using PostgreSQL.
type SaleRepo struct {
	q    querier
	lock bool
}

const saleCols = `id, book_id, user_id, quantity, amount_cents, payment, created_at, resolved_at, version`

func scanSale(row rowScanner) (model.Sale, error) {
	var s model.Sale
	var payment string
	var resolved pgtype.Timestamptz
	err := row.Scan(&s.ID, &s.BookID, &s.UserID, &s.Quantity, &s.AmountCents, &payment, &s.CreatedAt, &resolved, &s.Version)
	if err != nil {
		return model.Sale{}, err
	}
	s.Payment = model.PaymentStatus(payment)
	s.ResolvedAt = fromTimestamptz(resolved)
	return s, nil
}

// Create inserts a pending sale at version 1.
func (r *SaleRepo) Create(ctx context.Context, s model.Sale) (model.Sale, error) {
	if s.ID == uuid.Nil || s.BookID == uuid.Nil || s.UserID == uuid.Nil || s.Quantity <= 0 {
		return model.Sale{}, fmt.Errorf("%w: sale ids/quantity", errs.ErrValidation)
	}
	const q = `
INSERT INTO sales (id, book_id, user_id, quantity, amount_cents)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + saleCols
	out, err := scanSale(r.q.QueryRow(ctx, q, s.ID, s.BookID, s.UserID, s.Quantity, s.AmountCents))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Sale{}, errs.ErrAlreadyExists
		}
		return model.Sale{}, err
	}
	return out, nil
}

// Get loads a sale by ID.
func (r *SaleRepo) Get(ctx context.Context, id uuid.UUID) (model.Sale, error) {
	q := `SELECT ` + saleCols + ` FROM sales WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	s, err := scanSale(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Sale{}, errs.ErrNotFound
		}
		return model.Sale{}, err
	}
	return s, nil
}

// Resolve confirms or rejects a pending sale exactly once.
func (r *SaleRepo) Resolve(ctx context.Context, id uuid.UUID, baseVer int64, to model.PaymentStatus) (model.Sale, error) {
	if to != model.PaymentConfirmed && to != model.PaymentRejected {
		return model.Sale{}, fmt.Errorf("payment -> %s: %w", to, errs.ErrInvalidTransition)
	}
	const q = `
UPDATE sales SET payment = $3, resolved_at = now(), version = version + 1
WHERE id = $1 AND version = $2 AND payment = 'pending'
RETURNING ` + saleCols
	s, err := scanSale(r.q.QueryRow(ctx, q, id, baseVer, string(to)))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return model.Sale{}, err
	}
	cur, gerr := r.Get(ctx, id)
	if gerr != nil {
		return model.Sale{}, gerr
	}
	if cur.Version != baseVer {
		return model.Sale{}, errs.ErrVersionConflict
	}
	return model.Sale{}, fmt.Errorf("payment %s -> %s: %w", cur.Payment, to, errs.ErrInvalidTransition)
}

// ListByPayment returns sales with payment status p ordered by creation.
func (r *SaleRepo) ListByPayment(ctx context.Context, p model.PaymentStatus) ([]model.Sale, error) {
	q := `SELECT ` + saleCols + ` FROM sales WHERE payment = $1 ORDER BY created_at, id`
	rows, err := r.q.Query(ctx, q, string(p))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Sale, 0)
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
