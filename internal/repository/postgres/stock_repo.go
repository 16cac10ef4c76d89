package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
)

// StockRepo implements StockLedger using PostgreSQL. Counter changes are single
// conditional UPDATEs, so they serialise on the row lock even outside a transaction.
type StockRepo struct {
	q    querier
	lock bool
}

const (
	stockCols = `book_id, stock_for_loan, available_for_loan, stock_for_sale, available_for_sale, updated_at`

	reserveLoanSQL = `UPDATE book_stock SET available_for_loan = available_for_loan - $2, updated_at = now() WHERE book_id = $1 AND available_for_loan >= $2`
	reserveSaleSQL = `UPDATE book_stock SET available_for_sale = available_for_sale - $2, updated_at = now() WHERE book_id = $1 AND available_for_sale >= $2`
	releaseLoanSQL = `UPDATE book_stock SET available_for_loan = LEAST(stock_for_loan, available_for_loan + $2), updated_at = now() WHERE book_id = $1`
	releaseSaleSQL = `UPDATE book_stock SET available_for_sale = LEAST(stock_for_sale, available_for_sale + $2), updated_at = now() WHERE book_id = $1`
	consumeLoanSQL = `UPDATE book_stock SET stock_for_loan = stock_for_loan - $2, updated_at = now() WHERE book_id = $1 AND stock_for_loan - available_for_loan >= $2`
	consumeSaleSQL = `UPDATE book_stock SET stock_for_sale = stock_for_sale - $2, updated_at = now() WHERE book_id = $1 AND stock_for_sale - available_for_sale >= $2`
	stockExistsSQL = `SELECT 1 FROM book_stock WHERE book_id = $1`
)

// Get returns the counters of a book.
func (r *StockRepo) Get(ctx context.Context, bookID uuid.UUID) (model.BookStock, error) {
	q := `SELECT ` + stockCols + ` FROM book_stock WHERE book_id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	var st model.BookStock
	err := r.q.QueryRow(ctx, q, bookID).Scan(
		&st.BookID, &st.StockForLoan, &st.AvailableForLoan, &st.StockForSale, &st.AvailableForSale, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BookStock{}, errs.ErrNotFound
		}
		return model.BookStock{}, err
	}
	return st, nil
}

// Set inserts the entry fully available, or restocks it keeping outstanding reservations.
func (r *StockRepo) Set(ctx context.Context, bookID uuid.UUID, forLoan, forSale int) (model.BookStock, error) {
	if bookID == uuid.Nil || forLoan < 0 || forSale < 0 {
		return model.BookStock{}, fmt.Errorf("%w: stock counts must be >= 0", errs.ErrValidation)
	}
	cur, err := r.Get(ctx, bookID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		const ins = `
INSERT INTO book_stock (book_id, stock_for_loan, available_for_loan, stock_for_sale, available_for_sale)
VALUES ($1, $2, $2, $3, $3)
RETURNING ` + stockCols
		return r.scanOne(ctx, ins, bookID, forLoan, forSale)
	case err != nil:
		return model.BookStock{}, err
	}

	next, ok := cur.Restock(forLoan, forSale)
	if !ok {
		return model.BookStock{}, fmt.Errorf("restock below outstanding reservations: %w", errs.ErrInsufficientStock)
	}
	// Deltas instead of absolute values keep concurrent reservations intact.
	const upd = `
UPDATE book_stock SET
  stock_for_loan = $2,
  available_for_loan = available_for_loan + ($2 - stock_for_loan),
  stock_for_sale = $3,
  available_for_sale = available_for_sale + ($3 - stock_for_sale),
  updated_at = now()
WHERE book_id = $1
  AND available_for_loan + ($2 - stock_for_loan) >= 0
  AND available_for_sale + ($3 - stock_for_sale) >= 0
RETURNING ` + stockCols
	st, err := r.scanOne(ctx, upd, bookID, next.StockForLoan, next.StockForSale)
	if errors.Is(err, errs.ErrNotFound) {
		return model.BookStock{}, errs.ErrInsufficientStock
	}
	return st, err
}

// Reserve decrements the available counter iff it stays >= 0.
func (r *StockRepo) Reserve(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	if qty <= 0 || !kind.Valid() {
		return fmt.Errorf("%w: reserve qty=%d kind=%q", errs.ErrValidation, qty, kind)
	}
	q := reserveLoanSQL
	if kind == model.KindSale {
		q = reserveSaleSQL
	}
	tag, err := r.q.Exec(ctx, q, bookID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.exists(ctx, bookID); err != nil {
		return err
	}
	return errs.ErrInsufficientStock
}

// Release increments the available counter, capped at physical stock.
func (r *StockRepo) Release(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	if qty <= 0 || !kind.Valid() {
		return fmt.Errorf("%w: release qty=%d kind=%q", errs.ErrValidation, qty, kind)
	}
	q := releaseLoanSQL
	if kind == model.KindSale {
		q = releaseSaleSQL
	}
	tag, err := r.q.Exec(ctx, q, bookID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Consume removes qty reserved copies from physical stock.
func (r *StockRepo) Consume(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	if qty <= 0 || !kind.Valid() {
		return fmt.Errorf("%w: consume qty=%d kind=%q", errs.ErrValidation, qty, kind)
	}
	q := consumeLoanSQL
	if kind == model.KindSale {
		q = consumeSaleSQL
	}
	tag, err := r.q.Exec(ctx, q, bookID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.exists(ctx, bookID); err != nil {
		return err
	}
	return errs.ErrInsufficientStock
}

func (r *StockRepo) exists(ctx context.Context, bookID uuid.UUID) error {
	var one int
	if err := r.q.QueryRow(ctx, stockExistsSQL, bookID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errs.ErrNotFound
		}
		return err
	}
	return nil
}

func (r *StockRepo) scanOne(ctx context.Context, q string, args ...any) (model.BookStock, error) {
	var st model.BookStock
	err := r.q.QueryRow(ctx, q, args...).Scan(
		&st.BookID, &st.StockForLoan, &st.AvailableForLoan, &st.StockForSale, &st.AvailableForSale, &st.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.BookStock{}, errs.ErrNotFound
		}
		if isUniqueViolation(err) {
			return model.BookStock{}, errs.ErrVersionConflict
		}
		return model.BookStock{}, err
	}
	return st, nil
}
