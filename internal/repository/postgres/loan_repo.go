package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
)

// LoanRepo implements LoanRepository using PostgreSQL.
type LoanRepo struct {
	q    querier
	lock bool
}

const loanCols = `id, book_id, user_id, status, borrowed_at, due_date, returned_at, renewal_count, justification, admin_notes, requested_at, created_at, version`

var loanColumns = []any{
	"id", "book_id", "user_id", "status", "borrowed_at", "due_date", "returned_at",
	"renewal_count", "justification", "admin_notes", "requested_at", "created_at", "version",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(row rowScanner) (model.Loan, error) {
	var l model.Loan
	var status string
	var borrowed, due, returned, requestedAt pgtype.Timestamptz
	err := row.Scan(
		&l.ID, &l.BookID, &l.UserID, &status, &borrowed, &due, &returned,
		&l.RenewalCount, &l.Justification, &l.AdminNotes, &requestedAt, &l.CreatedAt, &l.Version,
	)
	if err != nil {
		return model.Loan{}, err
	}
	l.Status = model.LoanStatus(status)
	l.BorrowedAt = fromTimestamptz(borrowed)
	l.DueDate = fromTimestamptz(due)
	l.ReturnedAt = fromTimestamptz(returned)
	l.RequestedAt = fromTimestamptz(requestedAt)
	return l, nil
}

// Create inserts a new loan at version 1.
func (r *LoanRepo) Create(ctx context.Context, n model.NewLoan) (model.Loan, error) {
	if n.ID == uuid.Nil || n.BookID == uuid.Nil || n.UserID == uuid.Nil {
		return model.Loan{}, fmt.Errorf("%w: empty loan/book/user id", errs.ErrValidation)
	}
	if n.Status != model.StatusRequested && n.Status != model.StatusActive {
		return model.Loan{}, fmt.Errorf("%w: loans start as requested or active, not %s", errs.ErrInvalidTransition, n.Status)
	}
	const q = `
INSERT INTO loans (id, book_id, user_id, status, borrowed_at, due_date, admin_notes, requested_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + loanCols
	l, err := scanLoan(r.q.QueryRow(ctx, q,
		n.ID, n.BookID, n.UserID, string(n.Status), nullTime(n.BorrowedAt), nullTime(n.DueDate), n.AdminNotes, nullTime(n.RequestedAt),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return model.Loan{}, errs.ErrAlreadyExists
		}
		return model.Loan{}, err
	}
	return l, nil
}

// Get loads a loan by ID.
func (r *LoanRepo) Get(ctx context.Context, id uuid.UUID) (model.Loan, error) {
	q := `SELECT ` + loanCols + ` FROM loans WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	l, err := scanLoan(r.q.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Loan{}, errs.ErrNotFound
		}
		return model.Loan{}, err
	}
	return l, nil
}

// Transition validates the edge against the stored row and writes the new state
// guarded by the version the caller read.
func (r *LoanRepo) Transition(
	ctx context.Context, id uuid.UUID, baseVer int64, to model.LoanStatus, ch model.LoanChange,
) (model.Loan, error) {
	cur, err := r.Get(ctx, id)
	if err != nil {
		return model.Loan{}, err
	}
	if cur.Version != baseVer {
		return model.Loan{}, errs.ErrVersionConflict
	}
	if !model.CanTransition(cur.Status, to) {
		return model.Loan{}, fmt.Errorf("%s -> %s: %w", cur.Status, to, errs.ErrInvalidTransition)
	}
	next := cur.Apply(to, ch)

	const q = `
UPDATE loans SET
  status = $3, borrowed_at = $4, due_date = $5, returned_at = $6, renewal_count = $7,
  justification = $8, admin_notes = $9, requested_at = $10, version = version + 1
WHERE id = $1 AND version = $2`
	tag, err := r.q.Exec(ctx, q,
		id, baseVer, string(next.Status), nullTime(next.BorrowedAt), nullTime(next.DueDate), nullTime(next.ReturnedAt),
		next.RenewalCount, next.Justification, next.AdminNotes, nullTime(next.RequestedAt),
	)
	if err != nil {
		return model.Loan{}, err
	}
	if tag.RowsAffected() == 0 {
		return model.Loan{}, errs.ErrVersionConflict
	}
	return next, nil
}

// ListByUser returns a user's loans ordered by creation, optionally filtered by status.
func (r *LoanRepo) ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.LoanStatus) ([]model.Loan, error) {
	where := goqu.Ex{"user_id": userID.String()}
	if len(statuses) > 0 {
		where["status"] = statusStrings(statuses)
	}
	return r.list(ctx, where)
}

// ListByStatus returns loans in any of statuses ordered by creation.
func (r *LoanRepo) ListByStatus(ctx context.Context, statuses ...model.LoanStatus) ([]model.Loan, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	return r.list(ctx, goqu.Ex{"status": statusStrings(statuses)})
}

func (r *LoanRepo) list(ctx context.Context, where goqu.Ex) ([]model.Loan, error) {
	q, args, err := dialect.From("loans").
		Select(loanColumns...).
		Where(where).
		Order(goqu.I("created_at").Asc(), goqu.I("id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func statusStrings(ss []model.LoanStatus) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}
