// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bookloan/internal/model"
)

// StockLedger owns the availability counters. No other component writes them.
type StockLedger interface {
	// Get returns the counters of a book.
	Get(ctx context.Context, bookID uuid.UUID) (model.BookStock, error)
	// Set creates the entry or changes its physical counts, preserving outstanding reservations.
	Set(ctx context.Context, bookID uuid.UUID, stockForLoan, stockForSale int) (model.BookStock, error)
	// Reserve decrements the available counter of kind by qty iff it stays >= 0.
	Reserve(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error
	// Release increments the available counter of kind by qty, capped at the physical stock.
	Release(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error
	// Consume turns qty reserved copies of kind into departed ones: physical stock shrinks,
	// availability is unchanged. Used when a sale is paid.
	Consume(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error
}

// LoanRepository stores loans and validates their status graph.
type LoanRepository interface {
	// Create inserts a new loan.
	Create(ctx context.Context, n model.NewLoan) (model.Loan, error)
	// Get loads a loan; inside a transaction the row stays locked until commit.
	Get(ctx context.Context, id uuid.UUID) (model.Loan, error)
	// Transition moves a loan to status to, applying ch. baseVer must match the stored version.
	Transition(ctx context.Context, id uuid.UUID, baseVer int64, to model.LoanStatus, ch model.LoanChange) (model.Loan, error)
	// ListByUser returns a user's loans, optionally restricted to statuses.
	ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.LoanStatus) ([]model.Loan, error)
	// ListByStatus returns all loans in any of statuses.
	ListByStatus(ctx context.Context, statuses ...model.LoanStatus) ([]model.Loan, error)
}

// SaleRepository stores sales and their payment state.
type SaleRepository interface {
	// Create inserts a pending sale.
	Create(ctx context.Context, s model.Sale) (model.Sale, error)
	// Get loads a sale; inside a transaction the row stays locked until commit.
	Get(ctx context.Context, id uuid.UUID) (model.Sale, error)
	// Resolve moves a pending sale to a final payment status.
	Resolve(ctx context.Context, id uuid.UUID, baseVer int64, to model.PaymentStatus) (model.Sale, error)
	// ListByPayment returns sales with the given payment status.
	ListByPayment(ctx context.Context, p model.PaymentStatus) ([]model.Sale, error)
}

// Tx groups the repositories that must change together.
type Tx interface {
	Stock() StockLedger
	Loans() LoanRepository
	Sales() SaleRepository
}

// Store is a Tx whose operations each commit on their own, plus InTx for
// multi-step units that succeed or fail together.
type Store interface {
	Tx
	// InTx runs fn in a transaction; any error from fn rolls back every change made through tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
