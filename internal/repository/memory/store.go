// Package memory contains an in-process implementation of the repository interfaces.
// Transactions stage their writes and validate them against the live state at commit,
// so a failed unit leaves nothing behind.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

// Store keeps stock, loans and sales in maps guarded by a single RWMutex that is
// only held for reads and for the commit step, never across caller code.
type Store struct {
	mu    sync.RWMutex
	stock map[uuid.UUID]model.BookStock
	loans map[uuid.UUID]model.Loan
	sales map[uuid.UUID]model.Sale
	now   func() time.Time
}

var _ repository.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source used for created/updated times.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New constructs an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		stock: make(map[uuid.UUID]model.BookStock),
		loans: make(map[uuid.UUID]model.Loan),
		sales: make(map[uuid.UUID]model.Sale),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// InTx runs fn against a staging transaction and commits it if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTxn(s)
	if err := fn(ctx, t); err != nil {
		return err
	}
	return s.commit(t)
}

// Stock returns an auto-committing view of the stock ledger.
func (s *Store) Stock() repository.StockLedger { return autoStock{s} }

// Loans returns an auto-committing view of the loan repository.
func (s *Store) Loans() repository.LoanRepository { return autoLoans{s} }

// Sales returns an auto-committing view of the sale repository.
func (s *Store) Sales() repository.SaleRepository { return autoSales{s} }

// commit validates every staged write against the live maps and applies all or none.
func (s *Store) commit(t *txn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stock := make(map[uuid.UUID]model.BookStock, len(t.stock))
	for id, w := range t.stock {
		cur, exists := s.stock[id]
		if !exists {
			if !w.created {
				return errs.ErrNotFound
			}
			cur = model.BookStock{BookID: id}
		}
		next := applyStockDelta(cur, w.base, w.cur)
		if next.AvailableForLoan < 0 || next.AvailableForSale < 0 || next.StockForLoan < 0 || next.StockForSale < 0 {
			return errs.ErrInsufficientStock
		}
		next.UpdatedAt = w.cur.UpdatedAt
		stock[id] = next
	}
	for id, w := range t.loans {
		cur, exists := s.loans[id]
		switch {
		case w.baseVer == 0 && exists:
			return errs.ErrAlreadyExists
		case w.baseVer != 0 && (!exists || cur.Version != w.baseVer):
			return errs.ErrVersionConflict
		}
	}
	for id, w := range t.sales {
		cur, exists := s.sales[id]
		switch {
		case w.baseVer == 0 && exists:
			return errs.ErrAlreadyExists
		case w.baseVer != 0 && (!exists || cur.Version != w.baseVer):
			return errs.ErrVersionConflict
		}
	}

	for id, st := range stock {
		s.stock[id] = st
	}
	for id, w := range t.loans {
		s.loans[id] = w.cur
	}
	for id, w := range t.sales {
		s.sales[id] = w.cur
	}
	return nil
}

// applyStockDelta replays the change base -> staged onto cur. Physical counts are
// taken as deltas too so that concurrent restocks compose. Availability is capped
// at stock, matching release semantics.
func applyStockDelta(cur, base, staged model.BookStock) model.BookStock {
	next := cur
	next.StockForLoan += staged.StockForLoan - base.StockForLoan
	next.StockForSale += staged.StockForSale - base.StockForSale
	next.AvailableForLoan += staged.AvailableForLoan - base.AvailableForLoan
	next.AvailableForSale += staged.AvailableForSale - base.AvailableForSale
	next.AvailableForLoan = min(next.AvailableForLoan, next.StockForLoan)
	next.AvailableForSale = min(next.AvailableForSale, next.StockForSale)
	return next
}

type autoStock struct{ s *Store }

func (a autoStock) Get(ctx context.Context, bookID uuid.UUID) (model.BookStock, error) {
	return newTxn(a.s).Stock().Get(ctx, bookID)
}

func (a autoStock) Set(ctx context.Context, bookID uuid.UUID, forLoan, forSale int) (out model.BookStock, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, err = tx.Stock().Set(ctx, bookID, forLoan, forSale)
		return err
	})
	return out, err
}

func (a autoStock) Reserve(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	return a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Stock().Reserve(ctx, bookID, kind, qty)
	})
}

func (a autoStock) Release(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	return a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Stock().Release(ctx, bookID, kind, qty)
	})
}

func (a autoStock) Consume(ctx context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	return a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		return tx.Stock().Consume(ctx, bookID, kind, qty)
	})
}

type autoLoans struct{ s *Store }

func (a autoLoans) Create(ctx context.Context, n model.NewLoan) (out model.Loan, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, err = tx.Loans().Create(ctx, n)
		return err
	})
	return out, err
}

func (a autoLoans) Get(ctx context.Context, id uuid.UUID) (model.Loan, error) {
	return newTxn(a.s).Loans().Get(ctx, id)
}

func (a autoLoans) Transition(
	ctx context.Context, id uuid.UUID, baseVer int64, to model.LoanStatus, ch model.LoanChange,
) (out model.Loan, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, err = tx.Loans().Transition(ctx, id, baseVer, to, ch)
		return err
	})
	return out, err
}

func (a autoLoans) ListByUser(ctx context.Context, userID uuid.UUID, statuses ...model.LoanStatus) ([]model.Loan, error) {
	return newTxn(a.s).Loans().ListByUser(ctx, userID, statuses...)
}

func (a autoLoans) ListByStatus(ctx context.Context, statuses ...model.LoanStatus) ([]model.Loan, error) {
	return newTxn(a.s).Loans().ListByStatus(ctx, statuses...)
}

type autoSales struct{ s *Store }

func (a autoSales) Create(ctx context.Context, sale model.Sale) (out model.Sale, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, err = tx.Sales().Create(ctx, sale)
		return err
	})
	return out, err
}

func (a autoSales) Get(ctx context.Context, id uuid.UUID) (model.Sale, error) {
	return newTxn(a.s).Sales().Get(ctx, id)
}

func (a autoSales) Resolve(ctx context.Context, id uuid.UUID, baseVer int64, to model.PaymentStatus) (out model.Sale, err error) {
	err = a.s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		out, err = tx.Sales().Resolve(ctx, id, baseVer, to)
		return err
	})
	return out, err
}

func (a autoSales) ListByPayment(ctx context.Context, p model.PaymentStatus) ([]model.Sale, error) {
	return newTxn(a.s).Sales().ListByPayment(ctx, p)
}
