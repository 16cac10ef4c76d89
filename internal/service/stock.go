package service

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

// StockService administers the physical counts of the ledger.
type StockService interface {
	// GetStock returns the counters of a book.
	GetStock(ctx context.Context, bookID uuid.UUID) (model.BookStock, error)
	// SetStock changes the physical counts, keeping outstanding reservations.
	SetStock(ctx context.Context, who model.Identity, bookID uuid.UUID, forLoan, forSale int) (model.BookStock, error)
	// SyncFromCatalog copies the catalog's counts of a book into the ledger.
	SyncFromCatalog(ctx context.Context, who model.Identity, bookID uuid.UUID) (model.BookStock, error)
	// SyncAll copies the counts of every catalog book and returns how many were applied.
	SyncAll(ctx context.Context, who model.Identity) (int, error)
}

// StockServiceImpl is the StockService over a transactional store.
type StockServiceImpl struct {
	deps
	store repository.Store
}

var _ StockService = (*StockServiceImpl)(nil)

// NewStockService constructs StockService; SyncFromCatalog needs WithCatalog.
func NewStockService(store repository.Store, opts ...Option) *StockServiceImpl {
	return &StockServiceImpl{deps: newDeps(opts), store: store}
}

// GetStock returns the counters of a book.
func (s *StockServiceImpl) GetStock(ctx context.Context, bookID uuid.UUID) (model.BookStock, error) {
	if bookID == uuid.Nil {
		return model.BookStock{}, fmt.Errorf("%w: empty book id", errs.ErrValidation)
	}
	return s.store.Stock().Get(ctx, bookID)
}

// SetStock creates the entry fully available or restocks it. Shrinking below the
// copies currently reserved fails with ErrInsufficientStock.
func (s *StockServiceImpl) SetStock(ctx context.Context, who model.Identity, bookID uuid.UUID, forLoan, forSale int) (model.BookStock, error) {
	if err := requireAdmin(who); err != nil {
		return model.BookStock{}, err
	}
	if bookID == uuid.Nil || forLoan < 0 || forSale < 0 {
		return model.BookStock{}, fmt.Errorf("%w: stock counts must be >= 0", errs.ErrValidation)
	}
	return s.set(ctx, bookID, forLoan, forSale)
}

// SyncFromCatalog applies the catalog's counts for one book.
func (s *StockServiceImpl) SyncFromCatalog(ctx context.Context, who model.Identity, bookID uuid.UUID) (model.BookStock, error) {
	if err := requireAdmin(who); err != nil {
		return model.BookStock{}, err
	}
	if s.catalog == nil {
		return model.BookStock{}, fmt.Errorf("%w: no catalog configured", errs.ErrValidation)
	}
	b, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		return model.BookStock{}, err
	}
	return s.set(ctx, b.ID, b.StockForLoan, b.StockForSale)
}

// SyncAll applies the catalog's counts for every book. Entries that would orphan
// reservations are skipped and logged.
func (s *StockServiceImpl) SyncAll(ctx context.Context, who model.Identity) (int, error) {
	if err := requireAdmin(who); err != nil {
		return 0, err
	}
	if s.catalog == nil {
		return 0, fmt.Errorf("%w: no catalog configured", errs.ErrValidation)
	}
	books, err := s.catalog.ListBooks(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, b := range books {
		if _, err := s.set(ctx, b.ID, b.StockForLoan, b.StockForSale); err != nil {
			s.log.Warn("stock sync skipped", zap.Stringer("book_id", b.ID), zap.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

func (s *StockServiceImpl) set(ctx context.Context, bookID uuid.UUID, forLoan, forSale int) (model.BookStock, error) {
	unlock, err := s.locks.Acquire(ctx, bookKey(bookID))
	if err != nil {
		return model.BookStock{}, err
	}
	defer unlock()

	st, err := s.store.Stock().Set(ctx, bookID, forLoan, forSale)
	s.metrics.Transition("set_stock", outcome(err))
	if err != nil {
		return model.BookStock{}, err
	}
	s.log.Info("stock set",
		zap.Stringer("book_id", bookID),
		zap.Int("stock_for_loan", st.StockForLoan),
		zap.Int("available_for_loan", st.AvailableForLoan),
		zap.Int("stock_for_sale", st.StockForSale),
		zap.Int("available_for_sale", st.AvailableForSale),
	)
	return st, nil
}
