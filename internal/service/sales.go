package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

// SaleService reserves copies of the sale pool and settles their payment.
type SaleService interface {
	// CreateSale reserves qty copies for the caller and records a pending payment.
	CreateSale(ctx context.Context, who model.Identity, bookID uuid.UUID, qty int, amountCents int64) (model.Sale, error)
	// ListPendingPayments returns sales waiting for payment confirmation.
	ListPendingPayments(ctx context.Context, who model.Identity) ([]model.Sale, error)
	// ConfirmPayment marks the sale paid; its copies leave the stock.
	ConfirmPayment(ctx context.Context, who model.Identity, saleID uuid.UUID) (model.Sale, error)
	// RejectPayment cancels the sale and returns its copies to the sale pool.
	RejectPayment(ctx context.Context, who model.Identity, saleID uuid.UUID) (model.Sale, error)
}

// SaleServiceImpl is the SaleService over a transactional store.
type SaleServiceImpl struct {
	deps
	store repository.Store
}

var _ SaleService = (*SaleServiceImpl)(nil)

// NewSaleService constructs SaleService over store.
func NewSaleService(store repository.Store, opts ...Option) *SaleServiceImpl {
	return &SaleServiceImpl{deps: newDeps(opts), store: store}
}

// CreateSale reserves and records the sale in one transaction.
func (s *SaleServiceImpl) CreateSale(ctx context.Context, who model.Identity, bookID uuid.UUID, qty int, amountCents int64) (model.Sale, error) {
	if err := requireUser(who); err != nil {
		return model.Sale{}, err
	}
	if bookID == uuid.Nil || qty <= 0 || amountCents < 0 {
		return model.Sale{}, fmt.Errorf("%w: sale of %d copies for %d cents", errs.ErrValidation, qty, amountCents)
	}
	unlock, err := s.locks.Acquire(ctx, bookKey(bookID))
	if err != nil {
		return model.Sale{}, err
	}
	defer unlock()

	var out model.Sale
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		st, err := s.stockFor(ctx, tx, bookID)
		if err != nil {
			return err
		}
		if st.AvailableForSale < qty {
			return errs.NewPolicy(errs.CodeInsufficientStock, "Não há exemplares suficientes para venda")
		}
		if err := tx.Stock().Reserve(ctx, bookID, model.KindSale, qty); err != nil {
			return err
		}
		id, err := newID()
		if err != nil {
			return err
		}
		out, err = tx.Sales().Create(ctx, model.Sale{
			ID:          id,
			BookID:      bookID,
			UserID:      who.UserID,
			Quantity:    qty,
			AmountCents: amountCents,
		})
		return err
	})
	s.record("create_sale", out, err, zap.Stringer("book_id", bookID))
	if err != nil {
		return model.Sale{}, err
	}
	return out, nil
}

// ListPendingPayments returns pending sales, oldest first.
func (s *SaleServiceImpl) ListPendingPayments(ctx context.Context, who model.Identity) ([]model.Sale, error) {
	if err := requireAdmin(who); err != nil {
		return nil, err
	}
	return s.store.Sales().ListByPayment(ctx, model.PaymentPending)
}

// ConfirmPayment settles a pending sale; the reserved copies are consumed.
func (s *SaleServiceImpl) ConfirmPayment(ctx context.Context, who model.Identity, saleID uuid.UUID) (model.Sale, error) {
	return s.resolve(ctx, who, saleID, model.PaymentConfirmed)
}

// RejectPayment cancels a pending sale; the reserved copies are released.
func (s *SaleServiceImpl) RejectPayment(ctx context.Context, who model.Identity, saleID uuid.UUID) (model.Sale, error) {
	return s.resolve(ctx, who, saleID, model.PaymentRejected)
}

func (s *SaleServiceImpl) resolve(ctx context.Context, who model.Identity, saleID uuid.UUID, to model.PaymentStatus) (model.Sale, error) {
	if err := requireAdmin(who); err != nil {
		return model.Sale{}, err
	}
	if saleID == uuid.Nil {
		return model.Sale{}, fmt.Errorf("%w: empty sale id", errs.ErrValidation)
	}
	peek, err := s.store.Sales().Get(ctx, saleID)
	if err != nil {
		return model.Sale{}, err
	}
	unlock, err := s.locks.Acquire(ctx, bookKey(peek.BookID), saleKey(saleID))
	if err != nil {
		return model.Sale{}, err
	}
	defer unlock()

	var out model.Sale
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := tx.Sales().Get(ctx, saleID)
		if err != nil {
			return err
		}
		out, err = tx.Sales().Resolve(ctx, saleID, cur.Version, to)
		if err != nil {
			return err
		}
		if to == model.PaymentConfirmed {
			return tx.Stock().Consume(ctx, cur.BookID, model.KindSale, cur.Quantity)
		}
		return tx.Stock().Release(ctx, cur.BookID, model.KindSale, cur.Quantity)
	})
	s.record(string(to)+"_payment", out, err, zap.Stringer("sale_id", saleID))
	if err != nil {
		return model.Sale{}, err
	}
	return out, nil
}

func (s *SaleServiceImpl) record(event string, out model.Sale, err error, fields ...zap.Field) {
	res := outcome(err)
	s.metrics.Transition(event, res)
	var pe *errs.PolicyError
	if errors.As(err, &pe) && pe.Code == errs.CodeInsufficientStock || errors.Is(err, errs.ErrInsufficientStock) {
		s.metrics.StockRejected(string(model.KindSale))
	}
	fields = append(fields, zap.String("event", event))
	switch res {
	case "ok":
		s.log.Info("sale updated", append(fields, zap.Stringer("sale_id", out.ID), zap.String("payment", string(out.Payment)))...)
	case "denied", "forbidden", "not_found", "invalid":
	default:
		s.log.Warn("sale update failed", append(fields, zap.Error(err))...)
	}
}
