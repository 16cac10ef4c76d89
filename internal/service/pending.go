package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

// PendingService builds the admin confirmation queue and routes decisions on it.
type PendingService interface {
	// ListPending returns every loan request, return, renewal and payment awaiting a
	// decision, most recent first.
	ListPending(ctx context.Context, who model.Identity) ([]model.PendingItem, error)
	// Resolve applies decision d to the item of kind identified by refID.
	Resolve(ctx context.Context, who model.Identity, kind model.PendingKind, refID uuid.UUID, d model.Decision, notes string) error
}

// PendingServiceImpl is the PendingService over the loan store and the sale service.
type PendingServiceImpl struct {
	deps
	store repository.Store
	users repository.Users
	loans LoanService
	sales SaleService
}

var _ PendingService = (*PendingServiceImpl)(nil)

// NewPendingService constructs the aggregator. Catalog and users only enrich items;
// a missing book or user leaves the corresponding fields blank.
func NewPendingService(
	store repository.Store, users repository.Users, loans LoanService, sales SaleService, opts ...Option,
) *PendingServiceImpl {
	return &PendingServiceImpl{deps: newDeps(opts), store: store, users: users, loans: loans, sales: sales}
}

// ListPending is a read-only projection regenerated on every call.
func (s *PendingServiceImpl) ListPending(ctx context.Context, who model.Identity) ([]model.PendingItem, error) {
	if err := requireAdmin(who); err != nil {
		return nil, err
	}
	loans, err := s.store.Loans().ListByStatus(ctx, model.AwaitingDecisionStatuses...)
	if err != nil {
		return nil, err
	}
	sales, err := s.sales.ListPendingPayments(ctx, who)
	if err != nil {
		return nil, err
	}

	r := newRefCache(s.catalog, s.users)
	out := make([]model.PendingItem, 0, len(loans)+len(sales))
	for _, l := range loans {
		kind, ok := model.PendingKindFor(l.Status)
		if !ok {
			continue
		}
		at := l.RequestedAt
		if at.IsZero() {
			at = l.CreatedAt
		}
		it := model.PendingItem{
			Kind:          kind,
			RefID:         l.ID,
			BookID:        l.BookID,
			UserID:        l.UserID,
			RequestedAt:   at,
			Justification: l.Justification,
			RenewalCount:  l.RenewalCount,
		}
		if err := r.fill(ctx, &it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	for _, sale := range sales {
		it := model.PendingItem{
			Kind:        model.PendingPayment,
			RefID:       sale.ID,
			BookID:      sale.BookID,
			UserID:      sale.UserID,
			RequestedAt: sale.CreatedAt,
			Quantity:    sale.Quantity,
			AmountCents: sale.AmountCents,
		}
		if err := r.fill(ctx, &it); err != nil {
			return nil, err
		}
		out = append(out, it)
	}

	slices.SortFunc(out, func(a, b model.PendingItem) int {
		if c := b.RequestedAt.Compare(a.RequestedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.RefID.String(), b.RefID.String())
	})
	return out, nil
}

// Resolve dispatches loan kinds to the orchestrator and payments to the sale service.
func (s *PendingServiceImpl) Resolve(
	ctx context.Context, who model.Identity, kind model.PendingKind, refID uuid.UUID, d model.Decision, notes string,
) error {
	if err := requireAdmin(who); err != nil {
		return err
	}
	if !d.Valid() {
		return fmt.Errorf("%w: decision %q", errs.ErrValidation, d)
	}
	var err error
	switch kind {
	case model.PendingLoanRequest, model.PendingReturnRequest, model.PendingRenewalRequest:
		_, err = s.loans.AdminDecide(ctx, who, refID, d, notes)
	case model.PendingPayment:
		if d == model.DecisionApprove {
			_, err = s.sales.ConfirmPayment(ctx, who, refID)
		} else {
			_, err = s.sales.RejectPayment(ctx, who, refID)
		}
	default:
		return fmt.Errorf("%w: pending kind %q", errs.ErrValidation, kind)
	}
	if err != nil {
		s.log.Debug("pending item not resolved",
			zap.String("kind", string(kind)), zap.Stringer("ref_id", refID), zap.Error(err))
	}
	return err
}

// refCache memoises catalog and directory lookups for one listing.
type refCache struct {
	catalog repository.Catalog
	users   repository.Users
	books   map[uuid.UUID]model.Book
	people  map[uuid.UUID]model.User
}

func newRefCache(c repository.Catalog, u repository.Users) *refCache {
	return &refCache{
		catalog: c,
		users:   u,
		books:   make(map[uuid.UUID]model.Book),
		people:  make(map[uuid.UUID]model.User),
	}
}

func (r *refCache) fill(ctx context.Context, it *model.PendingItem) error {
	if r.catalog != nil {
		b, ok := r.books[it.BookID]
		if !ok {
			var err error
			b, err = r.catalog.GetBook(ctx, it.BookID)
			if err != nil && !errors.Is(err, errs.ErrNotFound) {
				return err
			}
			r.books[it.BookID] = b
		}
		it.BookTitle = b.Title
	}
	if r.users != nil {
		u, ok := r.people[it.UserID]
		if !ok {
			var err error
			u, err = r.users.GetUser(ctx, it.UserID)
			if err != nil && !errors.Is(err, errs.ErrNotFound) {
				return err
			}
			r.people[it.UserID] = u
		}
		it.UserName, it.UserEmail = u.Name, u.Email
	}
	return nil
}
