// Package service holds the loan lifecycle orchestrator and the services around it:
// the admin confirmation queue, sales and stock administration.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/keylock"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/obs"
	"github.com/and161185/bookloan/internal/repository"
)

// deps are the collaborators shared by every service.
type deps struct {
	log     *zap.Logger
	metrics *obs.Metrics
	locks   *keylock.Locker
	now     func() time.Time
	catalog repository.Catalog
}

// Option configures a service.
type Option func(*deps)

// WithLogger sets the logger; the default discards everything.
func WithLogger(l *zap.Logger) Option { return func(d *deps) { d.log = l } }

// WithMetrics sets the metrics sink; nil records nothing.
func WithMetrics(m *obs.Metrics) Option { return func(d *deps) { d.metrics = m } }

// WithLocker shares one per-key lock table between services.
func WithLocker(l *keylock.Locker) Option { return func(d *deps) { d.locks = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(d *deps) { d.now = now } }

// WithCatalog lets services seed a missing stock entry from the catalog's counts
// and gives pending items their book titles.
func WithCatalog(c repository.Catalog) Option { return func(d *deps) { d.catalog = c } }

func newDeps(opts []Option) deps {
	d := deps{log: zap.NewNop(), locks: keylock.New(), now: time.Now}
	for _, o := range opts {
		o(&d)
	}
	return d
}

func (d deps) clock() time.Time { return d.now().UTC() }

func bookKey(id uuid.UUID) string { return "book:" + id.String() }
func loanKey(id uuid.UUID) string { return "loan:" + id.String() }
func saleKey(id uuid.UUID) string { return "sale:" + id.String() }
func userKey(id uuid.UUID) string { return "user:" + id.String() }

func requireUser(who model.Identity) error {
	if who.UserID == uuid.Nil {
		return errs.ErrUnauthorized
	}
	return nil
}

func requireAdmin(who model.Identity) error {
	if err := requireUser(who); err != nil {
		return err
	}
	if !who.IsAdmin {
		return errs.ErrForbidden
	}
	return nil
}

// stockFor loads the stock entry of bookID, creating it from the catalog counts when the
// ledger has never seen the book.
func (d deps) stockFor(ctx context.Context, tx repository.Tx, bookID uuid.UUID) (model.BookStock, error) {
	st, err := tx.Stock().Get(ctx, bookID)
	if err == nil || !errors.Is(err, errs.ErrNotFound) || d.catalog == nil {
		return st, err
	}
	b, err := d.catalog.GetBook(ctx, bookID)
	if err != nil {
		return model.BookStock{}, err
	}
	return tx.Stock().Set(ctx, bookID, b.StockForLoan, b.StockForSale)
}

// outcome is the metrics label of an operation result.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrPolicy):
		return "denied"
	case errors.Is(err, errs.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, errs.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, errs.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	case errors.Is(err, errs.ErrForbidden), errors.Is(err, errs.ErrUnauthorized):
		return "forbidden"
	case errors.Is(err, errs.ErrValidation):
		return "invalid"
	}
	return "error"
}

func newID() (uuid.UUID, error) { return uuid.NewV7() }
