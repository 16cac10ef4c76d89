package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

type stockWrite struct {
	base    model.BookStock // as first read by the transaction
	cur     model.BookStock
	created bool
}

type loanWrite struct {
	baseVer int64 // 0 for loans created by the transaction
	cur     model.Loan
}

type saleWrite struct {
	baseVer int64
	cur     model.Sale
}

// txn stages writes over the live maps of a Store. It is used by one goroutine.
type txn struct {
	s     *Store
	stock map[uuid.UUID]*stockWrite
	loans map[uuid.UUID]*loanWrite
	sales map[uuid.UUID]*saleWrite
}

func newTxn(s *Store) *txn {
	return &txn{
		s:     s,
		stock: make(map[uuid.UUID]*stockWrite),
		loans: make(map[uuid.UUID]*loanWrite),
		sales: make(map[uuid.UUID]*saleWrite),
	}
}

func (t *txn) Stock() repository.StockLedger    { return txStock{t} }
func (t *txn) Loans() repository.LoanRepository { return txLoans{t} }
func (t *txn) Sales() repository.SaleRepository { return txSales{t} }

// --- stock ---

type txStock struct{ t *txn }

func (x txStock) read(bookID uuid.UUID) (model.BookStock, bool) {
	if w, ok := x.t.stock[bookID]; ok {
		return w.cur, true
	}
	x.t.s.mu.RLock()
	defer x.t.s.mu.RUnlock()
	st, ok := x.t.s.stock[bookID]
	return st, ok
}

func (x txStock) stage(next model.BookStock, base model.BookStock, created bool) {
	next.UpdatedAt = x.t.s.now().UTC()
	if w, ok := x.t.stock[next.BookID]; ok {
		w.cur = next
		return
	}
	x.t.stock[next.BookID] = &stockWrite{base: base, cur: next, created: created}
}

func (x txStock) Get(_ context.Context, bookID uuid.UUID) (model.BookStock, error) {
	st, ok := x.read(bookID)
	if !ok {
		return model.BookStock{}, errs.ErrNotFound
	}
	return st, nil
}

func (x txStock) Set(_ context.Context, bookID uuid.UUID, forLoan, forSale int) (model.BookStock, error) {
	if bookID == uuid.Nil || forLoan < 0 || forSale < 0 {
		return model.BookStock{}, fmt.Errorf("%w: stock counts must be >= 0", errs.ErrValidation)
	}
	cur, ok := x.read(bookID)
	if !ok {
		next := model.BookStock{
			BookID:           bookID,
			StockForLoan:     forLoan,
			AvailableForLoan: forLoan,
			StockForSale:     forSale,
			AvailableForSale: forSale,
		}
		x.stage(next, model.BookStock{BookID: bookID}, true)
		return x.t.stock[bookID].cur, nil
	}
	next, ok := cur.Restock(forLoan, forSale)
	if !ok {
		return model.BookStock{}, fmt.Errorf("restock below outstanding reservations: %w", errs.ErrInsufficientStock)
	}
	x.stage(next, cur, false)
	return x.t.stock[bookID].cur, nil
}

func (x txStock) Reserve(_ context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	if qty <= 0 || !kind.Valid() {
		return fmt.Errorf("%w: reserve qty=%d kind=%q", errs.ErrValidation, qty, kind)
	}
	cur, ok := x.read(bookID)
	if !ok {
		return errs.ErrNotFound
	}
	left := cur.Available(kind) - qty
	if left < 0 {
		return errs.ErrInsufficientStock
	}
	x.stage(cur.WithAvailable(kind, left), cur, false)
	return nil
}

func (x txStock) Release(_ context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	if qty <= 0 || !kind.Valid() {
		return fmt.Errorf("%w: release qty=%d kind=%q", errs.ErrValidation, qty, kind)
	}
	cur, ok := x.read(bookID)
	if !ok {
		return errs.ErrNotFound
	}
	next := min(cur.Available(kind)+qty, cur.Stock(kind))
	x.stage(cur.WithAvailable(kind, next), cur, false)
	return nil
}

func (x txStock) Consume(_ context.Context, bookID uuid.UUID, kind model.StockKind, qty int) error {
	if qty <= 0 || !kind.Valid() {
		return fmt.Errorf("%w: consume qty=%d kind=%q", errs.ErrValidation, qty, kind)
	}
	cur, ok := x.read(bookID)
	if !ok {
		return errs.ErrNotFound
	}
	if cur.Reserved(kind) < qty {
		return fmt.Errorf("consume %d unreserved copies: %w", qty, errs.ErrInsufficientStock)
	}
	next := cur
	if kind == model.KindSale {
		next.StockForSale -= qty
	} else {
		next.StockForLoan -= qty
	}
	x.stage(next, cur, false)
	return nil
}

// --- loans ---

type txLoans struct{ t *txn }

func (x txLoans) read(id uuid.UUID) (model.Loan, bool) {
	if w, ok := x.t.loans[id]; ok {
		return w.cur, true
	}
	x.t.s.mu.RLock()
	defer x.t.s.mu.RUnlock()
	l, ok := x.t.s.loans[id]
	return l, ok
}

func (x txLoans) Create(_ context.Context, n model.NewLoan) (model.Loan, error) {
	if n.ID == uuid.Nil || n.BookID == uuid.Nil || n.UserID == uuid.Nil {
		return model.Loan{}, fmt.Errorf("%w: empty loan/book/user id", errs.ErrValidation)
	}
	if n.Status != model.StatusRequested && n.Status != model.StatusActive {
		return model.Loan{}, fmt.Errorf("%w: loans start as requested or active, not %s", errs.ErrInvalidTransition, n.Status)
	}
	if _, exists := x.read(n.ID); exists {
		return model.Loan{}, errs.ErrAlreadyExists
	}
	l := n.Loan(x.t.s.now().UTC())
	x.t.loans[l.ID] = &loanWrite{cur: l}
	return l, nil
}

func (x txLoans) Get(_ context.Context, id uuid.UUID) (model.Loan, error) {
	l, ok := x.read(id)
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	return l, nil
}

func (x txLoans) Transition(
	_ context.Context, id uuid.UUID, baseVer int64, to model.LoanStatus, ch model.LoanChange,
) (model.Loan, error) {
	cur, ok := x.read(id)
	if !ok {
		return model.Loan{}, errs.ErrNotFound
	}
	if cur.Version != baseVer {
		return model.Loan{}, errs.ErrVersionConflict
	}
	if !model.CanTransition(cur.Status, to) {
		return model.Loan{}, fmt.Errorf("%s -> %s: %w", cur.Status, to, errs.ErrInvalidTransition)
	}
	next := cur.Apply(to, ch)
	if w, ok := x.t.loans[id]; ok {
		w.cur = next
	} else {
		x.t.loans[id] = &loanWrite{baseVer: cur.Version, cur: next}
	}
	return next, nil
}

func (x txLoans) ListByUser(_ context.Context, userID uuid.UUID, statuses ...model.LoanStatus) ([]model.Loan, error) {
	return x.list(func(l model.Loan) bool {
		return l.UserID == userID && (len(statuses) == 0 || slices.Contains(statuses, l.Status))
	}), nil
}

func (x txLoans) ListByStatus(_ context.Context, statuses ...model.LoanStatus) ([]model.Loan, error) {
	return x.list(func(l model.Loan) bool { return slices.Contains(statuses, l.Status) }), nil
}

// list merges live and staged loans, ordered by creation time then id.
func (x txLoans) list(keep func(model.Loan) bool) []model.Loan {
	x.t.s.mu.RLock()
	out := make([]model.Loan, 0, len(x.t.s.loans))
	for id, l := range x.t.s.loans {
		if _, staged := x.t.loans[id]; staged {
			continue
		}
		if keep(l) {
			out = append(out, l)
		}
	}
	x.t.s.mu.RUnlock()
	for _, w := range x.t.loans {
		if keep(w.cur) {
			out = append(out, w.cur)
		}
	}
	slices.SortFunc(out, func(a, b model.Loan) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// --- sales ---

type txSales struct{ t *txn }

func (x txSales) read(id uuid.UUID) (model.Sale, bool) {
	if w, ok := x.t.sales[id]; ok {
		return w.cur, true
	}
	x.t.s.mu.RLock()
	defer x.t.s.mu.RUnlock()
	s, ok := x.t.s.sales[id]
	return s, ok
}

func (x txSales) Create(_ context.Context, s model.Sale) (model.Sale, error) {
	if s.ID == uuid.Nil || s.BookID == uuid.Nil || s.UserID == uuid.Nil || s.Quantity <= 0 {
		return model.Sale{}, fmt.Errorf("%w: sale ids/quantity", errs.ErrValidation)
	}
	if _, exists := x.read(s.ID); exists {
		return model.Sale{}, errs.ErrAlreadyExists
	}
	s.Payment = model.PaymentPending
	s.CreatedAt = x.t.s.now().UTC()
	s.ResolvedAt = time.Time{}
	s.Version = 1
	x.t.sales[s.ID] = &saleWrite{cur: s}
	return s, nil
}

func (x txSales) Get(_ context.Context, id uuid.UUID) (model.Sale, error) {
	s, ok := x.read(id)
	if !ok {
		return model.Sale{}, errs.ErrNotFound
	}
	return s, nil
}

func (x txSales) Resolve(_ context.Context, id uuid.UUID, baseVer int64, to model.PaymentStatus) (model.Sale, error) {
	cur, ok := x.read(id)
	if !ok {
		return model.Sale{}, errs.ErrNotFound
	}
	if cur.Version != baseVer {
		return model.Sale{}, errs.ErrVersionConflict
	}
	if cur.Payment != model.PaymentPending || (to != model.PaymentConfirmed && to != model.PaymentRejected) {
		return model.Sale{}, fmt.Errorf("payment %s -> %s: %w", cur.Payment, to, errs.ErrInvalidTransition)
	}
	next := cur
	next.Payment = to
	next.ResolvedAt = x.t.s.now().UTC()
	next.Version++
	if w, ok := x.t.sales[id]; ok {
		w.cur = next
	} else {
		x.t.sales[id] = &saleWrite{baseVer: cur.Version, cur: next}
	}
	return next, nil
}

func (x txSales) ListByPayment(_ context.Context, p model.PaymentStatus) ([]model.Sale, error) {
	x.t.s.mu.RLock()
	out := make([]model.Sale, 0)
	for id, s := range x.t.s.sales {
		if _, staged := x.t.sales[id]; staged {
			continue
		}
		if s.Payment == p {
			out = append(out, s)
		}
	}
	x.t.s.mu.RUnlock()
	for _, w := range x.t.sales {
		if w.cur.Payment == p {
			out = append(out, w.cur)
		}
	}
	slices.SortFunc(out, func(a, b model.Sale) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}
