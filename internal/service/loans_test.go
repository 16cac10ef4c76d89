package service

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/keylock"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/obs"
	"github.com/and161185/bookloan/internal/policy"
	"github.com/and161185/bookloan/internal/repository/memory"
)

type fixture struct {
	t     *testing.T
	store *memory.Store
	dir   *memory.Directory
	loans *LoanServiceImpl
	sales *SaleServiceImpl
	stock *StockServiceImpl

	mu  sync.Mutex
	now time.Time

	admin, alice, bob model.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:     t,
		now:   time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
		dir:   memory.NewDirectory(),
		admin: model.Identity{UserID: uuid.Must(uuid.NewV4()), IsAdmin: true},
		alice: model.Identity{UserID: uuid.Must(uuid.NewV4())},
		bob:   model.Identity{UserID: uuid.Must(uuid.NewV4())},
	}
	f.store = memory.New(memory.WithClock(f.clock))
	f.dir.PutUser(model.User{ID: f.alice.UserID, Name: "Alice", Email: "alice@example.org"})
	f.dir.PutUser(model.User{ID: f.bob.UserID, Name: "Bob", Email: "bob@example.org"})
	f.dir.PutUser(model.User{ID: f.admin.UserID, Name: "Admin", IsAdmin: true})

	opts := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithMetrics(obs.NewMetrics()),
		WithClock(f.clock),
		WithCatalog(f.dir),
		WithLocker(keylock.New()),
	}
	f.loans = NewLoanService(f.store, policy.DefaultSettings(), opts...)
	f.sales = NewSaleService(f.store, opts...)
	f.stock = NewStockService(f.store, opts...)
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fixture) book(title string, forLoan, forSale int) uuid.UUID {
	f.t.Helper()
	id := uuid.Must(uuid.NewV4())
	f.dir.PutBook(model.Book{ID: id, Title: title, StockForLoan: forLoan, StockForSale: forSale})
	if _, err := f.stock.SetStock(context.Background(), f.admin, id, forLoan, forSale); err != nil {
		f.t.Fatalf("set stock: %v", err)
	}
	return id
}

func (f *fixture) available(book uuid.UUID) int {
	f.t.Helper()
	st, err := f.stock.GetStock(context.Background(), book)
	if err != nil {
		f.t.Fatalf("get stock: %v", err)
	}
	return st.AvailableForLoan
}

// activeLoan requests and approves a loan of book for who.
func (f *fixture) activeLoan(who model.Identity, book uuid.UUID) model.Loan {
	f.t.Helper()
	ctx := context.Background()
	l, err := f.loans.RequestLoan(ctx, who, book)
	if err != nil {
		f.t.Fatalf("request loan: %v", err)
	}
	l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, "")
	if err != nil {
		f.t.Fatalf("approve loan: %v", err)
	}
	return l
}

func policyCode(err error) errs.PolicyCode {
	var pe *errs.PolicyError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

func TestLoan_RequestApprove_ThenNoCopyLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Dom Casmurro", 1, 0)

	l, err := f.loans.RequestLoan(ctx, f.alice, book)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if l.Status != model.StatusRequested {
		t.Fatalf("status want requested, got %s", l.Status)
	}
	if got := f.available(book); got != 1 {
		t.Fatalf("request must not reserve; available=%d", got)
	}

	l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, "")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if l.Status != model.StatusActive {
		t.Fatalf("status want active, got %s", l.Status)
	}
	if got := f.available(book); got != 0 {
		t.Fatalf("available want 0, got %d", got)
	}
	if want := l.BorrowedAt.AddDate(0, 0, 15); !l.DueDate.Equal(want) {
		t.Fatalf("due want %v, got %v", want, l.DueDate)
	}

	_, err = f.loans.RequestLoan(ctx, f.bob, book)
	if !errors.Is(err, errs.ErrPolicy) || policyCode(err) != errs.CodeInsufficientStock {
		t.Fatalf("want insufficient stock policy error, got %v", err)
	}
	bobs, err := f.loans.ListUserLoans(ctx, f.bob, f.bob.UserID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bobs) != 0 {
		t.Fatalf("denied request must not create a loan, got %d", len(bobs))
	}
}

func TestLoan_RenewalApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Grande Sertão", 2, 0)
	l := f.activeLoan(f.alice, book)
	due := l.DueDate

	if _, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "   "); policyCode(err) != errs.CodeJustificationRequired {
		t.Fatalf("blank justification: want policy error, got %v", err)
	}

	l, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "ainda lendo")
	if err != nil {
		t.Fatalf("request renewal: %v", err)
	}
	if l.Status != model.StatusPendingRenewal || l.Justification != "ainda lendo" {
		t.Fatalf("unexpected loan after renewal request: %+v", l)
	}

	l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, "")
	if err != nil {
		t.Fatalf("approve renewal: %v", err)
	}
	if l.Status != model.StatusActive || l.RenewalCount != 1 {
		t.Fatalf("want active with 1 renewal, got %s/%d", l.Status, l.RenewalCount)
	}
	if want := due.AddDate(0, 0, 15); !l.DueDate.Equal(want) {
		t.Fatalf("due want %v, got %v", want, l.DueDate)
	}
}

func TestLoan_ReturnApprovedReleasesCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Vidas Secas", 1, 0)
	l := f.activeLoan(f.alice, book)

	l, err := f.loans.RequestReturn(ctx, f.alice, l.ID, "")
	if err != nil {
		t.Fatalf("request return: %v", err)
	}
	if l.Status != model.StatusPendingReturn {
		t.Fatalf("want pending_return, got %s", l.Status)
	}
	if got := f.available(book); got != 0 {
		t.Fatalf("stock released before confirmation: %d", got)
	}

	f.advance(time.Hour)
	l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, "livro em bom estado")
	if err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if l.Status != model.StatusReturned || !l.ReturnedAt.Equal(f.clock()) {
		t.Fatalf("want returned at %v, got %s at %v", f.clock(), l.Status, l.ReturnedAt)
	}
	if !strings.Contains(l.AdminNotes, "livro em bom estado") {
		t.Fatalf("admin notes not recorded: %q", l.AdminNotes)
	}
	if got := f.available(book); got != 1 {
		t.Fatalf("available want 1, got %d", got)
	}
}

func TestLoan_RejectRenewalAtCapKeepsDates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Iracema", 1, 0)
	l := f.activeLoan(f.alice, book)

	// Walk the loan up to the cap, then get it into pending_renewal under a looser rule.
	for i := 0; i < 2; i++ {
		var err error
		if l, err = f.loans.RequestRenewal(ctx, f.alice, l.ID, "mais tempo"); err != nil {
			t.Fatalf("renewal %d: %v", i, err)
		}
		if l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, ""); err != nil {
			t.Fatalf("approve %d: %v", i, err)
		}
	}
	if _, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "mais tempo"); policyCode(err) != errs.CodeRenewalLimit {
		t.Fatalf("third renewal: want renewal limit, got %v", err)
	}

	loose := policy.DefaultSettings()
	loose.MaxRenewals = 3
	if _, err := f.loans.UpdateSettings(ctx, f.admin, loose); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	l, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "mais tempo")
	if err != nil {
		t.Fatalf("renewal under loose rules: %v", err)
	}
	if _, err := f.loans.UpdateSettings(ctx, f.admin, policy.DefaultSettings()); err != nil {
		t.Fatalf("restore settings: %v", err)
	}

	due := l.DueDate
	l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionReject, "limite atingido")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if l.Status != model.StatusActive || l.RenewalCount != 2 || !l.DueDate.Equal(due) {
		t.Fatalf("reject must keep count and due date: %+v", l)
	}
}

func TestLoan_ConcurrentApprovalsOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("O Cortiço", 1, 0)
	l, err := f.loans.RequestLoan(ctx, f.alice, book)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	other := model.Identity{UserID: uuid.Must(uuid.NewV4()), IsAdmin: true}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, who := range []model.Identity{f.admin, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = f.loans.AdminDecide(ctx, who, l.ID, model.DecisionApprove, "")
		}()
	}
	wg.Wait()

	ok, invalid := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errs.ErrInvalidTransition):
			invalid++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || invalid != 1 {
		t.Fatalf("want one success and one invalid transition, got %d/%d", ok, invalid)
	}
	if got := f.available(book); got != 0 {
		t.Fatalf("stock must be decremented exactly once, available=%d", got)
	}
}

func TestLoan_LastCopyTwoRequestsSecondApprovalFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Macunaíma", 1, 0)

	a, err := f.loans.RequestLoan(ctx, f.alice, book)
	if err != nil {
		t.Fatalf("alice: %v", err)
	}
	b, err := f.loans.RequestLoan(ctx, f.bob, book)
	if err != nil {
		t.Fatalf("bob: %v", err)
	}
	if _, err := f.loans.AdminDecide(ctx, f.admin, a.ID, model.DecisionApprove, ""); err != nil {
		t.Fatalf("approve alice: %v", err)
	}
	_, err = f.loans.AdminDecide(ctx, f.admin, b.ID, model.DecisionApprove, "")
	if !errors.Is(err, errs.ErrInsufficientStock) || !errs.IsRetryable(err) {
		t.Fatalf("want retryable insufficient stock, got %v", err)
	}
	got, err := f.store.Loans().Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusRequested || got.Version != b.Version {
		t.Fatalf("failed approval must leave the loan untouched: %+v", got)
	}
}

func TestLoan_RepeatedDecisionIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Capitães da Areia", 2, 0)
	l := f.activeLoan(f.alice, book)

	before := f.available(book)
	if _, err := f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, ""); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("second approve: want invalid transition, got %v", err)
	}
	if got := f.available(book); got != before {
		t.Fatalf("stock changed by repeated decision: %d -> %d", before, got)
	}

	if _, err := f.loans.RequestReturn(ctx, f.alice, l.ID, ""); err != nil {
		t.Fatalf("request return: %v", err)
	}
	if _, err := f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, ""); err != nil {
		t.Fatalf("approve return: %v", err)
	}
	if _, err := f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, ""); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("approve returned loan: want invalid transition, got %v", err)
	}
	if got := f.available(book); got != 2 {
		t.Fatalf("copy released twice or not at all: available=%d", got)
	}
}

func TestLoan_TerminalStatesAreSinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("A Moreninha", 1, 0)
	l, err := f.loans.RequestLoan(ctx, f.alice, book)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if l, err = f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionReject, "sem motivo"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if l.Status != model.StatusRejected {
		t.Fatalf("want rejected, got %s", l.Status)
	}

	ops := map[string]func() error{
		"approve": func() error {
			_, err := f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionApprove, "")
			return err
		},
		"return": func() error { _, err := f.loans.RequestReturn(ctx, f.alice, l.ID, ""); return err },
		"renew": func() error {
			_, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "por favor")
			return err
		},
		"manual_return": func() error { _, err := f.loans.AdminManualReturn(ctx, f.admin, l.ID, ""); return err },
		"admin_renew": func() error {
			_, err := f.loans.AdminRenew(ctx, f.admin, l.ID, "", &model.AdminOverride{Note: "x"})
			return err
		},
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, errs.ErrInvalidTransition) {
			t.Fatalf("%s on rejected loan: want invalid transition, got %v", name, err)
		}
	}
}

func TestLoan_BorrowingLimits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	books := make([]uuid.UUID, 4)
	for i := range books {
		books[i] = f.book("Livro", 5, 0)
	}
	for i := 0; i < 3; i++ {
		if _, err := f.loans.RequestLoan(ctx, f.alice, books[i]); err != nil {
			t.Fatalf("loan %d: %v", i, err)
		}
	}
	_, err := f.loans.RequestLoan(ctx, f.alice, books[3])
	if policyCode(err) != errs.CodeLoanLimit {
		t.Fatalf("fourth loan: want loan limit, got %v", err)
	}
	if !strings.Contains(err.Error(), "limite de 3") {
		t.Fatalf("message must name the limit: %q", err.Error())
	}
	if _, err := f.loans.RequestLoan(ctx, f.bob, books[0]); err != nil {
		t.Fatalf("other user: %v", err)
	}
	if _, err := f.loans.RequestLoan(ctx, f.bob, books[0]); policyCode(err) != errs.CodeDuplicateLoan {
		t.Fatalf("duplicate: want duplicate loan, got %v", err)
	}
}

func TestLoan_AdminRenewOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Memórias Póstumas", 1, 0)
	l := f.activeLoan(f.alice, book)

	var err error
	for i := 0; i < 2; i++ {
		if l, err = f.loans.AdminRenew(ctx, f.admin, l.ID, "", nil); err != nil {
			t.Fatalf("renew %d: %v", i, err)
		}
	}
	if l.RenewalCount != 2 {
		t.Fatalf("want 2 renewals, got %d", l.RenewalCount)
	}
	if _, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "preciso"); policyCode(err) != errs.CodeRenewalLimit {
		t.Fatalf("user at cap: want renewal limit, got %v", err)
	}
	if _, err := f.loans.AdminRenew(ctx, f.admin, l.ID, "", nil); policyCode(err) != errs.CodeRenewalLimit {
		t.Fatalf("admin without override: want renewal limit, got %v", err)
	}
	if _, err := f.loans.AdminRenew(ctx, f.admin, l.ID, "", &model.AdminOverride{Note: " "}); policyCode(err) != errs.CodeOverrideNoteRequired {
		t.Fatalf("blank override: want note required, got %v", err)
	}

	due := l.DueDate
	l, err = f.loans.AdminRenew(ctx, f.admin, l.ID, "aluno em intercâmbio", &model.AdminOverride{Note: "exceção aprovada"})
	if err != nil {
		t.Fatalf("override renew: %v", err)
	}
	if l.RenewalCount != 3 || !l.DueDate.After(due) {
		t.Fatalf("override must renew: %+v", l)
	}
	if !strings.Contains(l.AdminNotes, "[override] exceção aprovada") || !strings.Contains(l.AdminNotes, "aluno em intercâmbio") {
		t.Fatalf("override not recorded: %q", l.AdminNotes)
	}
}

func TestLoan_ManualLoanAndReturn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Triste Fim", 1, 0)

	l, err := f.loans.AdminManualLoan(ctx, f.admin, f.bob.UserID, book, 7, "balcão")
	if err != nil {
		t.Fatalf("manual loan: %v", err)
	}
	if l.Status != model.StatusActive || !l.DueDate.Equal(f.clock().AddDate(0, 0, 7)) {
		t.Fatalf("unexpected manual loan: %+v", l)
	}
	if got := f.available(book); got != 0 {
		t.Fatalf("manual loan must reserve, available=%d", got)
	}
	if _, err := f.loans.AdminManualLoan(ctx, f.admin, f.alice.UserID, book, 0, ""); policyCode(err) != errs.CodeInsufficientStock {
		t.Fatalf("no copies: want insufficient stock, got %v", err)
	}

	if l, err = f.loans.AdminManualReturn(ctx, f.admin, l.ID, "devolvido no balcão"); err != nil {
		t.Fatalf("manual return: %v", err)
	}
	if l.Status != model.StatusReturned || f.available(book) != 1 {
		t.Fatalf("manual return must release: %s, available=%d", l.Status, f.available(book))
	}

	req, err := f.loans.RequestLoan(ctx, f.alice, book)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := f.loans.AdminManualReturn(ctx, f.admin, req.ID, ""); !errors.Is(err, errs.ErrInvalidTransition) {
		t.Fatalf("manual return of requested loan: want invalid transition, got %v", err)
	}
}

func TestLoan_RejectReturnKeepsDueDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Senhora", 1, 0)
	l := f.activeLoan(f.alice, book)
	due := l.DueDate

	if _, err := f.loans.RequestReturn(ctx, f.alice, l.ID, "terminei"); err != nil {
		t.Fatalf("request return: %v", err)
	}
	l, err := f.loans.AdminDecide(ctx, f.admin, l.ID, model.DecisionReject, "livro não entregue")
	if err != nil {
		t.Fatalf("reject return: %v", err)
	}
	if l.Status != model.StatusActive || !l.DueDate.Equal(due) {
		t.Fatalf("reject return must restore active with same due: %+v", l)
	}
	if got := f.available(book); got != 0 {
		t.Fatalf("rejected return must keep the copy reserved, available=%d", got)
	}
}

func TestLoan_OverdueIsDerived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("O Guarani", 1, 0)
	l := f.activeLoan(f.alice, book)

	f.advance(16 * 24 * time.Hour)
	overdue, err := f.loans.ListUserLoans(ctx, f.alice, f.alice.UserID, model.StatusOverdue)
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].Status != model.StatusActive {
		t.Fatalf("want one stored-active overdue loan, got %+v", overdue)
	}
	if st := overdue[0].DisplayStatus(f.clock()); st != model.StatusOverdue {
		t.Fatalf("display status want overdue, got %s", st)
	}
	active, err := f.loans.ListLoansByStatus(ctx, f.admin, model.StatusActive)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("overdue loans must not list as active, got %d", len(active))
	}

	if _, err := f.loans.RequestReturn(ctx, f.alice, l.ID, "atrasado"); err != nil {
		t.Fatalf("overdue loans accept return requests: %v", err)
	}
}

func TestLoan_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book("Quincas Borba", 1, 0)
	l := f.activeLoan(f.alice, book)

	if _, err := f.loans.RequestReturn(ctx, f.bob, l.ID, ""); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign return: want forbidden, got %v", err)
	}
	if _, err := f.loans.AdminDecide(ctx, f.alice, l.ID, model.DecisionApprove, ""); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("user deciding: want forbidden, got %v", err)
	}
	if _, err := f.loans.RequestLoan(ctx, model.Identity{}, book); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("anonymous: want unauthorized, got %v", err)
	}
	if _, err := f.loans.GetUserActiveLoans(ctx, f.bob, f.alice.UserID); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("foreign listing: want forbidden, got %v", err)
	}
	if _, err := f.loans.RequestReturn(ctx, f.alice, uuid.Must(uuid.NewV4()), ""); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown loan: want not found, got %v", err)
	}
	if _, err := f.loans.AdminDecide(ctx, f.admin, l.ID, model.Decision("maybe"), ""); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("bad decision: want validation, got %v", err)
	}
	if _, err := f.loans.UpdateSettings(ctx, f.alice, policy.DefaultSettings()); !errors.Is(err, errs.ErrForbidden) {
		t.Fatalf("user updating settings: want forbidden, got %v", err)
	}
	if _, err := f.loans.UpdateSettings(ctx, f.admin, policy.Settings{}); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("zero settings: want validation, got %v", err)
	}

	active, err := f.loans.GetUserActiveLoans(ctx, f.alice, f.alice.UserID)
	if err != nil || len(active) != 1 {
		t.Fatalf("own active loans: %v %d", err, len(active))
	}
}

func TestLoan_SeedsStockFromCatalog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())
	f.dir.PutBook(model.Book{ID: id, Title: "Sagarana", StockForLoan: 2})

	if _, err := f.loans.RequestLoan(ctx, f.alice, id); err != nil {
		t.Fatalf("request unseeded book: %v", err)
	}
	if got := f.available(id); got != 2 {
		t.Fatalf("seeded available want 2, got %d", got)
	}
	if _, err := f.loans.RequestLoan(ctx, f.alice, uuid.Must(uuid.NewV4())); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("unknown book: want not found, got %v", err)
	}
}

func TestLoan_SettingsSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tight := policy.Settings{MaxSimultaneousLoans: 1, LoanDurationDays: 7, MaxRenewals: 0, RenewalDurationDays: 7}
	if _, err := f.loans.UpdateSettings(ctx, f.admin, tight); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := f.loans.Settings(); got != tight {
		t.Fatalf("settings not replaced: %+v", got)
	}

	a := f.book("A", 1, 0)
	b := f.book("B", 1, 0)
	l := f.activeLoan(f.alice, a)
	if !l.DueDate.Equal(l.BorrowedAt.AddDate(0, 0, 7)) {
		t.Fatalf("new loan duration not applied: %v", l.DueDate)
	}
	if _, err := f.loans.RequestLoan(ctx, f.alice, b); policyCode(err) != errs.CodeLoanLimit {
		t.Fatalf("want loan limit 1, got %v", err)
	}
	if _, err := f.loans.RequestRenewal(ctx, f.alice, l.ID, "x"); policyCode(err) != errs.CodeRenewalLimit {
		t.Fatalf("want renewal limit 0, got %v", err)
	}
}

// Under random concurrent traffic, every book's available copies equal its stock
// minus the loans that hold a copy.
func TestLoan_StockMatchesOutstandingLoans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	books := []uuid.UUID{f.book("X", 2, 0), f.book("Y", 3, 0)}
	users := make([]model.Identity, 5)
	for i := range users {
		users[i] = model.Identity{UserID: uuid.Must(uuid.NewV4())}
	}
	holding := []model.LoanStatus{model.StatusActive, model.StatusPendingReturn, model.StatusPendingRenewal}

	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 60; i++ {
				u := users[rnd.Intn(len(users))]
				switch rnd.Intn(5) {
				case 0:
					_, _ = f.loans.RequestLoan(ctx, u, books[rnd.Intn(len(books))])
				case 1, 2:
					pending, _ := f.store.Loans().ListByStatus(ctx, model.AwaitingDecisionStatuses...)
					if len(pending) > 0 {
						d := model.DecisionApprove
						if rnd.Intn(3) == 0 {
							d = model.DecisionReject
						}
						_, _ = f.loans.AdminDecide(ctx, f.admin, pending[rnd.Intn(len(pending))].ID, d, "")
					}
				case 3:
					active, _ := f.store.Loans().ListByStatus(ctx, model.StatusActive)
					if len(active) > 0 {
						l := active[rnd.Intn(len(active))]
						_, _ = f.loans.RequestReturn(ctx, model.Identity{UserID: l.UserID}, l.ID, "")
					}
				case 4:
					active, _ := f.store.Loans().ListByStatus(ctx, model.StatusActive)
					if len(active) > 0 {
						l := active[rnd.Intn(len(active))]
						_, _ = f.loans.RequestRenewal(ctx, model.Identity{UserID: l.UserID}, l.ID, "mais")
					}
				}
			}
		}(int64(w + 1))
	}
	wg.Wait()

	held, err := f.store.Loans().ListByStatus(ctx, holding...)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, b := range books {
		st, err := f.stock.GetStock(ctx, b)
		if err != nil {
			t.Fatalf("stock: %v", err)
		}
		n := 0
		for _, l := range held {
			if l.BookID == b {
				n++
			}
		}
		if !st.Consistent() || st.AvailableForLoan != st.StockForLoan-n {
			t.Fatalf("book %s: stock=%d available=%d holding=%d", b, st.StockForLoan, st.AvailableForLoan, n)
		}
	}
}
