// Package grpcserver exposes the book loan gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/bookloan/internal/convert"
	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/service"
)

// Server wires services into gRPC handlers.
type Server struct {
	loans   service.LoanService
	pending service.PendingService
	sales   service.SaleService
	stock   service.StockService
	now     func() time.Time
}

// New constructs a gRPC server with injected services.
func New(loans service.LoanService, pending service.PendingService, sales service.SaleService, stock service.StockService) *Server {
	return &Server{loans: loans, pending: pending, sales: sales, stock: stock, now: time.Now}
}

// handlerFunc serves one method for an authenticated caller.
type handlerFunc func(s *Server, ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error)

var methods = map[string]handlerFunc{
	"RequestLoan":        (*Server).requestLoan,
	"RequestReturn":      (*Server).requestReturn,
	"RequestRenewal":     (*Server).requestRenewal,
	"AdminDecide":        (*Server).adminDecide,
	"AdminManualLoan":    (*Server).adminManualLoan,
	"AdminManualReturn":  (*Server).adminManualReturn,
	"AdminRenew":         (*Server).adminRenew,
	"ListPending":        (*Server).listPending,
	"ResolvePending":     (*Server).resolvePending,
	"GetUserActiveLoans": (*Server).getUserActiveLoans,
	"ListUserLoans":      (*Server).listUserLoans,
	"ListLoansByStatus":  (*Server).listLoansByStatus,
	"GetStock":           (*Server).getStock,
	"SetStock":           (*Server).setStock,
	"SyncStock":          (*Server).syncStock,
	"CreateSale":         (*Server).createSale,
	"GetSettings":        (*Server).getSettings,
	"UpdateSettings":     (*Server).updateSettings,
}

// Call dispatches method for the identity stored in ctx and maps the result to a gRPC status.
func (s *Server) Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	h, ok := methods[method]
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "method %s not implemented", method)
	}
	who, ok := IdentityFromCtx(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "no auth")
	}
	out, err := h(s, ctx, who, convert.NewFields(req))
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes. Policy messages are user-facing and pass verbatim.
func toStatus(err error) error {
	var pe *errs.PolicyError
	switch {
	case errors.As(err, &pe):
		return status.Error(codes.FailedPrecondition, pe.Message)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "não encontrado")
	case errs.IsRetryable(err):
		return status.Error(codes.Aborted, "conflito concorrente, tente novamente")
	case errors.Is(err, errs.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "unauthenticated")
	case errors.Is(err, errs.ErrForbidden):
		return status.Error(codes.PermissionDenied, "forbidden")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	}
	return status.Error(codes.Internal, "internal")
}

// subject returns user_id when given, else the caller.
func subject(who model.Identity, f convert.Fields) (uuid.UUID, error) {
	if !f.Has("user_id") {
		return who.UserID, nil
	}
	return f.UUID("user_id")
}

func (s *Server) loan(l model.Loan, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	return convert.ToStructLoan(l, s.now()), nil
}

func (s *Server) loanList(ls []model.Loan, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	return convert.ToStructLoans(ls, s.now()), nil
}

func stockOut(st model.BookStock, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, err
	}
	return convert.ToStructStock(st), nil
}

// --- Loans ---

func (s *Server) requestLoan(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	bookID, err := f.UUID("book_id")
	if err != nil {
		return nil, err
	}
	return s.loan(s.loans.RequestLoan(ctx, who, bookID))
}

func (s *Server) requestReturn(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	loanID, err := f.UUID("loan_id")
	if err != nil {
		return nil, err
	}
	just, err := f.String("justification")
	if err != nil {
		return nil, err
	}
	return s.loan(s.loans.RequestReturn(ctx, who, loanID, just))
}

func (s *Server) requestRenewal(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	loanID, err := f.UUID("loan_id")
	if err != nil {
		return nil, err
	}
	just, err := f.String("justification")
	if err != nil {
		return nil, err
	}
	return s.loan(s.loans.RequestRenewal(ctx, who, loanID, just))
}

func (s *Server) adminDecide(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	loanID, err := f.UUID("loan_id")
	if err != nil {
		return nil, err
	}
	d, notes, err := decision(f)
	if err != nil {
		return nil, err
	}
	return s.loan(s.loans.AdminDecide(ctx, who, loanID, d, notes))
}

func (s *Server) adminManualLoan(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	userID, err := f.UUID("user_id")
	if err != nil {
		return nil, err
	}
	bookID, err := f.UUID("book_id")
	if err != nil {
		return nil, err
	}
	days, err := f.Int("duration_days")
	if err != nil {
		return nil, err
	}
	notes, err := f.String("notes")
	if err != nil {
		return nil, err
	}
	return s.loan(s.loans.AdminManualLoan(ctx, who, userID, bookID, days, notes))
}

func (s *Server) adminManualReturn(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	loanID, err := f.UUID("loan_id")
	if err != nil {
		return nil, err
	}
	notes, err := f.String("notes")
	if err != nil {
		return nil, err
	}
	return s.loan(s.loans.AdminManualReturn(ctx, who, loanID, notes))
}

func (s *Server) adminRenew(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	loanID, err := f.UUID("loan_id")
	if err != nil {
		return nil, err
	}
	notes, err := f.String("notes")
	if err != nil {
		return nil, err
	}
	var override *model.AdminOverride
	if f.Has("override_note") {
		note, err := f.String("override_note")
		if err != nil {
			return nil, err
		}
		override = &model.AdminOverride{Note: note}
	}
	return s.loan(s.loans.AdminRenew(ctx, who, loanID, notes, override))
}

func (s *Server) getUserActiveLoans(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	userID, err := subject(who, f)
	if err != nil {
		return nil, err
	}
	return s.loanList(s.loans.GetUserActiveLoans(ctx, who, userID))
}

func (s *Server) listUserLoans(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	userID, err := subject(who, f)
	if err != nil {
		return nil, err
	}
	sts, err := f.Statuses("statuses")
	if err != nil {
		return nil, err
	}
	return s.loanList(s.loans.ListUserLoans(ctx, who, userID, sts...))
}

func (s *Server) listLoansByStatus(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	sts, err := f.Statuses("statuses")
	if err != nil {
		return nil, err
	}
	if len(sts) == 0 {
		return nil, fmt.Errorf("%w: statuses is required", errs.ErrValidation)
	}
	return s.loanList(s.loans.ListLoansByStatus(ctx, who, sts...))
}

// --- Pending ---

func (s *Server) listPending(ctx context.Context, who model.Identity, _ convert.Fields) (*structpb.Struct, error) {
	items, err := s.pending.ListPending(ctx, who)
	if err != nil {
		return nil, err
	}
	return convert.ToStructPending(items), nil
}

func (s *Server) resolvePending(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	kind, err := f.String("kind")
	if err != nil {
		return nil, err
	}
	refID, err := f.UUID("ref_id")
	if err != nil {
		return nil, err
	}
	d, notes, err := decision(f)
	if err != nil {
		return nil, err
	}
	if err := s.pending.Resolve(ctx, who, model.PendingKind(kind), refID, d, notes); err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"ok": structpb.NewBoolValue(true)}}, nil
}

func decision(f convert.Fields) (model.Decision, string, error) {
	raw, err := f.String("decision")
	if err != nil {
		return "", "", err
	}
	d := model.Decision(raw)
	if !d.Valid() {
		return "", "", fmt.Errorf("%w: decision must be approve or reject", errs.ErrValidation)
	}
	notes, err := f.String("notes")
	if err != nil {
		return "", "", err
	}
	return d, notes, nil
}

// --- Stock & sales ---

func (s *Server) getStock(ctx context.Context, _ model.Identity, f convert.Fields) (*structpb.Struct, error) {
	bookID, err := f.UUID("book_id")
	if err != nil {
		return nil, err
	}
	return stockOut(s.stock.GetStock(ctx, bookID))
}

func (s *Server) setStock(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	bookID, err := f.UUID("book_id")
	if err != nil {
		return nil, err
	}
	forLoan, err := f.Int("stock_for_loan")
	if err != nil {
		return nil, err
	}
	forSale, err := f.Int("stock_for_sale")
	if err != nil {
		return nil, err
	}
	return stockOut(s.stock.SetStock(ctx, who, bookID, forLoan, forSale))
}

// syncStock refreshes one book from the catalog, or every book when book_id is absent.
func (s *Server) syncStock(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	if f.Has("book_id") {
		bookID, err := f.UUID("book_id")
		if err != nil {
			return nil, err
		}
		return stockOut(s.stock.SyncFromCatalog(ctx, who, bookID))
	}
	n, err := s.stock.SyncAll(ctx, who)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{"synced": structpb.NewNumberValue(float64(n))}}, nil
}

func (s *Server) createSale(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	bookID, err := f.UUID("book_id")
	if err != nil {
		return nil, err
	}
	qty, err := f.Int("quantity")
	if err != nil {
		return nil, err
	}
	amount, err := f.Int64("amount_cents")
	if err != nil {
		return nil, err
	}
	sale, err := s.sales.CreateSale(ctx, who, bookID, qty, amount)
	if err != nil {
		return nil, err
	}
	return convert.ToStructSale(sale), nil
}

// --- Settings ---

func (s *Server) getSettings(_ context.Context, _ model.Identity, _ convert.Fields) (*structpb.Struct, error) {
	return convert.ToStructSettings(s.loans.Settings()), nil
}

func (s *Server) updateSettings(ctx context.Context, who model.Identity, f convert.Fields) (*structpb.Struct, error) {
	next, err := convert.FromStructSettings(f, s.loans.Settings())
	if err != nil {
		return nil, err
	}
	out, err := s.loans.UpdateSettings(ctx, who, next)
	if err != nil {
		return nil, err
	}
	return convert.ToStructSettings(out), nil
}
