package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/policy"
	"github.com/and161185/bookloan/internal/repository"
)

// LoanService drives loans through their lifecycle. Every operation re-reads the loan
// inside one store transaction and changes the loan and the stock ledger together.
type LoanService interface {
	// RequestLoan creates a requested loan for the caller if the borrowing rules allow it.
	RequestLoan(ctx context.Context, who model.Identity, bookID uuid.UUID) (model.Loan, error)
	// RequestReturn asks an admin to confirm the return of an active loan.
	RequestReturn(ctx context.Context, who model.Identity, loanID uuid.UUID, justification string) (model.Loan, error)
	// RequestRenewal asks an admin to extend an active loan.
	RequestRenewal(ctx context.Context, who model.Identity, loanID uuid.UUID, justification string) (model.Loan, error)
	// AdminDecide approves or rejects whatever the loan is waiting for.
	AdminDecide(ctx context.Context, who model.Identity, loanID uuid.UUID, d model.Decision, notes string) (model.Loan, error)
	// AdminManualLoan registers a loan that starts active, e.g. at the counter.
	AdminManualLoan(ctx context.Context, who model.Identity, userID, bookID uuid.UUID, durationDays int, notes string) (model.Loan, error)
	// AdminManualReturn closes an active or return-pending loan.
	AdminManualReturn(ctx context.Context, who model.Identity, loanID uuid.UUID, notes string) (model.Loan, error)
	// AdminRenew extends an active loan; past the renewal cap it needs an override.
	AdminRenew(ctx context.Context, who model.Identity, loanID uuid.UUID, notes string, override *model.AdminOverride) (model.Loan, error)
	// GetUserActiveLoans returns the user's loans that still hold or wait for a copy.
	GetUserActiveLoans(ctx context.Context, who model.Identity, userID uuid.UUID) ([]model.Loan, error)
	// ListUserLoans returns the user's history, optionally filtered by display status.
	ListUserLoans(ctx context.Context, who model.Identity, userID uuid.UUID, statuses ...model.LoanStatus) ([]model.Loan, error)
	// ListLoansByStatus returns every loan in any of the display statuses.
	ListLoansByStatus(ctx context.Context, who model.Identity, statuses ...model.LoanStatus) ([]model.Loan, error)
	// Settings returns the rules currently in force.
	Settings() policy.Settings
	// UpdateSettings replaces the rules; operations already running keep their snapshot.
	UpdateSettings(ctx context.Context, who model.Identity, s policy.Settings) (policy.Settings, error)
}

// LoanServiceImpl is the LoanService over a transactional store.
type LoanServiceImpl struct {
	deps
	store    repository.Store
	settings atomic.Pointer[policy.Settings]
}

var _ LoanService = (*LoanServiceImpl)(nil)

// NewLoanService constructs the orchestrator over store with the given rules.
func NewLoanService(store repository.Store, settings policy.Settings, opts ...Option) *LoanServiceImpl {
	s := &LoanServiceImpl{deps: newDeps(opts), store: store}
	s.settings.Store(&settings)
	return s
}

// Settings returns a copy of the current rules.
func (s *LoanServiceImpl) Settings() policy.Settings { return *s.settings.Load() }

// UpdateSettings validates and swaps the rules.
func (s *LoanServiceImpl) UpdateSettings(_ context.Context, who model.Identity, next policy.Settings) (policy.Settings, error) {
	if err := requireAdmin(who); err != nil {
		return policy.Settings{}, err
	}
	if err := next.Validate(); err != nil {
		return policy.Settings{}, err
	}
	s.settings.Store(&next)
	s.log.Info("settings updated",
		zap.Stringer("by", who.UserID),
		zap.Int("max_loans", next.MaxSimultaneousLoans),
		zap.Int("loan_days", next.LoanDurationDays),
		zap.Int("max_renewals", next.MaxRenewals),
		zap.Int("renewal_days", next.RenewalDurationDays),
	)
	return next, nil
}

// RequestLoan checks the borrowing rules against the caller's outstanding loans and the
// book's availability. No copy is reserved until an admin approves.
func (s *LoanServiceImpl) RequestLoan(ctx context.Context, who model.Identity, bookID uuid.UUID) (model.Loan, error) {
	if err := requireUser(who); err != nil {
		return model.Loan{}, err
	}
	if bookID == uuid.Nil {
		return model.Loan{}, fmt.Errorf("%w: empty book id", errs.ErrValidation)
	}
	set := s.Settings()
	return s.create(ctx, "request_loan", who.UserID, bookID, func(ctx context.Context, tx repository.Tx, st model.BookStock, loans []model.Loan) (model.Loan, error) {
		if err := policy.CanBorrow(set, who.UserID, bookID, loans, st.AvailableForLoan).Err(); err != nil {
			return model.Loan{}, err
		}
		id, err := newID()
		if err != nil {
			return model.Loan{}, err
		}
		return tx.Loans().Create(ctx, model.NewLoan{
			ID:          id,
			BookID:      bookID,
			UserID:      who.UserID,
			Status:      model.StatusRequested,
			RequestedAt: s.clock(),
		})
	})
}

// AdminManualLoan runs the borrowing rules for userID, reserves a copy and creates the
// loan already active.
func (s *LoanServiceImpl) AdminManualLoan(
	ctx context.Context, who model.Identity, userID, bookID uuid.UUID, durationDays int, notes string,
) (model.Loan, error) {
	if err := requireAdmin(who); err != nil {
		return model.Loan{}, err
	}
	if userID == uuid.Nil || bookID == uuid.Nil {
		return model.Loan{}, fmt.Errorf("%w: empty user/book id", errs.ErrValidation)
	}
	if durationDays < 0 {
		return model.Loan{}, fmt.Errorf("%w: negative duration", errs.ErrValidation)
	}
	set := s.Settings()
	if durationDays == 0 {
		durationDays = set.LoanDurationDays
	}
	return s.create(ctx, "manual_loan", userID, bookID, func(ctx context.Context, tx repository.Tx, st model.BookStock, loans []model.Loan) (model.Loan, error) {
		if err := policy.CanBorrow(set, userID, bookID, loans, st.AvailableForLoan).Err(); err != nil {
			return model.Loan{}, err
		}
		if err := tx.Stock().Reserve(ctx, bookID, model.KindLoan, 1); err != nil {
			return model.Loan{}, err
		}
		id, err := newID()
		if err != nil {
			return model.Loan{}, err
		}
		now := s.clock()
		return tx.Loans().Create(ctx, model.NewLoan{
			ID:         id,
			BookID:     bookID,
			UserID:     userID,
			Status:     model.StatusActive,
			BorrowedAt: now,
			DueDate:    policy.ComputeDueDate(now, durationDays),
			AdminNotes: strings.TrimSpace(notes),
		})
	})
}

// RequestReturn moves an active loan, overdue or not, to pending_return. Stock is
// released only when an admin confirms.
func (s *LoanServiceImpl) RequestReturn(ctx context.Context, who model.Identity, loanID uuid.UUID, justification string) (model.Loan, error) {
	if err := requireUser(who); err != nil {
		return model.Loan{}, err
	}
	return s.transition(ctx, "request_return", loanID, func(ctx context.Context, tx repository.Tx, l model.Loan) (model.Loan, error) {
		if err := owns(who, l); err != nil {
			return model.Loan{}, err
		}
		if l.Status != model.StatusActive {
			return model.Loan{}, invalid("request return", l.Status)
		}
		text := strings.TrimSpace(justification)
		now := s.clock()
		return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusPendingReturn, model.LoanChange{
			Justification: &text,
			RequestedAt:   &now,
		})
	})
}

// RequestRenewal moves an active loan to pending_renewal when a justification is given
// and the renewal cap is not reached.
func (s *LoanServiceImpl) RequestRenewal(ctx context.Context, who model.Identity, loanID uuid.UUID, justification string) (model.Loan, error) {
	if err := requireUser(who); err != nil {
		return model.Loan{}, err
	}
	set := s.Settings()
	return s.transition(ctx, "request_renewal", loanID, func(ctx context.Context, tx repository.Tx, l model.Loan) (model.Loan, error) {
		if err := owns(who, l); err != nil {
			return model.Loan{}, err
		}
		if l.Status != model.StatusActive {
			return model.Loan{}, invalid("request renewal", l.Status)
		}
		if err := policy.RequireJustification(justification).Err(); err != nil {
			return model.Loan{}, err
		}
		if err := policy.CanRenew(set, l, nil).Err(); err != nil {
			return model.Loan{}, err
		}
		text := strings.TrimSpace(justification)
		now := s.clock()
		return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusPendingRenewal, model.LoanChange{
			Justification: &text,
			RequestedAt:   &now,
		})
	})
}

// AdminDecide resolves the request the loan is waiting for:
//
//	requested       approve: reserve a copy, active, due = now + loan duration
//	                reject:  rejected
//	pending_return  approve: returned, release the copy
//	                reject:  active, due date kept
//	pending_renewal approve: active, due += renewal duration, renewals + 1
//	                reject:  active, due date kept
//
// Any other status fails with ErrInvalidTransition, so a repeated decision never
// touches the stock twice.
func (s *LoanServiceImpl) AdminDecide(ctx context.Context, who model.Identity, loanID uuid.UUID, d model.Decision, notes string) (model.Loan, error) {
	if err := requireAdmin(who); err != nil {
		return model.Loan{}, err
	}
	if !d.Valid() {
		return model.Loan{}, fmt.Errorf("%w: decision %q", errs.ErrValidation, d)
	}
	set := s.Settings()
	event := string(d) + "_request"
	return s.transition(ctx, event, loanID, func(ctx context.Context, tx repository.Tx, l model.Loan) (model.Loan, error) {
		now := s.clock()
		ch := model.LoanChange{AdminNotes: withNote(l.AdminNotes, notes)}
		approve := d == model.DecisionApprove

		switch l.Status {
		case model.StatusRequested:
			if !approve {
				return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusRejected, ch)
			}
			if err := tx.Stock().Reserve(ctx, l.BookID, model.KindLoan, 1); err != nil {
				return model.Loan{}, err
			}
			due := policy.ComputeDueDate(now, set.LoanDurationDays)
			ch.BorrowedAt, ch.DueDate = &now, &due
			return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusActive, ch)

		case model.StatusPendingReturn:
			if !approve {
				return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusActive, ch)
			}
			ch.ReturnedAt = &now
			out, err := tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusReturned, ch)
			if err != nil {
				return model.Loan{}, err
			}
			return out, tx.Stock().Release(ctx, l.BookID, model.KindLoan, 1)

		case model.StatusPendingRenewal:
			// CanRenew was checked at request time; approval does not re-check it.
			if approve {
				due := policy.ComputeDueDate(l.DueDate, set.RenewalDurationDays)
				count := l.RenewalCount + 1
				ch.DueDate, ch.RenewalCount = &due, &count
			}
			return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusActive, ch)
		}
		return model.Loan{}, invalid(string(d), l.Status)
	})
}

// AdminManualReturn closes an active or return-pending loan and releases its copy.
func (s *LoanServiceImpl) AdminManualReturn(ctx context.Context, who model.Identity, loanID uuid.UUID, notes string) (model.Loan, error) {
	if err := requireAdmin(who); err != nil {
		return model.Loan{}, err
	}
	return s.transition(ctx, "manual_return", loanID, func(ctx context.Context, tx repository.Tx, l model.Loan) (model.Loan, error) {
		if l.Status != model.StatusActive && l.Status != model.StatusPendingReturn {
			return model.Loan{}, invalid("manual return", l.Status)
		}
		now := s.clock()
		out, err := tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusReturned, model.LoanChange{
			ReturnedAt: &now,
			AdminNotes: withNote(l.AdminNotes, notes),
		})
		if err != nil {
			return model.Loan{}, err
		}
		return out, tx.Stock().Release(ctx, l.BookID, model.KindLoan, 1)
	})
}

// AdminRenew extends an active loan by the renewal duration. Below the cap override is
// optional; at the cap it is required and recorded in the admin notes.
func (s *LoanServiceImpl) AdminRenew(
	ctx context.Context, who model.Identity, loanID uuid.UUID, notes string, override *model.AdminOverride,
) (model.Loan, error) {
	if err := requireAdmin(who); err != nil {
		return model.Loan{}, err
	}
	set := s.Settings()
	return s.transition(ctx, "manual_renewal", loanID, func(ctx context.Context, tx repository.Tx, l model.Loan) (model.Loan, error) {
		if l.Status != model.StatusActive {
			return model.Loan{}, invalid("renew", l.Status)
		}
		if err := policy.CanRenew(set, l, override).Err(); err != nil {
			return model.Loan{}, err
		}
		text := l.AdminNotes
		if n := withNote(text, notes); n != nil {
			text = *n
		}
		if l.RenewalCount >= set.MaxRenewals {
			text = *withNote(text, "[override] "+strings.TrimSpace(override.Note))
		}
		due := policy.ComputeDueDate(l.DueDate, set.RenewalDurationDays)
		count := l.RenewalCount + 1
		return tx.Loans().Transition(ctx, l.ID, l.Version, model.StatusActive, model.LoanChange{
			DueDate:      &due,
			RenewalCount: &count,
			AdminNotes:   &text,
		})
	})
}

// GetUserActiveLoans returns the outstanding loans of userID.
func (s *LoanServiceImpl) GetUserActiveLoans(ctx context.Context, who model.Identity, userID uuid.UUID) ([]model.Loan, error) {
	if err := canSee(who, userID); err != nil {
		return nil, err
	}
	return s.store.Loans().ListByUser(ctx, userID, model.OutstandingStatuses...)
}

// ListUserLoans returns all loans of userID, terminal ones included.
func (s *LoanServiceImpl) ListUserLoans(ctx context.Context, who model.Identity, userID uuid.UUID, statuses ...model.LoanStatus) ([]model.Loan, error) {
	if err := canSee(who, userID); err != nil {
		return nil, err
	}
	stored, keep := storedStatuses(statuses, s.clock())
	loans, err := s.store.Loans().ListByUser(ctx, userID, stored...)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(loans, func(l model.Loan) bool { return !keep(l) }), nil
}

// ListLoansByStatus returns loans in any of statuses; overdue selects active loans past due.
func (s *LoanServiceImpl) ListLoansByStatus(ctx context.Context, who model.Identity, statuses ...model.LoanStatus) ([]model.Loan, error) {
	if err := requireAdmin(who); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, fmt.Errorf("%w: at least one status", errs.ErrValidation)
	}
	stored, keep := storedStatuses(statuses, s.clock())
	loans, err := s.store.Loans().ListByStatus(ctx, stored...)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(loans, func(l model.Loan) bool { return !keep(l) }), nil
}

// storedStatuses maps display statuses to the stored statuses to query and a filter
// over the result. Overdue is read as active past its due date, and active then
// excludes overdue loans.
func storedStatuses(display []model.LoanStatus, now time.Time) ([]model.LoanStatus, func(model.Loan) bool) {
	if len(display) == 0 {
		return nil, func(model.Loan) bool { return true }
	}
	stored := make([]model.LoanStatus, 0, len(display))
	for _, st := range display {
		if st == model.StatusOverdue {
			st = model.StatusActive
		}
		if !slices.Contains(stored, st) {
			stored = append(stored, st)
		}
	}
	return stored, func(l model.Loan) bool { return slices.Contains(display, l.DisplayStatus(now)) }
}

type createFunc func(ctx context.Context, tx repository.Tx, st model.BookStock, userLoans []model.Loan) (model.Loan, error)

// create serialises on the book and the borrower, then runs fn with the book's stock and
// the borrower's outstanding loans read inside the transaction.
func (s *LoanServiceImpl) create(ctx context.Context, event string, userID, bookID uuid.UUID, fn createFunc) (model.Loan, error) {
	unlock, err := s.locks.Acquire(ctx, bookKey(bookID), userKey(userID))
	if err != nil {
		return model.Loan{}, err
	}
	defer unlock()

	var out model.Loan
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		st, err := s.stockFor(ctx, tx, bookID)
		if err != nil {
			return err
		}
		loans, err := tx.Loans().ListByUser(ctx, userID, model.OutstandingStatuses...)
		if err != nil {
			return err
		}
		out, err = fn(ctx, tx, st, loans)
		return err
	})
	s.record(event, "", out, err, zap.Stringer("book_id", bookID), zap.Stringer("user_id", userID))
	if err != nil {
		return model.Loan{}, err
	}
	return out, nil
}

type transitionFunc func(ctx context.Context, tx repository.Tx, current model.Loan) (model.Loan, error)

// transition serialises on the loan's book and the loan, then runs fn on the freshest
// stored record. Any error from fn rolls back the loan and the stock together.
func (s *LoanServiceImpl) transition(ctx context.Context, event string, loanID uuid.UUID, fn transitionFunc) (model.Loan, error) {
	if loanID == uuid.Nil {
		return model.Loan{}, fmt.Errorf("%w: empty loan id", errs.ErrValidation)
	}
	peek, err := s.store.Loans().Get(ctx, loanID)
	if err != nil {
		return model.Loan{}, err
	}
	unlock, err := s.locks.Acquire(ctx, bookKey(peek.BookID), loanKey(loanID))
	if err != nil {
		return model.Loan{}, err
	}
	defer unlock()

	var from model.LoanStatus
	var out model.Loan
	err = s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := tx.Loans().Get(ctx, loanID)
		if err != nil {
			return err
		}
		from = cur.Status
		out, err = fn(ctx, tx, cur)
		return err
	})
	s.record(event, from, out, err, zap.Stringer("loan_id", loanID), zap.Stringer("book_id", peek.BookID))
	if err != nil {
		return model.Loan{}, err
	}
	return out, nil
}

func (s *LoanServiceImpl) record(event string, from model.LoanStatus, out model.Loan, err error, fields ...zap.Field) {
	res := outcome(err)
	s.metrics.Transition(event, res)
	var pe *errs.PolicyError
	if errors.Is(err, errs.ErrInsufficientStock) || errors.As(err, &pe) && pe.Code == errs.CodeInsufficientStock {
		s.metrics.StockRejected(string(model.KindLoan))
	}
	fields = append(fields, zap.String("event", event))
	switch res {
	case "ok":
		if from == "" {
			// created; the id is only known now
			fields = append(fields, zap.Stringer("loan_id", out.ID))
		}
		fields = append(fields, zap.String("from", string(from)), zap.String("to", string(out.Status)))
		s.log.Info("loan transition", fields...)
	case "denied", "forbidden", "not_found", "invalid":
	default:
		s.log.Warn("loan transition failed", append(fields, zap.Error(err))...)
	}
}

func owns(who model.Identity, l model.Loan) error {
	if who.IsAdmin || who.UserID == l.UserID {
		return nil
	}
	return errs.ErrForbidden
}

func canSee(who model.Identity, userID uuid.UUID) error {
	if err := requireUser(who); err != nil {
		return err
	}
	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	if !who.IsAdmin && who.UserID != userID {
		return errs.ErrForbidden
	}
	return nil
}

func invalid(event string, from model.LoanStatus) error {
	return fmt.Errorf("%s on %s loan: %w", event, from, errs.ErrInvalidTransition)
}

// withNote appends note to the existing admin notes; nil means unchanged.
func withNote(existing, note string) *string {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil
	}
	if existing != "" {
		note = existing + "\n" + note
	}
	return &note
}
