package policy

import (
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
)

// Result is the outcome of an eligibility check.
type Result struct {
	Allowed bool
	Reason  *errs.PolicyError
}

// Err converts the result to an error if not allowed.
func (r Result) Err() error {
	if r.Allowed {
		return nil
	}
	return r.Reason
}

func allow() Result { return Result{Allowed: true} }

func deny(code errs.PolicyCode, format string, args ...any) Result {
	return Result{Reason: errs.NewPolicy(code, format, args...)}
}

// CanBorrow decides whether userID may request bookID.
// Rules, in order:
//   - the user holds no outstanding loan of the same book
//   - the user's outstanding loans are below MaxSimultaneousLoans
//   - the loan pool of the book has an available copy
//
// userLoans must be the user's loans; loans of other users are ignored.
func CanBorrow(s Settings, userID, bookID uuid.UUID, userLoans []model.Loan, availableForLoan int) Result {
	outstanding := 0
	for _, l := range userLoans {
		if l.UserID != userID || !l.IsOutstanding() {
			continue
		}
		if l.BookID == bookID {
			return deny(errs.CodeDuplicateLoan, "Você já possui um empréstimo em andamento deste livro")
		}
		outstanding++
	}
	if outstanding >= s.MaxSimultaneousLoans {
		return deny(errs.CodeLoanLimit, "Você atingiu o limite de %d empréstimos ativos", s.MaxSimultaneousLoans)
	}
	if availableForLoan <= 0 {
		return deny(errs.CodeInsufficientStock, "Não há exemplares disponíveis para empréstimo")
	}
	return allow()
}

// CanRenew decides whether loan may be renewed once more.
// A non-nil override lifts the renewal cap but must carry a note.
func CanRenew(s Settings, loan model.Loan, override *model.AdminOverride) Result {
	if loan.RenewalCount < s.MaxRenewals {
		return allow()
	}
	if override == nil {
		return deny(errs.CodeRenewalLimit, "Limite de %d renovações atingido", s.MaxRenewals)
	}
	if strings.TrimSpace(override.Note) == "" {
		return deny(errs.CodeOverrideNoteRequired, "Exceção administrativa exige uma observação")
	}
	return allow()
}

// RequireJustification rejects blank user justifications.
func RequireJustification(text string) Result {
	if strings.TrimSpace(text) == "" {
		return deny(errs.CodeJustificationRequired, "Informe uma justificativa")
	}
	return allow()
}

// ComputeDueDate adds whole calendar days to from, keeping the wall-clock time.
func ComputeDueDate(from time.Time, durationDays int) time.Time {
	return from.AddDate(0, 0, durationDays)
}
