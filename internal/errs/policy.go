package errs

import "fmt"

// PolicyCode identifies a user-correctable rule violation.
type PolicyCode string

const (
	CodeInsufficientStock     PolicyCode = "insufficient_stock"
	CodeLoanLimit             PolicyCode = "loan_limit"
	CodeDuplicateLoan         PolicyCode = "duplicate_loan"
	CodeRenewalLimit          PolicyCode = "renewal_limit"
	CodeJustificationRequired PolicyCode = "justification_required"
	CodeOverrideNoteRequired  PolicyCode = "override_note_required"
)

// PolicyError is a business rule rejection. Message is shown to the user verbatim.
type PolicyError struct {
	Code    PolicyCode
	Message string
}

// NewPolicy builds a PolicyError with a formatted message.
func NewPolicy(code PolicyCode, format string, args ...any) *PolicyError {
	return &PolicyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *PolicyError) Error() string { return e.Message }

// Is lets errors.Is(err, ErrPolicy) match any policy rejection.
func (e *PolicyError) Is(target error) bool { return target == ErrPolicy }
