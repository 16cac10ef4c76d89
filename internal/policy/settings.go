// Package policy evaluates borrowing and renewal eligibility. It is pure: it reads the
// state it is given and never mutates it.
package policy

import (
	"fmt"

	"github.com/and161185/bookloan/internal/errs"
)

// Settings are the business rules an admin configures. Values are copied, never shared.
type Settings struct {
	MaxSimultaneousLoans int
	LoanDurationDays     int
	MaxRenewals          int
	RenewalDurationDays  int
}

// DefaultSettings returns the rules used when nothing else is configured.
func DefaultSettings() Settings {
	return Settings{
		MaxSimultaneousLoans: 3,
		LoanDurationDays:     15,
		MaxRenewals:          2,
		RenewalDurationDays:  15,
	}
}

// Validate rejects settings that would make every request fail or dates go backwards.
func (s Settings) Validate() error {
	switch {
	case s.MaxSimultaneousLoans <= 0:
		return fmt.Errorf("%w: max simultaneous loans must be > 0", errs.ErrValidation)
	case s.LoanDurationDays <= 0:
		return fmt.Errorf("%w: loan duration must be > 0", errs.ErrValidation)
	case s.MaxRenewals < 0:
		return fmt.Errorf("%w: max renewals must be >= 0", errs.ErrValidation)
	case s.RenewalDurationDays <= 0:
		return fmt.Errorf("%w: renewal duration must be > 0", errs.ErrValidation)
	}
	return nil
}
