// Package model defines domain entities used by services and repositories.
package model

import (
	"slices"
	"time"

	"github.com/gofrs/uuid/v5"
)

// LoanStatus is the lifecycle state of a loan.
type LoanStatus string

const (
	StatusRequested      LoanStatus = "requested"
	StatusActive         LoanStatus = "active"
	StatusPendingReturn  LoanStatus = "pending_return"
	StatusPendingRenewal LoanStatus = "pending_renewal"
	StatusReturned       LoanStatus = "returned"
	StatusRejected       LoanStatus = "rejected"

	// StatusOverdue is a display classification of an active loan past its due date.
	// It is never stored and never a transition target.
	StatusOverdue LoanStatus = "overdue"
)

// OutstandingStatuses are the stored statuses counted against the borrowing limit.
var OutstandingStatuses = []LoanStatus{
	StatusRequested, StatusActive, StatusPendingReturn, StatusPendingRenewal,
}

// AwaitingDecisionStatuses are the stored statuses that wait for an admin.
var AwaitingDecisionStatuses = []LoanStatus{
	StatusRequested, StatusPendingReturn, StatusPendingRenewal,
}

// allowedTransitions is the stored-status graph. Terminal states have no outgoing edges.
// active -> active covers admin manual renewals, active -> returned admin manual returns.
var allowedTransitions = map[LoanStatus][]LoanStatus{
	StatusRequested:      {StatusActive, StatusRejected},
	StatusActive:         {StatusActive, StatusPendingReturn, StatusPendingRenewal, StatusReturned},
	StatusPendingReturn:  {StatusActive, StatusReturned},
	StatusPendingRenewal: {StatusActive},
}

// ParseLoanStatus validates s against the known statuses, overdue included.
func ParseLoanStatus(s string) (LoanStatus, bool) {
	st := LoanStatus(s)
	switch st {
	case StatusRequested, StatusActive, StatusPendingReturn, StatusPendingRenewal,
		StatusReturned, StatusRejected, StatusOverdue:
		return st, true
	}
	return "", false
}

// IsTerminal reports whether no transition leaves s.
func (s LoanStatus) IsTerminal() bool { return s == StatusReturned || s == StatusRejected }

// CanTransition reports whether the stored graph has an edge from -> to.
func CanTransition(from, to LoanStatus) bool {
	return slices.Contains(allowedTransitions[from], to)
}

// Loan is a single lending of one copy of a book to a user.
type Loan struct {
	ID           uuid.UUID
	BookID       uuid.UUID
	UserID       uuid.UUID
	Status       LoanStatus
	BorrowedAt   time.Time // zero until the loan first becomes active
	DueDate      time.Time
	ReturnedAt   time.Time // zero unless returned
	RenewalCount int
	// Justification is the text of the latest user return/renewal request.
	Justification string
	AdminNotes    string
	// RequestedAt is when the latest user request awaiting a decision was made.
	RequestedAt time.Time
	CreatedAt   time.Time
	Version     int64 // incremented on every transition
}

// DisplayStatus derives the status shown to callers: active loans past due read as overdue.
func (l Loan) DisplayStatus(now time.Time) LoanStatus {
	if l.Status == StatusActive && !l.DueDate.IsZero() && l.DueDate.Before(now) {
		return StatusOverdue
	}
	return l.Status
}

// IsOutstanding reports whether the loan still holds (or may hold) a copy.
func (l Loan) IsOutstanding() bool { return slices.Contains(OutstandingStatuses, l.Status) }

// NewLoan is a creation intent; ID is generated by the caller.
type NewLoan struct {
	ID          uuid.UUID
	BookID      uuid.UUID
	UserID      uuid.UUID
	Status      LoanStatus
	BorrowedAt  time.Time
	DueDate     time.Time
	AdminNotes  string
	RequestedAt time.Time
}

// Loan materialises the intent as version 1.
func (n NewLoan) Loan(createdAt time.Time) Loan {
	return Loan{
		ID:          n.ID,
		BookID:      n.BookID,
		UserID:      n.UserID,
		Status:      n.Status,
		BorrowedAt:  n.BorrowedAt,
		DueDate:     n.DueDate,
		AdminNotes:  n.AdminNotes,
		RequestedAt: n.RequestedAt,
		CreatedAt:   createdAt,
		Version:     1,
	}
}

// LoanChange lists the fields a transition sets; nil means unchanged.
type LoanChange struct {
	BorrowedAt    *time.Time
	DueDate       *time.Time
	ReturnedAt    *time.Time
	RenewalCount  *int
	Justification *string
	AdminNotes    *string
	RequestedAt   *time.Time
}

// Apply returns a copy of l moved to status to with ch applied and the version bumped.
func (l Loan) Apply(to LoanStatus, ch LoanChange) Loan {
	l.Status = to
	if ch.BorrowedAt != nil {
		l.BorrowedAt = *ch.BorrowedAt
	}
	if ch.DueDate != nil {
		l.DueDate = *ch.DueDate
	}
	if ch.ReturnedAt != nil {
		l.ReturnedAt = *ch.ReturnedAt
	}
	if ch.RenewalCount != nil {
		l.RenewalCount = *ch.RenewalCount
	}
	if ch.Justification != nil {
		l.Justification = *ch.Justification
	}
	if ch.AdminNotes != nil {
		l.AdminNotes = *ch.AdminNotes
	}
	if ch.RequestedAt != nil {
		l.RequestedAt = *ch.RequestedAt
	}
	l.Version++
	return l
}
