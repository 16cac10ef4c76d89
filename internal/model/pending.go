package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// PendingKind identifies what an admin is asked to decide.
type PendingKind string

const (
	PendingLoanRequest    PendingKind = "loan_request"
	PendingReturnRequest  PendingKind = "return_request"
	PendingRenewalRequest PendingKind = "renewal_request"
	PendingPayment        PendingKind = "payment"
)

// PendingKindFor maps a loan status to its pending kind; ok is false if nothing awaits a decision.
func PendingKindFor(s LoanStatus) (PendingKind, bool) {
	switch s {
	case StatusRequested:
		return PendingLoanRequest, true
	case StatusPendingReturn:
		return PendingReturnRequest, true
	case StatusPendingRenewal:
		return PendingRenewalRequest, true
	}
	return "", false
}

// PendingItem is a read-only projection rendered in the admin confirmation queue.
type PendingItem struct {
	Kind          PendingKind
	RefID         uuid.UUID // loan id or sale id
	BookID        uuid.UUID
	BookTitle     string
	UserID        uuid.UUID
	UserName      string
	UserEmail     string
	RequestedAt   time.Time
	Justification string
	RenewalCount  int
	Quantity      int
	AmountCents   int64
}

// Decision is an admin verdict on a pending item.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool { return d == DecisionApprove || d == DecisionReject }

// AdminOverride lets an admin renew past the renewal cap. Note is mandatory and is
// recorded in the loan's admin notes.
type AdminOverride struct {
	Note string
}
