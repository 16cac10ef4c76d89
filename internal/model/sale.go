package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// PaymentStatus is the payment state of a sale.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
)

// Sale reserves Quantity copies of the sale pool until its payment is resolved.
type Sale struct {
	ID          uuid.UUID
	BookID      uuid.UUID
	UserID      uuid.UUID
	Quantity    int
	AmountCents int64
	Payment     PaymentStatus
	CreatedAt   time.Time
	ResolvedAt  time.Time
	Version     int64
}
