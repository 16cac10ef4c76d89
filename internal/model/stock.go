package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// StockKind selects the loan or the sale pool of a book.
type StockKind string

const (
	KindLoan StockKind = "loan"
	KindSale StockKind = "sale"
)

// Valid reports whether k is a known pool.
func (k StockKind) Valid() bool { return k == KindLoan || k == KindSale }

// BookStock holds the availability counters of one book.
// Invariant: 0 <= Available* <= Stock*.
type BookStock struct {
	BookID           uuid.UUID
	StockForLoan     int
	AvailableForLoan int
	StockForSale     int
	AvailableForSale int
	UpdatedAt        time.Time
}

// Stock returns the physical copies of pool k.
func (s BookStock) Stock(k StockKind) int {
	if k == KindSale {
		return s.StockForSale
	}
	return s.StockForLoan
}

// Available returns the unreserved copies of pool k.
func (s BookStock) Available(k StockKind) int {
	if k == KindSale {
		return s.AvailableForSale
	}
	return s.AvailableForLoan
}

// Reserved returns the copies of pool k held by non-terminal reservations.
func (s BookStock) Reserved(k StockKind) int { return s.Stock(k) - s.Available(k) }

// WithAvailable returns a copy with the available counter of pool k set to n.
func (s BookStock) WithAvailable(k StockKind, n int) BookStock {
	if k == KindSale {
		s.AvailableForSale = n
	} else {
		s.AvailableForLoan = n
	}
	return s
}

// Consistent reports whether both pools respect 0 <= available <= stock.
func (s BookStock) Consistent() bool {
	return s.AvailableForLoan >= 0 && s.AvailableForLoan <= s.StockForLoan &&
		s.AvailableForSale >= 0 && s.AvailableForSale <= s.StockForSale
}

// Restock returns s with new physical counts, shifting availability by the stock delta
// so that outstanding reservations are preserved. ok is false if that would underflow.
func (s BookStock) Restock(forLoan, forSale int) (out BookStock, ok bool) {
	out = s
	out.AvailableForLoan += forLoan - s.StockForLoan
	out.AvailableForSale += forSale - s.StockForSale
	out.StockForLoan = forLoan
	out.StockForSale = forSale
	return out, out.Consistent()
}
