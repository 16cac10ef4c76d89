package model

import "github.com/gofrs/uuid/v5"

// Book is catalog reference data; it is owned by the catalog, not by this service.
type Book struct {
	ID           uuid.UUID
	Title        string
	Author       string
	StockForLoan int
	StockForSale int
}

// User is directory reference data used to denormalise pending items.
type User struct {
	ID      uuid.UUID
	Name    string
	Email   string
	IsAdmin bool
}

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID  uuid.UUID
	IsAdmin bool
}
