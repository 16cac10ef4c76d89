package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bookloan/internal/model"
)

// Catalog provides read-only book reference data.
type Catalog interface {
	// GetBook loads a book by ID.
	GetBook(ctx context.Context, id uuid.UUID) (model.Book, error)
	// ListBooks returns every book in the catalog.
	ListBooks(ctx context.Context) ([]model.Book, error)
}

// Users provides read-only user reference data.
type Users interface {
	// GetUser loads a user by ID.
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
}
