package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
	"github.com/and161185/bookloan/internal/repository"
)

// Directory is an in-process catalog and user directory.
type Directory struct {
	mu    sync.RWMutex
	books map[uuid.UUID]model.Book
	users map[uuid.UUID]model.User
}

var (
	_ repository.Catalog = (*Directory)(nil)
	_ repository.Users   = (*Directory)(nil)
)

// NewDirectory constructs an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		books: make(map[uuid.UUID]model.Book),
		users: make(map[uuid.UUID]model.User),
	}
}

// PutBook adds or replaces a book.
func (d *Directory) PutBook(b model.Book) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.books[b.ID] = b
}

// PutUser adds or replaces a user.
func (d *Directory) PutUser(u model.User) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// GetBook loads a book by ID.
func (d *Directory) GetBook(_ context.Context, id uuid.UUID) (model.Book, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.books[id]
	if !ok {
		return model.Book{}, errs.ErrNotFound
	}
	return b, nil
}

// ListBooks returns all books ordered by title.
func (d *Directory) ListBooks(_ context.Context) ([]model.Book, error) {
	d.mu.RLock()
	out := make([]model.Book, 0, len(d.books))
	for _, b := range d.books {
		out = append(out, b)
	}
	d.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Book) int {
		if c := cmp.Compare(a.Title, b.Title); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
	return out, nil
}

// GetUser loads a user by ID.
func (d *Directory) GetUser(_ context.Context, id uuid.UUID) (model.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return model.User{}, errs.ErrNotFound
	}
	return u, nil
}
