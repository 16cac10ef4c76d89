package memory

import (
	"fmt"
	"io"

	"github.com/gofrs/uuid/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/and161185/bookloan/internal/errs"
	"github.com/and161185/bookloan/internal/model"
)

type seedBook struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	StockForLoan int       `json:"stock_for_loan"`
	StockForSale int       `json:"stock_for_sale"`
}

type seedUser struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Email   string    `json:"email"`
	IsAdmin bool      `json:"is_admin"`
}

type seedFile struct {
	Books []seedBook `json:"books"`
	Users []seedUser `json:"users"`
}

// LoadDirectory reads a JSON document {"books": [...], "users": [...]} into a new Directory.
func LoadDirectory(r io.Reader) (*Directory, error) {
	var f seedFile
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: catalog: %v", errs.ErrValidation, err)
	}
	d := NewDirectory()
	for _, b := range f.Books {
		if b.ID == uuid.Nil || b.StockForLoan < 0 || b.StockForSale < 0 {
			return nil, fmt.Errorf("%w: book %q", errs.ErrValidation, b.Title)
		}
		d.PutBook(model.Book{ID: b.ID, Title: b.Title, Author: b.Author, StockForLoan: b.StockForLoan, StockForSale: b.StockForSale})
	}
	for _, u := range f.Users {
		if u.ID == uuid.Nil {
			return nil, fmt.Errorf("%w: user %q", errs.ErrValidation, u.Name)
		}
		d.PutUser(model.User{ID: u.ID, Name: u.Name, Email: u.Email, IsAdmin: u.IsAdmin})
	}
	return d, nil
}
