package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/bookloan/internal/repository"
)

// Store implements repository.Store on a connection pool.
type Store struct{ db *DB }

var _ repository.Store = (*Store)(nil)

// NewStore constructs a store over db.
func NewStore(db *DB) *Store { return &Store{db: db} }

// Stock returns a ledger whose statements run directly on the pool.
func (s *Store) Stock() repository.StockLedger { return &StockRepo{q: s.db.Pool} }

// Loans returns a loan repository whose statements run directly on the pool.
func (s *Store) Loans() repository.LoanRepository { return &LoanRepo{q: s.db.Pool} }

// Sales returns a sale repository whose statements run directly on the pool.
func (s *Store) Sales() repository.SaleRepository { return &SaleRepo{q: s.db.Pool} }

// InTx runs fn in a READ COMMITTED transaction. Rows read through tx are locked
// (SELECT ... FOR UPDATE) until commit or rollback. A panic in fn rolls back
// and is re-raised.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	tx, err := s.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()
	return fn(ctx, txRepos{q: tx})
}

type txRepos struct{ q querier }

func (t txRepos) Stock() repository.StockLedger    { return &StockRepo{q: t.q, lock: true} }
func (t txRepos) Loans() repository.LoanRepository { return &LoanRepo{q: t.q, lock: true} }
func (t txRepos) Sales() repository.SaleRepository { return &SaleRepo{q: t.q, lock: true} }
