package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// querier is the subset of *sql.DB and *sql.Tx the repos use.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// conn returns the transaction carried by ctx, or db when there is none.
// Repos never take a *sql.Tx argument; joining a transaction is a matter of
// passing the context WithTx handed to the callback.
func conn(ctx context.Context, db *sql.DB) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return db
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Store bundles all repos over one connection pool.
type Store struct {
	*CourtRepo
	*HoldRepo
	*PaymentRepo
	*ReservationRepo
	*AnomalyRepo
	*LedgerRepo
	*DepositRepo

	db         *sql.DB
	maxRetries int
}

// NewStore returns a Store bound to db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		CourtRepo:       NewCourtRepo(db),
		HoldRepo:        NewHoldRepo(db),
		PaymentRepo:     NewPaymentRepo(db),
		ReservationRepo: NewReservationRepo(db),
		AnomalyRepo:     NewAnomalyRepo(db),
		LedgerRepo:      NewLedgerRepo(db),
		DepositRepo:     NewDepositRepo(db),
		db:              db,
		maxRetries:      3,
	}
}

// WithTx runs fn inside a SERIALIZABLE transaction.  Repo calls made with
// the context passed to fn join the transaction.  A nested WithTx call joins
// the outer transaction instead of opening a new one.  When InnoDB aborts
// the transaction with a deadlock or lock wait timeout, fn is run again on a
// fresh transaction, up to maxRetries attempts in total.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !retryable(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction retries exhausted: %w", err)
}

func (s *Store) runTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, rbErr)
			}
			return
		}
		err = tx.Commit()
	}()
	return fn(context.WithValue(ctx, txKey{}, tx))
}

// Ping checks the connection for the health endpoint.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func nullUint(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func uintPtr(n sql.NullInt64) *uint64 {
	if !n.Valid {
		return nil
	}
	v := uint64(n.Int64)
	return &v
}

func affectedOne(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
