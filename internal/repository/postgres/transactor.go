package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/NordCoder/Gatekeeper/internal/domain/auth"
)

var _ auth.Transactor = (*Transactor)(nil)

// Transactor runs a function inside one transaction. Nested calls join the
// outer transaction; only the outermost call commits.
type Transactor struct {
	db     *DB
	logger *zap.Logger
}

func NewTransactor(db *DB, logger *zap.Logger) *Transactor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transactor{db: db, logger: logger}
}

func (t *Transactor) WithTx(ctx context.Context, function func(ctx context.Context) error) (txErr error) {
	if _, err := extractTx(ctx); err == nil {
		return function(ctx)
	}

	ctxWithTx, tx, err := injectTx(ctx, t.db)
	if err != nil {
		return fmt.Errorf("can not inject transaction, error: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctxWithTx)
			panic(p)
		}
		if txErr != nil {
			if err := tx.Rollback(ctxWithTx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
				t.logger.Error("rollback", zap.Error(err))
			}
			return
		}
		if err := tx.Commit(ctxWithTx); err != nil {
			t.logger.Error("commit", zap.Error(err))
			txErr = fmt.Errorf("commit: %w", err)
		}
	}()

	return function(ctxWithTx)
}

type txInjector struct{}

var ErrTxNotFound = errors.New("tx not found in context")

func injectTx(ctx context.Context, db *DB) (context.Context, pgx.Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	return context.WithValue(ctx, txInjector{}, tx), tx, nil
}

func extractTx(ctx context.Context) (pgx.Tx, error) {
	tx, ok := ctx.Value(txInjector{}).(pgx.Tx)
	if !ok {
		return nil, ErrTxNotFound
	}
	return tx, nil
}

type execQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// execQueryer returns the transaction bound to ctx, or the pool.
func (db *DB) execQueryer(ctx context.Context) execQueryer {
	if tx, err := extractTx(ctx); err == nil && tx != nil {
		return tx
	}
	return db.Pool
}
