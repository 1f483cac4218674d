package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"reservation-service/internal/models"
	"reservation-service/internal/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// Postgres error codes that mean "run the transaction again"
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
)

// PostgresStore is the postgres implementation of Store
type PostgresStore struct {
	db         *sqlx.DB
	maxRetries int
	logger     *zap.Logger
}

// NewStore creates a new database store
func NewStore(databaseURL string, maxRetries int) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if maxRetries < 1 {
		maxRetries = 1
	}

	return &PostgresStore{db: db, maxRetries: maxRetries, logger: util.GetLogger()}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *PostgresStore) GetDB() *sqlx.DB {
	return s.db
}

// Migrate creates the tables if they do not exist
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// WithTx runs fn inside a READ COMMITTED transaction. Row locks taken by the
// Tx methods provide the per-key serialization; deadlocks and serialization
// failures are retried up to maxRetries times.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if !isRetryable(err) {
			return err
		}
		util.StoreTxConflictsTotal.WithLabelValues("postgres").Inc()
		s.logger.Debug("Retrying transaction", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", models.ErrConflict, err)
}

func (s *PostgresStore) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

func isRetryable(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqSerializationFailure || pqErr.Code == pqDeadlockDetected
}

// pgTx implements Tx on top of a sqlx transaction
type pgTx struct {
	tx *sqlx.Tx
}

// GetStock reads remaining stock (FOR SHARE lock)
func (t *pgTx) GetStock(ctx context.Context, itemID string) (int, error) {
	return t.readStock(ctx, "SELECT remaining_stock FROM items WHERE id = $1 FOR SHARE", itemID)
}

// LockStock reads remaining stock (FOR UPDATE lock)
func (t *pgTx) LockStock(ctx context.Context, itemID string) (int, error) {
	return t.readStock(ctx, "SELECT remaining_stock FROM items WHERE id = $1 FOR UPDATE", itemID)
}

func (t *pgTx) readStock(ctx context.Context, query, itemID string) (int, error) {
	var remaining int
	err := t.tx.GetContext(ctx, &remaining, query, itemID)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("item %s: %w", itemID, models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return remaining, nil
}

// DecrementStock subtracts amount as a single conditional update
func (t *pgTx) DecrementStock(ctx context.Context, itemID string, amount int) (int, error) {
	var remaining int
	err := t.tx.GetContext(ctx, &remaining,
		`UPDATE items SET remaining_stock = remaining_stock - $1, updated_at = NOW()
		 WHERE id = $2 AND remaining_stock >= $1
		 RETURNING remaining_stock`,
		amount, itemID)
	if err == nil {
		return remaining, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to decrement stock: %w", err)
	}

	current, err := t.readStock(ctx, "SELECT remaining_stock FROM items WHERE id = $1", itemID)
	if err != nil {
		return 0, err
	}
	return 0, fmt.Errorf("item %s: available=%d, requested=%d: %w",
		itemID, current, amount, models.ErrInsufficientStock)
}

// PutItem upserts an item
func (t *pgTx) PutItem(ctx context.Context, item *models.Item) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO items (id, remaining_stock) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET remaining_stock = EXCLUDED.remaining_stock, updated_at = NOW()`,
		item.ID, item.RemainingStock)
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}
