// Package kvstore implements store.Store on BadgerDB.
//
// Badger runs update transactions under snapshot isolation with conflict
// detection on every key read: if another transaction commits a write to a
// key this transaction has read, Commit fails with badger.ErrConflict. WithTx
// reruns the closure on a fresh snapshot in that case, which gives per-key
// atomic read-modify-write without holding locks.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"reservation-service/internal/models"
	"reservation-service/internal/store"
	"reservation-service/internal/util"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// DefaultMaxRetries bounds how often a conflicting transaction is rerun
const DefaultMaxRetries = 10

// Config holds configuration for a badger-backed store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// MaxRetries bounds conflict retries per WithTx call.
	MaxRetries int

	// Logger receives badger's internal log lines. Nil disables them.
	Logger *zap.Logger
}

// DefaultConfig returns durable defaults for the given directory
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		MaxRetries: DefaultMaxRetries,
	}
}

// InMemoryConfig returns a configuration for tests
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		MaxRetries: DefaultMaxRetries,
	}
}

// badgerLogger adapts zap to badger's Logger interface
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

// Store is the badger implementation of store.Store
type Store struct {
	db         *badger.DB
	maxRetries int
	logger     *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) a badger database
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}

	return &Store{db: db, maxRetries: maxRetries, logger: util.GetLogger()}, nil
}

// OpenInMemory opens an in-memory store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports an error once the database is closed
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger database is closed")
	}
	return nil
}

// RunGC runs one round of value log garbage collection
func (s *Store) RunGC(discardRatio float64) error {
	err := s.db.RunValueLogGC(discardRatio)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

// WithTx runs fn in an update transaction, retrying on commit conflicts.
// A transaction over badger's batch limits fails with ErrInvalidArgument.
func (s *Store) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		err = s.runTx(fn)
		if errors.Is(err, badger.ErrTxnTooBig) {
			return fmt.Errorf("%w: transaction exceeds badger batch limits: %v", models.ErrInvalidArgument, err)
		}
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		util.StoreTxConflictsTotal.WithLabelValues("badger").Inc()
		s.logger.Debug("Retrying transaction", zap.Int("attempt", attempt))
	}
	return fmt.Errorf("%w: transaction retries exhausted: %v", models.ErrConflict, err)
}

func (s *Store) runTx(fn func(tx store.Tx) error) error {
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(&kvTx{txn: txn}); err != nil {
		return err
	}
	return txn.Commit()
}
