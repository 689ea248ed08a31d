package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/aleksaelezovic/trigofusion/pkg/store"
)

// Options configures a BadgerStorage.
type Options struct {
	// Path is the data directory. It is ignored for in-memory storage.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's own log output. Nil silences it.
	Logger *slog.Logger
}

// BadgerStorage implements Storage using BadgerDB
type BadgerStorage struct {
	db       *badger.DB
	inMemory bool
}

// NewBadgerStorage creates a new BadgerDB-backed storage at path
func NewBadgerStorage(path string) (*BadgerStorage, error) {
	return Open(Options{Path: path})
}

// NewMemoryStorage creates a BadgerDB storage that lives in memory only
func NewMemoryStorage() (*BadgerStorage, error) {
	return Open(Options{InMemory: true})
}

// Open creates a BadgerDB-backed storage from options
func Open(o Options) (*BadgerStorage, error) {
	var opts badger.Options
	if o.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if o.Path == "" {
			return nil, errors.New("storage path is required unless in memory")
		}
		opts = badger.DefaultOptions(o.Path).WithSyncWrites(o.SyncWrites)
	}
	opts.Logger = nil
	if o.Logger != nil {
		opts.Logger = &slogAdapter{logger: o.Logger.With(slog.String("component", "badger"))}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open badger db")
	}

	return &BadgerStorage{db: db, inMemory: o.InMemory}, nil
}

// slogAdapter implements badger.Logger on top of slog
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) log(level slog.Level, format string, args ...any) {
	if !a.logger.Enabled(context.Background(), level) {
		return
	}
	a.logger.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (a *slogAdapter) Errorf(format string, args ...any) { a.log(slog.LevelError, format, args...) }

func (a *slogAdapter) Warningf(format string, args ...any) { a.log(slog.LevelWarn, format, args...) }

func (a *slogAdapter) Infof(format string, args ...any) { a.log(slog.LevelInfo, format, args...) }

func (a *slogAdapter) Debugf(format string, args ...any) { a.log(slog.LevelDebug, format, args...) }

// Begin starts a new transaction
func (s *BadgerStorage) Begin(writable bool) (store.Transaction, error) {
	txn := s.db.NewTransaction(writable)
	return &BadgerTransaction{
		txn:      txn,
		writable: writable,
	}, nil
}

// Close closes the storage
func (s *BadgerStorage) Close() error {
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *BadgerStorage) Sync() error {
	if s.inMemory {
		return nil
	}
	return s.db.Sync()
}

// BadgerTransaction implements Transaction using BadgerDB
type BadgerTransaction struct {
	txn      *badger.Txn
	writable bool
}

// Get retrieves a value by key
func (t *BadgerTransaction) Get(table store.Table, key []byte) ([]byte, error) {
	prefixedKey := store.PrefixKey(table, key)
	item, err := t.txn.Get(prefixedKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	var value []byte
	err = item.Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Set stores a key-value pair
func (t *BadgerTransaction) Set(table store.Table, key, value []byte) error {
	if !t.writable {
		return store.ErrTransactionRO
	}

	prefixedKey := store.PrefixKey(table, key)
	return translateWriteErr(t.txn.Set(prefixedKey, value))
}

// Delete removes a key
func (t *BadgerTransaction) Delete(table store.Table, key []byte) error {
	if !t.writable {
		return store.ErrTransactionRO
	}

	prefixedKey := store.PrefixKey(table, key)
	return translateWriteErr(t.txn.Delete(prefixedKey))
}

func translateWriteErr(err error) error {
	if errors.Is(err, badger.ErrTxnTooBig) {
		return store.ErrTxnTooBig
	}
	return err
}

// Scan iterates over the keys of table starting with prefix, up to end
func (t *BadgerTransaction) Scan(table store.Table, start, end []byte) (store.Iterator, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false // index entries carry no values

	// Seek to start position
	var seekKey []byte
	var scanPrefix []byte
	tablePrefix := store.TablePrefix(table)

	if start != nil {
		seekKey = store.PrefixKey(table, start)
		// Use the start key as prefix to narrow down the scan
		scanPrefix = seekKey
	} else {
		seekKey = tablePrefix
		// Use the table prefix for full table scans
		scanPrefix = tablePrefix
	}

	opts.Prefix = scanPrefix
	it := t.txn.NewIterator(opts)

	// Calculate end key with prefix
	var endKey []byte
	if end != nil {
		endKey = store.PrefixKey(table, end)
	}

	return &BadgerIterator{
		it:         it,
		prefix:     tablePrefix, // Use table prefix for stripping
		scanPrefix: scanPrefix,  // Use full prefix for validation
		endKey:     endKey,
		seekKey:    seekKey,
		started:    false,
		hasValue:   false,
	}, nil
}

// Commit commits the transaction. Committing a read-only transaction only
// releases it.
func (t *BadgerTransaction) Commit() error {
	if !t.writable {
		t.txn.Discard()
		return nil
	}
	return t.txn.Commit()
}

// Rollback rolls back the transaction
func (t *BadgerTransaction) Rollback() error {
	t.txn.Discard()
	return nil
}

// BadgerIterator implements Iterator using BadgerDB
type BadgerIterator struct {
	it         *badger.Iterator
	prefix     []byte // Table prefix for stripping from keys
	scanPrefix []byte // Full prefix used for BadgerDB filtering
	endKey     []byte
	seekKey    []byte
	started    bool
	hasValue   bool
}

// Next advances to the next item
func (i *BadgerIterator) Next() bool {
	if !i.started {
		i.it.Seek(i.seekKey)
		i.started = true
	} else {
		i.it.Next()
	}

	// Check if iterator is still valid
	if !i.it.Valid() {
		i.hasValue = false
		return false
	}

	// Check if we've reached the end key
	if i.endKey != nil {
		if bytes.Compare(i.it.Item().Key(), i.endKey) >= 0 {
			i.hasValue = false
			return false
		}
	}

	i.hasValue = true
	return true
}

// Key returns the current key (without the table prefix)
func (i *BadgerIterator) Key() []byte {
	if !i.hasValue {
		return nil
	}

	key := i.it.Item().Key()
	// Remove table prefix
	if len(key) > len(i.prefix) {
		return key[len(i.prefix):]
	}
	return nil
}

// Value returns the current value
func (i *BadgerIterator) Value() ([]byte, error) {
	if !i.hasValue {
		return nil, store.ErrNotFound
	}

	var value []byte
	err := i.it.Item().Value(func(val []byte) error {
		value = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return value, nil
}

// Close closes the iterator
func (i *BadgerIterator) Close() error {
	i.it.Close()
	return nil
}
