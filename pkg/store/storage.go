package store

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned by Transaction.Get for a missing key.
	ErrNotFound = errors.New("key not found")
	// ErrTransactionRO is returned when a read transaction is written to.
	ErrTransactionRO = errors.New("transaction is read-only")
)

// Storage is the ordered key-value backend holding the quad tables. Every
// Insert, Delete and Scan on a TripleStore runs in one of its transactions.
type Storage interface {
	// Begin opens a transaction. Scans use read transactions; loading and
	// deleting quads use writable ones.
	Begin(writable bool) (Transaction, error)
	Close() error
	// Sync flushes committed writes to disk. It is a no-op in memory.
	Sync() error
}

// Transaction is a snapshot of the quad tables. Keys are addressed per
// table and never carry the table prefix.
type Transaction interface {
	Get(table Table, key []byte) ([]byte, error)
	Set(table Table, key, value []byte) error
	Delete(table Table, key []byte) error

	// Scan iterates in key order over the keys of table starting with
	// prefix, stopping before end. A nil prefix covers the whole table and
	// a nil end leaves the range open. Quad scans pass the encoded bound
	// positions of a pattern as prefix.
	Scan(table Table, prefix, end []byte) (Iterator, error)

	Commit() error
	Rollback() error
}

// Iterator walks the keys returned by Transaction.Scan.
type Iterator interface {
	Next() bool
	// Key returns the current key without the table prefix. It is only
	// valid until the next call to Next.
	Key() []byte
	Value() ([]byte, error)
	Close() error
}

// Table selects a key space. Index tables hold one key per quad, made of the
// concatenated fixed-width encoded terms in the table's order, and an empty
// value.
type Table byte

const (
	// TableID2Str maps the hash of a long term string to the string.
	TableID2Str Table = iota

	// Default graph triples, keyed without a graph term.
	TableSPO
	TablePOS
	TableOSP

	// Every quad, the default graph included, in the six orders needed to
	// answer any pattern with a prefix scan.
	TableSPOG
	TablePOSG
	TableOSPG
	TableGSPO
	TableGPOS
	TableGOSP

	// TableGraphs lists the named graphs holding at least one quad.
	TableGraphs
)

var tableNames = [...]string{
	TableID2Str: "id2str",
	TableSPO:    "spo",
	TablePOS:    "pos",
	TableOSP:    "osp",
	TableSPOG:   "spog",
	TablePOSG:   "posg",
	TableOSPG:   "ospg",
	TableGSPO:   "gspo",
	TableGPOS:   "gpos",
	TableGOSP:   "gosp",
	TableGraphs: "graphs",
}

// String returns the index name shown in scan logs.
func (t Table) String() string {
	if int(t) < len(tableNames) {
		return tableNames[t]
	}
	return "unknown"
}

// TablePrefix returns the one-byte namespace of a table in the backend.
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey returns key inside the namespace of table. The result never
// aliases key.
func PrefixKey(table Table, key []byte) []byte {
	out := make([]byte, 0, 1+len(key))
	out = append(out, byte(table))
	return append(out, key...)
}
