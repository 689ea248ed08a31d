package store

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/internal/encoding"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// ErrTxnTooBig is returned by Transaction.Set when the transaction cannot
// hold more writes. The caller commits and continues in a new transaction.
var ErrTxnTooBig = errors.New("transaction too big")

// TripleStore manages the RDF quads with 11 indexes
type TripleStore struct {
	storage Storage
	encoder TermEncoder
	decoder TermDecoder
	logger  *slog.Logger
}

var _ QuadStorage = (*TripleStore)(nil)

// NewTripleStore creates a new triplestore
func NewTripleStore(storage Storage, encoder TermEncoder, decoder TermDecoder) *TripleStore {
	return &TripleStore{
		storage: storage,
		encoder: encoder,
		decoder: decoder,
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger used for scan diagnostics.
func (s *TripleStore) WithLogger(logger *slog.Logger) *TripleStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Close closes the triplestore
func (s *TripleStore) Close() error {
	return s.storage.Close()
}

// Insert adds quads to the store. Inserting an existing quad is a no-op.
func (s *TripleStore) Insert(ctx context.Context, quads ...*rdf.Quad) error {
	return s.writeBatch(ctx, quads, s.insertQuadInTxn)
}

// InsertQuadsBatch inserts quads using as few transactions as possible
func (s *TripleStore) InsertQuadsBatch(quads []*rdf.Quad) error {
	return s.Insert(context.Background(), quads...)
}

// Delete removes quads from the store. Missing quads are ignored.
func (s *TripleStore) Delete(ctx context.Context, quads ...*rdf.Quad) error {
	return s.writeBatch(ctx, quads, s.deleteQuadInTxn)
}

// DeleteQuadsBatch deletes quads using as few transactions as possible
func (s *TripleStore) DeleteQuadsBatch(quads []*rdf.Quad) error {
	return s.Delete(context.Background(), quads...)
}

// writeBatch applies op to every quad, splitting the work over several
// transactions when one grows too big.
func (s *TripleStore) writeBatch(ctx context.Context, quads []*rdf.Quad, op func(Transaction, *rdf.Quad) error) error {
	txn, err := s.storage.Begin(true)
	if err != nil {
		return err
	}
	defer func() { _ = txn.Rollback() }()

	for i := 0; i < len(quads); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := op(txn, quads[i])
		if errors.Is(err, ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return errors.Wrap(err, "commit partial batch")
			}
			if txn, err = s.storage.Begin(true); err != nil {
				return err
			}
			err = op(txn, quads[i])
		}
		if err != nil {
			return errors.Wrapf(err, "quad %d", i)
		}
	}
	return txn.Commit()
}

// encodedQuad is a quad in key form, in S, P, O, G order.
type encodedQuad [4]EncodedTerm

func (s *TripleStore) encodeQuad(quad *rdf.Quad) (encodedQuad, [4]*string, error) {
	var enc encodedQuad
	var strs [4]*string
	graph := quad.Graph
	if graph == nil {
		graph = rdf.NewDefaultGraph()
	}
	names := [4]string{"subject", "predicate", "object", "graph"}
	for i, term := range []rdf.Term{quad.Subject, quad.Predicate, quad.Object, graph} {
		e, str, err := s.encoder.EncodeTerm(term)
		if err != nil {
			return enc, strs, errors.Wrapf(err, "failed to encode %s", names[i])
		}
		enc[i], strs[i] = e, str
	}
	return enc, strs, nil
}

// indexKeys returns the key of a quad in every index it belongs to.
func (s *TripleStore) indexKeys(q encodedQuad) map[Table][]byte {
	sub, pred, obj, graph := q[0], q[1], q[2], q[3]
	keys := map[Table][]byte{
		TableSPOG: s.encoder.EncodeQuadKey(sub, pred, obj, graph),
		TablePOSG: s.encoder.EncodeQuadKey(pred, obj, sub, graph),
		TableOSPG: s.encoder.EncodeQuadKey(obj, sub, pred, graph),
		TableGSPO: s.encoder.EncodeQuadKey(graph, sub, pred, obj),
		TableGPOS: s.encoder.EncodeQuadKey(graph, pred, obj, sub),
		TableGOSP: s.encoder.EncodeQuadKey(graph, obj, sub, pred),
	}
	if isDefaultGraph(graph) {
		keys[TableSPO] = s.encoder.EncodeQuadKey(sub, pred, obj)
		keys[TablePOS] = s.encoder.EncodeQuadKey(pred, obj, sub)
		keys[TableOSP] = s.encoder.EncodeQuadKey(obj, sub, pred)
	}
	return keys
}

func isDefaultGraph(e EncodedTerm) bool {
	return encoding.Kind(e[0]) == encoding.KindDefaultGraph
}

// insertQuadInTxn inserts a quad within an existing transaction
func (s *TripleStore) insertQuadInTxn(txn Transaction, quad *rdf.Quad) error {
	enc, strs, err := s.encodeQuad(quad)
	if err != nil {
		return err
	}
	for i := range enc {
		if err := s.storeString(txn, enc[i], strs[i]); err != nil {
			return err
		}
	}

	emptyValue := []byte{}
	for table, key := range s.indexKeys(enc) {
		if err := txn.Set(table, key, emptyValue); err != nil {
			return err
		}
	}
	if !isDefaultGraph(enc[3]) {
		if err := txn.Set(TableGraphs, enc[3][:], emptyValue); err != nil {
			return err
		}
	}
	return nil
}

// storeString stores a string in the id2str table if provided
func (s *TripleStore) storeString(txn Transaction, encoded EncodedTerm, str *string) error {
	if str == nil {
		return nil
	}

	key := encoded[1:] // the hash portion
	value := []byte(*str)

	existing, err := txn.Get(TableID2Str, key)
	if err == nil && bytes.Equal(existing, value) {
		return nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	return txn.Set(TableID2Str, key, value)
}

// deleteQuadInTxn deletes a quad within an existing transaction
func (s *TripleStore) deleteQuadInTxn(txn Transaction, quad *rdf.Quad) error {
	enc, _, err := s.encodeQuad(quad)
	if err != nil {
		return err
	}
	for table, key := range s.indexKeys(enc) {
		if err := txn.Delete(table, key); err != nil {
			return err
		}
	}

	// id2str entries may be shared with other quads and are kept.
	if isDefaultGraph(enc[3]) {
		return nil
	}
	it, err := txn.Scan(TableGSPO, enc[3][:], nil)
	if err != nil {
		return err
	}
	remaining := it.Next()
	_ = it.Close()
	if !remaining {
		return txn.Delete(TableGraphs, enc[3][:])
	}
	return nil
}

// ContainsQuad checks if a quad exists in the store
func (s *TripleStore) ContainsQuad(quad *rdf.Quad) (bool, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return false, err
	}
	defer func() { _ = txn.Rollback() }()

	enc, _, err := s.encodeQuad(quad)
	if err != nil {
		return false, err
	}
	_, err = txn.Get(TableSPOG, s.encoder.EncodeQuadKey(enc[0], enc[1], enc[2], enc[3]))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Count returns the number of quads in the store
func (s *TripleStore) Count(ctx context.Context) (int64, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return 0, err
	}
	defer func() { _ = txn.Rollback() }()

	it, err := txn.Scan(TableSPOG, nil, nil)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	count := int64(0)
	for it.Next() {
		if count%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		count++
	}
	return count, nil
}

// NamedGraphs lists the graphs holding at least one quad.
func (s *TripleStore) NamedGraphs(ctx context.Context) ([]rdf.Term, error) {
	txn, err := s.storage.Begin(false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = txn.Rollback() }()

	it, err := txn.Scan(TableGraphs, nil, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	lookup := newTermLookup(txn, s.decoder)
	var graphs []rdf.Term
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var enc EncodedTerm
		copy(enc[:], it.Key())
		term, err := lookup.decode(enc)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, term)
	}
	return graphs, nil
}

// termLookup decodes encoded terms, caching id2str reads for the lifetime
// of a transaction.
type termLookup struct {
	txn     Transaction
	decoder TermDecoder
	cache   map[EncodedTerm]rdf.Term
}

func newTermLookup(txn Transaction, decoder TermDecoder) *termLookup {
	return &termLookup{txn: txn, decoder: decoder, cache: make(map[EncodedTerm]rdf.Term)}
}

func (l *termLookup) decode(enc EncodedTerm) (rdf.Term, error) {
	if term, ok := l.cache[enc]; ok {
		return term, nil
	}
	var str *string
	if encoding.NeedsLookup(enc) {
		value, err := l.txn.Get(TableID2Str, enc[1:])
		if err != nil {
			return nil, errors.Wrapf(err, "id2str lookup for %x", enc)
		}
		s := string(value)
		str = &s
	}
	term, err := l.decoder.DecodeTerm(enc, str)
	if err != nil {
		return nil, err
	}
	l.cache[enc] = term
	return term, nil
}
