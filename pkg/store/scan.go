package store

import (
	"context"
	"log/slog"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/internal/encoding"
	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
	"github.com/aleksaelezovic/trigofusion/pkg/relational"
)

// estimateLimit caps the number of keys counted by Estimate.
const estimateLimit = 10000

// Slot indexes into a quad in S, P, O, G order.
const (
	slotSubject = iota
	slotPredicate
	slotObject
	slotGraph
)

// index is a table together with the slot stored at each key position.
type index struct {
	table Table
	order []int
}

var (
	indexSPO  = index{TableSPO, []int{slotSubject, slotPredicate, slotObject}}
	indexPOS  = index{TablePOS, []int{slotPredicate, slotObject, slotSubject}}
	indexOSP  = index{TableOSP, []int{slotObject, slotSubject, slotPredicate}}
	indexSPOG = index{TableSPOG, []int{slotSubject, slotPredicate, slotObject, slotGraph}}
	indexPOSG = index{TablePOSG, []int{slotPredicate, slotObject, slotSubject, slotGraph}}
	indexOSPG = index{TableOSPG, []int{slotObject, slotSubject, slotPredicate, slotGraph}}
	indexGSPO = index{TableGSPO, []int{slotGraph, slotSubject, slotPredicate, slotObject}}
	indexGPOS = index{TableGPOS, []int{slotGraph, slotPredicate, slotObject, slotSubject}}
	indexGOSP = index{TableGOSP, []int{slotGraph, slotObject, slotSubject, slotPredicate}}
)

// graphMode says which graphs a resolved pattern ranges over.
type graphMode int

const (
	graphDefault graphMode = iota
	graphNamed             // a specific named graph
	graphAnyNamed          // a graph variable
)

// resolvedPattern is a pattern with constraints applied and bound terms
// encoded.
type resolvedPattern struct {
	bound   [4]bool
	terms   [4]EncodedTerm
	vars    [4]string
	mode    graphMode
	columns []string
	// empty is set when a bound term cannot occur in the store.
	empty bool
}

func (s *TripleStore) resolve(pattern QuadPattern, constraints map[string]rdf.Term) (*resolvedPattern, error) {
	r := &resolvedPattern{columns: pattern.Variables()}
	for slot, pos := range pattern.positions() {
		term := pos.Term
		if pos.IsVariable() {
			r.vars[slot] = pos.Variable
			term = constraints[pos.Variable]
		}
		if slot == slotGraph && term == nil && !pos.IsVariable() {
			term = rdf.NewDefaultGraph()
		}
		if term == nil {
			continue
		}
		enc, _, err := s.encoder.EncodeTerm(term)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s", term)
		}
		r.bound[slot] = true
		r.terms[slot] = enc
		if slot != slotGraph && term.Type() == rdf.TermTypeDefaultGraph {
			r.empty = true
		}
	}

	switch {
	case !r.bound[slotGraph]:
		r.mode = graphAnyNamed
	case isDefaultGraph(r.terms[slotGraph]):
		r.mode = graphDefault
		if pattern.Graph.IsVariable() {
			// a graph variable constrained to the default graph never matches
			r.empty = true
		}
	default:
		r.mode = graphNamed
	}
	return r, nil
}

// selectIndex chooses the index whose key order places the most bound
// slots first.
func (r *resolvedPattern) selectIndex() index {
	sBound, pBound, oBound := r.bound[slotSubject], r.bound[slotPredicate], r.bound[slotObject]

	var spo, pos, osp index
	switch r.mode {
	case graphDefault:
		spo, pos, osp = indexSPO, indexPOS, indexOSP
	case graphNamed:
		spo, pos, osp = indexGSPO, indexGPOS, indexGOSP
	default:
		spo, pos, osp = indexSPOG, indexPOSG, indexOSPG
	}

	switch {
	case sBound && pBound:
		return spo
	case pBound && oBound:
		return pos
	case oBound && sBound:
		return osp
	case sBound:
		return spo
	case pBound:
		return pos
	case oBound:
		return osp
	}
	return spo
}

// scanPrefix builds a key prefix from the leading bound slots of ix.
func (s *TripleStore) scanPrefix(r *resolvedPattern, ix index) []byte {
	var terms []EncodedTerm
	for _, slot := range ix.order {
		if !r.bound[slot] {
			break
		}
		terms = append(terms, r.terms[slot])
	}
	if len(terms) == 0 {
		return nil
	}
	return s.encoder.EncodeQuadKey(terms...)
}

// match decodes the slots of an index key and checks everything the prefix
// could not: later bound slots, repeated variables and the exclusion of
// the default graph for graph variables.
func (r *resolvedPattern) match(key []byte, ix index) (encodedQuad, bool) {
	var q encodedQuad
	if len(key) < len(ix.order)*encoding.EncodedTermSize {
		return q, false
	}
	for i, slot := range ix.order {
		copy(q[slot][:], key[i*encoding.EncodedTermSize:])
	}
	if len(ix.order) == 3 {
		q[slotGraph] = r.terms[slotGraph]
	}
	for slot := range q {
		if r.bound[slot] && q[slot] != r.terms[slot] {
			return q, false
		}
	}
	if r.mode == graphAnyNamed && isDefaultGraph(q[slotGraph]) {
		return q, false
	}
	for i := range q {
		if r.vars[i] == "" {
			continue
		}
		for j := i + 1; j < len(q); j++ {
			if r.vars[j] == r.vars[i] && q[j] != q[i] {
				return q, false
			}
		}
	}
	return q, true
}

// Scan streams the quads matching req.Pattern as batches of plain term
// columns, one column per distinct variable.
func (s *TripleStore) Scan(ctx context.Context, req ScanRequest) (relational.Stream, error) {
	r, err := s.resolve(req.Pattern, req.Constraints)
	if err != nil {
		return nil, err
	}
	if r.empty {
		return relational.NewMemoryStream(), nil
	}

	txn, err := s.storage.Begin(false)
	if err != nil {
		return nil, err
	}
	ix := r.selectIndex()
	it, err := txn.Scan(ix.table, s.scanPrefix(r, ix), nil)
	if err != nil {
		_ = txn.Rollback()
		return nil, err
	}
	s.logger.DebugContext(ctx, "quad scan",
		slog.String("pattern", req.Pattern.String()),
		slog.String("index", ix.table.String()),
		slog.Bool("filter", req.Filter != nil))

	sc := &scanner{
		pattern:   r,
		index:     ix,
		it:        it,
		lookup:    newTermLookup(txn, s.decoder),
		filter:    req.Filter,
		batchSize: req.BatchSize,
		mem:       req.Allocator,
	}
	if sc.batchSize <= 0 {
		sc.batchSize = relational.DefaultBatchSize
	}
	if sc.mem == nil {
		sc.mem = memory.NewGoAllocator()
	}
	slots := make(map[string]int, len(r.columns))
	for slot := len(r.vars) - 1; slot >= 0; slot-- {
		if r.vars[slot] != "" {
			slots[r.vars[slot]] = slot
		}
	}
	for _, name := range r.columns {
		sc.slots = append(sc.slots, slots[name])
	}

	return relational.NewFuncStream(sc.next, func() error {
		closeErr := it.Close()
		if err := txn.Rollback(); err != nil {
			return err
		}
		return closeErr
	}), nil
}

// scanner turns index entries into record batches.
type scanner struct {
	pattern   *resolvedPattern
	index     index
	it        Iterator
	lookup    *termLookup
	filter    BatchFilter
	batchSize int
	mem       memory.Allocator
	// slots holds, for each output column, the quad slot it reads.
	slots []int
	done  bool
}

func (sc *scanner) next(ctx context.Context) (arrow.Record, error) {
	for !sc.done {
		rec, err := sc.fill(ctx)
		if err != nil || rec == nil {
			return rec, err
		}
		if sc.filter == nil {
			return rec, nil
		}
		mask, err := sc.filter.Filter(ctx, rec)
		if err != nil {
			return nil, errors.Wrapf(err, "pushed filter %s", sc.filter)
		}
		if filtered := sc.apply(rec, mask); filtered.NumRows() > 0 {
			return filtered, nil
		}
	}
	return nil, nil
}

// fill reads up to batchSize matching entries. It returns nil at the end.
func (sc *scanner) fill(ctx context.Context) (arrow.Record, error) {
	builders := make([]*columnar.PlainBuilder, len(sc.slots))
	for i := range builders {
		builders[i] = columnar.NewPlainBuilder(sc.mem)
	}
	defer func() {
		for _, b := range builders {
			b.Release()
		}
	}()

	rows := 0
	for rows < sc.batchSize {
		if !sc.it.Next() {
			sc.done = true
			break
		}
		q, ok := sc.pattern.match(sc.it.Key(), sc.index)
		if !ok {
			continue
		}
		for i, slot := range sc.slots {
			term, err := sc.lookup.decode(q[slot])
			if err != nil {
				return nil, err
			}
			builders[i].AppendTerm(term)
		}
		rows++
		if rows%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	if rows == 0 {
		return nil, nil
	}
	cols := make([]arrow.Array, len(builders))
	for i, b := range builders {
		cols[i] = b.NewColumn().Arrow()
	}
	return relational.NewRecord(sc.pattern.columns, cols, rows), nil
}

func (sc *scanner) apply(rec arrow.Record, mask []bool) arrow.Record {
	var keep []int
	for i, ok := range mask {
		if ok {
			keep = append(keep, i)
		}
	}
	if len(keep) == int(rec.NumRows()) {
		return rec
	}
	cols := make([]arrow.Array, rec.NumCols())
	for i := range cols {
		cols[i] = columnar.Take(columnar.MustWrap(rec.Column(i)), keep, sc.mem).Arrow()
	}
	return relational.NewRecord(sc.pattern.columns, cols, len(keep))
}

// Estimate counts the index entries under the pattern's key prefix, up to
// a fixed limit.
func (s *TripleStore) Estimate(ctx context.Context, pattern QuadPattern) (int64, bool) {
	r, err := s.resolve(pattern, nil)
	if err != nil {
		return 0, false
	}
	if r.empty {
		return 0, true
	}
	txn, err := s.storage.Begin(false)
	if err != nil {
		return 0, false
	}
	defer func() { _ = txn.Rollback() }()

	ix := r.selectIndex()
	it, err := txn.Scan(ix.table, s.scanPrefix(r, ix), nil)
	if err != nil {
		return 0, false
	}
	defer it.Close()

	var n int64
	for n < estimateLimit && it.Next() {
		if ctx.Err() != nil {
			return 0, false
		}
		n++
	}
	return n, true
}

// SupportsFilterPushdown reports that Scan evaluates ScanRequest.Filter.
func (s *TripleStore) SupportsFilterPushdown() bool { return true }
