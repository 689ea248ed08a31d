package evaluator

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// Signature describes how a function may be called.
type Signature struct {
	Name    string
	MinArgs int
	// MaxArgs is negative for variadic functions.
	MaxArgs int
	// Volatile functions may return different values for equal arguments
	// and are never folded into constants.
	Volatile bool
}

// Function is a vectorized SPARQL function.
type Function interface {
	Signature() Signature
	Invoke(env *Env, args []Vector, rows int) Vector
}

// RowFunc computes one output value from one row of arguments.
type RowFunc func(env *Env, args []columnar.Value) columnar.Value

// ScalarFunc adapts a per-row function to the vectorized interface.
type ScalarFunc struct {
	Sig Signature
	Fn  RowFunc
	// Lenient functions receive unbound and error arguments. Other
	// functions return an error cell when an argument is not a term.
	Lenient bool
}

func (f *ScalarFunc) Signature() Signature { return f.Sig }

func (f *ScalarFunc) Invoke(env *Env, args []Vector, rows int) Vector {
	row := make([]columnar.Value, len(args))
	if !f.Sig.Volatile && allConstant(args) {
		for j, a := range args {
			row[j] = a.At(0)
		}
		return Constant{Value: f.call(env, row), N: rows}
	}
	out := make(Values, rows)
	for i := range out {
		for j, a := range args {
			row[j] = a.At(i)
		}
		out[i] = f.call(env, row)
	}
	return out
}

func (f *ScalarFunc) call(env *Env, row []columnar.Value) columnar.Value {
	if !f.Lenient {
		for _, v := range row {
			if !v.IsValid() {
				return columnar.Error()
			}
		}
	}
	return f.Fn(env, row)
}

// Registry resolves function names and IRIs to implementations.
type Registry struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{functions: make(map[string]Function)}
}

// DefaultRegistry returns a registry holding the built-in functions and
// the XSD casts.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	registerStringFunctions(r)
	registerNumericFunctions(r)
	registerCasts(r)
	return r
}

// Register adds or replaces a function under a built-in name or an IRI.
func (r *Registry) Register(key string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[key] = fn
}

func (r *Registry) Lookup(key string) (Function, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.functions[key]
	return fn, ok
}

func (r *Registry) scalar(name string, minArgs, maxArgs int, fn RowFunc) {
	r.Register(name, &ScalarFunc{Sig: Signature{Name: name, MinArgs: minArgs, MaxArgs: maxArgs}, Fn: fn})
}

type callExpr struct {
	fn   Function
	args []Expr
	env  *Env
}

func (e *callExpr) Eval(b *Batch) (Vector, error) {
	args, err := evalArgs(b, e.args)
	if err != nil {
		return nil, err
	}
	return e.fn.Invoke(e.env, args, b.rows), nil
}

func (e *callExpr) Variables() []string { return collectVariables(e.args...) }

func (e *callExpr) Deterministic() bool {
	return !e.fn.Signature().Volatile && allDeterministic(e.args...)
}

// bnodeSource mints blank node labels unique to one query.
type bnodeSource struct {
	prefix string
	next   atomic.Uint64
}

func newBnodeSource() *bnodeSource {
	return &bnodeSource{prefix: "b" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]}
}

func (s *bnodeSource) mint() *rdf.BlankNode {
	n := s.next.Add(1)
	return rdf.NewBlankNode(s.prefix + "x" + strconv.FormatUint(n, 10))
}

func boolValue(b bool) columnar.Value { return columnar.Boolean(b) }

func termValue(t rdf.Term) columnar.Value { return columnar.FromTerm(t) }

func registerBuiltins(r *Registry) {
	r.scalar("SAMETERM", 2, 2, func(_ *Env, a []columnar.Value) columnar.Value {
		return boolValue(SameTerm(a[0], a[1]))
	})
	r.scalar("ISIRI", 1, 1, isIRI)
	r.scalar("ISURI", 1, 1, isIRI)
	r.scalar("ISBLANK", 1, 1, func(_ *Env, a []columnar.Value) columnar.Value {
		_, ok := a[0].AsTerm().(*rdf.BlankNode)
		return boolValue(ok)
	})
	r.scalar("ISLITERAL", 1, 1, func(_ *Env, a []columnar.Value) columnar.Value {
		_, ok := a[0].AsTerm().(*rdf.Literal)
		return boolValue(ok)
	})
	r.scalar("ISNUMERIC", 1, 1, isNumeric)
	r.scalar("STR", 1, 1, str)
	r.scalar("LANG", 1, 1, lang)
	r.scalar("LANGMATCHES", 2, 2, langMatches)
	r.scalar("DATATYPE", 1, 1, datatype)
	r.scalar("IRI", 1, 1, iri)
	r.scalar("URI", 1, 1, iri)
	r.scalar("STRDT", 2, 2, strDT)
	r.scalar("STRLANG", 2, 2, strLang)
	r.Register("BNODE", &ScalarFunc{
		Sig:     Signature{Name: "BNODE", MinArgs: 0, MaxArgs: 1, Volatile: true},
		Fn:      bnode,
		Lenient: true,
	})
	r.Register("UUID", &ScalarFunc{
		Sig: Signature{Name: "UUID", Volatile: true},
		Fn: func(*Env, []columnar.Value) columnar.Value {
			return termValue(rdf.NewNamedNode("urn:uuid:" + uuid.NewString()))
		},
	})
	r.Register("STRUUID", &ScalarFunc{
		Sig: Signature{Name: "STRUUID", Volatile: true},
		Fn: func(*Env, []columnar.Value) columnar.Value {
			return columnar.String(uuid.NewString())
		},
	})
}

func isIRI(_ *Env, a []columnar.Value) columnar.Value {
	_, ok := a[0].AsTerm().(*rdf.NamedNode)
	return boolValue(ok)
}

// isNumeric is true only for numeric literals with a valid lexical form.
func isNumeric(_ *Env, a []columnar.Value) columnar.Value {
	_, ok := numericValue(a[0])
	return boolValue(ok)
}

func str(_ *Env, a []columnar.Value) columnar.Value {
	switch t := a[0].AsTerm().(type) {
	case *rdf.NamedNode:
		return columnar.String(t.IRI)
	case *rdf.Literal:
		return columnar.String(t.Value)
	}
	return columnar.Error()
}

func lang(_ *Env, a []columnar.Value) columnar.Value {
	lit, ok := a[0].AsTerm().(*rdf.Literal)
	if !ok {
		return columnar.Error()
	}
	return columnar.String(lit.Language)
}

func langMatches(_ *Env, a []columnar.Value) columnar.Value {
	tag, ok := simpleString(a[0])
	if !ok {
		return columnar.Error()
	}
	rng, ok := simpleString(a[1])
	if !ok {
		return columnar.Error()
	}
	if rng == "*" {
		return boolValue(tag != "")
	}
	tag, rng = strings.ToLower(tag), strings.ToLower(rng)
	return boolValue(tag == rng || strings.HasPrefix(tag, rng+"-"))
}

func datatype(_ *Env, a []columnar.Value) columnar.Value {
	lit, ok := a[0].AsTerm().(*rdf.Literal)
	if !ok {
		return columnar.Error()
	}
	return termValue(rdf.NewNamedNode(lit.DatatypeIRI()))
}

func iri(env *Env, a []columnar.Value) columnar.Value {
	switch t := a[0].AsTerm().(type) {
	case *rdf.NamedNode:
		return a[0]
	case *rdf.Literal:
		if !t.IsSimple() {
			return columnar.Error()
		}
		ref := t.Value
		if env != nil && env.BaseIRI != "" {
			base, err := url.Parse(env.BaseIRI)
			if err != nil {
				return columnar.Error()
			}
			rel, err := url.Parse(ref)
			if err != nil {
				return columnar.Error()
			}
			ref = base.ResolveReference(rel).String()
		}
		return termValue(rdf.NewNamedNode(ref))
	}
	return columnar.Error()
}

func strDT(_ *Env, a []columnar.Value) columnar.Value {
	lex, ok := simpleString(a[0])
	if !ok {
		return columnar.Error()
	}
	dt, ok := a[1].AsTerm().(*rdf.NamedNode)
	if !ok {
		return columnar.Error()
	}
	return termValue(rdf.NewLiteralWithDatatype(lex, dt))
}

func strLang(_ *Env, a []columnar.Value) columnar.Value {
	lex, ok := simpleString(a[0])
	if !ok {
		return columnar.Error()
	}
	tag, ok := simpleString(a[1])
	if !ok || tag == "" {
		return columnar.Error()
	}
	return columnar.LangString(lex, tag)
}

func bnode(env *Env, a []columnar.Value) columnar.Value {
	if len(a) == 1 {
		if _, ok := simpleString(a[0]); !ok {
			return columnar.Error()
		}
	}
	return termValue(env.bnodes.mint())
}
