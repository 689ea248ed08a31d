package results

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// SPARQL JSON Results Format
// https://www.w3.org/TR/sparql11-results-json/

// SPARQLResultsJSON represents the JSON format for SPARQL query results
type SPARQLResultsJSON struct {
	Head    ResultHead      `json:"head"`
	Results *ResultBindings `json:"results,omitempty"`
	Boolean *bool           `json:"boolean,omitempty"`
}

// ResultHead contains the variable names
type ResultHead struct {
	Vars []string `json:"vars"`
}

// ResultBindings contains the result bindings
type ResultBindings struct {
	Bindings []map[string]BindingValue `json:"bindings"`
}

// BindingValue represents a single bound value
type BindingValue struct {
	Type     string  `json:"type"`
	Value    string  `json:"value"`
	Datatype *string `json:"datatype,omitempty"`
	XMLLang  *string `json:"xml:lang,omitempty"`
}

// WriteJSON streams solutions as SPARQL JSON, one binding object per line.
func WriteJSON(ctx context.Context, w io.Writer, it SolutionIterator) error {
	vars := it.Variables()
	if vars == nil {
		vars = []string{}
	}
	head, err := json.Marshal(ResultHead{Vars: vars})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, `{"head":`+string(head)+`,"results":{"bindings":[`); err != nil {
		return err
	}

	sep := "\n"
	for it.Next(ctx) {
		binding := make(map[string]BindingValue)
		for name, term := range it.Solution() {
			binding[name] = termToBindingValue(term)
		}
		line, err := json.Marshal(binding)
		if err != nil {
			return errors.Wrap(err, "encode binding")
		}
		if _, err := io.WriteString(w, sep+string(line)); err != nil {
			return err
		}
		sep = ",\n"
	}
	if err := it.Err(); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n]}}\n")
	return err
}

// WriteBooleanJSON writes an ASK result in SPARQL JSON format.
func WriteBooleanJSON(w io.Writer, value bool) error {
	out, err := json.Marshal(SPARQLResultsJSON{
		Head:    ResultHead{Vars: []string{}},
		Boolean: &value,
	})
	if err != nil {
		return err
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// termToBindingValue converts an RDF term to a SPARQL JSON binding value
func termToBindingValue(term rdf.Term) BindingValue {
	switch t := term.(type) {
	case *rdf.NamedNode:
		return BindingValue{Type: "uri", Value: t.IRI}
	case *rdf.BlankNode:
		return BindingValue{Type: "bnode", Value: t.ID}
	case *rdf.Literal:
		bv := BindingValue{Type: "literal", Value: t.Value}
		if t.Language != "" {
			lang := t.Language
			bv.XMLLang = &lang
		} else if t.Datatype != nil {
			datatypeIRI := t.Datatype.IRI
			bv.Datatype = &datatypeIRI
		}
		return bv
	default:
		return BindingValue{Type: "literal", Value: term.String()}
	}
}
