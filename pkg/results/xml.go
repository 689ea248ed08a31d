package results

import (
	"bufio"
	"context"
	"encoding/xml"
	"io"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// SPARQL XML Results Format
// https://www.w3.org/TR/rdf-sparql-XMLres/

const xmlHeader = `<?xml version="1.0"?>
<sparql xmlns="http://www.w3.org/2005/sparql-results#">
`

// WriteXML streams solutions in SPARQL XML format.
func WriteXML(ctx context.Context, w io.Writer, it SolutionIterator) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(xmlHeader)
	bw.WriteString("  <head>\n")
	varNames := it.Variables()
	for _, varName := range varNames {
		bw.WriteString(`    <variable name="`)
		xml.EscapeText(bw, []byte(varName))
		bw.WriteString("\"/>\n")
	}
	bw.WriteString("  </head>\n  <results>\n")

	for it.Next(ctx) {
		solution := it.Solution()
		bw.WriteString("    <result>\n")
		for _, varName := range varNames {
			term, ok := solution[varName]
			if !ok {
				continue
			}
			bw.WriteString(`      <binding name="`)
			xml.EscapeText(bw, []byte(varName))
			bw.WriteString(`">`)
			writeXMLTerm(bw, term)
			bw.WriteString("</binding>\n")
		}
		bw.WriteString("    </result>\n")
	}
	if err := it.Err(); err != nil {
		return err
	}

	bw.WriteString("  </results>\n</sparql>\n")
	return bw.Flush()
}

// WriteBooleanXML writes an ASK result in SPARQL XML format.
func WriteBooleanXML(w io.Writer, value bool) error {
	_, err := io.WriteString(w, xmlHeader+"  <head/>\n  <boolean>"+formatBool(value)+"</boolean>\n</sparql>\n")
	return err
}

func writeXMLTerm(bw *bufio.Writer, term rdf.Term) {
	switch t := term.(type) {
	case *rdf.NamedNode:
		bw.WriteString("<uri>")
		xml.EscapeText(bw, []byte(t.IRI))
		bw.WriteString("</uri>")
	case *rdf.BlankNode:
		bw.WriteString("<bnode>")
		xml.EscapeText(bw, []byte(t.ID))
		bw.WriteString("</bnode>")
	case *rdf.Literal:
		switch {
		case t.Language != "":
			bw.WriteString(`<literal xml:lang="`)
			xml.EscapeText(bw, []byte(t.Language))
			bw.WriteString(`">`)
		case t.Datatype != nil:
			bw.WriteString(`<literal datatype="`)
			xml.EscapeText(bw, []byte(t.Datatype.IRI))
			bw.WriteString(`">`)
		default:
			bw.WriteString("<literal>")
		}
		xml.EscapeText(bw, []byte(t.Value))
		bw.WriteString("</literal>")
	default:
		bw.WriteString("<literal>")
		xml.EscapeText(bw, []byte(term.String()))
		bw.WriteString("</literal>")
	}
}
