package results

import (
	"bufio"
	"io"

	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// N-Triples
// https://www.w3.org/TR/n-triples/

// WriteNTriples writes one triple per line.
func WriteNTriples(w io.Writer, triples []*rdf.Triple) error {
	bw := bufio.NewWriter(w)
	for _, triple := range triples {
		bw.WriteString(triple.String())
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
