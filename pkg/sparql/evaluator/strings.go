package evaluator

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/aleksaelezovic/trigofusion/pkg/columnar"
	"github.com/aleksaelezovic/trigofusion/pkg/rdf"
)

// stringArg returns the lexical form and language tag of a string literal.
func stringArg(v columnar.Value) (lex, tag string, ok bool) {
	if v.DType != columnar.DTypeTerm {
		return "", "", false
	}
	lit, isLit := v.Term.(*rdf.Literal)
	if !isLit || (lit.Language == "" && !lit.IsSimple()) {
		return "", "", false
	}
	return lit.Value, lit.Language, true
}

func stringResult(lex, tag string) columnar.Value {
	if tag != "" {
		return columnar.LangString(lex, tag)
	}
	return columnar.String(lex)
}

// compatibleArgs checks the argument compatibility rules of the binary
// string functions and returns both lexical forms and the first tag.
func compatibleArgs(a, b columnar.Value) (x, y, tag string, ok bool) {
	x, ta, okA := stringArg(a)
	y, tb, okB := stringArg(b)
	if !okA || !okB {
		return "", "", "", false
	}
	if tb != "" && ta != tb {
		return "", "", "", false
	}
	return x, y, ta, true
}

func registerStringFunctions(r *Registry) {
	r.scalar("STRLEN", 1, 1, strLen)
	r.scalar("SUBSTR", 2, 3, substr)
	r.scalar("UCASE", 1, 1, mapString(strings.ToUpper))
	r.scalar("LCASE", 1, 1, mapString(strings.ToLower))
	r.scalar("STRSTARTS", 2, 2, stringPredicate(strings.HasPrefix))
	r.scalar("STRENDS", 2, 2, stringPredicate(strings.HasSuffix))
	r.scalar("CONTAINS", 2, 2, stringPredicate(strings.Contains))
	r.scalar("STRBEFORE", 2, 2, strBefore)
	r.scalar("STRAFTER", 2, 2, strAfter)
	r.scalar("CONCAT", 0, -1, concat)
	r.scalar("ENCODE_FOR_URI", 1, 1, encodeForURI)
	r.scalar("REGEX", 2, 3, regex)
	r.scalar("REPLACE", 3, 4, replace)
}

func strLen(_ *Env, a []columnar.Value) columnar.Value {
	lex, _, ok := stringArg(a[0])
	if !ok {
		return columnar.Error()
	}
	return columnar.Integer(int64(utf8.RuneCountInString(lex)))
}

// substr uses XPath positions: characters at 1-based positions p with
// round(start) <= p < round(start) + round(length).
func substr(_ *Env, a []columnar.Value) columnar.Value {
	lex, tag, ok := stringArg(a[0])
	if !ok {
		return columnar.Error()
	}
	start, ok := roundedArg(a[1])
	if !ok {
		return columnar.Error()
	}
	runes := []rune(lex)
	end := float64(len(runes)) + 1
	if len(a) == 3 {
		length, ok := roundedArg(a[2])
		if !ok {
			return columnar.Error()
		}
		end = start + length
	}
	var sb strings.Builder
	for i, c := range runes {
		if p := float64(i + 1); p >= start && p < end {
			sb.WriteRune(c)
		}
	}
	return stringResult(sb.String(), tag)
}

func roundedArg(v columnar.Value) (float64, bool) {
	n, ok := numericValue(v)
	if !ok {
		return 0, false
	}
	r := Round(n)
	return asFloat(r), true
}

func mapString(fn func(string) string) RowFunc {
	return func(_ *Env, a []columnar.Value) columnar.Value {
		lex, tag, ok := stringArg(a[0])
		if !ok {
			return columnar.Error()
		}
		return stringResult(fn(lex), tag)
	}
}

func stringPredicate(fn func(s, substr string) bool) RowFunc {
	return func(_ *Env, a []columnar.Value) columnar.Value {
		x, y, _, ok := compatibleArgs(a[0], a[1])
		if !ok {
			return columnar.Error()
		}
		return boolValue(fn(x, y))
	}
}

func strBefore(_ *Env, a []columnar.Value) columnar.Value {
	x, y, tag, ok := compatibleArgs(a[0], a[1])
	if !ok {
		return columnar.Error()
	}
	before, _, found := strings.Cut(x, y)
	if !found {
		return columnar.String("")
	}
	return stringResult(before, tag)
}

func strAfter(_ *Env, a []columnar.Value) columnar.Value {
	x, y, tag, ok := compatibleArgs(a[0], a[1])
	if !ok {
		return columnar.Error()
	}
	_, after, found := strings.Cut(x, y)
	if !found {
		return columnar.String("")
	}
	return stringResult(after, tag)
}

// concat keeps a language tag only when every argument carries it.
func concat(_ *Env, a []columnar.Value) columnar.Value {
	var sb strings.Builder
	tag := ""
	for i, v := range a {
		lex, t, ok := stringArg(v)
		if !ok {
			return columnar.Error()
		}
		if i == 0 {
			tag = t
		} else if t != tag {
			tag = ""
		}
		sb.WriteString(lex)
	}
	return stringResult(sb.String(), tag)
}

func encodeForURI(_ *Env, a []columnar.Value) columnar.Value {
	lex, _, ok := stringArg(a[0])
	if !ok {
		return columnar.Error()
	}
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := 0; i < len(lex); i++ {
		c := lex[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
			c == '-' || c == '_' || c == '.' || c == '~' {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(hex[c>>4])
		sb.WriteByte(hex[c&15])
	}
	return columnar.String(sb.String())
}

// regexCache holds compiled patterns keyed by flags and pattern.
var regexCache = struct {
	sync.Mutex
	patterns map[string]*regexp.Regexp
}{patterns: make(map[string]*regexp.Regexp)}

const maxCachedPatterns = 1024

// compilePattern translates XPath flags into Go syntax and compiles the
// pattern. Supported flags are s, m, i, x and q.
func compilePattern(pattern, flags string) (*regexp.Regexp, error) {
	key := flags + "\x00" + pattern
	regexCache.Lock()
	re, ok := regexCache.patterns[key]
	regexCache.Unlock()
	if ok {
		return re, nil
	}

	var goFlags strings.Builder
	for _, f := range flags {
		switch f {
		case 's', 'm', 'i':
			goFlags.WriteRune(f)
		case 'x':
			pattern = strings.Map(func(r rune) rune {
				if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
					return -1
				}
				return r
			}, pattern)
		case 'q':
			pattern = regexp.QuoteMeta(pattern)
		default:
			return nil, errors.Newf("invalid regex flag %q", f)
		}
	}
	if goFlags.Len() > 0 {
		pattern = "(?" + goFlags.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, errors.Wrap(err, "compiling regex")
	}

	regexCache.Lock()
	if len(regexCache.patterns) >= maxCachedPatterns {
		clear(regexCache.patterns)
	}
	regexCache.patterns[key] = re
	regexCache.Unlock()
	return re, nil
}

func flagsArg(a []columnar.Value, i int) (string, bool) {
	if len(a) <= i {
		return "", true
	}
	return simpleString(a[i])
}

func regex(_ *Env, a []columnar.Value) columnar.Value {
	text, _, ok := stringArg(a[0])
	if !ok {
		return columnar.Error()
	}
	pattern, ok := simpleString(a[1])
	if !ok {
		return columnar.Error()
	}
	flags, ok := flagsArg(a, 2)
	if !ok {
		return columnar.Error()
	}
	re, err := compilePattern(pattern, flags)
	if err != nil {
		return columnar.Error()
	}
	return boolValue(re.MatchString(text))
}

var groupReference = regexp.MustCompile(`\$(\d+)`)

func replace(_ *Env, a []columnar.Value) columnar.Value {
	text, tag, ok := stringArg(a[0])
	if !ok {
		return columnar.Error()
	}
	pattern, ok := simpleString(a[1])
	if !ok {
		return columnar.Error()
	}
	replacement, ok := simpleString(a[2])
	if !ok {
		return columnar.Error()
	}
	flags, ok := flagsArg(a, 3)
	if !ok {
		return columnar.Error()
	}
	re, err := compilePattern(pattern, flags)
	if err != nil || re.MatchString("") {
		// patterns matching the empty string are an error in XPath
		return columnar.Error()
	}
	if strings.Contains(flags, "q") {
		return stringResult(re.ReplaceAllLiteralString(text, replacement), tag)
	}
	replacement = groupReference.ReplaceAllString(replacement, "$${$1}")
	return stringResult(re.ReplaceAllString(text, replacement), tag)
}
