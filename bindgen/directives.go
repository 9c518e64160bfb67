package bindgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Docstrings may carry two directives, one per line:
//
//	DEFAULT(arg) = expression;
//	RAISES(condition, ExceptionKind) = message;
//
// The expressions are C and copied verbatim into the generated code.

var directiveLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Char", Pattern: `'(\\.|[^'\\])*'`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Number", Pattern: `0[xX][0-9a-fA-F]+[uUlL]*|[0-9]+(\.[0-9]+)?[uUlL]*`},
	{Name: "Operator", Pattern: `==|!=|<=|>=|&&|\|\||->|<<|>>|[-+*/%&|^!~<>=?:.]`},
	{Name: "Punct", Pattern: `[(),;\[\]{}]`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Other", Pattern: `.`},
})

type directive struct {
	Default *defaultDirective `  @@`
	Raises  *raisesDirective  `| @@`
}

type defaultDirective struct {
	Arg   string     `"DEFAULT" "(" @Ident ")" "="`
	Value expression `@@ ";"`
}

type raisesDirective struct {
	Check     condition  `"RAISES" "(" @@ ","`
	Exception string     `@Ident ")" "="`
	Message   expression `@@ ";"`
}

// expression is everything up to the terminating semicolon.
type expression struct {
	Pos   lexer.Position
	Parts []string `@~";"+`
}

// condition is everything up to the separating comma.
type condition struct {
	Pos   lexer.Position
	Parts []string `@~","+`
}

var directiveParser = participle.MustBuild[directive](
	participle.Lexer(directiveLexer),
	participle.Elide("Whitespace"),
)

var directiveStart = regexp.MustCompile(`\b(DEFAULT|RAISES)\s*\(`)

// sourceText recovers the original spelling of a run of tokens, spacing
// included.
func sourceText(src string, pos lexer.Position, parts []string) string {
	start := pos.Offset
	if start < 0 || start > len(src) {
		return strings.Join(parts, " ")
	}
	cursor := start
	for _, p := range parts {
		i := strings.Index(src[cursor:], p)
		if i < 0 {
			return strings.Join(parts, " ")
		}
		cursor += i + len(p)
	}
	return strings.TrimSpace(src[start:cursor])
}

// ResultException is a RAISES directive: when Check holds after the native
// call, Python exception Exception is raised with Message.
type ResultException struct {
	Check     string
	Exception string
	Message   string
}

// Directives holds the directives found in a docstring.
type Directives struct {
	Defaults  map[string]string
	Exception *ResultException
}

// ParseDirectives scans docstring line by line. Lines that start a
// directive but do not parse are reported in the returned error; the
// remaining directives are still collected.
func ParseDirectives(docstring string) (Directives, error) {
	d := Directives{Defaults: make(map[string]string)}
	var errs []string

	for _, line := range strings.Split(docstring, "\n") {
		loc := directiveStart.FindStringIndex(line)
		if loc == nil {
			continue
		}
		src := line[loc[0]:]
		parsed, err := directiveParser.ParseString("", src, participle.AllowTrailing(true))
		if err != nil {
			errs = append(errs, fmt.Sprintf("%q: %v", strings.TrimSpace(src), err))
			continue
		}
		switch {
		case parsed.Default != nil:
			v := parsed.Default.Value
			d.Defaults[parsed.Default.Arg] = sourceText(src, v.Pos, v.Parts)
		case parsed.Raises != nil:
			r := parsed.Raises
			d.Exception = &ResultException{
				Check:     sourceText(src, r.Check.Pos, r.Check.Parts),
				Exception: r.Exception,
				Message:   sourceText(src, r.Message.Pos, r.Message.Parts),
			}
		}
	}

	if len(errs) > 0 {
		return d, fmt.Errorf("malformed directive: %s", strings.Join(errs, "; "))
	}
	return d, nil
}

func (e *ResultException) write(sb *strings.Builder) {
	sb.WriteString(fmt.Sprintf(`
        /* Handle exceptions */
        if(%s) {
            PyErr_Format(PyExc_%s, %s);
            goto on_error;
        }
`, e.Check, e.Exception, e.Message))
}
