package bindgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/divan/num2words"
)

var commentContinuation = regexp.MustCompile(`[ ]*\n[ \t]+[*][ ]?`)

// FormatAsDocstring turns comment text into the body of a C string literal.
// Comment continuation stars are dropped, non printable and non ASCII
// characters are escaped and double quotes are escaped.
func FormatAsDocstring(s string) string {
	s = commentContinuation.ReplaceAllString(s, "\n")

	var sb strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b == '\\':
			sb.WriteString(`\\`)
		case b == '"':
			sb.WriteString(`\"`)
		case b == '\n':
			sb.WriteString(`\n`)
		case b == '\t':
			sb.WriteString(`\t`)
		case b == '\r':
			sb.WriteString(`\r`)
		case b < 0x20 || b >= 0x7f:
			sb.WriteString(fmt.Sprintf(`\%03o`, b))
		default:
			sb.WriteByte(b)
		}
	}
	return sb.String()
}

// arity describes how many arguments a Python callable takes.
func arity(n int) string {
	switch n {
	case 0:
		return "Takes no arguments."
	case 1:
		return "Takes one argument."
	default:
		return fmt.Sprintf("Takes %s arguments.", num2words.Convert(n))
	}
}

// countNoun renders "one class", "twelve classes".
func countNoun(n int, singular, plural string) string {
	if n == 1 {
		return "one " + singular
	}
	if n == 0 {
		return "no " + plural
	}
	return num2words.Convert(n) + " " + plural
}
