package config

import (
	"bytes"
	"fmt"
	"unicode"
)

// SplitFields is like strings.Fields but keeps text between single or
// double quotes in one field. Inside quotes a backslash escapes the next
// character. An unterminated quote is an error.
func SplitFields(in string) ([]string, error) {
	var (
		r       []string
		buf     bytes.Buffer
		inField bool
		quote   rune
		escaped bool
	)
	for _, ch := range in {
		switch {
		case escaped:
			buf.WriteRune(ch)
			escaped = false
		case quote != 0:
			switch ch {
			case quote:
				quote = 0
			case '\\':
				escaped = true
			default:
				buf.WriteRune(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inField = true
		case unicode.IsSpace(ch):
			if inField {
				r = append(r, buf.String())
				buf.Reset()
				inField = false
			}
		default:
			buf.WriteRune(ch)
			inField = true
		}
	}
	if quote != 0 || escaped {
		return nil, fmt.Errorf("unterminated quote in %q", in)
	}
	if inField {
		r = append(r, buf.String())
	}
	return r, nil
}
