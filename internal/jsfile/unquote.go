package jsfile

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var errBadEscape = errors.New("invalid escape sequence")

// unquoteToken decodes String tokens with JavaScript escape rules.
func unquoteToken(tok lexer.Token) (lexer.Token, error) {
	v, err := unquoteJS(tok.Value)
	if err != nil {
		return tok, participle.Errorf(tok.Pos, "invalid string literal %s: %s", tok.Value, err)
	}
	tok.Value = v
	return tok, nil
}

// unquoteJS decodes a single- or double-quoted JavaScript string literal.
// Unknown escapes are identity escapes (`\'` is `'`), and a backslash before
// a line break continues the line.
func unquoteJS(s string) (string, error) {
	if len(s) < 2 || s[0] != s[len(s)-1] || (s[0] != '"' && s[0] != '\'') {
		return "", errors.New("not a quoted string")
	}
	body := s[1 : len(s)-1]
	if !strings.Contains(body, `\`) {
		return body, nil
	}

	var b strings.Builder
	b.Grow(len(body))
	for i := 0; i < len(body); {
		c := body[i]
		if c != '\\' {
			b.WriteByte(c)
			i++
			continue
		}
		i++
		if i >= len(body) {
			return "", errBadEscape
		}
		e := body[i]
		i++
		switch e {
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'v':
			b.WriteByte('\v')
		case '0':
			b.WriteByte(0)
		case '\n':
		case '\r':
			if i < len(body) && body[i] == '\n' {
				i++
			}
		case 'x':
			if i+2 > len(body) {
				return "", errBadEscape
			}
			v, err := strconv.ParseUint(body[i:i+2], 16, 8)
			if err != nil {
				return "", errBadEscape
			}
			b.WriteRune(rune(v))
			i += 2
		case 'u':
			r, n, err := readCodePoint(body[i:])
			if err != nil {
				return "", err
			}
			i += n
			if utf16.IsSurrogate(r) && strings.HasPrefix(body[i:], `\u`) {
				if lo, m, err := readCodePoint(body[i+2:]); err == nil {
					if pair := utf16.DecodeRune(r, lo); pair != utf8.RuneError {
						r = pair
						i += 2 + m
					}
				}
			}
			b.WriteRune(r)
		default:
			b.WriteByte(e)
		}
	}
	return b.String(), nil
}

// readCodePoint reads the part of a \u escape after the "u": either four hex
// digits or a braced code point. It returns the bytes consumed.
func readCodePoint(s string) (rune, int, error) {
	if strings.HasPrefix(s, "{") {
		end := strings.IndexByte(s, '}')
		if end < 2 {
			return 0, 0, errBadEscape
		}
		v, err := strconv.ParseUint(s[1:end], 16, 32)
		if err != nil || v > utf8.MaxRune {
			return 0, 0, errBadEscape
		}
		return rune(v), end + 1, nil
	}
	if len(s) < 4 {
		return 0, 0, errBadEscape
	}
	v, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, 0, errBadEscape
	}
	return rune(v), 4, nil
}
