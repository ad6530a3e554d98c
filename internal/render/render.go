// Package render turns track metadata into overlay text.
//
// Templates use brace placeholders: "{artist} - {title}". A placeholder may
// carry a "!s" conversion and a string format spec of the form
// [[fill]align][width][.precision][s], e.g. "{title:^30.25}". Braces are
// escaped by doubling them.
//
// Rendering never fails. A placeholder naming a missing field, or one that
// cannot be parsed or formatted, contributes an empty string and the rest of
// the template is rendered normally.
package render

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Render substitutes metadata into tmpl.
func Render(tmpl string, metadata map[string]string) string {
	var b strings.Builder
	b.Grow(len(tmpl))

	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := closingBrace(tmpl, i+1)
			if end < 0 {
				// unterminated: the rest of the template is one broken field
				return b.String()
			}
			b.WriteString(field(tmpl[i+1:end], metadata))
			i = end + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
} // func Render(tmpl string, metadata map[string]string) string

// closingBrace returns the index of the '}' that closes a field opened just
// before start, honouring nested braces inside format specs.
func closingBrace(s string, start int) int {
	depth := 1
	for i := start; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func field(body string, metadata map[string]string) string {
	name, spec, hasSpec := strings.Cut(body, ":")
	name, conv, hasConv := strings.Cut(name, "!")

	if !validName(name) {
		return ""
	}
	if hasConv && conv != "s" {
		return ""
	}

	value, ok := metadata[name]
	if !ok {
		return ""
	}
	if !hasSpec {
		return value
	}
	out, ok := format(value, spec)
	if !ok {
		return ""
	}
	return out
} // func field(body string, metadata map[string]string) string

// validName accepts plain keys only. Positional ("", "0"), attribute ("a.b")
// and index ("a[0]") lookups have nothing to resolve against.
func validName(name string) bool {
	if name == "" {
		return false
	}
	if name[0] >= '0' && name[0] <= '9' {
		return false
	}
	return !strings.ContainsAny(name, ".[]{} ")
}

const maxWidth = 1024

type formatSpec struct {
	fill      rune
	align     byte
	width     int
	precision int // -1 when absent
}

func parseSpec(spec string) (formatSpec, bool) {
	fs := formatSpec{fill: ' ', align: '<', precision: -1}
	if strings.ContainsAny(spec, "{}") {
		return fs, false
	}

	// [[fill]align]
	if r, size := utf8.DecodeRuneInString(spec); size > 0 && size < len(spec) && isAlign(spec[size]) {
		fs.fill = r
		fs.align = spec[size]
		spec = spec[size+1:]
	} else if len(spec) > 0 && isAlign(spec[0]) {
		fs.align = spec[0]
		spec = spec[1:]
	}

	digits := leadingDigits(spec)
	if digits != "" {
		if digits[0] == '0' && len(digits) > 1 {
			return fs, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil || n > maxWidth {
			return fs, false
		}
		fs.width = n
		spec = spec[len(digits):]
	}

	if strings.HasPrefix(spec, ".") {
		spec = spec[1:]
		digits = leadingDigits(spec)
		if digits == "" {
			return fs, false
		}
		n, err := strconv.Atoi(digits)
		if err != nil {
			return fs, false
		}
		fs.precision = n
		spec = spec[len(digits):]
	}

	if spec != "" && spec != "s" {
		return fs, false
	}
	return fs, true
} // func parseSpec(spec string) (formatSpec, bool)

func format(value, spec string) (string, bool) {
	fs, ok := parseSpec(spec)
	if !ok {
		return "", false
	}

	if fs.precision >= 0 && utf8.RuneCountInString(value) > fs.precision {
		value = string([]rune(value)[:fs.precision])
	}

	pad := fs.width - runewidth.StringWidth(value)
	if pad <= 0 {
		return value, true
	}

	fill := string(fs.fill)
	switch fs.align {
	case '>':
		return strings.Repeat(fill, pad) + value, true
	case '^':
		left := pad / 2
		return strings.Repeat(fill, left) + value + strings.Repeat(fill, pad-left), true
	default:
		return value + strings.Repeat(fill, pad), true
	}
} // func format(value, spec string) (string, bool)

func isAlign(c byte) bool {
	return c == '<' || c == '>' || c == '^'
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}
