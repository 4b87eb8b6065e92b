// Package present implements the `!> name arg &> name arg \n` directive
// grammar embedded at the start of served file bodies, grounded on the
// exact token bytes in _examples/original_source/src/utility.rs's chars
// module (BANG='!', AMPERSAND='&', PIPE='>', SPACE); the original's own
// directive parser is implemented with macros not present in the
// retrieved source, so the grammar here is defined directly.
package present

import "strings"

const (
	prefix   = "!> "
	groupSep = " &> "
	tokenSep = " "
)

// Group is one `name arg arg...` directive group, in document order.
type Group struct {
	Name string
	Args []string
}

// Directive is the parsed result of a served file's present-directive
// header.
type Directive struct {
	Groups []Group
	// Body is everything after the terminating newline (or the whole
	// input, if no directive was present).
	Body []byte
}

// Parse scans the start of body for a `!> ...` directive. If body does not
// begin with the directive prefix, or the directive is malformed (a group
// with no name, or a non-UTF-8 token), Parse returns ok=false and the
// original body untouched — e.g. a file containing exactly `!> \n` is
// rejected and served literally.
func Parse(body []byte) (Directive, bool) {
	if !strings.HasPrefix(string(body), prefix) {
		return Directive{Body: body}, false
	}

	nlIdx := indexNewline(body)
	if nlIdx < 0 {
		return Directive{Body: body}, false
	}
	line := string(body[len(prefix):nlIdx])
	rest := body[nlEnd(body, nlIdx):]

	groups, ok := parseGroups(line)
	if !ok || len(groups) == 0 {
		return Directive{Body: body}, false
	}

	return Directive{Groups: groups, Body: rest}, true
}

func parseGroups(line string) ([]Group, bool) {
	rawGroups := strings.Split(line, groupSep)
	groups := make([]Group, 0, len(rawGroups))
	for _, raw := range rawGroups {
		tokens := splitTokens(raw)
		if len(tokens) == 0 {
			return nil, false
		}
		name := tokens[0]
		if name == "" {
			return nil, false
		}
		for _, tok := range tokens {
			if !isValidUTF8Token(tok) {
				return nil, false
			}
		}
		groups = append(groups, Group{Name: name, Args: tokens[1:]})
	}
	return groups, true
}

func splitTokens(s string) []string {
	fields := strings.Split(s, tokenSep)
	out := fields[:0:0]
	for _, f := range fields {
		if f == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isValidUTF8Token(tok string) bool {
	return strings.ToValidUTF8(tok, "�") == tok
}

func indexNewline(body []byte) int {
	for i, b := range body {
		if b == '\n' {
			if i > 0 && body[i-1] == '\r' {
				return i - 1
			}
			return i
		}
	}
	return -1
}

func nlEnd(body []byte, nlIdx int) int {
	if nlIdx < len(body) && body[nlIdx] == '\r' {
		return nlIdx + 2
	}
	return nlIdx + 1
}

// Reconstruct rebuilds the `!> ...` prefix line from Groups, for round-trip
// law R1 ("byte-identical output modulo whitespace canonicalization").
func (d Directive) Reconstruct() string {
	var b strings.Builder
	b.WriteString(prefix)
	for i, g := range d.Groups {
		if i > 0 {
			b.WriteString(groupSep)
		}
		b.WriteString(g.Name)
		for _, a := range g.Args {
			b.WriteString(tokenSep)
			b.WriteString(a)
		}
	}
	b.WriteByte('\n')
	return b.String()
}
