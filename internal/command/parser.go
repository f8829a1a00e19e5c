// Package command extracts a command token and argument list from message
// text, given one or more configured prefix matchers.
package command

import (
	"regexp"
	"strings"
)

// Spec is a compiled set of prefix alternatives. Alternatives are tried in
// order; the first one matching at the start of the text wins.
type Spec struct {
	alts []*regexp.Regexp
	// NoPrefix treats the entire text as the command line when set.
	NoPrefix bool
}

// Literals builds a Spec from literal prefixes. Each literal is escaped
// before being compiled, so "." or "!" never act as pattern syntax.
func Literals(prefixes ...string) Spec {
	s := Spec{}
	for _, p := range prefixes {
		s.alts = append(s.alts, regexp.MustCompile(regexp.QuoteMeta(p)))
	}
	return s
}

// Patterns builds a Spec from prefix patterns. Capture groups inside a
// pattern are allowed but ignored for stripping: only the full match is
// stripped.
func Patterns(res ...*regexp.Regexp) Spec {
	return Spec{alts: append([]*regexp.Regexp(nil), res...)}
}

// Merge appends other's alternatives, preserving try order.
func (s Spec) Merge(other Spec) Spec {
	return Spec{alts: append(s.alts, other.alts...), NoPrefix: s.NoPrefix || other.NoPrefix}
}

// Result is one parsed command line.
type Result struct {
	Command       string
	Args          []string
	MatchedPrefix string
}

// Parse extracts a command from text. ok reports whether a command line was
// recognized at all; Command may still be empty when the text is exactly the
// prefix. Without a prefix match, the text is inert unless no-prefix mode is
// on, in which case the whole text is the command line.
func Parse(text string, spec Spec) (Result, bool) {
	if spec.NoPrefix {
		return split(text, ""), true
	}
	for _, re := range spec.alts {
		loc := re.FindStringIndex(text)
		if loc == nil || loc[0] != 0 {
			continue
		}
		return split(text[loc[1]:], text[:loc[1]]), true
	}
	return Result{}, false
}

func split(line, matched string) Result {
	fields := strings.Fields(line)
	r := Result{MatchedPrefix: matched}
	if len(fields) == 0 {
		return r
	}
	r.Command = fields[0]
	if len(fields) > 1 {
		r.Args = fields[1:]
	}
	return r
}
