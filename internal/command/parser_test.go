package command

import (
	"regexp"
	"testing"
)

func TestParse_Literal(t *testing.T) {
	spec := Literals("!")

	r, ok := Parse("!ping extra", spec)
	if !ok {
		t.Fatal("expected a match")
	}
	if r.Command != "ping" || len(r.Args) != 1 || r.Args[0] != "extra" {
		t.Fatalf("Result = %+v", r)
	}
	if r.MatchedPrefix != "!" {
		t.Fatalf("MatchedPrefix = %q", r.MatchedPrefix)
	}

	if _, ok := Parse("ping", spec); ok {
		t.Fatal("prefixless text must be inert when no-prefix mode is off")
	}
}

func TestParse_EscapedLiteral(t *testing.T) {
	// "." must not behave as a pattern wildcard.
	spec := Literals(".")
	if _, ok := Parse("xping", spec); ok {
		t.Fatal("unescaped literal matched as wildcard")
	}
	r, ok := Parse(".ping", spec)
	if !ok || r.Command != "ping" {
		t.Fatalf("Result = %+v ok=%v", r, ok)
	}
}

func TestParse_ListOrder(t *testing.T) {
	spec := Literals("!!", "!")
	r, ok := Parse("!!loud hello", spec)
	if !ok || r.MatchedPrefix != "!!" || r.Command != "loud" {
		t.Fatalf("Result = %+v ok=%v", r, ok)
	}
}

func TestParse_PatternWithCaptureGroups(t *testing.T) {
	// Capture groups are ignored for stripping: the full match goes.
	spec := Patterns(regexp.MustCompile(`(!|\.)(bot )?`))
	r, ok := Parse("!bot status now", spec)
	if !ok {
		t.Fatal("expected a match")
	}
	if r.Command != "status" || len(r.Args) != 1 || r.Args[0] != "now" {
		t.Fatalf("Result = %+v", r)
	}
	if r.MatchedPrefix != "!bot " {
		t.Fatalf("MatchedPrefix = %q", r.MatchedPrefix)
	}
}

func TestParse_MatchMustAnchorAtStart(t *testing.T) {
	spec := Literals("!")
	if _, ok := Parse("hey !ping", spec); ok {
		t.Fatal("mid-text prefix must not match")
	}
}

func TestParse_EdgeCases(t *testing.T) {
	spec := Literals("!")

	if _, ok := Parse("", spec); ok {
		t.Fatal("empty text must be inert")
	}

	// Text equal to exactly the prefix: recognized, but no command token.
	r, ok := Parse("!", spec)
	if !ok || r.Command != "" || len(r.Args) != 0 {
		t.Fatalf("Result = %+v ok=%v", r, ok)
	}

	// Runs of whitespace collapse.
	r, _ = Parse("!ping   a\t b ", spec)
	if r.Command != "ping" || len(r.Args) != 2 || r.Args[0] != "a" || r.Args[1] != "b" {
		t.Fatalf("Result = %+v", r)
	}
}

func TestParse_NoPrefixMode(t *testing.T) {
	spec := Literals("!")
	spec.NoPrefix = true

	r, ok := Parse("ping extra", spec)
	if !ok || r.Command != "ping" || len(r.Args) != 1 {
		t.Fatalf("Result = %+v ok=%v", r, ok)
	}
	if r.MatchedPrefix != "" {
		t.Fatalf("MatchedPrefix = %q, want empty", r.MatchedPrefix)
	}
}

func TestMerge(t *testing.T) {
	spec := Literals("!").Merge(Patterns(regexp.MustCompile(`^/`)))
	if r, ok := Parse("/help", spec); !ok || r.Command != "help" {
		t.Fatalf("Result = %+v ok=%v", r, ok)
	}
}
