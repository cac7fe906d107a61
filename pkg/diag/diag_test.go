package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-oss/pkg/cabs"
)

func TestMessages(t *testing.T) {
	tests := []struct {
		kind Kind
		args []any
		want string
	}{
		{UndeclaredIdentifier, []any{"x"}, "use of undeclared identifier 'x'"},
		{NotDefinedDSAWhenDefaultNone, []any{"n"}, "variable 'n' must have explicitly specified data sharing attributes"},
		{NonPODReduction, []any{"struct acc"}, "no compatible declared reduction for type 'struct acc'"},
		{UnexpectedClauseValue, []any{"if"}, "directive '#pragma oss task' cannot contain more than one 'if' clause"},
		{SectionInvalidForm, nil, "'[lower;length]' sections are not allowed in depend clauses"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			d := Diagnostic{Kind: tt.kind, Args: tt.args}
			if got := d.Message(); got != tt.want {
				t.Errorf("Message() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEveryKindHasMessage(t *testing.T) {
	for k := Syntax; k <= TaskwaitInTaskFunction; k++ {
		if _, ok := messages[k]; !ok {
			t.Errorf("kind %d has no message", k)
		}
	}
}

func TestListCounts(t *testing.T) {
	var l List
	l.Report(cabs.Loc{Line: 3, Col: 1}, DuplicateDSA, "x")
	l.Report(cabs.Loc{Line: 2, Col: 5}, WrongDSA, "x", "shared", "private")
	l.Report(cabs.Loc{Line: 1, Col: 9}, WrongDSA, "y", "shared", "private")

	if got := l.ErrorCount(); got != 2 {
		t.Errorf("ErrorCount() = %d, want 2", got)
	}
	if !l.HasErrors() {
		t.Error("HasErrors() = false")
	}
	if got := l.Count(WrongDSA); got != 2 {
		t.Errorf("Count(WrongDSA) = %d, want 2", got)
	}
	sorted := l.Sorted()
	if sorted[0].Loc.Line != 1 || sorted[2].Loc.Line != 3 {
		t.Errorf("Sorted() order wrong: %v", sorted)
	}
}

func TestLoggerPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LogLevelVerbose, false)
	src := []byte("int main(void) {\n    return y;\n}\n")
	l.Report("dir/main.c", src, []Diagnostic{
		{Loc: cabs.Loc{Line: 2, Col: 12}, Kind: UndeclaredIdentifier, Args: []any{"y"}},
		{Loc: cabs.Loc{Line: 1, Col: 1}, Kind: DuplicateDSA, Args: []any{"z"}},
	})
	l.Finish()

	out := buf.String()
	for _, want := range []string{
		"[Type Error]",
		"main.c",
		"2:12: use of undeclared identifier 'y'",
		"|  return y;",
		"[Task Warning]",
		"(1 error, 1 warning)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
	// the warning is deferred until Finish
	if strings.Index(out, "Task Warning") < strings.Index(out, "Type Error") {
		t.Error("warning displayed before error")
	}
	if l.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1", l.ErrorCount())
	}
}

func TestLoggerSilent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, ParseLogLevel("silent"), false)
	l.Report("a.c", nil, []Diagnostic{{Kind: Syntax, Args: []any{"bad"}}})
	l.Phase("a.c", "parse")
	l.Finish()
	if buf.Len() != 0 {
		t.Errorf("silent logger wrote %q", buf.String())
	}
	if l.ErrorCount() != 1 {
		t.Errorf("ErrorCount() = %d, want 1", l.ErrorCount())
	}
}
