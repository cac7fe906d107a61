package parser

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/lexer"
	"gopkg.in/yaml.v3"
)

// TestSpec represents a test case from parse.yaml
type TestSpec struct {
	Name   string   `yaml:"name"`
	Input  string   `yaml:"input"`
	Expect []string `yaml:"expect"` // substrings of the printed program
	Errors []string `yaml:"errors"` // substrings of expected parse errors
}

// TestFile represents the parse.yaml file structure
type TestFile struct {
	Tests []TestSpec `yaml:"tests"`
}

func parseProgram(t *testing.T, input string) *cabs.Program {
	t.Helper()
	p := New(lexer.New(input))
	prog := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("parser errors: %v", p.Errors())
	}
	return prog
}

func TestParseYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/parse.yaml")
	if err != nil {
		t.Skipf("parse.yaml not found: %v", err)
	}

	var testFile TestFile
	if err := yaml.Unmarshal(data, &testFile); err != nil {
		t.Fatalf("failed to parse parse.yaml: %v", err)
	}

	for _, tc := range testFile.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			p := New(lexer.New(tc.Input))
			prog := p.ParseProgram()

			if len(tc.Errors) > 0 {
				all := strings.Join(p.Errors(), "\n")
				for _, want := range tc.Errors {
					if !strings.Contains(all, want) {
						t.Errorf("expected error containing %q, got %q", want, all)
					}
				}
				return
			}
			if len(p.Errors()) > 0 {
				t.Fatalf("parser errors: %v", p.Errors())
			}

			var buf bytes.Buffer
			cabs.NewPrinter(&buf).PrintProgram(prog)
			for _, want := range tc.Expect {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, buf.String())
				}
			}
		})
	}
}

func firstTask(t *testing.T, prog *cabs.Program) *cabs.TaskStmt {
	t.Helper()
	for _, def := range prog.Definitions {
		fd, ok := def.(*cabs.FuncDecl)
		if !ok || fd.Body == nil {
			continue
		}
		for _, item := range fd.Body.Items {
			if ts, ok := item.(*cabs.TaskStmt); ok {
				return ts
			}
		}
	}
	t.Fatal("no task statement found")
	return nil
}

func TestSectionForms(t *testing.T) {
	tests := []struct {
		name      string
		clause    string
		form      cabs.SectionForm
		semicolon bool
	}{
		{"depend colon is length", "depend(in: a[1:4])", cabs.LengthForm, false},
		{"in colon is inclusive upper", "in(a[1:4])", cabs.UpperForm, false},
		{"in semicolon is length", "in(a[1;4])", cabs.LengthForm, true},
		{"depend semicolon kept for diagnosis", "depend(in: a[1;4])", cabs.LengthForm, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "void f(int *a) {\n#pragma oss task " + tt.clause + "\n{}\n}\n"
			ts := firstTask(t, parseProgram(t, input))
			dep, ok := ts.Clauses[0].(*cabs.DependClause)
			if !ok {
				t.Fatalf("expected DependClause, got %T", ts.Clauses[0])
			}
			sec, ok := dep.Items[0].(*cabs.Section)
			if !ok {
				t.Fatalf("expected Section, got %T", dep.Items[0])
			}
			if sec.Form != tt.form || sec.Semicolon != tt.semicolon {
				t.Errorf("form=%v semicolon=%v, want %v %v", sec.Form, sec.Semicolon, tt.form, tt.semicolon)
			}
		})
	}
}

func TestDependModifiers(t *testing.T) {
	input := "void f(int *p) {\n#pragma oss task depend(weak, inout: p[0:2]) depend(mutexinoutset: *p)\n{}\n}\n"
	ts := firstTask(t, parseProgram(t, input))
	if len(ts.Clauses) != 2 {
		t.Fatalf("expected 2 clauses, got %d", len(ts.Clauses))
	}
	first := ts.Clauses[0].(*cabs.DependClause)
	if len(first.Modifiers) != 2 || first.Modifiers[0] != cabs.DepWeak || first.Modifiers[1] != cabs.DepInout {
		t.Errorf("unexpected modifiers %v", first.Modifiers)
	}
	second := ts.Clauses[1].(*cabs.DependClause)
	if second.Modifiers[0] != cabs.DepMutexinoutset {
		t.Errorf("unexpected modifiers %v", second.Modifiers)
	}
	if _, ok := second.Items[0].(*cabs.Unary); !ok {
		t.Errorf("expected dereference item, got %T", second.Items[0])
	}
}

func TestShapeExpression(t *testing.T) {
	input := "void f(int *p, int n) {\n#pragma oss task in([n][4]p)\n{}\n}\n"
	ts := firstTask(t, parseProgram(t, input))
	shape, ok := ts.Clauses[0].(*cabs.DependClause).Items[0].(*cabs.Shape)
	if !ok {
		t.Fatalf("expected Shape item")
	}
	if len(shape.Dims) != 2 {
		t.Errorf("expected 2 shape dims, got %d", len(shape.Dims))
	}
	if v, ok := shape.Expr.(*cabs.Variable); !ok || v.Name != "p" {
		t.Errorf("unexpected shape operand %#v", shape.Expr)
	}
}

func TestTaskFunctionPragma(t *testing.T) {
	input := "#pragma oss task in(*a) out(b[0;n])\nvoid kernel(int *a, int *b, int n);\n"
	prog := parseProgram(t, input)
	if len(prog.Definitions) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(prog.Definitions))
	}
	fd, ok := prog.Definitions[0].(*cabs.FuncDecl)
	if !ok {
		t.Fatalf("expected FuncDecl, got %T", prog.Definitions[0])
	}
	if fd.Task == nil || len(fd.Task.Clauses) != 2 || fd.Task.Declarators != 1 {
		t.Fatalf("task pragma not attached: %#v", fd.Task)
	}
	if len(fd.Params()) != 3 {
		t.Errorf("expected 3 params, got %d", len(fd.Params()))
	}
}

func TestDeclareReduction(t *testing.T) {
	input := "struct acc { int v; };\n" +
		"#pragma oss declare reduction(merge : struct acc : omp_out.v += omp_in.v) initializer(omp_priv = omp_orig)\n"
	prog := parseProgram(t, input)
	d, ok := prog.Definitions[1].(*cabs.DeclareReduction)
	if !ok {
		t.Fatalf("expected DeclareReduction, got %T", prog.Definitions[1])
	}
	if d.Name != "merge" || len(d.Types) != 1 || d.InitIsCall {
		t.Errorf("unexpected declare reduction %#v", d)
	}
	if v, ok := d.Initializer.(*cabs.Variable); !ok || v.Name != "omp_orig" {
		t.Errorf("unexpected initializer %#v", d.Initializer)
	}
}

func TestDeclarators(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"int *a[3];", "int *a[3];"},
		{"int (*a)[3];", "int (*a)[3];"},
		{"int m[10][20];", "int m[10][20];"},
		{"unsigned long long x;", "unsigned long long x;"},
		{"const char *s;", "const char *s;"},
		{"typedef int T; T v;", "T v;"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var buf bytes.Buffer
			cabs.NewPrinter(&buf).PrintProgram(parseProgram(t, tt.input))
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("expected %q in output, got %q", tt.want, buf.String())
			}
		})
	}
}

func TestLifecycleAttribute(t *testing.T) {
	input := "struct buf { char *data; } __attribute__((oss_lifecycle(buf_init, buf_free, buf_copy)));\n"
	prog := parseProgram(t, input)
	gd := prog.Definitions[0].(*cabs.GlobalDecl)
	lc := gd.Structs[0].Lifecycle
	if lc == nil || lc.Ctor != "buf_init" || lc.Dtor != "buf_free" || lc.Copy != "buf_copy" {
		t.Errorf("unexpected lifecycle %#v", lc)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"unknown clause", "void f(void) {\n#pragma oss task bogus(x)\n{}\n}\n", "unknown clause 'bogus'"},
		{"unknown dependency type", "void f(int x) {\n#pragma oss task depend(sideways: x)\n{}\n}\n", "unknown dependency type 'sideways'"},
		{"unsupported switch", "void f(int x) { switch (x) {} }", "switch statements are not supported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(lexer.New(tt.input))
			p.ParseProgram()
			all := strings.Join(p.Errors(), "\n")
			if !strings.Contains(all, tt.want) {
				t.Errorf("expected error containing %q, got %q", tt.want, all)
			}
		})
	}
}
