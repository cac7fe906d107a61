package sema

import (
	"os"
	"strings"
	"testing"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/lexer"
	"github.com/raymyers/ralph-oss/pkg/parser"
	"gopkg.in/yaml.v3"
)

type semaCase struct {
	Name     string   `yaml:"name"`
	Input    string   `yaml:"input"`
	Errors   []string `yaml:"errors"`
	Warnings []string `yaml:"warnings"`
	Tasks    []string `yaml:"tasks"`
}

type semaFile struct {
	Tests []semaCase `yaml:"tests"`
}

func check(t *testing.T, input string) (*cabs.Program, *Info, *diag.List) {
	t.Helper()
	p := parser.New(lexer.New(input))
	prog := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("parser errors: %v", p.Errors())
	}
	var diags diag.List
	return prog, Check(prog, &diags), &diags
}

func render(diags *diag.List, warnings bool) string {
	var out []string
	for _, d := range diags.Diags {
		if d.Kind.IsWarning() == warnings {
			out = append(out, d.Message())
		}
	}
	return strings.Join(out, "\n")
}

func dumpTasks(info *Info) string {
	var sb strings.Builder
	for _, task := range info.Tasks {
		sb.WriteString(task.String())
	}
	for _, task := range info.TaskFuncs {
		sb.WriteString(task.String())
	}
	return sb.String()
}

func TestSemaYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/sema.yaml")
	if err != nil {
		t.Skipf("sema.yaml not found: %v", err)
	}
	var file semaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to parse sema.yaml: %v", err)
	}

	for _, tc := range file.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			_, info, diags := check(t, tc.Input)

			errs := render(diags, false)
			if len(tc.Errors) == 0 && errs != "" {
				t.Errorf("unexpected errors:\n%s", errs)
			}
			for _, want := range tc.Errors {
				if !strings.Contains(errs, want) {
					t.Errorf("expected error containing %q, got:\n%s", want, errs)
				}
			}
			warns := render(diags, true)
			for _, want := range tc.Warnings {
				if !strings.Contains(warns, want) {
					t.Errorf("expected warning containing %q, got:\n%s", want, warns)
				}
			}
			dump := dumpTasks(info)
			for _, want := range tc.Tasks {
				if !strings.Contains(dump, want) {
					t.Errorf("expected task dump containing %q, got:\n%s", want, dump)
				}
			}
		})
	}
}

func TestExpressionTypes(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"1 + 2", "int"},
		{"1 + 2L", "long"},
		{"1u + 2", "unsigned int"},
		{"c + c", "int"},
		{"d * 2", "double"},
		{"f + 1", "float"},
		{"p + 1", "int *"},
		{"p - p", "long"},
		{"p == 0", "int"},
		{"*p", "int"},
		{"&a[1]", "int *"},
		{"a", "int[4]"},
		{"s.x", "int"},
		{"ps->y", "double"},
		{"sizeof(a)", "unsigned long"},
		{"(char)n", "char"},
		{"n ? d : 1", "double"},
		{"!p", "int"},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			src := "struct S { int x; double y; };\n" +
				"void f(char c, double d, float f, int *p, int n, struct S s, struct S *ps) {\n" +
				"  int a[4];\n" +
				"  " + tt.expr + ";\n" +
				"}\n"
			prog, info, diags := check(t, src)
			if diags.HasErrors() {
				t.Fatalf("unexpected errors:\n%s", render(diags, false))
			}
			body := prog.Definitions[1].(*cabs.FuncDecl).Body
			e := body.Items[len(body.Items)-1].(*cabs.Computation).Expr
			if got := info.TypeOf(e); got == nil || got.String() != tt.want {
				t.Errorf("type of %s = %v, want %s", tt.expr, got, tt.want)
			}
		})
	}
}

func TestExpressionErrors(t *testing.T) {
	tests := []struct {
		expr string
		kind diag.Kind
	}{
		{"s + 1", diag.InvalidOperands},
		{"~d", diag.InvalidUnaryOperand},
		{"1 = n", diag.NotAssignable},
		{"n(1)", diag.NotCallable},
		{"s.z", diag.NoMember},
		{"p = d", diag.IncompatibleTypes},
		{"n[1]", diag.InvalidSubscript},
		{"k = 2", diag.NotAssignable},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			src := "struct S { int x; };\n" +
				"void f(double d, int *p, int n, struct S s) {\n" +
				"  const int k = 1;\n" +
				"  " + tt.expr + ";\n" +
				"}\n"
			_, _, diags := check(t, src)
			found := false
			for _, d := range diags.Diags {
				if d.Kind == tt.kind {
					found = true
				}
			}
			if !found {
				t.Errorf("expected %v for %s, got:\n%s", tt.kind, tt.expr, render(diags, false))
			}
		})
	}
}

func TestTypeNamesResolved(t *testing.T) {
	src := "void f(void) {\n" +
		"  float x = 0;\n" +
		"  int n = (int)x + sizeof(int);\n" +
		"  #pragma oss task reduction(+: x)\n" +
		"  x += (float)n;\n" +
		"}\n"
	_, info, diags := check(t, src)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors:\n%s", render(diags, false))
	}
	if len(info.TypeNames) == 0 {
		t.Errorf("no type names recorded")
	}
	for tn, typ := range info.TypeNames {
		if typ == nil {
			t.Errorf("type name at %s resolved to nil", tn.Loc)
		}
	}
	if got := dumpTasks(info); !strings.Contains(got, "reduction(+) x: float") {
		t.Errorf("reduction missing from task dump:\n%s", got)
	}
}

func TestTaskCallResolvesAtCallSite(t *testing.T) {
	src := "#pragma oss task in(*p) out(*q)\n" +
		"void use(int n, int (*p)[n], int *q);\n" +
		"void f(int *a, int *b) {\n" +
		"  use(8, a, b);\n" +
		"}\n"
	prog, info, diags := check(t, src)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors:\n%s", render(diags, false))
	}

	decl := info.TaskFuncs["use"]
	if decl == nil || !decl.HasDeferred() {
		t.Fatalf("expected task function with deferred items, got %v", decl)
	}

	body := prog.Definitions[1].(*cabs.FuncDecl).Body
	call := body.Items[0].(*cabs.Computation).Expr.(*cabs.Call)
	tc := info.TaskCalls[call]
	if tc == nil {
		t.Fatal("call was not recorded as a task call")
	}
	if len(tc.Args) != 3 || tc.Args[0].Name != "call_arg" {
		t.Errorf("unexpected call args %#v", tc.Args)
	}
	if got := info.DeclType(tc.Args[1]); !ctypes.Equal(got, ctypes.Pointer(ctypes.VLA(ctypes.Int(), 0))) {
		t.Errorf("call_arg type = %v, want int (*)[n]", got)
	}
	if tc.Task.HasDeferred() {
		t.Fatal("call-site task still has deferred items")
	}
	if got, want := tc.Task.Deps[0].Region.String(), "base=p elem=int dims=[(n, 0, n)]"; got != want {
		t.Errorf("region = %q, want %q", got, want)
	}
	if len(tc.Task.Firstprivate) != 3 {
		t.Errorf("expected every parameter firstprivate, got %d", len(tc.Task.Firstprivate))
	}
}

func TestTaskFunctionPointerSectionNotDeferred(t *testing.T) {
	src := "#pragma oss task in(p[0;n])\n" +
		"void use(int *p, int n);\n"
	_, info, diags := check(t, src)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors:\n%s", render(diags, false))
	}
	decl := info.TaskFuncs["use"]
	if decl == nil {
		t.Fatal("use was not registered as a task function")
	}
	if decl.HasDeferred() {
		t.Errorf("only variable length parameter types wait for the call site:\n%s", decl)
	}
}

func TestDeclaredReductionInstances(t *testing.T) {
	src := "struct acc { int v; };\n" +
		"#pragma oss declare reduction(merge : struct acc, int : omp_out = omp_in)\n"
	_, info, diags := check(t, src)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors:\n%s", render(diags, false))
	}
	all := info.Reductions.All()
	if len(all) != 2 {
		t.Fatalf("expected one instance per type, got %d", len(all))
	}
	if all[0].Combiner == all[1].Combiner {
		t.Error("instances share combiner syntax")
	}
	for _, d := range all {
		if d.Init != nil || d.Priv != nil {
			t.Errorf("%s: expected zero-fill initializer", d.Type)
		}
		if !ctypes.Equal(info.DeclType(d.Out), d.Type) {
			t.Errorf("omp_out has type %v, want %v", info.DeclType(d.Out), d.Type)
		}
	}
}

func TestLocalScopes(t *testing.T) {
	src := "int g;\n" +
		"int f(int g) {\n" +
		"  { int g = 2; g++; }\n" +
		"  return g;\n" +
		"}\n" +
		"int h(void) { return g; }\n"
	_, _, diags := check(t, src)
	if diags.HasErrors() {
		t.Fatalf("unexpected errors:\n%s", render(diags, false))
	}

	_, _, diags = check(t, "void f(void) { int x; int x; }")
	if !strings.Contains(render(diags, false), "redefinition of 'x'") {
		t.Errorf("expected redefinition, got:\n%s", render(diags, false))
	}
}
