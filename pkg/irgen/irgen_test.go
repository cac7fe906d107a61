package irgen

import (
	"os"
	"strings"
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/lexer"
	"github.com/raymyers/ralph-oss/pkg/parser"
	"github.com/raymyers/ralph-oss/pkg/sema"
	"gopkg.in/yaml.v3"
)

type irgenCase struct {
	Name      string   `yaml:"name"`
	Input     string   `yaml:"input"`
	Expect    []string `yaml:"expect"`
	ExpectNot []string `yaml:"expect_not"`
}

type irgenFile struct {
	Tests []irgenCase `yaml:"tests"`
}

func generate(t *testing.T, input string) (*Unit, error) {
	t.Helper()
	p := parser.New(lexer.New(input))
	prog := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("parser errors: %v", p.Errors())
	}
	var diags diag.List
	info := sema.Check(prog, &diags)
	if diags.HasErrors() {
		for _, d := range diags.Sorted() {
			t.Log(d.String())
		}
		t.Fatal("checker reported errors")
	}
	return Generate(prog, info, "test.c")
}

func TestIRGenYAML(t *testing.T) {
	data, err := os.ReadFile("../../testdata/irgen.yaml")
	if err != nil {
		t.Skipf("irgen.yaml not found: %v", err)
	}
	var file irgenFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("failed to parse irgen.yaml: %v", err)
	}

	for _, tc := range file.Tests {
		t.Run(tc.Name, func(t *testing.T) {
			unit, err := generate(t, tc.Input)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			out := unit.Module.String()
			for _, want := range tc.Expect {
				if !strings.Contains(out, want) {
					t.Errorf("expected %q in module:\n%s", want, out)
				}
			}
			for _, bad := range tc.ExpectNot {
				if strings.Contains(out, bad) {
					t.Errorf("unexpected %q in module:\n%s", bad, out)
				}
			}
		})
	}
}

func entryMarkers(m *ir.Module) []*ir.InstCall {
	var out []*ir.InstCall
	for _, f := range m.Funcs {
		for _, b := range f.Blocks {
			for _, inst := range b.Insts {
				call, ok := inst.(*ir.InstCall)
				if !ok {
					continue
				}
				if fn, ok := call.Callee.(*ir.Func); ok && fn.Name() == RegionEntry {
					out = append(out, call)
				}
			}
		}
	}
	return out
}

func TestBundleOrder(t *testing.T) {
	unit, err := generate(t, `
void f(int *p, int n) {
  int x = 0;
#pragma oss task shared(x) in(p[0:n]) if(n) label("l")
  { x = p[0]; }
}
`)
	if err != nil {
		t.Fatal(err)
	}
	markers := entryMarkers(unit.Module)
	if len(markers) != 1 {
		t.Fatalf("expected one region entry, got %d", len(markers))
	}
	var tags []string
	for _, b := range markers[0].OperandBundles {
		tags = append(tags, b.Tag)
	}
	got := strings.Join(tags, " ")
	want := []string{"DIR.OSS", "QUAL.OSS.SHARED", "QUAL.OSS.DEP.IN", "QUAL.OSS.IF", "QUAL.OSS.LABEL", "QUAL.OSS.DECL.SOURCE"}
	last := -1
	for _, w := range want {
		i := strings.Index(got, w)
		if i < 0 || i < last {
			t.Fatalf("bundle %s missing or out of order in %q", w, got)
		}
		last = i
	}
	if tags[0] != "DIR.OSS" || tags[len(tags)-1] != "QUAL.OSS.DECL.SOURCE" {
		t.Errorf("unexpected bundle order %q", got)
	}
}

func TestNestedRegions(t *testing.T) {
	unit, err := generate(t, `
void f(void) {
  int x = 0;
#pragma oss task shared(x)
  {
#pragma oss task shared(x)
    x++;
  }
}
`)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(entryMarkers(unit.Module)); n != 2 {
		t.Errorf("expected two region entries, got %d", n)
	}
	if c := strings.Count(unit.Module.String(), "call void @llvm.directive.region.exit(token"); c != 2 {
		t.Errorf("expected two region exits, got %d", c)
	}
}

func TestSource(t *testing.T) {
	g := &Generator{file: "a.c"}
	got := g.source(cabs.Loc{Line: 3, Col: 7})
	if s := got.Ident(); !strings.Contains(s, `a.c:3:7\00`) {
		t.Errorf("source = %s", s)
	}
}
