package taskregion

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/irgen"
	"github.com/raymyers/ralph-oss/pkg/lexer"
	"github.com/raymyers/ralph-oss/pkg/parser"
	"github.com/raymyers/ralph-oss/pkg/sema"
)

func generate(t *testing.T, src string) *ir.Module {
	t.Helper()
	p := parser.New(lexer.New(src))
	prog := p.ParseProgram()
	if len(p.Errors()) > 0 {
		t.Fatalf("parser errors: %v", p.Errors())
	}
	var diags diag.List
	info := sema.Check(prog, &diags)
	if diags.HasErrors() {
		t.Fatalf("checker errors: %v", diags.Sorted())
	}
	unit, err := irgen.Generate(prog, info, "t.c")
	if err != nil {
		t.Fatal(err)
	}
	return unit.Module
}

func function(t *testing.T, m *ir.Module, name string) *ir.Func {
	t.Helper()
	for _, f := range m.Funcs {
		if f.Name() == name {
			return f
		}
	}
	t.Fatalf("no function %s", name)
	return nil
}

func TestAnalyzeGenerated(t *testing.T) {
	m := generate(t, `
void f(int *p, int n) {
  int x = 0;
#pragma oss task shared(x) in(p[0:n]) label("outer")
  {
#pragma oss task inout(x)
    x++;
  }
#pragma oss taskwait
}
`)
	fi, err := Analyze(function(t, m, "f"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if len(fi.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(fi.Tasks))
	}
	inner, outer := fi.Tasks[0], fi.Tasks[1]
	if inner.Parent != outer || len(outer.Children) != 1 || outer.Children[0] != inner {
		t.Error("nesting was not recovered")
	}
	if outer.Label != "outer" || !strings.HasPrefix(outer.Source, "t.c:") {
		t.Errorf("unexpected label %q source %q", outer.Label, outer.Source)
	}
	var kinds []string
	for _, d := range outer.Deps {
		kinds = append(kinds, d.Kind+" "+d.Text)
	}
	if diff := cmp.Diff([]string{"IN p[0:n]"}, kinds); diff != "" {
		t.Errorf("deps mismatch (-want +got):\n%s", diff)
	}
	if len(outer.Shared) != 1 || len(inner.Shared) != 1 || outer.Shared[0] != inner.Shared[0] {
		t.Error("both tasks should share x")
	}
	if len(fi.Taskwaits) != 1 || !strings.HasPrefix(fi.Taskwaits[0].Source, "t.c:") {
		t.Errorf("unexpected taskwaits %+v", fi.Taskwaits)
	}
	for _, task := range fi.Tasks {
		if task.Exit == nil || !fi.Dom.Dominates(task.EntryBlock, task.ExitBlock) {
			t.Error("entry should dominate exit")
		}
	}
}

func TestReductionBundles(t *testing.T) {
	m := generate(t, `
void f(int n) {
  int s = 0;
#pragma oss task reduction(+: s)
  s += n;
}
`)
	fi, err := Analyze(function(t, m, "f"), Options{})
	if err != nil {
		t.Fatal(err)
	}
	d := fi.Tasks[0].Deps[0]
	if !d.IsReduction() || d.RedOp != 6000 || d.Init == nil || d.Combine == nil {
		t.Errorf("unexpected reduction %+v", d)
	}
}

// handmade builds a task whose body stores into an alloca missing from
// its data-sharing sets
func handmade() *ir.Func {
	m := ir.NewModule()
	entryFn := m.NewFunc(irgen.RegionEntry, types.Token)
	exitFn := m.NewFunc(irgen.RegionExit, types.Void, ir.NewParam("", types.Token))
	f := m.NewFunc("g", types.Void)
	b0 := f.NewBlock("")
	body := f.NewBlock("")
	after := f.NewBlock("")

	x := b0.NewAlloca(types.I32)
	entry := b0.NewCall(entryFn)
	entry.OperandBundles = []*ir.OperandBundle{
		{Tag: "DIR.OSS", Inputs: []value.Value{constant.NewCharArrayFromString("TASK\x00")}},
		{Tag: "QUAL.OSS.DECL.SOURCE", Inputs: []value.Value{constant.NewCharArrayFromString("h.c:1:1\x00")}},
	}
	b0.NewBr(body)
	body.NewStore(constant.NewInt(types.I32, 1), x)
	body.NewCall(exitFn, entry)
	body.NewBr(after)
	after.NewRet(nil)
	return f
}

func TestMissingDSA(t *testing.T) {
	_, err := Analyze(handmade(), Options{})
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("expected ErrInconsistent, got %v", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) || rerr.Func != "g" || rerr.Violations[0].Kind != "dsa_missing" {
		t.Errorf("unexpected error %#v", err)
	}

	var out bytes.Buffer
	fi, err := Analyze(handmade(), Options{DisableChecks: true, Print: []string{"dsa_missing", "task"}, Out: &out})
	if err != nil {
		t.Fatalf("advisory mode failed: %v", err)
	}
	if len(fi.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(fi.Tasks))
	}
	for _, want := range []string{"dsa_missing", "task at h.c:1:1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, out.String())
		}
	}
}

func TestUnknownBundle(t *testing.T) {
	f := handmade()
	entry := f.Blocks[0].Insts[1].(*ir.InstCall)
	entry.OperandBundles = append(entry.OperandBundles, &ir.OperandBundle{Tag: "QUAL.OSS.BOGUS"})
	if _, err := Analyze(f, Options{DisableChecks: true}); !errors.Is(err, ErrInconsistent) {
		t.Errorf("expected ErrInconsistent, got %v", err)
	}
}

func TestLocalIDMismatch(t *testing.T) {
	f := ir.NewFunc("bad", types.Void)
	b := f.NewBlock("")
	b.SetID(7)
	b.NewRet(nil)
	_, err := Analyze(f, Options{})
	if err == nil || !strings.HasPrefix(err.Error(), "bad: ") {
		t.Errorf("expected a numbering error for bad, got %v", err)
	}
}

func TestOperands(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("h", types.I32, ir.NewParam("a", types.I32))
	b := f.NewBlock("")
	sum := b.NewAdd(f.Params[0], constant.NewInt(types.I32, 1))
	b.NewRet(sum)

	ops := Operands(sum)
	if len(ops) != 2 || *ops[0] != value.Value(f.Params[0]) {
		t.Fatalf("unexpected operands of add")
	}
	users := Users(f)
	if len(users[sum]) != 1 || users[sum][0] != any(b.Term) {
		t.Errorf("ret should be the only user of the add")
	}
	*ops[0] = constant.NewInt(types.I32, 2)
	if _, ok := sum.X.(*constant.Int); !ok {
		t.Error("operand was not rewritten in place")
	}
}
