package dom

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// diamond builds entry -> (left | right) -> join -> exit plus a loop
// from exit back to join and an unreachable block
func diamond() (*ir.Func, map[string]*ir.Block) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	bs := map[string]*ir.Block{}
	for _, name := range []string{"entry", "left", "right", "join", "exit", "dead", "out"} {
		bs[name] = f.NewBlock(name)
	}
	cond := constant.NewInt(types.I1, 1)
	bs["entry"].NewCondBr(cond, bs["left"], bs["right"])
	bs["left"].NewBr(bs["join"])
	bs["right"].NewBr(bs["join"])
	bs["join"].NewBr(bs["exit"])
	bs["exit"].NewCondBr(cond, bs["join"], bs["out"])
	bs["out"].NewRet(nil)
	bs["dead"].NewBr(bs["exit"])
	return f, bs
}

func names(blocks []*ir.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Name()
	}
	return out
}

func TestDominates(t *testing.T) {
	f, bs := diamond()
	tree := New(f)

	tests := []struct {
		a, b string
		want bool
	}{
		{"entry", "out", true},
		{"entry", "entry", true},
		{"left", "join", false},
		{"right", "join", false},
		{"join", "exit", true},
		{"exit", "join", false},
		{"exit", "out", true},
		{"dead", "exit", false},
		{"entry", "dead", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			if got := tree.Dominates(bs[tt.a], bs[tt.b]); got != tt.want {
				t.Errorf("Dominates(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}

	if got := tree.IDom(bs["join"]); got != bs["entry"] {
		t.Errorf("IDom(join) = %v, want entry", got)
	}
	if got := tree.IDom(bs["entry"]); got != nil {
		t.Errorf("IDom(entry) = %v, want nil", got)
	}
	if _, ok := tree.Index(bs["dead"]); ok {
		t.Error("unreachable block was numbered")
	}
}

func TestOrder(t *testing.T) {
	f, bs := diamond()
	tree := New(f)
	if len(tree.Order) != 6 || tree.Order[0] != bs["entry"] {
		t.Fatalf("unexpected order %v", names(tree.Order))
	}
	pos := map[string]int{}
	for i, b := range tree.Order {
		pos[b.Name()] = i
	}
	for _, edge := range [][2]string{{"entry", "left"}, {"entry", "right"}, {"left", "join"}, {"join", "exit"}, {"exit", "out"}} {
		if pos[edge[0]] >= pos[edge[1]] {
			t.Errorf("%s should precede %s in %v", edge[0], edge[1], names(tree.Order))
		}
	}
}

func TestReach(t *testing.T) {
	f, bs := diamond()
	tree := New(f)

	got := names(tree.Blocks(tree.Reach(bs["join"], func(b *ir.Block) bool { return b == bs["exit"] })))
	if diff := cmp.Diff([]string{"join", "exit"}, got); diff != "" {
		t.Errorf("Reach mismatch (-want +got):\n%s", diff)
	}

	all := tree.Reach(bs["entry"], nil)
	if all.Count() != 6 {
		t.Errorf("expected 6 reachable blocks, got %d", all.Count())
	}

	set := tree.Set(bs["out"], bs["left"], bs["dead"])
	if diff := cmp.Diff([]string{"left", "out"}, names(tree.Blocks(set))); diff != "" {
		t.Errorf("Set mismatch (-want +got):\n%s", diff)
	}
}

func TestChildren(t *testing.T) {
	f, bs := diamond()
	tree := New(f)
	got := map[string]bool{}
	for _, b := range tree.Children(bs["entry"]) {
		got[b.Name()] = true
	}
	want := map[string]bool{"left": true, "right": true, "join": true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Children(entry) mismatch (-want +got):\n%s", diff)
	}
}
