// Package dom computes the dominator tree of an IR function and answers
// dominance and reachability queries over its blocks.
package dom

import (
	"github.com/llir/llvm/ir"
	"github.com/willf/bitset"
)

// Tree is the dominator tree of one function. Blocks unreachable from the
// entry are not numbered and dominate nothing.
type Tree struct {
	// Order lists the reachable blocks in reverse postorder
	Order []*ir.Block

	index    map[*ir.Block]int
	preds    [][]int
	idom     []int
	children [][]int
	pre      []int
	post     []int
}

// Succs returns the successors of a block
func Succs(b *ir.Block) []*ir.Block {
	if b.Term == nil {
		return nil
	}
	return b.Term.Succs()
}

// New builds the dominator tree of f
func New(f *ir.Func) *Tree {
	t := &Tree{index: map[*ir.Block]int{}}
	if len(f.Blocks) == 0 {
		return t
	}
	t.computeOrder(f.Blocks[0])
	t.preds = make([][]int, len(t.Order))
	for i, b := range t.Order {
		for _, s := range Succs(b) {
			if j, ok := t.index[s]; ok {
				t.preds[j] = append(t.preds[j], i)
			}
		}
	}
	t.computeIdom()
	t.number()
	return t
}

// computeOrder numbers the blocks reachable from entry in reverse postorder
func (t *Tree) computeOrder(entry *ir.Block) {
	visited := map[*ir.Block]bool{}
	var postorder []*ir.Block

	var dfs func(b *ir.Block)
	dfs = func(b *ir.Block) {
		if visited[b] {
			return
		}
		visited[b] = true
		for _, s := range Succs(b) {
			dfs(s)
		}
		postorder = append(postorder, b)
	}
	dfs(entry)

	t.Order = make([]*ir.Block, len(postorder))
	for i, b := range postorder {
		t.Order[len(postorder)-1-i] = b
	}
	for i, b := range t.Order {
		t.index[b] = i
	}
}

// computeIdom is the iterative algorithm of Cooper, Harvey and Kennedy
// over reverse postorder numbers
func (t *Tree) computeIdom() {
	n := len(t.Order)
	t.idom = make([]int, n)
	for i := range t.idom {
		t.idom[i] = -1
	}
	t.idom[0] = 0

	intersect := func(a, b int) int {
		for a != b {
			for a > b {
				a = t.idom[a]
			}
			for b > a {
				b = t.idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for i := 1; i < n; i++ {
			idom := -1
			for _, p := range t.preds[i] {
				if t.idom[p] < 0 {
					continue
				}
				if idom < 0 {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}
			if idom != t.idom[i] {
				t.idom[i] = idom
				changed = true
			}
		}
	}
}

// number assigns pre and post order numbers in the dominator tree
func (t *Tree) number() {
	n := len(t.Order)
	t.children = make([][]int, n)
	for i := 1; i < n; i++ {
		if d := t.idom[i]; d >= 0 {
			t.children[d] = append(t.children[d], i)
		}
	}
	t.pre = make([]int, n)
	t.post = make([]int, n)
	clock := 0
	var walk func(i int)
	walk = func(i int) {
		t.pre[i] = clock
		clock++
		for _, c := range t.children[i] {
			walk(c)
		}
		t.post[i] = clock
		clock++
	}
	walk(0)
}

// Index returns the reverse postorder number of b
func (t *Tree) Index(b *ir.Block) (int, bool) {
	i, ok := t.index[b]
	return i, ok
}

// Dominates reports whether every path from the entry to b passes
// through a. A block dominates itself.
func (t *Tree) Dominates(a, b *ir.Block) bool {
	i, ok := t.index[a]
	j, ok2 := t.index[b]
	if !ok || !ok2 {
		return false
	}
	return t.pre[i] <= t.pre[j] && t.post[j] <= t.post[i]
}

// IDom returns the immediate dominator of b, nil for the entry
func (t *Tree) IDom(b *ir.Block) *ir.Block {
	i, ok := t.index[b]
	if !ok || i == 0 {
		return nil
	}
	return t.Order[t.idom[i]]
}

// Children returns the blocks immediately dominated by b
func (t *Tree) Children(b *ir.Block) []*ir.Block {
	i, ok := t.index[b]
	if !ok {
		return nil
	}
	out := make([]*ir.Block, len(t.children[i]))
	for k, c := range t.children[i] {
		out[k] = t.Order[c]
	}
	return out
}

// Set returns a set holding the given blocks
func (t *Tree) Set(blocks ...*ir.Block) *bitset.BitSet {
	s := bitset.New(uint(len(t.Order)))
	for _, b := range blocks {
		if i, ok := t.index[b]; ok {
			s.Set(uint(i))
		}
	}
	return s
}

// Blocks lists the members of a set in reverse postorder
func (t *Tree) Blocks(s *bitset.BitSet) []*ir.Block {
	var out []*ir.Block
	for i, ok := s.NextSet(0); ok; i, ok = s.NextSet(i + 1) {
		if int(i) < len(t.Order) {
			out = append(out, t.Order[i])
		}
	}
	return out
}

// Reach collects the blocks reachable from start without passing through
// a block for which stop returns true. Stop blocks themselves are
// included; start is always included.
func (t *Tree) Reach(start *ir.Block, stop func(*ir.Block) bool) *bitset.BitSet {
	seen := bitset.New(uint(len(t.Order)))
	i, ok := t.index[start]
	if !ok {
		return seen
	}
	seen.Set(uint(i))
	work := []*ir.Block{start}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if b != start && stop != nil && stop(b) {
			continue
		}
		for _, s := range Succs(b) {
			j, ok := t.index[s]
			if !ok || seen.Test(uint(j)) {
				continue
			}
			seen.Set(uint(j))
			work = append(work, s)
		}
	}
	return seen
}
