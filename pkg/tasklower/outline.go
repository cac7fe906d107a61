package tasklower

import (
	"fmt"
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/dom"
	"github.com/raymyers/ralph-oss/pkg/nanos6"
	"github.com/raymyers/ralph-oss/pkg/taskregion"
)

type memberKind int

const (
	memberShared memberKind = iota
	memberPrivate
	memberFirstprivate
	memberCaptured
)

// member is one field of the argument block
type member struct {
	kind memberKind
	// v is the storage of the variable, or the captured value, in the
	// enclosing function
	v   value.Value
	typ types.Type

	// VLAs travel as a pointer to storage after the block
	elem types.Type
	dims []value.Value
}

func (m *member) vla() bool { return m.dims != nil }

// liveIns is what a region takes from its enclosing function
type liveIns struct {
	t       *taskregion.Info
	blocks  []*ir.Block // head first
	head    *ir.Block
	after   *ir.Block
	members []*member
}

// outlined is the signature side of a task
type outlined struct {
	args     *types.StructType
	unpacked *ir.Func
}

func (l *lowerer) fail(f *ir.Func, t *taskregion.Info, format string, args ...any) error {
	return &Error{Func: f.Name(), Source: t.Source, Msg: fmt.Sprintf(format, args...)}
}

func branchTarget(b *ir.Block) *ir.Block {
	br, ok := b.Term.(*ir.TermBr)
	if !ok {
		return nil
	}
	t, _ := br.Target.(*ir.Block)
	return t
}

// collect finds the blocks of the region and the values it takes from
// outside. It does not modify f.
func (l *lowerer) collect(f *ir.Func, t *taskregion.Info) (*liveIns, error) {
	live := &liveIns{t: t}
	if live.head = branchTarget(t.EntryBlock); live.head == nil {
		return nil, l.fail(f, t, "entry block does not branch into the region")
	}
	if live.after = branchTarget(t.ExitBlock); live.after == nil {
		return nil, l.fail(f, t, "region has more than one exit target")
	}

	tree := dom.New(f)
	set := tree.Reach(live.head, func(b *ir.Block) bool { return b == t.ExitBlock })
	inRegion := func(b *ir.Block) bool {
		i, ok := tree.Index(b)
		return ok && set.Test(uint(i))
	}
	if !inRegion(t.ExitBlock) {
		return nil, l.fail(f, t, "exit marker is not reachable from the entry")
	}
	if inRegion(t.EntryBlock) {
		return nil, l.fail(f, t, "region branches back to its entry")
	}
	live.blocks = []*ir.Block{live.head}
	for _, b := range f.Blocks {
		if b != live.head && inRegion(b) {
			live.blocks = append(live.blocks, b)
		}
	}
	for _, b := range live.blocks {
		if b == t.ExitBlock {
			continue
		}
		for _, s := range dom.Succs(b) {
			if !inRegion(s) {
				return nil, l.fail(f, t, "region has more than one exit target")
			}
		}
		if _, ok := b.Term.(*ir.TermBr); !ok {
			if _, ok := b.Term.(*ir.TermCondBr); !ok {
				return nil, l.fail(f, t, "region leaves through %T", b.Term)
			}
		}
	}

	for _, v := range t.Shared {
		live.members = append(live.members, &member{kind: memberShared, v: v, typ: v.Type()})
	}
	for _, group := range []struct {
		kind memberKind
		vals []value.Value
	}{{memberPrivate, t.Private}, {memberFirstprivate, t.Firstprivate}} {
		for _, v := range group.vals {
			pt, ok := v.Type().(*types.PointerType)
			if !ok {
				return nil, l.fail(f, t, "%s is not addressable", v.Ident())
			}
			m := &member{kind: group.kind, v: v, typ: pt.ElemType}
			if dims, ok := t.VLADims[v]; ok {
				m.typ, m.elem, m.dims = pt, pt.ElemType, dims
			}
			live.members = append(live.members, m)
		}
	}
	for _, v := range t.Captured {
		live.members = append(live.members, &member{kind: memberCaptured, v: v, typ: v.Type()})
	}
	return live, nil
}

// synthesize declares the argument block and the unpacked body function.
// The body function takes one parameter per member: the pointer to a
// shared variable, the address of a private copy or a captured value.
func (l *lowerer) synthesize(live *liveIns, names nanos6.Names) *outlined {
	fields := make([]types.Type, len(live.members))
	params := make([]types.Type, len(live.members))
	for i, m := range live.members {
		fields[i] = m.typ
		params[i] = m.v.Type()
	}
	st := types.NewStruct(fields...)
	l.m.NewTypeDef(names.Args(), st)
	return &outlined{
		args:     st,
		unpacked: l.newFunc(names.UnpackedRegion(), types.Void, params...),
	}
}

// binding maps the live-ins of a region to the parameters of fn, which
// must start with one parameter per member
func binding(live *liveIns, fn *ir.Func) map[value.Value]value.Value {
	bound := make(map[value.Value]value.Value, len(live.members))
	for i, m := range live.members {
		bound[m.v] = fn.Params[i]
	}
	return bound
}

func rebind(bound map[value.Value]value.Value, vals []value.Value) []value.Value {
	out := make([]value.Value, len(vals))
	for i, v := range vals {
		if p, ok := bound[v]; ok {
			out[i] = p
		} else {
			out[i] = v
		}
	}
	return out
}

// move transfers the region blocks into the unpacked function, rewrites
// their uses of live-ins and runs destructors at the single exit
func (l *lowerer) move(f *ir.Func, live *liveIns, out *outlined) {
	t := live.t
	fn := out.unpacked
	t.EntryBlock.Insts = slices.DeleteFunc(t.EntryBlock.Insts, func(inst ir.Instruction) bool {
		return inst == ir.Instruction(t.Entry)
	})
	t.ExitBlock.Insts = slices.DeleteFunc(t.ExitBlock.Insts, func(inst ir.Instruction) bool {
		return inst == ir.Instruction(t.Exit)
	})

	moving := map[*ir.Block]bool{}
	for _, b := range live.blocks {
		moving[b] = true
		b.Parent = fn
	}
	f.Blocks = slices.DeleteFunc(f.Blocks, func(b *ir.Block) bool { return moving[b] })
	fn.Blocks = live.blocks

	bound := binding(live, fn)
	for _, b := range live.blocks {
		for _, inst := range b.Insts {
			for _, op := range taskregion.Operands(inst) {
				if p, ok := bound[*op]; ok {
					*op = p
				}
			}
		}
		for _, op := range taskregion.Operands(b.Term) {
			if p, ok := bound[*op]; ok {
				*op = p
			}
		}
	}

	exit := t.ExitBlock
	for _, lc := range t.Deinits {
		p, ok := bound[lc.Value]
		if !ok {
			continue
		}
		ptr, n := elements(exit, p, rebind(bound, t.VLADims[lc.Value]))
		exit.NewCall(lc.Func, ptr, n)
	}
	exit.NewRet(nil)
}

// elements returns the first element of the object at p and the number
// of elements, as lifecycle wrappers take them
func elements(b *ir.Block, p value.Value, dims []value.Value) (value.Value, value.Value) {
	if dims != nil {
		var n value.Value = i64(1)
		for _, d := range dims {
			n = mul(b, n, d)
		}
		return p, n
	}
	pt := p.Type().(*types.PointerType)
	if at, ok := pt.ElemType.(*types.ArrayType); ok {
		return b.NewGetElementPtr(at, p, i64(0), i64(0)), i64(int64(at.Len))
	}
	return p, i64(1)
}

// unpack loads the members of an argument block as the unpacked
// functions take them
func (l *lowerer) unpack(b *ir.Block, raw value.Value, live *liveIns, st *types.StructType) []value.Value {
	typed := b.NewBitCast(raw, types.NewPointer(st))
	out := make([]value.Value, len(live.members))
	for i, m := range live.members {
		field := b.NewGetElementPtr(st, typed, i32(0), i32(int64(i)))
		if m.kind == memberShared || m.kind == memberCaptured || m.vla() {
			out[i] = b.NewLoad(m.typ, field)
		} else {
			out[i] = field
		}
	}
	return out
}

// outline emits the run callback: it unpacks the block and calls the
// body
func (l *lowerer) outline(live *liveIns, out *outlined, names nanos6.Names) *ir.Func {
	fn := l.newFunc(names.OutlineRegion(), types.Void, l.rt.RunFn.Params...)
	b := fn.NewBlock("")
	b.NewCall(out.unpacked, l.unpack(b, fn.Params[0], live, out.args)...)
	b.NewRet(nil)
	return fn
}
