package tasklower

import (
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/nanos6"
	"github.com/raymyers/ralph-oss/pkg/taskregion"
)

// callbacks are the outlined functions a task info points at
type callbacks struct {
	run         *ir.Func
	deps        *ir.Func
	constraints *ir.Func
	priority    *ir.Func
	redInits    *ir.Global
	redCombs    *ir.Global
	numSymbols  int
}

// task lowers one region of f
func (l *lowerer) task(f *ir.Func, t *taskregion.Info, names nanos6.Names) error {
	live, err := l.collect(f, t)
	if err != nil {
		return err
	}
	out := l.synthesize(live, names)

	cb := &callbacks{run: l.outline(live, out, names)}
	symbols := symbolIndex(t.Deps)
	cb.numSymbols = len(symbols)
	if len(t.Deps) > 0 {
		if cb.deps, err = l.deps(f, live, out, names, symbols); err != nil {
			return err
		}
	}
	if t.Cost != nil {
		cb.constraints = l.scalar(live, out, t.Cost, names.UnpackedConstraints(), names.OutlineConstraints(), l.rt.ConstraintsFn,
			func(b *ir.Block, dst, v value.Value) {
				b.NewStore(v, b.NewGetElementPtr(l.rt.Constraints, dst, i32(0), i32(0)))
			})
	}
	if t.Priority != nil {
		cb.priority = l.scalar(live, out, t.Priority, names.UnpackedPriority(), names.OutlinePriority(), l.rt.PriorityFn,
			func(b *ir.Block, dst, v value.Value) { b.NewStore(v, dst) })
	}
	cb.redInits, cb.redCombs = l.reductionTables(t, names, symbols)

	info, invocation := l.descriptors(t, names, cb)

	// nested tasks keep their slots in the allocas block of the parent body
	allocas := f.Blocks[0]
	if t.Parent != nil {
		allocas = branchTarget(t.Parent.EntryBlock)
	}
	l.move(f, live, out)
	l.callSite(t.EntryBlock, allocas, live, out, info, invocation)
	t.EntryBlock.NewBr(live.after)
	return nil
}

// symbolIndex numbers the distinct symbols of the dependencies
func symbolIndex(deps []*taskregion.Dep) map[value.Value]int {
	idx := map[value.Value]int{}
	for _, d := range deps {
		if _, ok := idx[d.Sym]; !ok {
			idx[d.Sym] = len(idx)
		}
	}
	return idx
}

// deps emits the dependency registration callbacks
func (l *lowerer) deps(f *ir.Func, live *liveIns, out *outlined, names nanos6.Names, symbols map[value.Value]int) (*ir.Func, error) {
	t := live.t
	params := append(slices.Clone(out.unpacked.Sig.Params), types.I8Ptr)
	unpacked := l.newFunc(names.UnpackedDeps(), types.Void, params...)
	handler := unpacked.Params[len(unpacked.Params)-1]
	bound := binding(live, unpacked)
	b := unpacked.NewBlock("")

	for _, d := range t.Deps {
		ret, ok := d.Compute.Func.Sig.RetType.(*types.StructType)
		if !ok || len(ret.Fields) < 4 || (len(ret.Fields)-1)%3 != 0 {
			return nil, l.fail(f, t, "dependency %s has a malformed computation", d.Text)
		}
		rank := (len(ret.Fields) - 1) / 3
		if rank > l.opts.MaxDepDims {
			return nil, l.fail(f, t, "dependency %s has %d dimensions, more than %d", d.Text, rank, l.opts.MaxDepDims)
		}
		res := b.NewCall(d.Compute.Func, rebind(bound, d.Compute.Args)...)
		sym := i32(int64(symbols[d.Sym]))
		args := []value.Value{handler, sym, l.str(d.Text)}
		for k := range ret.Fields {
			args = append(args, b.NewExtractValue(res, uint64(k)))
		}

		var reg *ir.Func
		var err error
		if d.IsReduction() {
			reg, err = l.rt.RegisterReduction(d.Kind == "WEAKREDUCTION", rank)
			args = append([]value.Value{i32(d.RedOp), sym}, args...)
		} else {
			reg, err = l.rt.RegisterDep(d.Kind, rank)
		}
		if err != nil {
			return nil, l.fail(f, t, "%v", err)
		}
		b.NewCall(reg, args...)
	}
	b.NewRet(nil)

	ol := l.newFunc(names.OutlineDeps(), types.Void, l.rt.DepinfoFn.Params...)
	ob := ol.NewBlock("")
	ob.NewCall(unpacked, append(l.unpack(ob, ol.Params[0], live, out.args), ol.Params[1])...)
	ob.NewRet(nil)
	return ol, nil
}

// scalar emits the callbacks of a cost or priority clause: the value is
// computed, widened to i64 and handed to store
func (l *lowerer) scalar(live *liveIns, out *outlined, c *taskregion.Call, unpackedName, olName string, sig *types.FuncType,
	store func(b *ir.Block, dst, v value.Value)) *ir.Func {
	dstType := sig.Params[len(sig.Params)-1]
	params := append(slices.Clone(out.unpacked.Sig.Params), dstType)
	unpacked := l.newFunc(unpackedName, types.Void, params...)
	bound := binding(live, unpacked)
	b := unpacked.NewBlock("")
	var v value.Value = b.NewCall(c.Func, rebind(bound, c.Args)...)
	if it, ok := v.Type().(*types.IntType); ok && it.BitSize < 64 {
		v = b.NewSExt(v, types.I64)
	}
	store(b, unpacked.Params[len(unpacked.Params)-1], v)
	b.NewRet(nil)

	ol := l.newFunc(olName, types.Void, sig.Params...)
	ob := ol.NewBlock("")
	ob.NewCall(unpacked, append(l.unpack(ob, ol.Params[0], live, out.args), ol.Params[1])...)
	ob.NewRet(nil)
	return ol
}

// reductionTables emits the initializer and combiner tables indexed by
// symbol, or nil when the task has no reductions
func (l *lowerer) reductionTables(t *taskregion.Info, names nanos6.Names, symbols map[value.Value]int) (*ir.Global, *ir.Global) {
	inits := make([]constant.Constant, len(symbols))
	combs := make([]constant.Constant, len(symbols))
	found := false
	for _, d := range t.Deps {
		if !d.IsReduction() {
			continue
		}
		found = true
		k := symbols[d.Sym]
		inits[k] = fnPtr(d.Init, l.rt.ReductionFn)
		combs[k] = fnPtr(d.Combine, l.rt.ReductionFn)
	}
	if !found {
		return nil, nil
	}
	table := func(name string, elems []constant.Constant) *ir.Global {
		for i, e := range elems {
			if e == nil {
				elems[i] = fnPtr(nil, l.rt.ReductionFn)
			}
		}
		at := types.NewArray(uint64(len(elems)), types.NewPointer(l.rt.ReductionFn))
		gv := l.m.NewGlobalDef(name, constant.NewArray(at, elems...))
		gv.Linkage = enum.LinkageInternal
		gv.Immutable = true
		return gv
	}
	return table(names.RedInits(), inits), table(names.RedCombs(), combs)
}

func firstElem(gv *ir.Global) constant.Constant {
	return constant.NewGetElementPtr(gv.ContentType, gv, i64(0), i64(0))
}

// descriptors emits the invocation info, the implementation list and the
// task info of a task
func (l *lowerer) descriptors(t *taskregion.Info, names nanos6.Names, cb *callbacks) (info, invocation *ir.Global) {
	global := func(name string, init constant.Constant) *ir.Global {
		gv := l.m.NewGlobalDef(name, init)
		gv.Linkage = enum.LinkageInternal
		gv.Align = ir.Align(l.opts.TaskAlign)
		return gv
	}
	i8null := constant.NewNull(types.I8Ptr)
	label := constant.Constant(i8null)
	if t.Label != "" {
		label = l.str(t.Label)
	}

	invocation = global(names.InvocationInfo(), constant.NewStruct(l.rt.InvocationInfo, l.str(t.Source)))

	impl := constant.NewStruct(l.rt.ImplInfo,
		i32(0),
		fnPtr(cb.run, l.rt.RunFn),
		fnPtr(cb.constraints, l.rt.ConstraintsFn),
		label,
		l.str(t.Source),
		fnPtr(nil, l.rt.RunFn),
	)
	impls := global(names.Implementations(), constant.NewArray(types.NewArray(1, l.rt.ImplInfo), impl))

	redTable := func(gv *ir.Global) constant.Constant {
		if gv == nil {
			return constant.NewNull(types.NewPointer(types.NewPointer(l.rt.ReductionFn)))
		}
		return firstElem(gv)
	}
	info = global(names.TaskInfo(), constant.NewStruct(l.rt.TaskInfo,
		i32(int64(cb.numSymbols)),
		fnPtr(cb.deps, l.rt.DepinfoFn),
		fnPtr(cb.priority, l.rt.PriorityFn),
		l.str(t.Source),
		i32(1),
		firstElem(impls),
		fnPtr(nil, l.rt.DestroyFn),
		fnPtr(nil, l.rt.DuplicateFn),
		redTable(cb.redInits),
		redTable(cb.redCombs),
	))
	return info, invocation
}

// callSite creates and submits the task at the end of b. Pointer slots
// for the runtime's results go to the allocas block.
func (l *lowerer) callSite(b, allocas *ir.Block, live *liveIns, out *outlined, info, invocation *ir.Global) {
	t := live.t
	argsSlot := ir.NewAlloca(types.I8Ptr)
	taskSlot := ir.NewAlloca(types.I8Ptr)
	allocas.Insts = append([]ir.Instruction{argsSlot, taskSlot}, allocas.Insts...)

	// VLA copies follow the block, each rounded to the block alignment
	align := max(l.opts.ArgsAlign, 1)
	var size value.Value = i64(alignTo(Sizeof(out.args), align))
	offsets := map[*member]value.Value{}
	counts := map[*member]value.Value{}
	for _, m := range live.members {
		if !m.vla() || m.kind == memberShared {
			continue
		}
		n := value.Value(i64(1))
		for _, d := range m.dims {
			n = mul(b, n, d)
		}
		counts[m] = n
		offsets[m] = size
		bytes := mul(b, n, i64(Sizeof(m.elem)))
		rounded := b.NewAnd(b.NewAdd(bytes, i64(align-1)), i64(-align))
		size = b.NewAdd(size, rounded)
	}

	b.NewCall(l.rt.CreateTask(), info, invocation, size, argsSlot, taskSlot, l.flags(b, t), i64(int64(len(t.Deps))))
	raw := b.NewLoad(types.I8Ptr, argsSlot)
	typed := b.NewBitCast(raw, types.NewPointer(out.args))

	inits := lifecycles(t.Inits)
	copies := lifecycles(t.Copies)
	for i, m := range live.members {
		field := b.NewGetElementPtr(out.args, typed, i32(0), i32(int64(i)))
		switch m.kind {
		case memberShared, memberCaptured:
			b.NewStore(m.v, field)
			continue
		}
		dst := value.Value(field)
		if m.vla() {
			dst = b.NewBitCast(b.NewGetElementPtr(types.I8, raw, offsets[m]), m.typ)
			b.NewStore(dst, field)
		}
		switch {
		case m.kind == memberPrivate:
			if ctor, ok := inits[m.v]; ok {
				ptr, n := elements(b, dst, m.dims)
				b.NewCall(ctor, ptr, n)
			}
		case copies[m.v] != nil:
			dp, n := elements(b, dst, m.dims)
			sp, _ := elements(b, m.v, m.dims)
			b.NewCall(copies[m.v], dp, sp, n)
		case m.vla():
			bytes := mul(b, counts[m], i64(Sizeof(m.elem)))
			l.copyBytes(b, dst, m.v, bytes)
		case isAggregate(m.typ):
			l.copyBytes(b, dst, m.v, i64(Sizeof(m.typ)))
		default:
			b.NewStore(b.NewLoad(m.typ, m.v), dst)
		}
	}

	b.NewCall(l.rt.SubmitTask(), b.NewLoad(types.I8Ptr, taskSlot))
}

func lifecycles(list []taskregion.Lifecycle) map[value.Value]*ir.Func {
	out := make(map[value.Value]*ir.Func, len(list))
	for _, lc := range list {
		out[lc.Value] = lc.Func
	}
	return out
}

func isAggregate(t types.Type) bool {
	switch t.(type) {
	case *types.ArrayType, *types.StructType:
		return true
	}
	return false
}

func (l *lowerer) copyBytes(b *ir.Block, dst, src, n value.Value) {
	b.NewCall(l.memcpyFunc(),
		b.NewBitCast(dst, types.I8Ptr), b.NewBitCast(src, types.I8Ptr), n, constant.NewBool(false))
}

// flags encodes the final and if clauses
func (l *lowerer) flags(b *ir.Block, t *taskregion.Info) value.Value {
	var flags value.Value = i64(0)
	if t.Final != nil {
		flags = b.NewZExt(t.Final, types.I64)
	}
	if t.If != nil {
		if0 := b.NewShl(b.NewZExt(b.NewXor(t.If, constant.NewBool(true)), types.I64), i64(1))
		if c, ok := flags.(*constant.Int); ok && c.X.Sign() == 0 {
			flags = if0
		} else {
			flags = b.NewOr(flags, if0)
		}
	}
	return flags
}
