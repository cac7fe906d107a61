package irgen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/nanos6"
	"github.com/raymyers/ralph-oss/pkg/ossclause"
	"github.com/raymyers/ralph-oss/pkg/region"
	"github.com/raymyers/ralph-oss/pkg/sema"
)

func bundle(tag string, inputs ...value.Value) *ir.OperandBundle {
	return &ir.OperandBundle{Tag: tag, Inputs: inputs}
}

func (g *Generator) source(loc cabs.Loc) *constant.CharArray {
	return cstr(fmt.Sprintf("%s:%d:%d", g.file, loc.Line, loc.Col))
}

// taskEnv is what outlined clause functions receive: the storage of every
// data-sharing variable followed by the captured runtime extents
type taskEnv struct {
	decls    []*cabs.VarDecl
	values   []value.Value
	captured []value.Value
}

func (e *taskEnv) args() []value.Value {
	return append(append([]value.Value{}, e.values...), e.captured...)
}

func (f *fnState) taskEnv(t *ossclause.Task) *taskEnv {
	env := &taskEnv{}
	seen := map[value.Value]bool{}
	for _, v := range t.Vars() {
		env.decls = append(env.decls, v.Decl)
		env.values = append(env.values, f.storage(v.Decl))
	}
	for _, d := range env.decls {
		for _, x := range f.dims[d] {
			if _, isConst := x.(constant.Constant); isConst || seen[x] {
				continue
			}
			seen[x] = true
			env.captured = append(env.captured, x)
		}
	}
	return env
}

// outline creates an internal function over env. Inside it the variables
// of env are bound to the parameters.
func (f *fnState) outline(base string, ret types.Type, env *taskEnv) *fnState {
	args := env.args()
	params := make([]*ir.Param, len(args))
	for i, a := range args {
		params[i] = ir.NewParam("", a.Type())
	}
	fn := f.g.m.NewFunc(f.g.unique(base), ret, params...)
	fn.Linkage = enum.LinkageInternal
	nf := f.g.newFnState(fn, fn.Name(), nil)

	bound := map[value.Value]value.Value{}
	for i, d := range env.decls {
		nf.vars[d] = fn.Params[i]
	}
	for i, c := range env.captured {
		bound[c] = fn.Params[len(env.values)+i]
	}
	for _, d := range env.decls {
		dims := f.dims[d]
		if dims == nil {
			continue
		}
		out := make([]value.Value, len(dims))
		for i, x := range dims {
			if p, ok := bound[x]; ok {
				out[i] = p
			} else {
				out[i] = x
			}
		}
		nf.dims[d] = out
	}
	return nf
}

func (f *fnState) task(ts *cabs.TaskStmt) {
	t := f.g.info.Tasks[ts]
	if t == nil || t.Failed {
		f.g.unsupported(ts.Loc, "task that failed validation")
		return
	}
	f.region(t, ts.Loc, func() { f.stmt(ts.Body) })
}

// region emits a task region around body: an entry marker carrying the
// clauses as operand bundles, the body in its own blocks and the exit
// marker
func (f *fnState) region(t *ossclause.Task, loc cabs.Loc, body func()) {
	env := f.taskEnv(t)
	bundles := []*ir.OperandBundle{bundle("DIR.OSS", cstr("TASK"))}
	for _, v := range t.Shared {
		bundles = append(bundles, bundle("QUAL.OSS.SHARED", f.storage(v.Decl)))
	}
	for _, v := range t.Private {
		bundles = append(bundles, bundle("QUAL.OSS.PRIVATE", f.storage(v.Decl)))
	}
	for _, v := range t.Firstprivate {
		bundles = append(bundles, bundle("QUAL.OSS.FIRSTPRIVATE", f.storage(v.Decl)))
	}
	for _, v := range t.Vars() {
		if ctypes.HasVLA(v.Type) {
			in := append([]value.Value{f.storage(v.Decl)}, f.arrayDims(v.Type, v.Decl)...)
			bundles = append(bundles, bundle("QUAL.OSS.VLA.DIMS", in...))
		}
	}
	if len(env.captured) > 0 {
		bundles = append(bundles, bundle("QUAL.OSS.CAPTURED", env.captured...))
	}
	bundles = append(bundles, f.lifecycleBundles(t)...)

	for _, d := range t.Deps {
		if d.Region == nil {
			f.g.unsupported(d.Loc, "unresolved dependency %s", d.Text())
			continue
		}
		in := []value.Value{f.symbol(d.Expr), cstr(d.Text()), f.computeDep(d.Region, env)}
		bundles = append(bundles, bundle("QUAL.OSS.DEP."+d.Kind.String(), append(in, env.args()...)...))
	}
	for _, r := range t.Reductions {
		if r.Region == nil {
			f.g.unsupported(r.Loc, "unresolved reduction %s", r.Text())
			continue
		}
		tag := "QUAL.OSS.DEP.REDUCTION"
		if r.Weak {
			tag = "QUAL.OSS.DEP.WEAKREDUCTION"
		}
		sym := f.symbol(r.Expr)
		code := i32(int64(nanos6.ReductionCode(r.Elem, int(r.Op))))
		in := []value.Value{code, sym, cstr(r.Text()), f.computeDep(r.Region, env)}
		bundles = append(bundles,
			bundle(tag, append(in, env.args()...)...),
			bundle("QUAL.OSS.DEP.REDUCTION.INIT", sym, f.g.reductionInit(r)),
			bundle("QUAL.OSS.DEP.REDUCTION.COMBINE", sym, f.g.reductionCombiner(r)),
		)
	}

	if t.If != nil {
		bundles = append(bundles, bundle("QUAL.OSS.IF", f.cond(t.If)))
	}
	if t.Final != nil {
		bundles = append(bundles, bundle("QUAL.OSS.FINAL", f.cond(t.Final)))
	}
	if t.Cost != nil {
		in := append([]value.Value{f.computeScalar("compute_cost", t.Cost, env)}, env.args()...)
		bundles = append(bundles, bundle("QUAL.OSS.COST", in...))
	}
	if t.Priority != nil {
		in := append([]value.Value{f.computeScalar("compute_priority", t.Priority, env)}, env.args()...)
		bundles = append(bundles, bundle("QUAL.OSS.PRIORITY", in...))
	}
	if t.Label != "" {
		bundles = append(bundles, bundle("QUAL.OSS.LABEL", cstr(t.Label)))
	}
	bundles = append(bundles, bundle("QUAL.OSS.DECL.SOURCE", f.g.source(loc)))

	entry := f.cur.NewCall(f.g.intrinsic(RegionEntry, types.Token))
	entry.OperandBundles = bundles

	// the body gets its own allocas block so that its locals stay
	// inside the region
	head := f.newBlock()
	f.cur.NewBr(head)
	start := f.newBlock()
	allocas, breaks, continues := f.allocas, f.breaks, f.continues
	f.allocas, f.breaks, f.continues = head, nil, nil
	f.cur = start
	body()
	head.NewBr(start)
	f.allocas, f.breaks, f.continues = allocas, breaks, continues

	if f.cur.Term != nil {
		f.cur = f.newBlock()
	}
	f.cur.NewCall(f.g.intrinsic(RegionExit, types.Void, types.Token), entry)
	after := f.newBlock()
	f.cur.NewBr(after)
	f.cur = after
}

// symbol is the storage of the variable a clause item is rooted at, or a
// null pointer for items that do not name one
func (f *fnState) symbol(e cabs.Expr) value.Value {
	if s, ok := cabs.StripParens(e).(*cabs.Shape); ok {
		e = s.Expr
	}
	if sec, ok := cabs.StripParens(e).(*cabs.Section); ok {
		e = sec.Array
	}
	if d := f.rootDecl(e); d != nil {
		return f.storage(d)
	}
	return constant.NewNull(types.I8Ptr)
}

// computeDep outlines the evaluation of a region descriptor. It returns
// the base address and the dimensions in the runtime's order.
func (f *fnState) computeDep(desc *region.Descriptor, env *taskEnv) *ir.Func {
	abi := f.g.regions.ABIDims(desc, ctypes.Sizeof(desc.ElemType))
	st := f.g.rt.DependUnpack(len(abi))
	nf := f.outline("compute_dep", st, env)
	out := nf.alloca(st)
	field := func(i int64) value.Value {
		return nf.cur.NewGetElementPtr(st, out, i32(0), i32(i))
	}
	base := nf.convert(nf.rvalue(desc.Base), nf.valueType(desc.Base), ctypes.Pointer(ctypes.Char()))
	nf.cur.NewStore(base, field(0))
	for i, d := range abi {
		for j, e := range []cabs.Expr{d.Size, d.Start, d.End} {
			v := nf.convert(nf.rvalue(e), nf.valueType(e), ctypes.Long())
			nf.cur.NewStore(v, field(int64(1+3*i+j)))
		}
	}
	nf.cur.NewRet(nf.cur.NewLoad(st, out))
	return nf.fn
}

// computeScalar outlines a cost or priority expression
func (f *fnState) computeScalar(base string, e cabs.Expr, env *taskEnv) *ir.Func {
	nf := f.outline(base, types.I32, env)
	v := nf.convert(nf.rvalue(e), nf.valueType(e), ctypes.Int())
	nf.cur.NewRet(v)
	return nf.fn
}

// reductionWrapper emits a function over two buffers of size bytes that
// applies each to every pair of elements
func (g *Generator) reductionWrapper(base string, elem ctypes.Type, each func(f *fnState, a, b value.Value)) *ir.Func {
	fn := g.m.NewFunc(g.unique(base), types.Void,
		ir.NewParam("", types.I8Ptr), ir.NewParam("", types.I8Ptr), ir.NewParam("", types.I64))
	fn.Linkage = enum.LinkageInternal
	f := g.newFnState(fn, fn.Name(), nil)
	et := g.llType(elem)
	a := f.cur.NewBitCast(fn.Params[0], types.NewPointer(et))
	b := f.cur.NewBitCast(fn.Params[1], types.NewPointer(et))
	size := ctypes.Sizeof(elem)
	if size <= 0 {
		size = 1
	}
	n := f.cur.NewUDiv(fn.Params[2], i64(size))
	f.loop(n, func(i value.Value) {
		each(f, f.cur.NewGetElementPtr(et, a, i), f.cur.NewGetElementPtr(et, b, i))
	})
	f.finish()
	return fn
}

func (g *Generator) reductionInit(r *ossclause.Reduction) *ir.Func {
	return g.reductionWrapper("red_init", r.Elem, func(f *fnState, priv, orig value.Value) {
		switch {
		case r.Declared != nil:
			if fns := g.declared[r.Declared]; fns != nil && fns.initializer != nil {
				f.cur.NewCall(fns.initializer, priv, orig)
				return
			}
		case r.Init != nil:
			f.vars[r.Priv], f.vars[r.Orig] = priv, orig
			f.rvalue(r.Init)
			return
		}
		f.cur.NewStore(constant.NewZeroInitializer(g.llType(r.Elem)), priv)
	})
}

func (g *Generator) reductionCombiner(r *ossclause.Reduction) *ir.Func {
	return g.reductionWrapper("red_comb", r.Elem, func(f *fnState, out, in value.Value) {
		if r.Declared != nil {
			if fns := g.declared[r.Declared]; fns != nil {
				f.cur.NewCall(fns.combiner, out, in)
			}
			return
		}
		f.vars[r.Out], f.vars[r.In] = out, in
		f.rvalue(r.Combiner)
	})
}

// declaredReduction emits the combiner and initializer of a declared
// reduction as functions over pointers to the operands
func (g *Generator) declaredReduction(d *ossclause.Declared) {
	pt := types.NewPointer(g.llType(d.Type))
	fns := &reductionFuncs{}

	fns.combiner = g.m.NewFunc(g.unique("omp_combiner."+d.Name), types.Void,
		ir.NewParam("omp_out", pt), ir.NewParam("omp_in", pt))
	fns.combiner.Linkage = enum.LinkageInternal
	f := g.newFnState(fns.combiner, fns.combiner.Name(), nil)
	f.vars[d.Out], f.vars[d.In] = fns.combiner.Params[0], fns.combiner.Params[1]
	f.rvalue(d.Combiner)
	f.finish()

	if d.Init != nil {
		fns.initializer = g.m.NewFunc(g.unique("omp_initializer."+d.Name), types.Void,
			ir.NewParam("omp_priv", pt), ir.NewParam("omp_orig", pt))
		fns.initializer.Linkage = enum.LinkageInternal
		f := g.newFnState(fns.initializer, fns.initializer.Name(), nil)
		f.vars[d.Priv], f.vars[d.Orig] = fns.initializer.Params[0], fns.initializer.Params[1]
		f.rvalue(d.Init)
		f.finish()
	}
	g.declared[d] = fns
}

// lifecycleBundles lists the constructors, destructors and copy
// functions of non-POD private and firstprivate variables
func (f *fnState) lifecycleBundles(t *ossclause.Task) []*ir.OperandBundle {
	var out []*ir.OperandBundle
	for _, v := range t.Private {
		if lc := v.Lifecycle; lc != nil && lc.Ctor != "" {
			out = append(out, bundle("QUAL.OSS.INIT", f.storage(v.Decl), f.g.elementWrapper("oss_ctor", lc.Ctor, v.Type, false)))
		}
	}
	for _, list := range [][]*ossclause.Var{t.Private, t.Firstprivate} {
		for _, v := range list {
			if lc := v.Lifecycle; lc != nil && lc.Dtor != "" {
				out = append(out, bundle("QUAL.OSS.DEINIT", f.storage(v.Decl), f.g.elementWrapper("oss_dtor", lc.Dtor, v.Type, false)))
			}
		}
	}
	for _, v := range t.Firstprivate {
		if lc := v.Lifecycle; lc != nil && lc.Copy != "" {
			out = append(out, bundle("QUAL.OSS.COPY", f.storage(v.Decl), f.g.elementWrapper("oss_copy", lc.Copy, v.Type, true)))
		}
	}
	return out
}

// elementWrapper returns a function applying the user function name to n
// elements: (T* p, i64 n) or, for copies, (T* dst, T* src, i64 n)
func (g *Generator) elementWrapper(base, name string, t ctypes.Type, copy bool) *ir.Func {
	key := base + "." + name
	if fn, ok := g.wrappers[key]; ok {
		return fn
	}
	et := g.llType(ctypes.BaseElementType(t))
	pt := types.NewPointer(et)
	params := []*ir.Param{ir.NewParam("", pt)}
	user := []types.Type{pt}
	if copy {
		params = append(params, ir.NewParam("", pt))
		user = append(user, pt)
	}
	params = append(params, ir.NewParam("", types.I64))
	fn := g.m.NewFunc(g.unique(key), types.Void, params...)
	fn.Linkage = enum.LinkageInternal
	g.wrappers[key] = fn

	callee := g.userFunc(name, user...)
	f := g.newFnState(fn, fn.Name(), nil)
	f.loop(fn.Params[len(fn.Params)-1], func(i value.Value) {
		args := []value.Value{f.cur.NewGetElementPtr(et, fn.Params[0], i)}
		if copy {
			args = append(args, f.cur.NewGetElementPtr(et, fn.Params[1], i))
		}
		f.cur.NewCall(callee, args...)
	})
	f.finish()
	return fn
}

func (f *fnState) taskwait(loc cabs.Loc) {
	call := f.cur.NewCall(f.g.intrinsic(Marker, types.I1))
	call.OperandBundles = []*ir.OperandBundle{
		bundle("DIR.OSS", cstr("TASKWAIT")),
		bundle("QUAL.OSS.DECL.SOURCE", f.g.source(loc)),
	}
}

// taskCall emits a call of a task function as a task. The arguments are
// stored in call_arg temporaries that stand for the parameters while the
// clauses are evaluated; the task body calls the function with them.
func (f *fnState) taskCall(tc *sema.TaskCall) {
	slots := make([]value.Value, len(tc.Args))
	for i, arg := range tc.Args {
		t := f.g.info.DeclType(arg)
		slot := f.alloca(f.g.llType(t))
		a := tc.Call.Args[i]
		f.cur.NewStore(f.convert(f.rvalue(a), f.valueType(a), t), slot)
		slots[i] = slot
	}

	type saved struct {
		v    value.Value
		dims []value.Value
		had  bool
	}
	prev := make([]saved, len(tc.Params))
	for i, p := range tc.Params {
		v, had := f.vars[p]
		prev[i] = saved{v, f.dims[p], had}
		f.vars[p] = slots[i]
	}
	for _, p := range tc.Params {
		f.vlaSizes(p)
	}

	f.region(tc.Task, tc.Call.Loc, func() {
		args := make([]value.Value, len(slots))
		for i, arg := range tc.Args {
			args[i] = f.cur.NewLoad(f.g.llType(f.g.info.DeclType(arg)), slots[i])
		}
		f.cur.NewCall(f.g.funcs[tc.Func.Name], args...)
	})

	for i, p := range tc.Params {
		if prev[i].had {
			f.vars[p] = prev[i].v
		} else {
			delete(f.vars, p)
		}
		if prev[i].dims != nil {
			f.dims[p] = prev[i].dims
		} else {
			delete(f.dims, p)
		}
	}
}
