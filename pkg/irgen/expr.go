package irgen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
)

// rvalue evaluates e. Arrays yield the address of their first base
// element; void expressions yield nil.
func (f *fnState) rvalue(e cabs.Expr) value.Value {
	switch ex := e.(type) {
	case *cabs.Constant:
		return intConst(f.g.llType(f.valueType(ex)), ex.Value)
	case *cabs.FloatConst:
		return floatConst(f.g.llType(f.valueType(ex)), ex.Value)
	case *cabs.CharConst:
		return i32(ex.Value)
	case *cabs.StringLit:
		return f.g.stringPtr(ex.Value)
	case *cabs.Variable:
		if fd, ok := f.g.info.Decls[ex].(*cabs.FuncDecl); ok {
			return f.g.funcs[fd.Name]
		}
		return f.load(ex)
	case *cabs.Paren:
		return f.rvalue(ex.Expr)
	case *cabs.Unary:
		return f.unary(ex)
	case *cabs.Binary:
		return f.binary(ex)
	case *cabs.Assign:
		return f.assign(ex)
	case *cabs.Conditional:
		return f.conditional(ex)
	case *cabs.Call:
		return f.call(ex)
	case *cabs.Index, *cabs.Member:
		return f.load(ex)
	case *cabs.Cast:
		v := f.rvalue(ex.Expr)
		t := f.typeOf(ex)
		if ctypes.IsVoid(t) {
			return nil
		}
		return f.convert(v, f.valueType(ex.Expr), t)
	case *cabs.SizeofExpr:
		t := f.typeOf(ex.Expr)
		if ctypes.HasVLA(t) {
			elem := i64(ctypes.Sizeof(ctypes.BaseElementType(t)))
			return f.mul(elem, f.count(t, f.rootDecl(ex.Expr)))
		}
		return i64(ctypes.Sizeof(t))
	case *cabs.SizeofType:
		return i64(ctypes.Sizeof(f.g.info.TypeNames[ex.Type]))
	case *cabs.VLASize:
		return f.vlaDim(ex.Decl, ex.Dim)
	}
	f.g.unsupported(e.Pos(), "expression %s", cabs.ExprString(e))
	return constant.NewUndef(f.g.llType(f.valueType(e)))
}

// load reads an lvalue; arrays decay to their first element and
// functions to their address
func (f *fnState) load(e cabs.Expr) value.Value {
	t := f.typeOf(e)
	addr := f.lvalue(e)
	if _, fn := ctypes.Unqual(t).(ctypes.Tfunction); fn || ctypes.IsArray(t) {
		return addr
	}
	return f.cur.NewLoad(f.g.llType(t), addr)
}

// lvalue evaluates the address of e. The address of an array is a
// pointer to its first base element.
func (f *fnState) lvalue(e cabs.Expr) value.Value {
	switch ex := e.(type) {
	case *cabs.Variable:
		if fd, ok := f.g.info.Decls[ex].(*cabs.FuncDecl); ok {
			return f.g.funcs[fd.Name]
		}
		return f.arrayBase(f.storage(f.g.info.VarOf(ex)))
	case *cabs.Paren:
		return f.lvalue(ex.Expr)
	case *cabs.Unary:
		if ex.Op == cabs.OpDeref {
			return f.rvalue(ex.Expr)
		}
	case *cabs.Index:
		base, idx := ex.Array, ex.Index
		if ctypes.IsInteger(f.valueType(base)) {
			base, idx = idx, base
		}
		ptr := f.rvalue(base)
		i := f.convert(f.rvalue(idx), f.valueType(idx), ctypes.Long())
		elem, _ := ctypes.Pointee(f.valueType(base))
		return f.offset(ptr, i, f.count(elem, f.rootDecl(base)))
	case *cabs.Member:
		return f.member(ex)
	case *cabs.StringLit:
		return f.g.stringPtr(ex.Value)
	}
	// an rvalue whose address is needed, such as a returned struct
	t := f.typeOf(e)
	v := f.rvalue(e)
	tmp := f.alloca(f.g.llType(t))
	f.cur.NewStore(v, tmp)
	return tmp
}

// arrayBase turns the storage of an array into a pointer to its first
// base element
func (f *fnState) arrayBase(p value.Value) value.Value {
	pt, ok := p.Type().(*types.PointerType)
	if !ok {
		return p
	}
	if _, isArr := pt.ElemType.(*types.ArrayType); isArr {
		return f.cur.NewGetElementPtr(pt.ElemType, p, i64(0), i64(0))
	}
	return p
}

// offset advances ptr by i objects of n base elements each
func (f *fnState) offset(ptr, i, n value.Value) value.Value {
	elem := ptr.Type().(*types.PointerType).ElemType
	return f.cur.NewGetElementPtr(elem, ptr, f.mul(i, n))
}

func (f *fnState) member(m *cabs.Member) value.Value {
	var base value.Value
	var rt ctypes.Type
	if m.Arrow {
		base = f.rvalue(m.Expr)
		rt, _ = ctypes.Pointee(f.valueType(m.Expr))
	} else {
		base = f.lvalue(m.Expr)
		rt = f.typeOf(m.Expr)
	}
	field, idx, _ := ctypes.FindField(rt, m.Name)
	var addr value.Value
	switch ut := ctypes.Unqual(rt).(type) {
	case ctypes.Tunion:
		return f.cur.NewBitCast(base, types.NewPointer(f.g.pointee(field.Type)))
	case ctypes.Tstruct:
		st := f.g.llType(ut)
		addr = f.cur.NewGetElementPtr(st, base, i32(0), i32(int64(idx)))
	default:
		f.g.unsupported(m.Loc, "member access on %s", rt)
		return base
	}
	if ctypes.IsArray(field.Type) {
		return f.arrayBase(addr)
	}
	return addr
}

func (f *fnState) unary(u *cabs.Unary) value.Value {
	t := f.valueType(u)
	switch u.Op {
	case cabs.OpAddrOf:
		return f.lvalue(u.Expr)
	case cabs.OpDeref:
		if _, fn := ctypes.Unqual(f.typeOf(u)).(ctypes.Tfunction); fn {
			return f.rvalue(u.Expr)
		}
		return f.load(u)
	case cabs.OpPreInc, cabs.OpPreDec, cabs.OpPostInc, cabs.OpPostDec:
		return f.incdec(u)
	case cabs.OpNot:
		return f.cur.NewZExt(f.isZero(f.rvalue(u.Expr), f.valueType(u.Expr)), types.I32)
	}
	v := f.convert(f.rvalue(u.Expr), f.valueType(u.Expr), t)
	switch u.Op {
	case cabs.OpNeg:
		if ctypes.IsFloat(t) {
			return f.cur.NewFNeg(v)
		}
		return f.cur.NewSub(intConst(v.Type(), 0), v)
	case cabs.OpBitNot:
		return f.cur.NewXor(v, intConst(v.Type(), -1))
	}
	return v
}

func (f *fnState) incdec(u *cabs.Unary) value.Value {
	t := f.valueType(u.Expr)
	addr := f.lvalue(u.Expr)
	old := f.cur.NewLoad(f.g.llType(t), addr)
	var step int64 = 1
	if u.Op == cabs.OpPreDec || u.Op == cabs.OpPostDec {
		step = -1
	}
	var next value.Value
	switch {
	case ctypes.IsPointer(t):
		elem, _ := ctypes.Pointee(t)
		next = f.offset(old, i64(step), f.count(elem, f.rootDecl(u.Expr)))
	case ctypes.IsFloat(t):
		next = f.cur.NewFAdd(old, floatConst(old.Type(), float64(step)))
	default:
		next = f.cur.NewAdd(old, intConst(old.Type(), step))
	}
	f.cur.NewStore(next, addr)
	if u.Op.IsPostfix() {
		return old
	}
	return next
}

func (f *fnState) binary(b *cabs.Binary) value.Value {
	switch {
	case b.Op == cabs.OpAnd || b.Op == cabs.OpOr:
		return f.logical(b)
	case b.Op == cabs.OpComma:
		f.rvalue(b.Left)
		return f.rvalue(b.Right)
	case b.Op.IsComparison():
		return f.cur.NewZExt(f.compare(b.Op, b.Left, b.Right), types.I32)
	}
	l, r := f.rvalue(b.Left), f.rvalue(b.Right)
	return f.arith(b.Op, l, b.Left, r, b.Right, f.valueType(b))
}

// arith applies an arithmetic operator whose result has type result
func (f *fnState) arith(op cabs.BinaryOp, l value.Value, le cabs.Expr, r value.Value, re cabs.Expr, result ctypes.Type) value.Value {
	lt, rt := f.valueType(le), f.valueType(re)
	switch {
	case ctypes.IsPointer(lt) && ctypes.IsPointer(rt):
		elem, _ := ctypes.Pointee(lt)
		size := f.mul(i64(ctypes.Sizeof(ctypes.BaseElementType(elem))), f.count(elem, f.rootDecl(le)))
		diff := f.cur.NewSub(f.cur.NewPtrToInt(l, types.I64), f.cur.NewPtrToInt(r, types.I64))
		return f.cur.NewSDiv(diff, size)
	case ctypes.IsPointer(lt):
		i := f.convert(r, rt, ctypes.Long())
		if op == cabs.OpSub {
			i = f.cur.NewSub(i64(0), i)
		}
		elem, _ := ctypes.Pointee(lt)
		return f.offset(l, i, f.count(elem, f.rootDecl(le)))
	case ctypes.IsPointer(rt):
		elem, _ := ctypes.Pointee(rt)
		return f.offset(r, f.convert(l, lt, ctypes.Long()), f.count(elem, f.rootDecl(re)))
	}

	l, r = f.convert(l, lt, result), f.convert(r, rt, result)
	float, signed := ctypes.IsFloat(result), ctypes.IsSigned(result)
	switch op {
	case cabs.OpAdd:
		if float {
			return f.cur.NewFAdd(l, r)
		}
		return f.cur.NewAdd(l, r)
	case cabs.OpSub:
		if float {
			return f.cur.NewFSub(l, r)
		}
		return f.cur.NewSub(l, r)
	case cabs.OpMul:
		if float {
			return f.cur.NewFMul(l, r)
		}
		return f.cur.NewMul(l, r)
	case cabs.OpDiv:
		switch {
		case float:
			return f.cur.NewFDiv(l, r)
		case signed:
			return f.cur.NewSDiv(l, r)
		}
		return f.cur.NewUDiv(l, r)
	case cabs.OpMod:
		if signed {
			return f.cur.NewSRem(l, r)
		}
		return f.cur.NewURem(l, r)
	case cabs.OpBitAnd:
		return f.cur.NewAnd(l, r)
	case cabs.OpBitOr:
		return f.cur.NewOr(l, r)
	case cabs.OpBitXor:
		return f.cur.NewXor(l, r)
	case cabs.OpShl:
		return f.cur.NewShl(l, r)
	case cabs.OpShr:
		if signed {
			return f.cur.NewAShr(l, r)
		}
		return f.cur.NewLShr(l, r)
	}
	f.g.unsupported(le.Pos(), "operator %s", op)
	return l
}

var (
	signedPreds   = map[cabs.BinaryOp]enum.IPred{cabs.OpLt: enum.IPredSLT, cabs.OpLe: enum.IPredSLE, cabs.OpGt: enum.IPredSGT, cabs.OpGe: enum.IPredSGE, cabs.OpEq: enum.IPredEQ, cabs.OpNe: enum.IPredNE}
	unsignedPreds = map[cabs.BinaryOp]enum.IPred{cabs.OpLt: enum.IPredULT, cabs.OpLe: enum.IPredULE, cabs.OpGt: enum.IPredUGT, cabs.OpGe: enum.IPredUGE, cabs.OpEq: enum.IPredEQ, cabs.OpNe: enum.IPredNE}
	floatPreds    = map[cabs.BinaryOp]enum.FPred{cabs.OpLt: enum.FPredOLT, cabs.OpLe: enum.FPredOLE, cabs.OpGt: enum.FPredOGT, cabs.OpGe: enum.FPredOGE, cabs.OpEq: enum.FPredOEQ, cabs.OpNe: enum.FPredUNE}
)

// compare evaluates a comparison to an i1
func (f *fnState) compare(op cabs.BinaryOp, le, re cabs.Expr) value.Value {
	lt, rt := f.valueType(le), f.valueType(re)
	l, r := f.rvalue(le), f.rvalue(re)
	switch {
	case ctypes.IsPointer(lt) || ctypes.IsPointer(rt):
		if !ctypes.IsPointer(lt) {
			l = f.convert(l, lt, rt)
		} else if !ctypes.IsPointer(rt) {
			r = f.convert(r, rt, lt)
		} else if !types.Equal(l.Type(), r.Type()) {
			r = f.cur.NewBitCast(r, l.Type())
		}
		return f.cur.NewICmp(unsignedPreds[op], l, r)
	}
	common := ctypes.UsualArith(lt, rt)
	l, r = f.convert(l, lt, common), f.convert(r, rt, common)
	switch {
	case ctypes.IsFloat(common):
		return f.cur.NewFCmp(floatPreds[op], l, r)
	case ctypes.IsSigned(common):
		return f.cur.NewICmp(signedPreds[op], l, r)
	}
	return f.cur.NewICmp(unsignedPreds[op], l, r)
}

// cond evaluates a controlling expression to an i1
func (f *fnState) cond(e cabs.Expr) value.Value {
	if b, ok := cabs.StripParens(e).(*cabs.Binary); ok && b.Op.IsComparison() {
		return f.compare(b.Op, b.Left, b.Right)
	}
	return f.truth(f.rvalue(e), f.valueType(e))
}

// truth is v != 0 as an i1
func (f *fnState) truth(v value.Value, t ctypes.Type) value.Value {
	switch {
	case ctypes.IsPointer(t):
		return f.cur.NewICmp(enum.IPredNE, v, constant.NewNull(v.Type().(*types.PointerType)))
	case ctypes.IsFloat(t):
		return f.cur.NewFCmp(enum.FPredUNE, v, floatConst(v.Type(), 0))
	}
	return f.cur.NewICmp(enum.IPredNE, v, intConst(v.Type(), 0))
}

func (f *fnState) isZero(v value.Value, t ctypes.Type) value.Value {
	switch {
	case ctypes.IsPointer(t):
		return f.cur.NewICmp(enum.IPredEQ, v, constant.NewNull(v.Type().(*types.PointerType)))
	case ctypes.IsFloat(t):
		return f.cur.NewFCmp(enum.FPredOEQ, v, floatConst(v.Type(), 0))
	}
	return f.cur.NewICmp(enum.IPredEQ, v, intConst(v.Type(), 0))
}

// logical evaluates && and || with short circuit through a temporary
func (f *fnState) logical(b *cabs.Binary) value.Value {
	tmp := f.alloca(types.I32)
	l := f.cond(b.Left)
	f.cur.NewStore(f.cur.NewZExt(l, types.I32), tmp)
	rhs, end := f.newBlock(), f.newBlock()
	if b.Op == cabs.OpAnd {
		f.cur.NewCondBr(l, rhs, end)
	} else {
		f.cur.NewCondBr(l, end, rhs)
	}
	f.cur = rhs
	r := f.cond(b.Right)
	f.cur.NewStore(f.cur.NewZExt(r, types.I32), tmp)
	f.cur.NewBr(end)
	f.cur = end
	return end.NewLoad(types.I32, tmp)
}

func (f *fnState) conditional(c *cabs.Conditional) value.Value {
	t := f.typeOf(c)
	var tmp value.Value
	if !ctypes.IsVoid(t) {
		tmp = f.alloca(f.g.llType(t))
	}
	then, els, end := f.newBlock(), f.newBlock(), f.newBlock()
	f.cur.NewCondBr(f.cond(c.Cond), then, els)
	for _, arm := range []struct {
		b *ir.Block
		e cabs.Expr
	}{{then, c.Then}, {els, c.Else}} {
		f.cur = arm.b
		v := f.rvalue(arm.e)
		if tmp != nil {
			f.cur.NewStore(f.convert(v, f.valueType(arm.e), t), tmp)
		}
		f.cur.NewBr(end)
	}
	f.cur = end
	if tmp == nil {
		return nil
	}
	return end.NewLoad(f.g.llType(t), tmp)
}

func (f *fnState) assign(a *cabs.Assign) value.Value {
	lt := ctypes.Unqual(f.typeOf(a.Left))
	addr := f.lvalue(a.Left)
	var v value.Value
	if a.Op == cabs.OpAssign {
		v = f.convert(f.rvalue(a.Right), f.valueType(a.Right), lt)
	} else {
		old := f.cur.NewLoad(f.g.llType(lt), addr)
		rt := f.valueType(a.Right)
		var opType ctypes.Type
		switch {
		case ctypes.IsPointer(lt):
			opType = lt
		case a.Op == cabs.OpShl || a.Op == cabs.OpShr:
			opType = ctypes.Promote(lt)
		default:
			opType = ctypes.UsualArith(lt, rt)
		}
		res := f.arith(a.Op, old, a.Left, f.rvalue(a.Right), a.Right, opType)
		v = f.convert(res, opType, lt)
	}
	f.cur.NewStore(v, addr)
	return v
}

func (f *fnState) call(c *cabs.Call) value.Value {
	if tc, ok := f.g.info.TaskCalls[c]; ok {
		f.taskCall(tc)
		return nil
	}
	pt, _ := ctypes.Pointee(f.valueType(c.Func))
	ft, _ := ctypes.Unqual(pt).(ctypes.Tfunction)
	callee := f.rvalue(c.Func)
	args := make([]value.Value, len(c.Args))
	for i, a := range c.Args {
		at := f.valueType(a)
		to := ctypes.Promote(at)
		if i < len(ft.Params) {
			to = ft.Params[i]
		} else if ctypes.IsFloat(at) {
			to = ctypes.Double()
		}
		args[i] = f.convert(f.rvalue(a), at, to)
	}
	call := f.cur.NewCall(callee, args...)
	if ft.Return == nil || ctypes.IsVoid(ft.Return) {
		return nil
	}
	return call
}

// convert converts v from type from to type to
func (f *fnState) convert(v value.Value, from, to ctypes.Type) value.Value {
	if v == nil || to == nil || ctypes.IsVoid(to) {
		return v
	}
	from, to = ctypes.Unqual(ctypes.Decay(from)), ctypes.Unqual(to)
	dst := f.g.llType(to)
	if ctypes.Equal(to, ctypes.Bool()) && !ctypes.Equal(from, ctypes.Bool()) && ctypes.IsScalar(from) {
		if c, ok := v.(*constant.Int); ok {
			return intConst(types.I8, boolInt(c.X.Sign() != 0))
		}
		return f.cur.NewZExt(f.truth(v, from), types.I8)
	}
	switch {
	case ctypes.IsInteger(from) && ctypes.IsInteger(to):
		return f.intCast(v, from, dst.(*types.IntType))
	case ctypes.IsInteger(from) && ctypes.IsFloat(to):
		if ctypes.IsSigned(from) {
			return f.cur.NewSIToFP(v, dst)
		}
		return f.cur.NewUIToFP(v, dst)
	case ctypes.IsFloat(from) && ctypes.IsInteger(to):
		if ctypes.IsSigned(to) {
			return f.cur.NewFPToSI(v, dst)
		}
		return f.cur.NewFPToUI(v, dst)
	case ctypes.IsFloat(from) && ctypes.IsFloat(to):
		switch fs, ts := ctypes.Sizeof(from), ctypes.Sizeof(to); {
		case fs < ts:
			return f.cur.NewFPExt(v, dst)
		case fs > ts:
			return f.cur.NewFPTrunc(v, dst)
		}
		return v
	case ctypes.IsPointer(to) && ctypes.IsInteger(from):
		if c, ok := v.(*constant.Int); ok && c.X.Sign() == 0 {
			return constant.NewNull(dst.(*types.PointerType))
		}
		return f.cur.NewIntToPtr(v, dst)
	case ctypes.IsPointer(from) && ctypes.IsInteger(to):
		return f.cur.NewPtrToInt(v, dst)
	case ctypes.IsPointer(from) && ctypes.IsPointer(to):
		if types.Equal(v.Type(), dst) {
			return v
		}
		if c, ok := v.(constant.Constant); ok {
			return constant.NewBitCast(c, dst)
		}
		return f.cur.NewBitCast(v, dst)
	}
	return v
}

func (f *fnState) intCast(v value.Value, from ctypes.Type, dst *types.IntType) value.Value {
	src, ok := v.Type().(*types.IntType)
	if !ok || src.BitSize == dst.BitSize {
		return v
	}
	if c, ok := v.(*constant.Int); ok {
		x := c.X.Int64()
		if !ctypes.IsSigned(from) && src.BitSize < 64 {
			x &= int64(uint64(1)<<src.BitSize - 1)
		}
		return intConst(dst, x)
	}
	switch {
	case src.BitSize > dst.BitSize:
		return f.cur.NewTrunc(v, dst)
	case ctypes.IsSigned(from):
		return f.cur.NewSExt(v, dst)
	}
	return f.cur.NewZExt(v, dst)
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
