package sema

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
)

// expr checks e and records its type. A nil type means an error was
// already reported for e or one of its operands.
func (c *checker) expr(e cabs.Expr) ctypes.Type {
	if e == nil {
		return nil
	}
	t := c.exprType(e)
	c.info.Types[e] = t
	return t
}

// rvalue checks e and applies array and function decay
func (c *checker) rvalue(e cabs.Expr) ctypes.Type {
	t := c.expr(e)
	if t == nil {
		return nil
	}
	return ctypes.Decay(t)
}

func (c *checker) exprType(e cabs.Expr) ctypes.Type {
	switch ex := e.(type) {
	case *cabs.Constant:
		return constantType(ex)
	case *cabs.FloatConst:
		if ex.Single {
			return ctypes.Float()
		}
		return ctypes.Double()
	case *cabs.CharConst:
		return ctypes.Int()
	case *cabs.StringLit:
		return ctypes.Array(ctypes.Char(), int64(len(ex.Value))+1)
	case *cabs.Variable:
		return c.variable(ex)
	case *cabs.Paren:
		return c.expr(ex.Expr)
	case *cabs.Unary:
		return c.unary(ex)
	case *cabs.Binary:
		return c.binary(ex.Op, ex.Left, ex.Right, ex.Loc)
	case *cabs.Assign:
		return c.assign(ex)
	case *cabs.Conditional:
		return c.conditional(ex)
	case *cabs.Call:
		return c.call(ex)
	case *cabs.Index:
		return c.index(ex.Array, ex.Index, ex.Loc)
	case *cabs.Member:
		return c.member(ex)
	case *cabs.Cast:
		return c.cast(ex)
	case *cabs.SizeofExpr:
		c.expr(ex.Expr)
		return ctypes.ULong()
	case *cabs.SizeofType:
		t := c.typeName(ex.Type)
		if !ctypes.IsComplete(t) {
			c.sink.Report(ex.Loc, diag.IncompleteType, "sizeof", t.String())
		}
		return ctypes.ULong()
	case *cabs.Section:
		return c.section(ex)
	case *cabs.Shape:
		return c.shape(ex)
	case *cabs.VLASize:
		return ctypes.Long()
	}
	return nil
}

func constantType(k *cabs.Constant) ctypes.Type {
	switch {
	case k.Long && k.Unsigned:
		return ctypes.ULong()
	case k.Long:
		return ctypes.Long()
	case k.Unsigned:
		if uint64(k.Value) > 0xffffffff {
			return ctypes.ULong()
		}
		return ctypes.UInt()
	}
	return ctypes.Int()
}

func (c *checker) variable(v *cabs.Variable) ctypes.Type {
	d, bound := c.info.Decls[v]
	if !bound {
		d = c.scope.lookup(v.Name)
		if d == nil {
			c.sink.Report(v.Loc, diag.UndeclaredIdentifier, v.Name)
			return nil
		}
		c.info.Decls[v] = d
	}
	switch dd := d.(type) {
	case *cabs.VarDecl:
		if dd.Storage == cabs.StorageTypedef {
			c.sink.Report(v.Loc, diag.Syntax, "unexpected type name '"+v.Name+"'")
			return nil
		}
		return c.info.DeclTypes[dd]
	case *cabs.FuncDecl:
		if f, ok := c.info.Funcs[dd.Name]; ok {
			return f.Type
		}
	}
	return nil
}

func (c *checker) unary(u *cabs.Unary) ctypes.Type {
	if u.Op == cabs.OpAddrOf {
		t := c.expr(u.Expr)
		if t == nil {
			return nil
		}
		if _, fn := ctypes.Unqual(t).(ctypes.Tfunction); !fn && !c.isLvalue(u.Expr) {
			c.sink.Report(u.Loc, diag.InvalidUnaryOperand, t.String(), u.Op.String())
			return nil
		}
		return ctypes.Pointer(t)
	}
	if u.Op == cabs.OpPreInc || u.Op == cabs.OpPreDec || u.Op == cabs.OpPostInc || u.Op == cabs.OpPostDec {
		t := c.expr(u.Expr)
		if t == nil {
			return nil
		}
		if !ctypes.IsScalar(t) {
			c.sink.Report(u.Loc, diag.InvalidUnaryOperand, t.String(), u.Op.String())
			return nil
		}
		if !c.modifiable(u.Expr, t) {
			c.sink.Report(u.Loc, diag.NotAssignable)
			return nil
		}
		return ctypes.Unqual(t)
	}

	t := c.rvalue(u.Expr)
	if t == nil {
		return nil
	}
	ok := false
	var result ctypes.Type
	switch u.Op {
	case cabs.OpNeg, cabs.OpPlus:
		ok, result = ctypes.IsArithmetic(t), ctypes.Promote(t)
	case cabs.OpBitNot:
		ok, result = ctypes.IsInteger(t), ctypes.Promote(t)
	case cabs.OpNot:
		ok, result = ctypes.IsScalar(t), ctypes.Int()
	case cabs.OpDeref:
		result, ok = ctypes.Pointee(t)
		if ok && ctypes.IsVoid(result) {
			c.sink.Report(u.Loc, diag.VoidValue)
			return nil
		}
	}
	if !ok {
		c.sink.Report(u.Loc, diag.InvalidUnaryOperand, t.String(), u.Op.String())
		return nil
	}
	return result
}

func (c *checker) binary(op cabs.BinaryOp, left, right cabs.Expr, loc cabs.Loc) ctypes.Type {
	lt, rt := c.rvalue(left), c.rvalue(right)
	if lt == nil || rt == nil {
		return nil
	}
	if t := binaryResult(op, lt, rt, c.isNull(right), c.isNull(left)); t != nil {
		return t
	}
	c.sink.Report(loc, diag.InvalidOperands, op.String(), lt.String(), rt.String())
	return nil
}

// binaryResult types a binary operator over decayed operand types, or
// returns nil when the operands are invalid
func binaryResult(op cabs.BinaryOp, lt, rt ctypes.Type, rnull, lnull bool) ctypes.Type {
	arith := ctypes.IsArithmetic(lt) && ctypes.IsArithmetic(rt)
	ints := ctypes.IsInteger(lt) && ctypes.IsInteger(rt)
	lp, rp := ctypes.IsPointer(lt), ctypes.IsPointer(rt)
	switch op {
	case cabs.OpAdd:
		switch {
		case arith:
			return ctypes.UsualArith(lt, rt)
		case lp && ctypes.IsInteger(rt):
			return ctypes.Unqual(lt)
		case rp && ctypes.IsInteger(lt):
			return ctypes.Unqual(rt)
		}
	case cabs.OpSub:
		switch {
		case arith:
			return ctypes.UsualArith(lt, rt)
		case lp && ctypes.IsInteger(rt):
			return ctypes.Unqual(lt)
		case lp && rp:
			return ctypes.Long()
		}
	case cabs.OpMul, cabs.OpDiv:
		if arith {
			return ctypes.UsualArith(lt, rt)
		}
	case cabs.OpMod, cabs.OpBitAnd, cabs.OpBitOr, cabs.OpBitXor:
		if ints {
			return ctypes.UsualArith(lt, rt)
		}
	case cabs.OpShl, cabs.OpShr:
		if ints {
			return ctypes.Promote(lt)
		}
	case cabs.OpLt, cabs.OpLe, cabs.OpGt, cabs.OpGe, cabs.OpEq, cabs.OpNe:
		if arith || (lp && rp) || (lp && rnull) || (rp && lnull) {
			return ctypes.Int()
		}
	case cabs.OpAnd, cabs.OpOr:
		if ctypes.IsScalar(lt) && ctypes.IsScalar(rt) {
			return ctypes.Int()
		}
	case cabs.OpComma:
		return rt
	}
	return nil
}

func (c *checker) assign(a *cabs.Assign) ctypes.Type {
	lt := c.expr(a.Left)
	rt := c.rvalue(a.Right)
	if lt == nil || rt == nil {
		return nil
	}
	if !c.modifiable(a.Left, lt) {
		c.sink.Report(a.Loc, diag.NotAssignable)
		return nil
	}
	if a.Op == cabs.OpAssign {
		if !c.assignable(lt, rt, a.Right) {
			c.sink.Report(a.Loc, diag.IncompatibleTypes, rt.String(), ctypes.Unqual(lt).String())
			return nil
		}
		return ctypes.Unqual(lt)
	}
	if binaryResult(a.Op, ctypes.Unqual(lt), rt, false, false) == nil {
		c.sink.Report(a.Loc, diag.InvalidOperands, a.Op.String()+"=", lt.String(), rt.String())
		return nil
	}
	return ctypes.Unqual(lt)
}

// assignable reports whether a value of type rt can be stored into an
// object of type lt
func (c *checker) assignable(lt, rt ctypes.Type, rhs cabs.Expr) bool {
	lt, rt = ctypes.Unqual(lt), ctypes.Unqual(ctypes.Decay(rt))
	switch {
	case ctypes.IsArithmetic(lt) && ctypes.IsArithmetic(rt):
		return true
	case ctypes.IsPointer(lt) && ctypes.IsPointer(rt):
		return true
	case ctypes.IsPointer(lt):
		return c.isNull(rhs)
	case ctypes.Equal(lt, ctypes.Bool()) && ctypes.IsPointer(rt):
		return true
	}
	return ctypes.Equal(lt, rt)
}

// isNull reports whether e is an integer constant zero
func (c *checker) isNull(e cabs.Expr) bool {
	if e == nil {
		return false
	}
	if t := c.info.Types[e]; t == nil || !ctypes.IsInteger(t) {
		return false
	}
	n, ok := c.constValue(e)
	return ok && n == 0
}

func (c *checker) conditional(ce *cabs.Conditional) ctypes.Type {
	ct := c.rvalue(ce.Cond)
	tt, et := c.rvalue(ce.Then), c.rvalue(ce.Else)
	if ct == nil || tt == nil || et == nil {
		return nil
	}
	if !ctypes.IsScalar(ct) {
		c.sink.Report(ce.Cond.Pos(), diag.InvalidUnaryOperand, ct.String(), "?:")
		return nil
	}
	tt, et = ctypes.Unqual(tt), ctypes.Unqual(et)
	switch {
	case ctypes.IsArithmetic(tt) && ctypes.IsArithmetic(et):
		return ctypes.UsualArith(tt, et)
	case ctypes.IsPointer(tt) && (ctypes.IsPointer(et) || c.isNull(ce.Else)):
		return tt
	case ctypes.IsPointer(et) && c.isNull(ce.Then):
		return et
	case ctypes.Equal(tt, et):
		return tt
	}
	c.sink.Report(ce.Loc, diag.IncompatibleTypes, et.String(), tt.String())
	return nil
}

func (c *checker) call(call *cabs.Call) ctypes.Type {
	ft := c.rvalue(call.Func)
	argTypes := make([]ctypes.Type, len(call.Args))
	for i, a := range call.Args {
		argTypes[i] = c.rvalue(a)
	}
	if ft == nil {
		return nil
	}
	var fn ctypes.Tfunction
	if p, ok := ctypes.Pointee(ft); ok {
		fn, ok = ctypes.Unqual(p).(ctypes.Tfunction)
		if !ok {
			c.sink.Report(call.Loc, diag.NotCallable, ft.String())
			return nil
		}
	} else {
		c.sink.Report(call.Loc, diag.NotCallable, ft.String())
		return nil
	}

	n := len(fn.Params)
	switch {
	case len(call.Args) < n:
		c.sink.Report(call.Loc, diag.ArgumentCount, "few", n, len(call.Args))
		return nil
	case len(call.Args) > n && !fn.VarArg:
		c.sink.Report(call.Loc, diag.ArgumentCount, "many", n, len(call.Args))
		return nil
	}
	ok := true
	for i, pt := range fn.Params {
		if argTypes[i] == nil {
			ok = false
			continue
		}
		if !c.assignable(pt, argTypes[i], call.Args[i]) {
			c.sink.Report(call.Args[i].Pos(), diag.IncompatibleTypes, argTypes[i].String(), pt.String())
			ok = false
		}
	}
	if !ok {
		return nil
	}
	if v, isVar := cabs.StripParens(call.Func).(*cabs.Variable); isVar {
		if fd, isFn := c.info.Decls[v].(*cabs.FuncDecl); isFn {
			if task, isTask := c.info.TaskFuncs[fd.Name]; isTask {
				c.taskCall(call, task)
			}
		}
	}
	return fn.Return
}

func (c *checker) index(base, idx cabs.Expr, loc cabs.Loc) ctypes.Type {
	bt, it := c.rvalue(base), c.rvalue(idx)
	if bt == nil || it == nil {
		return nil
	}
	if ctypes.IsInteger(bt) && ctypes.IsPointer(it) {
		bt, it = it, bt
	}
	elem, ok := ctypes.Pointee(bt)
	if !ok || !ctypes.IsInteger(it) {
		c.sink.Report(loc, diag.InvalidSubscript)
		return nil
	}
	return elem
}

func (c *checker) member(m *cabs.Member) ctypes.Type {
	bt := c.expr(m.Expr)
	if bt == nil {
		return nil
	}
	if m.Arrow {
		p, ok := ctypes.Pointee(ctypes.Decay(bt))
		if !ok {
			c.sink.Report(m.Loc, diag.InvalidUnaryOperand, bt.String(), "->")
			return nil
		}
		bt = p
	}
	f, _, ok := ctypes.FindField(bt, m.Name)
	if !ok {
		c.sink.Report(m.Loc, diag.NoMember, m.Name, ctypes.Unqual(bt).String())
		return nil
	}
	if ctypes.IsConst(bt) {
		return ctypes.Const(f.Type)
	}
	return f.Type
}

func (c *checker) cast(ce *cabs.Cast) ctypes.Type {
	target := c.typeName(ce.Type)
	from := c.rvalue(ce.Expr)
	if from == nil {
		return nil
	}
	switch {
	case ctypes.IsVoid(target):
	case ctypes.IsScalar(target) && ctypes.IsScalar(from):
		if ctypes.IsFloat(target) && ctypes.IsPointer(from) || ctypes.IsPointer(target) && ctypes.IsFloat(from) {
			c.sink.Report(ce.Loc, diag.IncompatibleTypes, from.String(), target.String())
			return nil
		}
	case ctypes.Equal(ctypes.Unqual(target), ctypes.Unqual(from)):
	default:
		c.sink.Report(ce.Loc, diag.IncompatibleTypes, from.String(), target.String())
		return nil
	}
	return target
}

// section types an array section like a subscript of its base
func (c *checker) section(s *cabs.Section) ctypes.Type {
	bt := c.rvalue(s.Array)
	for _, b := range []cabs.Expr{s.Lower, s.Bound} {
		if b == nil {
			continue
		}
		if t := c.rvalue(b); t != nil && !ctypes.IsInteger(t) {
			c.sink.Report(b.Pos(), diag.InvalidSubscript)
			return nil
		}
	}
	if bt == nil {
		return nil
	}
	elem, ok := ctypes.Pointee(bt)
	if !ok {
		c.sink.Report(s.Loc, diag.InvalidSubscript)
		return nil
	}
	return elem
}

// shape types [d1]...[dn]p as an array over the pointee of p
func (c *checker) shape(s *cabs.Shape) ctypes.Type {
	bt := c.rvalue(s.Expr)
	sizes := make([]int64, len(s.Dims))
	for i, d := range s.Dims {
		t := c.rvalue(d)
		if t != nil && !ctypes.IsInteger(t) {
			c.sink.Report(d.Pos(), diag.InvalidSubscript)
			return nil
		}
		sizes[i] = -1
		if n, ok := c.constValue(d); ok {
			sizes[i] = n
		}
	}
	if bt == nil {
		return nil
	}
	elem, ok := ctypes.Pointee(bt)
	if !ok {
		// the region builder reports the base
		return bt
	}
	for i := len(sizes) - 1; i >= 0; i-- {
		if sizes[i] < 0 {
			elem = ctypes.Tarray{Elem: elem, Size: -1, VLA: true, Dim: -1}
			continue
		}
		elem = ctypes.Array(elem, sizes[i])
	}
	return elem
}

func (c *checker) isLvalue(e cabs.Expr) bool {
	switch ex := cabs.StripParens(e).(type) {
	case *cabs.Variable:
		_, ok := c.info.Decls[ex].(*cabs.VarDecl)
		return ok
	case *cabs.Unary:
		return ex.Op == cabs.OpDeref
	case *cabs.Index, *cabs.StringLit:
		return true
	case *cabs.Member:
		return ex.Arrow || c.isLvalue(ex.Expr)
	}
	return false
}

// modifiable reports whether e designates an object that may be assigned
func (c *checker) modifiable(e cabs.Expr, t ctypes.Type) bool {
	if !c.isLvalue(e) || ctypes.IsConst(t) || ctypes.IsArray(t) {
		return false
	}
	_, fn := ctypes.Unqual(t).(ctypes.Tfunction)
	return !fn
}

func (c *checker) constValue(e cabs.Expr) (int64, bool) {
	return c.info.ConstValue(e)
}

// ConstValue folds an integer constant expression of the checked program
func (in *Info) ConstValue(e cabs.Expr) (int64, bool) {
	switch ex := e.(type) {
	case *cabs.Constant:
		return ex.Value, true
	case *cabs.CharConst:
		return ex.Value, true
	case *cabs.Paren:
		return in.ConstValue(ex.Expr)
	case *cabs.Unary:
		n, ok := in.ConstValue(ex.Expr)
		if !ok {
			return 0, false
		}
		switch ex.Op {
		case cabs.OpNeg:
			return -n, true
		case cabs.OpPlus:
			return n, true
		case cabs.OpBitNot:
			return ^n, true
		case cabs.OpNot:
			return boolInt(n == 0), true
		}
	case *cabs.Binary:
		l, lok := in.ConstValue(ex.Left)
		r, rok := in.ConstValue(ex.Right)
		if !lok || !rok {
			return 0, false
		}
		return foldBinary(ex.Op, l, r)
	case *cabs.Conditional:
		cond, ok := in.ConstValue(ex.Cond)
		if !ok {
			return 0, false
		}
		if cond != 0 {
			return in.ConstValue(ex.Then)
		}
		return in.ConstValue(ex.Else)
	case *cabs.Cast:
		n, ok := in.ConstValue(ex.Expr)
		if !ok {
			return 0, false
		}
		t := in.Types[ex]
		if t == nil || !ctypes.IsInteger(t) {
			return 0, false
		}
		return truncate(n, t), true
	case *cabs.SizeofType:
		t := in.TypeNames[ex.Type]
		if t == nil || ctypes.HasVLA(t) || !ctypes.IsComplete(t) {
			return 0, false
		}
		return ctypes.Sizeof(t), true
	case *cabs.SizeofExpr:
		t := in.Types[ex.Expr]
		if t == nil || ctypes.HasVLA(t) {
			return 0, false
		}
		return ctypes.Sizeof(t), true
	}
	return 0, false
}

func foldBinary(op cabs.BinaryOp, l, r int64) (int64, bool) {
	switch op {
	case cabs.OpAdd:
		return l + r, true
	case cabs.OpSub:
		return l - r, true
	case cabs.OpMul:
		return l * r, true
	case cabs.OpDiv:
		if r == 0 {
			return 0, false
		}
		return l / r, true
	case cabs.OpMod:
		if r == 0 {
			return 0, false
		}
		return l % r, true
	case cabs.OpShl:
		return l << uint(r), true
	case cabs.OpShr:
		return l >> uint(r), true
	case cabs.OpBitAnd:
		return l & r, true
	case cabs.OpBitOr:
		return l | r, true
	case cabs.OpBitXor:
		return l ^ r, true
	case cabs.OpLt:
		return boolInt(l < r), true
	case cabs.OpLe:
		return boolInt(l <= r), true
	case cabs.OpGt:
		return boolInt(l > r), true
	case cabs.OpGe:
		return boolInt(l >= r), true
	case cabs.OpEq:
		return boolInt(l == r), true
	case cabs.OpNe:
		return boolInt(l != r), true
	case cabs.OpAnd:
		return boolInt(l != 0 && r != 0), true
	case cabs.OpOr:
		return boolInt(l != 0 || r != 0), true
	case cabs.OpComma:
		return r, true
	}
	return 0, false
}

// truncate converts n to the width and signedness of t
func truncate(n int64, t ctypes.Type) int64 {
	if ut, ok := ctypes.Unqual(t).(ctypes.Tint); ok && ut.Size == ctypes.IBool {
		return boolInt(n != 0)
	}
	bits := uint(ctypes.Sizeof(t) * 8)
	if bits >= 64 {
		return n
	}
	mask := int64(1)<<bits - 1
	n &= mask
	if ctypes.IsSigned(t) && n>>(bits-1) != 0 {
		n -= 1 << bits
	}
	return n
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
