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
)

// fnState is the emission state of one IR function. Local objects live in
// allocas; vars maps each object to its storage and dims to its runtime
// array extents as i64 values, outermost first.
type fnState struct {
	g    *Generator
	fn   *ir.Func
	name string
	ret  ctypes.Type

	cur     *ir.Block
	allocas *ir.Block

	vars map[*cabs.VarDecl]value.Value
	dims map[*cabs.VarDecl][]value.Value

	breaks    []*ir.Block
	continues []*ir.Block
}

func (g *Generator) newFnState(fn *ir.Func, name string, ret ctypes.Type) *fnState {
	f := &fnState{
		g:    g,
		fn:   fn,
		name: name,
		ret:  ret,
		vars: map[*cabs.VarDecl]value.Value{},
		dims: map[*cabs.VarDecl][]value.Value{},
	}
	f.allocas = fn.NewBlock("")
	f.cur = fn.NewBlock("")
	f.allocas.NewBr(f.cur)
	return f
}

func (f *fnState) newBlock() *ir.Block {
	return f.fn.NewBlock("")
}

func (f *fnState) alloca(t types.Type) *ir.InstAlloca {
	return f.allocas.NewAlloca(t)
}

// jump branches to target unless the current block is already terminated
func (f *fnState) jump(target *ir.Block) {
	if f.cur.Term == nil {
		f.cur.NewBr(target)
	}
}

// finish terminates the last block with a return of the zero value
func (f *fnState) finish() {
	if f.cur.Term != nil {
		return
	}
	if f.ret == nil || ctypes.IsVoid(f.ret) {
		f.cur.NewRet(nil)
		return
	}
	f.cur.NewRet(constant.NewZeroInitializer(f.g.llType(f.ret)))
}

func (f *fnState) typeOf(e cabs.Expr) ctypes.Type {
	return f.g.info.TypeOf(e)
}

// valueType is the type of e as an rvalue
func (f *fnState) valueType(e cabs.Expr) ctypes.Type {
	t := f.typeOf(e)
	if t == nil {
		return ctypes.Int()
	}
	return ctypes.Unqual(ctypes.Decay(t))
}

// storage returns the address of an object
func (f *fnState) storage(d *cabs.VarDecl) value.Value {
	if v, ok := f.vars[d]; ok {
		return v
	}
	if gv, ok := f.g.globals[d]; ok {
		return gv
	}
	f.g.fail(fmt.Errorf("%s:%s: no storage for '%s' in %s", f.g.file, d.Loc, d.Name, f.fn.Name()))
	return constant.NewNull(types.NewPointer(f.g.pointee(f.g.info.DeclType(d))))
}

// vlaSizes evaluates the runtime extents of a declaration
func (f *fnState) vlaSizes(d *cabs.VarDecl) {
	if len(d.VLASizes) == 0 {
		return
	}
	vals := make([]value.Value, len(d.VLASizes))
	for i, e := range d.VLASizes {
		vals[i] = f.convert(f.rvalue(e), f.valueType(e), ctypes.Long())
	}
	f.dims[d] = vals
}

func (f *fnState) vlaDim(d *cabs.VarDecl, dim int) value.Value {
	if d != nil && dim >= 0 && dim < len(f.dims[d]) {
		return f.dims[d][dim]
	}
	name := "<unknown>"
	if d != nil {
		name = d.Name
	}
	f.g.fail(fmt.Errorf("%s: extent %d of '%s' is not available in %s: %w", f.g.file, dim, name, f.fn.Name(), ErrUnsupported))
	return i64(1)
}

// count is the number of base elements in one object of type t. Variable
// extents are read from the declaration of root.
func (f *fnState) count(t ctypes.Type, root *cabs.VarDecl) value.Value {
	a, ok := ctypes.Unqual(t).(ctypes.Tarray)
	if !ok {
		return i64(1)
	}
	inner := f.count(a.Elem, root)
	switch {
	case a.VLA:
		return f.mul(f.vlaDim(root, a.Dim), inner)
	case a.Size < 0:
		return i64(0)
	}
	return f.mul(i64(a.Size), inner)
}

// arrayDims lists every extent of an array type as i64 values
func (f *fnState) arrayDims(t ctypes.Type, root *cabs.VarDecl) []value.Value {
	var out []value.Value
	for {
		a, ok := ctypes.Unqual(t).(ctypes.Tarray)
		if !ok {
			return out
		}
		if a.VLA {
			out = append(out, f.vlaDim(root, a.Dim))
		} else {
			out = append(out, i64(max(a.Size, 0)))
		}
		t = a.Elem
	}
}

// mul multiplies two i64 values, folding constants
func (f *fnState) mul(x, y value.Value) value.Value {
	cx, okx := x.(*constant.Int)
	cy, oky := y.(*constant.Int)
	switch {
	case okx && oky:
		return i64(cx.X.Int64() * cy.X.Int64())
	case okx && cx.X.Int64() == 1:
		return y
	case oky && cy.X.Int64() == 1:
		return x
	}
	return f.cur.NewMul(x, y)
}

// rootDecl finds the object whose declaration carries the extents of an
// lvalue's type
func (f *fnState) rootDecl(e cabs.Expr) *cabs.VarDecl {
	switch ex := cabs.StripParens(e).(type) {
	case *cabs.Variable:
		return f.g.info.VarOf(ex)
	case *cabs.Index:
		if ctypes.IsInteger(f.valueType(ex.Array)) {
			return f.rootDecl(ex.Index)
		}
		return f.rootDecl(ex.Array)
	case *cabs.Member:
		return f.rootDecl(ex.Expr)
	case *cabs.Unary:
		if ex.Op == cabs.OpDeref || ex.Op == cabs.OpAddrOf {
			return f.rootDecl(ex.Expr)
		}
	case *cabs.Binary:
		if ctypes.IsPointer(f.valueType(ex.Left)) {
			return f.rootDecl(ex.Left)
		}
		return f.rootDecl(ex.Right)
	case *cabs.Cast:
		return f.rootDecl(ex.Expr)
	}
	return nil
}

// loop emits a counted loop over n elements; body receives the index
func (f *fnState) loop(n value.Value, body func(i value.Value)) {
	idx := f.alloca(types.I64)
	f.cur.NewStore(i64(0), idx)
	head, next, done := f.newBlock(), f.newBlock(), f.newBlock()
	f.cur.NewBr(head)

	f.cur = head
	i := head.NewLoad(types.I64, idx)
	head.NewCondBr(head.NewICmp(enum.IPredULT, i, n), next, done)

	f.cur = next
	body(i)
	f.cur.NewStore(f.cur.NewAdd(i, i64(1)), idx)
	f.cur.NewBr(head)
	f.cur = done
}
