package ossclause

import (
	"math"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/region"
)

// Declared is a user-declared reduction instantiated for one type.
// Combiner reads Out and In; Init assigns Priv, possibly reading Orig.
type Declared struct {
	Name       string
	Type       ctypes.Type
	Out, In    *cabs.VarDecl
	Priv, Orig *cabs.VarDecl
	Combiner   cabs.Expr
	Init       cabs.Expr // nil zero-fills
	InitIsCall bool
	Index      int
	Loc        cabs.Loc
}

// Registry holds the declared reductions of a translation unit
type Registry struct {
	list []*Declared
}

// Add registers d; it reports false when the name is already declared for
// the same type
func (r *Registry) Add(d *Declared) bool {
	if r.Lookup(d.Name, d.Type) != nil {
		return false
	}
	d.Index = len(r.list)
	r.list = append(r.list, d)
	return true
}

// Lookup finds the reduction declared as name for exactly type t
func (r *Registry) Lookup(name string, t ctypes.Type) *Declared {
	if r == nil {
		return nil
	}
	t = ctypes.Unqual(t)
	for _, d := range r.list {
		if d.Name == name && ctypes.Equal(ctypes.Unqual(d.Type), t) {
			return d
		}
	}
	return nil
}

// All returns the declared reductions in declaration order
func (r *Registry) All() []*Declared {
	return r.list
}

func checkReduction(v *Validator, t *Task, c cabs.Clause) bool {
	cl := c.(*cabs.ReductionClause)
	ok := true
	for _, item := range cl.Items {
		r := v.reductionItem(cl, item)
		if r.State == region.Failed {
			ok = false
			continue
		}
		t.Reductions = append(t.Reductions, r.Value)
	}
	return ok
}

func (v *Validator) reductionItem(cl *cabs.ReductionClause, item cabs.Expr) Result[*Reduction] {
	typ := v.env.TypeOf(item)
	if typ == nil {
		return failed[*Reduction]()
	}
	name := cabs.ExprString(item)
	elem := ctypes.BaseElementType(typ)
	if ctypes.IsConst(typ) || ctypes.IsConst(elem) {
		v.env.Report(item.Pos(), diag.ConstVariable, name, "reduced")
		return failed[*Reduction]()
	}
	elem = ctypes.Unqual(elem)
	if !ctypes.IsComplete(elem) {
		v.env.Report(item.Pos(), diag.IncompleteType, name, elem.String())
		return failed[*Reduction]()
	}
	if v.taskFunction() && !derefOrArrayItem(item) {
		v.env.Report(item.Pos(), diag.ExpectedDereferenceOrArrayItem)
		return failed[*Reduction]()
	}

	red := &Reduction{Weak: cl.Weak, OpText: cl.Op, Expr: item, Elem: elem, Loc: item.Pos()}
	if d := v.reductions.Lookup(cl.Op, elem); d != nil {
		red.Op = RedDeclared
		red.Declared = d
		red.Out, red.In, red.Priv, red.Orig = d.Out, d.In, d.Priv, d.Orig
		red.Combiner, red.Init = d.Combiner, d.Init
	} else {
		op, builtin := redOps[cl.Op]
		switch {
		case !builtin:
			v.env.Report(cl.Loc, diag.UnknownReductionIdentifier, cl.Op, elem.String())
			return failed[*Reduction]()
		case !ctypes.IsPOD(elem):
			v.env.Report(item.Pos(), diag.NonPODReduction, elem.String())
			return failed[*Reduction]()
		case !ctypes.IsArithmetic(elem),
			ctypes.IsFloat(elem) && (op == RedAnd || op == RedOr || op == RedXor):
			v.env.Report(item.Pos(), diag.ReductionWrongType, cl.Op, elem.String())
			return failed[*Reduction]()
		}
		red.Op = op
		v.builtinReduction(red)
	}

	r := v.regions.Build(item)
	if r.State == region.Failed {
		return failed[*Reduction]()
	}
	if !v.ctx.WalkClauseItem(item, dsa.RestrictReduction) {
		return failed[*Reduction]()
	}
	if r.State == region.Deferred {
		return deferred(red)
	}
	red.Region = r.Desc
	return resolved(red)
}

var combineOps = map[RedOp]cabs.BinaryOp{
	RedAdd:  cabs.OpAdd,
	RedMul:  cabs.OpMul,
	RedAnd:  cabs.OpBitAnd,
	RedOr:   cabs.OpBitOr,
	RedXor:  cabs.OpBitXor,
	RedLand: cabs.OpAnd,
	RedLor:  cabs.OpOr,
}

// builtinReduction synthesizes lhs = lhs op rhs and priv = neutral value
func (v *Validator) builtinReduction(r *Reduction) {
	loc := r.Loc
	r.Out = &cabs.VarDecl{Name: "lhs", Loc: loc}
	r.In = &cabs.VarDecl{Name: "rhs", Loc: loc}
	r.Priv = &cabs.VarDecl{Name: "priv", Loc: loc}
	for _, d := range []*cabs.VarDecl{r.Out, r.In, r.Priv} {
		v.env.Declare(d, r.Elem)
	}
	lhs := func() cabs.Expr { return v.env.Ref(r.Out, loc) }
	rhs := func() cabs.Expr { return v.env.Ref(r.In, loc) }

	var value cabs.Expr
	switch r.Op {
	case RedMax, RedMin:
		cmp := cabs.OpGt
		if r.Op == RedMin {
			cmp = cabs.OpLt
		}
		value = &cabs.Conditional{
			Cond: &cabs.Binary{Op: cmp, Left: lhs(), Right: rhs(), Loc: loc},
			Then: lhs(),
			Else: rhs(),
			Loc:  loc,
		}
	default:
		value = &cabs.Binary{Op: combineOps[r.Op], Left: lhs(), Right: rhs(), Loc: loc}
	}
	r.Combiner = &cabs.Assign{Op: cabs.OpAssign, Left: lhs(), Right: value, Loc: loc}
	v.env.CheckExpr(r.Combiner)

	r.Init = &cabs.Assign{Op: cabs.OpAssign, Left: v.env.Ref(r.Priv, loc), Right: neutral(r.Op, r.Elem, loc), Loc: loc}
	v.env.CheckExpr(r.Init)
}

// neutral is the initial value of a private reduction copy: 0 for + ^ |
// and ||, 1 for * and &&, ~0 for &, the smallest value for max and the
// largest for min
func neutral(op RedOp, t ctypes.Type, loc cabs.Loc) cabs.Expr {
	var e cabs.Expr
	switch op {
	case RedMul, RedLand:
		e = &cabs.Constant{Value: 1, Loc: loc}
	case RedAnd:
		e = &cabs.Unary{Op: cabs.OpBitNot, Expr: &cabs.Constant{Value: 0, Loc: loc}, Loc: loc}
	case RedMax, RedMin:
		if ctypes.IsFloat(t) {
			limit := math.MaxFloat64
			if ctypes.Sizeof(t) == 4 {
				limit = math.MaxFloat32
			}
			if op == RedMax {
				limit = -limit
			}
			e = &cabs.FloatConst{Value: limit, Loc: loc}
			break
		}
		lo, hi := ctypes.IntRange(t)
		n := hi
		if op == RedMax {
			n = lo
		}
		e = &cabs.Constant{Value: n, Long: true, Unsigned: !ctypes.IsSigned(t), Loc: loc}
	default:
		e = &cabs.Constant{Value: 0, Loc: loc}
	}
	return &cabs.Cast{Type: &cabs.TypeName{Type: &cabs.BuiltinType{Type: t}, Loc: loc}, Expr: e, Loc: loc}
}
