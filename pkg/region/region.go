// Package region turns the items of dependency and reduction clauses into
// multi-dimensional region descriptors: a base address plus one
// (size, start, end) triple per dimension, counted in elements.
package region

import (
	"fmt"
	"strings"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
)

// Env is what the builder needs from the checker
type Env interface {
	diag.Sink
	// TypeOf returns the type of a checked expression before decay
	TypeOf(e cabs.Expr) ctypes.Type
	// DeclOf returns the object an identifier refers to, or nil
	DeclOf(v *cabs.Variable) *cabs.VarDecl
	// SetType records the type of a synthesized expression
	SetType(e cabs.Expr, t ctypes.Type)
	// DeferParams reports whether extents that depend on function
	// parameters must be left for the call site
	DeferParams() bool
}

// Dim is one dimension of a region, in elements
type Dim struct {
	Size  cabs.Expr
	Start cabs.Expr
	End   cabs.Expr
}

// Descriptor describes the memory named by one clause item. Dims are
// stored outermost declared dimension first.
type Descriptor struct {
	Base     cabs.Expr // address of the first element of the backing storage
	ElemType ctypes.Type
	Dims     []Dim
}

func (d *Descriptor) String() string {
	parts := make([]string, len(d.Dims))
	for i, dim := range d.Dims {
		parts[i] = fmt.Sprintf("(%s, %s, %s)", cabs.ExprString(dim.Size), cabs.ExprString(dim.Start), cabs.ExprString(dim.End))
	}
	return fmt.Sprintf("base=%s elem=%s dims=[%s]", cabs.ExprString(d.Base), d.ElemType, strings.Join(parts, " "))
}

// State tells whether a build produced a descriptor
type State int

const (
	Resolved State = iota
	Deferred       // depends on parameters; rebuilt at each call site
	Failed         // a diagnostic was reported
)

func (s State) String() string {
	switch s {
	case Deferred:
		return "deferred"
	case Failed:
		return "failed"
	}
	return "resolved"
}

// Result of building one descriptor
type Result struct {
	State State
	Desc  *Descriptor
}

var failed = Result{State: Failed}
var deferred = Result{State: Deferred}

// Builder builds descriptors; synthesized expressions are typed long
type Builder struct {
	env Env
}

// NewBuilder creates a builder over a checker environment
func NewBuilder(env Env) *Builder {
	return &Builder{env: env}
}

// Build computes the descriptor of a clause item
func (b *Builder) Build(e cabs.Expr) Result {
	switch ex := cabs.StripParens(e).(type) {
	case *cabs.Shape:
		return b.shape(ex)
	case *cabs.Index, *cabs.Section:
		return b.subscripts(ex)
	case *cabs.Unary:
		if ex.Op == cabs.OpDeref {
			return b.deref(ex)
		}
	case *cabs.Variable, *cabs.Member:
		return b.object(ex)
	}
	b.env.Report(e.Pos(), diag.ExpectedAddressableLvalue)
	return failed
}

// object handles a named object: the whole object is the region
func (b *Builder) object(e cabs.Expr) Result {
	t := b.env.TypeOf(e)
	sizes, elem, st := b.arrayDims(t, rootDecl(b.env, e), e.Pos())
	if st != Resolved {
		return Result{State: st}
	}
	return Result{Desc: b.describe(b.addrOf(e), elem, nil, sizes, e.Pos())}
}

// deref handles *p; arrays pointed to contribute their dimensions
func (b *Builder) deref(e *cabs.Unary) Result {
	pointee, ok := ctypes.Pointee(b.env.TypeOf(e.Expr))
	if !ok {
		b.env.Report(e.Pos(), diag.ExpectedAddressableLvalue)
		return failed
	}
	sizes, elem, st := b.arrayDims(pointee, rootDecl(b.env, e.Expr), e.Pos())
	if st != Resolved {
		return Result{State: st}
	}
	return Result{Desc: b.describe(e.Expr, elem, nil, sizes, e.Pos())}
}

// shape handles [d1]...[dn]p
func (b *Builder) shape(e *cabs.Shape) Result {
	t := b.env.TypeOf(e.Expr)
	if !ctypes.IsPointer(t) {
		b.env.Report(e.Pos(), diag.InvalidShapeBase, t.String())
		return failed
	}
	pointee, _ := ctypes.Pointee(t)
	sizes, elem, st := b.arrayDims(pointee, rootDecl(b.env, e.Expr), e.Pos())
	if st != Resolved {
		return Result{State: st}
	}
	var lead []Dim
	for _, d := range e.Dims {
		lead = append(lead, Dim{Size: d, Start: b.lit(0, d.Pos()), End: d})
	}
	return Result{Desc: b.describe(e.Expr, elem, lead, sizes, e.Pos())}
}

// subscripts handles a chain of subscripts and sections. The chain is
// unwound from the outside until the subscripted value is a pointer or a
// non-subscript expression.
func (b *Builder) subscripts(e cabs.Expr) Result {
	var subs []cabs.Expr
	var baseExpr cabs.Expr
	pointerBase := false
	cur := e
	for baseExpr == nil {
		cur = cabs.StripParens(cur)
		var arr cabs.Expr
		switch s := cur.(type) {
		case *cabs.Index:
			arr = s.Array
		case *cabs.Section:
			arr = s.Array
		default:
			baseExpr = cur
			continue
		}
		subs = append(subs, cur)
		if ctypes.IsPointer(b.env.TypeOf(arr)) {
			pointerBase = true
			baseExpr = arr
			continue
		}
		cur = arr
	}
	for i, j := 0, len(subs)-1; i < j; i, j = i+1, j-1 {
		subs[i], subs[j] = subs[j], subs[i]
	}

	owner := rootDecl(b.env, baseExpr)
	var lead []Dim
	var base cabs.Expr
	var storage ctypes.Type
	if pointerBase {
		d, ok := b.dim(nil, subs[0])
		if !ok {
			return failed
		}
		lead = append(lead, d)
		subs = subs[1:]
		storage, _ = ctypes.Pointee(b.env.TypeOf(baseExpr))
		base = baseExpr
	} else {
		storage = b.env.TypeOf(baseExpr)
		if !ctypes.IsArray(storage) {
			b.env.Report(e.Pos(), diag.ExpectedAddressableLvalue)
			return failed
		}
		base = b.addrOf(baseExpr)
	}

	sizes, elem, st := b.arrayDims(storage, owner, e.Pos())
	if st != Resolved {
		return Result{State: st}
	}
	if len(subs) > len(sizes) {
		b.env.Report(e.Pos(), diag.ExpectedAddressableLvalue)
		return failed
	}
	dims := lead
	for i, size := range sizes {
		if i >= len(subs) {
			dims = append(dims, b.full(size, e.Pos()))
			continue
		}
		d, ok := b.dim(size, subs[i])
		if !ok {
			return failed
		}
		dims = append(dims, d)
	}
	return Result{Desc: &Descriptor{Base: base, ElemType: elem, Dims: dims}}
}

// dim computes the triple of one subscript or section. size is nil for a
// pointer or incomplete array dimension, whose size is its end.
func (b *Builder) dim(size cabs.Expr, sub cabs.Expr) (Dim, bool) {
	var start, end cabs.Expr
	switch s := sub.(type) {
	case *cabs.Index:
		start = s.Index
		end = b.add(s.Index, b.lit(1, s.Loc))
	case *cabs.Section:
		start = s.Lower
		if start == nil {
			start = b.lit(0, s.Loc)
		}
		switch {
		case s.Bound == nil:
			if size == nil {
				b.env.Report(s.Pos(), diag.SectionLengthUnknown)
				return Dim{}, false
			}
			end = size
		case s.Form == cabs.LengthForm && s.Lower == nil:
			end = s.Bound
		case s.Form == cabs.LengthForm:
			end = b.add(s.Lower, s.Bound)
		default:
			end = b.add(s.Bound, b.lit(1, s.Loc))
		}
	}
	if size == nil {
		size = end
	}
	return Dim{Size: size, Start: start, End: end}, true
}

func (b *Builder) full(size cabs.Expr, loc cabs.Loc) Dim {
	return Dim{Size: size, Start: b.lit(0, loc), End: size}
}

// describe assembles a descriptor from leading dims plus full array dims.
// A region with no dimension at all is one element.
func (b *Builder) describe(base cabs.Expr, elem ctypes.Type, lead []Dim, sizes []cabs.Expr, loc cabs.Loc) *Descriptor {
	dims := lead
	for _, s := range sizes {
		dims = append(dims, b.full(s, loc))
	}
	if len(dims) == 0 {
		one := b.lit(1, loc)
		dims = []Dim{{Size: one, Start: b.lit(0, loc), End: one}}
	}
	return &Descriptor{Base: base, ElemType: elem, Dims: dims}
}

// arrayDims returns the extent of every array level of t and its element
// type. Incomplete levels yield a nil extent.
func (b *Builder) arrayDims(t ctypes.Type, owner *cabs.VarDecl, loc cabs.Loc) ([]cabs.Expr, ctypes.Type, State) {
	var sizes []cabs.Expr
	for {
		a, ok := ctypes.Unqual(t).(ctypes.Tarray)
		if !ok {
			return sizes, t, Resolved
		}
		switch {
		case a.VLA:
			if owner == nil {
				b.env.Report(loc, diag.ExpectedAddressableLvalue)
				return nil, nil, Failed
			}
			if owner.Param && b.env.DeferParams() {
				return nil, nil, Deferred
			}
			v := &cabs.VLASize{Decl: owner, Dim: a.Dim, Loc: loc}
			b.env.SetType(v, ctypes.Long())
			sizes = append(sizes, v)
		case a.Size < 0:
			sizes = append(sizes, nil)
		default:
			sizes = append(sizes, b.lit(a.Size, loc))
		}
		t = a.Elem
	}
}

// ABIDims returns the dimensions in the order the runtime expects:
// innermost first, with the innermost scaled to bytes.
func (b *Builder) ABIDims(d *Descriptor, elemBytes int64) []Dim {
	out := make([]Dim, len(d.Dims))
	for i, dim := range d.Dims {
		out[len(d.Dims)-1-i] = dim
	}
	if len(out) > 0 && elemBytes != 1 {
		n := b.lit(elemBytes, d.Base.Pos())
		out[0] = Dim{
			Size:  b.mul(out[0].Size, n),
			Start: b.mul(out[0].Start, n),
			End:   b.mul(out[0].End, n),
		}
	}
	return out
}

func (b *Builder) lit(n int64, loc cabs.Loc) cabs.Expr {
	c := &cabs.Constant{Value: n, Long: true, Loc: loc}
	b.env.SetType(c, ctypes.Long())
	return c
}

func (b *Builder) add(x, y cabs.Expr) cabs.Expr {
	return b.arith(cabs.OpAdd, x, y)
}

func (b *Builder) mul(x, y cabs.Expr) cabs.Expr {
	return b.arith(cabs.OpMul, x, y)
}

func (b *Builder) arith(op cabs.BinaryOp, x, y cabs.Expr) cabs.Expr {
	cx, okx := cabs.StripParens(x).(*cabs.Constant)
	cy, oky := cabs.StripParens(y).(*cabs.Constant)
	if okx && oky {
		if op == cabs.OpAdd {
			return b.lit(cx.Value+cy.Value, x.Pos())
		}
		return b.lit(cx.Value*cy.Value, x.Pos())
	}
	e := &cabs.Binary{Op: op, Left: x, Right: y, Loc: x.Pos()}
	b.env.SetType(e, ctypes.Long())
	return e
}

func (b *Builder) addrOf(e cabs.Expr) cabs.Expr {
	a := &cabs.Unary{Op: cabs.OpAddrOf, Expr: e, Loc: e.Pos()}
	b.env.SetType(a, ctypes.Pointer(b.env.TypeOf(e)))
	return a
}

// rootDecl finds the variable whose declaration carries the extents of an
// lvalue's type
func rootDecl(env Env, e cabs.Expr) *cabs.VarDecl {
	switch ex := cabs.StripParens(e).(type) {
	case *cabs.Variable:
		return env.DeclOf(ex)
	case *cabs.Index:
		return rootDecl(env, ex.Array)
	case *cabs.Section:
		return rootDecl(env, ex.Array)
	case *cabs.Member:
		return rootDecl(env, ex.Expr)
	case *cabs.Unary:
		if ex.Op == cabs.OpDeref {
			return rootDecl(env, ex.Expr)
		}
	case *cabs.Shape:
		return rootDecl(env, ex.Expr)
	}
	return nil
}
