package dsa

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
)

// Resolver answers identifier questions for the inference walks
type Resolver interface {
	DeclOf(v *cabs.Variable) *cabs.VarDecl
	DeclType(d *cabs.VarDecl) ctypes.Type
}

// Context is the data-sharing state of one function being checked
type Context struct {
	Stack
	sink  diag.Sink
	res   Resolver
	inner map[*cabs.VarDecl]bool
}

// NewContext creates an empty context
func NewContext(sink diag.Sink, res Resolver) *Context {
	return &Context{sink: sink, res: res}
}

// IsLocal reports whether d has automatic storage; parameters count
func IsLocal(d *cabs.VarDecl) bool {
	return !d.Global && d.Storage != cabs.StorageStatic && d.Storage != cabs.StorageExtern
}

func known(a Attr) bool { return a != Unknown }

// WalkBody classifies every variable referenced by a task body that has
// no attribute yet in the innermost scope. Variables declared inside the
// body never get one.
func (c *Context) WalkBody(body cabs.Stmt) {
	c.inner = map[*cabs.VarDecl]bool{}
	c.stmt(body)
	c.inner = nil
}

// WalkExpr classifies the variables of a clause expression that is
// evaluated inside the task, such as cost and priority
func (c *Context) WalkExpr(e cabs.Expr) {
	if c.inner == nil {
		c.inner = map[*cabs.VarDecl]bool{}
		defer func() { c.inner = nil }()
	}
	c.expr(e)
}

func (c *Context) stmt(s cabs.Stmt) {
	switch st := s.(type) {
	case nil:
	case *cabs.Block:
		for _, item := range st.Items {
			c.stmt(item)
		}
	case *cabs.DeclStmt:
		for _, d := range st.Decls {
			c.inner[d] = true
			for _, size := range d.VLASizes {
				c.expr(size)
			}
			c.expr(d.Init)
		}
	case *cabs.Computation:
		c.expr(st.Expr)
	case *cabs.Return:
		c.expr(st.Expr)
	case *cabs.If:
		c.expr(st.Cond)
		c.stmt(st.Then)
		c.stmt(st.Else)
	case *cabs.While:
		c.expr(st.Cond)
		c.stmt(st.Body)
	case *cabs.DoWhile:
		c.stmt(st.Body)
		c.expr(st.Cond)
	case *cabs.For:
		c.stmt(st.Init)
		c.expr(st.Cond)
		c.expr(st.Step)
		c.stmt(st.Body)
	case *cabs.TaskStmt:
		for _, cl := range st.Clauses {
			for _, e := range ClauseExprs(cl) {
				c.expr(e)
			}
		}
		c.stmt(st.Body)
	}
}

func (c *Context) expr(e cabs.Expr) {
	switch ex := e.(type) {
	case nil:
	case *cabs.Variable:
		c.reference(ex)
	case *cabs.VLASize:
		if ex.Dim < len(ex.Decl.VLASizes) {
			c.expr(ex.Decl.VLASizes[ex.Dim])
		}
	case *cabs.SizeofExpr:
		// the operand is only evaluated for variable length arrays
		if c.variablyModified(ex.Expr) {
			c.expr(ex.Expr)
		}
	default:
		for _, sub := range Children(e) {
			c.expr(sub)
		}
	}
}

func (c *Context) variablyModified(e cabs.Expr) bool {
	if v, ok := e.(*cabs.Variable); ok {
		d := c.res.DeclOf(v)
		return d != nil && ctypes.VariablyModified(c.res.DeclType(d))
	}
	for _, sub := range Children(e) {
		if c.variablyModified(sub) {
			return true
		}
	}
	return false
}

// reference applies the body rules to one identifier; the first rule that
// matches wins
func (c *Context) reference(v *cabs.Variable) {
	d := c.res.DeclOf(v)
	if d == nil || c.inner[d] {
		return
	}
	if _, ok := c.CurrentDSA(d); ok {
		return
	}
	if e, ok := c.HasDSA(d, known, isTask, true); ok && !e.Ignore {
		attr := Shared
		if e.Attr == Private || e.Attr == Firstprivate {
			attr = Firstprivate
		}
		c.AddEntry(d, v, attr, false, true, RestrictNone)
		return
	}
	switch c.CurrentDefault() {
	case DefaultShared:
		c.AddEntry(d, v, Shared, true, true, RestrictNone)
	case DefaultNone:
		c.sink.Report(v.Loc, diag.NotDefinedDSAWhenDefaultNone, v.Name)
		c.AddEntry(d, v, Unknown, true, true, RestrictNone)
	default:
		if IsLocal(d) {
			c.AddEntry(d, v, Firstprivate, true, true, RestrictNone)
		} else {
			c.AddEntry(d, v, Shared, true, true, RestrictNone)
		}
	}
}

// WalkClauseItem classifies the variables of one dependency or reduction
// item:
//
//	inout(x)              shared(x)        int x;
//	inout(p[i])           firstprivate(p)  int *p;  i firstprivate
//	inout(a[i])           shared(a)        int a[N];
//	inout(*p)             firstprivate(p)  int *p;
//	inout(s.x)            shared(s)        struct S s;
//	inout(ps->x)          firstprivate(ps) struct S *ps;
//	inout([n]p)           firstprivate(p)  int *p;  n firstprivate
//
// It reports false when a diagnostic was emitted.
func (c *Context) WalkClauseItem(e cabs.Expr, restrict Restrict) bool {
	w := clauseWalk{ctx: c, restrict: restrict, ok: true}
	w.visit(e, false)
	return w.ok
}

type clauseWalk struct {
	ctx       *Context
	restrict  Restrict
	subscript int
	ok        bool
}

func isVariable(e cabs.Expr) bool {
	_, ok := cabs.StripParens(e).(*cabs.Variable)
	return ok
}

func (w *clauseWalk) visit(e cabs.Expr, derefBase bool) {
	switch ex := e.(type) {
	case nil:
	case *cabs.Paren:
		w.visit(ex.Expr, derefBase)
	case *cabs.Variable:
		w.variable(ex, derefBase)
	case *cabs.Shape:
		w.visit(ex.Expr, isVariable(ex.Expr))
		w.subscript++
		for _, d := range ex.Dims {
			w.visit(d, false)
		}
		w.subscript--
	case *cabs.Section:
		w.visit(ex.Array, isVariable(ex.Array))
		w.subscript++
		w.visit(ex.Lower, false)
		w.visit(ex.Bound, false)
		w.subscript--
	case *cabs.Index:
		w.visit(ex.Array, isVariable(ex.Array))
		w.subscript++
		w.visit(ex.Index, false)
		w.subscript--
	case *cabs.Unary:
		w.visit(ex.Expr, isVariable(ex.Expr))
	case *cabs.Member:
		w.visit(ex.Expr, isVariable(ex.Expr))
	case *cabs.VLASize:
	default:
		for _, sub := range Children(e) {
			w.visit(sub, false)
		}
	}
}

func (w *clauseWalk) variable(v *cabs.Variable, derefBase bool) {
	c := w.ctx
	d := c.res.DeclOf(v)
	if d == nil {
		return
	}
	want := Shared
	if w.subscript > 0 || (derefBase && ctypes.IsPointer(c.res.DeclType(d))) {
		want = Firstprivate
	}

	restrict := w.restrict
	cur, ok := c.CurrentDSA(d)
	if ok && (cur.Restrict == RestrictReduction || (cur.Restrict == RestrictDepend && restrict == RestrictReduction)) {
		c.sink.Report(v.Loc, diag.ReductionDependConflict, v.Name)
		w.ok = false
		restrict = RestrictReduction
	}
	if !ok || cur.Attr == Unknown {
		c.AddEntry(d, v, want, false, true, restrict)
		return
	}
	if cur.Attr == Firstprivate && want == Shared {
		if !cur.Implicit {
			c.sink.Report(v.Loc, diag.MismatchDependDSA, v.Name, cur.Attr.String(), want.String())
			w.ok = false
			return
		}
		c.AddEntry(d, v, Shared, false, true, restrict)
		return
	}
	if restrict > cur.Restrict {
		cur.Restrict = restrict
	}
}

// ClauseExprs returns the expressions written in a clause
func ClauseExprs(cl cabs.Clause) []cabs.Expr {
	switch c := cl.(type) {
	case *cabs.DSAClause:
		return c.Items
	case *cabs.DependClause:
		return c.Items
	case *cabs.ReductionClause:
		return c.Items
	case *cabs.ScalarClause:
		return []cabs.Expr{c.Expr}
	}
	return nil
}

// Children returns the direct subexpressions of e
func Children(e cabs.Expr) []cabs.Expr {
	switch ex := e.(type) {
	case *cabs.Unary:
		return []cabs.Expr{ex.Expr}
	case *cabs.Binary:
		return []cabs.Expr{ex.Left, ex.Right}
	case *cabs.Assign:
		return []cabs.Expr{ex.Left, ex.Right}
	case *cabs.Paren:
		return []cabs.Expr{ex.Expr}
	case *cabs.Conditional:
		return []cabs.Expr{ex.Cond, ex.Then, ex.Else}
	case *cabs.Call:
		return append([]cabs.Expr{ex.Func}, ex.Args...)
	case *cabs.Index:
		return []cabs.Expr{ex.Array, ex.Index}
	case *cabs.Member:
		return []cabs.Expr{ex.Expr}
	case *cabs.Cast:
		return []cabs.Expr{ex.Expr}
	case *cabs.SizeofExpr:
		return []cabs.Expr{ex.Expr}
	case *cabs.Section:
		return []cabs.Expr{ex.Array, ex.Lower, ex.Bound}
	case *cabs.Shape:
		return append(append([]cabs.Expr(nil), ex.Dims...), ex.Expr)
	}
	return nil
}
