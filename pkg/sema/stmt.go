package sema

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/ossclause"
)

func (c *checker) globalDecl(gd *cabs.GlobalDecl) {
	for _, s := range gd.Structs {
		c.defineRecord(s)
	}
	if gd.Task != nil {
		switch {
		case gd.Task.Declarators > 1:
			c.sink.Report(gd.Task.Loc, diag.SingleDeclInTask)
		case len(gd.Decls) > 0 || gd.Task.Declarators == 0:
			c.sink.Report(gd.Task.Loc, diag.FunctionExpected)
		}
	}
	for _, d := range gd.Decls {
		if d.Storage == cabs.StorageTypedef {
			c.typedef(d)
			continue
		}
		d.VLASizes = nil
		t := c.resolveType(d.Type, d, d.Loc)
		if len(d.VLASizes) > 0 {
			c.sink.Report(d.Loc, diag.Unsupported, "variable length array at file scope")
		}
		t = c.completeFromInit(t, d.Init)
		c.Declare(d, t)
		c.declare(d.Name, d, d.Loc)
		if d.Storage != cabs.StorageExtern && !ctypes.IsComplete(t) {
			c.sink.Report(d.Loc, diag.IncompleteType, d.Name, t.String())
		}
		c.initializer(d, t, true)
	}
}

func (c *checker) typedef(d *cabs.VarDecl) {
	t := c.resolveType(d.Type, nil, d.Loc)
	c.Declare(d, t)
	c.declare(d.Name, d, d.Loc)
}

// completeFromInit sizes "char s[] = "..."" from its literal
func (c *checker) completeFromInit(t ctypes.Type, init cabs.Expr) ctypes.Type {
	a, ok := ctypes.Unqual(t).(ctypes.Tarray)
	if !ok || a.Size >= 0 || a.VLA {
		return t
	}
	if s, ok := cabs.StripParens(init).(*cabs.StringLit); ok {
		return ctypes.Array(a.Elem, int64(len(s.Value))+1)
	}
	return t
}

// initializer checks the initializer of d. Objects with static storage
// need constant initializers.
func (c *checker) initializer(d *cabs.VarDecl, t ctypes.Type, static bool) {
	if d.Init == nil {
		return
	}
	it := c.expr(d.Init)
	if it == nil {
		return
	}
	if ctypes.IsArray(t) {
		if _, ok := cabs.StripParens(d.Init).(*cabs.StringLit); !ok || len(d.VLASizes) > 0 {
			c.sink.Report(d.Init.Pos(), diag.Unsupported, "array initializer other than a string literal")
		}
		return
	}
	if !c.assignable(t, it, d.Init) {
		c.sink.Report(d.Init.Pos(), diag.IncompatibleTypes, ctypes.Decay(it).String(), ctypes.Unqual(t).String())
		return
	}
	if static && !c.staticInit(d.Init) {
		c.sink.Report(d.Init.Pos(), diag.NotConstant)
	}
}

// staticInit accepts constants, string literals and addresses of objects
// with static storage
func (c *checker) staticInit(e cabs.Expr) bool {
	e = cabs.StripParens(e)
	if _, ok := c.constValue(e); ok {
		return true
	}
	switch ex := e.(type) {
	case *cabs.FloatConst, *cabs.StringLit:
		return true
	case *cabs.Unary:
		switch ex.Op {
		case cabs.OpNeg, cabs.OpPlus:
			return c.staticInit(ex.Expr)
		case cabs.OpAddrOf:
			if v, ok := cabs.StripParens(ex.Expr).(*cabs.Variable); ok {
				return !dsaLocal(c.info.Decls[v])
			}
		}
	case *cabs.Cast:
		return c.staticInit(ex.Expr)
	case *cabs.Variable:
		_, fn := c.info.Decls[ex].(*cabs.FuncDecl)
		return fn
	}
	return false
}

func dsaLocal(d cabs.Decl) bool {
	vd, ok := d.(*cabs.VarDecl)
	return ok && dsa.IsLocal(vd)
}

func (c *checker) funcDecl(fd *cabs.FuncDecl) {
	ft := c.funcType(fd.Type, fd.Loc)
	if prev, ok := c.info.Funcs[fd.Name]; ok {
		if !ctypes.Equal(prev.Type, ft) {
			c.sink.Report(fd.Loc, diag.IncompatibleTypes, ft.String(), prev.Type.String())
		}
		if fd.Body != nil {
			prev.Decl, prev.Type = fd, ft
		}
	} else {
		c.info.Funcs[fd.Name] = &Func{Decl: fd, Type: ft}
	}
	c.declare(fd.Name, fd, fd.Loc)

	if fd.Task != nil && fd.Task.Declarators <= 1 {
		c.taskFunction(fd, ft)
	}
	if fd.Body != nil {
		c.functionBody(fd, ft)
	}
}

func (c *checker) functionBody(fd *cabs.FuncDecl, ft ctypes.Tfunction) {
	c.fn, c.ret = fd, ft.Return
	c.ctx = dsa.NewContext(c, c)
	c.val = ossclause.NewValidator(c, c.ctx, c.info.Reductions)
	c.loops, c.inTask = 0, 0
	defer func() {
		c.fn, c.ret, c.ctx, c.val = nil, nil, nil, nil
	}()

	c.push()
	for _, p := range fd.Params() {
		c.declare(p.Name, p, p.Loc)
	}
	for _, item := range fd.Body.Items {
		c.stmt(item)
	}
	c.pop()
}

func (c *checker) stmt(s cabs.Stmt) {
	switch st := s.(type) {
	case nil, *cabs.Empty:
	case *cabs.Block:
		c.push()
		for _, item := range st.Items {
			c.stmt(item)
		}
		c.pop()
	case *cabs.DeclStmt:
		c.localDecl(st)
	case *cabs.Computation:
		c.expr(st.Expr)
	case *cabs.If:
		c.cond(st.Cond)
		c.stmt(st.Then)
		c.stmt(st.Else)
	case *cabs.While:
		c.cond(st.Cond)
		c.loop(st.Body)
	case *cabs.DoWhile:
		c.loop(st.Body)
		c.cond(st.Cond)
	case *cabs.For:
		c.push()
		c.stmt(st.Init)
		if st.Cond != nil {
			c.cond(st.Cond)
		}
		c.expr(st.Step)
		c.loop(st.Body)
		c.pop()
	case *cabs.Return:
		c.returnStmt(st)
	case *cabs.Break:
		c.branch("break", st.Loc)
	case *cabs.Continue:
		c.branch("continue", st.Loc)
	case *cabs.TaskStmt:
		c.taskStmt(st)
	case *cabs.TaskwaitStmt:
		if _, ok := c.info.TaskFuncs[c.fn.Name]; ok {
			c.sink.Report(st.Loc, diag.TaskwaitInTaskFunction, c.fn.Name)
		}
	}
}

func (c *checker) localDecl(ds *cabs.DeclStmt) {
	for _, s := range ds.Structs {
		c.defineRecord(s)
	}
	for _, d := range ds.Decls {
		if d.Storage == cabs.StorageTypedef {
			c.typedef(d)
			continue
		}
		d.VLASizes = nil
		t := c.resolveType(d.Type, d, d.Loc)
		t = c.completeFromInit(t, d.Init)
		if d.Storage == cabs.StorageStatic && len(d.VLASizes) > 0 {
			c.sink.Report(d.Loc, diag.Unsupported, "static variable length array")
		}
		c.Declare(d, t)
		c.declare(d.Name, d, d.Loc)
		if d.Storage != cabs.StorageExtern && !ctypes.IsComplete(t) {
			c.sink.Report(d.Loc, diag.IncompleteType, d.Name, t.String())
		}
		c.initializer(d, t, d.Storage == cabs.StorageStatic)
	}
}

func (c *checker) cond(e cabs.Expr) {
	t := c.rvalue(e)
	if t != nil && !ctypes.IsScalar(t) {
		c.sink.Report(e.Pos(), diag.IncompatibleTypes, t.String(), "_Bool")
	}
}

func (c *checker) loop(body cabs.Stmt) {
	c.loops++
	c.stmt(body)
	c.loops--
}

// branch checks break and continue. A task body starts a new loop nest.
func (c *checker) branch(kw string, loc cabs.Loc) {
	if c.loops > 0 {
		return
	}
	if c.inTask > 0 {
		c.sink.Report(loc, diag.InvalidBranch, kw)
		return
	}
	c.sink.Report(loc, diag.BreakOutsideLoop, kw)
}

func (c *checker) returnStmt(r *cabs.Return) {
	if c.inTask > 0 {
		c.sink.Report(r.Loc, diag.InvalidBranch, "return")
	}
	if r.Expr == nil {
		return
	}
	t := c.rvalue(r.Expr)
	if t == nil {
		return
	}
	if ctypes.IsVoid(c.ret) {
		if !ctypes.IsVoid(t) {
			c.sink.Report(r.Loc, diag.IncompatibleTypes, t.String(), "void")
		}
		return
	}
	if !c.assignable(c.ret, t, r.Expr) {
		c.sink.Report(r.Loc, diag.IncompatibleTypes, t.String(), c.ret.String())
	}
}
