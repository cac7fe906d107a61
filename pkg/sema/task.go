package sema

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/ossclause"
)

// taskStmt checks a task construct. Explicit clauses are validated before
// the body so that nested tasks inherit them; implicit attributes are
// inferred from the checked body afterwards.
func (c *checker) taskStmt(ts *cabs.TaskStmt) {
	c.clauseExprs(ts.Clauses)
	c.ctx.Push(dsa.DirTask, ts, ts.Loc)
	task := c.val.Validate(ts.Clauses, ts.Loc)

	loops := c.loops
	c.loops = 0
	c.inTask++
	c.stmt(ts.Body)
	c.inTask--
	c.loops = loops

	c.ctx.WalkBody(ts.Body)
	c.ctx.WalkExpr(task.Cost)
	c.ctx.WalkExpr(task.Priority)
	c.val.Finish(task)
	c.ctx.Pop()
	c.info.Tasks[ts] = task
}

func (c *checker) clauseExprs(clauses []cabs.Clause) {
	for _, cl := range clauses {
		for _, e := range dsa.ClauseExprs(cl) {
			c.expr(e)
		}
	}
}

// taskFunction validates the pragma of a task function. Every parameter
// is firstprivate; extents that depend on parameters are resolved at each
// call.
func (c *checker) taskFunction(fd *cabs.FuncDecl, ft ctypes.Tfunction) {
	if _, ok := c.info.TaskFuncs[fd.Name]; ok {
		return
	}
	pragma := fd.Task
	ok := true
	if !ctypes.IsVoid(ft.Return) {
		c.sink.Report(fd.Loc, diag.NonVoidTask, fd.Name)
		ok = false
	}
	for i, p := range fd.Params() {
		if !ctypes.IsPOD(ft.Params[i]) {
			c.sink.Report(p.Loc, diag.NonPODParmTask, p.Name, ft.Params[i].String())
			ok = false
		}
	}

	ctx, val := c.ctx, c.val
	c.ctx = dsa.NewContext(c, c)
	c.val = ossclause.NewValidator(c, c.ctx, c.info.Reductions)
	defer func() { c.ctx, c.val = ctx, val }()

	c.push()
	defer c.pop()
	for _, p := range fd.Params() {
		c.declare(p.Name, p, p.Loc)
	}
	c.clauseExprs(pragma.Clauses)
	c.ctx.Push(dsa.DirTaskFunction, nil, pragma.Loc)
	for _, p := range fd.Params() {
		if p.Name != "" {
			c.ctx.AddEntry(p, c.Ref(p, p.Loc), dsa.Firstprivate, false, false, dsa.RestrictNone)
		}
	}
	c.deferOn = true
	task := c.val.Validate(pragma.Clauses, pragma.Loc)
	c.deferOn = false
	task.Function = fd
	c.val.Finish(task)
	c.ctx.Pop()

	if ok && !task.Failed {
		c.info.TaskFuncs[fd.Name] = task
	}
}

// taskCall turns a call of a task function into a task whose deferred
// dependencies are resolved against this call's arguments
func (c *checker) taskCall(call *cabs.Call, task *ossclause.Task) {
	if c.val == nil {
		c.sink.Report(call.Loc, diag.Unsupported, "task function call outside a function")
		return
	}
	resolved, ok := c.val.Resolve(task)
	if !ok {
		return
	}
	tc := &TaskCall{Call: call, Func: task.Function, Task: resolved}
	for i, p := range task.Function.Params() {
		arg := &cabs.VarDecl{Name: "call_arg", Loc: call.Args[i].Pos()}
		c.Declare(arg, ctypes.Unqual(c.info.DeclTypes[p]))
		tc.Params = append(tc.Params, p)
		tc.Args = append(tc.Args, arg)
	}
	c.info.TaskCalls[call] = tc
}

// declareReduction instantiates a declared reduction for each listed
// type. The combiner and initializer are checked once per type on their
// own copy of the syntax.
func (c *checker) declareReduction(dr *cabs.DeclareReduction) {
	for _, tn := range dr.Types {
		t := c.typeName(tn)
		_, fn := ctypes.Unqual(t).(ctypes.Tfunction)
		if fn || ctypes.IsVoid(t) || ctypes.IsArray(t) || ctypes.IsConst(t) {
			c.sink.Report(tn.Loc, diag.DeclareReductionType, t.String())
			continue
		}
		d := &ossclause.Declared{Name: dr.Name, Type: t, InitIsCall: dr.InitIsCall, Loc: dr.Loc}
		param := func(name string) *cabs.VarDecl {
			v := &cabs.VarDecl{Name: name, Param: true, Loc: dr.Loc}
			c.Declare(v, t)
			c.declare(name, v, dr.Loc)
			return v
		}

		c.push()
		d.Out, d.In = param("omp_out"), param("omp_in")
		d.Combiner = cloneExpr(dr.Combiner)
		c.expr(d.Combiner)
		c.pop()

		if dr.Initializer != nil {
			c.push()
			d.Priv, d.Orig = param("omp_priv"), param("omp_orig")
			init := cloneExpr(dr.Initializer)
			if !dr.InitIsCall {
				init = &cabs.Assign{Op: cabs.OpAssign, Left: c.Ref(d.Priv, dr.Loc), Right: init, Loc: dr.Loc}
			}
			c.expr(init)
			d.Init = init
			c.pop()
		}
		if !c.info.Reductions.Add(d) {
			c.sink.Report(dr.Loc, diag.DeclareReductionRedefinition, dr.Name, t.String())
		}
	}
}

// cloneExpr copies an expression tree; variables come back unbound
func cloneExpr(e cabs.Expr) cabs.Expr {
	switch ex := e.(type) {
	case nil:
		return nil
	case *cabs.Constant:
		n := *ex
		return &n
	case *cabs.FloatConst:
		n := *ex
		return &n
	case *cabs.CharConst:
		n := *ex
		return &n
	case *cabs.StringLit:
		n := *ex
		return &n
	case *cabs.Variable:
		n := *ex
		return &n
	case *cabs.Unary:
		return &cabs.Unary{Op: ex.Op, Expr: cloneExpr(ex.Expr), Loc: ex.Loc}
	case *cabs.Binary:
		return &cabs.Binary{Op: ex.Op, Left: cloneExpr(ex.Left), Right: cloneExpr(ex.Right), Loc: ex.Loc}
	case *cabs.Assign:
		return &cabs.Assign{Op: ex.Op, Left: cloneExpr(ex.Left), Right: cloneExpr(ex.Right), Loc: ex.Loc}
	case *cabs.Paren:
		return &cabs.Paren{Expr: cloneExpr(ex.Expr), Loc: ex.Loc}
	case *cabs.Conditional:
		return &cabs.Conditional{Cond: cloneExpr(ex.Cond), Then: cloneExpr(ex.Then), Else: cloneExpr(ex.Else), Loc: ex.Loc}
	case *cabs.Call:
		args := make([]cabs.Expr, len(ex.Args))
		for i, a := range ex.Args {
			args[i] = cloneExpr(a)
		}
		return &cabs.Call{Func: cloneExpr(ex.Func), Args: args, Loc: ex.Loc}
	case *cabs.Index:
		return &cabs.Index{Array: cloneExpr(ex.Array), Index: cloneExpr(ex.Index), Loc: ex.Loc}
	case *cabs.Member:
		return &cabs.Member{Expr: cloneExpr(ex.Expr), Name: ex.Name, Arrow: ex.Arrow, Loc: ex.Loc}
	case *cabs.Cast:
		return &cabs.Cast{Type: ex.Type, Expr: cloneExpr(ex.Expr), Loc: ex.Loc}
	case *cabs.SizeofExpr:
		return &cabs.SizeofExpr{Expr: cloneExpr(ex.Expr), Loc: ex.Loc}
	case *cabs.SizeofType:
		n := *ex
		return &n
	case *cabs.Section:
		n := *ex
		n.Array, n.Lower, n.Bound = cloneExpr(ex.Array), cloneExpr(ex.Lower), cloneExpr(ex.Bound)
		return &n
	case *cabs.Shape:
		dims := make([]cabs.Expr, len(ex.Dims))
		for i, d := range ex.Dims {
			dims[i] = cloneExpr(d)
		}
		return &cabs.Shape{Dims: dims, Expr: cloneExpr(ex.Expr), Loc: ex.Loc}
	case *cabs.VLASize:
		n := *ex
		return &n
	}
	return e
}
