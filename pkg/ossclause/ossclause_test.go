package ossclause

import (
	"strings"
	"testing"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
)

type fakeEnv struct {
	diag.List
	types       map[cabs.Expr]ctypes.Type
	decls       map[*cabs.Variable]*cabs.VarDecl
	declTypes   map[*cabs.VarDecl]ctypes.Type
	checked     []cabs.Expr
	deferParams bool
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		types:     map[cabs.Expr]ctypes.Type{},
		decls:     map[*cabs.Variable]*cabs.VarDecl{},
		declTypes: map[*cabs.VarDecl]ctypes.Type{},
	}
}

func (f *fakeEnv) TypeOf(e cabs.Expr) ctypes.Type { return f.types[e] }

func (f *fakeEnv) DeclOf(v *cabs.Variable) *cabs.VarDecl { return f.decls[v] }

func (f *fakeEnv) SetType(e cabs.Expr, t ctypes.Type) { f.types[e] = t }

func (f *fakeEnv) DeferParams() bool { return f.deferParams }

func (f *fakeEnv) DeclType(d *cabs.VarDecl) ctypes.Type { return f.declTypes[d] }

func (f *fakeEnv) Declare(d *cabs.VarDecl, t ctypes.Type) { f.declTypes[d] = t }

func (f *fakeEnv) Ref(d *cabs.VarDecl, loc cabs.Loc) *cabs.Variable {
	v := &cabs.Variable{Name: d.Name, Loc: loc}
	f.decls[v] = d
	f.types[v] = f.declTypes[d]
	return v
}

func (f *fakeEnv) CheckExpr(e cabs.Expr) ctypes.Type {
	f.checked = append(f.checked, e)
	return f.types[e]
}

func (f *fakeEnv) ConstValue(e cabs.Expr) (int64, bool) {
	switch ex := e.(type) {
	case *cabs.Constant:
		return ex.Value, true
	case *cabs.Unary:
		if n, ok := f.ConstValue(ex.Expr); ok && ex.Op == cabs.OpNeg {
			return -n, true
		}
	}
	return 0, false
}

func (f *fakeEnv) decl(name string, t ctypes.Type) *cabs.VarDecl {
	d := &cabs.VarDecl{Name: name}
	f.declTypes[d] = t
	return d
}

func (f *fakeEnv) ref(d *cabs.VarDecl) cabs.Expr {
	return f.Ref(d, cabs.Loc{})
}

func (f *fakeEnv) num(n int64) cabs.Expr {
	c := &cabs.Constant{Value: n}
	f.types[c] = ctypes.Int()
	return c
}

func (f *fakeEnv) index(a, i cabs.Expr) cabs.Expr {
	e := &cabs.Index{Array: a, Index: i}
	elem, _ := ctypes.Pointee(f.types[a])
	f.types[e] = elem
	return e
}

func (f *fakeEnv) deref(p cabs.Expr) cabs.Expr {
	e := &cabs.Unary{Op: cabs.OpDeref, Expr: p}
	elem, _ := ctypes.Pointee(f.types[p])
	f.types[e] = elem
	return e
}

type fixture struct {
	env *fakeEnv
	ctx *dsa.Context
	val *Validator
	reg *Registry
}

func newFixture(dir dsa.Directive) *fixture {
	env := newFakeEnv()
	ctx := dsa.NewContext(env, env)
	reg := &Registry{}
	ctx.Push(dir, nil, cabs.Loc{Line: 1})
	return &fixture{env: env, ctx: ctx, val: NewValidator(env, ctx, reg), reg: reg}
}

func (fx *fixture) run(clauses ...cabs.Clause) *Task {
	t := fx.val.Validate(clauses, cabs.Loc{Line: 1})
	return fx.val.Finish(t)
}

func in(items ...cabs.Expr) cabs.Clause {
	return &cabs.DependClause{Which: cabs.ClauseIn, Items: items}
}

func names(vars []*Var) string {
	var parts []string
	for _, v := range vars {
		parts = append(parts, v.Decl.Name)
	}
	return strings.Join(parts, ",")
}

func TestDependKinds(t *testing.T) {
	tests := []struct {
		name string
		mods []cabs.DepModifier
		want DepKind
		err  diag.Kind
	}{
		{"in", []cabs.DepModifier{cabs.DepIn}, DepIn, -1},
		{"inoutset", []cabs.DepModifier{cabs.DepInoutset}, DepConcurrent, -1},
		{"mutexinoutset", []cabs.DepModifier{cabs.DepMutexinoutset}, DepCommutative, -1},
		{"weak in", []cabs.DepModifier{cabs.DepWeak, cabs.DepIn}, DepWeakIn, -1},
		{"inout weak", []cabs.DepModifier{cabs.DepInout, cabs.DepWeak}, DepWeakInout, -1},
		{"weak alone", []cabs.DepModifier{cabs.DepWeak}, 0, diag.DependWeakAlone},
		{"two kinds", []cabs.DepModifier{cabs.DepIn, cabs.DepOut}, 0, diag.DependKindConflict},
		{"two weak", []cabs.DepModifier{cabs.DepWeak, cabs.DepWeak, cabs.DepIn}, 0, diag.DependKindConflict},
		{"weak inoutset", []cabs.DepModifier{cabs.DepWeak, cabs.DepInoutset}, 0, diag.DependNoWeakCompatible},
		{"weak mutexinoutset", []cabs.DepModifier{cabs.DepMutexinoutset, cabs.DepWeak}, 0, diag.DependNoWeakCompatible},
		{"inoutset mutexinoutset", []cabs.DepModifier{cabs.DepInoutset, cabs.DepMutexinoutset}, 0, diag.DependKindConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var l diag.List
			got, ok := DependKind(&l, &cabs.DependClause{Which: cabs.ClauseDepend, Modifiers: tt.mods})
			if tt.err < 0 {
				if !ok || got != tt.want {
					t.Errorf("got %s %v, want %s", got, ok, tt.want)
				}
				return
			}
			if ok || l.Count(tt.err) != 1 {
				t.Errorf("expected diagnostic %d, got %v", tt.err, l.Diags)
			}
		})
	}

	keywords := []struct {
		which cabs.ClauseKind
		want  DepKind
		ok    bool
	}{
		{cabs.ClauseWeakInout, DepWeakInout, true},
		{cabs.ClauseCommutative, DepCommutative, true},
		{cabs.ClauseWeakConcurrent, 0, false},
		{cabs.ClauseWeakCommutative, 0, false},
	}
	for _, k := range keywords {
		var l diag.List
		got, ok := DependKind(&l, &cabs.DependClause{Which: k.which})
		if ok != k.ok || (ok && got != k.want) {
			t.Errorf("%s: got %s %v", k.which, got, ok)
		}
	}
}

func TestScenarioOneDependencies(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	env := fx.env
	a := env.decl("a", ctypes.Int())
	b := env.decl("b", ctypes.Array(ctypes.Int(), 5))
	c := env.decl("c", ctypes.Pointer(ctypes.Int()))

	task := fx.run(in(env.ref(a), env.index(env.ref(b), env.num(0)), env.deref(env.ref(c))))
	if task.Failed {
		t.Fatalf("unexpected failure: %v", env.Diags)
	}
	if got := names(task.Shared); got != "a,b" {
		t.Errorf("shared = %s, want a,b", got)
	}
	if got := names(task.Firstprivate); got != "c" {
		t.Errorf("firstprivate = %s, want c", got)
	}
	want := []string{
		"base=&a elem=int dims=[(1, 0, 1)]",
		"base=&b elem=int dims=[(5, 0, 1)]",
		"base=c elem=int dims=[(1, 0, 1)]",
	}
	if len(task.Deps) != len(want) {
		t.Fatalf("expected %d deps, got %d", len(want), len(task.Deps))
	}
	for i, d := range task.Deps {
		if d.Kind != DepIn {
			t.Errorf("dep %d kind = %s", i, d.Kind)
		}
		if got := d.Region.String(); got != want[i] {
			t.Errorf("dep %d region = %q, want %q", i, got, want[i])
		}
	}
	if task.Deps[1].Text() != "b[0]" {
		t.Errorf("text = %q", task.Deps[1].Text())
	}
}

func TestSemicolonSectionInDepend(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	p := fx.env.decl("p", ctypes.Pointer(ctypes.Int()))
	sec := &cabs.Section{Array: fx.env.ref(p), Lower: fx.env.num(0), Bound: fx.env.num(4), Semicolon: true}
	fx.env.types[sec] = ctypes.Int()

	task := fx.run(&cabs.DependClause{Which: cabs.ClauseDepend, Modifiers: []cabs.DepModifier{cabs.DepIn}, Items: []cabs.Expr{sec}})
	if !task.Failed || fx.env.Count(diag.SectionInvalidForm) != 1 {
		t.Errorf("expected SectionInvalidForm, got %v", fx.env.Diags)
	}

	fx = newFixture(dsa.DirTask)
	p = fx.env.decl("p", ctypes.Pointer(ctypes.Int()))
	sec = &cabs.Section{Array: fx.env.ref(p), Lower: fx.env.num(0), Bound: fx.env.num(4), Semicolon: true}
	fx.env.types[sec] = ctypes.Int()
	if task := fx.run(in(sec)); task.Failed {
		t.Errorf("[lower;length] is valid in in(): %v", fx.env.Diags)
	}
}

func TestDataSharingClauses(t *testing.T) {
	tests := []struct {
		name    string
		clauses func(fx *fixture, x, y *cabs.VarDecl) []cabs.Clause
		kind    diag.Kind
		failed  bool
	}{
		{"conflicting attributes", func(fx *fixture, x, y *cabs.VarDecl) []cabs.Clause {
			return []cabs.Clause{
				&cabs.DSAClause{Which: cabs.ClauseShared, Items: []cabs.Expr{fx.env.ref(x)}},
				&cabs.DSAClause{Which: cabs.ClausePrivate, Items: []cabs.Expr{fx.env.ref(x)}},
			}
		}, diag.WrongDSA, true},
		{"duplicate is a warning", func(fx *fixture, x, y *cabs.VarDecl) []cabs.Clause {
			return []cabs.Clause{
				&cabs.DSAClause{Which: cabs.ClauseShared, Items: []cabs.Expr{fx.env.ref(x), fx.env.ref(x)}},
			}
		}, diag.DuplicateDSA, false},
		{"not a variable", func(fx *fixture, x, y *cabs.VarDecl) []cabs.Clause {
			return []cabs.Clause{
				&cabs.DSAClause{Which: cabs.ClauseFirstprivate, Items: []cabs.Expr{fx.env.deref(fx.env.ref(y))}},
			}
		}, diag.ExpectedVariable, true},
		{"explicit firstprivate used as dependency", func(fx *fixture, x, y *cabs.VarDecl) []cabs.Clause {
			return []cabs.Clause{
				in(fx.env.ref(x)),
				&cabs.DSAClause{Which: cabs.ClauseFirstprivate, Items: []cabs.Expr{fx.env.ref(x)}},
			}
		}, diag.MismatchDependDSA, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(dsa.DirTask)
			x := fx.env.decl("x", ctypes.Int())
			y := fx.env.decl("y", ctypes.Pointer(ctypes.Int()))
			task := fx.run(tt.clauses(fx, x, y)...)
			if fx.env.Count(tt.kind) != 1 {
				t.Errorf("expected one diagnostic %d, got %v", tt.kind, fx.env.Diags)
			}
			if task.Failed != tt.failed {
				t.Errorf("Failed = %v, want %v", task.Failed, tt.failed)
			}
		})
	}
}

func TestFinishLists(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	life := &ctypes.Lifecycle{Ctor: "s_init", Dtor: "s_fini", Copy: "s_copy"}
	st := ctypes.Tstruct{Name: "S", Info: &ctypes.Record{Complete: true, Lifecycle: life, Fields: []ctypes.Field{{Name: "v", Type: ctypes.Int()}}}}
	p := fx.env.decl("p", st)
	q := fx.env.decl("q", ctypes.Double())
	s := fx.env.decl("s", st)
	declared := len(fx.env.declTypes)

	task := fx.run(
		&cabs.DSAClause{Which: cabs.ClauseFirstprivate, Items: []cabs.Expr{fx.env.ref(q)}},
		&cabs.DSAClause{Which: cabs.ClausePrivate, Items: []cabs.Expr{fx.env.ref(p)}},
		&cabs.DSAClause{Which: cabs.ClauseShared, Items: []cabs.Expr{fx.env.ref(s)}},
	)
	if task.Failed {
		t.Fatalf("unexpected failure: %v", fx.env.Diags)
	}
	if len(task.Vars()) != 3 {
		t.Fatalf("expected 3 vars, got %d", len(task.Vars()))
	}
	if task.Private[0].Decl != p || task.Private[0].Lifecycle != life {
		t.Errorf("private entry wrong: %+v", task.Private[0])
	}
	if fp := task.Firstprivate[0]; fp.Decl != q || fp.Lifecycle != nil {
		t.Errorf("firstprivate entry wrong: %+v", fp)
	}
	if task.Shared[0].Lifecycle != nil {
		t.Errorf("shared variables are never constructed")
	}
	if len(fx.env.declTypes) != declared {
		t.Errorf("finishing a task declared %d helper variables", len(fx.env.declTypes)-declared)
	}
}

func TestScalarClauses(t *testing.T) {
	st := ctypes.Tstruct{Name: "S", Info: &ctypes.Record{Complete: true}}
	tests := []struct {
		name  string
		which cabs.ClauseKind
		typ   ctypes.Type
		value int64
		kind  diag.Kind
	}{
		{"if struct", cabs.ClauseIf, st, 0, diag.ClauseNotScalar},
		{"final pointer", cabs.ClauseFinal, ctypes.Pointer(ctypes.Int()), 0, -1},
		{"cost negative", cabs.ClauseCost, ctypes.Int(), -3, diag.NegativeExpressionInClause},
		{"cost float", cabs.ClauseCost, ctypes.Double(), 0, diag.ClauseFloatingTypeArg},
		{"priority pointer", cabs.ClausePriority, ctypes.Pointer(ctypes.Int()), 0, diag.ClauseNotIntegral},
		{"priority long", cabs.ClausePriority, ctypes.Long(), 4, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(dsa.DirTask)
			e := &cabs.Constant{Value: tt.value}
			fx.env.types[e] = tt.typ
			task := fx.run(&cabs.ScalarClause{Which: tt.which, Expr: e})
			if tt.kind < 0 {
				if task.Failed {
					t.Fatalf("unexpected failure: %v", fx.env.Diags)
				}
				return
			}
			if !task.Failed || fx.env.Count(tt.kind) != 1 {
				t.Errorf("expected diagnostic %d, got %v", tt.kind, fx.env.Diags)
			}
		})
	}

	fx := newFixture(dsa.DirTask)
	e := &cabs.Constant{Value: 2}
	fx.env.types[e] = ctypes.Long()
	task := fx.run(&cabs.ScalarClause{Which: cabs.ClausePriority, Expr: e})
	if !ctypes.Equal(fx.env.TypeOf(task.Priority), ctypes.Int()) {
		t.Errorf("priority must be converted to int, got %s", fx.env.TypeOf(task.Priority))
	}
}

func TestUniqueClauses(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	c1, c2 := fx.env.num(1), fx.env.num(0)
	task := fx.run(
		&cabs.ScalarClause{Which: cabs.ClauseIf, Expr: c1},
		&cabs.ScalarClause{Which: cabs.ClauseIf, Expr: c2},
		&cabs.DefaultClause{Value: cabs.DefaultNone},
		&cabs.DefaultClause{Value: cabs.DefaultShared},
		&cabs.LabelClause{Text: "t"},
	)
	if !task.Failed || fx.env.Count(diag.UnexpectedClauseValue) != 2 {
		t.Errorf("expected 2 UnexpectedClauseValue, got %v", fx.env.Diags)
	}
	if task.Label != "t" {
		t.Errorf("label = %q", task.Label)
	}
}

func TestReductions(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	x := fx.env.decl("x", ctypes.Float())
	task := fx.run(&cabs.ReductionClause{Op: "+", Items: []cabs.Expr{fx.env.ref(x)}})
	if task.Failed || len(task.Reductions) != 1 {
		t.Fatalf("unexpected failure: %v", fx.env.Diags)
	}
	r := task.Reductions[0]
	if r.Op != RedAdd || r.Declared != nil {
		t.Errorf("expected builtin +, got %d", r.Op)
	}
	init, ok := r.Init.(*cabs.Assign)
	if !ok {
		t.Fatalf("init is %T", r.Init)
	}
	if got := cabs.ExprString(init.Right); got != "(float)0" {
		t.Errorf("initializer = %q, want (float)0", got)
	}
	if got := cabs.ExprString(r.Combiner); got != "lhs = lhs + rhs" {
		t.Errorf("combiner = %q", got)
	}
	if names(task.Shared) != "x" {
		t.Errorf("reduction variable must be shared, got %s", names(task.Shared))
	}

	life := &ctypes.Lifecycle{Ctor: "c", Dtor: "d", Copy: "k"}
	tests := []struct {
		name string
		op   string
		typ  ctypes.Type
		kind diag.Kind
	}{
		{"non-POD", "+", ctypes.Tstruct{Name: "S", Info: &ctypes.Record{Complete: true, Lifecycle: life}}, diag.NonPODReduction},
		{"unknown identifier", "avg", ctypes.Int(), diag.UnknownReductionIdentifier},
		{"bitwise float", "^", ctypes.Double(), diag.ReductionWrongType},
		{"max of pointer", "max", ctypes.Pointer(ctypes.Int()), diag.ReductionWrongType},
		{"const", "+", ctypes.Const(ctypes.Int()), diag.ConstVariable},
		{"incomplete", "+", ctypes.Tstruct{Name: "T", Info: &ctypes.Record{}}, diag.IncompleteType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(dsa.DirTask)
			v := fx.env.decl("v", tt.typ)
			task := fx.run(&cabs.ReductionClause{Op: tt.op, Items: []cabs.Expr{fx.env.ref(v)}})
			if !task.Failed || fx.env.Count(tt.kind) != 1 {
				t.Errorf("expected diagnostic %d, got %v", tt.kind, fx.env.Diags)
			}
		})
	}
}

func TestNeutralValues(t *testing.T) {
	tests := []struct {
		op   RedOp
		typ  ctypes.Type
		want string
	}{
		{RedAdd, ctypes.Int(), "(int)0"},
		{RedMul, ctypes.Double(), "(double)1"},
		{RedLand, ctypes.Int(), "(int)1"},
		{RedAnd, ctypes.UInt(), "(unsigned int)~0"},
		{RedMax, ctypes.Int(), "(int)-2147483648"},
		{RedMin, ctypes.Short(), "(short)32767"},
		{RedMin, ctypes.Float(), "(float)3.4028234663852886e+38"},
		{RedMax, ctypes.Double(), "(double)-1.7976931348623157e+308"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := cabs.ExprString(neutral(tt.op, tt.typ, cabs.Loc{})); got != tt.want {
				t.Errorf("neutral = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeclaredReductions(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	st := ctypes.Tstruct{Name: "acc", Info: &ctypes.Record{Complete: true, Lifecycle: &ctypes.Lifecycle{Ctor: "c", Dtor: "d", Copy: "k"}}}
	d := &Declared{Name: "merge", Type: st, Out: fx.env.decl("omp_out", st), In: fx.env.decl("omp_in", st)}
	if !fx.reg.Add(d) {
		t.Fatal("first declaration rejected")
	}
	if fx.reg.Add(&Declared{Name: "merge", Type: st}) {
		t.Error("redefinition for the same type accepted")
	}
	if !fx.reg.Add(&Declared{Name: "merge", Type: ctypes.Int()}) {
		t.Error("same name for another type rejected")
	}

	v := fx.env.decl("v", st)
	task := fx.run(&cabs.ReductionClause{Weak: true, Op: "merge", Items: []cabs.Expr{fx.env.ref(v)}})
	if task.Failed {
		t.Fatalf("unexpected failure: %v", fx.env.Diags)
	}
	r := task.Reductions[0]
	if r.Op != RedDeclared || r.Declared != d || r.Out != d.Out || !r.Weak {
		t.Errorf("declared reduction not bound: %+v", r)
	}
}

func TestReductionDependConflict(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	x := fx.env.decl("x", ctypes.Int())
	task := fx.run(
		&cabs.ReductionClause{Op: "+", Items: []cabs.Expr{fx.env.ref(x)}},
		in(fx.env.ref(x)),
	)
	if !task.Failed || fx.env.Count(diag.ReductionDependConflict) != 1 {
		t.Errorf("expected ReductionDependConflict, got %v", fx.env.Diags)
	}
}

func TestTaskFunctionItems(t *testing.T) {
	fx := newFixture(dsa.DirTaskFunction)
	fx.env.deferParams = true
	n := fx.env.decl("n", ctypes.Int())
	n.Param = true
	p := fx.env.decl("p", ctypes.Pointer(ctypes.VLA(ctypes.Int(), 0)))
	p.Param = true
	p.VLASizes = []cabs.Expr{fx.env.ref(n)}
	for _, d := range []*cabs.VarDecl{n, p} {
		fx.ctx.AddEntry(d, fx.env.ref(d), dsa.Firstprivate, false, false, dsa.RestrictNone)
	}

	fx.run(
		in(fx.env.ref(p)),
		&cabs.DSAClause{Which: cabs.ClauseShared, Items: []cabs.Expr{fx.env.ref(n)}},
	)
	if fx.env.Count(diag.ExpectedDereferenceOrArrayItem) != 1 || fx.env.Count(diag.Unsupported) != 1 {
		t.Errorf("expected item and clause errors, got %v", fx.env.Diags)
	}

	fx.env.Diags = nil
	task := fx.run(in(fx.env.deref(fx.env.ref(p))))
	if task.Failed || !task.HasDeferred() {
		t.Fatalf("expected a deferred dependency, got failed=%v %v", task.Failed, fx.env.Diags)
	}

	fx.env.deferParams = false
	call, ok := fx.val.Resolve(task)
	if !ok || call.HasDeferred() {
		t.Fatalf("Resolve failed: %v", fx.env.Diags)
	}
	if got := call.Deps[0].Region.String(); got != "base=p elem=int dims=[(n, 0, n)]" {
		t.Errorf("region = %q", got)
	}
	if task.Deps[0].Region != nil {
		t.Error("Resolve must not modify the declaration's task")
	}
}

func TestTaskString(t *testing.T) {
	fx := newFixture(dsa.DirTask)
	a := fx.env.decl("a", ctypes.Int())
	task := fx.run(in(fx.env.ref(a)), &cabs.LabelClause{Text: "work"})
	out := task.String()
	for _, want := range []string{"shared a: int implicit", "dep IN a: base=&a", `label "work"`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}
