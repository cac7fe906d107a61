package dsa

import (
	"testing"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
)

type fakeResolver struct {
	decls map[*cabs.Variable]*cabs.VarDecl
	types map[*cabs.VarDecl]ctypes.Type
}

func newResolver() *fakeResolver {
	return &fakeResolver{
		decls: map[*cabs.Variable]*cabs.VarDecl{},
		types: map[*cabs.VarDecl]ctypes.Type{},
	}
}

func (r *fakeResolver) DeclOf(v *cabs.Variable) *cabs.VarDecl { return r.decls[v] }

func (r *fakeResolver) DeclType(d *cabs.VarDecl) ctypes.Type { return r.types[d] }

func (r *fakeResolver) local(name string, t ctypes.Type) *cabs.VarDecl {
	d := &cabs.VarDecl{Name: name}
	r.types[d] = t
	return d
}

func (r *fakeResolver) global(name string, t ctypes.Type) *cabs.VarDecl {
	d := r.local(name, t)
	d.Global = true
	return d
}

func (r *fakeResolver) ref(d *cabs.VarDecl) *cabs.Variable {
	v := &cabs.Variable{Name: d.Name}
	r.decls[v] = d
	return v
}

func use(exprs ...cabs.Expr) cabs.Stmt {
	b := &cabs.Block{}
	for _, e := range exprs {
		b.Items = append(b.Items, &cabs.Computation{Expr: e})
	}
	return b
}

func attrOf(t *testing.T, s *Stack, d *cabs.VarDecl) Attr {
	t.Helper()
	e, ok := s.CurrentDSA(d)
	if !ok {
		return Unknown
	}
	return e.Attr
}

func TestStack(t *testing.T) {
	r := newResolver()
	x := r.local("x", ctypes.Int())
	var s Stack

	s.Push(DirTask, nil, cabs.Loc{Line: 1})
	s.AddEntry(x, r.ref(x), Private, false, false, RestrictNone)
	s.Push(DirTask, nil, cabs.Loc{Line: 2})

	if _, ok := s.CurrentDSA(x); ok {
		t.Error("inner scope must start empty")
	}
	if e, ok := s.HasDSA(x, known, isTask, true); !ok || e.Attr != Private {
		t.Errorf("HasDSA from parent = %v, %v", e, ok)
	}
	if _, ok := s.TopDSA(x, false); !ok {
		t.Error("TopDSA must find the enclosing private entry")
	}

	s.AddEntry(x, r.ref(x), Shared, false, true, RestrictNone)
	s.AddEntry(x, r.ref(x), Shared, false, true, RestrictNone)
	if n := len(s.Top().Entries()); n != 1 {
		t.Errorf("expected one entry, got %d", n)
	}

	s.SetDefault(DefaultNone, cabs.Loc{Line: 2, Col: 20})
	if s.CurrentDefault() != DefaultNone {
		t.Error("default policy not recorded")
	}
	if !s.MarkThis() || s.MarkThis() {
		t.Error("MarkThis must report only the first use")
	}

	s.Pop()
	s.Pop()
	if s.Depth() != 0 {
		t.Errorf("depth = %d", s.Depth())
	}
	defer func() {
		if recover() == nil {
			t.Error("Pop of empty stack must panic")
		}
	}()
	s.Pop()
}

func TestBodyWalkDefaults(t *testing.T) {
	r := newResolver()
	local := r.local("x", ctypes.Int())
	param := r.local("p", ctypes.Pointer(ctypes.Int()))
	param.Param = true
	global := r.global("g", ctypes.Int())
	static := r.local("s", ctypes.Int())
	static.Storage = cabs.StorageStatic
	n := r.local("n", ctypes.Int())
	inner := r.local("tmp", ctypes.VLA(ctypes.Int(), 0))
	inner.VLASizes = []cabs.Expr{r.ref(n)}

	body := &cabs.Block{Items: []cabs.Stmt{
		&cabs.DeclStmt{Decls: []*cabs.VarDecl{inner}},
		use(r.ref(local), r.ref(param), r.ref(global), r.ref(static), r.ref(inner)),
	}}

	tests := []struct {
		name   string
		policy Default
		want   map[*cabs.VarDecl]Attr
	}{
		{"unspecified", DefaultUnspecified, map[*cabs.VarDecl]Attr{
			local: Firstprivate, param: Firstprivate, global: Shared, static: Shared, n: Firstprivate, inner: Unknown,
		}},
		{"shared", DefaultShared, map[*cabs.VarDecl]Attr{
			local: Shared, param: Shared, global: Shared, static: Shared, n: Shared, inner: Unknown,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var diags diag.List
			c := NewContext(&diags, r)
			c.Push(DirTask, nil, cabs.Loc{})
			c.SetDefault(tt.policy, cabs.Loc{})
			c.WalkBody(body)
			for d, want := range tt.want {
				if got := attrOf(t, &c.Stack, d); got != want {
					t.Errorf("%s: got %s, want %s", d.Name, got, want)
				}
			}
			if len(diags.Diags) != 0 {
				t.Errorf("unexpected diagnostics %v", diags.Diags)
			}
		})
	}
}

func TestBodyWalkIsIdempotent(t *testing.T) {
	r := newResolver()
	x := r.local("x", ctypes.Int())
	var diags diag.List
	c := NewContext(&diags, r)
	c.Push(DirTask, nil, cabs.Loc{})

	c.WalkBody(use(r.ref(x)))
	first := attrOf(t, &c.Stack, x)
	c.WalkBody(use(r.ref(x), r.ref(x)))
	if got := attrOf(t, &c.Stack, x); got != first {
		t.Errorf("second classification %s differs from first %s", got, first)
	}
	if n := len(c.Top().Entries()); n != 1 {
		t.Errorf("expected one entry, got %d", n)
	}
}

func TestDefaultNoneReportsOncePerVariable(t *testing.T) {
	r := newResolver()
	x := r.local("x", ctypes.Int())
	y := r.local("y", ctypes.Int())
	var diags diag.List
	c := NewContext(&diags, r)
	c.Push(DirTask, nil, cabs.Loc{})
	c.SetDefault(DefaultNone, cabs.Loc{})

	c.WalkBody(use(
		&cabs.Binary{Op: cabs.OpAdd, Left: r.ref(x), Right: r.ref(x)},
		r.ref(y),
		r.ref(x),
	))
	if got := diags.Count(diag.NotDefinedDSAWhenDefaultNone); got != 2 {
		t.Errorf("expected 2 diagnostics, got %d: %v", got, diags.Diags)
	}
	if e, _ := c.CurrentDSA(x); e == nil || !e.Ignore || e.Attr != Unknown {
		t.Errorf("x must be recorded as ignored, got %+v", e)
	}
}

func TestSizeofOperand(t *testing.T) {
	r := newResolver()
	n := r.local("n", ctypes.Int())
	arr := r.local("arr", ctypes.Array(ctypes.Int(), 4))
	vla := r.local("vla", ctypes.VLA(ctypes.Int(), 0))
	vla.VLASizes = []cabs.Expr{r.ref(n)}

	tests := []struct {
		name    string
		policy  Default
		operand *cabs.VarDecl
		want    Attr
		diags   int
	}{
		{"fixed array", DefaultUnspecified, arr, Unknown, 0},
		{"fixed array default none", DefaultNone, arr, Unknown, 0},
		{"variable length array", DefaultUnspecified, vla, Firstprivate, 0},
		{"variable length array default none", DefaultNone, vla, Unknown, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var diags diag.List
			c := NewContext(&diags, r)
			c.Push(DirTask, nil, cabs.Loc{})
			c.SetDefault(tt.policy, cabs.Loc{})
			c.AddEntry(n, r.ref(n), Shared, false, false, RestrictNone)
			c.WalkBody(use(&cabs.Assign{
				Op:    cabs.OpAssign,
				Left:  r.ref(n),
				Right: &cabs.SizeofExpr{Expr: r.ref(tt.operand)},
			}))
			if got := attrOf(t, &c.Stack, tt.operand); got != tt.want {
				t.Errorf("%s: got %s, want %s", tt.operand.Name, got, tt.want)
			}
			if got := diags.Count(diag.NotDefinedDSAWhenDefaultNone); got != tt.diags {
				t.Errorf("expected %d diagnostics, got %v", tt.diags, diags.Diags)
			}
		})
	}
}

func TestInheritFromEnclosingTask(t *testing.T) {
	r := newResolver()
	sh := r.local("sh", ctypes.Int())
	pv := r.local("pv", ctypes.Int())
	fp := r.local("fp", ctypes.Int())
	gl := r.global("gl", ctypes.Int())
	implicit := r.global("im", ctypes.Int())

	var diags diag.List
	c := NewContext(&diags, r)
	c.Push(DirTask, nil, cabs.Loc{})
	c.AddEntry(sh, r.ref(sh), Shared, false, false, RestrictNone)
	c.AddEntry(pv, r.ref(pv), Private, false, false, RestrictNone)
	c.AddEntry(fp, r.ref(fp), Firstprivate, false, false, RestrictNone)
	c.AddEntry(gl, r.ref(gl), Firstprivate, false, false, RestrictNone)
	c.AddEntry(implicit, r.ref(implicit), Firstprivate, true, true, RestrictNone)

	c.Push(DirTask, nil, cabs.Loc{})
	c.SetDefault(DefaultNone, cabs.Loc{})
	c.WalkBody(use(r.ref(sh), r.ref(pv), r.ref(fp), r.ref(gl), r.ref(implicit)))

	want := map[*cabs.VarDecl]Attr{sh: Shared, pv: Firstprivate, fp: Firstprivate, gl: Firstprivate, implicit: Unknown}
	for d, w := range want {
		if got := attrOf(t, &c.Stack, d); got != w {
			t.Errorf("%s: got %s, want %s", d.Name, got, w)
		}
	}
	// only the ignored entry falls through to default(none)
	if got := diags.Count(diag.NotDefinedDSAWhenDefaultNone); got != 1 {
		t.Errorf("expected 1 diagnostic, got %v", diags.Diags)
	}
}

func TestNestedTaskReferencesBelongToOuterTask(t *testing.T) {
	r := newResolver()
	v := r.local("v", ctypes.Int())
	w := r.local("w", ctypes.Int())
	own := r.local("own", ctypes.Int())

	nested := &cabs.TaskStmt{
		Clauses: []cabs.Clause{&cabs.DependClause{Which: cabs.ClauseIn, Items: []cabs.Expr{r.ref(v)}}},
		Body: &cabs.Block{Items: []cabs.Stmt{
			&cabs.DeclStmt{Decls: []*cabs.VarDecl{own}},
			use(r.ref(w), r.ref(own)),
		}},
	}
	var diags diag.List
	c := NewContext(&diags, r)
	c.Push(DirTask, nil, cabs.Loc{})
	c.WalkBody(&cabs.Block{Items: []cabs.Stmt{nested}})

	entries := c.Top().Entries()
	if len(entries) != 2 || entries[0].Decl != v || entries[1].Decl != w {
		t.Fatalf("expected entries v, w in order, got %d entries", len(entries))
	}
}

func TestClauseWalk(t *testing.T) {
	r := newResolver()
	s := ctypes.Tstruct{Name: "S", Info: &ctypes.Record{Complete: true, Fields: []ctypes.Field{{Name: "x", Type: ctypes.Int()}}}}
	a := r.local("a", ctypes.Int())
	b := r.local("b", ctypes.Array(ctypes.Int(), 5))
	c := r.local("c", ctypes.Pointer(ctypes.Int()))
	i := r.local("i", ctypes.Int())
	sv := r.local("s", s)
	ps := r.local("ps", ctypes.Pointer(s))
	n := r.local("n", ctypes.Int())
	p := r.local("p", ctypes.Pointer(ctypes.Int()))

	items := []cabs.Expr{
		r.ref(a),
		&cabs.Index{Array: r.ref(b), Index: &cabs.Constant{Value: 0}},
		&cabs.Unary{Op: cabs.OpDeref, Expr: r.ref(c)},
		&cabs.Member{Expr: r.ref(sv), Name: "x"},
		&cabs.Member{Expr: r.ref(ps), Name: "x", Arrow: true},
		&cabs.Shape{Dims: []cabs.Expr{r.ref(n)}, Expr: &cabs.Paren{Expr: r.ref(p)}},
		&cabs.Section{Array: r.ref(p), Lower: r.ref(i), Bound: &cabs.Constant{Value: 2}},
	}
	var diags diag.List
	ctx := NewContext(&diags, r)
	ctx.Push(DirTask, nil, cabs.Loc{})
	for _, it := range items {
		if !ctx.WalkClauseItem(it, RestrictDepend) {
			t.Fatalf("unexpected failure on %s: %v", cabs.ExprString(it), diags.Diags)
		}
	}

	want := map[*cabs.VarDecl]Attr{
		a: Shared, b: Shared, c: Firstprivate, sv: Shared, ps: Firstprivate,
		n: Firstprivate, p: Firstprivate, i: Firstprivate,
	}
	for d, w := range want {
		if got := attrOf(t, &ctx.Stack, d); got != w {
			t.Errorf("%s: got %s, want %s", d.Name, got, w)
		}
	}
}

func TestClauseWalkConflicts(t *testing.T) {
	r := newResolver()
	x := r.local("x", ctypes.Int())
	p := r.local("p", ctypes.Pointer(ctypes.Int()))
	i := r.local("i", ctypes.Int())

	type step struct {
		item     func() cabs.Expr
		restrict Restrict
	}
	ref := func(d *cabs.VarDecl) func() cabs.Expr {
		return func() cabs.Expr { return r.ref(d) }
	}
	tests := []struct {
		name     string
		explicit Attr
		steps    []step
		kind     diag.Kind
		count    int
		final    Attr
	}{
		{"depend then reduction", Unknown, []step{{ref(x), RestrictDepend}, {ref(x), RestrictReduction}}, diag.ReductionDependConflict, 1, Shared},
		{"reduction then depend", Unknown, []step{{ref(x), RestrictReduction}, {ref(x), RestrictDepend}}, diag.ReductionDependConflict, 1, Shared},
		{"reduction twice", Unknown, []step{{ref(x), RestrictReduction}, {ref(x), RestrictReduction}}, diag.ReductionDependConflict, 1, Shared},
		{"depend twice", Unknown, []step{{ref(x), RestrictDepend}, {ref(x), RestrictDepend}}, diag.ReductionDependConflict, 0, Shared},
		{"explicit firstprivate", Firstprivate, []step{{ref(x), RestrictDepend}}, diag.MismatchDependDSA, 1, Firstprivate},
		{"explicit shared index", Shared, []step{{func() cabs.Expr { return &cabs.Index{Array: r.ref(p), Index: r.ref(x)} }, RestrictDepend}}, diag.MismatchDependDSA, 0, Shared},
		{"implicit firstprivate promoted", Unknown, []step{
			{func() cabs.Expr { return &cabs.Index{Array: r.ref(p), Index: r.ref(x)} }, RestrictDepend},
			{ref(x), RestrictDepend},
		}, diag.MismatchDependDSA, 0, Shared},
		{"other variables untouched", Unknown, []step{
			{func() cabs.Expr { return &cabs.Index{Array: r.ref(p), Index: r.ref(i)} }, RestrictDepend},
		}, diag.MismatchDependDSA, 0, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var diags diag.List
			c := NewContext(&diags, r)
			c.Push(DirTask, nil, cabs.Loc{})
			if tt.explicit != Unknown {
				c.AddEntry(x, r.ref(x), tt.explicit, false, false, RestrictNone)
			}
			for _, s := range tt.steps {
				c.WalkClauseItem(s.item(), s.restrict)
			}
			if got := diags.Count(tt.kind); got != tt.count {
				t.Errorf("count(%d) = %d, want %d: %v", tt.kind, got, tt.count, diags.Diags)
			}
			if got := attrOf(t, &c.Stack, x); got != tt.final {
				t.Errorf("x: got %s, want %s", got, tt.final)
			}
		})
	}
}
