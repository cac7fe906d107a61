package ossclause

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/region"
)

// Env is what the validator needs from the C checker
type Env interface {
	region.Env
	DeclType(d *cabs.VarDecl) ctypes.Type
	// Declare gives a synthesized declaration its type
	Declare(d *cabs.VarDecl, t ctypes.Type)
	// Ref builds a checked reference to d
	Ref(d *cabs.VarDecl, loc cabs.Loc) *cabs.Variable
	// CheckExpr type-checks a synthesized expression
	CheckExpr(e cabs.Expr) ctypes.Type
	// ConstValue folds an integer constant expression
	ConstValue(e cabs.Expr) (int64, bool)
}

// Validator checks clause lists against the innermost data-sharing scope
type Validator struct {
	env        Env
	ctx        *dsa.Context
	regions    *region.Builder
	reductions *Registry
}

// NewValidator creates a validator for one function
func NewValidator(env Env, ctx *dsa.Context, reductions *Registry) *Validator {
	return &Validator{
		env:        env,
		ctx:        ctx,
		regions:    region.NewBuilder(env),
		reductions: reductions,
	}
}

type handler struct {
	phase int
	check func(v *Validator, t *Task, c cabs.Clause) bool
}

// Clauses are checked in phases so that explicit data-sharing attributes
// exist before dependency items are classified.
const (
	phaseDefault = iota
	phaseDSA
	phaseDepend
	phaseReduction
	phaseScalar
	numPhases
)

var dispatch = map[cabs.ClauseKind]handler{
	cabs.ClauseDefault:         {phaseDefault, checkDefault},
	cabs.ClauseShared:          {phaseDSA, checkDSA},
	cabs.ClausePrivate:         {phaseDSA, checkDSA},
	cabs.ClauseFirstprivate:    {phaseDSA, checkDSA},
	cabs.ClauseDepend:          {phaseDepend, checkDepend},
	cabs.ClauseIn:              {phaseDepend, checkDepend},
	cabs.ClauseOut:             {phaseDepend, checkDepend},
	cabs.ClauseInout:           {phaseDepend, checkDepend},
	cabs.ClauseConcurrent:      {phaseDepend, checkDepend},
	cabs.ClauseCommutative:     {phaseDepend, checkDepend},
	cabs.ClauseWeakIn:          {phaseDepend, checkDepend},
	cabs.ClauseWeakOut:         {phaseDepend, checkDepend},
	cabs.ClauseWeakInout:       {phaseDepend, checkDepend},
	cabs.ClauseWeakConcurrent:  {phaseDepend, checkDepend},
	cabs.ClauseWeakCommutative: {phaseDepend, checkDepend},
	cabs.ClauseReduction:       {phaseReduction, checkReduction},
	cabs.ClauseWeakReduction:   {phaseReduction, checkReduction},
	cabs.ClauseIf:              {phaseScalar, checkScalar},
	cabs.ClauseFinal:           {phaseScalar, checkScalar},
	cabs.ClauseCost:            {phaseScalar, checkScalar},
	cabs.ClausePriority:        {phaseScalar, checkScalar},
	cabs.ClauseLabel:           {phaseScalar, checkLabel},
}

var unique = map[cabs.ClauseKind]bool{
	cabs.ClauseDefault:  true,
	cabs.ClauseIf:       true,
	cabs.ClauseFinal:    true,
	cabs.ClauseCost:     true,
	cabs.ClausePriority: true,
	cabs.ClauseLabel:    true,
}

// Validate checks every clause of the construct whose scope is on top of
// the data-sharing stack. Errors are accumulated over all clauses; the
// returned task is marked Failed if any was reported.
func (v *Validator) Validate(clauses []cabs.Clause, loc cabs.Loc) *Task {
	t := &Task{Loc: loc}
	seen := map[cabs.ClauseKind]bool{}
	for _, c := range clauses {
		k := c.Kind()
		if !unique[k] {
			continue
		}
		if seen[k] {
			v.env.Report(c.Pos(), diag.UnexpectedClauseValue, k.String())
			t.Failed = true
		}
		seen[k] = true
	}
	for phase := 0; phase < numPhases; phase++ {
		for _, c := range clauses {
			h, ok := dispatch[c.Kind()]
			if !ok || h.phase != phase {
				continue
			}
			if !h.check(v, t, c) {
				t.Failed = true
			}
		}
	}
	return t
}

// Finish fills the data-sharing lists of t from the innermost scope, in the
// order the variables were first classified
func (v *Validator) Finish(t *Task) *Task {
	for _, e := range v.ctx.Top().Entries() {
		if e.Attr == dsa.Unknown {
			continue
		}
		typ := v.env.DeclType(e.Decl)
		item := &Var{Decl: e.Decl, Type: typ, Attr: e.Attr, Implicit: e.Implicit}
		switch e.Attr {
		case dsa.Shared:
			t.Shared = append(t.Shared, item)
			continue
		case dsa.Private:
			t.Private = append(t.Private, item)
		case dsa.Firstprivate:
			t.Firstprivate = append(t.Firstprivate, item)
		}
		item.Lifecycle = ctypes.LifecycleOf(typ)
	}
	return t
}

// Resolve completes the items of a task function that were deferred to
// the call site. The environment must no longer defer parameters.
func (v *Validator) Resolve(t *Task) (*Task, bool) {
	if !t.HasDeferred() {
		return t, true
	}
	out := *t
	ok := true
	out.Deps = make([]*Dep, len(t.Deps))
	for i, d := range t.Deps {
		out.Deps[i] = d
		if d.Region != nil {
			continue
		}
		r := v.regions.Build(d.Expr)
		if r.State != region.Resolved {
			ok = false
			continue
		}
		nd := *d
		nd.Region = r.Desc
		out.Deps[i] = &nd
	}
	out.Reductions = make([]*Reduction, len(t.Reductions))
	for i, red := range t.Reductions {
		out.Reductions[i] = red
		if red.Region != nil {
			continue
		}
		r := v.regions.Build(red.Expr)
		if r.State != region.Resolved {
			ok = false
			continue
		}
		nr := *red
		nr.Region = r.Desc
		out.Reductions[i] = &nr
	}
	return &out, ok
}

func (v *Validator) taskFunction() bool {
	return v.ctx.Top().Directive == dsa.DirTaskFunction
}

func checkDefault(v *Validator, t *Task, c cabs.Clause) bool {
	cl := c.(*cabs.DefaultClause)
	policy := dsa.DefaultShared
	if cl.Value == cabs.DefaultNone {
		policy = dsa.DefaultNone
	}
	v.ctx.SetDefault(policy, cl.Loc)
	t.Default = policy
	return true
}

var dsaAttrs = map[cabs.ClauseKind]dsa.Attr{
	cabs.ClauseShared:       dsa.Shared,
	cabs.ClausePrivate:      dsa.Private,
	cabs.ClauseFirstprivate: dsa.Firstprivate,
}

func checkDSA(v *Validator, t *Task, c cabs.Clause) bool {
	cl := c.(*cabs.DSAClause)
	if v.taskFunction() {
		v.env.Report(cl.Loc, diag.Unsupported, fmt.Sprintf("'%s' clause on a task function", cl.Which))
		return false
	}
	ok := true
	for _, item := range cl.Items {
		if r := v.dsaItem(item, dsaAttrs[cl.Which]); r.State == region.Failed {
			ok = false
		}
	}
	return ok
}

func (v *Validator) dsaItem(item cabs.Expr, attr dsa.Attr) Result[*cabs.VarDecl] {
	ref, isVar := cabs.StripParens(item).(*cabs.Variable)
	if !isVar {
		v.env.Report(item.Pos(), diag.ExpectedVariable)
		return failed[*cabs.VarDecl]()
	}
	d := v.env.DeclOf(ref)
	if d == nil {
		return failed[*cabs.VarDecl]()
	}
	if cur, ok := v.ctx.CurrentDSA(d); ok && !cur.Implicit {
		if cur.Attr != attr {
			v.env.Report(ref.Loc, diag.WrongDSA, ref.Name, cur.Attr.String(), attr.String())
			return failed[*cabs.VarDecl]()
		}
		v.env.Report(ref.Loc, diag.DuplicateDSA, ref.Name)
		return resolved(d)
	}
	typ := v.env.DeclType(d)
	if attr != dsa.Shared && !ctypes.IsComplete(typ) {
		v.env.Report(ref.Loc, diag.IncompleteType, ref.Name, typ.String())
		return failed[*cabs.VarDecl]()
	}
	v.ctx.AddEntry(d, ref, attr, false, false, dsa.RestrictNone)
	return resolved(d)
}

func checkScalar(v *Validator, t *Task, c cabs.Clause) bool {
	cl := c.(*cabs.ScalarClause)
	r := v.scalar(cl)
	if r.State != region.Resolved {
		return false
	}
	switch cl.Which {
	case cabs.ClauseIf:
		t.If = r.Value
	case cabs.ClauseFinal:
		t.Final = r.Value
	case cabs.ClauseCost:
		t.Cost = r.Value
	case cabs.ClausePriority:
		t.Priority = r.Value
	}
	return true
}

func (v *Validator) scalar(cl *cabs.ScalarClause) Result[cabs.Expr] {
	name := cl.Which.String()
	typ := v.env.TypeOf(cl.Expr)
	if typ == nil {
		return failed[cabs.Expr]()
	}
	typ = ctypes.Decay(typ)
	switch cl.Which {
	case cabs.ClauseIf, cabs.ClauseFinal:
		if !ctypes.IsScalar(typ) {
			v.env.Report(cl.Expr.Pos(), diag.ClauseNotScalar, name, typ.String())
			return failed[cabs.Expr]()
		}
		return resolved(cl.Expr)
	}
	if ctypes.IsFloat(typ) {
		v.env.Report(cl.Expr.Pos(), diag.ClauseFloatingTypeArg, name, typ.String())
		return failed[cabs.Expr]()
	}
	if !ctypes.IsInteger(typ) {
		v.env.Report(cl.Expr.Pos(), diag.ClauseNotIntegral, name, typ.String())
		return failed[cabs.Expr]()
	}
	if cl.Which == cabs.ClauseCost {
		if n, ok := v.env.ConstValue(cl.Expr); ok && n < 0 {
			v.env.Report(cl.Expr.Pos(), diag.NegativeExpressionInClause, name)
			return failed[cabs.Expr]()
		}
	}
	return resolved(v.convert(cl.Expr, ctypes.Int()))
}

// convert casts e to t unless it already has that type
func (v *Validator) convert(e cabs.Expr, t ctypes.Type) cabs.Expr {
	if ctypes.Equal(ctypes.Unqual(v.env.TypeOf(e)), t) {
		return e
	}
	c := &cabs.Cast{Type: &cabs.TypeName{Type: &cabs.BuiltinType{Type: t}, Loc: e.Pos()}, Expr: e, Loc: e.Pos()}
	v.env.SetType(c, t)
	return c
}

func checkLabel(v *Validator, t *Task, c cabs.Clause) bool {
	t.Label = c.(*cabs.LabelClause).Text
	return true
}
