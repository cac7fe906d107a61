package ossclause

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/region"
)

// keywordKinds maps the OmpSs dependency clauses to their kind
var keywordKinds = map[cabs.ClauseKind]DepKind{
	cabs.ClauseIn:          DepIn,
	cabs.ClauseOut:         DepOut,
	cabs.ClauseInout:       DepInout,
	cabs.ClauseConcurrent:  DepConcurrent,
	cabs.ClauseCommutative: DepCommutative,
	cabs.ClauseWeakIn:      DepWeakIn,
	cabs.ClauseWeakOut:     DepWeakOut,
	cabs.ClauseWeakInout:   DepWeakInout,
}

// strong maps a non-weak depend() modifier to its kind
var strong = map[cabs.DepModifier]DepKind{
	cabs.DepIn:            DepIn,
	cabs.DepOut:           DepOut,
	cabs.DepInout:         DepInout,
	cabs.DepInoutset:      DepConcurrent,
	cabs.DepMutexinoutset: DepCommutative,
}

// DependKind computes the dependency kind of a clause. It reports the
// problem and returns false for illegal combinations.
func DependKind(sink diag.Sink, c *cabs.DependClause) (DepKind, bool) {
	if c.Which != cabs.ClauseDepend {
		switch c.Which {
		case cabs.ClauseWeakConcurrent:
			sink.Report(c.Loc, diag.DependNoWeakCompatible, "inoutset")
			return 0, false
		case cabs.ClauseWeakCommutative:
			sink.Report(c.Loc, diag.DependNoWeakCompatible, "mutexinoutset")
			return 0, false
		}
		return keywordKinds[c.Which], true
	}

	weak := 0
	var kinds []cabs.DepModifier
	for _, m := range c.Modifiers {
		if m == cabs.DepWeak {
			weak++
			continue
		}
		kinds = append(kinds, m)
	}
	switch {
	case weak > 1:
		sink.Report(c.Loc, diag.DependKindConflict, "weak", "weak")
		return 0, false
	case len(kinds) > 1:
		sink.Report(c.Loc, diag.DependKindConflict, kinds[0].String(), kinds[1].String())
		return 0, false
	case len(kinds) == 0:
		sink.Report(c.Loc, diag.DependWeakAlone)
		return 0, false
	}
	k := strong[kinds[0]]
	if weak == 0 {
		return k, true
	}
	switch k {
	case DepIn:
		return DepWeakIn, true
	case DepOut:
		return DepWeakOut, true
	case DepInout:
		return DepWeakInout, true
	}
	sink.Report(c.Loc, diag.DependNoWeakCompatible, kinds[0].String())
	return 0, false
}

func checkDepend(v *Validator, t *Task, c cabs.Clause) bool {
	cl := c.(*cabs.DependClause)
	kind, ok := DependKind(v.env, cl)
	if !ok {
		return false
	}
	for _, item := range cl.Items {
		r := v.depItem(cl, kind, item)
		switch r.State {
		case region.Failed:
			ok = false
		default:
			t.Deps = append(t.Deps, r.Value)
		}
	}
	return ok
}

func (v *Validator) depItem(cl *cabs.DependClause, kind DepKind, item cabs.Expr) Result[*Dep] {
	if cl.Which == cabs.ClauseDepend {
		if s := semicolonSection(item); s != nil {
			v.env.Report(s.Loc, diag.SectionInvalidForm)
			return failed[*Dep]()
		}
	}
	if v.taskFunction() && !derefOrArrayItem(item) {
		v.env.Report(item.Pos(), diag.ExpectedDereferenceOrArrayItem)
		return failed[*Dep]()
	}
	r := v.regions.Build(item)
	if r.State == region.Failed {
		return failed[*Dep]()
	}
	if !v.ctx.WalkClauseItem(item, dsa.RestrictDepend) {
		return failed[*Dep]()
	}
	d := &Dep{Kind: kind, Expr: item, Loc: item.Pos()}
	if r.State == region.Deferred {
		return deferred(d)
	}
	d.Region = r.Desc
	return resolved(d)
}

// semicolonSection finds a [lower;length] section in the subscript chain
// of a dependency item
func semicolonSection(e cabs.Expr) *cabs.Section {
	for {
		switch ex := cabs.StripParens(e).(type) {
		case *cabs.Section:
			if ex.Semicolon {
				return ex
			}
			e = ex.Array
		case *cabs.Index:
			e = ex.Array
		case *cabs.Shape:
			e = ex.Expr
		default:
			return nil
		}
	}
}

// derefOrArrayItem reports whether a task function dependency names memory
// reached through a parameter rather than the parameter itself
func derefOrArrayItem(e cabs.Expr) bool {
	switch ex := cabs.StripParens(e).(type) {
	case *cabs.Unary:
		return ex.Op == cabs.OpDeref
	case *cabs.Index, *cabs.Section, *cabs.Shape:
		return true
	case *cabs.Member:
		return ex.Arrow
	}
	return false
}
