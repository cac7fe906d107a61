// Package ossclause validates the clauses of task constructs and turns a
// checked construct into a Task: the data-sharing lists, dependencies,
// reductions and scalar clauses code generation consumes.
package ossclause

import (
	"fmt"
	"strings"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/region"
)

// Result is the three-way outcome of validating one clause item
type Result[T any] struct {
	State region.State
	Value T
}

func resolved[T any](v T) Result[T] {
	return Result[T]{State: region.Resolved, Value: v}
}

func deferred[T any](v T) Result[T] {
	return Result[T]{State: region.Deferred, Value: v}
}

func failed[T any]() Result[T] {
	return Result[T]{State: region.Failed}
}

// DepKind is the kind of a dependency
type DepKind int

const (
	DepIn DepKind = iota
	DepOut
	DepInout
	DepConcurrent
	DepCommutative
	DepWeakIn
	DepWeakOut
	DepWeakInout
)

var depKindNames = []string{"IN", "OUT", "INOUT", "CONCURRENT", "COMMUTATIVE", "WEAKIN", "WEAKOUT", "WEAKINOUT"}

// String returns the marker spelling of the kind
func (k DepKind) String() string {
	if int(k) < len(depKindNames) {
		return depKindNames[k]
	}
	return "?"
}

// Weak reports whether the kind only links children
func (k DepKind) Weak() bool {
	return k >= DepWeakIn
}

// ParseDepKind maps a marker spelling back to its kind
func ParseDepKind(s string) (DepKind, bool) {
	for i, n := range depKindNames {
		if n == s {
			return DepKind(i), true
		}
	}
	return 0, false
}

// RedOp is a reduction operator. Values are the runtime operator codes.
type RedOp int

const (
	RedAdd      RedOp = 0
	RedMul      RedOp = 1
	RedAnd      RedOp = 2
	RedOr       RedOp = 3
	RedXor      RedOp = 4
	RedLand     RedOp = 5
	RedLor      RedOp = 6
	RedMax      RedOp = 9
	RedMin      RedOp = 10
	RedDeclared RedOp = -1
)

var redOps = map[string]RedOp{
	"+": RedAdd, "-": RedAdd, "*": RedMul,
	"&": RedAnd, "|": RedOr, "^": RedXor,
	"&&": RedLand, "||": RedLor,
	"max": RedMax, "min": RedMin,
}

// Var is a variable with a data-sharing attribute in a task
type Var struct {
	Decl     *cabs.VarDecl
	Type     ctypes.Type
	Attr     dsa.Attr
	Implicit bool
	// Lifecycle is set for private and firstprivate non-POD variables
	Lifecycle *ctypes.Lifecycle
}

// Dep is one dependency item
type Dep struct {
	Kind   DepKind
	Expr   cabs.Expr
	Region *region.Descriptor // nil while deferred to the call site
	Loc    cabs.Loc
}

// Text is the dependency as written
func (d *Dep) Text() string {
	return cabs.ExprString(d.Expr)
}

// Reduction is one reduction item. Combiner assigns into Out from Out and
// In; Init assigns the neutral value into Priv, or is nil to zero-fill.
type Reduction struct {
	Weak     bool
	Op       RedOp
	OpText   string
	Expr     cabs.Expr
	Region   *region.Descriptor
	Elem     ctypes.Type
	Declared *Declared

	Out, In    *cabs.VarDecl
	Combiner   cabs.Expr
	Priv, Orig *cabs.VarDecl
	Init       cabs.Expr
	Loc        cabs.Loc
}

// Text is the reduction item as written
func (r *Reduction) Text() string {
	return cabs.ExprString(r.Expr)
}

// Task is a validated task construct or task function
type Task struct {
	Loc      cabs.Loc
	Function *cabs.FuncDecl // set for task functions
	Default  dsa.Default

	Shared       []*Var
	Private      []*Var
	Firstprivate []*Var

	Deps       []*Dep
	Reductions []*Reduction

	If       cabs.Expr
	Final    cabs.Expr
	Cost     cabs.Expr
	Priority cabs.Expr
	Label    string

	Failed bool
}

// Vars returns every data-sharing variable: shared, private, firstprivate
func (t *Task) Vars() []*Var {
	out := make([]*Var, 0, len(t.Shared)+len(t.Private)+len(t.Firstprivate))
	out = append(out, t.Shared...)
	out = append(out, t.Private...)
	return append(out, t.Firstprivate...)
}

// HasDeferred reports whether some item waits for call-site extents
func (t *Task) HasDeferred() bool {
	for _, d := range t.Deps {
		if d.Region == nil {
			return true
		}
	}
	for _, r := range t.Reductions {
		if r.Region == nil {
			return true
		}
	}
	return false
}

// String renders the task for analysis dumps
func (t *Task) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "task at %s", t.Loc)
	if t.Function != nil {
		fmt.Fprintf(&sb, " (function %s)", t.Function.Name)
	}
	sb.WriteByte('\n')
	for _, list := range [][]*Var{t.Shared, t.Private, t.Firstprivate} {
		for _, v := range list {
			fmt.Fprintf(&sb, "  %s %s: %s", v.Attr, v.Decl.Name, v.Type)
			if v.Implicit {
				sb.WriteString(" implicit")
			}
			if v.Lifecycle != nil {
				fmt.Fprintf(&sb, " lifecycle(%s, %s, %s)", v.Lifecycle.Ctor, v.Lifecycle.Dtor, v.Lifecycle.Copy)
			}
			sb.WriteByte('\n')
		}
	}
	for _, d := range t.Deps {
		if d.Region == nil {
			fmt.Fprintf(&sb, "  dep %s %s: deferred\n", d.Kind, d.Text())
			continue
		}
		fmt.Fprintf(&sb, "  dep %s %s: %s\n", d.Kind, d.Text(), d.Region)
	}
	for _, r := range t.Reductions {
		fmt.Fprintf(&sb, "  reduction(%s) %s: %s\n", r.OpText, r.Text(), r.Elem)
	}
	for _, s := range []struct {
		name string
		e    cabs.Expr
	}{{"if", t.If}, {"final", t.Final}, {"cost", t.Cost}, {"priority", t.Priority}} {
		if s.e != nil {
			fmt.Fprintf(&sb, "  %s(%s)\n", s.name, cabs.ExprString(s.e))
		}
	}
	if t.Label != "" {
		fmt.Fprintf(&sb, "  label %q\n", t.Label)
	}
	return sb.String()
}
