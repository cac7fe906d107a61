package cabs

import "strings"

// Clause is one clause of a task pragma
type Clause interface {
	Node
	implClause()
	Kind() ClauseKind
}

// ClauseKind identifies a clause by its spelling
type ClauseKind int

const (
	ClauseShared ClauseKind = iota
	ClausePrivate
	ClauseFirstprivate
	ClauseDefault
	ClauseDepend // depend(kind: list)
	ClauseIn
	ClauseOut
	ClauseInout
	ClauseConcurrent
	ClauseCommutative
	ClauseWeakIn
	ClauseWeakOut
	ClauseWeakInout
	ClauseWeakConcurrent
	ClauseWeakCommutative
	ClauseReduction
	ClauseWeakReduction
	ClauseIf
	ClauseFinal
	ClauseCost
	ClausePriority
	ClauseLabel
)

var clauseNames = []string{
	"shared", "private", "firstprivate", "default", "depend",
	"in", "out", "inout", "concurrent", "commutative",
	"weakin", "weakout", "weakinout", "weakconcurrent", "weakcommutative",
	"reduction", "weakreduction", "if", "final", "cost", "priority", "label",
}

func (k ClauseKind) String() string {
	if int(k) < len(clauseNames) {
		return clauseNames[k]
	}
	return "?"
}

// LookupClause maps a clause keyword to its kind
func LookupClause(name string) (ClauseKind, bool) {
	for i, n := range clauseNames {
		if n == name {
			return ClauseKind(i), true
		}
	}
	return 0, false
}

// DepModifier is a dependency type keyword inside depend()
type DepModifier int

const (
	DepIn DepModifier = iota
	DepOut
	DepInout
	DepInoutset      // concurrent
	DepMutexinoutset // commutative
	DepWeak
)

var depModifierNames = []string{"in", "out", "inout", "inoutset", "mutexinoutset", "weak"}

func (m DepModifier) String() string {
	if int(m) < len(depModifierNames) {
		return depModifierNames[m]
	}
	return "?"
}

// LookupDepModifier maps a depend() modifier keyword
func LookupDepModifier(name string) (DepModifier, bool) {
	for i, n := range depModifierNames {
		if n == name {
			return DepModifier(i), true
		}
	}
	return 0, false
}

// DefaultKind is the argument of default()
type DefaultKind int

const (
	DefaultShared DefaultKind = iota
	DefaultNone
)

func (k DefaultKind) String() string {
	if k == DefaultNone {
		return "none"
	}
	return "shared"
}

// DSAClause is shared(list), private(list) or firstprivate(list)
type DSAClause struct {
	Which ClauseKind
	Items []Expr
	Loc   Loc
}

// DefaultClause is default(none|shared)
type DefaultClause struct {
	Value DefaultKind
	Loc   Loc
}

// DependClause is depend(modifiers: list) or one of the dependency keyword
// clauses (in, out, weakinout, ...). Modifiers is only set for depend().
type DependClause struct {
	Which     ClauseKind
	Modifiers []DepModifier
	Items     []Expr
	Loc       Loc
}

// ReductionClause is reduction(op: list) or weakreduction(op: list). Op is
// the operator spelling or a declared reduction identifier.
type ReductionClause struct {
	Weak  bool
	Op    string
	Items []Expr
	Loc   Loc
}

// ScalarClause is a single-expression clause: if, final, cost, priority
type ScalarClause struct {
	Which ClauseKind
	Expr  Expr
	Loc   Loc
}

// LabelClause is label("text")
type LabelClause struct {
	Text string
	Loc  Loc
}

func (c *DSAClause) Kind() ClauseKind       { return c.Which }
func (c *DefaultClause) Kind() ClauseKind   { return ClauseDefault }
func (c *DependClause) Kind() ClauseKind    { return c.Which }
func (c *ReductionClause) Kind() ClauseKind {
	if c.Weak {
		return ClauseWeakReduction
	}
	return ClauseReduction
}
func (c *ScalarClause) Kind() ClauseKind { return c.Which }
func (c *LabelClause) Kind() ClauseKind  { return ClauseLabel }

func (c *DSAClause) Pos() Loc       { return c.Loc }
func (c *DefaultClause) Pos() Loc   { return c.Loc }
func (c *DependClause) Pos() Loc    { return c.Loc }
func (c *ReductionClause) Pos() Loc { return c.Loc }
func (c *ScalarClause) Pos() Loc    { return c.Loc }
func (c *LabelClause) Pos() Loc     { return c.Loc }

func (*DSAClause) implCabsNode()       {}
func (*DSAClause) implClause()         {}
func (*DefaultClause) implCabsNode()   {}
func (*DefaultClause) implClause()     {}
func (*DependClause) implCabsNode()    {}
func (*DependClause) implClause()      {}
func (*ReductionClause) implCabsNode() {}
func (*ReductionClause) implClause()   {}
func (*ScalarClause) implCabsNode()    {}
func (*ScalarClause) implClause()      {}
func (*LabelClause) implCabsNode()     {}
func (*LabelClause) implClause()       {}

// ModifierString renders the modifiers of a depend() clause
func (c *DependClause) ModifierString() string {
	parts := make([]string, len(c.Modifiers))
	for i, m := range c.Modifiers {
		parts[i] = m.String()
	}
	return strings.Join(parts, ", ")
}
