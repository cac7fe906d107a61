// Package dsa tracks the data-sharing attributes of the variables used by
// task constructs. A Stack holds one scope per task being checked; a
// Context walks task bodies and clause items to infer implicit attributes.
package dsa

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
)

// Attr is a data-sharing attribute
type Attr int

const (
	Unknown Attr = iota
	Shared
	Private
	Firstprivate
)

func (a Attr) String() string {
	switch a {
	case Shared:
		return "shared"
	case Private:
		return "private"
	case Firstprivate:
		return "firstprivate"
	}
	return "unknown"
}

// Restrict remembers which clause family already used a variable, to
// reject dependencies and reductions over the same variable
type Restrict int

const (
	RestrictNone Restrict = iota
	RestrictDepend
	RestrictReduction
)

// Default is the policy set by default()
type Default int

const (
	DefaultUnspecified Default = iota
	DefaultNone
	DefaultShared
)

// Directive is the kind of construct owning a scope
type Directive int

const (
	DirTask Directive = iota
	DirTaskFunction
)

// Entry is the attribute of one variable in one scope
type Entry struct {
	Decl     *cabs.VarDecl
	Attr     Attr
	Ref      cabs.Expr // expression that caused the entry
	Implicit bool
	Ignore   bool // recorded only to avoid classifying or diagnosing twice
	Restrict Restrict
}

// Scope is the attribute table of one construct
type Scope struct {
	Directive  Directive
	Stmt       cabs.Stmt
	Loc        cabs.Loc
	Default    Default
	DefaultLoc cabs.Loc

	entries map[*cabs.VarDecl]*Entry
	order   []*cabs.VarDecl
	sawThis bool
}

// Entries returns the entries of the scope in insertion order
func (s *Scope) Entries() []*Entry {
	out := make([]*Entry, 0, len(s.order))
	for _, d := range s.order {
		out = append(out, s.entries[d])
	}
	return out
}

// Stack is the LIFO of scopes of the constructs being checked. It belongs
// to one function's analysis.
type Stack struct {
	scopes []*Scope
}

// Push opens the scope of a construct
func (s *Stack) Push(dir Directive, stmt cabs.Stmt, loc cabs.Loc) *Scope {
	sc := &Scope{
		Directive: dir,
		Stmt:      stmt,
		Loc:       loc,
		entries:   map[*cabs.VarDecl]*Entry{},
	}
	s.scopes = append(s.scopes, sc)
	return sc
}

// Pop closes the innermost scope. Popping an empty stack is a bug in the
// caller.
func (s *Stack) Pop() *Scope {
	if len(s.scopes) == 0 {
		panic("dsa: pop of empty data-sharing stack")
	}
	sc := s.scopes[len(s.scopes)-1]
	s.scopes = s.scopes[:len(s.scopes)-1]
	return sc
}

// Depth returns the number of open scopes
func (s *Stack) Depth() int {
	return len(s.scopes)
}

// Top returns the innermost scope, or nil
func (s *Stack) Top() *Scope {
	if len(s.scopes) == 0 {
		return nil
	}
	return s.scopes[len(s.scopes)-1]
}

// AddEntry sets the attribute of decl in the innermost scope, replacing
// any previous entry for it
func (s *Stack) AddEntry(decl *cabs.VarDecl, ref cabs.Expr, attr Attr, ignore, implicit bool, restrict Restrict) *Entry {
	top := s.Top()
	if top == nil {
		panic("dsa: add to empty data-sharing stack")
	}
	e, ok := top.entries[decl]
	if !ok {
		e = &Entry{Decl: decl}
		top.entries[decl] = e
		top.order = append(top.order, decl)
	}
	e.Attr = attr
	e.Ref = ref
	e.Ignore = ignore
	e.Implicit = implicit
	e.Restrict = restrict
	return e
}

// CurrentDSA returns the entry of decl in the innermost scope
func (s *Stack) CurrentDSA(decl *cabs.VarDecl) (*Entry, bool) {
	top := s.Top()
	if top == nil {
		return nil, false
	}
	e, ok := top.entries[decl]
	return e, ok
}

// HasDSA returns the entry of decl in the nearest scope that has one,
// provided its attribute satisfies attrPred and the scope's directive
// satisfies dirPred. fromParent skips the innermost scope.
func (s *Stack) HasDSA(decl *cabs.VarDecl, attrPred func(Attr) bool, dirPred func(Directive) bool, fromParent bool) (*Entry, bool) {
	i := len(s.scopes) - 1
	if fromParent {
		i--
	}
	for ; i >= 0; i-- {
		sc := s.scopes[i]
		if !dirPred(sc.Directive) {
			continue
		}
		e, ok := sc.entries[decl]
		if !ok {
			continue
		}
		if attrPred(e.Attr) {
			return e, true
		}
		return nil, false
	}
	return nil, false
}

// TopDSA returns the nearest private or firstprivate entry of decl
func (s *Stack) TopDSA(decl *cabs.VarDecl, fromParent bool) (*Entry, bool) {
	for i := len(s.scopes) - 1 - boolInt(fromParent); i >= 0; i-- {
		if e, ok := s.scopes[i].entries[decl]; ok && e.Attr != Shared && e.Attr != Unknown {
			return e, true
		}
	}
	return nil, false
}

// SetDefault records the default() policy of the innermost scope
func (s *Stack) SetDefault(policy Default, loc cabs.Loc) {
	top := s.Top()
	top.Default = policy
	top.DefaultLoc = loc
}

// CurrentDefault returns the policy of the innermost scope
func (s *Stack) CurrentDefault() Default {
	if top := s.Top(); top != nil {
		return top.Default
	}
	return DefaultUnspecified
}

// MarkThis records a use of the implicit object pointer in the innermost
// scope and reports whether it is the first one. C code has no implicit
// object, so the checker never calls it.
func (s *Stack) MarkThis() bool {
	top := s.Top()
	if top == nil || top.sawThis {
		return false
	}
	top.sawThis = true
	return true
}

// isTask selects the scopes rule 2 inherits from. Both directive kinds
// open a task scope today.
func isTask(d Directive) bool { return d == DirTask || d == DirTaskFunction }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
