// Package diag defines the diagnostics reported by the checker and the task
// front end. Message text lives only in this package; analyses report a Kind
// plus substitution arguments.
package diag

import (
	"fmt"
	"sort"

	"github.com/raymyers/ralph-oss/pkg/cabs"
)

// Kind identifies one diagnostic rule
type Kind int

const (
	// C front end
	Syntax Kind = iota
	UndeclaredIdentifier
	Redefinition
	UnknownTypeName
	InvalidOperands
	InvalidUnaryOperand
	NotAssignable
	NotCallable
	ArgumentCount
	NoMember
	IncompatibleTypes
	InvalidSubscript
	VoidValue
	InvalidBranch
	BreakOutsideLoop
	NotConstant
	Unsupported

	// task front end
	SectionLengthUnknown
	SectionInvalidForm
	NotDefinedDSAWhenDefaultNone
	MismatchDependDSA
	ReductionDependConflict
	DependNoWeakCompatible
	DependWeakAlone
	DependKindConflict
	WrongDSA
	ExpectedVariable
	UnknownReductionIdentifier
	ReductionWrongType
	ConstVariable
	IncompleteType
	NonPODReduction
	NegativeExpressionInClause
	ClauseNotIntegral
	ClauseFloatingTypeArg
	ClauseNotScalar
	UnexpectedClauseValue
	ExpectedAddressableLvalue
	InvalidShapeBase
	SingleDeclInTask
	FunctionExpected
	NonVoidTask
	NonPODParmTask
	ExpectedDereferenceOrArrayItem
	DeclareReductionRedefinition
	DeclareReductionType

	// warnings
	DuplicateDSA
	TaskwaitInTaskFunction
)

var messages = map[Kind]string{
	Syntax:               "%s",
	UndeclaredIdentifier: "use of undeclared identifier '%s'",
	Redefinition:         "redefinition of '%s'",
	UnknownTypeName:      "unknown type name '%s'",
	InvalidOperands:      "invalid operands to '%s' ('%s' and '%s')",
	InvalidUnaryOperand:  "invalid argument type '%s' to unary '%s'",
	NotAssignable:        "expression is not assignable",
	NotCallable:          "called object type '%s' is not a function or function pointer",
	ArgumentCount:        "too %s arguments to function call, expected %d, have %d",
	NoMember:             "no member named '%s' in '%s'",
	IncompatibleTypes:    "incompatible types: cannot convert '%s' to '%s'",
	InvalidSubscript:     "subscripted value is not an array or pointer",
	VoidValue:            "void value not ignored as it ought to be",
	InvalidBranch:        "invalid branch from task body: '%s' leaves the task",
	BreakOutsideLoop:     "'%s' statement not in loop",
	NotConstant:          "initializer element is not a compile-time constant",
	Unsupported:          "%s is not supported",

	SectionLengthUnknown:           "section length is unspecified and cannot be inferred because subscripted value is not an array",
	SectionInvalidForm:             "'[lower;length]' sections are not allowed in depend clauses",
	NotDefinedDSAWhenDefaultNone:   "variable '%s' must have explicitly specified data sharing attributes",
	MismatchDependDSA:              "the data-sharing attribute of '%s' is '%s', but its use in a dependency requires '%s'",
	ReductionDependConflict:        "variable '%s' cannot appear in both a dependency and a reduction",
	DependNoWeakCompatible:         "dependency type '%s' cannot be combined with 'weak'",
	DependWeakAlone:                "'weak' must be combined with 'in', 'out' or 'inout'",
	DependKindConflict:             "dependency types '%s' and '%s' cannot be combined",
	WrongDSA:                       "'%s' is %s, cannot be %s",
	ExpectedVariable:               "expected variable name",
	UnknownReductionIdentifier:     "incorrect reduction identifier '%s', expected one of '+', '-', '*', '&', '|', '^', '&&', '||', 'min' or 'max' or a declared reduction for type '%s'",
	ReductionWrongType:             "reduction operator '%s' cannot be applied to type '%s'",
	ConstVariable:                  "const-qualified variable '%s' cannot be %s",
	IncompleteType:                 "variable '%s' has incomplete type '%s'",
	NonPODReduction:                "no compatible declared reduction for type '%s'",
	NegativeExpressionInClause:     "argument to '%s' clause must be a non-negative integer value",
	ClauseNotIntegral:              "expression in '%s' clause must have integral type, not '%s'",
	ClauseFloatingTypeArg:          "argument of '%s' clause has floating type '%s'",
	ClauseNotScalar:                "expression in '%s' clause must have scalar type, not '%s'",
	UnexpectedClauseValue:          "directive '#pragma oss task' cannot contain more than one '%s' clause",
	ExpectedAddressableLvalue:      "expected addressable lvalue expression, array element, array section or array shape",
	InvalidShapeBase:               "shape expression base must be a pointer, not '%s'",
	SingleDeclInTask:               "single declaration is expected after '#pragma oss task'",
	FunctionExpected:               "'#pragma oss task' can only be applied to functions",
	NonVoidTask:                    "task function '%s' must return void",
	NonPODParmTask:                 "parameter '%s' of task function has non-POD type '%s'",
	ExpectedDereferenceOrArrayItem: "expected dereference or array item expression",
	DeclareReductionRedefinition:   "redefinition of declared reduction '%s' for type '%s'",
	DeclareReductionType:           "declared reduction type cannot be '%s'",

	DuplicateDSA:           "variable '%s' is listed more than once in data-sharing clauses",
	TaskwaitInTaskFunction: "taskwait inside task function '%s' only waits for its own children",
}

var warnings = map[Kind]bool{
	DuplicateDSA:           true,
	TaskwaitInTaskFunction: true,
}

// IsWarning reports whether diagnostics of kind k do not fail compilation
func (k Kind) IsWarning() bool {
	return warnings[k]
}

// Category groups kinds for display banners
func (k Kind) Category() string {
	switch {
	case k == Syntax:
		return "Syntax"
	case k < SectionLengthUnknown:
		return "Type"
	case k >= DuplicateDSA:
		return "Task"
	case k == SectionLengthUnknown || k == SectionInvalidForm || k == ExpectedAddressableLvalue ||
		k == InvalidShapeBase || k == ExpectedDereferenceOrArrayItem:
		return "Dependency"
	case k >= NotDefinedDSAWhenDefaultNone && k <= ExpectedVariable:
		return "Data-sharing"
	case k >= UnknownReductionIdentifier && k <= NonPODReduction,
		k == DeclareReductionRedefinition, k == DeclareReductionType:
		return "Reduction"
	}
	return "Task"
}

// Sink receives diagnostics
type Sink interface {
	Report(loc cabs.Loc, kind Kind, args ...any)
}

// Diagnostic is one reported problem
type Diagnostic struct {
	Loc  cabs.Loc
	Kind Kind
	Args []any
}

// Message renders the diagnostic text
func (d Diagnostic) Message() string {
	format, ok := messages[d.Kind]
	if !ok {
		return fmt.Sprintf("diagnostic %d", d.Kind)
	}
	return fmt.Sprintf(format, d.Args...)
}

func (d Diagnostic) String() string {
	sev := "error"
	if d.Kind.IsWarning() {
		sev = "warning"
	}
	return fmt.Sprintf("%s: %s: %s", d.Loc, sev, d.Message())
}

// List collects diagnostics in report order
type List struct {
	Diags []Diagnostic
}

// Report implements Sink
func (l *List) Report(loc cabs.Loc, kind Kind, args ...any) {
	l.Diags = append(l.Diags, Diagnostic{Loc: loc, Kind: kind, Args: args})
}

// ErrorCount returns the number of non-warning diagnostics
func (l *List) ErrorCount() int {
	n := 0
	for _, d := range l.Diags {
		if !d.Kind.IsWarning() {
			n++
		}
	}
	return n
}

// HasErrors reports whether any error was reported
func (l *List) HasErrors() bool {
	return l.ErrorCount() > 0
}

// Count returns how many diagnostics of kind k were reported
func (l *List) Count(k Kind) int {
	n := 0
	for _, d := range l.Diags {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// Sorted returns the diagnostics ordered by source position
func (l *List) Sorted() []Diagnostic {
	out := append([]Diagnostic(nil), l.Diags...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Loc.Line != out[j].Loc.Line {
			return out[i].Loc.Line < out[j].Loc.Line
		}
		return out[i].Loc.Col < out[j].Loc.Col
	})
	return out
}
