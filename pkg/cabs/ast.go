// Package cabs defines the abstract syntax tree for C extended with task
// pragmas. Nodes are pointers so that analyses can key maps on them.
package cabs

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/ctypes"
)

// Loc is a source position
type Loc struct {
	Line int
	Col  int
}

func (l Loc) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Col)
}

// Node is the base interface for all AST nodes
type Node interface {
	implCabsNode()
	Pos() Loc
}

// Expr is the interface for all expression nodes
type Expr interface {
	Node
	implCabsExpr()
}

// Stmt is the interface for all statement nodes
type Stmt interface {
	Node
	implCabsStmt()
}

// Definition is the interface for top-level definitions
type Definition interface {
	Node
	implDefinition()
}

// Decl is a named entity an identifier can refer to
type Decl interface {
	Node
	DeclName() string
}

// BinaryOp represents binary operators
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLt
	OpLe
	OpGt
	OpGe
	OpEq
	OpNe
	OpAnd // &&
	OpOr  // ||
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl // <<
	OpShr // >>
	OpAssign
	OpComma
)

func (op BinaryOp) String() string {
	names := []string{"+", "-", "*", "/", "%", "<", "<=", ">", ">=", "==", "!=", "&&", "||", "&", "|", "^", "<<", ">>", "=", ","}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// IsComparison reports whether op yields a truth value from two operands
func (op BinaryOp) IsComparison() bool {
	return op >= OpLt && op <= OpNe
}

// UnaryOp represents unary operators
type UnaryOp int

const (
	OpNeg    UnaryOp = iota // -
	OpNot                   // !
	OpBitNot                // ~
	OpPlus                  // +
	OpDeref                 // *
	OpAddrOf                // &
	OpPreInc                // ++x
	OpPreDec                // --x
	OpPostInc               // x++
	OpPostDec               // x--
)

func (op UnaryOp) String() string {
	names := []string{"-", "!", "~", "+", "*", "&", "++", "--", "++", "--"}
	if int(op) < len(names) {
		return names[op]
	}
	return "?"
}

// IsPostfix reports whether op is written after its operand
func (op UnaryOp) IsPostfix() bool {
	return op == OpPostInc || op == OpPostDec
}

// Storage is a declaration's storage class
type Storage int

const (
	StorageDefault Storage = iota
	StorageStatic
	StorageExtern
	StorageRegister
	StorageTypedef
)

// Constant represents an integer constant
type Constant struct {
	Value    int64
	Text     string
	Unsigned bool
	Long     bool
	Loc      Loc
}

// FloatConst represents a floating constant
type FloatConst struct {
	Value  float64
	Text   string
	Single bool
	Loc    Loc
}

// CharConst represents a character constant
type CharConst struct {
	Value int64
	Text  string
	Loc   Loc
}

// StringLit represents a string literal (escapes already decoded)
type StringLit struct {
	Value string
	Loc   Loc
}

// Variable represents an identifier expression
type Variable struct {
	Name string
	Loc  Loc
}

// Unary represents a unary expression
type Unary struct {
	Op   UnaryOp
	Expr Expr
	Loc  Loc
}

// Binary represents a binary expression
type Binary struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	Loc   Loc
}

// Assign represents plain and compound assignment; Op is OpAssign for "="
type Assign struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	Loc   Loc
}

// Paren represents a parenthesized expression
type Paren struct {
	Expr Expr
	Loc  Loc
}

// Conditional represents the ternary operator: cond ? then : else
type Conditional struct {
	Cond Expr
	Then Expr
	Else Expr
	Loc  Loc
}

// Call represents a function call
type Call struct {
	Func Expr
	Args []Expr
	Loc  Loc
}

// Index represents array subscript access: arr[idx]
type Index struct {
	Array Expr
	Index Expr
	Loc   Loc
}

// Member represents field access: x.f or p->f
type Member struct {
	Expr  Expr
	Name  string
	Arrow bool
	Loc   Loc
}

// Cast represents an explicit conversion
type Cast struct {
	Type *TypeName
	Expr Expr
	Loc  Loc
}

// SizeofExpr represents sizeof applied to an expression
type SizeofExpr struct {
	Expr Expr
	Loc  Loc
}

// SizeofType represents sizeof applied to a type name
type SizeofType struct {
	Type *TypeName
	Loc  Loc
}

// SectionForm tells how the second bound of an array section is read
type SectionForm int

const (
	// LengthForm sections are [lower:length] or [lower;length]
	LengthForm SectionForm = iota
	// UpperForm sections are [lower:upper] with an inclusive upper bound
	UpperForm
)

func (f SectionForm) String() string {
	if f == UpperForm {
		return "upper"
	}
	return "length"
}

// Section represents an array section base[lower:bound] in a dependency
// clause. Lower and Bound may be nil. Semicolon is set for the [lower;length]
// spelling.
type Section struct {
	Array     Expr
	Lower     Expr
	Bound     Expr
	Form      SectionForm
	Semicolon bool
	Loc       Loc
}

// Shape represents array shaping [d1][d2]...ptr
type Shape struct {
	Dims []Expr
	Expr Expr
	Loc  Loc
}

// VLASize stands for the runtime extent number Dim of the variable length
// array declared by Decl. It is synthesized by the checker, never parsed.
type VLASize struct {
	Decl *VarDecl
	Dim  int
	Loc  Loc
}

// TypeExpr is the syntax of a type, resolved by the checker
type TypeExpr interface {
	implTypeExpr()
}

// BuiltinType names a base type keyword combination
type BuiltinType struct {
	Type ctypes.Type
}

// NamedType refers to a typedef name
type NamedType struct {
	Name string
}

// TagType refers to struct or union tag, optionally defining it
type TagType struct {
	Union bool
	Name  string
	Def   *StructDef // non-nil when the members are given here
}

// PointerType is a pointer declarator
type PointerType struct {
	Elem  TypeExpr
	Const bool
}

// ArrayType is an array declarator; Size is nil for []
type ArrayType struct {
	Elem TypeExpr
	Size Expr
}

// FuncType is a function declarator
type FuncType struct {
	Return   TypeExpr
	Params   []*VarDecl
	Variadic bool
}

// ConstType is a const-qualified base type
type ConstType struct {
	Elem TypeExpr
}

// TypeName is an abstract declarator used by casts and sizeof
type TypeName struct {
	Type TypeExpr
	Loc  Loc
}

// VarDecl declares an object or parameter. VLASizes lists the extents of
// every variable length array in its declarator, outermost first.
type VarDecl struct {
	Name     string
	Type     TypeExpr
	Init     Expr
	Storage  Storage
	Param    bool
	Global   bool
	VLASizes []Expr
	Loc      Loc
}

// FuncDecl declares or defines a function. Task is non-nil for task
// functions.
type FuncDecl struct {
	Name    string
	Type    *FuncType
	Storage Storage
	Body    *Block
	Task    *TaskPragma
	Loc     Loc
}

// Params returns the declared parameters
func (f *FuncDecl) Params() []*VarDecl {
	return f.Type.Params
}

// StructDef defines the members of a struct or union tag
type StructDef struct {
	Union     bool
	Name      string
	Fields    []*VarDecl
	Lifecycle *LifecycleAttr
	Loc       Loc
}

// LifecycleAttr is __attribute__((oss_lifecycle(ctor, dtor, copy)))
type LifecycleAttr struct {
	Ctor string
	Dtor string
	Copy string
}

// Return represents a return statement
type Return struct {
	Expr Expr // nil for bare return
	Loc  Loc
}

// Block represents a compound statement (block)
type Block struct {
	Items []Stmt
	Loc   Loc
}

// DeclStmt holds the declarations of one declaration statement
type DeclStmt struct {
	Decls   []*VarDecl
	Structs []*StructDef
	Loc     Loc
}

// Computation is an expression statement
type Computation struct {
	Expr Expr
	Loc  Loc
}

// If represents if/else
type If struct {
	Cond Expr
	Then Stmt
	Else Stmt // nil if absent
	Loc  Loc
}

// While represents a while loop
type While struct {
	Cond Expr
	Body Stmt
	Loc  Loc
}

// DoWhile represents a do-while loop
type DoWhile struct {
	Body Stmt
	Cond Expr
	Loc  Loc
}

// For represents a for loop; Init is either a *DeclStmt or a *Computation
type For struct {
	Init Stmt
	Cond Expr
	Step Expr
	Body Stmt
	Loc  Loc
}

// Break represents break
type Break struct {
	Loc Loc
}

// Continue represents continue
type Continue struct {
	Loc Loc
}

// Empty represents ";"
type Empty struct {
	Loc Loc
}

// TaskStmt is "#pragma oss task clauses" applied to a statement
type TaskStmt struct {
	Clauses []Clause
	Body    Stmt
	Loc     Loc
}

// TaskwaitStmt is "#pragma oss taskwait"
type TaskwaitStmt struct {
	Loc Loc
}

// TaskPragma is the clause list of a task function declaration.
// Declarators counts the declarators of the declaration it applies to.
type TaskPragma struct {
	Clauses     []Clause
	Declarators int
	Loc         Loc
}

// GlobalDecl holds file-scope object and typedef declarations and tag
// definitions
type GlobalDecl struct {
	Decls   []*VarDecl
	Structs []*StructDef
	Task    *TaskPragma // misplaced task pragma, diagnosed by the checker
	Loc     Loc
}

// DeclareReduction is "#pragma oss declare reduction(id : types : combiner)
// initializer(omp_priv = expr)".
type DeclareReduction struct {
	Name        string
	Types       []*TypeName
	Combiner    Expr
	Initializer Expr // nil when absent
	InitIsCall  bool // initializer(f(&omp_priv, ...)) rather than omp_priv = e
	Loc         Loc
}

// Program is a translation unit
type Program struct {
	Definitions []Definition
}

// Pos methods
func (e *Constant) Pos() Loc         { return e.Loc }
func (e *FloatConst) Pos() Loc       { return e.Loc }
func (e *CharConst) Pos() Loc        { return e.Loc }
func (e *StringLit) Pos() Loc        { return e.Loc }
func (e *Variable) Pos() Loc         { return e.Loc }
func (e *Unary) Pos() Loc            { return e.Loc }
func (e *Binary) Pos() Loc           { return e.Loc }
func (e *Assign) Pos() Loc           { return e.Loc }
func (e *Paren) Pos() Loc            { return e.Loc }
func (e *Conditional) Pos() Loc      { return e.Loc }
func (e *Call) Pos() Loc             { return e.Loc }
func (e *Index) Pos() Loc            { return e.Loc }
func (e *Member) Pos() Loc           { return e.Loc }
func (e *Cast) Pos() Loc             { return e.Loc }
func (e *SizeofExpr) Pos() Loc       { return e.Loc }
func (e *SizeofType) Pos() Loc       { return e.Loc }
func (e *Section) Pos() Loc          { return e.Loc }
func (e *Shape) Pos() Loc            { return e.Loc }
func (e *VLASize) Pos() Loc          { return e.Loc }
func (d *VarDecl) Pos() Loc          { return d.Loc }
func (d *FuncDecl) Pos() Loc         { return d.Loc }
func (d *StructDef) Pos() Loc        { return d.Loc }
func (s *Return) Pos() Loc           { return s.Loc }
func (s *Block) Pos() Loc            { return s.Loc }
func (s *DeclStmt) Pos() Loc         { return s.Loc }
func (s *Computation) Pos() Loc      { return s.Loc }
func (s *If) Pos() Loc               { return s.Loc }
func (s *While) Pos() Loc            { return s.Loc }
func (s *DoWhile) Pos() Loc          { return s.Loc }
func (s *For) Pos() Loc              { return s.Loc }
func (s *Break) Pos() Loc            { return s.Loc }
func (s *Continue) Pos() Loc         { return s.Loc }
func (s *Empty) Pos() Loc            { return s.Loc }
func (s *TaskStmt) Pos() Loc         { return s.Loc }
func (s *TaskwaitStmt) Pos() Loc     { return s.Loc }
func (d *GlobalDecl) Pos() Loc       { return d.Loc }
func (d *DeclareReduction) Pos() Loc { return d.Loc }

func (d *VarDecl) DeclName() string  { return d.Name }
func (d *FuncDecl) DeclName() string { return d.Name }

// Marker methods for interface implementation
func (*Constant) implCabsNode()    {}
func (*Constant) implCabsExpr()    {}
func (*FloatConst) implCabsNode()  {}
func (*FloatConst) implCabsExpr()  {}
func (*CharConst) implCabsNode()   {}
func (*CharConst) implCabsExpr()   {}
func (*StringLit) implCabsNode()   {}
func (*StringLit) implCabsExpr()   {}
func (*Variable) implCabsNode()    {}
func (*Variable) implCabsExpr()    {}
func (*Unary) implCabsNode()       {}
func (*Unary) implCabsExpr()       {}
func (*Binary) implCabsNode()      {}
func (*Binary) implCabsExpr()      {}
func (*Assign) implCabsNode()      {}
func (*Assign) implCabsExpr()      {}
func (*Paren) implCabsNode()       {}
func (*Paren) implCabsExpr()       {}
func (*Conditional) implCabsNode() {}
func (*Conditional) implCabsExpr() {}
func (*Call) implCabsNode()        {}
func (*Call) implCabsExpr()        {}
func (*Index) implCabsNode()       {}
func (*Index) implCabsExpr()       {}
func (*Member) implCabsNode()      {}
func (*Member) implCabsExpr()      {}
func (*Cast) implCabsNode()        {}
func (*Cast) implCabsExpr()        {}
func (*SizeofExpr) implCabsNode()  {}
func (*SizeofExpr) implCabsExpr()  {}
func (*SizeofType) implCabsNode()  {}
func (*SizeofType) implCabsExpr()  {}
func (*Section) implCabsNode()     {}
func (*Section) implCabsExpr()     {}
func (*Shape) implCabsNode()       {}
func (*Shape) implCabsExpr()       {}
func (*VLASize) implCabsNode()     {}
func (*VLASize) implCabsExpr()     {}

func (*Return) implCabsNode()       {}
func (*Return) implCabsStmt()       {}
func (*Block) implCabsNode()        {}
func (*Block) implCabsStmt()        {}
func (*DeclStmt) implCabsNode()     {}
func (*DeclStmt) implCabsStmt()     {}
func (*Computation) implCabsNode()  {}
func (*Computation) implCabsStmt()  {}
func (*If) implCabsNode()           {}
func (*If) implCabsStmt()           {}
func (*While) implCabsNode()        {}
func (*While) implCabsStmt()        {}
func (*DoWhile) implCabsNode()      {}
func (*DoWhile) implCabsStmt()      {}
func (*For) implCabsNode()          {}
func (*For) implCabsStmt()          {}
func (*Break) implCabsNode()        {}
func (*Break) implCabsStmt()        {}
func (*Continue) implCabsNode()     {}
func (*Continue) implCabsStmt()     {}
func (*Empty) implCabsNode()        {}
func (*Empty) implCabsStmt()        {}
func (*TaskStmt) implCabsNode()     {}
func (*TaskStmt) implCabsStmt()     {}
func (*TaskwaitStmt) implCabsNode() {}
func (*TaskwaitStmt) implCabsStmt() {}

func (*VarDecl) implCabsNode()          {}
func (*FuncDecl) implCabsNode()         {}
func (*FuncDecl) implDefinition()       {}
func (*StructDef) implCabsNode()        {}
func (*GlobalDecl) implCabsNode()       {}
func (*GlobalDecl) implDefinition()     {}
func (*DeclareReduction) implCabsNode() {}
func (*DeclareReduction) implDefinition() {}

func (*BuiltinType) implTypeExpr() {}
func (*NamedType) implTypeExpr()   {}
func (*TagType) implTypeExpr()     {}
func (*PointerType) implTypeExpr() {}
func (*ArrayType) implTypeExpr()   {}
func (*FuncType) implTypeExpr()    {}
func (*ConstType) implTypeExpr()   {}

// StripParens removes any number of enclosing parentheses
func StripParens(e Expr) Expr {
	for {
		p, ok := e.(*Paren)
		if !ok {
			return e
		}
		e = p.Expr
	}
}
