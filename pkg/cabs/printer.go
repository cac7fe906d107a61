// Package cabs provides AST printing functionality
package cabs

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/raymyers/ralph-oss/pkg/ctypes"
)

// Printer outputs the AST as C source
type Printer struct {
	w      io.Writer
	indent int
}

// NewPrinter creates a new AST printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, indent: 0}
}

// PrintProgram prints a complete program
func (p *Printer) PrintProgram(prog *Program) {
	for _, def := range prog.Definitions {
		p.printDefinition(def)
		fmt.Fprintln(p.w)
	}
}

func (p *Printer) writeIndent() {
	fmt.Fprint(p.w, strings.Repeat("  ", p.indent))
}

func (p *Printer) printDefinition(def Definition) {
	switch d := def.(type) {
	case *FuncDecl:
		p.printFuncDecl(d)
	case *GlobalDecl:
		for _, s := range d.Structs {
			p.printStructDef(s)
			fmt.Fprintln(p.w, ";")
		}
		for _, v := range d.Decls {
			p.printVarDecl(v)
			fmt.Fprintln(p.w, ";")
		}
	case *DeclareReduction:
		p.printDeclareReduction(d)
	default:
		fmt.Fprintf(p.w, "/* unknown definition %T */\n", def)
	}
}

func (p *Printer) printFuncDecl(f *FuncDecl) {
	if f.Task != nil {
		fmt.Fprintf(p.w, "#pragma oss task%s\n", ClausesString(f.Task.Clauses))
	}
	if f.Storage == StorageStatic {
		fmt.Fprint(p.w, "static ")
	}
	fmt.Fprint(p.w, DeclString(f.Type, f.Name))
	if f.Body == nil {
		fmt.Fprintln(p.w, ";")
		return
	}
	fmt.Fprintln(p.w)
	p.printBlock(f.Body)
}

func (p *Printer) printStructDef(s *StructDef) {
	kw := "struct"
	if s.Union {
		kw = "union"
	}
	fmt.Fprintf(p.w, "%s %s {\n", kw, s.Name)
	p.indent++
	for _, f := range s.Fields {
		p.writeIndent()
		fmt.Fprintf(p.w, "%s;\n", DeclString(f.Type, f.Name))
	}
	p.indent--
	p.writeIndent()
	fmt.Fprint(p.w, "}")
	if lc := s.Lifecycle; lc != nil {
		fmt.Fprintf(p.w, " __attribute__((oss_lifecycle(%s, %s, %s)))", lc.Ctor, lc.Dtor, lc.Copy)
	}
}

func (p *Printer) printVarDecl(v *VarDecl) {
	switch v.Storage {
	case StorageTypedef:
		fmt.Fprint(p.w, "typedef ")
	case StorageStatic:
		fmt.Fprint(p.w, "static ")
	case StorageExtern:
		fmt.Fprint(p.w, "extern ")
	case StorageRegister:
		fmt.Fprint(p.w, "register ")
	}
	fmt.Fprint(p.w, DeclString(v.Type, v.Name))
	if v.Init != nil {
		fmt.Fprintf(p.w, " = %s", ExprString(v.Init))
	}
}

func (p *Printer) printDeclareReduction(d *DeclareReduction) {
	types := make([]string, len(d.Types))
	for i, t := range d.Types {
		types[i] = DeclString(t.Type, "")
	}
	fmt.Fprintf(p.w, "#pragma oss declare reduction(%s : %s : %s)", d.Name, strings.Join(types, ", "), ExprString(d.Combiner))
	if d.Initializer != nil {
		if d.InitIsCall {
			fmt.Fprintf(p.w, " initializer(%s)", ExprString(d.Initializer))
		} else {
			fmt.Fprintf(p.w, " initializer(omp_priv = %s)", ExprString(d.Initializer))
		}
	}
	fmt.Fprintln(p.w)
}

func (p *Printer) printBlock(b *Block) {
	p.writeIndent()
	fmt.Fprintln(p.w, "{")
	p.indent++
	for _, s := range b.Items {
		p.printStmt(s)
	}
	p.indent--
	p.writeIndent()
	fmt.Fprintln(p.w, "}")
}

// printSub prints a nested statement, indenting it unless it is a block
func (p *Printer) printSub(s Stmt) {
	if b, ok := s.(*Block); ok {
		p.printBlock(b)
		return
	}
	p.indent++
	p.printStmt(s)
	p.indent--
}

func (p *Printer) printStmt(s Stmt) {
	switch st := s.(type) {
	case *Block:
		p.printBlock(st)
	case *DeclStmt:
		for _, sd := range st.Structs {
			p.writeIndent()
			p.printStructDef(sd)
			fmt.Fprintln(p.w, ";")
		}
		for _, d := range st.Decls {
			p.writeIndent()
			p.printVarDecl(d)
			fmt.Fprintln(p.w, ";")
		}
	case *Computation:
		p.writeIndent()
		fmt.Fprintf(p.w, "%s;\n", ExprString(st.Expr))
	case *Return:
		p.writeIndent()
		if st.Expr == nil {
			fmt.Fprintln(p.w, "return;")
		} else {
			fmt.Fprintf(p.w, "return %s;\n", ExprString(st.Expr))
		}
	case *If:
		p.writeIndent()
		fmt.Fprintf(p.w, "if (%s)\n", ExprString(st.Cond))
		p.printSub(st.Then)
		if st.Else != nil {
			p.writeIndent()
			fmt.Fprintln(p.w, "else")
			p.printSub(st.Else)
		}
	case *While:
		p.writeIndent()
		fmt.Fprintf(p.w, "while (%s)\n", ExprString(st.Cond))
		p.printSub(st.Body)
	case *DoWhile:
		p.writeIndent()
		fmt.Fprintln(p.w, "do")
		p.printSub(st.Body)
		p.writeIndent()
		fmt.Fprintf(p.w, "while (%s);\n", ExprString(st.Cond))
	case *For:
		p.writeIndent()
		init := ""
		switch in := st.Init.(type) {
		case *Computation:
			init = ExprString(in.Expr)
		case *DeclStmt:
			parts := make([]string, len(in.Decls))
			for i, d := range in.Decls {
				parts[i] = DeclString(d.Type, d.Name)
				if d.Init != nil {
					parts[i] += " = " + ExprString(d.Init)
				}
			}
			init = strings.Join(parts, ", ")
		}
		fmt.Fprintf(p.w, "for (%s; %s; %s)\n", init, optExpr(st.Cond), optExpr(st.Step))
		p.printSub(st.Body)
	case *Break:
		p.writeIndent()
		fmt.Fprintln(p.w, "break;")
	case *Continue:
		p.writeIndent()
		fmt.Fprintln(p.w, "continue;")
	case *Empty:
		p.writeIndent()
		fmt.Fprintln(p.w, ";")
	case *TaskStmt:
		p.writeIndent()
		fmt.Fprintf(p.w, "#pragma oss task%s\n", ClausesString(st.Clauses))
		p.printSub(st.Body)
	case *TaskwaitStmt:
		p.writeIndent()
		fmt.Fprintln(p.w, "#pragma oss taskwait")
	default:
		p.writeIndent()
		fmt.Fprintf(p.w, "/* unknown statement %T */\n", s)
	}
}

func optExpr(e Expr) string {
	if e == nil {
		return ""
	}
	return ExprString(e)
}

// ClausesString renders a clause list with a leading space per clause
func ClausesString(clauses []Clause) string {
	var sb strings.Builder
	for _, c := range clauses {
		sb.WriteByte(' ')
		sb.WriteString(ClauseString(c))
	}
	return sb.String()
}

// ClauseString renders one clause
func ClauseString(c Clause) string {
	switch cl := c.(type) {
	case *DSAClause:
		return fmt.Sprintf("%s(%s)", cl.Which, exprList(cl.Items))
	case *DefaultClause:
		return fmt.Sprintf("default(%s)", cl.Value)
	case *DependClause:
		if cl.Which == ClauseDepend {
			return fmt.Sprintf("depend(%s: %s)", cl.ModifierString(), exprList(cl.Items))
		}
		return fmt.Sprintf("%s(%s)", cl.Which, exprList(cl.Items))
	case *ReductionClause:
		return fmt.Sprintf("%s(%s: %s)", cl.Kind(), cl.Op, exprList(cl.Items))
	case *ScalarClause:
		return fmt.Sprintf("%s(%s)", cl.Which, ExprString(cl.Expr))
	case *LabelClause:
		return fmt.Sprintf("label(%s)", strconv.Quote(cl.Text))
	}
	return "?"
}

func exprList(items []Expr) string {
	parts := make([]string, len(items))
	for i, e := range items {
		parts[i] = ExprString(e)
	}
	return strings.Join(parts, ", ")
}

// ExprString renders an expression as C source
func ExprString(e Expr) string {
	switch ex := e.(type) {
	case nil:
		return ""
	case *Constant:
		if ex.Text != "" {
			return ex.Text
		}
		return strconv.FormatInt(ex.Value, 10)
	case *FloatConst:
		if ex.Text != "" {
			return ex.Text
		}
		return strconv.FormatFloat(ex.Value, 'g', -1, 64)
	case *CharConst:
		if ex.Text != "" {
			return ex.Text
		}
		return strconv.QuoteRune(rune(ex.Value))
	case *StringLit:
		return strconv.Quote(ex.Value)
	case *Variable:
		return ex.Name
	case *Paren:
		return "(" + ExprString(ex.Expr) + ")"
	case *Unary:
		if ex.Op.IsPostfix() {
			return ExprString(ex.Expr) + ex.Op.String()
		}
		return ex.Op.String() + ExprString(ex.Expr)
	case *Binary:
		if ex.Op == OpComma {
			return ExprString(ex.Left) + ", " + ExprString(ex.Right)
		}
		return ExprString(ex.Left) + " " + ex.Op.String() + " " + ExprString(ex.Right)
	case *Assign:
		op := "="
		if ex.Op != OpAssign {
			op = ex.Op.String() + "="
		}
		return ExprString(ex.Left) + " " + op + " " + ExprString(ex.Right)
	case *Conditional:
		return ExprString(ex.Cond) + " ? " + ExprString(ex.Then) + " : " + ExprString(ex.Else)
	case *Call:
		return ExprString(ex.Func) + "(" + exprList(ex.Args) + ")"
	case *Index:
		return ExprString(ex.Array) + "[" + ExprString(ex.Index) + "]"
	case *Member:
		if ex.Arrow {
			return ExprString(ex.Expr) + "->" + ex.Name
		}
		return ExprString(ex.Expr) + "." + ex.Name
	case *Cast:
		return "(" + DeclString(ex.Type.Type, "") + ")" + ExprString(ex.Expr)
	case *SizeofExpr:
		return "sizeof " + ExprString(ex.Expr)
	case *SizeofType:
		return "sizeof(" + DeclString(ex.Type.Type, "") + ")"
	case *Section:
		sep := ":"
		if ex.Semicolon {
			sep = ";"
		}
		return ExprString(ex.Array) + "[" + optExpr(ex.Lower) + sep + optExpr(ex.Bound) + "]"
	case *Shape:
		var sb strings.Builder
		for _, d := range ex.Dims {
			sb.WriteString("[" + ExprString(d) + "]")
		}
		return sb.String() + ExprString(ex.Expr)
	case *VLASize:
		if ex.Dim < len(ex.Decl.VLASizes) {
			return ExprString(ex.Decl.VLASizes[ex.Dim])
		}
		return fmt.Sprintf("__vla_dim%d(%s)", ex.Dim, ex.Decl.Name)
	}
	return fmt.Sprintf("/* %T */", e)
}

// DeclString renders a declarator of type t around name
func DeclString(t TypeExpr, name string) string {
	base, decl := splitDeclarator(t, name)
	if decl == "" {
		return base
	}
	return base + " " + decl
}

func splitDeclarator(t TypeExpr, inner string) (string, string) {
	switch tt := t.(type) {
	case *BuiltinType:
		return builtinName(tt.Type), inner
	case *NamedType:
		return tt.Name, inner
	case *TagType:
		kw := "struct "
		if tt.Union {
			kw = "union "
		}
		return kw + tt.Name, inner
	case *ConstType:
		base, decl := splitDeclarator(tt.Elem, inner)
		return "const " + base, decl
	case *PointerType:
		s := "*"
		if tt.Const {
			s += "const "
		}
		s += inner
		if _, ok := tt.Elem.(*ArrayType); ok {
			s = "(" + s + ")"
		} else if _, ok := tt.Elem.(*FuncType); ok {
			s = "(" + s + ")"
		}
		return splitDeclarator(tt.Elem, s)
	case *ArrayType:
		return splitDeclarator(tt.Elem, inner+"["+optExpr(tt.Size)+"]")
	case *FuncType:
		params := make([]string, 0, len(tt.Params)+1)
		for _, prm := range tt.Params {
			params = append(params, DeclString(prm.Type, prm.Name))
		}
		if tt.Variadic {
			params = append(params, "...")
		}
		if len(params) == 0 {
			params = append(params, "void")
		}
		return splitDeclarator(tt.Return, inner+"("+strings.Join(params, ", ")+")")
	}
	return "?", inner
}

func builtinName(t ctypes.Type) string {
	if t == nil {
		return "int"
	}
	return t.String()
}
