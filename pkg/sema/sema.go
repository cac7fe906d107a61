// Package sema type-checks a translation unit and runs the task front end
// on every task construct: data-sharing inference, clause validation and
// dependency regions. Its result is the Info code generation reads.
package sema

import (
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/dsa"
	"github.com/raymyers/ralph-oss/pkg/ossclause"
)

// Info is everything the checker learned about a translation unit
type Info struct {
	Types     map[cabs.Expr]ctypes.Type
	Decls     map[*cabs.Variable]cabs.Decl
	DeclTypes map[*cabs.VarDecl]ctypes.Type
	TypeNames map[*cabs.TypeName]ctypes.Type

	// Funcs maps a function name to its signature and the decl that
	// defines it, or the first that declares it
	Funcs map[string]*Func

	Tasks      map[*cabs.TaskStmt]*ossclause.Task
	TaskFuncs  map[string]*ossclause.Task
	TaskCalls  map[*cabs.Call]*TaskCall
	Reductions *ossclause.Registry
}

// Func is a declared function
type Func struct {
	Decl *cabs.FuncDecl
	Type ctypes.Tfunction
}

// TaskCall is a call to a task function. Each argument is stored in a
// call_arg temporary; Params[i] is evaluated as Args[i] inside Task.
type TaskCall struct {
	Call   *cabs.Call
	Func   *cabs.FuncDecl
	Task   *ossclause.Task
	Params []*cabs.VarDecl
	Args   []*cabs.VarDecl
}

// TypeOf returns the checked type of e
func (in *Info) TypeOf(e cabs.Expr) ctypes.Type {
	return in.Types[e]
}

// VarOf returns the object a variable reference names, nil for functions
func (in *Info) VarOf(v *cabs.Variable) *cabs.VarDecl {
	d, _ := in.Decls[v].(*cabs.VarDecl)
	return d
}

// DeclType returns the resolved type of a declaration
func (in *Info) DeclType(d *cabs.VarDecl) ctypes.Type {
	return in.DeclTypes[d]
}

type scope struct {
	names  map[string]cabs.Decl
	tags   map[string]ctypes.Type
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{names: map[string]cabs.Decl{}, tags: map[string]ctypes.Type{}, parent: parent}
}

func (s *scope) lookup(name string) cabs.Decl {
	for ; s != nil; s = s.parent {
		if d, ok := s.names[name]; ok {
			return d
		}
	}
	return nil
}

func (s *scope) lookupTag(name string) ctypes.Type {
	for ; s != nil; s = s.parent {
		if t, ok := s.tags[name]; ok {
			return t
		}
	}
	return nil
}

// checker holds the state of one translation unit
type checker struct {
	sink diag.Sink
	info *Info

	file  *scope
	scope *scope
	defs  map[*cabs.StructDef]ctypes.Type

	// per function
	fn      *cabs.FuncDecl
	ret     ctypes.Type
	ctx     *dsa.Context
	val     *ossclause.Validator
	loops   int
	inTask  int
	deferOn bool
}

// Check type-checks prog, reporting problems to sink
func Check(prog *cabs.Program, sink diag.Sink) *Info {
	c := &checker{
		sink: sink,
		info: &Info{
			Types:      map[cabs.Expr]ctypes.Type{},
			Decls:      map[*cabs.Variable]cabs.Decl{},
			DeclTypes:  map[*cabs.VarDecl]ctypes.Type{},
			TypeNames:  map[*cabs.TypeName]ctypes.Type{},
			Funcs:      map[string]*Func{},
			Tasks:      map[*cabs.TaskStmt]*ossclause.Task{},
			TaskFuncs:  map[string]*ossclause.Task{},
			TaskCalls:  map[*cabs.Call]*TaskCall{},
			Reductions: &ossclause.Registry{},
		},
	}
	c.defs = map[*cabs.StructDef]ctypes.Type{}
	c.file = newScope(nil)
	c.scope = c.file
	for _, def := range prog.Definitions {
		switch d := def.(type) {
		case *cabs.GlobalDecl:
			c.globalDecl(d)
		case *cabs.FuncDecl:
			c.funcDecl(d)
		case *cabs.DeclareReduction:
			c.declareReduction(d)
		}
	}
	return c.info
}

func (c *checker) push() { c.scope = newScope(c.scope) }
func (c *checker) pop()  { c.scope = c.scope.parent }

func (c *checker) declare(name string, d cabs.Decl, loc cabs.Loc) {
	if name == "" {
		return
	}
	if prev, ok := c.scope.names[name]; ok && !c.compatibleRedecl(prev, d) {
		c.sink.Report(loc, diag.Redefinition, name)
	}
	c.scope.names[name] = d
}

// compatibleRedecl allows repeated file-scope declarations of the same
// function or extern object
func (c *checker) compatibleRedecl(prev, d cabs.Decl) bool {
	if c.scope != c.file {
		return false
	}
	switch p := prev.(type) {
	case *cabs.FuncDecl:
		nd, ok := d.(*cabs.FuncDecl)
		return ok && (p.Body == nil || nd.Body == nil)
	case *cabs.VarDecl:
		nd, ok := d.(*cabs.VarDecl)
		return ok && (p.Storage == cabs.StorageExtern || nd.Storage == cabs.StorageExtern)
	}
	return false
}

// The checker is the environment of the task front end.

// Report implements diag.Sink
func (c *checker) Report(loc cabs.Loc, kind diag.Kind, args ...any) {
	c.sink.Report(loc, kind, args...)
}

func (c *checker) TypeOf(e cabs.Expr) ctypes.Type { return c.info.Types[e] }

func (c *checker) DeclOf(v *cabs.Variable) *cabs.VarDecl { return c.info.VarOf(v) }

func (c *checker) SetType(e cabs.Expr, t ctypes.Type) { c.info.Types[e] = t }

func (c *checker) DeferParams() bool { return c.deferOn }

func (c *checker) DeclType(d *cabs.VarDecl) ctypes.Type { return c.info.DeclTypes[d] }

func (c *checker) Declare(d *cabs.VarDecl, t ctypes.Type) { c.info.DeclTypes[d] = t }

func (c *checker) Ref(d *cabs.VarDecl, loc cabs.Loc) *cabs.Variable {
	v := &cabs.Variable{Name: d.Name, Loc: loc}
	c.info.Decls[v] = d
	c.info.Types[v] = c.info.DeclTypes[d]
	return v
}

func (c *checker) CheckExpr(e cabs.Expr) ctypes.Type { return c.expr(e) }

func (c *checker) ConstValue(e cabs.Expr) (int64, bool) { return c.constValue(e) }

var _ ossclause.Env = (*checker)(nil)
