package sema

import (
	"fmt"

	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
)

// resolveType converts type syntax to a type. Array extents that are not
// constant become variable length arrays whose size expressions are
// appended to owner.VLASizes; without an owner they are rejected.
func (c *checker) resolveType(t cabs.TypeExpr, owner *cabs.VarDecl, loc cabs.Loc) ctypes.Type {
	switch tt := t.(type) {
	case *cabs.BuiltinType:
		return tt.Type
	case *cabs.NamedType:
		d, ok := c.scope.lookup(tt.Name).(*cabs.VarDecl)
		if !ok || d.Storage != cabs.StorageTypedef {
			c.sink.Report(loc, diag.UnknownTypeName, tt.Name)
			return ctypes.Int()
		}
		return c.info.DeclTypes[d]
	case *cabs.TagType:
		if tt.Def != nil {
			return c.defineRecord(tt.Def)
		}
		if rt := c.scope.lookupTag(tt.Name); rt != nil {
			return rt
		}
		return c.forwardRecord(tt.Union, tt.Name)
	case *cabs.PointerType:
		p := ctypes.Pointer(c.resolveType(tt.Elem, owner, loc))
		if tt.Const {
			return ctypes.Const(p)
		}
		return p
	case *cabs.ConstType:
		return ctypes.Const(c.resolveType(tt.Elem, owner, loc))
	case *cabs.ArrayType:
		return c.resolveArray(tt, owner, loc)
	case *cabs.FuncType:
		return c.funcType(tt, loc)
	}
	return ctypes.Int()
}

func (c *checker) resolveArray(at *cabs.ArrayType, owner *cabs.VarDecl, loc cabs.Loc) ctypes.Type {
	if at.Size == nil {
		return ctypes.Array(c.resolveType(at.Elem, owner, loc), -1)
	}
	st := c.expr(at.Size)
	if st != nil && !ctypes.IsInteger(st) {
		c.sink.Report(at.Size.Pos(), diag.InvalidOperands, "[]", st.String(), "size")
	}
	if n, ok := c.constValue(at.Size); ok {
		return ctypes.Array(c.resolveType(at.Elem, owner, loc), n)
	}
	if owner == nil {
		c.sink.Report(at.Size.Pos(), diag.Unsupported, "variable length array type outside a declaration")
		return ctypes.Array(c.resolveType(at.Elem, owner, loc), -1)
	}
	// the extent is recorded before the element so VLASizes reads
	// outermost first
	dim := len(owner.VLASizes)
	owner.VLASizes = append(owner.VLASizes, at.Size)
	return ctypes.VLA(c.resolveType(at.Elem, owner, loc), dim)
}

func (c *checker) funcType(ft *cabs.FuncType, loc cabs.Loc) ctypes.Tfunction {
	f := ctypes.Tfunction{Return: c.resolveType(ft.Return, nil, loc), VarArg: ft.Variadic}
	c.push()
	for _, p := range ft.Params {
		f.Params = append(f.Params, c.paramType(p))
		c.declare(p.Name, p, p.Loc)
	}
	c.pop()
	return f
}

// paramType resolves a parameter; array parameters decay to pointers to
// their element before the extents are read
func (c *checker) paramType(p *cabs.VarDecl) ctypes.Type {
	p.VLASizes = nil
	te := p.Type
	switch tt := te.(type) {
	case *cabs.ArrayType:
		te = &cabs.PointerType{Elem: tt.Elem}
	case *cabs.FuncType:
		te = &cabs.PointerType{Elem: tt}
	}
	t := c.resolveType(te, p, p.Loc)
	c.info.DeclTypes[p] = t
	return t
}

func (c *checker) forwardRecord(union bool, name string) ctypes.Type {
	var t ctypes.Type = ctypes.Tstruct{Name: name, Info: &ctypes.Record{}}
	if union {
		t = ctypes.Tunion{Name: name, Info: &ctypes.Record{}}
	}
	c.scope.tags[name] = t
	return t
}

func recordInfo(t ctypes.Type) *ctypes.Record {
	switch rt := t.(type) {
	case ctypes.Tstruct:
		return rt.Info
	case ctypes.Tunion:
		return rt.Info
	}
	return nil
}

// defineRecord completes the tag a definition names. The parser hands a
// definition out both in the declaration's struct list and inside its type
// syntax, so each is visited once.
func (c *checker) defineRecord(def *cabs.StructDef) ctypes.Type {
	if t, ok := c.defs[def]; ok {
		return t
	}
	t, ok := c.scope.tags[def.Name]
	if ok && recordInfo(t).Complete {
		c.sink.Report(def.Loc, diag.Redefinition, tagName(def))
		c.defs[def] = t
		return t
	}
	if !ok {
		t = c.forwardRecord(def.Union, def.Name)
	}
	c.defs[def] = t
	info := recordInfo(t)
	for _, f := range def.Fields {
		ft := c.resolveType(f.Type, nil, f.Loc)
		if !ctypes.IsComplete(ft) {
			c.sink.Report(f.Loc, diag.IncompleteType, f.Name, ft.String())
		}
		info.Fields = append(info.Fields, ctypes.Field{Name: f.Name, Type: ft})
	}
	if lc := def.Lifecycle; lc != nil {
		if def.Union {
			c.sink.Report(def.Loc, diag.Unsupported, "oss_lifecycle on a union")
		} else {
			info.Lifecycle = &ctypes.Lifecycle{Ctor: lc.Ctor, Dtor: lc.Dtor, Copy: lc.Copy}
		}
	}
	info.Complete = true
	return t
}

func tagName(def *cabs.StructDef) string {
	if def.Union {
		return fmt.Sprintf("union %s", def.Name)
	}
	return fmt.Sprintf("struct %s", def.Name)
}

// typeName resolves the type of a cast or sizeof
func (c *checker) typeName(tn *cabs.TypeName) ctypes.Type {
	if tn == nil {
		return ctypes.Int()
	}
	if t, ok := c.info.TypeNames[tn]; ok {
		return t
	}
	t := c.resolveType(tn.Type, nil, tn.Loc)
	c.info.TypeNames[tn] = t
	return t
}
