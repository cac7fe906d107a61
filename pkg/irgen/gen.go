// Package irgen lowers a checked translation unit to LLVM IR. Task
// constructs become region markers whose operand bundles carry what the
// task lowering pass needs: data-sharing values, captured extents,
// dependency computation functions and scalar clauses.
package irgen

import (
	"errors"
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
	"github.com/raymyers/ralph-oss/pkg/diag"
	"github.com/raymyers/ralph-oss/pkg/nanos6"
	"github.com/raymyers/ralph-oss/pkg/ossclause"
	"github.com/raymyers/ralph-oss/pkg/region"
	"github.com/raymyers/ralph-oss/pkg/sema"
)

// ErrUnsupported is returned for constructs the generator cannot lower
var ErrUnsupported = errors.New("unsupported construct")

// Marker intrinsics
const (
	RegionEntry = "llvm.directive.region.entry"
	RegionExit  = "llvm.directive.region.exit"
	Marker      = "llvm.directive.marker"
)

// Unit is a generated module together with the runtime ABI declared in it
type Unit struct {
	Module  *ir.Module
	Runtime *nanos6.Runtime
	File    string
}

// Generator holds the state of one module
type Generator struct {
	m       *ir.Module
	rt      *nanos6.Runtime
	info    *sema.Info
	file    string
	regions *region.Builder

	funcs    map[string]*ir.Func
	globals  map[*cabs.VarDecl]*ir.Global
	byName   map[string]*ir.Global
	records  map[*ctypes.Record]*types.StructType
	strings  map[string]*ir.Global
	names    map[string]int
	declared map[*ossclause.Declared]*reductionFuncs
	wrappers map[string]*ir.Func

	intrinsics map[string]*ir.Func
	err        error
}

type reductionFuncs struct {
	combiner, initializer *ir.Func
}

// Generate lowers prog. info must come from a check that reported no
// errors.
func Generate(prog *cabs.Program, info *sema.Info, file string) (*Unit, error) {
	m := ir.NewModule()
	m.SourceFilename = file
	g := &Generator{
		m:          m,
		rt:         nanos6.New(m),
		info:       info,
		file:       file,
		funcs:      map[string]*ir.Func{},
		globals:    map[*cabs.VarDecl]*ir.Global{},
		byName:     map[string]*ir.Global{},
		records:    map[*ctypes.Record]*types.StructType{},
		strings:    map[string]*ir.Global{},
		names:      map[string]int{},
		declared:   map[*ossclause.Declared]*reductionFuncs{},
		wrappers:   map[string]*ir.Func{},
		intrinsics: map[string]*ir.Func{},
	}
	g.regions = region.NewBuilder(g)

	for _, def := range prog.Definitions {
		if fd, ok := def.(*cabs.FuncDecl); ok {
			g.declareFunc(fd)
		}
	}
	for _, def := range prog.Definitions {
		if gd, ok := def.(*cabs.GlobalDecl); ok {
			for _, d := range gd.Decls {
				g.global(d)
			}
		}
	}
	for _, d := range info.Reductions.All() {
		g.declaredReduction(d)
	}
	for _, def := range prog.Definitions {
		fd, ok := def.(*cabs.FuncDecl)
		if ok && fd.Body != nil && info.Funcs[fd.Name].Decl == fd {
			g.function(fd)
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &Unit{Module: m, Runtime: g.rt, File: file}, nil
}

// fail records the first generation error
func (g *Generator) fail(err error) {
	if g.err == nil {
		g.err = err
	}
}

func (g *Generator) unsupported(loc cabs.Loc, format string, args ...any) {
	g.fail(fmt.Errorf("%s:%s: %s: %w", g.file, loc, fmt.Sprintf(format, args...), ErrUnsupported))
}

// The generator is the environment of the region builder when it
// computes ABI dimensions.

func (g *Generator) Report(loc cabs.Loc, kind diag.Kind, args ...any) {
	d := diag.Diagnostic{Loc: loc, Kind: kind, Args: args}
	g.fail(fmt.Errorf("%s:%s: %s", g.file, loc, d.Message()))
}

func (g *Generator) TypeOf(e cabs.Expr) ctypes.Type { return g.info.TypeOf(e) }

func (g *Generator) DeclOf(v *cabs.Variable) *cabs.VarDecl { return g.info.VarOf(v) }

func (g *Generator) SetType(e cabs.Expr, t ctypes.Type) { g.info.Types[e] = t }

func (g *Generator) DeferParams() bool { return false }

var _ region.Env = (*Generator)(nil)

// unique returns base the first time and base.N afterwards
func (g *Generator) unique(base string) string {
	n := g.names[base]
	g.names[base] = n + 1
	if n == 0 {
		return base
	}
	return fmt.Sprintf("%s.%d", base, n)
}

// Types

func (g *Generator) llType(t ctypes.Type) types.Type {
	switch ut := ctypes.Unqual(t).(type) {
	case ctypes.Tvoid:
		return types.Void
	case ctypes.Tint:
		switch ut.Size {
		case ctypes.I8, ctypes.IBool:
			return types.I8
		case ctypes.I16:
			return types.I16
		}
		return types.I32
	case ctypes.Tlong:
		return types.I64
	case ctypes.Tfloat:
		if ut.Size == ctypes.F32 {
			return types.Float
		}
		return types.Double
	case ctypes.Tpointer:
		return types.NewPointer(g.pointee(ut.Elem))
	case ctypes.Tarray:
		n, ok := constCount(ut)
		if !ok {
			g.fail(fmt.Errorf("variable length array type %s has no static layout: %w", ut, ErrUnsupported))
		}
		return types.NewArray(uint64(n), g.llType(ctypes.BaseElementType(ut)))
	case ctypes.Tfunction:
		return g.funcType(ut)
	case ctypes.Tstruct:
		return g.record(ut.Name, ut, ut.Info, false)
	case ctypes.Tunion:
		return g.record(ut.Name, ut, ut.Info, true)
	}
	return types.I32
}

// pointee is the IR element type of a pointer to t. Pointers to arrays
// point at the base element.
func (g *Generator) pointee(t ctypes.Type) types.Type {
	if t == nil {
		return types.I8
	}
	switch ut := ctypes.Unqual(t).(type) {
	case ctypes.Tvoid:
		return types.I8
	case ctypes.Tarray:
		return g.pointee(ut.Elem)
	}
	return g.llType(t)
}

// constCount is the number of base elements of an array without variable
// extents
func constCount(a ctypes.Tarray) (int64, bool) {
	var n int64 = 1
	var t ctypes.Type = a
	for {
		at, ok := ctypes.Unqual(t).(ctypes.Tarray)
		if !ok {
			return n, true
		}
		if at.VLA {
			return 0, false
		}
		if at.Size < 0 {
			n = 0
		} else {
			n *= at.Size
		}
		t = at.Elem
	}
}

func (g *Generator) funcType(ft ctypes.Tfunction) *types.FuncType {
	params := make([]types.Type, len(ft.Params))
	for i, p := range ft.Params {
		params[i] = g.llType(p)
	}
	sig := types.NewFunc(g.llType(ft.Return), params...)
	sig.Variadic = ft.VarArg
	return sig
}

// record returns the named struct type of a tag. Unions are an array of
// their alignment unit covering their size.
func (g *Generator) record(name string, t ctypes.Type, info *ctypes.Record, union bool) *types.StructType {
	if st, ok := g.records[info]; ok {
		return st
	}
	kw := "struct."
	if union {
		kw = "union."
	}
	if name == "" {
		name = "anon"
	}
	st := &types.StructType{}
	g.m.NewTypeDef(g.unique(kw+name), st)
	g.records[info] = st
	if info == nil || !info.Complete {
		st.Opaque = true
		return st
	}
	if union {
		size, align := ctypes.Sizeof(t), ctypes.Alignof(t)
		if size > 0 {
			st.Fields = []types.Type{types.NewArray(uint64(size/align), types.NewInt(uint64(align*8)))}
		}
		return st
	}
	for _, f := range info.Fields {
		st.Fields = append(st.Fields, g.llType(f.Type))
	}
	return st
}

// Constants

func i64(n int64) *constant.Int {
	return constant.NewInt(types.I64, n)
}

func i32(n int64) *constant.Int {
	return constant.NewInt(types.I32, n)
}

// intConst builds an integer constant of type t from a bit pattern
func intConst(t types.Type, x int64) *constant.Int {
	it, ok := t.(*types.IntType)
	if !ok {
		it = types.I64
	}
	if w := it.BitSize; w > 1 && w < 64 {
		x = x << (64 - w) >> (64 - w)
	}
	return constant.NewInt(it, x)
}

// cstr is a NUL terminated character array constant
func cstr(s string) *constant.CharArray {
	return constant.NewCharArrayFromString(s + "\x00")
}

// charArray is the initializer of a char array of n elements from a
// string literal
func charArray(s string, n int64) *constant.CharArray {
	b := []byte(s)
	if int64(len(b)) > n {
		b = b[:n]
	}
	for int64(len(b)) < n {
		b = append(b, 0)
	}
	return constant.NewCharArrayFromString(string(b))
}

// stringPtr returns a pointer to the first character of a literal
func (g *Generator) stringPtr(s string) constant.Constant {
	gv, ok := g.strings[s]
	if !ok {
		gv = g.m.NewGlobalDef(g.unique(".str"), cstr(s))
		gv.Linkage = enum.LinkagePrivate
		gv.Immutable = true
		g.strings[s] = gv
	}
	return constant.NewGetElementPtr(gv.ContentType, gv, i64(0), i64(0))
}

// Declarations

func (g *Generator) declareFunc(fd *cabs.FuncDecl) {
	if fn, ok := g.funcs[fd.Name]; ok {
		if fd.Storage == cabs.StorageStatic {
			fn.Linkage = enum.LinkageInternal
		}
		return
	}
	f := g.info.Funcs[fd.Name]
	if f == nil {
		return
	}
	names := f.Decl.Params()
	params := make([]*ir.Param, len(f.Type.Params))
	for i, pt := range f.Type.Params {
		name := ""
		if i < len(names) {
			name = names[i].Name
		}
		params[i] = ir.NewParam(name, g.llType(pt))
	}
	fn := g.m.NewFunc(fd.Name, g.llType(f.Type.Return), params...)
	fn.Sig.Variadic = f.Type.VarArg
	if fd.Storage == cabs.StorageStatic {
		fn.Linkage = enum.LinkageInternal
	}
	g.funcs[fd.Name] = fn
}

// userFunc returns the function called name, declaring it with the given
// signature when the program does not
func (g *Generator) userFunc(name string, params ...types.Type) *ir.Func {
	if fn, ok := g.funcs[name]; ok {
		return fn
	}
	ps := make([]*ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.NewParam("", p)
	}
	fn := g.m.NewFunc(name, types.Void, ps...)
	g.funcs[name] = fn
	return fn
}

func (g *Generator) intrinsic(name string, ret types.Type, params ...types.Type) *ir.Func {
	if fn, ok := g.intrinsics[name]; ok {
		return fn
	}
	ps := make([]*ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.NewParam("", p)
	}
	fn := g.m.NewFunc(name, ret, ps...)
	g.intrinsics[name] = fn
	return fn
}

func (g *Generator) global(d *cabs.VarDecl) {
	if d.Storage == cabs.StorageTypedef {
		return
	}
	t := g.info.DeclType(d)
	if gv, ok := g.byName[d.Name]; ok {
		g.globals[d] = gv
		if d.Storage != cabs.StorageExtern {
			if ct := g.llType(t); !types.Equal(ct, gv.ContentType) {
				gv.ContentType = ct
				gv.Typ = types.NewPointer(ct)
			}
			gv.Init = g.staticInit(d.Init, t)
		}
		return
	}
	var gv *ir.Global
	if d.Storage == cabs.StorageExtern {
		gv = g.m.NewGlobal(d.Name, g.llType(t))
	} else {
		gv = g.m.NewGlobalDef(d.Name, g.staticInit(d.Init, t))
		if d.Storage == cabs.StorageStatic {
			gv.Linkage = enum.LinkageInternal
		}
	}
	g.globals[d] = gv
	g.byName[d.Name] = gv
}

// staticInit folds the initializer of an object with static storage
func (g *Generator) staticInit(init cabs.Expr, t ctypes.Type) constant.Constant {
	lt := g.llType(t)
	if init == nil {
		return constant.NewZeroInitializer(lt)
	}
	if a, ok := ctypes.Unqual(t).(ctypes.Tarray); ok {
		if s, ok := cabs.StripParens(init).(*cabs.StringLit); ok {
			return charArray(s.Value, a.Size)
		}
		g.unsupported(init.Pos(), "array initializer")
		return constant.NewZeroInitializer(lt)
	}
	c := g.constExpr(init, t)
	if c == nil {
		g.unsupported(init.Pos(), "initializer %s", cabs.ExprString(init))
		return constant.NewZeroInitializer(lt)
	}
	return c
}

func (g *Generator) constExpr(e cabs.Expr, t ctypes.Type) constant.Constant {
	lt := g.llType(t)
	if n, ok := g.info.ConstValue(e); ok {
		switch {
		case ctypes.IsFloat(t):
			return floatConst(lt, float64(n))
		case ctypes.IsPointer(t):
			if n == 0 {
				return constant.NewNull(lt.(*types.PointerType))
			}
			return constant.NewIntToPtr(i64(n), lt)
		}
		if ctypes.Equal(ctypes.Unqual(t), ctypes.Bool()) && n != 0 {
			n = 1
		}
		return intConst(lt, n)
	}
	switch ex := cabs.StripParens(e).(type) {
	case *cabs.FloatConst:
		if ctypes.IsInteger(t) {
			return intConst(lt, int64(ex.Value))
		}
		return floatConst(lt, ex.Value)
	case *cabs.Unary:
		switch ex.Op {
		case cabs.OpPlus:
			return g.constExpr(ex.Expr, t)
		case cabs.OpNeg:
			if f, ok := cabs.StripParens(ex.Expr).(*cabs.FloatConst); ok {
				if ctypes.IsInteger(t) {
					return intConst(lt, -int64(f.Value))
				}
				return floatConst(lt, -f.Value)
			}
		case cabs.OpAddrOf:
			if v, ok := cabs.StripParens(ex.Expr).(*cabs.Variable); ok {
				return g.constAddr(v, lt)
			}
		}
	case *cabs.StringLit:
		return bitcastConst(g.stringPtr(ex.Value), lt)
	case *cabs.Variable:
		return g.constAddr(ex, lt)
	case *cabs.Cast:
		return g.constExpr(ex.Expr, t)
	}
	return nil
}

// constAddr is the address of a function or static object, or of the
// first element of a static array
func (g *Generator) constAddr(v *cabs.Variable, lt types.Type) constant.Constant {
	switch d := g.info.Decls[v].(type) {
	case *cabs.FuncDecl:
		if fn, ok := g.funcs[d.Name]; ok {
			return bitcastConst(fn, lt)
		}
	case *cabs.VarDecl:
		gv, ok := g.globals[d]
		if !ok {
			return nil
		}
		if _, isArr := gv.ContentType.(*types.ArrayType); isArr {
			return bitcastConst(constant.NewGetElementPtr(gv.ContentType, gv, i64(0), i64(0)), lt)
		}
		return bitcastConst(gv, lt)
	}
	return nil
}

func bitcastConst(c constant.Constant, t types.Type) constant.Constant {
	if types.Equal(c.Type(), t) {
		return c
	}
	if _, ok := t.(*types.PointerType); !ok {
		return constant.NewPtrToInt(c, t)
	}
	return constant.NewBitCast(c, t)
}

func floatConst(t types.Type, x float64) constant.Constant {
	ft, ok := t.(*types.FloatType)
	if !ok {
		ft = types.Double
	}
	if ft.Kind == types.FloatKindFloat {
		x = float64(float32(x))
	}
	return constant.NewFloat(ft, x)
}

// function emits the body of a function definition
func (g *Generator) function(fd *cabs.FuncDecl) {
	fn := g.funcs[fd.Name]
	ft := g.info.Funcs[fd.Name].Type
	f := g.newFnState(fn, fd.Name, ft.Return)
	for i, p := range fd.Params() {
		if i >= len(fn.Params) {
			break
		}
		slot := f.alloca(fn.Params[i].Type())
		f.cur.NewStore(fn.Params[i], slot)
		f.vars[p] = slot
	}
	for _, p := range fd.Params() {
		f.vlaSizes(p)
	}
	for _, item := range fd.Body.Items {
		f.stmt(item)
	}
	f.finish()
}
