// Package ctypes defines the C type system used by the checker and the task front end
package ctypes

import (
	"fmt"
	"strings"
)

// Type is the interface for all C types
type Type interface {
	implType()
	String() string
}

// Signedness represents signed/unsigned for integer types
type Signedness int

const (
	Signed Signedness = iota
	Unsigned
)

func (s Signedness) String() string {
	if s == Signed {
		return "signed"
	}
	return "unsigned"
}

// IntSize represents the size of integer types
type IntSize int

const (
	I8 IntSize = iota
	I16
	I32
	IBool
)

func (s IntSize) String() string {
	names := []string{"i8", "i16", "i32", "ibool"}
	if int(s) < len(names) {
		return names[s]
	}
	return "?"
}

// FloatSize represents the size of floating-point types
type FloatSize int

const (
	F32 FloatSize = iota
	F64
)

func (s FloatSize) String() string {
	if s == F32 {
		return "f32"
	}
	return "f64"
}

// Tvoid represents the void type
type Tvoid struct{}

// Tint represents integer types (char, short, int, _Bool)
type Tint struct {
	Size IntSize
	Sign Signedness
	// Plain is set for "char" without an explicit signed/unsigned.
	Plain bool
}

// Tlong represents the 64-bit integer types (long, long long)
type Tlong struct {
	Sign     Signedness
	LongLong bool
}

// Tfloat represents floating-point types (float, double)
type Tfloat struct {
	Size FloatSize
}

// Tpointer represents pointer types
type Tpointer struct {
	Elem Type
}

// Tarray represents array types. A variable length array has VLA set and
// Dim naming the position of its extent among the declaring object's
// runtime extents.
type Tarray struct {
	Elem Type
	Size int64 // -1 for incomplete array
	VLA  bool
	Dim  int
}

// Tfunction represents function types
type Tfunction struct {
	Params []Type
	Return Type
	VarArg bool
}

// Tstruct represents struct types. Info is shared by every reference to the
// same tag so completion is visible everywhere.
type Tstruct struct {
	Name string
	Info *Record
}

// Tunion represents union types
type Tunion struct {
	Name string
	Info *Record
}

// Tconst is a const-qualified type
type Tconst struct {
	Elem Type
}

// Record holds the members of a struct or union tag
type Record struct {
	Fields    []Field
	Complete  bool
	Lifecycle *Lifecycle
}

// Lifecycle names the functions that construct, destroy and copy values of
// a non-trivial struct.
type Lifecycle struct {
	Ctor string
	Dtor string
	Copy string
}

// Field represents a struct or union field
type Field struct {
	Name string
	Type Type
}

// Marker methods for Type interface
func (Tvoid) implType()     {}
func (Tint) implType()      {}
func (Tlong) implType()     {}
func (Tfloat) implType()    {}
func (Tpointer) implType()  {}
func (Tarray) implType()    {}
func (Tfunction) implType() {}
func (Tstruct) implType()   {}
func (Tunion) implType()    {}
func (Tconst) implType()    {}

// String methods for types
func (Tvoid) String() string { return "void" }

func (t Tint) String() string {
	sign := ""
	if t.Sign == Unsigned {
		sign = "unsigned "
	} else if t.Size == I8 && !t.Plain {
		sign = "signed "
	}
	switch t.Size {
	case I8:
		return sign + "char"
	case I16:
		return sign + "short"
	case I32:
		return sign + "int"
	case IBool:
		return "_Bool"
	}
	return sign + "int"
}

func (t Tlong) String() string {
	name := "long"
	if t.LongLong {
		name = "long long"
	}
	if t.Sign == Unsigned {
		return "unsigned " + name
	}
	return name
}

func (t Tfloat) String() string {
	if t.Size == F32 {
		return "float"
	}
	return "double"
}

func (t Tpointer) String() string {
	if t.Elem == nil {
		return "void *"
	}
	return t.Elem.String() + " *"
}

func (t Tarray) String() string {
	if t.Elem == nil {
		return "?[]"
	}
	base, dims := t.Elem, "["+t.sizeString()+"]"
	for {
		inner, ok := base.(Tarray)
		if !ok {
			break
		}
		dims += "[" + inner.sizeString() + "]"
		base = inner.Elem
	}
	return base.String() + dims
}

func (t Tarray) sizeString() string {
	switch {
	case t.VLA:
		return "*"
	case t.Size < 0:
		return ""
	}
	return fmt.Sprint(t.Size)
}

func (t Tfunction) String() string {
	params := make([]string, 0, len(t.Params)+1)
	for _, p := range t.Params {
		params = append(params, p.String())
	}
	if t.VarArg {
		params = append(params, "...")
	}
	ret := "void"
	if t.Return != nil {
		ret = t.Return.String()
	}
	return ret + " (" + strings.Join(params, ", ") + ")"
}

func (t Tstruct) String() string {
	if t.Name == "" {
		return "struct <anonymous>"
	}
	return "struct " + t.Name
}

func (t Tunion) String() string {
	if t.Name == "" {
		return "union <anonymous>"
	}
	return "union " + t.Name
}

func (t Tconst) String() string {
	return "const " + t.Elem.String()
}

// Common type constructors

// Int returns a signed 32-bit int type
func Int() Type {
	return Tint{Size: I32, Sign: Signed}
}

// UInt returns an unsigned 32-bit int type
func UInt() Type {
	return Tint{Size: I32, Sign: Unsigned}
}

// Char returns the plain char type
func Char() Type {
	return Tint{Size: I8, Sign: Signed, Plain: true}
}

// SChar returns an explicitly signed char type
func SChar() Type {
	return Tint{Size: I8, Sign: Signed}
}

// UChar returns an unsigned char type
func UChar() Type {
	return Tint{Size: I8, Sign: Unsigned}
}

// Short returns a signed short type
func Short() Type {
	return Tint{Size: I16, Sign: Signed}
}

// UShort returns an unsigned short type
func UShort() Type {
	return Tint{Size: I16, Sign: Unsigned}
}

// Bool returns the _Bool type
func Bool() Type {
	return Tint{Size: IBool, Sign: Unsigned}
}

// Long returns a signed long type
func Long() Type {
	return Tlong{Sign: Signed}
}

// ULong returns an unsigned long type
func ULong() Type {
	return Tlong{Sign: Unsigned}
}

// LongLong returns a signed long long type
func LongLong() Type {
	return Tlong{Sign: Signed, LongLong: true}
}

// ULongLong returns an unsigned long long type
func ULongLong() Type {
	return Tlong{Sign: Unsigned, LongLong: true}
}

// Float returns a float (32-bit) type
func Float() Type {
	return Tfloat{Size: F32}
}

// Double returns a double (64-bit) type
func Double() Type {
	return Tfloat{Size: F64}
}

// Void returns the void type
func Void() Type {
	return Tvoid{}
}

// Pointer returns a pointer to the given type
func Pointer(elem Type) Type {
	return Tpointer{Elem: elem}
}

// Array returns an array type
func Array(elem Type, size int64) Type {
	return Tarray{Elem: elem, Size: size}
}

// VLA returns a variable length array type whose extent is runtime value dim
func VLA(elem Type, dim int) Type {
	return Tarray{Elem: elem, Size: -1, VLA: true, Dim: dim}
}

// Const returns t qualified with const
func Const(t Type) Type {
	if _, ok := t.(Tconst); ok {
		return t
	}
	return Tconst{Elem: t}
}

// Equal checks if two types are equal
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch ta := a.(type) {
	case Tvoid:
		_, ok := b.(Tvoid)
		return ok
	case Tint:
		tb, ok := b.(Tint)
		return ok && ta.Size == tb.Size && ta.Sign == tb.Sign && ta.Plain == tb.Plain
	case Tlong:
		tb, ok := b.(Tlong)
		return ok && ta.Sign == tb.Sign && ta.LongLong == tb.LongLong
	case Tfloat:
		tb, ok := b.(Tfloat)
		return ok && ta.Size == tb.Size
	case Tpointer:
		tb, ok := b.(Tpointer)
		return ok && Equal(ta.Elem, tb.Elem)
	case Tarray:
		tb, ok := b.(Tarray)
		return ok && ta.Size == tb.Size && ta.VLA == tb.VLA && Equal(ta.Elem, tb.Elem)
	case Tstruct:
		tb, ok := b.(Tstruct)
		return ok && ta.Name == tb.Name && (ta.Name != "" || ta.Info == tb.Info)
	case Tunion:
		tb, ok := b.(Tunion)
		return ok && ta.Name == tb.Name && (ta.Name != "" || ta.Info == tb.Info)
	case Tconst:
		tb, ok := b.(Tconst)
		return ok && Equal(ta.Elem, tb.Elem)
	case Tfunction:
		tb, ok := b.(Tfunction)
		if !ok || ta.VarArg != tb.VarArg || len(ta.Params) != len(tb.Params) {
			return false
		}
		if !Equal(ta.Return, tb.Return) {
			return false
		}
		for i, p := range ta.Params {
			if !Equal(p, tb.Params[i]) {
				return false
			}
		}
		return true
	}
	return false
}
