package ctypes

// Classification and x86-64 layout helpers.

// Unqual strips const qualifiers
func Unqual(t Type) Type {
	for {
		c, ok := t.(Tconst)
		if !ok {
			return t
		}
		t = c.Elem
	}
}

// IsConst reports whether t is const qualified at the top level
func IsConst(t Type) bool {
	_, ok := t.(Tconst)
	return ok
}

// IsInteger reports whether t is an integer type (including _Bool)
func IsInteger(t Type) bool {
	switch Unqual(t).(type) {
	case Tint, Tlong:
		return true
	}
	return false
}

// IsFloat reports whether t is a floating type
func IsFloat(t Type) bool {
	_, ok := Unqual(t).(Tfloat)
	return ok
}

// IsArithmetic reports whether t is an integer or floating type
func IsArithmetic(t Type) bool {
	return IsInteger(t) || IsFloat(t)
}

// IsPointer reports whether t is a pointer type
func IsPointer(t Type) bool {
	_, ok := Unqual(t).(Tpointer)
	return ok
}

// HasVLA reports whether t is an array type with a variable length
// dimension at any nesting depth
func HasVLA(t Type) bool {
	for {
		a, ok := Unqual(t).(Tarray)
		if !ok {
			return false
		}
		if a.VLA {
			return true
		}
		t = a.Elem
	}
}

// VariablyModified is like HasVLA but also looks behind pointers
func VariablyModified(t Type) bool {
	switch x := Unqual(t).(type) {
	case Tarray:
		return x.VLA || VariablyModified(x.Elem)
	case Tpointer:
		return VariablyModified(x.Elem)
	}
	return false
}

// IsArray reports whether t is an array type
func IsArray(t Type) bool {
	_, ok := Unqual(t).(Tarray)
	return ok
}

// IsScalar reports whether t is an arithmetic or pointer type
func IsScalar(t Type) bool {
	return IsArithmetic(t) || IsPointer(t)
}

// IsVoid reports whether t is void
func IsVoid(t Type) bool {
	_, ok := Unqual(t).(Tvoid)
	return ok
}

// IsSigned reports whether an integer type is signed
func IsSigned(t Type) bool {
	switch ut := Unqual(t).(type) {
	case Tint:
		return ut.Sign == Signed && ut.Size != IBool
	case Tlong:
		return ut.Sign == Signed
	}
	return false
}

// IsComplete reports whether objects of type t have a known size
func IsComplete(t Type) bool {
	switch ut := Unqual(t).(type) {
	case Tvoid, Tfunction:
		return false
	case Tarray:
		if ut.Size < 0 && !ut.VLA {
			return false
		}
		return IsComplete(ut.Elem)
	case Tstruct:
		return ut.Info != nil && ut.Info.Complete
	case Tunion:
		return ut.Info != nil && ut.Info.Complete
	}
	return true
}

// LifecycleOf returns the non-trivial lifecycle of t's base element type, if any
func LifecycleOf(t Type) *Lifecycle {
	if s, ok := Unqual(BaseElementType(t)).(Tstruct); ok && s.Info != nil {
		return s.Info.Lifecycle
	}
	return nil
}

// IsPOD reports whether values of t can be copied bitwise
func IsPOD(t Type) bool {
	return LifecycleOf(t) == nil
}

// BaseElementType strips every array level from t
func BaseElementType(t Type) Type {
	for {
		a, ok := Unqual(t).(Tarray)
		if !ok {
			return t
		}
		t = a.Elem
	}
}

// Pointee returns the element type of a pointer or array type
func Pointee(t Type) (Type, bool) {
	switch ut := Unqual(t).(type) {
	case Tpointer:
		if ut.Elem == nil {
			return Void(), true
		}
		return ut.Elem, true
	case Tarray:
		return ut.Elem, true
	}
	return nil, false
}

// Decay converts array and function types to the pointer they decay to
func Decay(t Type) Type {
	switch ut := Unqual(t).(type) {
	case Tarray:
		return Pointer(ut.Elem)
	case Tfunction:
		return Pointer(ut)
	}
	return t
}

// FindField looks up a field of a struct or union
func FindField(t Type, name string) (Field, int, bool) {
	var info *Record
	switch ut := Unqual(t).(type) {
	case Tstruct:
		info = ut.Info
	case Tunion:
		info = ut.Info
	}
	if info == nil {
		return Field{}, -1, false
	}
	for i, f := range info.Fields {
		if f.Name == name {
			return f, i, true
		}
	}
	return Field{}, -1, false
}

// Sizeof returns the size of t in bytes. Variable length arrays report 0;
// their extent is a runtime value.
func Sizeof(t Type) int64 {
	switch ut := Unqual(t).(type) {
	case Tint:
		switch ut.Size {
		case I8, IBool:
			return 1
		case I16:
			return 2
		}
		return 4
	case Tlong:
		return 8
	case Tfloat:
		if ut.Size == F32 {
			return 4
		}
		return 8
	case Tpointer, Tfunction:
		return 8
	case Tarray:
		if ut.Size < 0 {
			return 0
		}
		return ut.Size * Sizeof(ut.Elem)
	case Tstruct:
		size, _ := recordLayout(ut.Info, false)
		return size
	case Tunion:
		size, _ := recordLayout(ut.Info, true)
		return size
	}
	return 1
}

// Alignof returns the alignment of t in bytes
func Alignof(t Type) int64 {
	switch ut := Unqual(t).(type) {
	case Tarray:
		return Alignof(ut.Elem)
	case Tstruct:
		_, align := recordLayout(ut.Info, false)
		return align
	case Tunion:
		_, align := recordLayout(ut.Info, true)
		return align
	case Tvoid:
		return 1
	}
	return Sizeof(t)
}

// FieldOffset returns the byte offset of field i of a struct
func FieldOffset(t Type, i int) int64 {
	s, ok := Unqual(t).(Tstruct)
	if !ok || s.Info == nil {
		return 0
	}
	var off int64
	for j, f := range s.Info.Fields {
		off = AlignUp(off, Alignof(f.Type))
		if j == i {
			return off
		}
		off += Sizeof(f.Type)
	}
	return off
}

func recordLayout(info *Record, union bool) (int64, int64) {
	if info == nil {
		return 0, 1
	}
	var size, align int64 = 0, 1
	for _, f := range info.Fields {
		fa := Alignof(f.Type)
		if fa > align {
			align = fa
		}
		if union {
			if s := Sizeof(f.Type); s > size {
				size = s
			}
			continue
		}
		size = AlignUp(size, fa) + Sizeof(f.Type)
	}
	return AlignUp(size, align), align
}

// AlignUp rounds n up to a multiple of align
func AlignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// rank orders integer types for the usual arithmetic conversions
func rank(t Type) int {
	switch ut := Unqual(t).(type) {
	case Tint:
		switch ut.Size {
		case IBool:
			return 0
		case I8:
			return 1
		case I16:
			return 2
		}
		return 3
	case Tlong:
		if ut.LongLong {
			return 5
		}
		return 4
	}
	return -1
}

// Promote applies the integer promotions
func Promote(t Type) Type {
	if IsInteger(t) && rank(t) < 3 {
		return Int()
	}
	return Unqual(t)
}

// UsualArith returns the common type of two arithmetic operands
func UsualArith(a, b Type) Type {
	a, b = Unqual(a), Unqual(b)
	if fa, ok := a.(Tfloat); ok {
		if fb, ok := b.(Tfloat); ok && fb.Size > fa.Size {
			return fb
		}
		return fa
	}
	if fb, ok := b.(Tfloat); ok {
		return fb
	}
	a, b = Promote(a), Promote(b)
	ra, rb := rank(a), rank(b)
	switch {
	case ra > rb:
		if !IsSigned(b) && IsSigned(a) && Sizeof(a) == Sizeof(b) {
			return makeUnsigned(a)
		}
		return a
	case rb > ra:
		if !IsSigned(a) && IsSigned(b) && Sizeof(a) == Sizeof(b) {
			return makeUnsigned(b)
		}
		return b
	}
	if !IsSigned(a) {
		return a
	}
	return b
}

func makeUnsigned(t Type) Type {
	switch ut := t.(type) {
	case Tint:
		ut.Sign, ut.Plain = Unsigned, false
		return ut
	case Tlong:
		ut.Sign = Unsigned
		return ut
	}
	return t
}

// IntRange returns the minimum and maximum values of an integer type, as
// bit patterns of the type's width.
func IntRange(t Type) (min, max int64) {
	size := Sizeof(t)
	if _, ok := Unqual(t).(Tint); ok && Unqual(t).(Tint).Size == IBool {
		return 0, 1
	}
	bits := uint(size * 8)
	if IsSigned(t) {
		max = int64(uint64(1)<<(bits-1) - 1)
		return -max - 1, max
	}
	if bits == 64 {
		return 0, -1
	}
	return 0, int64(uint64(1)<<bits - 1)
}
