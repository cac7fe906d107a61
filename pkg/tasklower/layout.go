package tasklower

import (
	"github.com/llir/llvm/ir/types"
)

// pointerSize is the size and alignment of a pointer on the 64-bit
// targets the runtime supports
const pointerSize = 8

// Sizeof is the allocation size of t with natural alignment
func Sizeof(t types.Type) int64 {
	switch tt := t.(type) {
	case *types.IntType:
		return max(int64(tt.BitSize+7)/8, 1)
	case *types.FloatType:
		switch tt.Kind {
		case types.FloatKindHalf:
			return 2
		case types.FloatKindFloat:
			return 4
		}
		return 8
	case *types.PointerType:
		return pointerSize
	case *types.ArrayType:
		return int64(tt.Len) * Sizeof(tt.ElemType)
	case *types.StructType:
		var off, align int64 = 0, 1
		for _, f := range tt.Fields {
			a := Alignof(f)
			if tt.Packed {
				a = 1
			}
			off = alignTo(off, a)
			off += Sizeof(f)
			align = max(align, a)
		}
		return alignTo(off, align)
	}
	return 0
}

// Alignof is the natural alignment of t
func Alignof(t types.Type) int64 {
	switch tt := t.(type) {
	case *types.ArrayType:
		return Alignof(tt.ElemType)
	case *types.StructType:
		if tt.Packed {
			return 1
		}
		var align int64 = 1
		for _, f := range tt.Fields {
			align = max(align, Alignof(f))
		}
		return align
	}
	return max(Sizeof(t), 1)
}

// Offsetof is the byte offset of field i of st
func Offsetof(st *types.StructType, i int) int64 {
	var off int64
	for k, f := range st.Fields {
		if !st.Packed {
			off = alignTo(off, Alignof(f))
		}
		if k == i {
			return off
		}
		off += Sizeof(f)
	}
	return off
}

func alignTo(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}
