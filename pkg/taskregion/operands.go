package taskregion

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// Operands returns pointers to the value operands of an instruction or
// terminator, so that callers can both read and rewrite them. Operand
// bundle inputs of calls are included.
func Operands(inst any) []*value.Value {
	switch i := inst.(type) {
	case *ir.InstAlloca:
		if i.NElems == nil {
			return nil
		}
		return []*value.Value{&i.NElems}
	case *ir.InstLoad:
		return []*value.Value{&i.Src}
	case *ir.InstStore:
		return []*value.Value{&i.Src, &i.Dst}
	case *ir.InstGetElementPtr:
		out := []*value.Value{&i.Src}
		for k := range i.Indices {
			out = append(out, &i.Indices[k])
		}
		return out
	case *ir.InstCall:
		out := []*value.Value{&i.Callee}
		for k := range i.Args {
			out = append(out, &i.Args[k])
		}
		for _, b := range i.OperandBundles {
			for k := range b.Inputs {
				out = append(out, &b.Inputs[k])
			}
		}
		return out
	case *ir.InstICmp:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstFCmp:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstFNeg:
		return []*value.Value{&i.X}

	case *ir.InstAdd:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstFAdd:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstSub:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstFSub:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstMul:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstFMul:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstUDiv:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstSDiv:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstFDiv:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstURem:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstSRem:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstShl:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstLShr:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstAShr:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstAnd:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstOr:
		return []*value.Value{&i.X, &i.Y}
	case *ir.InstXor:
		return []*value.Value{&i.X, &i.Y}

	case *ir.InstTrunc:
		return []*value.Value{&i.From}
	case *ir.InstZExt:
		return []*value.Value{&i.From}
	case *ir.InstSExt:
		return []*value.Value{&i.From}
	case *ir.InstFPTrunc:
		return []*value.Value{&i.From}
	case *ir.InstFPExt:
		return []*value.Value{&i.From}
	case *ir.InstFPToUI:
		return []*value.Value{&i.From}
	case *ir.InstFPToSI:
		return []*value.Value{&i.From}
	case *ir.InstUIToFP:
		return []*value.Value{&i.From}
	case *ir.InstSIToFP:
		return []*value.Value{&i.From}
	case *ir.InstPtrToInt:
		return []*value.Value{&i.From}
	case *ir.InstIntToPtr:
		return []*value.Value{&i.From}
	case *ir.InstBitCast:
		return []*value.Value{&i.From}

	case *ir.TermRet:
		if i.X == nil {
			return nil
		}
		return []*value.Value{&i.X}
	case *ir.TermCondBr:
		return []*value.Value{&i.Cond}
	}
	return nil
}

// Users maps every instruction of f to the instructions and terminators
// that use it
func Users(f *ir.Func) map[value.Value][]any {
	users := map[value.Value][]any{}
	for _, b := range f.Blocks {
		record := func(user any) {
			for _, op := range Operands(user) {
				switch (*op).(type) {
				case ir.Instruction, *ir.Param:
					users[*op] = append(users[*op], user)
				}
			}
		}
		for _, inst := range b.Insts {
			record(inst)
		}
		if b.Term != nil {
			record(b.Term)
		}
	}
	return users
}
