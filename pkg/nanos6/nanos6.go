// Package nanos6 describes the task runtime ABI: the descriptor structs a
// compiled task hands to the runtime, the entry points it calls and the
// names of the functions and globals generated per task.
package nanos6

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
)

// Task creation flags
const (
	FlagFinal = 1 << 0
	FlagIf0   = 1 << 1
)

// MaxDims is the largest dependency rank the runtime registers
const MaxDims = 8

// Dependency kinds as spelled in register entry points
var depNames = map[string]string{
	"IN":          "read",
	"OUT":         "write",
	"INOUT":       "readwrite",
	"WEAKIN":      "weak_read",
	"WEAKOUT":     "weak_write",
	"WEAKINOUT":   "weak_readwrite",
	"CONCURRENT":  "concurrent",
	"COMMUTATIVE": "commutative",
}

// Runtime declares the ABI in one module. Types and functions are created
// on first use and cached.
type Runtime struct {
	m *ir.Module

	AddressTranslation *types.StructType
	Constraints        *types.StructType
	InvocationInfo     *types.StructType
	ImplInfo           *types.StructType
	TaskInfo           *types.StructType

	// signatures of the task info callbacks
	RunFn         *types.FuncType
	ConstraintsFn *types.FuncType
	DepinfoFn     *types.FuncType
	PriorityFn    *types.FuncType
	DestroyFn     *types.FuncType
	DuplicateFn   *types.FuncType
	ReductionFn   *types.FuncType

	unpack map[int]*types.StructType
	funcs  map[string]*ir.Func
}

// New declares the descriptor types in m
func New(m *ir.Module) *Runtime {
	r := &Runtime{m: m, unpack: map[int]*types.StructType{}, funcs: map[string]*ir.Func{}}
	i8p := types.I8Ptr

	r.AddressTranslation = r.typedef("nanos6_address_translation_entry_t", types.I64, types.I64)
	r.Constraints = r.typedef("nanos6_task_constraints_t", types.I64)
	r.InvocationInfo = r.typedef("nanos6_task_invocation_info_t", i8p)

	r.RunFn = types.NewFunc(types.Void, i8p, i8p, types.NewPointer(r.AddressTranslation))
	r.ConstraintsFn = types.NewFunc(types.Void, i8p, types.NewPointer(r.Constraints))
	r.DepinfoFn = types.NewFunc(types.Void, i8p, i8p)
	r.PriorityFn = types.NewFunc(types.Void, i8p, types.NewPointer(types.I64))
	r.DestroyFn = types.NewFunc(types.Void, i8p)
	r.DuplicateFn = types.NewFunc(types.Void, i8p, types.NewPointer(i8p))
	r.ReductionFn = types.NewFunc(types.Void, i8p, i8p, types.I64)

	r.ImplInfo = r.typedef("nanos6_task_implementation_info_t",
		types.I32,
		types.NewPointer(r.RunFn),
		types.NewPointer(r.ConstraintsFn),
		i8p,
		i8p,
		types.NewPointer(r.RunFn),
	)
	r.TaskInfo = r.typedef("nanos6_task_info_t",
		types.I32,
		types.NewPointer(r.DepinfoFn),
		types.NewPointer(r.PriorityFn),
		i8p,
		types.I32,
		types.NewPointer(r.ImplInfo),
		types.NewPointer(r.DestroyFn),
		types.NewPointer(r.DuplicateFn),
		types.NewPointer(types.NewPointer(r.ReductionFn)),
		types.NewPointer(types.NewPointer(r.ReductionFn)),
	)
	return r
}

func (r *Runtime) typedef(name string, fields ...types.Type) *types.StructType {
	st := types.NewStruct(fields...)
	r.m.NewTypeDef(name, st)
	return st
}

// DependUnpack is the struct returned by dependency computation functions
// of rank n: the base address then size, start and end of every
// dimension, innermost first, in bytes for the innermost one.
func (r *Runtime) DependUnpack(n int) *types.StructType {
	if st, ok := r.unpack[n]; ok {
		return st
	}
	fields := []types.Type{types.I8Ptr}
	for i := 0; i < 3*n; i++ {
		fields = append(fields, types.I64)
	}
	st := r.typedef(fmt.Sprintf("_depend_unpack_t.%d", n), fields...)
	r.unpack[n] = st
	return st
}

func (r *Runtime) declare(name string, ret types.Type, params ...types.Type) *ir.Func {
	if f, ok := r.funcs[name]; ok {
		return f
	}
	ps := make([]*ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.NewParam("", p)
	}
	f := r.m.NewFunc(name, ret, ps...)
	r.funcs[name] = f
	return f
}

// CreateTask declares nanos6_create_task(info, invocation, args size,
// args block out, task out, flags, number of dependencies)
func (r *Runtime) CreateTask() *ir.Func {
	return r.declare("nanos6_create_task", types.Void,
		types.NewPointer(r.TaskInfo),
		types.NewPointer(r.InvocationInfo),
		types.I64,
		types.NewPointer(types.I8Ptr),
		types.NewPointer(types.I8Ptr),
		types.I64,
		types.I64,
	)
}

// SubmitTask declares nanos6_submit_task(task)
func (r *Runtime) SubmitTask() *ir.Func {
	return r.declare("nanos6_submit_task", types.Void, types.I8Ptr)
}

// Taskwait declares nanos6_taskwait(source)
func (r *Runtime) Taskwait() *ir.Func {
	return r.declare("nanos6_taskwait", types.Void, types.I8Ptr)
}

// RegisterDep declares the entry point registering a dependency of the
// given marker kind and rank
func (r *Runtime) RegisterDep(kind string, dims int) (*ir.Func, error) {
	name, ok := depNames[kind]
	if !ok {
		return nil, fmt.Errorf("unknown dependency kind %q", kind)
	}
	if dims < 1 || dims > MaxDims {
		return nil, fmt.Errorf("dependency rank %d out of range 1..%d", dims, MaxDims)
	}
	params := []types.Type{types.I8Ptr, types.I32, types.I8Ptr, types.I8Ptr}
	for i := 0; i < 3*dims; i++ {
		params = append(params, types.I64)
	}
	return r.declare(fmt.Sprintf("nanos6_register_region_%s_depinfo%d", name, dims), types.Void, params...), nil
}

// RegisterReduction declares the entry point registering a (weak)
// reduction of the given rank
func (r *Runtime) RegisterReduction(weak bool, dims int) (*ir.Func, error) {
	if dims < 1 || dims > MaxDims {
		return nil, fmt.Errorf("reduction rank %d out of range 1..%d", dims, MaxDims)
	}
	name := "reduction"
	if weak {
		name = "weak_reduction"
	}
	params := []types.Type{types.I32, types.I32, types.I8Ptr, types.I32, types.I8Ptr, types.I8Ptr}
	for i := 0; i < 3*dims; i++ {
		params = append(params, types.I64)
	}
	return r.declare(fmt.Sprintf("nanos6_register_region_%s_depinfo%d", name, dims), types.Void, params...), nil
}

// DepKinds lists the marker spellings of the non-reduction dependency
// kinds in registration order
var DepKinds = []string{"IN", "OUT", "INOUT", "CONCURRENT", "COMMUTATIVE", "WEAKIN", "WEAKOUT", "WEAKINOUT"}

// TypeCode returns the runtime code of a reduction element type
func TypeCode(t ctypes.Type) (int, bool) {
	switch ut := ctypes.Unqual(t).(type) {
	case ctypes.Tint:
		switch ut.Size {
		case ctypes.IBool:
			return 18000, true
		case ctypes.I8:
			switch {
			case ut.Sign == ctypes.Unsigned:
				return 3000, true
			case ut.Plain:
				return 1000, true
			}
			return 2000, true
		case ctypes.I16:
			if ut.Sign == ctypes.Unsigned {
				return 5000, true
			}
			return 4000, true
		}
		if ut.Sign == ctypes.Unsigned {
			return 7000, true
		}
		return 6000, true
	case ctypes.Tlong:
		code := 8000
		if ut.LongLong {
			code = 10000
		}
		if ut.Sign == ctypes.Unsigned {
			code += 1000
		}
		return code, true
	case ctypes.Tfloat:
		if ut.Size == ctypes.F32 {
			return 12000, true
		}
		return 13000, true
	}
	return 0, false
}

// ReductionCode combines an element type and operator code; declared
// reductions use -1
func ReductionCode(t ctypes.Type, op int) int {
	if op < 0 {
		return -1
	}
	code, ok := TypeCode(t)
	if !ok {
		return -1
	}
	return code + op
}

// Names generates the symbol names of task n of function fn
type Names struct {
	Func string
	N    int
}

func (n Names) name(prefix string) string {
	return fmt.Sprintf("%s_%s%d", prefix, n.Func, n.N)
}

func (n Names) Args() string { return n.name("nanos6_task_args") }
func (n Names) UnpackedRegion() string { return n.name("nanos6_unpacked_task_region") }
func (n Names) OutlineRegion() string { return n.name("nanos6_ol_task_region") }
func (n Names) UnpackedDeps() string { return n.name("nanos6_unpacked_deps") }
func (n Names) OutlineDeps() string { return n.name("nanos6_ol_deps") }
func (n Names) UnpackedConstraints() string { return n.name("nanos6_unpacked_constraints") }
func (n Names) OutlineConstraints() string { return n.name("nanos6_ol_constraints") }
func (n Names) UnpackedPriority() string { return n.name("nanos6_unpacked_priority") }
func (n Names) OutlinePriority() string { return n.name("nanos6_ol_priority") }
func (n Names) RedInits() string { return n.name("nanos6_red_init") }
func (n Names) RedCombs() string { return n.name("nanos6_red_comb") }
func (n Names) InvocationInfo() string { return n.name("task_invocation_info") }
func (n Names) Implementations() string { return n.name("implementations_var") }
func (n Names) TaskInfo() string { return n.name("task_info_var") }
