// Package tasklower replaces the task regions of a generated module with
// calls into the nanos6 runtime. Every region is outlined into its own
// function and its clauses become descriptor globals and callbacks.
// Nested tasks are lowered before the task that contains them.
package tasklower

import (
	"fmt"
	"slices"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/config"
	"github.com/raymyers/ralph-oss/pkg/dom"
	"github.com/raymyers/ralph-oss/pkg/irgen"
	"github.com/raymyers/ralph-oss/pkg/nanos6"
	"github.com/raymyers/ralph-oss/pkg/taskregion"
)

// Options configure lowering
type Options struct {
	Lowering config.Lowering
	Analysis taskregion.Options
}

// DefaultOptions uses the built-in lowering settings
func DefaultOptions() Options {
	return Options{Lowering: config.Default().Lowering}
}

// Error is an internal inconsistency found while outlining a task. It
// matches taskregion.ErrInconsistent with errors.Is.
type Error struct {
	Func   string
	Source string
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: task at %s: %s", e.Func, e.Source, e.Msg)
}

func (e *Error) Unwrap() error { return taskregion.ErrInconsistent }

// Result summarizes a lowered module
type Result struct {
	Funcs     []*taskregion.FuncInfo
	Tasks     int
	Taskwaits int
}

type lowerer struct {
	m    *ir.Module
	rt   *nanos6.Runtime
	opts config.Lowering

	strs   map[string]*ir.Global
	memcpy *ir.Func
}

// Lower outlines every task of u in place
func Lower(u *irgen.Unit, opts Options) (*Result, error) {
	l := &lowerer{
		m:    u.Module,
		rt:   u.Runtime,
		opts: opts.Lowering,
		strs: map[string]*ir.Global{},
	}
	if l.rt == nil {
		l.rt = nanos6.New(u.Module)
	}
	res := &Result{}
	for _, f := range slices.Clone(u.Module.Funcs) {
		if len(f.Blocks) == 0 || !hasMarkers(f) {
			continue
		}
		prune(f)
		fi, err := taskregion.Analyze(f, opts.Analysis)
		if err != nil {
			return nil, err
		}
		clearIDs(f)
		res.Funcs = append(res.Funcs, fi)

		for _, tw := range fi.Taskwaits {
			l.taskwait(f, tw)
		}
		for i, t := range fi.Tasks {
			if err := l.task(f, t, nanos6.Names{Func: f.Name(), N: i}); err != nil {
				return nil, err
			}
		}
		res.Tasks += len(fi.Tasks)
		res.Taskwaits += len(fi.Taskwaits)
	}
	l.dropMarkers()
	return res, nil
}

func isMarker(inst ir.Instruction) bool {
	call, ok := inst.(*ir.InstCall)
	if !ok {
		return false
	}
	fn, ok := call.Callee.(*ir.Func)
	if !ok {
		return false
	}
	switch fn.Name() {
	case irgen.RegionEntry, irgen.RegionExit, irgen.Marker:
		return true
	}
	return false
}

func hasMarkers(f *ir.Func) bool {
	for _, b := range f.Blocks {
		if slices.ContainsFunc(b.Insts, isMarker) {
			return true
		}
	}
	return false
}

// prune drops blocks unreachable from the entry
func prune(f *ir.Func) {
	tree := dom.New(f)
	f.Blocks = slices.DeleteFunc(f.Blocks, func(b *ir.Block) bool {
		_, ok := tree.Index(b)
		return !ok
	})
}

type localIdent interface {
	IsUnnamed() bool
	SetID(id int64)
}

// clearIDs forgets the numbering of unnamed locals. Blocks change
// functions during outlining and are renumbered when printed.
func clearIDs(f *ir.Func) {
	forget := func(v any) {
		if n, ok := v.(localIdent); ok && n.IsUnnamed() {
			n.SetID(0)
		}
	}
	for _, p := range f.Params {
		forget(p)
	}
	for _, b := range f.Blocks {
		forget(b)
		for _, inst := range b.Insts {
			forget(inst)
		}
	}
}

// taskwait replaces a barrier marker with the runtime call
func (l *lowerer) taskwait(f *ir.Func, tw *taskregion.Taskwait) {
	for _, b := range f.Blocks {
		for i, inst := range b.Insts {
			if inst == ir.Instruction(tw.Call) {
				b.Insts[i] = ir.NewCall(l.rt.Taskwait(), l.str(tw.Source))
				return
			}
		}
	}
}

// dropMarkers removes the marker declarations once nothing calls them
func (l *lowerer) dropMarkers() {
	l.m.Funcs = slices.DeleteFunc(l.m.Funcs, func(f *ir.Func) bool {
		switch f.Name() {
		case irgen.RegionEntry, irgen.RegionExit, irgen.Marker:
			return len(f.Blocks) == 0
		}
		return false
	})
}

func (l *lowerer) newFunc(name string, ret types.Type, params ...types.Type) *ir.Func {
	ps := make([]*ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.NewParam("", p)
	}
	fn := l.m.NewFunc(name, ret, ps...)
	fn.Linkage = enum.LinkageInternal
	return fn
}

// str returns a pointer to a NUL terminated copy of s
func (l *lowerer) str(s string) constant.Constant {
	gv, ok := l.strs[s]
	if !ok {
		gv = l.m.NewGlobalDef(fmt.Sprintf(".oss.str.%d", len(l.strs)), constant.NewCharArrayFromString(s+"\x00"))
		gv.Linkage = enum.LinkagePrivate
		gv.Immutable = true
		l.strs[s] = gv
	}
	return constant.NewGetElementPtr(gv.ContentType, gv, i64(0), i64(0))
}

// memcpyFunc declares the memcpy intrinsic
func (l *lowerer) memcpyFunc() *ir.Func {
	const name = "llvm.memcpy.p0i8.p0i8.i64"
	if l.memcpy != nil {
		return l.memcpy
	}
	for _, f := range l.m.Funcs {
		if f.Name() == name {
			l.memcpy = f
			return f
		}
	}
	l.memcpy = l.m.NewFunc(name, types.Void,
		ir.NewParam("", types.I8Ptr), ir.NewParam("", types.I8Ptr), ir.NewParam("", types.I64), ir.NewParam("", types.I1))
	return l.memcpy
}

func i32(n int64) *constant.Int { return constant.NewInt(types.I32, n) }

func i64(n int64) *constant.Int { return constant.NewInt(types.I64, n) }

// mul multiplies two i64 values at the end of b, folding constants
func mul(b *ir.Block, x, y value.Value) value.Value {
	cx, okx := x.(*constant.Int)
	cy, oky := y.(*constant.Int)
	switch {
	case okx && oky:
		return i64(cx.X.Int64() * cy.X.Int64())
	case okx && cx.X.Int64() == 1:
		return y
	case oky && cy.X.Int64() == 1:
		return x
	}
	return b.NewMul(x, y)
}

// fnPtr is fn as a constant of the callback type sig
func fnPtr(fn *ir.Func, sig *types.FuncType) constant.Constant {
	pt := types.NewPointer(sig)
	if fn == nil {
		return constant.NewNull(pt)
	}
	if types.Equal(fn.Type(), pt) {
		return fn
	}
	return constant.NewBitCast(fn, pt)
}
