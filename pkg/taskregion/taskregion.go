// Package taskregion recovers tasks from the region markers of an IR
// function. A reverse postorder scan matches every entry marker with its
// exit, decodes the operand bundles into an Info and checks that the body
// only reaches outside values through its data-sharing sets.
package taskregion

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/value"
	"github.com/raymyers/ralph-oss/pkg/dom"
	"github.com/raymyers/ralph-oss/pkg/irgen"
)

// ErrInconsistent is returned when markers or data-sharing sets do not
// describe the body they delimit
var ErrInconsistent = errors.New("inconsistent task region")

// Lifecycle pairs a variable's storage with a generated wrapper
type Lifecycle struct {
	Value value.Value
	Func  *ir.Func
}

// Call is an outlined clause function and the values it is called with
type Call struct {
	Func *ir.Func
	Args []value.Value
}

// Dep is one dependency or reduction. RedOp is only meaningful for the
// REDUCTION and WEAKREDUCTION kinds.
type Dep struct {
	Kind    string
	RedOp   int64
	Sym     value.Value
	Text    string
	Compute Call
	Init    *ir.Func
	Combine *ir.Func
}

// IsReduction reports whether d registers a reduction
func (d *Dep) IsReduction() bool {
	return d.Kind == "REDUCTION" || d.Kind == "WEAKREDUCTION"
}

// Info is a task recovered from its markers
type Info struct {
	Entry *ir.InstCall
	Exit  *ir.InstCall

	EntryBlock *ir.Block
	ExitBlock  *ir.Block

	Shared       []value.Value
	Private      []value.Value
	Firstprivate []value.Value

	// VLADims maps the storage of a variable length array to its extents,
	// outermost first
	VLADims  map[value.Value][]value.Value
	Captured []value.Value

	Inits   []Lifecycle
	Deinits []Lifecycle
	Copies  []Lifecycle

	Deps []*Dep

	If, Final      value.Value
	Cost, Priority *Call
	Label          string
	Source         string

	Parent   *Info
	Children []*Info

	inside map[any]bool
	known  map[value.Value]bool
}

// Taskwait is a barrier marker
type Taskwait struct {
	Call   *ir.InstCall
	Source string
}

// FuncInfo holds the tasks of one function, children before parents
type FuncInfo struct {
	Func      *ir.Func
	Tasks     []*Info
	Taskwaits []*Taskwait
	Dom       *dom.Tree
}

// Violation is a consistency problem found by the checks
type Violation struct {
	Kind string // marker, dsa_missing, use_after_exit
	Msg  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Kind, v.Msg)
}

// Error reports the violations found in one function. It matches
// ErrInconsistent with errors.Is.
type Error struct {
	Func       string
	Violations []Violation
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Func, e.Violations[0])
	if n := len(e.Violations) - 1; n > 0 {
		msg += fmt.Sprintf(" (and %d more)", n)
	}
	return msg
}

func (e *Error) Unwrap() error { return ErrInconsistent }

// Options configure the analysis
type Options struct {
	// DisableChecks reports violations as advisories instead of failing
	DisableChecks bool
	// Print selects dumps written to Out: task, uses, dsa_missing
	Print []string
	Out   io.Writer
}

func (o Options) printing(what string) bool {
	return o.Out != nil && slices.Contains(o.Print, what)
}

type analyzer struct {
	f     *ir.Func
	opts  Options
	users map[value.Value][]any
	block map[any]*ir.Block

	stack      []*Info
	fi         *FuncInfo
	violations []Violation
}

// Analyze recovers the tasks of f
func Analyze(f *ir.Func, opts Options) (*FuncInfo, error) {
	a := &analyzer{
		f:     f,
		opts:  opts,
		users: Users(f),
		block: map[any]*ir.Block{},
		fi:    &FuncInfo{Func: f, Dom: dom.New(f)},
	}
	// local identifiers are numbered for messages and dumps
	if err := f.AssignIDs(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.Name(), err)
	}
	for _, b := range f.Blocks {
		for _, inst := range b.Insts {
			a.block[inst] = b
		}
		if b.Term != nil {
			a.block[b.Term] = b
		}
	}

	for _, b := range a.fi.Dom.Order {
		for _, inst := range b.Insts {
			if err := a.visit(b, inst); err != nil {
				return nil, err
			}
		}
		if b.Term != nil && len(a.stack) > 0 {
			a.inside(b.Term)
		}
	}
	for _, open := range a.stack {
		a.violate("marker", "task at %s has no exit marker", open.Source)
	}

	if opts.printing("task") || opts.printing("uses") {
		for _, t := range a.fi.Tasks {
			if opts.printing("task") {
				fmt.Fprint(opts.Out, t.String())
			}
			if opts.printing("uses") {
				fmt.Fprint(opts.Out, t.uses())
			}
		}
	}
	if opts.printing("dsa_missing") {
		for _, v := range a.violations {
			fmt.Fprintf(opts.Out, "%s: %s\n", f.Name(), v)
		}
	}
	if len(a.violations) > 0 && !opts.DisableChecks {
		return nil, &Error{Func: f.Name(), Violations: a.violations}
	}
	return a.fi, nil
}

func (a *analyzer) violate(kind, format string, args ...any) {
	a.violations = append(a.violations, Violation{Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (a *analyzer) top() *Info {
	if len(a.stack) == 0 {
		return nil
	}
	return a.stack[len(a.stack)-1]
}

// inside records inst as part of every open task and checks its operands
// against the innermost one
func (a *analyzer) inside(inst any) {
	for _, t := range a.stack {
		t.inside[inst] = true
	}
	t := a.top()
	for _, op := range Operands(inst) {
		v := *op
		switch v.(type) {
		case ir.Instruction, *ir.Param:
		default:
			continue
		}
		if t.inside[v] || t.known[v] {
			continue
		}
		a.violate("dsa_missing", "%s used in task at %s is not in its data-sharing sets", ident(v), t.Source)
	}
}

func (a *analyzer) visit(b *ir.Block, inst ir.Instruction) error {
	call, ok := inst.(*ir.InstCall)
	if !ok {
		if len(a.stack) > 0 {
			a.inside(inst)
		}
		return nil
	}
	switch calleeName(call) {
	case irgen.RegionEntry:
		if len(a.stack) > 0 {
			a.inside(inst)
		}
		info, err := decode(call)
		if err != nil {
			return fmt.Errorf("%s: %w", a.f.Name(), err)
		}
		info.EntryBlock = b
		if parent := a.top(); parent != nil {
			info.Parent = parent
			parent.Children = append(parent.Children, info)
		}
		a.stack = append(a.stack, info)
	case irgen.RegionExit:
		a.exit(b, call)
	case irgen.Marker:
		if len(a.stack) > 0 {
			a.inside(inst)
		}
		tw := &Taskwait{Call: call}
		for _, bun := range call.OperandBundles {
			if bun.Tag == "QUAL.OSS.DECL.SOURCE" && len(bun.Inputs) == 1 {
				tw.Source = cstring(bun.Inputs[0])
			}
		}
		a.fi.Taskwaits = append(a.fi.Taskwaits, tw)
	default:
		if len(a.stack) > 0 {
			a.inside(inst)
		}
	}
	return nil
}

func (a *analyzer) exit(b *ir.Block, call *ir.InstCall) {
	t := a.top()
	if t == nil || len(call.Args) != 1 || call.Args[0] != value.Value(t.Entry) {
		a.violate("marker", "region exit in block %s does not close the innermost open task", b.Ident())
		return
	}
	a.stack = a.stack[:len(a.stack)-1]
	for _, outer := range a.stack {
		outer.inside[call] = true
	}
	t.Exit = call
	t.ExitBlock = b

	if users := a.users[t.Entry]; len(users) != 1 || users[0] != any(call) {
		a.violate("marker", "entry token of task at %s has %d users, want only its exit", t.Source, len(users))
	}
	if !a.fi.Dom.Dominates(t.EntryBlock, b) {
		a.violate("marker", "entry of task at %s does not dominate its exit", t.Source)
	}
	for inst := range t.inside {
		v, ok := inst.(value.Value)
		if !ok {
			continue
		}
		for _, u := range a.users[v] {
			if t.inside[u] || u == any(call) {
				continue
			}
			if ub := a.block[u]; ub != nil && a.fi.Dom.Dominates(b, ub) {
				a.violate("use_after_exit", "%s defined in task at %s is used after its exit", ident(v), t.Source)
				break
			}
		}
	}
	a.fi.Tasks = append(a.fi.Tasks, t)
}

func calleeName(call *ir.InstCall) string {
	if fn, ok := call.Callee.(*ir.Func); ok {
		return fn.Name()
	}
	return ""
}

// cstring decodes a NUL terminated character array constant
func cstring(v value.Value) string {
	ca, ok := v.(*constant.CharArray)
	if !ok {
		return ""
	}
	return strings.TrimSuffix(string(ca.X), "\x00")
}

func ident(v value.Value) string {
	return v.Ident()
}

// decode reads the bundles of an entry marker
func decode(call *ir.InstCall) (*Info, error) {
	t := &Info{
		Entry:   call,
		VLADims: map[value.Value][]value.Value{},
		inside:  map[any]bool{},
		known:   map[value.Value]bool{},
	}
	fail := func(tag string, why string) error {
		return fmt.Errorf("bundle %q: %s: %w", tag, why, ErrInconsistent)
	}
	fnArg := func(tag string, v value.Value) (*ir.Func, error) {
		fn, ok := v.(*ir.Func)
		if !ok {
			return nil, fail(tag, "expected a function")
		}
		return fn, nil
	}
	var lastRed *Dep
	for _, b := range call.OperandBundles {
		in := b.Inputs
		tag := strings.TrimPrefix(b.Tag, "QUAL.OSS.")
		switch {
		case b.Tag == "DIR.OSS":
			if len(in) != 1 || cstring(in[0]) != "TASK" {
				return nil, fail(b.Tag, "not a task directive")
			}
		case tag == "SHARED" || tag == "PRIVATE" || tag == "FIRSTPRIVATE":
			if len(in) != 1 {
				return nil, fail(b.Tag, "expected one value")
			}
			switch tag {
			case "SHARED":
				t.Shared = append(t.Shared, in[0])
			case "PRIVATE":
				t.Private = append(t.Private, in[0])
			default:
				t.Firstprivate = append(t.Firstprivate, in[0])
			}
		case tag == "VLA.DIMS":
			if len(in) < 2 {
				return nil, fail(b.Tag, "expected storage and extents")
			}
			t.VLADims[in[0]] = in[1:]
		case tag == "CAPTURED":
			t.Captured = append(t.Captured, in...)
		case tag == "INIT" || tag == "DEINIT" || tag == "COPY":
			if len(in) != 2 {
				return nil, fail(b.Tag, "expected storage and function")
			}
			fn, err := fnArg(b.Tag, in[1])
			if err != nil {
				return nil, err
			}
			lc := Lifecycle{Value: in[0], Func: fn}
			switch tag {
			case "INIT":
				t.Inits = append(t.Inits, lc)
			case "DEINIT":
				t.Deinits = append(t.Deinits, lc)
			default:
				t.Copies = append(t.Copies, lc)
			}
		case tag == "DEP.REDUCTION.INIT" || tag == "DEP.REDUCTION.COMBINE":
			if lastRed == nil || len(in) != 2 || in[0] != lastRed.Sym {
				return nil, fail(b.Tag, "does not follow its reduction")
			}
			fn, err := fnArg(b.Tag, in[1])
			if err != nil {
				return nil, err
			}
			if tag == "DEP.REDUCTION.INIT" {
				lastRed.Init = fn
			} else {
				lastRed.Combine = fn
			}
		case strings.HasPrefix(tag, "DEP."):
			d := &Dep{Kind: strings.TrimPrefix(tag, "DEP.")}
			if d.IsReduction() {
				if len(in) == 0 {
					return nil, fail(b.Tag, "missing reduction operator")
				}
				op, ok := in[0].(*constant.Int)
				if !ok {
					return nil, fail(b.Tag, "reduction operator is not a constant")
				}
				d.RedOp = op.X.Int64()
				in = in[1:]
				lastRed = d
			}
			if len(in) < 3 {
				return nil, fail(b.Tag, "expected symbol, text and compute function")
			}
			fn, err := fnArg(b.Tag, in[2])
			if err != nil {
				return nil, err
			}
			d.Sym, d.Text = in[0], cstring(in[1])
			d.Compute = Call{Func: fn, Args: in[3:]}
			t.Deps = append(t.Deps, d)
		case tag == "IF" || tag == "FINAL":
			if len(in) != 1 {
				return nil, fail(b.Tag, "expected one condition")
			}
			if tag == "IF" {
				t.If = in[0]
			} else {
				t.Final = in[0]
			}
		case tag == "COST" || tag == "PRIORITY":
			if len(in) < 1 {
				return nil, fail(b.Tag, "expected a function")
			}
			fn, err := fnArg(b.Tag, in[0])
			if err != nil {
				return nil, err
			}
			c := &Call{Func: fn, Args: in[1:]}
			if tag == "COST" {
				t.Cost = c
			} else {
				t.Priority = c
			}
		case tag == "LABEL":
			t.Label = cstring(in[0])
		case tag == "DECL.SOURCE":
			t.Source = cstring(in[0])
		default:
			return nil, fail(b.Tag, "unknown bundle")
		}
	}

	for _, list := range [][]value.Value{t.Shared, t.Private, t.Firstprivate, t.Captured} {
		for _, v := range list {
			t.known[v] = true
		}
	}
	for _, dims := range t.VLADims {
		for _, v := range dims {
			t.known[v] = true
		}
	}
	return t, nil
}

// Vars returns the data-sharing values in argument block order
func (t *Info) Vars() []value.Value {
	out := slices.Clone(t.Shared)
	out = append(out, t.Private...)
	return append(out, t.Firstprivate...)
}

// String renders the task for the "task" dump
func (t *Info) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "task at %s\n", t.Source)
	for _, g := range []struct {
		name string
		vals []value.Value
	}{{"shared", t.Shared}, {"private", t.Private}, {"firstprivate", t.Firstprivate}, {"captured", t.Captured}} {
		for _, v := range g.vals {
			fmt.Fprintf(&sb, "  %s %s\n", g.name, ident(v))
		}
	}
	for _, v := range t.Vars() {
		if dims, ok := t.VLADims[v]; ok {
			names := make([]string, len(dims))
			for i, d := range dims {
				names[i] = ident(d)
			}
			fmt.Fprintf(&sb, "  vla %s [%s]\n", ident(v), strings.Join(names, ", "))
		}
	}
	for _, d := range t.Deps {
		fmt.Fprintf(&sb, "  dep %s %s: %s\n", d.Kind, d.Text, d.Compute.Func.Name())
	}
	if t.Label != "" {
		fmt.Fprintf(&sb, "  label %q\n", t.Label)
	}
	return sb.String()
}

// uses lists the outside values the body refers to
func (t *Info) uses() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "uses of task at %s\n", t.Source)
	seen := map[value.Value]bool{}
	var insts []any
	for inst := range t.inside {
		insts = append(insts, inst)
	}
	var lines []string
	for _, inst := range insts {
		for _, op := range Operands(inst) {
			v := *op
			switch v.(type) {
			case ir.Instruction, *ir.Param, *ir.Global:
			default:
				continue
			}
			if t.inside[v] || seen[v] || v == value.Value(t.Entry) {
				continue
			}
			seen[v] = true
			lines = append(lines, "  "+ident(v))
		}
	}
	slices.Sort(lines)
	sb.WriteString(strings.Join(lines, "\n"))
	if len(lines) > 0 {
		sb.WriteByte('\n')
	}
	return sb.String()
}
