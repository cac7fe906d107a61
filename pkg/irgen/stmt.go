package irgen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"
	"github.com/raymyers/ralph-oss/pkg/cabs"
	"github.com/raymyers/ralph-oss/pkg/ctypes"
)

func (f *fnState) stmt(s cabs.Stmt) {
	if f.cur.Term != nil {
		// unreachable code after return, break or continue
		f.cur = f.newBlock()
	}
	switch st := s.(type) {
	case *cabs.Block:
		for _, item := range st.Items {
			f.stmt(item)
		}
	case *cabs.DeclStmt:
		for _, d := range st.Decls {
			f.localDecl(d)
		}
	case *cabs.Computation:
		f.rvalue(st.Expr)
	case *cabs.Empty:
	case *cabs.If:
		then, end := f.newBlock(), f.newBlock()
		els := end
		if st.Else != nil {
			els = f.newBlock()
		}
		f.cur.NewCondBr(f.cond(st.Cond), then, els)
		f.cur = then
		f.stmt(st.Then)
		f.jump(end)
		if st.Else != nil {
			f.cur = els
			f.stmt(st.Else)
			f.jump(end)
		}
		f.cur = end
	case *cabs.While:
		head, body, end := f.newBlock(), f.newBlock(), f.newBlock()
		f.cur.NewBr(head)
		f.cur = head
		f.cur.NewCondBr(f.cond(st.Cond), body, end)
		f.cur = body
		f.loopBody(st.Body, end, head)
		f.jump(head)
		f.cur = end
	case *cabs.DoWhile:
		body, test, end := f.newBlock(), f.newBlock(), f.newBlock()
		f.cur.NewBr(body)
		f.cur = body
		f.loopBody(st.Body, end, test)
		f.jump(test)
		f.cur = test
		f.cur.NewCondBr(f.cond(st.Cond), body, end)
		f.cur = end
	case *cabs.For:
		if st.Init != nil {
			f.stmt(st.Init)
		}
		head, body, step, end := f.newBlock(), f.newBlock(), f.newBlock(), f.newBlock()
		f.cur.NewBr(head)
		f.cur = head
		if st.Cond != nil {
			f.cur.NewCondBr(f.cond(st.Cond), body, end)
		} else {
			f.cur.NewBr(body)
		}
		f.cur = body
		f.loopBody(st.Body, end, step)
		f.jump(step)
		f.cur = step
		if st.Step != nil {
			f.rvalue(st.Step)
		}
		f.cur.NewBr(head)
		f.cur = end
	case *cabs.Return:
		if st.Expr == nil {
			if f.ret == nil || ctypes.IsVoid(f.ret) {
				f.cur.NewRet(nil)
			} else {
				f.finish()
			}
			return
		}
		v := f.rvalue(st.Expr)
		if f.ret == nil || ctypes.IsVoid(f.ret) {
			f.cur.NewRet(nil)
			return
		}
		f.cur.NewRet(f.convert(v, f.valueType(st.Expr), f.ret))
	case *cabs.Break:
		f.cur.NewBr(f.breaks[len(f.breaks)-1])
	case *cabs.Continue:
		f.cur.NewBr(f.continues[len(f.continues)-1])
	case *cabs.TaskStmt:
		f.task(st)
	case *cabs.TaskwaitStmt:
		f.taskwait(st.Loc)
	default:
		f.g.unsupported(s.Pos(), "statement %T", s)
	}
}

func (f *fnState) loopBody(body cabs.Stmt, brk, cont *ir.Block) {
	f.breaks = append(f.breaks, brk)
	f.continues = append(f.continues, cont)
	f.stmt(body)
	f.breaks = f.breaks[:len(f.breaks)-1]
	f.continues = f.continues[:len(f.continues)-1]
}

func (f *fnState) localDecl(d *cabs.VarDecl) {
	switch d.Storage {
	case cabs.StorageTypedef:
		if len(d.VLASizes) > 0 {
			f.g.unsupported(d.Loc, "variable length array typedef '%s'", d.Name)
		}
		return
	case cabs.StorageExtern:
		gv, ok := f.g.byName[d.Name]
		if !ok {
			gv = f.g.m.NewGlobal(d.Name, f.g.llType(f.g.info.DeclType(d)))
			f.g.byName[d.Name] = gv
		}
		f.vars[d] = gv
		return
	case cabs.StorageStatic:
		gv := f.g.m.NewGlobalDef(f.g.unique(f.name+"."+d.Name), f.g.staticInit(d.Init, f.g.info.DeclType(d)))
		gv.Linkage = enum.LinkageInternal
		f.vars[d] = gv
		return
	}

	t := f.g.info.DeclType(d)
	f.vlaSizes(d)
	if ctypes.HasVLA(t) {
		// extents are only known at this point of the body
		slot := f.cur.NewAlloca(f.g.pointee(t))
		slot.NElems = f.count(t, d)
		f.vars[d] = slot
		return
	}
	slot := f.alloca(f.g.llType(t))
	f.vars[d] = slot
	if d.Init == nil {
		return
	}
	if a, ok := ctypes.Unqual(t).(ctypes.Tarray); ok {
		if s, ok := cabs.StripParens(d.Init).(*cabs.StringLit); ok {
			f.cur.NewStore(charArray(s.Value, a.Size), slot)
		}
		return
	}
	v := f.rvalue(d.Init)
	f.cur.NewStore(f.convert(v, f.valueType(d.Init), t), slot)
}
