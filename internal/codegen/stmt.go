package codegen

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/enum"

	"cheshire/internal/ast"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Top-level methods and globals
// ---------------------------------------------------------------------------

func (g *Generator) declareMethod(m *ast.MethodDecl) {
	ret := g.resolve(m.Return)
	params := g.resolveParams(m.Params)
	f := g.newFunc(m.Name, ret, nil, params, paramNames(m.Params))
	g.define(m.Pos, m.Name, storage{kind: storeMethod, typ: g.reg.Lambda(ret, params), fn: f})
}

func (g *Generator) declareGlobal(v *ast.GlobalVar) {
	t := g.resolve(v.Type)
	glob := ir.NewGlobal(v.Name, g.llvm(t))
	g.define(v.Pos, v.Name, storage{kind: storeGlobal, typ: t, ptr: glob})
}

// method emits a global method. Methods without a body become declarations.
func (g *Generator) method(m *ast.MethodDecl) {
	s := g.lookup(m.Pos, m.Name)
	g.unit.Funcs = append(g.unit.Funcs, s.fn)
	if m.Body == nil {
		return
	}
	sig, err := g.reg.Signature(s.typ)
	if err != nil {
		g.fail(m.Pos, err)
	}
	g.body(s.fn, sig.Return, sig.Params, m.Body, nil)
}

// global emits a global variable. Initialisers are folded to constants;
// globals without one are external.
func (g *Generator) global(v *ast.GlobalVar) {
	s := g.lookup(v.Pos, v.Name)
	glob, ok := s.ptr.(*ir.Global)
	if !ok {
		g.failf(v.Pos, ErrUnknownStorage, "global %s", v.Name)
	}
	if v.Value == nil {
		glob.Linkage = enum.LinkageExternal
	} else {
		glob.Init = g.fold(v.Value)
	}
	g.unit.Globals = append(g.unit.Globals, glob)
}

// ---------------------------------------------------------------------------
// Function bodies
// ---------------------------------------------------------------------------

// body emits f. params holds the checker type of every parameter of f,
// self included; a leading closure environment is not listed. Each
// parameter is copied into a local so it can be assigned. prologue, when non-nil, runs after the copies and before the
// statements.
func (g *Generator) body(f *ir.Func, ret types.Type, params []types.Type, body *ast.BlockStmt, prologue func()) {
	prevFn, prevBlock, prevExpected := g.fn, g.block, g.expected
	g.fn, g.expected = f, ret
	g.block = f.NewBlock("entry")

	g.scope.Raise()
	hidden := len(f.Params) - len(params)
	for i, p := range f.Params[hidden:] {
		name := strings.TrimPrefix(p.Name(), paramPrefix)
		slot := g.alloca(params[i], name)
		g.block.NewStore(p, slot)
		g.define(body.Pos, name, storage{kind: storeLocal, typ: params[i], ptr: slot})
	}
	if prologue != nil {
		prologue()
	}
	g.stmts(body.Stmts)
	g.finish()
	if err := g.scope.Fall(); err != nil {
		g.fail(body.Pos, err)
	}

	g.fn, g.block, g.expected = prevFn, prevBlock, prevExpected
}

// finish terminates a block that falls off the end of the function.
func (g *Generator) finish() {
	if g.block.Term != nil {
		return
	}
	if g.expected.IsVoid() {
		g.block.NewRet(nil)
		return
	}
	g.block.NewRet(g.zero(g.expected))
}

// alloca reserves a local in the entry block.
func (g *Generator) alloca(t types.Type, name string) *ir.InstAlloca {
	slot := g.fn.Blocks[0].NewAlloca(g.llvm(t))
	slot.SetName(g.local(name))
	return slot
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// stmts emits a statement list. Statements after a terminator land in a
// fresh block with no predecessors.
func (g *Generator) stmts(list []ast.Stmt) {
	for _, s := range list {
		if g.block.Term != nil {
			g.block = g.newBlock()
		}
		g.stmt(s)
	}
}

func (g *Generator) stmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.VarDef:
		val := g.expr(s.Value)
		t := g.typeOf(s.Value)
		slot := g.alloca(t, s.Name)
		g.block.NewStore(val, slot)
		g.define(s.Pos, s.Name, storage{kind: storeLocal, typ: t, ptr: slot})

	case *ast.ExprStmt:
		g.expr(s.Expression)

	case *ast.BlockStmt:
		g.scope.Raise()
		g.stmts(s.Stmts)
		g.fall(s.Pos)

	case *ast.IfStmt:
		g.ifStmt(s)

	case *ast.WhileStmt:
		g.whileStmt(s)

	case *ast.AssertStmt:
		cond := g.expr(s.Condition)
		ok := g.newBlock()
		failed := g.newBlock()
		g.block.NewCondBr(cond, ok, failed)
		failed.NewCall(g.rt.assertFail)
		failed.NewUnreachable()
		g.block = ok

	case *ast.ReturnStmt:
		if s.Value == nil {
			g.block.NewRet(nil)
			return
		}
		g.block.NewRet(g.expr(s.Value))

	default:
		g.failf(stmt.GetPos(), ErrUnsupported, "statement %T", stmt)
	}
}

// nested emits an if or while arm in its own frame.
func (g *Generator) nested(s ast.Stmt) {
	g.scope.Raise()
	g.stmt(s)
	g.fall(s.GetPos())
}

func (g *Generator) fall(pos ast.Position) {
	if err := g.scope.Fall(); err != nil {
		g.fail(pos, err)
	}
}

// ifStmt lowers if and if-else. When neither arm reaches the join block
// the join block ends in unreachable.
func (g *Generator) ifStmt(s *ast.IfStmt) {
	cond := g.expr(s.Condition)
	then := g.newBlock()
	if s.Else == nil {
		join := g.newBlock()
		g.block.NewCondBr(cond, then, join)
		g.block = then
		g.nested(s.Then)
		if g.block.Term == nil {
			g.block.NewBr(join)
		}
		g.block = join
		return
	}

	els := g.newBlock()
	join := g.newBlock()
	g.block.NewCondBr(cond, then, els)
	reached := false
	for _, arm := range []struct {
		block *ir.Block
		stmt  ast.Stmt
	}{{then, s.Then}, {els, s.Else}} {
		g.block = arm.block
		g.nested(arm.stmt)
		if g.block.Term == nil {
			g.block.NewBr(join)
			reached = true
		}
	}
	g.block = join
	if !reached {
		join.NewUnreachable()
	}
}

func (g *Generator) whileStmt(s *ast.WhileStmt) {
	head := g.newBlock()
	loop := g.newBlock()
	exit := g.newBlock()
	g.block.NewBr(head)

	g.block = head
	cond := g.expr(s.Condition)
	g.block.NewCondBr(cond, loop, exit)

	g.block = loop
	g.nested(s.Body)
	if g.block.Term == nil {
		g.block.NewBr(head)
	}
	g.block = exit
}
