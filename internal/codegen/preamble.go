package codegen

import (
	"fmt"

	"fortio.org/safecast"
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cheshire/internal/ast"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Preamble definitions
//
// Constants and closures are collected in the preamble module while a unit is
// emitted and written right after it.
// ---------------------------------------------------------------------------

// stringLit places the bytes in a private constant and wraps them in a String
// through the runtime constructor.
func (g *Generator) stringLit(e *ast.StringLit) value.Value {
	length, err := safecast.Conv[int32](len(e.Value))
	if err != nil {
		g.failf(e.Pos, ErrUnsupported, "string literal of %d bytes", len(e.Value))
	}
	data := constant.NewCharArrayFromString(e.Value)
	glob := g.preamble.NewGlobalDef(fmt.Sprintf("_String%d", g.next()), data)
	glob.Immutable = true
	ptr := constant.NewGetElementPtr(data.Typ, glob, zero32, zero32)
	return g.construct(types.String, []value.Value{ptr, constant.NewInt(irtypes.I32, int64(length))})
}

// arrayLit places the folded elements in a global and yields a pointer to
// the first one.
func (g *Generator) arrayLit(e *ast.ArrayLit, t types.Type) value.Value {
	elem := g.llvm(t.Elem())
	n, err := safecast.Conv[uint64](len(e.Elems))
	if err != nil {
		g.fail(e.Pos, err)
	}
	typ := irtypes.NewArray(n, elem)
	var init constant.Constant = constant.NewZeroInitializer(typ)
	if n > 0 {
		elems := make([]constant.Constant, len(e.Elems))
		for i, el := range e.Elems {
			elems[i] = g.fold(el)
		}
		init = constant.NewArray(typ, elems...)
	}
	glob := g.preamble.NewGlobalDef(fmt.Sprintf("_Array%d", g.next()), init)
	return constant.NewGetElementPtr(typ, glob, zero32, zero32)
}

// closure emits the body as a preamble function taking the environment
// first. Every evaluation copies the captured values into a fresh heap
// environment, so each closure value keeps its own bindings. A closure
// without captures gets a null environment.
func (g *Generator) closure(e *ast.Closure, t types.Type) value.Value {
	sig, err := g.reg.Signature(t)
	if err != nil {
		g.fail(e.Pos, err)
	}
	if len(e.CaptureTypes) != len(e.Captures) {
		g.failf(e.Pos, ErrUnannotated, "closure captures")
	}

	var env value.Value = constant.NewNull(irtypes.I8Ptr)
	var envType *irtypes.StructType
	if len(e.Captures) > 0 {
		fields := make([]irtypes.Type, len(e.CaptureTypes))
		for i, ct := range e.CaptureTypes {
			fields[i] = g.llvm(ct)
		}
		envType = irtypes.NewStruct(fields...)
		raw, cells := g.allocate(envType)
		for i, c := range e.Captures {
			v := g.load(e.Pos, g.lookup(e.Pos, c))
			g.block.NewStore(v, g.cell(envType, cells, i))
		}
		env = raw
	}

	name := fmt.Sprintf("_Closure%d", g.next())
	f := g.newFunc(name, sig.Return, ir.NewParam(envParam, irtypes.I8Ptr), sig.Params, paramNames(e.Params))
	g.preamble.Funcs = append(g.preamble.Funcs, f)

	restore := g.scope.Isolate()
	g.body(f, sig.Return, sig.Params, e.Body, func() {
		if envType == nil {
			return
		}
		cells := g.block.NewBitCast(f.Params[0], irtypes.NewPointer(envType))
		cells.SetName(g.temp())
		for i, c := range e.Captures {
			ct := e.CaptureTypes[i]
			slot := g.alloca(ct, c)
			g.block.NewStore(g.loadFrom(ct, g.cell(envType, cells, i)), slot)
			g.define(e.Pos, c, storage{kind: storeLocal, typ: ct, ptr: slot})
		}
	})
	if err := restore(); err != nil {
		g.fail(e.Pos, err)
	}
	return g.pair(t, f, env)
}

// cell addresses capture i of an environment.
func (g *Generator) cell(envType *irtypes.StructType, env value.Value, i int) value.Value {
	addr := g.block.NewGetElementPtr(envType, env, zero32, constant.NewInt(irtypes.I32, int64(i)))
	addr.SetName(g.temp())
	return addr
}

// pair builds the closure value of lambda type t from a function taking the
// environment first and the environment.
func (g *Generator) pair(t types.Type, fn *ir.Func, env value.Value) value.Value {
	base := constant.NewStruct(g.closureType(t), fn, constant.NewNull(irtypes.I8Ptr))
	v := g.block.NewInsertValue(base, env, 1)
	v.SetName(g.temp())
	return v
}

// methodValue turns a plain function of lambda type t into a closure value.
// The function itself is the environment and the adapter of t calls it.
func (g *Generator) methodValue(t types.Type, fn value.Value) value.Value {
	env := g.block.NewBitCast(fn, irtypes.I8Ptr)
	env.SetName(g.temp())
	return g.pair(t, g.adapter(t), env)
}

// adapter returns the preamble function that calls the plain function of
// lambda type t held in its environment. One adapter serves every method
// of that type.
func (g *Generator) adapter(t types.Type) *ir.Func {
	if f, ok := g.adapters[t.Key]; ok {
		return f
	}
	sig, err := g.reg.Signature(t)
	if err != nil {
		g.fail(ast.Position{}, err)
	}
	f := g.newFunc(fmt.Sprintf("_Adapter%d", g.next()), sig.Return, ir.NewParam(envParam, irtypes.I8Ptr), sig.Params, nil)
	entry := f.NewBlock("entry")
	target := entry.NewBitCast(f.Params[0], irtypes.NewPointer(g.funcType(t)))
	target.SetName("target")
	args := make([]value.Value, len(sig.Params))
	for i, p := range f.Params[1:] {
		args[i] = p
	}
	result := entry.NewCall(target, args...)
	if sig.Return.IsVoid() {
		entry.NewRet(nil)
	} else {
		result.SetName("result")
		entry.NewRet(result)
	}

	g.preamble.Funcs = append(g.preamble.Funcs, f)
	g.adapters[t.Key] = f
	g.fresh = append(g.fresh, t.Key)
	return f
}
