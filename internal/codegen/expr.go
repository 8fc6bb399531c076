package codegen

import (
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cheshire/internal/ast"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Expression lowering
//
// Instruction selection reads the checker's annotations only.
// ---------------------------------------------------------------------------

func (g *Generator) expr(e ast.Expr) value.Value {
	t := g.typeOf(e)
	switch e := e.(type) {
	case *ast.IntLit, *ast.CharLit, *ast.DecimalLit, *ast.BoolLit, *ast.NullLit:
		return g.fold(e)
	case *ast.StringLit:
		return g.stringLit(e)
	case *ast.ArrayLit:
		return g.arrayLit(e, t)
	case *ast.Ident:
		s := g.lookup(e.Pos, e.Name)
		if s.kind == storeMethod {
			return g.methodValue(s.typ, s.fn)
		}
		return g.load(e.Pos, s)
	case *ast.Unary:
		return g.unary(e, t)
	case *ast.Increment:
		return g.increment(e, t)
	case *ast.Binary:
		return g.binary(e, t)
	case *ast.Assign:
		addr := g.address(e.Target)
		v := g.expr(e.Value)
		g.block.NewStore(v, addr)
		return v
	case *ast.Index:
		return g.loadFrom(t, g.address(e))
	case *ast.Access:
		return g.access(e, t)
	case *ast.InstanceOf:
		return g.instanceOf(e)
	case *ast.Cast:
		return g.cast(e.Pos, g.expr(e.Expr), g.typeOf(e.Expr), t)
	case *ast.Call:
		return g.callExpr(e, t)
	case *ast.ObjectCall:
		return g.objectCall(e, t)
	case *ast.New:
		return g.construct(t, g.args(e.Args))
	case *ast.Closure:
		return g.closure(e, t)
	}
	g.failf(e.GetPos(), ErrUnsupported, "expression %T", e)
	return nil
}

func (g *Generator) args(list []ast.Expr) []value.Value {
	out := make([]value.Value, len(list))
	for i, a := range list {
		out[i] = g.expr(a)
	}
	return out
}

// ---- Storage ----

func (g *Generator) load(pos ast.Position, s storage) value.Value {
	if s.kind == storeMethod {
		g.failf(pos, ErrUnknownStorage, "method has no address")
	}
	return g.loadFrom(s.typ, s.ptr)
}

func (g *Generator) loadFrom(t types.Type, addr value.Value) value.Value {
	v := g.block.NewLoad(g.llvm(t), addr)
	v.SetName(g.temp())
	return v
}

// address returns the storage an lvalue names.
func (g *Generator) address(e ast.Expr) value.Value {
	switch e := e.(type) {
	case *ast.Ident:
		s := g.lookup(e.Pos, e.Name)
		if s.kind == storeMethod {
			g.failf(e.Pos, ErrUnknownStorage, "method %s has no address", e.Name)
		}
		return s.ptr
	case *ast.Access:
		obj := g.expr(e.Object)
		addr, _ := g.fieldAddr(e.Pos, obj, g.typeOf(e.Object), e.Field)
		return addr
	case *ast.Index:
		arr := g.expr(e.Array)
		idx := g.expr(e.Index)
		addr := g.block.NewGetElementPtr(g.llvm(g.typeOf(e)), arr, idx)
		addr.SetName(g.temp())
		return addr
	}
	g.failf(e.GetPos(), ErrUnsupported, "assignment to %s", ast.ExprString(e))
	return nil
}

// ---- Operators ----

func (g *Generator) unary(e *ast.Unary, t types.Type) value.Value {
	v := g.expr(e.Operand)
	var out value.Named
	switch e.Op {
	case "!":
		out = g.block.NewXor(v, constant.NewBool(true))
	case "~":
		out = g.block.NewXor(v, constant.NewInt(g.intType(e.Pos, t), -1))
	case "-":
		if t.IsDecimal() {
			out = g.block.NewFNeg(v)
		} else {
			out = g.block.NewSub(constant.NewInt(g.intType(e.Pos, t), 0), v)
		}
	default:
		g.failf(e.Pos, ErrUnsupported, "unary operator %s", e.Op)
	}
	out.SetName(g.temp())
	return out
}

// increment stores the updated value and yields the old one.
func (g *Generator) increment(e *ast.Increment, t types.Type) value.Value {
	addr := g.address(e.Target)
	old := g.loadFrom(t, addr)
	var updated value.Named
	if t.IsDecimal() {
		one := constant.NewFloat(irtypes.Double, 1)
		if e.Op == "++" {
			updated = g.block.NewFAdd(old, one)
		} else {
			updated = g.block.NewFSub(old, one)
		}
	} else {
		one := constant.NewInt(g.intType(e.Pos, t), 1)
		if e.Op == "++" {
			updated = g.block.NewAdd(old, one)
		} else {
			updated = g.block.NewSub(old, one)
		}
	}
	updated.SetName(g.temp())
	g.block.NewStore(updated, addr)
	return old
}

var (
	intPreds = map[string]enum.IPred{
		"<": enum.IPredSLT, "<=": enum.IPredSLE, ">": enum.IPredSGT, ">=": enum.IPredSGE,
		"==": enum.IPredEQ, "!=": enum.IPredNE,
	}
	floatPreds = map[string]enum.FPred{
		"<": enum.FPredOLT, "<=": enum.FPredOLE, ">": enum.FPredOGT, ">=": enum.FPredOGE,
		"==": enum.FPredOEQ, "!=": enum.FPredONE,
	}
)

// binary lowers arithmetic, comparisons and the logical operators. Both
// operands already share one type; && and || evaluate both sides.
func (g *Generator) binary(e *ast.Binary, t types.Type) value.Value {
	l := g.expr(e.Left)
	r := g.expr(e.Right)
	operand := g.typeOf(e.Left)
	dec := operand.IsDecimal()
	if g.reg.IsLambda(operand) {
		return g.sameClosure(e.Op, l, r)
	}

	var out value.Named
	switch e.Op {
	case "+":
		if dec {
			out = g.block.NewFAdd(l, r)
		} else {
			out = g.block.NewAdd(l, r)
		}
	case "-":
		if dec {
			out = g.block.NewFSub(l, r)
		} else {
			out = g.block.NewSub(l, r)
		}
	case "*":
		if dec {
			out = g.block.NewFMul(l, r)
		} else {
			out = g.block.NewMul(l, r)
		}
	case "/":
		if dec {
			out = g.block.NewFDiv(l, r)
		} else {
			out = g.block.NewSDiv(l, r)
		}
	case "%":
		if dec {
			out = g.block.NewFRem(l, r)
		} else {
			out = g.block.NewSRem(l, r)
		}
	case "<", "<=", ">", ">=", "==", "!=":
		if dec {
			out = g.block.NewFCmp(floatPreds[e.Op], l, r)
		} else {
			out = g.block.NewICmp(intPreds[e.Op], l, r)
		}
	case "&&":
		out = g.block.NewAnd(l, r)
	case "||":
		out = g.block.NewOr(l, r)
	default:
		g.failf(e.Pos, ErrUnsupported, "binary operator %s of type %s", e.Op, g.reg.String(t))
	}
	out.SetName(g.temp())
	return out
}

// sameClosure compares two closure values by function and environment.
func (g *Generator) sameClosure(op string, l, r value.Value) value.Value {
	var same value.Named
	for i := uint64(0); i < 2; i++ {
		a := g.block.NewExtractValue(l, i)
		a.SetName(g.temp())
		b := g.block.NewExtractValue(r, i)
		b.SetName(g.temp())
		eq := g.block.NewICmp(enum.IPredEQ, a, b)
		eq.SetName(g.temp())
		if same == nil {
			same = eq
			continue
		}
		both := g.block.NewAnd(same, eq)
		both.SetName(g.temp())
		same = both
	}
	if op == "!=" {
		differ := g.block.NewXor(same, constant.NewBool(true))
		differ.SetName(g.temp())
		return differ
	}
	return same
}

func (g *Generator) intType(pos ast.Position, t types.Type) *irtypes.IntType {
	it, ok := g.llvm(t).(*irtypes.IntType)
	if !ok {
		g.failf(pos, ErrUnsupported, "%s is not an integer type", g.reg.String(t))
	}
	return it
}

// ---- Casts ----

// cast converts v from one checker type to another: sign extension or
// truncation between integers, sitofp and fptosi between integers and
// Decimal, a typed null for null, bitcast between references.
func (g *Generator) cast(pos ast.Position, v value.Value, from, to types.Type) value.Value {
	if from == to {
		return v
	}
	if from.IsNull() {
		return g.zero(to)
	}
	var out value.Named
	switch {
	case from.IsNumeric() && to.IsNumeric():
		dst := g.llvm(to)
		switch {
		case from.IsDecimal():
			out = g.block.NewFPToSI(v, dst)
		case to.IsDecimal():
			out = g.block.NewSIToFP(v, dst)
		default:
			fromBits := g.intType(pos, from).BitSize
			toBits := g.intType(pos, to).BitSize
			switch {
			case toBits > fromBits:
				out = g.block.NewSExt(v, dst)
			case toBits < fromBits:
				out = g.block.NewTrunc(v, dst)
			default:
				return v
			}
		}
	case g.reg.IsLambda(from) && g.reg.IsLambda(to):
		fn := g.block.NewExtractValue(v, 0)
		fn.SetName(g.temp())
		cast := g.block.NewBitCast(fn, irtypes.NewPointer(g.envFuncType(to)))
		cast.SetName(g.temp())
		env := g.block.NewExtractValue(v, 1)
		env.SetName(g.temp())
		base := g.block.NewInsertValue(constant.NewZeroInitializer(g.closureType(to)), cast, 0)
		base.SetName(g.temp())
		out = g.block.NewInsertValue(base, env, 1)
	case g.reg.IsReference(from) && g.reg.IsReference(to):
		out = g.block.NewBitCast(v, g.llvm(to))
	default:
		g.failf(pos, ErrUnsupported, "cast from %s to %s", g.reg.String(from), g.reg.String(to))
	}
	out.SetName(g.temp())
	return out
}

// ---- Calls and objects ----

// callExpr calls a global method directly and any other callee, a closure
// value, through its function with the environment first.
func (g *Generator) callExpr(e *ast.Call, t types.Type) value.Value {
	if id, ok := e.Callee.(*ast.Ident); ok {
		if s := g.lookup(id.Pos, id.Name); s.kind == storeMethod {
			return g.call(t, s.fn, g.args(e.Args))
		}
	}
	closure := g.expr(e.Callee)
	fn := g.block.NewExtractValue(closure, 0)
	fn.SetName(g.temp())
	env := g.block.NewExtractValue(closure, 1)
	env.SetName(g.temp())
	return g.call(t, fn, append([]value.Value{env}, g.args(e.Args)...))
}

// call invokes a function. Void results stay unnamed.
func (g *Generator) call(ret types.Type, callee value.Value, args []value.Value) value.Value {
	c := g.block.NewCall(callee, args...)
	if !ret.IsVoid() {
		c.SetName(g.temp())
	}
	return c
}

// objectCall loads the method from its slot and calls it with the receiver
// cast to the self type the slot expects.
func (g *Generator) objectCall(e *ast.ObjectCall, t types.Type) value.Value {
	obj := g.expr(e.Object)
	class := g.typeOf(e.Object)
	addr, slot := g.fieldAddr(e.Pos, obj, class, e.Method)
	fn := g.block.NewLoad(g.slotType(slot), addr)
	fn.SetName(g.temp())

	selfType, err := g.shapes.SelfType(class, e.Method)
	if err != nil {
		g.fail(e.Pos, err)
	}
	self := obj
	if selfType != class {
		up := g.block.NewBitCast(obj, g.llvm(selfType))
		up.SetName(g.temp())
		self = up
	}
	return g.call(t, fn, append([]value.Value{self}, g.args(e.Args)...))
}

// access loads a member. A method slot holds a plain function, which is
// turned into a closure value of the member's type.
func (g *Generator) access(e *ast.Access, t types.Type) value.Value {
	obj := g.expr(e.Object)
	addr, slot := g.fieldAddr(e.Pos, obj, g.typeOf(e.Object), e.Field)
	if slot.Kind != types.Method {
		return g.loadFrom(t, addr)
	}
	fn := g.block.NewLoad(g.slotType(slot), addr)
	fn.SetName(g.temp())
	return g.methodValue(t, fn)
}

// instanceOf holds for every non-null value when the class is a static
// supertype. Otherwise the runtime walks the object's class chain.
func (g *Generator) instanceOf(e *ast.InstanceOf) value.Value {
	v := g.expr(e.Expr)
	from := g.typeOf(e.Expr)
	class := g.resolve(e.Class)
	if g.reg.IsSuper(class, from) {
		null, ok := g.zero(from).(*constant.Null)
		if !ok {
			g.failf(e.Pos, ErrUnsupported, "instanceof on %s", g.reg.String(from))
		}
		cmp := g.block.NewICmp(enum.IPredNE, v, null)
		cmp.SetName(g.temp())
		return cmp
	}
	obj := v
	if from != types.Object {
		up := g.block.NewBitCast(v, g.llvm(types.Object))
		up.SetName(g.temp())
		obj = up
	}
	c := g.block.NewCall(g.rt.instanceOf, obj, g.descriptor(class))
	c.SetName(g.temp())
	return c
}
