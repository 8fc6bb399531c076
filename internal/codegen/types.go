package codegen

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"

	"cheshire/internal/ast"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Type mapping
// ---------------------------------------------------------------------------

// classStruct is the named LLVM struct of a class, one field per shape slot.
type classStruct struct {
	typ   *irtypes.StructType
	shape *shape.Shape
}

// llvm maps a checker type onto its LLVM representation. Objects and arrays
// are pointers, null is an Object pointer and a lambda is a closure value.
func (g *Generator) llvm(t types.Type) irtypes.Type {
	if t.IsArray() {
		return irtypes.NewPointer(g.llvm(t.Elem()))
	}
	switch t {
	case types.Void:
		return irtypes.Void
	case types.I8:
		return irtypes.I8
	case types.I16:
		return irtypes.I16
	case types.Int:
		return irtypes.I32
	case types.I64:
		return irtypes.I64
	case types.Decimal:
		return irtypes.Double
	case types.Boolean:
		return irtypes.I1
	case types.Null:
		return irtypes.NewPointer(g.structOf(types.Object).typ)
	}
	if g.reg.IsLambda(t) {
		return g.closureType(t)
	}
	if g.reg.IsObject(t) {
		return irtypes.NewPointer(g.structOf(t).typ)
	}
	g.failf(ast.Position{}, ErrUnsupported, "type %s has no LLVM representation", g.reg.String(t))
	return nil
}

// funcType is the plain function type of lambda type t, as used by global
// methods and method slots.
func (g *Generator) funcType(t types.Type) *irtypes.FuncType {
	return g.signature(t, nil)
}

// envFuncType is funcType with the closure environment as first parameter.
func (g *Generator) envFuncType(t types.Type) *irtypes.FuncType {
	return g.signature(t, irtypes.I8Ptr)
}

func (g *Generator) signature(t types.Type, lead irtypes.Type) *irtypes.FuncType {
	sig, err := g.reg.Signature(t)
	if err != nil {
		g.fail(ast.Position{}, err)
	}
	var params []irtypes.Type
	if lead != nil {
		params = append(params, lead)
	}
	for _, p := range sig.Params {
		params = append(params, g.llvm(p))
	}
	return irtypes.NewFunc(g.llvm(sig.Return), params...)
}

// closureType is the value of lambda type t: the function and the
// environment it is called with.
func (g *Generator) closureType(t types.Type) *irtypes.StructType {
	return irtypes.NewStruct(irtypes.NewPointer(g.envFuncType(t)), irtypes.I8Ptr)
}

// slotType is the field type of a shape slot. Method slots hold plain
// function pointers taking the receiver first.
func (g *Generator) slotType(s shape.Slot) irtypes.Type {
	if s.Kind == types.Method {
		return irtypes.NewPointer(g.funcType(s.Type))
	}
	return g.llvm(s.Type)
}

// headerSlots is the number of fields ahead of the shape slots: the
// descriptor of the instance's class.
const headerSlots = 1

// structOf returns the struct of class t, building it on first use. The
// struct is cached before its fields are mapped so that self-referencing
// classes terminate.
func (g *Generator) structOf(t types.Type) *classStruct {
	if cs, ok := g.structs[t.Key]; ok {
		return cs
	}
	sh, err := g.shapes.Shape(t)
	if err != nil {
		g.fail(ast.Position{}, err)
	}
	st := irtypes.NewStruct()
	st.SetName("class_" + g.reg.Name(t))
	cs := &classStruct{typ: st, shape: sh}
	g.structs[t.Key] = cs
	st.Fields = append(st.Fields, irtypes.NewPointer(g.classDesc))
	for _, slot := range sh.Slots {
		st.Fields = append(st.Fields, g.slotType(slot))
	}
	return cs
}

// descriptor returns the constant identifying class t at run time. Its
// only field points at the descriptor of the parent; Object's is null.
func (g *Generator) descriptor(t types.Type) *ir.Global {
	if d, ok := g.descriptors[t.Key]; ok {
		return d
	}
	var parent constant.Constant = constant.NewNull(irtypes.NewPointer(g.classDesc))
	if t != types.Object {
		p, err := g.reg.Parent(t)
		if err != nil {
			g.fail(ast.Position{}, err)
		}
		parent = g.descriptor(p)
	}
	d := ir.NewGlobalDef("_Class."+g.reg.Name(t), constant.NewStruct(g.classDesc, parent))
	d.Immutable = true
	g.descriptors[t.Key] = d
	return d
}

// resolve maps a written type onto the registry. The checker has already
// accepted every reference the generator resolves.
func (g *Generator) resolve(ref *ast.TypeRef) types.Type {
	if ref == nil {
		return types.Void
	}
	var t types.Type
	if ref.Lambda != nil {
		params := make([]types.Type, len(ref.Lambda.Params))
		for i, p := range ref.Lambda.Params {
			params[i] = g.resolve(p)
		}
		t = g.reg.Lambda(g.resolve(ref.Lambda.Return), params)
	} else {
		named, err := g.reg.Lookup(ref.Name)
		if err != nil {
			g.fail(ref.Pos, err)
		}
		t = named
	}
	t.Nesting = ref.Nesting
	return t
}

func (g *Generator) resolveParams(params []*ast.Param) []types.Type {
	out := make([]types.Type, len(params))
	for i, p := range params {
		out[i] = g.resolve(p.Type)
	}
	return out
}

func (g *Generator) classType(cd *ast.ClassDef) types.Type {
	t, err := g.reg.Lookup(cd.Name)
	if err != nil {
		g.fail(cd.Pos, err)
	}
	return t
}

// ---------------------------------------------------------------------------
// Constants
// ---------------------------------------------------------------------------

var zero32 = constant.NewInt(irtypes.I32, 0)

// zero is the value of an uninitialised field and of a non-void fallthrough.
func (g *Generator) zero(t types.Type) constant.Constant {
	switch lt := g.llvm(t).(type) {
	case *irtypes.IntType:
		return constant.NewInt(lt, 0)
	case *irtypes.FloatType:
		return constant.NewFloat(lt, 0)
	case *irtypes.PointerType:
		return constant.NewNull(lt)
	case *irtypes.StructType:
		return constant.NewZeroInitializer(lt)
	}
	g.failf(ast.Position{}, ErrUnsupported, "no zero value for %s", g.reg.String(t))
	return nil
}

// fold folds a literal, or an implicit cast of one, into a constant of
// the annotated type. Globals and array literals are initialised this way.
func (g *Generator) fold(e ast.Expr) constant.Constant {
	to := g.typeOf(e)
	lit := e
	if c, ok := e.(*ast.Cast); ok {
		lit = c.Expr
	}
	switch l := lit.(type) {
	case *ast.IntLit:
		return g.number(l.Pos, to, l.Value, float64(l.Value))
	case *ast.CharLit:
		return g.number(l.Pos, to, int64(l.Value), float64(l.Value))
	case *ast.DecimalLit:
		return g.number(l.Pos, to, int64(l.Value), l.Value)
	case *ast.BoolLit:
		return constant.NewBool(l.Value)
	case *ast.NullLit:
		return g.zero(to)
	}
	g.failf(e.GetPos(), ErrUnsupported, "non-constant initialiser %s", ast.ExprString(e))
	return nil
}

func (g *Generator) number(pos ast.Position, t types.Type, i int64, f float64) constant.Constant {
	switch lt := g.llvm(t).(type) {
	case *irtypes.IntType:
		return constant.NewInt(lt, i)
	case *irtypes.FloatType:
		return constant.NewFloat(lt, f)
	}
	g.failf(pos, ErrUnsupported, "numeric literal of type %s", g.reg.String(t))
	return nil
}
