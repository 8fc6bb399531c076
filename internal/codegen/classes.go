package codegen

import (
	"strconv"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cheshire/internal/ast"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Class declaration
// ---------------------------------------------------------------------------

// declareClass creates @<Name>.new and one @<Name>.<method> per method the
// class declares or overrides.
func (g *Generator) declareClass(cd *ast.ClassDef) {
	t := g.classType(cd)
	for _, m := range cd.Members {
		switch m := m.(type) {
		case *ast.ConstructorMember:
			ctor, ok := g.reg.Constructor(t)
			if !ok {
				g.failf(m.Pos, ErrUnknownStorage, "constructor of %s", cd.Name)
			}
			g.ctors[t.Key] = g.newFunc(cd.Name+".new", types.Void, g.selfParam(t), ctor.Params, paramNames(m.Params))
		case *ast.MethodMember:
			mem := g.member(m.Pos, t, m.Name)
			g.methods[cd.Name+"."+m.Name] = g.newFunc(cd.Name+"."+m.Name, mem.Return, g.selfParam(t), mem.Params, paramNames(m.Params))
		}
	}
}

func (g *Generator) member(pos ast.Position, t types.Type, name string) types.Member {
	m, ok := g.reg.Member(t, name)
	if !ok {
		g.failf(pos, ErrUnknownStorage, "member %s of %s", name, g.reg.String(t))
	}
	return m
}

// ---------------------------------------------------------------------------
// Class emission
// ---------------------------------------------------------------------------

// class emits the struct and descriptor of cd, its constructor and its
// methods.
func (g *Generator) class(cd *ast.ClassDef) {
	t := g.classType(cd)
	g.unit.TypeDefs = append(g.unit.TypeDefs, g.structOf(t).typ)
	g.unit.Globals = append(g.unit.Globals, g.descriptor(t))

	for _, m := range cd.Members {
		switch m := m.(type) {
		case *ast.ConstructorMember:
			g.constructor(cd, t, m)
		case *ast.MethodMember:
			f := g.methods[cd.Name+"."+m.Name]
			g.unit.Funcs = append(g.unit.Funcs, f)
			if m.Body == nil {
				continue
			}
			mem := g.member(m.Pos, t, m.Name)
			g.body(f, mem.Return, append([]types.Type{t}, mem.Params...), m.Body, nil)
		}
	}
}

// constructor emits @<Name>.new. The parent constructor runs first on self
// cast to the parent, then own fields are initialised in declaration order,
// then own method slots are filled, then the user body runs.
func (g *Generator) constructor(cd *ast.ClassDef, t types.Type, m *ast.ConstructorMember) {
	f := g.ctors[t.Key]
	g.unit.Funcs = append(g.unit.Funcs, f)
	if m.Body == nil {
		return
	}
	ctor, _ := g.reg.Constructor(t)
	parent, err := g.reg.Parent(t)
	if err != nil {
		g.fail(cd.Pos, err)
	}

	g.body(f, types.Void, append([]types.Type{t}, ctor.Params...), m.Body, func() {
		self := g.load(m.Pos, g.lookup(m.Pos, "self"))
		if parent != types.Object {
			g.superCall(m, parent, self)
		}
		g.fields(cd, t, self)
		g.slots(cd, t, self)
	})
}

func (g *Generator) superCall(m *ast.ConstructorMember, parent types.Type, self value.Value) {
	pctor, ok := g.ctors[parent.Key]
	if !ok {
		g.failf(m.Pos, ErrUnknownStorage, "constructor of %s", g.reg.String(parent))
	}
	up := g.block.NewBitCast(self, g.llvm(parent))
	up.SetName(g.temp())
	args := append([]value.Value{up}, g.args(m.SuperArgs)...)
	g.block.NewCall(pctor, args...)
}

// fields stores the default, or the zero value, of every own variable.
// Defaults see globals only.
func (g *Generator) fields(cd *ast.ClassDef, t types.Type, self value.Value) {
	restore := g.scope.Isolate()
	for _, m := range cd.Members {
		v, ok := m.(*ast.VariableMember)
		if !ok {
			continue
		}
		var val value.Value
		if v.Default != nil {
			val = g.expr(v.Default)
		} else {
			val = g.zero(g.member(v.Pos, t, v.Name).Type)
		}
		addr, _ := g.fieldAddr(v.Pos, self, t, v.Name)
		g.block.NewStore(val, addr)
	}
	if err := restore(); err != nil {
		g.fail(cd.Pos, err)
	}
}

// slots points every method slot this class declares or overrides at its
// implementation.
func (g *Generator) slots(cd *ast.ClassDef, t types.Type, self value.Value) {
	for _, m := range cd.Members {
		mm, ok := m.(*ast.MethodMember)
		if !ok {
			continue
		}
		addr, _ := g.fieldAddr(mm.Pos, self, t, mm.Name)
		g.block.NewStore(g.methods[cd.Name+"."+mm.Name], addr)
	}
}

// fieldAddr returns the address of slot name in the object obj of class t.
func (g *Generator) fieldAddr(pos ast.Position, obj value.Value, t types.Type, name string) (value.Value, shape.Slot) {
	cs := g.structOf(t)
	i, ok := cs.shape.Index(name)
	if !ok {
		g.failf(pos, shape.ErrNoElement, "%s.%s", g.reg.String(t), name)
	}
	addr := g.block.NewGetElementPtr(cs.typ, obj, zero32, constant.NewInt(irtypes.I32, int64(headerSlots+i)))
	addr.SetName(g.temp())
	return addr, cs.shape.Slots[i]
}

// ---------------------------------------------------------------------------
// Instantiation
// ---------------------------------------------------------------------------

// construct allocates an instance of t, records its class in the header
// and runs its constructor on it.
func (g *Generator) construct(t types.Type, args []value.Value) value.Value {
	cs := g.structOf(t)
	_, obj := g.allocate(cs.typ)
	header := g.block.NewGetElementPtr(cs.typ, obj, zero32, zero32)
	header.SetName(g.temp())
	g.block.NewStore(g.descriptor(t), header)
	if ctor, ok := g.ctors[t.Key]; ok {
		g.block.NewCall(ctor, append([]value.Value{obj}, args...)...)
	}
	return obj
}

// allocate reserves one st on the heap through the runtime allocator and
// returns both the raw and the typed pointer.
func (g *Generator) allocate(st *irtypes.StructType) (raw, typed value.Value) {
	ptr := irtypes.NewPointer(st)
	// sizeof(st) as the address of element 1 from null
	size := constant.NewPtrToInt(
		constant.NewGetElementPtr(st, constant.NewNull(ptr), constant.NewInt(irtypes.I32, 1)),
		irtypes.I64,
	)
	call := g.block.NewCall(g.rt.alloc, size)
	call.SetName(g.temp())
	cast := g.block.NewBitCast(call, ptr)
	cast.SetName(g.temp())
	return call, cast
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

const paramPrefix = "_Param_"

// envParam is the closure environment every closure and adapter takes
// first. Source parameters never clash with it since they carry
// paramPrefix.
const envParam = "_Env"

func (g *Generator) selfParam(t types.Type) *ir.Param {
	return ir.NewParam(paramPrefix+"self", g.llvm(t))
}

// newFunc creates a function whose parameters are lead, when given, and
// then params. Parameters without a source name are numbered.
func (g *Generator) newFunc(name string, ret types.Type, lead *ir.Param, params []types.Type, names []string) *ir.Func {
	var ps []*ir.Param
	if lead != nil {
		ps = append(ps, lead)
	}
	for i, t := range params {
		n := strconv.Itoa(i)
		if i < len(names) {
			n = names[i]
		}
		ps = append(ps, ir.NewParam(paramPrefix+n, g.llvm(t)))
	}
	return ir.NewFunc(name, g.llvm(ret), ps...)
}

func paramNames(params []*ast.Param) []string {
	names := make([]string, len(params))
	for i, p := range params {
		names[i] = p.Name
	}
	return names
}
