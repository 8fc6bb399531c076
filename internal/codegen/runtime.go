package codegen

import (
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	irtypes "github.com/llir/llvm/ir/types"

	"cheshire/internal/ast"
	"cheshire/internal/types"
)

// Runtime symbols every program links against.
const (
	allocName      = "cheshire_alloc"
	assertFailName = "cheshire_assert_fail"
	instanceOfName = "cheshire_instance_of"
)

type runtime struct {
	alloc      *ir.Func // i8* (i64)
	assertFail *ir.Func // void ()
	instanceOf *ir.Func // i1 (%class_Object*, %cheshire_class*)
}

// Prelude writes the runtime declarations: the class descriptor type, the
// Object and String structs and descriptors, the external String
// constructor, the allocator, the assertion hook and the instanceof walk.
// It must be written once, before the first Emit.
func (g *Generator) Prelude(w io.Writer) error {
	defer func() { g.unit = nil }()
	if err := g.prelude(); err != nil {
		return err
	}
	return g.flush(w, g.unit)
}

func (g *Generator) prelude() (err error) {
	defer g.rescue(&err)
	m := ir.NewModule()
	g.unit = m

	m.TypeDefs = append(m.TypeDefs, g.classDesc, g.structOf(types.Object).typ, g.structOf(types.String).typ)
	m.Globals = append(m.Globals, g.descriptor(types.Object), g.descriptor(types.String))

	g.rt.alloc = m.NewFunc(allocName, irtypes.I8Ptr, ir.NewParam("size", irtypes.I64))
	g.rt.assertFail = m.NewFunc(assertFailName, irtypes.Void)
	g.rt.instanceOf = g.instanceOfFunc()
	m.Funcs = append(m.Funcs, g.rt.instanceOf)

	ctor, ok := g.reg.Constructor(types.String)
	if !ok {
		g.failf(ast.Position{}, ErrUnknownStorage, "String constructor")
	}
	str := g.newFunc("String.new", types.Void, g.selfParam(types.String), ctor.Params, []string{"data", "length"})
	g.ctors[types.String.Key] = str
	m.Funcs = append(m.Funcs, str)
	g.logf("runtime prelude declared")
	return nil
}

// instanceOfFunc builds the walk behind a downcast instanceof: follow the
// parent links from the object's descriptor until the wanted class or the
// end of the chain. A null object is an instance of nothing.
func (g *Generator) instanceOfFunc() *ir.Func {
	objectPtr := irtypes.NewPointer(g.structOf(types.Object).typ)
	descPtr := irtypes.NewPointer(g.classDesc)
	object := ir.NewParam("object", objectPtr)
	class := ir.NewParam("class", descPtr)
	f := ir.NewFunc(instanceOfName, irtypes.I1, object, class)

	entry := f.NewBlock("entry")
	start := f.NewBlock("start")
	head := f.NewBlock("head")
	test := f.NewBlock("test")
	up := f.NewBlock("up")
	yes := f.NewBlock("yes")
	no := f.NewBlock("no")

	current := entry.NewAlloca(descPtr)
	current.SetName("current")
	null := entry.NewICmp(enum.IPredEQ, object, constant.NewNull(objectPtr))
	null.SetName("null")
	entry.NewCondBr(null, no, start)

	header := start.NewGetElementPtr(g.structOf(types.Object).typ, object, zero32, zero32)
	header.SetName("header")
	first := start.NewLoad(descPtr, header)
	first.SetName("first")
	start.NewStore(first, current)
	start.NewBr(head)

	at := head.NewLoad(descPtr, current)
	at.SetName("at")
	end := head.NewICmp(enum.IPredEQ, at, constant.NewNull(descPtr))
	end.SetName("end")
	head.NewCondBr(end, no, test)

	hit := test.NewICmp(enum.IPredEQ, at, class)
	hit.SetName("hit")
	test.NewCondBr(hit, yes, up)

	link := up.NewGetElementPtr(g.classDesc, at, zero32, zero32)
	link.SetName("link")
	parent := up.NewLoad(descPtr, link)
	parent.SetName("parent")
	up.NewStore(parent, current)
	up.NewBr(head)

	yes.NewRet(constant.True)
	no.NewRet(constant.False)
	return f
}
