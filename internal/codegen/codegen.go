package codegen

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/llir/llvm/ir"
	irtypes "github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"cheshire/internal/ast"
	"cheshire/internal/scope"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the code generator.
// ---------------------------------------------------------------------------

// Options configures code generation.
type Options struct {
	// Verbose writes one line per emitted unit to Log.
	Verbose bool

	// Log receives verbose output. Defaults to os.Stderr.
	Log io.Writer
}

// DefaultOptions returns quiet defaults logging to stderr.
func DefaultOptions() *Options {
	return &Options{Log: os.Stderr}
}

// ---------------------------------------------------------------------------
// Result is returned by Generate.
// ---------------------------------------------------------------------------

type Result struct {
	Units   int   // top-level definitions emitted
	Written int64 // bytes of IR text written to the sink
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	ErrUnannotated    = errors.New("expression was not annotated by the checker")
	ErrUnknownStorage = errors.New("no storage for name")
	ErrUnsupported    = errors.New("unsupported construct")
)

// Error is an internal-consistency failure of the generator. It means the
// tree was not checked, or the checker and the generator disagree.
type Error struct {
	Pos ast.Position
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codegen: line %d, col %d: %v", e.Pos.Line, e.Pos.Column, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// failure carries an *Error up to Emit.
type failure struct{ err *Error }

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

type storageKind int

const (
	storeGlobal storageKind = iota // global variable
	storeLocal                     // alloca in the current function
	storeMethod                    // global method
)

// storage is what a name resolves to while emitting.
type storage struct {
	kind storageKind
	typ  types.Type
	ptr  value.Value // address of the value for globals and locals
	fn   *ir.Func    // storeMethod only
}

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

// Generator emits LLVM IR for checked top-level definitions. Every Emit
// writes one unit module followed by the preamble definitions the unit
// needed: string and array constants, closures and method adapters.
type Generator struct {
	reg    *types.Registry
	shapes *shape.Resolver
	scope  *scope.Chain[storage]
	opts   *Options

	// One counter names every temporary, local, label and preamble symbol.
	ids int

	unit     *ir.Module
	preamble *ir.Module

	// Function being emitted.
	fn       *ir.Func
	block    *ir.Block
	expected types.Type

	structs map[types.Key]*classStruct
	ctors   map[types.Key]*ir.Func
	methods map[string]*ir.Func // "Class.method"
	rt      runtime

	// Runtime class identity: the descriptor type and one descriptor per
	// class.
	classDesc   *irtypes.StructType
	descriptors map[types.Key]*ir.Global

	// Adapters per lambda type, and those created for the unit being
	// emitted.
	adapters map[types.Key]*ir.Func
	fresh    []types.Key

	result Result
}

// New returns a generator for a program checked against reg.
func New(reg *types.Registry, shapes *shape.Resolver, opts *Options) *Generator {
	if opts == nil {
		opts = DefaultOptions()
	}
	desc := irtypes.NewStruct()
	desc.SetName("cheshire_class")
	desc.Fields = []irtypes.Type{irtypes.NewPointer(desc)}
	return &Generator{
		reg:         reg,
		shapes:      shapes,
		scope:       scope.New[storage](nil),
		opts:        opts,
		preamble:    ir.NewModule(),
		structs:     make(map[types.Key]*classStruct),
		ctors:       make(map[types.Key]*ir.Func),
		methods:     make(map[string]*ir.Func),
		classDesc:   desc,
		descriptors: make(map[types.Key]*ir.Global),
		adapters:    make(map[types.Key]*ir.Func),
	}
}

// Generate emits the runtime prelude and every definition of a checked
// program to w.
func Generate(program *ast.Program, reg *types.Registry, shapes *shape.Resolver, w io.Writer, opts *Options) (*Result, error) {
	g := New(reg, shapes, opts)
	if err := g.Prelude(w); err != nil {
		return nil, err
	}
	for _, n := range program.Nodes {
		if err := g.Declare(n); err != nil {
			return nil, err
		}
	}
	for _, n := range program.Nodes {
		if err := g.Emit(w, n); err != nil {
			return nil, err
		}
	}
	res := g.Result()
	return &res, nil
}

// Result reports what has been written so far.
func (g *Generator) Result() Result { return g.result }

// Declare creates the storage of a top-level definition so that units
// emitted before it can refer to it.
func (g *Generator) Declare(node ast.TopNode) (err error) {
	defer g.rescue(&err)
	switch n := node.(type) {
	case *ast.MethodDecl:
		g.declareMethod(n)
	case *ast.GlobalVar:
		g.declareGlobal(n)
	case *ast.ClassDef:
		g.declareClass(n)
	default:
		g.failf(node.GetPos(), ErrUnsupported, "top-level %T", node)
	}
	return nil
}

// Emit writes the unit for node, then flushes the preamble.
func (g *Generator) Emit(w io.Writer, node ast.TopNode) (err error) {
	g.unit = ir.NewModule()
	defer func() { g.unit = nil }()
	if err := g.emit(node); err != nil {
		return err
	}
	if err := g.flush(w, g.unit); err != nil {
		return err
	}
	g.result.Units++
	if err := g.flush(w, g.preamble); err != nil {
		return err
	}
	g.preamble = ir.NewModule()
	g.fresh = nil
	return nil
}

func (g *Generator) emit(node ast.TopNode) (err error) {
	defer g.rescue(&err)
	switch n := node.(type) {
	case *ast.MethodDecl:
		g.method(n)
		g.logf("emitted method %s", n.Name)
	case *ast.GlobalVar:
		g.global(n)
		g.logf("emitted global %s", n.Name)
	case *ast.ClassDef:
		g.class(n)
		g.logf("emitted class %s", n.Name)
	default:
		g.failf(node.GetPos(), ErrUnsupported, "top-level %T", node)
	}
	return nil
}

// flush writes m unless it holds nothing.
func (g *Generator) flush(w io.Writer, m *ir.Module) error {
	if len(m.TypeDefs) == 0 && len(m.Globals) == 0 && len(m.Funcs) == 0 {
		return nil
	}
	n, err := io.WriteString(w, m.String())
	g.result.Written += int64(n)
	if err != nil {
		return fmt.Errorf("writing IR: %w", err)
	}
	return nil
}

// ---- helpers ----

// rescue turns a failure raised while emitting into *err. Emission always
// starts at the global frame, so the chain is unwound back to it.
func (g *Generator) rescue(err *error) {
	r := recover()
	if r == nil {
		return
	}
	f, ok := r.(failure)
	if !ok {
		panic(r)
	}
	g.scope.Unwind(0)
	g.fn, g.block = nil, nil
	// Adapters of the abandoned unit were never written.
	for _, k := range g.fresh {
		delete(g.adapters, k)
	}
	g.fresh = nil
	g.preamble = ir.NewModule()
	*err = f.err
}

func (g *Generator) fail(pos ast.Position, err error) {
	panic(failure{&Error{Pos: pos, Err: err}})
}

func (g *Generator) failf(pos ast.Position, sentinel error, format string, args ...any) {
	g.fail(pos, fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...)))
}

func (g *Generator) logf(format string, args ...any) {
	if g.opts.Verbose && g.opts.Log != nil {
		fmt.Fprintf(g.opts.Log, "[codegen] "+format+"\n", args...)
	}
}

func (g *Generator) next() int {
	id := g.ids
	g.ids++
	return id
}

// temp names an instruction result.
func (g *Generator) temp() string { return fmt.Sprintf("_Value%d", g.next()) }

// local names the alloca of a source variable.
func (g *Generator) local(name string) string { return fmt.Sprintf("%s.%d", name, g.next()) }

func (g *Generator) newBlock() *ir.Block {
	return g.fn.NewBlock(fmt.Sprintf("label%d", g.next()))
}

func (g *Generator) typeOf(e ast.Expr) types.Type {
	if !e.HasType() {
		g.failf(e.GetPos(), ErrUnannotated, "%s", ast.ExprString(e))
	}
	return e.Type()
}

func (g *Generator) lookup(pos ast.Position, name string) storage {
	s, err := g.scope.Lookup(name)
	if err != nil {
		g.failf(pos, ErrUnknownStorage, "%s", name)
	}
	return s
}

func (g *Generator) define(pos ast.Position, name string, s storage) {
	if err := g.scope.Define(name, s); err != nil {
		g.fail(pos, err)
	}
}
