package semantic

import (
	"errors"
	"fmt"
	"io"

	"cheshire/internal/ast"
	"cheshire/internal/scope"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

// binding is what a name resolves to while checking.
type binding struct {
	Type   types.Type
	Method bool // global method: callable, not assignable
}

var errVoidVariable = errors.New("variable cannot have type void")

func checkBinding(name string, b binding) error {
	if b.Type.IsVoid() {
		return fmt.Errorf("%w: %s", errVoidVariable, name)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Checker
// ---------------------------------------------------------------------------

// bailout unwinds the checker out of the definition being checked.
type bailout struct{}

// Checker holds the state for type checking one program.
type Checker struct {
	reg    *types.Registry
	shapes *shape.Resolver
	scope  *scope.Chain[binding]
	mode   Mode

	diagnostics []Diagnostic
	stopped     bool

	expected types.Type // return type of the body being checked

	classes map[string]*ast.ClassDef
	state   map[*ast.ClassDef]classState

	// Log, when non-nil, receives a line for every inferred definition and
	// every registered class.
	Log io.Writer
}

// NewChecker returns a checker that registers classes in reg and resolves
// their layout through shapes.
func NewChecker(reg *types.Registry, shapes *shape.Resolver, mode Mode) *Checker {
	return &Checker{
		reg:      reg,
		shapes:   shapes,
		scope:    scope.New(checkBinding),
		mode:     mode,
		expected: types.Void,
		classes:  make(map[string]*ast.ClassDef),
		state:    make(map[*ast.ClassDef]classState),
	}
}

// Analyze declares and checks the program and returns every diagnostic.
// The slice is empty when the program is well typed.
func Analyze(program *ast.Program, reg *types.Registry, shapes *shape.Resolver, mode Mode) []Diagnostic {
	c := NewChecker(reg, shapes, mode)
	c.Declare(program)
	c.Check(program)
	return c.diagnostics
}

// Diagnostics returns everything reported so far.
func (c *Checker) Diagnostics() []Diagnostic { return c.diagnostics }

// Stopped reports whether a fail-fast checker has hit its first error.
func (c *Checker) Stopped() bool { return c.stopped }

// ---- helpers ----

func (c *Checker) report(pos ast.Position, cat Category, msg string) {
	c.diagnostics = append(c.diagnostics, Diagnostic{
		Message:  msg,
		Pos:      pos,
		Severity: Error,
		Category: cat,
	})
}

// fail reports an error and abandons the current top-level definition.
func (c *Checker) fail(pos ast.Position, format string, args ...any) {
	c.report(pos, CategoryType, fmt.Sprintf(format, args...))
	panic(bailout{})
}

func (c *Checker) failRegistry(pos ast.Position, err error) {
	c.report(pos, CategoryRegistry, err.Error())
	panic(bailout{})
}

func (c *Checker) failInternal(pos ast.Position, err error) {
	c.report(pos, CategoryInternal, err.Error())
	panic(bailout{})
}

func (c *Checker) logf(format string, args ...any) {
	if c.Log != nil {
		fmt.Fprintf(c.Log, "[semantic] "+format+"\n", args...)
	}
}

// guard runs fn, recovering from a bailout by restoring the scope chain.
func (c *Checker) guard(fn func()) {
	if c.stopped {
		return
	}
	depth := c.scope.Depth()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(bailout); !ok {
			panic(r)
		}
		c.scope.Unwind(depth)
		c.expected = types.Void
		if c.mode == FailFast {
			c.stopped = true
		}
	}()
	fn()
}

func (c *Checker) raise() { c.scope.Raise() }

func (c *Checker) fall(pos ast.Position) {
	if err := c.scope.Fall(); err != nil {
		c.failInternal(pos, err)
	}
}

func (c *Checker) define(pos ast.Position, name string, t types.Type) {
	if err := c.scope.Define(name, binding{Type: t}); err != nil {
		c.fail(pos, "%v", err)
	}
}

func (c *Checker) lookup(pos ast.Position, name string) binding {
	b, err := c.scope.Lookup(name)
	if err != nil {
		c.fail(pos, "%v", err)
	}
	return b
}

func (c *Checker) str(t types.Type) string { return c.reg.String(t) }

// ---------------------------------------------------------------------------
// Pass 1: register every name before any body is checked
// ---------------------------------------------------------------------------

// Declare registers every class, global variable and method signature so
// bodies can refer to definitions that appear later in the program.
func (c *Checker) Declare(prog *ast.Program) {
	for _, n := range prog.Nodes {
		if cd, ok := n.(*ast.ClassDef); ok {
			c.guard(func() { c.reserveClass(cd) })
		}
	}
	for _, n := range prog.Nodes {
		if cd, ok := n.(*ast.ClassDef); ok {
			c.guard(func() { c.defineClass(cd) })
		}
	}
	for _, n := range prog.Nodes {
		switch n := n.(type) {
		case *ast.MethodDecl:
			c.guard(func() { c.declareMethod(n) })
		case *ast.GlobalVar:
			c.guard(func() { c.declareGlobal(n) })
		}
	}
}

func (c *Checker) declareMethod(m *ast.MethodDecl) {
	ret := c.resolveType(m.Return)
	params := c.resolveParams(m.Params)
	if err := c.scope.Define(m.Name, binding{Type: c.reg.Lambda(ret, params), Method: true}); err != nil {
		c.failRegistry(m.Pos, err)
	}
}

func (c *Checker) declareGlobal(g *ast.GlobalVar) {
	t := c.resolveType(g.Type)
	if err := c.scope.Define(g.Name, binding{Type: t}); err != nil {
		c.failRegistry(g.Pos, err)
	}
}

// ---------------------------------------------------------------------------
// Pass 2: check bodies
// ---------------------------------------------------------------------------

// Check type checks every body and initialiser, annotating each expression
// with its determined type and splicing in implicit casts.
func (c *Checker) Check(prog *ast.Program) {
	for _, n := range prog.Nodes {
		switch n := n.(type) {
		case *ast.MethodDecl:
			if n.Body != nil {
				c.guard(func() { c.checkMethod(n) })
			}
		case *ast.GlobalVar:
			if n.Value != nil {
				c.guard(func() { c.checkGlobal(n) })
			}
		case *ast.ClassDef:
			if c.state[n] == classDone {
				c.guard(func() { c.checkClass(n) })
			}
		}
	}
}

func (c *Checker) checkMethod(m *ast.MethodDecl) {
	c.body(m.Pos, c.resolveType(m.Return), nil, m.Params, m.Body)
}

// body checks a method, constructor or closure body in its own frame.
// self, when non-nil, is bound before the parameters.
func (c *Checker) body(pos ast.Position, ret types.Type, self *types.Type, params []*ast.Param, block *ast.BlockStmt) {
	prev := c.expected
	c.expected = ret
	c.raise()
	if self != nil {
		c.define(pos, "self", *self)
	}
	for i, t := range c.resolveParams(params) {
		c.define(params[i].Pos, params[i].Name, t)
	}
	c.block(block)
	c.fall(pos)
	c.expected = prev
}

func (c *Checker) checkGlobal(g *ast.GlobalVar) {
	if !ast.IsConstant(g.Value) {
		c.fail(g.Pos, "global %q must be initialised with a constant literal", g.Name)
	}
	b := c.lookup(g.Pos, g.Name)
	c.expr(g.Value)
	c.store(&g.Value, b.Type, "global definition")
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Checker) block(b *ast.BlockStmt) {
	if b == nil {
		return
	}
	for _, s := range b.Stmts {
		c.stmt(s)
	}
}

// nested checks an if/while arm in its own frame.
func (c *Checker) nested(s ast.Stmt) {
	c.raise()
	c.stmt(s)
	c.fall(s.GetPos())
}

func (c *Checker) stmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.VarDef:
		c.varDef(s)
	case *ast.ExprStmt:
		c.expr(s.Expression)
	case *ast.AssertStmt:
		c.condition(s.Condition, "assertion")
	case *ast.BlockStmt:
		c.raise()
		c.block(s)
		c.fall(s.Pos)
	case *ast.IfStmt:
		c.condition(s.Condition, "if statement")
		c.nested(s.Then)
		if s.Else != nil {
			c.nested(s.Else)
		}
	case *ast.WhileStmt:
		c.condition(s.Condition, "while loop")
		c.nested(s.Body)
	case *ast.ReturnStmt:
		c.returnStmt(s)
	default:
		c.failInternal(stmt.GetPos(), fmt.Errorf("unhandled statement %T", stmt))
	}
}

func (c *Checker) condition(e ast.Expr, what string) {
	if t := c.expr(e); !t.IsBoolean() {
		c.fail(e.GetPos(), "expected Boolean condition for %s, got %s", what, c.str(t))
	}
}

func (c *Checker) varDef(s *ast.VarDef) {
	given := c.expr(s.Value)
	if s.Type == nil {
		if given.IsNull() || given.IsVoid() {
			c.fail(s.Pos, "cannot infer the type of %q from %s", s.Name, c.str(given))
		}
		c.logf("inferred %s for %s = %s", c.str(given), s.Name, ast.ExprString(s.Value))
		c.define(s.Pos, s.Name, given)
		return
	}
	want := c.resolveType(s.Type)
	c.define(s.Pos, s.Name, want)
	c.store(&s.Value, want, "variable definition")
}

func (c *Checker) returnStmt(s *ast.ReturnStmt) {
	if s.Value == nil {
		if !c.expected.IsVoid() {
			c.fail(s.Pos, "expected a return value of type %s", c.str(c.expected))
		}
		return
	}
	if c.expected.IsVoid() {
		c.fail(s.Pos, "cannot return a value from a void method")
	}
	c.expr(s.Value)
	c.store(&s.Value, c.expected, "return statement")
}
