package semantic

import (
	"fmt"

	"fortio.org/safecast"

	"cheshire/internal/ast"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Expression analysis
//
// Every visit returns the determined type and records it on the node.
// ---------------------------------------------------------------------------

func (c *Checker) expr(e ast.Expr) types.Type {
	t := c.exprType(e)
	e.SetType(t)
	return t
}

func (c *Checker) exprType(expr ast.Expr) types.Type {
	switch e := expr.(type) {
	case *ast.IntLit:
		if _, err := safecast.Conv[int32](e.Value); err != nil {
			c.fail(e.Pos, "integer literal %d does not fit in Int", e.Value)
		}
		return types.Int
	case *ast.DecimalLit:
		return types.Decimal
	case *ast.CharLit:
		if _, err := safecast.Conv[int8](e.Value); err != nil {
			c.fail(e.Pos, "character literal %q does not fit in I8", e.Value)
		}
		return types.I8
	case *ast.StringLit:
		return types.String
	case *ast.BoolLit:
		return types.Boolean
	case *ast.NullLit:
		return types.Null
	case *ast.ArrayLit:
		return c.arrayLit(e)
	case *ast.Ident:
		return c.lookup(e.Pos, e.Name).Type
	case *ast.Unary:
		return c.unary(e)
	case *ast.Increment:
		t := c.expr(e.Target)
		c.requireLvalue(e.Target)
		if !t.IsNumeric() {
			c.fail(e.Pos, "operator %s requires a numerical operand, got %s", e.Op, c.str(t))
		}
		return t
	case *ast.Binary:
		return c.binary(e)
	case *ast.Assign:
		t := c.expr(e.Target)
		c.requireLvalue(e.Target)
		c.expr(e.Value)
		c.store(&e.Value, t, "assignment")
		return t
	case *ast.Index:
		return c.index(e)
	case *ast.InstanceOf:
		return c.instanceOf(e)
	case *ast.Cast:
		return c.cast(e)
	case *ast.Call:
		return c.call(e)
	case *ast.ObjectCall:
		return c.objectCall(e)
	case *ast.Access:
		obj := c.expr(e.Object)
		if !c.reg.IsObject(obj) {
			c.fail(e.Pos, "cannot access %s on non-object type %s", e.Field, c.str(obj))
		}
		m, ok := c.reg.Member(obj, e.Field)
		if !ok {
			c.fail(e.Pos, "class %s has no member %s", c.str(obj), e.Field)
		}
		return m.Type
	case *ast.New:
		return c.instantiate(e)
	case *ast.Closure:
		return c.closure(e)
	}
	c.failInternal(expr.GetPos(), fmt.Errorf("unhandled expression %T", expr))
	return types.Void
}

// ---- Unary ----

func (c *Checker) unary(e *ast.Unary) types.Type {
	t := c.expr(e.Operand)
	switch e.Op {
	case "!":
		if !t.IsBoolean() {
			c.fail(e.Pos, "expected Boolean operand for !, got %s", c.str(t))
		}
	case "~":
		if !t.IsInteger() {
			c.fail(e.Pos, "expected an integer operand for ~, got %s", c.str(t))
		}
	case "-":
		if !t.IsNumeric() {
			c.fail(e.Pos, "expected a numerical operand for unary -, got %s", c.str(t))
		}
	default:
		c.failInternal(e.Pos, fmt.Errorf("unknown unary operator %q", e.Op))
	}
	return t
}

// ---- Binary ----

func (c *Checker) binary(e *ast.Binary) types.Type {
	left := c.expr(e.Left)
	right := c.expr(e.Right)
	if left.IsVoid() || right.IsVoid() {
		c.fail(e.Pos, "cannot use void in operation %s", e.Op)
	}

	switch e.Op {
	case "+", "-", "*", "/", "%":
		wide, err := c.reg.Widest(left, right)
		if err != nil {
			c.fail(e.Pos, "operands of %s must be numerical, got %s and %s", e.Op, c.str(left), c.str(right))
		}
		c.widen(&e.Left, wide)
		c.widen(&e.Right, wide)
		return wide

	case "<", "<=", ">", ">=":
		wide, err := c.reg.Widest(left, right)
		if err != nil {
			c.fail(e.Pos, "operands of %s must be numerical, got %s and %s", e.Op, c.str(left), c.str(right))
		}
		c.widen(&e.Left, wide)
		c.widen(&e.Right, wide)
		return types.Boolean

	case "==", "!=":
		c.equality(e, left, right)
		return types.Boolean

	case "&&", "||":
		if !left.IsBoolean() || !right.IsBoolean() {
			c.fail(e.Pos, "operands of %s must be Boolean, got %s and %s", e.Op, c.str(left), c.str(right))
		}
		return types.Boolean
	}
	c.failInternal(e.Pos, fmt.Errorf("unknown binary operator %q", e.Op))
	return types.Void
}

// equality brings both operands of == or != to one type.
func (c *Checker) equality(e *ast.Binary, left, right types.Type) {
	switch {
	case left.IsNumeric() && right.IsNumeric():
		wide, _ := c.reg.Widest(left, right)
		c.widen(&e.Left, wide)
		c.widen(&e.Right, wide)
	case left == right && (left.IsBoolean() || c.reg.IsReference(left)):
	case left.IsNull() && right.IsNull():
		c.widen(&e.Left, types.Object)
		c.widen(&e.Right, types.Object)
	case left.IsNull() && c.reg.IsReference(right):
		c.widen(&e.Left, right)
	case right.IsNull() && c.reg.IsReference(left):
		c.widen(&e.Right, left)
	case c.reg.IsObject(left) && c.reg.IsObject(right):
		switch {
		case c.reg.IsSuper(left, right):
			c.widen(&e.Right, left)
		case c.reg.IsSuper(right, left):
			c.widen(&e.Left, right)
		default:
			c.fail(e.Pos, "comparison of %s and %s must be in a super-subtype relationship", c.str(left), c.str(right))
		}
	default:
		c.fail(e.Pos, "cannot compare %s and %s with %s", c.str(left), c.str(right), e.Op)
	}
}

// ---- Arrays ----

func (c *Checker) index(e *ast.Index) types.Type {
	arr := c.expr(e.Array)
	idx := c.expr(e.Index)
	if !arr.IsArray() {
		c.fail(e.Pos, "cannot index non-array type %s", c.str(arr))
	}
	if arr.Elem().IsVoid() {
		c.fail(e.Pos, "cannot index void[]")
	}
	if !idx.IsInteger() {
		c.fail(e.Index.GetPos(), "index of array must be an integer, got %s", c.str(idx))
	}
	return arr.Elem()
}

func (c *Checker) arrayLit(e *ast.ArrayLit) types.Type {
	elem := c.resolveType(e.Elem)
	if elem.IsVoid() {
		c.fail(e.Pos, "cannot create an array of void")
	}
	for i := range e.Elems {
		if !ast.IsConstant(e.Elems[i]) {
			c.fail(e.Elems[i].GetPos(), "array literal elements must be constant literals")
		}
		c.expr(e.Elems[i])
		c.store(&e.Elems[i], elem, "array element")
	}
	return elem.ArrayOf()
}

// ---- Objects ----

func (c *Checker) instanceOf(e *ast.InstanceOf) types.Type {
	t := c.expr(e.Expr)
	class := c.resolveType(e.Class)
	if !c.reg.IsObject(t) || !c.reg.IsObject(class) {
		c.fail(e.Pos, "instanceof expects object types, got %s and %s", c.str(t), c.str(class))
	}
	if !c.reg.IsSuper(t, class) && !c.reg.IsSuper(class, t) {
		c.fail(e.Pos, "%s can never be an instance of %s", c.str(t), c.str(class))
	}
	return types.Boolean
}

func (c *Checker) instantiate(e *ast.New) types.Type {
	t := c.resolveType(e.Class)
	if !c.reg.IsObject(t) {
		c.fail(e.Pos, "cannot instantiate non-object type %s", c.str(t))
	}
	var params []types.Type
	if ctor, ok := c.reg.Constructor(t); ok {
		params = ctor.Params
	}
	c.arguments(e.Pos, "constructor of "+c.str(t), params, e.Args)
	return t
}

func (c *Checker) objectCall(e *ast.ObjectCall) types.Type {
	obj := c.expr(e.Object)
	if !c.reg.IsObject(obj) {
		c.fail(e.Pos, "cannot call %s on non-object type %s", e.Method, c.str(obj))
	}
	m, ok := c.reg.Member(obj, e.Method)
	if !ok {
		c.fail(e.Pos, "class %s has no method %s", c.str(obj), e.Method)
	}
	if m.Kind != types.Method {
		c.fail(e.Pos, "cannot invoke %s member %s of %s", m.Kind, e.Method, c.str(obj))
	}
	c.arguments(e.Pos, c.str(obj)+"."+e.Method, m.Params, e.Args)
	return m.Return
}

// ---- Calls ----

func (c *Checker) call(e *ast.Call) types.Type {
	callee := c.expr(e.Callee)
	sig, err := c.reg.Signature(callee)
	if err != nil {
		c.fail(e.Pos, "type %s is not invocable", c.str(callee))
	}
	c.arguments(e.Pos, ast.ExprString(e.Callee), sig.Params, e.Args)
	return sig.Return
}

// arguments checks arity exactly and stores every argument into its
// parameter slot.
func (c *Checker) arguments(pos ast.Position, what string, params []types.Type, args []ast.Expr) {
	if len(args) != len(params) {
		c.fail(pos, "%s takes %d parameters, %d given", what, len(params), len(args))
	}
	for i := range args {
		c.expr(args[i])
		c.store(&args[i], params[i], fmt.Sprintf("parameter %d of %s", i+1, what))
	}
}

// ---- Closures ----

// closure resolves the capture list in the enclosing scope, then checks the
// body in a scope that sees only the captures, the parameters and globals.
func (c *Checker) closure(e *ast.Closure) types.Type {
	ret := c.resolveType(e.Return)
	params := c.resolveParams(e.Params)

	e.CaptureTypes = make([]types.Type, len(e.Captures))
	for i, name := range e.Captures {
		b := c.lookup(e.Pos, name)
		if b.Method {
			c.fail(e.Pos, "cannot capture global method %s", name)
		}
		e.CaptureTypes[i] = b.Type
	}

	restore := c.scope.Isolate()
	prev := c.expected
	c.expected = ret
	for i, name := range e.Captures {
		c.define(e.Pos, name, e.CaptureTypes[i])
	}
	for i, t := range params {
		c.define(e.Params[i].Pos, e.Params[i].Name, t)
	}
	c.block(e.Body)
	c.expected = prev
	if err := restore(); err != nil {
		c.failInternal(e.Pos, err)
	}
	return c.reg.Lambda(ret, params)
}
