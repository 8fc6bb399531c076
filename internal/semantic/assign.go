package semantic

import (
	"cheshire/internal/ast"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Store-compatibility
// ---------------------------------------------------------------------------

// store checks that the expression in *slot may be stored into a slot of
// type want, splicing in a cast for every non-exact case:
//   - numbers widen, but never narrow;
//   - null goes into any object, lambda or array slot;
//   - an object goes into a slot of any of its ancestors.
func (c *Checker) store(slot *ast.Expr, want types.Type, reason string) {
	got := (*slot).Type()
	if got == want {
		return
	}
	pos := (*slot).GetPos()
	switch {
	case want.IsNumeric() && got.IsNumeric():
		wide, _ := c.reg.Widest(want, got)
		if wide != want {
			c.fail(pos, "cannot narrow %s to %s in %s", c.str(got), c.str(want), reason)
		}
	case got.IsNull() && c.reg.IsReference(want):
	case c.reg.IsObject(want) && c.reg.IsObject(got):
		if !c.reg.IsSuper(want, got) {
			c.fail(pos, "cannot store %s into non-super-type %s in %s", c.str(got), c.str(want), reason)
		}
	default:
		c.fail(pos, "cannot store %s into %s in %s", c.str(got), c.str(want), reason)
	}
	c.widen(slot, want)
}

// widen wraps *slot in an implicit cast unless it already has type to.
func (c *Checker) widen(slot *ast.Expr, to types.Type) {
	if (*slot).Type() == to {
		return
	}
	*slot = ast.ImplicitCast(*slot, to)
}

// requireLvalue checks that e names storage: a variable, a field or an
// array element.
func (c *Checker) requireLvalue(e ast.Expr) {
	switch e := e.(type) {
	case *ast.Ident:
		if c.lookup(e.Pos, e.Name).Method {
			c.fail(e.Pos, "cannot assign to method %s", e.Name)
		}
		return
	case *ast.Access:
		if m, ok := c.reg.Member(e.Object.Type(), e.Field); ok && m.Kind == types.Variable {
			return
		}
		c.fail(e.Pos, "cannot assign to method %s", e.Field)
	case *ast.Index:
		return
	}
	c.fail(e.GetPos(), "invalid assignment target %s", ast.ExprString(e))
}

// ---------------------------------------------------------------------------
// Casts
// ---------------------------------------------------------------------------

func (c *Checker) cast(e *ast.Cast) types.Type {
	from := c.expr(e.Expr)
	if e.Implicit {
		return e.Type()
	}
	to := c.resolveType(e.Target)
	if !c.castable(from, to) {
		c.fail(e.Pos, "cannot cast %s to %s", c.str(from), c.str(to))
	}
	return to
}

// castable is the explicit cast rule. Object casts are not checked against
// the hierarchy.
func (c *Checker) castable(from, to types.Type) bool {
	switch {
	case from == to:
		return true
	case from.IsNumeric() && to.IsNumeric():
		return true
	case from.IsNull():
		return c.reg.IsReference(to)
	case c.reg.IsObject(from) && c.reg.IsObject(to):
		return true
	case c.reg.IsLambda(from) && c.reg.IsLambda(to):
		return true
	case from.IsArray() && to.IsArray():
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// Type resolution helpers
// ---------------------------------------------------------------------------

// resolveType resolves a written type through the registry. A nil reference
// is void.
func (c *Checker) resolveType(ref *ast.TypeRef) types.Type {
	if ref == nil {
		return types.Void
	}
	var t types.Type
	if ref.Lambda != nil {
		ret := c.resolveType(ref.Lambda.Return)
		params := make([]types.Type, len(ref.Lambda.Params))
		for i, p := range ref.Lambda.Params {
			params[i] = c.resolveType(p)
			if params[i].IsVoid() {
				c.fail(p.Pos, "lambda parameter cannot have type void")
			}
		}
		t = c.reg.Lambda(ret, params)
	} else {
		named, err := c.reg.Lookup(ref.Name)
		if err != nil {
			c.failRegistry(ref.Pos, err)
		}
		t = named
	}
	if ref.Nesting > 0 && t.IsVoid() {
		c.fail(ref.Pos, "no such type as void[]")
	}
	t.Nesting = ref.Nesting
	return t
}

func (c *Checker) resolveParams(params []*ast.Param) []types.Type {
	out := make([]types.Type, len(params))
	for i, p := range params {
		out[i] = c.resolveType(p.Type)
		if out[i].IsVoid() {
			c.fail(p.Pos, "parameter %s cannot have type void", p.Name)
		}
	}
	return out
}
