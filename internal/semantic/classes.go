package semantic

import (
	"fmt"

	"cheshire/internal/ast"
	"cheshire/internal/types"
)

type classState int

const (
	classNone classState = iota
	classReserved
	classVisiting
	classDone
	classFailed
)

func (c *Checker) reserveClass(cd *ast.ClassDef) {
	if _, err := c.reg.Reserve(cd.Name); err != nil {
		c.failRegistry(cd.Pos, err)
	}
	c.classes[cd.Name] = cd
	c.state[cd] = classReserved
}

// classType returns the registered type of a class definition.
func (c *Checker) classType(cd *ast.ClassDef) types.Type {
	t, err := c.reg.Lookup(cd.Name)
	if err != nil {
		c.failInternal(cd.Pos, err)
	}
	return t
}

// defineClass registers cd after its parent, checks its member list and
// synthesises a default constructor when it declares none.
func (c *Checker) defineClass(cd *ast.ClassDef) {
	switch c.state[cd] {
	case classDone:
		return
	case classVisiting:
		c.fail(cd.Pos, "circular inheritance involving class %s", cd.Name)
	case classFailed, classNone:
		// reported already
		panic(bailout{})
	}
	c.state[cd] = classVisiting
	defer func() {
		if c.state[cd] == classVisiting {
			c.state[cd] = classFailed
		}
	}()

	parent := types.Object
	if cd.Parent != nil {
		if pd, ok := c.classes[cd.Parent.Name]; ok && cd.Parent.Nesting == 0 && cd.Parent.Lambda == nil {
			c.defineClass(pd)
		}
		parent = c.resolveType(cd.Parent)
		if !c.reg.IsObject(parent) {
			c.fail(cd.Parent.Pos, "invalid parent type %s of class %s", c.str(parent), cd.Name)
		}
	}

	members := c.classMembers(cd, parent)
	key, err := c.reg.DefineClass(cd.Name, members, parent)
	if err != nil {
		c.failRegistry(cd.Pos, err)
	}
	if _, err := c.shapes.Shape(types.Type{Key: key}); err != nil {
		c.failInternal(cd.Pos, err)
	}
	c.state[cd] = classDone
	c.logf("defined class %s extends %s", cd.Name, c.str(parent))
}

// classMembers resolves the member list of cd, enforcing unique names across
// the class and its ancestors and checking every override.
func (c *Checker) classMembers(cd *ast.ClassDef, parent types.Type) []types.Member {
	self := c.classType(cd)
	seen := make(map[string]bool)
	var out []types.Member
	var ctor *ast.ConstructorMember

	for _, m := range cd.Members {
		switch m := m.(type) {
		case *ast.ConstructorMember:
			if ctor != nil {
				c.fail(m.Pos, "class %s must have only one constructor", cd.Name)
			}
			ctor = m
			out = append(out, types.Member{
				Kind:     types.Constructor,
				Name:     cd.Name,
				Params:   c.resolveParams(m.Params),
				External: m.Body == nil,
			})

		case *ast.VariableMember:
			c.unique(m.Pos, cd.Name, m.Name, seen)
			if inherited, ok := c.reg.Member(parent, m.Name); ok {
				c.fail(m.Pos, "multiple definition of %s in class %s (inherited %s)", m.Name, cd.Name, inherited.Kind)
			}
			t := c.resolveType(m.Type)
			if t.IsVoid() {
				c.fail(m.Pos, "member %s of class %s cannot have type void", m.Name, cd.Name)
			}
			out = append(out, types.Member{Kind: types.Variable, Name: m.Name, Type: t})

		case *ast.MethodMember:
			c.unique(m.Pos, cd.Name, m.Name, seen)
			ret := c.resolveType(m.Return)
			params := c.resolveParams(m.Params)
			if inherited, ok := c.reg.Member(parent, m.Name); ok {
				c.override(m, inherited, ret, params)
			}
			out = append(out, types.Member{
				Kind:     types.Method,
				Name:     m.Name,
				Return:   ret,
				Params:   params,
				External: m.Body == nil,
			})
		}
	}

	if ctor == nil {
		c.requireDefaultSuper(cd, self, parent)
		cd.Members = append(cd.Members, &ast.ConstructorMember{
			Body:        &ast.BlockStmt{Pos: cd.Pos},
			Synthesized: true,
			Pos:         cd.Pos,
		})
		out = append(out, types.Member{Kind: types.Constructor, Name: cd.Name})
	}
	return out
}

func (c *Checker) unique(pos ast.Position, class, name string, seen map[string]bool) {
	if seen[name] {
		c.fail(pos, "multiple definition of %s in class %s", name, class)
	}
	seen[name] = true
}

// override checks that m redefines an inherited method with the identical
// return type and parameter list, ignoring the implicit self.
func (c *Checker) override(m *ast.MethodMember, inherited types.Member, ret types.Type, params []types.Type) {
	if inherited.Kind != types.Method {
		c.fail(m.Pos, "multiple definition of %s: it is an inherited %s", m.Name, inherited.Kind)
	}
	if inherited.Return != ret {
		c.fail(m.Pos, "invalid override of %s: return type %s does not match %s",
			m.Name, c.str(ret), c.str(inherited.Return))
	}
	if len(inherited.Params) != len(params) {
		c.fail(m.Pos, "invalid override of %s: %d parameters, inherited method takes %d",
			m.Name, len(params), len(inherited.Params))
	}
	if !types.SameParams(inherited.Params, params) {
		c.fail(m.Pos, "invalid override of %s: unmatching parameter types", m.Name)
	}
}

// requireDefaultSuper checks that a class without a constructor can forward
// zero arguments to its parent's constructor.
func (c *Checker) requireDefaultSuper(cd *ast.ClassDef, self, parent types.Type) {
	pc, ok := c.reg.Constructor(parent)
	if ok && len(pc.Params) != 0 {
		c.fail(cd.Pos, "class %s needs a constructor: the constructor of %s takes %d parameters",
			c.str(self), c.str(parent), len(pc.Params))
	}
}

// checkClass checks field defaults, the constructor and every method body.
func (c *Checker) checkClass(cd *ast.ClassDef) {
	self := c.classType(cd)
	parent, err := c.reg.Parent(self)
	if err != nil {
		c.failInternal(cd.Pos, err)
	}

	for _, m := range cd.Members {
		switch m := m.(type) {
		case *ast.VariableMember:
			if m.Default == nil {
				continue
			}
			member, _ := c.reg.Member(self, m.Name)
			c.expr(m.Default)
			c.store(&m.Default, member.Type, fmt.Sprintf("default value of %s", m.Name))

		case *ast.MethodMember:
			if m.Body != nil {
				c.body(m.Pos, c.resolveType(m.Return), &self, m.Params, m.Body)
			}

		case *ast.ConstructorMember:
			if m.Body == nil {
				continue
			}
			c.constructor(m, self, parent)
		}
	}
}

func (c *Checker) constructor(m *ast.ConstructorMember, self, parent types.Type) {
	prev := c.expected
	c.expected = types.Void
	c.raise()
	c.define(m.Pos, "self", self)
	for i, t := range c.resolveParams(m.Params) {
		c.define(m.Params[i].Pos, m.Params[i].Name, t)
	}

	var superParams []types.Type
	if pc, ok := c.reg.Constructor(parent); ok {
		superParams = pc.Params
	}
	c.arguments(m.Pos, "super constructor of "+c.str(self), superParams, m.SuperArgs)

	c.block(m.Body)
	c.fall(m.Pos)
	c.expected = prev
}
