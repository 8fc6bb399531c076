package semantic_test

import (
	"strings"
	"testing"

	"cheshire/internal/ast"
	"cheshire/internal/semantic"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Tree builders
// ---------------------------------------------------------------------------

func ref(name string) *ast.TypeRef { return &ast.TypeRef{Name: name} }

func arrayRef(name string, nesting int) *ast.TypeRef {
	return &ast.TypeRef{Name: name, Nesting: nesting}
}

func param(typ, name string) *ast.Param { return &ast.Param{Type: ref(typ), Name: name} }

func ident(name string) *ast.Ident           { return &ast.Ident{Name: name} }
func intLit(v int64) *ast.IntLit             { return &ast.IntLit{Value: v} }
func decLit(v float64) *ast.DecimalLit       { return &ast.DecimalLit{Value: v} }
func boolLit(v bool) *ast.BoolLit            { return &ast.BoolLit{Value: v} }
func block(stmts ...ast.Stmt) *ast.BlockStmt { return &ast.BlockStmt{Stmts: stmts} }

func bin(op string, l, r ast.Expr) *ast.Binary { return &ast.Binary{Op: op, Left: l, Right: r} }

func ret(e ast.Expr) *ast.ReturnStmt { return &ast.ReturnStmt{Value: e} }

func def(typ, name string, v ast.Expr) *ast.VarDef {
	var t *ast.TypeRef
	if typ != "" {
		t = ref(typ)
	}
	return &ast.VarDef{Type: t, Name: name, Value: v}
}

func exprStmt(e ast.Expr) *ast.ExprStmt { return &ast.ExprStmt{Expression: e} }

func method(retType, name string, params []*ast.Param, stmts ...ast.Stmt) *ast.MethodDecl {
	var r *ast.TypeRef
	if retType != "void" {
		r = ref(retType)
	}
	return &ast.MethodDecl{Name: name, Return: r, Params: params, Body: block(stmts...)}
}

func member(retType, name string, params []*ast.Param, stmts ...ast.Stmt) *ast.MethodMember {
	var r *ast.TypeRef
	if retType != "void" {
		r = ref(retType)
	}
	return &ast.MethodMember{Return: r, Name: name, Params: params, Body: block(stmts...)}
}

func class(name, parent string, members ...ast.Member) *ast.ClassDef {
	cd := &ast.ClassDef{Name: name, Members: members}
	if parent != "" {
		cd.Parent = ref(parent)
	}
	return cd
}

func program(nodes ...ast.TopNode) *ast.Program { return &ast.Program{Nodes: nodes} }

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type env struct {
	reg    *types.Registry
	shapes *shape.Resolver
}

func newEnv() env {
	reg := types.NewRegistry()
	return env{reg: reg, shapes: shape.NewResolver(reg)}
}

func analyze(t *testing.T, prog *ast.Program) []semantic.Diagnostic {
	t.Helper()
	e := newEnv()
	return semantic.Analyze(prog, e.reg, e.shapes, semantic.FailFast)
}

func expectErrors(t *testing.T, diags []semantic.Diagnostic, want int) {
	t.Helper()
	got := 0
	for _, d := range diags {
		if d.Severity == semantic.Error {
			got++
		}
	}
	if got != want {
		t.Errorf("expected %d error(s), got %d", want, got)
		for _, d := range diags {
			t.Logf("  %s", d.Error())
		}
	}
}

func expectNoDiagnostics(t *testing.T, diags []semantic.Diagnostic) {
	t.Helper()
	if len(diags) > 0 {
		t.Errorf("expected no diagnostics, got %d", len(diags))
		for _, d := range diags {
			t.Logf("  %s", d.Error())
		}
	}
}

func expectErrorContains(t *testing.T, diags []semantic.Diagnostic, substr string) {
	t.Helper()
	for _, d := range diags {
		if d.Severity == semantic.Error && strings.Contains(d.Message, substr) {
			return
		}
	}
	t.Errorf("expected an error containing %q, got:", substr)
	for _, d := range diags {
		t.Logf("  %s", d.Error())
	}
}

func implicitCast(t *testing.T, e ast.Expr, want types.Type) *ast.Cast {
	t.Helper()
	c, ok := e.(*ast.Cast)
	if !ok {
		t.Fatalf("expected an implicit cast, got %s", ast.ExprString(e))
	}
	if !c.Implicit {
		t.Fatalf("expected the cast to be implicit")
	}
	if c.Type() != want {
		t.Fatalf("expected cast to %v, got %v", want, c.Type())
	}
	return c
}

// ---------------------------------------------------------------------------
// Methods and expressions
// ---------------------------------------------------------------------------

func TestAddReturnsInt(t *testing.T) {
	sum := bin("+", ident("a"), ident("b"))
	prog := program(method("Int", "add", []*ast.Param{param("Int", "a"), param("Int", "b")}, ret(sum)))
	expectNoDiagnostics(t, analyze(t, prog))
	if sum.Type() != types.Int {
		t.Fatalf("expected a + b to be Int, got %v", sum.Type())
	}
}

func TestIntIntoDecimalInsertsCast(t *testing.T) {
	x := def("Decimal", "x", intLit(3))
	prog := program(method("void", "f", nil, x))
	expectNoDiagnostics(t, analyze(t, prog))
	c := implicitCast(t, x.Value, types.Decimal)
	if _, ok := c.Expr.(*ast.IntLit); !ok {
		t.Fatalf("expected the cast to wrap the literal, got %s", ast.ExprString(c.Expr))
	}
}

func TestDecimalIntoIntFails(t *testing.T) {
	prog := program(method("void", "f", nil, def("Int", "x", decLit(3.5))))
	diags := analyze(t, prog)
	expectErrors(t, diags, 1)
	expectErrorContains(t, diags, "cannot narrow Decimal to Int")
}

func TestAssignmentWidens(t *testing.T) {
	assign := &ast.Assign{Target: ident("d"), Value: ident("i")}
	prog := program(method("void", "f", []*ast.Param{param("Decimal", "d"), param("Int", "i")}, exprStmt(assign)))
	expectNoDiagnostics(t, analyze(t, prog))
	implicitCast(t, assign.Value, types.Decimal)
	if assign.Type() != types.Decimal {
		t.Fatalf("expected the assignment to have type Decimal, got %v", assign.Type())
	}

	narrowing := &ast.Assign{Target: ident("i"), Value: ident("d")}
	prog = program(method("void", "g", []*ast.Param{param("Decimal", "d"), param("Int", "i")}, exprStmt(narrowing)))
	expectErrorContains(t, analyze(t, prog), "cannot narrow")
}

func TestArithmeticWidensNarrowerOperand(t *testing.T) {
	sum := bin("*", ident("i"), ident("d"))
	prog := program(method("Decimal", "f", []*ast.Param{param("Int", "i"), param("Decimal", "d")}, ret(sum)))
	expectNoDiagnostics(t, analyze(t, prog))
	implicitCast(t, sum.Left, types.Decimal)
	if _, ok := sum.Right.(*ast.Ident); !ok {
		t.Fatalf("expected the wider operand to stay untouched")
	}
}

func TestComparisonRejectsObjects(t *testing.T) {
	cmp := bin("<", ident("s"), ident("s"))
	prog := program(method("Boolean", "f", []*ast.Param{param("String", "s")}, ret(cmp)))
	expectErrorContains(t, analyze(t, prog), "must be numerical")
}

func TestEqualityWithNullCastsNull(t *testing.T) {
	eq := bin("==", ident("s"), &ast.NullLit{})
	prog := program(method("Boolean", "f", []*ast.Param{param("String", "s")}, ret(eq)))
	expectNoDiagnostics(t, analyze(t, prog))
	implicitCast(t, eq.Right, types.String)
}

func TestLogicalOperatorsRequireBoolean(t *testing.T) {
	prog := program(method("Boolean", "f", nil, ret(bin("&&", boolLit(true), intLit(1)))))
	expectErrorContains(t, analyze(t, prog), "must be Boolean")
}

func TestIfConditionMustBeBoolean(t *testing.T) {
	prog := program(method("void", "f", nil, &ast.IfStmt{Condition: intLit(1), Then: block()}))
	expectErrorContains(t, analyze(t, prog), "expected Boolean condition for if statement")
}

func TestBothArmsReturn(t *testing.T) {
	ifs := &ast.IfStmt{Condition: ident("flag"), Then: block(ret(intLit(1))), Else: block(ret(intLit(0)))}
	prog := program(method("Int", "pick", []*ast.Param{param("Boolean", "flag")}, ifs))
	expectNoDiagnostics(t, analyze(t, prog))
}

func TestInnerDefinitionInvisibleAfterBlock(t *testing.T) {
	prog := program(method("Int", "f", nil,
		block(def("Int", "x", intLit(1))),
		ret(ident("x")),
	))
	expectErrorContains(t, analyze(t, prog), "undefined variable: x")
}

func TestShadowingInNestedBlock(t *testing.T) {
	inner := ident("x")
	outer := ident("x")
	prog := program(method("Decimal", "f", nil,
		def("Decimal", "x", decLit(1)),
		block(def("Int", "x", intLit(2)), exprStmt(inner)),
		ret(outer),
	))
	expectNoDiagnostics(t, analyze(t, prog))
	if inner.Type() != types.Int || outer.Type() != types.Decimal {
		t.Fatalf("expected Int inside and Decimal outside, got %v and %v", inner.Type(), outer.Type())
	}
}

func TestRedefinitionInSameScope(t *testing.T) {
	prog := program(method("void", "f", []*ast.Param{param("Int", "a")}, def("Int", "a", intLit(1))))
	expectErrorContains(t, analyze(t, prog), "already defined")
}

func TestForwardReference(t *testing.T) {
	prog := program(
		method("Int", "first", nil, ret(&ast.Call{Callee: ident("second"), Args: []ast.Expr{intLit(1)}})),
		method("Int", "second", []*ast.Param{param("Int", "n")}, ret(ident("n"))),
	)
	expectNoDiagnostics(t, analyze(t, prog))
}

func TestCallArity(t *testing.T) {
	prog := program(
		method("Int", "one", []*ast.Param{param("Int", "n")}, ret(ident("n"))),
		method("Int", "caller", nil, ret(&ast.Call{Callee: ident("one")})),
	)
	expectErrorContains(t, analyze(t, prog), "takes 1 parameters, 0 given")
}

func TestMethodIsNotAssignable(t *testing.T) {
	prog := program(
		method("void", "g", nil),
		method("void", "f", nil, exprStmt(&ast.Assign{Target: ident("g"), Value: &ast.NullLit{}})),
	)
	expectErrorContains(t, analyze(t, prog), "cannot assign to method g")
}

func TestReturnRules(t *testing.T) {
	prog := program(method("void", "f", nil, ret(intLit(1))))
	expectErrorContains(t, analyze(t, prog), "cannot return a value from a void method")

	prog = program(method("Int", "g", nil, &ast.ReturnStmt{}))
	expectErrorContains(t, analyze(t, prog), "expected a return value of type Int")
}

func TestInferDefinition(t *testing.T) {
	x := def("", "x", decLit(2))
	use := ident("x")
	prog := program(method("Decimal", "f", nil, x, ret(use)))
	expectNoDiagnostics(t, analyze(t, prog))
	if use.Type() != types.Decimal {
		t.Fatalf("expected x to be inferred as Decimal, got %v", use.Type())
	}

	prog = program(method("void", "g", nil, def("", "y", &ast.NullLit{})))
	expectErrorContains(t, analyze(t, prog), "cannot infer")
}

func TestIntegerLiteralRange(t *testing.T) {
	prog := program(method("I64", "f", nil, ret(intLit(1<<40))))
	expectErrorContains(t, analyze(t, prog), "does not fit in Int")
}

func TestArrayIndex(t *testing.T) {
	idx := &ast.Index{Array: ident("xs"), Index: intLit(0)}
	prog := program(&ast.MethodDecl{
		Name:   "first",
		Return: ref("Int"),
		Params: []*ast.Param{{Type: arrayRef("Int", 1), Name: "xs"}},
		Body:   block(ret(idx)),
	})
	expectNoDiagnostics(t, analyze(t, prog))

	bad := &ast.Index{Array: ident("n"), Index: intLit(0)}
	prog = program(method("Int", "g", []*ast.Param{param("Int", "n")}, ret(bad)))
	expectErrorContains(t, analyze(t, prog), "cannot index non-array type Int")
}

func TestGlobalNeedsConstant(t *testing.T) {
	prog := program(&ast.GlobalVar{Type: ref("Int"), Name: "g", Value: bin("+", intLit(1), intLit(2))})
	expectErrorContains(t, analyze(t, prog), "constant literal")

	g := &ast.GlobalVar{Type: ref("Decimal"), Name: "h", Value: intLit(2)}
	expectNoDiagnostics(t, analyze(t, program(g)))
	implicitCast(t, g.Value, types.Decimal)
}

func TestUnknownType(t *testing.T) {
	diags := analyze(t, program(method("void", "f", nil, def("Unicorn", "u", &ast.NullLit{}))))
	expectErrorContains(t, diags, "unknown type: Unicorn")
	if diags[0].Category != semantic.CategoryRegistry {
		t.Fatalf("expected a registry diagnostic, got %s", diags[0].Category)
	}
}

// ---------------------------------------------------------------------------
// Closures
// ---------------------------------------------------------------------------

func TestClosureCapturesExplicitly(t *testing.T) {
	clo := &ast.Closure{
		Return:   ref("Int"),
		Params:   []*ast.Param{param("Int", "y")},
		Captures: []string{"x"},
		Body:     block(ret(bin("+", ident("x"), ident("y")))),
	}
	prog := program(method("void", "f", nil, def("Int", "x", intLit(1)), def("", "add", clo)))
	expectNoDiagnostics(t, analyze(t, prog))
	if len(clo.CaptureTypes) != 1 || clo.CaptureTypes[0] != types.Int {
		t.Fatalf("expected capture x: Int, got %v", clo.CaptureTypes)
	}
}

func TestClosureDoesNotSeeUncapturedLocals(t *testing.T) {
	clo := &ast.Closure{
		Return: ref("Int"),
		Body:   block(ret(ident("x"))),
	}
	prog := program(method("void", "f", nil, def("Int", "x", intLit(1)), def("", "get", clo)))
	expectErrorContains(t, analyze(t, prog), "undefined variable: x")
}

func TestClosureSeesGlobals(t *testing.T) {
	clo := &ast.Closure{Return: ref("Int"), Body: block(ret(ident("g")))}
	prog := program(
		&ast.GlobalVar{Type: ref("Int"), Name: "g", Value: intLit(4)},
		method("void", "f", nil, def("", "get", clo)),
	)
	expectNoDiagnostics(t, analyze(t, prog))
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func TestDefaultConstructorSynthesized(t *testing.T) {
	animal := class("Animal", "", &ast.ConstructorMember{Body: block()})
	dog := class("Dog", "Animal")
	expectNoDiagnostics(t, analyze(t, program(animal, dog)))

	ctor := dog.Constructor()
	if ctor == nil || !ctor.Synthesized {
		t.Fatalf("expected a synthesized constructor on Dog")
	}
	if len(ctor.Params) != 0 || len(ctor.SuperArgs) != 0 {
		t.Fatalf("expected an empty default constructor")
	}
}

func TestDefaultConstructorNeedsParameterlessSuper(t *testing.T) {
	animal := class("Animal", "", &ast.ConstructorMember{Params: []*ast.Param{param("Int", "legs")}, Body: block()})
	dog := class("Dog", "Animal")
	expectErrorContains(t, analyze(t, program(animal, dog)), "needs a constructor")
}

func TestSuperArguments(t *testing.T) {
	animal := class("Animal", "", &ast.ConstructorMember{Params: []*ast.Param{param("Decimal", "weight")}, Body: block()})
	arg := intLit(3)
	dog := class("Dog", "Animal", &ast.ConstructorMember{SuperArgs: []ast.Expr{arg}, Body: block()})
	expectNoDiagnostics(t, analyze(t, program(animal, dog)))
	implicitCast(t, dog.Constructor().SuperArgs[0], types.Decimal)
}

func TestOverride(t *testing.T) {
	a := class("A", "", member("Int", "f", nil, ret(intLit(1))))
	b := class("B", "A", member("Int", "f", nil, ret(intLit(2))))
	e := newEnv()
	expectNoDiagnostics(t, semantic.Analyze(program(a, b), e.reg, e.shapes, semantic.FailFast))

	at, _ := e.reg.Lookup("A")
	bt, _ := e.reg.Lookup("B")
	ia, err := e.shapes.Index(at, "f")
	if err != nil {
		t.Fatal(err)
	}
	ib, err := e.shapes.Index(bt, "f")
	if err != nil {
		t.Fatal(err)
	}
	if ia != ib {
		t.Fatalf("expected B.f to reuse slot %d, got %d", ia, ib)
	}
}

func TestOverrideMismatch(t *testing.T) {
	a := class("A", "", member("Int", "f", nil, ret(intLit(1))))
	b := class("B", "A", member("Decimal", "f", nil, ret(decLit(2))))
	expectErrorContains(t, analyze(t, program(a, b)), "invalid override of f")

	a = class("A", "", member("Int", "f", []*ast.Param{param("Int", "x")}, ret(intLit(1))))
	b = class("B", "A", member("Int", "f", []*ast.Param{param("Decimal", "x")}, ret(intLit(2))))
	expectErrorContains(t, analyze(t, program(a, b)), "unmatching parameter types")
}

func TestDuplicateMembers(t *testing.T) {
	a := class("A", "", &ast.VariableMember{Type: ref("Int"), Name: "x"})
	b := class("B", "A", member("Int", "x", nil, ret(intLit(1))))
	expectErrorContains(t, analyze(t, program(a, b)), "multiple definition of x")

	c := class("C", "",
		&ast.VariableMember{Type: ref("Int"), Name: "y"},
		&ast.VariableMember{Type: ref("Decimal"), Name: "y"},
	)
	expectErrorContains(t, analyze(t, program(c)), "multiple definition of y")
}

func TestSingleConstructor(t *testing.T) {
	a := class("A", "", &ast.ConstructorMember{Body: block()}, &ast.ConstructorMember{Body: block()})
	expectErrorContains(t, analyze(t, program(a)), "only one constructor")
}

func TestCircularInheritance(t *testing.T) {
	a := class("A", "B")
	b := class("B", "A")
	expectErrorContains(t, analyze(t, program(a, b)), "circular inheritance")
}

func TestParentDefinedLater(t *testing.T) {
	dog := class("Dog", "Animal")
	animal := class("Animal", "", &ast.VariableMember{Type: ref("Int"), Name: "legs"})
	expectNoDiagnostics(t, analyze(t, program(dog, animal)))
}

func TestObjectCallsAndAccess(t *testing.T) {
	animal := class("Animal", "",
		&ast.VariableMember{Type: ref("Int"), Name: "legs", Default: intLit(4)},
		member("Decimal", "weigh", []*ast.Param{param("Decimal", "scale")},
			ret(bin("*", &ast.Access{Object: ident("self"), Field: "legs"}, ident("scale")))),
	)
	dog := class("Dog", "Animal")
	call := &ast.ObjectCall{Object: ident("d"), Method: "weigh", Args: []ast.Expr{intLit(2)}}
	use := method("Decimal", "f", nil,
		def("Dog", "d", &ast.New{Class: ref("Dog")}),
		def("Animal", "a", ident("d")),
		ret(call),
	)
	e := newEnv()
	expectNoDiagnostics(t, semantic.Analyze(program(animal, dog, use), e.reg, e.shapes, semantic.FailFast))
	implicitCast(t, call.Args[0], types.Decimal)

	animalType, err := e.reg.Lookup("Animal")
	if err != nil {
		t.Fatal(err)
	}
	implicitCast(t, use.Body.Stmts[1].(*ast.VarDef).Value, animalType)
	if call.Type() != types.Decimal {
		t.Fatalf("expected d.weigh(2) to be Decimal, got %v", call.Type())
	}
}

func TestStoreSupertypeIntoSubtypeFails(t *testing.T) {
	animal := class("Animal", "")
	dog := class("Dog", "Animal")
	use := method("void", "f", []*ast.Param{param("Animal", "a")}, def("Dog", "d", ident("a")))
	expectErrorContains(t, analyze(t, program(animal, dog, use)), "non-super-type")
}

func TestInstanceOf(t *testing.T) {
	animal := class("Animal", "")
	dog := class("Dog", "Animal")
	ok := method("Boolean", "f", []*ast.Param{param("Animal", "a")},
		ret(&ast.InstanceOf{Expr: ident("a"), Class: ref("Dog")}))
	expectNoDiagnostics(t, analyze(t, program(animal, dog, ok)))

	animal = class("Animal", "")
	bad := method("Boolean", "g", []*ast.Param{param("Animal", "a")},
		ret(&ast.InstanceOf{Expr: ident("a"), Class: ref("String")}))
	expectErrorContains(t, analyze(t, program(animal, bad)), "can never be an instance")
}

func TestConstructorArguments(t *testing.T) {
	prog := program(method("String", "f", nil, ret(&ast.New{Class: ref("String")})))
	expectErrorContains(t, analyze(t, prog), "constructor of String takes 2 parameters, 0 given")
}

// ---------------------------------------------------------------------------
// Failure modes
// ---------------------------------------------------------------------------

func twoBrokenMethods() *ast.Program {
	return program(
		method("void", "a", nil, def("Int", "x", decLit(1))),
		method("void", "b", nil, def("Int", "y", decLit(2))),
		method("Int", "c", nil, ret(intLit(3))),
	)
}

func TestFailFastStopsAtFirstError(t *testing.T) {
	e := newEnv()
	c := semantic.NewChecker(e.reg, e.shapes, semantic.FailFast)
	prog := twoBrokenMethods()
	c.Declare(prog)
	c.Check(prog)
	expectErrors(t, c.Diagnostics(), 1)
	if !c.Stopped() {
		t.Fatal("expected the checker to stop")
	}
}

func TestAccumulateContinues(t *testing.T) {
	e := newEnv()
	diags := semantic.Analyze(twoBrokenMethods(), e.reg, e.shapes, semantic.Accumulate)
	expectErrors(t, diags, 2)
	if !semantic.HasErrors(diags) {
		t.Fatal("expected HasErrors to report errors")
	}
}

func TestAccumulateRestoresScope(t *testing.T) {
	e := newEnv()
	// The failure happens two frames deep; the next method must still see
	// only globals.
	prog := program(
		method("void", "a", nil, block(block(def("Int", "x", decLit(1))))),
		method("Int", "b", nil, def("Int", "x", intLit(1)), ret(ident("x"))),
	)
	diags := semantic.Analyze(prog, e.reg, e.shapes, semantic.Accumulate)
	expectErrors(t, diags, 1)
}
