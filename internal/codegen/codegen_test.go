package codegen

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"cheshire/internal/ast"
	"cheshire/internal/semantic"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func ref(name string) *ast.TypeRef                 { return &ast.TypeRef{Name: name} }
func param(typ, name string) *ast.Param            { return &ast.Param{Type: ref(typ), Name: name} }
func ident(name string) *ast.Ident                 { return &ast.Ident{Name: name} }
func intLit(v int64) *ast.IntLit                   { return &ast.IntLit{Value: v} }
func block(stmts ...ast.Stmt) *ast.BlockStmt       { return &ast.BlockStmt{Stmts: stmts} }
func ret(e ast.Expr) *ast.ReturnStmt               { return &ast.ReturnStmt{Value: e} }
func program(nodes ...ast.TopNode) *ast.Program    { return &ast.Program{Nodes: nodes} }
func bin(op string, l, r ast.Expr) *ast.Binary     { return &ast.Binary{Op: op, Left: l, Right: r} }
func def(typ, name string, v ast.Expr) *ast.VarDef { return &ast.VarDef{Type: ref(typ), Name: name, Value: v} }

func method(retType, name string, params []*ast.Param, stmts ...ast.Stmt) *ast.MethodDecl {
	var r *ast.TypeRef
	if retType != "void" {
		r = ref(retType)
	}
	return &ast.MethodDecl{Name: name, Return: r, Params: params, Body: block(stmts...)}
}

// mustCheck runs the checker over prog and fails the test on any diagnostic.
func mustCheck(t *testing.T, prog *ast.Program) (*types.Registry, *shape.Resolver) {
	t.Helper()
	reg := types.NewRegistry()
	shapes := shape.NewResolver(reg)
	diags := semantic.Analyze(prog, reg, shapes, semantic.Accumulate)
	if len(diags) > 0 {
		for _, d := range diags {
			t.Logf("  %s", d.Error())
		}
		t.Fatalf("semantic errors: %d", len(diags))
	}
	return reg, shapes
}

// mustEmit checks and emits prog, returning the IR text.
func mustEmit(t *testing.T, prog *ast.Program) string {
	t.Helper()
	reg, shapes := mustCheck(t, prog)
	var buf bytes.Buffer
	res, err := Generate(prog, reg, shapes, &buf, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Written != int64(buf.Len()) {
		t.Fatalf("expected %d bytes written, result says %d", buf.Len(), res.Written)
	}
	return buf.String()
}

func expectContains(t *testing.T, ir, substr string) {
	t.Helper()
	if !strings.Contains(ir, substr) {
		t.Errorf("expected IR to contain %q, got:\n%s", substr, ir)
	}
}

func expectCount(t *testing.T, ir, substr string, want int) {
	t.Helper()
	if got := strings.Count(ir, substr); got != want {
		t.Errorf("expected %d occurrence(s) of %q, got %d:\n%s", want, substr, got, ir)
	}
}

// ---------------------------------------------------------------------------
// Runtime prelude
// ---------------------------------------------------------------------------

func TestPrelude(t *testing.T) {
	ir := mustEmit(t, program())
	expectContains(t, ir, "%cheshire_class = type { %cheshire_class* }")
	expectContains(t, ir, "%class_Object = type { %cheshire_class* }")
	expectContains(t, ir, "%class_String = type { %cheshire_class*, i8*, i32 }")
	expectContains(t, ir, "@_Class.Object = constant %cheshire_class { %cheshire_class* null }")
	expectContains(t, ir, "@_Class.String = constant %cheshire_class { %cheshire_class* @_Class.Object }")
	expectContains(t, ir, "define i1 @cheshire_instance_of(%class_Object* %object, %cheshire_class* %class)")
	expectContains(t, ir, "declare void @String.new(%class_String* %_Param_self, i8* %_Param_data, i32 %_Param_length)")
	expectContains(t, ir, "@cheshire_alloc(i64")
	expectContains(t, ir, "declare void @cheshire_assert_fail()")
}

// ---------------------------------------------------------------------------
// Methods and expressions
// ---------------------------------------------------------------------------

func TestAddMethod(t *testing.T) {
	prog := program(method("Int", "add", []*ast.Param{param("Int", "a"), param("Int", "b")},
		ret(bin("+", ident("a"), ident("b")))))
	ir := mustEmit(t, prog)

	expectContains(t, ir, "define i32 @add(i32 %_Param_a, i32 %_Param_b)")
	expectCount(t, ir, "alloca i32", 2)
	expectCount(t, ir, "store i32 %_Param_", 2)
	expectCount(t, ir, " = add i32 ", 1)
	expectCount(t, ir, "ret i32 %_Value", 1)
}

func TestWideningInsertsSIToFP(t *testing.T) {
	prog := program(method("void", "f", nil, def("Decimal", "x", intLit(3))))
	ir := mustEmit(t, prog)
	expectContains(t, ir, "sitofp i32 3 to double")
	expectContains(t, ir, "alloca double")
	expectCount(t, ir, "ret void", 1)
}

func TestIfElseBothReturn(t *testing.T) {
	ifs := &ast.IfStmt{Condition: ident("c"), Then: block(ret(intLit(1))), Else: block(ret(intLit(0)))}
	prog := program(method("Int", "pick", []*ast.Param{param("Boolean", "c")}, ifs))
	ir := mustEmit(t, prog)

	expectCount(t, ir, "br i1 ", 1)
	expectCount(t, ir, "ret i32 ", 2)
	expectCount(t, ir, "unreachable", 1)
}

func TestNonVoidFallthroughReturnsZero(t *testing.T) {
	ir := mustEmit(t, program(method("Decimal", "f", nil)))
	expectCount(t, ir, "ret double ", 1)
	expectCount(t, ir, "ret double %", 0)
}

func TestWhileLoop(t *testing.T) {
	loop := &ast.WhileStmt{
		Condition: bin("<", ident("i"), intLit(10)),
		Body:      block(&ast.ExprStmt{Expression: &ast.Increment{Op: "++", Target: ident("i")}}),
	}
	prog := program(method("Int", "count", nil, def("Int", "i", intLit(0)), loop, ret(ident("i"))))
	ir := mustEmit(t, prog)

	expectCount(t, ir, "icmp slt i32", 1)
	expectCount(t, ir, "br label %label", 2)
	expectCount(t, ir, " = add i32 ", 1)
}

func TestAssert(t *testing.T) {
	prog := program(method("void", "f", []*ast.Param{param("Boolean", "ok")},
		&ast.AssertStmt{Condition: ident("ok")}))
	ir := mustEmit(t, prog)
	expectContains(t, ir, "call void @cheshire_assert_fail()")
	expectCount(t, ir, "unreachable", 1)
}

func TestDecimalArithmetic(t *testing.T) {
	prog := program(method("Decimal", "scale", []*ast.Param{param("Decimal", "d"), param("Int", "n")},
		ret(bin("*", ident("d"), ident("n")))))
	ir := mustEmit(t, prog)
	expectContains(t, ir, "sitofp i32")
	expectCount(t, ir, " = fmul double ", 1)
}

func TestGlobals(t *testing.T) {
	prog := program(
		&ast.GlobalVar{Type: ref("Decimal"), Name: "rate", Value: intLit(2)},
		&ast.GlobalVar{Type: ref("Int"), Name: "ext"},
		method("Decimal", "get", nil, ret(ident("rate"))),
	)
	ir := mustEmit(t, prog)
	expectContains(t, ir, "@rate = global double ")
	expectContains(t, ir, "@ext = external global i32")
	expectContains(t, ir, "load double, double* @rate")
}

func TestForwardCall(t *testing.T) {
	prog := program(
		method("Int", "first", nil, ret(&ast.Call{Callee: ident("second"), Args: []ast.Expr{intLit(1)}})),
		method("Int", "second", []*ast.Param{param("Int", "n")}, ret(ident("n"))),
	)
	ir := mustEmit(t, prog)
	expectContains(t, ir, "call i32 @second(i32 1)")
}

func TestStringLiteral(t *testing.T) {
	prog := program(method("String", "hello", nil, ret(&ast.StringLit{Value: "hi"})))
	ir := mustEmit(t, prog)
	expectContains(t, ir, `c"hi"`)
	expectContains(t, ir, "call i8* @cheshire_alloc(i64 ptrtoint")
	expectContains(t, ir, "call void @String.new(%class_String* %_Value")
}

func TestArrayLiteral(t *testing.T) {
	arr := &ast.ArrayLit{Elem: ref("Decimal"), Elems: []ast.Expr{intLit(1), &ast.DecimalLit{Value: 2.5}}}
	prog := program(&ast.MethodDecl{
		Name:   "values",
		Return: &ast.TypeRef{Name: "Decimal", Nesting: 1},
		Body:   block(ret(arr)),
	})
	ir := mustEmit(t, prog)
	expectContains(t, ir, "global [2 x double] [double ")
	expectContains(t, ir, "ret double* getelementptr")
}

func TestClosure(t *testing.T) {
	clo := &ast.Closure{
		Return:   ref("Int"),
		Params:   []*ast.Param{param("Int", "y")},
		Captures: []string{"x"},
		Body:     block(ret(bin("+", ident("x"), ident("y")))),
	}
	prog := program(method("Int", "f", nil,
		def("Int", "x", intLit(1)),
		&ast.VarDef{Name: "add", Value: clo},
		ret(&ast.Call{Callee: ident("add"), Args: []ast.Expr{intLit(2)}}),
	))
	ir := mustEmit(t, prog)

	expectContains(t, ir, "(i8* %_Env, i32 %_Param_y)")
	expectContains(t, ir, "bitcast i8* %_Env to { i32 }*")
	expectContains(t, ir, "alloca { i32 (i8*, i32)*, i8* }")
	expectCount(t, ir, "= global", 0)
	expectContains(t, ir, "extractvalue { i32 (i8*, i32)*, i8* }")
	if strings.Index(ir, "define i32 @f(") > strings.Index(ir, "define i32 @_Closure") {
		t.Errorf("expected the closure after the unit that created it:\n%s", ir)
	}
}

func TestClosuresFromOneSiteKeepTheirOwnCaptures(t *testing.T) {
	adder := &ast.TypeRef{Lambda: &ast.LambdaRef{Return: ref("Int"), Params: []*ast.TypeRef{ref("Int")}}}
	clo := &ast.Closure{
		Return:   ref("Int"),
		Params:   []*ast.Param{param("Int", "y")},
		Captures: []string{"x"},
		Body:     block(ret(bin("+", ident("x"), ident("y")))),
	}
	makeAdder := &ast.MethodDecl{
		Name:   "makeAdder",
		Return: adder,
		Params: []*ast.Param{param("Int", "x")},
		Body:   block(ret(clo)),
	}
	use := method("Int", "use", nil,
		&ast.VarDef{Name: "a", Value: &ast.Call{Callee: ident("makeAdder"), Args: []ast.Expr{intLit(1)}}},
		&ast.VarDef{Name: "b", Value: &ast.Call{Callee: ident("makeAdder"), Args: []ast.Expr{intLit(2)}}},
		ret(&ast.Call{Callee: ident("a"), Args: []ast.Expr{intLit(0)}}),
	)
	ir := mustEmit(t, program(makeAdder, use))

	// Every evaluation allocates a fresh environment and stores x into it.
	maker := ir[strings.Index(ir, "define { i32 (i8*, i32)*, i8* } @makeAdder("):]
	maker = maker[:strings.Index(maker, "\n}")]
	expectCount(t, maker, "call i8* @cheshire_alloc(i64 ptrtoint ({ i32 }* getelementptr ({ i32 }, { i32 }* null, i32 1) to i64))", 1)
	expectContains(t, maker, "bitcast i8* %_Value")
	expectContains(t, maker, "getelementptr { i32 }, { i32 }* %_Value")
	expectContains(t, maker, "insertvalue { i32 (i8*, i32)*, i8* } { i32 (i8*, i32)* @_Closure")

	// No capture lives in a shared global.
	expectCount(t, ir, "= global", 0)
	expectCount(t, ir, "@_Closure", 2)

	// The call passes a's own environment.
	expectContains(t, ir, "call i32 %_Value")
	expectContains(t, ir, "(i8* %_Value")
}

func TestMethodAsValue(t *testing.T) {
	fnType := &ast.TypeRef{Lambda: &ast.LambdaRef{Return: ref("Int"), Params: []*ast.TypeRef{ref("Int")}}}
	prog := program(
		method("Int", "twice", []*ast.Param{param("Int", "n")}, ret(bin("*", ident("n"), intLit(2)))),
		method("Int", "apply", nil,
			&ast.VarDef{Type: fnType, Name: "f", Value: ident("twice")},
			ret(&ast.Call{Callee: ident("f"), Args: []ast.Expr{intLit(3)}}),
		),
	)
	ir := mustEmit(t, prog)
	expectContains(t, ir, "bitcast i32 (i32)* @twice to i8*")
	expectContains(t, ir, "define i32 @_Adapter")
	expectContains(t, ir, "(i8* %_Env, i32 %_Param_0)")
	expectContains(t, ir, "%target = bitcast i8* %_Env to i32 (i32)*")
	expectContains(t, ir, "%result = call i32 %target(i32 %_Param_0)")
	expectCount(t, ir, "call i32 @twice(", 0)
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

func animals(extra ...ast.TopNode) *ast.Program {
	animal := &ast.ClassDef{Name: "Animal", Members: []ast.Member{
		&ast.VariableMember{Type: ref("Int"), Name: "legs", Default: intLit(4)},
		&ast.MethodMember{Return: ref("Int"), Name: "speak", Body: block(ret(intLit(1)))},
		&ast.ConstructorMember{Body: block()},
	}}
	dog := &ast.ClassDef{Name: "Dog", Parent: ref("Animal"), Members: []ast.Member{
		&ast.MethodMember{Return: ref("Int"), Name: "speak", Body: block(ret(intLit(2)))},
	}}
	return program(append([]ast.TopNode{animal, dog}, extra...)...)
}

func TestClassLayout(t *testing.T) {
	ir := mustEmit(t, animals())
	expectContains(t, ir, "%class_Animal = type { %cheshire_class*, i32, i32 (%class_Animal*)* }")
	expectContains(t, ir, "%class_Dog = type { %cheshire_class*, i32, i32 (%class_Dog*)* }")
	expectContains(t, ir, "@_Class.Animal = constant %cheshire_class { %cheshire_class* @_Class.Object }")
	expectContains(t, ir, "@_Class.Dog = constant %cheshire_class { %cheshire_class* @_Class.Animal }")
	expectContains(t, ir, "define i32 @Animal.speak(%class_Animal* %_Param_self)")
	expectContains(t, ir, "define i32 @Dog.speak(%class_Dog* %_Param_self)")
}

func TestDefaultConstructorCallsParent(t *testing.T) {
	ir := mustEmit(t, animals())
	expectContains(t, ir, "define void @Dog.new(%class_Dog* %_Param_self)")
	expectContains(t, ir, "bitcast %class_Dog* %_Value")
	expectContains(t, ir, "call void @Animal.new(%class_Animal* %_Value")
	// Animal stores its default and its own slot; Dog only its override.
	expectContains(t, ir, "store i32 4, i32* %_Value")
	expectContains(t, ir, "@Animal.speak, i32 (%class_Animal*)** %_Value")
	expectContains(t, ir, "@Dog.speak, i32 (%class_Dog*)** %_Value")
}

func TestObjectCall(t *testing.T) {
	call := &ast.ObjectCall{Object: ident("a"), Method: "speak"}
	use := method("Int", "talk", nil,
		&ast.VarDef{Type: ref("Animal"), Name: "a", Value: &ast.New{Class: ref("Dog")}},
		ret(call),
	)
	ir := mustEmit(t, animals(use))
	expectContains(t, ir, "store %cheshire_class* @_Class.Dog, %cheshire_class** %_Value")
	expectContains(t, ir, "call void @Dog.new(%class_Dog* %_Value")
	expectContains(t, ir, "getelementptr %class_Animal, %class_Animal* %_Value")
	expectContains(t, ir, "i32 0, i32 2")
	expectContains(t, ir, "load i32 (%class_Animal*)*, i32 (%class_Animal*)** %_Value")
	expectContains(t, ir, "call i32 %_Value")
}

func TestInstanceOf(t *testing.T) {
	up := method("Boolean", "up", []*ast.Param{param("Dog", "d")},
		ret(&ast.InstanceOf{Expr: ident("d"), Class: ref("Animal")}))
	down := method("Boolean", "down", []*ast.Param{param("Animal", "a")},
		ret(&ast.InstanceOf{Expr: ident("a"), Class: ref("Dog")}))
	ir := mustEmit(t, animals(up, down))
	expectContains(t, ir, "icmp ne %class_Dog* %_Value")
	// A downcast asks the runtime: an Animal holding a Dog is a Dog.
	expectContains(t, ir, "bitcast %class_Animal* %_Value")
	expectContains(t, ir, " to %class_Object*")
	expectContains(t, ir, "call i1 @cheshire_instance_of(%class_Object* %_Value")
	expectContains(t, ir, ", %cheshire_class* @_Class.Dog)")
	// The only constant false is the runtime walk running off the chain.
	expectCount(t, ir, "ret i1 false", 1)
}

// ---------------------------------------------------------------------------
// Failures and options
// ---------------------------------------------------------------------------

func TestUncheckedTreeIsAnError(t *testing.T) {
	prog := program(method("Int", "f", nil, ret(intLit(1))))
	reg := types.NewRegistry()
	var buf bytes.Buffer
	_, err := Generate(prog, reg, shape.NewResolver(reg), &buf, nil)
	if err == nil {
		t.Fatal("expected an error for an unannotated tree")
	}
	var cgErr *Error
	if !errors.As(err, &cgErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !errors.Is(err, ErrUnannotated) {
		t.Fatalf("expected ErrUnannotated, got %v", err)
	}
}

func TestVerboseLogging(t *testing.T) {
	prog := program(method("void", "f", nil))
	reg, shapes := mustCheck(t, prog)
	var out, log bytes.Buffer
	res, err := Generate(prog, reg, shapes, &out, &Options{Verbose: true, Log: &log})
	if err != nil {
		t.Fatal(err)
	}
	if res.Units != 1 {
		t.Fatalf("expected 1 unit, got %d", res.Units)
	}
	expectContains(t, log.String(), "[codegen] emitted method f")
}

func TestNamesAreUnique(t *testing.T) {
	prog := program(method("Int", "f", []*ast.Param{param("Int", "x")},
		block(def("Int", "x", intLit(1))),
		block(def("Int", "x", intLit(2))),
		ret(ident("x")),
	))
	ir := mustEmit(t, prog)
	expectCount(t, ir, "alloca i32", 3)
	for _, line := range strings.Split(ir, "\n") {
		if strings.Contains(line, "alloca") && strings.Count(ir, strings.Fields(line)[0]+" =") != 1 {
			t.Errorf("local %s defined more than once", strings.Fields(line)[0])
		}
	}
}
