package ast

import (
	"fmt"

	"cheshire/internal/types"
)

// ---------------------------------------------------------------------------
// Source position
// ---------------------------------------------------------------------------

// Position represents a line/column pair in source code (1-based).
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// Node is implemented by every AST node.
type Node interface {
	GetPos() Position
}

// TopNode is implemented by the three kinds of top-level definition.
type TopNode interface {
	Node
	topNode()
}

// Member is implemented by every entry of a class body.
type Member interface {
	Node
	memberNode()
}

// Stmt is implemented by every statement node.
type Stmt interface {
	Node
	stmtNode()
}

// Expr is implemented by every expression node. The checker records the
// determined type of each expression exactly once.
type Expr interface {
	Node
	exprNode()
	Type() types.Type
	SetType(types.Type)
	HasType() bool
}

// Typed is embedded by every expression node.
type Typed struct {
	determined types.Type
	set        bool
}

func (t *Typed) Type() types.Type       { return t.determined }
func (t *Typed) SetType(typ types.Type) { t.determined, t.set = typ, true }
func (t *Typed) HasType() bool          { return t.set }

// ---------------------------------------------------------------------------
// Program (root)
// ---------------------------------------------------------------------------

// Program is the forest of top-level definitions handed over by the parser.
type Program struct {
	Nodes []TopNode
}

// Release drops the tree once it has been emitted.
func (p *Program) Release() {
	p.Nodes = nil
}

// ---------------------------------------------------------------------------
// Type references
// ---------------------------------------------------------------------------

// TypeRef is a type as written in source: a name with array nesting, or a
// lambda signature.
type TypeRef struct {
	Name    string
	Nesting int
	Lambda  *LambdaRef // non-nil for function types; Name is ignored
	Pos     Position
}

// LambdaRef is the written form of a function type: Ret::(P1, P2).
type LambdaRef struct {
	Return *TypeRef
	Params []*TypeRef
}

// Param is a single parameter: <type> <name>.
type Param struct {
	Type *TypeRef
	Name string
	Pos  Position
}

// ---------------------------------------------------------------------------
// Top-level definitions
// ---------------------------------------------------------------------------

// MethodDecl is a global method. A nil Body makes it an external
// declaration.
type MethodDecl struct {
	Name   string
	Return *TypeRef
	Params []*Param
	Body   *BlockStmt
	Pos    Position
}

func (n *MethodDecl) GetPos() Position { return n.Pos }
func (n *MethodDecl) topNode()         {}

// GlobalVar is a global variable. A nil Value makes it an external
// declaration.
type GlobalVar struct {
	Type  *TypeRef
	Name  string
	Value Expr
	Pos   Position
}

func (n *GlobalVar) GetPos() Position { return n.Pos }
func (n *GlobalVar) topNode()         {}

// ClassDef: class <Name> [extends <Parent>] { members }
type ClassDef struct {
	Name    string
	Parent  *TypeRef // nil means Object
	Members []Member
	Pos     Position
}

func (n *ClassDef) GetPos() Position { return n.Pos }
func (n *ClassDef) topNode()         {}

// Constructor returns the class's constructor member, or nil.
func (n *ClassDef) Constructor() *ConstructorMember {
	for _, m := range n.Members {
		if c, ok := m.(*ConstructorMember); ok {
			return c
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Class members
// ---------------------------------------------------------------------------

// VariableMember is a field with an optional default value.
type VariableMember struct {
	Type    *TypeRef
	Name    string
	Default Expr
	Pos     Position
}

func (n *VariableMember) GetPos() Position { return n.Pos }
func (n *VariableMember) memberNode()      {}

// MethodMember is a method; self is implicit.
type MethodMember struct {
	Return *TypeRef
	Name   string
	Params []*Param
	Body   *BlockStmt
	Pos    Position
}

func (n *MethodMember) GetPos() Position { return n.Pos }
func (n *MethodMember) memberNode()      {}

// ConstructorMember: <Name>(params) : super(args) { body }
type ConstructorMember struct {
	Params      []*Param
	SuperArgs   []Expr
	Body        *BlockStmt
	Synthesized bool // added by the checker for classes without one
	Pos         Position
}

func (n *ConstructorMember) GetPos() Position { return n.Pos }
func (n *ConstructorMember) memberNode()      {}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// BlockStmt is a brace-delimited list of statements.
type BlockStmt struct {
	Stmts []Stmt
	Pos   Position
}

func (n *BlockStmt) GetPos() Position { return n.Pos }
func (n *BlockStmt) stmtNode()        {}

// VarDef: <type> <name> = <value>; or infer <name> = <value>; when Type is nil.
type VarDef struct {
	Type  *TypeRef
	Name  string
	Value Expr
	Pos   Position
}

func (n *VarDef) GetPos() Position { return n.Pos }
func (n *VarDef) stmtNode()        {}

// ExprStmt wraps a bare expression used as a statement.
type ExprStmt struct {
	Expression Expr
	Pos        Position
}

func (n *ExprStmt) GetPos() Position { return n.Pos }
func (n *ExprStmt) stmtNode()        {}

// AssertStmt: assert <cond>;
type AssertStmt struct {
	Condition Expr
	Pos       Position
}

func (n *AssertStmt) GetPos() Position { return n.Pos }
func (n *AssertStmt) stmtNode()        {}

// IfStmt: if (<cond>) <then> [else <else>]
type IfStmt struct {
	Condition Expr
	Then      Stmt
	Else      Stmt // nil when there is no else arm
	Pos       Position
}

func (n *IfStmt) GetPos() Position { return n.Pos }
func (n *IfStmt) stmtNode()        {}

// WhileStmt: while (<cond>) <body>
type WhileStmt struct {
	Condition Expr
	Body      Stmt
	Pos       Position
}

func (n *WhileStmt) GetPos() Position { return n.Pos }
func (n *WhileStmt) stmtNode()        {}

// ReturnStmt: return [<value>];
type ReturnStmt struct {
	Value Expr // nil for bare "return;"
	Pos   Position
}

func (n *ReturnStmt) GetPos() Position { return n.Pos }
func (n *ReturnStmt) stmtNode()        {}

// ---------------------------------------------------------------------------
// Expressions: literals
// ---------------------------------------------------------------------------

type IntLit struct {
	Typed
	Value int64
	Pos   Position
}

type DecimalLit struct {
	Typed
	Value float64
	Pos   Position
}

type CharLit struct {
	Typed
	Value rune
	Pos   Position
}

// StringLit holds the unquoted, unescaped text.
type StringLit struct {
	Typed
	Value string
	Pos   Position
}

type BoolLit struct {
	Typed
	Value bool
	Pos   Position
}

type NullLit struct {
	Typed
	Pos Position
}

// ArrayLit: new Elem[] { e1, e2, ... } with constant elements.
type ArrayLit struct {
	Typed
	Elem  *TypeRef
	Elems []Expr
	Pos   Position
}

// ---------------------------------------------------------------------------
// Expressions: operators
// ---------------------------------------------------------------------------

// Ident is a plain identifier reference.
type Ident struct {
	Typed
	Name string
	Pos  Position
}

// Unary: <op><operand> with op one of "!", "~", "-".
type Unary struct {
	Typed
	Op      string
	Operand Expr
	Pos     Position
}

// Increment: <target>++ or <target>--. The value is the one before the update.
type Increment struct {
	Typed
	Op     string
	Target Expr
	Pos    Position
}

// Binary: <left> <op> <right>
type Binary struct {
	Typed
	Op    string
	Left  Expr
	Right Expr
	Pos   Position
}

// Assign: <target> = <value>; the value of the expression is the stored value.
type Assign struct {
	Typed
	Target Expr
	Value  Expr
	Pos    Position
}

// Index: <array>[<index>]
type Index struct {
	Typed
	Array Expr
	Index Expr
	Pos   Position
}

// InstanceOf: <expr> instanceof <Class>
type InstanceOf struct {
	Typed
	Expr  Expr
	Class *TypeRef
	Pos   Position
}

// Cast converts Expr to a target type. Explicit casts carry Target;
// implicit ones are spliced in by the checker and carry only the type.
type Cast struct {
	Typed
	Expr     Expr
	Target   *TypeRef
	Implicit bool
	Pos      Position
}

// ---------------------------------------------------------------------------
// Expressions: calls and objects
// ---------------------------------------------------------------------------

// Call invokes a global method or a lambda value.
type Call struct {
	Typed
	Callee Expr
	Args   []Expr
	Pos    Position
}

// ObjectCall: <object>.<method>(args)
type ObjectCall struct {
	Typed
	Object Expr
	Method string
	Args   []Expr
	Pos    Position
}

// Access: <object>.<field>
type Access struct {
	Typed
	Object Expr
	Field  string
	Pos    Position
}

// New: new <Class>(args)
type New struct {
	Typed
	Class *TypeRef
	Args  []Expr
	Pos   Position
}

// Closure: <ret>::(params) using (captures) { body }. Captured bindings are
// copied by value when the closure is created.
type Closure struct {
	Typed
	Return   *TypeRef
	Params   []*Param
	Captures []string
	Body     *BlockStmt

	// CaptureTypes is filled in by the checker, parallel to Captures.
	CaptureTypes []types.Type
	Pos          Position
}

func (n *IntLit) GetPos() Position     { return n.Pos }
func (n *DecimalLit) GetPos() Position { return n.Pos }
func (n *CharLit) GetPos() Position    { return n.Pos }
func (n *StringLit) GetPos() Position  { return n.Pos }
func (n *BoolLit) GetPos() Position    { return n.Pos }
func (n *NullLit) GetPos() Position    { return n.Pos }
func (n *ArrayLit) GetPos() Position   { return n.Pos }
func (n *Ident) GetPos() Position      { return n.Pos }
func (n *Unary) GetPos() Position      { return n.Pos }
func (n *Increment) GetPos() Position  { return n.Pos }
func (n *Binary) GetPos() Position     { return n.Pos }
func (n *Assign) GetPos() Position     { return n.Pos }
func (n *Index) GetPos() Position      { return n.Pos }
func (n *InstanceOf) GetPos() Position { return n.Pos }
func (n *Cast) GetPos() Position       { return n.Pos }
func (n *Call) GetPos() Position       { return n.Pos }
func (n *ObjectCall) GetPos() Position { return n.Pos }
func (n *Access) GetPos() Position     { return n.Pos }
func (n *New) GetPos() Position        { return n.Pos }
func (n *Closure) GetPos() Position    { return n.Pos }

func (n *IntLit) exprNode()     {}
func (n *DecimalLit) exprNode() {}
func (n *CharLit) exprNode()    {}
func (n *StringLit) exprNode()  {}
func (n *BoolLit) exprNode()    {}
func (n *NullLit) exprNode()    {}
func (n *ArrayLit) exprNode()   {}
func (n *Ident) exprNode()      {}
func (n *Unary) exprNode()      {}
func (n *Increment) exprNode()  {}
func (n *Binary) exprNode()     {}
func (n *Assign) exprNode()     {}
func (n *Index) exprNode()      {}
func (n *InstanceOf) exprNode() {}
func (n *Cast) exprNode()       {}
func (n *Call) exprNode()       {}
func (n *ObjectCall) exprNode() {}
func (n *Access) exprNode()     {}
func (n *New) exprNode()        {}
func (n *Closure) exprNode()    {}

// IsConstant reports whether e is a literal that can initialise a global or
// an array element.
func IsConstant(e Expr) bool {
	switch e.(type) {
	case *IntLit, *DecimalLit, *CharLit, *BoolLit, *NullLit:
		return true
	}
	return false
}

// ImplicitCast wraps e in a checker-inserted cast to t.
func ImplicitCast(e Expr, t types.Type) *Cast {
	c := &Cast{Expr: e, Implicit: true, Pos: e.GetPos()}
	c.SetType(t)
	return c
}
