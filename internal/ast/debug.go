package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Debug printer – produces a human-readable tree representation
// ---------------------------------------------------------------------------

// DebugString returns a readable multi-line representation of the AST.
func DebugString(prog *Program) string {
	var b strings.Builder
	b.WriteString("Program\n")
	for _, n := range prog.Nodes {
		debugTop(&b, n, 1)
	}
	return b.String()
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteString("  ")
	}
}

// TypeRefString renders a written type.
func TypeRefString(t *TypeRef) string {
	if t == nil {
		return "void"
	}
	name := t.Name
	if t.Lambda != nil {
		params := make([]string, len(t.Lambda.Params))
		for i, p := range t.Lambda.Params {
			params[i] = TypeRefString(p)
		}
		name = fmt.Sprintf("%s::(%s)", TypeRefString(t.Lambda.Return), strings.Join(params, ", "))
		if t.Nesting > 0 {
			name = "(" + name + ")"
		}
	}
	return name + strings.Repeat("[]", t.Nesting)
}

func paramsString(params []*Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = TypeRefString(p.Type) + " " + p.Name
	}
	return strings.Join(parts, ", ")
}

func debugTop(b *strings.Builder, n TopNode, level int) {
	writeIndent(b, level)
	switch n := n.(type) {
	case *MethodDecl:
		fmt.Fprintf(b, "Method: %s %s(%s)", TypeRefString(n.Return), n.Name, paramsString(n.Params))
		if n.Body == nil {
			b.WriteString(" [external]\n")
			return
		}
		b.WriteByte('\n')
		debugBlock(b, n.Body, level+1)
	case *GlobalVar:
		if n.Value == nil {
			fmt.Fprintf(b, "Global: %s %s [external]\n", TypeRefString(n.Type), n.Name)
			return
		}
		fmt.Fprintf(b, "Global: %s %s = %s\n", TypeRefString(n.Type), n.Name, ExprString(n.Value))
	case *ClassDef:
		parent := "Object"
		if n.Parent != nil {
			parent = TypeRefString(n.Parent)
		}
		fmt.Fprintf(b, "Class: %s extends %s\n", n.Name, parent)
		for _, m := range n.Members {
			debugMember(b, n.Name, m, level+1)
		}
	}
}

func debugMember(b *strings.Builder, class string, m Member, level int) {
	writeIndent(b, level)
	switch m := m.(type) {
	case *VariableMember:
		if m.Default != nil {
			fmt.Fprintf(b, "Field: %s %s = %s\n", TypeRefString(m.Type), m.Name, ExprString(m.Default))
		} else {
			fmt.Fprintf(b, "Field: %s %s\n", TypeRefString(m.Type), m.Name)
		}
	case *MethodMember:
		fmt.Fprintf(b, "Method: %s %s(%s)\n", TypeRefString(m.Return), m.Name, paramsString(m.Params))
		if m.Body != nil {
			debugBlock(b, m.Body, level+1)
		}
	case *ConstructorMember:
		args := make([]string, len(m.SuperArgs))
		for i, a := range m.SuperArgs {
			args[i] = ExprString(a)
		}
		fmt.Fprintf(b, "Constructor: %s(%s) : super(%s)", class, paramsString(m.Params), strings.Join(args, ", "))
		if m.Synthesized {
			b.WriteString(" [default]")
		}
		b.WriteByte('\n')
		if m.Body != nil {
			debugBlock(b, m.Body, level+1)
		}
	}
}

func debugBlock(b *strings.Builder, block *BlockStmt, level int) {
	for _, s := range block.Stmts {
		debugStmt(b, s, level)
	}
}

func debugStmt(b *strings.Builder, s Stmt, level int) {
	if blk, ok := s.(*BlockStmt); ok {
		writeIndent(b, level)
		b.WriteString("Block\n")
		debugBlock(b, blk, level+1)
		return
	}
	writeIndent(b, level)
	switch s := s.(type) {
	case *VarDef:
		typ := "infer"
		if s.Type != nil {
			typ = TypeRefString(s.Type)
		}
		fmt.Fprintf(b, "Def: %s %s = %s\n", typ, s.Name, ExprString(s.Value))
	case *ExprStmt:
		fmt.Fprintf(b, "Expr: %s\n", ExprString(s.Expression))
	case *AssertStmt:
		fmt.Fprintf(b, "Assert: %s\n", ExprString(s.Condition))
	case *ReturnStmt:
		if s.Value == nil {
			b.WriteString("Return\n")
		} else {
			fmt.Fprintf(b, "Return: %s\n", ExprString(s.Value))
		}
	case *IfStmt:
		fmt.Fprintf(b, "If: %s\n", ExprString(s.Condition))
		debugStmt(b, s.Then, level+1)
		if s.Else != nil {
			writeIndent(b, level)
			b.WriteString("Else\n")
			debugStmt(b, s.Else, level+1)
		}
	case *WhileStmt:
		fmt.Fprintf(b, "While: %s\n", ExprString(s.Condition))
		debugStmt(b, s.Body, level+1)
	default:
		fmt.Fprintf(b, "<unknown stmt %T>\n", s)
	}
}

func exprList(es []Expr) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = ExprString(e)
	}
	return strings.Join(parts, ", ")
}

// ExprString returns a compact single-line representation of an expression.
func ExprString(e Expr) string {
	if e == nil {
		return "<nil>"
	}
	switch e := e.(type) {
	case *IntLit:
		return strconv.FormatInt(e.Value, 10)
	case *DecimalLit:
		return strconv.FormatFloat(e.Value, 'g', -1, 64)
	case *CharLit:
		return strconv.QuoteRune(e.Value)
	case *StringLit:
		return strconv.Quote(e.Value)
	case *BoolLit:
		return strconv.FormatBool(e.Value)
	case *NullLit:
		return "null"
	case *ArrayLit:
		return fmt.Sprintf("new %s[] {%s}", TypeRefString(e.Elem), exprList(e.Elems))
	case *Ident:
		return e.Name
	case *Unary:
		return fmt.Sprintf("(%s%s)", e.Op, ExprString(e.Operand))
	case *Increment:
		return fmt.Sprintf("(%s%s)", ExprString(e.Target), e.Op)
	case *Binary:
		return fmt.Sprintf("(%s %s %s)", ExprString(e.Left), e.Op, ExprString(e.Right))
	case *Assign:
		return fmt.Sprintf("(%s = %s)", ExprString(e.Target), ExprString(e.Value))
	case *Index:
		return fmt.Sprintf("%s[%s]", ExprString(e.Array), ExprString(e.Index))
	case *InstanceOf:
		return fmt.Sprintf("(%s instanceof %s)", ExprString(e.Expr), TypeRefString(e.Class))
	case *Cast:
		if e.Implicit {
			return fmt.Sprintf("implicit(%s)", ExprString(e.Expr))
		}
		return fmt.Sprintf("cast<%s>(%s)", TypeRefString(e.Target), ExprString(e.Expr))
	case *Call:
		return fmt.Sprintf("%s(%s)", ExprString(e.Callee), exprList(e.Args))
	case *ObjectCall:
		return fmt.Sprintf("%s.%s(%s)", ExprString(e.Object), e.Method, exprList(e.Args))
	case *Access:
		return fmt.Sprintf("%s.%s", ExprString(e.Object), e.Field)
	case *New:
		return fmt.Sprintf("new %s(%s)", TypeRefString(e.Class), exprList(e.Args))
	case *Closure:
		s := fmt.Sprintf("%s::(%s)", TypeRefString(e.Return), paramsString(e.Params))
		if len(e.Captures) > 0 {
			s += " using (" + strings.Join(e.Captures, ", ") + ")"
		}
		return s + " {...}"
	default:
		return fmt.Sprintf("<%T>", e)
	}
}
