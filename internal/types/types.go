package types

import "strings"

// ---------------------------------------------------------------------------
// Type identity
// ---------------------------------------------------------------------------

// Key is the interned identity of a type. Primitive keys are reserved and
// ordered narrow to wide so numeric widening is a comparison of keys.
type Key int

const (
	KeyVoid Key = iota
	KeyI8
	KeyI16
	KeyInt
	KeyI64
	KeyDecimal
	KeyBoolean
	KeyNull
	KeyObject
	KeyString

	firstFreeKey
)

// Type is a key plus an array nesting depth. It is comparable and can be
// used directly as a map key.
type Type struct {
	Key     Key
	Nesting int
}

// Reserved types.
var (
	Void    = Type{Key: KeyVoid}
	I8      = Type{Key: KeyI8}
	I16     = Type{Key: KeyI16}
	Int     = Type{Key: KeyInt}
	I64     = Type{Key: KeyI64}
	Decimal = Type{Key: KeyDecimal}
	Boolean = Type{Key: KeyBoolean}
	Null    = Type{Key: KeyNull}
	Object  = Type{Key: KeyObject}
	String  = Type{Key: KeyString}
)

// ArrayOf returns the type one nesting level deeper than t.
func (t Type) ArrayOf() Type { return Type{Key: t.Key, Nesting: t.Nesting + 1} }

// Elem returns the element type of an array type.
func (t Type) Elem() Type {
	if t.Nesting == 0 {
		return t
	}
	return Type{Key: t.Key, Nesting: t.Nesting - 1}
}

func (t Type) IsArray() bool   { return t.Nesting > 0 }
func (t Type) IsVoid() bool    { return t == Void }
func (t Type) IsBoolean() bool { return t == Boolean }
func (t Type) IsNull() bool    { return t == Null }
func (t Type) IsDecimal() bool { return t == Decimal }

// IsNumeric reports whether t is one of the sized integers or Decimal.
func (t Type) IsNumeric() bool {
	return t.Nesting == 0 && t.Key >= KeyI8 && t.Key <= KeyDecimal
}

// IsInteger reports whether t is a sized integer.
func (t Type) IsInteger() bool {
	return t.Nesting == 0 && t.Key >= KeyI8 && t.Key <= KeyI64
}

// ---------------------------------------------------------------------------
// Class members
// ---------------------------------------------------------------------------

// MemberKind tags a class list entry.
type MemberKind int

const (
	Variable MemberKind = iota
	Method
	Constructor
)

func (k MemberKind) String() string {
	switch k {
	case Variable:
		return "variable"
	case Method:
		return "method"
	case Constructor:
		return "constructor"
	default:
		return "unknown"
	}
}

// Member is one resolved entry of a class definition. For methods and
// constructors Params excludes the implicit self; Type is filled in by the
// registry with the lambda type whose first parameter is self.
type Member struct {
	Kind     MemberKind
	Name     string
	Type     Type
	Return   Type
	Params   []Type
	External bool
}

// Signature is the structural identity of a lambda type.
type Signature struct {
	Return Type
	Params []Type
}

func (s Signature) equal(o Signature) bool {
	if s.Return != o.Return || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// SameParams reports whether two parameter lists are identical.
func SameParams(a, b []Type) bool {
	return Signature{Params: a}.equal(Signature{Params: b})
}

// ---------------------------------------------------------------------------
// Names
// ---------------------------------------------------------------------------

var primitiveNames = map[Key]string{
	KeyVoid:    "void",
	KeyI8:      "I8",
	KeyI16:     "I16",
	KeyInt:     "Int",
	KeyI64:     "I64",
	KeyDecimal: "Decimal",
	KeyBoolean: "Boolean",
	KeyNull:    "null",
}

func withNesting(name string, nesting int) string {
	if nesting == 0 {
		return name
	}
	return name + strings.Repeat("[]", nesting)
}
