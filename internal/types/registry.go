package types

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Registry entries
// ---------------------------------------------------------------------------

type entryKind int

const (
	entryPrimitive entryKind = iota
	entryClass
	entryLambda
)

type entry struct {
	kind    entryKind
	name    string
	defined bool // classes only: false while the name is merely reserved
	parent  Key
	members []Member
	sig     Signature
}

// Registry interns every type identity of one compilation: primitives,
// classes and lambda signatures. It is not safe for concurrent use.
type Registry struct {
	ready   bool
	entries []entry
	names   map[string]Key
	lambdas map[string][]Key // signature fingerprint -> candidate keys
}

// NewRegistry returns an initialised registry. It panics if the reserved
// types cannot be registered.
func NewRegistry() *Registry {
	r := &Registry{}
	if err := r.Init(); err != nil {
		panic(fmt.Sprintf("types: registering reserved types: %v", err))
	}
	return r
}

// Init registers the reserved types. Initialising twice without an
// intervening Teardown fails with ErrDoubleInit.
func (r *Registry) Init() error {
	if r.ready {
		return ErrDoubleInit
	}
	r.entries = make([]entry, firstFreeKey)
	r.names = make(map[string]Key)
	r.lambdas = make(map[string][]Key)
	for k := KeyVoid; k <= KeyNull; k++ {
		r.entries[k] = entry{kind: entryPrimitive, name: primitiveNames[k]}
		if k != KeyNull {
			r.names[primitiveNames[k]] = k
		}
	}

	r.entries[KeyObject] = entry{kind: entryClass, name: "Object", defined: true, parent: KeyObject}
	r.names["Object"] = KeyObject

	r.entries[KeyString] = entry{kind: entryClass, name: "String", parent: KeyObject}
	r.names["String"] = KeyString
	r.ready = true

	stub := []Member{
		{Kind: Variable, Name: "data", Type: I8.ArrayOf()},
		{Kind: Variable, Name: "length", Type: Int},
		{Kind: Constructor, Name: "String", Return: Void, Params: []Type{I8.ArrayOf(), Int}, External: true},
	}
	if _, err := r.DefineClass("String", stub, Object); err != nil {
		r.ready = false
		return fmt.Errorf("registering String: %w", err)
	}
	return nil
}

// Teardown drops every registered type. The registry can be initialised
// again afterwards.
func (r *Registry) Teardown() {
	r.ready = false
	r.entries = nil
	r.names = nil
	r.lambdas = nil
}

func (r *Registry) valid(k Key) bool {
	return k >= 0 && int(k) < len(r.entries)
}

// ---------------------------------------------------------------------------
// Classes
// ---------------------------------------------------------------------------

// Reserve forward-declares a class name so that member and parent types can
// refer to it before its definition is registered.
func (r *Registry) Reserve(name string) (Key, error) {
	if !r.ready {
		return 0, ErrNotInitialised
	}
	if k, ok := r.names[name]; ok {
		if r.entries[k].kind == entryClass && !r.entries[k].defined {
			return k, nil
		}
		return 0, fmt.Errorf("%w: %s", ErrRedefined, name)
	}
	k := Key(len(r.entries))
	r.entries = append(r.entries, entry{kind: entryClass, name: name})
	r.names[name] = k
	return k, nil
}

// DefineClass records the members and parent of a class. Method and
// constructor members get their lambda type with self prepended.
func (r *Registry) DefineClass(name string, members []Member, parent Type) (Key, error) {
	if !r.ready {
		return 0, ErrNotInitialised
	}
	if !r.IsObject(parent) {
		return 0, fmt.Errorf("%w: parent %s of %s", ErrNotObject, r.String(parent), name)
	}
	if !r.entries[parent.Key].defined {
		return 0, fmt.Errorf("%w: parent %s of %s", ErrUndefinedClass, r.String(parent), name)
	}
	k, err := r.Reserve(name)
	if err != nil {
		return 0, err
	}

	self := Type{Key: k}
	own := make([]Member, len(members))
	for i, m := range members {
		if m.Kind != Variable {
			if m.Kind == Constructor {
				m.Return = Void
			}
			m.Type = r.Lambda(m.Return, append([]Type{self}, m.Params...))
		}
		own[i] = m
	}

	e := &r.entries[k]
	e.parent = parent.Key
	e.members = own
	e.defined = true
	return k, nil
}

// Lookup resolves a type name. The null sentinel has no name.
func (r *Registry) Lookup(name string) (Type, error) {
	if k, ok := r.names[name]; ok {
		return Type{Key: k}, nil
	}
	return Type{}, fmt.Errorf("%w: %s", ErrUnknownType, name)
}

// Parent returns the parent class of t. Object is its own parent.
func (r *Registry) Parent(t Type) (Type, error) {
	if !r.IsObject(t) {
		return Type{}, fmt.Errorf("%w: %s", ErrNotObject, r.String(t))
	}
	return Type{Key: r.entries[t.Key].parent}, nil
}

// Members returns the class's own members in declaration order.
func (r *Registry) Members(t Type) []Member {
	if !r.IsObject(t) {
		return nil
	}
	return r.entries[t.Key].members
}

// Ancestors returns t followed by its ancestors up to and including Object.
func (r *Registry) Ancestors(t Type) []Type {
	if !r.IsObject(t) {
		return nil
	}
	var out []Type
	k := t.Key
	for range r.entries {
		out = append(out, Type{Key: k})
		if k == KeyObject {
			break
		}
		k = r.entries[k].parent
	}
	return out
}

// Member looks name up in t's own members, then in its ancestors.
func (r *Registry) Member(t Type, name string) (Member, bool) {
	for _, c := range r.Ancestors(t) {
		for _, m := range r.entries[c.Key].members {
			if m.Name == name && m.Kind != Constructor {
				return m, true
			}
		}
	}
	return Member{}, false
}

// Constructor returns the class's own constructor, if it has one.
func (r *Registry) Constructor(t Type) (Member, bool) {
	for _, m := range r.Members(t) {
		if m.Kind == Constructor {
			return m, true
		}
	}
	return Member{}, false
}

// IsSuper reports whether super is sub or one of its ancestors.
func (r *Registry) IsSuper(super, sub Type) bool {
	if !r.IsObject(super) || !r.IsObject(sub) {
		return false
	}
	for _, c := range r.Ancestors(sub) {
		if c == super {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Lambdas
// ---------------------------------------------------------------------------

func fingerprint(s Signature) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d.%d(", s.Return.Key, s.Return.Nesting)
	for _, p := range s.Params {
		fmt.Fprintf(&sb, "%d.%d,", p.Key, p.Nesting)
	}
	sb.WriteByte(')')
	return sb.String()
}

// Lambda returns the interned lambda type for the given signature.
// Structurally identical signatures share a key.
func (r *Registry) Lambda(ret Type, params []Type) Type {
	sig := Signature{Return: ret, Params: append([]Type(nil), params...)}
	fp := fingerprint(sig)
	for _, k := range r.lambdas[fp] {
		if r.entries[k].sig.equal(sig) {
			return Type{Key: k}
		}
	}
	k := Key(len(r.entries))
	r.entries = append(r.entries, entry{kind: entryLambda, sig: sig})
	r.lambdas[fp] = append(r.lambdas[fp], k)
	return Type{Key: k}
}

// Signature returns the return and parameter types of a lambda type.
func (r *Registry) Signature(t Type) (Signature, error) {
	if !r.IsLambda(t) {
		return Signature{}, fmt.Errorf("%w: %s", ErrNotLambda, r.String(t))
	}
	return r.entries[t.Key].sig, nil
}

// ---------------------------------------------------------------------------
// Predicates
// ---------------------------------------------------------------------------

// IsObject reports whether t is a (non-array) class type.
func (r *Registry) IsObject(t Type) bool {
	return t.Nesting == 0 && r.valid(t.Key) && r.entries[t.Key].kind == entryClass
}

// IsLambda reports whether t is a (non-array) lambda type.
func (r *Registry) IsLambda(t Type) bool {
	return t.Nesting == 0 && r.valid(t.Key) && r.entries[t.Key].kind == entryLambda
}

// IsReference reports whether t is a slot the null sentinel can be stored
// into: an object, a lambda or an array.
func (r *Registry) IsReference(t Type) bool {
	return r.IsObject(t) || r.IsLambda(t) || (t.IsArray() && r.valid(t.Key))
}

// IsDefined reports whether a class type has been defined, not merely
// reserved.
func (r *Registry) IsDefined(t Type) bool {
	return r.IsObject(t) && r.entries[t.Key].defined
}

// Widest returns the wider of two numerical types. Non-numerical operands
// fail rather than picking one side.
func (r *Registry) Widest(a, b Type) (Type, error) {
	if !a.IsNumeric() {
		return Type{}, fmt.Errorf("%w: %s", ErrNotNumeric, r.String(a))
	}
	if !b.IsNumeric() {
		return Type{}, fmt.Errorf("%w: %s", ErrNotNumeric, r.String(b))
	}
	if a.Key >= b.Key {
		return a, nil
	}
	return b, nil
}

// Name returns the bare name of a class or primitive key.
func (r *Registry) Name(t Type) string {
	if !r.valid(t.Key) {
		return fmt.Sprintf("<type %d>", t.Key)
	}
	return r.entries[t.Key].name
}

// String renders t the way it is written in source: Int[], Animal,
// Int::(Decimal, Animal).
func (r *Registry) String(t Type) string {
	if !r.valid(t.Key) {
		return withNesting(fmt.Sprintf("<type %d>", t.Key), t.Nesting)
	}
	e := r.entries[t.Key]
	if e.kind != entryLambda {
		return withNesting(e.name, t.Nesting)
	}
	params := make([]string, len(e.sig.Params))
	for i, p := range e.sig.Params {
		params[i] = r.String(p)
	}
	name := fmt.Sprintf("%s::(%s)", r.String(e.sig.Return), strings.Join(params, ", "))
	if t.Nesting > 0 {
		name = "(" + name + ")"
	}
	return withNesting(name, t.Nesting)
}
