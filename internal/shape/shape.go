package shape

import (
	"errors"
	"fmt"

	"cheshire/internal/types"
)

var (
	ErrNoElement = errors.New("no such element in class shape")
	ErrCycle     = errors.New("circular inheritance")
)

// Slot is one physical field of a class instance: a variable or a method
// function pointer.
type Slot struct {
	Name  string
	Type  types.Type
	Kind  types.MemberKind
	Owner types.Type // class whose declaration last wrote this slot
}

// Shape is the flattened layout of a class. Ancestor slots come first and
// keep their index in every descendant.
type Shape struct {
	Class types.Type
	Slots []Slot
}

// Index returns the position of name in the shape.
func (s *Shape) Index(name string) (int, bool) {
	for i, sl := range s.Slots {
		if sl.Name == name {
			return i, true
		}
	}
	return -1, false
}

// ---------------------------------------------------------------------------
// Resolver
// ---------------------------------------------------------------------------

// Resolver computes and memoises class shapes.
type Resolver struct {
	reg       *types.Registry
	cache     map[types.Key]*Shape
	resolving map[types.Key]bool
}

func NewResolver(reg *types.Registry) *Resolver {
	return &Resolver{
		reg:       reg,
		cache:     make(map[types.Key]*Shape),
		resolving: make(map[types.Key]bool),
	}
}

// Reset drops every cached shape.
func (r *Resolver) Reset() {
	r.cache = make(map[types.Key]*Shape)
	r.resolving = make(map[types.Key]bool)
}

// Shape returns the layout of class t. Object has an empty shape.
func (r *Resolver) Shape(t types.Type) (*Shape, error) {
	if !r.reg.IsObject(t) {
		return nil, fmt.Errorf("%w: %s", types.ErrNotObject, r.reg.String(t))
	}
	if s, ok := r.cache[t.Key]; ok {
		return s, nil
	}
	if t == types.Object {
		s := &Shape{Class: t}
		r.cache[t.Key] = s
		return s, nil
	}
	if r.resolving[t.Key] {
		return nil, fmt.Errorf("%w: %s", ErrCycle, r.reg.String(t))
	}
	r.resolving[t.Key] = true
	defer delete(r.resolving, t.Key)

	parent, err := r.reg.Parent(t)
	if err != nil {
		return nil, err
	}
	base, err := r.Shape(parent)
	if err != nil {
		return nil, err
	}

	// Own variables and new methods are appended in declaration order; an
	// override takes over the inherited slot.
	s := &Shape{Class: t, Slots: append([]Slot(nil), base.Slots...)}
	for _, m := range r.reg.Members(t) {
		slot := Slot{Name: m.Name, Type: m.Type, Kind: m.Kind, Owner: t}
		switch m.Kind {
		case types.Variable:
			s.Slots = append(s.Slots, slot)
		case types.Method:
			if i, ok := s.Index(m.Name); ok {
				s.Slots[i] = slot
				continue
			}
			s.Slots = append(s.Slots, slot)
		}
	}

	r.cache[t.Key] = s
	return s, nil
}

// Index returns the slot index of name in class t.
func (r *Resolver) Index(t types.Type, name string) (int, error) {
	s, err := r.Shape(t)
	if err != nil {
		return -1, err
	}
	i, ok := s.Index(name)
	if !ok {
		return -1, fmt.Errorf("%w: %s.%s", ErrNoElement, r.reg.String(t), name)
	}
	return i, nil
}

// Slot returns the slot called name in class t together with its index.
func (r *Resolver) Slot(t types.Type, name string) (Slot, int, error) {
	i, err := r.Index(t, name)
	if err != nil {
		return Slot{}, -1, err
	}
	return r.cache[t.Key].Slots[i], i, nil
}

// SelfType returns the receiver type expected by the method stored in slot
// name of class t.
func (r *Resolver) SelfType(t types.Type, name string) (types.Type, error) {
	slot, _, err := r.Slot(t, name)
	if err != nil {
		return types.Type{}, err
	}
	if slot.Kind != types.Method {
		return types.Type{}, fmt.Errorf("%s.%s is not a method", r.reg.String(t), name)
	}
	sig, err := r.reg.Signature(slot.Type)
	if err != nil {
		return types.Type{}, err
	}
	return sig.Params[0], nil
}
