package scope

import (
	"errors"
	"fmt"
)

var (
	ErrUnbalanced = errors.New("unbalanced scope: cannot fall below the global frame")
	ErrRedefined  = errors.New("variable already defined in this scope")
	ErrUndefined  = errors.New("undefined variable")
)

// ---------------------------------------------------------------------------
// Chain
// ---------------------------------------------------------------------------

// Chain is a stack of name bindings. Frame 0 is the global frame and is
// never popped. The checker binds names to types, the code generator binds
// them to storage.
type Chain[V any] struct {
	frames []map[string]V
	base   int // lowest frame visible to lookups above the global frame
	check  func(name string, v V) error
}

// New returns a chain holding only the global frame. check, when non-nil,
// validates every value passed to Define.
func New[V any](check func(name string, v V) error) *Chain[V] {
	return &Chain[V]{
		frames: []map[string]V{make(map[string]V)},
		check:  check,
	}
}

// Raise pushes a new frame.
func (c *Chain[V]) Raise() {
	c.frames = append(c.frames, make(map[string]V))
}

// Fall pops the innermost frame.
func (c *Chain[V]) Fall() error {
	if len(c.frames) <= 1 || (c.base > 0 && len(c.frames)-1 <= c.base) {
		return ErrUnbalanced
	}
	c.frames = c.frames[:len(c.frames)-1]
	return nil
}

// Depth is the number of frames above the global one.
func (c *Chain[V]) Depth() int { return len(c.frames) - 1 }

// Unwind pops frames until Depth() == depth. It is used to restore the
// chain after abandoning a definition halfway through.
func (c *Chain[V]) Unwind(depth int) {
	if depth < 0 {
		depth = 0
	}
	for len(c.frames)-1 > depth {
		c.frames = c.frames[:len(c.frames)-1]
	}
	if c.base > len(c.frames)-1 {
		c.base = 0
	}
}

// Define binds name in the innermost frame.
func (c *Chain[V]) Define(name string, v V) error {
	if c.check != nil {
		if err := c.check(name, v); err != nil {
			return err
		}
	}
	top := c.frames[len(c.frames)-1]
	if _, ok := top[name]; ok {
		return fmt.Errorf("%w: %s", ErrRedefined, name)
	}
	top[name] = v
	return nil
}

// Lookup resolves name from the innermost frame outwards.
func (c *Chain[V]) Lookup(name string) (V, error) {
	for i := len(c.frames) - 1; i >= c.base && i > 0; i-- {
		if v, ok := c.frames[i][name]; ok {
			return v, nil
		}
	}
	return c.LookupGlobal(name)
}

// LookupGlobal resolves name in the global frame only.
func (c *Chain[V]) LookupGlobal(name string) (V, error) {
	if v, ok := c.frames[0][name]; ok {
		return v, nil
	}
	var zero V
	return zero, fmt.Errorf("%w: %s", ErrUndefined, name)
}

// Isolate hides every frame between the global one and the current top,
// then raises a fresh frame. Lookups made until restore is called see only
// that frame, frames raised after it and the global frame. Restore fails
// with ErrUnbalanced when frames raised after Isolate were not fallen.
func (c *Chain[V]) Isolate() (restore func() error) {
	prevBase := c.base
	c.Raise()
	depth := len(c.frames) - 1
	c.base = depth
	return func() error {
		if len(c.frames)-1 != depth {
			return ErrUnbalanced
		}
		c.frames = c.frames[:depth]
		c.base = prevBase
		return nil
	}
}
