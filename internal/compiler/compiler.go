package compiler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cheshire/internal/ast"
	"cheshire/internal/codegen"
	"cheshire/internal/semantic"
	"cheshire/internal/shape"
	"cheshire/internal/types"
)

// ErrSemantic is returned when the checker reports errors. The diagnostics
// are in Result.Diagnostics.
var ErrSemantic = errors.New("semantic errors")

// ---------------------------------------------------------------------------
// Context
// ---------------------------------------------------------------------------

// Context holds the mutable state of one compilation. Independent contexts
// may be used side by side.
type Context struct {
	Types  *types.Registry
	Shapes *shape.Resolver
}

// NewContext returns a context with an initialised type registry.
func NewContext() *Context {
	reg := types.NewRegistry()
	return &Context{Types: reg, Shapes: shape.NewResolver(reg)}
}

// Reset discards every class, lambda and shape registered so far.
func (c *Context) Reset() error {
	c.Types.Teardown()
	if err := c.Types.Init(); err != nil {
		return fmt.Errorf("resetting context: %w", err)
	}
	c.Shapes.Reset()
	return nil
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Options configures a compilation.
type Options struct {
	// Mode selects whether checking stops at the first error.
	Mode semantic.Mode

	// Verbose writes phase progress to Log.
	Verbose bool

	// Log receives verbose output. Defaults to os.Stderr.
	Log io.Writer
}

// DefaultOptions returns fail-fast checking with quiet logging to stderr.
func DefaultOptions() *Options {
	return &Options{Mode: semantic.FailFast, Log: os.Stderr}
}

// Result is returned by Compile.
type Result struct {
	Diagnostics []semantic.Diagnostic
	Units       int // top-level definitions written to the sink
}

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

// Compile checks program in a fresh context and, when it is well typed,
// writes its IR to sink.
func Compile(program *ast.Program, sink io.Writer, opts *Options) (*Result, error) {
	return NewContext().Compile(program, sink, opts)
}

// Compile runs the checker over program and then the code generator. No IR
// is written for a program with errors. The tree is released once emitted.
func (c *Context) Compile(program *ast.Program, sink io.Writer, opts *Options) (*Result, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	start := time.Now()
	logf := func(format string, args ...any) {
		if opts.Verbose && opts.Log != nil {
			fmt.Fprintf(opts.Log, "[compiler] "+format+"\n", args...)
		}
	}
	res := &Result{}

	// --- Step 1: Check ---
	logf("checking %d definitions (%s)", len(program.Nodes), opts.Mode)
	checker := semantic.NewChecker(c.Types, c.Shapes, opts.Mode)
	if opts.Verbose {
		checker.Log = opts.Log
	}
	checker.Declare(program)
	checker.Check(program)
	res.Diagnostics = checker.Diagnostics()
	if semantic.HasErrors(res.Diagnostics) {
		logf("%d diagnostic(s), nothing emitted", len(res.Diagnostics))
		return res, fmt.Errorf("%w: %d diagnostic(s)", ErrSemantic, len(res.Diagnostics))
	}

	// --- Step 2: Emit ---
	logf("emitting IR")
	gen := codegen.New(c.Types, c.Shapes, &codegen.Options{Verbose: opts.Verbose, Log: opts.Log})
	if err := gen.Prelude(sink); err != nil {
		return res, err
	}
	for _, n := range program.Nodes {
		if err := gen.Declare(n); err != nil {
			return res, err
		}
	}
	for _, n := range program.Nodes {
		if err := gen.Emit(sink, n); err != nil {
			res.Units = gen.Result().Units
			return res, err
		}
	}
	res.Units = gen.Result().Units
	program.Release()

	logf("emitted %d unit(s) in %s", res.Units, time.Since(start))
	return res, nil
}
