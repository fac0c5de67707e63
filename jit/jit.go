// Package jit turns a completed trace into native machine code, following
// the pipeline spec.md §4.6 describes: register allocation, then
// architecture-specific code generation. It implements vm.Tracer so a host
// can opt a *vm.VM into tracing with one call to vm.RegisterJIT.
//
// Scope boundary: this package compiles traces and exposes them (via
// Compiler.Lookup) for direct invocation by a caller that already knows it
// holds the matching register window, and by this package's own tests. It
// does NOT wire automatic native dispatch back into vm's interpreter loop.
// A trace's stack-slot offsets are relative to the register window active
// when it was recorded (vm.WindowBase at trace-start time); a compiled
// trace bakes that window's absolute address into its LOAD_STACK/STORE
// immediates (spec.md §4.6's "mov reg,imm64 for absolute addresses"), so it
// is only valid for invocations against that exact window. Re-entering the
// interpreter's hot loop with a different window (recursion, or the same
// loop reached through a different call chain) would silently execute
// against the wrong stack slots. Resolving that requires either
// recompiling per window or passing the base as a true runtime argument,
// and is left as future work alongside regalloc's open spill question.
package jit

import (
	"fmt"
	"sync"

	"vela/ir"
	"vela/regalloc"
	"vela/trace"
	"vela/vm"
)

// CompiledTrace is one trace's generated native code, kept alive by the
// Compiler's cache so it can be inspected or invoked directly.
type CompiledTrace struct {
	Fn         uint32
	HeaderPC   int
	WindowBase int
	Code       []byte

	// invoke casts Code's entry address to a zero-argument, zero-return Go
	// function value. That signature needs no register-argument-passing ABI
	// compliance at all - it's just a CALL into the first byte and a RET -
	// which is what makes this cast safe despite Code being assembled by
	// hand rather than by the Go compiler.
	invoke func()
}

// Invoke runs the compiled trace's native code directly. The caller is
// responsible for knowing this is safe to do: the VM's register window must
// currently be positioned exactly as it was when the trace was recorded, or
// the trace will read and write the wrong stack slots.
func (c *CompiledTrace) Invoke() {
	c.invoke()
}

type cacheKey struct {
	fn         uint32
	headerPC   int
	windowBase int
}

// platformHooks is implemented per architecture; jit_amd64.go installs a
// real implementation in package init, jit_other.go leaves it nil so
// Compiler.StartTrace declines every trace on architectures this package
// doesn't generate code for.
type platformHooks interface {
	compile(v *vm.VM, instrs []ir.Instruction, fn uint32, headerPC, windowBase int) (*CompiledTrace, error)
}

var platform platformHooks

// Compiler owns a *vm.VM's compiled-trace cache and implements vm.Tracer.
type Compiler struct {
	vm *vm.VM

	mu    sync.Mutex
	cache map[cacheKey]*CompiledTrace

	// Declined and Failed count traces the compiler chose not to keep,
	// for diagnostics (a -debug host can report why JIT never kicked in).
	Declined int
	Failed   int
}

// New creates a Compiler over v. Call v.RegisterJIT(compiler) to wire it in.
func New(v *vm.VM) *Compiler {
	return &Compiler{vm: v, cache: make(map[cacheKey]*CompiledTrace)}
}

// StartTrace implements vm.Tracer. It declines outright on a platform with
// no codegen backend, so a non-amd64 build behaves exactly as if no tracer
// had been registered at all, just with the interpreter paying the small
// fixed cost of consulting hotCounts.
func (c *Compiler) StartTrace(fn uint32, headerPC int) (vm.TraceRecorder, bool) {
	if platform == nil {
		c.Declined++
		return nil, false
	}
	return &tracerAdapter{rec: trace.New(c.vm, fn, headerPC), compiler: c}, true
}

// Lookup returns a previously compiled trace for (fn, headerPC, windowBase),
// if one exists and compiled successfully.
func (c *Compiler) Lookup(fn uint32, headerPC, windowBase int) (*CompiledTrace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.cache[cacheKey{fn, headerPC, windowBase}]
	return t, ok
}

// tracerAdapter satisfies vm.TraceRecorder by delegating to a trace.Recorder
// and, once that recorder finishes successfully, handing its IR to the
// register allocator and then to the platform's code generator.
type tracerAdapter struct {
	rec      *trace.Recorder
	compiler *Compiler
	lastBase int
}

func (a *tracerAdapter) Record(ins vm.Instruction, regs []vm.Value, base int) {
	a.lastBase = base
	a.rec.Record(ins, regs, base)
}

func (a *tracerAdapter) Finish(completedLoop bool) {
	a.rec.Finish(completedLoop)
	if !a.rec.Completed() {
		return
	}
	a.compiler.compileAndCache(a.rec, a.lastBase)
}

func (c *Compiler) compileAndCache(rec *trace.Recorder, windowBase int) {
	alloc := regalloc.Allocate(rec.Instructions())
	if alloc.Spilled {
		// Spilling is an open question in regalloc (see its doc comment);
		// rather than generate code that reads garbage from an unassigned
		// register, the compiler just never caches this trace. The
		// interpreter keeps running it unmodified - a JIT miss, not a bug.
		c.Failed++
		return
	}
	compiled, err := platform.compile(c.vm, alloc.Instructions, rec.Func(), rec.HeaderPC(), windowBase)
	if err != nil {
		c.Failed++
		return
	}
	c.mu.Lock()
	c.cache[cacheKey{rec.Func(), rec.HeaderPC(), windowBase}] = compiled
	c.mu.Unlock()
}

func unsupportedPlatformError(reason string) error {
	return fmt.Errorf("jit: %s", reason)
}
