package jit

import (
	"testing"

	"vela/ir"
	"vela/vm"
)

func assertPkg(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

type fakePlatform struct {
	calls    int
	lastFn   uint32
	declined bool
}

func (f *fakePlatform) compile(v *vm.VM, instrs []ir.Instruction, fn uint32, headerPC, windowBase int) (*CompiledTrace, error) {
	f.calls++
	f.lastFn = fn
	return &CompiledTrace{
		Fn: fn, HeaderPC: headerPC, WindowBase: windowBase,
		Code:   []byte{0xC3},
		invoke: func() {},
	}, nil
}

// withPlatform swaps the package-level platform hook for the duration of a
// test, restoring whatever the build's init() installed (a real amd64
// backend, or nil) afterward. Keeps these tests independent of GOARCH.
func withPlatform(t *testing.T, p platformHooks) {
	t.Helper()
	prev := platform
	platform = p
	t.Cleanup(func() { platform = prev })
}

func TestStartTraceDeclinesWithNoPlatformBackend(t *testing.T) {
	withPlatform(t, nil)
	c := New(vm.New())

	rec, ok := c.StartTrace(0, 0)
	assertPkg(t, !ok, "expected StartTrace to decline with no platform backend")
	assertPkg(t, rec == nil, "expected a nil recorder on decline")
	assertPkg(t, c.Declined == 1, "expected Declined to be incremented, got %d", c.Declined)
}

func TestStartTraceAcceptsWithPlatformBackend(t *testing.T) {
	withPlatform(t, &fakePlatform{})
	c := New(vm.New())

	rec, ok := c.StartTrace(3, 10)
	assertPkg(t, ok, "expected StartTrace to accept with a platform backend installed")
	assertPkg(t, rec != nil, "expected a non-nil recorder")
}

func TestCompletedTraceIsCachedUnderItsFunctionHeaderAndWindow(t *testing.T) {
	fp := &fakePlatform{}
	withPlatform(t, fp)
	m := vm.New()
	m.Constants = append(m.Constants, vm.Number(1))
	c := New(m)

	rec, ok := c.StartTrace(7, 0)
	assertPkg(t, ok, "expected StartTrace to accept")

	// A minimal loop body: "a = a + 1" traced at window base 5.
	regs := []vm.Value{vm.Number(0)}
	rec.Record(vm.NewABC(vm.OpAdd.WithShape(vm.ShapeLN), 0, 0, 0), regs, 5)
	rec.Finish(true)

	assertPkg(t, fp.calls == 1, "expected the platform backend to be invoked once, got %d", fp.calls)
	assertPkg(t, fp.lastFn == 7, "expected the compiled trace to be tagged with function 7, got %d", fp.lastFn)

	compiled, ok := c.Lookup(7, 0, 5)
	assertPkg(t, ok, "expected a cache hit for (fn=7, headerPC=0, windowBase=5)")
	assertPkg(t, compiled.WindowBase == 5, "expected the cached trace to record its window base")

	_, missed := c.Lookup(7, 0, 6)
	assertPkg(t, !missed, "a different window base must not hit the same cache entry")
}

func TestAbortedTraceIsNeverCached(t *testing.T) {
	fp := &fakePlatform{}
	withPlatform(t, fp)
	m := vm.New()
	c := New(m)

	rec, ok := c.StartTrace(1, 0)
	assertPkg(t, ok, "expected StartTrace to accept")

	rec.Record(vm.NewAD(vm.OpCall, 0, 0), []vm.Value{vm.Nil}, 0)
	rec.Finish(false)

	assertPkg(t, fp.calls == 0, "a trace that never reached its own loop header must not be compiled")
	_, hit := c.Lookup(1, 0, 0)
	assertPkg(t, !hit, "an aborted trace must not appear in the cache")
}

func TestLookupMissReturnsFalseOnEmptyCache(t *testing.T) {
	c := New(vm.New())
	_, ok := c.Lookup(99, 99, 99)
	assertPkg(t, !ok, "expected a miss on an empty cache")
}
