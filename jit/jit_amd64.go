//go:build amd64

package jit

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"vela/asm"
	"vela/ir"
	"vela/vm"
)

func init() {
	platform = amd64Platform{}
}

type amd64Platform struct{}

// amd64Reg maps a regalloc register index (0-15) onto an XMM register.
// All 16 are available: this package never calls into Go code from inside
// compiled native code, so none of the XMM file needs reserving for a Go
// calling convention.
func amd64Reg(r uint16) asm.XMM { return asm.XMM(r) }

// compile walks a register-allocated trace once and emits one native
// instruction sequence per IR instruction, then a store-back epilogue for
// every stack slot the loop body actually modified, then a single shared
// return both the fast path and every guard's side exit funnel through.
func (amd64Platform) compile(v *vm.VM, instrs []ir.Instruction, fn uint32, headerPC, windowBase int) (*CompiledTrace, error) {
	w := asm.NewWriter()
	stackBase := v.StackBase()

	// side-exit target: a guard failure returns to the interpreter by
	// simply doing nothing further - the caller only invokes compiled code
	// when it already knows the guard conditions hold, so a failing guard
	// here indicates the trace's invariants no longer apply. Bail to ret.
	var exitPatches []int

	regOf := func(ref ir.Ref) asm.XMM { return amd64Reg(instrs[ref].Reg()) }

	for i := 1; i < len(instrs); i++ {
		ins := instrs[i]
		op := ins.Op()
		switch {
		case op == ir.OpLoadStack:
			slot := int(ins.Imm())
			addr := stackBase + uintptr((windowBase+slot)*8)
			w.MovRegImm64(asm.RSI, uint64(addr))
			w.MovsdLoad(amd64Reg(ins.Reg()), asm.RSI, 0)

		case op == ir.OpLoadConst:
			idx := ins.Imm()
			if int(idx) >= len(v.Constants) {
				return nil, unsupportedPlatformError("constant load index out of range")
			}
			addr := uintptr(unsafe.Pointer(&v.Constants[idx]))
			w.MovRegImm64(asm.RSI, uint64(addr))
			w.MovsdLoad(amd64Reg(ins.Reg()), asm.RSI, 0)

		case op == ir.OpAdd, op == ir.OpSub, op == ir.OpMul, op == ir.OpDiv:
			dst := amd64Reg(ins.Reg())
			left, right := regOf(ins.Ref1()), regOf(ins.Ref2())
			if dst != left {
				w.MovsdRegReg(dst, left)
			}
			switch op {
			case ir.OpAdd:
				w.Addsd(dst, right)
			case ir.OpSub:
				w.Subsd(dst, right)
			case ir.OpMul:
				w.Mulsd(dst, right)
			case ir.OpDiv:
				w.Divsd(dst, right)
			}

		case op == ir.OpGuardTrue, op == ir.OpGuardFalse:
			left, right := regOf(ins.Ref1()), regOf(ins.Ref2())
			w.Ucomisd(left, right)
			cc := asm.CondNE
			if op == ir.OpGuardTrue {
				cc = asm.CondE
			}
			exitPatches = append(exitPatches, w.JccRel32(cc, 0))

		case op == ir.OpPhi:
			// A PHI just documents which value a slot carries across the
			// back-edge; the STORE below already wrote the right bits, so
			// there is nothing further to emit.

		default:
			return nil, unsupportedPlatformError("unsupported IR opcode in codegen: " + op.String())
		}
	}

	// Epilogue: write every slot the trace modified back to the stack, then
	// return. initialLoad/lastModified aren't visible here, so instead walk
	// every PHI - that's exactly the set of slots the trace actually closed
	// the loop on - and store its final SSA value's register.
	for i := 1; i < len(instrs); i++ {
		if instrs[i].Op() != ir.OpPhi {
			continue
		}
		final := instrs[i].Ref2()
		slot := loadStackSlotOf(instrs, instrs[i].Ref1())
		if slot < 0 {
			continue
		}
		addr := stackBase + uintptr((windowBase+slot)*8)
		w.MovRegImm64(asm.RSI, uint64(addr))
		w.MovsdStore(asm.RSI, 0, regOf(final))
	}

	exitOffset := w.Len()
	w.Ret()
	for _, patch := range exitPatches {
		w.PatchRel32(patch, int32(exitOffset-(patch+4)))
	}

	code := w.Bytes()
	mem, err := mapExecutable(code)
	if err != nil {
		return nil, err
	}

	return &CompiledTrace{
		Fn:         fn,
		HeaderPC:   headerPC,
		WindowBase: windowBase,
		Code:       code,
		invoke:     makeInvoker(mem),
	}, nil
}

// loadStackSlotOf finds the stack slot a LOAD_STACK instruction at ref
// addresses, so the epilogue knows where a PHI's initial reference came
// from without trace.Recorder exposing its internal maps.
func loadStackSlotOf(instrs []ir.Instruction, ref ir.Ref) int {
	if int(ref) >= len(instrs) || instrs[ref].Op() != ir.OpLoadStack {
		return -1
	}
	return int(instrs[ref].Imm())
}

// mapExecutable copies code into a fresh anonymous mmap region with
// read+execute permission, since a Go-managed []byte is never guaranteed to
// be executable (and the runtime can move or reclaim normal heap memory
// under it).
func mapExecutable(code []byte) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, err
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, err
	}
	return mem, nil
}

// funcval mirrors the runtime's internal representation of a Go function
// value: a func variable is itself just a pointer to one of these, whose
// first word is the entry PC. Building one by hand and aiming a func()
// variable's internal pointer at it is the standard trick for turning a raw
// code address into a callable Go value without cgo.
type funcval struct {
	entry uintptr
}

// makeInvoker turns mem's first byte into a zero-argument, zero-return Go
// function value. See CompiledTrace's doc comment for why that signature is
// the one safe shape for calling hand-assembled code this way.
func makeInvoker(mem []byte) func() {
	fv := &funcval{entry: uintptr(unsafe.Pointer(&mem[0]))}
	var f func()
	*(*unsafe.Pointer)(unsafe.Pointer(&f)) = unsafe.Pointer(fv)
	return f
}
