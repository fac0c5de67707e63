// Package trace shadows a hot loop's bytecode execution with SSA IR
// construction, so a completed trace can later be handed to the register
// allocator and assembler. It implements vm.TraceRecorder; the jit package
// is the only thing that constructs one, via New, and plugs it into the
// interpreter through vm.RegisterJIT.
package trace

import (
	"fmt"

	"vela/ir"
	"vela/vm"
)

// maxInstructions bounds a single trace's IR buffer. Spec leaves the
// loop-closing algorithm itself unbounded; this cap exists only so a
// pathological loop body can't grow the buffer without limit, matching the
// "IR buffer exhaustion" abort condition.
const maxInstructions = 4096

// Recorder accumulates one trace attempt's IR. The zero value is not usable;
// construct with New.
type Recorder struct {
	vm       *vm.VM
	fn       uint32
	headerPC int

	buf []ir.Instruction // buf[0] is a reserved dummy; real refs start at 1

	lastModified map[int]ir.Ref    // slot -> ref producing its current value
	initialLoad  map[int]ir.Ref    // slot -> the LOAD_STACK ref emitted on its first read
	writeOrder   []int             // slots in first-read order, for deterministic PHI emission
	constLoads   map[uint16]ir.Ref // const index -> LOAD_CONST ref

	finished    bool
	aborted     bool
	abortReason string
}

// New starts recording a trace for fn's loop header at headerPC. v is the VM
// whose constant pool the trace reads while resolving SET_N operands.
func New(v *vm.VM, fn uint32, headerPC int) *Recorder {
	return &Recorder{
		vm:           v,
		fn:           fn,
		headerPC:     headerPC,
		buf:          make([]ir.Instruction, 1),
		lastModified: make(map[int]ir.Ref),
		initialLoad:  make(map[int]ir.Ref),
		constLoads:   make(map[uint16]ir.Ref),
	}
}

// Instructions returns the recorded IR buffer (including the reserved index
// 0 entry). Only meaningful once Finish(true) has run and Completed is true.
func (r *Recorder) Instructions() []ir.Instruction { return r.buf }

func (r *Recorder) Func() uint32    { return r.fn }
func (r *Recorder) HeaderPC() int   { return r.headerPC }
func (r *Recorder) Completed() bool { return r.finished && !r.aborted }
func (r *Recorder) AbortReason() string {
	if r.aborted {
		return r.abortReason
	}
	return ""
}

func (r *Recorder) emit(ins ir.Instruction) ir.Ref {
	if r.aborted {
		return ir.NoRef
	}
	if len(r.buf) >= maxInstructions {
		r.abort("IR buffer exhaustion")
		return ir.NoRef
	}
	r.buf = append(r.buf, ins)
	return ir.Ref(len(r.buf) - 1)
}

func (r *Recorder) abort(reason string) {
	if r.aborted {
		return
	}
	r.aborted = true
	r.abortReason = reason
}

// refForSlot resolves slot's current value, caching a LOAD_STACK the first
// time the trace reads it and remembering that load as the slot's loop-entry
// value for the eventual PHI pairing - mirrors spec's load_stack_or_const.
func (r *Recorder) refForSlot(slot int) ir.Ref {
	if ref, ok := r.lastModified[slot]; ok {
		return ref
	}
	ref := r.emit(ir.New1(ir.OpLoadStack, uint32(slot)))
	r.lastModified[slot] = ref
	r.initialLoad[slot] = ref
	r.writeOrder = append(r.writeOrder, slot)
	return ref
}

// setModified records that slot now holds ref, with no LOAD_STACK emitted
// for the write itself - a slot written before ever being read in this trace
// has no initialLoad entry and so is simply excluded from the loop-closing
// PHI sweep in Finish.
func (r *Recorder) setModified(slot int, ref ir.Ref) {
	r.lastModified[slot] = ref
}

func (r *Recorder) refForConst(idx uint16) ir.Ref {
	if ref, ok := r.constLoads[idx]; ok {
		return ref
	}
	ref := r.emit(ir.New1(ir.OpLoadConst, uint32(idx)))
	r.constLoads[idx] = ref
	return ref
}

var arithToIR = map[vm.Op]ir.Op{
	vm.OpAdd: ir.OpAdd, vm.OpSub: ir.OpSub, vm.OpMul: ir.OpMul, vm.OpDiv: ir.OpDiv,
}

// primValue mirrors interp.go's primValue: SET_P/relational-_LP payloads are
// 0=nil, 1=false, anything else=true (see vm/node.go's primD constants).
func primValue(d uint16) vm.Value {
	switch d {
	case 0:
		return vm.Nil
	case 1:
		return vm.False
	default:
		return vm.True
	}
}

// evalRelational re-derives the same branch outcome interp.go's
// evalRelational would compute, so the guard the trace emits reflects
// the branch actually taken on this pass through the loop.
func evalRelational(family vm.Op, left, right vm.Value) bool {
	switch family {
	case vm.OpEq:
		return left.Equal(right)
	case vm.OpNeq:
		return !left.Equal(right)
	}
	if !left.IsNumber() || !right.IsNumber() {
		return false
	}
	a, b := left.Float(), right.Float()
	switch family {
	case vm.OpLt:
		return a < b
	case vm.OpLe:
		return a <= b
	case vm.OpGt:
		return a > b
	case vm.OpGe:
		return a >= b
	}
	return false
}

// Record implements vm.TraceRecorder. It is called once per bytecode
// instruction the interpreter is about to execute, with regs holding the
// live register window (regs[0] is the executing function's slot 0).
func (r *Recorder) Record(ins vm.Instruction, regs []vm.Value, base int) {
	if r.aborted {
		return
	}
	op := ins.Op()

	switch {
	case op == vm.OpMov:
		a, b := int(ins.A()), int(ins.D())
		r.setModified(a, r.refForSlot(b))

	case op == vm.OpSetN:
		a, k := int(ins.A()), ins.D()
		r.setModified(a, r.refForConst(k))

	case op.IsArith():
		shape := op.Shape()
		var left, right ir.Ref
		switch shape {
		case vm.ShapeNL:
			left = r.refForConst(uint16(ins.B()))
		default:
			left = r.refForSlot(int(ins.B()))
		}
		switch shape {
		case vm.ShapeLN:
			right = r.refForConst(uint16(ins.C()))
		default:
			right = r.refForSlot(int(ins.C()))
		}
		irOp, ok := arithToIR[op.Family()]
		if !ok {
			r.abort(fmt.Sprintf("unsupported arithmetic family %s", op.Family()))
			return
		}
		r.setModified(int(ins.A()), r.emit(ir.New2(irOp, left, right)))

	case op.IsRelational():
		leftSlot := int(ins.A())
		leftRef := r.refForSlot(leftSlot)
		leftVal := regs[leftSlot]

		var rightRef ir.Ref
		var rightVal vm.Value
		switch op.Shape() {
		case vm.ShapeLL:
			d := int(ins.D())
			rightRef = r.refForSlot(d)
			rightVal = regs[d]
		case vm.ShapeLN:
			rightRef = r.refForConst(ins.D())
			rightVal = r.vm.Constants[ins.D()]
		case vm.ShapeLP:
			rightVal = primValue(ins.D())
			// Primitive operands have no stack or constant-pool home; a
			// guard still needs a second ref, so materialize it as a
			// constant the same way LOAD_CONST would if nil/true/false
			// were interned, keyed by a value-specific pseudo-index that
			// never collides with a real constant index.
			rightRef = r.refForConst(pseudoConstIndex(rightVal))
		default:
			r.abort(fmt.Sprintf("unsupported relational shape for %s", op))
			return
		}

		outcome := evalRelational(op.Family(), leftVal, rightVal)
		guardOp := ir.OpGuardTrue
		if !outcome {
			guardOp = ir.OpGuardFalse
		}
		r.emit(ir.New2(guardOp, leftRef, rightRef))

	case op == vm.OpJmp:
		// The preceding comparison's guard already captures the branch
		// taken; an unconditional jump contributes nothing further.

	case op == vm.OpLoop:
		// Loop-closing is handled by Finish once the interpreter detects
		// the back edge lands on this trace's own header.

	default:
		r.abort(fmt.Sprintf("unsupported opcode %s", op))
	}
}

// pseudoConstIndex maps nil/false/true onto the three highest 16-bit indices,
// so relational guards against a primitive
// still get a stable, cacheable LOAD_CONST-shaped ref without the trace
// needing a third load opcode just for primitives. maxConstants in
// vm/function.go does not reserve these indices: they stay distinct from
// real constant indices only while the pool holds fewer than 0xfffd entries.
func pseudoConstIndex(v vm.Value) uint16 {
	switch {
	case v == vm.Nil:
		return 0xfffd
	case v == vm.False:
		return 0xfffe
	default:
		return 0xffff
	}
}

// Finish implements vm.TraceRecorder. completedLoop is true when the
// interpreter's LOOP instruction jumped back to this trace's own header;
// a CALL or an unimplemented opcode arrives as false. A LOOP back to some
// other header does not call Finish; recording simply continues.
func (r *Recorder) Finish(completedLoop bool) {
	if r.finished {
		return
	}
	r.finished = true
	if r.aborted {
		return
	}
	if !completedLoop {
		r.abort("trace did not loop back to its own header")
		return
	}
	for _, slot := range r.writeOrder {
		final := r.lastModified[slot]
		initial := r.initialLoad[slot]
		if final == initial {
			continue
		}
		r.emit(ir.New2(ir.OpPhi, initial, final))
	}
}
