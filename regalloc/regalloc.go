// Package regalloc implements linear-scan register allocation over a
// completed trace's SSA IR, per the two-pass algorithm in spec.md §4.6: a
// reverse walk computes each value's last use, then a forward walk assigns
// registers greedily, freeing them the instant their value's last use has
// been consumed.
package regalloc

import "vela/ir"

// NumRegisters is the number of general-purpose XMM-backed registers the
// x86-64 target exposes to the allocator (spec.md §4.6: "16 registers
// assumed").
const NumRegisters = 16

// Allocation is the result of running the allocator over one trace's IR.
type Allocation struct {
	// Instructions is a copy of the input buffer with each value-producing
	// instruction's Reg() field set to its assigned register.
	Instructions []ir.Instruction

	// Spilled reports whether the allocator ran out of free registers at
	// any point. Spilling itself is not implemented (spec.md §4.6 leaves it
	// open); an instruction that needed a register when Spilled first went
	// true keeps register 0, which is not a usable code-generation result -
	// SpillAt identifies where to look.
	Spilled bool
	SpillAt ir.Ref
}

// Allocate runs linear-scan allocation over instrs with the production
// register count.
func Allocate(instrs []ir.Instruction) Allocation {
	return AllocateN(instrs, NumRegisters)
}

// AllocateN is Allocate parameterized over the register count, so tests (and
// any future non-x86-64 backend) can exercise the spill path or a narrower
// register file without waiting on a 16-register trace to exhaust one.
func AllocateN(instrs []ir.Instruction, numRegs int) Allocation {
	n := len(instrs)
	liveEnd := make([]int, n)

	// Step 1: reverse walk. The first time (scanning backwards) an
	// instruction is seen as someone's operand is its last use.
	for i := n - 1; i >= 1; i-- {
		for _, operand := range operandRefs(instrs[i]) {
			if operand == ir.NoRef {
				continue
			}
			if liveEnd[operand] == 0 {
				liveEnd[operand] = i
			}
		}
	}

	// Step 2: forward walk, lowest-free-register assignment.
	regEnd := make([]int, numRegs)
	out := make([]ir.Instruction, n)
	copy(out, instrs)

	result := Allocation{}
	for i := 1; i < n; i++ {
		for r := 0; r < numRegs; r++ {
			if regEnd[r] == i {
				regEnd[r] = 0
			}
		}
		if !producesValue(instrs[i].Op()) {
			continue
		}
		reg := -1
		for r := 0; r < numRegs; r++ {
			if regEnd[r] == 0 {
				reg = r
				break
			}
		}
		if reg == -1 {
			if !result.Spilled {
				result.Spilled = true
				result.SpillAt = ir.Ref(i)
			}
			continue
		}
		regEnd[reg] = liveEnd[i]
		out[i] = instrs[i].WithReg(uint16(reg))
	}

	result.Instructions = out
	return result
}

// operandRefs returns the IR refs an instruction reads, or nil for a
// one-operand (load) instruction whose packed fields hold an immediate
// rather than a reference.
func operandRefs(ins ir.Instruction) []ir.Ref {
	if ins.Op().IsLoad() {
		return nil
	}
	return []ir.Ref{ins.Ref1(), ins.Ref2()}
}

// producesValue reports whether an instruction needs a destination
// register. Guards constrain control flow but leave nothing behind for a
// later instruction to consume.
func producesValue(op ir.Op) bool {
	return op != ir.OpGuardTrue && op != ir.OpGuardFalse
}
