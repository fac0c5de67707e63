package vm

// Jump lists thread through the J field of already-emitted JMP/LOOP/
// comparison-JMP instructions: the head is the pc of the most recently
// emitted jump, and each jump's own J field encodes (biased, relative to
// the jump's own pc, exactly like a real jump target) a pointer to
// the previous element. The empty list is represented as pc -1; the tail
// element of a non-empty list stores noJump in its J field.

// jumpListNext returns the pc the list-link stored at pc points to, or -1
// if pc is the tail of its list.
func jumpListNext(code []Instruction, pc int) int {
	raw := code[pc].J()
	if raw == noJump {
		return -1
	}
	return pc + int(int32(raw)-jumpBias)
}

// jumpListLink rewrites the instruction at pc's J field to point at target
// (either another list element's pc, or -1 to mark pc as the tail). Jump
// targets are stored relative to the jump instruction's own pc (target =
// pc + offset), not the instruction after it - see the note on Instruction
// in bytecode.go.
func jumpListLink(code []Instruction, pc int, target int) {
	var j uint32
	if target < 0 {
		j = noJump
	} else {
		j = uint32(int32(target-pc) + jumpBias)
	}
	code[pc] = code[pc].WithJ(j)
}

// appendJump prepends the jump instruction at newPC onto list and returns
// the new head (newPC).
func appendJump(code []Instruction, list int, newPC int) int {
	jumpListLink(code, newPC, list)
	return newPC
}

// patchJumpList walks list, rewriting every element's J field to branch to
// targetPC.
func patchJumpList(code []Instruction, list int, targetPC int) {
	cur := list
	for cur >= 0 {
		next := jumpListNext(code, cur)
		jumpListLink(code, cur, targetPC)
		cur = next
	}
}

// mergeJumpList concatenates two jump lists and returns the head of the
// combined list. The list with the later head stays in front, so the
// combined head is still the most recently emitted jump (compileNot and
// parseOr look for that jump right after its comparison).
func mergeJumpList(code []Instruction, a, b int) int {
	if a < 0 {
		return b
	}
	if b < 0 {
		return a
	}
	if a < b {
		a, b = b, a
	}
	cur := a
	for {
		next := jumpListNext(code, cur)
		if next < 0 {
			jumpListLink(code, cur, b)
			return a
		}
		cur = next
	}
}
