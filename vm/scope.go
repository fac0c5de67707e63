package vm

// maxLocals bounds locals+temporaries per function to 255, one short of the
// 8-bit stack-slot field's full range, matching §4.2.2's stated limit.
const maxLocals = 255

// localVar is one named local binding, held in the parser's flat locals
// array (shared across all currently-open function scopes; a scope claims
// a contiguous sub-range of it starting at firstLocal).
type localVar struct {
	nameHash uint64
	slot     byte
}

// funcScope tracks the register-allocation state of one function-definition
// scope. Nested function definitions push a new funcScope and emit into a
// newly created Function; they never see the outer scope's locals (no
// closures in this language).
type funcScope struct {
	fnIndex   uint32
	firstLocal int // index into parser.locals where this scope's locals begin
	nextSlot   int // next free runtime-stack slot
	outer      *funcScope
}

// blockMark captures enough of a funcScope's state to restore it when a
// block ends, discarding block-local bindings and reclaiming their slots.
type blockMark struct {
	localsLen int
	nextSlot  int
}

func (fs *funcScope) mark(localsLen int) blockMark {
	return blockMark{localsLen: localsLen, nextSlot: fs.nextSlot}
}
