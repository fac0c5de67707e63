package vm

// nodeKind tags which of the eight operand states a node is in. An operand
// must be discharged (moved from one of the three pre-discharged kinds, or
// nodeFuncRef, into one of the four discharged kinds) before it can be used
// as an instruction argument.
type nodeKind int

const (
	// pre-discharged: raw conceptual values, not yet shaped for the
	// bytecode machine.
	nodeNum nodeKind = iota
	nodeLocal
	nodePrim

	// discharged: already shaped as something an instruction can reference.
	nodeConst
	nodeNonReloc
	nodeReloc
	nodeJmp

	// nodeFuncRef holds a not-yet-discharged reference to a just-compiled
	// function body (produced by an `fn` expression). It is kept distinct
	// from nodeConst because it discharges via SET_F, not SET_N.
	nodeFuncRef
)

// primitive payload values, matching SET_P's D field encoding.
const (
	primDNil   uint16 = 0
	primDFalse uint16 = 1
	primDTrue  uint16 = 2
)

// node is the parser's in-flight operand representation. Exactly one set of
// fields is valid, selected by kind; this mirrors a tagged union without
// needing an interface or separate allocation per operand.
type node struct {
	kind nodeKind

	num  float64 // nodeNum
	slot byte    // nodeLocal, nodeNonReloc: stack slot
	prim uint16  // nodePrim: primDNil/primDFalse/primDTrue

	constIdx uint16 // nodeConst
	pc       int    // nodeReloc: instruction index whose A field is unpatched

	trueList  int // nodeJmp: jump-list head, or -1
	falseList int // nodeJmp: jump-list head, or -1
}

func numNode(f float64) node           { return node{kind: nodeNum, num: f} }
func localNode(slot byte) node         { return node{kind: nodeLocal, slot: slot} }
func primNode(d uint16) node           { return node{kind: nodePrim, prim: d} }
func constNode(idx uint16) node        { return node{kind: nodeConst, constIdx: idx} }
func nonRelocNode(slot byte) node      { return node{kind: nodeNonReloc, slot: slot} }
func relocNode(pc int) node            { return node{kind: nodeReloc, pc: pc} }
func jmpNode(trueL, falseL int) node   { return node{kind: nodeJmp, trueList: trueL, falseList: falseL} }
func funcRefNode(idx uint32) node      { return node{kind: nodeFuncRef, constIdx: uint16(idx)} }

// isConst reports whether n is already interned as a constant (Const) or a
// not-yet-interned literal (Num) - the two shapes the operator-compilation
// rules treat as "constant" for opcode-shape selection.
func (n node) isConst() bool {
	return n.kind == nodeNum || n.kind == nodeConst
}

func (n node) isPrim() bool {
	return n.kind == nodePrim
}
