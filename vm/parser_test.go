package vm

import "testing"

func parseMain(t *testing.T, src string) (*VM, []Instruction) {
	t.Helper()
	m := New()
	pkg := m.NewPackage("")
	err := m.Parse(pkg, "", []byte(src))
	assert(t, err == nil, "parse failed: %v", err)
	fn := m.Packages[pkg].MainFunc
	return m, m.Functions[fn].Code
}

func assertOp(t *testing.T, ins Instruction, want Op) {
	t.Helper()
	assert(t, ins.Op() == want, "got opcode %s want %s", ins.Op(), want)
}

// Scenario 1 (§8): a lone numeric let folds to one SET_N and a trailing RET,
// and the constant pool holds exactly the parsed double.
func TestScenario1_SingleLet(t *testing.T) {
	m, code := parseMain(t, "let a = 3.1415926535")
	assert(t, len(code) == 2, "got %d instructions, want 2", len(code))
	assertOp(t, code[0], OpSetN)
	assert(t, code[0].A() == 0 && code[0].D() == 0, "SET_N args: got %d,%d want 0,0", code[0].A(), code[0].D())
	assertOp(t, code[1], OpRet)
	assert(t, len(m.Constants) == 1, "want 1 constant, got %d", len(m.Constants))
	assert(t, m.Constants[0].Float() == 3.1415926535, "constant value mismatch")
}

// Scenario 2: constant deduplication re-uses the same pool entry for 3.
func TestScenario2_ConstantDedup(t *testing.T) {
	_, code := parseMain(t, "let a=3; let b=4; let c=10; let d=3")
	assert(t, len(code) == 5, "got %d instructions, want 5", len(code))
	wantD := []uint16{0, 1, 2, 0}
	for i, d := range wantD {
		assertOp(t, code[i], OpSetN)
		assert(t, code[i].A() == byte(i), "instr %d: A=%d want %d", i, code[i].A(), i)
		assert(t, code[i].D() == d, "instr %d: D=%d want %d", i, code[i].D(), d)
	}
	assertOp(t, code[4], OpRet)
}

// Scenario 3: plain assignment, MOV, and NEG on an existing local.
func TestScenario3_AssignAndArith(t *testing.T) {
	_, code := parseMain(t, "let a=3; let b=4; a=5; b=6; b=a; a=b+7; a=-b")
	want := []struct {
		op      Op
		a, b, c byte
		isAD    bool
		d       uint16
	}{
		{op: OpSetN, isAD: true, a: 0, d: 0},
		{op: OpSetN, isAD: true, a: 1, d: 1},
		{op: OpSetN, isAD: true, a: 0, d: 2},
		{op: OpSetN, isAD: true, a: 1, d: 3},
		{op: OpMov, isAD: true, a: 1, d: 0},
		{op: OpAdd.WithShape(ShapeLN), a: 0, b: 1, c: 4},
		{op: OpNeg, isAD: true, a: 0, d: 1},
		{op: OpRet},
	}
	assert(t, len(code) == len(want), "got %d instructions, want %d", len(code), len(want))
	for i, w := range want {
		assertOp(t, code[i], w.op)
		if w.isAD {
			assert(t, code[i].A() == w.a && code[i].D() == w.d,
				"instr %d: got A=%d,D=%d want A=%d,D=%d", i, code[i].A(), code[i].D(), w.a, w.d)
		} else if w.op != OpRet {
			assert(t, code[i].A() == w.a && code[i].B() == w.b && code[i].C() == w.c,
				"instr %d: got A=%d,B=%d,C=%d want A=%d,B=%d,C=%d", i, code[i].A(), code[i].B(), code[i].C(), w.a, w.b, w.c)
		}
	}
}

// Scenario 4: short-circuit && threads jump lists through the inverted
// NEQ comparisons, landing both JMPs on the SET_P...FALSE half of the
// canonical Jmp-discharge sequence.
func TestScenario4_ShortCircuitAnd(t *testing.T) {
	_, code := parseMain(t, "let a=3; let b=4; let c = a==3 && b==4")
	wantOps := []Op{
		OpSetN, OpSetN,
		OpNeq.WithShape(ShapeLN), OpJmp,
		OpNeq.WithShape(ShapeLN), OpJmp,
		OpSetP, OpJmp, OpSetP,
		OpRet,
	}
	assert(t, len(code) == len(wantOps), "got %d instructions, want %d", len(code), len(wantOps))
	for i, op := range wantOps {
		assertOp(t, code[i], op)
	}
	assert(t, code[3].JumpOffset() == 5, "pc3 JMP offset: got %+d want +5", code[3].JumpOffset())
	assert(t, code[5].JumpOffset() == 3, "pc5 JMP offset: got %+d want +3", code[5].JumpOffset())
	assert(t, code[7].JumpOffset() == 2, "pc7 JMP offset: got %+d want +2", code[7].JumpOffset())
	// Both comparison JMPs land on the FALSE leg (pc8): the JMP is the head
	// of the false list, not the true list (see DESIGN.md).
	assert(t, 3+int(code[3].JumpOffset()) == 8, "pc3 JMP should target pc8 (SET_P FALSE)")
	assert(t, 5+int(code[5].JumpOffset()) == 8, "pc5 JMP should target pc8 (SET_P FALSE)")
	assert(t, code[6].D() == primDTrue, "pc6 should be SET_P ..,TRUE")
	assert(t, code[8].D() == primDFalse, "pc8 should be SET_P ..,FALSE")
}

// Scenario 5: a while loop compiles to an inverted GE guard and a backward
// LOOP, and running it actually counts up to 100.
func TestScenario5_WhileLoopBytecode(t *testing.T) {
	m, code := parseMain(t, "let a=0; while a<100 { a += 1 }")
	wantOps := []Op{OpSetN, OpGe.WithShape(ShapeLN), OpJmp, OpAdd.WithShape(ShapeLN), OpLoop, OpRet}
	assert(t, len(code) == len(wantOps), "got %d instructions, want %d", len(code), len(wantOps))
	for i, op := range wantOps {
		assertOp(t, code[i], op)
	}
	assert(t, code[2].JumpOffset() == 3, "pc2 JMP offset: got %+d want +3", code[2].JumpOffset())
	assert(t, code[4].JumpOffset() == -3, "pc4 LOOP offset: got %+d want -3", code[4].JumpOffset())

	fnIdx := m.Packages[0].MainFunc
	result, err := m.Exec(fnIdx, 0)
	assert(t, err == nil, "exec failed: %v", err)
	_ = result
	assert(t, m.stack[0].Float() == 100, "slot 0 after loop: got %v want 100", m.stack[0].Float())
}

// Scenario 6: a nested fn compiles into its own function slot in the VM's
// function table, sharing the outer function's constant pool.
func TestScenario6_NestedFunction(t *testing.T) {
	m, code := parseMain(t, "let a=3; fn hello(){ let b=4 } let c=5")
	wantOps := []Op{OpSetN, OpSetF, OpSetN, OpRet}
	assert(t, len(code) == len(wantOps), "got %d instructions, want %d", len(code), len(wantOps))
	for i, op := range wantOps {
		assertOp(t, code[i], op)
	}
	assert(t, code[1].D() == 1, "SET_F should reference function index 1, got %d", code[1].D())
	assert(t, len(m.Functions) == 2, "want 2 functions, got %d", len(m.Functions))

	helloCode := m.Functions[1].Code
	assert(t, len(helloCode) == 2, "hello(): got %d instructions, want 2", len(helloCode))
	assertOp(t, helloCode[0], OpSetN)
	assert(t, helloCode[0].D() == 1, "hello()'s constant should re-use pool index 1 (value 4), got %d", helloCode[0].D())
	assertOp(t, helloCode[1], OpRet)
}

// §8's quantified invariant: every non-RET control-flow edge targets a
// valid instruction index.
func TestJumpTargetsStayInBounds(t *testing.T) {
	_, code := parseMain(t, `
		let a = 0
		while a < 10 {
			if a == 5 {
				a = a + 1
			} else {
				a = a + 2
			}
		}
	`)
	for pc, ins := range code {
		op := ins.Op()
		if op != OpJmp && op != OpLoop {
			continue
		}
		target := pc + int(ins.JumpOffset())
		assert(t, target >= 0 && target < len(code), "pc %d: jump target %d out of [0,%d)", pc, target, len(code))
	}
}

func TestTooManyLocalsFails(t *testing.T) {
	src := "fn f() {\n"
	for i := 0; i < 260; i++ {
		src += "let v" + itoaStub(i) + " = 1\n"
	}
	src += "}\n"

	m := New()
	pkg := m.NewPackage("")
	err := m.Parse(pkg, "", []byte(src))
	assert(t, err != nil, "expected a ParseError for more than 255 locals")
	perr, ok := err.(*Error)
	assert(t, ok, "expected a *vm.Error, got %T", err)
	assert(t, perr.Kind() == ErrParse, "expected ErrParse, got %v", perr.Kind())
}

// itoaStub avoids importing strconv just to build distinct identifier names.
func itoaStub(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
