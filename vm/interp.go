package vm

// This is considered a tight loop: the switch below is written to do its own
// work inline rather than calling out to small helpers, matching the way the
// teacher's dispatch loop keeps arithmetic unrolled in execInstructions
// rather than factored into one-line functions.
//
// The base/ip pair plays the role of a register window: base is the index
// into vm.stack where the currently executing function's slot 0 lives, and
// slot references in an Instruction are always relative to it.

// Exec runs fn (by function-table index) starting at its first instruction,
// with argc arguments already sitting in vm.stack[argBase:argBase+argc]. It
// returns the callee's result value, or an error if a RuntimeError occurred.
func (vm *VM) Exec(fnIndex uint32, argBase int) (Value, error) {
	vm.base = argBase
	ip := 0

	result, err := vm.run(fnIndex, ip)
	if err != nil {
		return Nil, err
	}
	return result, nil
}

// run is the threaded-dispatch interpreter loop. It executes fn's bytecode
// starting at ip (relative to vm.base, the active register window), and
// returns when that function's RET instruction fires.
func (vm *VM) run(fnIndex uint32, ip int) (Value, error) {
	fn := &vm.Functions[fnIndex]
	base := vm.base

	for {
		if ip >= len(fn.Code) {
			return Nil, newError(ErrRuntime, 0, "fell off the end of function %d", fnIndex)
		}
		ins := fn.Code[ip]
		op := ins.Op()

		if vm.stepHook != nil {
			vm.stepHook(fnIndex, ip, base)
		}

		recording := vm.activeTrace != nil && vm.traceFn == fnIndex
		if recording {
			vm.activeTrace.Record(ins, vm.stack[base:], base)
		}

		switch {
		case op == OpMov:
			vm.stack[base+int(ins.A())] = vm.stack[base+int(ins.D())]
			ip++

		case op == OpSetN:
			vm.stack[base+int(ins.A())] = vm.Constants[ins.D()]
			ip++

		case op == OpSetP:
			vm.stack[base+int(ins.A())] = primValue(ins.D())
			ip++

		case op == OpSetF:
			vm.stack[base+int(ins.A())] = FuncRef(uint32(ins.D()))
			ip++

		case op == OpNeg:
			operand := vm.stack[base+int(ins.D())]
			if !operand.IsNumber() {
				return Nil, vm.runtimeErr(fnIndex, ip, "operand to unary - is not a number")
			}
			vm.stack[base+int(ins.A())] = Number(-operand.Float())
			ip++

		case op.IsArith():
			left, right, rerr := vm.arithOperands(base, fn, ins)
			if rerr != nil {
				return Nil, vm.wrapRuntime(fnIndex, ip, rerr)
			}
			result, rerr := evalArith(op.Family(), left, right)
			if rerr != nil {
				return Nil, vm.wrapRuntime(fnIndex, ip, rerr)
			}
			vm.stack[base+int(ins.A())] = result
			ip++

		case op.IsRelational():
			left, right, rerr := vm.relOperands(base, fn, ins)
			if rerr != nil {
				return Nil, vm.wrapRuntime(fnIndex, ip, rerr)
			}
			taken, rerr := evalRelational(op.Family(), left, right)
			if rerr != nil {
				return Nil, vm.wrapRuntime(fnIndex, ip, rerr)
			}
			ip++
			if taken {
				// The emitted comparison is the logical inverse of the
				// source operator (§4.2.4); its JMP is the head of the
				// false list (see DESIGN.md), so it fires exactly when this
				// (inverted) condition holds - i.e. when the user's original
				// condition does not.
				jmp := fn.Code[ip]
				ip += int(jmp.JumpOffset())
			} else {
				ip++ // fall through: the original condition held
			}

		case op == OpJmp:
			ip += int(ins.JumpOffset())

		case op == OpLoop:
			header := ip + int(ins.JumpOffset())
			if recording && header == vm.traceHeaderPC {
				// Crossed back to the trace's own start anchor: the trace
				// completes (§4.5).
				vm.activeTrace.Finish(true)
				vm.activeTrace = nil
			} else {
				vm.bumpHotCount(fnIndex, header)
			}
			ip = header

		case op == OpCall:
			if recording {
				// A call inside a recording loop is recursion/a call to
				// another function body, neither of which this trace format
				// can represent; abort rather than attempt it (§4.5).
				vm.activeTrace.Finish(false)
				vm.activeTrace = nil
			}
			callee := vm.stack[base+int(ins.A())]
			if !callee.IsFunction() {
				return Nil, vm.runtimeErr(fnIndex, ip, "attempt to call a non-function value")
			}
			calleeIdx := callee.FuncIndex()
			if int(calleeIdx) >= len(vm.Functions) {
				return Nil, vm.runtimeErr(fnIndex, ip, "call to unknown function %d", calleeIdx)
			}
			// argBase is the callee's slot 0: the first argument, and also
			// where RET writes the result back once the callee no longer
			// needs the argument that was living there (§4.2.5's CALL
			// encoding; compileCall reserves this slot even at argc==0).
			argBase := int(ins.B())
			argc := int(ins.C())
			if vm.callDepth >= callStackSize {
				return Nil, vm.runtimeErr(fnIndex, ip, "stack overflow")
			}
			vm.callStack[vm.callDepth] = callFrame{returnIP: ip + 1, returnBase: base, fn: fnIndex}
			vm.callDepth++

			callee2 := &vm.Functions[calleeIdx]
			if argc < callee2.NumParams {
				for i := argc; i < callee2.NumParams; i++ {
					vm.stack[base+argBase+i] = Nil
				}
			}

			vm.base = base + argBase
			result, rerr := vm.run(calleeIdx, 0)
			vm.base = base
			vm.callDepth--
			if rerr != nil {
				return Nil, rerr
			}
			vm.stack[base+argBase] = result
			ip++

		case op == OpRet:
			return vm.stack[base+int(ins.A())], nil

		default:
			if recording {
				vm.activeTrace.Finish(false)
				vm.activeTrace = nil
			}
			return Nil, vm.runtimeErr(fnIndex, ip, "unimplemented opcode %s", op)
		}
	}
}

// primValue converts a SET_P instruction's D field into the corresponding
// primitive singleton.
func primValue(d uint16) Value {
	switch d {
	case primDNil:
		return Nil
	case primDFalse:
		return False
	default:
		return True
	}
}

// arithOperands resolves the two operand Values for an _LL/_LN/_NL-shaped
// arithmetic instruction. The _NL shape's B field is a byte-sized constant
// index rather than a slot (see bytecode.go); _LL and _LN both read B as a
// slot and differ only in how C is interpreted.
func (vm *VM) arithOperands(base int, fn *Function, ins Instruction) (Value, Value, error) {
	switch ins.Op().Shape() {
	case ShapeLL:
		return vm.stack[base+int(ins.B())], vm.stack[base+int(ins.C())], nil
	case ShapeLN:
		return vm.stack[base+int(ins.B())], vm.Constants[ins.C()], nil
	case ShapeNL:
		return vm.Constants[ins.B()], vm.stack[base+int(ins.C())], nil
	default:
		return Nil, Nil, newError(ErrRuntime, 0, "invalid arithmetic shape")
	}
}

// relOperands resolves the two operand Values for a relational instruction,
// which always uses the (A,D) form: A is the left operand's slot, D is the
// right operand, interpreted per the instruction's shape.
func (vm *VM) relOperands(base int, fn *Function, ins Instruction) (Value, Value, error) {
	left := vm.stack[base+int(ins.A())]
	switch ins.Op().Shape() {
	case ShapeLL:
		return left, vm.stack[base+int(ins.D())], nil
	case ShapeLN:
		return left, vm.Constants[ins.D()], nil
	case ShapeLP:
		return left, primValue(ins.D()), nil
	default:
		return left, Nil, newError(ErrRuntime, 0, "invalid relational shape")
	}
}

func evalArith(family Op, left, right Value) (Value, error) {
	if !left.IsNumber() || !right.IsNumber() {
		return Nil, newError(ErrRuntime, 0, "operand to arithmetic operator is not a number")
	}
	a, b := left.Float(), right.Float()
	switch family {
	case OpAdd:
		return Number(a + b), nil
	case OpSub:
		return Number(a - b), nil
	case OpMul:
		return Number(a * b), nil
	case OpDiv:
		return Number(a / b), nil
	default:
		return Nil, newError(ErrRuntime, 0, "unreachable arithmetic family")
	}
}

// evalRelational reports whether the emitted (possibly inverted) comparison
// holds. Equality/inequality accept any value pair; ordering comparisons
// require both operands to be numbers.
func evalRelational(family Op, left, right Value) (bool, error) {
	if family == OpEq {
		return left.Equal(right), nil
	}
	if family == OpNeq {
		return !left.Equal(right), nil
	}
	if !left.IsNumber() || !right.IsNumber() {
		return false, newError(ErrRuntime, 0, "ordering comparison operand is not a number")
	}
	a, b := left.Float(), right.Float()
	switch family {
	case OpLt:
		return a < b, nil
	case OpLe:
		return a <= b, nil
	case OpGt:
		return a > b, nil
	case OpGe:
		return a >= b, nil
	default:
		return false, newError(ErrRuntime, 0, "unreachable relational family")
	}
}

// runtimeErr builds a RuntimeError and stashes it as the VM's in-flight
// error, mirroring the parser's abortf/parseAbort convention but returning
// rather than panicking: the interpreter is not nested inside the parser's
// error guard, so it reports failure through ordinary Go error returns.
func (vm *VM) runtimeErr(fnIndex uint32, ip int, format string, args ...any) *Error {
	e := newError(ErrRuntime, 0, format, args...)
	vm.lastErr = e
	return e
}

// wrapRuntime re-stashes an error already produced by an arithmetic/
// relational helper as the VM's in-flight error, so every exit path sets
// vm.lastErr exactly once.
func (vm *VM) wrapRuntime(fnIndex uint32, ip int, err error) *Error {
	if e, ok := err.(*Error); ok {
		vm.lastErr = e
		return e
	}
	e := newError(ErrRuntime, 0, "%v", err)
	vm.lastErr = e
	return e
}

// bumpHotCount tracks how many times a loop header has been crossed and
// starts a trace once jitThreshold is reached (§4.3's LOOP handler
// contract). Tracing is a pure bonus path: declining to trace, or aborting
// one partway through, never changes the bytecode's observable behavior.
func (vm *VM) bumpHotCount(fnIndex uint32, headerPC int) {
	if vm.tracer == nil || vm.activeTrace != nil {
		return
	}
	key := (headerPC >> 2) & hotCountsMask
	vm.hotCounts[key]++
	if vm.hotCounts[key] < jitThreshold {
		return
	}
	vm.hotCounts[key] = 0
	if rec, ok := vm.tracer.StartTrace(fnIndex, headerPC); ok {
		vm.activeTrace = rec
		vm.traceFn = fnIndex
		vm.traceHeaderPC = headerPC
	}
}
