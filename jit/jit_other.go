//go:build !amd64

package jit

// On every architecture other than amd64, platform stays nil: asm's
// encoders are x86-64-specific, so Compiler.StartTrace declines every trace
// and the interpreter falls back to pure bytecode execution, same as if no
// Tracer had been registered at all.
