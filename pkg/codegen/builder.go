package codegen

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Builder accumulates x86-64 SSE2 machine code for the body of a single
// function. A pkg/lower visitor drives it in post-order: every method below
// either pushes a freshly computed value onto Builder's virtual operand
// stack, or pops operands off it and pushes back the result: the same
// shape as a classic stack-machine code generator, except the "stack" is
// the real hardware stack (RSP-relative), not a Go-level data structure.
//
// Registers XMM0 and XMM1 are the only vector registers ever live outside
// of the operand stack; every intermediate value that must survive a libm
// CALL (which may clobber any caller-saved register) is spilled to the
// stack first. RAX is the only general-purpose scratch register used for
// staging immediates and call targets. For ShapeND, RBX holds a
// callee-saved copy of the input pointer so it survives calls into libm.
type Builder struct {
	shape Shape
	code  []byte
	depth int // 8-byte slots currently pushed, used to reason about 16-byte call alignment
	err   error
}

func newBuilder(shape Shape) *Builder {
	b := &Builder{shape: shape}
	b.prologue()
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) emit(bs ...byte) { b.code = append(b.code, bs...) }

// ---------------------------------------------------------------------------
// Raw x86-64 encodings. Each helper emits exactly one instruction.

func (b *Builder) pushRBP() { b.emit(0x55) }
func (b *Builder) popRBP()  { b.emit(0x5D) }
func (b *Builder) ret()     { b.emit(0xC3) }

func (b *Builder) movRBPfromRSP() { b.emit(0x48, 0x89, 0xE5) } // mov rbp, rsp
func (b *Builder) movRSPfromRBP() { b.emit(0x48, 0x89, 0xEC) } // mov rsp, rbp

func (b *Builder) subRSPImm8(n byte) { b.emit(0x48, 0x83, 0xEC, n) }
func (b *Builder) addRSPImm8(n byte) { b.emit(0x48, 0x83, 0xC4, n) }

// pushXMM pushes the 64-bit value of xmm register r onto the real stack and
// tracks the virtual operand stack depth.
func (b *Builder) pushXMM(r int) {
	b.subRSPImm8(8)
	b.movsdStoreRSP(r, 0)
	b.depth++
}

// popXMM pops the top of the real stack into xmm register r.
func (b *Builder) popXMM(r int) {
	b.movsdLoadRSP(r, 0)
	b.addRSPImm8(8)
	b.depth--
}

// peekXMM loads the value at RSP+slotsFromTop*8 (slotsFromTop slots beneath
// the top of the operand stack) into xmm register r, without changing RSP
// or depth.
func (b *Builder) peekXMM(r int, slotsFromTop int) {
	b.movsdLoadRSP(r, slotsFromTop*8)
}

// dropSlots discards n 8-byte slots from the top of the real stack at once.
func (b *Builder) dropSlots(n int) {
	if n == 0 {
		return
	}
	if n*8 > 127 {
		panic("codegen: dropSlots overflow: expression too deep for this encoder")
	}
	b.emit(0x48, 0x83, 0xC4, byte(n*8))
	b.depth -= n
}

// movsdLoadRSP emits `movsd xmmR, [rsp+disp]` (disp must be a non-negative
// multiple of 8 that fits in one signed byte, which every use in this
// package satisfies).
func (b *Builder) movsdLoadRSP(r int, disp int) {
	b.emit(0xF2, 0x0F, 0x10)
	b.emitModRMRegSIBDisp(r, disp)
}

// movsdStoreRSP emits `movsd [rsp+disp], xmmR`.
func (b *Builder) movsdStoreRSP(r int, disp int) {
	b.emit(0xF2, 0x0F, 0x11)
	b.emitModRMRegSIBDisp(r, disp)
}

// emitModRMRegSIBDisp emits the ModRM+SIB(+disp) suffix addressing
// [rsp+disp] with xmm register r as the reg field. RSP as a base always
// requires a SIB byte; disp==0 uses the no-displacement form, any other
// value (always a small multiple of 8 in this package) uses the disp8 form.
func (b *Builder) emitModRMRegSIBDisp(r int, disp int) {
	if disp == 0 {
		b.emit(modRM(0, r, 0b100), sib(0, 0b100, 0b100))
		return
	}
	b.emit(modRM(1, r, 0b100), sib(0, 0b100, 0b100), byte(int8(disp)))
}

func modRM(mod, reg, rm int) byte { return byte(mod<<6 | (reg&7)<<3 | (rm & 7)) }
func sib(scale, index, base int) byte {
	return byte(scale<<6 | (index&7)<<3 | (base & 7))
}

// movsdLoadDisp32 emits `movsd xmmR, [baseReg+disp32]` for a base register
// that never needs a SIB byte on its own (RDI, RBX, never RSP/R12).
func (b *Builder) movsdLoadDisp32(r int, baseReg int, disp int32) {
	b.emit(0xF2, 0x0F, 0x10, modRM(0b10, r, baseReg))
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(disp))
	b.emit(buf[:]...)
}

// movqXMMfromRAX emits `movq xmmR, rax`.
func (b *Builder) movqXMMfromRAX(r int) {
	b.emit(0x66, 0x48, 0x0F, 0x6E, modRM(0b11, r, 0b000))
}

// movabsRAX emits `movabs rax, imm64`.
func (b *Builder) movabsRAX(imm uint64) {
	b.emit(0x48, 0xB8)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], imm)
	b.emit(buf[:]...)
}

// movRBXfromRDI emits `mov rbx, rdi`.
func (b *Builder) movRBXfromRDI() { b.emit(0x48, 0x89, 0xFB) }

// pushRBX / movRBXfromRBPDisp save/restore the callee-saved RBX.
func (b *Builder) pushRBX() { b.emit(0x53) }
func (b *Builder) movRBXfromRBPDisp(disp int8) {
	b.emit(0x48, 0x8B, 0x5D, byte(disp)) // mov rbx, [rbp+disp]
}

// callAbsRAX emits `call rax`.
func (b *Builder) callAbsRAX() { b.emit(0xFF, 0xD0) }

const (
	xmm0 = 0
	xmm1 = 1
)

func sseOp(opcode byte, dst, src int) []byte {
	return []byte{0xF2, 0x0F, opcode, modRM(0b11, dst, src)}
}

func (b *Builder) addsd(dst, src int)  { b.emit(sseOp(0x58, dst, src)...) }
func (b *Builder) subsd(dst, src int)  { b.emit(sseOp(0x5C, dst, src)...) }
func (b *Builder) mulsd(dst, src int)  { b.emit(sseOp(0x59, dst, src)...) }
func (b *Builder) divsd(dst, src int)  { b.emit(sseOp(0x5E, dst, src)...) }
func (b *Builder) sqrtsd(dst, src int) { b.emit(sseOp(0x51, dst, src)...) }
func (b *Builder) xorpd(dst, src int) {
	b.emit(0x66, 0x0F, 0x57, modRM(0b11, dst, src))
}

// ---------------------------------------------------------------------------
// Prologue / epilogue

func (b *Builder) prologue() {
	b.pushRBP()
	b.movRBPfromRSP()

	switch b.shape {
	case Shape1D, Shape2D, Shape3D:
		for i := 0; i < int(b.shape); i++ {
			b.pushXMM(i) // spills the incoming arg register to [rbp-8*(i+1)]
		}
	case ShapeND:
		b.pushRBX()         // save caller's rbx: it's callee-saved
		b.depth++           // account for the extra push in the alignment parity
		b.movRBXfromRDI()   // rbx now holds the pointer for the whole function's life
	}
}

// assemble finalizes the function body: pops the single remaining value off
// the operand stack into the return register, tears down the frame, and
// returns the complete byte sequence. It is a programming error, not a user
// error, if the operand stack does not hold exactly the reserved slots plus
// one result at this point; lower.go guarantees it by construction.
func (b *Builder) assemble() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}

	b.popXMM(xmm0) // the lowered tree's result

	if b.shape == ShapeND {
		b.movRBXfromRBPDisp(-8) // restore caller's rbx before discarding the frame
	}
	b.movRSPfromRBP()
	b.popRBP()
	b.ret()

	return b.code, nil
}

// ---------------------------------------------------------------------------
// Operations driven by pkg/lower.

// Const pushes a literal float64 constant onto the operand stack.
func (b *Builder) Const(v float64) {
	b.movabsRAX(math.Float64bits(v))
	b.movqXMMfromRAX(xmm0)
	b.pushXMM(xmm0)
}

// Param pushes the i-th incoming scalar argument (valid for Shape1D/2D/3D),
// reading the fixed rbp-relative slot it was spilled to during the
// prologue regardless of how deep the operand stack has grown since.
func (b *Builder) Param(i int) {
	disp := int8(-8 * (i + 1))
	b.emit(0xF2, 0x0F, 0x10, modRM(0b01, xmm0, 0b101), byte(disp)) // movsd xmm0, [rbp+disp8]
	b.pushXMM(xmm0)
}

// LoadVar pushes the i-th variable of the N-D pointer argument, read as
// *(ptr+i) with no bounds check: the caller of the compiled function is
// responsible for len >= arity, per spec.
func (b *Builder) LoadVar(i int) {
	const rbx = 0b011
	b.movsdLoadDisp32(xmm0, rbx, int32(i)*8)
	b.pushXMM(xmm0)
}

// Neg negates the top of the operand stack in place.
func (b *Builder) Neg() {
	b.popXMM(xmm0)
	b.movabsRAX(1 << 63)
	b.movqXMMfromRAX(xmm1)
	b.xorpd(xmm0, xmm1)
	b.pushXMM(xmm0)
}

// Sqrt replaces the top of the operand stack with its square root.
func (b *Builder) Sqrt() {
	b.popXMM(xmm0)
	b.sqrtsd(xmm0, xmm0)
	b.pushXMM(xmm0)
}

func (b *Builder) binaryArith(apply func(dst, src int)) {
	b.popXMM(xmm1) // right
	b.popXMM(xmm0) // left
	apply(xmm0, xmm1)
	b.pushXMM(xmm0)
}

// Add/Sub/Mul/Div combine the top two operand-stack values and push the
// single primitive-operation result.
func (b *Builder) Add() { b.binaryArith(b.addsd) }
func (b *Builder) Sub() { b.binaryArith(b.subsd) }
func (b *Builder) Mul() { b.binaryArith(b.mulsd) }
func (b *Builder) Div() { b.binaryArith(b.divsd) }

// alignForCall pads the stack by one slot if necessary so RSP is 16-byte
// aligned at the upcoming CALL, and reports whether it did so.
func (b *Builder) alignForCall() bool {
	if b.depth%2 != 0 {
		b.subRSPImm8(8)
		return true
	}
	return false
}

func (b *Builder) unalignForCall(padded bool) {
	if padded {
		b.addRSPImm8(8)
	}
}

func (b *Builder) call(addr uintptr) {
	b.movabsRAX(uint64(addr))
	b.callAbsRAX()
}

// CallUnary replaces the top of the operand stack with the result of
// calling the named libm function on it (sin, cos, exp, or the natural
// logarithm "log").
func (b *Builder) CallUnary(name string) {
	addr, err := libmSymbol(name)
	if err != nil {
		b.fail(fmt.Errorf("%w: %v", ErrCodegenFailure, err))
		return
	}

	b.popXMM(xmm0)
	padded := b.alignForCall()
	b.call(addr)
	b.unalignForCall(padded)
	b.pushXMM(xmm0)
}

// CallPow replaces the top two operand-stack values (base below, exponent
// on top) with pow(base, exponent). The SysV calling convention happens to
// want (base, exponent) in (xmm0, xmm1) in exactly the order they land in
// after the two pops below: no shuffling needed.
func (b *Builder) CallPow() {
	addr, err := libmSymbol("pow")
	if err != nil {
		b.fail(fmt.Errorf("%w: %v", ErrCodegenFailure, err))
		return
	}

	b.popXMM(xmm1) // exponent
	b.popXMM(xmm0) // base
	padded := b.alignForCall()
	b.call(addr)
	b.unalignForCall(padded)
	b.pushXMM(xmm0)
}

// CallLog replaces the top two operand-stack values (argument below, base
// on top) with log_base(argument), computed as ln(argument)/ln(base) via
// two separate calls into libm's natural logarithm. Because a CALL may
// clobber any caller-saved register, each intermediate must be parked on
// the stack, never held in a register, across the other call.
func (b *Builder) CallLog() {
	addr, err := libmSymbol("log")
	if err != nil {
		b.fail(fmt.Errorf("%w: %v", ErrCodegenFailure, err))
		return
	}

	b.popXMM(xmm0) // base
	b.popXMM(xmm1) // argument
	b.pushXMM(xmm1) // park argument across the first call

	padded := b.alignForCall()
	b.call(addr) // xmm0 = ln(base)
	b.unalignForCall(padded)
	b.pushXMM(xmm0) // park ln(base) across the second call

	// Stack now (top to bottom): ln(base), argument. Read argument without
	// disturbing ln(base) underneath: no pop needed to reach it.
	b.peekXMM(xmm0, 1)

	padded = b.alignForCall()
	b.call(addr) // xmm0 = ln(argument)
	b.unalignForCall(padded)

	b.peekXMM(xmm1, 0) // ln(base), still parked
	b.dropSlots(2)      // discard both parked values at once

	b.divsd(xmm0, xmm1) // ln(argument) / ln(base)
	b.pushXMM(xmm0)
}
