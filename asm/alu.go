package asm

import "fmt"

// Source of ALU / ALU64 / Branch operations.
//
//	msb              lsb
//	+------------+-+---+
//	|     op     |S|cls|
//	+------------+-+---+
type Source uint8

const sourceMask OpCode = 0x08

// Source bitmask.
const (
	// InvalidSource is returned by getters when invoked
	// on non ALU / branch OpCodes.
	InvalidSource Source = 0xff
	// ImmSource src is from constant.
	ImmSource Source = 0x00
	// RegSource src is from register.
	RegSource Source = 0x08
)

func (s Source) String() string {
	switch s {
	case ImmSource:
		return "Imm"
	case RegSource:
		return "Reg"
	default:
		return fmt.Sprintf("Source(%#x)", uint8(s))
	}
}

// ALUOp are ALU / ALU64 operations.
//
//	msb              lsb
//	+----------------+-+---+
//	|       OP       |s|cls|
//	+----------------+-+---+
type ALUOp uint8

const aluMask OpCode = 0xf0

const (
	// InvalidALUOp is returned by getters when invoked
	// on non ALU OpCodes.
	InvalidALUOp ALUOp = 0xff
	// Add - addition
	Add ALUOp = 0x00
	// Sub - subtraction
	Sub ALUOp = 0x10
	// Mul - multiplication
	Mul ALUOp = 0x20
	// Div - unsigned division
	Div ALUOp = 0x30
	// Or - bitwise or
	Or ALUOp = 0x40
	// And - bitwise and
	And ALUOp = 0x50
	// LSh - bitwise shift left
	LSh ALUOp = 0x60
	// RSh - bitwise shift right
	RSh ALUOp = 0x70
	// Neg - sign/unsign flipping
	Neg ALUOp = 0x80
	// Mod - modulo
	Mod ALUOp = 0x90
	// Xor - bitwise xor
	Xor ALUOp = 0xa0
	// Mov - move value from one place to another
	Mov ALUOp = 0xb0
	// ArSh - arithmetic shift
	ArSh ALUOp = 0xc0
	// Swap - endian conversions
	Swap ALUOp = 0xd0
)

var aluNames = map[ALUOp]string{
	Add:  "Add",
	Sub:  "Sub",
	Mul:  "Mul",
	Div:  "Div",
	Or:   "Or",
	And:  "And",
	LSh:  "LSh",
	RSh:  "RSh",
	Neg:  "Neg",
	Mod:  "Mod",
	Xor:  "Xor",
	Mov:  "Mov",
	ArSh: "ArSh",
	Swap: "Swap",
}

func (op ALUOp) String() string {
	if name := aluNames[op]; name != "" {
		return name
	}
	return fmt.Sprintf("ALUOp(%#x)", uint8(op))
}

// Op returns the OpCode for an ALU operation with a given source.
func (op ALUOp) Op(source Source) OpCode {
	return OpCode(ALU64Class).SetALUOp(op).SetSource(source)
}

// Reg emits `dst (op) src`.
func (op ALUOp) Reg(dst, src Register) Instruction {
	return Instruction{
		OpCode: op.Op(RegSource),
		Dst:    dst,
		Src:    src,
	}
}

// Imm emits `dst (op) value`.
func (op ALUOp) Imm(dst Register, value int32) Instruction {
	return Instruction{
		OpCode:   op.Op(ImmSource),
		Dst:      dst,
		Constant: int64(value),
	}
}

// Op32 returns the OpCode for a 32 bit ALU operation with a given
// source.
func (op ALUOp) Op32(source Source) OpCode {
	return OpCode(ALUClass).SetALUOp(op).SetSource(source)
}

// Reg32 emits `dst (op) src`, zeroing the upper 32 bit of dst.
func (op ALUOp) Reg32(dst, src Register) Instruction {
	return Instruction{
		OpCode: op.Op32(RegSource),
		Dst:    dst,
		Src:    src,
	}
}

// Imm32 emits `dst (op) value`, zeroing the upper 32 bit of dst.
func (op ALUOp) Imm32(dst Register, value int32) Instruction {
	return Instruction{
		OpCode:   op.Op32(ImmSource),
		Dst:      dst,
		Constant: int64(value),
	}
}
