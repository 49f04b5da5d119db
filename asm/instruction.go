package asm

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// InstructionSize is the size of an encoded instruction in bytes
const InstructionSize = 8

// Instruction is a single hook program instruction.
type Instruction struct {
	OpCode   OpCode
	Dst      Register
	Src      Register
	Offset   int16
	Constant int64

	// Reference denotes a reference (e.g. a jump) to another symbol,
	// or the name of a map for map loads.
	Reference string

	// Symbol denotes an instruction at the start of a function body.
	Symbol string
}

// WithSymbol marks the Instruction as a start of a symbol.
func (ins Instruction) WithSymbol(name string) Instruction {
	ins.Symbol = name
	return ins
}

// WithReference makes ins reference another symbol or map.
func (ins Instruction) WithReference(ref string) Instruction {
	ins.Reference = ref
	return ins
}

// Unmarshal decodes an encoded instruction.
func (ins *Instruction) Unmarshal(r io.Reader, bo binary.ByteOrder) (uint64, error) {
	var raw rawInstruction
	if err := binary.Read(r, bo, &raw); err != nil {
		return 0, err
	}

	ins.OpCode = raw.OpCode
	ins.Offset = raw.Offset
	ins.Dst = raw.Registers.Dst()
	ins.Src = raw.Registers.Src()
	ins.Constant = int64(raw.Constant)

	if !ins.OpCode.IsDWordLoad() {
		return InstructionSize, nil
	}

	// Pull another instruction from the stream to retrieve the second
	// half of the 64-bit immediate value.
	var raw2 rawInstruction
	if err := binary.Read(r, bo, &raw2); err != nil {
		return 0, errors.Wrap(err, "64bit immediate is missing second half")
	}
	if raw2.OpCode != 0 || raw2.Offset != 0 || raw2.Registers != 0 {
		return 0, errors.New("64bit immediate has non-zero fields")
	}
	ins.Constant = int64(uint64(uint32(raw2.Constant))<<32 | uint64(uint32(raw.Constant)))

	return 2 * InstructionSize, nil
}

// Marshal encodes the instruction into its fixed 8 byte wire form.
func (ins Instruction) Marshal(w io.Writer, bo binary.ByteOrder) (uint64, error) {
	if ins.OpCode == InvalidOpCode {
		return 0, errors.New("invalid opcode")
	}

	isDWordLoad := ins.OpCode.IsDWordLoad()

	cons := int32(ins.Constant)
	if isDWordLoad {
		// Encode least significant 32bit first for 64bit operations.
		cons = int32(uint32(ins.Constant))
	}

	raw := rawInstruction{
		ins.OpCode,
		newRawRegisters(ins.Dst, ins.Src),
		ins.Offset,
		cons,
	}
	if err := binary.Write(w, bo, &raw); err != nil {
		return 0, err
	}

	if !isDWordLoad {
		return InstructionSize, nil
	}

	raw = rawInstruction{
		Constant: int32(ins.Constant >> 32),
	}
	if err := binary.Write(w, bo, &raw); err != nil {
		return 0, err
	}

	return 2 * InstructionSize, nil
}

// RewriteMapPtr changes an instruction to use a new map handle.
//
// Returns an error if the instruction doesn't load a map.
func (ins *Instruction) RewriteMapPtr(handle int) error {
	if !ins.OpCode.IsDWordLoad() {
		return errors.Errorf("%s is not a 64 bit load", ins.OpCode)
	}

	if ins.Src != PseudoMapFD && ins.Src != PseudoMapValue {
		return errors.New("not a load from a map")
	}

	// Preserve the offset value for direct map loads.
	offset := uint64(ins.Constant) & (math.MaxUint32 << 32)
	rawHandle := uint64(uint32(handle))
	ins.Constant = int64(offset | rawHandle)
	return nil
}

// IsLoadFromMap checks if the instruction loads from a map.
//
// This covers both loading the map pointer and direct map value loads.
func (ins *Instruction) IsLoadFromMap() bool {
	return ins.OpCode == LoadImmOp(DWord) && (ins.Src == PseudoMapFD || ins.Src == PseudoMapValue)
}

// MapPtr returns the map handle for this instruction.
//
// The result is undefined if the instruction is not a load from a map,
// see IsLoadFromMap.
func (ins *Instruction) MapPtr() int {
	return int(int32(uint64(ins.Constant) & math.MaxUint32))
}

// IsFunctionCall determines if the instruction is a call into another
// function of the same program.
func (ins *Instruction) IsFunctionCall() bool {
	return ins.OpCode.JumpOp() == Call && ins.Src == PseudoCall
}

// IsBuiltinCall checks if the instruction is a built-in call, i.e. not
// a call to another program.
func (ins *Instruction) IsBuiltinCall() bool {
	return ins.OpCode.JumpOp() == Call && ins.Src == R0 && ins.Dst == R0
}

// equal returns true if ins and other are identical except for their
// symbols and references.
func (ins Instruction) equal(other Instruction) bool {
	return ins.OpCode == other.OpCode &&
		ins.Dst == other.Dst &&
		ins.Src == other.Src &&
		ins.Offset == other.Offset &&
		ins.Constant == other.Constant
}

// Format implements fmt.Formatter.
func (ins Instruction) Format(f fmt.State, c rune) {
	if c != 'v' {
		fmt.Fprintf(f, "{UNRECOGNIZED: %c}", c)
		return
	}

	op := ins.OpCode

	if op == InvalidOpCode {
		fmt.Fprint(f, "INVALID")
		return
	}

	// Omit trailing space for Exit
	if op.JumpOp() == Exit {
		fmt.Fprint(f, op)
		return
	}

	if ins.IsLoadFromMap() {
		handle := ins.MapPtr()
		switch ins.Src {
		case PseudoMapFD:
			fmt.Fprintf(f, "LoadMapPtr dst: %s map: %d", ins.Dst, handle)

		case PseudoMapValue:
			fmt.Fprintf(f, "LoadMapValue dst: %s, map: %d off: %d", ins.Dst, handle, int32(uint64(ins.Constant)>>32))
		}

		goto ref
	}

	fmt.Fprintf(f, "%v ", op)
	switch cls := op.Class(); cls {
	case LdClass, LdXClass, StClass, StXClass:
		switch op.Mode() {
		case ImmMode:
			fmt.Fprintf(f, "dst: %s imm: %d", ins.Dst, ins.Constant)
		case AbsMode:
			fmt.Fprintf(f, "imm: %d", ins.Constant)
		case IndMode:
			fmt.Fprintf(f, "dst: %s src: %s imm: %d", ins.Dst, ins.Src, ins.Constant)
		case MemMode:
			fmt.Fprintf(f, "dst: %s src: %s off: %d imm: %d", ins.Dst, ins.Src, ins.Offset, ins.Constant)
		case XAddMode:
			fmt.Fprintf(f, "dst: %s src: %s", ins.Dst, ins.Src)
		}

	case ALU64Class, ALUClass:
		fmt.Fprintf(f, "dst: %s ", ins.Dst)
		if op.ALUOp() == Swap || op.Source() == ImmSource {
			fmt.Fprintf(f, "imm: %d", ins.Constant)
		} else {
			fmt.Fprintf(f, "src: %s", ins.Src)
		}

	case JumpClass, Jump32Class:
		switch jop := op.JumpOp(); jop {
		case Call:
			if ins.Src == PseudoCall {
				// program to program call
				fmt.Fprint(f, ins.Constant)
			} else {
				fmt.Fprint(f, BuiltinFunc(ins.Constant))
			}

		default:
			fmt.Fprintf(f, "dst: %s off: %d ", ins.Dst, ins.Offset)
			if op.Source() == ImmSource {
				fmt.Fprintf(f, "imm: %d", ins.Constant)
			} else {
				fmt.Fprintf(f, "src: %s", ins.Src)
			}
		}
	}

ref:
	if ins.Reference != "" {
		fmt.Fprintf(f, " <%s>", ins.Reference)
	}
}

// Size returns the amount of bytes ins would occupy when encoded.
func (ins Instruction) Size() uint64 {
	return uint64(InstructionSize * ins.OpCode.rawInstructions())
}

// Instructions is a hook program.
type Instructions []Instruction

func (insns Instructions) String() string {
	return fmt.Sprint(insns)
}

// Size returns the amount of bytes insns would occupy when encoded.
func (insns Instructions) Size() uint64 {
	var sum uint64
	for _, ins := range insns {
		sum += ins.Size()
	}
	return sum
}

// SymbolOffsets returns the set of symbols and their offset in
// the instructions.
func (insns Instructions) SymbolOffsets() (map[string]int, error) {
	offsets := make(map[string]int)

	for i, ins := range insns {
		if ins.Symbol == "" {
			continue
		}

		if _, ok := offsets[ins.Symbol]; ok {
			return nil, errors.Errorf("duplicate symbol %s", ins.Symbol)
		}

		offsets[ins.Symbol] = i
	}

	return offsets, nil
}

// ReferenceOffsets returns the set of references and their offset in
// the instructions.
func (insns Instructions) ReferenceOffsets() map[string][]int {
	offsets := make(map[string][]int)

	for i, ins := range insns {
		if ins.Reference == "" {
			continue
		}

		offsets[ins.Reference] = append(offsets[ins.Reference], i)
	}

	return offsets
}

func (insns Instructions) marshalledOffsets() (map[string]int, error) {
	symbols := make(map[string]int)

	marshalledPos := 0
	for _, ins := range insns {
		currentPos := marshalledPos
		marshalledPos += ins.OpCode.rawInstructions()

		if ins.Symbol == "" {
			continue
		}

		if _, ok := symbols[ins.Symbol]; ok {
			return nil, errors.Errorf("duplicate symbol %s", ins.Symbol)
		}

		symbols[ins.Symbol] = currentPos
	}

	return symbols, nil
}

// Format implements fmt.Formatter.
//
// You can control indentation of symbols by
// specifying a width. Setting a precision controls the indentation of
// instructions.
// The default character is a tab, which can be overridden by specifying
// the ' ' space flag.
func (insns Instructions) Format(f fmt.State, c rune) {
	if c != 's' && c != 'v' {
		fmt.Fprintf(f, "{UNKNOWN FORMAT '%c'}", c)
		return
	}

	// Precision is better in this case, because it allows
	// specifying 0 padding easily.
	padding, ok := f.Precision()
	if !ok {
		padding = 1
	}

	indent := strings.Repeat("\t", padding)
	if f.Flag(' ') {
		indent = strings.Repeat(" ", padding)
	}

	symPadding, ok := f.Width()
	if !ok {
		symPadding = padding - 1
	}
	if symPadding < 0 {
		symPadding = 0
	}

	symIndent := strings.Repeat("\t", symPadding)
	if f.Flag(' ') {
		symIndent = strings.Repeat(" ", symPadding)
	}

	// Figure out how many digits we need to represent the highest
	// offset.
	highestOffset := 0
	for _, ins := range insns {
		highestOffset += ins.OpCode.rawInstructions()
	}
	offsetWidth := int(math.Ceil(math.Log10(float64(highestOffset))))

	offset := 0
	for _, ins := range insns {
		if ins.Symbol != "" {
			fmt.Fprintf(f, "%s%s:\n", symIndent, ins.Symbol)
		}
		fmt.Fprintf(f, "%s%*d: %v\n", indent, offsetWidth, offset, ins)
		offset += ins.OpCode.rawInstructions()
	}
}

// Marshal encodes a full program into the wire format.
func (insns Instructions) Marshal(w io.Writer, bo binary.ByteOrder) error {
	absoluteOffsets, err := insns.marshalledOffsets()
	if err != nil {
		return err
	}

	num := 0
	for i, ins := range insns {
		if ins.OpCode == InvalidOpCode {
			return errors.Errorf("invalid operation at position %d", i)
		}

		// References are resolved to relative jump or call targets when
		// writing out the program.
		switch {
		case ins.OpCode.JumpOp() == Call && ins.Src == PseudoCall && ins.Constant == -1:
			offset, ok := absoluteOffsets[ins.Reference]
			if !ok {
				return errors.Errorf("instruction %d: reference to missing symbol %s", i, ins.Reference)
			}
			ins.Constant = int64(offset - num - 1)

		case ins.OpCode.Class().IsJump() && ins.Offset == -1:
			offset, ok := absoluteOffsets[ins.Reference]
			if !ok {
				return errors.Errorf("instruction %d: reference to missing symbol %s", i, ins.Reference)
			}
			ins.Offset = int16(offset - num - 1)
		}

		n, err := ins.Marshal(w, bo)
		if err != nil {
			return errors.Wrapf(err, "instruction %d", i)
		}
		num += int(n / InstructionSize)
	}
	return nil
}

// Unmarshal decodes a program from the wire format.
//
// Returns a map from encoded offset to decoded instruction index,
// which callers can use to translate relocations.
func (insns *Instructions) Unmarshal(r io.Reader, bo binary.ByteOrder) (map[uint64]int, error) {
	*insns = nil

	var (
		offsets = make(map[uint64]int)
		offset  uint64
	)
	for {
		offsets[offset] = len(*insns)

		var ins Instruction
		n, err := ins.Unmarshal(r, bo)
		if err == io.EOF {
			return offsets, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "offset %x", offset)
		}

		*insns = append(*insns, ins)
		offset += n
	}
}

type rawInstruction struct {
	OpCode    OpCode
	Registers rawRegisters
	Offset    int16
	Constant  int32
}

type rawRegisters uint8

func newRawRegisters(dst, src Register) rawRegisters {
	return rawRegisters((src << 4) | (dst & 0xF))
}

func (r rawRegisters) Dst() Register {
	return Register(r & 0xF)
}

func (r rawRegisters) Src() Register {
	return Register(r >> 4)
}
