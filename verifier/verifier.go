package verifier

import (
	"fmt"
	"math"
	"strings"

	"github.com/hookwire/hookwire/asm"
)

// MaxInstructions is the maximum number of instructions in a single
// program.
const MaxInstructions = 4096

// visitBudget bounds the total number of abstract instruction visits
// across all paths. Exhausting it means termination couldn't be
// proven.
const visitBudget = 1 << 16

// ContextKind describes what the context pointer in R1 refers to at
// program start.
type ContextKind uint8

const (
	// ContextProbe is an opaque block of probe arguments, readable as
	// 8 byte words.
	ContextProbe ContextKind = iota
	// ContextPacket holds a packet pointer and a packet end pointer.
	ContextPacket
)

// Layout of the two context kinds, shared with the interpreter.
const (
	// CtxPacketData is the offset of the packet pointer in a packet
	// context.
	CtxPacketData = 0
	// CtxPacketDataEnd is the offset of the packet end pointer.
	CtxPacketDataEnd = 8
	// CtxProbeArgBytes is the readable size of a probe context.
	CtxProbeArgBytes = 64
)

// Range is an inclusive interval of unsigned return values.
type Range struct {
	Min, Max uint64
}

// MapInfo describes a map a program may reference, keyed by handle in
// Config.Maps.
type MapInfo struct {
	Name       string
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32

	// Rings is set for maps that carry event rings instead of values.
	Rings bool
}

// Config parameterizes verification for a program type.
type Config struct {
	Context ContextKind

	// Returns is the permitted interval for R0 at exit.
	Returns Range

	// Helpers restricts which built-ins the program may call. A nil
	// slice permits every implemented helper.
	Helpers []asm.BuiltinFunc

	// Maps lists the maps the program references, by handle.
	Maps map[int]MapInfo
}

// Error is returned when a program is rejected. Log holds the
// analysis trace leading up to the rejection.
type Error struct {
	Message   string
	Log       []string
	Truncated bool
}

func (e *Error) Error() string {
	return e.Message
}

// Verify analyses insns and returns nil if the program is safe to
// execute under cfg.
func Verify(insns asm.Instructions, cfg *Config) error {
	if cfg == nil {
		cfg = &Config{}
	}

	v := &verifier{
		insns:    insns,
		cfg:      cfg,
		explored: make(map[int][]*state),
		path:     make(map[int][]*state),
	}

	if err := v.prepare(); err != nil {
		return err
	}

	return v.explore(0, newState())
}

type verifier struct {
	insns asm.Instructions
	cfg   *Config
	log   traceLog

	// rawToIndex translates encoded instruction offsets, which is what
	// jump offsets count in, back to indices into insns.
	rawToIndex map[int]int
	rawPos     []int
	isTarget   []bool

	symbols map[string]int

	// explored holds all states already analysed per jump target,
	// path the ones on the current DFS path. A revisit with a state
	// equal to an ancestor means the program loops without progress.
	explored map[int][]*state
	path     map[int][]*state

	visited int
	helpers map[asm.BuiltinFunc]bool
}

func (v *verifier) errorf(format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	v.log.printf("%s", msg)
	return &Error{
		Message:   msg,
		Log:       append([]string(nil), v.log.lines...),
		Truncated: v.log.truncated,
	}
}

func (v *verifier) prepare() error {
	if len(v.insns) == 0 {
		return v.errorf("program is empty")
	}
	if len(v.insns) > MaxInstructions {
		return v.errorf("program has %d instructions, limit is %d", len(v.insns), MaxInstructions)
	}

	if last := v.insns[len(v.insns)-1]; last.OpCode.JumpOp() != asm.Exit && last.OpCode.JumpOp() != asm.Ja {
		return v.errorf("program doesn't end with an exit")
	}

	if v.cfg.Helpers != nil {
		v.helpers = make(map[asm.BuiltinFunc]bool, len(v.cfg.Helpers))
		for _, fn := range v.cfg.Helpers {
			v.helpers[fn] = true
		}
	}

	// Jump offsets count encoded instructions, which differ from
	// indices as soon as a 64 bit immediate load is involved.
	v.rawPos = make([]int, len(v.insns))
	v.rawToIndex = make(map[int]int, len(v.insns))
	raw := 0
	for i, ins := range v.insns {
		v.rawPos[i] = raw
		v.rawToIndex[raw] = i
		raw += rawCount(ins)
	}

	symbols, err := v.insns.SymbolOffsets()
	if err != nil {
		return v.errorf("%s", err)
	}
	v.symbols = symbols

	v.isTarget = make([]bool, len(v.insns))
	for i, ins := range v.insns {
		op := ins.OpCode.JumpOp()
		if op == asm.InvalidJumpOp || op == asm.Exit || op == asm.Call {
			continue
		}

		target, err := v.jumpTarget(i, ins)
		if err != nil {
			return err
		}
		v.isTarget[target] = true

		if op != asm.Ja && i+1 < len(v.insns) {
			v.isTarget[i+1] = true
		}
	}

	return nil
}

// rawCount is the number of encoded instructions ins occupies, which
// is what jump offsets count in.
func rawCount(ins asm.Instruction) int {
	if ins.OpCode.IsDWordLoad() {
		return 2
	}
	return 1
}

// jumpTarget resolves the destination of a jump at index i, either via
// a named reference or a raw offset.
func (v *verifier) jumpTarget(i int, ins asm.Instruction) (int, error) {
	if ins.Offset == -1 && ins.Reference != "" {
		target, ok := v.symbols[ins.Reference]
		if !ok {
			return 0, v.errorf("instruction %d: jump to missing symbol %q", i, ins.Reference)
		}
		return target, nil
	}

	rawTarget := v.rawPos[i] + rawCount(ins) + int(ins.Offset)
	target, ok := v.rawToIndex[rawTarget]
	if !ok || rawTarget < 0 {
		return 0, v.errorf("instruction %d: jump out of range", i)
	}
	return target, nil
}

func (v *verifier) explore(pc int, st *state) error {
	var pushed []int
	defer func() {
		for _, p := range pushed {
			l := v.path[p]
			v.path[p] = l[:len(l)-1]
		}
	}()

	for {
		if pc < 0 || pc >= len(v.insns) {
			return v.errorf("fell off the end of the program")
		}

		if v.isTarget[pc] {
			for _, ancestor := range v.path[pc] {
				if st.equal(ancestor) {
					return v.errorf("back-edge to instruction %d without progress: infinite loop", pc)
				}
			}

			pruned := false
			for _, seen := range v.explored[pc] {
				if st.equal(seen) {
					pruned = true
					break
				}
			}
			if pruned {
				return nil
			}

			cp := st.copy()
			v.explored[pc] = append(v.explored[pc], cp)
			v.path[pc] = append(v.path[pc], cp)
			pushed = append(pushed, pc)
		}

		v.visited++
		if v.visited > visitBudget {
			return v.errorf("program is too complex: cannot prove termination within %d visited instructions", visitBudget)
		}

		ins := v.insns[pc]
		v.log.printf("%d: %v", pc, ins)

		switch cls := ins.OpCode.Class(); {
		case cls.IsALU():
			if err := v.execALU(st, pc, ins); err != nil {
				return err
			}
			pc++

		case cls.IsLoad() || cls.IsStore():
			if err := v.execLoadStore(st, pc, ins); err != nil {
				return err
			}
			pc++

		case cls.IsJump():
			op := ins.OpCode.JumpOp()
			switch op {
			case asm.InvalidJumpOp:
				return v.errorf("instruction %d: invalid jump opcode %v", pc, ins.OpCode)

			case asm.Exit:
				return v.checkExit(st, pc)

			case asm.Call:
				if ins.Src == asm.PseudoCall {
					return v.errorf("instruction %d: calls between functions are not supported", pc)
				}
				if err := v.execCall(st, pc, ins); err != nil {
					return err
				}
				pc++

			case asm.Ja:
				target, err := v.jumpTarget(pc, ins)
				if err != nil {
					return err
				}
				pc = target

			default:
				target, err := v.jumpTarget(pc, ins)
				if err != nil {
					return err
				}

				trueState, falseState, err := v.branch(st, pc, ins)
				if err != nil {
					return err
				}

				if trueState != nil && falseState != nil {
					if err := v.explore(target, trueState); err != nil {
						return err
					}
					st = falseState
					pc++
					continue
				}
				if trueState != nil {
					st = trueState
					pc = target
					continue
				}
				st = falseState
				pc++
			}

		default:
			return v.errorf("instruction %d: unsupported opcode %v", pc, ins.OpCode)
		}
	}
}

func (v *verifier) reg(st *state, pc int, r asm.Register) (value, error) {
	val := st.regs[r]
	if val.kind == notInit {
		return value{}, v.errorf("instruction %d: %s is not initialized", pc, r)
	}
	return val, nil
}

func (v *verifier) setReg(st *state, pc int, r asm.Register, val value) error {
	if r == asm.RFP {
		return v.errorf("instruction %d: frame pointer is read only", pc)
	}
	st.regs[r] = val
	return nil
}

func (v *verifier) execALU(st *state, pc int, ins asm.Instruction) error {
	op := ins.OpCode.ALUOp()
	is64 := ins.OpCode.Class() == asm.ALU64Class

	var src value
	if op == asm.Swap || ins.OpCode.Source() == asm.ImmSource {
		imm := uint64(ins.Constant)
		if !is64 {
			imm = uint64(uint32(ins.Constant))
		}
		src = constScalar(imm)
	} else {
		var err error
		src, err = v.reg(st, pc, ins.Src)
		if err != nil {
			return err
		}
	}

	if op == asm.Mov {
		if !is64 && src.kind.isPointer() {
			return v.errorf("instruction %d: 32 bit move truncates %s pointer", pc, src.kind)
		}
		res := src
		if !is64 {
			res = clamp32(res)
		}
		return v.setReg(st, pc, ins.Dst, res)
	}

	dst, err := v.reg(st, pc, ins.Dst)
	if err != nil {
		return err
	}

	if src.kind.isPointer() {
		return v.errorf("instruction %d: arithmetic with %s pointer as source prohibited", pc, src.kind)
	}

	if dst.kind.isPointer() {
		return v.execPointerALU(st, pc, ins, op, is64, dst, src)
	}

	res := scalarALU(op, dst, src, is64)
	if res.kind == notInit {
		return v.errorf("instruction %d: division by zero", pc)
	}
	if !is64 {
		res = clamp32(res)
	}
	return v.setReg(st, pc, ins.Dst, res)
}

// execPointerALU adjusts a pointer's offset interval. Only 64 bit
// addition and subtraction of scalars is permitted, and only on
// pointers whose offset is meaningful.
func (v *verifier) execPointerALU(st *state, pc int, ins asm.Instruction, op asm.ALUOp, is64 bool, dst, src value) error {
	switch dst.kind {
	case ptrToStack, ptrToPacket, ptrToMapValue:
	default:
		return v.errorf("instruction %d: arithmetic on %s prohibited", pc, dst.kind)
	}
	if dst.kind == ptrToMapValue && dst.maybeNull {
		return v.errorf("instruction %d: arithmetic on possibly null map value", pc)
	}
	if !is64 {
		return v.errorf("instruction %d: 32 bit arithmetic on %s pointer", pc, dst.kind)
	}

	offset := boundedScalar(dst.umin, dst.umax)

	var res value
	switch op {
	case asm.Add:
		// A negative constant is a subtraction in disguise, which
		// matters because offsets are tracked unsigned.
		if src.isConst() && int64(src.umin) < 0 {
			res = subScalars(offset, constScalar(uint64(-int64(src.umin))))
		} else {
			res = addScalars(offset, src)
		}

	case asm.Sub:
		if src.isConst() && int64(src.umin) < 0 {
			res = addScalars(offset, constScalar(uint64(-int64(src.umin))))
		} else {
			res = subScalars(offset, src)
		}

	default:
		return v.errorf("instruction %d: %v on %s prohibited", pc, op, dst.kind)
	}

	if res.umin == 0 && res.umax == math.MaxUint64 {
		return v.errorf("instruction %d: %s offset is unbounded", pc, dst.kind)
	}

	dst.umin, dst.umax = res.umin, res.umax
	return v.setReg(st, pc, ins.Dst, dst)
}

// scalarALU computes the result interval of an ALU op on two scalars.
// Returns a notInit value to signal division by zero.
func scalarALU(op asm.ALUOp, dst, src value, is64 bool) value {
	if (op == asm.Div || op == asm.Mod) && src.isConst() && src.umin == 0 {
		return value{kind: notInit}
	}

	// Constant folding keeps loop counters and flag computations
	// precise.
	if dst.isConst() && src.isConst() {
		return constScalar(constALU(op, dst.umin, src.umin, is64))
	}

	switch op {
	case asm.Add:
		return addScalars(dst, src)
	case asm.Sub:
		return subScalars(dst, src)
	case asm.And:
		if src.isConst() {
			return boundedScalar(0, src.umin)
		}
	case asm.Div:
		return boundedScalar(0, dst.umax)
	case asm.Mod:
		if src.isConst() {
			return boundedScalar(0, src.umin-1)
		}
	case asm.RSh:
		if src.isConst() && src.umin < 64 {
			return boundedScalar(dst.umin>>src.umin, dst.umax>>src.umin)
		}
	}
	return unknownScalar()
}

func constALU(op asm.ALUOp, a, b uint64, is64 bool) uint64 {
	var res uint64
	switch op {
	case asm.Add:
		res = a + b
	case asm.Sub:
		res = a - b
	case asm.Mul:
		res = a * b
	case asm.Div:
		res = a / b
	case asm.Mod:
		res = a % b
	case asm.Or:
		res = a | b
	case asm.And:
		res = a & b
	case asm.Xor:
		res = a ^ b
	case asm.LSh:
		res = a << (b & 63)
	case asm.RSh:
		res = a >> (b & 63)
	case asm.ArSh:
		res = uint64(int64(a) >> (b & 63))
	case asm.Neg:
		res = uint64(-int64(a))
	case asm.Swap:
		res = swapBytes(a, is64)
	}
	if !is64 {
		res = uint64(uint32(res))
	}
	return res
}

func swapBytes(a uint64, full bool) uint64 {
	var out uint64
	n := 4
	if full {
		n = 8
	}
	for i := 0; i < n; i++ {
		out = out<<8 | (a>>(8*i))&0xff
	}
	return out
}

func (v *verifier) checkExit(st *state, pc int) error {
	r0 := st.regs[asm.R0]
	if r0.kind == notInit {
		return v.errorf("instruction %d: r0 is not initialized before exit", pc)
	}
	if r0.kind != scalar {
		return v.errorf("instruction %d: returning %s pointer from program", pc, r0.kind)
	}

	rng := v.cfg.Returns
	if r0.umin < rng.Min || r0.umax > rng.Max {
		return v.errorf("instruction %d: return value %s outside of permitted range [%d, %d]", pc, r0, rng.Min, rng.Max)
	}

	v.log.printf("%d: exit ok, %s", pc, st)
	return nil
}

func (v *verifier) String() string {
	return strings.Join(v.log.lines, "\n")
}
