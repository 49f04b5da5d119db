package verifier

import (
	"math"

	"github.com/hookwire/hookwire/asm"
)

// branch computes the states for the taken and fall-through edges of a
// conditional jump. A nil state means that edge is infeasible and
// doesn't need exploring.
func (v *verifier) branch(st *state, pc int, ins asm.Instruction) (*state, *state, error) {
	op := ins.OpCode.JumpOp()
	is32 := ins.OpCode.Class() == asm.Jump32Class

	dst, err := v.reg(st, pc, ins.Dst)
	if err != nil {
		return nil, nil, err
	}

	var src value
	if ins.OpCode.Source() == asm.ImmSource {
		if is32 {
			src = constScalar(uint64(uint32(ins.Constant)))
		} else {
			src = constScalar(uint64(ins.Constant))
		}
	} else {
		src, err = v.reg(st, pc, ins.Src)
		if err != nil {
			return nil, nil, err
		}
	}

	// Null check on a map lookup result.
	if dst.kind == ptrToMapValue && dst.maybeNull && src.isConst() && src.umin == 0 {
		switch op {
		case asm.JEq:
			return v.nullBranch(st, ins.Dst, true)
		case asm.JNE:
			return v.nullBranch(st, ins.Dst, false)
		}
	}

	// Bounds check of a packet pointer against the packet end.
	if dst.kind == ptrToPacket && src.kind == ptrToPacketEnd {
		return v.packetBranch(st, op, dst)
	}
	if dst.kind == ptrToPacketEnd && src.kind == ptrToPacket {
		return v.packetBranch(st, mirrorJump(op), src)
	}

	if dst.kind.isPointer() || src.kind.isPointer() {
		return nil, nil, v.errorf("instruction %d: comparison of %s with %s prohibited", pc, dst.kind, src.kind)
	}

	if dst.isConst() && src.isConst() {
		if evalJump(op, dst.umin, src.umin, is32) {
			return st, nil, nil
		}
		return nil, st, nil
	}

	trueState, falseState := v.refineScalars(st, ins, op, is32, dst, src)
	return trueState, falseState, nil
}

// nullBranch splits the state of a possibly null map value. On the
// null edge the register is the known scalar zero.
func (v *verifier) nullBranch(st *state, reg asm.Register, jumpIfNull bool) (*state, *state, error) {
	nonNull := st.regs[reg]
	nonNull.maybeNull = false

	nullState := st.copy()
	nullState.regs[reg] = constScalar(0)

	nonNullState := st.copy()
	nonNullState.regs[reg] = nonNull

	if jumpIfNull {
		return nullState, nonNullState, nil
	}
	return nonNullState, nullState, nil
}

func mirrorJump(op asm.JumpOp) asm.JumpOp {
	switch op {
	case asm.JGT:
		return asm.JLT
	case asm.JLT:
		return asm.JGT
	case asm.JGE:
		return asm.JLE
	case asm.JLE:
		return asm.JGE
	default:
		return op
	}
}

// packetBranch updates the proven packet bound on the edges of a
// comparison of pkt+k against pkt_end. Proving that some prefix of
// the packet is readable is the only way to unlock packet loads.
func (v *verifier) packetBranch(st *state, op asm.JumpOp, pkt value) (*state, *state, error) {
	// The guarantee holds for the smallest offset the pointer may
	// have.
	k := pkt.umin

	trueState := st.copy()
	falseState := st.copy()

	switch op {
	case asm.JGT:
		// Fall through edge proves pkt+k <= pkt_end.
		if k > falseState.pktProven {
			falseState.pktProven = k
		}
	case asm.JGE:
		if k+1 > falseState.pktProven {
			falseState.pktProven = k + 1
		}
	case asm.JLT:
		if k+1 > trueState.pktProven {
			trueState.pktProven = k + 1
		}
	case asm.JLE:
		if k > trueState.pktProven {
			trueState.pktProven = k
		}
	}

	return trueState, falseState, nil
}

func evalJump(op asm.JumpOp, a, b uint64, is32 bool) bool {
	if is32 {
		a, b = uint64(uint32(a)), uint64(uint32(b))
	}

	sa, sb := int64(a), int64(b)
	if is32 {
		sa, sb = int64(int32(uint32(a))), int64(int32(uint32(b)))
	}

	switch op {
	case asm.JEq:
		return a == b
	case asm.JNE:
		return a != b
	case asm.JGT:
		return a > b
	case asm.JGE:
		return a >= b
	case asm.JLT:
		return a < b
	case asm.JLE:
		return a <= b
	case asm.JSGT:
		return sa > sb
	case asm.JSGE:
		return sa >= sb
	case asm.JSLT:
		return sa < sb
	case asm.JSLE:
		return sa <= sb
	case asm.JSet:
		return a&b != 0
	default:
		return false
	}
}

// refineScalars narrows the unsigned bounds of the compared register
// on both edges where the comparison permits it.
func (v *verifier) refineScalars(st *state, ins asm.Instruction, op asm.JumpOp, is32 bool, dst, src value) (*state, *state) {
	// Without a constant operand there is nothing to learn, explore
	// both edges with the original state.
	if !src.isConst() {
		return st.copy(), st
	}
	if is32 && (dst.umax > math.MaxUint32 || src.umin > math.MaxUint32) {
		return st.copy(), st
	}

	c := src.umin

	trueMin, trueMax := dst.umin, dst.umax
	falseMin, falseMax := dst.umin, dst.umax

	switch op {
	case asm.JEq:
		trueMin, trueMax = maxU(trueMin, c), minU(trueMax, c)

	case asm.JNE:
		falseMin, falseMax = maxU(falseMin, c), minU(falseMax, c)

	case asm.JGT:
		if c < math.MaxUint64 {
			trueMin = maxU(trueMin, c+1)
		}
		falseMax = minU(falseMax, c)

	case asm.JGE:
		trueMin = maxU(trueMin, c)
		if c > 0 {
			falseMax = minU(falseMax, c-1)
		} else {
			// x >= 0 is always true.
			return st, nil
		}

	case asm.JLT:
		if c > 0 {
			trueMax = minU(trueMax, c-1)
		} else {
			// x < 0 is never true.
			return nil, st
		}
		falseMin = maxU(falseMin, c)

	case asm.JLE:
		trueMax = minU(trueMax, c)
		if c < math.MaxUint64 {
			falseMin = maxU(falseMin, c+1)
		} else {
			return st, nil
		}

	default:
		// Signed and bit tests don't refine unsigned bounds.
		return st.copy(), st
	}

	var trueState, falseState *state
	if trueMin <= trueMax {
		trueState = st.copy()
		trueState.regs[ins.Dst] = boundedScalar(trueMin, trueMax)
	}
	if falseMin <= falseMax {
		falseState = st.copy()
		falseState.regs[ins.Dst] = boundedScalar(falseMin, falseMax)
	}
	return trueState, falseState
}

func minU(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

func maxU(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
