package verifier

import (
	"strings"

	"github.com/hookwire/hookwire/asm"
)

const (
	stackSize  = 512
	slotSize   = 8
	stackSlots = stackSize / slotSize
)

type slotKind uint8

const (
	// slotInvalid has never been written. Reading it is an error.
	slotInvalid slotKind = iota
	// slotMisc holds bytes written piecemeal. Reads yield an unknown
	// scalar.
	slotMisc
	// slotSpill holds a register spilled with an aligned 8 byte store.
	slotSpill
)

type stackSlot struct {
	kind  slotKind
	spill value
}

// state is the abstract machine state at one point of one path.
type state struct {
	regs  [11]value
	stack [stackSlots]stackSlot

	// pktProven is the number of packet bytes proven readable by a
	// bounds check against the packet end on this path.
	pktProven uint64
}

func newState() *state {
	var st state

	st.regs[asm.R10] = value{kind: ptrToStack, umin: stackSize, umax: stackSize}
	st.regs[asm.R1] = value{kind: ptrToCtx}
	return &st
}

func (st *state) copy() *state {
	cpy := *st
	return &cpy
}

func (st *state) equal(other *state) bool {
	return *st == *other
}

// markClobbered invalidates the caller saved registers around a helper
// call.
func (st *state) markClobbered() {
	for r := asm.R1; r <= asm.R5; r++ {
		st.regs[r] = value{kind: notInit}
	}
}

func (st *state) String() string {
	var sb strings.Builder
	for i, reg := range st.regs {
		if reg.kind == notInit {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(asm.Register(i).String())
		sb.WriteString("=")
		sb.WriteString(reg.String())
	}
	return sb.String()
}
