package verifier

import (
	"fmt"
	"math"
)

type valueKind uint8

const (
	// notInit marks a register that has never been written on this
	// path. Reading it is an error.
	notInit valueKind = iota
	// scalar is a plain number with unsigned bounds.
	scalar
	// ptrToCtx points at the program's context.
	ptrToCtx
	// ptrToStack points into the program's own stack frame.
	ptrToStack
	// ptrToMap is a map reference produced by asm.LoadMapPtr.
	ptrToMap
	// ptrToMapValue points into a map's value storage. It may be null
	// until a null check refines it.
	ptrToMapValue
	// ptrToPacket points at packet bytes. Accesses need a proven bound
	// against the packet end.
	ptrToPacket
	// ptrToPacketEnd is the first byte past the packet.
	ptrToPacketEnd
)

var kindNames = map[valueKind]string{
	notInit:        "uninit",
	scalar:         "scalar",
	ptrToCtx:       "ctx",
	ptrToStack:     "fp",
	ptrToMap:       "map_ptr",
	ptrToMapValue:  "map_value",
	ptrToPacket:    "pkt",
	ptrToPacketEnd: "pkt_end",
}

func (k valueKind) String() string {
	if name := kindNames[k]; name != "" {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k valueKind) isPointer() bool {
	return k != notInit && k != scalar
}

// value is the abstract content of a register or spilled stack slot.
//
// For scalars umin and umax bound the unsigned 64 bit value. For
// pointers they bound the byte offset relative to the region's start.
// Stack offsets are measured from the bottom of the frame, so the
// frame pointer itself sits at the stack size and fp-8 below it.
type value struct {
	kind valueKind

	umin, umax uint64

	// handle of the referenced map for ptrToMap and ptrToMapValue.
	handle int

	// maybeNull is set on a ptrToMapValue that hasn't been null
	// checked yet.
	maybeNull bool
}

func unknownScalar() value {
	return value{kind: scalar, umin: 0, umax: math.MaxUint64}
}

func constScalar(v uint64) value {
	return value{kind: scalar, umin: v, umax: v}
}

func boundedScalar(umin, umax uint64) value {
	return value{kind: scalar, umin: umin, umax: umax}
}

// isConst reports whether the scalar has exactly one possible value.
func (v value) isConst() bool {
	return v.kind == scalar && v.umin == v.umax
}

func (v value) String() string {
	switch v.kind {
	case scalar:
		if v.isConst() {
			return fmt.Sprintf("%d", v.umin)
		}
		if v.umin == 0 && v.umax == math.MaxUint64 {
			return "scalar"
		}
		return fmt.Sprintf("scalar[%d,%d]", v.umin, v.umax)

	case ptrToStack:
		if v.isConstOffset() {
			return fmt.Sprintf("fp%+d", int64(v.umin)-stackSize)
		}
		return fmt.Sprintf("fp+[%d,%d]", int64(v.umin)-stackSize, int64(v.umax)-stackSize)

	case ptrToMapValue:
		name := v.kind.String()
		if v.maybeNull {
			name += "_or_null"
		}
		return fmt.Sprintf("%s+[%d,%d]", name, v.umin, v.umax)

	case ptrToPacket:
		return fmt.Sprintf("pkt+[%d,%d]", v.umin, v.umax)

	default:
		return v.kind.String()
	}
}

func (v value) isConstOffset() bool {
	return v.umin == v.umax
}

// add shifts a pointer's offset interval, or adds two scalars.
// Overflow widens the result to a fully unknown scalar.
func addScalars(a, b value) value {
	min, minOverflow := addOverflows(a.umin, b.umin)
	max, maxOverflow := addOverflows(a.umax, b.umax)
	if minOverflow || maxOverflow {
		return unknownScalar()
	}
	return boundedScalar(min, max)
}

func addOverflows(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum < a
}

// subScalars computes a - b. If the intervals overlap such that the
// result could wrap, the result is unknown.
func subScalars(a, b value) value {
	if a.umin < b.umax {
		return unknownScalar()
	}
	return boundedScalar(a.umin-b.umax, a.umax-b.umin)
}

// clamp32 narrows a value to the range of a 32 bit result.
func clamp32(v value) value {
	if v.umax > math.MaxUint32 {
		return boundedScalar(0, math.MaxUint32)
	}
	return v
}

// equal compares two abstract values exactly.
func (v value) equal(other value) bool {
	return v == other
}
