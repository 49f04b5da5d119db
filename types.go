package hookwire

//go:generate stringer -output types_string.go -type=MapType,ProgramType

// MapType indicates the structure backing a capability map.
type MapType uint32

// All supported map types.
const (
	UnspecifiedMap MapType = iota
	// Hash is a hash map.
	Hash
	// Array is an array map. Keys are uint32 indices and every index
	// exists from the moment the map is created.
	Array
	// PerfEventArray carries one bounded event ring per lane. It is
	// used with the PerfEventOutput helper and read with Reader.
	PerfEventArray
)

// hasRings returns true if the map carries event rings instead of a
// key/value index.
func (mt MapType) hasRings() bool {
	return mt == PerfEventArray
}

// ProgramType determines the context a hook program runs in, which
// helpers it may call and the return values it may produce.
type ProgramType uint32

// All supported program types.
const (
	// UnspecifiedProgram is rejected at load time.
	UnspecifiedProgram ProgramType = iota
	// SocketFilter programs run against a packet and return the number
	// of bytes to keep.
	SocketFilter
	// Kprobe programs run when execution reaches a registered symbol.
	Kprobe
	// TracePoint programs run on a named static observation point.
	TracePoint
	// RawTracePoint programs are like TracePoint but get the raw
	// arguments instead of a stable format.
	RawTracePoint
	// XDP programs run against a packet and return a verdict.
	XDP
)

// MapUpdateFlags control the behavior of Map.Update.
type MapUpdateFlags uint64

const (
	// UpdateAny creates a new element or updates an existing one.
	UpdateAny MapUpdateFlags = iota
	// UpdateNoExist creates a new element only if it didn't exist yet.
	UpdateNoExist
	// UpdateExist updates an existing element.
	UpdateExist
)

// Verdicts returned by XDP programs.
const (
	XDPAborted  uint32 = 0
	XDPDrop     uint32 = 1
	XDPPass     uint32 = 2
	XDPTX       uint32 = 3
	XDPRedirect uint32 = 4
)

// StackSize is the amount of scratch memory below the frame pointer
// available to each program invocation.
const StackSize = 512

const (
	// FLaneMask masks the target lane out of PerfEventOutput flags.
	FLaneMask = uint64(0xffffffff)
	// FCurrentLane makes PerfEventOutput use the lane the program
	// executes on.
	FCurrentLane = FLaneMask
)
