// Package event describes the record emitted by hook programs.
//
// The wire layout is fixed at 56 bytes, little-endian, and has to stay
// in sync with the offsets used by the bundled programs.
package event

import (
	"fmt"

	"github.com/hookwire/hookwire/internal"
)

// DataSize is the encoded size of Data in bytes.
const DataSize = 56

// Provenance identifies which kind of observation point produced a
// record. Programs of different types can write into the same event
// channel, the consumer multiplexes on this field.
type Provenance uint32

const (
	ProvenanceUnspec Provenance = iota
	ProvenanceKprobeSyscall
	ProvenanceKprobe
	ProvenanceFentry
	ProvenanceTracepoint
	ProvenanceTracepointBTF
	ProvenanceRawTracepoint
	ProvenanceXDP
	ProvenanceSocketFilter
)

var provenanceNames = map[Provenance]string{
	ProvenanceKprobeSyscall: "kprobe_syscall",
	ProvenanceKprobe:        "kprobe",
	ProvenanceFentry:        "fentry",
	ProvenanceTracepoint:    "tracepoint",
	ProvenanceTracepointBTF: "tracepoint_btf",
	ProvenanceRawTracepoint: "raw_tracepoint",
	ProvenanceXDP:           "xdp",
	ProvenanceSocketFilter:  "socket_filter",
}

func (p Provenance) String() string {
	if name := provenanceNames[p]; name != "" {
		return name
	}
	return fmt.Sprintf("Provenance(%d)", uint32(p))
}

// Data is a single record as written by a hook program.
//
// Pid holds the thread group id, not the thread id. Comm, Message and
// Path are NUL terminated unless they occupy their field entirely.
type Data struct {
	Pid        uint32
	UID        uint32
	Provenance Provenance
	Comm       [16]byte
	Message    [12]byte
	Path       [16]byte
}

// CommString returns Comm up to the first NUL.
func (d *Data) CommString() string {
	return internal.CString(d.Comm[:])
}

// MessageString returns Message up to the first NUL.
func (d *Data) MessageString() string {
	return internal.CString(d.Message[:])
}

// PathString returns Path up to the first NUL.
func (d *Data) PathString() string {
	return internal.CString(d.Path[:])
}

func (d *Data) String() string {
	return fmt.Sprintf("%s pid=%d uid=%d comm=%q msg=%q path=%q",
		d.Provenance, d.Pid, d.UID, d.CommString(), d.MessageString(), d.PathString())
}

// MarshalBinary encodes the record into its wire layout.
func (d *Data) MarshalBinary() ([]byte, error) {
	buf := make([]byte, DataSize)
	internal.NativeEndian.PutUint32(buf[0:4], d.Pid)
	internal.NativeEndian.PutUint32(buf[4:8], d.UID)
	internal.NativeEndian.PutUint32(buf[8:12], uint32(d.Provenance))
	copy(buf[12:28], d.Comm[:])
	copy(buf[28:40], d.Message[:])
	copy(buf[40:56], d.Path[:])
	return buf, nil
}

// UnmarshalBinary decodes a record from its wire layout. The input
// must be exactly DataSize bytes.
func (d *Data) UnmarshalBinary(buf []byte) error {
	if len(buf) != DataSize {
		return fmt.Errorf("record is %d bytes, expected %d", len(buf), DataSize)
	}

	d.Pid = internal.NativeEndian.Uint32(buf[0:4])
	d.UID = internal.NativeEndian.Uint32(buf[4:8])
	d.Provenance = Provenance(internal.NativeEndian.Uint32(buf[8:12]))
	copy(d.Comm[:], buf[12:28])
	copy(d.Message[:], buf[28:40])
	copy(d.Path[:], buf[40:56])
	return nil
}
