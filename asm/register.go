package asm

import "fmt"

// Register of the virtual machine.
type Register uint8

// All registers accessible to a hook program.
//
// R0 holds return values, R1-R5 are used for arguments to built-in
// calls and are clobbered by them, R6-R9 are callee saved, R10 is the
// read-only frame pointer.
const (
	R0 Register = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
)

// Pseudo registers used during loading.
const (
	// PseudoMapFD, as the source of a 64 bit immediate load, marks the
	// immediate as a capability map handle.
	PseudoMapFD = R1
	// PseudoMapValue marks the immediate as a direct pointer into a
	// map's value storage.
	PseudoMapValue = R2
	// PseudoCall, as the source of a Call, marks the constant as a
	// call into another function of the same program.
	PseudoCall = R1
)

// RFP is the frame pointer. Stack slots live at negative offsets
// from it.
const RFP = R10

func (r Register) String() string {
	if r == RFP {
		return "rfp"
	}
	return fmt.Sprintf("r%d", uint8(r))
}
