package verifier

import "github.com/hookwire/hookwire/asm"

type argKind uint8

const (
	// argNone terminates the argument list.
	argNone argKind = iota
	// argDontCare accepts any initialized value. Used for source
	// addresses of probe reads, which are range checked at run time.
	argDontCare
	// argScalar requires a plain number.
	argScalar
	// argConstSize requires a scalar with a known upper bound, giving
	// the size of the memory argument preceding it.
	argConstSize
	// argPtrToMap requires a map reference.
	argPtrToMap
	// argPtrToRingMap requires a reference to a map with event rings.
	argPtrToRingMap
	// argPtrToMapKey requires readable memory of the key size of the
	// map passed earlier in the same call.
	argPtrToMapKey
	// argPtrToMapValue is like argPtrToMapKey for the value size.
	argPtrToMapValue
	// argPtrToMem requires readable memory, sized by the following
	// argConstSize.
	argPtrToMem
	// argPtrToWritableMem is like argPtrToMem but the helper writes
	// through it.
	argPtrToWritableMem
	// argCtx requires the program's context pointer.
	argCtx
)

type retKind uint8

const (
	retScalar retKind = iota
	retScalar32
	retMapValueOrNull
)

type helperSig struct {
	args []argKind
	ret  retKind
}

// helperSigs describes the calling convention of every helper the
// runtime implements. Arguments map to R1-R5 in order.
var helperSigs = map[asm.BuiltinFunc]helperSig{
	asm.FnMapLookupElem: {
		args: []argKind{argPtrToMap, argPtrToMapKey},
		ret:  retMapValueOrNull,
	},
	asm.FnMapUpdateElem: {
		args: []argKind{argPtrToMap, argPtrToMapKey, argPtrToMapValue, argScalar},
	},
	asm.FnMapDeleteElem: {
		args: []argKind{argPtrToMap, argPtrToMapKey},
	},
	asm.FnProbeRead: {
		args: []argKind{argPtrToWritableMem, argConstSize, argDontCare},
	},
	asm.FnKtimeGetNs: {},
	// Extra printk arguments in R3-R5 are not part of the checked
	// signature, the runtime ignores the ones that aren't set.
	asm.FnTracePrintk: {
		args: []argKind{argPtrToMem, argConstSize},
	},
	asm.FnGetPrandomU32: {
		ret: retScalar32,
	},
	asm.FnGetSmpProcessorId: {
		ret: retScalar32,
	},
	asm.FnGetCurrentPidTgid: {},
	asm.FnGetCurrentUidGid:  {},
	asm.FnGetCurrentComm: {
		args: []argKind{argPtrToWritableMem, argConstSize},
	},
	asm.FnPerfEventOutput: {
		args: []argKind{argCtx, argPtrToRingMap, argScalar, argPtrToMem, argConstSize},
	},
	asm.FnProbeReadStr: {
		args: []argKind{argPtrToWritableMem, argConstSize, argDontCare},
	},
}
