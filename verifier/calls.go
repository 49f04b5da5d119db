package verifier

import (
	"math"

	"github.com/hookwire/hookwire/asm"
)

func (v *verifier) execCall(st *state, pc int, ins asm.Instruction) error {
	fn := asm.BuiltinFunc(ins.Constant)

	sig, ok := helperSigs[fn]
	if !ok {
		return v.errorf("instruction %d: call to unknown function %v", pc, fn)
	}
	if v.helpers != nil && !v.helpers[fn] {
		return v.errorf("instruction %d: helper %v not permitted for this program type", pc, fn)
	}

	var (
		callMap    MapInfo
		mapHandle  int
		haveMap    bool
		pendingMem value
		pendingWr  bool
		havePend   bool
	)

	for i, kind := range sig.args {
		r := asm.R1 + asm.Register(i)
		val, err := v.reg(st, pc, r)
		if err != nil {
			return err
		}

		switch kind {
		case argDontCare:

		case argScalar:
			if val.kind != scalar {
				return v.errorf("instruction %d: %v: %s must be a scalar, got %s", pc, fn, r, val.kind)
			}

		case argConstSize:
			if val.kind != scalar {
				return v.errorf("instruction %d: %v: %s must be a size, got %s", pc, fn, r, val.kind)
			}
			if val.umin == 0 || val.umax == math.MaxUint64 {
				return v.errorf("instruction %d: %v: size in %s must be bounded and positive", pc, fn, r)
			}
			if !havePend {
				return v.errorf("instruction %d: %v: size without a memory argument", pc, fn)
			}
			if err := v.checkHelperMem(st, pc, pendingMem, int(val.umax), pendingWr); err != nil {
				return err
			}
			havePend = false

		case argPtrToMap, argPtrToRingMap:
			if val.kind != ptrToMap {
				return v.errorf("instruction %d: %v: %s must be a map, got %s", pc, fn, r, val.kind)
			}
			info, err := v.mapInfo(pc, val.handle)
			if err != nil {
				return err
			}
			if info.Rings != (kind == argPtrToRingMap) {
				return v.errorf("instruction %d: %v: map %q has the wrong type", pc, fn, info.Name)
			}
			callMap, mapHandle, haveMap = info, val.handle, true

		case argPtrToMapKey, argPtrToMapValue:
			if !haveMap {
				return v.errorf("instruction %d: %v: key or value argument without a map", pc, fn)
			}
			size := int(callMap.KeySize)
			if kind == argPtrToMapValue {
				size = int(callMap.ValueSize)
			}
			if err := v.checkHelperMem(st, pc, val, size, false); err != nil {
				return err
			}

		case argPtrToMem, argPtrToWritableMem:
			pendingMem, pendingWr, havePend = val, kind == argPtrToWritableMem, true

		case argCtx:
			if val.kind != ptrToCtx {
				return v.errorf("instruction %d: %v: %s must be the context, got %s", pc, fn, r, val.kind)
			}
		}
	}

	if havePend {
		return v.errorf("instruction %d: %v: memory argument without a size", pc, fn)
	}

	st.markClobbered()

	switch sig.ret {
	case retScalar:
		st.regs[asm.R0] = unknownScalar()
	case retScalar32:
		st.regs[asm.R0] = boundedScalar(0, math.MaxUint32)
	case retMapValueOrNull:
		st.regs[asm.R0] = value{
			kind:      ptrToMapValue,
			handle:    mapHandle,
			maybeNull: true,
		}
	}
	return nil
}

// checkHelperMem validates a block of memory passed to a helper.
func (v *verifier) checkHelperMem(st *state, pc int, ptr value, size int, write bool) error {
	switch ptr.kind {
	case ptrToStack:
		if !write {
			_, err := v.loadStack(st, pc, ptr, 0, size)
			return err
		}

		lo, hi, err := v.stackRange(st, pc, ptr, 0, size)
		if err != nil {
			return err
		}
		for s := lo / 8; s <= (hi+int64(size)-1)/8; s++ {
			st.stack[s] = stackSlot{kind: slotMisc}
		}
		return nil

	case ptrToMapValue:
		return v.checkMapValueAccess(st, pc, ptr, 0, size)

	case ptrToPacket:
		if write {
			return v.errorf("instruction %d: helpers may not write to the packet", pc)
		}
		return v.checkPacketAccess(st, pc, ptr, 0, size)

	default:
		return v.errorf("instruction %d: cannot pass %s to a helper expecting memory", pc, ptr.kind)
	}
}
