package verifier

import (
	"math"

	"github.com/hookwire/hookwire/asm"
)

func (v *verifier) mapInfo(pc, handle int) (MapInfo, error) {
	info, ok := v.cfg.Maps[handle]
	if !ok {
		return MapInfo{}, v.errorf("instruction %d: program references unknown map handle %d", pc, handle)
	}
	return info, nil
}

func (v *verifier) execLoadStore(st *state, pc int, ins asm.Instruction) error {
	op := ins.OpCode
	size := op.Size().Sizeof()

	switch {
	case ins.IsLoadFromMap():
		return v.execLoadFromMap(st, pc, ins)

	case op.Class() == asm.LdClass && op.Mode() == asm.ImmMode:
		if op.Size() != asm.DWord {
			return v.errorf("instruction %d: invalid immediate load %v", pc, op)
		}
		return v.setReg(st, pc, ins.Dst, constScalar(uint64(ins.Constant)))

	case op.Class() == asm.LdClass && op.Mode() == asm.AbsMode:
		if v.cfg.Context != ContextPacket {
			return v.errorf("instruction %d: absolute packet load outside of a packet program", pc)
		}
		if size != 1 && size != 2 && size != 4 {
			return v.errorf("instruction %d: invalid absolute load size %v", pc, op.Size())
		}

		// The runtime bounds checks the access itself and aborts the
		// program when it falls outside the packet.
		st.markClobbered()
		st.regs[asm.R0] = boundedScalar(0, 1<<(8*size)-1)
		return nil

	case op.Class() == asm.LdXClass && op.Mode() == asm.MemMode:
		ptr, err := v.reg(st, pc, ins.Src)
		if err != nil {
			return err
		}
		val, err := v.loadMem(st, pc, ptr, int64(ins.Offset), size)
		if err != nil {
			return err
		}
		return v.setReg(st, pc, ins.Dst, val)

	case op.Class() == asm.StClass && op.Mode() == asm.MemMode:
		ptr, err := v.reg(st, pc, ins.Dst)
		if err != nil {
			return err
		}
		imm := uint64(ins.Constant)
		if size < 8 {
			imm &= 1<<(8*size) - 1
		}
		return v.storeMem(st, pc, ptr, int64(ins.Offset), size, constScalar(imm))

	case op.Class() == asm.StXClass && op.Mode() == asm.MemMode:
		ptr, err := v.reg(st, pc, ins.Dst)
		if err != nil {
			return err
		}
		val, err := v.reg(st, pc, ins.Src)
		if err != nil {
			return err
		}
		return v.storeMem(st, pc, ptr, int64(ins.Offset), size, val)

	case op.Class() == asm.StXClass && op.Mode() == asm.XAddMode:
		return v.execXAdd(st, pc, ins, size)

	default:
		return v.errorf("instruction %d: unsupported opcode %v", pc, op)
	}
}

func (v *verifier) execLoadFromMap(st *state, pc int, ins asm.Instruction) error {
	handle := ins.MapPtr()
	info, err := v.mapInfo(pc, handle)
	if err != nil {
		return err
	}

	switch ins.Src {
	case asm.PseudoMapFD:
		return v.setReg(st, pc, ins.Dst, value{kind: ptrToMap, handle: handle})

	case asm.PseudoMapValue:
		offset := int32(uint64(ins.Constant) >> 32)
		if info.Rings {
			return v.errorf("instruction %d: map %q has no value storage", pc, info.Name)
		}
		if offset < 0 || uint32(offset) >= info.ValueSize {
			return v.errorf("instruction %d: offset %d outside of map value (%d bytes)", pc, offset, info.ValueSize)
		}
		return v.setReg(st, pc, ins.Dst, value{
			kind:   ptrToMapValue,
			handle: handle,
			umin:   uint64(offset),
			umax:   uint64(offset),
		})

	default:
		return v.errorf("instruction %d: invalid map load", pc)
	}
}

// loadMem checks a read of size bytes through ptr and returns the
// abstract value read.
func (v *verifier) loadMem(st *state, pc int, ptr value, off int64, size int) (value, error) {
	switch ptr.kind {
	case ptrToStack:
		return v.loadStack(st, pc, ptr, off, size)

	case ptrToCtx:
		return v.loadCtx(st, pc, off, size)

	case ptrToMapValue:
		if err := v.checkMapValueAccess(st, pc, ptr, off, size); err != nil {
			return value{}, err
		}
		return unknownScalar(), nil

	case ptrToPacket:
		if err := v.checkPacketAccess(st, pc, ptr, off, size); err != nil {
			return value{}, err
		}
		return boundedScalar(0, maxForSize(size)), nil

	default:
		return value{}, v.errorf("instruction %d: cannot read %d bytes from %s", pc, size, ptr.kind)
	}
}

func (v *verifier) storeMem(st *state, pc int, ptr value, off int64, size int, val value) error {
	switch ptr.kind {
	case ptrToStack:
		return v.storeStack(st, pc, ptr, off, size, val)

	case ptrToCtx:
		return v.errorf("instruction %d: context is read only", pc)

	case ptrToMapValue:
		if val.kind != scalar {
			return v.errorf("instruction %d: only scalars may be stored to map values, not %s", pc, val.kind)
		}
		return v.checkMapValueAccess(st, pc, ptr, off, size)

	case ptrToPacket:
		if val.kind != scalar {
			return v.errorf("instruction %d: only scalars may be stored to the packet, not %s", pc, val.kind)
		}
		return v.checkPacketAccess(st, pc, ptr, off, size)

	default:
		return v.errorf("instruction %d: cannot write %d bytes to %s", pc, size, ptr.kind)
	}
}

func (v *verifier) execXAdd(st *state, pc int, ins asm.Instruction, size int) error {
	ptr, err := v.reg(st, pc, ins.Dst)
	if err != nil {
		return err
	}
	val, err := v.reg(st, pc, ins.Src)
	if err != nil {
		return err
	}

	if size != 4 && size != 8 {
		return v.errorf("instruction %d: atomic add needs word or double word size", pc)
	}
	if val.kind != scalar {
		return v.errorf("instruction %d: atomic add of %s prohibited", pc, val.kind)
	}
	if ptr.kind != ptrToMapValue {
		return v.errorf("instruction %d: atomic add to %s prohibited", pc, ptr.kind)
	}
	return v.checkMapValueAccess(st, pc, ptr, int64(ins.Offset), size)
}

func (v *verifier) checkMapValueAccess(st *state, pc int, ptr value, off int64, size int) error {
	if ptr.maybeNull {
		return v.errorf("instruction %d: map value may be null, check it before use", pc)
	}

	info, err := v.mapInfo(pc, ptr.handle)
	if err != nil {
		return err
	}

	lo := int64(ptr.umin) + off
	hi := int64(ptr.umax) + off
	if lo < 0 || hi+int64(size) > int64(info.ValueSize) {
		return v.errorf("instruction %d: access [%d, %d) outside of map value (%d bytes)", pc, lo, hi+int64(size), info.ValueSize)
	}
	return nil
}

func (v *verifier) checkPacketAccess(st *state, pc int, ptr value, off int64, size int) error {
	lo := int64(ptr.umin) + off
	hi := int64(ptr.umax) + off
	if lo < 0 || uint64(hi)+uint64(size) > st.pktProven {
		return v.errorf("instruction %d: packet access [%d, %d) exceeds proven bound of %d bytes, compare against the packet end first",
			pc, lo, hi+int64(size), st.pktProven)
	}
	return nil
}

func (v *verifier) stackRange(st *state, pc int, ptr value, off int64, size int) (int64, int64, error) {
	lo := int64(ptr.umin) + off
	hi := int64(ptr.umax) + off
	if lo < 0 || hi+int64(size) > stackSize {
		return 0, 0, v.errorf("instruction %d: stack access [fp%+d, fp%+d) out of bounds",
			pc, lo-stackSize, hi+int64(size)-stackSize)
	}
	return lo, hi, nil
}

func (v *verifier) loadStack(st *state, pc int, ptr value, off int64, size int) (value, error) {
	lo, hi, err := v.stackRange(st, pc, ptr, off, size)
	if err != nil {
		return value{}, err
	}

	// An aligned 8 byte load of a spilled register restores it
	// exactly, including pointers.
	if lo == hi && size == 8 && lo%8 == 0 {
		slot := st.stack[lo/8]
		switch slot.kind {
		case slotSpill:
			return slot.spill, nil
		case slotMisc:
			return unknownScalar(), nil
		default:
			return value{}, v.errorf("instruction %d: read from uninitialized stack at fp%+d", pc, lo-stackSize)
		}
	}

	for s := lo / 8; s <= (hi+int64(size)-1)/8; s++ {
		if st.stack[s].kind == slotInvalid {
			return value{}, v.errorf("instruction %d: read from uninitialized stack at fp%+d", pc, s*8-stackSize)
		}
	}
	return boundedScalar(0, maxForSize(size)), nil
}

func (v *verifier) storeStack(st *state, pc int, ptr value, off int64, size int, val value) error {
	lo, hi, err := v.stackRange(st, pc, ptr, off, size)
	if err != nil {
		return err
	}

	if lo == hi && size == 8 && lo%8 == 0 {
		st.stack[lo/8] = stackSlot{kind: slotSpill, spill: val}
		return nil
	}

	if val.kind.isPointer() {
		return v.errorf("instruction %d: partial spill of %s pointer", pc, val.kind)
	}

	for s := lo / 8; s <= (hi+int64(size)-1)/8; s++ {
		st.stack[s] = stackSlot{kind: slotMisc}
	}
	return nil
}

func (v *verifier) loadCtx(st *state, pc int, off int64, size int) (value, error) {
	if v.cfg.Context == ContextPacket {
		if size != 8 {
			return value{}, v.errorf("instruction %d: context fields must be read as double words", pc)
		}
		switch off {
		case CtxPacketData:
			return value{kind: ptrToPacket}, nil
		case CtxPacketDataEnd:
			return value{kind: ptrToPacketEnd}, nil
		}
		return value{}, v.errorf("instruction %d: invalid context offset %d", pc, off)
	}

	if size != 8 || off%8 != 0 || off < 0 || off+8 > CtxProbeArgBytes {
		return value{}, v.errorf("instruction %d: invalid context access at offset %d size %d", pc, off, size)
	}
	return unknownScalar(), nil
}

func maxForSize(size int) uint64 {
	if size >= 8 {
		return math.MaxUint64
	}
	return 1<<(8*size) - 1
}
