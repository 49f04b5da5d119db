package vm

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/asm"
	"github.com/hookwire/hookwire/internal"
)

// xaddMu serialises atomic adds across all machines, since map value
// cells are shared between concurrently running programs.
var xaddMu sync.Mutex

const (
	efault = 14
	einval = 22
)

// errno encodes a positive errno as the negative return value helpers
// use to signal failure.
func errno(n int64) uint64 {
	return uint64(-n)
}

// firstCell returns the storage cell direct value loads resolve to: the
// cell at the all zeroes key.
func firstCell(mp *hookwire.Map) ([]byte, error) {
	key := make([]byte, mp.KeySize())
	cell := mp.LookupPointer(key)
	if cell == nil {
		return nil, fmt.Errorf("map %q: no value at the zero key", mp.Name())
	}
	return cell, nil
}

func (m *machine) mapArg(reg asm.Register) (*hookwire.Map, error) {
	return hookwire.MapByHandle(int(int32(m.regs[reg])))
}

// call executes a single helper. Results are returned in R0, an error
// aborts the program.
func (m *machine) call(fn asm.BuiltinFunc) error {
	r1, r2, r3, r4, r5 := m.regs[asm.R1], m.regs[asm.R2], m.regs[asm.R3], m.regs[asm.R4], m.regs[asm.R5]

	switch fn {
	case asm.FnMapLookupElem:
		mp, err := m.mapArg(asm.R1)
		if err != nil {
			return err
		}
		key, err := m.mem(r2, int(mp.KeySize()), false)
		if err != nil {
			return err
		}
		cell := mp.LookupPointer(key)
		if cell == nil {
			m.regs[asm.R0] = 0
		} else {
			m.regs[asm.R0] = m.newRegion(cell, true)
		}

	case asm.FnMapUpdateElem:
		mp, err := m.mapArg(asm.R1)
		if err != nil {
			return err
		}
		key, err := m.mem(r2, int(mp.KeySize()), false)
		if err != nil {
			return err
		}
		value, err := m.mem(r3, int(mp.ValueSize()), false)
		if err != nil {
			return err
		}
		if err := mp.Update(key, value, hookwire.MapUpdateFlags(r4)); err != nil {
			m.regs[asm.R0] = errno(1)
		} else {
			m.regs[asm.R0] = 0
		}

	case asm.FnMapDeleteElem:
		mp, err := m.mapArg(asm.R1)
		if err != nil {
			return err
		}
		key, err := m.mem(r2, int(mp.KeySize()), false)
		if err != nil {
			return err
		}
		if err := mp.Delete(key); err != nil {
			m.regs[asm.R0] = errno(1)
		} else {
			m.regs[asm.R0] = 0
		}

	case asm.FnProbeRead:
		dst, err := m.mem(r1, int(r2), true)
		if err != nil {
			return err
		}
		src, err := m.mem(r3, int(r2), false)
		if err != nil {
			// The source is an arbitrary address the program read
			// from its context, a fault is an expected outcome.
			m.regs[asm.R0] = errno(efault)
			break
		}
		copy(dst, src)
		m.regs[asm.R0] = 0

	case asm.FnProbeReadStr:
		dst, err := m.mem(r1, int(r2), true)
		if err != nil {
			return err
		}
		m.regs[asm.R0] = m.probeReadStr(dst, r3)

	case asm.FnKtimeGetNs:
		m.regs[asm.R0] = m.ktime()

	case asm.FnTracePrintk:
		buf, err := m.mem(r1, int(r2), false)
		if err != nil {
			return err
		}
		msg := internal.CString(buf)
		if m.ctx.Printk != nil {
			m.ctx.Printk(msg)
		}
		m.regs[asm.R0] = uint64(len(msg))

	case asm.FnGetPrandomU32:
		m.regs[asm.R0] = uint64(rand.Uint32())

	case asm.FnGetSmpProcessorId:
		m.regs[asm.R0] = uint64(m.ctx.Lane)

	case asm.FnGetCurrentPidTgid:
		m.regs[asm.R0] = uint64(m.ctx.TGID)<<32 | uint64(m.ctx.PID)

	case asm.FnGetCurrentUidGid:
		m.regs[asm.R0] = uint64(m.ctx.GID)<<32 | uint64(m.ctx.UID)

	case asm.FnGetCurrentComm:
		buf, err := m.mem(r1, int(r2), true)
		if err != nil {
			return err
		}
		if len(buf) == 0 {
			m.regs[asm.R0] = errno(einval)
			break
		}
		for i := range buf {
			buf[i] = 0
		}
		copy(buf[:len(buf)-1], m.ctx.Comm)
		m.regs[asm.R0] = 0

	case asm.FnPerfEventOutput:
		mp, err := m.mapArg(asm.R2)
		if err != nil {
			return err
		}
		data, err := m.mem(r4, int(r5), false)
		if err != nil {
			return err
		}
		lane := int(r3 & hookwire.FLaneMask)
		if r3&hookwire.FLaneMask == hookwire.FCurrentLane {
			lane = m.ctx.Lane
		}
		if err := mp.Output(lane, data); err != nil {
			m.regs[asm.R0] = errno(1)
		} else {
			m.regs[asm.R0] = 0
		}

	default:
		return fmt.Errorf("unsupported helper %v", fn)
	}

	return nil
}

// probeReadStr copies a NUL terminated string from src into dst,
// truncating as needed. dst is always NUL terminated. Returns the
// number of bytes written including the terminator, or a negative
// errno when src faults.
func (m *machine) probeReadStr(dst []byte, src uint64) uint64 {
	for i := 0; i < len(dst); i++ {
		if i == len(dst)-1 {
			dst[i] = 0
			return uint64(i + 1)
		}
		b, err := m.mem(src+uint64(i), 1, false)
		if err != nil {
			return errno(efault)
		}
		dst[i] = b[0]
		if b[0] == 0 {
			return uint64(i + 1)
		}
	}
	return 0
}
