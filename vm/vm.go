package vm

import (
	"fmt"
	"time"

	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/asm"
	"github.com/hookwire/hookwire/internal"
	"github.com/hookwire/hookwire/verifier"
)

// Pointer layout: region tag in the top 16 bits, offset in the rest.
const (
	tagShift = 48
	offMask  = 1<<tagShift - 1
)

const (
	tagScalar uint64 = iota
	tagStack
	tagCtx
	tagPacket
)

const (
	// tagBlobBase is the first tag used for blobs added to a Context.
	tagBlobBase uint64 = 8
	// tagDynBase is the first tag for regions allocated during a run,
	// like map value cells.
	tagDynBase uint64 = 1 << 12
)

// Context carries the ambient facts a program can observe through its
// helpers and, for probe programs, its context words.
type Context struct {
	// Lane the program notionally executes on. Reported by the
	// processor id helper and used as the default event output lane.
	Lane int

	PID  uint32
	TGID uint32
	UID  uint32
	GID  uint32

	// Comm is the reported process name, truncated to what the comm
	// helper's buffer allows.
	Comm string

	// Ktime is the reported monotonic clock. Zero means use the real
	// one.
	Ktime uint64

	// Args are the probe context words, readable by probe programs as
	// 8 byte loads. Use AddBlob to make one of them a readable
	// pointer.
	Args [8]uint64

	// Packet is the packet handed to XDP and socket filter programs.
	Packet []byte

	// Printk receives trace messages if set.
	Printk func(msg string)

	blobs [][]byte
}

// AddBlob registers b as program readable memory and returns a tagged
// pointer to its start, suitable for storing in Args.
func (c *Context) AddBlob(b []byte) uint64 {
	c.blobs = append(c.blobs, b)
	return (tagBlobBase + uint64(len(c.blobs)-1)) << tagShift
}

type machine struct {
	insns asm.Instructions
	ctx   *Context

	regs  [11]uint64
	stack [hookwire.StackSize]byte

	// regions maps a pointer tag to its backing bytes.
	regions  map[uint64][]byte
	writable map[uint64]bool
	dynNext  uint64

	rawToIndex map[int]int
	rawPos     []int
	symbols    map[string]int
}

// Run executes a verified program against ctx and returns R0.
//
// Execution can still fail, for instance when no reader is attached to
// an event map, but never because of an out of bounds access: those
// were ruled out when the program was loaded.
func Run(prog *hookwire.Program, ctx *Context) (uint64, error) {
	if ctx == nil {
		ctx = &Context{}
	}

	m := &machine{
		insns:    prog.Instructions(),
		ctx:      ctx,
		regions:  make(map[uint64][]byte),
		writable: make(map[uint64]bool),
		dynNext:  tagDynBase,
	}

	m.regions[tagStack] = m.stack[:]
	m.writable[tagStack] = true

	switch prog.Type() {
	case hookwire.XDP, hookwire.SocketFilter:
		ctxBytes := make([]byte, 16)
		internal.NativeEndian.PutUint64(ctxBytes[verifier.CtxPacketData:], tagPacket<<tagShift)
		internal.NativeEndian.PutUint64(ctxBytes[verifier.CtxPacketDataEnd:], tagPacket<<tagShift|uint64(len(ctx.Packet)))
		m.regions[tagCtx] = ctxBytes
		m.regions[tagPacket] = ctx.Packet
		m.writable[tagPacket] = true

	default:
		ctxBytes := make([]byte, verifier.CtxProbeArgBytes)
		for i, arg := range ctx.Args {
			internal.NativeEndian.PutUint64(ctxBytes[8*i:], arg)
		}
		m.regions[tagCtx] = ctxBytes
	}

	for i, blob := range ctx.blobs {
		m.regions[tagBlobBase+uint64(i)] = blob
	}

	if err := m.index(); err != nil {
		return 0, err
	}

	m.regs[asm.R1] = tagCtx << tagShift
	m.regs[asm.R10] = tagStack<<tagShift | hookwire.StackSize

	return m.run()
}

func (m *machine) index() error {
	m.rawPos = make([]int, len(m.insns))
	m.rawToIndex = make(map[int]int, len(m.insns))
	raw := 0
	for i, ins := range m.insns {
		m.rawPos[i] = raw
		m.rawToIndex[raw] = i
		if ins.OpCode.IsDWordLoad() {
			raw += 2
		} else {
			raw++
		}
	}

	symbols, err := m.insns.SymbolOffsets()
	if err != nil {
		return err
	}
	m.symbols = symbols
	return nil
}

func (m *machine) jumpTarget(i int, ins asm.Instruction) (int, error) {
	if ins.Offset == -1 && ins.Reference != "" {
		target, ok := m.symbols[ins.Reference]
		if !ok {
			return 0, fmt.Errorf("instruction %d: jump to missing symbol %q", i, ins.Reference)
		}
		return target, nil
	}

	width := 1
	if ins.OpCode.IsDWordLoad() {
		width = 2
	}
	target, ok := m.rawToIndex[m.rawPos[i]+width+int(ins.Offset)]
	if !ok {
		return 0, fmt.Errorf("instruction %d: jump out of range", i)
	}
	return target, nil
}

// mem resolves a tagged pointer to size bytes of backing storage.
func (m *machine) mem(addr uint64, size int, write bool) ([]byte, error) {
	tag := addr >> tagShift
	off := addr & offMask

	region, ok := m.regions[tag]
	if !ok || tag == tagScalar {
		return nil, fmt.Errorf("invalid memory access at %#x", addr)
	}
	if off+uint64(size) > uint64(len(region)) {
		return nil, fmt.Errorf("access [%d, %d) out of bounds of region %d (%d bytes)", off, off+uint64(size), tag, len(region))
	}
	if write && !m.writable[tag] {
		return nil, fmt.Errorf("write to read only region %d", tag)
	}
	return region[off : off+uint64(size)], nil
}

// newRegion registers bytes allocated during the run, like a map value
// cell, and returns a tagged pointer to it.
func (m *machine) newRegion(b []byte, writable bool) uint64 {
	tag := m.dynNext
	m.dynNext++
	m.regions[tag] = b
	m.writable[tag] = writable
	return tag << tagShift
}

func (m *machine) run() (uint64, error) {
	pc := 0
	for {
		if pc < 0 || pc >= len(m.insns) {
			return 0, fmt.Errorf("instruction pointer %d out of range", pc)
		}

		ins := m.insns[pc]
		cls := ins.OpCode.Class()

		switch {
		case cls.IsALU():
			if err := m.execALU(ins); err != nil {
				return 0, fmt.Errorf("instruction %d: %w", pc, err)
			}
			pc++

		case cls.IsLoad() || cls.IsStore():
			done, err := m.execLoadStore(ins)
			if err != nil {
				return 0, fmt.Errorf("instruction %d: %w", pc, err)
			}
			if done {
				// An absolute packet load ran off the end of the
				// packet, which terminates the program.
				return 0, nil
			}
			pc++

		case cls.IsJump():
			switch op := ins.OpCode.JumpOp(); op {
			case asm.Exit:
				return m.regs[asm.R0], nil

			case asm.Call:
				if err := m.call(asm.BuiltinFunc(ins.Constant)); err != nil {
					return 0, fmt.Errorf("instruction %d: %w", pc, err)
				}
				pc++

			case asm.Ja:
				target, err := m.jumpTarget(pc, ins)
				if err != nil {
					return 0, err
				}
				pc = target

			default:
				var src uint64
				if ins.OpCode.Source() == asm.ImmSource {
					src = uint64(ins.Constant)
				} else {
					src = m.regs[ins.Src]
				}

				if jumpTaken(op, m.regs[ins.Dst], src, cls == asm.Jump32Class) {
					target, err := m.jumpTarget(pc, ins)
					if err != nil {
						return 0, err
					}
					pc = target
				} else {
					pc++
				}
			}

		default:
			return 0, fmt.Errorf("instruction %d: unsupported opcode %v", pc, ins.OpCode)
		}
	}
}

func (m *machine) execALU(ins asm.Instruction) error {
	op := ins.OpCode.ALUOp()
	is64 := ins.OpCode.Class() == asm.ALU64Class

	var src uint64
	if op == asm.Swap || ins.OpCode.Source() == asm.ImmSource {
		src = uint64(ins.Constant)
		if !is64 {
			src = uint64(uint32(ins.Constant))
		}
	} else {
		src = m.regs[ins.Src]
	}

	dst := m.regs[ins.Dst]
	var res uint64

	switch op {
	case asm.Add:
		res = dst + src
	case asm.Sub:
		res = dst - src
	case asm.Mul:
		res = dst * src
	case asm.Div:
		// A zero divisor yields zero, the verifier only rules out
		// constant zeroes.
		if divisor := truncSrc(src, is64); divisor != 0 {
			res = trunc(dst, is64) / divisor
		}
	case asm.Mod:
		if divisor := truncSrc(src, is64); divisor != 0 {
			res = trunc(dst, is64) % divisor
		} else {
			res = dst
		}
	case asm.Or:
		res = dst | src
	case asm.And:
		res = dst & src
	case asm.LSh:
		res = dst << (src & shiftMask(is64))
	case asm.RSh:
		res = trunc(dst, is64) >> (src & shiftMask(is64))
	case asm.ArSh:
		if is64 {
			res = uint64(int64(dst) >> (src & 63))
		} else {
			res = uint64(uint32(int32(uint32(dst)) >> (src & 31)))
		}
	case asm.Neg:
		res = uint64(-int64(dst))
	case asm.Mov:
		res = src
	case asm.Swap:
		res = swapBytes(dst, ins.Constant)
	default:
		return fmt.Errorf("unsupported ALU op %v", op)
	}

	if !is64 {
		res = uint64(uint32(res))
	}
	m.regs[ins.Dst] = res
	return nil
}

func trunc(v uint64, is64 bool) uint64 {
	if is64 {
		return v
	}
	return uint64(uint32(v))
}

func truncSrc(v uint64, is64 bool) uint64 {
	return trunc(v, is64)
}

func shiftMask(is64 bool) uint64 {
	if is64 {
		return 63
	}
	return 31
}

// swapBytes implements the endianness conversion op. width is 16, 32
// or 64.
func swapBytes(v uint64, width int64) uint64 {
	n := int(width / 8)
	var out uint64
	for i := 0; i < n; i++ {
		out = out<<8 | (v>>(8*i))&0xff
	}
	return out
}

// execLoadStore returns done=true when an absolute packet load fell
// outside the packet, which aborts the program.
func (m *machine) execLoadStore(ins asm.Instruction) (bool, error) {
	op := ins.OpCode
	size := op.Size().Sizeof()

	switch {
	case ins.IsLoadFromMap() && ins.Src == asm.PseudoMapFD:
		m.regs[ins.Dst] = uint64(ins.MapPtr())
		return false, nil

	case ins.IsLoadFromMap() && ins.Src == asm.PseudoMapValue:
		mp, err := hookwire.MapByHandle(ins.MapPtr())
		if err != nil {
			return false, err
		}
		cell, err := firstCell(mp)
		if err != nil {
			return false, err
		}
		offset := uint64(ins.Constant) >> 32
		m.regs[ins.Dst] = m.newRegion(cell, true) | offset
		return false, nil

	case op.Class() == asm.LdClass && op.Mode() == asm.ImmMode:
		m.regs[ins.Dst] = uint64(ins.Constant)
		return false, nil

	case op.Class() == asm.LdClass && op.Mode() == asm.AbsMode:
		// Classic absolute loads read in network byte order and
		// terminate the program when out of bounds.
		off := int(int32(ins.Constant))
		if off < 0 || off+size > len(m.ctx.Packet) {
			m.regs[asm.R0] = 0
			return true, nil
		}
		m.regs[asm.R0] = beLoad(m.ctx.Packet[off:], size)
		return false, nil

	case op.Class() == asm.LdXClass && op.Mode() == asm.MemMode:
		buf, err := m.mem(m.regs[ins.Src]+uint64(int64(ins.Offset)), size, false)
		if err != nil {
			return false, err
		}
		m.regs[ins.Dst] = leLoad(buf, size)
		return false, nil

	case op.Class() == asm.StClass && op.Mode() == asm.MemMode:
		buf, err := m.mem(m.regs[ins.Dst]+uint64(int64(ins.Offset)), size, true)
		if err != nil {
			return false, err
		}
		leStore(buf, uint64(ins.Constant), size)
		return false, nil

	case op.Class() == asm.StXClass && op.Mode() == asm.MemMode:
		buf, err := m.mem(m.regs[ins.Dst]+uint64(int64(ins.Offset)), size, true)
		if err != nil {
			return false, err
		}
		leStore(buf, m.regs[ins.Src], size)
		return false, nil

	case op.Class() == asm.StXClass && op.Mode() == asm.XAddMode:
		buf, err := m.mem(m.regs[ins.Dst]+uint64(int64(ins.Offset)), size, true)
		if err != nil {
			return false, err
		}
		xaddMu.Lock()
		leStore(buf, leLoad(buf, size)+m.regs[ins.Src], size)
		xaddMu.Unlock()
		return false, nil

	default:
		return false, fmt.Errorf("unsupported opcode %v", op)
	}
}

func leLoad(buf []byte, size int) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(internal.NativeEndian.Uint16(buf))
	case 4:
		return uint64(internal.NativeEndian.Uint32(buf))
	default:
		return internal.NativeEndian.Uint64(buf)
	}
}

func leStore(buf []byte, v uint64, size int) {
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		internal.NativeEndian.PutUint16(buf, uint16(v))
	case 4:
		internal.NativeEndian.PutUint32(buf, uint32(v))
	default:
		internal.NativeEndian.PutUint64(buf, v)
	}
}

func beLoad(buf []byte, size int) uint64 {
	var out uint64
	for i := 0; i < size; i++ {
		out = out<<8 | uint64(buf[i])
	}
	return out
}

func jumpTaken(op asm.JumpOp, a, b uint64, is32 bool) bool {
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

func (m *machine) ktime() uint64 {
	if m.ctx.Ktime != 0 {
		return m.ctx.Ktime
	}
	return uint64(time.Now().UnixNano())
}
