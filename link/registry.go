package link

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/vm"
)

// ErrNoSuchPoint is returned when attaching to an observation point
// that was never registered.
var ErrNoSuchPoint = errors.New("no such observation point")

// Kind classifies an observation point.
type Kind uint8

const (
	invalidKind Kind = iota
	// KindSymbol is a kernel symbol, targeted by Kprobe.
	KindSymbol
	// KindSyscall is a syscall entry, targeted by Ksyscall.
	KindSyscall
	// KindTracepoint is a static tracepoint with a group and a name.
	KindTracepoint
	// KindRawTracepoint is a tracepoint without a stable argument
	// format.
	KindRawTracepoint
	// KindXDP is a network device, targeted by AttachXDP.
	KindXDP
	// KindSocketFilter is a network device carrying a socket filter.
	KindSocketFilter
)

var kindNames = map[Kind]string{
	KindSymbol:        "symbol",
	KindSyscall:       "syscall",
	KindTracepoint:    "tracepoint",
	KindRawTracepoint: "raw_tracepoint",
	KindXDP:           "xdp",
	KindSocketFilter:  "socket_filter",
}

func (k Kind) String() string {
	if name := kindNames[k]; name != "" {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

type pointKey struct {
	kind Kind
	name string
}

// point is a single observation point with the programs attached to
// it, in attach order.
type point struct {
	mu       sync.Mutex
	nextID   uint64
	attached []*attachment
}

type attachment struct {
	id   uint64
	prog *hookwire.Program
}

// Registry is the table of observation points programs can attach to.
// It plays the role the kernel's symbol and tracepoint tables play for
// the real machinery.
type Registry struct {
	mu     sync.Mutex
	points map[pointKey]*point
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{points: make(map[pointKey]*point)}
}

// DefaultRegistry is used by the package level attach functions. It
// comes seeded with the points the examples use; callers can register
// more.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()

	for _, sym := range []string{"sys_execve", "do_execveat_common", "do_sys_openat2"} {
		r.AddSymbol(sym)
	}
	for _, sc := range []string{"execve", "openat"} {
		r.AddSyscall(sc)
	}
	r.AddTracepoint("syscalls", "sys_enter_execve")
	r.AddTracepoint("syscalls", "sys_enter_openat")
	r.AddRawTracepoint("sys_enter")

	// Loopback and the first ethernet device.
	r.AddDevice(1)
	r.AddDevice(2)

	return r
}()

func (r *Registry) add(kind Kind, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pointKey{kind, name}
	if _, ok := r.points[key]; !ok {
		r.points[key] = &point{}
	}
}

// AddSymbol registers a kernel symbol as a kprobe target.
func (r *Registry) AddSymbol(symbol string) { r.add(KindSymbol, symbol) }

// AddSyscall registers a syscall entry point.
func (r *Registry) AddSyscall(name string) { r.add(KindSyscall, name) }

// AddTracepoint registers a static tracepoint.
func (r *Registry) AddTracepoint(group, name string) {
	r.add(KindTracepoint, group+"/"+name)
}

// AddRawTracepoint registers a raw tracepoint.
func (r *Registry) AddRawTracepoint(name string) { r.add(KindRawTracepoint, name) }

// AddDevice registers a network device for XDP and socket filter
// programs.
func (r *Registry) AddDevice(ifindex int) {
	name := strconv.Itoa(ifindex)
	r.add(KindXDP, name)
	r.add(KindSocketFilter, name)
}

func (r *Registry) lookup(kind Kind, name string) (*point, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pt, ok := r.points[pointKey{kind, name}]
	if !ok {
		return nil, fmt.Errorf("%s %q: %w", kind, name, ErrNoSuchPoint)
	}
	return pt, nil
}

// attach validates the program against the point and hooks it up.
// exclusive points accept at most one program at a time.
func (r *Registry) attach(kind Kind, name string, prog *hookwire.Program, want hookwire.ProgramType, exclusive bool) (Link, error) {
	if prog == nil {
		return nil, fmt.Errorf("%s %q: cannot attach a nil program", kind, name)
	}
	if prog.Type() != want {
		return nil, fmt.Errorf("%s %q: expected %s program, got %s", kind, name, want, prog.Type())
	}

	pt, err := r.lookup(kind, name)
	if err != nil {
		return nil, err
	}

	pt.mu.Lock()
	defer pt.mu.Unlock()

	if exclusive && len(pt.attached) > 0 {
		return nil, fmt.Errorf("%s %q: already has a program attached", kind, name)
	}

	pt.nextID++
	at := &attachment{id: pt.nextID, prog: prog}
	pt.attached = append(pt.attached, at)

	return &attachedProgram{point: pt, id: at.id}, nil
}

func (pt *point) detach(id uint64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	for i, at := range pt.attached {
		if at.id == id {
			pt.attached = append(pt.attached[:i], pt.attached[i+1:]...)
			return
		}
	}
}

func (pt *point) programs() []*hookwire.Program {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	progs := make([]*hookwire.Program, len(pt.attached))
	for i, at := range pt.attached {
		progs[i] = at.prog
	}
	return progs
}

// fire runs every attached program in attach order. The first failing
// program aborts the fan out.
func (r *Registry) fire(kind Kind, name string, ctx *vm.Context) (uint64, error) {
	pt, err := r.lookup(kind, name)
	if err != nil {
		return 0, err
	}

	var ret uint64
	for _, prog := range pt.programs() {
		ret, err = vm.Run(prog, ctx)
		if err != nil {
			return 0, fmt.Errorf("%s %q: program %s: %w", kind, name, prog, err)
		}
	}
	return ret, nil
}

// FireSymbol triggers all kprobes attached to symbol.
func (r *Registry) FireSymbol(symbol string, ctx *vm.Context) error {
	_, err := r.fire(KindSymbol, symbol, ctx)
	return err
}

// FireSyscall triggers all syscall probes attached to name.
func (r *Registry) FireSyscall(name string, ctx *vm.Context) error {
	_, err := r.fire(KindSyscall, name, ctx)
	return err
}

// FireTracepoint triggers all programs attached to group/name.
func (r *Registry) FireTracepoint(group, name string, ctx *vm.Context) error {
	_, err := r.fire(KindTracepoint, group+"/"+name, ctx)
	return err
}

// FireRawTracepoint triggers all programs attached to the raw
// tracepoint.
func (r *Registry) FireRawTracepoint(name string, ctx *vm.Context) error {
	_, err := r.fire(KindRawTracepoint, name, ctx)
	return err
}

// FireXDP passes a packet through the XDP program on the device and
// returns its verdict. Without a program the packet passes.
func (r *Registry) FireXDP(ifindex int, ctx *vm.Context) (uint32, error) {
	pt, err := r.lookup(KindXDP, strconv.Itoa(ifindex))
	if err != nil {
		return 0, err
	}

	progs := pt.programs()
	if len(progs) == 0 {
		return hookwire.XDPPass, nil
	}

	ret, err := vm.Run(progs[0], ctx)
	if err != nil {
		return 0, err
	}
	return uint32(ret), nil
}

// FireSocketFilter passes a packet through the filter on the device
// and returns the number of bytes to keep. Without a filter the whole
// packet is kept.
func (r *Registry) FireSocketFilter(ifindex int, ctx *vm.Context) (uint32, error) {
	pt, err := r.lookup(KindSocketFilter, strconv.Itoa(ifindex))
	if err != nil {
		return 0, err
	}

	progs := pt.programs()
	if len(progs) == 0 {
		return uint32(len(ctx.Packet)), nil
	}

	ret, err := vm.Run(progs[0], ctx)
	if err != nil {
		return 0, err
	}
	return uint32(ret), nil
}
