package hookwire

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/hookwire/hookwire/asm"
	"github.com/hookwire/hookwire/internal"
	"github.com/hookwire/hookwire/verifier"
)

// ProgramSpec describes a program before it is loaded.
type ProgramSpec struct {
	Name         string
	Type         ProgramType
	Instructions asm.Instructions

	// AttachTo names the observation point the program is meant for.
	// It is not interpreted at load time.
	AttachTo string

	// License of the program. Some helpers are only available to
	// programs under a GPL compatible license.
	License string
}

// Copy returns a copy of the spec, including its instructions.
func (ps *ProgramSpec) Copy() *ProgramSpec {
	if ps == nil {
		return nil
	}

	cpy := *ps
	cpy.Instructions = make(asm.Instructions, len(ps.Instructions))
	copy(cpy.Instructions, ps.Instructions)
	return &cpy
}

// Program is a verified program, ready to be attached. All map
// references in its instructions have been resolved to handles.
type Program struct {
	name  string
	typ   ProgramType
	insns asm.Instructions
}

// NewProgram verifies a spec and returns a runnable program.
//
// Map references must have been resolved with RewriteMapPtr before
// loading, which NewCollection does automatically. Returns an error
// wrapping the verifier's trace if the program is rejected.
func NewProgram(spec *ProgramSpec) (*Program, error) {
	if len(spec.Instructions) == 0 {
		return nil, fmt.Errorf("program %q: instructions cannot be empty", spec.Name)
	}
	if spec.License == "" {
		return nil, fmt.Errorf("program %q: license cannot be empty", spec.Name)
	}

	cfg, err := verifierConfig(spec)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", spec.Name, err)
	}

	if err := verifier.Verify(spec.Instructions, cfg); err != nil {
		var verr *verifier.Error
		if errors.As(err, &verr) {
			return nil, internal.ErrorWithLog(err, []byte(strings.Join(verr.Log, "\n")), verr.Truncated)
		}
		return nil, err
	}

	insns := make(asm.Instructions, len(spec.Instructions))
	copy(insns, spec.Instructions)

	return &Program{
		name:  spec.Name,
		typ:   spec.Type,
		insns: insns,
	}, nil
}

func (p *Program) String() string {
	if p.name != "" {
		return fmt.Sprintf("%s(%s)", p.typ, p.name)
	}
	return p.typ.String()
}

// Name returns the name the program was loaded with.
func (p *Program) Name() string { return p.name }

// Type returns the type of the program.
func (p *Program) Type() ProgramType { return p.typ }

// Instructions returns a copy of the program's resolved instructions.
func (p *Program) Instructions() asm.Instructions {
	insns := make(asm.Instructions, len(p.insns))
	copy(insns, p.insns)
	return insns
}

// gplCompatible is the set of license strings that unlock the
// restricted helpers.
var gplCompatible = map[string]bool{
	"GPL":                       true,
	"GPL v2":                    true,
	"GPL and additional rights": true,
	"Dual BSD/GPL":              true,
	"Dual MIT/GPL":              true,
	"Dual MPL/GPL":              true,
}

// verifierConfig derives the verification parameters from the program
// type and the maps the instructions reference.
func verifierConfig(spec *ProgramSpec) (*verifier.Config, error) {
	maps := make(map[int]verifier.MapInfo)
	for i, ins := range spec.Instructions {
		if !ins.IsLoadFromMap() {
			continue
		}

		handle := ins.MapPtr()
		m, err := MapByHandle(handle)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: unresolved map reference %q: %w", i, ins.Reference, err)
		}
		maps[handle] = verifier.MapInfo{
			Name:       m.Name(),
			KeySize:    m.KeySize(),
			ValueSize:  m.ValueSize(),
			MaxEntries: m.MaxEntries(),
			Rings:      m.Type().hasRings(),
		}
	}

	cfg := &verifier.Config{Maps: maps}

	switch spec.Type {
	case Kprobe, TracePoint, RawTracePoint:
		cfg.Context = verifier.ContextProbe
		// Probe return values are ignored, but requiring zero keeps
		// programs honest about what they computed.
		cfg.Returns = verifier.Range{Min: 0, Max: 0}
		cfg.Helpers = probeHelpers

	case XDP:
		cfg.Context = verifier.ContextPacket
		cfg.Returns = verifier.Range{Min: uint64(XDPAborted), Max: uint64(XDPRedirect)}
		cfg.Helpers = packetHelpers

	case SocketFilter:
		cfg.Context = verifier.ContextPacket
		// The return value is the number of packet bytes to keep.
		cfg.Returns = verifier.Range{Min: 0, Max: math.MaxUint32}
		cfg.Helpers = packetHelpers

	default:
		return nil, fmt.Errorf("unsupported program type %s", spec.Type)
	}

	if !gplCompatible[spec.License] {
		cfg.Helpers = withoutGPLOnly(cfg.Helpers)
	}

	return cfg, nil
}

var probeHelpers = []asm.BuiltinFunc{
	asm.FnMapLookupElem,
	asm.FnMapUpdateElem,
	asm.FnMapDeleteElem,
	asm.FnProbeRead,
	asm.FnKtimeGetNs,
	asm.FnTracePrintk,
	asm.FnGetPrandomU32,
	asm.FnGetSmpProcessorId,
	asm.FnGetCurrentPidTgid,
	asm.FnGetCurrentUidGid,
	asm.FnGetCurrentComm,
	asm.FnPerfEventOutput,
	asm.FnProbeReadStr,
}

var packetHelpers = []asm.BuiltinFunc{
	asm.FnMapLookupElem,
	asm.FnMapUpdateElem,
	asm.FnMapDeleteElem,
	asm.FnKtimeGetNs,
	asm.FnTracePrintk,
	asm.FnGetPrandomU32,
	asm.FnGetSmpProcessorId,
	asm.FnPerfEventOutput,
}

var gplOnlyHelpers = map[asm.BuiltinFunc]bool{
	asm.FnTracePrintk:  true,
	asm.FnProbeRead:    true,
	asm.FnProbeReadStr: true,
	asm.FnKtimeGetNs:   true,
}

func withoutGPLOnly(fns []asm.BuiltinFunc) []asm.BuiltinFunc {
	out := make([]asm.BuiltinFunc, 0, len(fns))
	for _, fn := range fns {
		if !gplOnlyHelpers[fn] {
			out = append(out, fn)
		}
	}
	return out
}
