package verifier_test

import (
	"errors"
	"testing"

	"github.com/go-quicktest/qt"

	"github.com/hookwire/hookwire/asm"
	"github.com/hookwire/hookwire/verifier"
)

var allHelpers = []asm.BuiltinFunc{
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

func probeConfig(maps map[int]verifier.MapInfo) *verifier.Config {
	return &verifier.Config{
		Context: verifier.ContextProbe,
		Returns: verifier.Range{Min: 0, Max: 0},
		Helpers: allHelpers,
		Maps:    maps,
	}
}

func packetConfig() *verifier.Config {
	return &verifier.Config{
		Context: verifier.ContextPacket,
		Returns: verifier.Range{Min: 0, Max: 4},
		Helpers: []asm.BuiltinFunc{asm.FnMapLookupElem, asm.FnGetPrandomU32},
	}
}

// loadScratchMap emits a reference to the single test map, which lives
// at handle 1.
func loadScratchMap(dst asm.Register) asm.Instruction {
	ins := asm.LoadMapPtr(dst, "scratch")
	if err := ins.RewriteMapPtr(1); err != nil {
		panic(err)
	}
	return ins
}

func scratchMaps(valueSize uint32) map[int]verifier.MapInfo {
	return map[int]verifier.MapInfo{
		1: {Name: "scratch", KeySize: 4, ValueSize: valueSize, MaxEntries: 1},
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name  string
		insns asm.Instructions
		cfg   *verifier.Config
		// Empty means the program verifies.
		wantErr string
	}{
		{
			name: "trivial",
			insns: asm.Instructions{
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg: probeConfig(nil),
		},
		{
			name: "spill and restore context pointer",
			insns: asm.Instructions{
				asm.StoreMem(asm.R10, -8, asm.R1, asm.DWord),
				asm.LoadMem(asm.R2, asm.R10, -8, asm.DWord),
				asm.LoadMem(asm.R3, asm.R2, 0, asm.DWord),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg: probeConfig(nil),
		},
		{
			name: "null checked map value",
			insns: asm.Instructions{
				asm.StoreImm(asm.R10, -4, 0, asm.Word),
				asm.Mov.Reg(asm.R2, asm.R10),
				asm.Add.Imm(asm.R2, -4),
				loadScratchMap(asm.R1),
				asm.FnMapLookupElem.Call(),
				asm.JEq.Imm(asm.R0, 0, "out"),
				asm.Mov.Imm(asm.R1, 1),
				asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
				asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
				asm.Return(),
			},
			cfg: probeConfig(scratchMaps(8)),
		},
		{
			name: "bounds checked packet access",
			insns: asm.Instructions{
				asm.LoadMem(asm.R2, asm.R1, 0, asm.DWord),
				asm.LoadMem(asm.R3, asm.R1, 8, asm.DWord),
				asm.Mov.Reg(asm.R4, asm.R2),
				asm.Add.Imm(asm.R4, 1),
				asm.JGT.Reg(asm.R4, asm.R3, "out"),
				asm.LoadMem(asm.R5, asm.R2, 0, asm.Byte),
				asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
				asm.Return(),
			},
			cfg: packetConfig(),
		},
		{
			name:    "empty program",
			insns:   asm.Instructions{},
			cfg:     probeConfig(nil),
			wantErr: "program is empty",
		},
		{
			name: "missing exit",
			insns: asm.Instructions{
				asm.Mov.Imm(asm.R0, 0),
			},
			cfg:     probeConfig(nil),
			wantErr: "doesn't end with an exit",
		},
		{
			name: "uninitialized register",
			insns: asm.Instructions{
				asm.Mov.Reg(asm.R0, asm.R2),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "r2 is not initialized",
		},
		{
			name: "uninitialized stack read",
			insns: asm.Instructions{
				asm.LoadMem(asm.R0, asm.R10, -8, asm.DWord),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "read from uninitialized stack at fp-8",
		},
		{
			name: "stack write below the frame",
			insns: asm.Instructions{
				asm.StoreImm(asm.R10, -520, 0, asm.Word),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "out of bounds",
		},
		{
			name: "stack write above the frame",
			insns: asm.Instructions{
				asm.StoreImm(asm.R10, 0, 0, asm.Word),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "out of bounds",
		},
		{
			name: "unchecked map value",
			insns: asm.Instructions{
				asm.StoreImm(asm.R10, -4, 0, asm.Word),
				asm.Mov.Reg(asm.R2, asm.R10),
				asm.Add.Imm(asm.R2, -4),
				loadScratchMap(asm.R1),
				asm.FnMapLookupElem.Call(),
				asm.LoadMem(asm.R0, asm.R0, 0, asm.DWord),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(scratchMaps(8)),
			wantErr: "may be null",
		},
		{
			name: "unchecked packet access",
			insns: asm.Instructions{
				asm.LoadMem(asm.R2, asm.R1, 0, asm.DWord),
				asm.LoadMem(asm.R0, asm.R2, 0, asm.Byte),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     packetConfig(),
			wantErr: "compare against the packet end first",
		},
		{
			name: "returning a pointer",
			insns: asm.Instructions{
				asm.Mov.Reg(asm.R0, asm.R10),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "returning fp pointer",
		},
		{
			name: "return value out of range",
			insns: asm.Instructions{
				asm.Mov.Imm(asm.R0, 7),
				asm.Return(),
			},
			cfg:     packetConfig(),
			wantErr: "outside of permitted range [0, 4]",
		},
		{
			name: "writing the frame pointer",
			insns: asm.Instructions{
				asm.Mov.Imm(asm.R10, 0),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "frame pointer is read only",
		},
		{
			name: "division by constant zero",
			insns: asm.Instructions{
				asm.Mov.Imm(asm.R0, 1),
				asm.Div.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "division by zero",
		},
		{
			name: "helper not permitted",
			insns: asm.Instructions{
				asm.Mov.Reg(asm.R3, asm.R1),
				asm.Mov.Reg(asm.R1, asm.R10),
				asm.Add.Imm(asm.R1, -8),
				asm.StoreImm(asm.R10, -8, 0, asm.DWord),
				asm.Mov.Imm(asm.R2, 8),
				asm.FnProbeRead.Call(),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     packetConfig(),
			wantErr: "not permitted",
		},
		{
			name: "writing the context",
			insns: asm.Instructions{
				asm.StoreImm(asm.R1, 0, 0, asm.DWord),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "context is read only",
		},
		{
			name: "narrow context read",
			insns: asm.Instructions{
				asm.LoadMem(asm.R0, asm.R1, 0, asm.Word),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "invalid context access",
		},
		{
			name: "32 bit move of a pointer",
			insns: asm.Instructions{
				asm.Mov.Reg32(asm.R2, asm.R10),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "truncates",
		},
		{
			name: "comparing unrelated pointers",
			insns: asm.Instructions{
				asm.Mov.Reg(asm.R2, asm.R10),
				asm.JGT.Reg(asm.R2, asm.R1, "out"),
				asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "prohibited",
		},
		{
			name: "storing a pointer to a map value",
			insns: asm.Instructions{
				asm.StoreImm(asm.R10, -4, 0, asm.Word),
				asm.Mov.Reg(asm.R2, asm.R10),
				asm.Add.Imm(asm.R2, -4),
				loadScratchMap(asm.R1),
				asm.FnMapLookupElem.Call(),
				asm.JEq.Imm(asm.R0, 0, "out"),
				asm.StoreMem(asm.R0, 0, asm.R10, asm.DWord),
				asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
				asm.Return(),
			},
			cfg:     probeConfig(scratchMaps(8)),
			wantErr: "only scalars may be stored",
		},
		{
			// The bound proves only an upper limit, the size may
			// still be zero at run time.
			name: "possibly zero helper size",
			insns: asm.Instructions{
				asm.LoadMem(asm.R6, asm.R1, 0, asm.DWord),
				asm.JGT.Imm(asm.R6, 16, "out"),
				asm.Mov.Reg(asm.R1, asm.R10),
				asm.Add.Imm(asm.R1, -16),
				asm.Mov.Reg(asm.R2, asm.R6),
				asm.FnGetCurrentComm.Call(),
				asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
				asm.Return(),
			},
			cfg:     probeConfig(nil),
			wantErr: "must be bounded and positive",
		},
		{
			name: "arithmetic on the packet end",
			insns: asm.Instructions{
				asm.LoadMem(asm.R3, asm.R1, 8, asm.DWord),
				asm.Add.Imm(asm.R3, -14),
				asm.Mov.Imm(asm.R0, 0),
				asm.Return(),
			},
			cfg:     packetConfig(),
			wantErr: "arithmetic on pkt_end",
		},
		{
			name: "packet read beyond the proven bound",
			insns: asm.Instructions{
				asm.LoadMem(asm.R2, asm.R1, 0, asm.DWord),
				asm.LoadMem(asm.R3, asm.R1, 8, asm.DWord),
				asm.Mov.Reg(asm.R4, asm.R2),
				asm.Add.Imm(asm.R4, 2),
				asm.JGT.Reg(asm.R4, asm.R3, "out"),
				asm.LoadMem(asm.R5, asm.R2, 2, asm.Byte),
				asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
				asm.Return(),
			},
			cfg:     packetConfig(),
			wantErr: "exceeds proven bound",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := verifier.Verify(tc.insns, tc.cfg)
			if tc.wantErr == "" {
				qt.Assert(t, qt.IsNil(err))
				return
			}
			qt.Assert(t, qt.IsNotNil(err))
			qt.Assert(t, qt.StringContains(err.Error(), tc.wantErr))
		})
	}
}

// A comparison that keeps the access inside the value is accepted, off
// by one is rejected.
func TestVerifyScalarBounds(t *testing.T) {
	prog := func(limit int32) asm.Instructions {
		return asm.Instructions{
			asm.LoadMem(asm.R6, asm.R1, 0, asm.DWord),
			asm.StoreImm(asm.R10, -4, 0, asm.Word),
			asm.Mov.Reg(asm.R2, asm.R10),
			asm.Add.Imm(asm.R2, -4),
			loadScratchMap(asm.R1),
			asm.FnMapLookupElem.Call(),
			asm.JEq.Imm(asm.R0, 0, "out"),
			asm.JGT.Imm(asm.R6, limit, "out"),
			asm.Add.Reg(asm.R0, asm.R6),
			asm.LoadMem(asm.R7, asm.R0, 0, asm.DWord),
			asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
			asm.Return(),
		}
	}

	cfg := probeConfig(scratchMaps(16))

	qt.Assert(t, qt.IsNil(verifier.Verify(prog(8), cfg)))

	err := verifier.Verify(prog(9), cfg)
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.StringContains(err.Error(), "outside of map value"))
}

func TestVerifyLoops(t *testing.T) {
	t.Run("constant bound", func(t *testing.T) {
		insns := asm.Instructions{
			asm.Mov.Imm(asm.R0, 0),
			asm.Add.Imm(asm.R0, 1).WithSymbol("loop"),
			asm.JLT.Imm(asm.R0, 10, "loop"),
			asm.Mov.Imm(asm.R0, 0),
			asm.Return(),
		}
		qt.Assert(t, qt.IsNil(verifier.Verify(insns, probeConfig(nil))))
	})

	t.Run("trivial self loop", func(t *testing.T) {
		insns := asm.Instructions{
			asm.Ja.Label("self").WithSymbol("self"),
			asm.Return(),
		}
		err := verifier.Verify(insns, probeConfig(nil))
		qt.Assert(t, qt.IsNotNil(err))
		qt.Assert(t, qt.StringContains(err.Error(), "infinite loop"))
	})

	t.Run("unknown bound", func(t *testing.T) {
		insns := asm.Instructions{
			asm.LoadMem(asm.R6, asm.R1, 0, asm.DWord),
			asm.Add.Imm(asm.R6, -1).WithSymbol("loop"),
			asm.JNE.Imm(asm.R6, 0, "loop"),
			asm.Mov.Imm(asm.R0, 0),
			asm.Return(),
		}
		err := verifier.Verify(insns, probeConfig(nil))
		qt.Assert(t, qt.IsNotNil(err))
		qt.Assert(t, qt.StringContains(err.Error(), "infinite loop"))
	})

	t.Run("nested loops exceed the budget", func(t *testing.T) {
		insns := asm.Instructions{
			asm.Mov.Imm(asm.R6, 0),
			asm.Mov.Imm(asm.R7, 0).WithSymbol("outer"),
			asm.Add.Imm(asm.R7, 1).WithSymbol("inner"),
			asm.JLT.Imm(asm.R7, 1000, "inner"),
			asm.Add.Imm(asm.R6, 1),
			asm.JLT.Imm(asm.R6, 1000, "outer"),
			asm.Mov.Imm(asm.R0, 0),
			asm.Return(),
		}
		err := verifier.Verify(insns, probeConfig(nil))
		qt.Assert(t, qt.IsNotNil(err))
		qt.Assert(t, qt.StringContains(err.Error(), "too complex"))
	})
}

func TestVerifyMapTypeMismatch(t *testing.T) {
	maps := map[int]verifier.MapInfo{
		1: {Name: "scratch", KeySize: 4, ValueSize: 8, MaxEntries: 1},
		2: {Name: "events", MaxEntries: 2, Rings: true},
	}

	lookupRing := asm.Instructions{
		asm.StoreImm(asm.R10, -4, 0, asm.Word),
		asm.Mov.Reg(asm.R2, asm.R10),
		asm.Add.Imm(asm.R2, -4),
		asm.LoadMapPtr(asm.R1, "events"),
		asm.FnMapLookupElem.Call(),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
	qt.Assert(t, qt.IsNil(lookupRing[3].RewriteMapPtr(2)))

	err := verifier.Verify(lookupRing, probeConfig(maps))
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.StringContains(err.Error(), "wrong type"))

	outputScratch := asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),
		asm.StoreImm(asm.R10, -8, 0, asm.DWord),
		asm.Mov.Reg(asm.R4, asm.R10),
		asm.Add.Imm(asm.R4, -8),
		asm.Mov.Imm(asm.R5, 8),
		asm.Mov.Reg(asm.R1, asm.R6),
		asm.LoadMapPtr(asm.R2, "scratch"),
		asm.LoadImm(asm.R3, -1, asm.DWord),
		asm.FnPerfEventOutput.Call(),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
	qt.Assert(t, qt.IsNil(outputScratch[6].RewriteMapPtr(1)))

	err = verifier.Verify(outputScratch, probeConfig(maps))
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.StringContains(err.Error(), "wrong type"))
}

func TestVerifyError(t *testing.T) {
	insns := asm.Instructions{
		asm.LoadMem(asm.R0, asm.R10, -8, asm.DWord),
		asm.Return(),
	}

	err := verifier.Verify(insns, probeConfig(nil))
	qt.Assert(t, qt.IsNotNil(err))

	var verr *verifier.Error
	qt.Assert(t, qt.IsTrue(errors.As(err, &verr)))
	qt.Assert(t, qt.Not(qt.HasLen(verr.Log, 0)))
}
