package main

import (
	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/asm"
	"github.com/hookwire/hookwire/event"
)

// traceExecInsns is a process start hook. It fills a record on the
// stack, swaps in a per-uid greeting from the config map when one is
// set, and publishes the record.
func traceExecInsns() asm.Instructions {
	return asm.Instructions{
		asm.Mov.Reg(asm.R6, asm.R1),

		asm.FnGetCurrentPidTgid.Call(),
		asm.RSh.Imm(asm.R0, 32),
		asm.StoreMem(asm.RFP, -56, asm.R0, asm.Word),

		asm.FnGetCurrentUidGid.Call(),
		asm.Mov.Reg(asm.R7, asm.R0),
		asm.StoreMem(asm.RFP, -52, asm.R0, asm.Word),

		asm.StoreImm(asm.RFP, -48, int64(event.ProvenanceKprobe), asm.Word),

		asm.Mov.Reg(asm.R1, asm.RFP),
		asm.Add.Imm(asm.R1, -44),
		asm.Mov.Imm(asm.R2, 16),
		asm.FnGetCurrentComm.Call(),

		asm.Mov.Reg(asm.R1, asm.R7),
		asm.LSh.Imm(asm.R1, 32),
		asm.RSh.Imm(asm.R1, 32),
		asm.StoreMem(asm.RFP, -60, asm.R1, asm.Word),
		asm.LoadMapPtr(asm.R1, "config"),
		asm.Mov.Reg(asm.R2, asm.RFP),
		asm.Add.Imm(asm.R2, -60),
		asm.FnMapLookupElem.Call(),
		asm.JEq.Imm(asm.R0, 0, "default"),

		asm.LoadMem(asm.R1, asm.R0, 0, asm.Word),
		asm.StoreMem(asm.RFP, -28, asm.R1, asm.Word),
		asm.LoadMem(asm.R1, asm.R0, 4, asm.Word),
		asm.StoreMem(asm.RFP, -24, asm.R1, asm.Word),
		asm.LoadMem(asm.R1, asm.R0, 8, asm.Word),
		asm.StoreMem(asm.RFP, -20, asm.R1, asm.Word),
		asm.Ja.Label("emit"),

		// "Hello World"
		asm.StoreImm(asm.RFP, -28, 0x6c6c6548, asm.Word).WithSymbol("default"),
		asm.StoreImm(asm.RFP, -24, 0x6f57206f, asm.Word),
		asm.StoreImm(asm.RFP, -20, 0x00646c72, asm.Word),

		asm.StoreImm(asm.RFP, -16, 0, asm.DWord).WithSymbol("emit"),
		asm.StoreImm(asm.RFP, -8, 0, asm.DWord),

		asm.Mov.Reg(asm.R1, asm.R6),
		asm.LoadMapPtr(asm.R2, "events"),
		asm.LoadImm(asm.R3, int64(hookwire.FCurrentLane), asm.DWord),
		asm.Mov.Reg(asm.R4, asm.RFP),
		asm.Add.Imm(asm.R4, -56),
		asm.Mov.Imm(asm.R5, event.DataSize),
		asm.FnPerfEventOutput.Call(),

		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}
}

// dropTCPInsns drops IPv4 TCP packets and passes everything else.
// The protocol byte sits at offset 23 of an Ethernet framed IPv4
// packet without options.
func dropTCPInsns() asm.Instructions {
	return asm.Instructions{
		asm.LoadMem(asm.R2, asm.R1, 0, asm.DWord),
		asm.LoadMem(asm.R3, asm.R1, 8, asm.DWord),
		asm.Mov.Reg(asm.R4, asm.R2),
		asm.Add.Imm(asm.R4, 24),
		asm.JGT.Reg(asm.R4, asm.R3, "pass"),

		asm.LoadMem(asm.R5, asm.R2, 23, asm.Byte),
		asm.JNE.Imm(asm.R5, 6, "pass"),

		asm.Mov.Imm(asm.R0, int32(hookwire.XDPDrop)),
		asm.Return(),

		asm.Mov.Imm(asm.R0, int32(hookwire.XDPPass)).WithSymbol("pass"),
		asm.Return(),
	}
}

func demoCollection() *hookwire.CollectionSpec {
	return &hookwire.CollectionSpec{
		Maps: map[string]*hookwire.MapSpec{
			"config": {
				Name:       "config",
				Type:       hookwire.Hash,
				KeySize:    4,
				ValueSize:  12,
				MaxEntries: 64,
			},
			"events": {
				Name:       "events",
				Type:       hookwire.PerfEventArray,
				MaxEntries: 4,
			},
		},
		Programs: map[string]*hookwire.ProgramSpec{
			"trace_exec": {
				Name:         "trace_exec",
				Type:         hookwire.Kprobe,
				AttachTo:     "sys_execve",
				License:      "GPL",
				Instructions: traceExecInsns(),
			},
			"drop_tcp": {
				Name:         "drop_tcp",
				Type:         hookwire.XDP,
				AttachTo:     "1",
				License:      "Dual MIT/GPL",
				Instructions: dropTCPInsns(),
			},
		},
	}
}
