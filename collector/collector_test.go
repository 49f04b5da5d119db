package collector_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/asm"
	"github.com/hookwire/hookwire/collector"
	"github.com/hookwire/hookwire/event"
	"github.com/hookwire/hookwire/link"
	"github.com/hookwire/hookwire/vm"
)

// execInsns builds a process start hook: it fills an event record on
// the stack, overrides the greeting from the config map when the uid
// has an entry, and publishes the record.
func execInsns() asm.Instructions {
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

		// Look up the uid in the config map.
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

func execCollection() *hookwire.CollectionSpec {
	return &hookwire.CollectionSpec{
		Maps: map[string]*hookwire.MapSpec{
			"config": {
				Name:       "config",
				Type:       hookwire.Hash,
				KeySize:    4,
				ValueSize:  12,
				MaxEntries: 8,
			},
			"events": {
				Name:       "events",
				Type:       hookwire.PerfEventArray,
				MaxEntries: 2,
			},
		},
		Programs: map[string]*hookwire.ProgramSpec{
			"trace_exec": {
				Name:         "trace_exec",
				Type:         hookwire.Kprobe,
				AttachTo:     "sys_execve",
				License:      "GPL",
				Instructions: execInsns(),
			},
		},
	}
}

func newExecRegistry() *link.Registry {
	registry := link.NewRegistry()
	registry.AddSymbol("sys_execve")
	return registry
}

func uidKey(uid uint32) []byte {
	key := make([]byte, 4)
	binary.LittleEndian.PutUint32(key, uid)
	return key
}

func TestCollectorEndToEnd(t *testing.T) {
	registry := newExecRegistry()

	records := make(chan event.Data, 8)
	c, err := collector.New(collector.Config{
		Collection: execCollection(),
		Attachments: []collector.Attachment{
			{Program: "trace_exec"},
		},
		Registry:     registry,
		PollTimeout:  10 * time.Millisecond,
		HandleRecord: func(d event.Data) { records <- d },
	})
	require.NoError(t, err)
	defer c.Close()

	config, ok := c.Map("config")
	require.True(t, ok)
	msg := make([]byte, 12)
	copy(msg, "custom-msg")
	require.NoError(t, config.Put(uidKey(501), msg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	err = registry.FireSymbol("sys_execve", &vm.Context{
		PID:  41,
		TGID: 42,
		UID:  501,
		Comm: "bash",
	})
	require.NoError(t, err)

	err = registry.FireSymbol("sys_execve", &vm.Context{
		PID:  43,
		TGID: 43,
		UID:  1000,
		Comm: "cat",
	})
	require.NoError(t, err)

	var got [2]event.Data
	for i := range got {
		select {
		case got[i] = <-records:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for a record")
		}
	}

	assert.Equal(t, uint32(42), got[0].Pid)
	assert.Equal(t, uint32(501), got[0].UID)
	assert.Equal(t, event.ProvenanceKprobe, got[0].Provenance)
	assert.Equal(t, "bash", got[0].CommString())
	assert.Equal(t, "custom-msg", got[0].MessageString())

	assert.Equal(t, uint32(43), got[1].Pid)
	assert.Equal(t, uint32(1000), got[1].UID)
	assert.Equal(t, "cat", got[1].CommString())
	assert.Equal(t, "Hello World", got[1].MessageString())

	cancel()
	require.NoError(t, <-done)
}

func TestCollectorStatus(t *testing.T) {
	spec := execCollection()

	// A second program that fails verification: it exits without
	// setting a return value.
	spec.Programs["broken"] = &hookwire.ProgramSpec{
		Name:     "broken",
		Type:     hookwire.Kprobe,
		AttachTo: "sys_execve",
		License:  "GPL",
		Instructions: asm.Instructions{
			asm.Return(),
		},
	}

	c, err := collector.New(collector.Config{
		Collection: spec,
		Attachments: []collector.Attachment{
			{Program: "trace_exec"},
			{Program: "broken"},
		},
		Registry: newExecRegistry(),
	})
	require.NoError(t, err)
	defer c.Close()

	statuses := c.Status()
	require.Len(t, statuses, 2)

	assert.Equal(t, "broken", statuses[0].Program)
	assert.Equal(t, collector.StateErr, statuses[0].State)
	assert.Error(t, statuses[0].Err)

	assert.Equal(t, "trace_exec", statuses[1].Program)
	assert.Equal(t, collector.StateAttached, statuses[1].State)
	assert.NoError(t, statuses[1].Err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	assert.Eventually(t, func() bool {
		for _, st := range c.Status() {
			if st.Program == "trace_exec" {
				return st.State == collector.StateActive
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestCollectorNoEventMap(t *testing.T) {
	spec := execCollection()
	delete(spec.Maps, "events")

	_, err := collector.New(collector.Config{Collection: spec})
	require.ErrorContains(t, err, `no event map "events"`)
}

func TestCollectorAllAttachmentsFail(t *testing.T) {
	_, err := collector.New(collector.Config{
		Collection: execCollection(),
		Attachments: []collector.Attachment{
			{Program: "trace_exec", Target: "no_such_symbol"},
		},
		Registry: newExecRegistry(),
	})
	require.ErrorIs(t, err, link.ErrNoSuchPoint)
	require.ErrorContains(t, err, "trace_exec")
}

func TestCollectorUnknownProgram(t *testing.T) {
	_, err := collector.New(collector.Config{
		Collection: execCollection(),
		Attachments: []collector.Attachment{
			{Program: "nonexistent"},
		},
		Registry: newExecRegistry(),
	})
	require.ErrorContains(t, err, "nonexistent")
}

func TestCollectorLostSamples(t *testing.T) {
	registry := newExecRegistry()

	records := make(chan event.Data, 8)
	lost := make(chan uint64, 8)
	c, err := collector.New(collector.Config{
		Collection: execCollection(),
		Attachments: []collector.Attachment{
			{Program: "trace_exec"},
		},
		Registry:     registry,
		LaneCapacity: 1,
		PollTimeout:  10 * time.Millisecond,
		HandleRecord: func(d event.Data) { records <- d },
		HandleLost:   func(lane int, n uint64) { lost <- n },
	})
	require.NoError(t, err)
	defer c.Close()

	// Fill the single slot lane before draining starts.
	for i := 0; i < 3; i++ {
		require.NoError(t, registry.FireSymbol("sys_execve", &vm.Context{TGID: 1, Comm: "init"}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case n := <-lost:
		assert.Equal(t, uint64(2), n)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the loss report")
	}

	select {
	case rec := <-records:
		assert.Equal(t, uint32(1), rec.Pid)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the surviving record")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestCollectorDropsUndecodableRecords(t *testing.T) {
	registry := newExecRegistry()

	spec := execCollection()
	// Publishes four bytes, which is not a valid record.
	spec.Programs["short"] = &hookwire.ProgramSpec{
		Name:     "short",
		Type:     hookwire.Kprobe,
		AttachTo: "sys_execve",
		License:  "GPL",
		Instructions: asm.Instructions{
			asm.StoreImm(asm.RFP, -8, 0, asm.DWord),
			asm.LoadMapPtr(asm.R2, "events"),
			asm.LoadImm(asm.R3, int64(hookwire.FCurrentLane), asm.DWord),
			asm.Mov.Reg(asm.R4, asm.RFP),
			asm.Add.Imm(asm.R4, -8),
			asm.Mov.Imm(asm.R5, 4),
			asm.FnPerfEventOutput.Call(),
			asm.Mov.Imm(asm.R0, 0),
			asm.Return(),
		},
	}
	delete(spec.Programs, "trace_exec")

	records := make(chan event.Data, 8)
	c, err := collector.New(collector.Config{
		Collection: spec,
		Attachments: []collector.Attachment{
			{Program: "short"},
		},
		Registry:     registry,
		PollTimeout:  10 * time.Millisecond,
		HandleRecord: func(d event.Data) { records <- d },
	})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.NoError(t, registry.FireSymbol("sys_execve", &vm.Context{TGID: 7}))

	select {
	case <-records:
		t.Fatal("undecodable record reached the handler")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)
}
