package hookwire

import (
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"github.com/hookwire/hookwire/asm"
)

func counterSpec() *CollectionSpec {
	return &CollectionSpec{
		Maps: map[string]*MapSpec{
			"counts": {
				Name:       "counts",
				Type:       Array,
				KeySize:    4,
				ValueSize:  8,
				MaxEntries: 1,
			},
		},
		Programs: map[string]*ProgramSpec{
			"count": {
				Name: "count",
				Type: Kprobe,
				Instructions: asm.Instructions{
					asm.StoreImm(asm.R10, -4, 0, asm.Word),
					asm.Mov.Reg(asm.R2, asm.R10),
					asm.Add.Imm(asm.R2, -4),
					asm.LoadMapPtr(asm.R1, "counts"),
					asm.FnMapLookupElem.Call(),
					asm.JEq.Imm(asm.R0, 0, "out"),
					asm.Mov.Imm(asm.R1, 1),
					asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
					asm.Mov.Imm(asm.R0, 0).WithSymbol("out"),
					asm.Return(),
				},
				License: "GPL",
			},
		},
	}
}

func TestNewCollection(t *testing.T) {
	coll, err := NewCollection(counterSpec())
	qt.Assert(t, qt.IsNil(err))
	defer coll.Close()

	counts, ok := coll.GetMapByName("counts")
	qt.Assert(t, qt.IsTrue(ok))

	prog, ok := coll.GetProgramByName("count")
	qt.Assert(t, qt.IsTrue(ok))

	// The map reference was resolved to the fresh handle.
	insns := prog.Instructions()
	qt.Assert(t, qt.IsTrue(insns[3].IsLoadFromMap()))
	qt.Assert(t, qt.Equals(insns[3].MapPtr(), counts.Handle()))

	var maps, progs int
	coll.ForEachMap(func(string, *Map) { maps++ })
	coll.ForEachProgram(func(string, *Program) { progs++ })
	qt.Assert(t, qt.Equals(maps, 1))
	qt.Assert(t, qt.Equals(progs, 1))
}

func TestNewCollectionLeavesSpecIntact(t *testing.T) {
	spec := counterSpec()
	orig := spec.Programs["count"].Copy()

	coll, err := NewCollection(spec)
	qt.Assert(t, qt.IsNil(err))
	defer coll.Close()

	// The rewrite happens on a copy.
	if diff := cmp.Diff(orig.Instructions, spec.Programs["count"].Instructions); diff != "" {
		t.Errorf("instructions changed (-want +got):\n%s", diff)
	}
}

func TestNewCollectionMissingMap(t *testing.T) {
	spec := counterSpec()
	delete(spec.Maps, "counts")

	_, err := NewCollection(spec)
	qt.Assert(t, qt.ErrorMatches(err, ".*unresolved map reference.*"))
}

func TestNewCollectionRejectedProgram(t *testing.T) {
	spec := counterSpec()
	// Drop the null check.
	spec.Programs["count"].Instructions = asm.Instructions{
		asm.StoreImm(asm.R10, -4, 0, asm.Word),
		asm.Mov.Reg(asm.R2, asm.R10),
		asm.Add.Imm(asm.R2, -4),
		asm.LoadMapPtr(asm.R1, "counts"),
		asm.FnMapLookupElem.Call(),
		asm.Mov.Imm(asm.R1, 1),
		asm.StoreXAdd(asm.R0, asm.R1, asm.DWord),
		asm.Mov.Imm(asm.R0, 0),
		asm.Return(),
	}

	_, err := NewCollection(spec)
	qt.Assert(t, qt.IsNotNil(err))
	qt.Assert(t, qt.StringContains(err.Error(), "program count"))
}

func TestCollectionClose(t *testing.T) {
	coll, err := NewCollection(counterSpec())
	qt.Assert(t, qt.IsNil(err))

	counts, ok := coll.GetMapByName("counts")
	qt.Assert(t, qt.IsTrue(ok))

	coll.Close()
	qt.Assert(t, qt.ErrorIs(counts.Put(key32(0), make([]byte, 8)), ErrClosed))
}

func TestCollectionSpecCopy(t *testing.T) {
	spec := counterSpec()
	cpy := spec.Copy()

	cpy.Maps["counts"].MaxEntries = 99
	qt.Assert(t, qt.Equals(spec.Maps["counts"].MaxEntries, uint32(1)))

	var nilSpec *CollectionSpec
	qt.Assert(t, qt.IsNil(nilSpec.Copy()))
}
