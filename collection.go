package hookwire

import (
	"github.com/pkg/errors"
)

// CollectionSpec describes a set of maps and programs that belong
// together. Programs reference maps by the name given in MapSpec.
type CollectionSpec struct {
	Maps     map[string]*MapSpec
	Programs map[string]*ProgramSpec
}

// Copy returns a recursive copy of the spec.
func (cs *CollectionSpec) Copy() *CollectionSpec {
	if cs == nil {
		return nil
	}

	cpy := CollectionSpec{
		Maps:     make(map[string]*MapSpec, len(cs.Maps)),
		Programs: make(map[string]*ProgramSpec, len(cs.Programs)),
	}
	for name, spec := range cs.Maps {
		cpy.Maps[name] = spec.Copy()
	}
	for name, spec := range cs.Programs {
		cpy.Programs[name] = spec.Copy()
	}
	return &cpy
}

// Collection is a set of live Maps and verified Programs associated
// with their names.
type Collection struct {
	programs map[string]*Program
	maps     map[string]*Map
}

// NewCollection creates all maps of a spec, resolves every map
// reference in the programs to the fresh handles and verifies the
// programs.
func NewCollection(spec *CollectionSpec) (*Collection, error) {
	maps := make(map[string]*Map)
	for name, mapSpec := range spec.Maps {
		m, err := NewMap(mapSpec)
		if err != nil {
			closeMaps(maps)
			return nil, errors.Wrapf(err, "map %s", name)
		}
		maps[name] = m
	}

	progs := make(map[string]*Program)
	for name, progSpec := range spec.Programs {
		progSpec = progSpec.Copy()

		// Rewrite any reference which names a map of the collection.
		for ref, offsets := range progSpec.Instructions.ReferenceOffsets() {
			m, ok := maps[ref]
			if !ok {
				continue
			}

			for _, offset := range offsets {
				ins := &progSpec.Instructions[offset]
				if !ins.IsLoadFromMap() {
					continue
				}
				if err := ins.RewriteMapPtr(m.Handle()); err != nil {
					closeMaps(maps)
					return nil, errors.Wrapf(err, "program %s: map %s", name, ref)
				}
			}
		}

		prog, err := NewProgram(progSpec)
		if err != nil {
			closeMaps(maps)
			return nil, errors.Wrapf(err, "program %s", name)
		}
		progs[name] = prog
	}

	return &Collection{
		progs,
		maps,
	}, nil
}

func closeMaps(maps map[string]*Map) {
	for _, m := range maps {
		m.Close()
	}
}

// Close frees all maps of the collection.
func (coll *Collection) Close() {
	closeMaps(coll.maps)
}

// ForEachMap iterates over all the Maps in the collection.
func (coll *Collection) ForEachMap(fx func(string, *Map)) {
	for name, m := range coll.maps {
		fx(name, m)
	}
}

// ForEachProgram iterates over all the Programs in the collection.
func (coll *Collection) ForEachProgram(fx func(string, *Program)) {
	for name, p := range coll.programs {
		fx(name, p)
	}
}

// GetMapByName returns the map with the given name in the collection.
func (coll *Collection) GetMapByName(name string) (*Map, bool) {
	m, ok := coll.maps[name]
	return m, ok
}

// GetProgramByName returns the program with the given name in the
// collection.
func (coll *Collection) GetProgramByName(name string) (*Program, bool) {
	p, ok := coll.programs[name]
	return p, ok
}
