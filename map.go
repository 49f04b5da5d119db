package hookwire

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hookwire/hookwire/internal"
)

// MapSpec describes a capability map before it is created.
type MapSpec struct {
	// Name is passed to programs that reference the map by symbol.
	Name       string
	Type       MapType
	KeySize    uint32
	ValueSize  uint32
	MaxEntries uint32
}

// Copy returns a copy of the spec.
func (ms *MapSpec) Copy() *MapSpec {
	if ms == nil {
		return nil
	}

	cpy := *ms
	return &cpy
}

func (ms *MapSpec) String() string {
	return fmt.Sprintf("%s(keySize=%d, valueSize=%d, maxEntries=%d)", ms.Type, ms.KeySize, ms.ValueSize, ms.MaxEntries)
}

// Map is a capability map shared between programs and the process that
// created it. A map is referenced by a process-wide handle, which is
// what programs embed after their map references are resolved.
//
// Methods are safe for concurrent use. Writers are serialized, readers
// never block: every write publishes a fresh index, so a reader either
// sees the old entry or the new one but never a torn mix.
type Map struct {
	name       string
	typ        MapType
	keySize    uint32
	valueSize  uint32
	maxEntries uint32
	handle     int

	mu    sync.Mutex
	index atomic.Pointer[map[string][]byte]

	// PerfEventArray only. rings is nil until a Reader attaches and
	// while the reader is paused. readerAttached stays set for the
	// whole lifetime of the reader, including pauses, so only one
	// reader can ever own the map at a time.
	rings          atomic.Pointer[[]*ring]
	readerAttached atomic.Bool
	notify         chan struct{}
}

// NewMap creates a new Map from a spec.
func NewMap(spec *MapSpec) (*Map, error) {
	switch {
	case spec.MaxEntries == 0:
		return nil, fmt.Errorf("map %q: max entries may not be zero", spec.Name)

	case spec.Type == Hash && (spec.KeySize == 0 || spec.ValueSize == 0):
		return nil, fmt.Errorf("map %q: hash keys and values may not be zero sized", spec.Name)

	case spec.Type == Array && spec.KeySize != 4:
		return nil, fmt.Errorf("map %q: array keys must be 4 bytes", spec.Name)

	case spec.Type == Array && spec.ValueSize == 0:
		return nil, fmt.Errorf("map %q: array values may not be zero sized", spec.Name)

	case spec.Type == PerfEventArray:
		// Key and value sizes are ignored, each slot is a lane ring.

	case spec.Type != Hash && spec.Type != Array:
		return nil, fmt.Errorf("map %q: unsupported map type %s", spec.Name, spec.Type)
	}

	m := &Map{
		name:       spec.Name,
		typ:        spec.Type,
		keySize:    spec.KeySize,
		valueSize:  spec.ValueSize,
		maxEntries: spec.MaxEntries,
		notify:     make(chan struct{}, 1),
	}

	index := make(map[string][]byte)
	if spec.Type == Array {
		// Every index exists from the start.
		for i := uint32(0); i < spec.MaxEntries; i++ {
			var key [4]byte
			internal.NativeEndian.PutUint32(key[:], i)
			index[string(key[:])] = make([]byte, spec.ValueSize)
		}
	}
	m.index.Store(&index)

	m.handle = registerMap(m)
	return m, nil
}

func (m *Map) String() string {
	if m.name != "" {
		return fmt.Sprintf("%s(%s)#%d", m.typ, m.name, m.handle)
	}
	return fmt.Sprintf("%s#%d", m.typ, m.handle)
}

// Name returns the name the map was created with.
func (m *Map) Name() string { return m.name }

// Type returns the type of the map.
func (m *Map) Type() MapType { return m.typ }

// KeySize returns the size of the map key in bytes.
func (m *Map) KeySize() uint32 { return m.keySize }

// ValueSize returns the size of the map value in bytes.
func (m *Map) ValueSize() uint32 { return m.valueSize }

// MaxEntries returns the capacity of the map. For PerfEventArray this
// is the number of lanes.
func (m *Map) MaxEntries() uint32 { return m.maxEntries }

// Handle returns the process-wide handle of the map.
func (m *Map) Handle() int { return m.handle }

func (m *Map) checkSizes(key, value []byte, wantValue bool) error {
	if uint32(len(key)) != m.keySize {
		return fmt.Errorf("key is %d bytes, expected %d: %w", len(key), m.keySize, ErrSizeMismatch)
	}
	if wantValue && uint32(len(value)) != m.valueSize {
		return fmt.Errorf("value is %d bytes, expected %d: %w", len(value), m.valueSize, ErrSizeMismatch)
	}
	return nil
}

// Lookup copies the value for key into valueOut, which must be exactly
// ValueSize bytes.
func (m *Map) Lookup(key, valueOut []byte) error {
	if err := m.checkSizes(key, valueOut, true); err != nil {
		return err
	}

	cell := m.LookupPointer(key)
	if cell == nil {
		return fmt.Errorf("key %v: %w", key, ErrKeyNotExist)
	}

	copy(valueOut, cell)
	return nil
}

// LookupBytes returns a copy of the value for key, or ErrKeyNotExist.
func (m *Map) LookupBytes(key []byte) ([]byte, error) {
	valueOut := make([]byte, m.valueSize)
	if err := m.Lookup(key, valueOut); err != nil {
		return nil, err
	}
	return valueOut, nil
}

// LookupPointer returns the storage cell for key, or nil if the key is
// absent.
//
// The returned slice aliases the map's storage: writes through it are
// observed by concurrent lookups of the same key. This is how running
// programs mutate map values. Most callers want Lookup instead.
func (m *Map) LookupPointer(key []byte) []byte {
	index := m.index.Load()
	if index == nil {
		return nil
	}
	return (*index)[string(key)]
}

// Put sets the value for key, creating it as needed. Equivalent to
// Update with UpdateAny.
func (m *Map) Put(key, value []byte) error {
	return m.Update(key, value, UpdateAny)
}

// Update sets the value for key according to flags.
func (m *Map) Update(key, value []byte, flags MapUpdateFlags) error {
	if m.typ.hasRings() {
		return fmt.Errorf("update on %s: %w", m.typ, ErrNotSupported)
	}
	if err := m.checkSizes(key, value, true); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.index.Load()
	if old == nil {
		return ErrClosed
	}

	_, exists := (*old)[string(key)]
	switch {
	case flags == UpdateNoExist && exists:
		return fmt.Errorf("key %v: %w", key, ErrKeyExist)

	case flags == UpdateExist && !exists:
		return fmt.Errorf("key %v: %w", key, ErrKeyNotExist)

	case m.typ == Array && !exists:
		return fmt.Errorf("index %d out of range: %w", internal.NativeEndian.Uint32(key), ErrKeyNotExist)

	case !exists && uint32(len(*old)) >= m.maxEntries:
		return fmt.Errorf("map %q: %w", m.name, ErrMapFull)
	}

	cell := make([]byte, len(value))
	copy(cell, value)

	next := make(map[string][]byte, len(*old)+1)
	for k, v := range *old {
		next[k] = v
	}
	next[string(key)] = cell
	m.index.Store(&next)
	return nil
}

// Delete removes the value for key. Array maps don't support deletion.
func (m *Map) Delete(key []byte) error {
	if m.typ != Hash {
		return fmt.Errorf("delete on %s: %w", m.typ, ErrNotSupported)
	}
	if err := m.checkSizes(key, nil, false); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.index.Load()
	if old == nil {
		return ErrClosed
	}

	if _, exists := (*old)[string(key)]; !exists {
		return fmt.Errorf("key %v: %w", key, ErrKeyNotExist)
	}

	next := make(map[string][]byte, len(*old))
	for k, v := range *old {
		if k == string(key) {
			continue
		}
		next[k] = v
	}
	m.index.Store(&next)
	return nil
}

// NextKey returns the key after the given one. Passing nil returns the
// first key. Returns ErrKeyNotExist after the last key.
//
// Keys are ordered by their raw bytes. Concurrent writes may cause
// keys to be skipped or repeated across calls.
func (m *Map) NextKey(key []byte) ([]byte, error) {
	if m.typ.hasRings() {
		return nil, fmt.Errorf("iteration on %s: %w", m.typ, ErrNotSupported)
	}

	index := m.index.Load()
	if index == nil {
		return nil, ErrClosed
	}

	keys := make([]string, 0, len(*index))
	for k := range *index {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if key == nil || k > string(key) {
			return []byte(k), nil
		}
	}
	return nil, ErrKeyNotExist
}

// Output appends a sample to the given lane's event ring. If the ring
// is full the sample is dropped and accounted as lost.
//
// Returns an error if no Reader is attached to the map.
func (m *Map) Output(lane int, sample []byte) error {
	if !m.typ.hasRings() {
		return fmt.Errorf("output on %s: %w", m.typ, ErrNotSupported)
	}

	rings := m.rings.Load()
	if rings == nil {
		return fmt.Errorf("lane %d: no reader attached", lane)
	}
	if lane < 0 || lane >= len(*rings) {
		return fmt.Errorf("lane %d out of range [0, %d)", lane, len(*rings))
	}

	(*rings)[lane].add(sample)

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close releases the map's handle. Programs already holding a
// reference keep working until they are closed themselves.
func (m *Map) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.index.Load() == nil {
		return nil
	}

	m.index.Store(nil)
	m.rings.Store(nil)
	unregisterMap(m.handle)
	return nil
}

var (
	handlesMu  sync.Mutex
	nextHandle = 1
	handles    = make(map[int]*Map)
)

func registerMap(m *Map) int {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	handle := nextHandle
	nextHandle++
	handles[handle] = m
	return handle
}

func unregisterMap(handle int) {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	delete(handles, handle)
}

// MapByHandle returns the live map registered under handle. This is
// how the interpreter resolves map references embedded in programs.
func MapByHandle(handle int) (*Map, error) {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	m, ok := handles[handle]
	if !ok {
		return nil, fmt.Errorf("no map with handle %d: %w", handle, ErrClosed)
	}
	return m, nil
}
