package hookwire

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// ring is a bounded FIFO of raw samples for a single lane. A full ring
// drops new samples and counts them as lost, the producer never
// blocks.
type ring struct {
	mu       sync.Mutex
	capacity int
	samples  [][]byte
	lost     uint64
}

func newRing(capacity int) *ring {
	return &ring{capacity: capacity}
}

func (r *ring) add(sample []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) >= r.capacity {
		r.lost++
		return
	}

	cpy := make([]byte, len(sample))
	copy(cpy, sample)
	r.samples = append(r.samples, cpy)
}

// next pops the oldest pending item. Accumulated loss is reported
// before any newer samples so the consumer sees the gap where it
// happened.
func (r *ring) next() ([]byte, uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lost > 0 {
		lost := r.lost
		r.lost = 0
		return nil, lost, true
	}

	if len(r.samples) == 0 {
		return nil, 0, false
	}

	sample := r.samples[0]
	r.samples = r.samples[1:]
	return sample, 0, true
}

// Record is what a Reader returns. Either RawSample is set, or
// LostSamples is non-zero to signal a gap in the lane's stream.
type Record struct {
	// Lane the record was produced on.
	Lane int

	// RawSample is the bytes passed to PerfEventOutput.
	RawSample []byte

	// LostSamples is the number of samples dropped on Lane since the
	// previous record read from it.
	LostSamples uint64
}

// Reader consumes records from a PerfEventArray map.
//
// Not safe for concurrent Read calls.
type Reader struct {
	m     *Map
	rings []*ring

	mu       sync.Mutex
	deadline time.Time
	paused   bool

	// cursor makes Read visit lanes round-robin so a busy lane can't
	// starve the others.
	cursor int

	closeOnce sync.Once
	closed    chan struct{}
}

// NewReader attaches to a PerfEventArray map and allocates a ring of
// perLaneCapacity samples for each of its lanes. Only one reader may
// be attached to a map at a time.
func NewReader(m *Map, perLaneCapacity int) (*Reader, error) {
	if !m.Type().hasRings() {
		return nil, fmt.Errorf("reading from %s: %w", m.Type(), ErrNotSupported)
	}
	if perLaneCapacity < 1 {
		return nil, fmt.Errorf("per lane capacity must be at least 1, got %d", perLaneCapacity)
	}

	if !m.readerAttached.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("map %q already has a reader attached", m.Name())
	}

	rings := make([]*ring, m.MaxEntries())
	for i := range rings {
		rings[i] = newRing(perLaneCapacity)
	}
	m.rings.Store(&rings)

	return &Reader{
		m:      m,
		rings:  rings,
		closed: make(chan struct{}),
	}, nil
}

// SetDeadline controls how long Read may block. Passing the zero value
// removes the deadline.
func (pr *Reader) SetDeadline(t time.Time) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.deadline = t
}

// Read returns the next record from any lane. It blocks until a record
// is available, the deadline is reached or the reader is closed.
//
// Returns os.ErrDeadlineExceeded when the deadline set via SetDeadline
// passes, and ErrClosed once the reader has been closed and all
// pending records have been drained.
func (pr *Reader) Read() (Record, error) {
	for {
		if rec, ok := pr.poll(); ok {
			return rec, nil
		}

		pr.mu.Lock()
		deadline := pr.deadline
		pr.mu.Unlock()

		var (
			timer   *time.Timer
			timeout <-chan time.Time
		)
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return Record{}, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(remaining)
			timeout = timer.C
		}

		select {
		case <-pr.closed:
			if timer != nil {
				timer.Stop()
			}
			// Pending records survive Close, drain them first.
			if rec, ok := pr.poll(); ok {
				return rec, nil
			}
			return Record{}, ErrClosed

		case <-pr.m.notify:
			if timer != nil {
				timer.Stop()
			}

		case <-timeout:
			return Record{}, os.ErrDeadlineExceeded
		}
	}
}

func (pr *Reader) poll() (Record, bool) {
	for i := 0; i < len(pr.rings); i++ {
		lane := (pr.cursor + i) % len(pr.rings)

		sample, lost, ok := pr.rings[lane].next()
		if !ok {
			continue
		}

		pr.cursor = lane + 1
		if lost > 0 {
			return Record{Lane: lane, LostSamples: lost}, true
		}
		return Record{Lane: lane, RawSample: sample}, true
	}
	return Record{}, false
}

// Pause detaches the rings from the map. Samples produced while paused
// are discarded without loss accounting. Records buffered before the
// pause can still be read.
func (pr *Reader) Pause() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	select {
	case <-pr.closed:
		return ErrClosed
	default:
	}

	pr.m.rings.Store(nil)
	pr.paused = true
	return nil
}

// Resume reattaches the rings after a Pause.
func (pr *Reader) Resume() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	select {
	case <-pr.closed:
		return ErrClosed
	default:
	}

	if pr.paused {
		pr.m.rings.Store(&pr.rings)
		pr.paused = false
	}
	return nil
}

// Close detaches from the map and interrupts a blocked Read.
func (pr *Reader) Close() error {
	pr.closeOnce.Do(func() {
		pr.m.rings.Store(nil)
		pr.m.readerAttached.Store(false)
		close(pr.closed)
	})
	return nil
}
