package hookwire

import (
	"os"
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

func newEventMap(t *testing.T, lanes uint32) *Map {
	t.Helper()

	m, err := NewMap(&MapSpec{
		Name:       "events",
		Type:       PerfEventArray,
		MaxEntries: lanes,
	})
	qt.Assert(t, qt.IsNil(err))
	t.Cleanup(func() { m.Close() })
	return m
}

func TestReaderFIFO(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	qt.Assert(t, qt.IsNil(events.Output(0, []byte{1})))
	qt.Assert(t, qt.IsNil(events.Output(0, []byte{2})))
	qt.Assert(t, qt.IsNil(events.Output(0, []byte{3})))

	for _, want := range []byte{1, 2, 3} {
		rec, err := rd.Read()
		qt.Assert(t, qt.IsNil(err))
		qt.Assert(t, qt.Equals(rec.Lane, 0))
		qt.Assert(t, qt.DeepEquals(rec.RawSample, []byte{want}))
	}
}

func TestReaderOutputCopies(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	sample := []byte{1, 2, 3}
	qt.Assert(t, qt.IsNil(events.Output(0, sample)))
	sample[0] = 9

	rec, err := rd.Read()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(rec.RawSample, []byte{1, 2, 3}))
}

func TestReaderLostSamples(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 2)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	// Two fit, three drop.
	for i := byte(0); i < 5; i++ {
		qt.Assert(t, qt.IsNil(events.Output(0, []byte{i})))
	}

	// The gap is reported before anything written after it.
	rec, err := rd.Read()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(rec.LostSamples, 3))
	qt.Assert(t, qt.IsNil(rec.RawSample))

	rec, err = rd.Read()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(rec.RawSample, []byte{0}))
}

func TestReaderRoundRobin(t *testing.T) {
	events := newEventMap(t, 2)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	qt.Assert(t, qt.IsNil(events.Output(0, []byte{10})))
	qt.Assert(t, qt.IsNil(events.Output(0, []byte{11})))
	qt.Assert(t, qt.IsNil(events.Output(1, []byte{20})))

	var lanes []int
	for i := 0; i < 3; i++ {
		rec, err := rd.Read()
		qt.Assert(t, qt.IsNil(err))
		lanes = append(lanes, rec.Lane)
	}

	// A busy lane can't starve the other one.
	qt.Assert(t, qt.DeepEquals(lanes, []int{0, 1, 0}))
}

func TestReaderDeadline(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	rd.SetDeadline(time.Now().Add(10 * time.Millisecond))
	_, err = rd.Read()
	qt.Assert(t, qt.ErrorIs(err, os.ErrDeadlineExceeded))

	// An expired deadline keeps failing until it is moved.
	_, err = rd.Read()
	qt.Assert(t, qt.ErrorIs(err, os.ErrDeadlineExceeded))
}

func TestReaderBlocksUntilOutput(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	go func() {
		time.Sleep(10 * time.Millisecond)
		events.Output(0, []byte{42})
	}()

	rd.SetDeadline(time.Now().Add(time.Second))
	rec, err := rd.Read()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(rec.RawSample, []byte{42}))
}

func TestReaderClose(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))

	qt.Assert(t, qt.IsNil(events.Output(0, []byte{1})))
	qt.Assert(t, qt.IsNil(rd.Close()))

	// Records buffered before the close drain first.
	rec, err := rd.Read()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(rec.RawSample, []byte{1}))

	_, err = rd.Read()
	qt.Assert(t, qt.ErrorIs(err, ErrClosed))

	// Producing into a closed reader fails again.
	qt.Assert(t, qt.IsNotNil(events.Output(0, []byte{2})))
}

func TestReaderPauseResume(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	qt.Assert(t, qt.IsNil(rd.Pause()))

	// While paused the map has no reader.
	qt.Assert(t, qt.IsNotNil(events.Output(0, []byte{1})))

	qt.Assert(t, qt.IsNil(rd.Resume()))
	qt.Assert(t, qt.IsNil(events.Output(0, []byte{2})))

	rd.SetDeadline(time.Now().Add(time.Second))
	rec, err := rd.Read()
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(rec.RawSample, []byte{2}))
}

func TestReaderExclusive(t *testing.T) {
	events := newEventMap(t, 1)

	rd, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd.Close()

	_, err = NewReader(events, 4)
	qt.Assert(t, qt.IsNotNil(err))

	// A paused reader still owns the map.
	qt.Assert(t, qt.IsNil(rd.Pause()))
	_, err = NewReader(events, 4)
	qt.Assert(t, qt.ErrorMatches(err, `map "events" already has a reader attached`))

	qt.Assert(t, qt.IsNil(rd.Resume()))
	qt.Assert(t, qt.IsNil(events.Output(0, []byte{1})))

	// Close releases the map for a new reader.
	qt.Assert(t, qt.IsNil(rd.Close()))
	rd2, err := NewReader(events, 4)
	qt.Assert(t, qt.IsNil(err))
	defer rd2.Close()
}

func TestReaderRejectsPlainMaps(t *testing.T) {
	m := mustNewMap(t, &MapSpec{
		Type:       Hash,
		KeySize:    4,
		ValueSize:  4,
		MaxEntries: 1,
	})

	_, err := NewReader(m, 4)
	qt.Assert(t, qt.ErrorIs(err, ErrNotSupported))
}
