// Package collector runs the full pipeline: it provisions capability
// maps, verifies and attaches hook programs, and drains their event
// records to caller supplied handlers.
package collector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/event"
	"github.com/hookwire/hookwire/link"
)

// State describes how far a program made it through the lifecycle.
type State uint8

const (
	// StateErr means verification or attachment failed, see Status.Err.
	StateErr State = iota
	// StateVerified means the program passed verification but is not
	// attached yet.
	StateVerified
	// StateAttached means the program is attached to its observation
	// point.
	StateAttached
	// StateActive means the collector is draining records the program
	// may produce.
	StateActive
)

var stateNames = map[State]string{
	StateErr:      "error",
	StateVerified: "verified",
	StateAttached: "attached",
	StateActive:   "active",
}

func (s State) String() string {
	if name := stateNames[s]; name != "" {
		return name
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Status is the per-program lifecycle report.
type Status struct {
	Program string
	State   State
	Err     error
}

// Attachment binds a program of the collection to an observation
// point. Kind and Target may be left empty, in which case they are
// derived from the program's Type and AttachTo.
type Attachment struct {
	// Program names a ProgramSpec in the collection.
	Program string

	Kind link.Kind

	// Target is the point's name. Tracepoints use "group/name",
	// devices the decimal interface index.
	Target string
}

// Config describes everything the collector needs.
type Config struct {
	// Logger receives diagnostics. Nil disables logging.
	Logger *zap.SugaredLogger

	// Collection holds the maps and programs to provision.
	Collection *hookwire.CollectionSpec

	// Attachments binds programs to observation points. Programs
	// without an attachment are skipped.
	Attachments []Attachment

	// Registry the attachments go into. Defaults to
	// link.DefaultRegistry.
	Registry *link.Registry

	// EventMap names the PerfEventArray the programs publish to.
	// Defaults to "events".
	EventMap string

	// LaneCapacity is the ring capacity per lane. Defaults to 64.
	LaneCapacity int

	// PollTimeout bounds how long a single read blocks, which is also
	// how often Run checks for cancellation. Defaults to 100ms.
	PollTimeout time.Duration

	// HandleRecord receives every decoded record.
	HandleRecord func(event.Data)

	// HandleLost receives drop counts, per lane.
	HandleLost func(lane int, lost uint64)
}

// Collector owns the maps, programs and reader of one running
// pipeline.
type Collector struct {
	logger      *zap.SugaredLogger
	pollTimeout time.Duration

	handleRecord func(event.Data)
	handleLost   func(lane int, lost uint64)

	maps   map[string]*hookwire.Map
	reader *hookwire.Reader
	links  []link.Link

	mu       sync.Mutex
	statuses map[string]*Status

	closeOnce sync.Once
}

// New provisions the maps, verifies the programs and attaches them.
//
// A program that fails to verify or attach does not stop the others,
// its failure lands in Status. New only fails outright when the event
// pipeline itself cannot be provisioned or no attachment succeeded at
// all.
func New(cfg Config) (*Collector, error) {
	if cfg.Collection == nil {
		return nil, errors.New("config needs a collection")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = link.DefaultRegistry
	}

	eventMap := cfg.EventMap
	if eventMap == "" {
		eventMap = "events"
	}
	laneCapacity := cfg.LaneCapacity
	if laneCapacity <= 0 {
		laneCapacity = 64
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 100 * time.Millisecond
	}

	maps := make(map[string]*hookwire.Map)
	for name, spec := range cfg.Collection.Maps {
		m, err := hookwire.NewMap(spec)
		if err != nil {
			closeMaps(maps)
			return nil, fmt.Errorf("map %s: %w", name, err)
		}
		maps[name] = m
	}

	events, ok := maps[eventMap]
	if !ok {
		closeMaps(maps)
		return nil, fmt.Errorf("collection has no event map %q", eventMap)
	}

	reader, err := hookwire.NewReader(events, laneCapacity)
	if err != nil {
		closeMaps(maps)
		return nil, fmt.Errorf("event map %q: %w", eventMap, err)
	}

	c := &Collector{
		logger:       logger,
		pollTimeout:  pollTimeout,
		handleRecord: cfg.HandleRecord,
		handleLost:   cfg.HandleLost,
		maps:         maps,
		reader:       reader,
		statuses:     make(map[string]*Status),
	}

	var errs *multierror.Error
	for _, at := range cfg.Attachments {
		if err := c.attach(cfg, registry, at); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("program %s: %w", at.Program, err))
			logger.Warnw("attach failed", "program", at.Program, "error", err)
		}
	}

	if len(cfg.Attachments) > 0 && len(c.links) == 0 {
		c.Close()
		return nil, errs.ErrorOrNil()
	}

	return c, nil
}

func closeMaps(maps map[string]*hookwire.Map) {
	for _, m := range maps {
		m.Close()
	}
}

func (c *Collector) setStatus(program string, state State, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.statuses[program] = &Status{Program: program, State: state, Err: err}
}

func (c *Collector) attach(cfg Config, registry *link.Registry, at Attachment) error {
	spec, ok := cfg.Collection.Programs[at.Program]
	if !ok {
		err := errors.New("not in the collection")
		c.setStatus(at.Program, StateErr, err)
		return err
	}
	spec = spec.Copy()

	if at.Target == "" {
		at.Target = spec.AttachTo
	}
	if at.Kind == 0 {
		kind, err := kindForType(spec.Type)
		if err != nil {
			c.setStatus(at.Program, StateErr, err)
			return err
		}
		at.Kind = kind
	}

	// Resolve map references against the provisioned maps.
	for ref, offsets := range spec.Instructions.ReferenceOffsets() {
		m, ok := c.maps[ref]
		if !ok {
			continue
		}
		for _, offset := range offsets {
			ins := &spec.Instructions[offset]
			if !ins.IsLoadFromMap() {
				continue
			}
			if err := ins.RewriteMapPtr(m.Handle()); err != nil {
				c.setStatus(at.Program, StateErr, err)
				return err
			}
		}
	}

	prog, err := hookwire.NewProgram(spec)
	if err != nil {
		c.setStatus(at.Program, StateErr, err)
		return err
	}
	c.setStatus(at.Program, StateVerified, nil)

	lnk, err := attachPoint(registry, at, prog)
	if err != nil {
		c.setStatus(at.Program, StateErr, err)
		return err
	}

	c.mu.Lock()
	c.links = append(c.links, lnk)
	c.mu.Unlock()

	c.setStatus(at.Program, StateAttached, nil)
	c.logger.Infow("attached", "program", at.Program, "kind", at.Kind, "target", at.Target)
	return nil
}

func kindForType(typ hookwire.ProgramType) (link.Kind, error) {
	switch typ {
	case hookwire.Kprobe:
		return link.KindSymbol, nil
	case hookwire.TracePoint:
		return link.KindTracepoint, nil
	case hookwire.RawTracePoint:
		return link.KindRawTracepoint, nil
	case hookwire.XDP:
		return link.KindXDP, nil
	case hookwire.SocketFilter:
		return link.KindSocketFilter, nil
	default:
		return link.Kind(0), fmt.Errorf("no observation point kind for %s programs", typ)
	}
}

func attachPoint(registry *link.Registry, at Attachment, prog *hookwire.Program) (link.Link, error) {
	switch at.Kind {
	case link.KindSymbol:
		return registry.Kprobe(at.Target, prog)

	case link.KindSyscall:
		return registry.Ksyscall(at.Target, prog)

	case link.KindTracepoint:
		group, name, ok := strings.Cut(at.Target, "/")
		if !ok {
			return nil, fmt.Errorf("tracepoint target %q is not group/name", at.Target)
		}
		return registry.Tracepoint(group, name, prog)

	case link.KindRawTracepoint:
		return registry.AttachRawTracepoint(link.RawTracepointOptions{
			Name:    at.Target,
			Program: prog,
		})

	case link.KindXDP:
		ifindex, err := strconv.Atoi(at.Target)
		if err != nil {
			return nil, fmt.Errorf("xdp target %q is not an interface index", at.Target)
		}
		return registry.AttachXDP(link.XDPOptions{Program: prog, Interface: ifindex})

	case link.KindSocketFilter:
		ifindex, err := strconv.Atoi(at.Target)
		if err != nil {
			return nil, fmt.Errorf("socket filter target %q is not an interface index", at.Target)
		}
		return registry.AttachSocketFilter(link.SocketFilterOptions{Program: prog, Interface: ifindex})

	default:
		return nil, fmt.Errorf("cannot attach to %s points", at.Kind)
	}
}

// Map returns a provisioned map by its name in the collection.
func (c *Collector) Map(name string) (*hookwire.Map, bool) {
	m, ok := c.maps[name]
	return m, ok
}

// Status reports the lifecycle state of every program, ordered by
// name.
func (c *Collector) Status() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.statuses))
	for _, st := range c.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Program < out[j].Program })
	return out
}

// Run drains records until ctx is cancelled or the reader is closed.
// Handlers run on the draining goroutine.
func (c *Collector) Run(ctx context.Context) error {
	c.mu.Lock()
	for _, st := range c.statuses {
		if st.State == StateAttached {
			st.State = StateActive
		}
	}
	c.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.drain(ctx) })
	return g.Wait()
}

func (c *Collector) drain(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		c.reader.SetDeadline(time.Now().Add(c.pollTimeout))

		rec, err := c.reader.Read()
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			continue
		case errors.Is(err, hookwire.ErrClosed):
			return nil
		case err != nil:
			return fmt.Errorf("reading events: %w", err)
		}

		if rec.LostSamples > 0 {
			c.logger.Warnw("lost records", "lane", rec.Lane, "count", rec.LostSamples)
			if c.handleLost != nil {
				c.handleLost(rec.Lane, rec.LostSamples)
			}
			continue
		}

		var data event.Data
		if err := data.UnmarshalBinary(rec.RawSample); err != nil {
			// A producer and consumer disagreeing on the layout must
			// not stall the pipeline.
			c.logger.Warnw("dropped record", "lane", rec.Lane, "error", err)
			continue
		}

		if c.handleRecord != nil {
			c.handleRecord(data)
		}
	}
}

// Close detaches all programs and releases the reader and the maps.
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		for _, lnk := range c.links {
			lnk.Close()
		}
		c.reader.Close()
		closeMaps(c.maps)
	})
}
