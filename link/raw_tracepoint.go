package link

import (
	"github.com/hookwire/hookwire"
)

// RawTracepointOptions control attaching to a raw tracepoint.
type RawTracepointOptions struct {
	// Name of the tracepoint, like "sys_enter".
	Name    string
	Program *hookwire.Program
}

// AttachRawTracepoint attaches the program to a raw tracepoint in the
// default registry. Raw tracepoints hand the program the untranslated
// arguments instead of a stable format.
func AttachRawTracepoint(opts RawTracepointOptions) (Link, error) {
	return DefaultRegistry.AttachRawTracepoint(opts)
}

// AttachRawTracepoint attaches to a raw tracepoint in this registry.
func (r *Registry) AttachRawTracepoint(opts RawTracepointOptions) (Link, error) {
	return r.attach(KindRawTracepoint, opts.Name, opts.Program, hookwire.RawTracePoint, false)
}
