package link

import (
	"github.com/hookwire/hookwire"
)

// Tracepoint attaches the given program to the tracepoint with the
// given group and name in the default registry.
//
//	tp, err := link.Tracepoint("syscalls", "sys_enter_execve", prog)
func Tracepoint(group, name string, prog *hookwire.Program) (Link, error) {
	return DefaultRegistry.Tracepoint(group, name, prog)
}

// Tracepoint attaches prog to a static tracepoint in this registry.
func (r *Registry) Tracepoint(group, name string, prog *hookwire.Program) (Link, error) {
	return r.attach(KindTracepoint, group+"/"+name, prog, hookwire.TracePoint, false)
}
