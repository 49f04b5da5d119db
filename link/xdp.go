package link

import (
	"strconv"

	"github.com/hookwire/hookwire"
)

// XDPOptions control attaching a packet program to a device.
type XDPOptions struct {
	Program *hookwire.Program

	// Interface is the index of the device to attach to. A device
	// carries at most one XDP program.
	Interface int
}

// AttachXDP attaches an XDP program to a network device in the
// default registry.
func AttachXDP(opts XDPOptions) (Link, error) {
	return DefaultRegistry.AttachXDP(opts)
}

// AttachXDP attaches an XDP program to a device in this registry.
func (r *Registry) AttachXDP(opts XDPOptions) (Link, error) {
	return r.attach(KindXDP, strconv.Itoa(opts.Interface), opts.Program, hookwire.XDP, true)
}
