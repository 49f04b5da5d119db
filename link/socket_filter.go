package link

import (
	"strconv"

	"github.com/hookwire/hookwire"
)

// SocketFilterOptions control attaching a socket filter to a device.
type SocketFilterOptions struct {
	Program *hookwire.Program

	// Interface is the index of the device to filter. A device carries
	// at most one filter.
	Interface int
}

// AttachSocketFilter attaches a socket filter to a network device in
// the default registry. The filter's return value is the number of
// packet bytes to keep.
func AttachSocketFilter(opts SocketFilterOptions) (Link, error) {
	return DefaultRegistry.AttachSocketFilter(opts)
}

// AttachSocketFilter attaches a socket filter in this registry.
func (r *Registry) AttachSocketFilter(opts SocketFilterOptions) (Link, error) {
	return r.attach(KindSocketFilter, strconv.Itoa(opts.Interface), opts.Program, hookwire.SocketFilter, true)
}
