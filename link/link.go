// Package link attaches verified programs to observation points.
//
// Points live in a Registry, which stands in for the symbol and
// tracepoint tables a kernel would consult. Attaching returns a Link
// whose Close detaches the program without affecting the point or any
// other program on it.
package link

// Link represents a program attached to an observation point.
type Link interface {
	// Close detaches the program. It is safe to call multiple times.
	Close() error
}

type attachedProgram struct {
	point *point
	id    uint64
}

func (ap *attachedProgram) Close() error {
	ap.point.detach(ap.id)
	return nil
}
