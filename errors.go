package hookwire

import "errors"

// Sentinel errors returned by map and channel operations. Use
// errors.Is to match them.
var (
	// ErrKeyNotExist is returned when a key is absent from a map.
	ErrKeyNotExist = errors.New("key does not exist")

	// ErrKeyExist is returned by Update with UpdateNoExist when the
	// key is already present.
	ErrKeyExist = errors.New("key already exists")

	// ErrSizeMismatch is returned when a key or value has the wrong
	// length for the map.
	ErrSizeMismatch = errors.New("key or value size mismatch")

	// ErrMapFull is returned when a hash map has reached MaxEntries.
	ErrMapFull = errors.New("map is full")

	// ErrNotSupported is returned for operations the map or program
	// type doesn't implement.
	ErrNotSupported = errors.New("not supported")

	// ErrClosed is returned when operating on a closed map, reader or
	// program.
	ErrClosed = errors.New("already closed")
)
