package internal

import "encoding/binary"

// NativeEndian is the byte order used for instruction and record
// encoding. Producers and consumers share the same process, so the
// wire format is pinned to little-endian instead of varying with the
// host.
var NativeEndian = binary.LittleEndian
