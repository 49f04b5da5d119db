// Package vm executes verified hook programs.
//
// The interpreter models memory as tagged regions: the top bits of a
// pointer select the region (stack, context, packet, map value or a
// host supplied blob), the low bits the offset within it. Programs
// only ever receive tagged pointers, so a verified program cannot
// reach memory its helpers and context didn't hand it.
package vm
