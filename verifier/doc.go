// Package verifier proves that a hook program is safe to execute.
//
// Verification walks every reachable path of a program with abstract
// register and stack contents. A program is accepted only if, on all
// paths, it reads nothing it hasn't written, stays within the bounds
// of its stack, context, packet and map values, calls only permitted
// helpers with well typed arguments, and provably terminates.
//
// The analysis is deliberately conservative: a rejected program isn't
// necessarily unsafe, but an accepted one can be run without any
// further runtime checks apart from those the helpers do themselves.
package verifier
