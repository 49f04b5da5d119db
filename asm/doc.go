// Package asm is an assembler for hook program bytecode.
//
// Programs are sequences of fixed-size instructions operating on
// eleven registers and a 512 byte stack. The package provides a small
// DSL for building instruction streams by hand, and codecs for the
// 8 byte wire encoding shared with stored program objects.
package asm
