// Package hookwire runs untrusted hook programs inside a trusted
// process.
//
// Hook programs are small pieces of bytecode attached to observation
// points such as function symbols, tracepoints or packet paths. Before
// a program runs even once it is statically verified: all memory
// accesses are proven in bounds, only well typed helper calls are
// permitted and the program must provably terminate. An accepted
// program then executes without further runtime checks.
//
// Programs communicate with their host through capability maps and a
// per lane event channel. The host hands out map handles, programs can
// only touch the maps they were explicitly given. Event records flow
// through bounded rings which drop on overflow and account the loss,
// so a slow consumer never stalls a producer.
//
// The asm package builds programs, link attaches them to observation
// points, vm executes them, and collector ties verification,
// attachment and event consumption together for the common case.
package hookwire
