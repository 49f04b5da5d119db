package link

import (
	"github.com/hookwire/hookwire"
)

// Kprobe attaches the given program to the kernel symbol in the
// default registry. The program runs whenever the symbol is fired.
//
//	kp, err := link.Kprobe("sys_execve", prog)
//
// Close the returned Link to detach the program.
func Kprobe(symbol string, prog *hookwire.Program) (Link, error) {
	return DefaultRegistry.Kprobe(symbol, prog)
}

// Kprobe attaches prog to a kernel symbol in this registry.
func (r *Registry) Kprobe(symbol string, prog *hookwire.Program) (Link, error) {
	return r.attach(KindSymbol, symbol, prog, hookwire.Kprobe, false)
}

// Ksyscall attaches prog to a syscall entry point, without the caller
// needing to know the platform specific symbol of the syscall wrapper.
func Ksyscall(syscall string, prog *hookwire.Program) (Link, error) {
	return DefaultRegistry.Ksyscall(syscall, prog)
}

// Ksyscall attaches prog to a syscall entry point in this registry.
func (r *Registry) Ksyscall(syscall string, prog *hookwire.Program) (Link, error) {
	return r.attach(KindSyscall, syscall, prog, hookwire.Kprobe, false)
}
