// Package irqflags packs the virtual interrupt mask into hardware
// flags words so code that only understands raw flags still observes
// the virtual state.
package irqflags

import "github.com/frobware/go-ipipe"

// Mangle returns real with the virtual stall bit stored in bit 31.
func Mangle(virt bool, real uint64) uint64 {
	if virt {
		return real | ipipe.VirtualBit
	}
	return real &^ ipipe.VirtualBit
}

// Demangle splits a mangled word back into the virtual stall bit and
// the real flags.
func Demangle(x uint64) (bool, uint64) {
	return x&ipipe.VirtualBit != 0, x &^ ipipe.VirtualBit
}

// FlagsFromStall returns the flags word a caller of the host
// save-flags primitive observes: IF is clear when stalled.
func FlagsFromStall(stalled bool) uint64 {
	if stalled {
		return 0
	}
	return ipipe.EFlagsIF
}

// StallFromFlags is the inverse of FlagsFromStall.
func StallFromFlags(flags uint64) bool {
	return flags&ipipe.EFlagsIF == 0
}

// Disabled reports whether flags describe a context with interrupts
// off.
func Disabled(flags uint64) bool {
	return StallFromFlags(flags)
}
