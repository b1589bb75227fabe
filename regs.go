package ipipe

// Hardware flags word bits.
const (
	// EFlagsIF is the x86 interrupt enable flag.
	EFlagsIF uint64 = 1 << 9
	// VirtualBit carries the virtual interrupt mask inside a mangled
	// flags word.
	VirtualBit uint64 = 1 << 31
)

// KernelCS is the code segment selector of kernel mode contexts.
const KernelCS = 0x10

// Regs is the register image saved on interrupt or exception entry.
//
// OrigAX encodes the entry kind: a negative value is a hardware
// vector stored as ^vector, a non-negative value is an IRQ injected
// by software.
type Regs struct {
	OrigAX int64
	Flags  uint64
	IP     uint64
	SP     uint64
	BP     uint64
	CS     uint16
	SS     uint16
}

// HardwareRegs builds the entry image of an interrupt raised on
// vector by the hardware.
func HardwareRegs(vector uint8, flags uint64) *Regs {
	return &Regs{OrigAX: ^int64(vector), Flags: flags, CS: KernelCS}
}

// SoftwareRegs builds the entry image of a self-triggered irq.
func SoftwareRegs(irq IRQ, flags uint64) *Regs {
	return &Regs{OrigAX: int64(irq), Flags: flags, CS: KernelCS}
}

// SelfTriggered reports whether the image was built by software.
func (r *Regs) SelfTriggered() bool {
	return r.OrigAX >= 0
}

// Vector returns the hardware vector. It is only meaningful when
// SelfTriggered is false.
func (r *Regs) Vector() uint8 {
	return uint8(^r.OrigAX)
}

// UserMode reports whether the interrupted context ran at user
// privilege.
func (r *Regs) UserMode() bool {
	return r.CS&3 != 0
}
