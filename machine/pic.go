package machine

import (
	"sync"

	"github.com/frobware/go-ipipe"
)

const picWords = ipipe.NrIRQs / 64

// PIC is a legacy interrupt controller: a mask register, a request
// register latching lines raised while masked, and an in-service
// register cleared on acknowledge. It is shared by every CPU.
type PIC struct {
	mu   sync.Mutex
	imr  [picWords]uint64
	irr  [picWords]uint64
	isr  [picWords]uint64
	acks [ipipe.NrIRQs]uint64
}

func bit(irq ipipe.IRQ) (int, uint64) {
	return int(irq / 64), 1 << (irq % 64)
}

// Raise asserts irq. It reports whether the line may be delivered;
// a masked line is latched until unmasked.
func (p *PIC) Raise(irq ipipe.IRQ) bool {
	w, b := bit(irq)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.imr[w]&b != 0 {
		p.irr[w] |= b
		return false
	}
	p.isr[w] |= b
	return true
}

// Ack ends service of irq.
func (p *PIC) Ack(irq ipipe.IRQ) {
	w, b := bit(irq)
	p.mu.Lock()
	p.isr[w] &^= b
	p.acks[irq]++
	p.mu.Unlock()
}

// Mask gates irq.
func (p *PIC) Mask(irq ipipe.IRQ) {
	w, b := bit(irq)
	p.mu.Lock()
	p.imr[w] |= b
	p.mu.Unlock()
}

// Unmask opens irq and reports whether a request was latched meanwhile.
func (p *PIC) Unmask(irq ipipe.IRQ) bool {
	w, b := bit(irq)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imr[w] &^= b
	latched := p.irr[w]&b != 0
	p.irr[w] &^= b
	if latched {
		p.isr[w] |= b
	}
	return latched
}

// Masked reports whether irq is gated.
func (p *PIC) Masked(irq ipipe.IRQ) bool {
	w, b := bit(irq)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.imr[w]&b != 0
}

// InService reports whether irq was delivered and not acknowledged.
func (p *PIC) InService(irq ipipe.IRQ) bool {
	w, b := bit(irq)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isr[w]&b != 0
}

// Acks returns how many times irq was acknowledged.
func (p *PIC) Acks(irq ipipe.IRQ) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.acks[irq]
}
