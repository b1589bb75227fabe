package pipeline

import (
	"math/bits"
	"sync/atomic"

	"github.com/frobware/go-ipipe"
)

const logWords = (ipipe.NrTotalIRQs + 63) / 64

// irqLog is a bitmap over every IRQ number. The owning CPU consumes
// it; other CPUs may only move bits while that CPU is quiescent or
// through the atomic test-and-clear.
type irqLog struct {
	words [logWords]atomic.Uint64
}

func (l *irqLog) set(irq ipipe.IRQ) {
	l.words[irq/64].Or(1 << (irq % 64))
}

func (l *irqLog) testAndClear(irq ipipe.IRQ) bool {
	bit := uint64(1) << (irq % 64)
	return l.words[irq/64].And(^bit)&bit != 0
}

func (l *irqLog) test(irq ipipe.IRQ) bool {
	return l.words[irq/64].Load()&(1<<(irq%64)) != 0
}

// next removes and returns the lowest IRQ in the log.
func (l *irqLog) next() (ipipe.IRQ, bool) {
	for w := range l.words {
		for {
			v := l.words[w].Load()
			if v == 0 {
				break
			}
			b := bits.TrailingZeros64(v)
			if l.words[w].CompareAndSwap(v, v&^(1<<uint(b))) {
				return ipipe.IRQ(w*64 + b), true
			}
		}
	}
	return 0, false
}

func (l *irqLog) first() (ipipe.IRQ, bool) {
	for w := range l.words {
		if v := l.words[w].Load(); v != 0 {
			return ipipe.IRQ(w*64 + bits.TrailingZeros64(v)), true
		}
	}
	return 0, false
}

func (l *irqLog) any() bool {
	for w := range l.words {
		if l.words[w].Load() != 0 {
			return true
		}
	}
	return false
}

func (l *irqLog) count() int {
	n := 0
	for w := range l.words {
		n += bits.OnesCount64(l.words[w].Load())
	}
	return n
}

func (l *irqLog) reset() {
	for w := range l.words {
		l.words[w].Store(0)
	}
}
