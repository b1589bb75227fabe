package pipeline

import "github.com/frobware/go-ipipe"

// Handler receives the interrupts a domain handles.
type Handler interface {
	Handle(c *CPU, irq ipipe.IRQ, cookie any)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(c *CPU, irq ipipe.IRQ, cookie any)

func (f HandlerFunc) Handle(c *CPU, irq ipipe.IRQ, cookie any) { f(c, irq, cookie) }

// Acknowledger is the only place where a device interrupt gets
// acknowledged at the controller.
type Acknowledger interface {
	Ack(c *CPU, irq ipipe.IRQ)
}

// AckFunc adapts a function to Acknowledger.
type AckFunc func(c *CPU, irq ipipe.IRQ)

func (f AckFunc) Ack(c *CPU, irq ipipe.IRQ) { f(c, irq) }

// EventHandler is called for an event a domain caught. origin is the
// domain that was current when the event fired. Returning true stops
// propagation to lower priority domains.
type EventHandler func(c *CPU, event ipipe.Event, origin *Domain, data any) bool

// Tracer observes the pipeline hot path. Codes are IRQ numbers for
// interrupt entries, or the code of a synchronization pass.
type Tracer interface {
	Begin(cpu int, code uint32)
	End(cpu int, code uint32)
	Freeze(cpu int, reason string)
}

// TraceSync is the trace code of a log synchronization pass.
const TraceSync uint32 = 0x8000_0001

type nopTracer struct{}

func (nopTracer) Begin(int, uint32)  {}
func (nopTracer) End(int, uint32)    {}
func (nopTracer) Freeze(int, string) {}
