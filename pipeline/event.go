package pipeline

import (
	"fmt"

	"github.com/frobware/go-ipipe"
)

// CatchEvent installs h as the handler of event in d and returns the
// previous one. A nil h stops catching the event.
func (p *Pipeline) CatchEvent(d *Domain, event ipipe.Event, h EventHandler) (EventHandler, error) {
	if !event.Valid() {
		return nil, fmt.Errorf("event %d: %w", uint32(event), ipipe.ErrInvalidEvent)
	}

	p.irqMu.Lock()
	defer p.irqMu.Unlock()

	if err := d.live(); err != nil {
		return nil, err
	}

	var next *EventHandler
	if h != nil {
		next = &h
	}
	prev := d.events[event].Swap(next)
	switch {
	case prev == nil && next != nil:
		p.monitors[event].Add(1)
	case prev != nil && next == nil:
		p.monitors[event].Add(-1)
	}

	p.regLog.Debug("event handler changed", "domain", d.name, "event", event, "installed", h != nil)

	if prev == nil {
		return nil, nil
	}
	return *prev, nil
}

// Monitored reports whether some domain catches event.
func (p *Pipeline) Monitored(event ipipe.Event) bool {
	return event.Valid() && p.monitors[event].Load() > 0
}

// DispatchEvent offers event to the domains catching it, from the head
// down to the current domain. Each handler runs with its domain
// current. Domains other than root get their pending interrupts
// delivered on the way. It reports whether a handler stopped
// propagation.
func (c *CPU) DispatchEvent(event ipipe.Event, data any) bool {
	if !event.Valid() {
		return false
	}

	flags := c.hwSave()
	defer c.hwRestore(flags)

	root := c.p.root
	start := c.Current()
	this := start
	propagate := true

	for _, d := range c.p.domains() {
		if h := d.events[event].Load(); h != nil {
			c.setCurrent(d)
			c.hwRestore(flags)
			propagate = !(*h)(c, event, start, data)
			c.p.host.DisableIRQs(c.id)
			if c.Current() != d {
				this = c.Current()
			}
		}

		st := c.stateOf(d)
		if d != root && st.pending.any() && !st.stalled.Load() {
			c.setCurrent(d)
			c.syncStage()
			if c.Current() != d {
				this = c.Current()
			}
		}

		c.setCurrent(this)
		if d == this || !propagate {
			break
		}
	}

	return !propagate
}

func (c *CPU) trapNotify(event ipipe.Event, regs *ipipe.Regs) bool {
	return c.p.Monitored(event) && c.DispatchEvent(event, regs)
}
