package pipeline_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-ipipe"
	"github.com/frobware/go-ipipe/machine"
	"github.com/frobware/go-ipipe/pipeline"
)

func names(ds []*pipeline.Domain) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.Name()
	}
	return out
}

func TestNewInstallsRoot(t *testing.T) {
	f := newTestFixture(t, 1)
	p := f.Pipeline

	root := p.Root()
	assert.True(t, root.IsRoot())
	assert.True(t, root.IsHead())
	assert.Equal(t, pipeline.RootName, root.Name())
	assert.Equal(t, pipeline.RootPriority, root.Priority())
	assert.Same(t, root, p.CPU(0).Current())

	assert.Equal(t, ipipe.StdRootMask, root.Control(3))
	assert.Equal(t, ipipe.CriticalMask, root.Control(ipipe.CriticalIPI))
	assert.Equal(t, ipipe.Handle|ipipe.Pass, root.Control(ipipe.ServiceIPI2), "service ipis stay reprogrammable")
	assert.Equal(t, ipipe.Pass, root.Control(ipipe.VirqBase))
}

func TestNewRejectsVirtualTimer(t *testing.T) {
	f := newTestFixture(t, 1)
	_, err := pipeline.New(f.Machine, pipeline.WithTimerIRQ(ipipe.VirqBase))
	require.ErrorIs(t, err, ipipe.ErrInvalidIRQ)
}

func TestNewRejectsUnroutableTimer(t *testing.T) {
	f := newTestFixture(t, 2)

	_, err := pipeline.New(f.Machine, pipeline.WithTimerIRQ(ipipe.NrExternalIRQs))
	require.ErrorIs(t, err, ipipe.ErrInvalidIRQ, "no vector maps to the irq")

	vector, ok := machine.VectorOf(3)
	require.True(t, ok)
	f.Machine.SetVector(1, vector, -1)
	_, err = pipeline.New(f.Machine, pipeline.WithTimerIRQ(3))
	require.ErrorIs(t, err, ipipe.ErrInvalidIRQ, "cpu 1 lost its vector")

	_, err = pipeline.New(f.Machine, pipeline.WithTimerIRQ(ipipe.TimerIRQ))
	require.NoError(t, err)
}

func TestRegisterOrdersByPriority(t *testing.T) {
	f := newTestFixture(t, 1)

	f.Register("b", 50)
	f.Register("a", 10)
	f.Register("c", 50)

	assert.Equal(t, []string{"a", "b", "c", "root"}, names(f.Pipeline.Domains()))
	assert.Equal(t, "a", f.Pipeline.Head().Name())

	d, ok := f.Pipeline.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, 50, d.Priority())
	assert.False(t, d.IsHead())

	_, ok = f.Pipeline.Lookup("missing")
	assert.False(t, ok)
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name string
		attr pipeline.DomainAttr
		want error
	}{
		{
			name: "priority below range",
			attr: pipeline.DomainAttr{Name: "x", Priority: -1},
			want: ipipe.ErrInvalidPriority,
		},
		{
			name: "priority of root",
			attr: pipeline.DomainAttr{Name: "x", Priority: pipeline.RootPriority},
			want: ipipe.ErrInvalidPriority,
		},
		{
			name: "duplicate name",
			attr: pipeline.DomainAttr{Name: "rt", Priority: 20},
			want: ipipe.ErrDuplicateName,
		},
		{
			name: "duplicate id",
			attr: pipeline.DomainAttr{Name: "other", ID: 0x52544149, Priority: 20},
			want: ipipe.ErrDuplicateName,
		},
		{
			name: "root name",
			attr: pipeline.DomainAttr{Name: pipeline.RootName, Priority: 20},
			want: ipipe.ErrDuplicateName,
		},
		{
			name: "incompatible abi",
			attr: pipeline.DomainAttr{Name: "x", Priority: 20, ABI: ">= 3.0.0"},
			want: ipipe.ErrIncompatibleABI,
		},
	}

	f := newTestFixture(t, 1)
	f.On(0, func(c *pipeline.CPU) {
		_, err := c.Register(pipeline.DomainAttr{Name: "rt", ID: 0x52544149, Priority: 10})
		assert.NoError(t, err)
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			f.On(0, func(c *pipeline.CPU) { _, err = c.Register(tt.attr) })
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Len(t, f.Pipeline.Domains(), 2)
}

func TestRegisterABIConstraint(t *testing.T) {
	f := newTestFixture(t, 1)

	var err error
	f.On(0, func(c *pipeline.CPU) {
		_, err = c.Register(pipeline.DomainAttr{Name: "ok", Priority: 10, ABI: "~2.11"})
	})
	require.NoError(t, err)

	f.On(0, func(c *pipeline.CPU) {
		_, err = c.Register(pipeline.DomainAttr{Name: "bad", Priority: 10, ABI: "not a constraint"})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abi constraint")
}

func TestRegisterEmptyName(t *testing.T) {
	f := newTestFixture(t, 1)
	var err error
	f.On(0, func(c *pipeline.CPU) { _, err = c.Register(pipeline.DomainAttr{Priority: 10}) })
	require.Error(t, err)
}

func TestRegisterSlotsExhausted(t *testing.T) {
	f := newTestFixture(t, 1)
	for i := range pipeline.MaxDomains - 1 {
		f.Register(fmt.Sprintf("d%d", i), i)
	}
	var err error
	f.On(0, func(c *pipeline.CPU) { _, err = c.Register(pipeline.DomainAttr{Name: "extra", Priority: 50}) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slots in use")
}

func TestRegisterRunsEntryInDomain(t *testing.T) {
	f := newTestFixture(t, 2)

	var (
		inside   string
		afterCPU string
	)
	f.On(1, func(c *pipeline.CPU) {
		_, err := c.Register(pipeline.DomainAttr{
			Name:     "rt",
			Priority: 10,
			Entry:    func(c *pipeline.CPU) { inside = c.Current().Name() },
		})
		assert.NoError(t, err)
		afterCPU = c.Current().Name()
	})
	assert.Equal(t, "rt", inside)
	assert.Equal(t, pipeline.RootName, afterCPU)
}

func TestRegisterAcrossCPUs(t *testing.T) {
	f := newTestFixture(t, 4)

	for cpu := range 4 {
		f.On(cpu, func(c *pipeline.CPU) {
			_, err := c.Register(pipeline.DomainAttr{Name: fmt.Sprintf("d%d", cpu), Priority: 40 - cpu})
			assert.NoError(t, err)
		})
	}
	assert.Equal(t, []string{"d3", "d2", "d1", "d0", "root"}, names(f.Pipeline.Domains()))

	// Every CPU keeps taking interrupts after the critical sections.
	for cpu := range 4 {
		f.Raise(cpu, 7)
	}
	assert.ElementsMatch(t, []string{"root:7@0", "root:7@1", "root:7@2", "root:7@3"}, f.Rec.entries())
}

func TestUnregister(t *testing.T) {
	f := newTestFixture(t, 2)
	d := f.Register("rt", 10)
	f.Virtualize(d, 5, ipipe.Handle)
	_, err := f.Pipeline.CatchEvent(d, ipipe.EventSyscall, func(*pipeline.CPU, ipipe.Event, *pipeline.Domain, any) bool { return false })
	require.NoError(t, err)
	require.True(t, f.Pipeline.Monitored(ipipe.EventSyscall))

	f.On(0, func(c *pipeline.CPU) { err = c.Unregister(d) })
	require.NoError(t, err)

	_, ok := f.Pipeline.Lookup("rt")
	assert.False(t, ok)
	assert.Equal(t, []string{"root"}, names(f.Pipeline.Domains()))
	assert.False(t, f.Pipeline.Monitored(ipipe.EventSyscall))

	f.On(0, func(c *pipeline.CPU) { err = c.Unregister(d) })
	require.ErrorIs(t, err, ipipe.ErrDomainNotFound)

	// A stale handle cannot be reprogrammed.
	noop := pipeline.HandlerFunc(func(*pipeline.CPU, ipipe.IRQ, any) {})
	require.ErrorIs(t, f.Pipeline.VirtualizeIRQ(d, 5, noop, nil, nil, ipipe.Handle), ipipe.ErrDomainNotFound)
	require.ErrorIs(t, f.Pipeline.UnvirtualizeIRQ(d, 5), ipipe.ErrDomainNotFound)
	require.ErrorIs(t, f.Pipeline.ControlIRQ(d, 5, 0, ipipe.Pass), ipipe.ErrDomainNotFound)
	_, err = f.Pipeline.CatchEvent(d, ipipe.EventSyscall, func(*pipeline.CPU, ipipe.Event, *pipeline.Domain, any) bool { return false })
	require.ErrorIs(t, err, ipipe.ErrDomainNotFound)
	assert.False(t, f.Pipeline.Monitored(ipipe.EventSyscall))

	// The slot is reusable and starts clean.
	d2 := f.Register("rt2", 10)
	f.On(0, func(c *pipeline.CPU) {
		assert.False(t, c.TestStallDomain(d2))
		assert.Zero(t, c.Hits(d2, 5))
	})
}

func TestUnregisterRoot(t *testing.T) {
	f := newTestFixture(t, 1)
	var err error
	f.On(0, func(c *pipeline.CPU) { err = c.Unregister(f.Pipeline.Root()) })
	require.ErrorIs(t, err, ipipe.ErrPermissionDenied)
}

func TestUnregisterBusy(t *testing.T) {
	f := newTestFixture(t, 2)
	d := f.Register("rt", 10)
	f.Virtualize(d, 5, ipipe.Handle)

	var err error
	f.On(1, func(c *pipeline.CPU) {
		c.StallDomain(d)
		assert.NoError(t, c.TriggerIRQ(5))
		assert.True(t, c.Pending(d, 5))
	})

	f.On(0, func(c *pipeline.CPU) { err = c.Unregister(d) })
	require.ErrorIs(t, err, ipipe.ErrDomainBusy)
	var busy ipipe.DomainBusyError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, 1, busy.CPU)
	assert.Equal(t, ipipe.IRQ(5), busy.IRQ)

	f.On(1, func(c *pipeline.CPU) { c.UnstallDomain(d) })
	assert.Equal(t, []string{"rt:5@1"}, f.Rec.entries())

	f.On(0, func(c *pipeline.CPU) { err = c.Unregister(d) })
	require.NoError(t, err)
}

func TestUnregisterCurrent(t *testing.T) {
	f := newTestFixture(t, 1)
	d := f.Register("rt", 10)

	var err error
	f.On(0, func(c *pipeline.CPU) {
		c.Enter(d, func(c *pipeline.CPU) { err = c.Unregister(d) })
	})
	require.ErrorIs(t, err, ipipe.ErrDomainBusy)
}
