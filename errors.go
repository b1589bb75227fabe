package ipipe

import (
	"errors"
	"fmt"
)

// Sentinel errors. The typed errors below match them with errors.Is.
var (
	ErrInvalidIRQ         = errors.New("invalid irq")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDuplicateName      = errors.New("domain already registered")
	ErrInvalidPriority    = errors.New("invalid priority")
	ErrDomainBusy         = errors.New("domain busy")
	ErrDomainNotFound     = errors.New("domain not registered")
	ErrIRQBusy            = errors.New("irq busy")
	ErrInvalidMode        = errors.New("invalid control mode")
	ErrIncompatibleABI    = errors.New("incompatible pipeline abi")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrNoVirq             = errors.New("no virtual irq available")
	ErrInvalidAffinity    = errors.New("invalid affinity")
	ErrAffinityNotCapable = errors.New("irq affinity cannot be changed")
)

// InvalidIRQError is returned for an IRQ outside the tables, or a
// virtual IRQ that was never allocated.
type InvalidIRQError struct {
	IRQ    IRQ
	Reason string
}

func (e InvalidIRQError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid irq %d: %s", uint32(e.IRQ), e.Reason)
	}
	return fmt.Sprintf("invalid irq %d", uint32(e.IRQ))
}

func (e InvalidIRQError) Is(target error) bool { return target == ErrInvalidIRQ }

// PermissionDeniedError is returned when reprogramming an entry the
// core reserved, or removing the root domain.
type PermissionDeniedError struct {
	Domain string
	IRQ    IRQ
	Op     string
}

func (e PermissionDeniedError) Error() string {
	if e.Op == "unregister" {
		return fmt.Sprintf("domain %s cannot be unregistered", e.Domain)
	}
	return fmt.Sprintf("%s: irq %d is reserved in domain %s", e.Op, uint32(e.IRQ), e.Domain)
}

func (e PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// DuplicateNameError is returned when registering a domain whose name
// or id is already taken.
type DuplicateNameError struct {
	Name string
	ID   uint32
}

func (e DuplicateNameError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("domain %q (id %#x) is already registered", e.Name, e.ID)
	}
	return fmt.Sprintf("domain %q is already registered", e.Name)
}

func (e DuplicateNameError) Is(target error) bool { return target == ErrDuplicateName }

// InvalidPriorityError is returned for a priority outside the range
// user domains may take.
type InvalidPriorityError struct {
	Priority int
	Max      int
}

func (e InvalidPriorityError) Error() string {
	return fmt.Sprintf("priority %d out of range [0, %d)", e.Priority, e.Max)
}

func (e InvalidPriorityError) Is(target error) bool { return target == ErrInvalidPriority }

// DomainBusyError is returned when unregistering a domain that still
// has interrupts logged on some CPU.
type DomainBusyError struct {
	Domain string
	CPU    int
	IRQ    IRQ
}

func (e DomainBusyError) Error() string {
	return fmt.Sprintf("domain %s has irq %d pending on cpu %d", e.Domain, uint32(e.IRQ), e.CPU)
}

func (e DomainBusyError) Is(target error) bool { return target == ErrDomainBusy }

// IRQBusyError is returned when an exclusive handler is already
// installed, or another domain already wired the IRQ.
type IRQBusyError struct {
	IRQ   IRQ
	Owner string
}

func (e IRQBusyError) Error() string {
	return fmt.Sprintf("irq %d is already claimed by domain %s", uint32(e.IRQ), e.Owner)
}

func (e IRQBusyError) Is(target error) bool { return target == ErrIRQBusy }

// InvalidModeError is returned for a contradictory set of control
// flags.
type InvalidModeError struct {
	Mode   ControlFlags
	Reason string
}

func (e InvalidModeError) Error() string {
	return fmt.Sprintf("invalid control mode %s: %s", e.Mode, e.Reason)
}

func (e InvalidModeError) Is(target error) bool { return target == ErrInvalidMode }

// IncompatibleABIError is returned when a domain asks for a pipeline
// revision this core does not satisfy.
type IncompatibleABIError struct {
	Domain     string
	Constraint string
	Version    string
}

func (e IncompatibleABIError) Error() string {
	return fmt.Sprintf("domain %s requires pipeline %s, core is %s", e.Domain, e.Constraint, e.Version)
}

func (e IncompatibleABIError) Is(target error) bool { return target == ErrIncompatibleABI }

// FatalCondition classifies unrecoverable pipeline conditions.
type FatalCondition int

const (
	// FatalStaleVector is an unmapped or corrupt vector table entry.
	FatalStaleVector FatalCondition = iota + 1
	// FatalRecursiveFault is a fault raised while already handling
	// nested faults.
	FatalRecursiveFault
	// FatalCorruptState is any other broken core invariant.
	FatalCorruptState
)

func (c FatalCondition) String() string {
	switch c {
	case FatalStaleVector:
		return "stale vector"
	case FatalRecursiveFault:
		return "recursive fault"
	case FatalCorruptState:
		return "corrupt state"
	}
	return fmt.Sprintf("FatalCondition(%d)", int(c))
}

// FatalError describes a condition the core cannot return from. It is
// handed to the host fatal path rather than returned.
type FatalError struct {
	Condition FatalCondition
	CPU       int
	Domain    string
	Detail    string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("BUG: %s on cpu %d in domain %s: %s", e.Condition, e.CPU, e.Domain, e.Detail)
}
