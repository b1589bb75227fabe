package ipipe

import "fmt"

// Event numbers the notifications a domain may catch. Fault vectors
// come first, followed by the pipeline meta events.
type Event uint32

// Fault vectors, x86 numbering.
const (
	FaultDivideError Event = iota
	FaultDebug
	FaultNMI
	FaultInt3
	FaultOverflow
	FaultBounds
	FaultInvalidOp
	FaultDeviceNotAvailable
	FaultDoubleFault
	FaultCoprocessorSegmentOverrun
	FaultInvalidTSS
	FaultSegmentNotPresent
	FaultStackSegment
	FaultGeneralProtection
	FaultPageFault
	FaultSpuriousInterruptBug
	FaultCoprocessorError
	FaultAlignmentCheck
	FaultMachineCheck
	FaultSIMDCoprocessorError
)

// NrFaults is the number of fault vectors.
const NrFaults = 32

// Meta events.
const (
	EventSyscall Event = NrFaults + iota
	EventSchedule
	EventSigwake
	EventSetsched
	EventInit
	EventExit
	EventCleanup
	EventReturn
	EventTick
	// NrEvents bounds every per-domain event table.
	NrEvents
)

var faultNames = [...]string{
	FaultDivideError:               "divide-error",
	FaultDebug:                     "debug",
	FaultNMI:                       "nmi",
	FaultInt3:                      "int3",
	FaultOverflow:                  "overflow",
	FaultBounds:                    "bounds",
	FaultInvalidOp:                 "invalid-op",
	FaultDeviceNotAvailable:        "device-not-available",
	FaultDoubleFault:               "double-fault",
	FaultCoprocessorSegmentOverrun: "coprocessor-segment-overrun",
	FaultInvalidTSS:                "invalid-tss",
	FaultSegmentNotPresent:         "segment-not-present",
	FaultStackSegment:              "stack-segment",
	FaultGeneralProtection:         "general-protection",
	FaultPageFault:                 "page-fault",
	FaultSpuriousInterruptBug:      "spurious-interrupt-bug",
	FaultCoprocessorError:          "coprocessor-error",
	FaultAlignmentCheck:            "alignment-check",
	FaultMachineCheck:              "machine-check",
	FaultSIMDCoprocessorError:      "simd-coprocessor-error",
}

var eventNames = [...]string{
	EventSyscall - NrFaults:  "syscall",
	EventSchedule - NrFaults: "schedule",
	EventSigwake - NrFaults:  "sigwake",
	EventSetsched - NrFaults: "setsched",
	EventInit - NrFaults:     "init",
	EventExit - NrFaults:     "exit",
	EventCleanup - NrFaults:  "cleanup",
	EventReturn - NrFaults:   "return",
	EventTick - NrFaults:     "tick",
}

// IsFault reports whether e is a fault vector.
func (e Event) IsFault() bool {
	return e < NrFaults
}

// Valid reports whether e fits in an event table.
func (e Event) Valid() bool {
	return e < NrEvents
}

func (e Event) String() string {
	switch {
	case e < Event(len(faultNames)) && faultNames[e] != "":
		return faultNames[e]
	case e.IsFault():
		return fmt.Sprintf("fault%d", uint32(e))
	case e < NrEvents:
		return eventNames[e-NrFaults]
	}
	return fmt.Sprintf("Event(%d)", uint32(e))
}
