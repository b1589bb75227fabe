package ipipe

// Sysinfo is the read-only snapshot real-time domains use to
// calibrate their timing.
type Sysinfo struct {
	CPUs      int    `json:"cpus"`
	CPUFreq   uint64 `json:"cpu_freq"`
	TimerIRQ  IRQ    `json:"timer_irq"`
	TimerFreq uint64 `json:"timer_freq"`
	ClockFreq uint64 `json:"clock_freq"`
}

// Verdict tells the interrupt entry code how to leave.
type Verdict int

const (
	// VerdictResume resumes the interrupted context directly.
	VerdictResume Verdict = iota
	// VerdictHostExit lets the host run its regular interrupt exit
	// path: root is current, unstalled, and may have work to do.
	VerdictHostExit
)

func (v Verdict) String() string {
	if v == VerdictHostExit {
		return "host-exit"
	}
	return "resume"
}

// FaultVerdict tells the exception entry code how to leave.
type FaultVerdict int

const (
	// FaultResume means a domain notifier handled the fault.
	FaultResume FaultVerdict = iota
	// FaultPassToHost means the host fault path took care of it.
	FaultPassToHost
)

func (v FaultVerdict) String() string {
	if v == FaultPassToHost {
		return "pass-to-host"
	}
	return "resume"
}

// SyscallVerdict tells the syscall entry code whether the host should
// run the system call.
type SyscallVerdict int

const (
	// SyscallPass hands the call to the host.
	SyscallPass SyscallVerdict = iota
	// SyscallHandled skips the host and its tail work.
	SyscallHandled
	// SyscallHandledTail skips the host but runs its tail work
	// (signals, rescheduling).
	SyscallHandledTail
)
