// Package trap implements the trap dispatcher: decode scause, route to the
// syscall table, the page-fault handler, or the timer, and drain pending
// signals on the way back to user mode (spec SS4.3).
package trap

import "defs"
import "proc"
import "sched"
import "signal"
import "timer"
import "trapcx"
import "vm"

/// Dispatcher owns the collaborators HandleTrap and TrapReturn need: the
/// syscall table, a function value that kernel.Boot wires to
/// syscalls.Table.Dispatch, and the kernel's clock. HandleTrap's timer case
/// only reports Yield; it does not read Clock or re-arm the next tick.
type Dispatcher struct {
	Syscall func(tc *trapcx.TrapContext_t, p *proc.Proc_t) int64
	Clock   timer.Clock
}

/// Result tells the scheduler loop what HandleTrap decided: whether the
/// task should be preempted (timer), should be destroyed (fatal fault), or
/// simply continues.
type Result int

const (
	Continue Result = iota
	Yield
	Destroyed
)

/// HandleTrap is entered with the kernel's satp already installed (the
/// trampoline's job, spec SS4.2 step 6). scause/stval are the values the
/// hart left in those CSRs; p is the task that just trapped.
func (d *Dispatcher) HandleTrap(p *proc.Proc_t, scause, stval uint64) Result {
	switch {
	case scause == uecallCause:
		p.TrapCx.AdvancePastEcall()
		ret := d.Syscall(&p.TrapCx, p)
		p.Lock_proc()
		exited := p.Status == proc.Zombie
		p.Unlock_proc()
		if exited {
			// exit/exit_group already ran sched.ExitCurrentAndRunNext
			// directly (spec SS4.5's exit path never goes through
			// TrapReturn's signal check), so the scheduler's current-task
			// slot has already moved on; the caller must not try to
			// resume p.
			return Destroyed
		}
		p.TrapCx.SetReturnValue(ret)
		return Continue

	case isPageFault(scause):
		if uintptr(stval) >= vm.TRAMPOLINE {
			p.Signals.Set(defs.SIGSEGV)
			return Continue
		}
		accessWrite := scause == storePageFault
		if err := p.As.PageFault(uintptr(stval), accessWrite); err != 0 {
			p.Signals.Set(defs.SIGSEGV)
		}
		return Continue

	case scause == illegalInstruction:
		p.Signals.Set(defs.SIGILL)
		return Continue

	case scause == instructionFault:
		p.Signals.Set(defs.SIGSEGV)
		return Continue

	case scause == supervisorTimer:
		return Yield

	default:
		panic("unreachable trap cause")
	}
}

// RISC-V scause values relevant to this dispatcher (spec SS4.3's table),
// expressed with the interrupt bit already resolved: user ecall and the
// instruction/load/store fault causes are synchronous exceptions; the timer
// is the one asynchronous cause this kernel handles.
const (
	instructionMisaligned = 0
	instructionFault      = 1
	illegalInstruction    = 2
	loadPageFault         = 13
	storePageFault        = 15
	uecallCause           = 8
	supervisorTimer       = (1 << 63) | 5
)

func isPageFault(scause uint64) bool {
	return scause == loadPageFault || scause == storePageFault
}

/// TrapReturn drains p's pending fatal signals (spec SS4.3's step (a)): if
/// one is set, the task is torn down via sched.ExitCurrentAndRunNext and
/// Destroyed is returned so the caller does not attempt to resume it.
/// Otherwise it reports the trap-context VA and user satp the trampoline's
/// __restore should resume with.
func (d *Dispatcher) TrapReturn(p *proc.Proc_t) (Result, uintptr, uint64) {
	if sig, _, fatal := signal.CheckSignalsOfCurrent(&p.Signals); fatal {
		sched.ExitCurrentAndRunNext(-signal.ExitStatus(sig))
		return Destroyed, 0, 0
	}
	return Continue, vm.TRAPCONTEXT, uint64(p.As.P_pmap) | satpModeSv39
}

// satpModeSv39 sets satp's MODE field to Sv39 (value 8, shifted into bits
// 63:60), the mode this kernel's page tables are always built in.
const satpModeSv39 = uint64(8) << 60
