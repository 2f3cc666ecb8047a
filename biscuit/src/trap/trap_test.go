package trap

import "testing"

import "defs"
import "mem"
import "proc"
import "sched"
import "signal"
import "testelf"
import "trapcx"
import "vm"

func freshProc(t *testing.T, npages int) *proc.Proc_t {
	t.Helper()
	mem.Phys_init(npages)
	_, trampolinePa, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("no frame for trampoline")
	}
	p, err := proc.NewInitProc(testelf.Build(nil), trampolinePa, func(b []byte) (int, error) { return len(b), nil }, func(b []byte) (int, error) { return len(b), nil })
	if err != 0 {
		t.Fatalf("NewInitProc: %d", err)
	}
	return p
}

func TestHandleTrapEcallDispatchesSyscall(t *testing.T) {
	p := freshProc(t, 256)
	startEpc := p.TrapCx.Epc
	var sawPid int64 = -1
	d := &Dispatcher{Syscall: func(tc *trapcx.TrapContext_t, pp *proc.Proc_t) int64 {
		sawPid = int64(pp.Pid)
		return 42
	}}

	res := d.HandleTrap(p, uecallCause, 0)
	if res != Continue {
		t.Fatalf("HandleTrap(ecall) = %v, want Continue", res)
	}
	if p.TrapCx.Epc != startEpc+4 {
		t.Fatalf("Epc after ecall = %#x, want %#x", p.TrapCx.Epc, startEpc+4)
	}
	if p.TrapCx.X[9] != 42 {
		t.Fatalf("a0 after syscall = %d, want 42", p.TrapCx.X[9])
	}
	if sawPid != int64(p.Pid) {
		t.Fatal("Syscall hook was not called with the trapping process")
	}
}

func TestHandleTrapIllegalInstructionSetsSIGILL(t *testing.T) {
	p := freshProc(t, 256)
	d := &Dispatcher{}

	res := d.HandleTrap(p, illegalInstruction, 0)
	if res != Continue {
		t.Fatalf("HandleTrap(illegal) = %v, want Continue", res)
	}
	if p.Signals.Snapshot()&(1<<defs.SIGILL) == 0 {
		t.Fatal("illegal instruction trap did not set SIGILL")
	}
}

func TestHandleTrapPageFaultIntoTrampolineIsFatal(t *testing.T) {
	p := freshProc(t, 256)
	d := &Dispatcher{}

	res := d.HandleTrap(p, loadPageFault, uint64(vm.TRAMPOLINE))
	if res != Continue {
		t.Fatalf("HandleTrap(pagefault) = %v, want Continue", res)
	}
	if p.Signals.Snapshot()&(1<<defs.SIGSEGV) == 0 {
		t.Fatal("fault into the trampoline region did not set SIGSEGV")
	}
}

func TestHandleTrapTimerYields(t *testing.T) {
	p := freshProc(t, 256)
	d := &Dispatcher{}

	if got := d.HandleTrap(p, supervisorTimer, 0); got != Yield {
		t.Fatalf("HandleTrap(timer) = %v, want Yield", got)
	}
}

func TestTrapReturnDestroysOnFatalSignal(t *testing.T) {
	p := freshProc(t, 256)
	sched.Initproc = p
	sched.AddTask(p)
	sched.SuspendCurrentAndRunNext() // installs p as current

	p.Signals.Set(defs.SIGSEGV)
	d := &Dispatcher{}
	res, _, _ := d.TrapReturn(p)
	if res != Destroyed {
		t.Fatalf("TrapReturn with a fatal signal pending = %v, want Destroyed", res)
	}
	if p.Status != proc.Zombie {
		t.Fatal("TrapReturn must have run the exit path for a fatally signaled process")
	}
	if p.ExitCode != -signal.ExitStatus(defs.SIGSEGV) {
		t.Fatalf("ExitCode = %d, want %d", p.ExitCode, -signal.ExitStatus(defs.SIGSEGV))
	}
}

func TestTrapReturnIgnoresNonFatalSignal(t *testing.T) {
	p := freshProc(t, 256)
	sched.Initproc = p
	sched.AddTask(p)
	sched.SuspendCurrentAndRunNext()

	p.Signals.Set(defs.SIGTERM)
	d := &Dispatcher{}
	res, _, _ := d.TrapReturn(p)
	if res != Continue {
		t.Fatalf("TrapReturn with only SIGTERM pending = %v, want Continue (SIGTERM is not fatal)", res)
	}
	if p.Status == proc.Zombie {
		t.Fatal("a non-fatal pending signal must not terminate the process")
	}
	if p.Signals.Snapshot()&(1<<defs.SIGTERM) == 0 {
		t.Fatal("SIGTERM must remain recorded in the pending bitset")
	}
}

func TestIllegalInstructionTerminatesWithMatchingExitCode(t *testing.T) {
	p := freshProc(t, 256)
	sched.Initproc = p
	sched.AddTask(p)
	sched.SuspendCurrentAndRunNext()

	d := &Dispatcher{}
	if res := d.HandleTrap(p, illegalInstruction, 0); res != Continue {
		t.Fatalf("HandleTrap(illegal) = %v, want Continue", res)
	}
	res, _, _ := d.TrapReturn(p)
	if res != Destroyed {
		t.Fatalf("TrapReturn after SIGILL = %v, want Destroyed", res)
	}
	if p.ExitCode != -signal.ExitStatus(defs.SIGILL) {
		t.Fatalf("ExitCode = %d, want %d", p.ExitCode, -signal.ExitStatus(defs.SIGILL))
	}
}

func TestTrapReturnContinuesWithoutSignal(t *testing.T) {
	p := freshProc(t, 256)
	d := &Dispatcher{}
	res, trapCxVa, satp := d.TrapReturn(p)
	if res != Continue {
		t.Fatalf("TrapReturn without a signal = %v, want Continue", res)
	}
	if trapCxVa != vm.TRAPCONTEXT {
		t.Fatalf("trap-context VA = %#x, want %#x", trapCxVa, vm.TRAPCONTEXT)
	}
	if satp&satpModeSv39 == 0 {
		t.Fatal("returned satp must carry the Sv39 mode bits")
	}
}
