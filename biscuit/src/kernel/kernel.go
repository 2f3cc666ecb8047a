// Package kernel wires every subsystem together at boot: the physical
// frame allocator, the kernel heap budget, the shared trampoline frame,
// initproc's address space, and the scheduler's idle loop (spec SS6
// "Initial process... linked into the kernel image").
package kernel

import "fmt"
import "os"

import "klog"
import "mem"
import "oommsg"
import "proc"
import "res"
import "sched"
import "syscalls"
import "timer"
import "trap"

/// Config bundles the boot-time parameters a real deployment would read
/// from the build (embedded ELF bytes, frame pool size); tests construct
/// one directly with a synthetic image.
type Config struct {
	// InitprocELF is initproc's executable image, embedded into the kernel
	// image in a real deployment (spec SS6).
	InitprocELF []byte
	// Npages sizes the simulated physical frame pool mem.Phys_init carves
	// out of the Go heap.
	Npages int
	// HeapBudget bounds the kernel's own reservation-accounted allocations
	// (res.SetBudget); zero means Npages pages' worth of bytes.
	HeapBudget int64
	// Clock drives get_time/nanosleep/gettimeofday; nil defaults to
	// timer.SystemClock.
	Clock timer.Clock
}

/// Kernel is the booted system: its dispatcher, syscall table, and the
/// physical frame pool backing every address space.
type Kernel struct {
	Dispatcher *trap.Dispatcher
	Syscalls   *syscalls.Table
	Phys       *mem.BitmapAllocator
	Initproc   *proc.Proc_t
}

var oomWatcherStarted bool

// watchOOM drains mem's out-of-memory notifications into the kernel log,
// the one consumer of oommsg.OomCh; started once per process.
func watchOOM() {
	if oomWatcherStarted {
		return
	}
	oomWatcherStarted = true
	go func() {
		for msg := range oommsg.OomCh {
			klog.Printf("kernel: out of physical frames (need %d)\n", msg.Need)
		}
	}()
}

/// Boot constructs the frame allocator, maps the shared trampoline frame,
/// loads initproc from its embedded ELF image, and schedules it -- the
/// in-workspace analogue of the real kernel's entry point.
func Boot(cfg Config) (*Kernel, error) {
	watchOOM()
	if cfg.Npages <= 0 {
		cfg.Npages = 4096
	}
	phys := mem.Phys_init(cfg.Npages)

	if cfg.HeapBudget > 0 {
		res.SetBudget(cfg.HeapBudget)
	} else {
		res.SetBudget(int64(cfg.Npages) * int64(mem.PGSIZE))
	}

	_, trampolinePa, ok := phys.Refpg_new()
	if !ok {
		return nil, fmt.Errorf("kernel: no frames for trampoline")
	}
	syscalls.SetTrampolinePa(uintptr(trampolinePa))

	clock := cfg.Clock
	if clock == nil {
		clock = timer.SystemClock
	}

	sysTable := &syscalls.Table{Clock: clock, Yield: func() { sched.SuspendCurrentAndRunNext() }}
	dispatcher := &trap.Dispatcher{Syscall: sysTable.Dispatch, Clock: clock}

	initp, err := proc.NewInitProc(cfg.InitprocELF, trampolinePa, os.Stdout.Write, os.Stderr.Write)
	if err != 0 {
		return nil, fmt.Errorf("kernel: initproc load failed: %d", err)
	}
	sched.Initproc = initp
	sched.AddTask(initp)

	return &Kernel{Dispatcher: dispatcher, Syscalls: sysTable, Phys: phys, Initproc: initp}, nil
}

/// Run drives the single-hart idle loop: fetch the next ready task, run it
/// until it traps, dispatch the trap, and loop. stepOne is supplied by the
/// caller (normally the CPU package's trampoline-driven loop); Run exists so
/// tests can drive the scheduler without a real hart.
func (k *Kernel) Run(stepOne func(p *proc.Proc_t) (scause, stval uint64)) {
	p := sched.SuspendCurrentAndRunNext()
	for p != nil {
		scause, stval := stepOne(p)
		switch k.Dispatcher.HandleTrap(p, scause, stval) {
		case trap.Yield:
			p = sched.SuspendCurrentAndRunNext()
		case trap.Destroyed:
			// p's own exit (or a fatal signal drained on trap return)
			// already advanced the scheduler's current-task slot; pick it
			// up rather than suspending p a second time.
			p = sched.Current()
		default:
			if res, _, _ := k.Dispatcher.TrapReturn(p); res == trap.Destroyed {
				p = sched.Current()
			}
		}
	}
	// idle: no ready task (spec SS4.6 "spin on an idle context")
}
