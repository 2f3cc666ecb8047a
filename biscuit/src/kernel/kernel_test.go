package kernel

import "testing"

import "proc"
import "sched"
import "syscalls"
import "testelf"

// drainReadyQueue clears any task left behind by an earlier test in this
// binary; sched's ready queue is a package-level global shared across every
// Boot call in the process.
func drainReadyQueue() {
	for sched.FetchTask() != nil {
	}
}

func TestBootLoadsInitproc(t *testing.T) {
	drainReadyQueue()
	image := testelf.Build(nil)
	k, err := Boot(Config{InitprocELF: image, Npages: 512})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if k.Initproc == nil {
		t.Fatal("Boot did not construct initproc")
	}
	if k.Initproc.TrapCx.Epc != testelf.LoadVA {
		t.Fatalf("initproc entry = %#x, want %#x", k.Initproc.TrapCx.Epc, testelf.LoadVA)
	}
	if k.Initproc.TrapCx.X[1] == 0 {
		t.Fatal("initproc's initial stack pointer was never set")
	}
}

func TestRunDrainsAnExitingInitproc(t *testing.T) {
	drainReadyQueue()
	image := testelf.Build(nil)
	k, err := Boot(Config{InitprocELF: image, Npages: 512})
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}

	steps := 0
	k.Run(func(p *proc.Proc_t) (uint64, uint64) {
		steps++
		if steps > 4 {
			t.Fatal("Run did not settle after initproc exited")
		}
		p.TrapCx.X[16] = syscalls.SYS_EXIT_GROUP
		p.TrapCx.X[9] = 0
		return 8, 0 // uecallCause
	})

	if steps != 1 {
		t.Fatalf("stepOne ran %d times, want exactly 1 (idle once initproc exits)", steps)
	}
	if k.Initproc.Status != proc.Zombie {
		t.Fatalf("initproc.Status = %v, want Zombie", k.Initproc.Status)
	}
}
