package sched

import "testing"

import "defs"
import "mem"
import "proc"
import "testelf"

func resetSched() {
	mu.Lock()
	readyQueue = nil
	pid2task = map[defs.Pid_t]*proc.Proc_t{}
	current = nil
	mu.Unlock()
	Initproc = nil
}

func newProc(t *testing.T, npages int) *proc.Proc_t {
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

func TestAddTaskRegistersAndEnqueues(t *testing.T) {
	resetSched()
	p := newProc(t, 256)
	AddTask(p)

	if got, ok := Pid2Task(p.Pid); !ok || got != p {
		t.Fatal("AddTask did not register task in the pid registry")
	}
	if ReadyLen() != 1 {
		t.Fatalf("ReadyLen = %d, want 1", ReadyLen())
	}
	if FetchTask() != p {
		t.Fatal("FetchTask did not return the enqueued task")
	}
	if ReadyLen() != 0 {
		t.Fatal("FetchTask did not dequeue")
	}
}

func TestSuspendCurrentAndRunNextRoundRobins(t *testing.T) {
	resetSched()
	a := newProc(t, 256)
	b := newProc(t, 256)
	AddTask(a)
	AddTask(b)

	first := SuspendCurrentAndRunNext()
	if first != a {
		t.Fatalf("first task = %v, want a", first)
	}
	if Current() != a {
		t.Fatal("Current() must report the fetched task")
	}

	second := SuspendCurrentAndRunNext()
	if second != b {
		t.Fatalf("second task = %v, want b (a must be re-enqueued behind b)", second)
	}
	if a.Status != proc.Ready {
		t.Fatalf("a.Status = %v, want Ready after being suspended", a.Status)
	}
}

func TestExitCurrentAndRunNextReparentsToInitproc(t *testing.T) {
	resetSched()
	init := newProc(t, 256)
	Initproc = init
	AddTask(init)
	SuspendCurrentAndRunNext() // installs init as current

	child, err := init.Fork(0, 0)
	if err != 0 {
		t.Fatalf("Fork: %d", err)
	}
	AddTask(child)
	SuspendCurrentAndRunNext() // re-enqueue init, fetch child as current

	grandchild, err := child.Fork(0, 0)
	if err != 0 {
		t.Fatalf("Fork: %d", err)
	}
	AddTask(grandchild)

	ExitCurrentAndRunNext(3)
	if child.Status != proc.Zombie {
		t.Fatalf("child.Status = %v, want Zombie", child.Status)
	}
	if grandchild.Parent != init {
		t.Fatal("grandchild must be reparented to Initproc on its parent's exit")
	}
	if _, ok := Pid2Task(child.Pid); ok {
		t.Fatal("ExitCurrentAndRunNext must remove the exited task from the pid registry")
	}
}

func TestTwoChildrenReapedWithDistinctExitCodes(t *testing.T) {
	resetSched()
	parent := newProc(t, 256)
	Initproc = parent
	AddTask(parent)
	SuspendCurrentAndRunNext() // installs parent as current

	childA, err := parent.Fork(0, 0)
	if err != 0 {
		t.Fatalf("Fork childA: %d", err)
	}
	childB, err := parent.Fork(0, 0)
	if err != 0 {
		t.Fatalf("Fork childB: %d", err)
	}
	AddTask(childA)
	AddTask(childB)

	// Run childB to completion first, out of fork order, the way a
	// busy-looping child might finish before a sleeping one.
	SuspendCurrentAndRunNext() // re-enqueue parent, fetch childA
	SuspendCurrentAndRunNext() // re-enqueue childA, fetch childB
	ExitCurrentAndRunNext(2)   // childB exits with 2

	if childB.Status != proc.Zombie || childB.ExitCode != 2 {
		t.Fatalf("childB: status=%v code=%d, want Zombie/2", childB.Status, childB.ExitCode)
	}
	if childA.Status == proc.Zombie {
		t.Fatal("childA must still be running; only childB has exited")
	}

	// Cycle the ready queue around until childA is current, then exit it too.
	for Current() != childA {
		SuspendCurrentAndRunNext()
	}
	ExitCurrentAndRunNext(9) // childA exits with 9

	if childA.Status != proc.Zombie || childA.ExitCode != 9 {
		t.Fatalf("childA: status=%v code=%d, want Zombie/9", childA.Status, childA.ExitCode)
	}

	first, ok := parent.FindZombieChild(childB.Pid)
	if !ok || first.ExitCode != 2 {
		t.Fatal("parent did not see childB's independent exit code")
	}
	parent.RemoveChild(first)
	second, ok := parent.FindZombieChild(childA.Pid)
	if !ok || second.ExitCode != 9 {
		t.Fatal("parent did not see childA's independent exit code")
	}
}

func TestTimerPreemptionGivesBothChildrenATurn(t *testing.T) {
	resetSched()
	parent := newProc(t, 256)
	Initproc = parent
	AddTask(parent)
	SuspendCurrentAndRunNext()

	a, _ := parent.Fork(0, 0)
	b, _ := parent.Fork(0, 0)
	AddTask(a)
	AddTask(b)

	ran := map[defs.Pid_t]int{}
	cur := SuspendCurrentAndRunNext() // parent re-queued, a fetched
	for i := 0; i < 6; i++ {
		ran[cur.Pid]++
		cur = SuspendCurrentAndRunNext() // simulates a timer trap's reschedule
	}
	if ran[a.Pid] == 0 || ran[b.Pid] == 0 {
		t.Fatalf("timer-driven round robin starved a task: ran = %v", ran)
	}
}

func TestKillFatalSignalSetsPendingBit(t *testing.T) {
	resetSched()
	p := newProc(t, 256)
	AddTask(p)

	if !KillFatalSignal(p.Pid, defs.SIGKILL) {
		t.Fatal("KillFatalSignal did not find a registered pid")
	}
	if KillFatalSignal(defs.Pid_t(999999), defs.SIGKILL) {
		t.Fatal("KillFatalSignal must return false for an unknown pid")
	}
	if p.Signals.Snapshot()&(1<<defs.SIGKILL) == 0 {
		t.Fatal("KillFatalSignal did not set the pending bit")
	}
}
