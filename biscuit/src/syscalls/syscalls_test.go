package syscalls

import "testing"

import "defs"
import "mem"
import "proc"
import "sched"
import "testelf"
import "trapcx"

func resetScheduler() {
	// sched keeps package-level state; each test needs a clean slate since
	// pid allocation and the ready queue are both global to the package.
	for sched.FetchTask() != nil {
	}
}

func newTestProc(t *testing.T, npages int) (*proc.Proc_t, mem.Pa_t) {
	t.Helper()
	mem.Phys_init(npages)
	_, trampolinePa, ok := mem.Physmem.Refpg_new()
	if !ok {
		t.Fatal("no frame for trampoline")
	}
	SetTrampolinePa(uintptr(trampolinePa))
	p, err := proc.NewInitProc(testelf.Build(nil), trampolinePa, func(b []byte) (int, error) { return len(b), nil }, func(b []byte) (int, error) { return len(b), nil })
	if err != 0 {
		t.Fatalf("NewInitProc: %d", err)
	}
	return p, trampolinePa
}

func tableFor() *Table {
	return &Table{Yield: func() {}}
}

func withSyscall(tc *trapcx.TrapContext_t, num uint64, args ...uint64) {
	tc.X[16] = num
	for i, a := range args {
		tc.X[9+i] = a
	}
}

func TestDispatchGetpid(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, SYS_GETPID)
	if got := tbl.Dispatch(&p.TrapCx, p); got != int64(p.Pid) {
		t.Fatalf("SYS_GETPID = %d, want %d", got, p.Pid)
	}
}

func TestDispatchUnknownSyscallReturnsENOSYS(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, 0xffff)
	got := tbl.Dispatch(&p.TrapCx, p)
	if got != -int64(defs.ENOSYS) {
		t.Fatalf("unknown syscall = %d, want %d", got, -int64(defs.ENOSYS))
	}
}

func TestDispatchForkReturnsChildPidToParentAndZeroToChild(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, SYS_FORK, 0, 0)
	childPid := tbl.Dispatch(&p.TrapCx, p)
	if childPid <= int64(p.Pid) {
		t.Fatalf("fork return value %d does not look like a fresh child pid", childPid)
	}
	child, ok := sched.Pid2Task(defs.Pid_t(childPid))
	if !ok {
		t.Fatal("fork did not register the child with sched")
	}
	if child.TrapCx.X[9] != 0 {
		t.Fatalf("child's own fork return value = %d, want 0", child.TrapCx.X[9])
	}
}

func TestDispatchBrkGrowsAndQueries(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, SYS_BRK, 0)
	base := tbl.Dispatch(&p.TrapCx, p)

	withSyscall(&p.TrapCx, SYS_BRK, uint64(base)+uint64(mem.PGSIZE))
	grown := tbl.Dispatch(&p.TrapCx, p)
	if grown != base+int64(mem.PGSIZE) {
		t.Fatalf("brk grow = %d, want %d", grown, base+int64(mem.PGSIZE))
	}

	withSyscall(&p.TrapCx, SYS_BRK, 0)
	queried := tbl.Dispatch(&p.TrapCx, p)
	if queried != grown {
		t.Fatalf("brk query = %d, want %d", queried, grown)
	}
}

func TestDispatchMmapThenMunmapThenFaults(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, SYS_MMAP, 0, uint64(mem.PGSIZE), protRead|protWrite)
	addr := tbl.Dispatch(&p.TrapCx, p)
	if addr == 0 {
		t.Fatal("mmap returned a nil address")
	}

	withSyscall(&p.TrapCx, SYS_MUNMAP, uint64(addr))
	if got := tbl.Dispatch(&p.TrapCx, p); got != 0 {
		t.Fatalf("munmap = %d, want 0", got)
	}

	if err := p.As.PageFault(uintptr(addr), false); err == 0 {
		t.Fatal("access to an munmap'd address unexpectedly succeeded")
	}
}

func TestDispatchKillUnknownPidFails(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, SYS_KILL, 999999, uint64(defs.SIGKILL))
	if got := tbl.Dispatch(&p.TrapCx, p); got != 1 {
		t.Fatalf("kill of unknown pid = %d, want 1", got)
	}
}

func TestDispatchWait4ReapsExitedChild(t *testing.T) {
	resetScheduler()
	p, _ := newTestProc(t, 256)
	tbl := tableFor()

	withSyscall(&p.TrapCx, SYS_FORK, 0, 0)
	childPid := tbl.Dispatch(&p.TrapCx, p)
	child, _ := sched.Pid2Task(defs.Pid_t(childPid))
	sched.RemoveFromPid2Task(child.Pid) // simulate the child having already run and exited
	child.Exit(5)

	withSyscall(&p.TrapCx, SYS_WAIT4, uint64(childPid), 0)
	reaped := tbl.Dispatch(&p.TrapCx, p)
	if reaped != childPid {
		t.Fatalf("wait4 = %d, want %d", reaped, childPid)
	}
	if p.HasChild(defs.Pid_t(childPid)) {
		t.Fatal("wait4 must remove the reaped child from Children")
	}
}
