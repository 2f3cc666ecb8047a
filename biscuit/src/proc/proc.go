// Package proc implements the process control block and the fork/exec/wait/
// exit lifecycle (spec SS3, SS4.5). It never touches the ready queue or the
// PID registry directly -- those belong to sched, which imports proc for
// the Proc_t type and drives the lifecycle methods here.
package proc

import "strings"
import "sync"
import "sync/atomic"

import "accnt"
import "defs"
import "fd"
import "fs"
import "limits"
import "mem"
import "signal"
import "trapcx"
import "ustr"
import "vm"

/// Status_t is a PCB's scheduling state.
type Status_t int

const (
	Ready Status_t = iota
	Running
	Zombie
)

var nextpid int64 = 1

func allocPid() defs.Pid_t {
	return defs.Pid_t(atomic.AddInt64(&nextpid, 1) - 1)
}

/// Proc_t is a process control block. The embedded mutex is the single-
/// holder lock over every mutable field below it (spec SS5: "PCB inner
/// records use a single-holder exclusive-access discipline"); As has its
/// own lock for page-table manipulation, acquired independently.
type Proc_t struct {
	Pid  defs.Pid_t
	Tgid defs.Pid_t

	As        *vm.AddressSpace_t
	TrapCx    trapcx.TrapContext_t
	trapCxPa  mem.Pa_t

	sync.Mutex
	lockheld bool

	Status Status_t

	Parent   *Proc_t // weak: never drives Parent's lifetime
	Children []*Proc_t

	ExitCode int

	Fds     []*fd.Fd_t
	Cwd     *fd.Cwd_t
	Signals signal.Pending_t

	Rlimits [defs.RlimitNlimits]limits.RLimit_t

	HeapBase uintptr
	HeapEnd  uintptr
	MmapTop  uintptr

	Accnt accnt.Accnt_t
}

/// Lock_proc acquires the PCB's inner lock. Acquiring it while already held
/// is a kernel bug (spec SS5/SS7) and panics rather than deadlocking
/// silently.
func (p *Proc_t) Lock_proc() {
	if p.lockheld {
		panic("double lock of proc inner")
	}
	p.Lock()
	p.lockheld = true
}

/// Unlock_proc releases the PCB's inner lock.
func (p *Proc_t) Unlock_proc() {
	p.lockheld = false
	p.Unlock()
}

/// stdFds returns the three preinstalled descriptors every process starts
/// with: stdin (always EOF, no interactive input source exists), stdout,
/// and stderr, both wired to the host's real stdio via fs.NewConsoleFops.
func stdFds(write1, write2 func([]byte) (int, error)) []*fd.Fd_t {
	stdin := &fd.Fd_t{Fops: fs.NewConsoleFops(func(p []byte) (int, error) { return 0, nil }), Perms: fd.FD_READ}
	stdout := &fd.Fd_t{Fops: fs.NewConsoleFops(write1), Perms: fd.FD_WRITE}
	stderr := &fd.Fd_t{Fops: fs.NewConsoleFops(write2), Perms: fd.FD_WRITE}
	return []*fd.Fd_t{stdin, stdout, stderr}
}

/// NewInitProc constructs initproc: the PCB the kernel schedules at boot,
/// loaded directly from an embedded ELF image rather than via fork+exec
/// (spec SS6: "initproc is linked into the kernel image").
func NewInitProc(image []byte, trampolinePa mem.Pa_t, stdout, stderr func([]byte) (int, error)) (*Proc_t, defs.Err_t) {
	as, loaded, err := vm.NewUserFromELF(image, trampolinePa)
	if err != 0 {
		return nil, err
	}
	p := &Proc_t{
		Pid:      allocPid(),
		As:       as,
		trapCxPa: loaded.TrapCxPa,
		Status:   Ready,
		Fds:      stdFds(stdout, stderr),
		Cwd:      fd.MkRootCwd(mustOpenRoot()),
		Rlimits:  limits.DefaultRlimits(),
		HeapBase: loaded.StackTop,
		HeapEnd:  loaded.StackTop,
		MmapTop:  vm.USERTOP,
	}
	p.Tgid = p.Pid
	p.TrapCx = trapcx.AppInit(uint64(loaded.Entry), uint64(loaded.StackTop), 0, 0, 0)
	return p, 0
}

func mustOpenRoot() *fd.Fd_t {
	f, err := fs.Open(ustr.MkUstrRoot(), fs.O_RDONLY, 0)
	if err != 0 {
		panic("root must open")
	}
	return f
}

/// Fork creates a child PCB sharing a copy-on-write clone of this process's
/// address space (spec SS4.5). The caller (sched, via the fork syscall) is
/// responsible for enqueuing the child and returning its pid to the parent;
/// Fork itself only builds the PCB.
func (p *Proc_t) Fork(flags defs.CloneFlags, childStack uintptr) (*Proc_t, defs.Err_t) {
	p.Lock_proc()
	defer p.Unlock_proc()

	childAs, err := p.As.Fork()
	if err != 0 {
		return nil, err
	}
	trapCxPa, err := childAs.MapTrapContext()
	if err != 0 {
		return nil, err
	}

	nfds := make([]*fd.Fd_t, len(p.Fds))
	for i, f := range p.Fds {
		if f == nil {
			continue
		}
		nf, err := fd.Copyfd(f)
		if err != 0 {
			return nil, err
		}
		nfds[i] = nf
	}

	child := &Proc_t{
		Pid:      allocPid(),
		As:       childAs,
		trapCxPa: trapCxPa,
		Status:   Ready,
		Parent:   p,
		Fds:      nfds,
		Cwd:      p.Cwd,
		Rlimits:  p.Rlimits,
		HeapBase: p.HeapBase,
		HeapEnd:  p.HeapEnd,
		MmapTop:  p.MmapTop,
	}
	child.Tgid = child.Pid

	child.TrapCx = p.TrapCx
	child.TrapCx.SetReturnValue(0)
	if childStack != 0 {
		child.TrapCx.X[1] = uint64(childStack) // sp
	}

	p.Children = append(p.Children, child)
	return child, 0
}

/// Exec resolves path, rewriting a ".sh" suffix to "./busybox sh ..." (spec
/// SS4.5), loads the named ELF into a brand-new address space, and rebuilds
/// argv/envp on the fresh user stack. The old address space's frames are
/// dropped. Returns -ENOENT if the resolved path does not exist.
func (p *Proc_t) Exec(path string, argv []string, envp []string, trampolinePa mem.Pa_t) defs.Err_t {
	if strings.HasSuffix(path, ".sh") {
		rewritten := append([]string{"./busybox", "sh"}, argv...)
		argv = rewritten
		path = "/busybox"
	}
	if envp == nil {
		envp = []string{"LD_LIBRARY_PATH=/", "PATH=/", "ENOUGH=2500"}
	}
	image, err := fs.ReadFull(p.Cwd.Canonicalpath(ustr.Ustr(path)))
	if err != 0 {
		return -defs.ENOENT
	}
	newAs, loaded, err := vm.NewUserFromELF(image, trampolinePa)
	if err != 0 {
		return err
	}
	argvVa, envpVa, sp, err := pushArgvEnvp(newAs, loaded.StackTop, argv, envp)
	if err != 0 {
		return err
	}

	p.Lock_proc()
	defer p.Unlock_proc()
	old := p.As
	p.As = newAs
	p.trapCxPa = loaded.TrapCxPa
	p.HeapBase = loaded.StackTop
	p.HeapEnd = loaded.StackTop
	p.MmapTop = vm.USERTOP
	p.TrapCx = trapcx.AppInit(uint64(loaded.Entry), uint64(sp), p.TrapCx.Kernel_satp, p.TrapCx.Kernel_sp, p.TrapCx.Trap_handler)
	p.TrapCx.X[9] = uint64(len(argv))  // a0 = argc
	p.TrapCx.X[10] = uint64(argvVa)    // a1 = argv
	p.TrapCx.X[11] = uint64(envpVa)    // a2 = envp
	old.Free()
	return 0
}

// pushArgvEnvp writes argv and envp strings plus their NUL-terminated
// pointer arrays onto the top of the user stack, RISC-V calling-convention
// aligned (16 bytes), and returns their base addresses plus the new sp.
func pushArgvEnvp(as *vm.AddressSpace_t, top uintptr, argv, envp []string) (argvVa, envpVa, sp uintptr, err defs.Err_t) {
	sp = top
	writeStr := func(s string) uintptr {
		b := append([]byte(s), 0)
		sp -= uintptr(len(b))
		parts, e := as.TranslatedRefMut(sp, len(b))
		if e != 0 {
			err = e
			return sp
		}
		off := 0
		for _, part := range parts {
			n := copy(part, b[off:])
			off += n
		}
		return sp
	}

	envPtrs := make([]uintptr, 0, len(envp))
	for i := len(envp) - 1; i >= 0; i-- {
		envPtrs = append([]uintptr{writeStr(envp[i])}, envPtrs...)
	}
	argPtrs := make([]uintptr, 0, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		argPtrs = append([]uintptr{writeStr(argv[i])}, argPtrs...)
	}
	if err != 0 {
		return 0, 0, 0, err
	}

	sp &^= 7 // pointer-array alignment

	writePtrArray := func(ptrs []uintptr) uintptr {
		sp -= uintptr(len(ptrs)+1) * 8
		base := sp
		for i, pv := range ptrs {
			if e := as.Userwriten(base+uintptr(i)*8, 8, int(pv)); e != 0 {
				err = e
			}
		}
		if e := as.Userwriten(base+uintptr(len(ptrs))*8, 8, 0); e != 0 {
			err = e
		}
		return base
	}

	envpVa = writePtrArray(envPtrs)
	argvVa = writePtrArray(argPtrs)
	sp &^= 15 // RISC-V stack alignment
	if err != 0 {
		return 0, 0, 0, err
	}
	return argvVa, envpVa, sp, 0
}

/// Exit marks the process Zombie, stores its exit code, closes its fds, and
/// frees its whole address space (As.Free), the trap-context frame and the
/// page-table root included; the saved registers stay in the PCB's TrapCx
/// field until the parent reaps it. Proc_t has no kernel stack to keep.
/// Children are reparented by
/// the caller (sched.ExitCurrentAndRunNext), since that requires the global
/// initproc reference sched holds.
func (p *Proc_t) Exit(code int) {
	p.Lock_proc()
	defer p.Unlock_proc()
	p.Status = Zombie
	p.ExitCode = code
	for _, f := range p.Fds {
		if f != nil {
			fd.Close_panic(f)
		}
	}
	p.As.Free()
}

/// FindZombieChild scans children for a Zombie matching pid (-1 matches
/// any), returning it without removing it from the Children slice -- the
/// caller (Wait) does that with RemoveChild. The pid itself left the
/// registry when the child exited (sched.ExitCurrentAndRunNext).
func (p *Proc_t) FindZombieChild(pid defs.Pid_t) (*Proc_t, bool) {
	for _, c := range p.Children {
		if pid != -1 && c.Pid != pid {
			continue
		}
		c.Lock_proc()
		st := c.Status
		c.Unlock_proc()
		if st == Zombie {
			return c, true
		}
	}
	return nil, false
}

/// HasChild reports whether pid names any child, zombie or not -- used by
/// waitpid to distinguish "no such child" from "not exited yet".
func (p *Proc_t) HasChild(pid defs.Pid_t) bool {
	if pid == -1 {
		return len(p.Children) > 0
	}
	for _, c := range p.Children {
		if c.Pid == pid {
			return true
		}
	}
	return false
}

/// Wait looks for a zombie child matching pid and reaps it in one locked
/// step. It returns defs.ErrAgainInternal when pid names a live (non-zombie)
/// child -- the caller should suspend and retry, never surface this value to
/// userspace -- and -defs.ECHILD when pid names no child at all.
func (p *Proc_t) Wait(pid defs.Pid_t) (*Proc_t, defs.Err_t) {
	p.Lock_proc()
	defer p.Unlock_proc()
	if !p.HasChild(pid) {
		return nil, -defs.ECHILD
	}
	child, found := p.FindZombieChild(pid)
	if !found {
		return nil, defs.ErrAgainInternal
	}
	p.RemoveChild(child)
	return child, 0
}

/// RemoveChild deletes child from Children.
func (p *Proc_t) RemoveChild(child *Proc_t) {
	for i, c := range p.Children {
		if c == child {
			p.Children = append(p.Children[:i], p.Children[i+1:]...)
			return
		}
	}
}

/// Reparent moves every child of p onto newParent's Children list and
/// rewrites each child's weak Parent pointer, the step exit performs before
/// going Zombie (spec SS4.5).
func (p *Proc_t) Reparent(newParent *Proc_t) {
	for _, c := range p.Children {
		c.Parent = newParent
		newParent.Children = append(newParent.Children, c)
	}
	p.Children = nil
}

/// TrapCxPa returns the physical address of this process's trap-context
/// frame, for the trap dispatcher to Dmap directly rather than walking the
/// process's own page table (spec SS4.1: "its physical frame is also
/// accessible from the kernel by pa lookup").
func (p *Proc_t) TrapCxPa() mem.Pa_t {
	return p.trapCxPa
}

/// Brk implements sbrk-style heap growth/shrink: addr==0 queries the
/// current break; a non-zero addr above HeapBase installs (or, if smaller,
/// tears down) a lazy Framed region covering the delta. Growth never
/// eagerly allocates frames (spec SS4.1/SS9 "lazy mapping requirement").
func (p *Proc_t) Brk(addr uintptr) (uintptr, defs.Err_t) {
	p.Lock_proc()
	defer p.Unlock_proc()
	if addr == 0 {
		return p.HeapEnd, 0
	}
	if addr < p.HeapBase {
		return p.HeapEnd, -defs.EINVAL
	}
	old := p.HeapEnd
	if addr == old {
		return old, 0
	}
	p.As.Lock_pmap()
	defer p.As.Unlock_pmap()
	if addr > old {
		length := addr - old
		r := vm.Vmregion_t{Start: old, Len: length, Perm: vm.PermR | vm.PermW, Lazy: true}
		if err := p.As.MapRegion(r); err != 0 {
			return old, err
		}
	} else {
		p.As.UnmapRegion(addr)
	}
	p.HeapEnd = addr
	return addr, 0
}
