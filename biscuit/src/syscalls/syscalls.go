// Package syscalls implements the numbered syscall table (spec SS4.4):
// argument translation across address spaces, wired into proc/vm/timer/
// signal/utsname/limits. Numbers follow the Linux RISC-V ABI where one
// exists, matching the spec's "numbers are advisory" note.
package syscalls

import "time"

import "defs"
import "limits"
import "mem"
import "proc"
import "sched"
import "stats"
import "timer"
import "trapcx"
import "utsname"
import "vm"

// Syscall numbers, mapped to the Linux RISC-V ABI where applicable.
const (
	SYS_GETCWD      = 17
	SYS_DUP         = 23
	SYS_FCNTL       = 25
	SYS_IOCTL       = 29
	SYS_MKDIRAT     = 34
	SYS_UNLINKAT    = 35
	SYS_UMOUNT2     = 39
	SYS_MOUNT       = 40
	SYS_CHDIR       = 49
	SYS_OPENAT      = 56
	SYS_CLOSE       = 57
	SYS_PIPE2       = 59
	SYS_GETDENTS64  = 61
	SYS_LSEEK       = 62
	SYS_READ        = 63
	SYS_WRITE       = 64
	SYS_PPOLL       = 73
	SYS_FACCESSAT   = 48
	SYS_EXIT        = 93
	SYS_EXIT_GROUP  = 94
	SYS_SET_TID_ADDR = 96
	SYS_NANOSLEEP   = 101
	SYS_CLOCK_GETTIME = 113
	SYS_YIELD       = 124
	SYS_KILL        = 129
	SYS_SIGACTION   = 134
	SYS_SIGPROCMASK = 135
	SYS_SETPGID     = 154
	SYS_GETPGID     = 155
	SYS_UNAME       = 160
	SYS_GETTIMEOFDAY = 169
	SYS_GETPID      = 172
	SYS_GETPPID     = 173
	SYS_GETUID      = 174
	SYS_GETEUID     = 175
	SYS_GETGID      = 176
	SYS_GETEGID     = 177
	SYS_GETTID      = 178
	SYS_SYSINFO     = 179
	SYS_BRK         = 214
	SYS_MUNMAP      = 215
	SYS_FORK        = 220
	SYS_EXEC        = 221
	SYS_MMAP        = 222
	SYS_MPROTECT    = 226
	SYS_MADVISE     = 233
	SYS_WAIT4       = 260
	SYS_PRLIMIT64   = 261
	SYS_GETRUSAGE   = 165
	SYS_TIMES       = 153
	SYS_SBRK        = 900 // not a real Linux number; this kernel's own extension
)

/// Table closes over the clock the kernel was booted with; timer-facing
/// syscalls (nanosleep, gettimeofday, clock_gettime) read it through here
/// rather than through a package-level global. times returns 0 without
/// reading it.
type Table struct {
	Clock timer.Clock
	Yield func()

	// Calls and Cycles are gated behind stats.Stats, same as the teacher's
	// own accounting fields; String reports them in that style.
	Calls  stats.Counter_t
	Cycles stats.Cycles_t
}

/// String reports the table's call count and cycles spent dispatching, or
/// the empty string when stats.Stats is off.
func (t *Table) String() string {
	return stats.Stats2String(*t)
}

/// Dispatch is the Dispatcher.Syscall collaborator: decode a7 and a0..a5
/// from tc, perform the call against p, and return the a0 result.
func (t *Table) Dispatch(tc *trapcx.TrapContext_t, p *proc.Proc_t) int64 {
	start := stats.Rdtsc()
	t.Calls.Inc()
	defer t.Cycles.Add(start)

	num := tc.SyscallNumber()
	a := func(i int) uint64 { return tc.Arg(i) }

	switch num {
	case SYS_EXIT, SYS_EXIT_GROUP:
		sched.ExitCurrentAndRunNext(int(int64(a(0))))
		return 0

	case SYS_YIELD:
		if t.Yield != nil {
			t.Yield()
		}
		sched.SuspendCurrentAndRunNext()
		return 0

	case SYS_FORK:
		child, err := p.Fork(defs.CloneFlags(a(0)), uintptr(a(1)))
		if err != 0 {
			return int64(err)
		}
		sched.AddTask(child)
		return int64(child.Pid)

	case SYS_EXEC:
		path, e := p.As.TranslatedStr(uintptr(a(0)), 4096)
		if e != 0 {
			return -1
		}
		argv, e := readStrArray(p.As, uintptr(a(1)))
		if e != 0 {
			return -1
		}
		var envp []string
		if a(2) != 0 {
			envp, e = readStrArray(p.As, uintptr(a(2)))
			if e != 0 {
				return -1
			}
		}
		if err := p.Exec(path, argv, envp, mem.Pa_t(trampolinePa)); err != 0 {
			return -1
		}
		return 0

	case SYS_WAIT4:
		return int64(waitpid(p, defs.Pid_t(int64(a(0))), uintptr(a(1))))

	case SYS_KILL:
		pid := defs.Pid_t(int64(a(0)))
		sig := int(a(1))
		if sig == 0 {
			if _, ok := sched.Pid2Task(pid); ok {
				return 0
			}
			return 1
		}
		if sched.KillFatalSignal(pid, sig) {
			return 0
		}
		return 1

	case SYS_GETPID:
		return int64(p.Pid)
	case SYS_GETPPID:
		if p.Parent == nil {
			return 1
		}
		return int64(p.Parent.Pid)
	case SYS_GETTID:
		return int64(p.Pid)
	case SYS_GETUID, SYS_GETEUID, SYS_GETGID, SYS_GETEGID:
		return 0
	case SYS_GETPGID:
		return int64(p.Tgid)
	case SYS_SETPGID:
		return 0

	case SYS_BRK:
		nb, e := p.Brk(uintptr(a(0)))
		if e != 0 {
			return int64(e)
		}
		return int64(nb)
	case SYS_SBRK:
		delta := int64(a(0))
		old, _ := p.Brk(0)
		_, e := p.Brk(old + uintptr(delta))
		if e != 0 {
			return int64(e)
		}
		return int64(old)

	case SYS_MMAP:
		perm := mmapProt(int(a(2)))
		addr, e := p.As.Mmap(uintptr(a(0)), uintptr(a(1)), perm, nil)
		if e != 0 {
			return -1
		}
		return int64(addr)
	case SYS_MUNMAP:
		if e := p.As.Munmap(uintptr(a(0))); e != 0 {
			return int64(e)
		}
		return 0
	case SYS_MADVISE, SYS_MPROTECT, SYS_PPOLL, SYS_SYSINFO, SYS_FACCESSAT:
		return 0

	case SYS_PRLIMIT64:
		return prlimit(p, int(a(1)), uintptr(a(2)), uintptr(a(3)))

	case SYS_GETRUSAGE:
		ru := p.Accnt.Fetch()
		parts, e := p.As.TranslatedRefMut(uintptr(a(1)), len(ru))
		if e != 0 {
			return -1
		}
		copyInto(parts, ru)
		return 0

	case SYS_UNAME:
		b := utsname.UTSNAME.Bytes()
		parts, e := p.As.TranslatedRefMut(uintptr(a(0)), len(b))
		if e != 0 {
			return -1
		}
		copyInto(parts, b)
		return 0
	case SYS_SET_TID_ADDR:
		return 0

	case SYS_GETTIMEOFDAY:
		tv := timer.Gettimeofday(t.Clock)
		return writeTimeval(p, uintptr(a(0)), tv)
	case SYS_CLOCK_GETTIME:
		tv := timer.ClockGettime(t.Clock)
		return writeTimeval(p, uintptr(a(1)), tv)
	case SYS_TIMES:
		return 0
	case SYS_NANOSLEEP:
		sec, _ := p.As.Userreadn(uintptr(a(0)), 8)
		nsec, _ := p.As.Userreadn(uintptr(a(0))+8, 8)
		timer.Nanosleep(t.Clock, durationOf(sec, nsec), t.Yield)
		return 0

	default:
		return -int64(defs.ENOSYS)
	}
}

func waitpid(p *proc.Proc_t, pid defs.Pid_t, statusPtr uintptr) int {
	for {
		child, err := p.Wait(pid)
		if err == defs.ErrAgainInternal {
			sched.SuspendCurrentAndRunNext()
			continue
		}
		if err != 0 {
			return int(err)
		}
		if statusPtr != 0 {
			p.As.Userwriten(statusPtr, 4, child.ExitCode<<8)
		}
		return int(child.Pid)
	}
}

func prlimit(p *proc.Proc_t, resource int, newp, oldp uintptr) int64 {
	if resource < 0 || resource >= defs.RlimitNlimits {
		return -int64(defs.EINVAL)
	}
	p.Lock_proc()
	defer p.Unlock_proc()
	if oldp != 0 {
		p.As.Userwriten(oldp, 8, int(p.Rlimits[resource].Cur))
		p.As.Userwriten(oldp+8, 8, int(p.Rlimits[resource].Max))
	}
	if newp != 0 {
		cur, _ := p.As.Userreadn(newp, 8)
		max, _ := p.As.Userreadn(newp+8, 8)
		p.Rlimits[resource] = limits.RLimit_t{Cur: uint64(cur), Max: uint64(max)}
	}
	return 0
}

const (
	protRead  = 0x1
	protWrite = 0x2
	protExec  = 0x4
)

func mmapProt(prot int) int {
	perm := 0
	if prot&protRead != 0 {
		perm |= vm.PermR
	}
	if prot&protWrite != 0 {
		perm |= vm.PermW
	}
	if prot&protExec != 0 {
		perm |= vm.PermX
	}
	return perm
}

func readStrArray(as *vm.AddressSpace_t, va uintptr) ([]string, defs.Err_t) {
	if va == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; ; i++ {
		ptr, err := as.Userreadn(va+uintptr(i)*8, 8)
		if err != 0 {
			return nil, err
		}
		if ptr == 0 {
			return out, 0
		}
		s, err := as.TranslatedStr(uintptr(ptr), 4096)
		if err != 0 {
			return nil, err
		}
		out = append(out, s)
	}
}

func copyInto(parts [][]uint8, src []byte) {
	off := 0
	for _, part := range parts {
		n := copy(part, src[off:])
		off += n
	}
}

func writeTimeval(p *proc.Proc_t, va uintptr, tv timer.TimeVal) int64 {
	if e := p.As.Userwriten(va, 8, int(tv.Sec)); e != 0 {
		return int64(e)
	}
	if e := p.As.Userwriten(va+8, 8, int(tv.Usec)); e != 0 {
		return int64(e)
	}
	return 0
}

func durationOf(sec, nsec int) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(nsec)*time.Nanosecond
}

// trampolinePa is wired by kernel.Boot before any exec syscall can run.
var trampolinePa uintptr

/// SetTrampolinePa installs the physical frame exec'd processes map their
/// trampoline page from.
func SetTrampolinePa(pa uintptr) {
	trampolinePa = pa
}
