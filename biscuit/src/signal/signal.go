// Package signal implements the pending-signal bitset a process carries and
// the fatal-signal table consulted on trap return. This kernel never
// supports user-registered handlers (see spec Non-goals): every signal that
// reaches a process either does nothing (non-fatal, recorded only) or, if
// it is in the fatal table, terminates it with the negated signal number as
// its exit code.
package signal

import "sort"
import "sync/atomic"

/// SignalFlags is a bitset of pending signals, one bit per signal number.
type SignalFlags uint64

/// Bit returns the bitmask for signal number sig.
func Bit(sig int) SignalFlags {
	return SignalFlags(1) << uint(sig)
}

/// Pending_t is the per-process pending-signal bitset. Set is safe to call
/// from any context, including one delivering a signal to a process other
/// than the caller.
type Pending_t struct {
	bits uint64
}

/// Set marks sig as pending.
func (p *Pending_t) Set(sig int) {
	for {
		old := atomic.LoadUint64(&p.bits)
		nv := old | uint64(Bit(sig))
		if atomic.CompareAndSwapUint64(&p.bits, old, nv) {
			return
		}
	}
}

/// Clear removes sig from the pending set.
func (p *Pending_t) Clear(sig int) {
	for {
		old := atomic.LoadUint64(&p.bits)
		nv := old &^ uint64(Bit(sig))
		if atomic.CompareAndSwapUint64(&p.bits, old, nv) {
			return
		}
	}
}

/// Snapshot returns the current pending set.
func (p *Pending_t) Snapshot() SignalFlags {
	return SignalFlags(atomic.LoadUint64(&p.bits))
}

/// fatal_t describes a signal's effect on trap return: the process exits
/// with the negated signal number (-ExitStatus(signum)), and Msg describes
/// the cause.
type fatal_t struct {
	Msg string
}

/// FatalTable lists every signal this kernel treats as fatal: exactly
/// SIGSEGV, SIGILL, SIGKILL, SIGBUS, SIGFPE. A signal not in this table
/// (SIGHUP, SIGINT, SIGQUIT, SIGABRT, SIGPIPE, SIGTERM, SIGCHLD, SIGCONT,
/// SIGSTOP, ...) is recorded in the pending bitset and otherwise ignored --
/// there is no handler to invoke, and the process never blocks waiting for
/// one, per spec open question (c).
var FatalTable = map[int]fatal_t{
	4:  {"illegal instruction"},
	7:  {"bus error"},
	8:  {"floating point exception"},
	9:  {"killed"},
	11: {"segmentation fault"},
}

/// ExitStatus returns the status for a process killed by sig: the signal
/// number itself, which the trap dispatcher negates into the exit code
/// (-11 for SIGSEGV).
func ExitStatus(sig int) int {
	return sig
}

var fatalOrder = func() []int {
	ks := make([]int, 0, len(FatalTable))
	for k := range FatalTable {
		ks = append(ks, k)
	}
	sort.Ints(ks)
	return ks
}()

/// CheckSignalsOfCurrent inspects pend for any fatal signal and returns the
/// signal number and exit status to use if one is pending, for the trap
/// dispatcher to act on just before returning to user mode -- the point in
/// the original kernel's trap_return where check_signals_of_current ran.
func CheckSignalsOfCurrent(pend *Pending_t) (sig int, status int, fatal bool) {
	snap := pend.Snapshot()
	for _, s := range fatalOrder {
		if snap&Bit(s) != 0 {
			pend.Clear(s)
			return s, ExitStatus(s), true
		}
	}
	return 0, 0, false
}

/// Kill marks sig pending on pend. The kill(2) syscall calls this against
/// the target process's Pending_t.
func Kill(pend *Pending_t, sig int) {
	pend.Set(sig)
}
