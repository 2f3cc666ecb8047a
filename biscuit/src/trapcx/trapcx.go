// Package trapcx defines the trap-context layout the trampoline saves a
// user task's registers into and restores them from on the way back to
// user mode.
package trapcx

/// NREGS is the number of saved general-purpose registers, x1 (ra) through
/// x31 -- x0 is hardwired zero and never saved.
const NREGS = 31

/// TrapContext_t is the fixed-layout, fixed-size record the trampoline
/// reads and writes: 31 general registers plus the supervisor-side fields
/// the trap handler needs to resume the task and the kernel needs to
/// re-enter on the next trap. It occupies the spec's trap-context page.
type TrapContext_t struct {
	// X holds x1..x31, indexed 0..30 (so X[0] is ra/x1).
	X [NREGS]uint64

	// Supervisor-side bookkeeping, restored into the relevant CSRs or
	// general registers by the trampoline on kernel entry/exit.
	Kernel_satp  uint64 /// kernel address space's satp value
	Kernel_sp    uint64 /// kernel stack pointer to switch to on trap entry
	Trap_handler uint64 /// address of trap.Dispatcher.HandleTrap's entry stub
	Epc          uint64 /// sepc: the user pc to resume at
	Sstatus      uint64 /// sstatus: SPP/SPIE and the rest, saved on entry and restored on return
}

/// Size is the context's size in 64-bit words: 31 saved registers plus the
/// five kernel-side fields above.
const Size = NREGS + 5

/// SetReturnValue stores a syscall's return value into the register the
/// user ABI expects it in (a0, i.e. the first general-purpose argument
/// register, X[9] since X[0] holds x1).
func (tc *TrapContext_t) SetReturnValue(v int64) {
	tc.X[9] = uint64(v)
}

/// Arg returns syscall argument n (0-indexed), read from a0..a5 (x10..x15,
/// i.e. X[9..14]).
func (tc *TrapContext_t) Arg(n int) uint64 {
	return tc.X[9+n]
}

/// SyscallNumber returns the syscall number, conventionally passed in a7
/// (x17, X[16]).
func (tc *TrapContext_t) SyscallNumber() uint64 {
	return tc.X[16]
}

/// AdvancePastEcall moves Epc past the 4-byte ecall instruction that
/// trapped into the kernel, so trap return resumes at the next instruction.
func (tc *TrapContext_t) AdvancePastEcall() {
	tc.Epc += 4
}

/// AppInit builds the initial trap context for a freshly exec'd task: zero
/// registers except the stack pointer and entry point, with the supervisor
/// fields wired to resume into the kernel on the next trap.
func AppInit(entry, sp, kernelSatp, kernelSp, trapHandler uint64) TrapContext_t {
	var tc TrapContext_t
	tc.X[1] = sp // sp is x2; X[1] corresponds to x2 since X[0]=x1
	tc.Kernel_satp = kernelSatp
	tc.Kernel_sp = kernelSp
	tc.Trap_handler = trapHandler
	tc.Epc = entry
	return tc
}
