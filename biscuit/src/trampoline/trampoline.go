// Package trampoline models the data movement the trampoline page's
// __alltraps/__restore assembly performs on a real hart. The hart itself --
// stvec, sstatus, sepc, scause, stval, satp, sscratch, sfence.vma, fence.i --
// is external to this core (spec SS6); CPU is the interface this package
// consumes instead of emitting assembly for it.
package trampoline

import "trapcx"

/// CPU is the RISC-V S-mode register file and TLB-control surface the
/// trampoline touches. A real boot wires this to hart CSRs; tests wire it to
/// a plain struct.
type CPU interface {
	GPR(i int) uint64
	SetGPR(i int, v uint64)
	Sstatus() uint64
	SetSstatus(v uint64)
	Sepc() uint64
	SetSepc(v uint64)
	Satp() uint64
	SetSatp(v uint64)
	Sscratch() uint64
	SetSscratch(v uint64)
	SfenceVMA()
	FenceI()
}

/// AllTraps is the data effect of __alltraps entered via stvec==TRAMPOLINE
/// from user mode: save the user's general registers and trap-relevant CSRs
/// into tc, then switch into the kernel's address space (spec SS4.2 steps
/// 1-6). It returns the kernel satp/sp/trap_handler the dispatcher should
/// resume with.
func AllTraps(cpu CPU, tc *trapcx.TrapContext_t) (kernelSatp, kernelSp, trapHandler uint64) {
	// 1. sp<->sscratch: sp now holds the user trap-context VA; the saved
	// user sp is in sscratch.
	userSp := cpu.Sscratch()

	// 2. Save x1, x3..x31. x2 (sp) is handled separately in step 3; x0 is
	// hardwired zero and never saved. tc.X is indexed 0..30 for x1..x31,
	// so x1 is tc.X[0] and x3..x31 are tc.X[2..30].
	tc.X[0] = cpu.GPR(1)
	for i := 3; i <= 31; i++ {
		tc.X[i-1] = cpu.GPR(i)
	}

	// 3. Save user sp (x2).
	tc.X[1] = userSp

	// 4. Save sstatus and sepc.
	tc.Epc = cpu.Sepc()
	tc.Sstatus = cpu.Sstatus()

	// 5. Load kernel satp, kernel sp, and trap_handler from the context.
	kernelSatp = tc.Kernel_satp
	kernelSp = tc.Kernel_sp
	trapHandler = tc.Trap_handler

	// 6. Install kernel satp; sfence.vma; jump to trap_handler (the caller
	// performs the jump by invoking the dispatcher with the returned
	// values).
	cpu.SetSatp(kernelSatp)
	cpu.SfenceVMA()
	return kernelSatp, kernelSp, trapHandler
}

/// Restore is the data effect of __restore(trapCxUserVA, userSatp): install
/// the user address space and replay the saved register file, the last step
/// before sret drops back to user mode.
func Restore(cpu CPU, tc *trapcx.TrapContext_t, trapCxUserVA, userSatp uint64) {
	// 1. Install user satp; sfence.vma.
	cpu.SetSatp(userSatp)
	cpu.SfenceVMA()

	// 2. Store trap_cx_user_va into sscratch, so the next trap's
	// sp<->sscratch swap lands sp on the trap-context page again.
	cpu.SetSscratch(trapCxUserVA)

	// 3. Restore sstatus, sepc, then all gprs.
	cpu.SetSstatus(tc.Sstatus)
	cpu.SetSepc(tc.Epc)
	cpu.SetGPR(1, tc.X[0])
	for i := 3; i <= 31; i++ {
		cpu.SetGPR(i, tc.X[i-1])
	}

	// 4. Restore user sp; sret (the caller is responsible for the actual
	// mode transition -- this package only moves data).
	cpu.SetGPR(2, tc.X[1])
}
