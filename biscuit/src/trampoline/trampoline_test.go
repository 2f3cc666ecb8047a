package trampoline

import "testing"

import "trapcx"

type fakeCPU struct {
	gpr      [32]uint64
	sstatus  uint64
	sepc     uint64
	satp     uint64
	sscratch uint64
	fences   int
}

func (c *fakeCPU) GPR(i int) uint64       { return c.gpr[i] }
func (c *fakeCPU) SetGPR(i int, v uint64) { c.gpr[i] = v }
func (c *fakeCPU) Sstatus() uint64        { return c.sstatus }
func (c *fakeCPU) SetSstatus(v uint64)    { c.sstatus = v }
func (c *fakeCPU) Sepc() uint64           { return c.sepc }
func (c *fakeCPU) SetSepc(v uint64)       { c.sepc = v }
func (c *fakeCPU) Satp() uint64           { return c.satp }
func (c *fakeCPU) SetSatp(v uint64)       { c.satp = v }
func (c *fakeCPU) Sscratch() uint64       { return c.sscratch }
func (c *fakeCPU) SetSscratch(v uint64)   { c.sscratch = v }
func (c *fakeCPU) SfenceVMA()             { c.fences++ }
func (c *fakeCPU) FenceI()                {}

func TestAllTrapsSavesRegistersAndSwitchesToKernel(t *testing.T) {
	cpu := &fakeCPU{}
	cpu.sscratch = 0xbeef // saved user sp
	cpu.sepc = 0x1000
	cpu.sstatus = 0x1234
	for i := 1; i <= 31; i++ {
		cpu.gpr[i] = uint64(i * 10)
	}

	tc := &trapcx.TrapContext_t{Kernel_satp: 0xaaaa, Kernel_sp: 0xbbbb, Trap_handler: 0xcccc}
	satp, sp, handler := AllTraps(cpu, tc)

	if tc.Sstatus != 0x1234 {
		t.Fatalf("Sstatus = %#x, want %#x", tc.Sstatus, 0x1234)
	}
	if tc.X[1] != 0xbeef {
		t.Fatalf("saved user sp = %#x, want %#x", tc.X[1], 0xbeef)
	}
	if tc.X[0] != cpu.gpr[1] {
		t.Fatalf("x1 not saved: tc.X[0] = %d, want %d", tc.X[0], cpu.gpr[1])
	}
	if tc.X[2] != cpu.gpr[3] {
		t.Fatalf("x3 not saved at tc.X[2]: got %d, want %d", tc.X[2], cpu.gpr[3])
	}
	if tc.Epc != 0x1000 {
		t.Fatalf("Epc = %#x, want %#x", tc.Epc, 0x1000)
	}
	if satp != 0xaaaa || sp != 0xbbbb || handler != 0xcccc {
		t.Fatalf("kernel fields returned = %#x,%#x,%#x, want aaaa,bbbb,cccc", satp, sp, handler)
	}
	if cpu.satp != 0xaaaa {
		t.Fatal("AllTraps must install the kernel satp on the cpu")
	}
	if cpu.fences != 1 {
		t.Fatalf("SfenceVMA called %d times, want 1", cpu.fences)
	}
}

func TestRestoreInstallsUserStateAndGPRs(t *testing.T) {
	cpu := &fakeCPU{}
	var tc trapcx.TrapContext_t
	tc.Epc = 0x2000
	tc.Sstatus = 0x5678
	tc.X[0] = 111 // x1
	tc.X[1] = 222 // x2 (sp)
	tc.X[2] = 333 // x3

	Restore(cpu, &tc, 0xfeed, 0xf00d)

	if cpu.sstatus != 0x5678 {
		t.Fatalf("sstatus = %#x, want %#x", cpu.sstatus, 0x5678)
	}
	if cpu.satp != 0xf00d {
		t.Fatalf("user satp = %#x, want %#x", cpu.satp, 0xf00d)
	}
	if cpu.sscratch != 0xfeed {
		t.Fatalf("sscratch = %#x, want %#x", cpu.sscratch, 0xfeed)
	}
	if cpu.sepc != 0x2000 {
		t.Fatalf("sepc = %#x, want %#x", cpu.sepc, 0x2000)
	}
	if cpu.gpr[1] != 111 || cpu.gpr[2] != 222 || cpu.gpr[3] != 333 {
		t.Fatalf("gprs not restored: x1=%d x2=%d x3=%d", cpu.gpr[1], cpu.gpr[2], cpu.gpr[3])
	}
	if cpu.fences != 1 {
		t.Fatalf("SfenceVMA called %d times, want 1", cpu.fences)
	}
}
