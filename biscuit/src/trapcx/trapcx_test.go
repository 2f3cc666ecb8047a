package trapcx

import "testing"

func TestAppInitSetsEntryAndStack(t *testing.T) {
	tc := AppInit(0x1000, 0x2000, 0x3000, 0x4000, 0x5000)
	if tc.Epc != 0x1000 {
		t.Fatalf("Epc = %#x, want %#x", tc.Epc, 0x1000)
	}
	if tc.X[1] != 0x2000 {
		t.Fatalf("sp (X[1]) = %#x, want %#x", tc.X[1], 0x2000)
	}
	if tc.Kernel_satp != 0x3000 || tc.Kernel_sp != 0x4000 || tc.Trap_handler != 0x5000 {
		t.Fatal("kernel-side fields not wired through")
	}
}

func TestSyscallArgsAndReturnValue(t *testing.T) {
	var tc TrapContext_t
	tc.X[16] = 64 // a7 = syscall number
	tc.X[9] = 1   // a0
	tc.X[10] = 2  // a1
	tc.X[11] = 3  // a2

	if tc.SyscallNumber() != 64 {
		t.Fatalf("SyscallNumber() = %d, want 64", tc.SyscallNumber())
	}
	if tc.Arg(0) != 1 || tc.Arg(1) != 2 || tc.Arg(2) != 3 {
		t.Fatalf("Arg(0..2) = %d,%d,%d, want 1,2,3", tc.Arg(0), tc.Arg(1), tc.Arg(2))
	}

	tc.SetReturnValue(-38)
	if int64(tc.X[9]) != -38 {
		t.Fatalf("a0 after SetReturnValue = %d, want -38", int64(tc.X[9]))
	}
}

func TestAdvancePastEcall(t *testing.T) {
	tc := TrapContext_t{Epc: 0x1000}
	tc.AdvancePastEcall()
	if tc.Epc != 0x1004 {
		t.Fatalf("Epc after AdvancePastEcall = %#x, want %#x", tc.Epc, 0x1004)
	}
}
