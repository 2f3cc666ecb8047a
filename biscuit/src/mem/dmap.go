package mem

// Sv39 virtual address layout. Sv39 gives 39 bits of virtual address space,
// split into three 9-bit page-table indices (VPN[2..0]) plus a 12-bit page
// offset. This kernel fixes the top of that space for the trampoline and
// trap-context pages (see trapcx), and reserves everything below USERTOP for
// user mappings.

/// VPNBITS is the width of each page-table index.
const VPNBITS uint = 9

/// Shl returns the bit position at which VPN[level] begins.
func Shl(level uint) uint {
	return uint(PGSHIFT) + VPNBITS*level
}

/// Pgbits splits a 39-bit virtual address into its three VPN components,
/// highest level first.
func Pgbits(v uintptr) (uint, uint, uint) {
	lvl := func(c uint) uint {
		return (uint(v) >> Shl(c)) & 0x1ff
	}
	return lvl(2), lvl(1), lvl(0)
}

/// Mkpg packs three VPN indices back into a page-aligned virtual address.
func Mkpg(vpn2, vpn1, vpn0 uint) uintptr {
	v := (vpn2 & 0x1ff) << Shl(2)
	v |= (vpn1 & 0x1ff) << Shl(1)
	v |= (vpn0 & 0x1ff) << Shl(0)
	return uintptr(v)
}

/// TRAMPOLINE is the fixed virtual address of the single trampoline page,
/// mapped into every address space at the top of the 39-bit VA window so a
/// trap can switch satp without losing the instruction stream.
const TRAMPOLINE uintptr = (1 << 39) - uintptr(PGSIZE)

/// TRAPCONTEXT is the fixed virtual address of a task's trap-context page,
/// immediately below the trampoline.
const TRAPCONTEXT uintptr = TRAMPOLINE - uintptr(PGSIZE)

/// USERTOP is the first virtual address not available to user mappings.
const USERTOP uintptr = TRAPCONTEXT
