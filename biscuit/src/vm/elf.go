package vm

import "debug/elf"
import "bytes"

import "defs"
import "mem"

/// TRAMPOLINE and TRAPCONTEXT re-export the fixed virtual addresses every
/// address space maps its trampoline and trap-context pages at.
const TRAMPOLINE = mem.TRAMPOLINE
const TRAPCONTEXT = mem.TRAPCONTEXT
const USERTOP = mem.USERTOP

/// userStackSize is the size reserved for the initial user stack, placed
/// one guard page above the highest loaded ELF segment.
const userStackSize = 64 * uintptr(PGSIZE)

/// MapTrampoline installs the single shared trampoline frame at the fixed
/// TRAMPOLINE virtual address, mapped read-execute and inaccessible from
/// U-mode (the hart is already S-mode by the time it starts executing
/// trampoline code, see spec SS4.2). trampolinePa is the one physical frame
/// every address space maps here; the kernel owns it for the system's
/// lifetime.
func (as *AddressSpace_t) MapTrampoline(trampolinePa mem.Pa_t) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	r := Vmregion_t{Start: TRAMPOLINE, Len: uintptr(PGSIZE), Perm: PermR | PermX, NoUser: true}
	if err := as.MapRegion(r); err != 0 {
		return err
	}
	pte := as.walk(TRAMPOLINE, true)
	if pte == nil {
		return -defs.ENOMEM
	}
	mem.Physmem.Refup(trampolinePa)
	*pte = mem.Mkpte(trampolinePa, regionPTEFlags(&r))
	return 0
}

/// MapTrapContext allocates a fresh frame and maps it at the fixed
/// TRAPCONTEXT virtual address, read-write and inaccessible from U-mode. It
/// returns the frame's physical address so the kernel side (proc, trap) can
/// reach the same trap context via mem.Physmem.Dmap without going through
/// this address space's page table.
func (as *AddressSpace_t) MapTrapContext() (mem.Pa_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	r := Vmregion_t{Start: TRAPCONTEXT, Len: uintptr(PGSIZE), Perm: PermR | PermW, NoUser: true}
	if err := as.MapRegion(r); err != 0 {
		return 0, err
	}
	npg, pa, ok := mem.Physmem.Refpg_new()
	if !ok {
		return 0, -defs.ENOMEM
	}
	_ = npg
	pte := as.walk(TRAPCONTEXT, true)
	if pte == nil {
		return 0, -defs.ENOMEM
	}
	*pte = mem.Mkpte(pa, regionPTEFlags(&r))
	return pa, 0
}

/// LoadedELF describes a freshly built user address space: the entry point,
/// the initial stack pointer (top of the reserved user-stack region, above
/// every loaded segment), and the trap-context frame's physical address.
type LoadedELF struct {
	Entry    uintptr
	StackTop uintptr
	TrapCxPa mem.Pa_t
}

/// NewUserFromELF builds a fresh address space from an ELF image: every
/// PT_LOAD program header becomes a Framed region (bytes copied in
/// immediately, since user text/data are not lazily mapped), followed by a
/// reserved, lazily-populated user-stack region above the highest loaded
/// segment. The trampoline and trap-context pages are mapped last, as every
/// address space requires (spec SS8: both present before the first user
/// instruction executes).
func NewUserFromELF(image []byte, trampolinePa mem.Pa_t) (*AddressSpace_t, *LoadedELF, defs.Err_t) {
	f, err := elf.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, nil, -defs.EINVAL
	}
	if f.Machine != elf.EM_RISCV || f.Class != elf.ELFCLASS64 {
		return nil, nil, -defs.EINVAL
	}

	as, aerr := NewAddressSpace()
	if aerr != 0 {
		return nil, nil, aerr
	}

	var maxva uintptr
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		perm := 0
		if p.Flags&elf.PF_R != 0 {
			perm |= PermR
		}
		if p.Flags&elf.PF_W != 0 {
			perm |= PermW
		}
		if p.Flags&elf.PF_X != 0 {
			perm |= PermX
		}
		start := uintptr(p.Vaddr) &^ uintptr(PGSIZE-1)
		end := (uintptr(p.Vaddr+p.Memsz) + uintptr(PGSIZE) - 1) &^ uintptr(PGSIZE-1)
		length := end - start

		as.Lock_pmap()
		r := Vmregion_t{Start: start, Len: length, Perm: perm}
		if e := as.MapRegion(r); e != 0 {
			as.Unlock_pmap()
			return nil, nil, e
		}
		as.Unlock_pmap()

		// Segments are populated eagerly (not lazily) since a process must
		// see its own text/data on first fetch without a fault round trip.
		data := make([]byte, p.Filesz)
		if _, rerr := p.ReadAt(data, 0); rerr != nil {
			return nil, nil, -defs.EINVAL
		}
		for off := uintptr(0); off < length; off += uintptr(PGSIZE) {
			va := start + off
			if err := as.PageFault(va, false); err != 0 {
				return nil, nil, -defs.ENOMEM
			}
		}
		if err := copyELFBytes(as, uintptr(p.Vaddr), data); err != 0 {
			return nil, nil, err
		}
		if end > maxva {
			maxva = end
		}
	}

	stackBase := maxva + uintptr(PGSIZE) // one guard page
	as.Lock_pmap()
	sr := Vmregion_t{Start: stackBase, Len: userStackSize, Perm: PermR | PermW, Lazy: true}
	if e := as.MapRegion(sr); e != 0 {
		as.Unlock_pmap()
		return nil, nil, e
	}
	as.Unlock_pmap()
	stackTop := stackBase + userStackSize

	if err := as.MapTrampoline(trampolinePa); err != 0 {
		return nil, nil, err
	}
	trapCxPa, cerr := as.MapTrapContext()
	if cerr != 0 {
		return nil, nil, cerr
	}

	return as, &LoadedELF{Entry: uintptr(f.Entry), StackTop: stackTop, TrapCxPa: trapCxPa}, 0
}

// copyELFBytes writes data into the address space at va, holding the
// address-space lock for the whole copy and faulting in one page at a time
// via Userdmap8_inner so the bulk copy reuses the same translation path
// syscalls use.
func copyELFBytes(as *AddressSpace_t, va uintptr, data []byte) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for left := len(data); left > 0; {
		b, err := as.Userdmap8_inner(va, true)
		if err != 0 {
			return err
		}
		n := len(b)
		if n > left {
			n = left
		}
		copy(b[:n], data[:n])
		data = data[n:]
		va += uintptr(n)
		left -= n
	}
	return 0
}
