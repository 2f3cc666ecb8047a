package vm

import "sync"
import "unsafe"

import "bounds"
import "defs"
import "mem"
import "res"

/// PGSIZE and PGOFFSET are re-exported for callers that otherwise only import
/// vm, matching the ancestor kernel's habit of letting vm re-export the mem
/// constants its API is expressed in terms of.
const PGSIZE = mem.PGSIZE

var PGOFFSET = mem.PGOFFSET

/// Region permission bits, independent of the PTE encoding below them.
const (
	PermR = 1 << iota
	PermW
	PermX
)

/// Vmregion_t describes one mapped range of an address space: [Start, Start+Len).
/// File is nil for anonymous (zero-fill) regions; Lazy marks a region whose
/// frames are not allocated until first touched, the mechanism mmap and brk
/// growth both rely on to avoid ever eagerly allocating physical frames.
type Vmregion_t struct {
	Start  Pa_uintptr
	Len    uintptr
	Perm   int
	Lazy   bool
	File   *FileBacking
	Cow    bool
	// NoUser marks a region the hart's U-mode may never access directly --
	// the trampoline and trap-context pages, which the kernel reaches
	// either by still being S-mode at the instant it executes (trampoline)
	// or via a direct physical-address lookup (trap context), never by a
	// user-mode load/store.
	NoUser bool
}

/// Pa_uintptr is a virtual address; kept as a distinct name from mem.Pa_t
/// (which is a physical address) so the two are never confused at a call
/// site, the same discipline the ancestor kernel's Vm_t enforced by taking
/// plain `int`/`uintptr` va arguments and mem.Pa_t pa results.
type Pa_uintptr = uintptr

/// FileBacking describes the file-backed portion of a mmap'd region.
type FileBacking struct {
	Read   func(off int64, p []byte) (int, defs.Err_t)
	Off    int64
	Length int64
}

/// Vmregions_t is the ordered, non-overlapping set of regions making up one
/// address space.
type Vmregions_t struct {
	regions []Vmregion_t
}

/// Lookup returns the region containing va, if any.
func (vr *Vmregions_t) Lookup(va uintptr) (*Vmregion_t, bool) {
	for i := range vr.regions {
		r := &vr.regions[i]
		if va >= r.Start && va < r.Start+r.Len {
			return r, true
		}
	}
	return nil, false
}

/// Insert adds a new region, rejecting overlap with an existing one.
func (vr *Vmregions_t) Insert(r Vmregion_t) bool {
	for i := range vr.regions {
		o := &vr.regions[i]
		if r.Start < o.Start+o.Len && o.Start < r.Start+r.Len {
			return false
		}
	}
	vr.regions = append(vr.regions, r)
	return true
}

/// Remove deletes the region starting at va, if one exists.
func (vr *Vmregions_t) Remove(va uintptr) bool {
	for i := range vr.regions {
		if vr.regions[i].Start == va {
			vr.regions = append(vr.regions[:i], vr.regions[i+1:]...)
			return true
		}
	}
	return false
}

/// All returns a copy of the region list, used when cloning an address
/// space for fork.
func (vr *Vmregions_t) All() []Vmregion_t {
	cp := make([]Vmregion_t, len(vr.regions))
	copy(cp, vr.regions)
	return cp
}

/// AddressSpace_t represents a process's virtual address space: its Sv39
/// page table, the list of mapped regions, and the software translation
/// cache used to skip the page-table walk on repeat accesses. The mutex
/// protects Vmregion, Pmap, and P_pmap, matching the single-holder
/// discipline the ancestor kernel's Vm_t documents.
type AddressSpace_t struct {
	sync.Mutex

	Vmregion Vmregions_t

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool

	cache *vaCache
}

/// NewAddressSpace allocates an empty address space with a fresh top-level
/// page table.
func NewAddressSpace() (*AddressSpace_t, defs.Err_t) {
	pg, p_pg, ok := mem.Physmem.Refpg_new()
	if !ok {
		return nil, -defs.ENOMEM
	}
	as := &AddressSpace_t{}
	as.Pmap = (*mem.Pmap_t)(unsafePointerOf(pg))
	as.P_pmap = p_pg
	as.cache = newVaCache()
	return as, 0
}

/// Lock_pmap acquires the address space mutex and marks that page-table
/// manipulation (including page-fault handling) is in progress.
func (as *AddressSpace_t) Lock_pmap() {
	as.Lock()
	if as.pgfltaken {
		panic("double lock")
	}
	as.pgfltaken = true
}

/// Unlock_pmap releases the address space mutex after page table
/// manipulation is complete.
func (as *AddressSpace_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

/// Lockassert_pmap panics if the address space mutex is not held.
func (as *AddressSpace_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// walk descends the three Sv39 page-table levels for va, allocating
// intermediate page-table pages when create is true. Returns the leaf PTE
// slot or nil if it does not exist and create is false.
func (as *AddressSpace_t) walk(va uintptr, create bool) *mem.Pa_t {
	as.Lockassert_pmap()
	vpn2, vpn1, vpn0 := mem.Pgbits(va)
	pm := as.Pmap
	for _, vpn := range []uint{vpn2, vpn1} {
		pte := &pm[vpn]
		if *pte&mem.PTE_V == 0 {
			if !create {
				return nil
			}
			npg, np_pg, ok := mem.Physmem.Refpg_new()
			if !ok {
				return nil
			}
			_ = npg
			*pte = mem.Mkpte(np_pg, mem.PTE_V)
		}
		if *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) != 0 {
			// a leaf at a non-final level would mean a superpage; this
			// kernel never creates one, so treat it as corruption.
			panic("superpage leaf mid-walk")
		}
		child := mem.Physmem.Dmap(mem.PTE_ADDR(*pte))
		pm = (*mem.Pmap_t)(unsafePointerOf(child))
	}
	return &pm[vpn0]
}

func regionPTEFlags(r *Vmregion_t) mem.Pa_t {
	var f mem.Pa_t = mem.PTE_V | mem.PTE_A
	if !r.NoUser {
		f |= mem.PTE_U
	}
	if r.Perm&PermR != 0 {
		f |= mem.PTE_R
	}
	if r.Perm&PermW != 0 && !r.Cow {
		f |= mem.PTE_W
	}
	if r.Perm&PermX != 0 {
		f |= mem.PTE_X
	}
	if r.Cow {
		f |= mem.PTE_COW
	}
	return f
}

/// MapRegion installs r into the address space's region list. It does not
/// populate any page-table entries: frames are attached lazily by
/// HandlePageFault on first access, satisfying the "no eager allocation"
/// invariant for mmap/brk.
func (as *AddressSpace_t) MapRegion(r Vmregion_t) defs.Err_t {
	as.Lockassert_pmap()
	if !as.Vmregion.Insert(r) {
		return -defs.EINVAL
	}
	if as.cache != nil {
		as.cache.invalidateRange(r.Start, r.Len)
	}
	return 0
}

/// UnmapRegion removes the region starting at va, freeing any frames that
/// had been faulted in and invalidating cached translations covering it.
func (as *AddressSpace_t) UnmapRegion(va uintptr) defs.Err_t {
	as.Lockassert_pmap()
	r, ok := as.Vmregion.Lookup(va)
	if !ok || r.Start != va {
		return -defs.EINVAL
	}
	length := r.Len
	for off := uintptr(0); off < length; off += uintptr(PGSIZE) {
		pte := as.walk(va+off, false)
		if pte != nil && *pte&mem.PTE_V != 0 && *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) != 0 {
			pa := mem.PTE_ADDR(*pte)
			mem.Physmem.Refdown(pa)
			*pte = 0
		}
	}
	as.Vmregion.Remove(va)
	if as.cache != nil {
		as.cache.invalidateRange(va, length)
	}
	return 0
}

/// HandlePageFault resolves a lazy mapping or copy-on-write fault at va by
/// attaching (and, for COW, copying) a physical frame. accessWrite carries
/// the access type the trap dispatcher decoded: true means the fault was a
/// write.
func HandlePageFault(as *AddressSpace_t, va uintptr, accessWrite bool) defs.Err_t {
	as.Lockassert_pmap()
	if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_HANDLEPAGEFAULT)) {
		return -defs.ENOMEM
	}
	defer res.Resadd(bounds.Bounds(bounds.B_ASPACE_T_HANDLEPAGEFAULT))
	aligned := va &^ uintptr(PGSIZE-1)
	r, ok := as.Vmregion.Lookup(aligned)
	if !ok {
		return -defs.EFAULT
	}
	if accessWrite && r.Perm&PermW == 0 {
		return -defs.EFAULT
	}
	pte := as.walk(aligned, true)
	if pte == nil {
		return -defs.ENOMEM
	}

	if *pte&mem.PTE_V != 0 && *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) != 0 {
		// already mapped: the only reason to fault again is a COW write.
		if !accessWrite || *pte&mem.PTE_COW == 0 {
			return -defs.EFAULT
		}
		oldpa := mem.PTE_ADDR(*pte)
		if mem.Physmem.Refcnt(oldpa) == 1 {
			// sole owner: drop COW and make it writable in place.
			flags := regionPTEFlags(r) | mem.PTE_W
			flags &^= mem.PTE_COW
			*pte = mem.Mkpte(oldpa, flags)
			if as.cache != nil {
				as.cache.invalidate(aligned)
			}
			return 0
		}
		npg, np_pg, ok2 := mem.Physmem.Refpg_new_nozero()
		if !ok2 {
			return -defs.ENOMEM
		}
		copyPage(npg, mem.Physmem.Dmap(oldpa))
		flags := (regionPTEFlags(r) | mem.PTE_W) &^ mem.PTE_COW
		*pte = mem.Mkpte(np_pg, flags)
		mem.Physmem.Refdown(oldpa)
		if as.cache != nil {
			as.cache.invalidate(aligned)
		}
		return 0
	}

	// first touch of a lazily-mapped page.
	if r.File != nil {
		npg, np_pg, ok2 := mem.Physmem.Refpg_new()
		if !ok2 {
			return -defs.ENOMEM
		}
		foff := r.File.Off + int64(aligned-r.Start)
		bp := mem.Pg2bytes(npg)
		if foff < r.File.Length {
			_, err := r.File.Read(foff, bp[:])
			if err != 0 {
				mem.Physmem.Refdown(np_pg)
				return err
			}
		}
		*pte = mem.Mkpte(np_pg, regionPTEFlags(r))
	} else {
		npg, np_pg, ok2 := mem.Physmem.Refpg_new()
		if !ok2 {
			return -defs.ENOMEM
		}
		_ = npg
		*pte = mem.Mkpte(np_pg, regionPTEFlags(r))
	}
	if as.cache != nil {
		as.cache.invalidate(aligned)
	}
	return 0
}

func copyPage(dst *mem.Pg_t, src *mem.Pg_t) {
	*dst = *src
}

/// Userdmap8_inner returns a slice mapping the user address va, faulting in
/// the page if necessary. When write is true the mapping is prepared for a
/// kernel write on the user's behalf (e.g. copying in exec argv), which
/// forces a COW resolution rather than a read-only share.
func (as *AddressSpace_t) Userdmap8_inner(va uintptr, write bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	voff := va & uintptr(PGOFFSET)
	aligned := va &^ uintptr(PGSIZE-1)

	if as.cache != nil {
		if pa, ok := as.cache.lookup(aligned); ok {
			if !write {
				bp := mem.Pg2bytes(mem.Physmem.Dmap(pa))
				return bp[voff:], 0
			}
		}
	}

	pte := as.walk(aligned, true)
	if pte == nil {
		return nil, -defs.ENOMEM
	}
	needfault := true
	mapped := *pte&mem.PTE_V != 0 && *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) != 0
	if mapped {
		if write {
			if *pte&mem.PTE_COW == 0 {
				needfault = false
			}
		} else {
			needfault = false
		}
	}
	if needfault {
		if err := HandlePageFault(as, aligned, write); err != 0 {
			return nil, err
		}
		pte = as.walk(aligned, false)
	}
	pa := mem.PTE_ADDR(*pte)
	if as.cache != nil {
		as.cache.insert(aligned, pa)
	}
	bp := mem.Pg2bytes(mem.Physmem.Dmap(pa))
	return bp[voff:], 0
}

func (as *AddressSpace_t) _userdmap8(va uintptr, write bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, write)
	as.Unlock_pmap()
	return ret, err
}

/// Userdmap8r maps the user address for reading.
func (as *AddressSpace_t) Userdmap8r(va uintptr) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

/// TranslatedRef maps n bytes starting at va for reading, returning the
/// slices (possibly more than one, if the range crosses a page boundary)
/// covering it. This is the Go-native spelling of the spec's translated_ref.
func (as *AddressSpace_t) TranslatedRef(va uintptr, n int) ([][]uint8, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var out [][]uint8
	for left := n; left > 0; {
		b, err := as.Userdmap8_inner(va, false)
		if err != 0 {
			return nil, err
		}
		take := len(b)
		if take > left {
			take = left
		}
		out = append(out, b[:take])
		left -= take
		va += uintptr(take)
	}
	return out, 0
}

/// TranslatedRefMut is TranslatedRef but prepares each page for a kernel
/// write, resolving any outstanding COW sharing first.
func (as *AddressSpace_t) TranslatedRefMut(va uintptr, n int) ([][]uint8, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var out [][]uint8
	for left := n; left > 0; {
		b, err := as.Userdmap8_inner(va, true)
		if err != 0 {
			return nil, err
		}
		take := len(b)
		if take > left {
			take = left
		}
		out = append(out, b[:take])
		left -= take
		va += uintptr(take)
	}
	return out, 0
}

/// TranslatedStr reads a NUL-terminated string from user memory, up to max
/// bytes.
func (as *AddressSpace_t) TranslatedStr(va uintptr, max int) (string, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	buf := make([]byte, 0, 64)
	for i := 0; i < max; i++ {
		b, err := as.Userdmap8_inner(va+uintptr(i), false)
		if err != 0 {
			return "", err
		}
		if b[0] == 0 {
			return string(buf), 0
		}
		buf = append(buf, b[0])
	}
	return "", -defs.ENAMETOOLONG
}

/// TranslatedByteBuffer copies n bytes out of user memory into a single
/// contiguous slice, the convenience wrapper most syscalls want.
func (as *AddressSpace_t) TranslatedByteBuffer(va uintptr, n int) ([]uint8, defs.Err_t) {
	parts, err := as.TranslatedRef(va, n)
	if err != 0 {
		return nil, err
	}
	if len(parts) == 1 {
		return parts[0], 0
	}
	out := make([]uint8, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, 0
}

func (as *AddressSpace_t) userreadn_inner(va uintptr, n int) (int, defs.Err_t) {
	as.Lockassert_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+uintptr(i), false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if l > len(src) {
			l = len(src)
		}
		for j := 0; j < l; j++ {
			ret |= int(src[j]) << (8 * uint(i+j))
		}
		src = src[:l]
	}
	return ret, 0
}

/// Userreadn reads n (<=8) bytes from va as a little-endian integer.
func (as *AddressSpace_t) Userreadn(va uintptr, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	a, b := as.userreadn_inner(va, n)
	as.Unlock_pmap()
	return a, b
}

/// Userwriten writes the low n bytes of val to va, little-endian.
func (as *AddressSpace_t) Userwriten(va uintptr, n int, val int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for i := 0; i < n; {
		dst, err := as.Userdmap8_inner(va+uintptr(i), true)
		if err != 0 {
			return err
		}
		l := n - i
		if l > len(dst) {
			l = len(dst)
		}
		for j := 0; j < l; j++ {
			dst[j] = uint8(val >> (8 * uint(i+j)))
		}
		i += l
	}
	return 0
}

/// Fork clones this address space for a child process, sharing every
/// read-only and marking every writable region copy-on-write in both
/// parent and child, the same scheme the ancestor kernel's Vm_t.Fork used.
/// The trap-context region is not copied: the child maps a fresh frame of
/// its own there (MapTrapContext).
func (as *AddressSpace_t) Fork() (*AddressSpace_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	child, err := NewAddressSpace()
	if err != 0 {
		return nil, err
	}
	child.Lock_pmap()
	defer child.Unlock_pmap()

	for _, r := range as.Vmregion.All() {
		if r.Start == TRAPCONTEXT {
			continue
		}
		cr := r
		if cr.Perm&PermW != 0 {
			cr.Cow = true
			r.Cow = true
		}
		if !child.Vmregion.Insert(cr) {
			panic("region conflict in fresh address space")
		}
		for off := uintptr(0); off < r.Len; off += uintptr(PGSIZE) {
			if !res.Resadd_noblock(bounds.Bounds(bounds.B_ASPACE_T_FORK)) {
				return nil, -defs.ENOMEM
			}
			va := r.Start + off
			pte := as.walk(va, false)
			if pte == nil || *pte&mem.PTE_V == 0 || *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) == 0 {
				res.Resadd(bounds.Bounds(bounds.B_ASPACE_T_FORK))
				continue
			}
			if r.Cow {
				*pte |= mem.PTE_COW
				*pte &^= mem.PTE_W
			}
			pa := mem.PTE_ADDR(*pte)
			mem.Physmem.Refup(pa)
			cpte := child.walk(va, true)
			if cpte == nil {
				return nil, -defs.ENOMEM
			}
			*cpte = *pte
			res.Resadd(bounds.Bounds(bounds.B_ASPACE_T_FORK))
		}
		if as.cache != nil {
			as.cache.invalidateRange(r.Start, r.Len)
		}
	}
	return child, 0
}

/// Free releases every frame mapped in the address space and the top-level
/// page table itself. Called once, when a process's last thread exits.
func (as *AddressSpace_t) Free() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, r := range as.Vmregion.All() {
		for off := uintptr(0); off < r.Len; off += uintptr(PGSIZE) {
			va := r.Start + off
			pte := as.walk(va, false)
			if pte != nil && *pte&mem.PTE_V != 0 && *pte&(mem.PTE_R|mem.PTE_W|mem.PTE_X) != 0 {
				mem.Physmem.Refdown(mem.PTE_ADDR(*pte))
				*pte = 0
			}
		}
	}
	mem.Physmem.Refdown(as.P_pmap)
}

func unsafePointerOf(pg *mem.Pg_t) unsafe.Pointer {
	return unsafe.Pointer(pg)
}

/// Mmap installs a new lazily-populated region of length bytes (rounded up
/// to a page) at the lowest free range at or above a fixed mmap base
/// (0x10000 pages) and below USERTOP, unless addr is non-zero, in which case
/// that address is used verbatim. No frames are allocated until the region is touched.
func (as *AddressSpace_t) Mmap(addr uintptr, length uintptr, perm int, fb *FileBacking) (uintptr, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	length = (length + uintptr(PGSIZE) - 1) &^ uintptr(PGSIZE-1)
	if length == 0 {
		return 0, -defs.EINVAL
	}
	if addr == 0 {
		addr = as.unusedVaLocked(length)
	}
	r := Vmregion_t{Start: addr, Len: length, Perm: perm, Lazy: true, File: fb}
	if err := as.MapRegion(r); err != 0 {
		return 0, err
	}
	return addr, 0
}

/// Munmap tears down the region starting at addr.
func (as *AddressSpace_t) Munmap(addr uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.UnmapRegion(addr)
}

// unusedVaLocked finds length contiguous unmapped bytes below USERTOP. The
// caller must hold the address-space lock.
func (as *AddressSpace_t) unusedVaLocked(length uintptr) uintptr {
	const mmapBase uintptr = 0x10000 * uintptr(PGSIZE)
	cand := mmapBase
	for {
		ok := true
		for _, r := range as.Vmregion.All() {
			if cand < r.Start+r.Len && r.Start < cand+length {
				cand = r.Start + r.Len
				ok = false
				break
			}
		}
		if ok {
			if cand+length > mem.USERTOP {
				panic("address space exhausted")
			}
			return cand
		}
	}
}

/// PageFault is the entry point the trap dispatcher calls on a page-fault
/// trap: it takes the address-space lock itself (the fault did not arrive
/// with it held) and resolves the fault via HandlePageFault.
func (as *AddressSpace_t) PageFault(va uintptr, write bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return HandlePageFault(as, va, write)
}
