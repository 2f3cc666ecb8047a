package vm

import "mem"

import "hashtable"

// vaCache caches the page-aligned VA -> PA translations this address space's
// last few accesses resolved, so repeat Userdmap8_inner calls for the same
// page (very common: a syscall reading a multi-byte struct one word at a
// time) skip the three-level page-table walk. It is wired on top of
// hashtable.Hashtable_t, the pack's lock-free-read hash table, rather than a
// hand-rolled map+mutex.
type vaCache struct {
	ht *hashtable.Hashtable_t
}

func newVaCache() *vaCache {
	return &vaCache{ht: hashtable.MkHash(64)}
}

// hashtable.Hashtable_t's hash/equal only switch on ustr.Ustr, int, int32,
// and string keys; va is converted to int at this boundary rather than
// passed through as a raw uintptr.
func (c *vaCache) lookup(va uintptr) (mem.Pa_t, bool) {
	v, ok := c.ht.Get(int(va))
	if !ok {
		return 0, false
	}
	return v.(mem.Pa_t), true
}

func (c *vaCache) insert(va uintptr, pa mem.Pa_t) {
	c.ht.Set(int(va), pa)
}

// invalidate drops va's cached translation if there is one; Hashtable_t.Del
// panics on a missing key, and most callers invalidate pages never cached.
func (c *vaCache) invalidate(va uintptr) {
	if _, ok := c.ht.Get(int(va)); ok {
		c.ht.Del(int(va))
	}
}

func (c *vaCache) invalidateRange(start uintptr, length uintptr) {
	for off := uintptr(0); off < length; off += uintptr(PGSIZE) {
		c.invalidate(start + off)
	}
}
