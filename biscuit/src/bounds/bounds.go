// Package bounds names the worst-case kernel-heap cost of every call site
// that might need to allocate while holding a lock, so res can refuse the
// call up front instead of letting the kernel allocate itself into a corner.
package bounds

/// Bound ids, one per call site that consults res.Resadd_noblock.
const (
	B_USERBUF_T__TX = iota
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_ASPACE_T_HANDLEPAGEFAULT
	B_ASPACE_T_FORK
	B_PROC_T_FORK
	B_PROC_T_EXEC
	B_NBOUNDS
)

// costs[i] is the worst-case number of kernel-heap bytes the call site named
// by bound i might allocate in one invocation; page-table-walk-adjacent
// sites budget for the worst case of allocating every intermediate Sv39
// level (3 pages) plus the leaf frame.
var costs = [B_NBOUNDS]uint{
	B_USERBUF_T__TX:            4096,
	B_USERIOVEC_T_IOV_INIT:     4096,
	B_USERIOVEC_T__TX:          4096,
	B_ASPACE_T_HANDLEPAGEFAULT: 4 * 4096,
	B_ASPACE_T_FORK:            4 * 4096,
	B_PROC_T_FORK:              4096,
	B_PROC_T_EXEC:              4096,
}

/// Bounds returns the worst-case allocation cost registered for id.
func Bounds(id int) uint {
	if id < 0 || id >= B_NBOUNDS {
		panic("bad bound id")
	}
	return costs[id]
}
