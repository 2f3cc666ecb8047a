// Package res tracks the kernel heap budget reserved at boot (see
// biscuit/src/kernel.Boot), so code that must allocate while holding a
// process lock can check up front whether the allocation would exceed that
// budget rather than discovering it mid-operation.
package res

import "sync/atomic"

// budget is effectively unbounded until SetBudget installs a real one.
var budget int64 = 1 << 62

/// SetBudget installs the total kernel-heap budget, in bytes, available for
/// Resadd_noblock reservations. Called once during boot.
func SetBudget(nbytes int64) {
	atomic.StoreInt64(&budget, nbytes)
}

/// Resadd_noblock attempts to reserve need bytes from the kernel heap
/// budget without blocking. It returns false, reserving nothing, if the
/// budget would go negative.
func Resadd_noblock(need uint) bool {
	n := int64(need)
	left := atomic.AddInt64(&budget, -n)
	if left >= 0 {
		return true
	}
	atomic.AddInt64(&budget, n)
	return false
}

/// Resadd returns the reservation, e.g. after the operation it guarded
/// turned out to need less than its worst-case bound.
func Resadd(give uint) {
	atomic.AddInt64(&budget, int64(give))
}

/// Remaining reports the budget currently unreserved.
func Remaining() int64 {
	return atomic.LoadInt64(&budget)
}
