// Package fdops declares the interface an open file descriptor's backing
// object satisfies, independent of what that object actually is (console,
// pipe, regular file, socket). fd.Fd_t holds one of these, never a concrete
// type, so the fd table stays agnostic to the filesystem and device code
// behind each descriptor.
package fdops

import "defs"

/// Fdops_i is implemented by every kind of open file. Read/Write operate in
/// terms of a Userio_i so callers can pass either real user memory or a
/// kernel-resident buffer without the implementation caring which.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(StatStore) defs.Err_t
	Read(Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(Userio_i) (int, defs.Err_t)
	Lseek(int, int) (int, defs.Err_t)
	// Pathi is implemented by descriptors that name a file in the
	// filesystem; everything else returns nil.
	Pathi() interface{}
}

/// Userio_i abstracts a source or destination for read/write data so the
/// same Fdops_i implementation can serve both a real user buffer
/// (vm.Userbuf_t) and a kernel-side one (vm.Fakeubuf_t).
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

/// StatStore is the destination Fstat fills in; it is a thin alias to avoid
/// fdops importing the stat package back, which would create a cycle since
/// stat.Stat_t is filled in by fs, which implements Fdops_i.
type StatStore interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}

/// Seek whence values, matching lseek(2).
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)
