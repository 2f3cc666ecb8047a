// Package utsname implements the uname(2) syscall's data: a fixed set of
// identifying strings about "the machine", copied verbatim from the
// original kernel's info.rs defaults since the spec's distillation dropped
// them.
package utsname

/// field width, matching struct utsname's 65-byte fields (64 chars + NUL).
const fieldLen = 65

/// Utsname mirrors struct utsname from <sys/utsname.h>.
type Utsname struct {
	Sysname    [fieldLen]byte
	Nodename   [fieldLen]byte
	Release    [fieldLen]byte
	Version    [fieldLen]byte
	Machine    [fieldLen]byte
	Domainname [fieldLen]byte
}

func fill(dst *[fieldLen]byte, s string) {
	copy(dst[:], s)
}

/// Default returns the kernel's fixed uname(2) response.
func Default() Utsname {
	var u Utsname
	fill(&u.Sysname, "Linux")
	fill(&u.Nodename, "rvkern")
	fill(&u.Release, "5.0")
	fill(&u.Version, "5.13")
	fill(&u.Machine, "riscv64")
	return u
}

/// Bytes packs u into its on-the-wire byte layout for copying into user
/// memory.
func (u *Utsname) Bytes() []byte {
	out := make([]byte, 0, fieldLen*6)
	out = append(out, u.Sysname[:]...)
	out = append(out, u.Nodename[:]...)
	out = append(out, u.Release[:]...)
	out = append(out, u.Version[:]...)
	out = append(out, u.Machine[:]...)
	out = append(out, u.Domainname[:]...)
	return out
}

/// UTSNAME is the system-wide uname(2) response.
var UTSNAME = Default()
