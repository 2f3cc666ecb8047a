// Package fs is a minimal in-memory filesystem standing in for the
// FAT-style, block-device-backed filesystem the spec explicitly places out
// of scope. It exists only so exec and open have something concrete to
// drive; the mmap syscall never maps a file from it: a real deployment would swap this package
// out for one backed by an AHCI/virtio block device, unchanged at the
// fdops.Fdops_i boundary.
package fs

import "sync"

import "bpath"
import "defs"
import "fd"
import "fdops"
import "ustr"

type node_t struct {
	sync.Mutex
	name     string
	isdir    bool
	data     []byte
	children map[string]*node_t
}

func newdir(name string) *node_t {
	return &node_t{name: name, isdir: true, children: map[string]*node_t{}}
}

/// Root is the filesystem's root directory. Install files into it (e.g.
/// during boot, to seed /init or /busybox) with Root.Put before any process
/// tries to exec or open them.
var Root = newdir("/")

/// Put installs file content at an absolute path, creating any missing
/// parent directories. It is a boot-time helper, not a syscall.
func Put(path string, content []byte) {
	p := ustr.Ustr(path)
	comps := splitAbs(bpath.Canonicalize(p))
	dir := Root
	for i, c := range comps {
		last := i == len(comps)-1
		if last {
			dir.children[c] = &node_t{name: c, data: content}
			return
		}
		n, ok := dir.children[c]
		if !ok {
			n = newdir(c)
			dir.children[c] = n
		}
		dir = n
	}
}

func splitAbs(p ustr.Ustr) []string {
	s := p.String()
	if s == "/" {
		return nil
	}
	var out []string
	cur := ""
	for i := 1; i < len(s); i++ {
		if s[i] == '/' {
			out = append(out, cur)
			cur = ""
			continue
		}
		cur += string(s[i])
	}
	out = append(out, cur)
	return out
}

func lookup(path ustr.Ustr) (*node_t, defs.Err_t) {
	comps := splitAbs(bpath.Canonicalize(path))
	n := Root
	for _, c := range comps {
		if !n.isdir {
			return nil, -defs.ENOTDIR
		}
		child, ok := n.children[c]
		if !ok {
			return nil, -defs.ENOENT
		}
		n = child
	}
	return n, 0
}

/// Open-flag bits, matching the subset of O_* the kernel recognizes.
const (
	O_RDONLY = 0x0
	O_WRONLY = 0x1
	O_RDWR   = 0x2
	O_CREAT  = 0x40
	O_TRUNC  = 0x200
)

/// Open resolves path (already canonicalized against a process's cwd by the
/// caller) and returns a file descriptor for it, creating the file if
/// O_CREAT is given and it does not exist.
func Open(path ustr.Ustr, flags int, mode int) (*fd.Fd_t, defs.Err_t) {
	n, err := lookup(path)
	if err != 0 {
		if err != -defs.ENOENT || flags&O_CREAT == 0 {
			return nil, err
		}
		comps := splitAbs(bpath.Canonicalize(path))
		if len(comps) == 0 {
			return nil, -defs.EINVAL
		}
		dir := Root
		for _, c := range comps[:len(comps)-1] {
			child, ok := dir.children[c]
			if !ok || !child.isdir {
				return nil, -defs.ENOENT
			}
			dir = child
		}
		name := comps[len(comps)-1]
		n = &node_t{name: name}
		dir.children[name] = n
	}
	if flags&O_TRUNC != 0 {
		n.Lock()
		n.data = nil
		n.Unlock()
	}
	perms := fd.FD_READ
	if flags&O_WRONLY != 0 {
		perms = fd.FD_WRITE
	} else if flags&O_RDWR != 0 {
		perms = fd.FD_READ | fd.FD_WRITE
	}
	h := &filehandle_t{n: n}
	return &fd.Fd_t{Fops: h, Perms: perms}, 0
}

/// ReadFull returns the entirety of a file's contents, used by exec to load
/// an ELF image.
func ReadFull(path ustr.Ustr) ([]byte, defs.Err_t) {
	n, err := lookup(path)
	if err != 0 {
		return nil, err
	}
	if n.isdir {
		return nil, -defs.EISDIR
	}
	n.Lock()
	defer n.Unlock()
	cp := make([]byte, len(n.data))
	copy(cp, n.data)
	return cp, 0
}

type filehandle_t struct {
	n   *node_t
	off int
}

func (h *filehandle_t) Close() defs.Err_t {
	return 0
}

func (h *filehandle_t) Reopen() defs.Err_t {
	return 0
}

func (h *filehandle_t) Fstat(st fdops.StatStore) defs.Err_t {
	h.n.Lock()
	defer h.n.Unlock()
	st.Wsize(uint(len(h.n.data)))
	if h.n.isdir {
		st.Wmode(uint(1) << 31)
	}
	return 0
}

func (h *filehandle_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	h.n.Lock()
	if h.off >= len(h.n.data) {
		h.n.Unlock()
		return 0, 0
	}
	src := h.n.data[h.off:]
	h.n.Unlock()
	did, err := dst.Uiowrite(src)
	h.off += did
	return did, err
}

func (h *filehandle_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	did, err := src.Uioread(buf)
	if err != 0 {
		return did, err
	}
	h.n.Lock()
	defer h.n.Unlock()
	if h.off+did > len(h.n.data) {
		grown := make([]byte, h.off+did)
		copy(grown, h.n.data)
		h.n.data = grown
	}
	copy(h.n.data[h.off:], buf[:did])
	h.off += did
	return did, 0
}

func (h *filehandle_t) Lseek(off int, whence int) (int, defs.Err_t) {
	h.n.Lock()
	sz := len(h.n.data)
	h.n.Unlock()
	switch whence {
	case fdops.SeekSet:
		h.off = off
	case fdops.SeekCur:
		h.off += off
	case fdops.SeekEnd:
		h.off = sz + off
	default:
		return 0, -defs.EINVAL
	}
	if h.off < 0 {
		h.off = 0
	}
	return h.off, 0
}

func (h *filehandle_t) Pathi() interface{} {
	return h.n
}
