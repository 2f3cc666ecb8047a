package fs

import "defs"
import "fdops"

// console_t implements fdops.Fdops_i over the host process's real stdio,
// standing in for the UART the spec places out of scope ("a RISC-V S-mode
// environment... is external"). Every byte a user process writes to fd 1/2
// ends up here; fd 0 always reports EOF, since no interactive input source
// exists in this kernel core.
type console_t struct {
	write func(p []byte) (int, error)
}

func (c *console_t) Close() defs.Err_t  { return 0 }
func (c *console_t) Reopen() defs.Err_t { return 0 }

func (c *console_t) Fstat(st fdops.StatStore) defs.Err_t {
	st.Wmode(uint(defs.Mkdev(defs.D_CONSOLE, 0)))
	return 0
}

func (c *console_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	return 0, 0
}

func (c *console_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	buf := make([]byte, src.Remain())
	did, err := src.Uioread(buf)
	if err != 0 {
		return did, err
	}
	c.write(buf[:did])
	return did, 0
}

func (c *console_t) Lseek(int, int) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (c *console_t) Pathi() interface{}               { return nil }

/// NewConsoleFops returns an Fdops_i that writes to w, the usual choice
/// being a function wrapping os.Stdout/os.Stderr at boot.
func NewConsoleFops(w func(p []byte) (int, error)) fdops.Fdops_i {
	return &console_t{write: w}
}
