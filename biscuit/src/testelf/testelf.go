// Package testelf builds minimal riscv64 ELF executables in memory, for
// tests that need a loadable initproc image without a real toolchain on
// hand to produce one.
package testelf

import "encoding/binary"

const (
	elfHeaderSize = 64
	phdrSize      = 56

	etExec    = 2
	emRiscv   = 0xf3
	ptLoad    = 1
	pfX       = 1
	pfW       = 2
	pfR       = 4
	loadAlign = 0x1000
)

// ecall is the 4-byte encoding of RISC-V's ecall instruction, the single
// instruction every synthetic test image executes.
var ecall = []byte{0x73, 0x00, 0x00, 0x00}

// LoadVA is the fixed virtual address testelf.Build places its one PT_LOAD
// segment at.
const LoadVA = 0x10000

// Build returns a minimal, valid riscv64 ET_EXEC ELF image with a single
// R+W+X PT_LOAD segment at LoadVA containing code (defaulting to one ecall
// instruction when code is empty), entered at LoadVA.
func Build(code []byte) []byte {
	if len(code) == 0 {
		code = ecall
	}

	dataOff := elfHeaderSize + phdrSize
	total := dataOff + len(code)

	buf := make([]byte, total)

	// e_ident
	copy(buf[0:4], []byte{0x7f, 'E', 'L', 'F'})
	buf[4] = 2 // ELFCLASS64
	buf[5] = 1 // ELFDATA2LSB
	buf[6] = 1 // EV_CURRENT

	le := binary.LittleEndian
	le.PutUint16(buf[16:], etExec)
	le.PutUint16(buf[18:], emRiscv)
	le.PutUint32(buf[20:], 1) // e_version
	le.PutUint64(buf[24:], LoadVA)
	le.PutUint64(buf[32:], elfHeaderSize) // e_phoff
	le.PutUint64(buf[40:], 0)             // e_shoff
	le.PutUint32(buf[48:], 0)             // e_flags
	le.PutUint16(buf[52:], elfHeaderSize)
	le.PutUint16(buf[54:], phdrSize)
	le.PutUint16(buf[56:], 1) // e_phnum
	le.PutUint16(buf[58:], 0)
	le.PutUint16(buf[60:], 0)
	le.PutUint16(buf[62:], 0)

	// single PT_LOAD program header
	ph := buf[elfHeaderSize:]
	le.PutUint32(ph[0:], ptLoad)
	le.PutUint32(ph[4:], pfR|pfW|pfX)
	le.PutUint64(ph[8:], uint64(dataOff))
	le.PutUint64(ph[16:], LoadVA)
	le.PutUint64(ph[24:], LoadVA)
	le.PutUint64(ph[32:], uint64(len(code)))
	le.PutUint64(ph[40:], uint64(len(code)))
	le.PutUint64(ph[48:], loadAlign)

	copy(buf[dataOff:], code)
	return buf
}
