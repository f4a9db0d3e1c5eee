package memory

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Poison is an instruction that should force a vmexit.
// it fills memory to make catching guest errors easier.
// Disassembly:
// 0:  b8 be ba fe ca          mov    eax,0xcafebabe
// 5:  90                      nop
// 6:  0f 0b                   ud2
const Poison = "\xB8\xBE\xBA\xFE\xCA\x90\x0F\x0B"

var (
	errBadSize = errors.New("mapping size must be positive")
	errClosed  = errors.New("region already unmapped")
)

// Region is a memory mapping. The byte slice returned by Bytes is only
// valid until Close.
type Region struct {
	buf []byte
}

// Anonymous maps size bytes of zeroed, shared, anonymous memory, suitable
// as guest RAM.
func Anonymous(size int) (*Region, error) {
	if size <= 0 {
		return nil, errBadSize
	}

	buf, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, err
	}

	return &Region{buf: buf}, nil
}

// MapShared maps size bytes of fd at offset read/write and shared, as
// needed for a vcpu run page.
func MapShared(fd uintptr, offset int64, size int) (*Region, error) {
	if size <= 0 {
		return nil, errBadSize
	}

	buf, err := unix.Mmap(int(fd), offset, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}

	return &Region{buf: buf}, nil
}

// Bytes is the mapped memory.
func (r *Region) Bytes() []byte {
	return r.buf
}

// Len is the size of the mapping.
func (r *Region) Len() int {
	return len(r.buf)
}

// Poison fills the region from offset from to the end with Poison.
// 0 is valid instruction and if you start running in the middle of all
// those 0's it is impossible to diagnose.
func (r *Region) Poison(from int) {
	for i := from; i < len(r.buf); i += len(Poison) {
		copy(r.buf[i:], Poison)
	}
}

// Close unmaps the region.
func (r *Region) Close() error {
	if r.buf == nil {
		return errClosed
	}

	err := unix.Munmap(r.buf)
	r.buf = nil

	return err
}
