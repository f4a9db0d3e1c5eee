package kvmtest

import (
	"encoding/binary"

	"github.com/bobuhiro11/kvmctl/kvm"
)

// ioDataOffset is where the kernel puts port io data: the page after
// struct kvm_run.
const ioDataOffset = 0x1000

// WriteExit sets the exit reason of a run page.
func WriteExit(page []byte, reason kvm.ExitType) {
	binary.LittleEndian.PutUint32(page[8:], uint32(reason))
}

// WriteIO scripts a port io exit of count items of size bytes. For an
// out exit data is copied into the data area.
func WriteIO(page []byte, dir kvm.IODirection, port uint16, size uint8, count uint32, data []byte) {
	WriteExit(page, kvm.EXITIO)

	page[32] = byte(dir)
	page[33] = size
	binary.LittleEndian.PutUint16(page[34:], port)
	binary.LittleEndian.PutUint32(page[36:], count)
	binary.LittleEndian.PutUint64(page[40:], ioDataOffset)

	copy(page[ioDataOffset:], data)
}

// WriteFailEntry scripts a failed vm entry.
func WriteFailEntry(page []byte, reason uint64, cpu uint32) {
	WriteExit(page, kvm.EXITFAILENTRY)

	binary.LittleEndian.PutUint64(page[32:], reason)
	binary.LittleEndian.PutUint32(page[40:], cpu)
}
