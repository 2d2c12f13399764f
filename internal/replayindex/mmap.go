package replayindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// HeaderLength is the fixed size of the SBE-style message header that
// precedes the record ring in an index file (§6): blockLength, templateId,
// schemaId, version (2 bytes each, 8 bytes total) followed by the
// beginChange/endChange change-counter pair (§3, §4.1).
const HeaderLength = 24

const (
	offBlockLength = 0
	offTemplateId  = 2
	offSchemaId    = 4
	offSbeVersion  = 6
	offBeginChange = 8
	offEndChange   = 16
)

const (
	sbeBlockLength = RecordLength
	sbeTemplateId  = 1
	sbeSchemaId    = 1
	sbeVersion     = 0
)

// mappedFile is a read-only mmap of an index file: an SBE-style header
// followed by a ring of RecordLength-byte slots. Using unix.Mmap instead of
// io.ReaderAt polling is what makes the reader protocol in reader.go real:
// the ring slots are read directly out of the kernel page cache with no
// copy, so repeated polling of the tail of the file costs nothing beyond
// the memory barrier.
type mappedFile struct {
	data   []byte
	ring   []byte // data[HeaderLength:], the record ring
	closer func() error
}

func openMapped(path string, capacity int) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replayindex: open %s: %w", path, err)
	}
	size := HeaderLength + capacity
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("replayindex: mmap %s: %w", path, err)
	}
	m := &mappedFile{data: data, ring: data[HeaderLength:]}
	m.closer = func() error {
		uerr := unix.Munmap(data)
		if cerr := f.Close(); cerr != nil && uerr == nil {
			uerr = cerr
		}
		return uerr
	}
	return m, nil
}

// newBufferBacked wraps an in-memory buffer (no real file) with the same
// layout a mapped file would have. Used by tests to synthesize index
// contents without needing a writable mmap.
func newBufferBacked(buf []byte) *mappedFile {
	return &mappedFile{data: buf, ring: buf[HeaderLength:], closer: func() error { return nil }}
}

func (m *mappedFile) Close() error { return m.closer() }

func loadUint64(buf []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[off])))
}

func (m *mappedFile) beginChange() int64 { return int64(loadUint64(m.data, offBeginChange)) }
func (m *mappedFile) endChange() int64   { return int64(loadUint64(m.data, offEndChange)) }

// writeHeaderForTest initializes the SBE header fields and change counters
// of an in-memory buffer, used only by tests building synthetic index
// files.
func writeHeaderForTest(buf []byte, beginChange, endChange int64) {
	binary.LittleEndian.PutUint16(buf[offBlockLength:], sbeBlockLength)
	binary.LittleEndian.PutUint16(buf[offTemplateId:], sbeTemplateId)
	binary.LittleEndian.PutUint16(buf[offSchemaId:], sbeSchemaId)
	binary.LittleEndian.PutUint16(buf[offSbeVersion:], sbeVersion)
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[offBeginChange])), uint64(beginChange))
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[offEndChange])), uint64(endChange))
}
