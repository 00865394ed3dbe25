package runtime

import (
	mmap "github.com/edsrzf/mmap-go"

	"github.com/vbwasm/wasmaot/errors"
)

// ExtendableMemory is a growable job-memory region backed by an mmap'd
// anonymous region, ported from ExtendableMemory.cpp/.hpp. Unlike the
// original's realloc-based scheme (it hands a raw extension-request
// callback to the embedder), this implementation always owns its own
// backing store: resize remaps a larger region and copies the live prefix
// forward, matching the growable-memory idiom the teacher repo's
// MMapAllocator uses for executable code (exec/internal/compile/native,
// SPEC_FULL.md §4.2).
type ExtendableMemory struct {
	mem mmap.MMap
}

// NewExtendableMemory allocates an initially-empty job memory region.
func NewExtendableMemory() *ExtendableMemory {
	return &ExtendableMemory{}
}

// Data returns the backing byte slice. Its address is stable until the
// next call to Resize.
func (m *ExtendableMemory) Data() []byte {
	if m.mem == nil {
		return nil
	}
	return []byte(m.mem)
}

// Size returns the current capacity in bytes.
func (m *ExtendableMemory) Size() uint32 { return uint32(len(m.mem)) }

// Resize grows the region to at least size bytes, preserving existing
// contents, or returns CodeCouldNotExtendMemory if the request cannot be
// satisfied (ExtendableMemory::resize).
func (m *ExtendableMemory) Resize(size uint32) error {
	if m.Size() >= size {
		return nil
	}
	next, err := mmap.MapRegion(nil, int(size), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return errors.NewRuntime(errors.CodeCouldNotExtendMemory)
	}
	if m.mem != nil {
		copy(next, m.mem)
		_ = m.mem.Unmap()
	}
	m.mem = next
	return nil
}

// Close releases the mapped region.
func (m *ExtendableMemory) Close() error {
	if m.mem == nil {
		return nil
	}
	err := m.mem.Unmap()
	m.mem = nil
	return err
}
