// Package binarymodule parses the artifact emitted by the compiler: a
// relocation-free binary blob whose sections are laid out back-to-front and
// sized by a trailer word that precedes each one, so a reader walks from the
// end backwards without needing any header at the front (ported 1:1 from
// BinaryModule.cpp/.hpp's tail-first layout, spec.md §4.8).
//
// Go has no raw pointer arithmetic, so every original uint8_t* field becomes
// a byte offset from the start of the artifact slice; offsetToEnd mirrors
// the original's pointer-difference helper exactly.
package binarymodule

import (
	"encoding/binary"
	"unsafe"

	"github.com/vbwasm/wasmaot/errors"
)

// VersionNumber is the binary module format version this reader accepts.
const VersionNumber = 3

// noInitialMemorySize/noStartFunctionOffset mirror the sentinel UINT32_MAX values used by
// the original to mean "this module has no linear memory" / "no start
// function", respectively.
const (
	noInitialMemorySize   = 0xFFFFFFFF
	noStartFunctionOffset = 0xFFFFFFFF
)

// Module is a parsed view over one compiled artifact. It holds only offsets
// into the backing slice, never copies -- exactly the "only stores pointers,
// doesn't hold storage" contract the original documents.
type Module struct {
	data []byte

	moduleBinaryLength uint32
	stacktraceEntryCount uint32
	debugMode          bool
	landingPadOffset   int // -1 if none
	linkDataLength     uint32

	tableEntryFunctionsStart int
	tableStart               int
	tableSize                uint32

	linkStatusStart int

	exportedFunctionsEnd int
	exportedGlobalsEnd   int

	initialMemorySize uint32

	dynamicallyImportedFunctionsEnd int
	mutableGlobalsEnd               int

	startFunctionBinaryOffset uint32 // offset from end; noStartFunctionOffset if none

	functionNameSectionEnd int

	numDataSegments  uint32
	dataSegmentsEnd  int
}

// Init parses module in place, validating pointer alignment (16 bytes on
// the x86-64 JIT target, 8 bytes otherwise -- the original's
// JIT_TARGET_X86_64 #ifdef) and the version trailer.
func Init(target Alignment, data []byte) (*Module, error) {
	if len(data) == 0 {
		return nil, errors.NewValidation(errors.CodeEmptyInput)
	}
	addr := uintptr(unsafe.Pointer(&data[0]))
	if addr%uintptr(target) != 0 {
		return nil, errors.NewRuntime(errors.CodeModuleMemoryNotAligned)
	}

	m := &Module{data: data}
	end := len(data)
	pos := end

	readU32 := func() (uint32, error) {
		if pos < 4 {
			return 0, errors.NewValidation(errors.CodeBytecodeOutOfRange)
		}
		pos -= 4
		return binary.LittleEndian.Uint32(data[pos : pos+4]), nil
	}
	skip := func(n uint32) error {
		if int(n) > pos {
			return errors.NewValidation(errors.CodeBytecodeOutOfRange)
		}
		pos -= int(n)
		return nil
	}

	moduleBinaryLength, err := readU32()
	if err != nil {
		return nil, err
	}
	m.moduleBinaryLength = moduleBinaryLength

	version, err := readU32()
	if err != nil {
		return nil, err
	}
	if version != VersionNumber {
		return nil, errors.NewRuntime(errors.CodeBinaryModuleVersionNotSupported)
	}

	stacktraceEntry, err := readU32()
	if err != nil {
		return nil, err
	}
	m.stacktraceEntryCount = stacktraceEntry & 0x7FFFFFFF
	m.debugMode = stacktraceEntry&0x80000000 != 0

	landingPadOffset, err := readU32()
	if err != nil {
		return nil, err
	}
	if landingPadOffset != noStartFunctionOffset {
		m.landingPadOffset = pos - int(landingPadOffset)
	} else {
		m.landingPadOffset = -1
	}

	m.linkDataLength, err = readU32()
	if err != nil {
		return nil, err
	}

	numTableFunctionEntries, err := readU32()
	if err != nil {
		return nil, err
	}
	if err := skip(numTableFunctionEntries * 4); err != nil {
		return nil, err
	}
	m.tableEntryFunctionsStart = pos

	numTableEntries, err := readU32()
	if err != nil {
		return nil, err
	}
	m.tableSize = numTableEntries
	if err := skip(numTableEntries * (4 + 4)); err != nil {
		return nil, err
	}
	m.tableStart = pos

	numLinkStatusEntries, err := readU32()
	if err != nil {
		return nil, err
	}
	linkStatusPadding := deltaToNextPow2(numLinkStatusEntries, 2)
	if err := skip(linkStatusPadding); err != nil {
		return nil, err
	}
	if err := skip(numLinkStatusEntries); err != nil {
		return nil, err
	}
	m.linkStatusStart = pos

	exportedFunctionsSectionSize, err := readU32()
	if err != nil {
		return nil, err
	}
	m.exportedFunctionsEnd = pos
	if err := skip(exportedFunctionsSectionSize); err != nil {
		return nil, err
	}

	exportedGlobalsSectionSize, err := readU32()
	if err != nil {
		return nil, err
	}
	m.exportedGlobalsEnd = pos
	if err := skip(exportedGlobalsSectionSize); err != nil {
		return nil, err
	}

	m.initialMemorySize, err = readU32()
	if err != nil {
		return nil, err
	}

	dynImportSize, err := readU32()
	if err != nil {
		return nil, err
	}
	m.dynamicallyImportedFunctionsEnd = pos
	if err := skip(dynImportSize); err != nil {
		return nil, err
	}

	mutableGlobalsSize, err := readU32()
	if err != nil {
		return nil, err
	}
	m.mutableGlobalsEnd = pos
	if err := skip(mutableGlobalsSize); err != nil {
		return nil, err
	}

	startFunctionSectionSize, err := readU32()
	if err != nil {
		return nil, err
	}
	if startFunctionSectionSize > 0 {
		m.startFunctionBinaryOffset = uint32(end - pos)
	} else {
		m.startFunctionBinaryOffset = noStartFunctionOffset
	}
	if err := skip(startFunctionSectionSize); err != nil {
		return nil, err
	}

	functionNameSectionSize, err := readU32()
	if err != nil {
		return nil, err
	}
	m.functionNameSectionEnd = pos
	if err := skip(functionNameSectionSize); err != nil {
		return nil, err
	}

	m.numDataSegments, err = readU32()
	if err != nil {
		return nil, err
	}
	m.dataSegmentsEnd = pos

	return m, nil
}

// Alignment is the minimum byte alignment Init requires of the artifact's
// backing array, chosen per target ISA (the original's JIT_TARGET_X86_64
// #ifdef).
type Alignment uintptr

const (
	Align16 Alignment = 16 // x86-64
	Align8  Alignment = 8  // arm64, tricore
)

// deltaToNextPow2 returns how many bytes must be skipped to round n up to
// the next multiple of 2^log2Pow2, mirroring util.hpp's deltaToNextPow2.
func deltaToNextPow2(n uint32, log2Pow2 uint32) uint32 {
	mask := uint32(1<<log2Pow2) - 1
	return (uint32(1)<<log2Pow2 - (n & mask)) & mask
}

// Bytes returns the full backing artifact.
func (m *Module) Bytes() []byte { return m.data }

// ModuleBinaryLength is the artifact's declared length, excluding the
// length field itself.
func (m *Module) ModuleBinaryLength() uint32 { return m.moduleBinaryLength }

// StacktraceEntryCount is the number of stack-trace metadata records
// embedded in debug builds.
func (m *Module) StacktraceEntryCount() uint32 { return m.stacktraceEntryCount }

// DebugMode reports whether this artifact was compiled with stack-trace
// metadata.
func (m *Module) DebugMode() bool { return m.debugMode }

// HasLinearMemory reports whether the module declares a linear memory.
func (m *Module) HasLinearMemory() bool { return m.initialMemorySize != noInitialMemorySize }

// InitialMemorySize is the module's initial memory size in pages.
func (m *Module) InitialMemorySize() uint32 { return m.initialMemorySize }

// LinkDataLength is the total byte width of all link-data-resident
// variables (globals spilled out of registers for cross-function sharing).
func (m *Module) LinkDataLength() uint32 { return m.linkDataLength }

// TableSize is the number of entries in the Wasm table.
func (m *Module) TableSize() uint32 { return m.tableSize }

// TableEntryFunctionsStart returns the offset of the table's C-ABI wrapper
// function-pointer array.
func (m *Module) TableEntryFunctionsStart() int { return m.tableEntryFunctionsStart }

// TableStart returns the offset of the Wasm table's (func-index,sig-index)
// entry pairs.
func (m *Module) TableStart() int { return m.tableStart }

// LinkStatusStart returns the offset of the imported-function link-status
// byte array.
func (m *Module) LinkStatusStart() int { return m.linkStatusStart }

// ExportedFunctionsEnd returns the offset just past the end of the exported
// functions section (the section itself grows backwards from here).
func (m *Module) ExportedFunctionsEnd() int { return m.exportedFunctionsEnd }

// ExportedGlobalsEnd returns the offset just past the end of the exported
// globals section.
func (m *Module) ExportedGlobalsEnd() int { return m.exportedGlobalsEnd }

// DynamicallyImportedFunctionsEnd returns the offset just past the end of
// the dynamically-imported-functions section.
func (m *Module) DynamicallyImportedFunctionsEnd() int { return m.dynamicallyImportedFunctionsEnd }

// MutableGlobalsEnd returns the offset just past the end of the mutable
// native-global descriptors section.
func (m *Module) MutableGlobalsEnd() int { return m.mutableGlobalsEnd }

// HasStartFunction reports whether the module declares a start function.
func (m *Module) HasStartFunction() bool { return m.startFunctionBinaryOffset != noStartFunctionOffset }

// StartFunctionBinaryOffset returns the start function's offset from the
// end of the artifact (only valid if HasStartFunction).
func (m *Module) StartFunctionBinaryOffset() uint32 { return m.startFunctionBinaryOffset }

// FunctionNameSectionEnd returns the offset just past the end of the
// function-name debug section.
func (m *Module) FunctionNameSectionEnd() int { return m.functionNameSectionEnd }

// NumDataSegments is the number of active data segments.
func (m *Module) NumDataSegments() uint32 { return m.numDataSegments }

// DataSegmentsEnd returns the offset just past the end of the data
// section's descriptors.
func (m *Module) DataSegmentsEnd() int { return m.dataSegmentsEnd }

// LandingPadOrMemoryExtendFncOffset returns the offset of the trap landing
// pad (passive mode) or memory-extend helper (active mode), or -1 if the
// module has no linear memory.
func (m *Module) LandingPadOrMemoryExtendFncOffset() int { return m.landingPadOffset }

// TrapFncOffset returns the code-entry offset of the trap handler, which is
// always located at the very start of the artifact.
func (m *Module) TrapFncOffset() int { return 0 }
