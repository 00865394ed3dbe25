package runtime

// Basedata is the fixed-size metadata block the compiled code and the
// runtime both address relative to a dedicated register (RegBasedata in
// every backend package): amd64.RegBasedata, arm64.RegBasedata,
// tricore.RegBasedata. It sits between job memory's start and the linear
// memory region, the way the original's Basedata namespace documents two
// coordinate systems over the same block -- FromStart offsets grow forward
// from the job memory base, FromEnd offsets grow backward from the linear
// memory base (basedataoffsets.hpp, referenced throughout Runtime.cpp).
//
// The backend packages hardcode their own copies of the handful of
// FromEnd offsets they emit code against (trapReentrySPOffset,
// memoryHelperPtrOffset, tableAddressOffset, builtinTableOffset,
// linMemSizeOffset, and tricore's extra softfloatTableOffset) to avoid an
// import cycle (backend -> runtime -> backend, since Runtime.Init also
// needs to know how the compiler laid out link data). This file is the
// single authoritative definition; the duplicated constants in
// compiler/backend/{amd64,arm64,tricore} MUST be kept numerically in sync
// with the FromEnd values below (see DESIGN.md).
// All offsets are typed int (rather than left as untyped constants) so
// they combine safely with the uint32 lengths used throughout this
// package without triggering Go's "constant overflows uint32" check on
// the negative FromEnd values.
const (
	// FromStart offsets, relative to the base of job memory.
	FromStartEndAddress int = 0 // uintptr: one-past-the-end address of the binary module, written by updateBinaryModule
	FromStartLinkData   int = 8 // start of the link-data region (spilled mutable globals, dynamic import pointers)

	// FromEnd offsets, relative to the base of linear memory (= job memory
	// base + basedata length). These must match the per-backend constants
	// of the same name exactly.
	FromEndTrapReentrySP   int = -8   // uintptr: SP at the point of entering Wasm code, 0 if no frame is active
	FromEndMemoryHelperPtr int = -16  // func pointer: MemoryHelper.extensionRequest / notifyOfMemoryGrowth
	FromEndTableAddress    int = -24  // uintptr: start of the Wasm table's (func-index, sig-index) pairs
	FromEndBuiltinTable    int = -96  // 9 func pointers (8 bytes each): the builtin function jump table
	FromEndLinMemSize      int = -32  // uint32: current linear memory size, in Wasm pages
	FromEndSoftfloatTable  int = -160 // tricore only: per-module softfloat routine pointer table

	// Remaining FromEnd fields the backends don't address directly but
	// Runtime needs, laid out densely below FromEndLinMemSize so the whole
	// block stays contiguous and basedataLength stays a single computed sum.
	FromEndTrapHandlerPtr    int = -40  // func pointer: currently-installed trap handler (reset to 0 each call)
	FromEndLinkStatusAddress int = -48  // uintptr: start of the imported-function link-status byte array
	FromEndBinaryModuleStart int = -56  // uintptr: start address of the compiled artifact
	FromEndActualLinMemSize  int = -64  // uint32: actual (grown) linear memory size in bytes, bounds-checked builds only
	FromEndCustomCtx         int = -72  // void*: opaque context pointer passed to Init, forwarded to extension callbacks
	FromEndStatusFlags       int = -73  // uint8: interruption-request flag, 1 byte, no alignment requirement
	FromEndStackFence        int = -88  // uintptr: active-stack-overflow-check fence address
	FromEndRuntimePtr        int = -104 // *Runtime: back-pointer used by builtin calls to reach the owning Runtime
	FromEndLinkedMemPtr      int = -112 // uint8*: base of a linked (not copied) host memory buffer
	FromEndLinkedMemLen      int = -120 // uint32: length of the linked host memory buffer
	FromEndTraceBufferPtr    int = -128 // uint32*: ring buffer for builtin trace instructions, nil if unset
	FromEndLandingPadTarget  int = -136 // uintptr: non-bounds-checked mode landing pad jump target
	FromEndLandingPadRet     int = -144 // uintptr: non-bounds-checked mode landing pad return address
	FromEndLastFrameRef      int = -152 // uint64: last active stacktrace frame reference, reset at call boundary

	// basedataFixedLength is everything above the stacktrace array and the
	// link-data region, i.e. basedataLength minus linkDataLength minus
	// 4*stacktraceEntryCount (getLast() in the original).
	basedataFixedLength int = 160
)

// BasedataLength returns the total size, in bytes, of the basedata block
// for a module with the given link-data width and stack-trace record
// count, mirroring Basedata::length.
func BasedataLength(linkDataLength uint32, stacktraceEntryCount uint32) uint32 {
	return uint32(basedataFixedLength) + linkDataLength + 4*stacktraceEntryCount
}

// stacktraceArrayBase returns the FromEnd offset (negative) of the first
// element of the stack-trace index array, which sits directly below the
// fixed fields and is sized by stacktraceEntryCount 32-bit slots.
func stacktraceArrayBase(stacktraceEntryCount uint32) int {
	return -basedataFixedLength - int(4*stacktraceEntryCount)
}

// fromEnd resolves a FromEnd offset against a region whose length is
// regionLength, returning the byte index from the start of that region.
func fromEnd(regionLength uint32, off int) int {
	return int(regionLength) + off
}
