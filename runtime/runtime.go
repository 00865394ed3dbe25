// Package runtime loads a compiled binarymodule.Module into a growable job
// memory region and drives its lifecycle: linking imports, running globals
// and data segment initializers, invoking the start function, and exposing
// exported functions/globals to the host (ported from Runtime.cpp/.hpp,
// SPEC_FULL.md §4.8).
//
// Unlike the original, which generates a per-signature native "function
// call wrapper" trampoline inside the compiled artifact to marshal a C ABI
// call, every backend in this module compiles Wasm functions to a single
// uniform entry convention: two *uint64 slices for arguments and results,
// plus the basedata pointer (mirroring the teacher repo's
// exec/internal/compile/native_exec.go asmBlock.Invoke convention of
// casting an unsafe.Pointer to a Go func value rather than building a
// dedicated trampoline generator). See DESIGN.md for why this
// simplification was chosen over reproducing the original's wrapper
// generator.
package runtime

import (
	"encoding/binary"
	"unsafe"

	"github.com/vbwasm/wasmaot/binarymodule"
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/internal/logging"
)

// NativeSymbol is one host-provided dynamically-linked import, matched by
// (ModuleName, Name, Signature) against the compiled module's dynamic
// import table the way NativeSymbol.hpp/Runtime::initializeModule does.
type NativeSymbol struct {
	ModuleName string
	Name       string
	Signature  string
	Ptr        unsafe.Pointer
}

// sentinels mirrored from Runtime.cpp's queuedStartFncOffset_ protocol.
const (
	startAlreadyCalled = 0xFFFFFFFE
	noStartFunction    = 0xFFFFFFFF
)

// Runtime owns one instantiation of a compiled module: its job memory,
// basedata, and linear memory region (Runtime.hpp).
type Runtime struct {
	disabled             bool
	queuedStartFncOffset uint32

	jobMemory    *ExtendableMemory
	binaryModule *binarymodule.Module
	ctx          unsafe.Pointer
	logger       logging.Logger
}

// New constructs a Runtime bound to module, which must outlive the
// Runtime (its backing slice is embedded in job memory by reference, the
// way Runtime holds a BinaryModule const& in the original).
func New(module *binarymodule.Module, logger logging.Logger) *Runtime {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runtime{
		jobMemory:    NewExtendableMemory(),
		binaryModule: module,
		logger:       logger,
	}
}

// Disable marks the runtime unusable, matching the safety net the
// original gets for free from move-construction leaving the source
// object's disabled_ flag set.
func (r *Runtime) Disable() { r.disabled = true }

func (r *Runtime) checkIsReady(mustHaveStarted bool) error {
	if r.disabled {
		return errors.NewRuntime(errors.CodeRuntimeIsDisabled)
	}
	if mustHaveStarted && r.queuedStartFncOffset != startAlreadyCalled {
		return errors.NewRuntime(errors.CodeModuleNotInitialized)
	}
	return nil
}

// Init deserializes the binary module: it reserves job memory for the
// basedata, copies global initializers and data segments into place, and
// resolves every dynamically linked import against symbols, matching
// Runtime::init/initializeModule exactly.
func (r *Runtime) Init(symbols []NativeSymbol, ctx unsafe.Pointer) error {
	r.ctx = ctx

	linkDataLength := r.binaryModule.LinkDataLength()
	basedataLength := BasedataLength(linkDataLength, r.binaryModule.StacktraceEntryCount())

	if err := r.jobMemory.Resize(basedataLength); err != nil {
		return err
	}

	base := r.memoryBase()
	r.writeU32At(base, basedataLength, FromEndLinMemSize, r.binaryModule.InitialMemorySize())
	r.writePtrAt(base, basedataLength, FromEndTableAddress, uintptr(r.binaryModule.TableStart()))
	r.writePtrAt(base, basedataLength, FromEndLinkStatusAddress, uintptr(r.binaryModule.LinkStatusStart()))
	r.writePtrAt(base, basedataLength, FromEndCustomCtx, uintptr(ctx))

	if err := r.linkDynamicImports(symbols, linkDataLength); err != nil {
		return err
	}
	r.applyMutableGlobals(linkDataLength)

	maxDataOffset, err := r.applyDataSegments(basedataLength)
	if err != nil {
		return err
	}

	actualMemorySize := uint32(0)
	if r.binaryModule.HasLinearMemory() {
		actualMemorySize = maxDataOffset
	}
	r.writeU32At(r.memoryBase(), basedataLength, FromEndActualLinMemSize, actualMemorySize)

	r.resetStacktraceAndDebugRecords()
	r.resetTrapInfo()

	r.queuedStartFncOffset = r.binaryModule.StartFunctionBinaryOffset()
	return nil
}

// linkDynamicImports walks the artifact's dynamically-imported-functions
// section (laid out back-to-front: count, then per-entry module name,
// import name, signature, link-data offset) and writes each resolved
// pointer into link data.
func (r *Runtime) linkDynamicImports(symbols []NativeSymbol, linkDataLength uint32) error {
	data := r.binaryModule.Bytes()
	cursor := r.binaryModule.DynamicallyImportedFunctionsEnd()

	readU32 := func() uint32 {
		cursor -= 4
		return binary.LittleEndian.Uint32(data[cursor : cursor+4])
	}
	readStr := func() string {
		n := readU32()
		cursor -= int(roundUpToPow2(n, 2))
		return string(data[cursor : cursor+int(n)])
	}

	n := readU32()
	for i := uint32(0); i < n; i++ {
		moduleName := readStr()
		importName := readStr()
		signature := readStr()
		linkDataOffset := readU32()

		found := false
		for _, sym := range symbols {
			if sym.ModuleName == moduleName && sym.Name == importName && sym.Signature == signature {
				if uint64(linkDataOffset)+8 > uint64(linkDataLength) {
					return errors.NewRuntime(errors.CodeCouldNotExtendMemory)
				}
				r.writePtrAtOffset(r.memoryBase(), FromStartLinkData+int(linkDataOffset), uintptr(sym.Ptr))
				found = true
				break
			}
		}
		if !found {
			return errors.NewLinking(errors.CodeDynamicImportNotResolved)
		}
	}
	return nil
}

// applyMutableGlobals copies every mutable native global's initial value
// out of the artifact and into its link-data slot (Runtime::initializeModule
// OPBVNG section).
func (r *Runtime) applyMutableGlobals(linkDataLength uint32) {
	data := r.binaryModule.Bytes()
	cursor := r.binaryModule.MutableGlobalsEnd()

	readU32 := func() uint32 {
		cursor -= 4
		return binary.LittleEndian.Uint32(data[cursor : cursor+4])
	}

	n := readU32()
	base := r.memoryBase()
	for i := uint32(0); i < n; i++ {
		cursor -= 3 // padding
		machineType := data[cursor-1]
		cursor -= 1
		linkDataOffset := uint16(readU32())

		size := mutableGlobalSize(machineType)
		cursor -= int(size)
		_ = linkDataLength
		copy(base[FromStartLinkData+int(linkDataOffset):], data[cursor:cursor+int(size)])
	}
}

// mutableGlobalSize maps the encoded MachineType byte preceding a mutable
// global's initializer to its width in bytes.
func mutableGlobalSize(machineType byte) uint32 {
	switch machineType {
	case 1, 3: // i32, f32 (wasmtype.MachineI32/F32 encodings -- see wasmtype package)
		return 4
	default: // i64, f64
		return 8
	}
}

// applyDataSegments copies every active data segment into linear memory,
// growing job memory as needed, and returns the highest byte offset
// touched (Runtime::initializeModule SECTION: Data).
func (r *Runtime) applyDataSegments(basedataLength uint32) (uint32, error) {
	data := r.binaryModule.Bytes()
	cursor := r.binaryModule.DataSegmentsEnd()

	readU32 := func() uint32 {
		cursor -= 4
		return binary.LittleEndian.Uint32(data[cursor : cursor+4])
	}

	maxDataOffset := uint32(0)
	for i := uint32(0); i < r.binaryModule.NumDataSegments(); i++ {
		segStart := readU32()
		segSize := readU32()
		cursor -= int(roundUpToPow2(segSize, 2))

		maxSegOffset := segStart + segSize
		if maxSegOffset > maxDataOffset {
			if err := r.jobMemory.Resize(basedataLength + maxSegOffset); err != nil {
				return 0, err
			}
			base := r.memoryBase()
			clear(base[basedataLength+maxDataOffset : basedataLength+maxSegOffset])
			maxDataOffset = maxSegOffset
		}

		if segSize > 0 {
			base := r.memoryBase()
			copy(base[basedataLength+segStart:], data[cursor:cursor+int(segSize)])
		}
	}
	return maxDataOffset, nil
}

// Start invokes the module's start function exactly once, matching
// Runtime::start's double-call guard.
func (r *Runtime) Start() error {
	if r.queuedStartFncOffset == startAlreadyCalled {
		return errors.NewRuntime(errors.CodeStartFunctionAlreadyCalled)
	}
	if r.queuedStartFncOffset != noStartFunction {
		fn := RawModuleFunction{rt: r, binaryOffsetFromEnd: r.queuedStartFncOffset}
		if _, err := fn.Call(nil); err != nil {
			return err
		}
	}
	r.queuedStartFncOffset = startAlreadyCalled
	return nil
}

func (r *Runtime) memoryBase() []byte { return r.jobMemory.Data() }

func (r *Runtime) basedataLength() uint32 {
	return BasedataLength(r.binaryModule.LinkDataLength(), r.binaryModule.StacktraceEntryCount())
}

func (r *Runtime) linearMemoryBase() []byte {
	return r.memoryBase()[r.basedataLength():]
}

// writeU32At/writePtrAt write to a FromEnd-relative field: regionLength is
// the length of the region off is relative to the end of (basedata length,
// when addressing relative to linear-memory base).
func (r *Runtime) writeU32At(base []byte, regionLength uint32, off int, v uint32) {
	i := fromEnd(regionLength, off)
	binary.LittleEndian.PutUint32(base[i:i+4], v)
}

func (r *Runtime) writePtrAt(base []byte, regionLength uint32, off int, v uintptr) {
	i := fromEnd(regionLength, off)
	binary.LittleEndian.PutUint64(base[i:i+8], uint64(v))
}

func (r *Runtime) readU32At(base []byte, regionLength uint32, off int) uint32 {
	i := fromEnd(regionLength, off)
	return binary.LittleEndian.Uint32(base[i : i+4])
}

func (r *Runtime) readU64At(base []byte, regionLength uint32, off int) uint64 {
	i := fromEnd(regionLength, off)
	return binary.LittleEndian.Uint64(base[i : i+8])
}

// writePtrAtOffset writes at a FromStart-relative absolute byte offset
// (used for link-data writes, which are addressed from job memory's base).
func (r *Runtime) writePtrAtOffset(base []byte, off int, v uintptr) {
	binary.LittleEndian.PutUint64(base[off:off+8], uint64(v))
}

// GetLinearMemorySizeInPages returns the module's current linear memory
// size, updated in place by memory.grow.
func (r *Runtime) GetLinearMemorySizeInPages() uint32 {
	return r.readU32At(r.memoryBase(), r.basedataLength(), FromEndLinMemSize)
}

// GetLinearMemoryRegion returns the byte slice covering [offset, offset+size)
// of linear memory, extending job memory first if necessary.
func (r *Runtime) GetLinearMemoryRegion(offset, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	maxByte := uint64(offset) + uint64(size)
	if err := r.jobMemory.Resize(r.basedataLength() + uint32(maxByte)); err != nil {
		return nil, errors.NewRuntime(errors.CodeCouldNotExtendLinearMemory)
	}
	lm := r.linearMemoryBase()
	return lm[offset : offset+size], nil
}

// LinkMemory exposes a host buffer to compiled code without copying it
// into linear memory (BUILTIN_FUNCTIONS' linkMemory/unlinkMemory).
func (r *Runtime) LinkMemory(buf []byte) {
	base := r.memoryBase()
	regionLength := r.basedataLength()
	var ptr uintptr
	if len(buf) != 0 {
		ptr = uintptr(unsafe.Pointer(&buf[0]))
	}
	r.writePtrAt(base, regionLength, FromEndLinkedMemPtr, ptr)
	r.writeU32At(base, regionLength, FromEndLinkedMemLen, uint32(len(buf)))
}

// UnlinkMemory clears any previously linked host buffer.
func (r *Runtime) UnlinkMemory() { r.LinkMemory(nil) }

// RequestInterruption asks the next trap-checkpoint in compiled code to
// raise trapCode at its earliest opportunity (INTERRUPTION_REQUEST).
func (r *Runtime) RequestInterruption(trapCode uint8) {
	base := r.memoryBase()
	i := fromEnd(r.basedataLength(), FromEndStatusFlags)
	base[i] = trapCode
}

func (r *Runtime) resetStatusFlags() {
	base := r.memoryBase()
	i := fromEnd(r.basedataLength(), FromEndStatusFlags)
	base[i] = 0
}

func (r *Runtime) resetTrapInfo() {
	base := r.memoryBase()
	regionLength := r.basedataLength()
	r.writePtrAt(base, regionLength, FromEndTrapHandlerPtr, 0)
	r.writePtrAt(base, regionLength, FromEndTrapReentrySP, 0)
	r.resetStatusFlags()
}

// HasActiveFrame reports whether compiled code is currently executing
// (trapStackReentry is non-zero), matching Runtime::hasActiveFrame.
func (r *Runtime) HasActiveFrame() bool {
	return r.readU64At(r.memoryBase(), r.basedataLength(), FromEndTrapReentrySP) != 0
}

func (r *Runtime) resetStacktraceAndDebugRecords() {
	n := r.binaryModule.StacktraceEntryCount()
	if n == 0 {
		return
	}
	base := r.memoryBase()
	regionLength := r.basedataLength()
	i := fromEnd(regionLength, stacktraceArrayBase(n))
	arr := base[i : i+int(4*n)]
	for j := range arr {
		arr[j] = 0xFF
	}
	r.writePtrAt(base, regionLength, FromEndLastFrameRef, 0)
}

func roundUpToPow2(n uint32, log2 uint32) uint32 {
	mask := uint32(1<<log2) - 1
	return (n + mask) &^ mask
}
