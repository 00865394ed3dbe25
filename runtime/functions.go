package runtime

import (
	"encoding/binary"
	"strings"
	"unsafe"

	"github.com/vbwasm/wasmaot/errors"
)

// RawModuleFunction is a handle to one exported or table-reachable
// function inside the compiled artifact, found by walking the exported
// functions section or the table entries the way
// Runtime::findExportedFunctionByName/findFunctionByExportedTableIndex do.
type RawModuleFunction struct {
	rt                  *Runtime
	binaryOffsetFromEnd uint32
	signature           string
}

// entryPointer maps out: (binaryModule length - binaryOffsetFromEnd) gives
// the absolute byte offset of the function's native entry point within the
// artifact, which asmTrampoline then casts to a callable Go func value --
// the same unsafe-pointer-to-func-value idiom the teacher repo's
// exec/internal/compile/native_exec.go asmBlock.Invoke uses.
func (f RawModuleFunction) entryPointer() unsafe.Pointer {
	data := f.rt.binaryModule.Bytes()
	offset := len(data) - int(f.binaryOffsetFromEnd)
	return unsafe.Pointer(&data[offset])
}

// Call invokes the function with args, passing the runtime's basedata
// pointer, and returns its results. The entry convention is
// func(basedata *byte, args *uint64, results *uint64) -- every backend
// emits function bodies against this ABI rather than the native
// per-signature C calling convention, see runtime.go's package doc.
func (f RawModuleFunction) Call(args []uint64) (results []uint64, err error) {
	if err := f.rt.checkIsReady(true); err != nil {
		return nil, err
	}

	results = make([]uint64, resultCountFromSignature(f.signature))

	var argsPtr, resultsPtr *uint64
	if len(args) != 0 {
		argsPtr = &args[0]
	}
	if len(results) != 0 {
		resultsPtr = &results[0]
	}

	base := f.rt.memoryBase()
	var basedataPtr *byte
	if len(base) != 0 {
		basedataPtr = &base[0]
	}

	// Same trick as the teacher repo's exec/internal/compile/native_exec.go
	// asmBlock.Invoke: take the address of a local variable holding the
	// code pointer, then reinterpret that address as **func(...) and
	// double-dereference to obtain a directly callable Go func value.
	entry := uintptr(f.entryPointer())
	fp := **(**func(*byte, *uint64, *uint64))(unsafe.Pointer(&entry))
	fp(basedataPtr, argsPtr, resultsPtr)

	return results, nil
}

// resultCountFromSignature counts the result characters after '>' in a
// signature string of the form "ii>i" (two i32 params, one i32 result),
// the compact encoding FunctionInfo::validateSignatures compares against.
func resultCountFromSignature(sig string) int {
	i := strings.IndexByte(sig, '>')
	if i < 0 {
		return 0
	}
	return len(sig) - i - 1
}

// GetRawExportedFunctionByName looks up an exported function by name,
// validating its signature if expectedSignature is non-empty
// (Runtime::getRawExportedFunctionByName).
func (r *Runtime) GetRawExportedFunctionByName(name, expectedSignature string) (RawModuleFunction, error) {
	if err := r.checkIsReady(false); err != nil {
		return RawModuleFunction{}, err
	}
	offset, sig, err := r.findExportedFunctionByName(name)
	if err != nil {
		return RawModuleFunction{}, err
	}
	if expectedSignature != "" && sig != expectedSignature {
		return RawModuleFunction{}, errors.NewRuntime(errors.CodeFunctionSignatureMismatch)
	}
	return RawModuleFunction{rt: r, binaryOffsetFromEnd: offset, signature: sig}, nil
}

// GetRawFunctionByExportedTableIndex resolves a table entry to a callable
// function handle (Runtime::getRawFunctionByExportedTableIndex).
func (r *Runtime) GetRawFunctionByExportedTableIndex(tableIndex uint32, expectedSignature string) (RawModuleFunction, error) {
	if err := r.checkIsReady(false); err != nil {
		return RawModuleFunction{}, err
	}
	offset, err := r.findFunctionByExportedTableIndex(tableIndex)
	if err != nil {
		return RawModuleFunction{}, err
	}
	return RawModuleFunction{rt: r, binaryOffsetFromEnd: offset, signature: expectedSignature}, nil
}

// findExportedFunctionByName walks the exported-functions section (laid
// out back-to-front: count, then per-entry func index, export name,
// signature, call-wrapper blob) matching Runtime::findExportedFunctionByName.
func (r *Runtime) findExportedFunctionByName(name string) (offsetFromEnd uint32, signature string, err error) {
	data := r.binaryModule.Bytes()
	cursor := r.binaryModule.ExportedFunctionsEnd()

	readU32 := func() uint32 {
		cursor -= 4
		return binary.LittleEndian.Uint32(data[cursor : cursor+4])
	}

	n := readU32()
	for i := uint32(0); i < n; i++ {
		_ = readU32() // func index, unused here

		exportNameLen := readU32()
		cursor -= int(roundUpToPow2(exportNameLen, 2))
		exportName := string(data[cursor : cursor+int(exportNameLen)])

		matchedOffset := uint32(len(data) - cursor)

		sigLen := readU32()
		cursor -= int(roundUpToPow2(sigLen, 2))
		sig := string(data[cursor : cursor+int(sigLen)])

		wrapperSize := readU32()
		cursor -= int(roundUpToPow2(wrapperSize, 2))

		if exportName == name {
			return matchedOffset, sig, nil
		}
	}
	return 0, "", errors.NewRuntime(errors.CodeFunctionNotFound)
}

// findFunctionByExportedTableIndex resolves a table slot to its
// function's binary offset, matching
// Runtime::findFunctionByExportedTableIndex.
func (r *Runtime) findFunctionByExportedTableIndex(tableIndex uint32) (uint32, error) {
	data := r.binaryModule.Bytes()
	start := r.binaryModule.TableEntryFunctionsStart()

	if tableIndex >= r.binaryModule.TableSize() {
		return 0, errors.NewRuntime(errors.CodeFunctionNotFound)
	}
	entryOffset := start + int(tableIndex)*4
	functionOffsetToStart := binary.LittleEndian.Uint32(data[entryOffset : entryOffset+4])
	if functionOffsetToStart == 0xFFFFFFFF {
		return 0, errors.NewRuntime(errors.CodeFunctionNotFound)
	}
	return uint32(len(data)) - functionOffsetToStart, nil
}

// findExportedGlobalByName walks the exported-globals section, matching
// Runtime::findExportedGlobalByName, and returns the global's byte offset
// from the end of the artifact plus whether it is mutable (mutable
// globals live in link data; immutable ones are inlined as constants).
func (r *Runtime) findExportedGlobalByName(name string) (offsetFromEnd uint32, mutable bool, err error) {
	data := r.binaryModule.Bytes()
	cursor := r.binaryModule.ExportedGlobalsEnd()

	readU32 := func() uint32 {
		cursor -= 4
		return binary.LittleEndian.Uint32(data[cursor : cursor+4])
	}

	n := readU32()
	for i := uint32(0); i < n; i++ {
		exportNameLen := readU32()
		cursor -= int(roundUpToPow2(exportNameLen, 2))
		exportName := string(data[cursor : cursor+int(exportNameLen)])

		if exportName == name {
			return uint32(len(data) - cursor), false, nil
		}

		cursor -= 2 // padding
		isMutable := data[cursor-1] != 0
		cursor -= 1
		if isMutable {
			cursor -= 4
		} else {
			sigType := data[cursor-1]
			cursor -= 1
			if sigType == 1 || sigType == 3 { // i32, f32 (wasmtype.MachineI32/F32)
				cursor -= 4
			} else {
				cursor -= 8
			}
		}
	}
	return 0, false, errors.NewRuntime(errors.CodeGlobalNotFound)
}
