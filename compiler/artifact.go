package compiler

import (
	"encoding/binary"

	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// artifactVersion must match binarymodule.VersionNumber.
const artifactVersion = 3

const noOffset = 0xFFFFFFFF

// sectionWriter builds the tail-first artifact layout by writing fields in
// exactly the order binarymodule.Init (and runtime.Runtime's section
// walkers) read them back. Each write prepends to the buffer, so the first
// field written ends up at the highest address -- the first thing a
// tail-first reader sees -- mirroring BinaryModule.cpp's own writer, which
// this package has no direct analogue of in the teacher (wagon is an
// interpreter, it never serializes a relocation-free artifact), so this is
// grounded on the reader's exact field order in binarymodule.go instead.
type sectionWriter struct{ buf []byte }

func (w *sectionWriter) prependBytes(b []byte) {
	next := make([]byte, len(b)+len(w.buf))
	copy(next, b)
	copy(next[len(b):], w.buf)
	w.buf = next
}

func (w *sectionWriter) prependU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	w.prependBytes(b[:])
}

// prependPadded pads b up to a multiple of align (a power of two, e.g. 4)
// the way binarymodule's deltaToNextPow2(n, 2) pads string/byte data to a
// 4-byte boundary, then prepends it. Since the length word that precedes a
// padded field in every reader is always read before the field itself,
// callers must call prependU32(len(b)) first and prependPadded second (see
// prependStr).
func (w *sectionWriter) prependPadded(b []byte, align uint32) {
	pad := RoundUpToPow2(uint32(len(b)), align) - uint32(len(b))
	if pad > 0 {
		w.prependBytes(make([]byte, pad))
	}
	w.prependBytes(b)
}

// prependStr writes a length-prefixed, 4-byte-padded string field in the
// exact order every readStr-shaped reader in runtime/binarymodule expects:
// length word first (highest address, read first), then padding, then the
// string bytes (lowest address, read last).
func (w *sectionWriter) prependStr(s string) {
	w.prependU32(uint32(len(s)))
	w.prependPadded([]byte(s), 4)
}

// AssembleArtifact packs code (the concatenated native function bodies, as
// emitted by a backend.Backend) and m (the fully compiled module) into one
// relocation-free binary artifact in the exact tail-first layout
// binarymodule.Init and runtime.Runtime's section walkers expect.
//
// Per-function native-entry offsets (m.Functions[i].BinaryOffsetFromEnd)
// must already be resolved before calling this -- Frontend.Compile leaves
// that to the backend's branch-patching pass, matching spec.md §4.6.
func AssembleArtifact(code []byte, m *module.Info, debugMode bool) []byte {
	// w accumulates every section below moduleBinaryLength, built by
	// prepending in exactly the order binarymodule.Init reads them: each
	// call below corresponds 1:1 to the next field Init (or a runtime.go
	// section walker) reads, so the first call made here ends up at the
	// highest address -- the first byte Init's reader sees -- and the last
	// call made ends up closest to the code bytes at the front.
	w := &sectionWriter{}

	stacktraceEntry := uint32(len(m.Functions))
	if debugMode {
		stacktraceEntry |= 0x80000000
	}
	w.prependU32(artifactVersion)
	w.prependU32(stacktraceEntry)
	w.prependU32(noOffset) // landing-pad / memory-extend offset: not yet emitted by any backend
	w.prependU32(linkDataLengthOf(m))

	// Table-entry function-pointer wrapper array: one 4-byte placeholder
	// slot per table entry, reserved for a future native-ABI table-call
	// trampoline (this implementation calls through
	// runtime.RawModuleFunction.Call instead, see DESIGN.md).
	w.prependU32(m.TableMin)
	w.prependBytes(make([]byte, 4*m.TableMin))

	// Wasm table: (funcIndex, sigIndex) pairs, UINT32_MAX/UINT32_MAX for
	// unused slots, matching runtime.Runtime.findFunctionByExportedTableIndex.
	w.prependU32(m.TableMin)
	tbl := &sectionWriter{}
	for i := 0; i < int(m.TableMin); i++ {
		entry := findTableEntry(m, uint32(i))
		if entry == nil {
			tbl.prependU32(noOffset)
			tbl.prependU32(noOffset)
			continue
		}
		tbl.prependU32(entry.SigIndex)
		tbl.prependU32(entry.FuncIndex)
	}
	w.prependBytes(tbl.buf)

	// Imported-function link-status byte array, padded to a 4-byte
	// boundary (binarymodule.deltaToNextPow2(n, 2)), one byte per import.
	w.prependU32(m.NumImportedFuncs)
	w.prependBytes(make([]byte, RoundUpToPow2(m.NumImportedFuncs, 4)))

	// Exported functions: count, then per-entry (funcIndex, export name,
	// signature, wrapper blob), matching
	// runtime.Runtime.findExportedFunctionByName's read order. Every
	// function shares the uniform (basedata,args,results) entry convention
	// (runtime.go's package doc), so there is no dedicated wrapper blob to
	// emit; wrapperSize is always zero.
	ef := &sectionWriter{}
	efCount := uint32(0)
	for i := len(m.Exports) - 1; i >= 0; i-- {
		exp := m.Exports[i]
		if exp.Kind != wasmtype.ImportExportFunc {
			continue
		}
		fn := m.Functions[exp.Index]
		sig, _, _ := m.ResolveSignature(fn.SigIndex)
		ef.prependU32(exp.Index)
		ef.prependStr(exp.Name)
		ef.prependStr(sig.Encode())
		ef.prependU32(0) // wrapperSize: no dedicated wrapper blob, see runtime.go's package doc
		efCount++
	}
	w.prependU32(uint32(len(ef.buf)) + 4) // section size, including the count word
	w.prependU32(efCount)
	w.prependBytes(ef.buf)

	// Exported globals: count, then per-entry (name, then mutability/type
	// tag bytes consumed by Runtime.findExportedGlobalByName).
	eg := &sectionWriter{}
	egCount := uint32(0)
	for i := len(m.Exports) - 1; i >= 0; i-- {
		exp := m.Exports[i]
		if exp.Kind != wasmtype.ImportExportGlobal {
			continue
		}
		g := m.Globals[exp.Index]
		eg.prependStr(exp.Name)
		eg.prependBytes(make([]byte, 2)) // padding
		eg.prependBytes([]byte{boolToByte(g.Mutable)})
		if g.Mutable {
			// Runtime::findExportedGlobalByName always skips a fixed 4
			// bytes for a mutable global's slot, regardless of its value
			// type -- the value itself lives in link data, this is just a
			// skip distance.
			eg.prependBytes(make([]byte, 4))
		} else {
			width := 8
			if g.Type == wasmtype.MachineI32 || g.Type == wasmtype.MachineF32 {
				width = 4
			}
			eg.prependBytes([]byte{byte(g.Type)})
			eg.prependBytes(make([]byte, width))
		}
		egCount++
	}
	w.prependU32(uint32(len(eg.buf)) + 4) // section size, including the count word
	w.prependU32(egCount)
	w.prependBytes(eg.buf)

	// Initial memory size, in Wasm pages, or the sentinel if the module
	// declares no linear memory (binarymodule.noInitialMemorySize).
	if m.HasMemory {
		w.prependU32(m.MemoryMin)
	} else {
		w.prependU32(noOffset)
	}

	// Dynamically imported functions: count, then per-entry
	// (moduleName, importName, signature, link-data offset), matching
	// runtime.Runtime.linkDynamicImports's read order.
	di := &sectionWriter{}
	importCount := uint32(0)
	for i := len(m.Imports) - 1; i >= 0; i-- {
		imp := m.Imports[i]
		if imp.Kind != wasmtype.ImportExportFunc {
			continue
		}
		sig, _, _ := m.ResolveSignature(imp.SigIndex)
		di.prependStr(imp.Module)
		di.prependStr(imp.Name)
		di.prependStr(sig.Encode())
		di.prependU32(0) // link-data offset resolved by the linker pass, not the assembler
		importCount++
	}
	w.prependU32(uint32(len(di.buf)) + 4) // section size, including the count word
	w.prependU32(importCount)
	w.prependBytes(di.buf)

	// Mutable globals: count, then per-entry (3 bytes padding, 1 byte
	// MachineType, 4-byte link-data offset, N-byte initializer), matching
	// runtime.Runtime.applyMutableGlobals's read order exactly.
	mg := &sectionWriter{}
	mutableCount := uint32(0)
	for i := len(m.Globals) - 1; i >= 0; i-- {
		g := m.Globals[i]
		if !g.Mutable {
			continue
		}
		width := 8
		if g.Type == wasmtype.MachineI32 || g.Type == wasmtype.MachineF32 {
			width = 4
		}
		initBytes := make([]byte, 8)
		binary.LittleEndian.PutUint64(initBytes, g.InitConst)
		mg.prependBytes(make([]byte, 3)) // padding, read first
		mg.prependBytes([]byte{byte(g.Type)})
		mg.prependU32(uint32(uint16(g.LinkDataOffset)))
		mg.prependBytes(initBytes[:width]) // read last
		mutableCount++
	}
	w.prependU32(uint32(len(mg.buf)) + 4) // section size, including the count word
	w.prependU32(mutableCount)
	w.prependBytes(mg.buf)

	// Start function section: a single marker word is enough for the reader
	// (it only needs to know whether one exists; the actual offset is
	// computed as end-pos at read time).
	w.prependU32(boolToSectionSize(m.HasStart, 4))
	if m.HasStart {
		w.prependBytes(make([]byte, 4))
	}

	// Function-name debug section: only emitted in debug builds, matching
	// Runtime::printStacktrace's nameFuncIndex/nameLength/name layout.
	names := &sectionWriter{}
	nameCount := uint32(0)
	if debugMode {
		for _, fn := range m.Functions {
			if fn.Name == "" {
				continue
			}
			names.prependU32(fn.Index)
			names.prependU32(uint32(len(fn.Name)))
			names.prependPadded([]byte(fn.Name), 4)
			nameCount++
		}
	}
	w.prependU32(uint32(len(names.buf)) + 4) // section size, including the count word
	w.prependU32(nameCount)
	w.prependBytes(names.buf)

	// Data segments: count, then each entry (offset, size, bytes) ahead of
	// it (lower address), matching runtime.Runtime.applyDataSegments's read
	// order. Nothing after this point is tracked by a length field -- the
	// data segment bytes and the emitted code sit in the remaining space
	// Init never needs to skip past.
	w.prependU32(uint32(len(m.DataSegments)))
	for i := 0; i < len(m.DataSegments); i++ {
		seg := m.DataSegments[i]
		w.prependU32(seg.Offset)
		w.prependU32(uint32(len(seg.Bytes)))
		w.prependPadded(seg.Bytes, 4)
	}

	full := make([]byte, len(code)+len(w.buf))
	copy(full, code)
	copy(full[len(code):], w.buf)

	// moduleBinaryLength is the very last field in memory (the highest
	// address, the first word binarymodule.Init reads), recording the
	// length of everything before it.
	out := append(full, make([]byte, 4)...)
	binary.LittleEndian.PutUint32(out[len(out)-4:], uint32(len(full)))
	return out
}

func findTableEntry(m *module.Info, index uint32) *module.TableEntry {
	for i := range m.Elements {
		if i == int(index) {
			return &m.Elements[i]
		}
	}
	return nil
}

// linkDataLengthOf sums the link-data width every mutable global and
// dynamic import reserves (spec.md §4.3 "link data").
func linkDataLengthOf(m *module.Info) uint32 {
	var total uint32
	for _, g := range m.Globals {
		if !g.Mutable {
			continue
		}
		if g.Type == wasmtype.MachineI32 || g.Type == wasmtype.MachineF32 {
			total += 4
		} else {
			total += 8
		}
	}
	for _, imp := range m.Imports {
		if imp.Kind == wasmtype.ImportExportFunc {
			total += 8 // one function pointer slot
		}
	}
	return total
}

func boolToSectionSize(b bool, size uint32) uint32 {
	if b {
		return size
	}
	return 0
}

func boolToByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
