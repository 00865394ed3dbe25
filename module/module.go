// Package module aggregates the parsed facts about a Wasm module --
// signatures, imports, globals, functions, tables, data segments and the
// per-function compiler state -- the way ModuleInfo does in spec.md §4.3.
package module

import (
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// StorageKind is where a local/global variable currently lives. A local's
// StorageKind can migrate (e.g. register -> stack at a block boundary);
// Common tracks the authoritative location (spec.md §3, LocalDef/GlobalDef).
type StorageKind uint8

const (
	StorageNone StorageKind = iota
	StorageRegister
	StorageStackMemory
	StorageLinkData
	StorageConstant
)

// VariableStorage resolves a StackElement referencing a LOCAL or GLOBAL to
// its concrete location, the way ModuleInfo::getStorage does.
type VariableStorage struct {
	Kind     StorageKind
	Reg      int16  // valid when Kind == StorageRegister
	Offset   int32  // valid when Kind == StorageStackMemory or StorageLinkData: frame/link-data offset
	Type     wasmtype.MachineType
	ConstLo  uint64 // valid when Kind == StorageConstant
}

// LocalDef describes one local variable (including parameters, which are
// locals 0..numParams-1).
type LocalDef struct {
	Type          wasmtype.MachineType
	IsParam       bool
	Mutable       bool
	CurrentKind   StorageKind
	Reg           int16
	StackOffset   int32
	LastUseSeqNum int64 // updated by the last-occurrence index (Common)
}

// GlobalDef describes one module-level global.
type GlobalDef struct {
	Type           wasmtype.MachineType
	Mutable        bool
	CurrentKind    StorageKind
	LinkDataOffset int32
	InitConst      uint64 // raw bits of the constant initializer expression
	Imported       bool   // always false: imported globals are not supported (spec.md §1 Non-goals)
}

// Import records one imported entity. Only function imports are supported
// by this implementation (Non-goals: imported memory/table/globals).
type Import struct {
	Module    string
	Name      string
	Kind      wasmtype.ImportExportKind
	SigIndex  uint32 // valid when Kind == ImportExportFunc
}

// Export records one exported entity.
type Export struct {
	Name  string
	Kind  wasmtype.ImportExportKind
	Index uint32
}

// TableEntry describes one element-section initializer targeting table
// index 0 (the only table this implementation supports, spec.md §1).
type TableEntry struct {
	FuncIndex uint32
	SigIndex  uint32
}

// DataSegment is one active data-section entry (passive segments are not
// supported, spec.md §1/§4.7 feature gate).
type DataSegment struct {
	Offset uint32
	Bytes  []byte
}

// FuncInfo is the per-function compiler state (spec.md §3 "Function
// state"). It's populated incrementally as the Code section is walked: the
// Function section fixes SigIndex, the Code section's local-declarations
// prefix fixes NumLocals, ParamWidth and DirectLocalsWidth, and the
// remaining fields are updated live during code generation (NumLocalsInReg
// is not set anywhere and stays 0).
type FuncInfo struct {
	Index       uint32
	SigIndex    uint32
	NumParams   uint32
	NumLocals   uint32 // total locals including params
	Locals      []LocalDef
	NumLocalsInReg     uint32
	StackFrameSize     uint32 // current (possibly widened) frame size
	FixedStackFrameSize uint32 // paramWidth + returnAddrWidth + directLocalsWidth, fixed at prologue
	ParamWidth          uint32
	DirectLocalsWidth   uint32
	LastBlockReference  int32 // index into the compiler arena of the innermost open block, -1 if none
	Unreachable         bool
	ProperlyTerminated  bool
	CheckedStackFrameSize uint32 // the frame size most recently validated against the stack fence

	Name string

	// BinaryOffsetFromEnd, once known, is the offset (from the end of the
	// binary module) at which this function's body begins. Forward calls
	// recorded before the body is emitted are patched once this becomes
	// known (spec.md §4.6 "Branch patching").
	BinaryOffsetFromEnd uint32
	BodyKnown           bool
	// PendingForwardCalls is not filled in: the Frontend keeps the call-site
	// displacements awaiting BinaryOffsetFromEnd in its own funcPatchLists,
	// keyed by callee index.
	PendingForwardCalls []uint32
}

// Info aggregates every parsed fact about one module, playing the role of
// ModuleInfo in spec.md §4.3.
type Info struct {
	Types      []Signature
	sigIndex   map[string]int

	Imports       []Import
	NumImportedFuncs uint32

	Functions []FuncInfo // length == NumImportedFuncs + number of locally defined functions

	Globals []GlobalDef

	Exports []Export

	HasTable    bool
	TableMin    uint32
	TableMax    uint32 // 0 means "no declared maximum"
	TableHasMax bool
	Elements    []TableEntry // index i (< TableMin) -> entry, sparse gaps are "unused" (UINT32_MAX,UINT32_MAX)

	HasMemory  bool
	MemoryMin  uint32
	MemoryMax  uint32
	MemoryHasMax bool

	DataSegments []DataSegment

	StartFuncIndex uint32
	HasStart       bool

	// NextRegisterAllocSeq is a monotonically increasing counter bumped on
	// every compiler-stack push of a scratch register, recorded into the
	// owning LocalDef/side array so "is this the last occurrence" can be
	// answered by comparing against the top-of-stack snapshot (spec.md §3
	// "last-occurrence index" invariant).
	NextRegisterAllocSeq int64
}

// New returns an Info with the five synthetic block-type signatures already
// interned at the end of Types, exactly as Frontend.cpp's type-section
// epilogue does, so that a bare valtype block-type can be looked up as a
// signature index uniformly with declared types.
func New() *Info {
	m := &Info{sigIndex: make(map[string]int)}
	synthetic := []Signature{
		{Params: nil, Results: nil},
		{Params: nil, Results: []wasmtype.MachineType{wasmtype.MachineI32}},
		{Params: nil, Results: []wasmtype.MachineType{wasmtype.MachineI64}},
		{Params: nil, Results: []wasmtype.MachineType{wasmtype.MachineF32}},
		{Params: nil, Results: []wasmtype.MachineType{wasmtype.MachineF64}},
	}
	for _, s := range synthetic {
		m.InternSignature(s.Params, s.Results)
	}
	return m
}

// SyntheticSigIndex returns the signature index for a block type's bare
// result (or void), as used when a `block`/`loop`/`if` opcode encodes its
// type as a single valtype instead of a type-section index.
func (m *Info) SyntheticSigIndex(result wasmtype.WasmType) uint32 {
	switch result {
	case wasmtype.TypeEmpty:
		return blockTypeVoidOffset
	case wasmtype.TypeI32:
		return blockTypeI32Offset
	case wasmtype.TypeI64:
		return blockTypeI64Offset
	case wasmtype.TypeF32:
		return blockTypeF32Offset
	case wasmtype.TypeF64:
		return blockTypeF64Offset
	default:
		panic("module: invalid block result type")
	}
}

// InternSignature records a signature, folding it into an existing
// structurally-identical one (setting Forward) if one already exists.
// Returns the index of the new slot (which may itself be a FORWARD marker).
func (m *Info) InternSignature(params, results []wasmtype.MachineType) uint32 {
	sig := Signature{Params: params, Results: results, Forward: -1}
	key := sig.key()
	if canonical, ok := m.sigIndex[key]; ok {
		sig.Forward = canonical
		m.Types = append(m.Types, sig)
		return uint32(len(m.Types) - 1)
	}
	idx := len(m.Types)
	m.sigIndex[key] = idx
	m.Types = append(m.Types, sig)
	return uint32(idx)
}

// ResolveSignature follows FORWARD markers to the canonical signature.
func (m *Info) ResolveSignature(idx uint32) (*Signature, uint32, error) {
	if int(idx) >= len(m.Types) {
		return nil, 0, errors.NewValidation(errors.CodeFunctionTypeOutOfBounds)
	}
	sig := &m.Types[idx]
	for sig.IsForward() {
		idx = uint32(sig.Forward)
		sig = &m.Types[idx]
	}
	return sig, idx, nil
}

// SignaturesEqualByIndex implements the "Signature opacity" law of spec.md
// §8: two sigIndex values refer to call-compatible signatures iff they
// resolve (via FORWARD) to the same canonical index.
func (m *Info) SignaturesEqualByIndex(a, b uint32) bool {
	_, ca, errA := m.ResolveSignature(a)
	_, cb, errB := m.ResolveSignature(b)
	return errA == nil && errB == nil && ca == cb
}

// Func returns the FuncInfo for a global function index (imports first,
// then locally defined functions, matching the binary's numbering).
func (m *Info) Func(idx uint32) (*FuncInfo, error) {
	if int(idx) >= len(m.Functions) {
		return nil, errors.NewValidation(errors.CodeFunctionIndexOutOfRange)
	}
	return &m.Functions[idx], nil
}

// IsImportedFunc reports whether idx names an imported (vs. locally
// defined) function.
func (m *Info) IsImportedFunc(idx uint32) bool { return idx < m.NumImportedFuncs }
