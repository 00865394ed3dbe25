// Package backend defines the target-parametric contract Common drives
// (spec.md §4.6) plus the small set of helpers shared by every
// implementation (amd64, arm64, tricore): the RegDisp address-mode value and
// forward-branch patch lists.
package backend

import "github.com/vbwasm/wasmaot/wasmtype"

// Opcode identifies a deferred arithmetic/conversion/comparison action by
// its Wasm opcode byte (or an extended two-byte opcode for the 0xFC prefix
// family -- sign-extension, saturating truncation, bulk memory).
type Opcode uint16

// RegDisp is a resolved base-register-plus-displacement addressing
// expression, the value every backend returns when asked to turn a
// VariableStorage into something it can encode directly into an
// instruction (spec.md §4.6 "Address modes and offsets"). Bits records the
// displacement width class (10/16/32) the backend chose; if Disp doesn't
// fit that width the backend will instead have materialized it into
// ScratchReg and set Reg=ScratchReg, Disp=0.
type RegDisp struct {
	Reg  int16
	Disp int32
	Bits uint8
}

// BranchPatchList is the forward-reference chain described in spec.md
// §4.6 "Branch patching": each entry is a byte offset in the output buffer
// of a displacement field that must be rewritten once the branch target's
// position becomes known.
type BranchPatchList struct {
	Sites []uint32
}

// Add records one more pending patch site.
func (l *BranchPatchList) Add(site uint32) { l.Sites = append(l.Sites, site) }

// Comparison identifies a comparison operator, carried between
// EmitComparison and EmitBranch so the latter can avoid re-deriving
// condition-code state (spec.md §4.6, "last-emitted-comparison hint").
type Comparison uint8

const (
	CmpEq Comparison = iota
	CmpNe
	CmpLtS
	CmpLtU
	CmpGtS
	CmpGtU
	CmpLeS
	CmpLeU
	CmpGeS
	CmpGeU
	// Floating point: canonical flag bits LT, EQ, GT, UNORD (spec.md §4.6).
	CmpFLt
	CmpFGt
	CmpFLe
	CmpFGe
	CmpFEq
	CmpFNe
)

// LoadStoreOp identifies a linear-memory load/store opcode's width and
// sign/zero-extension behavior.
type LoadStoreOp uint8

const (
	OpI32Load LoadStoreOp = iota
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8S
	OpI32Load8U
	OpI32Load16S
	OpI32Load16U
	OpI64Load8S
	OpI64Load8U
	OpI64Load16S
	OpI64Load16U
	OpI64Load32S
	OpI64Load32U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpI64Store8
	OpI64Store16
	OpI64Store32
)

// BuiltinFunc identifies a runtime-provided builtin callable via
// ExecBuiltinFncCall -- the BUILTIN_FUNCTIONS path referenced from
// Runtime.cpp (linkMemory/unlinkMemory/clearTraceBuffer/setTraceBuffer) and
// wired into SPEC_FULL.md §3.
type BuiltinFunc uint8

const (
	BuiltinMemoryGrow BuiltinFunc = iota
	BuiltinLinkMemory
	BuiltinUnlinkMemory
	BuiltinClearTraceBuffer
	BuiltinSetTraceBuffer
)

// Target identifies which ISA a Backend implementation targets.
type Target uint8

const (
	TargetAMD64 Target = iota
	TargetARM64
	TargetTriCore
)

func (t Target) String() string {
	switch t {
	case TargetAMD64:
		return "amd64"
	case TargetARM64:
		return "arm64"
	case TargetTriCore:
		return "tricore"
	default:
		return "unknown"
	}
}

// Value is the argument/result representation Common passes to a Backend
// entry point: a resolved location (register, RegDisp memory operand, or
// immediate) plus its MachineType.
type Value struct {
	Type    wasmtype.MachineType
	InReg   bool
	Reg     int16
	Mem     RegDisp
	IsConst bool
	ConstLo uint64
}

// Backend is the contract Common drives to emit native code, implemented
// once per target ISA (spec.md §4.6). All position results are byte offsets
// within the backend's own output buffer.
type Backend interface {
	Target() Target

	// Register management.
	AllocateLocal(t wasmtype.MachineType, isParam bool, multiplicity uint32) (reg int16, ok bool)
	FreeRegisters() []int16
	SpillFromStack(victim int16) (slotOffset int32, err error)

	// Function-level emission.
	EnteredFunction(paramWidth, directLocalsWidth uint32) (prologuePos uint32)
	EmitFunctionEntryPoint(fncIndex uint32, sigParams, sigResults []wasmtype.MachineType) (entryPos uint32)
	EmitWasmToNativeAdapter(fncIndex uint32, sigParams, sigResults []wasmtype.MachineType) (adapterPos uint32)
	EmitExtensionRequestFunction() (pos uint32)

	// Calls.
	ExecDirectFncCall(targetFuncIndex uint32, callSitePatchList *BranchPatchList)
	ExecIndirectWasmCall(sigIndex uint32, tableIndexReg int16)
	ExecBuiltinFncCall(b BuiltinFunc)

	// Linear memory. ExecuteLinearMemoryCopy/Fill take i32 linear-memory
	// offset registers (dstOffsetReg, srcOffsetReg/valReg, lenReg) and must
	// bounds-check dst/src+len against the linked memory size themselves,
	// trapping with wasmtype.TrapLinearMemoryOOB on overflow (spec.md §4.6
	// "bulk memory") -- Common has no bounds-check lowering for these. It has
	// none for the single-address load/store family either.
	ExecuteLinearMemoryLoad(op LoadStoreOp, addrReg int16, offset uint32, destReg int16) error
	ExecuteLinearMemoryStore(op LoadStoreOp, addrReg int16, offset uint32, valueReg int16) error
	ExecuteLinearMemoryCopy(dstOffsetReg, srcOffsetReg, lenReg int16) error
	ExecuteLinearMemoryFill(dstOffsetReg, valReg, lenReg int16) error

	// Arithmetic / conversion / comparison.
	EmitDeferredAction(op Opcode, a0, a1 Value, targetReg int16) error
	EmitComparison(op Comparison, a0, a1 Value) error
	EmitBranch(targetPatch *BranchPatchList, negate bool) (branchPos uint32)
	EmitSelect(truthy, falsy, cond Value, destReg int16) error

	// ExecuteSaturatingTruncate implements the non-trapping float-to-int
	// conversions (spec.md §1): out-of-range and NaN inputs saturate to the
	// destination type's min/max (or zero for NaN) instead of trapping.
	ExecuteSaturatingTruncate(dstType, srcType wasmtype.MachineType, signed bool, a0 Value, targetReg int16) error

	// Control.
	ExecuteTrap(code wasmtype.TrapCode)
	ExecuteTableBranch(n uint32, nextTarget func(i uint32) *BranchPatchList)
	ExecuteGetMemSize(destReg int16)
	ExecuteMemGrow(deltaReg int16, destReg int16)

	EmitReturnAndUnwindStack(temporary bool)
	FinalizeBlock(forwardBranches *BranchPatchList, resultHint wasmtype.MachineType)
	SpillAllVariables()

	// Addressing.
	ResolveAddress(baseReg int16, offset int32, widthBits uint8) RegDisp

	// Pos returns the current write position (byte offset) in the output
	// buffer, used by the frontend/Common to record branch/call targets.
	Pos() uint32

	// PatchBranch resolves every site in l to target (a byte offset in this
	// backend's own output buffer).
	PatchBranch(l *BranchPatchList, target uint32)

	// Bytes returns the backend's accumulated native code buffer.
	Bytes() []byte
}
