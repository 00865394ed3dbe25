// Package wasmtype holds the small, backend-agnostic value types threaded
// through every layer of the compiler and runtime: WasmType (the type as it
// appears in the binary), MachineType (the type as the backend allocates
// registers/slots for it), StackType (the tagged-union discriminant used by
// the compiler stack, ported from StackType.hpp) and SignatureType (the
// on-the-wire encoding of a function signature).
package wasmtype

import "fmt"

// WasmType is a Wasm value type as read from the binary encoding.
type WasmType int8

const (
	TypeInvalid WasmType = 0
	TypeI32     WasmType = -0x01 // 0x7F
	TypeI64     WasmType = -0x02 // 0x7E
	TypeF32     WasmType = -0x03 // 0x7D
	TypeF64     WasmType = -0x04 // 0x7C
	TypeFuncref WasmType = -0x10 // 0x70
	TypeFunc    WasmType = -0x20 // 0x60
	TypeEmpty   WasmType = -0x40 // 0x40, used for void block types
)

func (t WasmType) String() string {
	switch t {
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeFuncref:
		return "funcref"
	case TypeFunc:
		return "func"
	case TypeEmpty:
		return "empty"
	default:
		return fmt.Sprintf("invalid(%d)", int8(t))
	}
}

// IsNumeric reports whether t is one of i32/i64/f32/f64.
func (t WasmType) IsNumeric() bool {
	switch t {
	case TypeI32, TypeI64, TypeF32, TypeF64:
		return true
	default:
		return false
	}
}

// MachineType is the register/slot type a backend deals with -- ported from
// MachineType.hpp's `enum class MachineType`.
type MachineType uint8

const (
	MachineInvalid MachineType = iota
	MachineI32
	MachineI64
	MachineF32
	MachineF64
)

func (m MachineType) String() string {
	switch m {
	case MachineI32:
		return "I32"
	case MachineI64:
		return "I64"
	case MachineF32:
		return "F32"
	case MachineF64:
		return "F64"
	default:
		return "INVALID"
	}
}

// Size returns the width in bytes of a value of this MachineType (0 for
// MachineInvalid), ported from MachineTypeUtil::getSize.
func (m MachineType) Size() uint32 {
	switch m {
	case MachineI32, MachineF32:
		return 4
	case MachineI64, MachineF64:
		return 8
	default:
		return 0
	}
}

// IsInt reports whether m is an integer MachineType.
func (m MachineType) IsInt() bool { return m == MachineI32 || m == MachineI64 }

// Is64 reports whether m is a 64-bit-wide MachineType.
func (m MachineType) Is64() bool { return m == MachineI64 || m == MachineF64 }

// FromWasmType converts a WasmType to its MachineType; panics for anything
// that isn't one of the four numeric value types, mirroring MachineTypeUtil::from's
// UNREACHABLE on invalid input.
func FromWasmType(t WasmType) MachineType {
	switch t {
	case TypeI32:
		return MachineI32
	case TypeI64:
		return MachineI64
	case TypeF32:
		return MachineF32
	case TypeF64:
		return MachineF64
	default:
		panic(fmt.Sprintf("wasmtype: invalid or unsupported WasmType %v", t))
	}
}

// ToWasmType is the inverse of FromWasmType. Only used for diagnostics; the
// compiler should never need to convert a MachineType back into the
// validation domain in steady-state operation.
func ToWasmType(m MachineType) WasmType {
	switch m {
	case MachineI32:
		return TypeI32
	case MachineI64:
		return TypeI64
	case MachineF32:
		return TypeF32
	case MachineF64:
		return TypeF64
	default:
		panic(fmt.Sprintf("wasmtype: invalid or unsupported MachineType %v", m))
	}
}

// StackType is the tagged-union discriminant carried by every compiler
// StackElement, ported from StackType.hpp. The low nibble names the
// variant (SCRATCHREGISTER, TEMP_RESULT, CONSTANT, LOCAL, GLOBAL,
// DEFERREDACTION, BLOCK, LOOP, IFBLOCK, SKIP); the high nibble carries the
// value's MachineType as an orthogonal flag so `elem.Type() & I64 != 0` is a
// cheap way to query the concrete type without an extra field access.
type StackType uint32

const (
	Invalid StackType = 0
	SANull  StackType = Invalid

	Scratchregister StackType = 1
	TempResult      StackType = 2
	Constant        StackType = 5
	Local           StackType = 6
	Global          StackType = 7
	DeferredAction  StackType = 8
	Block           StackType = 9
	Loop            StackType = 10
	Ifblock         StackType = 11
	Skip            StackType = 12

	TVoid StackType = 0b0000_0000
	I32   StackType = 0b0001_0000
	I64   StackType = 0b0010_0000
	F32   StackType = 0b0100_0000
	F64   StackType = 0b1000_0000

	BaseMask StackType = 0b0000_1111
	TypeMask StackType = 0b1111_0000

	ScratchregisterI32 = Scratchregister | I32
	ScratchregisterI64 = Scratchregister | I64
	ScratchregisterF32 = Scratchregister | F32
	ScratchregisterF64 = Scratchregister | F64

	ConstantI32 = Constant | I32
	ConstantI64 = Constant | I64
	ConstantF32 = Constant | F32
	ConstantF64 = Constant | F64

	TempResultI32 = TempResult | I32
	TempResultI64 = TempResult | I64
	TempResultF32 = TempResult | F32
	TempResultF64 = TempResult | F64
)

// Base returns the variant tag with the type flag masked off.
func (s StackType) Base() StackType { return s & BaseMask }

// MachineTypeFlag returns just the type-flag nibble.
func (s StackType) MachineTypeFlag() StackType { return s & TypeMask }

// ToMachineType converts the type-flag nibble of s to a MachineType, ported
// from MachineTypeUtil::fromStackTypeFlag.
func (s StackType) ToMachineType() MachineType {
	switch s.MachineTypeFlag() {
	case TVoid:
		return MachineInvalid
	case I32:
		return MachineI32
	case I64:
		return MachineI64
	case F32:
		return MachineF32
	case F64:
		return MachineF64
	default:
		panic("wasmtype: invalid StackType type flag")
	}
}

// MachineTypeToStackTypeFlag is the inverse: MachineTypeUtil::toStackTypeFlag.
func MachineTypeToStackTypeFlag(m MachineType) StackType {
	switch m {
	case MachineI32:
		return I32
	case MachineI64:
		return I64
	case MachineF32:
		return F32
	case MachineF64:
		return F64
	default:
		panic("wasmtype: invalid or unsupported MachineType")
	}
}

// SignatureType is the on-the-wire encoding used inside a function
// signature's serialized parameter/result list, per
// WasmImportExportType.hpp's sibling SignatureType concept referenced from
// MachineType.hpp's fromSignatureType. PARAMSTART/PARAMEND bracket a
// signature's parameter list; FORWARD marks a signature slot that has been
// collapsed into an earlier, structurally-identical one.
type SignatureType uint8

const (
	SigI32 SignatureType = iota
	SigI64
	SigF32
	SigF64
	SigParamStart
	SigParamEnd
	SigForward
)

// ToMachineType converts a numeric SignatureType to MachineType; panics for
// PARAMSTART/PARAMEND/FORWARD exactly like MachineTypeUtil::fromSignatureType.
func (s SignatureType) ToMachineType() MachineType {
	switch s {
	case SigI32:
		return MachineI32
	case SigI64:
		return MachineI64
	case SigF32:
		return MachineF32
	case SigF64:
		return MachineF64
	default:
		panic("wasmtype: SignatureType cannot be converted to MachineType")
	}
}

// ImportExportKind mirrors WasmImportExportType.hpp.
type ImportExportKind uint8

const (
	ImportExportFunc ImportExportKind = iota
	ImportExportTable
	ImportExportMem
	ImportExportGlobal
)

// WasmConstants groups the small numeric constants referenced throughout the
// spec (wasm page size, magic number, etc.), matching the teacher's
// WasmConstants.hpp grouping style.
const (
	WasmPageSize   = 64 * 1024
	WasmMaxPages   = 65536
	WasmMagic      = 0x6d736100 // "\0asm"
	WasmMVPVersion = 0x1
)
