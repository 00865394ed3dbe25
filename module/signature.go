package module

import "github.com/vbwasm/wasmaot/wasmtype"

// Signature is a function type: an ordered list of parameter MachineTypes
// and an ordered list of result MachineTypes. Equal signatures are
// interned to a single canonical index (see ModuleInfo.internSignature);
// duplicates point at the canonical one via a FORWARD marker, the way the
// original's type section parsing collapses structurally-identical types
// so that call_indirect's signature check can be a plain index compare
// (spec.md §4.3, §8 "Signature opacity" law).
type Signature struct {
	Params  []wasmtype.MachineType
	Results []wasmtype.MachineType
	// Forward, if >= 0, means this slot is not canonical: the canonical
	// signature with identical params/results lives at index Forward.
	Forward int
}

// IsForward reports whether this signature slot has been folded into an
// earlier canonical one.
func (s *Signature) IsForward() bool { return s.Forward >= 0 }

// Equal reports structural equality of two signatures.
func (s *Signature) Equal(o *Signature) bool {
	if len(s.Params) != len(o.Params) || len(s.Results) != len(o.Results) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range s.Results {
		if s.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// signatureLetter maps a MachineType to the single-character code used by
// the artifact's compact signature strings (e.g. "ii>i" for two i32
// params and one i32 result), the format
// runtime.resultCountFromSignature and FunctionInfo::validateSignatures
// compare against.
func signatureLetter(t wasmtype.MachineType) byte {
	switch t {
	case wasmtype.MachineI32:
		return 'i'
	case wasmtype.MachineI64:
		return 'l'
	case wasmtype.MachineF32:
		return 'f'
	case wasmtype.MachineF64:
		return 'd'
	default:
		return '?'
	}
}

// Encode renders the signature as a compact "params>results" string, the
// form stored in the compiled artifact's exported-function and
// dynamic-import sections.
func (s *Signature) Encode() string {
	buf := make([]byte, 0, len(s.Params)+len(s.Results)+1)
	for _, p := range s.Params {
		buf = append(buf, signatureLetter(p))
	}
	buf = append(buf, '>')
	for _, r := range s.Results {
		buf = append(buf, signatureLetter(r))
	}
	return string(buf)
}

// key returns a comparable representation suitable for use as a map key
// when interning signatures.
func (s *Signature) key() string {
	buf := make([]byte, 0, len(s.Params)+len(s.Results)+1)
	for _, p := range s.Params {
		buf = append(buf, byte(p))
	}
	buf = append(buf, 0xFF)
	for _, r := range s.Results {
		buf = append(buf, byte(r))
	}
	return string(buf)
}

// Synthetic block-type signatures appended after the module's own declared
// types, so that a single-result block type (encoded as a bare valtype
// rather than a type-section index) can still be addressed uniformly as a
// signature index -- ported from Frontend.cpp's type-section epilogue
// ("Write custom signature ()=>(), ()=>I32, ()=>I64, ()=>F32, ()=>F64").
const (
	blockTypeVoidOffset = iota
	blockTypeI32Offset
	blockTypeI64Offset
	blockTypeF32Offset
	blockTypeF64Offset
	numSyntheticBlockTypes
)
