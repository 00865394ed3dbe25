package module

// Limits ports implementationlimits.hpp's ImplementationLimits: caps chosen
// by the reference implementation, usually because of instruction-encoding
// or bitfield-width constraints rather than anything the Wasm spec itself
// mandates.
var Limits = struct {
	NumParams            uint32
	NumResults           uint32
	NumDirectLocals      uint32
	NumNonImportedGlobals uint32
	NumImportedFunctions uint32
	NumNonImportedFuncs  uint32
	NumTypes             uint32
	BranchTableLength    uint32
	NumTableEntries      uint32
	MaxStringLength      uint32
	MaxStackFrameSize    uint32
}{
	NumParams:             1 << 7,
	NumResults:             1 << 7,
	NumDirectLocals:        1 << 16,
	NumNonImportedGlobals:  1 << 16,
	NumImportedFunctions:   1 << 16,
	NumNonImportedFuncs:    1 << 20,
	NumTypes:               1 << 20,
	BranchTableLength:      1 << 20,
	NumTableEntries:        1 << 20,
	MaxStringLength:        0x7FFFFFFF,
	MaxStackFrameSize:      1 << 23,
}
