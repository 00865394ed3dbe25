package compiler

import (
	"github.com/vbwasm/wasmaot/compiler/backend"
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/leb128"
	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/validator"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// sectionID identifies a Wasm section, in the canonical order the Frontend
// enforces (spec.md §4.7).
type sectionID byte

const (
	secCustom sectionID = iota
	secType
	secImport
	secFunction
	secTable
	secMemory
	secGlobal
	secExport
	secStart
	secElement
	secDataCount
	secCode
	secData
)

// Options configures Frontend compilation (SPEC_FULL.md §1 "Configuration").
type Options struct {
	AllowUnknownImports bool
	EmitDebugMap        bool
	PassiveProtection   bool
	BuiltinFunctions    bool
}

// Frontend walks one Wasm binary end to end: parses every section into a
// module.Info, then compiles each function body against a target Backend
// (spec.md §4.7).
type Frontend struct {
	Opts    Options
	Backend backend.Backend
	Module  *module.Info

	funcPatchLists map[uint32]*backend.BranchPatchList // pending forward calls, keyed by callee func index

	blocks []*blockCtx // open control-flow blocks for the function currently being compiled, innermost last
}

// blockCtx tracks the branch-patching state for one open block/loop/if,
// addressed by br/br_if/br_table's relative label depth (spec.md §4.6
// "Branch patching", §4.7 structured control flow).
type blockCtx struct {
	exitPatch *backend.BranchPatchList // forward branches to the block's end, resolved at `end`
	loopStart uint32                   // valid when isLoop: the byte offset a `loop`'s br targets
	isLoop    bool
	isIf      bool
}

// targetFor returns the open block a branch to label depth d refers to; the
// caller uses its patch list for a forward target or its loopStart for a
// backward (loop) target.
func (f *Frontend) targetFor(depth uint32) *blockCtx {
	return f.blocks[len(f.blocks)-1-int(depth)]
}

// NewFrontend creates a Frontend targeting b.
func NewFrontend(b backend.Backend, opts Options) *Frontend {
	return &Frontend{
		Opts:           opts,
		Backend:        b,
		Module:         module.New(),
		funcPatchLists: make(map[uint32]*backend.BranchPatchList),
	}
}

// Compile parses and compiles an entire module binary, returning the
// populated module.Info (the backend's Bytes() holds the emitted code).
func (f *Frontend) Compile(data []byte) (*module.Info, error) {
	r := leb128.NewReader(data)
	magic, err := r.ReadLEU32()
	if err != nil {
		return nil, err
	}
	if magic != wasmtype.WasmMagic {
		return nil, errors.NewValidation(errors.CodeWrongWasmMagicNumber)
	}
	version, err := r.ReadLEU32()
	if err != nil {
		return nil, err
	}
	if version != wasmtype.WasmMVPVersion {
		return nil, errors.NewValidation(errors.CodeWasmVersionNotSupported)
	}

	var lastNonCustom sectionID = secCustom
	var codeBodies [][]byte

	for r.HasNextByte() {
		idByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		id := sectionID(idByte)
		size, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		sectionStart := r.Offset()
		if id != secCustom {
			if id <= lastNonCustom {
				return nil, errors.NewValidation(errors.CodeDuplicateOrOutOfOrderSection)
			}
			lastNonCustom = id
		}

		switch id {
		case secCustom:
			if err := r.Step(int(size)); err != nil {
				return nil, err
			}
		case secType:
			if err := f.parseTypeSection(r); err != nil {
				return nil, err
			}
		case secImport:
			if err := f.parseImportSection(r); err != nil {
				return nil, err
			}
		case secFunction:
			if err := f.parseFunctionSection(r); err != nil {
				return nil, err
			}
		case secTable:
			if err := f.parseTableSection(r); err != nil {
				return nil, err
			}
		case secMemory:
			if err := f.parseMemorySection(r); err != nil {
				return nil, err
			}
		case secGlobal:
			if err := f.parseGlobalSection(r); err != nil {
				return nil, err
			}
		case secExport:
			if err := f.parseExportSection(r); err != nil {
				return nil, err
			}
		case secStart:
			if err := f.parseStartSection(r); err != nil {
				return nil, err
			}
		case secElement:
			if err := f.parseElementSection(r); err != nil {
				return nil, err
			}
		case secDataCount:
			if _, err := r.ReadVarU32(); err != nil {
				return nil, err
			}
		case secCode:
			bodies, err := f.parseCodeSection(r)
			if err != nil {
				return nil, err
			}
			codeBodies = bodies
		case secData:
			if err := f.parseDataSection(r); err != nil {
				return nil, err
			}
		default:
			return nil, errors.NewValidation(errors.CodeInvalidSectionType)
		}

		if id != secCustom {
			if uint32(r.Offset()-sectionStart) != size {
				return nil, errors.NewValidation(errors.CodeSectionSizeMismatch)
			}
		}
	}

	for i, body := range codeBodies {
		fnIdx := f.Module.NumImportedFuncs + uint32(i)
		fn, err := f.Module.Func(fnIdx)
		if err != nil {
			return nil, err
		}
		if err := f.compileFunctionBody(fn, body); err != nil {
			return nil, err
		}
	}

	for idx, patch := range f.funcPatchLists {
		fn, err := f.Module.Func(idx)
		if err != nil {
			return nil, err
		}
		if !fn.BodyKnown {
			return nil, errors.NewValidation(errors.CodeFunctionIndexOutOfRange)
		}
		f.Backend.PatchBranch(patch, fn.BinaryOffsetFromEnd)
	}

	return f.Module, nil
}

// --- section parsers ------------------------------------------------------

func (f *Frontend) parseTypeSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	if n > module.Limits.NumTypes {
		return errors.NewImplementationLimit(errors.CodeTooManyTypes)
	}
	for i := uint32(0); i < n; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if wasmtype.WasmType(int8(form)) != wasmtype.TypeFunc {
			return errors.NewValidation(errors.CodeMalformedSectionWrongType)
		}
		params, err := readValTypeVec(r, module.Limits.NumParams, errors.CodeTooManyParams, errors.CodeInvalidFunctionParameterType)
		if err != nil {
			return err
		}
		results, err := readValTypeVec(r, module.Limits.NumResults, errors.CodeTooManyResults, errors.CodeInvalidFunctionReturnType)
		if err != nil {
			return err
		}
		f.Module.InternSignature(params, results)
	}
	return nil
}

func readValTypeVec(r *leb128.Reader, limit uint32, limitCode, typeCode errors.Code) ([]wasmtype.MachineType, error) {
	n, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, errors.NewImplementationLimit(limitCode)
	}
	out := make([]wasmtype.MachineType, n)
	for i := uint32(0); i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		wt := wasmtype.WasmType(int8(b))
		if !wt.IsNumeric() {
			return nil, errors.NewValidation(typeCode)
		}
		out[i] = wasmtype.FromWasmType(wt)
	}
	return out, nil
}

func (f *Frontend) parseImportSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		modName, err := r.ReadName()
		if err != nil {
			return err
		}
		if uint32(len(modName)) > module.Limits.MaxStringLength {
			return errors.NewValidation(errors.CodeModuleNameTooLong)
		}
		fieldName, err := r.ReadName()
		if err != nil {
			return err
		}
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		kind := wasmtype.ImportExportKind(kindByte)
		switch kind {
		case wasmtype.ImportExportFunc:
			sigIdx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if _, _, err := f.Module.ResolveSignature(sigIdx); err != nil {
				return err
			}
			if f.Module.NumImportedFuncs >= module.Limits.NumImportedFunctions {
				return errors.NewImplementationLimit(errors.CodeTooManyImportedFunctions)
			}
			f.Module.Imports = append(f.Module.Imports, module.Import{Module: modName, Name: fieldName, Kind: kind, SigIndex: sigIdx})
			f.Module.NumImportedFuncs++
			f.Module.Functions = append(f.Module.Functions, module.FuncInfo{
				Index: uint32(len(f.Module.Functions)), SigIndex: sigIdx, Name: fieldName,
			})
		case wasmtype.ImportExportTable:
			return errors.NewFeatureNotSupported(errors.CodeImportedTableNotSupported)
		case wasmtype.ImportExportMem:
			return errors.NewFeatureNotSupported(errors.CodeImportedMemoryNotSupported)
		case wasmtype.ImportExportGlobal:
			return errors.NewFeatureNotSupported(errors.CodeImportedGlobalNotSupported)
		default:
			return errors.NewValidation(errors.CodeUnknownImportType)
		}
	}
	return nil
}

func (f *Frontend) parseFunctionSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	if n > module.Limits.NumNonImportedFuncs {
		return errors.NewImplementationLimit(errors.CodeMaximumNumberOfFunctionsExceeded)
	}
	for i := uint32(0); i < n; i++ {
		sigIdx, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		if _, _, err := f.Module.ResolveSignature(sigIdx); err != nil {
			return err
		}
		idx := uint32(len(f.Module.Functions))
		f.Module.Functions = append(f.Module.Functions, module.FuncInfo{Index: idx, SigIndex: sigIdx})
	}
	return nil
}

func (f *Frontend) parseTableSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if n != 1 {
		return errors.NewFeatureNotSupported(errors.CodeOnlyFuncrefTableAllowed)
	}
	elemType, err := r.ReadByte()
	if err != nil {
		return err
	}
	if wasmtype.WasmType(int8(elemType)) != wasmtype.TypeFuncref {
		return errors.NewFeatureNotSupported(errors.CodeOnlyFuncrefTableAllowed)
	}
	min, max, hasMax, err := readLimits(r)
	if err != nil {
		return err
	}
	if min > module.Limits.NumTableEntries {
		return errors.NewImplementationLimit(errors.CodeTableInitialSizeTooLong)
	}
	f.Module.HasTable = true
	f.Module.TableMin = min
	f.Module.TableMax = max
	f.Module.TableHasMax = hasMax
	f.Module.Elements = make([]module.TableEntry, min)
	for i := range f.Module.Elements {
		f.Module.Elements[i] = module.TableEntry{FuncIndex: ^uint32(0), SigIndex: ^uint32(0)}
	}
	return nil
}

func readLimits(r *leb128.Reader) (min, max uint32, hasMax bool, err error) {
	flag, err := r.ReadByte()
	if err != nil {
		return 0, 0, false, err
	}
	if flag > 1 {
		return 0, 0, false, errors.NewValidation(errors.CodeUnknownSizeLimitFlag)
	}
	min, err = r.ReadVarU32()
	if err != nil {
		return 0, 0, false, err
	}
	if flag == 1 {
		max, err = r.ReadVarU32()
		if err != nil {
			return 0, 0, false, err
		}
		if max < min {
			return 0, 0, false, errors.NewValidation(errors.CodeMaximumTableSizeSmallerThanInitial)
		}
		hasMax = true
	}
	return min, max, hasMax, nil
}

func (f *Frontend) parseMemorySection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if n != 1 {
		return errors.NewValidation(errors.CodeOnlyOneMemoryInstanceAllowed)
	}
	min, max, hasMax, err := readLimits(r)
	if err != nil {
		return err
	}
	if min > wasmtype.WasmMaxPages || (hasMax && max > wasmtype.WasmMaxPages) {
		return errors.NewValidation(errors.CodeMemorySizeMustBeAtMost65536Pages)
	}
	f.Module.HasMemory = true
	f.Module.MemoryMin = min
	f.Module.MemoryMax = max
	f.Module.MemoryHasMax = hasMax
	return nil
}

func (f *Frontend) parseGlobalSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	if uint32(len(f.Module.Globals))+n > module.Limits.NumNonImportedGlobals {
		return errors.NewImplementationLimit(errors.CodeTooManyGlobals)
	}
	for i := uint32(0); i < n; i++ {
		typeByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		wt := wasmtype.WasmType(int8(typeByte))
		if !wt.IsNumeric() {
			return errors.NewValidation(errors.CodeInvalidGlobalType)
		}
		mutByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		if mutByte > 1 {
			return errors.NewValidation(errors.CodeUnknownMutabilityFlag)
		}
		init, err := readConstI64Expr(r)
		if err != nil {
			return err
		}
		f.Module.Globals = append(f.Module.Globals, module.GlobalDef{
			Type: wasmtype.FromWasmType(wt), Mutable: mutByte == 1, InitConst: init,
		})
	}
	return nil
}

// readConstI64Expr reads a constant initializer expression terminated by
// `end` (0x0B), accepting only a single const opcode -- global/data/element
// offset expressions are restricted to constants in this implementation
// (spec.md §4.7's element/data sections are both "constant i32 offset").
func readConstI64Expr(r *leb128.Reader) (uint64, error) {
	op, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	var v uint64
	switch op {
	case opI32Const:
		iv, err := r.ReadVarI32()
		if err != nil {
			return 0, err
		}
		v = uint64(uint32(iv))
	case opI64Const:
		iv, err := r.ReadVarI64()
		if err != nil {
			return 0, err
		}
		v = uint64(iv)
	case opF32Const:
		b, err := r.ReadLEU32()
		if err != nil {
			return 0, err
		}
		v = uint64(b)
	case opF64Const:
		b, err := r.ReadLEU64()
		if err != nil {
			return 0, err
		}
		v = b
	default:
		return 0, errors.NewValidation(errors.CodeMalformedGlobalInitExpr)
	}
	end, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if end != opEnd {
		return 0, errors.NewValidation(errors.CodeMalformedGlobalInitExpr)
	}
	return v, nil
}

// readConstI32OffsetExpr reads a constant i32 expression used for element
// and data segment offsets (spec.md §4.7).
func readConstI32OffsetExpr(r *leb128.Reader) (uint32, error) {
	op, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if op != opI32Const {
		return 0, errors.NewValidation(errors.CodeConstantExprOffsetMustBeI32)
	}
	iv, err := r.ReadVarI32()
	if err != nil {
		return 0, err
	}
	end, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if end != opEnd {
		return 0, errors.NewValidation(errors.CodeMalformedConstantExprOffset)
	}
	return uint32(iv), nil
}

func (f *Frontend) parseExportSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	seen := make(map[string]bool, n)
	for i := uint32(0); i < n; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if seen[name] {
			return errors.NewValidation(errors.CodeDuplicateExportSymbol)
		}
		seen[name] = true
		kindByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		kind := wasmtype.ImportExportKind(kindByte)
		idx, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		switch kind {
		case wasmtype.ImportExportFunc:
			if int(idx) >= len(f.Module.Functions) {
				return errors.NewValidation(errors.CodeFunctionOutOfRange)
			}
		case wasmtype.ImportExportGlobal:
			if int(idx) >= len(f.Module.Globals) {
				return errors.NewValidation(errors.CodeGlobalOutOfRange)
			}
		case wasmtype.ImportExportMem:
			if idx != 0 || !f.Module.HasMemory {
				return errors.NewValidation(errors.CodeMemoryOutOfRange)
			}
		case wasmtype.ImportExportTable:
			if idx != 0 || !f.Module.HasTable {
				return errors.NewValidation(errors.CodeTableOutOfRange)
			}
		default:
			return errors.NewValidation(errors.CodeUnknownExportType)
		}
		f.Module.Exports = append(f.Module.Exports, module.Export{Name: name, Kind: kind, Index: idx})
	}
	return nil
}

func (f *Frontend) parseStartSection(r *leb128.Reader) error {
	idx, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	fn, err := f.Module.Func(idx)
	if err != nil {
		return errors.NewValidation(errors.CodeStartFunctionIndexOutOfRange)
	}
	sig, _, err := f.Module.ResolveSignature(fn.SigIndex)
	if err != nil {
		return err
	}
	if len(sig.Params) != 0 || len(sig.Results) != 0 {
		return errors.NewValidation(errors.CodeStartFunctionMustBeNullary)
	}
	f.Module.HasStart = true
	f.Module.StartFuncIndex = idx
	return nil
}

func (f *Frontend) parseElementSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		tblIdx, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		if tblIdx != 0 {
			return errors.NewValidation(errors.CodeTableIndexOutOfBounds)
		}
		offset, err := readConstI32OffsetExpr(r)
		if err != nil {
			return err
		}
		count, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		for j := uint32(0); j < count; j++ {
			funcIdx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			fn, err := f.Module.Func(funcIdx)
			if err != nil {
				return errors.NewValidation(errors.CodeFunctionIndexOutOfRange)
			}
			pos := offset + j
			if pos >= f.Module.TableMin {
				return errors.NewValidation(errors.CodeTableElementIndexOutOfRange)
			}
			f.Module.Elements[pos] = module.TableEntry{FuncIndex: funcIdx, SigIndex: fn.SigIndex}
		}
	}
	return nil
}

// parseCodeSection reads each function body's raw bytes (including its
// local-declarations prefix) without compiling yet -- compilation happens
// after every section (including Element, whose forward function
// references must already be known) has been parsed, so that a function's
// own forward calls to later-defined functions can be recorded uniformly.
func (f *Frontend) parseCodeSection(r *leb128.Reader) ([][]byte, error) {
	n, err := r.ReadVarU32()
	if err != nil {
		return nil, err
	}
	if n != uint32(len(f.Module.Functions))-f.Module.NumImportedFuncs {
		return nil, errors.NewValidation(errors.CodeFunctionCodeCountMismatch)
	}
	bodies := make([][]byte, n)
	for i := uint32(0); i < n; i++ {
		size, err := r.ReadVarU32()
		if err != nil {
			return nil, err
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, err
		}
		bodies[i] = body
	}
	return bodies, nil
}

func (f *Frontend) parseDataSection(r *leb128.Reader) error {
	n, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		kind, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		if kind != 0 {
			return errors.NewFeatureNotSupported(errors.CodePassiveDataSegmentsNotImplemented)
		}
		offset, err := readConstI32OffsetExpr(r)
		if err != nil {
			return err
		}
		size, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		bytes, err := r.ReadBytes(int(size))
		if err != nil {
			return err
		}
		if f.Module.HasMemory && uint64(offset)+uint64(size) > uint64(f.Module.MemoryMin)*wasmtype.WasmPageSize {
			return errors.NewValidation(errors.CodeDataSegmentOutOfInitialBounds)
		}
		f.Module.DataSegments = append(f.Module.DataSegments, module.DataSegment{
			Offset: offset, Bytes: append([]byte(nil), bytes...),
		})
	}
	return nil
}

// --- code generation -------------------------------------------------------

// compileFunctionBody parses a single function body's local declarations
// prefix and then drives the opcode loop.
func (f *Frontend) compileFunctionBody(fn *module.FuncInfo, body []byte) error {
	r := leb128.NewReader(body)
	sig, _, err := f.Module.ResolveSignature(fn.SigIndex)
	if err != nil {
		return err
	}
	fn.NumParams = uint32(len(sig.Params))
	fn.Locals = make([]module.LocalDef, len(sig.Params))
	var paramWidth uint32
	for i, t := range sig.Params {
		fn.Locals[i] = module.LocalDef{Type: t, IsParam: true}
		paramWidth += t.Size()
	}
	fn.ParamWidth = paramWidth

	groupCount, err := r.ReadVarU32()
	if err != nil {
		return err
	}
	var directWidth uint32
	for i := uint32(0); i < groupCount; i++ {
		count, err := r.ReadVarU32()
		if err != nil {
			return err
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		wt := wasmtype.WasmType(int8(typeByte))
		if !wt.IsNumeric() {
			return errors.NewValidation(errors.CodeInvalidLocalType)
		}
		mt := wasmtype.FromWasmType(wt)
		if uint32(len(fn.Locals))+count > module.Limits.NumDirectLocals {
			return errors.NewImplementationLimit(errors.CodeTooManyDirectLocals)
		}
		for j := uint32(0); j < count; j++ {
			fn.Locals = append(fn.Locals, module.LocalDef{Type: mt})
			directWidth += mt.Size()
		}
	}
	fn.NumLocals = uint32(len(fn.Locals))
	fn.DirectLocalsWidth = directWidth

	b := f.Backend
	entryPos := b.EnteredFunction(fn.ParamWidth, directWidth)
	_ = b.EmitFunctionEntryPoint(fn.Index, sig.Params, sig.Results)
	fn.BinaryOffsetFromEnd = entryPos
	fn.BodyKnown = true
	if pending, ok := f.funcPatchLists[fn.Index]; ok {
		b.PatchBranch(pending, entryPos)
	}

	c := NewCommon(b, f.Module, fn)
	vs := validator.NewStack(sig)
	f.blocks = f.blocks[:0]

	for i, t := range sig.Params {
		reg, ok := b.AllocateLocal(t, true, 1)
		if ok {
			fn.Locals[i].CurrentKind = module.StorageRegister
			fn.Locals[i].Reg = reg
		} else {
			fn.Locals[i].CurrentKind = module.StorageStackMemory
		}
	}

	return f.walkBody(r, fn, c, vs)
}

// walkBody drives the per-opcode loop: validation-stack update first, then
// (if the current frame is reachable) a compiler-stack update or direct
// Backend emission (spec.md §4.7).
func (f *Frontend) walkBody(r *leb128.Reader, fn *module.FuncInfo, c *Common, vs *validator.Stack) error {
	b := f.Backend
	for {
		op, err := r.ReadByte()
		if err != nil {
			return err
		}
		reachable := !vs.IsUnreachable()

		switch op {
		case opUnreachable:
			if reachable {
				b.ExecuteTrap(wasmtype.TrapUnreachable)
			}
			vs.MarkUnreachable()

		case opNop:
			// no-op

		case opBlock, opLoop, opIf:
			sigIdx, err := readBlockType(r, f.Module)
			if err != nil {
				return err
			}
			sig, _, err := f.Module.ResolveSignature(sigIdx)
			if err != nil {
				return err
			}
			kind := validator.FrameBlock
			if op == opLoop {
				kind = validator.FrameLoop
			} else if op == opIf {
				kind = validator.FrameIf
			}
			if op == opIf {
				if err := vs.PopExpect(wasmtype.MachineI32); err != nil {
					return err
				}
				if reachable {
					if err := c.SideEffectBarrier(); err != nil {
						return err
					}
				}
			}
			if err := vs.EnterBlock(kind, sig); err != nil {
				return err
			}
			bc := &blockCtx{exitPatch: &backend.BranchPatchList{}, isLoop: op == opLoop, isIf: op == opIf}
			if op == opLoop {
				bc.loopStart = b.Pos()
			}
			if op == opIf && reachable {
				cond := c.Stack.Pop()
				condVal := c.valueOf(cond)
				if err := b.EmitComparison(backend.CmpNe, condVal, backend.Value{Type: wasmtype.MachineI32, IsConst: true}); err != nil {
					return err
				}
				elsePatch := &backend.BranchPatchList{}
				b.EmitBranch(elsePatch, true)
				bc.exitPatch = elsePatch // reused as the "branch to else/end" list until `else` is seen
			}
			f.blocks = append(f.blocks, bc)

		case opElse:
			prevBC := f.blocks[len(f.blocks)-1]
			if reachable {
				if err := c.SideEffectBarrier(); err != nil {
					return err
				}
			}
			endPatch := &backend.BranchPatchList{}
			if !vs.IsUnreachable() {
				b.EmitBranch(endPatch, false)
			}
			b.PatchBranch(prevBC.exitPatch, b.Pos())
			prevBC.exitPatch = endPatch
			if err := vs.Else(); err != nil {
				return err
			}

		case opEnd:
			frame, err := vs.End()
			if err != nil {
				return err
			}
			if frame.Kind == validator.FrameFunc {
				if reachable {
					if err := c.SideEffectBarrier(); err != nil {
						return err
					}
					b.EmitReturnAndUnwindStack(false)
				}
				return nil
			}
			bc := f.blocks[len(f.blocks)-1]
			f.blocks = f.blocks[:len(f.blocks)-1]
			b.PatchBranch(bc.exitPatch, b.Pos())

		case opBr, opBrIf:
			depth, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if err := vs.CheckBranch(depth); err != nil {
				return err
			}
			if reachable {
				if op == opBrIf {
					cond := c.Stack.Pop()
					condVal := c.valueOf(cond)
					if err := b.EmitComparison(backend.CmpNe, condVal, backend.Value{Type: wasmtype.MachineI32, IsConst: true}); err != nil {
						return err
					}
				}
				if err := c.SideEffectBarrier(); err != nil {
					return err
				}
				bc := f.targetFor(depth)
				if bc.isLoop {
					tmp := &backend.BranchPatchList{}
					b.EmitBranch(tmp, op == opBrIf)
					b.PatchBranch(tmp, bc.loopStart)
				} else {
					b.EmitBranch(bc.exitPatch, op == opBrIf)
				}
			}
			if op == opBr {
				vs.MarkUnreachable()
			}

		case opBrTable:
			count, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if count > module.Limits.BranchTableLength {
				return errors.NewImplementationLimit(errors.CodeTooManyBranchTargetsInBrTable)
			}
			depths := make([]uint32, 0, count)
			for i := uint32(0); i < count; i++ {
				depth, err := r.ReadVarU32()
				if err != nil {
					return err
				}
				if err := vs.CheckBranch(depth); err != nil {
					return err
				}
				depths = append(depths, depth)
			}
			defaultDepth, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if err := vs.CheckBranch(defaultDepth); err != nil {
				return err
			}
			if reachable {
				idxElem := c.Stack.Pop()
				idxReg, err := c.LiftToReg(idxElem, false)
				if err != nil {
					return err
				}
				if err := c.SideEffectBarrier(); err != nil {
					return err
				}
				all := append(append([]uint32(nil), depths...), defaultDepth)
				b.ExecuteTableBranch(uint32(len(all)), func(i uint32) *backend.BranchPatchList {
					bc := f.targetFor(all[i])
					if bc.isLoop {
						return nil
					}
					return bc.exitPatch
				})
				_ = idxReg
			}
			vs.MarkUnreachable()

		case opReturn:
			if reachable {
				if err := c.SideEffectBarrier(); err != nil {
					return err
				}
				b.EmitReturnAndUnwindStack(false)
			}
			vs.MarkUnreachable()

		case opCall:
			idx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			callee, err := f.Module.Func(idx)
			if err != nil {
				return errors.NewValidation(errors.CodeFunctionOutOfRange)
			}
			sig, _, err := f.Module.ResolveSignature(callee.SigIndex)
			if err != nil {
				return err
			}
			for i := len(sig.Params) - 1; i >= 0; i-- {
				if err := vs.PopExpect(sig.Params[i]); err != nil {
					return err
				}
			}
			if reachable {
				if _, _, err := c.PrepareCallParamsAndSpillContext(callee.SigIndex, false); err != nil {
					return err
				}
				c.SaveLocalsAndParamsForFuncCall(f.Module.IsImportedFunc(idx))
				patch := f.funcPatchLists[idx]
				if patch == nil {
					patch = &backend.BranchPatchList{}
					f.funcPatchLists[idx] = patch
				}
				b.ExecDirectFncCall(idx, patch)
			}
			vs.PushMulti(sig.Results)

		case opCallIndirect:
			sigIdx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			tblIdx, err := r.ReadByte()
			if err != nil {
				return err
			}
			if tblIdx != 0 {
				return errors.NewValidation(errors.CodeTableIndexOutOfBounds)
			}
			sig, _, err := f.Module.ResolveSignature(sigIdx)
			if err != nil {
				return err
			}
			if err := vs.PopExpect(wasmtype.MachineI32); err != nil {
				return err
			}
			for i := len(sig.Params) - 1; i >= 0; i-- {
				if err := vs.PopExpect(sig.Params[i]); err != nil {
					return err
				}
			}
			if reachable {
				_, indexVal, err := c.PrepareCallParamsAndSpillContext(sigIdx, true)
				if err != nil {
					return err
				}
				var idxReg int16
				if indexVal.InReg {
					idxReg = indexVal.Reg
				} else {
					r, err := c.AllocReg(wasmtype.MachineI32)
					if err != nil {
						return err
					}
					if err := f.Backend.EmitDeferredAction(opcodeMoveMarker, indexVal, backend.Value{}, r); err != nil {
						return err
					}
					idxReg = r
				}
				c.SaveLocalsAndParamsForFuncCall(true)
				b.ExecIndirectWasmCall(sigIdx, idxReg)
			}
			vs.PushMulti(sig.Results)

		case opDrop:
			if _, err := vs.Pop(); err != nil {
				return err
			}
			if reachable && c.Stack.Len() > 0 {
				c.Stack.Pop()
			}

		case opSelect:
			if err := vs.PopExpect(wasmtype.MachineI32); err != nil {
				return err
			}
			t2, err := vs.Pop()
			if err != nil {
				return err
			}
			if err := vs.PopExpect(t2); err != nil {
				return err
			}
			vs.Push(t2)
			if reachable {
				cond := c.Stack.Pop()
				falsy := c.Stack.Pop()
				truthy := c.Stack.Pop()
				dest, err := c.AllocReg(t2)
				if err != nil {
					return err
				}
				if err := b.EmitSelect(c.valueOf(truthy), c.valueOf(falsy), c.valueOf(cond), dest); err != nil {
					return err
				}
				c.Stack.Push(Element{Kind: wasmtype.Scratchregister | wasmtype.MachineTypeToStackTypeFlag(t2), Reg: dest})
			}

		case opLocalGet:
			idx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if int(idx) >= len(fn.Locals) {
				return errors.NewValidation(errors.CodeLocalOutOfRange)
			}
			vs.Push(fn.Locals[idx].Type)
			if reachable {
				c.Stack.Push(Element{Kind: wasmtype.Local | wasmtype.MachineTypeToStackTypeFlag(fn.Locals[idx].Type), LocalIndex: idx})
			}

		case opLocalSet, opLocalTee:
			idx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if int(idx) >= len(fn.Locals) {
				return errors.NewValidation(errors.CodeLocalOutOfRange)
			}
			if err := vs.PopExpect(fn.Locals[idx].Type); err != nil {
				return err
			}
			if op == opLocalTee {
				vs.Push(fn.Locals[idx].Type)
			}
			if reachable {
				if err := c.Condense(0, nil); err != nil {
					return err
				}
				var top *Element
				if op == opLocalTee {
					top = c.Stack.Top()
				} else {
					top = c.Stack.Pop()
				}
				reg, err := c.LiftToReg(top, false)
				if err != nil {
					return err
				}
				fn.Locals[idx].CurrentKind = module.StorageRegister
				fn.Locals[idx].Reg = reg
			}

		case opGlobalGet:
			idx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if int(idx) >= len(f.Module.Globals) {
				return errors.NewValidation(errors.CodeGlobalOutOfRange)
			}
			vs.Push(f.Module.Globals[idx].Type)
			if reachable {
				c.Stack.Push(Element{Kind: wasmtype.Global | wasmtype.MachineTypeToStackTypeFlag(f.Module.Globals[idx].Type), GlobalIndex: idx})
			}

		case opGlobalSet:
			idx, err := r.ReadVarU32()
			if err != nil {
				return err
			}
			if int(idx) >= len(f.Module.Globals) {
				return errors.NewValidation(errors.CodeGlobalOutOfRange)
			}
			if !f.Module.Globals[idx].Mutable {
				return errors.NewValidation(errors.CodeCannotSetImmutableGlobal)
			}
			if err := vs.PopExpect(f.Module.Globals[idx].Type); err != nil {
				return err
			}
			if reachable {
				c.Stack.Pop()
			}

		case opI32Const:
			v, err := r.ReadVarI32()
			if err != nil {
				return err
			}
			vs.Push(wasmtype.MachineI32)
			if reachable {
				c.Stack.Push(Element{Kind: wasmtype.ConstantI32, ConstLo: uint64(uint32(v))})
			}

		case opI64Const:
			v, err := r.ReadVarI64()
			if err != nil {
				return err
			}
			vs.Push(wasmtype.MachineI64)
			if reachable {
				c.Stack.Push(Element{Kind: wasmtype.ConstantI64, ConstLo: uint64(v)})
			}

		case opF32Const:
			v, err := r.ReadLEU32()
			if err != nil {
				return err
			}
			vs.Push(wasmtype.MachineF32)
			if reachable {
				c.Stack.Push(Element{Kind: wasmtype.ConstantF32, ConstLo: uint64(v)})
			}

		case opF64Const:
			v, err := r.ReadLEU64()
			if err != nil {
				return err
			}
			vs.Push(wasmtype.MachineF64)
			if reachable {
				c.Stack.Push(Element{Kind: wasmtype.ConstantF64, ConstLo: v})
			}

		case opMemorySize:
			if _, err := r.ReadByte(); err != nil { // reserved byte
				return err
			}
			if !f.Module.HasMemory {
				return errors.NewValidation(errors.CodeUndefinedMemoryReferenced)
			}
			vs.Push(wasmtype.MachineI32)
			if reachable {
				reg, err := c.AllocReg(wasmtype.MachineI32)
				if err != nil {
					return err
				}
				b.ExecuteGetMemSize(reg)
				c.Stack.Push(Element{Kind: wasmtype.ScratchregisterI32, Reg: reg})
			}

		case opMemoryGrow:
			if _, err := r.ReadByte(); err != nil {
				return err
			}
			if !f.Module.HasMemory {
				return errors.NewValidation(errors.CodeUndefinedMemoryReferenced)
			}
			if err := vs.PopExpect(wasmtype.MachineI32); err != nil {
				return err
			}
			vs.Push(wasmtype.MachineI32)
			if reachable {
				delta := c.Stack.Pop()
				dReg, err := c.LiftToReg(delta, false)
				if err != nil {
					return err
				}
				reg, err := c.AllocReg(wasmtype.MachineI32)
				if err != nil {
					return err
				}
				b.ExecuteMemGrow(dReg, reg)
				c.Stack.Push(Element{Kind: wasmtype.ScratchregisterI32, Reg: reg})
			}

		default:
			if isLoadOp(op) {
				if err := f.dispatchLoad(r, c, vs, op, reachable); err != nil {
					return err
				}
				continue
			}
			if isStoreOp(op) {
				if err := f.dispatchStore(r, c, vs, op, reachable); err != nil {
					return err
				}
				continue
			}
			if isCompareOp(op) {
				if err := f.dispatchCompare(c, vs, op, reachable); err != nil {
					return err
				}
				continue
			}
			if isBinArithOp(op) {
				if err := f.dispatchBinArith(c, vs, op, reachable); err != nil {
					return err
				}
				continue
			}
			if isUnaryArithOp(op) {
				if err := f.dispatchUnaryArith(c, vs, op, reachable); err != nil {
					return err
				}
				continue
			}
			if op == opMiscPrefix {
				if err := f.dispatchMiscPrefix(r, c, vs, reachable); err != nil {
					return err
				}
				continue
			}
			return errors.NewValidation(errors.CodeUnknownInstruction)
		}
	}
}

// readBlockType reads the signed LEB128(33) block-type encoding: either a
// non-negative type-section index, or a negative single-valtype / void
// marker resolved to one of the five synthetic signatures (spec.md §4.3).
func readBlockType(r *leb128.Reader, m *module.Info) (uint32, error) {
	v, err := r.ReadVarI33()
	if err != nil {
		return 0, err
	}
	if v >= 0 {
		return uint32(v), nil
	}
	return m.SyntheticSigIndex(wasmtype.WasmType(int8(v))), nil
}
