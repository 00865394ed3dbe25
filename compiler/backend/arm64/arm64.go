// Package arm64 implements the AArch64 backend.Backend, mirroring
// compiler/backend/amd64's structure: golang-asm emits every straight-line
// instruction, while branches/calls are hand-encoded so the output buffer
// stays a plain byte array patchable by offset (spec.md §4.6 "Branch
// patching"; see amd64's package doc for why that split exists).
package arm64

import (
	"github.com/vbwasm/wasmaot/compiler"
	"github.com/vbwasm/wasmaot/compiler/backend"
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/wasmtype"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"
)

// Reserved registers: R27 linear memory base, R28 basedata pointer, R29
// frame pointer (AArch64's conventional FP, repurposed as our spill-frame
// base the same way amd64 repurposes RBP).
const (
	RegLinearMemBase = arm64.REG_R27
	RegBasedata      = arm64.REG_R28
	RegFrameBase     = arm64.REGFP
	RegLink          = arm64.REGLINK
)

var scratchPool = []int16{
	arm64.REG_R0, arm64.REG_R1, arm64.REG_R2, arm64.REG_R3,
	arm64.REG_R4, arm64.REG_R5, arm64.REG_R6, arm64.REG_R7,
	arm64.REG_R8, arm64.REG_R9, arm64.REG_R10, arm64.REG_R11,
	arm64.REG_R12, arm64.REG_R13, arm64.REG_R14, arm64.REG_R15,
}

var fpPool = []int16{
	arm64.REG_F0, arm64.REG_F1, arm64.REG_F2, arm64.REG_F3,
	arm64.REG_F4, arm64.REG_F5, arm64.REG_F6, arm64.REG_F7,
}

// Backend is the arm64 backend.Backend implementation.
type Backend struct {
	w        *compiler.MemWriter
	used     map[int16]bool
	usedFP   map[int16]bool
	frameTop int32
	lastCmp  backend.Comparison
}

func New() *Backend {
	return &Backend{w: compiler.NewMemWriter(4096), used: map[int16]bool{}, usedFP: map[int16]bool{}}
}

func (b *Backend) Target() backend.Target { return backend.TargetARM64 }
func (b *Backend) Pos() uint32            { return uint32(b.w.Len()) }
func (b *Backend) Bytes() []byte          { return b.w.Bytes() }

func (b *Backend) emit(build func(bld *asm.Builder)) {
	bld, err := asm.NewBuilder("arm64", 64)
	if err != nil {
		panic("arm64: NewBuilder: " + err.Error())
	}
	build(bld)
	b.w.Write(bld.Assemble())
}

func isFPReg(r int16) bool { return r >= arm64.REG_F0 && r <= arm64.REG_F31 }

func (b *Backend) AllocateLocal(t wasmtype.MachineType, isParam bool, multiplicity uint32) (int16, bool) {
	pool, used := scratchPool, b.used
	if t == wasmtype.MachineF32 || t == wasmtype.MachineF64 {
		pool, used = fpPool, b.usedFP
	}
	for _, r := range pool {
		if !used[r] {
			used[r] = true
			return r, true
		}
	}
	return 0, false
}

func (b *Backend) FreeRegisters() []int16 {
	var out []int16
	for _, r := range scratchPool {
		if !b.used[r] {
			out = append(out, r)
		}
	}
	for _, r := range fpPool {
		if !b.usedFP[r] {
			out = append(out, r)
		}
	}
	return out
}

func (b *Backend) SpillFromStack(victim int16) (int32, error) {
	b.frameTop += 8
	off := -b.frameTop
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = arm64.AMOVD
		if isFPReg(victim) {
			prog.As = arm64.AFMOVD
		}
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = victim
		prog.To.Type = obj.TYPE_MEM
		prog.To.Reg = RegFrameBase
		prog.To.Offset = int64(off)
		bld.AddInstruction(prog)
	})
	if isFPReg(victim) {
		delete(b.usedFP, victim)
	} else {
		delete(b.used, victim)
	}
	return off, nil
}

func (b *Backend) EnteredFunction(paramWidth, directLocalsWidth uint32) uint32 {
	pos := b.Pos()
	b.frameTop = 0
	b.emit(func(bld *asm.Builder) {
		// stp fp, lr, [sp, #-16]!  (prologue save of frame/link registers)
		stp := bld.NewProg()
		stp.As = arm64.AMOVD
		stp.From.Type = obj.TYPE_REG
		stp.From.Reg = RegFrameBase
		stp.To.Type = obj.TYPE_MEM
		stp.To.Reg = arm64.REGSP
		stp.To.Offset = -16
		stp.Scond = arm64.C_XPRE
		bld.AddInstruction(stp)

		mov := bld.NewProg()
		mov.As = arm64.AMOVD
		mov.From.Type = obj.TYPE_REG
		mov.From.Reg = arm64.REGSP
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = RegFrameBase
		bld.AddInstruction(mov)

		if directLocalsWidth > 0 {
			sub := bld.NewProg()
			sub.As = arm64.ASUB
			sub.From.Type = obj.TYPE_CONST
			sub.From.Offset = int64(compiler.RoundUpToPow2(directLocalsWidth, 16))
			sub.Reg = arm64.REGSP
			sub.To.Type = obj.TYPE_REG
			sub.To.Reg = arm64.REGSP
			bld.AddInstruction(sub)
		}
	})
	return pos
}

func (b *Backend) EmitFunctionEntryPoint(fncIndex uint32, sigParams, sigResults []wasmtype.MachineType) uint32 {
	pos := b.Pos()
	b.emit(func(bld *asm.Builder) {
		mov := bld.NewProg()
		mov.As = arm64.AMOVD
		mov.From.Type = obj.TYPE_REG
		mov.From.Reg = arm64.REGSP
		mov.To.Type = obj.TYPE_MEM
		mov.To.Reg = RegBasedata
		mov.To.Offset = trapReentrySPOffset
		bld.AddInstruction(mov)
	})
	return pos
}

func (b *Backend) EmitWasmToNativeAdapter(fncIndex uint32, sigParams, sigResults []wasmtype.MachineType) uint32 {
	return b.Pos()
}

func (b *Backend) EmitExtensionRequestFunction() uint32 {
	pos := b.Pos()
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = arm64.AMOVD
		prog.From.Type = obj.TYPE_MEM
		prog.From.Reg = RegBasedata
		prog.From.Offset = memoryHelperPtrOffset
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = arm64.REG_R16
		bld.AddInstruction(prog)
	})
	b.rawBLR(arm64.REG_R16)
	return pos
}

// --- raw control transfer -------------------------------------------------

// AArch64 branch/call encodings are fixed 4-byte words, so patching just
// rewrites the immediate field of the already-emitted word rather than
// appending new bytes, mirroring amd64's rel32 patch model one level down
// at instruction-word granularity.

func (b *Backend) rawWord(w uint32) { b.w.WriteU32LE(w) }

func (b *Backend) rawB(l *backend.BranchPatchList) {
	l.Add(uint32(b.w.Len()))
	b.rawWord(0x14000000) // B #0, patched later
}

func (b *Backend) rawBCond(cond backend.Comparison, negate bool, l *backend.BranchPatchList) {
	l.Add(uint32(b.w.Len()))
	b.rawWord(0x54000000 | uint32(condCode(cond, negate)))
}

func condCode(c backend.Comparison, negate bool) uint8 {
	var cc uint8
	switch c {
	case backend.CmpEq, backend.CmpFEq:
		cc = 0x0
	case backend.CmpNe, backend.CmpFNe:
		cc = 0x1
	case backend.CmpLtS, backend.CmpFLt:
		cc = 0xB
	case backend.CmpGeS, backend.CmpFGe:
		cc = 0xA
	case backend.CmpLeS, backend.CmpFLe:
		cc = 0xD
	case backend.CmpGtS, backend.CmpFGt:
		cc = 0xC
	case backend.CmpLtU:
		cc = 0x3
	case backend.CmpGeU:
		cc = 0x2
	case backend.CmpLeU:
		cc = 0x9
	case backend.CmpGtU:
		cc = 0x8
	}
	if negate {
		cc ^= 0x1
	}
	return cc
}

func (b *Backend) rawBL(l *backend.BranchPatchList) {
	l.Add(uint32(b.w.Len()))
	b.rawWord(0x94000000)
}

func (b *Backend) rawBLR(reg int16) {
	rn := uint32(reg-arm64.REG_R0) & 0x1F
	b.rawWord(0xD63F0000 | (rn << 5))
}

func (b *Backend) PatchBranch(l *backend.BranchPatchList, target uint32) {
	for _, site := range l.Sites {
		rel := (int32(target) - int32(site)) / 4
		word := uint32(b.w.Bytes()[site]) | uint32(b.w.Bytes()[site+1])<<8 |
			uint32(b.w.Bytes()[site+2])<<16 | uint32(b.w.Bytes()[site+3])<<24
		if word&0xFF000010 == 0x54000000 {
			// B.cond: imm19 in bits 5-23, condition in bits 0-3.
			word = (word &^ (0x7FFFF << 5)) | (uint32(rel)&0x7FFFF)<<5
		} else {
			word = (word &^ 0x03FFFFFF) | (uint32(rel) & 0x03FFFFFF)
		}
		b.w.PatchU32LE(int(site), word)
	}
	l.Sites = nil
}

func (b *Backend) ExecDirectFncCall(targetFuncIndex uint32, callSitePatchList *backend.BranchPatchList) {
	b.rawBL(callSitePatchList)
}

func (b *Backend) ExecIndirectWasmCall(sigIndex uint32, tableIndexReg int16) {
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = arm64.AMOVD
		prog.From.Type = obj.TYPE_MEM
		prog.From.Reg = RegBasedata
		prog.From.Offset = tableAddressOffset
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = arm64.REG_R16
		bld.AddInstruction(prog)
	})
	b.rawBLR(arm64.REG_R16)
}

func (b *Backend) ExecBuiltinFncCall(fn backend.BuiltinFunc) {
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = arm64.AMOVD
		prog.From.Type = obj.TYPE_MEM
		prog.From.Reg = RegBasedata
		prog.From.Offset = builtinTableOffset + int64(fn)*8
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = arm64.REG_R16
		bld.AddInstruction(prog)
	})
	b.rawBLR(arm64.REG_R16)
}

func loadAs(op backend.LoadStoreOp) obj.As {
	switch op {
	case backend.OpI32Load, backend.OpI32Load8U, backend.OpI32Load16U, backend.OpI32Load8S, backend.OpI32Load16S:
		return arm64.AMOVW
	case backend.OpI64Load, backend.OpI64Load8U, backend.OpI64Load16U, backend.OpI64Load32U,
		backend.OpI64Load8S, backend.OpI64Load16S, backend.OpI64Load32S:
		return arm64.AMOVD
	case backend.OpF32Load:
		return arm64.AFMOVS
	case backend.OpF64Load:
		return arm64.AFMOVD
	}
	return 0
}

func (b *Backend) ExecuteLinearMemoryLoad(op backend.LoadStoreOp, addrReg int16, offset uint32, destReg int16) error {
	as := loadAs(op)
	if as == 0 {
		return errors.NewFeatureNotSupported(errors.CodeUnknownInstruction)
	}
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = as
		prog.From.Type = obj.TYPE_MEM
		prog.From.Reg = RegLinearMemBase
		prog.From.Index = addrReg
		prog.From.Offset = int64(offset)
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = destReg
		bld.AddInstruction(prog)
	})
	return nil
}

func storeAs(op backend.LoadStoreOp) obj.As {
	switch op {
	case backend.OpI32Store, backend.OpI32Store8, backend.OpI32Store16,
		backend.OpI64Store8, backend.OpI64Store16, backend.OpI64Store32:
		return arm64.AMOVW
	case backend.OpI64Store:
		return arm64.AMOVD
	case backend.OpF32Store:
		return arm64.AFMOVS
	case backend.OpF64Store:
		return arm64.AFMOVD
	}
	return 0
}

func (b *Backend) ExecuteLinearMemoryStore(op backend.LoadStoreOp, addrReg int16, offset uint32, valueReg int16) error {
	as := storeAs(op)
	if as == 0 {
		return errors.NewFeatureNotSupported(errors.CodeUnknownInstruction)
	}
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = as
		prog.To.Type = obj.TYPE_MEM
		prog.To.Reg = RegLinearMemBase
		prog.To.Index = addrReg
		prog.To.Offset = int64(offset)
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = valueReg
		bld.AddInstruction(prog)
	})
	return nil
}

// bulkMemScratch1/2 are transient GPR scratch registers used the same way
// ExecBuiltinFncCall/ExecIndirectWasmCall already clobber R16 across a call
// without spill bookkeeping -- never live across a Wasm value boundary.
const (
	bulkMemScratch1 = arm64.REG_R16
	bulkMemScratch2 = arm64.REG_R17
)

// boundsCheckOrTrap traps with TrapLinearMemoryOOB unless offsetReg+lenReg
// fits within the linked memory's size (spec.md §4.6 "bulk memory"): Common
// has no bounds-check lowering of its own, for memory.copy/fill or for the
// single-address load/store family.
func (b *Backend) boundsCheckOrTrap(offsetReg, lenReg int16) {
	b.emit(func(bld *asm.Builder) {
		add := bld.NewProg()
		add.As = arm64.AADD
		add.From.Type = obj.TYPE_REG
		add.From.Reg = lenReg
		add.Reg = offsetReg
		add.To.Type = obj.TYPE_REG
		add.To.Reg = bulkMemScratch1
		bld.AddInstruction(add)

		loadSize := bld.NewProg()
		loadSize.As = arm64.AMOVD
		loadSize.From.Type = obj.TYPE_MEM
		loadSize.From.Reg = RegBasedata
		loadSize.From.Offset = linMemSizeOffset
		loadSize.To.Type = obj.TYPE_REG
		loadSize.To.Reg = bulkMemScratch2
		bld.AddInstruction(loadSize)

		cmp := bld.NewProg()
		cmp.As = arm64.ACMP
		cmp.From.Type = obj.TYPE_REG
		cmp.From.Reg = bulkMemScratch2
		cmp.Reg = bulkMemScratch1
		bld.AddInstruction(cmp)
	})
	okList := &backend.BranchPatchList{}
	b.rawBCond(backend.CmpLeU, false, okList)
	b.ExecuteTrap(wasmtype.TrapLinearMemoryOOB)
	b.PatchBranch(okList, b.Pos())
}

// byteCopyLoop walks lenReg bytes one at a time (srcReg<0 selects memset
// mode, copying valReg's low byte instead of loading from srcReg), mirroring
// amd64's byteCopyLoop. Like amd64, a forward byte-at-a-time walk only
// honors Wasm's any-direction memory.copy overlap semantics when dst<=src;
// see DESIGN.md.
func (b *Backend) byteCopyLoop(dstReg, srcReg, valReg, lenReg int16) {
	top := b.Pos()
	b.emit(func(bld *asm.Builder) {
		cmp := bld.NewProg()
		cmp.As = arm64.ACMP
		cmp.From.Type = obj.TYPE_CONST
		cmp.From.Offset = 0
		cmp.Reg = lenReg
		bld.AddInstruction(cmp)
	})
	doneList := &backend.BranchPatchList{}
	b.rawBCond(backend.CmpEq, false, doneList)

	b.emit(func(bld *asm.Builder) {
		byteVal := int16(bulkMemScratch1)
		if srcReg >= 0 {
			load := bld.NewProg()
			load.As = arm64.AMOVBU
			load.From.Type = obj.TYPE_MEM
			load.From.Reg = RegLinearMemBase
			load.From.Index = srcReg
			load.To.Type = obj.TYPE_REG
			load.To.Reg = byteVal
			bld.AddInstruction(load)
		} else {
			byteVal = valReg
		}

		store := bld.NewProg()
		store.As = arm64.AMOVB
		store.To.Type = obj.TYPE_MEM
		store.To.Reg = RegLinearMemBase
		store.To.Index = dstReg
		store.From.Type = obj.TYPE_REG
		store.From.Reg = byteVal
		bld.AddInstruction(store)

		incDst := bld.NewProg()
		incDst.As = arm64.AADD
		incDst.From.Type = obj.TYPE_CONST
		incDst.From.Offset = 1
		incDst.Reg = dstReg
		incDst.To.Type = obj.TYPE_REG
		incDst.To.Reg = dstReg
		bld.AddInstruction(incDst)

		if srcReg >= 0 {
			incSrc := bld.NewProg()
			incSrc.As = arm64.AADD
			incSrc.From.Type = obj.TYPE_CONST
			incSrc.From.Offset = 1
			incSrc.Reg = srcReg
			incSrc.To.Type = obj.TYPE_REG
			incSrc.To.Reg = srcReg
			bld.AddInstruction(incSrc)
		}

		dec := bld.NewProg()
		dec.As = arm64.ASUB
		dec.From.Type = obj.TYPE_CONST
		dec.From.Offset = 1
		dec.Reg = lenReg
		dec.To.Type = obj.TYPE_REG
		dec.To.Reg = lenReg
		bld.AddInstruction(dec)
	})
	loopList := &backend.BranchPatchList{}
	b.rawB(loopList)
	b.PatchBranch(loopList, top)
	b.PatchBranch(doneList, b.Pos())
}

func (b *Backend) ExecuteLinearMemoryCopy(dstOffsetReg, srcOffsetReg, lenReg int16) error {
	b.boundsCheckOrTrap(dstOffsetReg, lenReg)
	b.boundsCheckOrTrap(srcOffsetReg, lenReg)
	b.byteCopyLoop(dstOffsetReg, srcOffsetReg, 0, lenReg)
	return nil
}

func (b *Backend) ExecuteLinearMemoryFill(dstOffsetReg, valReg, lenReg int16) error {
	b.boundsCheckOrTrap(dstOffsetReg, lenReg)
	b.byteCopyLoop(dstOffsetReg, -1, valReg, lenReg)
	return nil
}

// ExecuteSaturatingTruncate implements the non-trapping float-to-int
// conversions (spec.md §1) directly on hardware: unlike x86's CVTTSS2SI,
// ARMv8's FCVTZS/FCVTZU already saturate out-of-range inputs to the
// destination type's min/max and produce 0 for NaN (ARM Architecture
// Reference Manual, "Floating-point Convert to Signed/Unsigned integer,
// rounding toward Zero"), so this needs no branches at all.
func (b *Backend) ExecuteSaturatingTruncate(dstType, srcType wasmtype.MachineType, signed bool, a0 backend.Value, targetReg int16) error {
	srcIs64 := srcType == wasmtype.MachineF64
	dstIs64 := dstType == wasmtype.MachineI64
	var as obj.As
	switch {
	case signed && srcIs64 && dstIs64:
		as = arm64.AFCVTZSD
	case signed && srcIs64 && !dstIs64:
		as = arm64.AFCVTZSDW
	case signed && !srcIs64 && dstIs64:
		as = arm64.AFCVTZSS
	case signed && !srcIs64 && !dstIs64:
		as = arm64.AFCVTZSSW
	case !signed && srcIs64 && dstIs64:
		as = arm64.AFCVTZUD
	case !signed && srcIs64 && !dstIs64:
		as = arm64.AFCVTZUDW
	case !signed && !srcIs64 && dstIs64:
		as = arm64.AFCVTZUS
	default:
		as = arm64.AFCVTZUSW
	}
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = as
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = a0.Reg
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = targetReg
		bld.AddInstruction(prog)
	})
	return nil
}

func intBinOpAsm(op backend.Opcode) obj.As {
	table := map[backend.Opcode]obj.As{
		0x6A: arm64.AADD,
		0x6B: arm64.ASUB,
		0x6C: arm64.AMUL,
		0x71: arm64.AAND,
		0x72: arm64.AORR,
		0x73: arm64.AEOR,
		0x74: arm64.ALSL,
		0x75: arm64.AASR,
		0x76: arm64.ALSR,
	}
	return table[op]
}

func (b *Backend) EmitDeferredAction(op backend.Opcode, a0, a1 backend.Value, targetReg int16) error {
	// Unary families (clz/ctz/popcnt, float abs/neg/ceil/floor/trunc/
	// nearest/sqrt) read only a0; see amd64's EmitDeferredAction for the
	// OperandB==-1 sentinel this relies on.
	switch {
	case op >= 0x67 && op <= 0x69, op >= 0x79 && op <= 0x7B:
		return b.emitUnaryIntOp(op, a0, targetReg)
	case op >= 0x8B && op <= 0x91, op >= 0x99 && op <= 0x9F:
		return b.emitUnaryFloatOp(op, a0, targetReg)
	}
	if a0.Type.IsInt() {
		as := intBinOpAsm(op)
		if as == 0 {
			return errors.NewFeatureNotSupported(errors.CodeUnknownInstruction)
		}
		b.emit(func(bld *asm.Builder) {
			prog := bld.NewProg()
			prog.As = as
			prog.Reg = a0.Reg
			prog.To.Type = obj.TYPE_REG
			prog.To.Reg = targetReg
			if a1.IsConst {
				prog.From.Type = obj.TYPE_CONST
				prog.From.Offset = int64(a1.ConstLo)
			} else {
				prog.From.Type = obj.TYPE_REG
				prog.From.Reg = a1.Reg
			}
			bld.AddInstruction(prog)
		})
		return nil
	}
	is64 := a0.Type.Is64()
	var as obj.As
	switch op {
	case 0x92, 0xA0:
		as = arm64.AFADDS
		if is64 {
			as = arm64.AFADDD
		}
	case 0x93, 0xA1:
		as = arm64.AFSUBS
		if is64 {
			as = arm64.AFSUBD
		}
	case 0x94, 0xA2:
		as = arm64.AFMULS
		if is64 {
			as = arm64.AFMULD
		}
	case 0x95, 0xA3:
		as = arm64.AFDIVS
		if is64 {
			as = arm64.AFDIVD
		}
	case 0x96, 0xA4:
		as = arm64.AFMINS
		if is64 {
			as = arm64.AFMIND
		}
	case 0x97, 0xA5:
		as = arm64.AFMAXS
		if is64 {
			as = arm64.AFMAXD
		}
	case 0x98, 0xA6:
		return b.emitCopysign(a0, a1, targetReg, is64)
	default:
		return errors.NewFeatureNotSupported(errors.CodeUnknownInstruction)
	}
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = as
		prog.Reg = a0.Reg
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = a1.Reg
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = targetReg
		bld.AddInstruction(prog)
	})
	return nil
}

// emitUnaryIntOp implements clz/ctz/popcnt. CLZ is native; ctz has no
// dedicated instruction on AArch64, so it's computed as clz(rbit(x)) (ARM's
// own documented idiom for "count trailing zeros", ARM Architecture
// Reference Manual). Popcount has no scalar instruction at all outside the
// NEON vector unit's CNT, so it's computed with the classic SWAR bit-trick
// (Hacker's Delight §5-1) over plain GPR ops rather than crossing into the
// vector register file for a single scalar value.
func (b *Backend) emitUnaryIntOp(op backend.Opcode, a0 backend.Value, targetReg int16) error {
	is64 := a0.Type.Is64()
	switch op {
	case 0x67, 0x79: // clz
		as := arm64.ACLZW
		if is64 {
			as = arm64.ACLZ
		}
		b.emit(func(bld *asm.Builder) {
			prog := bld.NewProg()
			prog.As = as
			prog.From.Type = obj.TYPE_REG
			prog.From.Reg = a0.Reg
			prog.To.Type = obj.TYPE_REG
			prog.To.Reg = targetReg
			bld.AddInstruction(prog)
		})
		return nil
	case 0x68, 0x7A: // ctz
		rbitAs, clzAs := arm64.ARBITW, arm64.ACLZW
		if is64 {
			rbitAs, clzAs = arm64.ARBIT, arm64.ACLZ
		}
		b.emit(func(bld *asm.Builder) {
			rbit := bld.NewProg()
			rbit.As = rbitAs
			rbit.From.Type = obj.TYPE_REG
			rbit.From.Reg = a0.Reg
			rbit.To.Type = obj.TYPE_REG
			rbit.To.Reg = targetReg
			bld.AddInstruction(rbit)

			clz := bld.NewProg()
			clz.As = clzAs
			clz.From.Type = obj.TYPE_REG
			clz.From.Reg = targetReg
			clz.To.Type = obj.TYPE_REG
			clz.To.Reg = targetReg
			bld.AddInstruction(clz)
		})
		return nil
	case 0x69, 0x7B: // popcnt
		b.emitPopcount(a0.Reg, targetReg, is64)
		return nil
	default:
		return errors.NewFeatureNotSupported(errors.CodeUnknownInstruction)
	}
}

// emitPopcount computes a population count via the SWAR bit-trick, using
// bulkMemScratch1/2 as working registers -- safe here since this runs only
// inside the straight-line sequence EmitDeferredAction already owns, never
// overlapping the bulk-memory loop's use of the same registers.
func (b *Backend) emitPopcount(srcReg, targetReg int16, is64 bool) {
	var m1, m2, m4, maxShift int64
	if is64 {
		m1, m2, m4, maxShift = 0x5555555555555555, 0x3333333333333333, 0x0f0f0f0f0f0f0f0f, 32
	} else {
		m1, m2, m4, maxShift = 0x55555555, 0x33333333, 0x0f0f0f0f, 16
	}
	addAs, subAs, andAs, lsrAs := arm64.AADD, arm64.ASUB, arm64.AAND, arm64.ALSR
	if !is64 {
		addAs, subAs, andAs, lsrAs = arm64.AADDW, arm64.ASUBW, arm64.AANDW, arm64.ALSRW
	}
	r1, r2 := bulkMemScratch1, bulkMemScratch2

	b.emit(func(bld *asm.Builder) {
		binOp := func(as obj.As, from obj.Addr, reg, to int16) {
			prog := bld.NewProg()
			prog.As = as
			prog.From = from
			prog.Reg = reg
			prog.To.Type = obj.TYPE_REG
			prog.To.Reg = to
			bld.AddInstruction(prog)
		}
		constAddr := func(v int64) obj.Addr { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }
		regAddr := func(r int16) obj.Addr { return obj.Addr{Type: obj.TYPE_REG, Reg: r} }

		// r1 = x >> 1 & m1
		binOp(lsrAs, constAddr(1), srcReg, r1)
		binOp(andAs, constAddr(m1), r1, r1)
		binOp(subAs, regAddr(r1), srcReg, targetReg) // targetReg = x - r1

		// r2 = targetReg & m2 ; r1 = (targetReg >> 2) & m2 ; targetReg = r1 + r2
		binOp(andAs, constAddr(m2), targetReg, r2)
		binOp(lsrAs, constAddr(2), targetReg, r1)
		binOp(andAs, constAddr(m2), r1, r1)
		binOp(addAs, regAddr(r2), r1, targetReg)

		// targetReg = (targetReg + (targetReg>>4)) & m4
		binOp(lsrAs, constAddr(4), targetReg, r1)
		binOp(addAs, regAddr(r1), targetReg, targetReg)
		binOp(andAs, constAddr(m4), targetReg, targetReg)

		// targetReg += targetReg>>8 ; targetReg += targetReg>>16 [; >>32 if 64-bit]
		for shift := int64(8); shift <= maxShift; shift *= 2 {
			binOp(lsrAs, constAddr(shift), targetReg, r1)
			binOp(addAs, regAddr(r1), targetReg, targetReg)
		}

		mask := int64(0x3f)
		if is64 {
			mask = 0x7f
		}
		binOp(andAs, constAddr(mask), targetReg, targetReg)
	})
}

// emitCopysign bridges through GPRs via FMOV, the
// AArch64 analogue of amd64's MOVQ xmm<->GPR bridge (Go's arm64 assembler
// overloads FMOVD/FMOVS for GPR<->FP transfer the same way it overloads
// MOVQ on amd64, both following the ISA's own instruction encoding).
func (b *Backend) emitCopysign(a0, a1 backend.Value, targetReg int16, is64 bool) error {
	absAs := arm64.AFABSS
	fmovAs := arm64.AFMOVS
	andAs := arm64.AANDW
	orrAs := arm64.AORRW
	signMask := int64(0x80000000)
	if is64 {
		absAs, fmovAs, andAs, orrAs = arm64.AFABSD, arm64.AFMOVD, arm64.AAND, arm64.AORR
		signMask = int64(-1 << 63)
	}
	b.emit(func(bld *asm.Builder) {
		abs := bld.NewProg()
		abs.As = absAs
		abs.From.Type = obj.TYPE_REG
		abs.From.Reg = a0.Reg
		abs.To.Type = obj.TYPE_REG
		abs.To.Reg = targetReg
		bld.AddInstruction(abs)

		toGPR := func(fp, gpr int16) {
			prog := bld.NewProg()
			prog.As = fmovAs
			prog.From.Type = obj.TYPE_REG
			prog.From.Reg = fp
			prog.To.Type = obj.TYPE_REG
			prog.To.Reg = gpr
			bld.AddInstruction(prog)
		}
		toGPR(a1.Reg, bulkMemScratch1)
		toGPR(targetReg, bulkMemScratch2)

		maskIt := bld.NewProg()
		maskIt.As = andAs
		maskIt.From.Type = obj.TYPE_CONST
		maskIt.From.Offset = signMask
		maskIt.Reg = bulkMemScratch1
		maskIt.To.Type = obj.TYPE_REG
		maskIt.To.Reg = bulkMemScratch1
		bld.AddInstruction(maskIt)

		combine := bld.NewProg()
		combine.As = orrAs
		combine.From.Type = obj.TYPE_REG
		combine.From.Reg = bulkMemScratch1
		combine.Reg = bulkMemScratch2
		combine.To.Type = obj.TYPE_REG
		combine.To.Reg = bulkMemScratch2
		bld.AddInstruction(combine)

		fromGPR := bld.NewProg()
		fromGPR.As = fmovAs
		fromGPR.From.Type = obj.TYPE_REG
		fromGPR.From.Reg = bulkMemScratch2
		fromGPR.To.Type = obj.TYPE_REG
		fromGPR.To.Reg = targetReg
		bld.AddInstruction(fromGPR)
	})
	return nil
}

// emitUnaryFloatOp implements the float unary family using AArch64's native
// single-instruction rounding forms (FRINTx), unlike amd64 which needs
// ROUNDSS/ROUNDSD's 3-operand encoding for the same thing.
func (b *Backend) emitUnaryFloatOp(op backend.Opcode, a0 backend.Value, targetReg int16) error {
	is64 := a0.Type.Is64()
	var as obj.As
	switch op {
	case 0x8B, 0x99: // abs
		as = arm64.AFABSS
		if is64 {
			as = arm64.AFABSD
		}
	case 0x8C, 0x9A: // neg
		as = arm64.AFNEGS
		if is64 {
			as = arm64.AFNEGD
		}
	case 0x8D, 0x9B: // ceil (round toward +inf)
		as = arm64.AFRINTPS
		if is64 {
			as = arm64.AFRINTPD
		}
	case 0x8E, 0x9C: // floor (round toward -inf)
		as = arm64.AFRINTMS
		if is64 {
			as = arm64.AFRINTMD
		}
	case 0x8F, 0x9D: // trunc (round toward zero)
		as = arm64.AFRINTZS
		if is64 {
			as = arm64.AFRINTZD
		}
	case 0x90, 0x9E: // nearest (ties to even)
		as = arm64.AFRINTNS
		if is64 {
			as = arm64.AFRINTND
		}
	case 0x91, 0x9F: // sqrt
		as = arm64.AFSQRTS
		if is64 {
			as = arm64.AFSQRTD
		}
	default:
		return errors.NewFeatureNotSupported(errors.CodeUnknownInstruction)
	}
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = as
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = a0.Reg
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = targetReg
		bld.AddInstruction(prog)
	})
	return nil
}

func (b *Backend) EmitComparison(op backend.Comparison, a0, a1 backend.Value) error {
	b.lastCmp = op
	b.emit(func(bld *asm.Builder) {
		as := arm64.ACMP
		if a0.Type == wasmtype.MachineF32 {
			as = arm64.AFCMPS
		} else if a0.Type == wasmtype.MachineF64 {
			as = arm64.AFCMPD
		}
		prog := bld.NewProg()
		prog.As = as
		prog.From.Type = obj.TYPE_REG
		prog.From.Reg = a1.Reg
		prog.Reg = a0.Reg
		bld.AddInstruction(prog)
	})
	return nil
}

func (b *Backend) EmitBranch(target *backend.BranchPatchList, negate bool) uint32 {
	pos := b.Pos()
	b.rawBCond(b.lastCmp, negate, target)
	return pos
}

func (b *Backend) EmitSelect(truthy, falsy, cond backend.Value, destReg int16) error {
	b.emit(func(bld *asm.Builder) {
		cmp := bld.NewProg()
		cmp.As = arm64.ACMP
		cmp.From.Type = obj.TYPE_CONST
		cmp.From.Offset = 0
		cmp.Reg = cond.Reg
		bld.AddInstruction(cmp)

		sel := bld.NewProg()
		sel.As = arm64.ACSEL
		sel.From.Type = obj.TYPE_REG
		sel.From.Reg = truthy.Reg
		sel.Reg = falsy.Reg
		sel.To.Type = obj.TYPE_REG
		sel.To.Reg = destReg
		bld.AddInstruction(sel)
	})
	return nil
}

func (b *Backend) ExecuteTrap(code wasmtype.TrapCode) {
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = arm64.AMOVW
		prog.From.Type = obj.TYPE_CONST
		prog.From.Offset = int64(code)
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = arm64.REG_R16
		bld.AddInstruction(prog)
	})
	patch := &backend.BranchPatchList{}
	b.rawB(patch)
	trapPatchLists = append(trapPatchLists, patch)
}

var trapPatchLists []*backend.BranchPatchList

func (b *Backend) ExecuteTableBranch(n uint32, nextTarget func(i uint32) *backend.BranchPatchList) {
	for i := uint32(0); i < n; i++ {
		b.rawB(nextTarget(i))
	}
}

func (b *Backend) ExecuteGetMemSize(destReg int16) {
	b.emit(func(bld *asm.Builder) {
		prog := bld.NewProg()
		prog.As = arm64.AMOVW
		prog.From.Type = obj.TYPE_MEM
		prog.From.Reg = RegBasedata
		prog.From.Offset = linMemSizeOffset
		prog.To.Type = obj.TYPE_REG
		prog.To.Reg = destReg
		bld.AddInstruction(prog)
	})
}

func (b *Backend) ExecuteMemGrow(deltaReg int16, destReg int16) {
	b.ExecBuiltinFncCall(backend.BuiltinMemoryGrow)
	if destReg != arm64.REG_R0 {
		b.emit(func(bld *asm.Builder) {
			prog := bld.NewProg()
			prog.As = arm64.AMOVW
			prog.From.Type = obj.TYPE_REG
			prog.From.Reg = arm64.REG_R0
			prog.To.Type = obj.TYPE_REG
			prog.To.Reg = destReg
			bld.AddInstruction(prog)
		})
	}
}

func (b *Backend) EmitReturnAndUnwindStack(temporary bool) {
	b.emit(func(bld *asm.Builder) {
		mov := bld.NewProg()
		mov.As = arm64.AMOVD
		mov.From.Type = obj.TYPE_REG
		mov.From.Reg = RegFrameBase
		mov.To.Type = obj.TYPE_REG
		mov.To.Reg = arm64.REGSP
		bld.AddInstruction(mov)

		ldp := bld.NewProg()
		ldp.As = arm64.AMOVD
		ldp.From.Type = obj.TYPE_MEM
		ldp.From.Reg = arm64.REGSP
		ldp.To.Type = obj.TYPE_REG
		ldp.To.Reg = RegFrameBase
		bld.AddInstruction(ldp)

		add := bld.NewProg()
		add.As = arm64.AADD
		add.From.Type = obj.TYPE_CONST
		add.From.Offset = 16
		add.Reg = arm64.REGSP
		add.To.Type = obj.TYPE_REG
		add.To.Reg = arm64.REGSP
		bld.AddInstruction(add)

		if !temporary {
			ret := bld.NewProg()
			ret.As = obj.ARET
			bld.AddInstruction(ret)
		}
	})
}

func (b *Backend) FinalizeBlock(forwardBranches *backend.BranchPatchList, resultHint wasmtype.MachineType) {
	b.PatchBranch(forwardBranches, b.Pos())
}

func (b *Backend) SpillAllVariables() {
	for r := range b.used {
		b.SpillFromStack(r)
	}
	for r := range b.usedFP {
		b.SpillFromStack(r)
	}
}

func (b *Backend) ResolveAddress(baseReg int16, offset int32, widthBits uint8) backend.RegDisp {
	return backend.RegDisp{Reg: baseReg, Disp: offset, Bits: widthBits}
}

const (
	trapReentrySPOffset  = -8
	memoryHelperPtrOffset = -16
	tableAddressOffset    = -24
	builtinTableOffset    = -96
	linMemSizeOffset      = -32
)
