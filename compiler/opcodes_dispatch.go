package compiler

import (
	"github.com/vbwasm/wasmaot/compiler/backend"
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/leb128"
	"github.com/vbwasm/wasmaot/validator"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// isLoadOp reports whether op is one of the i32/i64/f32/f64 load family
// (0x28-0x35).
func isLoadOp(op byte) bool { return op >= opI32Load && op <= opI64Load32U }

// isStoreOp reports whether op is one of the i32/i64/f32/f64 store family
// (0x36-0x3E).
func isStoreOp(op byte) bool { return op >= opI32Store && op <= opI64Store32 }

// isCompareOp reports whether op is one of the i32/i64/f32/f64 comparison
// opcodes (0x45-0x66).
func isCompareOp(op byte) bool { return op >= opI32Eqz && op <= opF64Ge }

// isBinArithOp reports whether op is one of the i32/i64/f32/f64 binary
// arithmetic opcodes this Frontend handles directly (0x6A-0x8A,
// 0x92-0x98, 0xA0-0xA6). See isUnaryArithOp for the single-operand family
// (clz/ctz/popcnt/abs/neg/etc).
func isBinArithOp(op byte) bool {
	switch {
	case op >= opI32Add && op <= opI32Rotr:
		return true
	case op >= opI64Add && op <= opI64Rotr:
		return true
	case op >= opF32Add && op <= opF32Copysign:
		return true
	case op >= opF64Add && op <= opF64Copysign:
		return true
	default:
		return false
	}
}

// isUnaryArithOp reports whether op is one of the i32/i64/f32/f64 unary
// arithmetic opcodes: integer bit-counting (clz/ctz/popcnt, 0x67-0x69 and
// 0x79-0x7B) and the float unary family (abs/neg/ceil/floor/trunc/nearest/
// sqrt, 0x8B-0x91 and 0x99-0x9F).
func isUnaryArithOp(op byte) bool {
	switch {
	case op >= opI32Clz && op <= opI32Popcnt:
		return true
	case op >= opI64Clz && op <= opI64Popcnt:
		return true
	case op >= opF32Abs && op <= opF32Sqrt:
		return true
	case op >= opF64Abs && op <= opF64Sqrt:
		return true
	default:
		return false
	}
}

// loadOpInfo describes one load opcode's result MachineType and wire
// encoding for Backend.ExecuteLinearMemoryLoad.
type loadOpInfo struct {
	result wasmtype.MachineType
	op     backend.LoadStoreOp
}

var loadOpTable = map[byte]loadOpInfo{
	opI32Load:    {wasmtype.MachineI32, backend.OpI32Load},
	opI64Load:    {wasmtype.MachineI64, backend.OpI64Load},
	opF32Load:    {wasmtype.MachineF32, backend.OpF32Load},
	opF64Load:    {wasmtype.MachineF64, backend.OpF64Load},
	opI32Load8S:  {wasmtype.MachineI32, backend.OpI32Load8S},
	opI32Load8U:  {wasmtype.MachineI32, backend.OpI32Load8U},
	opI32Load16S: {wasmtype.MachineI32, backend.OpI32Load16S},
	opI32Load16U: {wasmtype.MachineI32, backend.OpI32Load16U},
	opI64Load8S:  {wasmtype.MachineI64, backend.OpI64Load8S},
	opI64Load8U:  {wasmtype.MachineI64, backend.OpI64Load8U},
	opI64Load16S: {wasmtype.MachineI64, backend.OpI64Load16S},
	opI64Load16U: {wasmtype.MachineI64, backend.OpI64Load16U},
	opI64Load32S: {wasmtype.MachineI64, backend.OpI64Load32S},
	opI64Load32U: {wasmtype.MachineI64, backend.OpI64Load32U},
}

type storeOpInfo struct {
	operand wasmtype.MachineType
	op      backend.LoadStoreOp
}

var storeOpTable = map[byte]storeOpInfo{
	opI32Store:   {wasmtype.MachineI32, backend.OpI32Store},
	opI64Store:   {wasmtype.MachineI64, backend.OpI64Store},
	opF32Store:   {wasmtype.MachineF32, backend.OpF32Store},
	opF64Store:   {wasmtype.MachineF64, backend.OpF64Store},
	opI32Store8:  {wasmtype.MachineI32, backend.OpI32Store8},
	opI32Store16: {wasmtype.MachineI32, backend.OpI32Store16},
	opI64Store8:  {wasmtype.MachineI64, backend.OpI64Store8},
	opI64Store16: {wasmtype.MachineI64, backend.OpI64Store16},
	opI64Store32: {wasmtype.MachineI64, backend.OpI64Store32},
}

// readMemarg reads a load/store instruction's (align, offset) pair and
// validates the alignment hint against the natural alignment of width bytes
// (spec.md §4.7 "alignment out of range").
func readMemarg(r *leb128.Reader, naturalWidthLog2 uint32) (offset uint32, err error) {
	align, err := r.ReadVarU32()
	if err != nil {
		return 0, err
	}
	if align > naturalWidthLog2 {
		return 0, errors.NewValidation(errors.CodeAlignmentOutOfRange)
	}
	offset, err = r.ReadVarU32()
	if err != nil {
		return 0, err
	}
	return offset, nil
}

func naturalAlignLog2(op backend.LoadStoreOp) uint32 {
	switch op {
	case backend.OpI32Load8S, backend.OpI32Load8U, backend.OpI64Load8S, backend.OpI64Load8U,
		backend.OpI32Store8, backend.OpI64Store8:
		return 0
	case backend.OpI32Load16S, backend.OpI32Load16U, backend.OpI64Load16S, backend.OpI64Load16U,
		backend.OpI32Store16, backend.OpI64Store16:
		return 1
	case backend.OpI32Load, backend.OpF32Load, backend.OpI64Load32S, backend.OpI64Load32U,
		backend.OpI32Store, backend.OpF32Store, backend.OpI64Store32:
		return 2
	default:
		return 3
	}
}

func (f *Frontend) dispatchLoad(r *leb128.Reader, c *Common, vs *validator.Stack, op byte, reachable bool) error {
	info := loadOpTable[op]
	if !f.Module.HasMemory {
		return errors.NewValidation(errors.CodeUndefinedMemoryReferenced)
	}
	offset, err := readMemarg(r, naturalAlignLog2(info.op))
	if err != nil {
		return err
	}
	if err := vs.PopExpect(wasmtype.MachineI32); err != nil {
		return err
	}
	vs.Push(info.result)
	if !reachable {
		return nil
	}
	addrElem := c.Stack.Pop()
	addrReg, err := c.LiftToReg(addrElem, false)
	if err != nil {
		return err
	}
	destReg, err := c.AllocReg(info.result)
	if err != nil {
		return err
	}
	if err := f.Backend.ExecuteLinearMemoryLoad(info.op, addrReg, offset, destReg); err != nil {
		return err
	}
	c.Stack.Push(Element{Kind: wasmtype.Scratchregister | wasmtype.MachineTypeToStackTypeFlag(info.result), Reg: destReg})
	return nil
}

func (f *Frontend) dispatchStore(r *leb128.Reader, c *Common, vs *validator.Stack, op byte, reachable bool) error {
	info := storeOpTable[op]
	if !f.Module.HasMemory {
		return errors.NewValidation(errors.CodeUndefinedMemoryReferenced)
	}
	offset, err := readMemarg(r, naturalAlignLog2(info.op))
	if err != nil {
		return err
	}
	if err := vs.PopExpect(info.operand); err != nil {
		return err
	}
	if err := vs.PopExpect(wasmtype.MachineI32); err != nil {
		return err
	}
	if !reachable {
		return nil
	}
	valElem := c.Stack.Pop()
	addrElem := c.Stack.Pop()
	valReg, err := c.LiftToReg(valElem, false)
	if err != nil {
		return err
	}
	addrReg, err := c.LiftToReg(addrElem, false)
	if err != nil {
		return err
	}
	return f.Backend.ExecuteLinearMemoryStore(info.op, addrReg, offset, valReg)
}

var compareOpTable = map[byte]struct {
	operand wasmtype.MachineType
	cmp     backend.Comparison
	unary   bool // Eqz: single operand compared against zero
}{
	opI32Eqz: {wasmtype.MachineI32, backend.CmpEq, true},
	opI32Eq:  {wasmtype.MachineI32, backend.CmpEq, false},
	opI32Ne:  {wasmtype.MachineI32, backend.CmpNe, false},
	opI32LtS: {wasmtype.MachineI32, backend.CmpLtS, false},
	opI32LtU: {wasmtype.MachineI32, backend.CmpLtU, false},
	opI32GtS: {wasmtype.MachineI32, backend.CmpGtS, false},
	opI32GtU: {wasmtype.MachineI32, backend.CmpGtU, false},
	opI32LeS: {wasmtype.MachineI32, backend.CmpLeS, false},
	opI32LeU: {wasmtype.MachineI32, backend.CmpLeU, false},
	opI32GeS: {wasmtype.MachineI32, backend.CmpGeS, false},
	opI32GeU: {wasmtype.MachineI32, backend.CmpGeU, false},

	opI64Eqz: {wasmtype.MachineI64, backend.CmpEq, true},
	opI64Eq:  {wasmtype.MachineI64, backend.CmpEq, false},
	opI64Ne:  {wasmtype.MachineI64, backend.CmpNe, false},
	opI64LtS: {wasmtype.MachineI64, backend.CmpLtS, false},
	opI64LtU: {wasmtype.MachineI64, backend.CmpLtU, false},
	opI64GtS: {wasmtype.MachineI64, backend.CmpGtS, false},
	opI64GtU: {wasmtype.MachineI64, backend.CmpGtU, false},
	opI64LeS: {wasmtype.MachineI64, backend.CmpLeS, false},
	opI64LeU: {wasmtype.MachineI64, backend.CmpLeU, false},
	opI64GeS: {wasmtype.MachineI64, backend.CmpGeS, false},
	opI64GeU: {wasmtype.MachineI64, backend.CmpGeU, false},

	opF32Eq: {wasmtype.MachineF32, backend.CmpFEq, false},
	opF32Ne: {wasmtype.MachineF32, backend.CmpFNe, false},
	opF32Lt: {wasmtype.MachineF32, backend.CmpFLt, false},
	opF32Gt: {wasmtype.MachineF32, backend.CmpFGt, false},
	opF32Le: {wasmtype.MachineF32, backend.CmpFLe, false},
	opF32Ge: {wasmtype.MachineF32, backend.CmpFGe, false},

	opF64Eq: {wasmtype.MachineF64, backend.CmpFEq, false},
	opF64Ne: {wasmtype.MachineF64, backend.CmpFNe, false},
	opF64Lt: {wasmtype.MachineF64, backend.CmpFLt, false},
	opF64Gt: {wasmtype.MachineF64, backend.CmpFGt, false},
	opF64Le: {wasmtype.MachineF64, backend.CmpFLe, false},
	opF64Ge: {wasmtype.MachineF64, backend.CmpFGe, false},
}

func (f *Frontend) dispatchCompare(c *Common, vs *validator.Stack, op byte, reachable bool) error {
	info := compareOpTable[op]
	if !info.unary {
		if err := vs.PopExpect(info.operand); err != nil {
			return err
		}
	}
	if err := vs.PopExpect(info.operand); err != nil {
		return err
	}
	vs.Push(wasmtype.MachineI32)
	if !reachable {
		return nil
	}
	var a0, a1 backend.Value
	if info.unary {
		a0 = c.valueOf(c.Stack.Pop())
		a1 = backend.Value{Type: info.operand, IsConst: true}
	} else {
		b := c.Stack.Pop()
		a := c.Stack.Pop()
		a0, a1 = c.valueOf(a), c.valueOf(b)
	}
	if err := f.Backend.EmitComparison(info.cmp, a0, a1); err != nil {
		return err
	}
	destReg, err := c.AllocReg(wasmtype.MachineI32)
	if err != nil {
		return err
	}
	// EmitDeferredAction dispatches on the raw Wasm comparison opcode byte so
	// the backend can materialize the flags EmitComparison just set into an
	// i32 0/1 register without a dedicated method (spec.md §4.6 "last-emitted
	// comparison hint").
	if err := f.Backend.EmitDeferredAction(backend.Opcode(op), a0, a1, destReg); err != nil {
		return err
	}
	c.Stack.Push(Element{Kind: wasmtype.ScratchregisterI32, Reg: destReg})
	return nil
}

func (f *Frontend) dispatchBinArith(c *Common, vs *validator.Stack, op byte, reachable bool) error {
	t := arithOperandType(op)
	if err := vs.PopExpect(t); err != nil {
		return err
	}
	if err := vs.PopExpect(t); err != nil {
		return err
	}
	vs.Push(t)
	if !reachable {
		return nil
	}
	rhs := c.Stack.Pop()
	lhs := c.Stack.Pop()
	el := Element{
		Kind:       wasmtype.DeferredAction | wasmtype.MachineTypeToStackTypeFlag(t),
		DeferredOp: uint16(op),
		OperandA:   c.indexOf(lhs),
		OperandB:   c.indexOf(rhs),
	}
	c.Stack.Push(el)
	return nil
}

func arithOperandType(op byte) wasmtype.MachineType {
	switch {
	case op >= opI32Add && op <= opI32Rotr:
		return wasmtype.MachineI32
	case op >= opI64Add && op <= opI64Rotr:
		return wasmtype.MachineI64
	case op >= opF32Add && op <= opF32Copysign:
		return wasmtype.MachineF32
	default:
		return wasmtype.MachineF64
	}
}

// unaryOperandType is arithOperandType's counterpart for the single-operand
// family dispatched by dispatchUnaryArith.
func unaryOperandType(op byte) wasmtype.MachineType {
	switch {
	case op >= opI32Clz && op <= opI32Popcnt:
		return wasmtype.MachineI32
	case op >= opI64Clz && op <= opI64Popcnt:
		return wasmtype.MachineI64
	case op >= opF32Abs && op <= opF32Sqrt:
		return wasmtype.MachineF32
	default:
		return wasmtype.MachineF64
	}
}

// satTruncInfo describes one 0xFC-prefixed saturating-truncation
// sub-opcode's source/destination MachineType and signedness (the
// non-trapping-float-to-int proposal, spec.md §1).
type satTruncInfo struct {
	dst, src wasmtype.MachineType
	signed   bool
}

var satTruncTable = map[uint32]satTruncInfo{
	opI32TruncSatF32S: {wasmtype.MachineI32, wasmtype.MachineF32, true},
	opI32TruncSatF32U: {wasmtype.MachineI32, wasmtype.MachineF32, false},
	opI32TruncSatF64S: {wasmtype.MachineI32, wasmtype.MachineF64, true},
	opI32TruncSatF64U: {wasmtype.MachineI32, wasmtype.MachineF64, false},
	opI64TruncSatF32S: {wasmtype.MachineI64, wasmtype.MachineF32, true},
	opI64TruncSatF32U: {wasmtype.MachineI64, wasmtype.MachineF32, false},
	opI64TruncSatF64S: {wasmtype.MachineI64, wasmtype.MachineF64, true},
	opI64TruncSatF64U: {wasmtype.MachineI64, wasmtype.MachineF64, false},
}

// dispatchMiscPrefix handles the 0xFC-prefixed extended opcodes: a second
// LEB128 varuint sub-opcode selects saturating truncation or bulk memory
// copy/fill (spec.md §1's in-scope post-MVP additions). Everything else
// under this prefix (memory.init/data.drop/table.init/elem.drop/table.copy)
// is out of scope and falls through to CodeUnknownInstruction.
func (f *Frontend) dispatchMiscPrefix(r *leb128.Reader, c *Common, vs *validator.Stack, reachable bool) error {
	sub, err := r.ReadVarU32()
	if err != nil {
		return err
	}

	if info, ok := satTruncTable[sub]; ok {
		if err := vs.PopExpect(info.src); err != nil {
			return err
		}
		vs.Push(info.dst)
		if !reachable {
			return nil
		}
		operand := c.Stack.Pop()
		a0 := c.valueOf(operand)
		destReg, err := c.AllocReg(info.dst)
		if err != nil {
			return err
		}
		if err := f.Backend.ExecuteSaturatingTruncate(info.dst, info.src, info.signed, a0, destReg); err != nil {
			return err
		}
		c.Stack.Push(Element{Kind: wasmtype.Scratchregister | wasmtype.MachineTypeToStackTypeFlag(info.dst), Reg: destReg})
		return nil
	}

	switch sub {
	case opMemoryCopyMisc:
		if _, err := r.ReadByte(); err != nil { // dst memidx, reserved
			return err
		}
		if _, err := r.ReadByte(); err != nil { // src memidx, reserved
			return err
		}
		if !f.Module.HasMemory {
			return errors.NewValidation(errors.CodeUndefinedMemoryReferenced)
		}
		if err := vs.PopExpect(wasmtype.MachineI32); err != nil { // len
			return err
		}
		if err := vs.PopExpect(wasmtype.MachineI32); err != nil { // src
			return err
		}
		if err := vs.PopExpect(wasmtype.MachineI32); err != nil { // dst
			return err
		}
		if !reachable {
			return nil
		}
		lenReg, err := c.LiftToReg(c.Stack.Pop(), false)
		if err != nil {
			return err
		}
		srcReg, err := c.LiftToReg(c.Stack.Pop(), false)
		if err != nil {
			return err
		}
		dstReg, err := c.LiftToReg(c.Stack.Pop(), false)
		if err != nil {
			return err
		}
		return f.Backend.ExecuteLinearMemoryCopy(dstReg, srcReg, lenReg)

	case opMemoryFillMisc:
		if _, err := r.ReadByte(); err != nil { // memidx, reserved
			return err
		}
		if !f.Module.HasMemory {
			return errors.NewValidation(errors.CodeUndefinedMemoryReferenced)
		}
		if err := vs.PopExpect(wasmtype.MachineI32); err != nil { // len
			return err
		}
		if err := vs.PopExpect(wasmtype.MachineI32); err != nil { // value
			return err
		}
		if err := vs.PopExpect(wasmtype.MachineI32); err != nil { // dst
			return err
		}
		if !reachable {
			return nil
		}
		lenReg, err := c.LiftToReg(c.Stack.Pop(), false)
		if err != nil {
			return err
		}
		valReg, err := c.LiftToReg(c.Stack.Pop(), false)
		if err != nil {
			return err
		}
		dstReg, err := c.LiftToReg(c.Stack.Pop(), false)
		if err != nil {
			return err
		}
		return f.Backend.ExecuteLinearMemoryFill(dstReg, valReg, lenReg)

	default:
		return errors.NewValidation(errors.CodeUnknownInstruction)
	}
}

// dispatchUnaryArith mirrors dispatchBinArith for the single-operand
// arithmetic family. The deferred Element's OperandB is set to -1, an
// explicit sentinel Common.Condense reads as "no second operand" (0 is a
// valid arena index, so the zero value can't serve as the sentinel).
func (f *Frontend) dispatchUnaryArith(c *Common, vs *validator.Stack, op byte, reachable bool) error {
	t := unaryOperandType(op)
	if err := vs.PopExpect(t); err != nil {
		return err
	}
	vs.Push(t)
	if !reachable {
		return nil
	}
	operand := c.Stack.Pop()
	el := Element{
		Kind:       wasmtype.DeferredAction | wasmtype.MachineTypeToStackTypeFlag(t),
		DeferredOp: uint16(op),
		OperandA:   c.indexOf(operand),
		OperandB:   -1,
	}
	c.Stack.Push(el)
	return nil
}
