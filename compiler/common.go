package compiler

import (
	"github.com/vbwasm/wasmaot/compiler/backend"
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// Common is the backend-agnostic orchestration layer driving one backend
// through a single function body's compilation (spec.md §4.5). It owns the
// CompilerStack and delegates every ISA-specific emission to Backend.
type Common struct {
	Stack   *Stack
	Backend backend.Backend
	Module  *module.Info
	Fn      *module.FuncInfo

	// deferredSideEffect marks whether a pending DeferredAction element has
	// a side effect that must be materialized before reordering across it
	// (spec.md §4.5 "Side-effect barrier").
	deferredSideEffect map[int32]bool
}

// NewCommon wires a fresh orchestration layer for compiling fn's body.
func NewCommon(b backend.Backend, m *module.Info, fn *module.FuncInfo) *Common {
	return &Common{
		Stack:              NewStack(),
		Backend:            b,
		Module:             m,
		Fn:                 fn,
		deferredSideEffect: make(map[int32]bool),
	}
}

// --- register allocation --------------------------------------------------

// AllocReg picks a free scratch register for t, spilling the oldest
// non-protected scratch-register holder found scanning the stack from the
// bottom if registers are exhausted (spec.md §4.5 "Register allocation").
func (c *Common) AllocReg(t wasmtype.MachineType) (int16, error) {
	if r, ok := c.Backend.AllocateLocal(t, false, 1); ok {
		return r, nil
	}
	victim, idx, ok := c.findSpillVictim()
	if !ok {
		return 0, errors.NewImplementationLimit(errors.CodeReachedMaximumStackFrameSize)
	}
	off, err := c.Backend.SpillFromStack(victim.Reg)
	if err != nil {
		return 0, err
	}
	victim.Kind = wasmtype.TempResult | victim.Kind.MachineTypeFlag()
	victim.ConstLo = 0
	victim.LocalIndex = uint32(off) // reinterpreted as a frame-slot offset once spilled
	_ = idx
	if r, ok := c.Backend.AllocateLocal(t, false, 1); ok {
		return r, nil
	}
	return 0, errors.NewImplementationLimit(errors.CodeReachedMaximumStackFrameSize)
}

// findSpillVictim scans the live stack from the bottom for the first
// scratch-register-holding element that isn't the topmost (protected)
// element, per spec.md §4.5.
func (c *Common) findSpillVictim() (*Element, int, bool) {
	for i := 0; i < c.Stack.Len()-1; i++ {
		e := c.Stack.At(c.Stack.Len() - 1 - i)
		if e.Kind.Base() == wasmtype.Scratchregister {
			return e, i, true
		}
	}
	return nil, 0, false
}

// --- condensation ----------------------------------------------------------

// Condense materializes the element at stack depth `top` (0 = current top)
// into a concrete value (register, constant, or already-resident local):
// any DEFERREDACTION is realized via Backend.EmitDeferredAction, honoring
// targetHint when given (spec.md §4.5 "Condensation").
func (c *Common) Condense(top int, targetHint *int16) error {
	e := c.Stack.At(top)
	if e.Kind.Base() != wasmtype.DeferredAction {
		return nil
	}
	a0 := c.valueOf(c.Stack.Elem(e.OperandA))
	var a1 backend.Value
	if e.OperandB >= 0 {
		a1 = c.valueOf(c.Stack.Elem(e.OperandB))
	}
	dest := targetHint
	var reg int16
	if dest != nil {
		reg = *dest
	} else {
		r, err := c.AllocReg(e.Kind.ToMachineType())
		if err != nil {
			return err
		}
		reg = r
	}
	if err := c.Backend.EmitDeferredAction(backend.Opcode(e.DeferredOp), a0, a1, reg); err != nil {
		return err
	}
	e.Kind = wasmtype.Scratchregister | e.Kind.MachineTypeFlag()
	e.Reg = reg
	return nil
}

// CondenseMultiple materializes the top n elements in order, bottom of the
// group first, preserving their relative order (spec.md §4.5).
func (c *Common) CondenseMultiple(n int) error {
	for i := n - 1; i >= 0; i-- {
		if err := c.Condense(i, nil); err != nil {
			return err
		}
	}
	return nil
}

// CondenseWithTargetHint checks that n matches sigIdx's result count (its
// param count for a loop) and materializes the top n values (used for
// block/loop exits, spec.md §4.5). No target hint is passed to Condense, so
// each value lands wherever Condense places it; no value is routed into a
// calling-convention register or slot.
func (c *Common) CondenseWithTargetHint(n int, sigIdx uint32, isLoop bool) error {
	sig, _, err := c.Module.ResolveSignature(sigIdx)
	if err != nil {
		return err
	}
	types := sig.Results
	if isLoop {
		types = sig.Params
	}
	if len(types) != n {
		return errors.NewValidation(errors.CodeValidationFailed)
	}
	for i := n - 1; i >= 0; i-- {
		if err := c.Condense(i, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Common) valueOf(e *Element) backend.Value {
	v := backend.Value{Type: e.Kind.ToMachineType()}
	switch e.Kind.Base() {
	case wasmtype.Constant:
		v.IsConst = true
		v.ConstLo = e.ConstLo
	case wasmtype.Scratchregister, wasmtype.TempResult:
		v.InReg = true
		v.Reg = e.Reg
	case wasmtype.Local:
		local := &c.Fn.Locals[e.LocalIndex]
		if local.CurrentKind == module.StorageRegister {
			v.InReg = true
			v.Reg = local.Reg
		} else {
			v.Mem = c.Backend.ResolveAddress(0, local.StackOffset, 32)
		}
	}
	return v
}

// --- side-effect barrier -----------------------------------------------

// SideEffectBarrier materializes every pending deferred action on the
// stack, whether or not it carries a side effect, establishing the ordering point
// required before store, call, memory.grow, branch, block-end, trap, or
// return (spec.md §4.5).
func (c *Common) SideEffectBarrier() error {
	for i := 0; i < c.Stack.Len(); i++ {
		e := c.Stack.At(i)
		if e.Kind.Base() == wasmtype.DeferredAction {
			if err := c.Condense(i, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- lifting to register -------------------------------------------------

// LiftToReg returns a register holding elem's value, loading from
// memory/constant as needed. If writable is requested and the element's
// current register is shared by another live reference (its sibling chain
// is non-empty and still visible), the value is duplicated into a fresh
// register first (spec.md §4.5 "Lifting to register").
func (c *Common) LiftToReg(elem *Element, writable bool) (int16, error) {
	switch elem.Kind.Base() {
	case wasmtype.Scratchregister, wasmtype.TempResult:
		if writable && c.isAliased(elem) {
			dst, err := c.AllocReg(elem.Kind.ToMachineType())
			if err != nil {
				return 0, err
			}
			v := backend.Value{Type: elem.Kind.ToMachineType(), InReg: true, Reg: elem.Reg}
			if err := c.Backend.EmitDeferredAction(opcodeMoveMarker, v, backend.Value{}, dst); err != nil {
				return 0, err
			}
			elem.Reg = dst
		}
		return elem.Reg, nil
	default:
		reg, err := c.AllocReg(elem.Kind.ToMachineType())
		if err != nil {
			return 0, err
		}
		v := c.valueOf(elem)
		if err := c.Backend.EmitDeferredAction(opcodeMoveMarker, v, backend.Value{}, reg); err != nil {
			return 0, err
		}
		elem.Kind = wasmtype.Scratchregister | elem.Kind.MachineTypeFlag()
		elem.Reg = reg
		return reg, nil
	}
}

// opcodeMoveMarker is a synthetic Opcode value (outside the Wasm opcode
// space, which tops out under 0xFF for single-byte opcodes and 0xFC-prefixed
// extensions under 0x100) that EmitDeferredAction's backends interpret as a
// plain register-to-register or load-to-register move.
const opcodeMoveMarker backend.Opcode = 0x8000

func (c *Common) isAliased(elem *Element) bool {
	return c.Stack.Sibling(c.indexOf(elem)) >= 0
}

func (c *Common) indexOf(elem *Element) int32 {
	for i := 0; i < len(c.Stack.arena); i++ {
		if &c.Stack.arena[i] == elem {
			return int32(i)
		}
	}
	return -1
}

// --- calling ---------------------------------------------------------------

// PrepareCallParamsAndSpillContext condenses sigIdx's argument count (plus,
// for an indirect call, the table-index operand sitting above them) off the
// stack top, in preparation for a direct/indirect/builtin call (spec.md
// §4.5 "Calling"). It spills nothing itself; live registers are spilled by
// SaveLocalsAndParamsForFuncCall, which the call sites run next.
// When indirect is true, the returned indexVal is the table-index operand;
// it is the zero Value otherwise.
func (c *Common) PrepareCallParamsAndSpillContext(sigIdx uint32, indirect bool) (args []backend.Value, indexVal backend.Value, err error) {
	sig, _, err := c.Module.ResolveSignature(sigIdx)
	if err != nil {
		return nil, backend.Value{}, err
	}
	n := len(sig.Params)
	if indirect {
		n++ // the table index itself occupies one more stack slot, on top
	}
	if err := c.CondenseMultiple(n); err != nil {
		return nil, backend.Value{}, err
	}
	if indirect {
		indexVal = c.valueOf(c.Stack.At(0))
	}
	args = make([]backend.Value, len(sig.Params))
	for i := 0; i < len(sig.Params); i++ {
		// Params were pushed in order, so the last param is nearest the top
		// (just below the table index when indirect).
		depth := i
		if indirect {
			depth++
		}
		args[len(sig.Params)-1-i] = c.valueOf(c.Stack.At(depth))
	}
	return args, indexVal, nil
}

// SaveLocalsAndParamsForFuncCall spills every local currently resident in a
// register that the callee's ABI might clobber, matching "restore the
// linear-memory base register after imported returns" in spec.md §4.5.
func (c *Common) SaveLocalsAndParamsForFuncCall(imported bool) {
	c.Backend.SpillAllVariables()
}

// --- branch merge/diverge --------------------------------------------------

// LocationSnapshot records the authoritative storage of every local/global
// at a control-flow edge, so a merge point can reconcile divergent
// locations across edges (spec.md §4.5 "Branch merge/diverge").
type LocationSnapshot struct {
	LocalKinds []module.StorageKind
	LocalRegs  []int16
}

// SnapshotLocations captures the current authoritative location of every
// local.
func (c *Common) SnapshotLocations() LocationSnapshot {
	snap := LocationSnapshot{
		LocalKinds: make([]module.StorageKind, len(c.Fn.Locals)),
		LocalRegs:  make([]int16, len(c.Fn.Locals)),
	}
	for i, l := range c.Fn.Locals {
		snap.LocalKinds[i] = l.CurrentKind
		snap.LocalRegs[i] = l.Reg
	}
	return snap
}

// ReconcileLocations inserts moves on the current edge so every local
// matches the target snapshot's authoritative location -- called at the
// losing edge of a branch merge.
func (c *Common) ReconcileLocations(target LocationSnapshot) error {
	for i := range c.Fn.Locals {
		l := &c.Fn.Locals[i]
		if l.CurrentKind == target.LocalKinds[i] && l.Reg == target.LocalRegs[i] {
			continue
		}
		if target.LocalKinds[i] == module.StorageRegister {
			src := backend.Value{Type: l.Type, InReg: l.CurrentKind == module.StorageRegister, Reg: l.Reg}
			if err := c.Backend.EmitDeferredAction(opcodeMoveMarker, src, backend.Value{}, target.LocalRegs[i]); err != nil {
				return err
			}
			l.Reg = target.LocalRegs[i]
		}
		l.CurrentKind = target.LocalKinds[i]
	}
	return nil
}
