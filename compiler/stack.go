// Package compiler implements the single-pass streaming compiler: the
// CompilerStack (the tagged-union element stack driving code generation),
// Common (the backend-agnostic orchestration layer: condensation, register
// allocation, calling convention, branch merge/diverge) and Frontend (the
// section/opcode dispatcher). Grounded in spec.md §4.4-§4.7, with the arena
// + sibling-pointer design taken from Design Note 1 and the teacher's own
// preference for slice-backed, index-addressed state over raw pointers
// (exec/internal/compile/scanner.go's CompilationCandidate indexes into the
// bytecode slice rather than holding pointers into it).
package compiler

import (
	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// Element is one entry of the CompilerStack: a tagged union discriminated by
// its StackType (spec.md §3, §4.4). Only the fields relevant to Kind are
// meaningful; the rest are zero.
type Element struct {
	Kind wasmtype.StackType

	// Reg is the scratch register index, valid when Kind.Base() == Scratchregister.
	Reg int16

	// ConstLo holds a constant's raw bits (all 64), valid when Kind.Base() == Constant.
	ConstLo uint64

	// LocalIndex/GlobalIndex address module state, valid for Local/Global.
	LocalIndex  uint32
	GlobalIndex uint32

	// Deferred action fields, valid when Kind.Base() == DeferredAction: the
	// opcode plus up to two already-pushed operand indices (into the arena,
	// by node index so they survive reordering) it was deferred from.
	DeferredOp  uint16
	OperandA    int32
	OperandB    int32

	// Block/Loop/Ifblock fields.
	SigIndex       uint32
	IsLoopFrame    bool
	StartPosition  uint32 // byte offset in the output buffer where a LOOP begins
	ForwardBranches []uint32 // pending patch sites; resolved when the block's end position is known
	ElseBranches    []uint32 // IFBLOCK only: sites of the jump-to-end emitted at `else`
	ResultHint      wasmtype.MachineType

	// sibling is the arena index of this node's sibling in the
	// last-occurrence side index (spec.md §4.4): the previous node that
	// referenced the same register/local, so liveness can be answered by
	// walking backwards without rescanning the whole stack.
	sibling int32
}

// Stack is the arena-indexed doubly-linked CompilerStack: nodes are stored
// in a slice (the arena) and addressed by index, so references survive
// across appends without invalidation the way a raw pointer into a growing
// slice would not.
type Stack struct {
	arena []Element
	// live holds the arena indices that currently make up the stack, top
	// last -- equivalent to walking the doubly-linked list front-to-back,
	// but a plain slice is simpler to reason about and just as valid given
	// the arena already provides stable node identity for `sibling`.
	live []int32
}

// NewStack returns an empty CompilerStack.
func NewStack() *Stack { return &Stack{} }

// Len returns the number of live elements.
func (s *Stack) Len() int { return len(s.live) }

// Push appends a new element and returns its arena index.
func (s *Stack) Push(e Element) int32 {
	idx := int32(len(s.arena))
	e.sibling = -1
	s.arena = append(s.arena, e)
	s.live = append(s.live, idx)
	return idx
}

// Pop removes and returns the topmost element.
func (s *Stack) Pop() *Element {
	n := len(s.live)
	idx := s.live[n-1]
	s.live = s.live[:n-1]
	return &s.arena[idx]
}

// Top returns a pointer to the topmost live element without removing it.
func (s *Stack) Top() *Element {
	return &s.arena[s.live[len(s.live)-1]]
}

// At returns a pointer to the live element `depth` below the top (0 is Top()).
func (s *Stack) At(depth int) *Element {
	return &s.arena[s.live[len(s.live)-1-depth]]
}

// Insert splices a new element before the live position `at` (0-indexed
// from the bottom), returning its arena index.
func (s *Stack) Insert(at int, e Element) int32 {
	idx := int32(len(s.arena))
	e.sibling = -1
	s.arena = append(s.arena, e)
	s.live = append(s.live, 0)
	copy(s.live[at+1:], s.live[at:])
	s.live[at] = idx
	return idx
}

// Erase removes the live element at position `at` (0-indexed from the
// bottom) without touching the arena slot itself (so any `sibling`
// back-reference into it from a later node stays valid).
func (s *Stack) Erase(at int) {
	s.live = append(s.live[:at], s.live[at+1:]...)
}

// Split detaches and returns the suffix of the live stack from position
// `at` (inclusive) onward, shrinking the stack to just the prefix. Used to
// pop a block while preserving its in-order results subsequence
// (spec.md §4.4 split/contactAtEnd).
func (s *Stack) Split(at int) []int32 {
	suffix := append([]int32(nil), s.live[at:]...)
	s.live = s.live[:at]
	return suffix
}

// ContactAtEnd re-appends a previously Split suffix to the end of the live
// stack.
func (s *Stack) ContactAtEnd(suffix []int32) {
	s.live = append(s.live, suffix...)
}

// Elem dereferences an arena index.
func (s *Stack) Elem(idx int32) *Element { return &s.arena[idx] }

// LinkSibling stores prevHead (the most recent prior reference to the same
// register/local, or -1) as arena node newIdx's sibling; it returns nothing
// -- this is the mechanism getReferenceToLastOccurrenceOnStack in spec.md
// §4.3 walks.
func (s *Stack) LinkSibling(newIdx, prevHead int32) {
	s.arena[newIdx].sibling = prevHead
}

// Sibling returns the arena index of elem's previous same-slot occurrence,
// or -1 if none.
func (s *Stack) Sibling(idx int32) int32 { return s.arena[idx].sibling }

// IsNumericValue reports whether e represents a concrete runtime value
// (as opposed to a structural marker like Block/Loop/Ifblock/Skip).
func (e *Element) IsNumericValue() bool {
	switch e.Kind.Base() {
	case wasmtype.Scratchregister, wasmtype.TempResult, wasmtype.Constant, wasmtype.Local, wasmtype.Global, wasmtype.DeferredAction:
		return true
	default:
		return false
	}
}

// MachineType returns the value's type, valid only when IsNumericValue().
func (e *Element) MachineType() wasmtype.MachineType { return e.Kind.ToMachineType() }

// resolveLocal is a convenience used by Common to fetch a LocalDef for a
// Local-kind element.
func resolveLocal(m *module.Info, fn *module.FuncInfo, e *Element) *module.LocalDef {
	return &fn.Locals[e.LocalIndex]
}
