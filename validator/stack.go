// Package validator implements the type-checking discipline the Frontend
// runs ahead of (and interleaved with) code generation: a stack of value
// types plus a stack of control frames, with the "polymorphic" relaxation
// that applies once a frame is known formally unreachable. This mirrors the
// algorithm described in Frontend.cpp's setCurrentFrameFormallyUnreachable /
// cleanCurrentBlockOnUnreachable / popBlockAndPushReturnValues helpers
// (spec.md §4.2 "Validation").
package validator

import (
	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// FrameKind identifies which structured control construct a ControlFrame
// belongs to. br targeting a Loop frame jumps to the frame's start (so its
// label types are its parameters); br targeting any other kind jumps to the
// frame's end (so its label types are its results).
type FrameKind uint8

const (
	FrameFunc FrameKind = iota
	FrameBlock
	FrameLoop
	FrameIf
)

// ControlFrame is one entry of the control-frame stack, tracking the value
// stack height at entry and whether the frame has gone formally unreachable
// (after an unconditional branch/return/unreachable -- from that point
// on, pop is polymorphic: it manufactures whatever type the caller expects
// rather than failing, per the Wasm spec's validation algorithm appendix).
type ControlFrame struct {
	Kind        FrameKind
	Params      []wasmtype.MachineType
	Results     []wasmtype.MachineType
	Height      int // value-stack length at frame entry
	Unreachable bool
	ElseSeen    bool // Kind == FrameIf only: whether `else` has been encountered
}

// LabelTypes returns the types a branch targeting this frame must match:
// Params for a loop (branching goes back to the top), Results otherwise
// (branching goes to the end).
func (f *ControlFrame) LabelTypes() []wasmtype.MachineType {
	if f.Kind == FrameLoop {
		return f.Params
	}
	return f.Results
}

// Stack is the validator's combined value-type stack and control-frame
// stack for one function body.
type Stack struct {
	values []wasmtype.MachineType
	frames []ControlFrame
}

// NewStack creates a Stack with its outermost frame already pushed for a
// function of the given signature.
func NewStack(sig *module.Signature) *Stack {
	s := &Stack{}
	s.frames = append(s.frames, ControlFrame{
		Kind:    FrameFunc,
		Params:  sig.Params,
		Results: sig.Results,
		Height:  0,
	})
	return s
}

// Depth returns the number of currently open control frames.
func (s *Stack) Depth() int { return len(s.frames) }

// Top returns the innermost control frame.
func (s *Stack) Top() *ControlFrame { return &s.frames[len(s.frames)-1] }

// Frame returns the control frame `depth` levels up from the innermost one
// (depth 0 is Top()), as addressed by br/br_if/br_table's label index.
func (s *Stack) Frame(depth uint32) (*ControlFrame, error) {
	if int(depth) >= len(s.frames) {
		return nil, errors.NewValidation(errors.CodeInvalidBranchDepth)
	}
	return &s.frames[len(s.frames)-1-int(depth)], nil
}

// Push records a value of type t on top of the value stack.
func (s *Stack) Push(t wasmtype.MachineType) { s.values = append(s.values, t) }

// PushMulti pushes each of ts in order.
func (s *Stack) PushMulti(ts []wasmtype.MachineType) {
	for _, t := range ts {
		s.Push(t)
	}
}

// Pop removes and returns the top value. Once the current frame is
// unreachable and the value stack has shrunk to the frame's entry height,
// pop is polymorphic: it manufactures MachineInvalid (meaning "any type,
// caller decides") instead of underflowing, matching the Wasm validation
// algorithm's handling of unreachable code.
func (s *Stack) Pop() (wasmtype.MachineType, error) {
	top := s.Top()
	if len(s.values) == top.Height {
		if top.Unreachable {
			return wasmtype.MachineInvalid, nil
		}
		return wasmtype.MachineInvalid, errors.NewValidation(errors.CodeValidationStackUnderflow)
	}
	v := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return v, nil
}

// PopExpect pops a value and checks it against want, unless the popped
// value is the polymorphic MachineInvalid (i.e. manufactured under an
// unreachable frame, which unifies with anything).
func (s *Stack) PopExpect(want wasmtype.MachineType) error {
	got, err := s.Pop()
	if err != nil {
		return err
	}
	if got != wasmtype.MachineInvalid && got != want {
		return errors.NewValidation(errors.CodeWrongType)
	}
	return nil
}

// PopExpectMulti pops len(want) values in reverse order, checking each
// against the corresponding entry of want (want is given in push order, so
// want[len-1] is checked first).
func (s *Stack) PopExpectMulti(want []wasmtype.MachineType) error {
	for i := len(want) - 1; i >= 0; i-- {
		if err := s.PopExpect(want[i]); err != nil {
			return err
		}
	}
	return nil
}

// MarkUnreachable discards every value pushed since the current frame's
// entry and flags the frame unreachable, the way an unconditional branch,
// return, or the unreachable opcode does. Subsequent Pop calls in this
// frame become polymorphic until a matching End/Else restores reachability
// for the next frame.
func (s *Stack) MarkUnreachable() {
	top := s.Top()
	s.values = s.values[:top.Height]
	top.Unreachable = true
}

// IsUnreachable reports whether the current frame has gone formally
// unreachable.
func (s *Stack) IsUnreachable() bool { return s.Top().Unreachable }

// EnterBlock opens a new control frame of the given kind with the given
// signature, consuming sig.Params from the value stack (matching
// call-argument style) and re-pushing them as the new frame's locals-visible
// parameters (block/loop/if inherit their operands as the initial stack
// contents inside the frame).
func (s *Stack) EnterBlock(kind FrameKind, sig *module.Signature) error {
	if err := s.PopExpectMulti(sig.Params); err != nil {
		return err
	}
	height := len(s.values)
	s.values = append(s.values, sig.Params...)
	s.frames = append(s.frames, ControlFrame{
		Kind:    kind,
		Params:  sig.Params,
		Results: sig.Results,
		Height:  height,
	})
	return nil
}

// Else validates the `else` opcode: the if-frame's true-branch must have
// produced exactly sig.Results, after which the value stack is rewound to
// the frame's parameters so the false branch starts from the same state the
// true branch did.
func (s *Stack) Else() error {
	top := s.Top()
	if top.Kind != FrameIf {
		return errors.NewValidation(errors.CodeValidationFailed)
	}
	if err := s.PopExpectMulti(top.Results); err != nil {
		return err
	}
	if len(s.values) != top.Height {
		return errors.NewValidation(errors.CodeValidationStackUnderflow)
	}
	top.ElseSeen = true
	top.Unreachable = false
	s.values = append(s.values, top.Params...)
	return nil
}

// End closes the current control frame: its branch must have produced
// exactly its Results (an if-frame that never saw `else` must be
// param-type-equal to its results, i.e. effectively a no-op on the false
// path -- CodeTypeMismatchIfBranches catches the case where that doesn't
// hold), after which Results is pushed onto the enclosing frame's stack.
// Returns the closed frame so the caller (the code generator) can react to
// FrameFunc / FrameIf-without-else specially.
func (s *Stack) End() (*ControlFrame, error) {
	top := s.Top()
	if top.Kind == FrameIf && !top.ElseSeen {
		if !equalTypes(top.Params, top.Results) {
			return nil, errors.NewValidation(errors.CodeTypeMismatchIfBranches)
		}
	}
	if err := s.PopExpectMulti(top.Results); err != nil {
		return nil, err
	}
	if len(s.values) != top.Height {
		return nil, errors.NewValidation(errors.CodeValidationStackUnderflow)
	}
	closed := *top
	s.frames = s.frames[:len(s.frames)-1]
	if len(s.frames) > 0 {
		s.PushMulti(closed.Results)
	}
	return &closed, nil
}

// CheckBranch validates that a br/br_if/br_table target at the given depth
// has label types satisfiable by the current value stack (without
// consuming it: br_if needs the stack to still be intact for fallthrough;
// br_table validates each target the same way before committing to
// MarkUnreachable for the implicit trailing br).
func (s *Stack) CheckBranch(depth uint32) error {
	frame, err := s.Frame(depth)
	if err != nil {
		return err
	}
	want := frame.LabelTypes()
	if len(s.values)-s.Top().Height < len(want) {
		if !s.IsUnreachable() {
			return errors.NewValidation(errors.CodeValidationStackUnderflow)
		}
		return nil
	}
	base := len(s.values) - len(want)
	for i, t := range want {
		if s.values[base+i] != t {
			return errors.NewValidation(errors.CodeWrongType)
		}
	}
	return nil
}

func equalTypes(a, b []wasmtype.MachineType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
