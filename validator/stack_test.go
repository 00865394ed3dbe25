package validator

import (
	"testing"

	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

func TestStackPushPop(t *testing.T) {
	sig := &module.Signature{Params: nil, Results: []wasmtype.MachineType{wasmtype.MachineI32}}
	s := NewStack(sig)
	s.Push(wasmtype.MachineI32)
	s.Push(wasmtype.MachineI64)

	got, err := s.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if got != wasmtype.MachineI64 {
		t.Errorf("got %v, want I64", got)
	}
	if err := s.PopExpect(wasmtype.MachineI32); err != nil {
		t.Fatal(err)
	}
}

func TestStackUnderflow(t *testing.T) {
	sig := &module.Signature{}
	s := NewStack(sig)
	if _, err := s.Pop(); err == nil {
		t.Fatal("expected underflow error, got nil")
	}
}

func TestEnterBlockAndEnd(t *testing.T) {
	sig := &module.Signature{}
	s := NewStack(sig)
	s.Push(wasmtype.MachineI32)

	blockSig := &module.Signature{
		Params:  []wasmtype.MachineType{wasmtype.MachineI32},
		Results: []wasmtype.MachineType{wasmtype.MachineI64},
	}
	if err := s.EnterBlock(FrameBlock, blockSig); err != nil {
		t.Fatal(err)
	}
	if s.Depth() != 2 {
		t.Fatalf("Depth() = %d, want 2", s.Depth())
	}
	// consume the inherited param, push the declared result
	if _, err := s.Pop(); err != nil {
		t.Fatal(err)
	}
	s.Push(wasmtype.MachineI64)

	frame, err := s.End()
	if err != nil {
		t.Fatal(err)
	}
	if frame.Kind != FrameBlock {
		t.Errorf("closed frame kind = %v, want FrameBlock", frame.Kind)
	}
	if s.Depth() != 1 {
		t.Fatalf("Depth() after End = %d, want 1", s.Depth())
	}
	got, err := s.Pop()
	if err != nil {
		t.Fatal(err)
	}
	if got != wasmtype.MachineI64 {
		t.Errorf("got %v, want I64 propagated from the closed block", got)
	}
}

func TestUnreachablePolymorphicPop(t *testing.T) {
	sig := &module.Signature{}
	s := NewStack(sig)
	s.MarkUnreachable()

	// under an unreachable frame, popping past the entry height manufactures
	// a polymorphic value instead of failing.
	if _, err := s.Pop(); err != nil {
		t.Fatalf("unexpected error popping under unreachable frame: %v", err)
	}
	if err := s.PopExpect(wasmtype.MachineF64); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestIfElseTypeMismatch(t *testing.T) {
	sig := &module.Signature{}
	s := NewStack(sig)

	ifSig := &module.Signature{Results: []wasmtype.MachineType{wasmtype.MachineI32}}
	if err := s.EnterBlock(FrameIf, ifSig); err != nil {
		t.Fatal(err)
	}
	s.Push(wasmtype.MachineI32)
	if err := s.Else(); err != nil {
		t.Fatal(err)
	}
	s.Push(wasmtype.MachineI32)
	if _, err := s.End(); err != nil {
		t.Fatal(err)
	}
}

func TestBranchLabelTypesLoopVsBlock(t *testing.T) {
	sig := &module.Signature{}
	s := NewStack(sig)

	loopSig := &module.Signature{
		Params:  []wasmtype.MachineType{wasmtype.MachineI32},
		Results: []wasmtype.MachineType{wasmtype.MachineI64},
	}
	s.Push(wasmtype.MachineI32) // the loop's param operand, popped by EnterBlock
	if err := s.EnterBlock(FrameLoop, loopSig); err != nil {
		t.Fatal(err)
	}
	// branching to a loop checks against Params (I32), not Results (I64).
	s.values[len(s.values)-1] = wasmtype.MachineI32
	if err := s.CheckBranch(0); err != nil {
		t.Fatalf("branch to loop head should match params: %v", err)
	}
}
