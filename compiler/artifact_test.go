package compiler

import (
	"testing"

	"github.com/vbwasm/wasmaot/binarymodule"
	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// buildTestModule assembles a small module.Info by hand: one exported
// function, one exported mutable global, one data segment, and a
// one-element table -- enough to exercise every section AssembleArtifact
// writes.
func buildTestModule() *module.Info {
	m := module.New()
	sigIdx := m.InternSignature([]wasmtype.MachineType{wasmtype.MachineI32}, []wasmtype.MachineType{wasmtype.MachineI32})

	m.Functions = []module.FuncInfo{{Index: 0, SigIndex: sigIdx, Name: "add_one", BinaryOffsetFromEnd: 0}}
	m.Globals = []module.GlobalDef{{Type: wasmtype.MachineI32, Mutable: true, LinkDataOffset: 0, InitConst: 7}}
	m.Exports = []module.Export{
		{Name: "add_one", Kind: wasmtype.ImportExportFunc, Index: 0},
		{Name: "counter", Kind: wasmtype.ImportExportGlobal, Index: 0},
	}
	m.HasMemory = true
	m.MemoryMin = 1
	m.DataSegments = []module.DataSegment{{Offset: 0, Bytes: []byte("hi")}}
	m.TableMin = 1
	m.Elements = []module.TableEntry{{FuncIndex: 0, SigIndex: sigIdx}}
	return m
}

func TestAssembleArtifactRoundTrip(t *testing.T) {
	code := []byte{0x90, 0x90, 0x90, 0x90} // placeholder native body bytes
	m := buildTestModule()

	artifact := AssembleArtifact(code, m, true)
	if len(artifact) == 0 {
		t.Fatal("empty artifact")
	}

	parsed, err := binarymodule.Init(binarymodule.Align8, artifact)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	if got, want := parsed.ModuleBinaryLength(), uint32(len(artifact)-4); got != want {
		t.Errorf("ModuleBinaryLength = %d, want %d", got, want)
	}
	if !parsed.DebugMode() {
		t.Error("DebugMode = false, want true")
	}
	if got, want := parsed.StacktraceEntryCount(), uint32(len(m.Functions)); got != want {
		t.Errorf("StacktraceEntryCount = %d, want %d", got, want)
	}
	if !parsed.HasLinearMemory() {
		t.Error("HasLinearMemory = false, want true")
	}
	if got, want := parsed.InitialMemorySize(), m.MemoryMin; got != want {
		t.Errorf("InitialMemorySize = %d, want %d", got, want)
	}
	if got, want := parsed.NumDataSegments(), uint32(len(m.DataSegments)); got != want {
		t.Errorf("NumDataSegments = %d, want %d", got, want)
	}
	if parsed.HasStartFunction() {
		t.Error("HasStartFunction = true, want false")
	}
	if got, want := parsed.LinkDataLength(), linkDataLengthOf(m); got != want {
		t.Errorf("LinkDataLength = %d, want %d", got, want)
	}
}

func TestAssembleArtifactNoMemoryNoDebug(t *testing.T) {
	m := module.New()
	artifact := AssembleArtifact(nil, m, false)

	parsed, err := binarymodule.Init(binarymodule.Align8, artifact)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if parsed.HasLinearMemory() {
		t.Error("HasLinearMemory = true, want false for a memory-less module")
	}
	if parsed.DebugMode() {
		t.Error("DebugMode = true, want false")
	}
	if parsed.NumDataSegments() != 0 {
		t.Errorf("NumDataSegments = %d, want 0", parsed.NumDataSegments())
	}
}
