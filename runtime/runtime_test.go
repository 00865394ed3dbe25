package runtime

import (
	"testing"

	"github.com/vbwasm/wasmaot/binarymodule"
	"github.com/vbwasm/wasmaot/compiler"
	"github.com/vbwasm/wasmaot/module"
	"github.com/vbwasm/wasmaot/wasmtype"
)

// buildArtifact assembles a minimal artifact with one exported function
// ("double") so findExportedFunctionByName can be exercised against real
// compiler.AssembleArtifact output rather than a hand-built byte slice.
func buildArtifact(t *testing.T) []byte {
	t.Helper()
	m := module.New()
	sigIdx := m.InternSignature([]wasmtype.MachineType{wasmtype.MachineI32}, []wasmtype.MachineType{wasmtype.MachineI32})
	m.Functions = []module.FuncInfo{{Index: 0, SigIndex: sigIdx, Name: "double"}}
	m.Exports = []module.Export{{Name: "double", Kind: wasmtype.ImportExportFunc, Index: 0}}
	return compiler.AssembleArtifact([]byte{0xC3}, m, false)
}

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	artifact := buildArtifact(t)
	bm, err := binarymodule.Init(binarymodule.Align8, artifact)
	if err != nil {
		t.Fatalf("binarymodule.Init: %v", err)
	}
	return New(bm, nil)
}

func TestGetRawExportedFunctionByName(t *testing.T) {
	r := newTestRuntime(t)

	fn, err := r.GetRawExportedFunctionByName("double", "i>i")
	if err != nil {
		t.Fatalf("GetRawExportedFunctionByName: %v", err)
	}
	if fn.signature != "i>i" {
		t.Errorf("signature = %q, want %q", fn.signature, "i>i")
	}
}

func TestGetRawExportedFunctionByNameWrongSignature(t *testing.T) {
	r := newTestRuntime(t)
	if _, err := r.GetRawExportedFunctionByName("double", "i>l"); err == nil {
		t.Fatal("expected signature mismatch error, got nil")
	}
}

func TestGetRawExportedFunctionByNameNotFound(t *testing.T) {
	r := newTestRuntime(t)
	if _, err := r.GetRawExportedFunctionByName("triple", ""); err == nil {
		t.Fatal("expected not-found error, got nil")
	}
}

func TestResultCountFromSignature(t *testing.T) {
	cases := map[string]int{
		"i>i":   1,
		"ii>i":  1,
		">":     0,
		"ii>il": 2,
	}
	for sig, want := range cases {
		if got := resultCountFromSignature(sig); got != want {
			t.Errorf("resultCountFromSignature(%q) = %d, want %d", sig, got, want)
		}
	}
}
