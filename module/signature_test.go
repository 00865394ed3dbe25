package module

import (
	"testing"

	"github.com/vbwasm/wasmaot/wasmtype"
)

func TestSignatureEncode(t *testing.T) {
	cases := []struct {
		sig  Signature
		want string
	}{
		{Signature{}, ">"},
		{Signature{Results: []wasmtype.MachineType{wasmtype.MachineI32}}, ">i"},
		{Signature{
			Params:  []wasmtype.MachineType{wasmtype.MachineI32, wasmtype.MachineI32},
			Results: []wasmtype.MachineType{wasmtype.MachineI32},
		}, "ii>i"},
		{Signature{
			Params:  []wasmtype.MachineType{wasmtype.MachineI64, wasmtype.MachineF32, wasmtype.MachineF64},
			Results: []wasmtype.MachineType{wasmtype.MachineF64},
		}, "lfd>d"},
	}
	for _, c := range cases {
		if got := c.sig.Encode(); got != c.want {
			t.Errorf("Encode(%+v) = %q, want %q", c.sig, got, c.want)
		}
	}
}
