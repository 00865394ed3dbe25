// Command wasmaotc compiles a WebAssembly binary into a relocation-free
// native artifact that runtime.Runtime can load and execute directly,
// matching spec.md §4.7's end-to-end Frontend.Compile -> AssembleArtifact
// pipeline. Flag and subcommand shape follows
// tetratelabs-wazero/cmd/wazero's doMain/doCompile split.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/vbwasm/wasmaot/compiler"
	"github.com/vbwasm/wasmaot/compiler/backend"
	"github.com/vbwasm/wasmaot/compiler/backend/amd64"
	"github.com/vbwasm/wasmaot/compiler/backend/arm64"
	"github.com/vbwasm/wasmaot/compiler/backend/tricore"
	"github.com/vbwasm/wasmaot/internal/logging"
)

func main() {
	os.Exit(doMain(os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdErr io.Writer) int {
	flag.CommandLine.SetOutput(stdErr)

	var (
		target       string
		out          string
		debug        bool
		allowUnknown bool
		passive      bool
		builtins     bool
		verbose      bool
	)
	flag.StringVar(&target, "target", "amd64", "native target: amd64, arm64, or tricore")
	flag.StringVar(&out, "o", "", "output artifact path (default: input path with .bin appended)")
	flag.BoolVar(&debug, "debug", false, "emit the function-name debug section")
	flag.BoolVar(&allowUnknown, "allow-unknown-imports", false, "tolerate imports with no matching host binding")
	flag.BoolVar(&passive, "passive-protection", false, "use the landing-pad linear-memory strategy instead of bounds checks")
	flag.BoolVar(&builtins, "builtins", true, "compile calls to builtin functions (memory.grow and friends)")
	flag.BoolVar(&verbose, "v", false, "verbose logging")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(stdErr, "usage: wasmaotc [flags] <input.wasm>")
		flag.PrintDefaults()
		return 1
	}

	level := logging.LevelWarn
	if verbose {
		level = logging.LevelDebug
	}
	logger := logging.New(level)

	in := flag.Arg(0)
	if out == "" {
		out = in + ".bin"
	}

	data, err := os.ReadFile(in)
	if err != nil {
		fmt.Fprintf(stdErr, "reading %s: %v\n", in, err)
		return 1
	}

	b, err := newBackend(target)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		return 1
	}

	opts := compiler.Options{
		AllowUnknownImports: allowUnknown,
		EmitDebugMap:        debug,
		PassiveProtection:   passive,
		BuiltinFunctions:    builtins,
	}
	front := compiler.NewFrontend(b, opts)
	mod, err := front.Compile(data)
	if err != nil {
		fmt.Fprintf(stdErr, "compiling %s: %v\n", in, err)
		return 1
	}
	logger.Infof("compiled %d functions for %s", len(mod.Functions), target)

	artifact := compiler.AssembleArtifact(b.Bytes(), mod, debug)
	if err := os.WriteFile(out, artifact, 0o644); err != nil {
		fmt.Fprintf(stdErr, "writing %s: %v\n", out, err)
		return 1
	}
	logger.Infof("wrote %s (%d bytes)", out, len(artifact))
	return 0
}

// newBackend selects the Backend implementation matching name
// (spec.md §4.6's three target backends).
func newBackend(name string) (backend.Backend, error) {
	switch name {
	case "amd64":
		return amd64.New(), nil
	case "arm64":
		return arm64.New(), nil
	case "tricore":
		return tricore.New(), nil
	default:
		return nil, fmt.Errorf("unknown target %q: want amd64, arm64, or tricore", name)
	}
}
