package runtime

import (
	"encoding/binary"
	"fmt"

	"github.com/vbwasm/wasmaot/errors"
	"github.com/vbwasm/wasmaot/internal/logging"
)

// iterateStacktraceRecords walks the live stack-trace index array (reset
// to 0xFFFFFFFF entries by resetStacktraceAndDebugRecords, and filled in
// by compiled code's function prologues) front to back, stopping at the
// first unused (0xFFFFFFFF) slot, matching
// Runtime::iterateStacktraceRecords.
func (r *Runtime) iterateStacktraceRecords(fn func(funcIndex uint32)) {
	n := r.binaryModule.StacktraceEntryCount()
	base := r.memoryBase()
	regionLength := r.basedataLength()
	i := fromEnd(regionLength, stacktraceArrayBase(n))
	arr := base[i : i+int(4*n)]

	for k := uint32(0); k < n; k++ {
		funcIndex := binary.LittleEndian.Uint32(arr[4*k : 4*k+4])
		if funcIndex == 0xFFFFFFFF {
			break
		}
		fn(funcIndex)
	}
}

// PrintStacktrace logs one line per live stack-trace record, resolving
// function names from the artifact's function-name debug section when
// present, matching Runtime::printStacktrace.
func (r *Runtime) PrintStacktrace(logger logging.Logger) {
	if logger == nil {
		logger = r.logger
	}
	data := r.binaryModule.Bytes()
	namesEnd := r.binaryModule.FunctionNameSectionEnd()

	readNameCount := func() uint32 {
		return binary.LittleEndian.Uint32(data[namesEnd-4 : namesEnd])
	}
	numNames := readNameCount()
	namesArray := namesEnd - 4

	count := 0
	r.iterateStacktraceRecords(func(funcIndex uint32) {
		count++
		cursor := namesArray
		found := false
		for i := uint32(0); i < numNames; i++ {
			cursor -= 4
			nameFuncIndex := binary.LittleEndian.Uint32(data[cursor : cursor+4])
			cursor -= 4
			nameLength := binary.LittleEndian.Uint32(data[cursor : cursor+4])
			cursor -= int(roundUpToPow2(nameLength, 2))

			if nameFuncIndex == funcIndex {
				logger.Errorf("\tat %s (wasm-function[%d])", string(data[cursor:cursor+int(nameLength)]), funcIndex)
				found = true
				break
			}
		}
		if !found {
			logger.Errorf("\tat (wasm-function[%d])", funcIndex)
		}
	})

	if count == 0 {
		logger.Errorf("no stacktrace records found")
	}
}

// HandleTrapCode converts a raw trap code observed after a native call
// into a Go error, resetting the per-call trap bookkeeping first
// (Runtime::handleTrapCode/demuxTrapCode).
func (r *Runtime) HandleTrapCode(trapCode uint32) error {
	if trapCode == 0 {
		return nil
	}
	r.resetTrapInfo()
	return errors.NewTrap(demuxTrapCode(trapCode, r))
}

// demuxTrapCode resolves TrapLinkedMemoryMux into NotLinked/OutOfBounds
// depending on whether a host buffer is currently linked, matching
// Runtime::demuxTrapCode.
func demuxTrapCode(trapCode uint32, r *Runtime) errors.Code {
	const trapLinkedMemoryMux = 10 // wasmtype.TrapLinkedMemoryMux
	if trapCode != trapLinkedMemoryMux {
		return trapCodeToError(trapCode)
	}
	base := r.memoryBase()
	regionLength := r.basedataLength()
	ptr := r.readU64At(base, regionLength, FromEndLinkedMemPtr)
	if ptr == 0 {
		return errors.CodeTrapLinkedMemoryNotLinked
	}
	return errors.CodeTrapLinkedMemoryOutOfBounds
}

func trapCodeToError(trapCode uint32) errors.Code {
	switch trapCode {
	case 1:
		return errors.CodeTrapUnreachable
	case 2:
		return errors.CodeTrapDivByZero
	case 3:
		return errors.CodeTrapDivOverflow
	case 4:
		return errors.CodeTrapIntegerOverflow
	case 5:
		return errors.CodeTrapLinearMemoryOOB
	case 6:
		return errors.CodeTrapIndirectCallWrongSignature
	case 7:
		return errors.CodeTrapCallToUnlinkedFunction
	case 8:
		return errors.CodeTrapHostInterruption
	case 9:
		return errors.CodeTrapStackFenceBreached
	default:
		panic(fmt.Sprintf("unknown trap code %d", trapCode))
	}
}
