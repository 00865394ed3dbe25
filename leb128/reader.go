// Package leb128 implements the bounds-checked bytecode cursor used by the
// Frontend to walk a Wasm binary: LEB128 decoding with canonical-padding
// enforcement, raw little-endian reads, and a UTF-8 validator. Ported from
// BytecodeReader.cpp/.hpp (spec.md §4.1).
package leb128

import (
	"github.com/vbwasm/wasmaot/errors"
)

// Reader is a cursor over an immutable byte span. It never allocates and
// never panics on well-formed input; out-of-range reads return errors.
type Reader struct {
	data []byte
	pos  int
}

// NewReader wraps data for sequential, bounds-checked reading.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Offset returns the current byte offset from the start of the span.
func (r *Reader) Offset() int { return r.pos }

// Len returns the total length of the underlying span.
func (r *Reader) Len() int { return len(r.data) }

// HasNextByte reports whether at least one more byte can be read.
func (r *Reader) HasNextByte() bool { return r.pos < len(r.data) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.pos }

// Step advances the cursor by n bytes without returning them; it fails if
// that would run past the end of the span.
func (r *Reader) Step(n int) error {
	if n < 0 || r.pos+n > len(r.data) {
		return errors.NewValidation(errors.CodeBytecodeOutOfRange)
	}
	r.pos += n
	return nil
}

// JumpTo seeks the cursor to an absolute offset; it fails if that offset is
// outside [0, len(data)], mirroring BytecodeReader::jumpTo.
func (r *Reader) JumpTo(offset int) error {
	if offset < 0 || offset > len(r.data) {
		return errors.NewValidation(errors.CodeBytecodeOutOfRange)
	}
	r.pos = offset
	return nil
}

// ReadByte reads a single byte and advances the cursor.
func (r *Reader) ReadByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.NewValidation(errors.CodeBytecodeOutOfRange)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

// PeekByte reads a single byte without advancing the cursor.
func (r *Reader) PeekByte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, errors.NewValidation(errors.CodeBytecodeOutOfRange)
	}
	return r.data[r.pos], nil
}

// ReadBytes reads n raw bytes and advances the cursor.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, errors.NewValidation(errors.CodeBytecodeOutOfRange)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadLEU32 reads 4 raw little-endian bytes as a uint32 (not LEB128 --
// used for the module header magic/version and section size trailers,
// ported from BytecodeReader::readLEU32).
func (r *Reader) ReadLEU32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// ReadLEU64 reads 8 raw little-endian bytes as a uint64.
func (r *Reader) ReadLEU64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56, nil
}

// ReadLEB128 decodes an (at most 64-bit) LEB128 integer, enforcing the
// canonical padding rules from BytecodeReader::readLEB128: the final byte
// may only extend with 0x00 (unsigned, or non-negative signed) or all-1s
// (negative signed) bits beyond maxBits; anything else is malformed.
func (r *Reader) ReadLEB128(signed bool, maxBits uint32) (uint64, error) {
	if maxBits > 64 {
		maxBits = 64
	}
	var result uint64
	var bitsWritten uint32
	var b byte = 0xFF
	for (uint32(b) & 0x80) != 0 {
		var err error
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if bitsWritten >= maxBits {
			return 0, errors.NewValidation(errors.CodeMalformedLEB128OutOfBounds)
		}
		low := uint64(b) & 0x7F
		result |= low << uint64(bitsWritten)
		bitsWritten += 7
		if bitsWritten > maxBits {
			shift := 6 - (bitsWritten - maxBits)
			if signed && (uint32(b)&(1<<shift)) != 0 {
				mask := (uint32(0xFF) << (shift + 1)) & 0x7F
				if (uint32(b) & mask) != mask {
					return 0, errors.NewValidation(errors.CodeMalformedLEB128SignedPadding)
				}
			} else {
				mask := (uint32(0xFF) << (shift + 1)) & 0x7F
				if (uint32(b) & mask) != 0 {
					return 0, errors.NewValidation(errors.CodeMalformedLEB128UnsignedPadding)
				}
			}
		}
	}

	if signed && (uint32(b)&0x40) != 0 && bitsWritten < 64 {
		signExtend := ^uint64(0) << bitsWritten
		result |= signExtend
	}
	return result, nil
}

// ReadVarU32 reads an unsigned LEB128 value bounded to 32 bits.
func (r *Reader) ReadVarU32() (uint32, error) {
	v, err := r.ReadLEB128(false, 32)
	return uint32(v), err
}

// ReadVarU64 reads an unsigned LEB128 value bounded to 64 bits.
func (r *Reader) ReadVarU64() (uint64, error) {
	return r.ReadLEB128(false, 64)
}

// ReadVarI32 reads a signed LEB128 value bounded to 32 bits.
func (r *Reader) ReadVarI32() (int32, error) {
	v, err := r.ReadLEB128(true, 32)
	return int32(v), err
}

// ReadVarI64 reads a signed LEB128 value bounded to 64 bits.
func (r *Reader) ReadVarI64() (int64, error) {
	v, err := r.ReadLEB128(true, 64)
	return int64(v), err
}

// ReadVarI33 reads a signed LEB128 value bounded to 33 bits, the width Wasm
// uses to encode block-type signature indices (so a negative single-byte
// valtype and a non-negative type-section index share one encoding).
func (r *Reader) ReadVarI33() (int64, error) {
	v, err := r.ReadLEB128(true, 33)
	return int64(v), err
}

// ValidateUTF8 checks that b is well-formed UTF-8 per the strict WebAssembly
// rules: no overlong encodings, no encoded surrogate halves (U+D800..U+DFFF),
// no code points beyond U+10FFFF. Ported from BytecodeReader's UTF-8
// validator helper referenced in spec.md §4.1.
func ValidateUTF8(b []byte) error {
	i := 0
	for i < len(b) {
		c0 := b[i]
		switch {
		case c0 < 0x80:
			i++
		case c0&0xE0 == 0xC0:
			if i+1 >= len(b) || !isCont(b[i+1]) {
				return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
			}
			cp := (uint32(c0&0x1F) << 6) | uint32(b[i+1]&0x3F)
			if cp < 0x80 {
				return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
			}
			i += 2
		case c0&0xF0 == 0xE0:
			if i+2 >= len(b) || !isCont(b[i+1]) || !isCont(b[i+2]) {
				return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
			}
			cp := (uint32(c0&0x0F) << 12) | (uint32(b[i+1]&0x3F) << 6) | uint32(b[i+2]&0x3F)
			if cp < 0x800 || (cp >= 0xD800 && cp <= 0xDFFF) {
				return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
			}
			i += 3
		case c0&0xF8 == 0xF0:
			if i+3 >= len(b) || !isCont(b[i+1]) || !isCont(b[i+2]) || !isCont(b[i+3]) {
				return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
			}
			cp := (uint32(c0&0x07) << 18) | (uint32(b[i+1]&0x3F) << 12) | (uint32(b[i+2]&0x3F) << 6) | uint32(b[i+3]&0x3F)
			if cp < 0x10000 || cp > 0x10FFFF {
				return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
			}
			i += 4
		default:
			return errors.NewValidation(errors.CodeMalformedUTF8Sequence)
		}
	}
	return nil
}

func isCont(b byte) bool { return b&0xC0 == 0x80 }

// ReadName reads a length-prefixed (varuint32) UTF-8 string and validates
// its bytes as UTF-8. The length is checked only against the remaining
// input, not against a maximum string length.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadVarU32()
	if err != nil {
		return "", err
	}
	b, err := r.ReadBytes(int(n))
	if err != nil {
		return "", err
	}
	if err := ValidateUTF8(b); err != nil {
		return "", err
	}
	return string(b), nil
}
