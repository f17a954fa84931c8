package ds402

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encoding is a CIP elementary data type supported by the codec
type Encoding int

const (
	// UINT is a 16-bit unsigned integer
	UINT Encoding = iota + 1

	// INT is a 16-bit signed integer
	INT

	// DINT is a 32-bit signed integer
	DINT
)

func (e Encoding) String() string {
	switch e {
	case UINT:
		return "UINT"
	case INT:
		return "INT"
	case DINT:
		return "DINT"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// Width returns the number of bytes in the wire representation, or 0 if
// the encoding is not supported
func (e Encoding) Width() int {
	switch e {
	case UINT, INT:
		return 2
	case DINT:
		return 4
	default:
		return 0
	}
}

func (e Encoding) bounds() (int64, int64) {
	switch e {
	case UINT:
		return 0, math.MaxUint16
	case INT:
		return math.MinInt16, math.MaxInt16
	case DINT:
		return math.MinInt32, math.MaxInt32
	default:
		return 0, -1
	}
}

// Encode packs v little-endian in the given encoding
func Encode(v int64, enc Encoding) ([]byte, error) {
	w := enc.Width()
	if w == 0 {
		return nil, &EncodingError{Encoding: enc, Reason: "unsupported encoding"}
	}
	lo, hi := enc.bounds()
	if v < lo || v > hi {
		return nil, &EncodingError{Encoding: enc, Reason: fmt.Sprintf("value %d outside [%d, %d]", v, lo, hi)}
	}
	b := make([]byte, w)
	switch w {
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	}
	return b, nil
}

// Decode unpacks a little-endian value in the given encoding, sign extending
// the signed types.  Bytes past the encoding's width are ignored.
func Decode(b []byte, enc Encoding) (int64, error) {
	w := enc.Width()
	if w == 0 {
		return 0, &EncodingError{Encoding: enc, Reason: "unsupported encoding"}
	}
	if len(b) < w {
		return 0, &EncodingError{Encoding: enc, Reason: fmt.Sprintf("payload of %d bytes, need %d", len(b), w)}
	}
	switch enc {
	case UINT:
		return int64(binary.LittleEndian.Uint16(b)), nil
	case INT:
		return int64(int16(binary.LittleEndian.Uint16(b))), nil
	default:
		return int64(int32(binary.LittleEndian.Uint32(b))), nil
	}
}

// DecodeUnsigned interprets the first width bytes of b as a little-endian
// unsigned integer.  width must be 1, 2, 4, or 8.
func DecodeUnsigned(b []byte, width int) (uint64, error) {
	switch width {
	case 1, 2, 4, 8:
	default:
		return 0, &EncodingError{Reason: fmt.Sprintf("unsupported width %d", width)}
	}
	if len(b) < width {
		return 0, &EncodingError{Reason: fmt.Sprintf("payload of %d bytes, need %d", len(b), width)}
	}
	var out uint64
	for i := width - 1; i >= 0; i-- {
		out = out<<8 | uint64(b[i])
	}
	return out, nil
}
