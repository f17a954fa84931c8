package enip

import (
	"fmt"
)

// CIP services used by this package
const (
	SvcGetAttributeSingle byte = 0x0E
	SvcSetAttributeSingle byte = 0x10

	replyMask byte = 0x80
)

// CIP general status codes
const (
	StatusSuccess             byte = 0x00
	StatusPathSegmentError    byte = 0x04
	StatusPathUnknown         byte = 0x05
	StatusServiceNotSupported byte = 0x08
	StatusInvalidAttrValue    byte = 0x09
	StatusObjectStateConflict byte = 0x0C
	StatusAttrNotSettable     byte = 0x0E
	StatusPrivilegeViolation  byte = 0x0F
	StatusDeviceStateConflict byte = 0x10
	StatusNotEnoughData       byte = 0x13
	StatusAttrNotSupported    byte = 0x14
	StatusTooMuchData         byte = 0x15
	StatusObjectNotExist      byte = 0x16
	StatusVendorSpecific      byte = 0x1F
)

// GeneralStatusCodes maps CIP general status values to descriptions
var GeneralStatusCodes = map[byte]string{
	0x00: "success",
	0x01: "connection failure",
	0x02: "resource unavailable",
	0x03: "invalid parameter value",
	0x04: "path segment error",
	0x05: "path destination unknown",
	0x06: "partial transfer",
	0x07: "connection lost",
	0x08: "service not supported",
	0x09: "invalid attribute value",
	0x0A: "attribute list error",
	0x0B: "already in requested mode/state",
	0x0C: "object state conflict",
	0x0D: "object already exists",
	0x0E: "attribute not settable",
	0x0F: "privilege violation",
	0x10: "device state conflict",
	0x11: "reply data too large",
	0x12: "fragmentation of a primitive value",
	0x13: "not enough data",
	0x14: "attribute not supported",
	0x15: "too much data",
	0x16: "object does not exist",
	0x17: "service fragmentation sequence not in progress",
	0x18: "no stored attribute data",
	0x19: "store operation failure",
	0x1A: "routing failure, request packet too large",
	0x1B: "routing failure, response packet too large",
	0x1C: "missing attribute list entry data",
	0x1D: "invalid attribute value list",
	0x1E: "embedded service error",
	0x1F: "vendor specific error",
	0x20: "invalid parameter",
	0x26: "path size invalid",
}

// logical segment types, 8-bit form.  The 16-bit form is one higher
const (
	segClass     byte = 0x20
	segInstance  byte = 0x24
	segAttribute byte = 0x30
)

// CIPError is generated when the device answers a request with a non-zero general status
type CIPError struct {
	Service       byte
	GeneralStatus byte
	Additional    []uint16
}

func (e *CIPError) Error() string {
	desc, ok := GeneralStatusCodes[e.GeneralStatus]
	if !ok {
		desc = "unknown status"
	}
	s := fmt.Sprintf("cip: service %#02x failed with general status %#02x (%s)", e.Service, e.GeneralStatus, desc)
	if len(e.Additional) > 0 {
		s += fmt.Sprintf(", additional status %04X", e.Additional)
	}
	return s
}

// Path is a class/instance/attribute triple addressing a single attribute
type Path struct {
	Class, Instance, Attribute uint16
}

func (p Path) String() string {
	return fmt.Sprintf("%d/%d/%d", p.Class, p.Instance, p.Attribute)
}

func logicalSegment(kind byte, v uint16) []byte {
	if v <= 0xFF {
		return []byte{kind, byte(v)}
	}
	return []byte{kind | 0x01, 0x00, byte(v), byte(v >> 8)}
}

// encode returns the padded EPATH for p
func (p Path) encode() []byte {
	out := logicalSegment(segClass, p.Class)
	out = append(out, logicalSegment(segInstance, p.Instance)...)
	return append(out, logicalSegment(segAttribute, p.Attribute)...)
}

// decodePath parses an EPATH of logical class, instance, and attribute segments
func decodePath(b []byte) (Path, error) {
	var p Path
	for len(b) > 0 {
		if len(b) < 2 {
			return p, ErrShortFrame
		}
		var (
			kind = b[0] &^ 0x01
			v    uint16
		)
		if b[0]&0x01 == 1 {
			if len(b) < 4 {
				return p, ErrShortFrame
			}
			v = byteOrder.Uint16(b[2:])
			b = b[4:]
		} else {
			v = uint16(b[1])
			b = b[2:]
		}
		switch kind {
		case segClass:
			p.Class = v
		case segInstance:
			p.Instance = v
		case segAttribute:
			p.Attribute = v
		default:
			return p, &CIPError{GeneralStatus: StatusPathSegmentError}
		}
	}
	return p, nil
}

type request struct {
	Service byte
	Path    Path
	Data    []byte
}

func (r request) encode() []byte {
	path := r.Path.encode()
	out := make([]byte, 0, 2+len(path)+len(r.Data))
	out = append(out, r.Service, byte(len(path)/2))
	out = append(out, path...)
	return append(out, r.Data...)
}

func decodeRequest(b []byte) (request, error) {
	var r request
	if len(b) < 2 {
		return r, ErrShortFrame
	}
	r.Service = b[0]
	n := int(b[1]) * 2
	b = b[2:]
	if len(b) < n {
		return r, ErrShortFrame
	}
	p, err := decodePath(b[:n])
	if err != nil {
		return r, err
	}
	r.Path = p
	r.Data = b[n:]
	return r, nil
}

type response struct {
	Service       byte // the request service, without the reply bit
	GeneralStatus byte
	Additional    []uint16
	Data          []byte
}

func (r response) err() error {
	if r.GeneralStatus == StatusSuccess {
		return nil
	}
	return &CIPError{Service: r.Service, GeneralStatus: r.GeneralStatus, Additional: r.Additional}
}

func (r response) encode() []byte {
	out := []byte{r.Service | replyMask, 0, r.GeneralStatus, byte(len(r.Additional))}
	for _, a := range r.Additional {
		out = append(out, byte(a), byte(a>>8))
	}
	return append(out, r.Data...)
}

func decodeResponse(b []byte) (response, error) {
	var r response
	if len(b) < 4 {
		return r, ErrShortFrame
	}
	if b[0]&replyMask == 0 {
		return r, fmt.Errorf("cip: service %#02x is not a reply", b[0])
	}
	r.Service = b[0] &^ replyMask
	r.GeneralStatus = b[2]
	n := int(b[3])
	b = b[4:]
	if len(b) < 2*n {
		return r, ErrShortFrame
	}
	for i := 0; i < n; i++ {
		r.Additional = append(r.Additional, byteOrder.Uint16(b[2*i:]))
	}
	r.Data = b[2*n:]
	return r, nil
}
