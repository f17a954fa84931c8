// Package enip implements just enough of EtherNet/IP to talk to a drive with
// unconnected CIP explicit messages: an encapsulation session, and the
// Get_Attribute_Single / Set_Attribute_Single services carried in SendRRData.
//
// Client speaks to a physical node.  Server answers the same requests from an
// AttributeHandler, which is how the simulated drive is put on the network.
package enip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// DefaultPort is the registered EtherNet/IP explicit messaging TCP port
	DefaultPort = "44818"

	headerSize = 24

	// maxFrameData is the largest encapsulation data section permitted
	maxFrameData = 65511

	protocolVersion = 1
)

// encapsulation commands
const (
	cmdNOP               uint16 = 0x0000
	cmdRegisterSession   uint16 = 0x0065
	cmdUnRegisterSession uint16 = 0x0066
	cmdSendRRData        uint16 = 0x006F
)

// common packet format item types
const (
	itemNullAddress     uint16 = 0x0000
	itemUnconnectedData uint16 = 0x00B2
)

// encapsulation status codes
const (
	encapSuccess             uint32 = 0x0000
	encapInvalidCommand      uint32 = 0x0001
	encapIncorrectData       uint32 = 0x0003
	encapInvalidSession      uint32 = 0x0064
	encapInvalidLength       uint32 = 0x0065
	encapUnsupportedProtocol uint32 = 0x0069
)

var (
	// EncapStatusCodes maps encapsulation status values to descriptions
	EncapStatusCodes = map[uint32]string{
		encapSuccess:             "success",
		encapInvalidCommand:      "invalid or unsupported encapsulation command",
		0x0002:                   "insufficient memory",
		encapIncorrectData:       "poorly formed or incorrect data",
		encapInvalidSession:      "invalid session handle",
		encapInvalidLength:       "invalid length",
		encapUnsupportedProtocol: "unsupported encapsulation protocol revision",
	}

	// byteOrder is the wire byte order of every EtherNet/IP field
	byteOrder = binary.LittleEndian

	// ErrShortFrame is generated when a frame or item ends before its declared length
	ErrShortFrame = errors.New("enip: frame shorter than declared length")

	// ErrNoSession is generated when the remote does not hand out a session handle
	ErrNoSession = errors.New("enip: remote did not register a session")

	// ErrContextMismatch is generated when a reply does not echo the request's sender context
	ErrContextMismatch = errors.New("enip: reply sender context does not match request")

	// ErrNoUnconnectedItem is generated when a SendRRData frame has no unconnected data item
	ErrNoUnconnectedItem = errors.New("enip: no unconnected data item in frame")
)

// EncapError is generated when the encapsulation layer reports a non-zero status
type EncapError struct {
	Command uint16
	Status  uint32
}

func (e *EncapError) Error() string {
	desc, ok := EncapStatusCodes[e.Status]
	if !ok {
		desc = "unknown status"
	}
	return fmt.Sprintf("enip: command %#04x failed with status %#04x (%s)", e.Command, e.Status, desc)
}

// header is the fixed 24 byte encapsulation header
type header struct {
	Command       uint16
	Length        uint16
	SessionHandle uint32
	Status        uint32
	SenderContext [8]byte
	Options       uint32
}

func writeFrame(w io.Writer, h header, data []byte) error {
	if len(data) > maxFrameData {
		return fmt.Errorf("enip: frame data of %d bytes exceeds %d", len(data), maxFrameData)
	}
	h.Length = uint16(len(data))
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(data)))
	// binary.Write never fails into a bytes.Buffer with a fixed size struct
	binary.Write(buf, byteOrder, h)
	buf.Write(data)
	_, err := w.Write(buf.Bytes())
	return err
}

func readFrame(r io.Reader) (header, []byte, error) {
	var (
		h   header
		raw [headerSize]byte
	)
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return h, nil, err
	}
	binary.Read(bytes.NewReader(raw[:]), byteOrder, &h)
	data := make([]byte, h.Length)
	if _, err := io.ReadFull(r, data); err != nil {
		if err == io.ErrUnexpectedEOF || err == io.EOF {
			return h, nil, ErrShortFrame
		}
		return h, nil, err
	}
	return h, data, nil
}

// registerData is the RegisterSession command specific data
func registerData() []byte {
	b := make([]byte, 4)
	byteOrder.PutUint16(b, protocolVersion)
	return b // option flags are zero
}

type cpfItem struct {
	Type uint16
	Data []byte
}

// encodeRRData packs a CIP message into SendRRData command specific data:
// interface handle, timeout, and a null address + unconnected data item pair
func encodeRRData(timeoutSecs uint16, msg []byte) []byte {
	buf := make([]byte, 16, 16+len(msg))
	// interface handle (0) for CIP
	byteOrder.PutUint16(buf[4:], timeoutSecs)
	byteOrder.PutUint16(buf[6:], 2)
	byteOrder.PutUint16(buf[8:], itemNullAddress)
	// null address length 0 at buf[10:12]
	byteOrder.PutUint16(buf[12:], itemUnconnectedData)
	byteOrder.PutUint16(buf[14:], uint16(len(msg)))
	return append(buf, msg...)
}

// decodeRRData extracts the items from SendRRData command specific data
func decodeRRData(data []byte) ([]cpfItem, error) {
	if len(data) < 8 {
		return nil, ErrShortFrame
	}
	count := int(byteOrder.Uint16(data[6:]))
	data = data[8:]
	items := make([]cpfItem, 0, count)
	for i := 0; i < count; i++ {
		if len(data) < 4 {
			return nil, ErrShortFrame
		}
		typ := byteOrder.Uint16(data)
		n := int(byteOrder.Uint16(data[2:]))
		data = data[4:]
		if len(data) < n {
			return nil, ErrShortFrame
		}
		items = append(items, cpfItem{Type: typ, Data: data[:n]})
		data = data[n:]
	}
	return items, nil
}

func unconnectedItem(items []cpfItem) ([]byte, error) {
	for _, it := range items {
		if it.Type == itemUnconnectedData {
			return it.Data, nil
		}
	}
	return nil, ErrNoUnconnectedItem
}
