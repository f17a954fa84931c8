package ds402

import (
	"github.com/nasa-jpl/servojog/enip"
)

// Transport executes single attribute requests against one drive.
// Implementations must not retry; retry policy belongs to this package.
type Transport interface {
	ReadAttribute(a Address) ([]byte, error)
	WriteAttribute(a Address, payload []byte) error
}

// AttributeTransport adapts an enip.AttributeHandler, e.g. an *enip.Client,
// to a Transport
type AttributeTransport struct {
	enip.AttributeHandler
}

// NewAttributeTransport wraps h
func NewAttributeTransport(h enip.AttributeHandler) AttributeTransport {
	return AttributeTransport{AttributeHandler: h}
}

// ReadAttribute issues Get_Attribute_Single
func (t AttributeTransport) ReadAttribute(a Address) ([]byte, error) {
	return t.GetAttributeSingle(a.Class, a.Instance, a.Attribute)
}

// WriteAttribute issues Set_Attribute_Single
func (t AttributeTransport) WriteAttribute(a Address, payload []byte) error {
	return t.SetAttributeSingle(a.Class, a.Instance, a.Attribute, payload)
}
