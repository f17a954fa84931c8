package enip

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/nasa-jpl/servojog/comm"
	"golang.org/x/time/rate"
)

// AttributeHandler can get and set single attributes.  Client satisfies it
// against a remote device, and Server dispatches incoming requests to one.
type AttributeHandler interface {
	GetAttributeSingle(class, instance, attribute uint16) ([]byte, error)
	SetAttributeSingle(class, instance, attribute uint16, data []byte) error
}

// session is a registered encapsulation session riding on a TCP connection.
// It is what the Client's pool hands out.
type session struct {
	conn   net.Conn
	rw     io.ReadWriter
	handle uint32
}

func (s *session) Read(b []byte) (int, error)  { return s.rw.Read(b) }
func (s *session) Write(b []byte) (int, error) { return s.rw.Write(b) }

// Close unregisters the session and closes the connection.  The device may
// already have gone away, so the unregister is best-effort.
func (s *session) Close() error {
	writeFrame(s.rw, header{Command: cmdUnRegisterSession, SessionHandle: s.handle}, nil)
	return s.conn.Close()
}

// Client is an EtherNet/IP explicit messaging client for a single node.
// It does not retry requests; a failed exchange discards the session and the
// next request registers a new one.
type Client struct {
	// Addr is the host:port of the node
	Addr string

	timeout time.Duration
	pool    *comm.Pool
	limiter *rate.Limiter
	ctr     uint64
}

// NewClient returns a client for the node at addr.  If addr has no port the
// EtherNet/IP default is used.  timeout bounds each connect, read and write.
// requestRate limits requests per second; zero or less disables the limit.
func NewClient(addr string, timeout time.Duration, requestRate float64) *Client {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, DefaultPort)
	}
	lim := rate.Inf
	if requestRate > 0 {
		lim = rate.Limit(requestRate)
	}
	c := &Client{
		Addr:    addr,
		timeout: timeout,
		limiter: rate.NewLimiter(lim, 1),
	}
	c.pool = comm.NewPool(1, 30*time.Second, c.openSession)
	return c
}

func (c *Client) openSession() (io.ReadWriteCloser, error) {
	raw, err := comm.BackingOffTCPConnMaker(c.Addr, c.timeout)()
	if err != nil {
		return nil, err
	}
	conn := raw.(net.Conn)
	rw, err := comm.NewTimeout(conn, c.timeout)
	if err != nil {
		conn.Close()
		return nil, err
	}
	h := header{Command: cmdRegisterSession, SenderContext: c.nextContext()}
	if err = writeFrame(rw, h, registerData()); err != nil {
		conn.Close()
		return nil, err
	}
	reply, _, err := readFrame(rw)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if reply.Status != encapSuccess {
		conn.Close()
		return nil, &EncapError{Command: cmdRegisterSession, Status: reply.Status}
	}
	if reply.SessionHandle == 0 {
		conn.Close()
		return nil, ErrNoSession
	}
	return &session{conn: conn, rw: rw, handle: reply.SessionHandle}, nil
}

func (c *Client) nextContext() [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], atomic.AddUint64(&c.ctr, 1))
	return out
}

// secs returns the request timeout in whole seconds for the SendRRData timeout field
func (c *Client) secs() uint16 {
	s := c.timeout / time.Second
	if s < 1 {
		s = 1
	}
	return uint16(s)
}

func (c *Client) do(req request) (response, error) {
	var resp response
	if err := c.limiter.Wait(context.Background()); err != nil {
		return resp, err
	}
	conn, err := c.pool.Get()
	if err != nil {
		return resp, err
	}
	// only I/O and framing failures poison the session; a CIP NAK does not
	var ioErr error
	defer func() { c.pool.ReturnWithError(conn, ioErr) }()

	sess := conn.(*session)
	h := header{Command: cmdSendRRData, SessionHandle: sess.handle, SenderContext: c.nextContext()}
	if ioErr = writeFrame(sess, h, encodeRRData(c.secs(), req.encode())); ioErr != nil {
		return resp, ioErr
	}
	reply, data, ioErr := readFrame(sess)
	if ioErr != nil {
		return resp, ioErr
	}
	if reply.SenderContext != h.SenderContext {
		ioErr = ErrContextMismatch
		return resp, ioErr
	}
	if reply.Status != encapSuccess {
		ioErr = &EncapError{Command: reply.Command, Status: reply.Status}
		return resp, ioErr
	}
	items, ioErr := decodeRRData(data)
	if ioErr != nil {
		return resp, ioErr
	}
	msg, ioErr := unconnectedItem(items)
	if ioErr != nil {
		return resp, ioErr
	}
	resp, ioErr = decodeResponse(msg)
	if ioErr != nil {
		return resp, ioErr
	}
	if resp.Service != req.Service {
		ioErr = fmt.Errorf("cip: reply for service %#02x to request %#02x", resp.Service, req.Service)
		return resp, ioErr
	}
	return resp, resp.err()
}

// GetAttributeSingle reads one attribute and returns its raw value
func (c *Client) GetAttributeSingle(class, instance, attribute uint16) ([]byte, error) {
	resp, err := c.do(request{
		Service: SvcGetAttributeSingle,
		Path:    Path{Class: class, Instance: instance, Attribute: attribute}})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SetAttributeSingle writes one attribute
func (c *Client) SetAttributeSingle(class, instance, attribute uint16, data []byte) error {
	_, err := c.do(request{
		Service: SvcSetAttributeSingle,
		Path:    Path{Class: class, Instance: instance, Attribute: attribute},
		Data:    data})
	return err
}

// Close unregisters the session, if one is open, and closes the connection
func (c *Client) Close() error {
	err := c.pool.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
