package enip

import (
	"errors"
	"io"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Server answers EtherNet/IP explicit messages on behalf of an
// AttributeHandler.  Only RegisterSession, UnRegisterSession, NOP and
// SendRRData carrying Get/Set_Attribute_Single are understood.
type Server struct {
	Handler AttributeHandler

	// Log receives connection level events; it defaults to the logrus standard logger
	Log log.FieldLogger

	mu         sync.Mutex
	ln         net.Listener
	conns      map[net.Conn]struct{}
	nextHandle uint32
	closed     bool
	wg         sync.WaitGroup
}

// NewServer returns a server dispatching to h
func NewServer(h AttributeHandler) *Server {
	return &Server{
		Handler: h,
		Log:     log.StandardLogger(),
		conns:   map[net.Conn]struct{}{},
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Close is called.  It always returns
// a non-nil error; after Close that error is net.ErrClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.ln = ln
	s.mu.Unlock()
	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return net.ErrClosed
			}
			return err
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return net.ErrClosed
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the listener address, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Close stops the listener and drops every open session
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}

func (s *Server) newHandle() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandle++
	if s.nextHandle == 0 {
		s.nextHandle++
	}
	return s.nextHandle
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
	remote := conn.RemoteAddr().String()
	var handle uint32
	for {
		h, data, err := readFrame(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.Log.WithField("remote", remote).Warnf("enip: dropping connection: %v", err)
			}
			return
		}
		reply := header{Command: h.Command, SenderContext: h.SenderContext, SessionHandle: h.SessionHandle}
		var out []byte
		switch h.Command {
		case cmdNOP:
			continue
		case cmdRegisterSession:
			if len(data) < 4 {
				reply.Status = encapInvalidLength
				break
			}
			if v := byteOrder.Uint16(data); v != protocolVersion {
				reply.Status = encapUnsupportedProtocol
				out = registerData()
				break
			}
			if handle == 0 {
				handle = s.newHandle()
				s.Log.WithFields(log.Fields{"remote": remote, "session": handle}).Debug("enip: session registered")
			}
			reply.SessionHandle = handle
			out = data
		case cmdUnRegisterSession:
			s.Log.WithFields(log.Fields{"remote": remote, "session": handle}).Debug("enip: session unregistered")
			return
		case cmdSendRRData:
			if handle == 0 || h.SessionHandle != handle {
				reply.Status = encapInvalidSession
				break
			}
			msg, err := s.rrData(data)
			if err != nil {
				reply.Status = encapIncorrectData
				break
			}
			out = msg
		default:
			reply.Status = encapInvalidCommand
		}
		if err := writeFrame(conn, reply, out); err != nil {
			s.Log.WithField("remote", remote).Warnf("enip: write failed: %v", err)
			return
		}
	}
}

// rrData dispatches one SendRRData request and returns the reply command data
func (s *Server) rrData(data []byte) ([]byte, error) {
	items, err := decodeRRData(data)
	if err != nil {
		return nil, err
	}
	msg, err := unconnectedItem(items)
	if err != nil {
		return nil, err
	}
	var resp response
	req, err := decodeRequest(msg)
	if err != nil {
		if len(msg) == 0 {
			return nil, err
		}
		resp = response{Service: msg[0] &^ replyMask, GeneralStatus: StatusPathSegmentError}
		return encodeRRData(0, resp.encode()), nil
	}
	resp = s.dispatch(req)
	return encodeRRData(0, resp.encode()), nil
}

func (s *Server) dispatch(req request) response {
	resp := response{Service: req.Service}
	var err error
	switch req.Service {
	case SvcGetAttributeSingle:
		resp.Data, err = s.Handler.GetAttributeSingle(req.Path.Class, req.Path.Instance, req.Path.Attribute)
	case SvcSetAttributeSingle:
		err = s.Handler.SetAttributeSingle(req.Path.Class, req.Path.Instance, req.Path.Attribute, req.Data)
	default:
		resp.GeneralStatus = StatusServiceNotSupported
		return resp
	}
	if err != nil {
		resp.Data = nil
		var cerr *CIPError
		if errors.As(err, &cerr) {
			resp.GeneralStatus = cerr.GeneralStatus
			resp.Additional = cerr.Additional
		} else {
			resp.GeneralStatus = StatusVendorSpecific
		}
		s.Log.WithField("path", req.Path.String()).Debugf("enip: service %#02x: %v", req.Service, err)
	}
	return resp
}
