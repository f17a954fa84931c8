/*Package comm provides the connection plumbing shared by the field-bus clients.

Most usages of this package will boil down to:
	1.  build a CreationFunc, usually with BackingOffTCPConnMaker
	2.  hand it to NewPool, with a pool size of 1 for devices that only
		permit a single session
	3.  Get a connection, wrap it with NewTimeout so that every Read and Write
		carries its own deadline
	4.  return the connection with ReturnWithError, which destroys it if the
		exchange failed

A minimal example:

	maker := comm.BackingOffTCPConnMaker("192.168.1.10:44818", 3*time.Second)
	pool := comm.NewPool(1, 30*time.Second, maker)
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, time.Second)
	...
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff"
)

var (
	// ErrNotConnected is generated when a nil connection is used
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTimeoutUnsupported is generated when NewTimeout is given something
	// that can not carry a deadline
	ErrTimeoutUnsupported = errors.New("connection does not support deadlines")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// dialBackoff is the retry policy used to open connections.
// drives on a busy switch drop SYNs now and then, and do not like
// being connection thrashed.
func dialBackoff(timeout time.Duration) backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock}
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr over TCP,
// retrying with an exponential backoff for up to timeout before giving up
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			return err
		}
		err := backoff.Retry(op, dialBackoff(timeout))
		if err != nil {
			return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
		}
		return conn, nil
	}
}

// Timeout wraps a net.Conn so that every Read and Write
// is given a fresh deadline of now + timeout
type Timeout struct {
	conn    net.Conn
	timeout time.Duration
}

// NewTimeout wraps rw, which must be a net.Conn
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (*Timeout, error) {
	if rw == nil {
		return nil, ErrNotConnected
	}
	conn, ok := rw.(net.Conn)
	if !ok {
		return nil, ErrTimeoutUnsupported
	}
	return &Timeout{conn: conn, timeout: timeout}, nil
}

// Read satisfies io.Reader
func (t *Timeout) Read(b []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.conn.Read(b)
}

// Write satisfies io.Writer
func (t *Timeout) Write(b []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(b)
}
