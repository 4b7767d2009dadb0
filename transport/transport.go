// Package transport gives the connection engine a uniform, buffered duplex
// byte stream over either a plain TCP socket or one wrapped in TLS, plus the
// SslRequest handshake used to decide which it is.
package transport

import (
	"bufio"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/mevdschee/pgclient/protocol"
)

// SSLMode selects how TLS is negotiated at connect time.
type SSLMode int

const (
	// SSLNone skips TLS negotiation entirely.
	SSLNone SSLMode = iota
	// SSLPrefer attempts TLS, falling back to plaintext if the server
	// declines.
	SSLPrefer
	// SSLRequire attempts TLS and fails the connection if the server
	// declines.
	SSLRequire
)

// ParseSSLMode maps the `sslmode` URL query value onto an SSLMode.
func ParseSSLMode(s string) (SSLMode, error) {
	switch s {
	case "", "prefer":
		return SSLPrefer, nil
	case "none", "disable":
		return SSLNone, nil
	case "require":
		return SSLRequire, nil
	default:
		return SSLNone, fmt.Errorf("transport: unknown sslmode %q", s)
	}
}

// Transport is a buffered, big-endian-framed duplex stream. It is not safe
// for concurrent use; the connection engine above it serializes access.
type Transport struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial opens a TCP connection to addr and, per mode, negotiates TLS using
// tlsConfig (which may be nil to get crypto/tls's zero-value defaults).
// On SSLPrefer, a plaintext "N" reply from the server is not an error; on
// SSLRequire, it causes ErrNoSSLSupport.
func Dial(network, addr string, mode SSLMode, tlsConfig *tls.Config) (*Transport, error) {
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	t := &Transport{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}

	if mode == SSLNone {
		return t, nil
	}

	if _, err := t.conn.Write(protocol.SSLRequest()); err != nil {
		conn.Close()
		return nil, err
	}
	reply := make([]byte, 1)
	if _, err := io.ReadFull(t.r, reply); err != nil {
		conn.Close()
		return nil, err
	}
	switch reply[0] {
	case 'S':
		tlsConn := tls.Client(conn, tlsConfig)
		t.conn = tlsConn
		t.r = bufio.NewReader(tlsConn)
		t.w = bufio.NewWriter(tlsConn)
		return t, nil
	case 'N':
		if mode == SSLRequire {
			conn.Close()
			return nil, ErrNoSSLSupport
		}
		return t, nil
	default:
		conn.Close()
		return nil, fmt.Errorf("transport: unexpected SslRequest reply byte %q", reply[0])
	}
}

// ErrNoSSLSupport is returned when sslmode=require but the server replied 'N'.
var ErrNoSSLSupport = fmt.Errorf("transport: server does not support SSL")

// WriteFrame writes a complete, already-framed message and does not flush.
// Callers batch several WriteFrame calls and finish with Flush.
func (t *Transport) WriteFrame(frame []byte) error {
	_, err := t.w.Write(frame)
	return err
}

// Flush flushes any buffered writes to the underlying stream. Every logical
// request batch the engine emits ends with exactly one Flush call.
func (t *Transport) Flush() error {
	return t.w.Flush()
}

// ReadFrame reads one tagged backend frame: a tag byte, a big-endian int32
// length (including itself), and the body.
func (t *Transport) ReadFrame() (protocol.Frame, error) {
	var head [5]byte
	if _, err := io.ReadFull(t.r, head[:]); err != nil {
		return protocol.Frame{}, err
	}
	tag := head[0]
	length := binary.BigEndian.Uint32(head[1:5])
	if length < 4 {
		return protocol.Frame{}, fmt.Errorf("transport: impossible frame length %d for tag %q", length, tag)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(t.r, body); err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Frame{Tag: tag, Body: body}, nil
}

// ReadByte reads a single raw byte with no framing. Dial reads the
// SslRequest reply byte directly from the buffered reader, not through this
// method.
func (t *Transport) ReadByte() (byte, error) {
	return t.r.ReadByte()
}

// SetDeadline forwards to the underlying net.Conn, letting callers bound a
// blocking read/write batch by a context.Context deadline.
func (t *Transport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

// Close closes the underlying stream.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// RemoteAddr returns the transport's remote network address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}
