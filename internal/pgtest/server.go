// Package pgtest is a minimal in-process PostgreSQL v3 wire-protocol
// backend used only by the pgclient package's own tests. It is scripted,
// not a query engine: callers register canned responses per SQL text (or a
// default for anything else) and the server replays them.
package pgtest

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/mevdschee/pgclient/protocol"
)

// Column describes one result column the server reports in a
// RowDescription.
type Column struct {
	Name string
	OID  int32
}

// Str is a convenience constructor for a non-NULL row cell.
func Str(s string) *string {
	return &s
}

// Response is the canned reply to one simple- or extended-query execution.
// A nil cell in a row means SQL NULL.
type Response struct {
	ParamOIDs []int32 // ParameterDescription OIDs; length drives parameter-arity checks on the client
	Columns   []Column
	Rows      [][]*string
	Tag       string // CommandComplete tag, e.g. "SELECT 2", "INSERT 0 1"
	ErrCode   string // if set, an ErrorResponse with this SQLSTATE is sent instead of rows/tag
	ErrMsg    string
}

// AuthMode selects how the server answers the client's authentication
// request.
type AuthMode int

const (
	// AuthTrust sends AuthenticationOk immediately.
	AuthTrust AuthMode = iota
	// AuthMD5 sends an AuthenticationMD5Password challenge and accepts
	// whatever PasswordMessage comes back without verifying it; these tests
	// exercise the client's MD5 composition, not the server's.
	AuthMD5
)

// Server is a scripted fake PostgreSQL backend listening on a loopback TCP
// port.
type Server struct {
	ln net.Listener

	mu        sync.Mutex
	responses map[string]Response
	def       Response
	authMode  AuthMode
	salt      [4]byte
	pending   [][]byte // queued async frames (NotificationResponse, etc) flushed before the next reply

	wg sync.WaitGroup
}

// QueueNotification arranges for a NotificationResponse frame to be sent
// just before the server's next reply, simulating an async NOTIFY that
// arrived between client requests.
func (s *Server) QueueNotification(pid int32, channel, payload string) {
	body := appendInt32(nil, pid)
	body = append(body, []byte(channel)...)
	body = append(body, 0)
	body = append(body, []byte(payload)...)
	body = append(body, 0)

	out := []byte{protocol.TagNotificationResp}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, out)
}

func (s *Server) drainPending() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pending
	s.pending = nil
	return p
}

// NewServer starts a fake backend on an ephemeral loopback port.
func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:        ln,
		responses: make(map[string]Response),
		salt:      [4]byte{1, 2, 3, 4},
		def:       Response{Tag: "SELECT 0"},
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the "host:port" the server is listening on.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// SetAuthMD5 switches the server to require MD5 authentication. The
// password itself is not checked; the server just expects a
// PasswordMessage back.
func (s *Server) SetAuthMD5() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authMode = AuthMD5
}

// OnQuery registers the canned response for an exact SQL text, used for
// both the simple-query protocol and Parse/Bind/Execute over a statement
// with that text.
func (s *Server) OnQuery(sql string, resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[sql] = resp
}

// SetDefault overrides the response used for any SQL text with no
// registered response (default: empty "SELECT 0").
func (s *Server) SetDefault(resp Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.def = resp
}

// Close stops accepting new connections and closes the listener.
func (s *Server) Close() error {
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		nc, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serve(nc)
		}()
	}
}

func (s *Server) responseFor(sql string) Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.responses[sql]; ok {
		return r
	}
	return s.def
}

// conn wraps one accepted backend connection with frame-level helpers
// matching the wire format the client side uses, plus the bit of state the
// extended-query protocol needs between Parse/Bind/Execute.
type conn struct {
	nc                 net.Conn
	lastBoundStatement string
}

func (s *Server) serve(nc net.Conn) {
	defer nc.Close()
	c := &conn{nc: nc}

	if !c.handleStartup(s) {
		return
	}

	preparedSQL := make(map[string]string) // statement name -> sql

	for {
		tag, body, err := c.readFrontend()
		if err != nil {
			return
		}
		for _, frame := range s.drainPending() {
			c.nc.Write(frame)
		}
		switch tag {
		case protocol.TagQuery:
			c.handleSimpleQuery(s, cstring(body))
		case protocol.TagParse:
			name, sql := parseParseBody(body)
			preparedSQL[name] = sql
			c.writeMsg('1', nil) // ParseComplete
		case protocol.TagDescribe:
			kind, name := body[0], cstring(body[1:])
			resp := s.responseFor(preparedSQL[name])
			if kind == protocol.TargetStatement {
				c.writeMsg('t', encodeParamDesc(resp.ParamOIDs))
			}
			if len(resp.Columns) == 0 {
				c.writeMsg(protocol.TagNoData, nil)
			} else {
				c.writeMsg(protocol.TagRowDescription, encodeRowDesc(resp.Columns))
			}
		case protocol.TagBind:
			c.lastBoundStatement = parseBindStatementName(body)
			c.writeMsg('2', nil) // BindComplete
		case protocol.TagExecute:
			resp := s.responseFor(preparedSQL[c.lastBoundStatement])
			c.sendRowsAndTag(resp)
		case protocol.TagClose:
			c.writeMsg('3', nil) // CloseComplete
		case protocol.TagSync:
			c.writeMsg(protocol.TagReadyForQuery, []byte{'I'})
		case protocol.TagTerminate:
			return
		default:
			return
		}
	}
}

func (c *conn) handleStartup(s *Server) bool {
	var head [4]byte
	if _, err := io.ReadFull(c.nc, head[:]); err != nil {
		return false
	}
	length := binary.BigEndian.Uint32(head[:])
	body := make([]byte, length-4)
	if _, err := io.ReadFull(c.nc, body); err != nil {
		return false
	}
	version := int32(binary.BigEndian.Uint32(body[:4]))
	if version == protocol.SSLRequestCode {
		c.nc.Write([]byte{'N'})
		return c.handleStartup(s)
	}

	s.mu.Lock()
	mode := s.authMode
	salt := s.salt
	s.mu.Unlock()

	if mode == AuthMD5 {
		authBody := appendInt32(nil, protocol.AuthMD5Password)
		authBody = append(authBody, salt[:]...)
		c.writeMsg(protocol.TagAuthentication, authBody)

		tag, _, err := c.readFrontend()
		if err != nil || tag != protocol.TagPasswordMessage {
			return false
		}
	}
	c.writeMsg(protocol.TagAuthentication, appendInt32(nil, protocol.AuthOK))
	c.writeMsg(protocol.TagBackendKeyData, append(appendInt32(nil, 4321), appendInt32(nil, 9999)...))
	c.writeMsg(protocol.TagParameterStatus, append(append([]byte("server_version\x00"), []byte("16.0")...), 0))
	c.writeMsg(protocol.TagReadyForQuery, []byte{'I'})
	return true
}

func (c *conn) handleSimpleQuery(s *Server, sql string) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		c.writeMsg(protocol.TagEmptyQueryResponse, nil)
		c.writeMsg(protocol.TagReadyForQuery, []byte{'I'})
		return
	}
	resp := s.responseFor(trimmed)
	if len(resp.Columns) > 0 {
		c.writeMsg(protocol.TagRowDescription, encodeRowDesc(resp.Columns))
	}
	c.sendRowsAndTag(resp)
	c.writeMsg(protocol.TagReadyForQuery, []byte{'I'})
}

func (c *conn) sendRowsAndTag(resp Response) {
	if resp.ErrCode != "" {
		c.writeMsg(protocol.TagErrorResponse, encodeError(resp.ErrCode, resp.ErrMsg))
		return
	}
	for _, row := range resp.Rows {
		c.writeMsg(protocol.TagDataRow, encodeDataRow(row))
	}
	tag := resp.Tag
	if tag == "" {
		tag = "SELECT 0"
	}
	c.writeMsg(protocol.TagCommandComplete, append([]byte(tag), 0))
}

func (c *conn) writeMsg(tag byte, body []byte) {
	out := make([]byte, 0, 5+len(body))
	out = append(out, tag)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	c.nc.Write(out)
}

func (c *conn) readFrontend() (byte, []byte, error) {
	var head [5]byte
	if _, err := io.ReadFull(c.nc, head[:]); err != nil {
		return 0, nil, err
	}
	tag := head[0]
	length := binary.BigEndian.Uint32(head[1:5])
	if length < 4 {
		return 0, nil, fmt.Errorf("pgtest: impossible frame length %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(c.nc, body); err != nil {
		return 0, nil, err
	}
	return tag, body, nil
}

func cstring(b []byte) string {
	i := strings.IndexByte(string(b), 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}

func appendInt32(b []byte, v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return append(b, buf[:]...)
}

func appendInt16(b []byte, v int16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	return append(b, buf[:]...)
}

func parseParseBody(body []byte) (name, sql string) {
	i := strings.IndexByte(string(body), 0)
	name = string(body[:i])
	rest := body[i+1:]
	j := strings.IndexByte(string(rest), 0)
	sql = string(rest[:j])
	return name, sql
}

func parseBindStatementName(body []byte) string {
	i := strings.IndexByte(string(body), 0) // portal name
	rest := body[i+1:]
	j := strings.IndexByte(string(rest), 0) // statement name
	return string(rest[:j])
}

func encodeParamDesc(oids []int32) []byte {
	out := appendInt16(nil, int16(len(oids)))
	for _, oid := range oids {
		out = appendInt32(out, oid)
	}
	return out
}

func encodeRowDesc(cols []Column) []byte {
	out := appendInt16(nil, int16(len(cols)))
	for _, col := range cols {
		out = append(out, []byte(col.Name)...)
		out = append(out, 0)
		out = appendInt32(out, 0) // table OID
		out = appendInt16(out, 0) // column attr number
		out = appendInt32(out, col.OID)
		out = appendInt16(out, -1) // type size, unused by the client
		out = appendInt32(out, -1) // type modifier
		out = appendInt16(out, 0)  // format code: text
	}
	return out
}

func encodeDataRow(row []*string) []byte {
	out := appendInt16(nil, int16(len(row)))
	for _, cell := range row {
		if cell == nil {
			out = appendInt32(out, -1)
			continue
		}
		out = appendInt32(out, int32(len(*cell)))
		out = append(out, []byte(*cell)...)
	}
	return out
}

func encodeError(code, msg string) []byte {
	var out []byte
	out = append(out, protocol.FieldSeverity)
	out = append(out, []byte("ERROR")...)
	out = append(out, 0)
	out = append(out, protocol.FieldCode)
	out = append(out, []byte(code)...)
	out = append(out, 0)
	out = append(out, protocol.FieldMessage)
	out = append(out, []byte(msg)...)
	out = append(out, 0)
	out = append(out, 0) // terminator
	return out
}
