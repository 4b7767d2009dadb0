package protocol

import (
	"bytes"
	"encoding/binary"
)

// Writer builds a single frontend message body. Call NewWriter(tag) (or
// NewUntaggedWriter() for StartupMessage/SslRequest/CancelRequest, which
// carry no tag byte), append fields, then Frame() to get the complete,
// length-prefixed frame ready to write to the wire.
type Writer struct {
	tag    byte
	tagged bool
	buf    bytes.Buffer
}

// NewWriter starts a tagged frontend message.
func NewWriter(tag byte) *Writer {
	return &Writer{tag: tag, tagged: true}
}

// NewUntaggedWriter starts an untagged frontend message (StartupMessage,
// SslRequest, CancelRequest).
func NewUntaggedWriter() *Writer {
	return &Writer{tagged: false}
}

// Int32 appends a big-endian int32.
func (w *Writer) Int32(v int32) *Writer {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
	return w
}

// Int16 appends a big-endian int16.
func (w *Writer) Int16(v int16) *Writer {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf.Write(b[:])
	return w
}

// Byte appends a single byte.
func (w *Writer) Byte(b byte) *Writer {
	w.buf.WriteByte(b)
	return w
}

// CString appends a NUL-terminated string.
func (w *Writer) CString(s string) *Writer {
	w.buf.WriteString(s)
	w.buf.WriteByte(0)
	return w
}

// Bytes appends a raw byte slice with no length prefix or terminator.
func (w *Writer) Bytes(b []byte) *Writer {
	w.buf.Write(b)
	return w
}

// Int32Bytes appends a length-prefixed byte slice, where a nil slice encodes
// the SQL NULL wire representation (length -1, no bytes).
func (w *Writer) Int32Bytes(b []byte) *Writer {
	if b == nil {
		w.Int32(-1)
		return w
	}
	w.Int32(int32(len(b)))
	w.buf.Write(b)
	return w
}

// Frame returns the complete frame: tag (if any) || length || body.
func (w *Writer) Frame() []byte {
	body := w.buf.Bytes()
	out := make([]byte, 0, 1+4+len(body))
	if w.tagged {
		out = append(out, w.tag)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(4+len(body)))
	out = append(out, lenBuf[:]...)
	out = append(out, body...)
	return out
}

// StartupMessage builds the StartupMessage frame for the given ordered
// parameters (order matters only for wire compatibility with loggers, not
// protocol correctness).
func StartupMessage(params [][2]string) []byte {
	w := NewUntaggedWriter()
	w.Int32(ProtocolVersion)
	for _, kv := range params {
		w.CString(kv[0])
		w.CString(kv[1])
	}
	w.Byte(0)
	return w.Frame()
}

// SSLRequest builds the SslRequest frame.
func SSLRequest() []byte {
	return NewUntaggedWriter().Int32(SSLRequestCode).Frame()
}

// CancelRequest builds the CancelRequest frame.
func CancelRequest(processID, secretKey int32) []byte {
	return NewUntaggedWriter().Int32(CancelRequestCode).Int32(processID).Int32(secretKey).Frame()
}

// PasswordMessage builds a PasswordMessage frame.
func PasswordMessage(password string) []byte {
	return NewWriter(TagPasswordMessage).CString(password).Frame()
}

// Query builds a simple-query Query frame.
func Query(sql string) []byte {
	return NewWriter(TagQuery).CString(sql).Frame()
}

// Parse builds a Parse frame. paramTypes may contain 0 entries (unspecified,
// inferred by the backend) or explicit OIDs.
func Parse(statementName, sql string, paramTypes []int32) []byte {
	w := NewWriter(TagParse).CString(statementName).CString(sql)
	w.Int16(int16(len(paramTypes)))
	for _, oid := range paramTypes {
		w.Int32(oid)
	}
	return w.Frame()
}

// Bind builds a Bind frame for the unnamed or named portal over the given
// statement, with one format code and value per parameter and one format
// code per result column.
func Bind(portal, statement string, paramFormats []int16, paramValues [][]byte, resultFormats []int16) []byte {
	w := NewWriter(TagBind).CString(portal).CString(statement)
	w.Int16(int16(len(paramFormats)))
	for _, f := range paramFormats {
		w.Int16(f)
	}
	w.Int16(int16(len(paramValues)))
	for _, v := range paramValues {
		w.Int32Bytes(v)
	}
	w.Int16(int16(len(resultFormats)))
	for _, f := range resultFormats {
		w.Int16(f)
	}
	return w.Frame()
}

// Describe builds a Describe frame for a statement ('S') or portal ('P').
func Describe(kind byte, name string) []byte {
	return NewWriter(TagDescribe).Byte(kind).CString(name).Frame()
}

// Execute builds an Execute frame; maxRows of 0 means "fetch all rows".
func Execute(portal string, maxRows int32) []byte {
	return NewWriter(TagExecute).CString(portal).Int32(maxRows).Frame()
}

// Sync builds a Sync frame.
func Sync() []byte {
	return NewWriter(TagSync).Frame()
}

// Close builds a Close frame for a statement ('S') or portal ('P').
func Close(kind byte, name string) []byte {
	return NewWriter(TagClose).Byte(kind).CString(name).Frame()
}

// Terminate builds a Terminate frame.
func Terminate() []byte {
	return NewWriter(TagTerminate).Frame()
}
