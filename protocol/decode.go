package protocol

import (
	"encoding/binary"
	"fmt"
)

// Reader walks a decoded frame body, consuming fields left to right. It
// panics on underrun, the same "malformed frame is fatal" posture the
// connection engine gives every protocol parse violation.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps a frame body for sequential decoding.
func NewReader(body []byte) *Reader {
	return &Reader{buf: body}
}

func (r *Reader) need(n int) {
	if r.pos+n > len(r.buf) {
		panic(fmt.Sprintf("protocol: short frame: need %d bytes at offset %d, have %d", n, r.pos, len(r.buf)))
	}
}

// Int32 reads a big-endian int32.
func (r *Reader) Int32() int32 {
	r.need(4)
	v := int32(binary.BigEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v
}

// Int16 reads a big-endian int16.
func (r *Reader) Int16() int16 {
	r.need(2)
	v := int16(binary.BigEndian.Uint16(r.buf[r.pos:]))
	r.pos += 2
	return v
}

// Byte reads a single byte.
func (r *Reader) Byte() byte {
	r.need(1)
	b := r.buf[r.pos]
	r.pos++
	return b
}

// CString reads a NUL-terminated string.
func (r *Reader) CString() string {
	start := r.pos
	for r.pos < len(r.buf) && r.buf[r.pos] != 0 {
		r.pos++
	}
	r.need(1)
	s := string(r.buf[start:r.pos])
	r.pos++ // skip NUL
	return s
}

// Int32Bytes reads a length-prefixed byte slice; a length of -1 yields nil
// (SQL NULL).
func (r *Reader) Int32Bytes() []byte {
	n := r.Int32()
	if n == -1 {
		return nil
	}
	r.need(int(n))
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b
}

// Remaining reads every remaining byte.
func (r *Reader) Remaining() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// Done reports whether the body has been fully consumed.
func (r *Reader) Done() bool {
	return r.pos >= len(r.buf)
}

// ParseErrorFields parses the field list of an ErrorResponse or
// NoticeResponse: a sequence of (type byte, NUL-terminated string) pairs
// terminated by a zero byte.
func ParseErrorFields(body []byte) []ErrorField {
	r := NewReader(body)
	var fields []ErrorField
	for {
		t := r.Byte()
		if t == 0 {
			break
		}
		fields = append(fields, ErrorField{Type: t, Value: r.CString()})
	}
	return fields
}

// ParseRowDescription parses a RowDescription body into its field list.
func ParseRowDescription(body []byte) []FieldDescription {
	r := NewReader(body)
	n := r.Int16()
	fields := make([]FieldDescription, n)
	for i := range fields {
		fields[i] = FieldDescription{
			Name:             r.CString(),
			TableOID:         r.Int32(),
			ColumnAttrNumber: r.Int16(),
			TypeOID:          r.Int32(),
			TypeSize:         r.Int16(),
			TypeModifier:     r.Int32(),
			FormatCode:       r.Int16(),
		}
	}
	return fields
}

// ParseParameterDescription parses a ParameterDescription body into its OID list.
func ParseParameterDescription(body []byte) []int32 {
	r := NewReader(body)
	n := r.Int16()
	oids := make([]int32, n)
	for i := range oids {
		oids[i] = r.Int32()
	}
	return oids
}

// ParseDataRow parses a DataRow body into its nullable column values.
func ParseDataRow(body []byte) [][]byte {
	r := NewReader(body)
	n := r.Int16()
	values := make([][]byte, n)
	for i := range values {
		values[i] = r.Int32Bytes()
	}
	return values
}

// ParseBackendKeyData parses a BackendKeyData body.
func ParseBackendKeyData(body []byte) (processID, secretKey int32) {
	r := NewReader(body)
	return r.Int32(), r.Int32()
}

// ParseParameterStatus parses a ParameterStatus body.
func ParseParameterStatus(body []byte) (name, value string) {
	r := NewReader(body)
	return r.CString(), r.CString()
}

// ParseNotificationResponse parses a NotificationResponse body.
func ParseNotificationResponse(body []byte) (pid int32, channel, payload string) {
	r := NewReader(body)
	pid = r.Int32()
	channel = r.CString()
	payload = r.CString()
	return
}
