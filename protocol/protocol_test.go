package protocol

import "testing"

func TestStartupMessage_NoTagByte(t *testing.T) {
	frame := StartupMessage([][2]string{{"user", "alice"}, {"database", "alice"}})
	// Untagged: first 4 bytes are the length, not a tag byte.
	if len(frame) < 4 {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	r := NewReader(frame[4:])
	if v := r.Int32(); v != ProtocolVersion {
		t.Errorf("expected protocol version %d, got %d", ProtocolVersion, v)
	}
	if s := r.CString(); s != "user" {
		t.Errorf("expected key %q, got %q", "user", s)
	}
}

func TestQuery_RoundTrip(t *testing.T) {
	frame := Query("SELECT 1")
	if frame[0] != TagQuery {
		t.Fatalf("expected tag %q, got %q", TagQuery, frame[0])
	}
	body := frame[5:]
	r := NewReader(body)
	if s := r.CString(); s != "SELECT 1" {
		t.Errorf("expected %q, got %q", "SELECT 1", s)
	}
}

func TestBind_EncodesParamsAndFormats(t *testing.T) {
	frame := Bind("", "stmt1", []int16{FormatText}, [][]byte{[]byte("42")}, []int16{FormatText})
	if frame[0] != TagBind {
		t.Fatalf("expected tag %q, got %q", TagBind, frame[0])
	}
	r := NewReader(frame[5:])
	if p := r.CString(); p != "" {
		t.Errorf("expected empty portal name, got %q", p)
	}
	if s := r.CString(); s != "stmt1" {
		t.Errorf("expected statement name %q, got %q", "stmt1", s)
	}
	if n := r.Int16(); n != 1 {
		t.Fatalf("expected 1 param format, got %d", n)
	}
	if f := r.Int16(); f != FormatText {
		t.Errorf("expected format %d, got %d", FormatText, f)
	}
	if n := r.Int16(); n != 1 {
		t.Fatalf("expected 1 param value, got %d", n)
	}
	if v := r.Int32Bytes(); string(v) != "42" {
		t.Errorf("expected value %q, got %q", "42", v)
	}
}

func TestBind_NullParameterEncodesLengthMinusOne(t *testing.T) {
	frame := Bind("", "stmt1", []int16{FormatText}, [][]byte{nil}, nil)
	r := NewReader(frame[5:])
	r.CString() // portal
	r.CString() // statement
	r.Int16()   // format count
	r.Int16()   // format
	r.Int16()   // value count
	if v := r.Int32Bytes(); v != nil {
		t.Errorf("expected nil for SQL NULL, got %q", v)
	}
}

func TestParseRowDescription(t *testing.T) {
	w := NewWriter(TagRowDescription)
	w.Int16(1)
	w.CString("id")
	w.Int32(0)
	w.Int16(0)
	w.Int32(23)
	w.Int16(4)
	w.Int32(-1)
	w.Int16(FormatText)
	frame := w.Frame()

	fields := ParseRowDescription(frame[5:])
	if len(fields) != 1 {
		t.Fatalf("expected 1 field, got %d", len(fields))
	}
	if fields[0].Name != "id" || fields[0].TypeOID != 23 {
		t.Errorf("unexpected field: %+v", fields[0])
	}
}

func TestParseErrorFields(t *testing.T) {
	w := NewWriter(TagErrorResponse)
	w.Byte(FieldSeverity)
	w.CString("ERROR")
	w.Byte(FieldCode)
	w.CString("42601")
	w.Byte(0)
	frame := w.Frame()

	fields := ParseErrorFields(frame[5:])
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields, got %d", len(fields))
	}
	if fields[0].Type != FieldSeverity || fields[0].Value != "ERROR" {
		t.Errorf("unexpected first field: %+v", fields[0])
	}
	if fields[1].Type != FieldCode || fields[1].Value != "42601" {
		t.Errorf("unexpected second field: %+v", fields[1])
	}
}

func TestReader_Int32Bytes_NegativeOneIsNull(t *testing.T) {
	w := NewWriter(TagDataRow)
	w.Int32(-1)
	frame := w.Frame()
	r := NewReader(frame[5:])
	if v := r.Int32Bytes(); v != nil {
		t.Errorf("expected nil, got %q", v)
	}
}

func TestReader_PanicsOnShortFrame(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on short frame")
		}
	}()
	r := NewReader([]byte{0, 1})
	r.Int32()
}
