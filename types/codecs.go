package types

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// scalarCodec handles the built-in scalar OIDs with text-format encoding,
// except bytea, which it encodes and (by default) decodes in binary format.
// Real deployments needing binary-format performance for other types
// register their own Codec per OID; the default registry favors the
// simpler, always-correct text format, matching how the source's default
// ToSql impls worked.
type scalarCodec struct{}

func (scalarCodec) ToSql(oid int32, value any) (Format, []byte, error) {
	if value == nil {
		return FormatText, nil, nil
	}
	switch oid {
	case OIDBool:
		b, ok := value.(bool)
		if !ok {
			return 0, nil, &ErrUnsupportedType{OID: oid, Value: value}
		}
		if b {
			return FormatText, []byte("t"), nil
		}
		return FormatText, []byte("f"), nil
	case OIDInt2, OIDInt4, OIDInt8:
		s, err := formatInt(value)
		if err != nil {
			return 0, nil, err
		}
		return FormatText, []byte(s), nil
	case OIDFloat4, OIDFloat8:
		s, err := formatFloat(value)
		if err != nil {
			return 0, nil, err
		}
		return FormatText, []byte(s), nil
	case OIDText, OIDVarchar, OIDBPChar, OIDUnknown:
		s, ok := value.(string)
		if !ok {
			return 0, nil, &ErrUnsupportedType{OID: oid, Value: value}
		}
		return FormatText, []byte(s), nil
	case OIDBytea:
		b, ok := value.([]byte)
		if !ok {
			return 0, nil, &ErrUnsupportedType{OID: oid, Value: value}
		}
		return FormatBinary, b, nil
	default:
		// Unresolved/custom OID: pass strings and byte slices through
		// verbatim as text, the same permissive fallback the unknown-type
		// name lookup exists to support.
		switch v := value.(type) {
		case string:
			return FormatText, []byte(v), nil
		case []byte:
			return FormatText, v, nil
		default:
			return 0, nil, &ErrUnsupportedType{OID: oid, Value: value}
		}
	}
}

func (scalarCodec) FromSql(oid int32, format Format, raw []byte) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch oid {
	case OIDBool:
		switch string(raw) {
		case "t", "true", "1":
			return true, nil
		case "f", "false", "0":
			return false, nil
		default:
			return nil, fmt.Errorf("types: invalid bool literal %q", raw)
		}
	case OIDInt2:
		v, err := strconv.ParseInt(string(raw), 10, 16)
		if err != nil {
			return nil, err
		}
		return int16(v), nil
	case OIDInt4:
		v, err := strconv.ParseInt(string(raw), 10, 32)
		if err != nil {
			return nil, err
		}
		return int32(v), nil
	case OIDInt8:
		v, err := strconv.ParseInt(string(raw), 10, 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case OIDFloat4:
		v, err := strconv.ParseFloat(string(raw), 32)
		if err != nil {
			return nil, err
		}
		return float32(v), nil
	case OIDFloat8:
		v, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return nil, err
		}
		return v, nil
	case OIDBytea:
		if format == FormatBinary {
			return raw, nil
		}
		return decodeHexBytea(raw)
	default:
		// text, varchar, bpchar, unknown, and any still-unresolved OID.
		return string(raw), nil
	}
}

// decodeHexBytea decodes PostgreSQL's "\x"-prefixed hex bytea text format.
// Only reachable if a caller overrides ResultFormat to request bytea as
// text; the default registry always requests it as binary.
func decodeHexBytea(raw []byte) ([]byte, error) {
	s := string(raw)
	if len(s) < 2 || s[0] != '\\' || s[1] != 'x' {
		return nil, fmt.Errorf("types: unrecognized bytea text format %q", s)
	}
	return hex.DecodeString(s[2:])
}

func formatInt(value any) (string, error) {
	switch v := value.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", &ErrUnsupportedType{Value: value}
	}
}

func formatFloat(value any) (string, error) {
	switch v := value.(type) {
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64), nil
	default:
		return "", &ErrUnsupportedType{Value: value}
	}
}
