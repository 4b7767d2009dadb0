// Package types is the default type codec registry the core connection
// engine uses to turn Go values into wire parameters and wire column bytes
// back into Go values. The core only depends on the Codec interface; this
// package is the out-of-the-box implementation of it.
package types

import "fmt"

// Well-known type OIDs used by the built-in codecs. This is not an
// exhaustive pg_type dump, just the scalars common enough to ship by
// default; anything else round-trips through the unknown/text codec after
// its typname is resolved.
const (
	OIDBool    int32 = 16
	OIDBytea   int32 = 17
	OIDInt8    int32 = 20
	OIDInt2    int32 = 21
	OIDInt4    int32 = 23
	OIDText    int32 = 25
	OIDFloat4  int32 = 700
	OIDFloat8  int32 = 701
	OIDUnknown int32 = 705
	OIDBPChar  int32 = 1042
	OIDVarchar int32 = 1043
)

// Format identifies whether a value is encoded as text or the type's binary
// wire representation.
type Format int

const (
	FormatText Format = iota
	FormatBinary
)

// Codec encodes Go values to wire bytes for a given column/parameter type
// OID and decodes wire bytes back. Both directions receive a nil byte slice
// for SQL NULL; ToSql returns a nil slice to encode NULL.
type Codec interface {
	// ToSql encodes value for the given type OID.
	ToSql(oid int32, value any) (Format, []byte, error)
	// FromSql decodes raw (possibly nil) wire bytes for the given type OID.
	FromSql(oid int32, format Format, raw []byte) (any, error)
}

// ErrUnsupportedType is returned by a Codec asked to handle an OID or Go
// value shape it does not know.
type ErrUnsupportedType struct {
	OID   int32
	Value any
}

func (e *ErrUnsupportedType) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("types: no codec for OID %d and value of type %T", e.OID, e.Value)
	}
	return fmt.Sprintf("types: no codec for OID %d", e.OID)
}
