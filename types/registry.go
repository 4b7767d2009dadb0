package types

// Registry maps type OIDs to the Codec responsible for them. Every OID not
// explicitly registered falls back to the scalar/text codec, which is
// permissive enough to round-trip anything the wire sends as text.
type Registry struct {
	codecs  map[int32]Codec
	fallback Codec
}

// DefaultRegistry returns a Registry pre-populated with codecs for bool,
// int2/int4/int8, float4/float8, text/varchar/bpchar/unknown, and bytea.
func DefaultRegistry() *Registry {
	sc := scalarCodec{}
	return &Registry{
		codecs: map[int32]Codec{
			OIDBool:    sc,
			OIDInt2:    sc,
			OIDInt4:    sc,
			OIDInt8:    sc,
			OIDFloat4:  sc,
			OIDFloat8:  sc,
			OIDText:    sc,
			OIDVarchar: sc,
			OIDBPChar:  sc,
			OIDUnknown: sc,
			OIDBytea:   sc,
		},
		fallback: sc,
	}
}

// Register installs a codec for a specific OID, overriding any default.
func (r *Registry) Register(oid int32, c Codec) {
	r.codecs[oid] = c
}

// Lookup returns the codec for oid, falling back to the registry's default
// text-ish codec if none was registered for it.
func (r *Registry) Lookup(oid int32) Codec {
	if c, ok := r.codecs[oid]; ok {
		return c
	}
	return r.fallback
}

// ResultFormat reports the wire format a result column of the given OID
// should be requested in. Bytea is requested in binary, matching the
// built-in codec's own ToSql behavior for bytea parameters: PostgreSQL's
// text format for bytea is a hex-escaped string, not the raw payload, so
// requesting it as text would force every decode through an extra escape
// layer for no benefit. Everything else stays text, matching every other
// built-in codec's ToSql format.
func (r *Registry) ResultFormat(oid int32) Format {
	if oid == OIDBytea {
		return FormatBinary
	}
	return FormatText
}
