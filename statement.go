package pgclient

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mevdschee/pgclient/metrics"
	"github.com/mevdschee/pgclient/protocol"
	"github.com/mevdschee/pgclient/types"
)

// ParamType describes one prepared-statement parameter's type: its OID as
// reported by ParameterDescription, decorated with a resolved typname when
// the OID was unknown to the registry.
type ParamType struct {
	OID  int32
	Name string // only set when OID is outside the built-in OID set
}

// ColumnDescription describes one result column: its name and type.
type ColumnDescription struct {
	Name     string
	OID      int32
	TypeName string // resolved typname, only set for OIDs outside the built-in OID set
}

// Statement is a server-side prepared statement. It is bound to the Conn
// that created it and must not outlive it; Close releases the server-side
// object.
type Statement struct {
	conn *Conn
	name string
	sql  string

	paramTypes []ParamType
	columns    []ColumnDescription

	nextPortalID uint64
	closed       bool
}

// Prepare allocates a fresh statement name and issues Parse+Describe('S')+
// Sync, then resolves any unknown parameter/result type names via pg_type.
func (c *Conn) Prepare(ctx context.Context, sql string) (*Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyDeadline(ctx); err != nil {
		return nil, err
	}
	defer c.clearDeadline()

	name := c.nextStatementName()
	stmt := &Statement{conn: c, name: name, sql: sql}

	if err := c.t.WriteFrame(protocol.Parse(name, sql, nil)); err != nil {
		return nil, err
	}
	if err := c.t.WriteFrame(protocol.Describe(protocol.TargetStatement, name)); err != nil {
		return nil, err
	}
	if err := c.t.WriteFrame(protocol.Sync()); err != nil {
		return nil, err
	}
	if err := c.t.Flush(); err != nil {
		return nil, err
	}

	if err := stmt.readPrepareReply(); err != nil {
		return nil, err
	}

	if err := stmt.resolveUnknownTypes(); err != nil {
		return nil, err
	}

	metrics.StatementsPreparedTotal.Inc()
	return stmt, nil
}

func (s *Statement) readPrepareReply() error {
	c := s.conn

	f, err := c.readMessage()
	if err != nil {
		return err
	}
	switch f.Tag {
	case protocol.TagParseComplete:
	case protocol.TagErrorResponse:
		dberr := parseDBError(protocol.ParseErrorFields(f.Body))
		_ = c.waitForReady()
		return dberr
	default:
		_ = c.waitForReady()
		return fmt.Errorf("pgclient: unexpected message %q after Parse", f.Tag)
	}

	f, err = c.readMessage()
	if err != nil {
		return err
	}
	if f.Tag != protocol.TagParameterDesc {
		_ = c.waitForReady()
		return fmt.Errorf("pgclient: unexpected message %q, expected ParameterDescription", f.Tag)
	}
	for _, oid := range protocol.ParseParameterDescription(f.Body) {
		s.paramTypes = append(s.paramTypes, ParamType{OID: oid})
	}

	f, err = c.readMessage()
	if err != nil {
		return err
	}
	switch f.Tag {
	case protocol.TagRowDescription:
		for _, fd := range protocol.ParseRowDescription(f.Body) {
			s.columns = append(s.columns, ColumnDescription{Name: fd.Name, OID: fd.TypeOID})
		}
	case protocol.TagNoData:
		// no result columns; still must drain to ReadyForQuery below.
	default:
		_ = c.waitForReady()
		return fmt.Errorf("pgclient: unexpected message %q, expected RowDescription or NoData", f.Tag)
	}

	// Every Parse/Describe/Sync batch ends with waitForReady regardless of
	// whether NoData or RowDescription was seen: Sync is always emitted and
	// always awaited.
	return c.waitForReady()
}

// resolveUnknownTypes fetches typname for every parameter/result OID outside
// the built-in set that DefaultRegistry covers, caching the lookup on the
// connection. The set is fixed: codecs added through Registry.Register or a
// custom registry do not change which OIDs are looked up.
func (s *Statement) resolveUnknownTypes() error {
	c := s.conn
	known := func(oid int32) bool {
		switch oid {
		case types.OIDBool, types.OIDInt2, types.OIDInt4, types.OIDInt8,
			types.OIDFloat4, types.OIDFloat8, types.OIDText, types.OIDVarchar,
			types.OIDBPChar, types.OIDUnknown, types.OIDBytea:
			return true
		}
		return false
	}
	for i, p := range s.paramTypes {
		if known(p.OID) || p.OID == 0 {
			continue
		}
		name, err := c.resolveTypeName(p.OID)
		if err != nil {
			return err
		}
		s.paramTypes[i].Name = name
	}
	for i, col := range s.columns {
		if known(col.OID) {
			continue
		}
		name, err := c.resolveTypeName(col.OID)
		if err != nil {
			return err
		}
		s.columns[i].TypeName = name
	}
	return nil
}

// ParamTypes returns the statement's parameter type OIDs in order.
func (s *Statement) ParamTypes() []ParamType {
	return s.paramTypes
}

// Columns returns the statement's result column descriptions in order.
func (s *Statement) Columns() []ColumnDescription {
	return s.columns
}

// SQL returns the statement's source text.
func (s *Statement) SQL() string {
	return s.sql
}

func (s *Statement) nextPortalName() string {
	s.nextPortalID++
	return fmt.Sprintf("%s_portal_%d", s.name, s.nextPortalID)
}

// Execute runs the statement once via Bind/Execute(max_rows=0)/Sync and
// returns the number of rows affected, parsed from CommandComplete. It is
// the non-streaming path; use Query for row results.
func (s *Statement) Execute(ctx context.Context, params ...any) (uint64, error) {
	if len(params) != len(s.paramTypes) {
		panic(fmt.Sprintf("pgclient: Execute: got %d parameters, statement expects %d", len(params), len(s.paramTypes)))
	}

	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.applyDeadline(ctx); err != nil {
		return 0, err
	}
	defer c.clearDeadline()

	start := time.Now()
	defer func() {
		metrics.QueryLatency.WithLabelValues("execute").Observe(time.Since(start).Seconds())
	}()
	metrics.QueriesTotal.WithLabelValues("execute").Inc()

	paramFormats, paramValues, err := s.encodeParams(params)
	if err != nil {
		return 0, err
	}
	resultFormats := s.resultFormats()

	if err := c.t.WriteFrame(protocol.Bind("", s.name, paramFormats, paramValues, resultFormats)); err != nil {
		return 0, err
	}
	if err := c.t.WriteFrame(protocol.Execute("", 0)); err != nil {
		return 0, err
	}
	if err := c.t.WriteFrame(protocol.Sync()); err != nil {
		return 0, err
	}
	if err := c.t.Flush(); err != nil {
		return 0, err
	}

	f, err := c.readMessage()
	if err != nil {
		return 0, err
	}
	if f.Tag == protocol.TagErrorResponse {
		dberr := parseDBError(protocol.ParseErrorFields(f.Body))
		_ = c.waitForReady()
		return 0, dberr
	}
	if f.Tag != protocol.TagBindComplete {
		_ = c.waitForReady()
		return 0, fmt.Errorf("pgclient: unexpected message %q, expected BindComplete", f.Tag)
	}

	var rowsAffected uint64
	for {
		f, err := c.readMessage()
		if err != nil {
			return 0, err
		}
		switch f.Tag {
		case protocol.TagDataRow:
			// ignored on the non-streaming path.
		case protocol.TagCommandComplete:
			rowsAffected = parseCommandTag(string(trimNul(f.Body)))
		case protocol.TagEmptyQueryResponse:
			rowsAffected = 0
		case protocol.TagErrorResponse:
			dberr := parseDBError(protocol.ParseErrorFields(f.Body))
			_ = c.waitForReady()
			return 0, dberr
		case protocol.TagReadyForQuery:
			return rowsAffected, nil
		default:
			_ = c.waitForReady()
			return 0, fmt.Errorf("pgclient: unexpected message %q during Execute", f.Tag)
		}
	}
}

// Close releases the server-side statement object via Close('S')+Sync.
// Best-effort: I/O errors are swallowed, matching the connection's general
// drop-path contract.
func (s *Statement) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	c := s.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.t.WriteFrame(protocol.Close(protocol.TargetStatement, s.name)); err != nil {
		return nil
	}
	if err := c.t.WriteFrame(protocol.Sync()); err != nil {
		return nil
	}
	if err := c.t.Flush(); err != nil {
		return nil
	}
	_ = c.waitForReady()
	return nil
}

func (s *Statement) encodeParams(params []any) ([]int16, [][]byte, error) {
	formats := make([]int16, len(params))
	values := make([][]byte, len(params))
	registry := s.conn.registry
	for i, p := range params {
		oid := int32(0)
		if i < len(s.paramTypes) {
			oid = s.paramTypes[i].OID
		}
		codec := registry.Lookup(oid)
		format, bytes, err := codec.ToSql(oid, p)
		if err != nil {
			return nil, nil, fmt.Errorf("pgclient: encoding parameter %d: %w", i+1, err)
		}
		formats[i] = int16(format)
		values[i] = bytes
	}
	return formats, values, nil
}

func (s *Statement) resultFormats() []int16 {
	formats := make([]int16, len(s.columns))
	registry := s.conn.registry
	for i, col := range s.columns {
		formats[i] = int16(registry.ResultFormat(col.OID))
	}
	return formats
}

// parseCommandTag parses a CommandComplete tag's last whitespace-separated
// token as an unsigned decimal integer, defaulting to 0 on parse failure.
func parseCommandTag(tag string) uint64 {
	fields := strings.Fields(tag)
	if len(fields) == 0 {
		return 0
	}
	n, err := strconv.ParseUint(fields[len(fields)-1], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func trimNul(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return b[:len(b)-1]
	}
	return b
}
