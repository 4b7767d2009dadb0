package pgclient

import (
	"fmt"

	"github.com/mevdschee/pgclient/protocol"
)

// ConnectErrorKind enumerates the connect-time error taxonomy.
type ConnectErrorKind int

const (
	ErrInvalidURL ConnectErrorKind = iota
	ErrMissingUser
	ErrMissingPassword
	ErrDNSError
	ErrSocketError
	ErrNoSSLSupport
	ErrSSLError
	ErrUnsupportedAuthentication
	ErrConnectDBError
)

func (k ConnectErrorKind) String() string {
	switch k {
	case ErrInvalidURL:
		return "invalid_url"
	case ErrMissingUser:
		return "missing_user"
	case ErrMissingPassword:
		return "missing_password"
	case ErrDNSError:
		return "dns_error"
	case ErrSocketError:
		return "socket_error"
	case ErrNoSSLSupport:
		return "no_ssl_support"
	case ErrSSLError:
		return "ssl_error"
	case ErrUnsupportedAuthentication:
		return "unsupported_authentication"
	case ErrConnectDBError:
		return "db_error"
	default:
		return "unknown"
	}
}

// ConnectError is returned by Connect for any failure prior to the
// connection reaching the Ready state.
type ConnectError struct {
	Kind    ConnectErrorKind
	Message string
	Inner   error    // set for ErrSSLError, ErrDNSError, ErrSocketError
	DBError *DBError // set for ErrConnectDBError
}

func (e *ConnectError) Error() string {
	if e.DBError != nil {
		return fmt.Sprintf("pgclient: connect: %s", e.DBError.Error())
	}
	if e.Inner != nil {
		return fmt.Sprintf("pgclient: connect: %s: %s: %v", e.Kind, e.Message, e.Inner)
	}
	return fmt.Sprintf("pgclient: connect: %s: %s", e.Kind, e.Message)
}

func (e *ConnectError) Unwrap() error {
	if e.DBError != nil {
		return e.DBError
	}
	return e.Inner
}

func newConnectError(kind ConnectErrorKind, msg string) *ConnectError {
	return &ConnectError{Kind: kind, Message: msg}
}

func wrapConnectError(kind ConnectErrorKind, msg string, inner error) *ConnectError {
	return &ConnectError{Kind: kind, Message: msg, Inner: inner}
}

// DBError is the structured error parsed from a backend ErrorResponse (or,
// when routed to a caller explicitly, a NoticeResponse).
type DBError struct {
	Severity string
	Code     string // SQLSTATE
	Message  string
	Detail   string
	Hint     string
	Position string
	Where    string
	File     string
	Line     string
	Routine  string
}

func (e *DBError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Severity, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Severity, e.Message)
}

// parseDBError builds a DBError from an ErrorResponse/NoticeResponse field list.
func parseDBError(fields []protocol.ErrorField) *DBError {
	e := &DBError{}
	for _, f := range fields {
		switch f.Type {
		case protocol.FieldSeverity:
			e.Severity = f.Value
		case protocol.FieldCode:
			e.Code = f.Value
		case protocol.FieldMessage:
			e.Message = f.Value
		case protocol.FieldDetail:
			e.Detail = f.Value
		case protocol.FieldHint:
			e.Hint = f.Value
		case protocol.FieldPosition:
			e.Position = f.Value
		case protocol.FieldWhere:
			e.Where = f.Value
		case protocol.FieldFile:
			e.File = f.Value
		case protocol.FieldLine:
			e.Line = f.Value
		case protocol.FieldRoutine:
			e.Routine = f.Value
		}
	}
	return e
}
