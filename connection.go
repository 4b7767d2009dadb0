// Package pgclient is a native client driver for the PostgreSQL v3
// frontend/backend wire protocol: it dials (optionally TLS-wrapped) TCP,
// authenticates, prepares and executes statements with typed parameters,
// streams result rows through server-side portals, and manages
// transactions with nested savepoints.
package pgclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mevdschee/pgclient/metrics"
	"github.com/mevdschee/pgclient/protocol"
	"github.com/mevdschee/pgclient/transport"
	"github.com/mevdschee/pgclient/types"
	"github.com/mevdschee/tqmemory/pkg/tqmemory"
)

// NoticeHandler is invoked for every NoticeResponse frame absorbed by the
// message multiplexer. The default logs at info level via the standard
// library logger. It runs while the connection's internal mutex is held —
// do not call back into the same *Conn from within it.
type NoticeHandler func(*DBError)

// Conn is a single, serially-used connection to a PostgreSQL-compatible
// server. It is safe to share across goroutines: every public method takes
// the connection's internal mutex for its duration, so concurrent callers
// are serialized rather than corrupting shared buffers — but a handler may
// not re-enter the same Conn while holding it (see NoticeHandler).
type Conn struct {
	mu sync.Mutex

	t      *transport.Transport
	closed bool

	nextStatementID uint64

	processID int32
	secretKey int32

	notifications chan Notification
	noticeHandler NoticeHandler

	registry  *types.Registry
	typeNames *tqmemory.ShardedCache // oid (decimal string) -> typname

	cfg *Config
}

// oidNameCacheTTL is effectively permanent: a type's name never changes for
// the lifetime of a connection, so entries are given a long TTL rather than
// an exact "never expire" (not part of tqmemory's contract); eviction under
// memory pressure only costs a redundant pg_type round trip.
const oidNameCacheTTL = 365 * 24 * time.Hour

// ConnectOption customizes Connect.
type ConnectOption func(*connectOptions)

type connectOptions struct {
	tlsConfig     *tls.Config
	registry      *types.Registry
	noticeHandler NoticeHandler
}

// WithTLSConfig supplies the *tls.Config used when SSLMode requires
// negotiating TLS. Hostname verification, certificates, and the rest of the
// TLS context are the caller's responsibility.
func WithTLSConfig(cfg *tls.Config) ConnectOption {
	return func(o *connectOptions) { o.tlsConfig = cfg }
}

// WithTypeRegistry overrides the default type codec registry.
func WithTypeRegistry(r *types.Registry) ConnectOption {
	return func(o *connectOptions) { o.registry = r }
}

// WithNoticeHandler installs a handler for NoticeResponse frames.
func WithNoticeHandler(h NoticeHandler) ConnectOption {
	return func(o *connectOptions) { o.noticeHandler = h }
}

func defaultNoticeHandler(e *DBError) {
	log.Printf("pgclient: notice: %s", e.Error())
}

// Connect dials dsn, negotiates TLS per its sslmode, and drives the startup
// and authentication handshake. ctx's deadline, if any, bounds the startup
// and authentication exchange; the TCP dial and the SslRequest negotiation
// run before it is applied and are not bounded by ctx.
func Connect(ctx context.Context, dsn string, opts ...ConnectOption) (*Conn, error) {
	cfg, err := ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	return ConnectConfig(ctx, cfg, opts...)
}

// ConnectConfig is Connect for a pre-parsed Config.
func ConnectConfig(ctx context.Context, cfg *Config, opts ...ConnectOption) (*Conn, error) {
	o := &connectOptions{noticeHandler: defaultNoticeHandler}
	for _, opt := range opts {
		opt(o)
	}

	t, err := transport.Dial("tcp", cfg.Addr(), cfg.SSLMode, o.tlsConfig)
	if err != nil {
		metrics.ConnectErrorsTotal.WithLabelValues("socket").Inc()
		if err == transport.ErrNoSSLSupport {
			return nil, newConnectError(ErrNoSSLSupport, "server declined SSL and sslmode=require")
		}
		return nil, wrapConnectError(ErrSocketError, "dial failed", err)
	}

	registry := o.registry
	if registry == nil {
		registry = types.DefaultRegistry()
	}
	tqcfg := tqmemory.DefaultConfig()
	store, cerr := tqmemory.NewSharded(tqcfg, 1)
	if cerr != nil {
		t.Close()
		return nil, wrapConnectError(ErrSocketError, "failed to allocate type-name cache", cerr)
	}

	c := &Conn{
		t:             t,
		notifications: make(chan Notification, NotificationQueueCapacity),
		noticeHandler: o.noticeHandler,
		registry:      registry,
		typeNames:     store,
		cfg:           cfg,
	}

	if err := c.applyDeadline(ctx); err != nil {
		t.Close()
		return nil, wrapConnectError(ErrSocketError, "invalid context", err)
	}
	defer c.clearDeadline()

	if err := c.startup(cfg); err != nil {
		t.Close()
		return nil, err
	}

	metrics.ConnectsTotal.Inc()
	return c, nil
}

// applyDeadline bounds the next blocking read/write batch by ctx's
// deadline, if any.
func (c *Conn) applyDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	return c.t.SetDeadline(deadline)
}

func (c *Conn) clearDeadline() {
	_ = c.t.SetDeadline(time.Time{})
}

func (c *Conn) startup(cfg *Config) error {
	frame := protocol.StartupMessage(cfg.StartupParams())
	if err := c.t.WriteFrame(frame); err != nil {
		return wrapConnectError(ErrSocketError, "write StartupMessage failed", err)
	}
	if err := c.t.Flush(); err != nil {
		return wrapConnectError(ErrSocketError, "flush StartupMessage failed", err)
	}

	if err := c.authenticate(cfg); err != nil {
		return err
	}

	for {
		f, err := c.t.ReadFrame()
		if err != nil {
			return wrapConnectError(ErrSocketError, "read failed waiting for ReadyForQuery", err)
		}
		switch f.Tag {
		case protocol.TagBackendKeyData:
			c.processID, c.secretKey = protocol.ParseBackendKeyData(f.Body)
		case protocol.TagParameterStatus:
			// discarded without logging, same as every later ParameterStatus.
		case protocol.TagReadyForQuery:
			return nil
		case protocol.TagErrorResponse:
			dberr := parseDBError(protocol.ParseErrorFields(f.Body))
			return &ConnectError{Kind: ErrConnectDBError, Message: "startup failed", DBError: dberr}
		case protocol.TagNoticeResponse:
			c.noticeHandler(parseDBError(protocol.ParseErrorFields(f.Body)))
		default:
			return wrapConnectError(ErrSocketError, fmt.Sprintf("unexpected message %q during startup", f.Tag), nil)
		}
	}
}

// readMessage is the message multiplexer chokepoint: every higher-level
// read goes through here so NoticeResponse, NotificationResponse, and
// ParameterStatus frames are absorbed transparently regardless of where in
// the extended-query sub-protocol they arrive.
func (c *Conn) readMessage() (protocol.Frame, error) {
	for {
		f, err := c.t.ReadFrame()
		if err != nil {
			return protocol.Frame{}, err
		}
		switch f.Tag {
		case protocol.TagNoticeResponse:
			c.noticeHandler(parseDBError(protocol.ParseErrorFields(f.Body)))
		case protocol.TagNotificationResp:
			metrics.NotificationsReceivedTotal.Inc()
			pid, channel, payload := protocol.ParseNotificationResponse(f.Body)
			c.enqueueNotification(Notification{PID: pid, Channel: channel, Payload: payload})
		case protocol.TagParameterStatus:
			// discarded; the reported parameter is not logged.
		default:
			return f, nil
		}
	}
}

// waitForReady drains frames until ReadyForQuery, per the Sync/ReadyForQuery
// fence. It is called on every error path and after every extended-query
// batch.
func (c *Conn) waitForReady() error {
	for {
		f, err := c.readMessage()
		if err != nil {
			return err
		}
		if f.Tag == protocol.TagReadyForQuery {
			return nil
		}
	}
}

// Close sends Terminate best-effort and closes the transport. Safe to call
// more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.t != nil {
		if err := c.t.WriteFrame(protocol.Terminate()); err == nil {
			_ = c.t.Flush()
		}
		return c.t.Close()
	}
	return nil
}

// CancelData returns the cancellation key captured during startup, for use
// with CancelQuery.
func (c *Conn) CancelData() (processID, secretKey int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processID, c.secretKey
}

// Config returns the Config this connection was established with.
func (c *Conn) Config() *Config {
	return c.cfg
}

func (c *Conn) nextStatementName() string {
	c.nextStatementID++
	return fmt.Sprintf("statement_%d", c.nextStatementID)
}

// execSimple runs sql through the simple-query sub-protocol for its side
// effects only, taking the connection mutex and applying ctx's deadline for
// its duration. Used for BEGIN/COMMIT/ROLLBACK/SAVEPOINT statements issued
// directly by Tx.
func (c *Conn) execSimple(ctx context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.applyDeadline(ctx); err != nil {
		return err
	}
	defer c.clearDeadline()
	return c.simpleExec(sql)
}

// resolveTypeName looks up the textual typname for oid, querying `pg_type`
// and caching the result on first use. It must be called with c.mu held and
// the connection otherwise idle (Ready).
func (c *Conn) resolveTypeName(oid int32) (string, error) {
	key := fmt.Sprintf("%d", oid)
	if v, _, _, err := c.typeNames.Get(key); err == nil && v != nil {
		return string(v), nil
	}

	rows, err := c.simpleQueryRows(fmt.Sprintf("SELECT typname FROM pg_type WHERE oid=%d", oid))
	if err != nil {
		return "", err
	}
	name := ""
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] != nil {
		name = string(rows[0][0])
	}
	c.typeNames.Set(key, []byte(name), oidNameCacheTTL)
	return name, nil
}

// simpleQueryRows runs sql through the simple-query sub-protocol and
// returns every DataRow's raw column values. Used only for internal
// bookkeeping queries (pg_type lookups); application queries always go
// through the extended-query/statement path.
func (c *Conn) simpleQueryRows(sql string) ([][][]byte, error) {
	if err := c.t.WriteFrame(protocol.Query(sql)); err != nil {
		return nil, err
	}
	if err := c.t.Flush(); err != nil {
		return nil, err
	}

	var rows [][][]byte
	for {
		f, err := c.readMessage()
		if err != nil {
			return nil, err
		}
		switch f.Tag {
		case protocol.TagRowDescription:
			// column layout not needed by the caller.
		case protocol.TagDataRow:
			rows = append(rows, protocol.ParseDataRow(f.Body))
		case protocol.TagCommandComplete, protocol.TagEmptyQueryResponse:
			// fall through to ReadyForQuery
		case protocol.TagErrorResponse:
			dberr := parseDBError(protocol.ParseErrorFields(f.Body))
			_ = c.waitForReady()
			return nil, dberr
		case protocol.TagReadyForQuery:
			return rows, nil
		default:
			return nil, fmt.Errorf("pgclient: unexpected message %q during simple query", f.Tag)
		}
	}
}

// simpleExec runs sql through the simple-query sub-protocol for its side
// effects only (BEGIN/COMMIT/ROLLBACK/SAVEPOINT).
func (c *Conn) simpleExec(sql string) error {
	if err := c.t.WriteFrame(protocol.Query(sql)); err != nil {
		return err
	}
	if err := c.t.Flush(); err != nil {
		return err
	}
	for {
		f, err := c.readMessage()
		if err != nil {
			return err
		}
		switch f.Tag {
		case protocol.TagCommandComplete, protocol.TagRowDescription, protocol.TagDataRow, protocol.TagEmptyQueryResponse:
			// ignore; wait for ReadyForQuery.
		case protocol.TagErrorResponse:
			dberr := parseDBError(protocol.ParseErrorFields(f.Body))
			_ = c.waitForReady()
			return dberr
		case protocol.TagReadyForQuery:
			return nil
		default:
			return fmt.Errorf("pgclient: unexpected message %q during simple exec", f.Tag)
		}
	}
}
