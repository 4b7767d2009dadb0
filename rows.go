package pgclient

import (
	"context"
	"fmt"
	"time"

	"github.com/mevdschee/pgclient/metrics"
	"github.com/mevdschee/pgclient/protocol"
)

// Rows is a portal-backed, batched, lazily fetched row iterator. Only one
// Rows may be active per Statement at a time.
type Rows struct {
	conn       *Conn
	stmt       *Statement
	portalName string
	rowLimit   int32

	pending  [][][]byte
	moreRows bool
	closed   bool
	err      error
}

// Query opens a portal over the statement with the given parameters and
// streams up to rowLimit rows per fetch (0 means fetch everything in the
// first Execute, with no PortalSuspended ever observed).
func (s *Statement) Query(ctx context.Context, rowLimit int32, params ...any) (*Rows, error) {
	if len(params) != len(s.paramTypes) {
		panic(fmt.Sprintf("pgclient: Query: got %d parameters, statement expects %d", len(params), len(s.paramTypes)))
	}

	c := s.conn
	c.mu.Lock()
	defer func() {
		// Query holds the mutex only for its own Bind/Execute/Sync round
		// trip; the caller's later Rows.Next/Close calls each re-acquire it.
		c.mu.Unlock()
	}()

	if err := c.applyDeadline(ctx); err != nil {
		return nil, err
	}
	defer c.clearDeadline()

	start := time.Now()
	defer func() {
		metrics.QueryLatency.WithLabelValues("query").Observe(time.Since(start).Seconds())
	}()
	metrics.QueriesTotal.WithLabelValues("query").Inc()

	paramFormats, paramValues, err := s.encodeParams(params)
	if err != nil {
		return nil, err
	}
	resultFormats := s.resultFormats()

	portalName := s.nextPortalName()
	r := &Rows{conn: c, stmt: s, portalName: portalName, rowLimit: rowLimit}

	if err := c.t.WriteFrame(protocol.Bind(portalName, s.name, paramFormats, paramValues, resultFormats)); err != nil {
		return nil, err
	}
	if err := c.t.WriteFrame(protocol.Execute(portalName, rowLimit)); err != nil {
		return nil, err
	}
	if err := c.t.WriteFrame(protocol.Sync()); err != nil {
		return nil, err
	}
	if err := c.t.Flush(); err != nil {
		return nil, err
	}

	f, err := c.readMessage()
	if err != nil {
		return nil, err
	}
	if f.Tag == protocol.TagErrorResponse {
		dberr := parseDBError(protocol.ParseErrorFields(f.Body))
		_ = c.waitForReady()
		return nil, dberr
	}
	if f.Tag != protocol.TagBindComplete {
		_ = c.waitForReady()
		return nil, fmt.Errorf("pgclient: unexpected message %q, expected BindComplete", f.Tag)
	}

	if err := r.readRows(); err != nil {
		return nil, err
	}

	metrics.PortalsOpenedTotal.Inc()
	return r, nil
}

// readRows consumes DataRow frames into the pending FIFO until
// PortalSuspended, CommandComplete, or EmptyQueryResponse, then waits for
// ReadyForQuery. Caller holds conn.mu.
func (r *Rows) readRows() error {
	c := r.conn
	for {
		f, err := c.readMessage()
		if err != nil {
			return err
		}
		switch f.Tag {
		case protocol.TagDataRow:
			r.pending = append(r.pending, protocol.ParseDataRow(f.Body))
		case protocol.TagPortalSuspended:
			r.moreRows = true
			return c.waitForReady()
		case protocol.TagCommandComplete, protocol.TagEmptyQueryResponse:
			r.moreRows = false
			return c.waitForReady()
		case protocol.TagErrorResponse:
			dberr := parseDBError(protocol.ParseErrorFields(f.Body))
			_ = c.waitForReady()
			return dberr
		default:
			_ = c.waitForReady()
			return fmt.Errorf("pgclient: unexpected message %q while reading rows", f.Tag)
		}
	}
}

// Next returns the next row, fetching another batch via Execute+Sync if the
// pending FIFO is empty and the portal has more rows. It returns
// (nil, false, nil) once the result set is exhausted.
func (r *Rows) Next(ctx context.Context) (*Row, bool, error) {
	if r.closed {
		return nil, false, fmt.Errorf("pgclient: Next called on closed Rows")
	}
	if r.err != nil {
		return nil, false, r.err
	}

	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(r.pending) == 0 && r.moreRows {
		if err := c.applyDeadline(ctx); err != nil {
			return nil, false, err
		}
		defer c.clearDeadline()

		if err := c.t.WriteFrame(protocol.Execute(r.portalName, r.rowLimit)); err != nil {
			r.err = err
			return nil, false, err
		}
		if err := c.t.WriteFrame(protocol.Sync()); err != nil {
			r.err = err
			return nil, false, err
		}
		if err := c.t.Flush(); err != nil {
			r.err = err
			return nil, false, err
		}
		if err := r.readRows(); err != nil {
			r.err = err
			return nil, false, err
		}
	}

	if len(r.pending) == 0 {
		return nil, false, nil
	}

	values := r.pending[0]
	r.pending = r.pending[1:]
	return &Row{values: values, columns: r.stmt.columns, registry: c.registry}, true, nil
}

// Close releases the portal via Close('P')+Sync. Best-effort on I/O error,
// matching the connection's general drop-path contract.
func (r *Rows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	c := r.conn
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.t.WriteFrame(protocol.Close(protocol.TargetPortal, r.portalName)); err != nil {
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
