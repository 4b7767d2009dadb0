package pgclient

import (
	"context"
	"fmt"
)

// Tx is a server-side transaction or, when nested, a savepoint within one.
// Go has no destructor to run an implicit rollback on scope exit, so unlike
// a Drop-based equivalent, a Tx left unfinished simply leaves the
// transaction open on the connection; callers must call Commit or Rollback
// explicitly, typically via defer.
type Tx struct {
	conn      *Conn
	parent    *Tx
	savepoint string // only set when parent != nil

	commit bool // decision applied by Commit/Rollback/Finish; defaults true
	done   bool
}

// Begin starts a top-level transaction by issuing BEGIN.
func (c *Conn) Begin(ctx context.Context) (*Tx, error) {
	if err := c.execSimple(ctx, "BEGIN"); err != nil {
		return nil, err
	}
	return &Tx{conn: c, commit: true}, nil
}

// savepointName is the literal name used for every nested transaction level.
// PostgreSQL shadows same-named savepoints (the most recently defined one
// wins for RELEASE/ROLLBACK TO), which is exactly what makes a single literal
// name safe for the LIFO nesting this type enforces.
const savepointName = "sp"

// Begin starts a nested transaction by issuing SAVEPOINT sp. The returned
// Tx's Commit/Rollback map onto RELEASE/ROLLBACK TO rather than
// COMMIT/ROLLBACK.
func (tx *Tx) Begin(ctx context.Context) (*Tx, error) {
	if tx.done {
		return nil, fmt.Errorf("pgclient: Begin called on a finished transaction")
	}
	if err := tx.conn.execSimple(ctx, "SAVEPOINT "+savepointName); err != nil {
		return nil, err
	}
	return &Tx{conn: tx.conn, parent: tx, savepoint: savepointName, commit: true}, nil
}

// Prepare delegates to the underlying connection; prepared statements are
// connection-scoped, not transaction-scoped.
func (tx *Tx) Prepare(ctx context.Context, sql string) (*Statement, error) {
	return tx.conn.Prepare(ctx, sql)
}

// Execute prepares sql, runs it once for its side effects, closes the
// statement, and returns the affected-row count. A convenience for one-shot
// statements issued while a transaction is open.
func (tx *Tx) Execute(ctx context.Context, sql string, params ...any) (uint64, error) {
	stmt, err := tx.conn.Prepare(ctx, sql)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()
	return stmt.Execute(ctx, params...)
}

// Query prepares sql and opens a portal over it, bounded by rowLimit rows
// per batch. The caller is responsible for closing the returned Rows. The
// Statement prepared here is not closed by Query, by Rows.Close, or by the
// transaction's end; its server-side object stays allocated until the
// connection is closed.
func (tx *Tx) Query(ctx context.Context, sql string, rowLimit int32, params ...any) (*Rows, error) {
	stmt, err := tx.conn.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	return stmt.Query(ctx, rowLimit, params...)
}

// Notifications delegates to the underlying connection, so a caller can
// observe LISTEN/NOTIFY traffic while a transaction is open.
func (tx *Tx) Notifications() <-chan Notification {
	return tx.conn.Notifications()
}

// SetCommit arranges for Finish to commit (the default).
func (tx *Tx) SetCommit() {
	tx.commit = true
}

// SetRollback arranges for Finish to roll back instead of commit.
func (tx *Tx) SetRollback() {
	tx.commit = false
}

// WillCommit reports the outcome Finish will apply.
func (tx *Tx) WillCommit() bool {
	return tx.commit
}

// Commit ends the transaction/savepoint, committing regardless of any
// prior SetRollback call.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.commit = true
	return tx.finish(ctx)
}

// Rollback ends the transaction/savepoint, rolling back regardless of any
// prior SetCommit call.
func (tx *Tx) Rollback(ctx context.Context) error {
	tx.commit = false
	return tx.finish(ctx)
}

// Finish ends the transaction/savepoint per the outcome of the most recent
// SetCommit/SetRollback call (commit by default). It is the equivalent of
// letting a Drop-based transaction guard fall out of scope.
func (tx *Tx) Finish(ctx context.Context) error {
	return tx.finish(ctx)
}

func (tx *Tx) finish(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true

	var sql string
	switch {
	case tx.parent == nil && tx.commit:
		sql = "COMMIT"
	case tx.parent == nil && !tx.commit:
		sql = "ROLLBACK"
	case tx.parent != nil && tx.commit:
		sql = "RELEASE " + tx.savepoint
	default:
		sql = "ROLLBACK TO " + tx.savepoint
	}
	return tx.conn.execSimple(ctx, sql)
}
