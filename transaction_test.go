package pgclient

import (
	"context"
	"testing"

	"github.com/mevdschee/pgclient/internal/pgtest"
)

func TestTx_CommitByDefault(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("BEGIN", pgtest.Response{Tag: "BEGIN"})
	srv.OnQuery("COMMIT", pgtest.Response{Tag: "COMMIT"})

	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if !tx.WillCommit() {
		t.Error("expected commit to be the default outcome")
	}
	if err := tx.Finish(context.Background()); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
}

func TestTx_RollbackOnFailure(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("BEGIN", pgtest.Response{Tag: "BEGIN"})
	srv.OnQuery("INSERT INTO t VALUES (1)", pgtest.Response{
		ErrCode: "23505",
		ErrMsg:  "duplicate key value violates unique constraint",
	})
	srv.OnQuery("ROLLBACK", pgtest.Response{Tag: "ROLLBACK"})

	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	stmt, err := tx.Prepare(context.Background(), "INSERT INTO t VALUES (1)")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Close()

	if _, err := stmt.Execute(context.Background()); err == nil {
		t.Fatal("expected insert to fail")
	} else {
		tx.SetRollback()
	}

	if tx.WillCommit() {
		t.Error("expected rollback to be armed after a failed statement")
	}
	if err := tx.Finish(context.Background()); err != nil {
		t.Fatalf("Finish (rollback) failed: %v", err)
	}
}

func TestTx_NestedSavepointCommit(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("BEGIN", pgtest.Response{Tag: "BEGIN"})
	srv.OnQuery("SAVEPOINT sp", pgtest.Response{Tag: "SAVEPOINT"})
	srv.OnQuery("RELEASE sp", pgtest.Response{Tag: "RELEASE"})
	srv.OnQuery("COMMIT", pgtest.Response{Tag: "COMMIT"})

	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	nested, err := tx.Begin(context.Background())
	if err != nil {
		t.Fatalf("nested Begin failed: %v", err)
	}
	if err := nested.Commit(context.Background()); err != nil {
		t.Fatalf("nested Commit failed: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("outer Commit failed: %v", err)
	}
}

func TestTx_NestedSavepointRollback(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("BEGIN", pgtest.Response{Tag: "BEGIN"})
	srv.OnQuery("SAVEPOINT sp", pgtest.Response{Tag: "SAVEPOINT"})
	srv.OnQuery("ROLLBACK TO sp", pgtest.Response{Tag: "ROLLBACK"})
	srv.OnQuery("COMMIT", pgtest.Response{Tag: "COMMIT"})

	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	nested, err := tx.Begin(context.Background())
	if err != nil {
		t.Fatalf("nested Begin failed: %v", err)
	}
	if err := nested.Rollback(context.Background()); err != nil {
		t.Fatalf("nested Rollback failed: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("outer Commit failed: %v", err)
	}
}

func TestTx_ExecuteAndQueryDelegateToConnection(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("BEGIN", pgtest.Response{Tag: "BEGIN"})
	srv.OnQuery("INSERT INTO t VALUES (1)", pgtest.Response{Tag: "INSERT 0 1"})
	srv.OnQuery("SELECT id FROM t", pgtest.Response{
		Columns: []pgtest.Column{{Name: "id", OID: 23}},
		Rows:    [][]*string{{pgtest.Str("1")}},
		Tag:     "SELECT 1",
	})
	srv.OnQuery("COMMIT", pgtest.Response{Tag: "COMMIT"})

	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	n, err := tx.Execute(context.Background(), "INSERT INTO t VALUES (1)")
	if err != nil {
		t.Fatalf("Tx.Execute failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row affected, got %d", n)
	}

	rows, err := tx.Query(context.Background(), "SELECT id FROM t", 0)
	if err != nil {
		t.Fatalf("Tx.Query failed: %v", err)
	}
	row, ok, err := rows.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a row, got ok=%v err=%v", ok, err)
	}
	if id, _ := row.At(0); id != int32(1) {
		t.Errorf("expected id=1, got %v", id)
	}
	rows.Close()

	if tx.Notifications() == nil {
		t.Error("expected Tx.Notifications to return the connection's channel")
	}

	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
}

func TestTx_FinishIsIdempotent(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("BEGIN", pgtest.Response{Tag: "BEGIN"})
	srv.OnQuery("COMMIT", pgtest.Response{Tag: "COMMIT"})

	tx, err := conn.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("first Commit failed: %v", err)
	}
	if err := tx.Finish(context.Background()); err != nil {
		t.Fatalf("second Finish should be a no-op, got: %v", err)
	}
}
