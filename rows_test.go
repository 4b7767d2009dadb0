package pgclient

import (
	"context"
	"testing"

	"github.com/mevdschee/pgclient/internal/pgtest"
	"github.com/mevdschee/pgclient/types"
)

func TestRows_SelectWithNull(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("SELECT id, name FROM t", pgtest.Response{
		Columns: []pgtest.Column{
			{Name: "id", OID: types.OIDInt4},
			{Name: "name", OID: types.OIDText},
		},
		Rows: [][]*string{
			{pgtest.Str("1"), pgtest.Str("alice")},
			{pgtest.Str("2"), nil},
		},
		Tag: "SELECT 2",
	})

	stmt, err := conn.Prepare(context.Background(), "SELECT id, name FROM t")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	var got []struct {
		id   int32
		name any
	}
	for {
		row, ok, err := rows.Next(context.Background())
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if !ok {
			break
		}
		idVal, err := row.At(0)
		if err != nil {
			t.Fatalf("decode id: %v", err)
		}
		nameVal, err := row.Get("name")
		if err != nil {
			t.Fatalf("decode name: %v", err)
		}
		got = append(got, struct {
			id   int32
			name any
		}{idVal.(int32), nameVal})
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	if got[0].id != 1 || got[0].name != "alice" {
		t.Errorf("unexpected row 0: %+v", got[0])
	}
	if got[1].id != 2 || got[1].name != nil {
		t.Errorf("expected NULL name in row 1, got %+v", got[1])
	}
}

func TestRows_EmptyResultSet(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("SELECT id FROM t WHERE false", pgtest.Response{
		Columns: []pgtest.Column{{Name: "id", OID: types.OIDInt4}},
		Tag:     "SELECT 0",
	})

	stmt, err := conn.Prepare(context.Background(), "SELECT id FROM t WHERE false")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	_, ok, err := rows.Next(context.Background())
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if ok {
		t.Error("expected no rows")
	}
}

func TestRow_AtOutOfRangePanics(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("SELECT id FROM t", pgtest.Response{
		Columns: []pgtest.Column{{Name: "id", OID: types.OIDInt4}},
		Rows:    [][]*string{{pgtest.Str("1")}},
		Tag:     "SELECT 1",
	})

	stmt, err := conn.Prepare(context.Background(), "SELECT id FROM t")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	row, ok, err := rows.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a row, got ok=%v err=%v", ok, err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on out-of-range column index")
		}
	}()
	row.At(5)
}

func TestRow_GetUnknownColumnPanics(t *testing.T) {
	conn, srv := newTestConn(t)
	srv.OnQuery("SELECT id FROM t", pgtest.Response{
		Columns: []pgtest.Column{{Name: "id", OID: types.OIDInt4}},
		Rows:    [][]*string{{pgtest.Str("1")}},
		Tag:     "SELECT 1",
	})

	stmt, err := conn.Prepare(context.Background(), "SELECT id FROM t")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt.Close()

	rows, err := stmt.Query(context.Background(), 0)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	defer rows.Close()

	row, ok, err := rows.Next(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a row, got ok=%v err=%v", ok, err)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic on unknown column name")
		}
	}()
	row.Get("nonexistent")
}
