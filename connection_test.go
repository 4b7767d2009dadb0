package pgclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/mevdschee/pgclient/internal/pgtest"
)

func dsnFor(t *testing.T, srv *pgtest.Server) string {
	t.Helper()
	return fmt.Sprintf("postgres://alice@%s/alice?sslmode=disable", srv.Addr())
}

func TestConnect_TrustAuth(t *testing.T) {
	srv, err := pgtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(context.Background(), dsnFor(t, srv))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	pid, secret := conn.CancelData()
	if pid == 0 || secret == 0 {
		t.Errorf("expected non-zero cancellation key, got pid=%d secret=%d", pid, secret)
	}
}

func TestConnect_MD5Auth(t *testing.T) {
	srv, err := pgtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()
	srv.SetAuthMD5()

	dsn := fmt.Sprintf("postgres://alice:secret@%s/alice?sslmode=disable", srv.Addr())
	conn, err := Connect(context.Background(), dsn)
	if err != nil {
		t.Fatalf("Connect with MD5 auth failed: %v", err)
	}
	defer conn.Close()
}

func TestConnect_MD5AuthMissingPassword(t *testing.T) {
	srv, err := pgtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()
	srv.SetAuthMD5()

	_, err = Connect(context.Background(), dsnFor(t, srv))
	if err == nil {
		t.Fatal("expected error connecting without a password when server requires MD5")
	}
	connErr, ok := err.(*ConnectError)
	if !ok || connErr.Kind != ErrMissingPassword {
		t.Errorf("expected ErrMissingPassword, got %v", err)
	}
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	srv, err := pgtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(context.Background(), dsnFor(t, srv))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
}

func TestConnect_RespectsContextDeadline(t *testing.T) {
	srv, err := pgtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err = Connect(ctx, dsnFor(t, srv))
	if err == nil {
		t.Fatal("expected error connecting with an already-expired deadline")
	}
}

func TestConn_NotificationDelivery(t *testing.T) {
	srv, err := pgtest.NewServer()
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Close()

	conn, err := Connect(context.Background(), dsnFor(t, srv))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer conn.Close()

	srv.OnQuery("LISTEN chan1", pgtest.Response{Tag: "LISTEN"})
	stmt, err := conn.Prepare(context.Background(), "LISTEN chan1")
	if err != nil {
		t.Fatalf("Prepare LISTEN failed: %v", err)
	}
	if _, err := stmt.Execute(context.Background()); err != nil {
		t.Fatalf("Execute LISTEN failed: %v", err)
	}
	stmt.Close()

	srv.QueueNotification(42, "chan1", "hello")

	srv.OnQuery("SELECT 1", pgtest.Response{Tag: "SELECT 1"})
	stmt2, err := conn.Prepare(context.Background(), "SELECT 1")
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	defer stmt2.Close()
	if _, err := stmt2.Execute(context.Background()); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	select {
	case n := <-conn.Notifications():
		if n.Channel != "chan1" || n.Payload != "hello" || n.PID != 42 {
			t.Errorf("unexpected notification: %+v", n)
		}
	default:
		t.Error("expected a queued notification")
	}
}
