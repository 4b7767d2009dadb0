package pgclient

import (
	"context"
	"crypto/tls"

	"github.com/mevdschee/pgclient/protocol"
	"github.com/mevdschee/pgclient/transport"
)

// CancelQuery asks the server to cancel whatever the connection identified
// by processID/secretKey is currently running. It opens its own short-lived
// connection to cfg's address, sends exactly one CancelRequest frame, and
// closes — the server never replies, by protocol design, so success can't
// be distinguished from "request delivered but query already finished".
func CancelQuery(ctx context.Context, cfg *Config, processID, secretKey int32, tlsConfig *tls.Config) error {
	t, err := transport.Dial("tcp", cfg.Addr(), cfg.SSLMode, tlsConfig)
	if err != nil {
		return wrapConnectError(ErrSocketError, "dial failed for cancel request", err)
	}
	defer t.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := t.SetDeadline(deadline); err != nil {
			return wrapConnectError(ErrSocketError, "failed to set deadline for cancel request", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := t.WriteFrame(protocol.CancelRequest(processID, secretKey)); err != nil {
		return wrapConnectError(ErrSocketError, "write CancelRequest failed", err)
	}
	if err := t.Flush(); err != nil {
		return wrapConnectError(ErrSocketError, "flush CancelRequest failed", err)
	}
	return nil
}
