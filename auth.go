package pgclient

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/mevdschee/pgclient/metrics"
	"github.com/mevdschee/pgclient/protocol"
)

// authenticate drives the AuthenticationXxx exchange following the server's
// requested method, using the MD5 composition
// `"md5" || hex(md5(hex(md5(password||user)) || salt))`.
func (c *Conn) authenticate(cfg *Config) error {
	f, err := c.t.ReadFrame()
	if err != nil {
		return wrapConnectError(ErrSocketError, "read failed awaiting authentication request", err)
	}
	switch f.Tag {
	case protocol.TagErrorResponse:
		dberr := parseDBError(protocol.ParseErrorFields(f.Body))
		return &ConnectError{Kind: ErrConnectDBError, Message: "authentication failed", DBError: dberr}
	case protocol.TagAuthentication:
		// fall through below
	default:
		return wrapConnectError(ErrSocketError, fmt.Sprintf("expected authentication request, got %q", f.Tag), nil)
	}

	r := protocol.NewReader(f.Body)
	switch code := r.Int32(); code {
	case protocol.AuthOK:
		return nil
	case protocol.AuthCleartextPassword:
		if !cfg.HasPassword {
			metrics.AuthFailuresTotal.WithLabelValues("cleartext").Inc()
			return newConnectError(ErrMissingPassword, "server requested cleartext password but none was provided")
		}
		if err := c.sendPasswordAndExpectOK(cfg.Password); err != nil {
			metrics.AuthFailuresTotal.WithLabelValues("cleartext").Inc()
			return err
		}
		return nil
	case protocol.AuthMD5Password:
		salt := r.Remaining()
		if !cfg.HasPassword {
			metrics.AuthFailuresTotal.WithLabelValues("md5").Inc()
			return newConnectError(ErrMissingPassword, "server requested MD5 password but none was provided")
		}
		hashed := md5PasswordMessage(cfg.User, cfg.Password, salt)
		if err := c.sendPasswordAndExpectOK(hashed); err != nil {
			metrics.AuthFailuresTotal.WithLabelValues("md5").Inc()
			return err
		}
		return nil
	case protocol.AuthKerberosV5, protocol.AuthSCMCredential, protocol.AuthGSS, protocol.AuthSSPI:
		metrics.AuthFailuresTotal.WithLabelValues("unsupported").Inc()
		return newConnectError(ErrUnsupportedAuthentication, fmt.Sprintf("authentication method %d is not supported", code))
	default:
		metrics.AuthFailuresTotal.WithLabelValues("unknown").Inc()
		return newConnectError(ErrUnsupportedAuthentication, fmt.Sprintf("unknown authentication method %d", code))
	}
}

// md5PasswordMessage computes "md5" || hex(md5(hex(md5(password||user)) || salt)).
func md5PasswordMessage(user, password string, salt []byte) string {
	inner := md5Hex([]byte(password + user))
	outer := md5Hex(append([]byte(inner), salt...))
	return "md5" + outer
}

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func (c *Conn) sendPasswordAndExpectOK(password string) error {
	if err := c.t.WriteFrame(protocol.PasswordMessage(password)); err != nil {
		return wrapConnectError(ErrSocketError, "write PasswordMessage failed", err)
	}
	if err := c.t.Flush(); err != nil {
		return wrapConnectError(ErrSocketError, "flush PasswordMessage failed", err)
	}
	f, err := c.t.ReadFrame()
	if err != nil {
		return wrapConnectError(ErrSocketError, "read failed awaiting authentication result", err)
	}
	switch f.Tag {
	case protocol.TagAuthentication:
		r := protocol.NewReader(f.Body)
		if r.Int32() != protocol.AuthOK {
			return newConnectError(ErrUnsupportedAuthentication, "unexpected authentication continuation after password")
		}
		return nil
	case protocol.TagErrorResponse:
		dberr := parseDBError(protocol.ParseErrorFields(f.Body))
		return &ConnectError{Kind: ErrConnectDBError, Message: "authentication rejected", DBError: dberr}
	default:
		return wrapConnectError(ErrSocketError, fmt.Sprintf("unexpected message %q after password", f.Tag), nil)
	}
}
