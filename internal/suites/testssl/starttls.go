package testssl

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"time"
)

// Dialer opens the plain connection a TLS handshake is run on. Mail servers
// need the SMTP STARTTLS exchange first.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

func directDialer(timeout time.Duration) Dialer {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
}

func smtpDialer(timeout time.Duration, heloName string) Dialer {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		if err := startTLS(conn, timeout, heloName); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// startTLS runs the SMTP exchange up to the point where the server expects a
// TLS ClientHello. The connection is left without a deadline.
func startTLS(conn net.Conn, timeout time.Duration, heloName string) error {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	text := textproto.NewConn(conn)

	if _, _, err := text.ReadResponse(220); err != nil {
		return fmt.Errorf("smtp banner: %w", err)
	}
	if err := text.PrintfLine("EHLO %s", heloName); err != nil {
		return err
	}
	if _, _, err := text.ReadResponse(250); err != nil {
		return fmt.Errorf("smtp ehlo: %w", err)
	}
	if err := text.PrintfLine("STARTTLS"); err != nil {
		return err
	}
	if _, _, err := text.ReadResponse(220); err != nil {
		return fmt.Errorf("smtp starttls: %w", err)
	}
	return conn.SetDeadline(time.Time{})
}
