// Package proxy dials outbound NTCP2 connections through a SOCKS5 or HTTP
// CONNECT tunnel, for routers running behind a firewall that only permits
// outbound traffic via a local proxy (the "ntcp2.proxy"/"ntcp2.proxyaddress"/
// "ntcp2.proxyport" configuration options).
package proxy

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/textproto"
	"time"

	"github.com/samber/oops"
	"golang.org/x/net/proxy"
)

// Kind selects which tunneling protocol to use.
type Kind int

const (
	KindNone Kind = iota
	KindSOCKS5
	KindHTTPConnect
)

// Dialer wraps a proxy endpoint and dials target addresses through it.
type Dialer struct {
	kind          Kind
	proxyAddr     string
	contextDialer proxy.ContextDialer
}

// New builds a Dialer for the given kind and proxy address ("host:port").
// KindNone returns a Dialer that falls through to a direct net.Dialer, so
// callers don't need to special-case an unconfigured proxy.
func New(kind Kind, proxyAddr string) (*Dialer, error) {
	d := &Dialer{kind: kind, proxyAddr: proxyAddr}
	switch kind {
	case KindNone:
		return d, nil
	case KindSOCKS5:
		sd, err := proxy.SOCKS5("tcp", proxyAddr, nil, proxy.Direct)
		if err != nil {
			return nil, oops.Code("SOCKS5_DIALER_INIT_FAILED").In("proxy").Wrap(err)
		}
		cd, ok := sd.(proxy.ContextDialer)
		if !ok {
			return nil, oops.Code("SOCKS5_DIALER_NO_CONTEXT_SUPPORT").In("proxy").
				Errorf("SOCKS5 dialer does not implement DialContext")
		}
		d.contextDialer = cd
		return d, nil
	case KindHTTPConnect:
		return d, nil
	default:
		return nil, oops.Code("UNKNOWN_PROXY_KIND").In("proxy").
			With("kind", kind).Errorf("unrecognized proxy kind")
	}
}

// DialContext connects to addr, tunneling through the configured proxy.
func (d *Dialer) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	switch d.kind {
	case KindNone:
		var nd net.Dialer
		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, oops.Code("DIRECT_DIAL_FAILED").In("proxy").With("addr", addr).Wrap(err)
		}
		return conn, nil
	case KindSOCKS5:
		conn, err := d.contextDialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, oops.Code("SOCKS5_DIAL_FAILED").In("proxy").With("addr", addr).Wrap(err)
		}
		return conn, nil
	case KindHTTPConnect:
		return d.dialHTTPConnect(ctx, addr)
	default:
		return nil, oops.Code("UNKNOWN_PROXY_KIND").In("proxy").
			With("kind", d.kind).Errorf("unrecognized proxy kind")
	}
}

// dialHTTPConnect opens a TCP connection to the proxy and issues an HTTP
// CONNECT request for addr, returning the tunneled connection once the
// proxy answers 200. There is no widely used standalone CONNECT-tunnel
// client library in the ecosystem (net/http's own transport only exposes
// CONNECT indirectly through its own dialer internals), so this writes the
// request by hand and reads the response with bufio and net/textproto.
func (d *Dialer) dialHTTPConnect(ctx context.Context, addr string) (net.Conn, error) {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", d.proxyAddr)
	if err != nil {
		return nil, oops.Code("HTTP_CONNECT_DIAL_FAILED").In("proxy").With("proxy_addr", d.proxyAddr).Wrap(err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "CONNECT %s HTTP/1.1\r\nHost: %s\r\n\r\n", addr, addr); err != nil {
		_ = conn.Close()
		return nil, oops.Code("HTTP_CONNECT_REQUEST_FAILED").In("proxy").Wrap(err)
	}

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		_ = conn.Close()
		return nil, oops.Code("HTTP_CONNECT_RESPONSE_FAILED").In("proxy").Wrap(err)
	}
	if len(line) < 12 || line[9:12] != "200" {
		_ = conn.Close()
		return nil, oops.Code("HTTP_CONNECT_REJECTED").In("proxy").
			With("status_line", line).Errorf("HTTP CONNECT proxy did not return 200")
	}
	tp := textproto.NewReader(reader)
	if _, err := tp.ReadMIMEHeader(); err != nil {
		_ = conn.Close()
		return nil, oops.Code("HTTP_CONNECT_HEADERS_FAILED").In("proxy").Wrap(err)
	}

	_ = conn.SetDeadline(time.Time{})
	return conn, nil
}
