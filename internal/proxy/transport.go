package proxy

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	xproxy "golang.org/x/net/proxy"
)

// Transport returns an http.Transport that egresses through id. A nil id
// yields a direct transport.
func Transport(id *Identity, timeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}

	tr := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	if id == nil {
		tr.Proxy = http.ProxyFromEnvironment
		return tr, nil
	}

	switch id.protocol() {
	case "socks5":
		var auth *xproxy.Auth
		if id.Username != "" {
			auth = &xproxy.Auth{User: id.Username, Password: id.Password}
		}
		socks, err := xproxy.SOCKS5("tcp", id.Server, auth, dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer for %s: %w", id, err)
		}
		cd, ok := socks.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", id)
		}
		tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return cd.DialContext(ctx, network, addr)
		}
		// HTTP/2 negotiation is skipped for custom dialers
		tr.ForceAttemptHTTP2 = false
	default:
		tr.Proxy = http.ProxyURL(id.URL())
	}

	return tr, nil
}
