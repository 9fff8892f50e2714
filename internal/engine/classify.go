package engine

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"
)

var browserConnectionErrors = []string{
	"net::ERR_PROXY_CONNECTION_FAILED",
	"net::ERR_TUNNEL_CONNECTION_FAILED",
	"net::ERR_PROXY_AUTH",
	"net::ERR_NO_SUPPORTED_PROXIES",
	"net::ERR_CONNECTION_REFUSED",
	"net::ERR_CONNECTION_RESET",
	"net::ERR_CONNECTION_CLOSED",
	"net::ERR_CONNECTION_TIMED_OUT",
	"net::ERR_TIMED_OUT",
	"net::ERR_SOCKS_CONNECTION_FAILED",
	"net::ERR_EMPTY_RESPONSE",
}

// IsConnectionError reports whether err looks like a failure of the egress
// path (proxy, dial, connect timeout, refused or reset) rather than of the
// target server's answer.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" || opErr.Op == "proxyconnect" || opErr.Op == "socks connect" {
			return true
		}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return true
	}

	msg := err.Error()
	if strings.Contains(msg, "proxyconnect") || strings.Contains(msg, "socks connect") {
		return true
	}
	for _, marker := range browserConnectionErrors {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
