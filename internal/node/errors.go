package node

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Sentinel errors for errors.Is checks at the boundary.
	ErrInvalidOptions    = errors.New("node: invalid options")
	ErrNoSession         = errors.New("node: no session id yet")
	ErrDestroyed         = errors.New("node: destroyed")
	ErrNotConnected      = errors.New("node: not connected")
	ErrNoNodes           = errors.New("node: no connected node available")
	ErrUnknownNode       = errors.New("node: unknown node")
	ErrUnauthorized      = errors.New("node: authorization rejected")
	ErrNotFound          = errors.New("node: resource not found")
	ErrBadRequest        = errors.New("node: request rejected")
	ErrServer            = errors.New("node: server error (5xx)")
	ErrTransport         = errors.New("node: host unreachable or transport failure")
	ErrTimeout           = errors.New("node: request timed out")
	ErrBadResponse       = errors.New("node: invalid response body")
	ErrInfoUnavailable   = errors.New("node: info endpoint unavailable")
	ErrReconnectFailed   = errors.New("node: reconnect attempts exhausted")
	ErrHeartbeatTimeout  = errors.New("node: heartbeat timed out")
	ErrPluginUnavailable = errors.New("node: required plugin not installed")
)

// RequestError wraps a sentinel with the failed REST call.
type RequestError struct {
	Sentinel error
	Method   string
	Path     string
	Status   int
	Header   http.Header
	Body     string
	Err      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("node: %s %s: %v", e.Method, e.Path, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Body != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Body)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RequestError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Sentinel, e.Err}
	}
	return []error{e.Sentinel}
}

func sentinelForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}
