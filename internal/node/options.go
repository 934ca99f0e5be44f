package node

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultRetryAmount       = 5
	DefaultRetryDelay        = 10 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultClientName        = "lavasync"
)

// Options configures one node. Zero RetryDelay and HeartbeatInterval take
// the defaults and a negative HeartbeatInterval disables the heartbeat. A
// non-positive RequestTimeout disables the per-request deadline; the config
// package fills in DefaultRequestTimeout for nodes that leave it unset.
type Options struct {
	ID                     string
	Host                   string
	Port                   int
	Secure                 bool
	Authorization          string
	SessionID              string
	Regions                []string
	RetryAmount            int
	RetryDelay             time.Duration
	RequestTimeout         time.Duration
	HeartbeatInterval      time.Duration
	EnablePingOnStatsCheck bool
	// Resuming, when set, is PATCHed to the session after ready.
	Resuming *ResumeOptions
}

// ResumeOptions enables session resuming on the node.
type ResumeOptions struct {
	Timeout time.Duration
}

// Validate reports configuration errors. They are fatal and never retried.
func (o Options) Validate() error {
	var problems []string
	if strings.TrimSpace(o.Host) == "" {
		problems = append(problems, "host is required")
	}
	if o.Port <= 0 || o.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", o.Port))
	}
	if o.Secure && o.Port == 80 {
		problems = append(problems, "secure node cannot use port 80")
	}
	if o.Authorization == "" {
		problems = append(problems, "authorization is required")
	}
	if o.RetryAmount < 0 {
		problems = append(problems, "retry amount must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(problems, "; "))
	}
	return nil
}

// Key is the node identity used by the manager: the explicit id, else host:port.
func (o Options) Key() string {
	if o.ID != "" {
		return o.ID
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) withDefaults() Options {
	if o.RetryAmount == 0 {
		o.RetryAmount = DefaultRetryAmount
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	o.Regions = append([]string(nil), o.Regions...)
	return o
}

func (o Options) restBase() string {
	scheme := "http"
	if o.Secure {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) socketURL() string {
	scheme := "ws"
	if o.Secure {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(o.Host, strconv.Itoa(o.Port)) + "/v4/websocket"
}
