// Package target provides the dual-channel actuation client for the
// controlled audio application. Acknowledged operations travel over a TCP
// request/response channel; high-frequency parameter writes go out as UDP
// datagrams with no delivery guarantee.
package target

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/livepilot/livepilot-go/pkg/liveproto"
)

// ErrConnectionFailed is returned after the reliable channel exhausts its
// retry budget. Callers treat it as fatal for that call.
var ErrConnectionFailed = errors.New("target: connection failed")

// TargetError is an application-level rejection from the Target
// (status:"error" response). It is never retried.
type TargetError struct {
	Op      string
	Message string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("target: %s rejected: %s", e.Op, e.Message)
}

// criticalPrefixes lists operation name prefixes that are always routed over
// the reliable channel: reads, deletions, and transport control.
var criticalPrefixes = []string{
	"get_",
	"query_",
	"delete_",
	"undo",
	"redo",
	"record",
	"stop_all",
}

// Config holds actuation client configuration.
type Config struct {
	Host           string
	TCPPort        int
	UDPPort        int
	Timeout        time.Duration // per-attempt round-trip budget
	MaxRetries     int
	InitialBackoff time.Duration // doubled on each retry
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() Config {
	return Config{
		Host:           liveproto.DefaultHost,
		TCPPort:        liveproto.DefaultTCPPort,
		UDPPort:        liveproto.DefaultUDPPort,
		Timeout:        2 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Client routes operations to the Target over the reliable or unreliable
// channel. It is safe for concurrent use.
type Client struct {
	mu  sync.Mutex
	cfg Config

	// Lazily dialed fire-and-forget socket.
	udpConn *net.UDPConn
}

// NewClient creates an actuation client. No sockets are opened until first use.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = liveproto.DefaultHost
	}
	if cfg.TCPPort <= 0 {
		cfg.TCPPort = liveproto.DefaultTCPPort
	}
	if cfg.UDPPort <= 0 {
		cfg.UDPPort = liveproto.DefaultUDPPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	return &Client{cfg: cfg}
}

// IsCritical reports whether an operation must use the reliable channel
// regardless of what the caller asked for.
func IsCritical(op string) bool {
	for _, p := range criticalPrefixes {
		if strings.HasPrefix(op, p) {
			return true
		}
	}
	return false
}

// Dispatch routes one operation by its class: critical operations and
// explicit reliable requests go through Call, everything else through Send.
// The result map is nil for fire-and-forget dispatches.
func (c *Client) Dispatch(ctx context.Context, op string, params map[string]interface{}, reliable bool) (map[string]interface{}, error) {
	if reliable || IsCritical(op) {
		return c.Call(ctx, op, params)
	}
	c.Send(op, params)
	return nil, nil
}

// Call sends one operation over the reliable channel and waits for the
// response. Transport errors and malformed responses are retried with
// doubling backoff; application-level rejections (*TargetError) are returned
// immediately.
func (c *Client) Call(ctx context.Context, op string, params map[string]interface{}) (map[string]interface{}, error) {
	var lastErr error
	backoff := c.cfg.InitialBackoff

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		result, err := c.callOnce(ctx, op, params)
		if err == nil {
			return result, nil
		}
		var te *TargetError
		if errors.As(err, &te) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %s after %d attempts: %v", ErrConnectionFailed, op, c.cfg.MaxRetries+1, lastErr)
}

// callOnce performs a single request/response exchange on a fresh connection.
// The Target's stream protocol does not tolerate long-lived idle sockets.
func (c *Client) callOnce(ctx context.Context, op string, params map[string]interface{}) (map[string]interface{}, error) {
	payload, err := liveproto.EncodeRequest(op, params)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(c.host(), strconv.Itoa(c.cfg.TCPPort))
	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	deadline := time.Now().Add(c.cfg.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("write %s: %w", op, err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", op, err)
	}

	resp, err := liveproto.DecodeResponse(line)
	if err != nil {
		// Malformed responses retry like transport errors.
		return nil, err
	}
	if resp.IsError() {
		return nil, &TargetError{Op: op, Message: resp.Message}
	}
	return resp.Result, nil
}

// Send fires one datagram on the unreliable channel. It never blocks on the
// Target, never retries, and has no failure surface; packet loss is the
// accepted cost of throughput.
func (c *Client) Send(op string, params map[string]interface{}) {
	payload, err := liveproto.EncodeRequest(op, params)
	if err != nil {
		log.Printf("⚠️  target: dropping unreliable %s: %v", op, err)
		return
	}

	conn, err := c.udpSocket()
	if err != nil {
		return
	}
	_, _ = conn.Write(payload)
}

// udpSocket lazily dials and caches the fire-and-forget socket.
func (c *Client) udpSocket() (*net.UDPConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.udpConn != nil {
		return c.udpConn, nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.UDPPort)))
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	c.udpConn = conn
	log.Printf("📡 Target unreliable channel ready (%s)", addr)
	return conn, nil
}

// ReloadHost updates the Target host and drops the cached datagram socket so
// the next Send redials.
func (c *Client) ReloadHost(host string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if host == "" || host == c.cfg.Host {
		return
	}
	log.Printf("🔄 Target host updated from %s to %s", c.cfg.Host, host)
	c.cfg.Host = host
	if c.udpConn != nil {
		_ = c.udpConn.Close()
		c.udpConn = nil
	}
}

// Host returns the current Target host.
func (c *Client) Host() string {
	return c.host()
}

func (c *Client) host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Host
}

// Close releases the cached datagram socket.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.udpConn != nil {
		_ = c.udpConn.Close()
		c.udpConn = nil
	}
}
