package ami

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/followup-call-service/internal/config"
	apperrors "github.com/acme/followup-call-service/pkg/errors"
	"github.com/acme/followup-call-service/pkg/logger"
)

// Client maintains one authenticated session to the telephony manager. All
// outbound actions are serialized through Send and correlated by ActionID;
// inbound events are republished on a single ordered stream.
type Client struct {
	cfg config.ManagerConfig
	log *logger.Logger

	mu      sync.Mutex
	conn    net.Conn
	writer  *bufio.Writer
	pending map[string]chan Response
	closed  bool
	lastErr error

	events chan Event
}

// NewClient constructs an unconnected client.
func NewClient(cfg config.ManagerConfig, log *logger.Logger) *Client {
	return &Client{
		cfg:     cfg,
		log:     log,
		pending: make(map[string]chan Response),
		events:  make(chan Event, 256),
	}
}

// Connect dials the manager and authenticates. A transport failure yields
// ErrUnavailable so the caller can keep running in degraded mode and retry
// later; it is not fatal.
func (c *Client) Connect(ctx context.Context) error {
	dialTimeout := c.cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.cfg.Port))
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: manager dial %s: %v", apperrors.ErrUnavailable, addr, err)
	}

	reader := bufio.NewReader(conn)
	// The manager greets with a single banner line before framing starts.
	if _, err := reader.ReadString('\n'); err != nil {
		conn.Close()
		return fmt.Errorf("%w: manager banner: %v", apperrors.ErrUnavailable, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.writer = bufio.NewWriter(conn)
	if c.closed {
		// A previous session ended and closed its stream; later sessions
		// publish on a fresh one.
		c.events = make(chan Event, 256)
	}
	c.closed = false
	c.lastErr = nil
	events := c.events
	c.mu.Unlock()

	go c.readLoop(reader, events)

	login := Action{
		Name: "Login",
		Fields: map[string]string{
			"Username": c.cfg.Username,
			"Secret":   c.cfg.Password,
		},
	}
	if _, err := c.Send(ctx, login); err != nil {
		c.teardown(fmt.Errorf("login: %w", err))
		return fmt.Errorf("%w: manager login: %v", apperrors.ErrUnavailable, err)
	}

	c.log.Info("manager session established", zap.String("addr", addr))
	return nil
}

// Connected reports whether a live session exists.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.closed
}

// Events exposes the inbound event stream. The channel preserves arrival
// order and is closed when the session ends; closure is the disconnect
// signal the dispatcher reacts to. Reconnecting replaces the stream, so
// callers re-fetch it after each Connect.
func (c *Client) Events() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Err returns the error that terminated the session, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Send issues an action and waits for the correlated response. Responses
// are matched by ActionID, never by issue order, so concurrent senders are
// safe. A manager "Error" response surfaces as ErrActionRejected, a missing
// response within the action timeout as ErrActionTimeout.
func (c *Client) Send(ctx context.Context, action Action) (Response, error) {
	actionID := uuid.NewString()
	respCh := make(chan Response, 1)

	c.mu.Lock()
	if c.conn == nil || c.closed {
		c.mu.Unlock()
		return Response{}, apperrors.ErrConnectionClosed
	}
	c.pending[actionID] = respCh
	err := writeFrame(c.writer, action, actionID)
	c.mu.Unlock()

	if err != nil {
		c.unregister(actionID)
		c.teardown(err)
		return Response{}, fmt.Errorf("%w: write %s: %v", apperrors.ErrConnectionClosed, action.Name, err)
	}

	timeout := c.cfg.ActionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-respCh:
		if !ok {
			return Response{}, apperrors.ErrConnectionClosed
		}
		if !resp.Success {
			return resp, fmt.Errorf("%w: %s: %s", apperrors.ErrActionRejected, action.Name, resp.Message)
		}
		return resp, nil
	case <-timer.C:
		c.unregister(actionID)
		return Response{}, fmt.Errorf("%w: %s", apperrors.ErrActionTimeout, action.Name)
	case <-ctx.Done():
		c.unregister(actionID)
		return Response{}, ctx.Err()
	}
}

// Close releases the session. Outstanding requests fail with
// ErrConnectionClosed.
func (c *Client) Close() {
	c.teardown(nil)
}

// readLoop owns the inbound side of the session. It closes the event stream
// on exit, which is how connection loss surfaces to the dispatcher.
func (c *Client) readLoop(reader *bufio.Reader, events chan Event) {
	defer close(events)
	for {
		fields, err := readFrame(reader)
		if err != nil {
			c.teardown(err)
			return
		}
		if len(fields) == 0 {
			continue
		}

		if actionID, ok := fields["ActionID"]; ok && fields["Response"] != "" {
			resp := Response{
				Success: fields["Response"] == "Success",
				Message: fields["Message"],
				Fields:  fields,
			}
			c.mu.Lock()
			ch, found := c.pending[actionID]
			delete(c.pending, actionID)
			c.mu.Unlock()
			if found {
				ch <- resp
			}
			continue
		}

		if name, ok := fields["Event"]; ok {
			events <- Event{Name: name, Fields: fields}
			continue
		}

		c.log.Debug("manager frame ignored", zap.Any("fields", fields))
	}
}

func (c *Client) unregister(actionID string) {
	c.mu.Lock()
	delete(c.pending, actionID)
	c.mu.Unlock()
}

// teardown closes the connection once and fails every in-flight request.
// The read loop notices the closed socket and shuts the event stream down.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.lastErr = cause
	conn := c.conn
	pending := c.pending
	c.pending = make(map[string]chan Response)
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, ch := range pending {
		close(ch)
	}

	if cause != nil {
		c.log.Warn("manager session lost", zap.Error(cause))
	}
}
