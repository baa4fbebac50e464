// Package esl is a minimal client for the switch's event-socket control port.
package esl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/pkg/logging"
)

var (
	// ErrAuthFailed is returned when the auth reply lacks +OK.
	ErrAuthFailed = errors.New("esl: authentication failed")
	// ErrInvalidArgument is returned before any network call for malformed input.
	ErrInvalidArgument = errors.New("esl: invalid argument")
)

var eslTracer = otel.Tracer("ligai.internal.esl")

const (
	defaultConnectTimeout = 5 * time.Second
	defaultReadTimeout    = 10 * time.Second
)

// Config holds control-port settings.
type Config struct {
	Addr           string
	Password       string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Gateway        string
	TechPrefix     string
}

// Result is the outcome of one command. Raw holds header and body text, or
// the transport error text when the exchange never completed.
type Result struct {
	OK  bool
	Raw string
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Option customizes a Client.
type Option func(*Client)

// WithMetrics records command outcomes.
func WithMetrics(m *metrics.CallMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithDialer overrides the TCP dialer.
func WithDialer(d dialFunc) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

// Client opens a fresh authenticated connection per command.
type Client struct {
	cfg     Config
	dial    dialFunc
	logger  *logging.Logger
	metrics *metrics.CallMetrics
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, logger *logging.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("esl: address is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	dialer := &net.Dialer{}
	c := &Client{
		cfg:    cfg,
		dial:   dialer.DialContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Originate asks the switch to dial req.Number and fork its audio to req.BridgeURL.
func (c *Client) Originate(ctx context.Context, req OriginateRequest) (Result, error) {
	if err := validToken("call id", req.CallID); err != nil {
		return Result{Raw: err.Error()}, err
	}
	if err := validToken("number", req.Number); err != nil {
		return Result{Raw: err.Error()}, err
	}
	if err := validToken("bridge url", req.BridgeURL); err != nil {
		return Result{Raw: err.Error()}, err
	}
	return c.Command(ctx, originateCommand(req, c.cfg.Gateway, c.cfg.TechPrefix))
}

// Broadcast plays the file at path on channelID's A-leg.
func (c *Client) Broadcast(ctx context.Context, channelID, path string) (Result, error) {
	if err := validToken("channel id", channelID); err != nil {
		return Result{Raw: err.Error()}, err
	}
	if err := validToken("path", path); err != nil {
		return Result{Raw: err.Error()}, err
	}
	return c.Command(ctx, broadcastCommand(channelID, path))
}

// Hangup force-terminates channelID.
func (c *Client) Hangup(ctx context.Context, channelID string) (Result, error) {
	if err := validToken("channel id", channelID); err != nil {
		return Result{Raw: err.Error()}, err
	}
	return c.Command(ctx, hangupCommand(channelID))
}

// Exists reports whether the switch still knows channelID. The api reply
// body is a bare "true" or "false" without +OK, so it has its own success rule.
func (c *Client) Exists(ctx context.Context, channelID string) (bool, error) {
	if err := validToken("channel id", channelID); err != nil {
		return false, err
	}
	res, err := c.run(ctx, existsCommand(channelID), existsReply)
	if err != nil {
		return false, err
	}
	if !res.OK {
		return false, fmt.Errorf("esl: unexpected uuid_exists reply %q", truncate(replyBody(res.Raw), 80))
	}
	return strings.EqualFold(replyBody(res.Raw), "true"), nil
}

// Command runs one raw command. The returned error is informational; callers
// branch on Result.OK.
func (c *Client) Command(ctx context.Context, cmd string) (Result, error) {
	return c.run(ctx, cmd, succeeded)
}

func (c *Client) run(ctx context.Context, cmd string, ok func(raw string) bool) (Result, error) {
	name := commandName(cmd)
	ctx, span := eslTracer.Start(ctx, "esl.command")
	defer span.End()
	span.SetAttributes(
		attribute.String("esl.command", name),
		attribute.String("esl.addr", c.cfg.Addr),
	)

	raw, err := c.exchange(ctx, cmd)
	res := Result{OK: err == nil && ok(raw), Raw: raw}
	if err != nil {
		if res.Raw == "" {
			res.Raw = err.Error()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.Bool("esl.ok", res.OK))
	c.metrics.ObserveESLCommand(name, res.OK)

	if res.OK {
		c.logger.Debug("esl command succeeded", "command", name)
	} else {
		c.logger.Warn("esl command failed", "command", name, "response", truncate(res.Raw, 200), "error", err)
	}
	return res, err
}

func (c *Client) exchange(ctx context.Context, cmd string) (string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	conn, err := c.dial(dialCtx, "tcp", c.cfg.Addr)
	if err != nil {
		return "", fmt.Errorf("esl: dial %s: %w", c.cfg.Addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	r := bufio.NewReader(conn)
	if err := c.arm(ctx, conn); err != nil {
		return "", err
	}
	if _, err := readHeader(r); err != nil {
		return "", fmt.Errorf("esl: read banner: %w", err)
	}

	if err := c.send(ctx, conn, "auth "+c.cfg.Password); err != nil {
		return "", err
	}
	auth, err := readHeader(r)
	if err != nil {
		return "", fmt.Errorf("esl: read auth reply: %w", err)
	}
	if !strings.Contains(auth, "+OK") {
		return "", ErrAuthFailed
	}

	if err := c.send(ctx, conn, cmd); err != nil {
		return "", err
	}
	raw, err := readFrame(r)
	if err != nil {
		return raw, fmt.Errorf("esl: read reply: %w", err)
	}
	return raw, nil
}

func (c *Client) send(ctx context.Context, conn net.Conn, line string) error {
	if err := c.arm(ctx, conn); err != nil {
		return err
	}
	if _, err := conn.Write([]byte(line + headerTerminator)); err != nil {
		return fmt.Errorf("esl: write: %w", err)
	}
	return nil
}

// arm refreshes the I/O deadline unless ctx is already done.
func (c *Client) arm(ctx context.Context, conn net.Conn) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("esl: %w", err)
	}
	deadline := time.Now().Add(c.cfg.ReadTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return conn.SetDeadline(deadline)
}

func validToken(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidArgument, field)
	}
	if strings.ContainsAny(v, " \t\r\n") {
		return fmt.Errorf("%w: %s contains whitespace", ErrInvalidArgument, field)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
