package esl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/ligai/internal/observability/metrics"
	"github.com/wolfman30/ligai/pkg/logging"
)

// fakeSwitch accepts one connection per reply and records received commands.
type fakeSwitch struct {
	ln       net.Listener
	commands chan string
}

func startFakeSwitch(t *testing.T, authReply string, replies ...string) *fakeSwitch {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fs := &fakeSwitch{ln: ln, commands: make(chan string, len(replies)+1)}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for _, reply := range replies {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fs.serve(conn, authReply, reply)
		}
	}()
	return fs
}

func (fs *fakeSwitch) serve(conn net.Conn, authReply, reply string) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	_, _ = conn.Write([]byte("Content-Type: auth/request\n\n"))
	if _, err := readHeader(r); err != nil {
		return
	}
	_, _ = conn.Write([]byte(authReply))
	if !strings.Contains(authReply, "+OK") {
		return
	}
	cmd, err := readHeader(r)
	if err != nil {
		return
	}
	fs.commands <- strings.TrimSuffix(cmd, headerTerminator)
	_, _ = conn.Write([]byte(reply))
	// Hold the connection open so a reader that over-reads would block.
	time.Sleep(200 * time.Millisecond)
}

const authOK = "Content-Type: command/reply\nReply-Text: +OK accepted\n\n"

func newTestClient(t *testing.T, addr string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Addr:           addr,
		Password:       "ClueCon",
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		Gateway:        "ligai-trunk",
		TechPrefix:     "1290#",
	}, logging.New("error"))
	require.NoError(t, err)
	return c
}

func TestCommandReadsExactContentLengthBody(t *testing.T) {
	body := strings.Repeat("x", 38) + "+OK\n"
	require.Len(t, body, 42)
	header := "Content-Type: api/response\nContent-Length: 42\n\n"
	fs := startFakeSwitch(t, authOK, header+body+"trailing-garbage")

	res, err := newTestClient(t, fs.ln.Addr().String()).Command(context.Background(), "api status")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, header+body, res.Raw)
}

func TestCommandWithoutContentLengthReturnsHeaderOnly(t *testing.T) {
	header := "Content-Type: command/reply\nReply-Text: +OK Job-UUID: 1234\n\n"
	fs := startFakeSwitch(t, authOK, header)

	start := time.Now()
	res, err := newTestClient(t, fs.ln.Addr().String()).Command(context.Background(), "bgapi status")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, header, res.Raw)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestCommandErrReplyIsFailure(t *testing.T) {
	fs := startFakeSwitch(t, authOK, "Content-Type: api/response\nContent-Length: 20\n\n-ERR No such channel")

	res, err := newTestClient(t, fs.ln.Addr().String()).Hangup(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Contains(t, res.Raw, "-ERR")
}

func TestAuthFailureClosesWithoutCommand(t *testing.T) {
	fs := startFakeSwitch(t, "Content-Type: command/reply\nReply-Text: -ERR invalid\n\n", "unused")

	res, err := newTestClient(t, fs.ln.Addr().String()).Command(context.Background(), "api status")
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Raw)
	select {
	case cmd := <-fs.commands:
		t.Fatalf("command %q sent after failed auth", cmd)
	default:
	}
}

func TestDialFailureIsReportedAsResult(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	res, err := newTestClient(t, addr).Command(context.Background(), "api status")
	assert.Error(t, err)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Raw)
}

func TestOriginateCommandShape(t *testing.T) {
	fs := startFakeSwitch(t, authOK, "Content-Type: command/reply\nReply-Text: +OK Job-UUID: 42\n\n")

	res, err := newTestClient(t, fs.ln.Addr().String()).Originate(context.Background(), OriginateRequest{
		CallID:    "call-1700000000-deadbeef",
		Number:    "5511912345678",
		BridgeURL: "ws://127.0.0.1:8000/ws/",
	})
	require.NoError(t, err)
	assert.True(t, res.OK)

	cmd := <-fs.commands
	assert.Equal(t,
		`bgapi originate {origination_uuid=call-1700000000-deadbeef,ignore_early_media=true,api_on_answer='uuid_audio_fork call-1700000000-deadbeef start ws://127.0.0.1:8000/ws/call-1700000000-deadbeef mono 8000 {\"uuid\":\"call-1700000000-deadbeef\"}'}sofia/gateway/ligai-trunk/1290#5511912345678 &park`,
		cmd)
}

func TestBroadcastCommandShape(t *testing.T) {
	fs := startFakeSwitch(t, authOK, "Content-Type: api/response\nContent-Length: 16\n\n+OK Message sent")

	res, err := newTestClient(t, fs.ln.Addr().String()).Broadcast(context.Background(), "chan-1", "/var/lib/freeswitch/sounds/custom/tts_1.wav")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, "api uuid_broadcast chan-1 /var/lib/freeswitch/sounds/custom/tts_1.wav aleg", <-fs.commands)
}

func TestExists(t *testing.T) {
	fs := startFakeSwitch(t, authOK,
		"Content-Type: api/response\nContent-Length: 4\n\ntrue",
		"Content-Type: api/response\nContent-Length: 5\n\nfalse",
	)
	c := newTestClient(t, fs.ln.Addr().String())

	ok, err := c.Exists(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsRepliesCountAsSuccess(t *testing.T) {
	fs := startFakeSwitch(t, authOK,
		"Content-Type: api/response\nContent-Length: 4\n\ntrue",
		"Content-Type: api/response\nContent-Length: 5\n\nfalse",
		"Content-Type: api/response\nContent-Length: 20\n\n-ERR no such command",
	)
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	c, err := NewClient(Config{Addr: fs.ln.Addr().String(), Password: "ClueCon", ReadTimeout: time.Second},
		logging.NewWithWriter("debug", &logs), WithMetrics(metrics.NewCallMetrics(reg)))
	require.NoError(t, err)

	ok, err := c.Exists(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Exists(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, logs.String(), "esl command failed")

	_, err = c.Exists(context.Background(), "chan-1")
	assert.Error(t, err, "an unparseable reply must not read as a hung-up channel")

	assert.Equal(t, map[string]float64{"success": 2, "failure": 1}, eslOutcomes(t, reg, "uuid_exists"))
}

func eslOutcomes(t *testing.T, reg *prometheus.Registry, command string) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, f := range families {
		if f.GetName() != "ligai_esl_commands_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["command"] == command {
				out[labels["outcome"]] += m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func TestValidationRejectsBeforeDialing(t *testing.T) {
	dialed := false
	c, err := NewClient(Config{Addr: "127.0.0.1:1"}, logging.New("error"), WithDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialed = true
		return nil, errors.New("unexpected dial")
	}))
	require.NoError(t, err)

	_, err = c.Broadcast(context.Background(), "chan 1\n\napi uuid_kill x", "/tmp/a.wav")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = c.Hangup(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, dialed)
}

func TestNewClientRequiresAddr(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	assert.Error(t, err)
}

func TestCommandName(t *testing.T) {
	assert.Equal(t, "originate", commandName("bgapi originate {x}sofia/gateway/a/b &park"))
	assert.Equal(t, "uuid_kill", commandName("api uuid_kill abc"))
	assert.Equal(t, "status", commandName("status"))
	assert.Equal(t, "unknown", commandName(""))
}
