package call

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/wolfman30/ligai/pkg/logging"
)

// ProfileSource supplies the prompt used when a call has none of its own.
type ProfileSource interface {
	ActiveProfile(ctx context.Context) (Profile, bool, error)
}

// maxAudioMessage caps a single websocket message from the audio fork.
const maxAudioMessage = 10 << 20

// Handler accepts the switch's audio fork connections on /ws/{channelID}.
type Handler struct {
	registry        *Registry
	pending         PendingStore
	profiles        ProfileSource
	svc             *Services
	upgrader        websocket.Upgrader
	firstMsgTimeout time.Duration
	readLimit       int64
	logger          *logging.Logger
}

func NewHandler(registry *Registry, pending PendingStore, profiles ProfileSource, svc *Services, firstMsgTimeout time.Duration, logger *logging.Logger) *Handler {
	if registry == nil || pending == nil {
		panic("call: registry and pending store are required")
	}
	if firstMsgTimeout <= 0 {
		firstMsgTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		registry: registry,
		pending:  pending,
		profiles: profiles,
		svc:      svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		firstMsgTimeout: firstMsgTimeout,
		readLimit:       maxAudioMessage,
		logger:          logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("audio websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.readLimit)
	h.serve(r.Context(), conn, chi.URLParam(r, "channelID"))
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, pathChannel string) {
	_ = conn.SetReadDeadline(time.Now().Add(h.firstMsgTimeout))
	msgType, first, err := conn.ReadMessage()
	if err != nil {
		h.logger.Error("no call metadata received", "channel_id", pathChannel, "error", err)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	var callID, channelID string
	var firstAudio []byte
	if msgType == websocket.TextMessage {
		callID, channelID = identify(pathChannel, first)
	} else {
		callID, channelID = identify(pathChannel, nil)
		firstAudio = first
	}
	if callID == "" {
		callID = NewID(time.Now())
		channelID = callID
	}

	sess, err := NewSession(h.resolve(ctx, callID, channelID), h.svc)
	if err != nil {
		h.logger.Error("building call session", "call_id", callID, "error", err)
		return
	}
	if err := h.registry.Add(sess); err != nil {
		h.logger.Warn("rejecting audio connection", "call_id", callID, "error", err)
		return
	}
	defer h.registry.Remove(sess)
	defer sess.Stop()

	if err := sess.Start(ctx); err != nil {
		h.logger.Error("starting call session", "call_id", callID, "error", err)
		return
	}
	go func() {
		<-sess.Done()
		_ = conn.Close()
	}()

	if len(firstAudio) > 0 {
		_ = sess.SendAudio(firstAudio)
	}
	h.readLoop(conn, sess)
}

func (h *Handler) readLoop(conn *websocket.Conn, sess *Session) {
	logger := h.logger.With("call_id", sess.CallID())
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("audio connection closed", "error", err)
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.SendAudio(data); err != nil {
				logger.Warn("forwarding audio failed", "error", err)
				return
			}
		case websocket.TextMessage:
			ev, err := DecodeControl(data)
			if err != nil {
				logger.Debug("ignoring control message", "error", err)
				continue
			}
			switch ev.Kind {
			case ControlHangup:
				logger.Info("switch ended the call")
				return
			case ControlDTMF:
				sess.HandleDTMF(ev.Digit)
			}
		}
	}
}

// resolve consumes the pending entry for callID, if any, and picks the
// prompt profile.
func (h *Handler) resolve(ctx context.Context, callID, channelID string) Params {
	p := Params{CallID: callID, ChannelID: channelID, Direction: Inbound}

	pending, err := h.pending.Take(ctx, callID)
	switch {
	case err == nil:
		p.Direction = Outbound
		p.Number = pending.Number
		if pending.Profile != nil {
			p.Profile = *pending.Profile
		}
	case !errors.Is(err, ErrPendingNotFound):
		h.logger.Warn("reading pending call", "call_id", callID, "error", err)
	}

	if p.Profile == (Profile{}) && h.profiles != nil {
		prof, ok, err := h.profiles.ActiveProfile(ctx)
		if err != nil {
			h.logger.Warn("loading active prompt", "call_id", callID, "error", err)
		} else if ok {
			p.Profile = prof
		}
	}
	return p
}
