package call

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ControlKind is a recognized text control message from the switch.
type ControlKind int

const (
	ControlHangup ControlKind = iota + 1
	ControlDTMF
)

var (
	ErrUnknownControlEvent = errors.New("call: unknown control event")
	ErrMalformedControl    = errors.New("call: malformed control message")
)

// ControlEvent is a decoded control message. Digit is set for ControlDTMF.
type ControlEvent struct {
	Kind  ControlKind
	Digit string
}

type controlMessage struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Digit string `json:"digit"`
}

// DecodeControl parses a text frame received after the first message.
func DecodeControl(data []byte) (ControlEvent, error) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ControlEvent{}, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	kind := msg.Type
	if kind == "" {
		kind = msg.Event
	}
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "disconnect", "hangup", "stop":
		return ControlEvent{Kind: ControlHangup}, nil
	case "dtmf":
		return ControlEvent{Kind: ControlDTMF, Digit: msg.Digit}, nil
	default:
		return ControlEvent{}, fmt.Errorf("%w: %q", ErrUnknownControlEvent, kind)
	}
}

type firstMessage struct {
	UUID   string `json:"uuid"`
	CallID string `json:"call_id"`
}

// identify resolves the call and channel ids from the connection path and
// the first text frame, which is JSON metadata or a bare id.
func identify(pathChannel string, text []byte) (callID, channelID string) {
	pathChannel = strings.Trim(strings.TrimSpace(pathChannel), "/")
	channelID = pathChannel

	var meta firstMessage
	if len(text) > 0 {
		if err := json.Unmarshal(text, &meta); err == nil {
			callID = firstNonEmpty(meta.UUID, meta.CallID, pathChannel)
			if channelID == "" {
				channelID = meta.UUID
			}
		} else {
			callID = firstNonEmpty(pathChannel, strings.TrimSpace(string(text)))
		}
	} else {
		callID = pathChannel
	}
	if channelID == "" {
		channelID = callID
	}
	return callID, channelID
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
