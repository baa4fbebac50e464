package esl

import (
	"fmt"
	"strings"
)

// OriginateRequest describes one outbound leg.
type OriginateRequest struct {
	CallID string
	// Number is the digits-only destination, country prefix included.
	Number string
	// BridgeURL is the inbound audio endpoint base; the call id is appended.
	BridgeURL string
}

func originateCommand(req OriginateRequest, gateway, techPrefix string) string {
	bridge := strings.TrimRight(req.BridgeURL, "/") + "/" + req.CallID
	metadata := fmt.Sprintf(`{\"uuid\":\"%s\"}`, req.CallID)
	return fmt.Sprintf(
		"bgapi originate {origination_uuid=%s,ignore_early_media=true,api_on_answer='uuid_audio_fork %s start %s mono 8000 %s'}sofia/gateway/%s/%s%s &park",
		req.CallID, req.CallID, bridge, metadata, gateway, techPrefix, req.Number,
	)
}

func broadcastCommand(channelID, path string) string {
	return fmt.Sprintf("api uuid_broadcast %s %s aleg", channelID, path)
}

func hangupCommand(channelID string) string {
	return "api uuid_kill " + channelID
}

func existsCommand(channelID string) string {
	return "api uuid_exists " + channelID
}

// commandName extracts the verb used for metrics and spans, e.g. "uuid_kill".
func commandName(cmd string) string {
	fields := strings.Fields(cmd)
	switch {
	case len(fields) == 0:
		return "unknown"
	case (fields[0] == "api" || fields[0] == "bgapi") && len(fields) > 1:
		return fields[1]
	default:
		return fields[0]
	}
}
