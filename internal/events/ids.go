package events

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// chatMessageID extracts a stable identifier for a chat event so repeated
// delivery of the same message is deduplicated at the storage layer
// (InsertChatMessage uses ON CONFLICT (id) DO NOTHING). Twitch's
// channel.chat.message payload carries "message_id"; anything else falls
// back to a content hash, which is still stable across redeliveries of the
// same bytes.
func chatMessageID(raw []byte) string {
	var probe struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil {
		if probe.MessageID != "" {
			return probe.MessageID
		}
		if probe.ID != "" {
			return probe.ID
		}
	}
	return contentHash(raw)
}

// engagementEventID mirrors chatMessageID for follow/subscribe/channel-points
// payloads, which carry no single consistent id field across event kinds.
func engagementEventID(raw []byte) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err == nil && probe.ID != "" {
		return probe.ID
	}
	return contentHash(raw)
}

func contentHash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
