// Package realtime fans chat events out to connected WebSocket clients.
package realtime

import (
	"strings"

	"github.com/google/uuid"
	"github.com/tandem-social/tandem/internal/database/types"
)

// ChannelPrefix prefixes the Redis channel of every chat room.
const ChannelPrefix = "chat:"

// ChannelPattern matches every chat room channel.
const ChannelPattern = ChannelPrefix + "*"

// Channel returns the Redis channel of a chat room.
func Channel(chatID uuid.UUID) string {
	return ChannelPrefix + chatID.String()
}

// chatFromChannel extracts the room id from a channel name.
func chatFromChannel(channel string) (uuid.UUID, bool) {
	raw, ok := strings.CutPrefix(channel, ChannelPrefix)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

// Event is the envelope delivered to room members. Consumers upsert
// message payloads by id, so message.updated replaces a message.created.
type Event struct {
	Type    types.EventType `json:"type"`
	ChatID  uuid.UUID       `json:"chatId"`
	Payload any             `json:"payload"`
}

// Frame types exchanged with WebSocket clients.
const (
	FrameJoin        = "join"
	FrameLeave       = "leave"
	FrameSendMessage = "send_message"
	FrameJoined      = "joined"
	FrameLeft        = "left"
	FrameAck         = "ack"
	FrameError       = "error"
)

// InboundFrame is a command sent by a client.
type InboundFrame struct {
	Type   string       `json:"type"`
	ChatID uuid.UUID    `json:"chatId"`
	Ref    string       `json:"ref,omitempty"`
	Body   string       `json:"body,omitempty"`
	Media  *types.Media `json:"media,omitempty"`
	// MediaPending announces a follow-up that completes the media.
	MediaPending bool `json:"mediaPending,omitempty"`
}

// OutboundFrame answers a client command.
type OutboundFrame struct {
	Type    string         `json:"type"`
	ChatID  uuid.UUID      `json:"chatId"`
	Ref     string         `json:"ref,omitempty"`
	Message *types.Message `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
}
