// Package chat connects a chat platform to the voice subsystem: it receives
// platform messages through an Adapter, parses dot-commands, and executes
// them against per-chat voice sessions.
package chat

import (
	"context"
	"time"
)

// Adapter is the interface platform-specific implementations must satisfy.
// Each adapter handles connection management, message sending/receiving, and
// attachment retrieval for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound messages from the platform.
	// The channel is closed when the context is cancelled or the adapter
	// is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundMessage, error)

	// Send delivers an outbound message to the platform.
	Send(ctx context.Context, msg OutboundMessage) error

	// DownloadAttachment fetches an attachment's bytes.
	DownloadAttachment(ctx context.Context, att Attachment) ([]byte, error)

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// InboundMessage represents a message received from the chat platform.
type InboundMessage struct {
	Platform   string      // e.g. "discord"
	ChatID     string      // voice-scope identifier (guild on Discord)
	ChannelID  string      // text channel the message arrived in
	MessageID  string      // platform-specific message identifier
	UserID     string      // platform-specific user identifier
	UserName   string      // human-readable username
	Text       string      // raw message text
	Attachment *Attachment // first attachment, nil if none
	Timestamp  time.Time   // when the message was sent
}

// OutboundMessage represents a message to be sent to the chat platform.
type OutboundMessage struct {
	ChatID    string // chat the reply belongs to
	ChannelID string // target text channel
	Text      string // message text (platform-native formatting)
}

// Attachment describes a file attached to an inbound message.
type Attachment struct {
	ID       string
	URL      string
	FileName string
	MimeType string
	Size     int
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
