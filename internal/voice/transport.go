// Package voice implements the per-chat voice session lifecycle: the state
// machine that governs which playback commands are legal, the registry that
// maps chat ids to sessions, and the preparation pipeline that turns a
// source (URL or local file) into a transport-ready raw PCM artifact.
package voice

import "context"

// Transport is the capability interface to the external voice-call engine.
// Each session holds its presence against this interface and never a
// concrete engine type. Every call may fail; failures are wrapped into
// TransportError at the session boundary.
type Transport interface {
	// Join connects the bot to the chat's live voice channel.
	Join(ctx context.Context, chatID string) error

	// Leave disconnects from the chat's voice channel and releases the
	// engine-side call object.
	Leave(ctx context.Context, chatID string) error

	// SetInput installs a raw PCM artifact as the active playout input
	// for the chat and starts playing it from the beginning.
	SetInput(ctx context.Context, chatID, artifactPath string) error

	// StopPlayout halts playback without leaving the channel.
	StopPlayout(ctx context.Context, chatID string) error

	// PausePlayout suspends playback at the current position.
	PausePlayout(ctx context.Context, chatID string) error

	// ResumePlayout continues playback after PausePlayout.
	ResumePlayout(ctx context.Context, chatID string) error

	// RestartPlayout rewinds the current input to the beginning and plays.
	RestartPlayout(ctx context.Context, chatID string) error

	// SetMute toggles outgoing audio without touching playback position.
	SetMute(ctx context.Context, chatID string, mute bool) error
}
