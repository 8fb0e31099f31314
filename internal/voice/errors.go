package voice

import "fmt"

// StateError reports a command that is illegal in the session's current
// state. It is resolved from pure state inspection — no collaborator is
// touched when a StateError is returned.
type StateError struct {
	ChatID string
	Op     string // the command that was attempted
	State  State  // the state the session was in
	Reason string // short user-facing reason, e.g. "not joined"
}

func (e *StateError) Error() string {
	return fmt.Sprintf("voice: %s in chat %s: %s (state=%s)", e.Op, e.ChatID, e.Reason, e.State)
}

// TransportError wraps a failure reported by the voice transport engine.
type TransportError struct {
	ChatID string
	Op     string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("voice: transport %s in chat %s: %v", e.Op, e.ChatID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FetchError wraps a failure retrieving a remote source into a local file.
type FetchError struct {
	ChatID string
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("voice: fetch %q for chat %s: %v", e.Source, e.ChatID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TranscodeError wraps a failure converting a local file to raw PCM.
type TranscodeError struct {
	ChatID string
	Input  string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("voice: transcode %q for chat %s: %v", e.Input, e.ChatID, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }
