//go:build cgo

package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// newGopusEncoder creates a real Opus encoder tuned for voice-channel audio.
func newGopusEncoder() (opusEncoder, error) {
	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord voice: create opus encoder: %w", err)
	}
	return enc, nil
}
