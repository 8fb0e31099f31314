// Package discord implements the voice Transport on Discord voice gateways:
// it joins guild voice channels, encodes raw PCM artifacts to Opus, and
// paces the frames onto the voice connection.
package discord

import (
	"time"
)

const (
	// Discord voice wants 48 kHz stereo Opus in 20 ms frames.
	sampleRate   = 48000
	channels     = 2
	frameSamples = 960 // samples per channel per 20 ms frame
	frameBytes   = frameSamples * channels * 2
	maxOpusBytes = 3840
	frameDur     = 20 * time.Millisecond
)

// opusEncoder abstracts the Opus codec so tests can run without cgo.
type opusEncoder interface {
	Encode(pcm []int16, frameSize, maxBytes int) ([]byte, error)
}
