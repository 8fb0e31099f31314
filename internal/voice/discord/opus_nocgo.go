//go:build !cgo

package discord

import "errors"

// newGopusEncoder requires cgo for the gopus Opus bindings; without cgo the
// real encoder is unavailable and callers get an error instead.
func newGopusEncoder() (opusEncoder, error) {
	return nil, errors.New("discord voice: opus encoder unavailable: built without cgo")
}
