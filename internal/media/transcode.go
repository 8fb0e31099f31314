package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// Playout format expected by the voice transport.
const (
	playoutSampleRate = 48000
	playoutChannels   = 2
)

// FFmpeg converts audio files to the fixed playout format — 2-channel
// 16-bit signed little-endian PCM at 48 kHz. It implements
// voice.Transcoder. Cancelling the context kills the subprocess; a partial
// output file is removed before returning.
type FFmpeg struct {
	bin string
}

// FFmpegOpts holds parameters for creating an FFmpeg transcoder.
type FFmpegOpts struct {
	Binary string // defaults to "ffmpeg"
}

// NewFFmpeg creates an FFmpeg transcoder.
func NewFFmpeg(opts FFmpegOpts) *FFmpeg {
	bin := opts.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin}
}

// Transcode converts inputPath into raw PCM at outputPath.
func (f *FFmpeg) Transcode(ctx context.Context, inputPath, outputPath string) error {
	if inputPath == "" || outputPath == "" {
		return fmt.Errorf("media: transcode: input and output paths are required")
	}

	cmd := exec.CommandContext(ctx, f.bin, transcodeArgs(inputPath, outputPath)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(outputPath)
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		return fmt.Errorf("media: ffmpeg %q: %w: %s", inputPath, err, strings.TrimSpace(stderr.String()))
	}

	fi, err := os.Stat(outputPath)
	if err != nil || fi.Size() == 0 {
		_ = os.Remove(outputPath)
		return fmt.Errorf("media: ffmpeg produced no output for %q", inputPath)
	}
	return nil
}

// transcodeArgs builds the ffmpeg argument list for one conversion.
func transcodeArgs(in, out string) []string {
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", strconv.Itoa(playoutChannels),
		"-ar", strconv.Itoa(playoutSampleRate),
		out,
	}
}
