// Package media implements the external retrieval and transcode engines as
// subprocess wrappers: yt-dlp for fetching remote sources and ffmpeg for
// converting audio to the fixed raw PCM playout format.
package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// fetchBaseName is the fixed stem for downloaded files inside a working
// area. The extension is chosen by yt-dlp.
const fetchBaseName = "source"

// YtDlp fetches remote sources with the yt-dlp downloader. It implements
// voice.Fetcher. Cancelling the context kills the subprocess; partial
// output is removed before returning.
type YtDlp struct {
	bin string
}

// YtDlpOpts holds parameters for creating a YtDlp fetcher.
type YtDlpOpts struct {
	Binary string // defaults to "yt-dlp"
}

// NewYtDlp creates a YtDlp fetcher.
func NewYtDlp(opts YtDlpOpts) *YtDlp {
	bin := opts.Binary
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YtDlp{bin: bin}
}

// Fetch downloads source into destDir as best-quality audio and returns
// the local file path.
func (y *YtDlp) Fetch(ctx context.Context, source, destDir string) (string, error) {
	if source == "" {
		return "", fmt.Errorf("media: fetch: empty source")
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("media: fetch: create %s: %w", destDir, err)
	}

	outTmpl := filepath.Join(destDir, fetchBaseName+".%(ext)s")
	cmd := exec.CommandContext(ctx, y.bin, fetchArgs(source, outTmpl)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		removeFetched(destDir)
		if cerr := ctx.Err(); cerr != nil {
			return "", cerr
		}
		return "", fmt.Errorf("media: yt-dlp %q: %w: %s", source, err, strings.TrimSpace(stderr.String()))
	}

	matches, err := filepath.Glob(filepath.Join(destDir, fetchBaseName+".*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("media: yt-dlp produced no output for %q", source)
	}
	return matches[0], nil
}

// fetchArgs builds the yt-dlp argument list for one download.
func fetchArgs(source, outTmpl string) []string {
	return []string{
		"--no-playlist",
		"--format", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"--no-check-certificates",
		"--geo-bypass",
		"--quiet",
		"--no-warnings",
		"--output", outTmpl,
		source,
	}
}

// removeFetched deletes any (partial) download output in destDir.
func removeFetched(destDir string) {
	matches, _ := filepath.Glob(filepath.Join(destDir, fetchBaseName+".*"))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}
