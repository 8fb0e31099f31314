package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Source describes the audio input for a play request: either a remote URL
// to fetch or a file that is already local (e.g. a downloaded attachment).
// Exactly one field should be set.
type Source struct {
	URL       string
	LocalPath string
}

func (s Source) local() bool { return s.LocalPath != "" }

// String returns the user-facing name of the source.
func (s Source) String() string {
	if s.local() {
		return filepath.Base(s.LocalPath)
	}
	return s.URL
}

// Fetcher is the capability interface to the external retrieval engine.
// Fetch downloads the source into destDir and returns the local file path.
// A cancelled context must stop the download and remove partial output.
type Fetcher interface {
	Fetch(ctx context.Context, source, destDir string) (string, error)
}

// Transcoder is the capability interface to the external decode/resample
// engine. Transcode converts inputPath into 2-channel 16-bit signed
// little-endian PCM at 48 kHz, written to outputPath.
type Transcoder interface {
	Transcode(ctx context.Context, inputPath, outputPath string) error
}

// Pipeline sequences Fetch → Transcode for one chat at a time, producing
// the per-chat raw artifact. It owns the artifact naming scheme and the
// per-chat download working area; the session owns when a pipeline run may
// start and hands the result to the transport.
type Pipeline struct {
	fetcher    Fetcher
	transcoder Transcoder
	dataDir    string // finished artifacts live here, one per chat
	workRoot   string // per-chat download working areas live under here
}

// PipelineOpts holds parameters for creating a Pipeline.
type PipelineOpts struct {
	Fetcher    Fetcher
	Transcoder Transcoder
	DataDir    string // directory for finished raw artifacts
	WorkDir    string // root directory for download working areas
}

// NewPipeline creates a Pipeline and ensures its directories exist.
func NewPipeline(opts PipelineOpts) (*Pipeline, error) {
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("voice: pipeline: fetcher is required")
	}
	if opts.Transcoder == nil {
		return nil, fmt.Errorf("voice: pipeline: transcoder is required")
	}
	if opts.DataDir == "" {
		return nil, fmt.Errorf("voice: pipeline: data dir is required")
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(opts.DataDir, "downloads")
	}
	for _, dir := range []string{opts.DataDir, opts.WorkDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("voice: pipeline: create %s: %w", dir, err)
		}
	}
	return &Pipeline{
		fetcher:    opts.Fetcher,
		transcoder: opts.Transcoder,
		dataDir:    opts.DataDir,
		workRoot:   opts.WorkDir,
	}, nil
}

// ArtifactPath returns the raw artifact path for a chat. The name is a
// pure function of the chat id, so there is at most one live artifact per
// chat at any time.
func (p *Pipeline) ArtifactPath(chatID string) string {
	return filepath.Join(p.dataDir, chatID+".raw")
}

// WorkDir returns the download working area for a chat.
func (p *Pipeline) WorkDir(chatID string) string {
	return filepath.Join(p.workRoot, chatID)
}

// Prepare turns src into a transport-ready raw artifact for chatID and
// returns the artifact path. Stages run strictly in sequence: fetch
// (skipped for local sources), then transcode. Failure at any stage aborts
// the rest and leaves no partial artifact behind. The caller guarantees at
// most one Prepare per chat id runs at a time.
func (p *Pipeline) Prepare(ctx context.Context, chatID string, src Source) (string, error) {
	local := src.LocalPath
	if !src.local() {
		// Clear stale output from a previous aborted run before fetching,
		// so leftovers are never mistaken for fresh output.
		dir := p.WorkDir(chatID)
		if err := resetDir(dir); err != nil {
			return "", &FetchError{ChatID: chatID, Source: src.URL, Err: err}
		}
		got, err := p.fetcher.Fetch(ctx, src.URL, dir)
		if err != nil {
			resetDir(dir)
			return "", &FetchError{ChatID: chatID, Source: src.URL, Err: err}
		}
		local = got
	}

	out := p.ArtifactPath(chatID)
	// A pre-existing artifact at this name belongs to an earlier play; the
	// caller has already stopped referencing it.
	_ = os.Remove(out)

	if err := p.transcoder.Transcode(ctx, local, out); err != nil {
		_ = os.Remove(out)
		_ = os.Remove(local)
		return "", &TranscodeError{ChatID: chatID, Input: local, Err: err}
	}

	// The input file is consumed regardless of whether it was freshly
	// downloaded or a provided attachment copy.
	_ = os.Remove(local)

	if err := ctx.Err(); err != nil {
		_ = os.Remove(out)
		return "", err
	}
	return out, nil
}

// Discard removes the chat's raw artifact and download working area.
// Missing files are fine.
func (p *Pipeline) Discard(chatID string) error {
	var first error
	if err := os.Remove(p.ArtifactPath(chatID)); err != nil && !os.IsNotExist(err) {
		first = err
	}
	if err := os.RemoveAll(p.WorkDir(chatID)); err != nil && first == nil {
		first = err
	}
	return first
}

// resetDir recreates dir as an empty directory.
func resetDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
