package voice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// stubFetcher writes a fixed file into destDir, or fails.
type stubFetcher struct {
	err   error
	calls int
}

func (f *stubFetcher) Fetch(ctx context.Context, source, destDir string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(destDir, "fetched.mp3")
	if err := os.WriteFile(path, []byte("compressed"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// stubTranscoder writes raw bytes to outputPath, or fails (leaving a
// partial file behind to verify cleanup).
type stubTranscoder struct {
	err   error
	calls int
}

func (t *stubTranscoder) Transcode(ctx context.Context, inputPath, outputPath string) error {
	t.calls++
	if err := os.WriteFile(outputPath, []byte("pcm"), 0o644); err != nil {
		return err
	}
	if t.err != nil {
		return t.err
	}
	return nil
}

func newTestPipeline(t *testing.T, f Fetcher, tr Transcoder) *Pipeline {
	t.Helper()
	dir := t.TempDir()
	p, err := NewPipeline(PipelineOpts{
		Fetcher:    f,
		Transcoder: tr,
		DataDir:    dir,
		WorkDir:    filepath.Join(dir, "downloads"),
	})
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return p
}

func TestNewPipeline_RequiresCollaborators(t *testing.T) {
	if _, err := NewPipeline(PipelineOpts{Transcoder: &stubTranscoder{}, DataDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for nil fetcher")
	}
	if _, err := NewPipeline(PipelineOpts{Fetcher: &stubFetcher{}, DataDir: t.TempDir()}); err == nil {
		t.Fatal("expected error for nil transcoder")
	}
	if _, err := NewPipeline(PipelineOpts{Fetcher: &stubFetcher{}, Transcoder: &stubTranscoder{}}); err == nil {
		t.Fatal("expected error for empty data dir")
	}
}

func TestPrepare_RemoteSource(t *testing.T) {
	f := &stubFetcher{}
	tr := &stubTranscoder{}
	p := newTestPipeline(t, f, tr)

	artifact, err := p.Prepare(context.Background(), "100", Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if artifact != p.ArtifactPath("100") {
		t.Errorf("artifact = %q, want %q", artifact, p.ArtifactPath("100"))
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
	if f.calls != 1 || tr.calls != 1 {
		t.Errorf("calls fetch=%d transcode=%d, want 1/1", f.calls, tr.calls)
	}
	// The fetched input must be consumed.
	fetched := filepath.Join(p.WorkDir("100"), "fetched.mp3")
	if _, err := os.Stat(fetched); !os.IsNotExist(err) {
		t.Errorf("fetched file still present: %v", err)
	}
}

func TestPrepare_LocalSourceSkipsFetch(t *testing.T) {
	f := &stubFetcher{}
	tr := &stubTranscoder{}
	p := newTestPipeline(t, f, tr)

	local := filepath.Join(t.TempDir(), "attach.ogg")
	if err := os.WriteFile(local, []byte("ogg"), 0o644); err != nil {
		t.Fatal(err)
	}

	artifact, err := p.Prepare(context.Background(), "100", Source{LocalPath: local})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if f.calls != 0 {
		t.Errorf("fetch calls = %d, want 0 for local source", f.calls)
	}
	if _, err := os.Stat(artifact); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
	// Attachment copies are consumed just like downloads.
	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("local input still present: %v", err)
	}
}

func TestPrepare_FetchFailure(t *testing.T) {
	f := &stubFetcher{err: errors.New("unreachable")}
	tr := &stubTranscoder{}
	p := newTestPipeline(t, f, tr)

	_, err := p.Prepare(context.Background(), "100", Source{URL: "https://x/y"})
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("error = %v, want FetchError", err)
	}
	if tr.calls != 0 {
		t.Errorf("transcode called %d times after fetch failure", tr.calls)
	}
	if _, serr := os.Stat(p.ArtifactPath("100")); !os.IsNotExist(serr) {
		t.Error("artifact exists after fetch failure")
	}
}

func TestPrepare_TranscodeFailureRemovesPartial(t *testing.T) {
	f := &stubFetcher{}
	tr := &stubTranscoder{err: errors.New("bad format")}
	p := newTestPipeline(t, f, tr)

	_, err := p.Prepare(context.Background(), "100", Source{URL: "https://x/y"})
	var te *TranscodeError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TranscodeError", err)
	}
	if _, serr := os.Stat(p.ArtifactPath("100")); !os.IsNotExist(serr) {
		t.Error("partial artifact left behind after transcode failure")
	}
}

func TestPrepare_ClearsStaleWorkArea(t *testing.T) {
	f := &stubFetcher{}
	tr := &stubTranscoder{}
	p := newTestPipeline(t, f, tr)

	// Simulate a crashed prior run leaving a partial download.
	dir := p.WorkDir("100")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "stale.part")
	if err := os.WriteFile(stale, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := p.Prepare(context.Background(), "100", Source{URL: "https://x/y"}); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale download survived a fresh fetch run")
	}
}

func TestPrepare_CancelledContext(t *testing.T) {
	f := &stubFetcher{}
	tr := &stubTranscoder{}
	p := newTestPipeline(t, f, tr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Prepare(ctx, "100", Source{URL: "https://x/y"})
	if err == nil {
		t.Fatal("expected error from cancelled run")
	}
	if _, serr := os.Stat(p.ArtifactPath("100")); !os.IsNotExist(serr) {
		t.Error("artifact exists after cancelled run")
	}
}

func TestDiscard(t *testing.T) {
	f := &stubFetcher{}
	tr := &stubTranscoder{}
	p := newTestPipeline(t, f, tr)

	artifact, err := p.Prepare(context.Background(), "100", Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := p.Discard("100"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	if _, serr := os.Stat(artifact); !os.IsNotExist(serr) {
		t.Error("artifact survived discard")
	}
	if _, serr := os.Stat(p.WorkDir("100")); !os.IsNotExist(serr) {
		t.Error("work dir survived discard")
	}
	// Discarding an absent chat is a no-op.
	if err := p.Discard("999"); err != nil {
		t.Errorf("discard absent chat: %v", err)
	}
}

func TestArtifactPath_PerChat(t *testing.T) {
	p := newTestPipeline(t, &stubFetcher{}, &stubTranscoder{})
	for _, chat := range []string{"100", "200"} {
		got := p.ArtifactPath(chat)
		if filepath.Base(got) != fmt.Sprintf("%s.raw", chat) {
			t.Errorf("ArtifactPath(%s) = %q", chat, got)
		}
	}
	if p.ArtifactPath("100") == p.ArtifactPath("200") {
		t.Error("artifact paths collide across chats")
	}
}
