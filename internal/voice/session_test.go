package voice

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"
)

// gatedFetcher blocks inside Fetch until its context is cancelled or it is
// released, letting tests hold a pipeline in flight deterministically.
type gatedFetcher struct {
	inner   stubFetcher
	mu      sync.Mutex
	started chan struct{} // receives one value per Fetch entered
	release chan struct{} // close to let blocked fetches proceed
	blockN  int           // block the first N calls; later calls pass through
	calls   int
}

func newGatedFetcher(blockN int) *gatedFetcher {
	return &gatedFetcher{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		blockN:  blockN,
	}
}

func (g *gatedFetcher) Fetch(ctx context.Context, source, destDir string) (string, error) {
	g.mu.Lock()
	g.calls++
	n := g.calls
	g.mu.Unlock()
	g.started <- struct{}{}
	if n <= g.blockN {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-g.release:
		}
	}
	return g.inner.Fetch(ctx, source, destDir)
}

func newTestSession(t *testing.T) (*Session, *MockTransport, *Pipeline) {
	t.Helper()
	tr := NewMockTransport()
	pipe := newTestPipeline(t, &stubFetcher{}, &stubTranscoder{})
	return NewSession("100", tr, pipe), tr, pipe
}

func waitResult(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pipeline result")
		return nil
	}
}

func TestJoin_IdleToActive(t *testing.T) {
	s, tr, _ := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("state = %s, want active", s.State())
	}
	if tr.CallCount("join") != 1 {
		t.Errorf("join calls = %d, want 1", tr.CallCount("join"))
	}
}

func TestJoin_AlreadyJoined(t *testing.T) {
	s, tr, _ := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := s.Join(context.Background())
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StateError", err)
	}
	if tr.CallCount("join") != 1 {
		t.Errorf("join calls = %d, want 1", tr.CallCount("join"))
	}
}

func TestJoin_TransportFailureRollsBack(t *testing.T) {
	s, tr, _ := newTestSession(t)
	tr.FailWith("join", errors.New("no voice channel"))
	err := s.Join(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle after failed join", s.State())
	}
}

func TestPlay_RejectedBeforeJoin(t *testing.T) {
	s, tr, _ := newTestSession(t)
	_, err := s.Play(context.Background(), Source{URL: "https://x/y"})
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StateError", err)
	}
	if se.Reason != "not joined" {
		t.Errorf("reason = %q, want %q", se.Reason, "not joined")
	}
	if len(tr.Calls()) != 0 {
		t.Errorf("transport touched on rejected play: %v", tr.Calls())
	}
}

func TestPlay_Success(t *testing.T) {
	s, tr, pipe := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := s.Play(context.Background(), Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := waitResult(t, res); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %s, want playing", s.State())
	}
	if got := tr.Input("100"); got != pipe.ArtifactPath("100") {
		t.Errorf("installed input = %q, want %q", got, pipe.ArtifactPath("100"))
	}
	if _, err := os.Stat(pipe.ArtifactPath("100")); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

func TestPlay_FetchFailureRollsBack(t *testing.T) {
	tr := NewMockTransport()
	pipe := newTestPipeline(t, &stubFetcher{err: errors.New("404")}, &stubTranscoder{})
	s := NewSession("100", tr, pipe)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := s.Play(context.Background(), Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	perr := waitResult(t, res)
	var fe *FetchError
	if !errors.As(perr, &fe) {
		t.Fatalf("pipeline error = %v, want FetchError", perr)
	}
	if s.State() != StateActive {
		t.Errorf("state = %s, want rollback to active", s.State())
	}
	if tr.CallCount("setInput") != 0 {
		t.Error("setInput called despite failed pipeline")
	}
	if s.Status().Artifact != "" {
		t.Error("rawPath set despite failed pipeline")
	}
}

func TestPlay_SupersedesInFlight(t *testing.T) {
	tr := NewMockTransport()
	gf := newGatedFetcher(1)
	pipe := newTestPipeline(t, gf, &stubTranscoder{})
	s := NewSession("100", tr, pipe)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	res1, err := s.Play(context.Background(), Source{URL: "https://x/old"})
	if err != nil {
		t.Fatalf("play 1: %v", err)
	}
	<-gf.started // first fetch is now blocked in flight

	res2, err := s.Play(context.Background(), Source{URL: "https://x/new"})
	if err != nil {
		t.Fatalf("play 2: %v", err)
	}

	if err := waitResult(t, res1); !errors.Is(err, context.Canceled) {
		t.Errorf("superseded run result = %v, want context.Canceled", err)
	}
	if err := waitResult(t, res2); err != nil {
		t.Fatalf("superseding run: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %s, want playing", s.State())
	}
	// The stale run must never reach the transport.
	if n := tr.CallCount("setInput"); n != 1 {
		t.Errorf("setInput calls = %d, want exactly 1", n)
	}
}

// gatedTransport blocks inside SetInput until its context is cancelled or
// it is released, letting tests hold a run in the hand-off stage.
type gatedTransport struct {
	*MockTransport
	started chan struct{}
	release chan struct{}
	blockN  int
	gmu     sync.Mutex
	calls   int
}

func newGatedTransport(blockN int) *gatedTransport {
	return &gatedTransport{
		MockTransport: NewMockTransport(),
		started:       make(chan struct{}, 8),
		release:       make(chan struct{}),
		blockN:        blockN,
	}
}

func (g *gatedTransport) SetInput(ctx context.Context, chatID, artifactPath string) error {
	g.gmu.Lock()
	g.calls++
	n := g.calls
	g.gmu.Unlock()
	g.started <- struct{}{}
	if n <= g.blockN {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.release:
		}
	}
	return g.MockTransport.SetInput(ctx, chatID, artifactPath)
}

func TestPlay_SupersedesDuringHandOff(t *testing.T) {
	gt := newGatedTransport(1)
	pipe := newTestPipeline(t, &stubFetcher{}, &stubTranscoder{})
	s := NewSession("100", gt, pipe)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	res1, err := s.Play(context.Background(), Source{URL: "https://x/old"})
	if err != nil {
		t.Fatalf("play 1: %v", err)
	}
	<-gt.started // first run is now blocked inside the hand-off
	if s.State() != StatePreparing {
		t.Fatalf("state = %s, want preparing while hand-off is gated", s.State())
	}

	res2, err := s.Play(context.Background(), Source{URL: "https://x/new"})
	if err != nil {
		t.Fatalf("play 2: %v", err)
	}

	if err := waitResult(t, res1); !errors.Is(err, context.Canceled) {
		t.Errorf("superseded run result = %v, want context.Canceled", err)
	}
	if err := waitResult(t, res2); err != nil {
		t.Fatalf("superseding run: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %s, want playing", s.State())
	}
	// Only the winning run may install its input.
	if n := gt.CallCount("setInput"); n != 1 {
		t.Errorf("setInput calls = %d, want exactly 1", n)
	}
	if got := gt.Input("100"); got != pipe.ArtifactPath("100") {
		t.Errorf("installed input = %q, want %q", got, pipe.ArtifactPath("100"))
	}
}

func TestLeave_DuringHandOffForcesIdle(t *testing.T) {
	gt := newGatedTransport(1)
	pipe := newTestPipeline(t, &stubFetcher{}, &stubTranscoder{})
	s := NewSession("100", gt, pipe)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := s.Play(context.Background(), Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	<-gt.started // run is blocked inside the hand-off

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := waitResult(t, res); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled run result = %v, want context.Canceled", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if gt.CallCount("setInput") != 0 {
		t.Error("cancelled hand-off reached the transport")
	}
}

func TestStop_PlayingToActive(t *testing.T) {
	s, tr, _ := newTestSession(t)
	playUntilPlaying(t, s)

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.State() != StateActive {
		t.Errorf("state = %s, want active", s.State())
	}
	if tr.CallCount("stopPlayout") != 1 {
		t.Errorf("stopPlayout calls = %d, want 1", tr.CallCount("stopPlayout"))
	}
}

func TestStop_NotActive(t *testing.T) {
	s, tr, _ := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := s.Stop(context.Background())
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StateError", err)
	}
	if tr.CallCount("stopPlayout") != 0 {
		t.Error("stopPlayout called for a session that never played")
	}
}

func TestPauseResume(t *testing.T) {
	s, _, _ := newTestSession(t)
	playUntilPlaying(t, s)

	if err := s.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if s.State() != StatePaused {
		t.Errorf("state = %s, want paused", s.State())
	}

	// Pause while paused is illegal.
	if err := s.Pause(context.Background()); err == nil {
		t.Error("expected error pausing a paused session")
	}

	if err := s.Resume(context.Background()); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %s, want playing", s.State())
	}

	// Resume while playing is illegal.
	if err := s.Resume(context.Background()); err == nil {
		t.Error("expected error resuming a playing session")
	}
}

func TestReplay_NoPriorArtifact(t *testing.T) {
	s, tr, _ := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := s.Replay(context.Background())
	var se *StateError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StateError", err)
	}
	if se.Reason != "no prior artifact" {
		t.Errorf("reason = %q, want %q", se.Reason, "no prior artifact")
	}
	if tr.CallCount("restartPlayout") != 0 {
		t.Error("restartPlayout called without a prior artifact")
	}
}

func TestReplay_AfterStop(t *testing.T) {
	s, tr, _ := newTestSession(t)
	playUntilPlaying(t, s)
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Replay(context.Background()); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if s.State() != StatePlaying {
		t.Errorf("state = %s, want playing", s.State())
	}
	if tr.CallCount("restartPlayout") != 1 {
		t.Errorf("restartPlayout calls = %d, want 1", tr.CallCount("restartPlayout"))
	}
}

func TestSetMute_Idempotent(t *testing.T) {
	s, tr, _ := newTestSession(t)
	playUntilPlaying(t, s)

	for i := 0; i < 3; i++ {
		if err := s.SetMute(context.Background(), true); err != nil {
			t.Fatalf("mute %d: %v", i, err)
		}
	}
	if !s.Muted() || !tr.Muted("100") {
		t.Error("mute flag not true after repeated mute")
	}
	for i := 0; i < 3; i++ {
		if err := s.SetMute(context.Background(), false); err != nil {
			t.Fatalf("unmute %d: %v", i, err)
		}
	}
	if s.Muted() || tr.Muted("100") {
		t.Error("mute flag not false after repeated unmute")
	}
}

func TestLeave_CleansUp(t *testing.T) {
	s, tr, pipe := newTestSession(t)
	playUntilPlaying(t, s)
	artifact := pipe.ArtifactPath("100")
	if _, err := os.Stat(artifact); err != nil {
		t.Fatalf("artifact missing before leave: %v", err)
	}

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
	if tr.CallCount("leave") != 1 {
		t.Errorf("transport leave calls = %d, want 1", tr.CallCount("leave"))
	}
	if _, err := os.Stat(artifact); !os.IsNotExist(err) {
		t.Error("artifact survived leave")
	}
}

func TestLeave_NeverPlayed(t *testing.T) {
	s, _, _ := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestLeave_TransportFailureStillForcesIdle(t *testing.T) {
	s, tr, _ := newTestSession(t)
	playUntilPlaying(t, s)
	tr.FailWith("leave", errors.New("gateway gone"))

	err := s.Leave(context.Background())
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want forced idle", s.State())
	}
}

func TestLeave_CancelsInFlightPipeline(t *testing.T) {
	tr := NewMockTransport()
	gf := newGatedFetcher(1)
	pipe := newTestPipeline(t, gf, &stubTranscoder{})
	s := NewSession("100", tr, pipe)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}

	res, err := s.Play(context.Background(), Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	<-gf.started

	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := waitResult(t, res); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled run result = %v, want context.Canceled", err)
	}
	if tr.CallCount("setInput") != 0 {
		t.Error("cancelled pipeline reached the transport")
	}
	if s.State() != StateIdle {
		t.Errorf("state = %s, want idle", s.State())
	}
}

func TestPlay_AfterLeaveRejected(t *testing.T) {
	s, _, _ := newTestSession(t)
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.Leave(context.Background()); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if _, err := s.Play(context.Background(), Source{URL: "https://x/y"}); err == nil {
		t.Fatal("expected play after leave to be rejected")
	}
}

// playUntilPlaying joins and completes one successful play.
func playUntilPlaying(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Join(context.Background()); err != nil {
		t.Fatalf("join: %v", err)
	}
	res, err := s.Play(context.Background(), Source{URL: "https://x/y"})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if err := waitResult(t, res); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
}
