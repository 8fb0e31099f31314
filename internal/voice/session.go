package voice

import (
	"context"
	"log"
	"sync"
)

// State names a position in the session lifecycle.
type State string

const (
	StateIdle      State = "idle"      // no voice presence; initial and terminal
	StateJoining   State = "joining"   // transient, mid-join
	StateActive    State = "active"    // joined, no audio
	StatePreparing State = "preparing" // joined, pipeline running for a play request
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateLeaving   State = "leaving" // transient, mid-teardown
)

// joined reports whether the session holds a transport presence in this state.
func (s State) joined() bool {
	switch s {
	case StateActive, StatePreparing, StatePlaying, StatePaused:
		return true
	}
	return false
}

// job tracks one in-flight preparation pipeline for a session. A later
// command cancels the job and waits on done before reusing the chat's
// artifact path, so two runs never write to it concurrently.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
	prev   State // state to roll back to if the run fails
}

// Session is the per-chat voice presence and playback state machine.
// Commands for one chat are delivered serially by the caller (the chat
// router); the internal mutex additionally protects state against the
// asynchronous pipeline-completion path.
type Session struct {
	chatID    string
	transport Transport
	pipe      *Pipeline

	mu       sync.Mutex
	state    State
	muted    bool
	rawPath  string // last successfully prepared artifact, "" if none
	inflight *job   // non-nil while a pipeline runs for this chat
}

// Status is a read-only snapshot of a session for status reporting.
type Status struct {
	ChatID    string
	State     State
	Connected bool // true when the session holds a voice presence
	Muted     bool
	Artifact  string
}

// NewSession creates an Idle session for chatID. Sessions are normally
// created through Registry.GetOrCreate.
func NewSession(chatID string, transport Transport, pipe *Pipeline) *Session {
	return &Session{
		chatID:    chatID,
		transport: transport,
		pipe:      pipe,
		state:     StateIdle,
	}
}

// ChatID returns the chat this session belongs to.
func (s *Session) ChatID() string { return s.chatID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ChatID:    s.chatID,
		State:     s.state,
		Connected: s.state.joined(),
		Muted:     s.muted,
		Artifact:  s.rawPath,
	}
}

// Join connects the session to the chat's voice channel. Legal only from
// Idle; on transport failure the session returns to Idle.
func (s *Session) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return &StateError{ChatID: s.chatID, Op: "join", State: s.state, Reason: "already joined"}
	}
	s.state = StateJoining
	s.mu.Unlock()

	if err := s.transport.Join(ctx, s.chatID); err != nil {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
		return &TransportError{ChatID: s.chatID, Op: "join", Err: err}
	}

	s.mu.Lock()
	s.state = StateActive
	s.mu.Unlock()
	log.Printf("voice: joined chat %s", s.chatID)
	return nil
}

// Play validates the session state, supersedes any in-flight preparation,
// and launches the fetch/transcode pipeline. It returns as soon as the
// pipeline is running: the returned channel delivers exactly one value when
// the run finishes — nil once playback has started, the pipeline or
// transport error otherwise, or context.Canceled if the run was superseded
// or torn down.
func (s *Session) Play(ctx context.Context, src Source) (<-chan error, error) {
	s.mu.Lock()
	if !s.state.joined() {
		defer s.mu.Unlock()
		return nil, &StateError{ChatID: s.chatID, Op: "play", State: s.state, Reason: "not joined"}
	}
	prev := s.state
	old := s.inflight
	s.inflight = nil
	if old != nil {
		// Roll back to the superseded run's prior state on failure, not to
		// Preparing.
		prev = old.prev
	}
	s.mu.Unlock()

	// Supersede: signal the old run and wait for it to fully stop before
	// touching the shared artifact path.
	if old != nil {
		old.cancel()
		<-old.done
		log.Printf("voice: chat %s: superseded in-flight preparation", s.chatID)
	}

	jctx, cancel := context.WithCancel(ctx)
	j := &job{cancel: cancel, done: make(chan struct{}), prev: prev}

	s.mu.Lock()
	if !s.state.joined() {
		// The session was torn down while we waited for the old run.
		s.mu.Unlock()
		cancel()
		return nil, &StateError{ChatID: s.chatID, Op: "play", State: StateIdle, Reason: "not joined"}
	}
	s.state = StatePreparing
	s.inflight = j
	s.mu.Unlock()

	res := make(chan error, 1)
	go s.runPipeline(jctx, j, src, res)
	return res, nil
}

// runPipeline executes one prepare run and performs the hand-off. The job
// stays registered as s.inflight until the hand-off has settled, so a
// superseding Play or a Leave that cancels it waits on done for the whole
// run, not just the pipeline stages.
func (s *Session) runPipeline(ctx context.Context, j *job, src Source, res chan<- error) {
	defer close(j.done)
	defer j.cancel()

	artifact, err := s.pipe.Prepare(ctx, s.chatID, src)

	s.mu.Lock()
	if s.inflight != j {
		// Superseded (or torn down): the successor owns the artifact path
		// now. Never install anything from this run.
		s.mu.Unlock()
		res <- context.Canceled
		return
	}
	if err != nil {
		s.inflight = nil
		if s.state == StatePreparing {
			s.state = j.prev
		}
		s.mu.Unlock()
		log.Printf("voice: chat %s: prepare %s: %v", s.chatID, src, err)
		res <- err
		return
	}
	s.mu.Unlock()

	terr := s.transport.SetInput(ctx, s.chatID, artifact)

	s.mu.Lock()
	if s.inflight != j {
		// Superseded mid-hand-off; the cancelled SetInput must not flip
		// state or publish the artifact.
		s.mu.Unlock()
		res <- context.Canceled
		return
	}
	s.inflight = nil
	if terr != nil {
		if s.state == StatePreparing {
			s.state = j.prev
		}
		s.mu.Unlock()
		res <- &TransportError{ChatID: s.chatID, Op: "set input", Err: terr}
		return
	}
	s.rawPath = artifact
	if s.state == StatePreparing {
		s.state = StatePlaying
	}
	s.mu.Unlock()
	log.Printf("voice: chat %s: playing %s", s.chatID, src)
	res <- nil
}

// Stop halts playback and returns the session to Active.
func (s *Session) Stop(ctx context.Context) error {
	if err := s.requireState("stop", "not active", StatePlaying, StatePaused); err != nil {
		return err
	}
	if err := s.transport.StopPlayout(ctx, s.chatID); err != nil {
		return &TransportError{ChatID: s.chatID, Op: "stop playout", Err: err}
	}
	s.setStateIf(StateActive, StatePlaying, StatePaused)
	return nil
}

// Pause suspends playback.
func (s *Session) Pause(ctx context.Context) error {
	if err := s.requireState("pause", "not playing", StatePlaying); err != nil {
		return err
	}
	if err := s.transport.PausePlayout(ctx, s.chatID); err != nil {
		return &TransportError{ChatID: s.chatID, Op: "pause playout", Err: err}
	}
	s.setStateIf(StatePaused, StatePlaying)
	return nil
}

// Resume continues paused playback.
func (s *Session) Resume(ctx context.Context) error {
	if err := s.requireState("resume", "not paused", StatePaused); err != nil {
		return err
	}
	if err := s.transport.ResumePlayout(ctx, s.chatID); err != nil {
		return &TransportError{ChatID: s.chatID, Op: "resume playout", Err: err}
	}
	s.setStateIf(StatePlaying, StatePaused)
	return nil
}

// Replay restarts the last prepared artifact from the beginning. It needs a
// prior artifact but no running playback, so a stopped (Active) session can
// replay too.
func (s *Session) Replay(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateActive, StatePlaying, StatePaused:
	default:
		defer s.mu.Unlock()
		return &StateError{ChatID: s.chatID, Op: "replay", State: s.state, Reason: "not joined"}
	}
	if s.rawPath == "" {
		defer s.mu.Unlock()
		return &StateError{ChatID: s.chatID, Op: "replay", State: s.state, Reason: "no prior artifact"}
	}
	s.mu.Unlock()

	if err := s.transport.RestartPlayout(ctx, s.chatID); err != nil {
		return &TransportError{ChatID: s.chatID, Op: "restart playout", Err: err}
	}
	s.setStateIf(StatePlaying, StateActive, StatePlaying, StatePaused)
	return nil
}

// SetMute toggles outgoing audio. Repeated calls are idempotent.
func (s *Session) SetMute(ctx context.Context, mute bool) error {
	op := "mute"
	if !mute {
		op = "unmute"
	}
	if err := s.requireState(op, "not active", StatePlaying, StatePaused); err != nil {
		return err
	}
	if err := s.transport.SetMute(ctx, s.chatID, mute); err != nil {
		return &TransportError{ChatID: s.chatID, Op: op, Err: err}
	}
	s.mu.Lock()
	s.muted = mute
	s.mu.Unlock()
	return nil
}

// Muted reports the current mute flag.
func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Leave tears the session down: cancels any in-flight preparation, leaves
// the voice channel, and deletes the per-chat artifact. Teardown is
// best-effort — the session always ends Idle, and the first error is
// returned after cleanup completes. The caller removes the session from
// the registry regardless of the returned error.
func (s *Session) Leave(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateLeaving {
		defer s.mu.Unlock()
		return &StateError{ChatID: s.chatID, Op: "leave", State: s.state, Reason: "not joined"}
	}
	old := s.inflight
	s.inflight = nil
	s.state = StateLeaving
	s.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
	}

	err := s.transport.Leave(ctx, s.chatID)
	if derr := s.pipe.Discard(s.chatID); derr != nil {
		log.Printf("voice: chat %s: discard artifacts: %v", s.chatID, derr)
	}

	s.mu.Lock()
	s.state = StateIdle
	s.rawPath = ""
	s.muted = false
	s.mu.Unlock()

	if err != nil {
		return &TransportError{ChatID: s.chatID, Op: "leave", Err: err}
	}
	log.Printf("voice: left chat %s", s.chatID)
	return nil
}

// requireState returns a StateError unless the current state is one of want.
func (s *Session) requireState(op, reason string, want ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range want {
		if s.state == w {
			return nil
		}
	}
	return &StateError{ChatID: s.chatID, Op: op, State: s.state, Reason: reason}
}

// setStateIf moves to next if the current state is one of from. This keeps
// control commands from clobbering a teardown that raced in between the
// transport call and the state update.
func (s *Session) setStateIf(next State, from ...State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range from {
		if s.state == f {
			s.state = next
			return
		}
	}
}
