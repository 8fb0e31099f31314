package voice

import (
	"context"
	"fmt"
	"sync"
)

// MockTransport implements Transport for testing. It records every call in
// order and can be told to fail specific operations.
type MockTransport struct {
	mu     sync.Mutex
	calls  []string
	joined map[string]bool
	inputs map[string]string
	muted  map[string]bool
	fail   map[string]error // op → error to return
}

// NewMockTransport creates a MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		joined: make(map[string]bool),
		inputs: make(map[string]string),
		muted:  make(map[string]bool),
		fail:   make(map[string]error),
	}
}

// FailWith makes the named operation ("join", "setInput", ...) return err.
func (m *MockTransport) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail[op] = err
}

// Calls returns the recorded call log, entries like "join:100".
func (m *MockTransport) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many recorded calls were for op.
func (m *MockTransport) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			n++
		}
	}
	return n
}

// Input returns the artifact last installed for chatID.
func (m *MockTransport) Input(chatID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inputs[chatID]
}

// Joined reports whether chatID is currently joined.
func (m *MockTransport) Joined(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.joined[chatID]
}

// Muted reports the mute flag for chatID.
func (m *MockTransport) Muted(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted[chatID]
}

func (m *MockTransport) record(op string, args ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry := op
	for _, a := range args {
		entry += ":" + a
	}
	m.calls = append(m.calls, entry)
	if err := m.fail[op]; err != nil {
		return err
	}
	return nil
}

// Join implements Transport.
func (m *MockTransport) Join(ctx context.Context, chatID string) error {
	if err := m.record("join", chatID); err != nil {
		return err
	}
	m.mu.Lock()
	m.joined[chatID] = true
	m.mu.Unlock()
	return nil
}

// Leave implements Transport.
func (m *MockTransport) Leave(ctx context.Context, chatID string) error {
	if err := m.record("leave", chatID); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.joined, chatID)
	delete(m.inputs, chatID)
	m.mu.Unlock()
	return nil
}

// SetInput implements Transport.
func (m *MockTransport) SetInput(ctx context.Context, chatID, artifactPath string) error {
	if err := m.record("setInput", chatID, artifactPath); err != nil {
		return err
	}
	m.mu.Lock()
	if !m.joined[chatID] {
		m.mu.Unlock()
		return fmt.Errorf("mock transport: chat %s not joined", chatID)
	}
	m.inputs[chatID] = artifactPath
	m.mu.Unlock()
	return nil
}

// StopPlayout implements Transport.
func (m *MockTransport) StopPlayout(ctx context.Context, chatID string) error {
	return m.record("stopPlayout", chatID)
}

// PausePlayout implements Transport.
func (m *MockTransport) PausePlayout(ctx context.Context, chatID string) error {
	return m.record("pausePlayout", chatID)
}

// ResumePlayout implements Transport.
func (m *MockTransport) ResumePlayout(ctx context.Context, chatID string) error {
	return m.record("resumePlayout", chatID)
}

// RestartPlayout implements Transport.
func (m *MockTransport) RestartPlayout(ctx context.Context, chatID string) error {
	return m.record("restartPlayout", chatID)
}

// SetMute implements Transport.
func (m *MockTransport) SetMute(ctx context.Context, chatID string, mute bool) error {
	if err := m.record("setMute", chatID, fmt.Sprintf("%t", mute)); err != nil {
		return err
	}
	m.mu.Lock()
	m.muted[chatID] = mute
	m.mu.Unlock()
	return nil
}
