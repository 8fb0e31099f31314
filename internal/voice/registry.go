package voice

import (
	"fmt"
	"sort"
	"sync"
)

// Registry owns the chat-id → Session map. It guarantees a single session
// per chat id and serializes structural mutation under one lock. The lock
// is held only for map access — pipeline and transport work always happens
// outside it, so independent chats never contend here.
type Registry struct {
	transport Transport
	pipe      *Pipeline

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryOpts holds parameters for creating a Registry.
type RegistryOpts struct {
	Transport Transport
	Pipeline  *Pipeline
}

// NewRegistry creates a Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.Transport == nil {
		return nil, fmt.Errorf("voice: registry: transport is required")
	}
	if opts.Pipeline == nil {
		return nil, fmt.Errorf("voice: registry: pipeline is required")
	}
	return &Registry{
		transport: opts.Transport,
		pipe:      opts.Pipeline,
		sessions:  make(map[string]*Session),
	}, nil
}

// GetOrCreate returns the session for chatID, creating an Idle one if the
// chat has none. Never returns two different sessions for the same id.
func (r *Registry) GetOrCreate(chatID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[chatID]; ok {
		return s
	}
	s := NewSession(chatID, r.transport, r.pipe)
	r.sessions[chatID] = s
	return s
}

// Get returns the session for chatID if one exists.
func (r *Registry) Get(chatID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[chatID]
	return s, ok
}

// Remove drops the session for chatID. Removing an absent id is a no-op.
func (r *Registry) Remove(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, chatID)
}

// List returns the chat ids with live sessions, sorted for stable output.
func (r *Registry) List() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Statuses returns a snapshot of every live session, sorted by chat id.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}
