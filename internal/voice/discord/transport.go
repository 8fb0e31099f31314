package discord

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/calliope/internal/voice"
)

// voiceConn abstracts one live discordgo voice connection.
type voiceConn interface {
	Speaking(bool) error
	Disconnect() error
	OpusSend() chan<- []byte
}

// gateway abstracts the discordgo session methods the transport uses,
// enabling test mocks.
type gateway interface {
	JoinVoice(guildID, channelID string) (voiceConn, error)
	GuildVoiceChannels(guildID string) ([]string, error)
}

// realGateway wraps *discordgo.Session to implement the gateway interface.
type realGateway struct {
	s *discordgo.Session
}

func (g *realGateway) JoinVoice(guildID, channelID string) (voiceConn, error) {
	// Muted=false, deafened=true: the bot only speaks.
	vc, err := g.s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	return &realConn{vc: vc}, nil
}

func (g *realGateway) GuildVoiceChannels(guildID string) ([]string, error) {
	chans, err := g.guildChannels(guildID)
	if err != nil {
		return nil, err
	}
	var vcs []*discordgo.Channel
	for _, ch := range chans {
		if ch.Type == discordgo.ChannelTypeGuildVoice {
			vcs = append(vcs, ch)
		}
	}
	sort.Slice(vcs, func(i, j int) bool {
		if vcs[i].Position != vcs[j].Position {
			return vcs[i].Position < vcs[j].Position
		}
		return vcs[i].ID < vcs[j].ID
	})
	ids := make([]string, len(vcs))
	for i, ch := range vcs {
		ids[i] = ch.ID
	}
	return ids, nil
}

// guildChannels prefers the gateway state cache and falls back to the REST API.
func (g *realGateway) guildChannels(guildID string) ([]*discordgo.Channel, error) {
	if guild, err := g.s.State.Guild(guildID); err == nil && len(guild.Channels) > 0 {
		return guild.Channels, nil
	}
	return g.s.GuildChannels(guildID)
}

// realConn wraps *discordgo.VoiceConnection to implement voiceConn.
type realConn struct {
	vc *discordgo.VoiceConnection
}

func (c *realConn) Speaking(b bool) error   { return c.vc.Speaking(b) }
func (c *realConn) Disconnect() error       { return c.vc.Disconnect() }
func (c *realConn) OpusSend() chan<- []byte { return c.vc.OpusSend }

// call is the transport-side state for one joined chat.
type call struct {
	conn   voiceConn
	player *player // nil when nothing is playing
	path   string  // current input artifact, "" before the first SetInput
	muted  bool
}

// Transport implements voice.Transport on Discord. The chat id is the guild
// id; each joined guild holds one voice connection and at most one player.
type Transport struct {
	gw         gateway
	pins       map[string]string // guild id → pinned voice channel id
	newEncoder func() (opusEncoder, error)

	mu    sync.Mutex
	calls map[string]*call
}

// TransportOpts holds parameters for creating a Transport.
type TransportOpts struct {
	Session *discordgo.Session // connected gateway session
	// VoiceChannels optionally pins guilds to specific voice channels.
	// Unpinned guilds join their first voice channel.
	VoiceChannels map[string]string
	// For testing: inject a mock gateway and encoder factory.
	Gateway    gateway
	NewEncoder func() (opusEncoder, error)
}

// NewTransport creates a Transport.
func NewTransport(opts TransportOpts) (*Transport, error) {
	gw := opts.Gateway
	if gw == nil {
		if opts.Session == nil {
			return nil, fmt.Errorf("discord voice: session is required")
		}
		gw = &realGateway{s: opts.Session}
	}
	newEnc := opts.NewEncoder
	if newEnc == nil {
		newEnc = newGopusEncoder
	}
	return &Transport{
		gw:         gw,
		pins:       opts.VoiceChannels,
		newEncoder: newEnc,
		calls:      make(map[string]*call),
	}, nil
}

// Join connects to the chat's voice channel: the pinned channel when one is
// configured, otherwise the guild's first voice channel.
func (t *Transport) Join(ctx context.Context, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	if _, ok := t.calls[chatID]; ok {
		t.mu.Unlock()
		return fmt.Errorf("discord voice: chat %s already joined", chatID)
	}
	t.mu.Unlock()

	channelID, err := t.resolveChannel(chatID)
	if err != nil {
		return err
	}
	conn, err := t.gw.JoinVoice(chatID, channelID)
	if err != nil {
		return fmt.Errorf("discord voice: join channel %s: %w", channelID, err)
	}

	t.mu.Lock()
	t.calls[chatID] = &call{conn: conn}
	t.mu.Unlock()
	log.Printf("discord voice: chat %s: joined channel %s", chatID, channelID)
	return nil
}

// resolveChannel picks the voice channel to join for a guild.
func (t *Transport) resolveChannel(chatID string) (string, error) {
	if pinned, ok := t.pins[chatID]; ok && pinned != "" {
		return pinned, nil
	}
	ids, err := t.gw.GuildVoiceChannels(chatID)
	if err != nil {
		return "", fmt.Errorf("discord voice: list voice channels: %w", err)
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("discord voice: chat %s has no voice channel", chatID)
	}
	return ids[0], nil
}

// Leave stops any playout and disconnects from the voice channel.
func (t *Transport) Leave(ctx context.Context, chatID string) error {
	t.mu.Lock()
	c, ok := t.calls[chatID]
	delete(t.calls, chatID)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	if c.player != nil {
		c.player.halt()
	}
	if err := c.conn.Disconnect(); err != nil {
		return fmt.Errorf("discord voice: disconnect: %w", err)
	}
	return nil
}

// SetInput installs artifactPath as the chat's playout input and starts
// playing it from the beginning, replacing any running player.
func (t *Transport) SetInput(ctx context.Context, chatID, artifactPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.startPlayer(chatID, artifactPath)
}

// StopPlayout halts playback but keeps the connection and the input, so a
// later restart can replay it.
func (t *Transport) StopPlayout(ctx context.Context, chatID string) error {
	t.mu.Lock()
	c, ok := t.calls[chatID]
	var p *player
	if ok {
		p = c.player
		c.player = nil
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	if p != nil {
		p.halt()
	}
	return nil
}

// PausePlayout suspends the running player at its current position.
func (t *Transport) PausePlayout(ctx context.Context, chatID string) error {
	p, err := t.currentPlayer(chatID)
	if err != nil {
		return err
	}
	p.setPaused(true)
	return nil
}

// ResumePlayout continues a paused player.
func (t *Transport) ResumePlayout(ctx context.Context, chatID string) error {
	p, err := t.currentPlayer(chatID)
	if err != nil {
		return err
	}
	p.setPaused(false)
	return nil
}

// RestartPlayout rewinds the current input to the beginning and plays.
func (t *Transport) RestartPlayout(ctx context.Context, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	c, ok := t.calls[chatID]
	var path string
	if ok {
		path = c.path
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	if path == "" {
		return fmt.Errorf("discord voice: chat %s has no input to restart", chatID)
	}
	return t.startPlayer(chatID, path)
}

// SetMute toggles outgoing audio. The flag sticks to the call, so it also
// applies to players started later.
func (t *Transport) SetMute(ctx context.Context, chatID string, mute bool) error {
	t.mu.Lock()
	c, ok := t.calls[chatID]
	var p *player
	if ok {
		c.muted = mute
		p = c.player
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	if p != nil {
		p.setMuted(mute)
	}
	return nil
}

// currentPlayer returns the chat's running player.
func (t *Transport) currentPlayer(chatID string) (*player, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.calls[chatID]
	if !ok {
		return nil, fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	if c.player == nil {
		return nil, fmt.Errorf("discord voice: chat %s has no active playout", chatID)
	}
	return c.player, nil
}

// startPlayer replaces the chat's player with a fresh one reading path.
func (t *Transport) startPlayer(chatID, path string) error {
	t.mu.Lock()
	c, ok := t.calls[chatID]
	var old *player
	if ok {
		old = c.player
		c.player = nil
	}
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	if old != nil {
		old.halt()
	}

	enc, err := t.newEncoder()
	if err != nil {
		return err
	}

	t.mu.Lock()
	// The call may have been torn down while the old player drained.
	c, ok = t.calls[chatID]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("discord voice: chat %s not joined", chatID)
	}
	p := newPlayer(chatID, path, c.conn, enc, c.muted)
	c.player = p
	c.path = path
	t.mu.Unlock()

	p.start()
	return nil
}

var _ voice.Transport = (*Transport)(nil)
