package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zulandar/calliope/internal/models"
	"github.com/zulandar/calliope/internal/recognize"
	"github.com/zulandar/calliope/internal/voice"
	"gorm.io/gorm"
)

// CommandHandler executes dot-commands against per-chat voice sessions.
// Execute returns the immediate reply; slow operations (play) answer again
// asynchronously through the adapter when they finish.
type CommandHandler struct {
	registry   *voice.Registry
	adapter    Adapter
	recognizer recognize.Recognizer // nil disables .shazam
	db         *gorm.DB             // nil disables play history
	spoolDir   string               // attachment staging area
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	Registry   *voice.Registry
	Adapter    Adapter
	Recognizer recognize.Recognizer // optional
	DB         *gorm.DB             // optional
	SpoolDir   string               // defaults to the OS temp dir
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("chat: command handler: registry is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("chat: command handler: adapter is required")
	}
	spool := opts.SpoolDir
	if spool == "" {
		spool = os.TempDir()
	}
	if err := os.MkdirAll(spool, 0o755); err != nil {
		return nil, fmt.Errorf("chat: command handler: create spool dir: %w", err)
	}
	return &CommandHandler{
		registry:   opts.Registry,
		adapter:    opts.Adapter,
		recognizer: opts.Recognizer,
		db:         opts.DB,
		spoolDir:   spool,
	}, nil
}

// Execute runs one parsed command and returns the immediate reply text.
func (h *CommandHandler) Execute(ctx context.Context, msg InboundMessage, cmd Command) string {
	switch cmd.Name {
	case "join":
		return h.cmdJoin(ctx, msg)
	case "leave":
		return h.cmdLeave(ctx, msg)
	case "play":
		return h.cmdPlay(ctx, msg, cmd.Args)
	case "stop":
		return h.cmdSimple(ctx, msg, "Stopped.", func(s *voice.Session) error { return s.Stop(ctx) })
	case "pause":
		return h.cmdSimple(ctx, msg, "Paused.", func(s *voice.Session) error { return s.Pause(ctx) })
	case "resume":
		return h.cmdSimple(ctx, msg, "Resumed.", func(s *voice.Session) error { return s.Resume(ctx) })
	case "replay":
		return h.cmdSimple(ctx, msg, "Replaying from the top.", func(s *voice.Session) error { return s.Replay(ctx) })
	case "mute":
		return h.cmdSimple(ctx, msg, "Muted.", func(s *voice.Session) error { return s.SetMute(ctx, true) })
	case "unmute":
		return h.cmdSimple(ctx, msg, "Unmuted.", func(s *voice.Session) error { return s.SetMute(ctx, false) })
	case "shazam":
		return h.cmdShazam(ctx, msg)
	case "status":
		return h.cmdStatus(msg)
	case "debug":
		return h.cmdDebug(msg)
	case "help":
		return helpText()
	default:
		return helpText()
	}
}

// cmdJoin brings the bot into the chat's voice channel.
func (h *CommandHandler) cmdJoin(ctx context.Context, msg InboundMessage) string {
	s := h.registry.GetOrCreate(msg.ChatID)
	if err := s.Join(ctx); err != nil {
		return replyError(err)
	}
	return "Joined the voice channel."
}

// cmdLeave tears down the chat's voice session. The session is removed from
// the registry even when teardown reported an error.
func (h *CommandHandler) cmdLeave(ctx context.Context, msg InboundMessage) string {
	s, ok := h.registry.Get(msg.ChatID)
	if !ok {
		return "Not in a voice channel."
	}
	err := s.Leave(ctx)
	h.registry.Remove(msg.ChatID)
	if err != nil {
		return replyError(err)
	}
	return "Left the voice channel."
}

// cmdSimple runs a one-shot session operation and maps its error to a reply.
func (h *CommandHandler) cmdSimple(ctx context.Context, msg InboundMessage, okText string, op func(*voice.Session) error) string {
	s, ok := h.registry.Get(msg.ChatID)
	if !ok {
		return "Not in a voice channel. Use `.join` first."
	}
	if err := op(s); err != nil {
		return replyError(err)
	}
	return okText
}

// cmdPlay starts preparation of a URL or attached file and replies again
// once playback begins or the preparation fails. A play that is superseded
// by a newer one stays silent so the channel only hears about the winner.
func (h *CommandHandler) cmdPlay(ctx context.Context, msg InboundMessage, args []string) string {
	s, ok := h.registry.Get(msg.ChatID)
	if !ok || !s.Status().Connected {
		// An unjoined session is rejected before any attachment download.
		return "Not in a voice channel. Use `.join` first."
	}

	src, err := h.resolveSource(ctx, msg, args)
	if err != nil {
		return replyError(err)
	}

	res, err := s.Play(ctx, src)
	if err != nil {
		return replyError(err)
	}

	go h.awaitPlay(msg, src, res)
	return fmt.Sprintf("Preparing %s ...", src)
}

// resolveSource turns command arguments or an attachment into a play source.
// Attached files are spooled to disk; the pipeline consumes the copy.
func (h *CommandHandler) resolveSource(ctx context.Context, msg InboundMessage, args []string) (voice.Source, error) {
	if len(args) > 0 {
		return voice.Source{URL: args[0]}, nil
	}
	if msg.Attachment == nil {
		return voice.Source{}, fmt.Errorf("chat: play needs a link or an attached file")
	}
	data, err := h.adapter.DownloadAttachment(ctx, *msg.Attachment)
	if err != nil {
		return voice.Source{}, fmt.Errorf("chat: download attachment: %w", err)
	}
	name := filepath.Base(msg.Attachment.FileName)
	if name == "" || name == "." {
		name = "attachment"
	}
	path := filepath.Join(h.spoolDir, msg.ChatID+"-"+name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return voice.Source{}, fmt.Errorf("chat: spool attachment: %w", err)
	}
	return voice.Source{LocalPath: path}, nil
}

// awaitPlay waits for one preparation run to finish and posts the outcome.
func (h *CommandHandler) awaitPlay(msg InboundMessage, src voice.Source, res <-chan error) {
	err := <-res
	if errors.Is(err, context.Canceled) {
		// Superseded or torn down; the follow-up command already replied.
		return
	}

	ctx := context.Background()
	if err != nil {
		h.reply(ctx, msg, fmt.Sprintf("Could not play %s: %v", src, err))
		return
	}
	h.recordPlay(msg.ChatID, src)
	h.reply(ctx, msg, fmt.Sprintf("Now playing %s", src))
}

// recordPlay appends a play-history row. History is best-effort.
func (h *CommandHandler) recordPlay(chatID string, src voice.Source) {
	if h.db == nil {
		return
	}
	kind := "url"
	source := src.URL
	if src.LocalPath != "" {
		kind = "attachment"
		source = filepath.Base(src.LocalPath)
	}
	rec := models.PlayRecord{ChatID: chatID, Source: source, Kind: kind, PlayedAt: time.Now()}
	if err := h.db.Create(&rec).Error; err != nil {
		log.Printf("chat: record play for chat %s: %v", chatID, err)
	}
}

// cmdShazam recognizes an attached audio sample.
func (h *CommandHandler) cmdShazam(ctx context.Context, msg InboundMessage) string {
	if h.recognizer == nil {
		return "Recognition is not configured."
	}
	att := msg.Attachment
	if att == nil {
		return "Attach an audio clip to recognize."
	}
	if !isAudioMime(att.MimeType) {
		return fmt.Sprintf("Cannot recognize %q, send an audio clip.", att.FileName)
	}

	sample, err := h.adapter.DownloadAttachment(ctx, *att)
	if err != nil {
		return fmt.Sprintf("Could not download the clip: %v", err)
	}
	track, err := h.recognizer.Recognize(ctx, sample)
	if errors.Is(err, recognize.ErrNoMatch) {
		return "No match found."
	}
	if err != nil {
		return fmt.Sprintf("Recognition failed: %v", err)
	}
	if track.Artist == "" {
		return fmt.Sprintf("That sounds like **%s**.", track.Title)
	}
	return fmt.Sprintf("That sounds like **%s** by %s.", track.Title, track.Artist)
}

// cmdStatus reports this chat's session.
func (h *CommandHandler) cmdStatus(msg InboundMessage) string {
	s, ok := h.registry.Get(msg.ChatID)
	if !ok {
		return "Not in a voice channel."
	}
	st := s.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "Chat: %s\n", st.ChatID)
	fmt.Fprintf(&b, "Connected: %v\n", st.Connected)
	fmt.Fprintf(&b, "State: %s\n", st.State)
	fmt.Fprintf(&b, "Muted: %v", st.Muted)
	if st.Artifact != "" {
		fmt.Fprintf(&b, "\nLoaded: %s", filepath.Base(st.Artifact))
	}
	return b.String()
}

// cmdDebug dumps every live session, for operators chasing stuck chats.
func (h *CommandHandler) cmdDebug(msg InboundMessage) string {
	statuses := h.registry.Statuses()
	if len(statuses) == 0 {
		return "No live voice sessions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d)\n", len(statuses))
	for _, st := range statuses {
		marker := " "
		if st.ChatID == msg.ChatID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %-20s %-10s muted=%-5v artifact=%s\n",
			marker, st.ChatID, st.State, st.Muted, st.Artifact)
	}
	return b.String()
}

// reply sends a follow-up message back to the originating channel.
func (h *CommandHandler) reply(ctx context.Context, msg InboundMessage, text string) {
	err := h.adapter.Send(ctx, OutboundMessage{
		ChatID:    msg.ChatID,
		ChannelID: msg.ChannelID,
		Text:      text,
	})
	if err != nil {
		log.Printf("chat: send reply to chat %s: %v", msg.ChatID, err)
	}
}

// replyError renders a session or pipeline error for the channel.
func replyError(err error) string {
	var se *voice.StateError
	if errors.As(err, &se) {
		return fmt.Sprintf("Cannot %s right now: %s.", se.Op, se.Reason)
	}
	return fmt.Sprintf("Error: %v", err)
}

// isAudioMime reports whether a MIME type looks like playable audio. Voice
// notes on some platforms arrive as video containers with an audio track.
func isAudioMime(mime string) bool {
	return strings.HasPrefix(mime, "audio/") || strings.HasPrefix(mime, "video/")
}

// helpText returns usage information for all commands.
func helpText() string {
	return "**Calliope Commands**\n" +
		"`.join` / `.leave` — enter or leave the voice channel\n" +
		"`.play <url>` — fetch and play a stream (or attach a file)\n" +
		"`.stop` `.pause` `.resume` `.replay` — playback control\n" +
		"`.mute` / `.unmute` — toggle outgoing audio\n" +
		"`.shazam` — recognize an attached audio clip\n" +
		"`.status` — this chat's session\n" +
		"`.debug` — all live sessions\n" +
		"`.help` — this message"
}
