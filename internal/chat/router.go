package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// queueDepth bounds each chat's pending command queue. A full queue drops
// the newest command rather than blocking the inbound pump.
const queueDepth = 16

// Router classifies inbound chat messages and executes dot-commands.
// Commands for the same chat run strictly in arrival order on a dedicated
// per-chat worker; commands for different chats run independently.
type Router struct {
	handler   *CommandHandler
	adapter   Adapter
	botUserID string // the bot's own user ID (to filter self-messages)
	out       io.Writer

	mu      sync.Mutex
	queues  map[string]chan queuedCommand
	wg      sync.WaitGroup
	closing bool
}

// queuedCommand is one command waiting on a chat's worker.
type queuedCommand struct {
	ctx context.Context
	msg InboundMessage
	cmd Command
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Handler   *CommandHandler
	Adapter   Adapter
	BotUserID string    // bot's user ID for self-message filtering
	Out       io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("chat: router: handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("chat: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		handler:   opts.Handler,
		adapter:   opts.Adapter,
		botUserID: opts.BotUserID,
		out:       out,
		queues:    make(map[string]chan queuedCommand),
	}, nil
}

// Handle classifies a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Recognized dot-command → enqueue on the chat's worker
//  3. Everything else → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if r.isSelfMessage(msg) {
		return
	}

	cmd, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	fmt.Fprintf(r.out, "chat: router: recv [chat=%s user=%s] %q\n",
		msg.ChatID, msg.UserName, truncate(strings.TrimSpace(msg.Text), 80))

	q := r.queue(msg.ChatID)
	if q == nil {
		return
	}
	select {
	case q <- queuedCommand{ctx: ctx, msg: msg, cmd: cmd}:
	default:
		log.Printf("chat: router: chat %s queue full, dropping %q", msg.ChatID, cmd.Name)
		r.send(ctx, msg, "Too many pending commands, try again in a moment.")
	}
}

// queue returns the chat's command queue, starting its worker on first use.
// Returns nil after Close.
func (r *Router) queue(chatID string) chan queuedCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil
	}
	if q, ok := r.queues[chatID]; ok {
		return q
	}
	q := make(chan queuedCommand, queueDepth)
	r.queues[chatID] = q
	r.wg.Add(1)
	go r.work(chatID, q)
	return q
}

// work drains one chat's queue until Close.
func (r *Router) work(chatID string, q <-chan queuedCommand) {
	defer r.wg.Done()
	for qc := range q {
		reply := r.handler.Execute(qc.ctx, qc.msg, qc.cmd)
		if reply != "" {
			r.send(qc.ctx, qc.msg, reply)
		}
	}
}

// Close stops all chat workers after their pending commands finish.
func (r *Router) Close() {
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return
	}
	r.closing = true
	for _, q := range r.queues {
		close(q)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// send posts a reply to the message's channel.
func (r *Router) send(ctx context.Context, msg InboundMessage, text string) {
	err := r.adapter.Send(ctx, OutboundMessage{
		ChatID:    msg.ChatID,
		ChannelID: msg.ChannelID,
		Text:      text,
	})
	if err != nil {
		log.Printf("chat: router: send reply: %v", err)
	}
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
