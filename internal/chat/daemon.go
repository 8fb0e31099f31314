package chat

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/calliope/internal/config"
	"github.com/zulandar/calliope/internal/media"
	"github.com/zulandar/calliope/internal/recognize"
	"github.com/zulandar/calliope/internal/voice"
	"gorm.io/gorm"
)

// Daemon is the main Calliope process. It connects to a chat platform via
// an Adapter, pumps inbound messages to the Router, and runs the periodic
// stale-download sweep.
type Daemon struct {
	cfg        *config.Config
	adapter    Adapter
	registry   *voice.Registry
	recognizer recognize.Recognizer
	db         *gorm.DB
	out        io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	Config     *config.Config
	Adapter    Adapter
	Registry   *voice.Registry
	Recognizer recognize.Recognizer // optional; disables .shazam when nil
	DB         *gorm.DB             // optional; disables play history when nil
	Out        io.Writer            // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("chat: daemon: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("chat: daemon: adapter is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("chat: daemon: registry is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Recognizer == nil {
		fmt.Fprintf(out, "chat: no recognizer configured; .shazam disabled\n")
	}
	return &Daemon{
		cfg:        opts.Config,
		adapter:    opts.Adapter,
		registry:   opts.Registry,
		recognizer: opts.Recognizer,
		db:         opts.DB,
		out:        out,
	}, nil
}

// Run starts the daemon. It connects the adapter, builds the command
// handler and router, starts the cleanup schedule, and blocks until the
// context is cancelled. On shutdown every live voice session is left and
// the adapter is closed.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Calliope connecting...\n")
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("chat: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	handler, err := NewCommandHandler(CommandHandlerOpts{
		Registry:   d.registry,
		Adapter:    d.adapter,
		Recognizer: d.recognizer,
		DB:         d.db,
		SpoolDir:   d.cfg.DownloadsDir(),
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("chat: build command handler: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Handler:   handler,
		Adapter:   d.adapter,
		BotUserID: botUserID,
		Out:       d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("chat: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("chat: listen: %w", err)
	}

	sched, err := d.startCleanup()
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("chat: start cleanup: %w", err)
	}

	fmt.Fprintf(d.out, "Calliope online\n")

	// Main event loop: pump inbound messages until context is cancelled.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Calliope shutting down...\n")
			d.shutdown(router, sched)
			fmt.Fprintf(d.out, "Calliope stopped\n")
			return nil

		case msg, ok := <-inbound:
			if !ok {
				// Adapter closed the channel.
				fmt.Fprintf(d.out, "Calliope inbound channel closed\n")
				d.shutdown(router, sched)
				return nil
			}
			router.Handle(ctx, msg)
		}
	}
}

// startCleanup schedules the periodic stale-download sweep.
func (d *Daemon) startCleanup() (*cron.Cron, error) {
	sched := cron.New()
	maxAge := time.Duration(d.cfg.Cleanup.MaxAgeMin) * time.Minute
	downloads := d.cfg.DownloadsDir()
	_, err := sched.AddFunc(d.cfg.Cleanup.Schedule, func() {
		n, err := media.SweepStale(downloads, maxAge)
		if err != nil {
			log.Printf("chat: sweep downloads: %v", err)
			return
		}
		if n > 0 {
			fmt.Fprintf(d.out, "chat: swept %d stale download(s)\n", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("bad schedule %q: %w", d.cfg.Cleanup.Schedule, err)
	}
	sched.Start()
	return sched, nil
}

// shutdown tears everything down in dependency order: stop accepting
// commands, leave voice everywhere, then close the platform connection.
func (d *Daemon) shutdown(router *Router, sched *cron.Cron) {
	sched.Stop()
	router.Close()

	leaveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, chatID := range d.registry.List() {
		s, ok := d.registry.Get(chatID)
		if !ok {
			continue
		}
		if s.State() == voice.StateIdle {
			d.registry.Remove(chatID)
			continue
		}
		if err := s.Leave(leaveCtx); err != nil {
			log.Printf("chat: leave chat %s on shutdown: %v", chatID, err)
		}
		d.registry.Remove(chatID)
	}

	if err := d.adapter.Close(); err != nil {
		log.Printf("chat: close adapter: %v", err)
	}
}
