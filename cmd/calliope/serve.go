package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/calliope/internal/chat"
	chatdiscord "github.com/zulandar/calliope/internal/chat/discord"
	"github.com/zulandar/calliope/internal/config"
	"github.com/zulandar/calliope/internal/db"
	"github.com/zulandar/calliope/internal/media"
	"github.com/zulandar/calliope/internal/recognize"
	"github.com/zulandar/calliope/internal/settings"
	"github.com/zulandar/calliope/internal/voice"
	voicediscord "github.com/zulandar/calliope/internal/voice/discord"
	"github.com/zulandar/calliope/internal/web"
)

const defaultConfigPath = "calliope.yaml"

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Calliope daemon",
		Long:  "Connects to Discord, listens for dot-commands, and serves the web control surface when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Calliope config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// The sqlite file lives under the data dir, which may not exist yet.
	if cfg.DB.Driver == "sqlite" {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
		}
	}

	gdb, err := db.Connect(cfg.DB.Driver, cfg.DB.Path, cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	if err != nil {
		return err
	}
	if err := db.Migrate(gdb); err != nil {
		return err
	}
	store, err := settings.NewStore(gdb)
	if err != nil {
		return err
	}

	// Secrets in the settings store override the config file.
	token := store.GetDefault(settings.KeyBotToken, cfg.Discord.Token)
	if token == "" {
		return fmt.Errorf("discord token is not configured (set discord.token in %s or run `calliope settings set %s --prompt`)",
			configPath, settings.KeyBotToken)
	}

	adapter, err := chatdiscord.New(chatdiscord.AdapterOpts{BotToken: token})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	// The voice transport rides on the same gateway connection, so the
	// adapter connects before anything else is wired.
	if err := adapter.Connect(ctx); err != nil {
		return err
	}
	transport, err := voicediscord.NewTransport(voicediscord.TransportOpts{
		Session:       adapter.Gateway(),
		VoiceChannels: cfg.Discord.VoiceChannels,
	})
	if err != nil {
		return err
	}

	pipeline, err := voice.NewPipeline(voice.PipelineOpts{
		Fetcher:    media.NewYtDlp(media.YtDlpOpts{Binary: cfg.Tools.YtDlp}),
		Transcoder: media.NewFFmpeg(media.FFmpegOpts{Binary: cfg.Tools.FFmpeg}),
		DataDir:    filepath.Join(cfg.DataDir, "artifacts"),
		WorkDir:    cfg.DownloadsDir(),
	})
	if err != nil {
		return err
	}
	registry, err := voice.NewRegistry(voice.RegistryOpts{Transport: transport, Pipeline: pipeline})
	if err != nil {
		return err
	}

	var recognizer recognize.Recognizer
	if cfg.Recognizer.URL != "" {
		client, err := recognize.NewClient(recognize.ClientOpts{
			URL:     cfg.Recognizer.URL,
			APIKey:  store.GetDefault(settings.KeyRecognizerKey, cfg.Recognizer.APIKey),
			Timeout: time.Duration(cfg.Recognizer.TimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		recognizer = client
	}

	daemon, err := chat.NewDaemon(chat.DaemonOpts{
		Config:     cfg,
		Adapter:    adapter,
		Registry:   registry,
		Recognizer: recognizer,
		DB:         gdb,
		Out:        out,
	})
	if err != nil {
		return err
	}

	if cfg.Web.Enabled {
		go func() {
			err := web.Start(ctx, web.StartOpts{
				Registry:   registry,
				DB:         gdb,
				Port:       cfg.Web.Port,
				AuthSecret: store.GetDefault(settings.KeyAuthSecret, cfg.Web.AuthSecret),
				Out:        out,
			})
			if err != nil {
				log.Printf("web: %v", err)
			}
		}()
	}

	return daemon.Run(ctx)
}
