package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/calliope/internal/config"
	"github.com/zulandar/calliope/internal/db"
	"github.com/zulandar/calliope/internal/models"
	"github.com/zulandar/calliope/internal/settings"
)

func newDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system prerequisites and configuration",
		Long:  "Runs diagnostic checks on Calliope prerequisites: config, external binaries, database, schema, data directory, and credentials.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Calliope config file")
	return cmd
}

type checkResult struct {
	name   string
	status string // "PASS", "FAIL", "WARN"
	detail string
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Calliope Doctor")
	fmt.Fprintln(out, "===============")

	var results []checkResult

	// 1. Config
	cfg, cfgResult := checkConfig(configPath)
	results = append(results, cfgResult)

	// 2. External binaries
	if cfg != nil {
		results = append(results, checkBinary("ffmpeg", cfg.Tools.FFmpeg))
		results = append(results, checkBinary("yt-dlp", cfg.Tools.YtDlp))
	} else {
		results = append(results, checkBinary("ffmpeg", "ffmpeg"))
		results = append(results, checkBinary("yt-dlp", "yt-dlp"))
	}

	// 3. Data directory
	if cfg != nil {
		results = append(results, checkDataDir(cfg.DataDir))
	} else {
		results = append(results, checkResult{"Data dir", "FAIL", "skipped (no config)"})
	}

	// 4. Database and schema
	if cfg != nil {
		dbResult, tokenResult := checkDatabase(cfg)
		results = append(results, dbResult, tokenResult)
	} else {
		results = append(results, checkResult{"Database", "FAIL", "skipped (no config)"})
		results = append(results, checkResult{"Discord token", "FAIL", "skipped (no config)"})
	}

	// Print results.
	passed, failed, warned := 0, 0, 0
	for _, r := range results {
		printCheckResult(out, r)
		switch r.status {
		case "PASS":
			passed++
		case "FAIL":
			failed++
		case "WARN":
			warned++
		}
	}

	fmt.Fprintf(out, "\n%d passed, %d failed, %d warning\n", passed, failed, warned)

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}

func printCheckResult(out io.Writer, r checkResult) {
	fmt.Fprintf(out, "[%s] %s: %s\n", r.status, r.name, r.detail)
}

func checkConfig(path string) (*config.Config, checkResult) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, checkResult{"Config file", "FAIL", fmt.Sprintf("%s: %v", path, err)}
	}
	return cfg, checkResult{"Config file", "PASS", path}
}

// checkBinary verifies an external tool is runnable. ffmpeg is mandatory
// for transcoding; yt-dlp is only needed for URL sources, so a missing
// yt-dlp downgrades to a warning.
func checkBinary(label, bin string) checkResult {
	path, err := exec.LookPath(bin)
	if err != nil {
		if label == "yt-dlp" {
			return checkResult{label, "WARN", "not found (`.play <url>` needs this; attachments still work)"}
		}
		return checkResult{label, "FAIL", "not found in PATH"}
	}

	cmd := exec.Command(path, "-version")
	if label == "yt-dlp" {
		cmd = exec.Command(path, "--version")
	}
	out, err := cmd.Output()
	if err != nil {
		return checkResult{label, "PASS", "found (version unknown)"}
	}
	version := strings.TrimSpace(strings.Split(string(out), "\n")[0])
	return checkResult{label, "PASS", version}
}

func checkDataDir(dir string) checkResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{"Data dir", "FAIL", fmt.Sprintf("create %s: %v", dir, err)}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return checkResult{"Data dir", "FAIL", fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return checkResult{"Data dir", "PASS", dir}
}

// checkDatabase opens the settings database, verifies the schema, and
// reports whether a Discord token is configured anywhere.
func checkDatabase(cfg *config.Config) (checkResult, checkResult) {
	gdb, err := db.Connect(cfg.DB.Driver, cfg.DB.Path, cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
	if err != nil {
		return checkResult{"Database", "FAIL", err.Error()},
			checkResult{"Discord token", "FAIL", "skipped (no database)"}
	}

	dbResult := checkResult{"Database", "PASS", fmt.Sprintf("%s ready", cfg.DB.Driver)}
	if !gdb.Migrator().HasTable(&models.Setting{}) {
		dbResult = checkResult{"Database", "WARN", "schema not migrated (run `calliope db init`)"}
	}

	token := cfg.Discord.Token
	if store, err := settings.NewStore(gdb); err == nil && gdb.Migrator().HasTable(&models.Setting{}) {
		token = store.GetDefault(settings.KeyBotToken, token)
	}
	if token == "" {
		return dbResult, checkResult{"Discord token", "FAIL",
			fmt.Sprintf("not configured (set discord.token or run `calliope settings set %s --prompt`)", settings.KeyBotToken)}
	}
	return dbResult, checkResult{"Discord token", "PASS", "configured"}
}
