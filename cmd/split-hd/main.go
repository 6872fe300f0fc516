package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boxtvstar/ai-split-hd/internal/archive"
	"github.com/boxtvstar/ai-split-hd/internal/config"
	"github.com/boxtvstar/ai-split-hd/internal/logging"
	"github.com/boxtvstar/ai-split-hd/internal/metrics"
)

// Set via -ldflags at build time.
var (
	version    = "dev"
	commitHash = ""
)

var (
	configFile string
	v          = config.New()
	cfg        *config.Config
)

// rootCmd is the main Cobra command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "split-hd",
	Short: "Split an image into a grid and enhance tiles with Gemini",
	Long: `split-hd cuts an image into a rows x cols grid of tiles, sends the tiles
you choose to a Gemini image model for an HD redraw, and exports the result
as a zip archive with one PNG per tile.

Examples:
  split-hd split -i poster.png -r 3 -c 3 --enhance 5 -o poster.zip
  split-hd split --pick --enhance-all
  split-hd serve --port 8080
  split-hd mcp`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: ./split-hd.toml or ~/.config/split-hd/split-hd.toml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.StringP("model", "m", "", "Gemini image model to use")
	pf.String("archive-method", string(archive.MethodDeflate), "Zip compression: deflate, zstd, store")
	pf.Bool("metrics", false, "Write EMF metrics to stderr")

	mustBind("log_level", "log-level")
	mustBind("gemini.model", "model")
	mustBind("archive.method", "archive-method")
	mustBind("metrics.enabled", "metrics")

	rootCmd.AddCommand(splitCmd, serveCmd, mcpCmd, versionCmd)
}

func mustBind(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind %s: %v", flag, err))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves configuration before any subcommand runs. Logs always
// go to stderr so the mcp subcommand keeps stdout for its protocol.
func loadConfig(cmd *cobra.Command, _ []string) error {
	logging.Init()

	loaded, err := config.Load(v, configFile)
	if err != nil {
		return err
	}
	cfg = loaded

	logging.InitWithOutput(cfg.LogLevel, os.Stderr)
	if cfg.Metrics.Enabled {
		metrics.SetOutput(os.Stderr)
	}

	log.Debug().Str("command", cmd.Name()).Str("config_file", v.ConfigFileUsed()).Msg("Configuration loaded")
	return nil
}

// logStartup emits the one-line startup summary shared by all subcommands.
func logStartup(name string) *logging.StartupLogger {
	return logging.NewStartupLogger(name).
		Version(version).
		CommitHash(commitHash).
		Resource("model", cfg.Gemini.Model).
		Resource("s3Bucket", cfg.S3.Bucket).
		Feature("metrics", cfg.Metrics.Enabled).
		Feature("s3Upload", cfg.S3.Enabled()).
		Config("archiveMethod", cfg.Archive.Method).
		Config("grid", fmt.Sprintf("%dx%d", cfg.Grid.Rows, cfg.Grid.Cols))
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	PersistentPreRunE: func(*cobra.Command, []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		if commitHash != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "split-hd %s (%s)\n", version, commitHash)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "split-hd %s\n", version)
	},
}
