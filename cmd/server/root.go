package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Joeycho/xnat-dicomweb-proxy/internal/config"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "xnat-dicomweb-proxy",
	Short: "DICOMweb (QIDO-RS / WADO-RS) front end for an XNAT archive",
	Long: "xnat-dicomweb-proxy serves the sessions and scans of an XNAT archive as\n" +
		"DICOMweb studies and series, reading instances straight from the archive\n" +
		"filesystem.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.GetEnv("CONFIG_FILE", "/etc/xnat-dicomweb-proxy/config.yaml"), "path to the YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// setupLogging installs the default slog handler.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	handlerOptions := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, handlerOptions)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOptions)
	}
	slog.SetDefault(slog.New(handler))
}
