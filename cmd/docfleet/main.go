package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/docfleet/internal/config"
	"git.home.luguber.info/inful/docfleet/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" type:"path"`
	Version kong.VersionFlag `help:"Print version and exit"`

	Serve ServeCmd `cmd:"" help:"Run the documentation build daemon"`
	Build BuildCmd `cmd:"" help:"Build one repository ref into a local directory and exit"`
	GC    GCCmd    `cmd:"" name:"gc" help:"Run retention and orphan-workspace cleanup once"`
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("docfleet"),
		kong.Description("Documentation build control plane: clones, provisions, builds and publishes Sphinx docs."),
		kong.Vars{"version": fmt.Sprintf("docfleet %s (%s, built %s)",
			version.Version, version.GitCommit, version.BuildTime)},
	)

	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "docfleet: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Log)

	if err := ctx.Run(cfg); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(settings config.LogSettings) {
	var level slog.Level
	switch settings.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if settings.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
