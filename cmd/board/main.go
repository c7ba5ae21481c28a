// Package main provides the terminal station board.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"

	"github.com/stationboard/stationboard/internal/bootstrap"
	"github.com/stationboard/stationboard/internal/config"
	"github.com/stationboard/stationboard/internal/tui"
	"github.com/stationboard/stationboard/internal/worker"
)

// Version is set at build time via -ldflags
var Version = "dev"

func main() {
	var (
		showVersion bool
		logPath     string
		configDir   string
	)
	flag.BoolVar(&showVersion, "version", false, "print version")
	flag.StringVar(&logPath, "log", "", "write logs to this file")
	flag.StringVar(&configDir, "config", "", "directory containing stationboard.yaml")
	flag.Parse()

	if showVersion {
		fmt.Printf("stationboard %s\n", Version)
		return
	}

	if err := run(logPath, configDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(logPath, configDir string) error {
	var dirs []string
	if configDir != "" {
		dirs = append(dirs, configDir)
	}
	cfg, err := config.Load(dirs...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// The terminal belongs to the board; logs go to a file or nowhere
	var out io.Writer = io.Discard
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	log := zerolog.New(out).
		Level(cfg.Level()).
		With().
		Timestamp().
		Str("service", "stationboard-board").
		Str("version", Version).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: log})
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer stack.Close()

	if err := stack.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("board started degraded")
	}

	model := tui.New(tui.Config{
		Board:   stack.Board,
		Actions: stack.App,
		Catalog: stack.Catalog,
		Context: ctx,
	})
	defer model.Close()

	refreshJob := worker.NewRefreshJob(worker.RefreshJobConfig{
		Config: worker.RefreshConfig{
			Interval: cfg.Worker.Interval,
			Timeout:  cfg.Worker.Timeout,
		},
		Board:  stack.App,
		Flags:  stack.Flags,
		Logger: log,
	})
	go func() { _ = refreshJob.Loop(ctx) }()

	p := tea.NewProgram(model, tea.WithAltScreen())

	log.Info().Msg("starting TUI")
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	log.Info().Msg("shutting down")
	return nil
}
