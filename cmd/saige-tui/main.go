// Command saige-tui runs the SAIGE terminal console.
//
// Usage:
//
//	saige-tui [flags]
//
// Flags:
//
//	-config   Path to the config file (default: <UserConfigDir>/saige/config.yaml)
//
// The terminal is taken by the interface, so logs go to the configured log file, or are discarded.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/MegaGrindStone/saige-web-ui/internal/config"
	"github.com/MegaGrindStone/saige-web-ui/internal/services"
	"github.com/MegaGrindStone/saige-web-ui/internal/session"
	"github.com/MegaGrindStone/saige-web-ui/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	cfgPath := flag.String("config", "", "Path to the config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		log.Fatal(err)
	}
}

func run(cfgPath string) error {
	if cfgPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, closeLog, err := cfg.NewLogger(io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	backend := services.NewSAIGE(cfg.BackendURL, nil, logger)
	chat, err := cfg.ChatStreamer(backend, logger)
	if err != nil {
		return fmt.Errorf("error creating chat streamer: %w", err)
	}
	sess := session.New(chat, logger, cfg.RendererOptions()...)

	model := tui.NewModel(sess, backend, cfg.TerminalStyle)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithMouseCellMotion())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}
