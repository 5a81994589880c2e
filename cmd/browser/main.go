package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/thoughtforge/backend/internal/browser"
	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/ai"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/export"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

func main() {
	apiBase := flag.String("api", "http://localhost:8080", "backend base URL, used for the OneNote sign-in hint")
	logFile := flag.String("log", "", "write logs to this file (default: discard)")
	flag.Parse()

	if *logFile != "" {
		f, err := tea.LogToFile(*logFile, "browser")
		if err != nil {
			fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
	} else {
		log.SetOutput(io.Discard)
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l := layout.New(cfg.Storage.Root)
	settings := config.NewSettings(l, cfg, ai.DefaultSystemPrompt)
	store := conversation.NewStore(l, nil)

	opts := browser.Options{
		Source:   store,
		Theme:    settings.Theme(),
		LoginURL: strings.TrimRight(*apiBase, "/") + "/api/export/auth/login",
	}
	if cfg.Export.Enabled() {
		auth := export.NewAuth(cfg.Export, l)
		notes := export.NewOneNote(cfg.Export.GraphBaseURL, auth)
		opts.Exporter = export.NewExporter(notes, cfg.Export.Notebook, cfg.Export.Section)
	}

	p := tea.NewProgram(browser.New(ctx, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "browser: %v\n", err)
		os.Exit(1)
	}
}
