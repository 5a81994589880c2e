package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/ai"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/events"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/export"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/playback"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/session"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/speech"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	l := layout.New(cfg.Storage.Root)
	if err := layout.EnsureDir(l.ConversationsDir()); err != nil {
		log.Fatalf("failed to prepare storage root %s: %v", l.Root(), err)
	}
	settings := config.NewSettings(l, cfg, ai.DefaultSystemPrompt)
	keys := settings.Resolver()

	if status, _ := settings.KeyStatus(config.ProviderArk); !status.Present {
		log.Println("Ark 凭证未配置，对话回复将使用兜底文案，可在设置中填写")
	}
	if status, _ := settings.KeyStatus(config.ProviderOpenAI); !status.Present {
		log.Println("OpenAI 凭证未配置，语音识别与合成不可用，可在设置中填写")
	}

	aiService := ai.NewService(cfg.AI, keys)
	speechService := speech.NewService(cfg.Speech, keys)

	hub := events.NewHub()
	var publisher events.Publisher = hub
	if cfg.Events.RedisEnabled() {
		redisPublisher, err := events.NewRedisPublisher(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB, cfg.Events.RedisChannel)
		if err != nil {
			log.Printf("warning: redis event mirror disabled: %v", err)
		} else {
			defer redisPublisher.Close()
			publisher = events.Multi{hub, redisPublisher}
			log.Printf("Mirroring events to redis channel %s", cfg.Events.RedisChannel)
		}
	}

	store := conversation.NewStore(l, aiService)
	controller := session.NewController(session.Dependencies{
		Namer:       layout.NewNamer(l),
		Store:       store,
		Recorder:    session.NewUploadRecorder(),
		Transcriber: speechService,
		Chat:        aiService,
		Prompts:     settings,
		Publisher:   publisher,
	})
	player := playback.NewPlayer(playback.NewClockEngine(), speechService, store, publisher, cfg.Playback.PollInterval)

	auth := export.NewAuth(cfg.Export, l)
	notes := export.NewOneNote(cfg.Export.GraphBaseURL, auth)
	exporter := export.NewExporter(notes, cfg.Export.Notebook, cfg.Export.Section)
	if !cfg.Export.Enabled() {
		log.Println("MICROSOFT_CLIENT_ID 未配置，OneNote 导出不可用")
	}

	router := handler.NewRouter(handler.Dependencies{
		StorageRoot:   l.Root(),
		Conversations: store,
		Controller:    controller,
		Player:        player,
		Settings:      settings,
		Speech:        speechService,
		Exporter:      exporter,
		Auth:          auth,
		Hub:           hub,
		Publisher:     publisher,
	})

	startServer(ctx, cfg.Server, router)
	player.Stop(context.Background())
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("ThoughtForgeAI backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
