package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/thoughtforge/backend/internal/handler/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/events"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/export"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/health"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/playback"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/session"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/settings"
	"github.com/zhouzirui/thoughtforge/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/thoughtforge/backend/internal/middleware"
	eventsvc "github.com/zhouzirui/thoughtforge/backend/internal/service/events"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// ConversationStore covers both the browsing and the export handlers.
type ConversationStore interface {
	conversation.Store
	export.Store
}

// Dependencies 汇总路由需要的服务。Speech 与 Exporter 为 nil 时对应路由返回 503。
type Dependencies struct {
	StorageRoot   string
	Conversations ConversationStore
	Controller    session.Controller
	Player        playback.Player
	Settings      settings.Settings
	Speech        speech.SpeechService
	Exporter      export.Exporter
	Auth          export.Auth
	Hub           events.Subscriber
	Publisher     eventsvc.Publisher
	DiskProbe     health.DiskProbe
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		health.New(deps.StorageRoot, deps.DiskProbe).RegisterRoutes(api)
		conversation.New(deps.Conversations).RegisterRoutes(api)
		session.New(deps.Controller).RegisterRoutes(api)
		playback.New(deps.Player).RegisterRoutes(api)
		settings.New(deps.Settings).RegisterRoutes(api)

		if deps.Hub != nil {
			events.New(deps.Hub).RegisterRoutes(api)
		}

		if deps.Exporter != nil && deps.Auth != nil {
			export.New(deps.Exporter, deps.Auth, deps.Conversations, deps.Publisher).RegisterRoutes(api)
		} else {
			api.HandleFunc("/export/*", unavailable("note export unavailable"))
		}

		if deps.Speech != nil {
			speech.New(deps.Speech).RegisterRoutes(api)
		} else {
			api.HandleFunc("/speech/*", unavailable("speech service unavailable"))
		}
	})

	return r
}

func unavailable(message string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondError(w, http.StatusServiceUnavailable, message)
	}
}
