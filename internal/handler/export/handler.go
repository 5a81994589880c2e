package export

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	convservice "github.com/zhouzirui/thoughtforge/backend/internal/service/conversation"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/events"
	exportsvc "github.com/zhouzirui/thoughtforge/backend/internal/service/export"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// Exporter 抽象导出服务
type Exporter interface {
	Export(ctx context.Context, conv conversation.Conversation) (exportsvc.Result, error)
	ExportAll(ctx context.Context, convs []conversation.Conversation, progress func(exportsvc.Progress)) (exportsvc.Summary, error)
}

// Auth 抽象 Microsoft 授权流程
type Auth interface {
	LoginURL() (string, error)
	Callback(ctx context.Context, state, code string) error
	Logout(ctx context.Context) error
	Status() exportsvc.AuthStatus
}

type Store interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	ListSessions(ctx context.Context) ([]conversation.Conversation, error)
}

// Handler 导出相关的HTTP处理器
type Handler struct {
	exporter  Exporter
	auth      Auth
	store     Store
	publisher events.Publisher
}

func New(exporter Exporter, auth Auth, store Store, publisher events.Publisher) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Handler{exporter: exporter, auth: auth, store: store, publisher: publisher}
}

// RegisterRoutes 注册导出与授权路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/export", func(er chi.Router) {
		er.Get("/auth/login", h.handleLogin)
		er.Get("/auth/callback", h.handleCallback)
		er.Post("/auth/logout", h.handleLogout)
		er.Get("/auth/status", h.handleAuthStatus)

		er.Get("/all", h.handleExportAll)
		er.Post("/{id}", h.handleExport)
	})
}

// handleLogin 跳转到 Microsoft 登录页；?mode=json 时返回 URL
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	url, err := h.auth.LoginURL()
	if err != nil {
		respondExportError(w, err)
		return
	}
	if r.URL.Query().Get("mode") == "json" {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"url": url})
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		log.Printf("[export] sign-in declined: %s %s", reason, query.Get("error_description"))
		writePage(w, http.StatusUnauthorized, "Sign-in failed", query.Get("error_description"))
		return
	}

	if err := h.auth.Callback(r.Context(), query.Get("state"), query.Get("code")); err != nil {
		log.Printf("[export] callback failed: %v", err)
		writePage(w, http.StatusUnauthorized, "Sign-in failed", err.Error())
		return
	}
	writePage(w, http.StatusOK, "Signed in", "You can close this window and return to ThoughtForgeAI.")
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		respondExportError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.auth.Status())
}

func (h *Handler) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.auth.Status())
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondExportError(w, err)
		return
	}

	result, err := h.exporter.Export(r.Context(), conv)
	if err != nil {
		respondExportError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// handleExportAll 以 SSE 推送批量导出进度
func (h *Handler) handleExportAll(w http.ResponseWriter, r *http.Request) {
	status := h.auth.Status()
	if !status.Configured {
		respondExportError(w, exportsvc.ErrNotConfigured)
		return
	}
	if !status.Authenticated {
		respondExportError(w, exportsvc.ErrNotAuthenticated)
		return
	}

	convs, err := h.store.ListSessions(r.Context())
	if err != nil {
		respondExportError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	summary, err := h.exporter.ExportAll(r.Context(), convs, func(p exportsvc.Progress) {
		utils.SendSSEEvent(w, flusher, "progress", p)
		h.publisher.Publish(r.Context(), events.Event{
			Type:           events.TypeExportProgress,
			ConversationID: p.ConversationID,
			Data:           map[string]any{"done": p.Done, "total": p.Total, "fraction": p.Fraction},
		})
	})
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, exportsvc.ErrNotAuthenticated) {
			code = http.StatusUnauthorized
		}
		utils.SendSSEEvent(w, flusher, "error", map[string]any{"status": code, "error": err.Error(), "summary": summary})
		return
	}
	utils.SendSSEEvent(w, flusher, "summary", summary)
}

func respondExportError(w http.ResponseWriter, err error) {
	var apiErr *exportsvc.APIError
	switch {
	case errors.Is(err, exportsvc.ErrNotAuthenticated), errors.Is(err, exportsvc.ErrInvalidState):
		utils.RespondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, exportsvc.ErrNotConfigured):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, convservice.ErrInvalidID):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, convservice.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &apiErr):
		utils.RespondError(w, http.StatusBadGateway, apiErr.Error())
	default:
		log.Printf("[export] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "export failed")
	}
}

func writePage(w http.ResponseWriter, status int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, "<!DOCTYPE html><html><head><title>%[1]s</title></head><body><h1>%[1]s</h1><p>%[2]s</p></body></html>",
		html.EscapeString(title), html.EscapeString(message))
}
