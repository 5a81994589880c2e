package conversation

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	convservice "github.com/zhouzirui/thoughtforge/backend/internal/service/conversation"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// Store 抽象会话浏览所需的存储操作
type Store interface {
	ListSessions(ctx context.Context) ([]conversation.Conversation, error)
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	LoadArtifactNames(ctx context.Context, id string) ([]string, error)
	ArtifactPath(ctx context.Context, id, name string) (string, error)
}

// Handler 会话浏览的HTTP处理器
type Handler struct {
	store Store
}

// New 创建会话浏览处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话浏览路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(cr chi.Router) {
		cr.Get("/", h.handleList)
		cr.Get("/{id}", h.handleGet)
		cr.Get("/{id}/files", h.handleFiles)
		cr.Get("/{id}/files/{name}", h.handleFile)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	convs, err := h.store.ListSessions(r.Context())
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	summaries := make([]conversation.Summary, 0, len(convs))
	for _, conv := range convs {
		summaries = append(summaries, conv.Summarize())
	}
	utils.RespondJSON(w, http.StatusOK, summaries)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) handleFiles(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.LoadArtifactNames(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"files": names})
}

func (h *Handler) handleFile(w http.ResponseWriter, r *http.Request) {
	path, err := h.store.ArtifactPath(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"))
	if err != nil {
		respondStoreError(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, convservice.ErrInvalidID):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, convservice.ErrConversationNotFound), errors.Is(err, os.ErrNotExist):
		utils.RespondError(w, http.StatusNotFound, "conversation not found")
	default:
		log.Printf("[store] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to read conversation")
	}
}
