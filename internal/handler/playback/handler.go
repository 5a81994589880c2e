package playback

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	convservice "github.com/zhouzirui/thoughtforge/backend/internal/service/conversation"
	playbacksvc "github.com/zhouzirui/thoughtforge/backend/internal/service/playback"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// Player 抽象单例播放器
type Player interface {
	Play(ctx context.Context, convID, turnID string) (playbacksvc.Status, error)
	Seek(ctx context.Context, convID, turnID string, pos time.Duration) (playbacksvc.Status, error)
	Stop(ctx context.Context) playbacksvc.Status
	Status() playbacksvc.Status
}

type Handler struct {
	player Player
}

func New(player Player) *Handler {
	return &Handler{player: player}
}

// RegisterRoutes 注册播放路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/playback", func(pr chi.Router) {
		pr.Get("/", h.handleStatus)
		pr.Post("/play", h.handlePlay)
		pr.Post("/seek", h.handleSeek)
		pr.Post("/stop", h.handleStop)
	})
}

type playbackRequest struct {
	ConversationID string `json:"conversationId"`
	TurnID         string `json:"turnId"`
	PositionMs     int64  `json:"positionMs"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (playbackRequest, bool) {
	var req playbackRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.TurnID = strings.TrimSpace(req.TurnID)
	if req.ConversationID == "" || req.TurnID == "" {
		utils.RespondError(w, http.StatusBadRequest, "conversationId and turnId are required")
		return req, false
	}
	return req, true
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.player.Status())
}

func (h *Handler) handlePlay(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	status, err := h.player.Play(r.Context(), req.ConversationID, req.TurnID)
	if err != nil {
		respondPlaybackError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleSeek(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	pos := time.Duration(req.PositionMs) * time.Millisecond
	status, err := h.player.Seek(r.Context(), req.ConversationID, req.TurnID, pos)
	if err != nil {
		respondPlaybackError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.player.Stop(r.Context()))
}

func respondPlaybackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, convservice.ErrInvalidID):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, playbacksvc.ErrTurnNotFound), errors.Is(err, convservice.ErrConversationNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, playbacksvc.ErrNotLoaded), errors.Is(err, playbacksvc.ErrInterrupted):
		utils.RespondError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("[playback] request failed: %v", err)
		utils.RespondError(w, http.StatusBadGateway, "playback failed")
	}
}
