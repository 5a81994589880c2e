package session

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/conversation"
	sessionsvc "github.com/zhouzirui/thoughtforge/backend/internal/service/session"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

const maxChunkBytes = 32 << 20

// Controller 抽象录音会话控制器
type Controller interface {
	Status() sessionsvc.Status
	Turns() []conversation.Turn
	StartRecording(ctx context.Context) (sessionsvc.Status, error)
	AppendAudio(p []byte) error
	StopRecording(ctx context.Context) (sessionsvc.Result, error)
	Toggle(ctx context.Context) (sessionsvc.Result, error)
	NewConversation(ctx context.Context) (sessionsvc.Status, error)
}

// Handler 录音会话的HTTP处理器
type Handler struct {
	controller Controller
}

func New(controller Controller) *Handler {
	return &Handler{controller: controller}
}

// RegisterRoutes 注册会话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(sr chi.Router) {
		sr.Get("/", h.handleStatus)
		sr.Post("/new", h.handleNew)
		sr.Post("/record/start", h.handleStart)
		sr.Post("/record/chunk", h.handleChunk)
		sr.Post("/record/stop", h.handleStop)
		sr.Post("/record/toggle", h.handleToggle)
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"status": h.controller.Status(),
		"turns":  h.controller.Turns(),
	})
}

func (h *Handler) handleNew(w http.ResponseWriter, r *http.Request) {
	status, err := h.controller.NewConversation(r.Context())
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, status)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	status, err := h.controller.StartRecording(r.Context())
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleChunk(w http.ResponseWriter, r *http.Request) {
	n, err := h.appendBody(w, r)
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int{"received": n})
}

// handleStop 接受可选的最后一段音频，然后结束录音
func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	if _, err := h.appendBody(w, r); err != nil {
		respondSessionError(w, err)
		return
	}

	result, err := h.controller.StopRecording(r.Context())
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request) {
	result, err := h.controller.Toggle(r.Context())
	if err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

// appendBody 读取整段请求体后再交给控制器，超限的分片整体拒绝
func (h *Handler) appendBody(w http.ResponseWriter, r *http.Request) (int, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBytes))
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}
	if err := h.controller.AppendAudio(data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func respondSessionError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		utils.RespondError(w, http.StatusRequestEntityTooLarge, "audio chunk too large")
	case errors.Is(err, sessionsvc.ErrBusy), errors.Is(err, sessionsvc.ErrNotRecording), errors.Is(err, sessionsvc.ErrRecorderBusy):
		utils.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, sessionsvc.ErrChunksNotSupported):
		utils.RespondError(w, http.StatusNotImplemented, err.Error())
	default:
		log.Printf("[session] request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "session operation failed")
	}
}
