package settings

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// Settings 抽象用户设置存储
type Settings interface {
	KeyStatus(provider string) (config.KeyStatus, error)
	SetAPIKey(provider, key string, persist bool) error
	SystemPrompt() string
	SetSystemPrompt(prompt string) error
	DefaultSystemPrompt() string
	Theme() string
	SetTheme(theme string) error
}

type Handler struct {
	settings Settings
}

func New(settings Settings) *Handler {
	return &Handler{settings: settings}
}

// RegisterRoutes 注册设置路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/settings", func(sr chi.Router) {
		sr.Get("/keys/{provider}", h.handleGetKey)
		sr.Put("/keys/{provider}", h.handlePutKey)
		sr.Get("/prompt", h.handleGetPrompt)
		sr.Put("/prompt", h.handlePutPrompt)
		sr.Get("/theme", h.handleGetTheme)
		sr.Put("/theme", h.handlePutTheme)
	})
}

// handleGetKey 只返回密钥是否存在及来源，从不返回密钥本身
func (h *Handler) handleGetKey(w http.ResponseWriter, r *http.Request) {
	status, err := h.settings.KeyStatus(chi.URLParam(r, "provider"))
	if err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handlePutKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key     string `json:"key"`
		Persist bool   `json:"persist"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	provider := chi.URLParam(r, "provider")
	if err := h.settings.SetAPIKey(provider, payload.Key, payload.Persist); err != nil {
		respondSettingsError(w, err)
		return
	}

	status, err := h.settings.KeyStatus(provider)
	if err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, status)
}

func (h *Handler) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	h.respondPrompt(w)
}

func (h *Handler) handlePutPrompt(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Prompt string `json:"prompt"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.settings.SetSystemPrompt(payload.Prompt); err != nil {
		respondSettingsError(w, err)
		return
	}
	h.respondPrompt(w)
}

func (h *Handler) respondPrompt(w http.ResponseWriter) {
	prompt := h.settings.SystemPrompt()
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"prompt":    prompt,
		"isDefault": prompt == h.settings.DefaultSystemPrompt(),
	})
}

func (h *Handler) handleGetTheme(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"theme": h.settings.Theme()})
}

func (h *Handler) handlePutTheme(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Theme string `json:"theme"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.settings.SetTheme(payload.Theme); err != nil {
		respondSettingsError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{"theme": h.settings.Theme()})
}

func respondSettingsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, config.ErrUnknownProvider):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, config.ErrInvalidTheme):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[config] settings request failed: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to save settings")
	}
}
