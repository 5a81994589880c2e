package speech

import (
	"context"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/thoughtforge/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/thoughtforge/backend/internal/service/speech"
	"github.com/zhouzirui/thoughtforge/backend/pkg/utils"
)

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
}

// New 创建语音处理器
func New(speechSvc SpeechService) *Handler {
	return &Handler{speechSvc: speechSvc}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{sessionID}", h.handleTranscribeWithSession)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{sessionID}", h.handleSynthesizeWithSession)
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, "")
}

// handleTranscribeWithSession 处理带会话ID的语音转文本请求
func (h *Handler) handleTranscribeWithSession(w http.ResponseWriter, r *http.Request) {
	h.processTranscribe(w, r, chi.URLParam(r, "sessionID"))
}

// handleSynthesize 处理文本转语音请求
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, "")
}

func (h *Handler) handleSynthesizeWithSession(w http.ResponseWriter, r *http.Request) {
	h.processSynthesize(w, r, chi.URLParam(r, "sessionID"))
}

func (h *Handler) processTranscribe(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	sessionID := overrideSessionID
	if sessionID == "" {
		sessionID = r.FormValue("sessionId")
	}
	if sessionID == "" {
		sessionID = "adhoc"
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    inferAudioFormat(header.Filename),
		Language:  r.FormValue("language"),
	})
	if err != nil {
		respondSpeechError(w, err, "speech recognition failed")
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) processSynthesize(w http.ResponseWriter, r *http.Request, overrideSessionID string) {
	var req speech.TTSRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if overrideSessionID != "" {
		req.SessionID = overrideSessionID
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "adhoc"
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		respondSpeechError(w, err, "speech synthesis failed")
		return
	}

	format := resp.Format
	if format == "" {
		format = "mp3"
	}
	w.Header().Set("Content-Type", audioContentType(format))
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		log.Printf("[speech] failed to write audio response: %v", err)
	}
}

func respondSpeechError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, speechsvc.ErrMissingAPIKey):
		utils.RespondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, speechsvc.ErrEmptyText), errors.Is(err, speechsvc.ErrEmptyAudio):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Printf("[speech] %s: %v", message, err)
		utils.RespondError(w, http.StatusBadGateway, message)
	}
}

// inferAudioFormat 从文件名推断音频格式
func inferAudioFormat(filename string) string {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".mp3", ".wav", ".webm", ".m4a", ".mp4", ".ogg", ".flac":
		return strings.TrimPrefix(ext, ".")
	case ".aac":
		return "m4a"
	default:
		return "mp4"
	}
}

func audioContentType(format string) string {
	if format == "mp3" {
		return "audio/mpeg"
	}
	return "audio/" + format
}
