package speech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	"github.com/zhouzirui/thoughtforge/backend/internal/model/speech"
)

var (
	ErrEmptyText  = errors.New("text is required")
	ErrEmptyAudio = errors.New("audio is empty")
)

// Service 语音服务：Whisper 转写与 TTS 合成。
type Service struct {
	cfg  config.SpeechConfig
	keys KeySource
	now  func() time.Time
}

// NewService 创建语音服务实例
func NewService(cfg config.SpeechConfig, keys KeySource) *Service {
	return &Service{cfg: cfg, keys: keys, now: time.Now}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Timeout)
}

// Transcribe 转写一个已落盘的录音文件。
func (s *Service) Transcribe(ctx context.Context, audioPath string) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	if info.Size() == 0 {
		return "", ErrEmptyAudio
	}

	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()

	resp, err := s.TranscribeAudio(ctx, &speech.ASRRequest{
		SessionID: strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath)),
		AudioData: file,
		Format:    strings.TrimPrefix(filepath.Ext(audioPath), "."),
		Language:  s.cfg.ASRLanguage,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// TranscribeAudio 语音转文字
func (s *Service) TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error) {
	if req == nil || req.AudioData == nil {
		return nil, ErrEmptyAudio
	}

	client, err := s.newClient()
	if err != nil {
		return nil, err
	}

	format := strings.TrimSpace(req.Format)
	if format == "" {
		format = "mp4"
	}
	language := normalizeLanguage(req.Language)
	if language == "" {
		language = normalizeLanguage(s.cfg.ASRLanguage)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	started := s.now()
	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.cfg.ASRModel,
		FilePath: "audio." + format,
		Reader:   req.AudioData,
		Language: language,
	})
	if err != nil {
		log.Printf("[speech] transcription failed for %s: %v", req.SessionID, err)
		return nil, fmt.Errorf("transcription failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	log.Printf("[speech] transcribed %s, length=%d", req.SessionID, len(text))
	return &speech.ASRResponse{
		SessionID: req.SessionID,
		Text:      text,
		Language:  resp.Language,
		Duration:  s.now().Sub(started).Milliseconds(),
		CreatedAt: s.now(),
	}, nil
}

// TranscribeBuffer 语音转文字（使用字节数组）
func (s *Service) TranscribeBuffer(ctx context.Context, sessionID string, audioData []byte, format, language string) (*speech.ASRResponse, error) {
	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}
	return s.TranscribeAudio(ctx, &speech.ASRRequest{
		SessionID: sessionID,
		AudioData: bytes.NewReader(audioData),
		Format:    format,
		Language:  language,
	})
}

// Synthesize 合成 mp3 音频。
func (s *Service) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := s.SynthesizeSpeech(ctx, &speech.TTSRequest{Text: text})
	if err != nil {
		return nil, err
	}
	return resp.AudioData, nil
}

// SynthesizeSpeech 文字转语音
func (s *Service) SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	client, err := s.newClient()
	if err != nil {
		return nil, err
	}

	speed := req.Speed
	if speed <= 0 {
		speed = s.cfg.TTSSpeed
	}
	voice := NormalizeVoice(req.Voice, NormalizeVoice(s.cfg.TTSVoice, openai.VoiceAlloy))

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	raw, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.cfg.TTSModel),
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
		Speed:          float64(speed),
	})
	if err != nil {
		log.Printf("[speech] synthesis failed for %s: %v", req.SessionID, err)
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	defer raw.Close()

	audio, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("read synthesized audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}

	return &speech.TTSResponse{
		SessionID: req.SessionID,
		AudioData: audio,
		Format:    "mp3",
		CreatedAt: s.now(),
	}, nil
}
