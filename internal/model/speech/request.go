package speech

import (
	"io"
)

// ASRRequest 语音识别请求
type ASRRequest struct {
	SessionID string    `json:"sessionId"`
	AudioData io.Reader `json:"-"`
	Format    string    `json:"format"`   // mp4, m4a, mp3, wav, webm
	Language  string    `json:"language"` // ISO-639-1, e.g. en, fr
}

// TTSRequest 语音合成请求
type TTSRequest struct {
	SessionID string  `json:"sessionId"`
	Text      string  `json:"text"`
	Voice     string  `json:"voice"` // alloy, echo, fable, onyx, nova, shimmer
	Speed     float32 `json:"speed"` // 0.25-4.0
	Format    string  `json:"format"`
}
