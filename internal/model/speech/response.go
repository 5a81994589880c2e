package speech

import "time"

// ASRResponse 语音识别响应
type ASRResponse struct {
	SessionID string    `json:"sessionId"`
	Text      string    `json:"text"`
	Language  string    `json:"language,omitempty"`
	Duration  int64     `json:"duration"` // milliseconds
	CreatedAt time.Time `json:"createdAt"`
}

// TTSResponse 语音合成响应
type TTSResponse struct {
	SessionID string    `json:"sessionId"`
	AudioData []byte    `json:"-"`
	Format    string    `json:"format"`
	CreatedAt time.Time `json:"createdAt"`
}
