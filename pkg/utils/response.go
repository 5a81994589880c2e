package utils

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/bytedance/sonic"
)

// maxJSONBody bounds request bodies decoded by DecodeJSON.
const maxJSONBody = 1 << 20

var ErrEmptyBody = errors.New("request body is empty")

// RespondJSON 发送JSON响应
func RespondJSON(w http.ResponseWriter, status int, payload interface{}) {
	data, err := sonic.Marshal(payload)
	if err != nil {
		log.Printf("failed to encode response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// RespondError 发送错误响应
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, map[string]string{"error": message})
}

// DecodeJSON 读取并解析请求体
func DecodeJSON(r *http.Request, out interface{}) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptyBody
	}
	return sonic.Unmarshal(data, out)
}
