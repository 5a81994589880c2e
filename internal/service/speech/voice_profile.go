package speech

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

var knownVoices = map[string]openai.SpeechVoice{
	"alloy":   openai.VoiceAlloy,
	"echo":    openai.VoiceEcho,
	"fable":   openai.VoiceFable,
	"onyx":    openai.VoiceOnyx,
	"nova":    openai.VoiceNova,
	"shimmer": openai.VoiceShimmer,
}

// voiceAliases 把常见的描述性名称映射到 OpenAI 声音。
var voiceAliases = map[string]openai.SpeechVoice{
	"default": openai.VoiceAlloy,
	"neutral": openai.VoiceAlloy,
	"male":    openai.VoiceOnyx,
	"deep":    openai.VoiceOnyx,
	"female":  openai.VoiceNova,
	"warm":    openai.VoiceShimmer,
	"story":   openai.VoiceFable,
}

// NormalizeVoice resolves a voice name or alias. Unknown names fall back to
// the given default.
func NormalizeVoice(name string, fallback openai.SpeechVoice) openai.SpeechVoice {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return fallback
	}
	if voice, ok := knownVoices[normalized]; ok {
		return voice
	}
	if voice, ok := voiceAliases[normalized]; ok {
		return voice
	}
	return fallback
}

// normalizeLanguage reduces a locale such as "fr-FR" to the ISO-639-1 code
// Whisper expects.
func normalizeLanguage(language string) string {
	language = strings.TrimSpace(language)
	if idx := strings.IndexAny(language, "-_"); idx > 0 {
		language = language[:idx]
	}
	return strings.ToLower(language)
}
