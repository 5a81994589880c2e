package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/thoughtforge/backend/internal/config"
	speechmodel "github.com/zhouzirui/thoughtforge/backend/internal/model/speech"
	"github.com/zhouzirui/thoughtforge/backend/internal/service/speech"
	"github.com/zhouzirui/thoughtforge/backend/internal/storage/layout"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	mode := flag.String("mode", "", "测试模式: asr 或 tts")
	audioPath := flag.String("audio", "", "ASR 输入音频文件路径")
	text := flag.String("text", "", "TTS 输入文本")
	outputPath := flag.String("out", "", "TTS 输出音频文件路径 (默认自动生成)")
	language := flag.String("lang", "", "ISO-639-1 语言代码，默认使用配置中的语言")
	voice := flag.String("voice", "", "TTS 声音，默认使用配置中的 SPEECH_TTS_VOICE")
	speed := flag.Float64("speed", 0, "TTS 语速 (0.25-4.0)，0 表示使用配置")
	session := flag.String("session", "", "自定义 sessionID，留空则自动生成")
	timeout := flag.Duration("timeout", 45*time.Second, "请求超时时间")

	flag.Parse()

	if *mode != "asr" && *mode != "tts" {
		flag.Usage()
		log.Fatal("请通过 -mode=asr 或 -mode=tts 指定测试模式")
	}

	sessionID := *session
	if sessionID == "" {
		sessionID = fmt.Sprintf("manual-%d", time.Now().UnixNano())
	}

	// 与服务端共用密钥链：设置中保存的密钥优先于环境变量。
	settings := config.NewSettings(layout.New(cfg.Storage.Root), cfg, "")
	if status, _ := settings.KeyStatus(config.ProviderOpenAI); !status.Present {
		log.Fatal("未找到 OpenAI 密钥，请配置 OPENAI_API_KEY 或在应用设置中保存")
	}

	svc := speech.NewService(cfg.Speech, settings.Resolver())
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "asr":
		runASR(ctx, svc, sessionID, *audioPath, *language)
	case "tts":
		runTTS(ctx, svc, sessionID, *text, *voice, float32(*speed), *outputPath)
	}
}

func runASR(ctx context.Context, svc *speech.Service, sessionID, audioPath, language string) {
	if audioPath == "" {
		log.Fatal("ASR 模式需要通过 -audio 指定音频文件路径")
	}

	file, err := os.Open(audioPath)
	if err != nil {
		log.Fatalf("打开音频文件失败: %v", err)
	}
	defer file.Close()

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), ".")
	log.Printf("开始进行 ASR 测试: session=%s format=%s language=%s", sessionID, format, language)

	resp, err := svc.TranscribeAudio(ctx, &speechmodel.ASRRequest{
		SessionID: sessionID,
		AudioData: file,
		Format:    format,
		Language:  language,
	})
	if err != nil {
		log.Fatalf("ASR 调用失败: %v", err)
	}

	log.Printf("ASR 识别成功: text=%q language=%s duration=%dms", resp.Text, resp.Language, resp.Duration)
}

func runTTS(ctx context.Context, svc *speech.Service, sessionID, text, voice string, speed float32, outputPath string) {
	if strings.TrimSpace(text) == "" {
		log.Fatal("TTS 模式需要通过 -text 提供待合成文本")
	}
	if outputPath == "" {
		outputPath = fmt.Sprintf("tts-output-%d.mp3", time.Now().Unix())
	}

	log.Printf("开始进行 TTS 测试: session=%s voice=%s", sessionID, voice)

	started := time.Now()
	resp, err := svc.SynthesizeSpeech(ctx, &speechmodel.TTSRequest{
		SessionID: sessionID,
		Text:      text,
		Voice:     voice,
		Speed:     speed,
	})
	if err != nil {
		log.Fatalf("TTS 调用失败: %v", err)
	}

	if err := os.WriteFile(outputPath, resp.AudioData, 0o644); err != nil {
		log.Fatalf("写入音频文件失败: %v", err)
	}

	log.Printf("TTS 合成成功: 输出文件 %s, %d 字节, 耗时=%s", outputPath, len(resp.AudioData), time.Since(started).Round(time.Millisecond))
}
