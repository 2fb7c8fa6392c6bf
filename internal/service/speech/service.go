package speech

import (
	"context"
	"errors"
	"iter"

	"github.com/zhouzirui/z-interview/backend/internal/config"
)

// ErrSynthesizerUnavailable 语音合成未配置凭证。
var ErrSynthesizerUnavailable = errors.New("speech synthesizer unavailable")

// Service 语音合成入口，面向编排层提供 PCM 字节流
type Service struct {
	config    config.SpeechConfig
	ttsClient *VolcengineTTSClient
}

// NewService 创建语音服务实例，sampleRate 与下游分帧保持一致
func NewService(cfg config.SpeechConfig, sampleRate int) *Service {
	return &Service{
		config:    cfg,
		ttsClient: NewVolcengineTTSClient(cfg, sampleRate),
	}
}

// Enabled 是否具备合成能力
func (s *Service) Enabled() bool {
	return s != nil && s.config.Enabled
}

// Synthesize 返回 text 的 PCM16LE 单声道字节块序列；序列有限且只能消费一次。
func (s *Service) Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	if !s.Enabled() {
		return func(yield func([]byte, error) bool) {
			yield(nil, ErrSynthesizerUnavailable)
		}
	}
	return s.ttsClient.StreamPCM(ctx, text)
}
