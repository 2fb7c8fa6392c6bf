package speech

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-interview/backend/internal/config"
)

// resolveCredentials 返回规范化后的 AppID 与 AccessToken，缺失时返回 ErrSynthesizerUnavailable。
func resolveCredentials(cfg config.SpeechConfig) (string, string, error) {
	appID := strings.TrimSpace(cfg.AppID)
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		token = strings.TrimSpace(cfg.APIKey)
	}

	if appID == "" || token == "" {
		return "", "", fmt.Errorf("%w: 火山引擎语音配置缺少 AppID 或 AccessToken", ErrSynthesizerUnavailable)
	}

	return appID, token, nil
}
