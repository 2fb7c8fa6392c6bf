package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-interview/backend/internal/config"
)

const defaultTTSURL = "wss://openspeech.bytedance.com/api/v3/tts/unidirectional/stream"

// VolcengineTTSClient 火山引擎单向流式 TTS 客户端，输出 PCM16LE 单声道。
type VolcengineTTSClient struct {
	config     config.SpeechConfig
	url        string
	sampleRate int
	dialer     *websocket.Dialer
}

type ttsServerMessage struct {
	ReqID    string `json:"reqid"`
	Code     int    `json:"code"`
	Message  string `json:"message"`
	Sequence int    `json:"sequence"`
	Data     string `json:"data"`
}

type volcengineTTSRequest struct {
	User struct {
		UID string `json:"uid"`
	} `json:"user"`
	ReqParams struct {
		Speaker     string                   `json:"speaker"`
		Text        string                   `json:"text"`
		AudioParams volcengineTTSAudioParams `json:"audio_params"`
		Additions   string                   `json:"additions,omitempty"`
		Language    string                   `json:"language,omitempty"`
	} `json:"req_params"`
}

type volcengineTTSAudioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float32 `json:"speed_ratio,omitempty"`
	VolumeRatio float32 `json:"volume_ratio,omitempty"`
}

// NewVolcengineTTSClient 创建火山引擎TTS客户端，sampleRate 为输出 PCM 采样率
func NewVolcengineTTSClient(cfg config.SpeechConfig, sampleRate int) *VolcengineTTSClient {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &VolcengineTTSClient{
		config:     cfg,
		url:        defaultTTSURL,
		sampleRate: sampleRate,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 30 * time.Second,
		},
	}
}

// WithURL 替换服务端地址（测试或私有化部署）。
func (c *VolcengineTTSClient) WithURL(url string) *VolcengineTTSClient {
	cp := *c
	cp.url = url
	return &cp
}

// StreamPCM 返回一个惰性、不可重放的 PCM 字节块序列。
// 在产出首个字节块之前，遇到音色与资源不匹配会依次尝试候选音色与资源。
func (c *VolcengineTTSClient) StreamPCM(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if strings.TrimSpace(text) == "" {
			yield(nil, ErrEmptyText)
			return
		}

		appKey, accessKey, err := resolveCredentials(c.config)
		if err != nil {
			yield(nil, err)
			return
		}

		speakers := resolveTTSSpeakerCandidates("", strings.TrimSpace(c.config.TTSVoice))
		var lastMismatch error

		for speakerIdx, speaker := range speakers {
			for resourceIdx, resourceID := range resolveTTSResourceCandidates(speaker) {
				yielded, stopped, attemptErr := c.streamWithResource(ctx, text, appKey, accessKey, speaker, resourceID, yield)
				if stopped {
					return
				}
				if attemptErr == nil {
					if resourceIdx > 0 || speakerIdx > 0 {
						log.Printf("[tts] voice %s succeeded with resource %s", speaker, resourceID)
					}
					return
				}
				if yielded == 0 && isResourceMismatchError(attemptErr) {
					log.Printf("[tts] voice %s resource %s mismatch: %v", speaker, resourceID, attemptErr)
					lastMismatch = attemptErr
					continue
				}
				yield(nil, attemptErr)
				return
			}
		}

		if lastMismatch == nil {
			lastMismatch = fmt.Errorf("no compatible resource id or speaker for voice candidates %v", speakers)
		}
		yield(nil, lastMismatch)
	}
}

// streamWithResource 在一条连接上完成一次合成。stopped 表示消费方提前结束了迭代。
func (c *VolcengineTTSClient) streamWithResource(
	ctx context.Context,
	text, appKey, accessKey, speaker, resourceID string,
	yield func([]byte, error) bool,
) (yielded int, stopped bool, err error) {
	connectID := uuid.NewString()

	header := http.Header{}
	header.Set("X-Api-App-Key", appKey)
	header.Set("X-Api-Access-Key", accessKey)
	header.Set("X-Api-Resource-Id", resourceID)
	header.Set("X-Api-Connect-Id", connectID)

	conn, resp, err := dialWithRetry(ctx, c.dialer, c.url, header)
	if err != nil {
		return 0, false, fmt.Errorf("connect tts websocket: %w", err)
	}
	defer conn.Close()

	// ctx 取消时关闭连接，打断阻塞中的 ReadMessage
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if resp != nil {
		if logid := resp.Header.Get("X-Tt-Logid"); logid != "" {
			log.Printf("[tts] connected logid=%s connect_id=%s", logid, connectID)
		}
	}

	payload, err := json.Marshal(c.buildTTSRequest(text, speaker))
	if err != nil {
		return 0, false, fmt.Errorf("marshal tts request: %w", err)
	}
	frame, err := EncodeMessage(CreateFullClientRequest(payload, NoCompression))
	if err != nil {
		return 0, false, fmt.Errorf("encode tts request: %w", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return 0, false, fmt.Errorf("send tts request: %w", err)
	}

	emit := func(chunk []byte) bool {
		if len(chunk) == 0 {
			return true
		}
		yielded++
		return yield(chunk, nil)
	}

	for {
		if c.config.Timeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(time.Duration(c.config.Timeout) * time.Second))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return yielded, false, ctxErr
			}
			return yielded, false, fmt.Errorf("read tts response: %w", err)
		}

		msg, err := DecodeMessage(bytes.NewReader(data))
		if err != nil {
			return yielded, false, fmt.Errorf("decode tts message: %w", err)
		}

		body, err := decompressPayload(msg.Payload, msg.Header.CompressionMethod)
		if err != nil {
			return yielded, false, fmt.Errorf("decompress tts payload: %w", err)
		}

		switch msg.Header.MessageType {
		case ErrorMessage:
			return yielded, false, fmt.Errorf("tts error %d: %s", msg.ErrorCode, string(body))

		case AudioOnlyServerResponse:
			if !emit(body) {
				return yielded, true, nil
			}
			if msg.IsLastPacket() {
				return yielded, false, nil
			}

		case FullServerResponse:
			var serverResp ttsServerMessage
			if len(body) > 0 {
				if err := json.Unmarshal(body, &serverResp); err != nil {
					log.Printf("[tts] failed to unmarshal response payload: %v", err)
				} else {
					if serverResp.Code != 0 && serverResp.Code != 3000 && serverResp.Code != 20000000 {
						return yielded, false, fmt.Errorf("tts api error %d: %s", serverResp.Code, serverResp.Message)
					}
					if serverResp.Data != "" {
						chunk, err := base64.StdEncoding.DecodeString(serverResp.Data)
						if err != nil {
							return yielded, false, fmt.Errorf("decode base64 audio chunk: %w", err)
						}
						if !emit(chunk) {
							return yielded, true, nil
						}
					}
				}
			}

			if msg.IsSessionFinished() || msg.IsLastPacket() || serverResp.Sequence < 0 {
				return yielded, false, nil
			}

		default:
			log.Printf("[tts] unexpected message type: %d", msg.Header.MessageType)
		}
	}
}

func (c *VolcengineTTSClient) buildTTSRequest(text, speaker string) *volcengineTTSRequest {
	req := &volcengineTTSRequest{}
	req.User.UID = uuid.NewString()

	req.ReqParams.Speaker = speaker
	req.ReqParams.Text = text
	req.ReqParams.AudioParams.Format = "pcm"
	req.ReqParams.AudioParams.SampleRate = c.sampleRate

	if speed := c.config.TTSSpeed; speed > 0 && speed != 1.0 {
		req.ReqParams.AudioParams.SpeedRatio = speed
	}
	if volume := c.config.TTSVolume; volume > 0 && volume != 1.0 {
		req.ReqParams.AudioParams.VolumeRatio = volume
	}
	if language := strings.TrimSpace(c.config.TTSLanguage); language != "" {
		req.ReqParams.Language = language
	}
	req.ReqParams.Additions = `{"disable_markdown_filter":true}`
	return req
}

func resolveTTSResourceCandidates(voice string) []string {
	const (
		defaultResource = "volc.service_type.10029"
		megaResource    = "volc.megatts.default"
		seedResource    = "seed-tts-2.0"
	)

	voice = strings.TrimSpace(voice)
	if strings.HasPrefix(voice, "S_") {
		return []string{megaResource}
	}

	normalized := strings.ToLower(voice)
	for _, hint := range []string{"bigtts", "seed", "megatts", "uranus", "venus", "jupiter", "saturn", "neptune", "mercury", "pluto", "mars"} {
		if strings.Contains(normalized, hint) {
			return []string{seedResource, defaultResource}
		}
	}

	return []string{defaultResource, seedResource}
}

// resolveTTSSpeakerCandidates 按优先级去重（大小写不敏感），别名映射到具体音色
func resolveTTSSpeakerCandidates(requested, fallback string) []string {
	aliases := map[string]string{
		"default":          fallback,
		"en_default":       "en_female_amy_jupiter_bigtts",
		"interviewer":      "en_male_jason_conversation_wvae_bigtts",
		"interviewer_zh":   "zh_male_M392_conversation_wvae_bigtts",
		"interviewer_warm": "en_female_amy_jupiter_bigtts",
	}

	var candidates []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if mapped, ok := aliases[strings.ToLower(s)]; ok && mapped != "" {
			s = mapped
		}
		for _, existing := range candidates {
			if strings.EqualFold(existing, s) {
				return
			}
		}
		candidates = append(candidates, s)
	}

	add(requested)
	add(fallback)
	add("en_female_amy_jupiter_bigtts")

	return candidates
}

func isResourceMismatchError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "resource ID is mismatched with speaker related resource")
}

// ErrEmptyText 合成文本为空。
var ErrEmptyText = errors.New("tts text is empty")
