package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/media"
)

// ClearBufferTopic 是通知数字人丢弃已缓冲音频的数据包主题。
const ClearBufferTopic = "lk.clear_buffer"

// AgentIdentity 返回房间内驱动数字人的发布身份。
func AgentIdentity(room string) string {
	return "tavus-agent-" + room
}

// TavusBackend 通过 Tavus REST API 把数字人拉进 LiveKit 房间，
// 音频由本服务以 AgentIdentity 身份发布。
type TavusBackend struct {
	cfg       config.AvatarConfig
	transport media.Transport
	client    *http.Client
}

// NewTavusBackend 创建 Tavus 后端；client 为 nil 时使用默认超时的客户端。
func NewTavusBackend(cfg config.AvatarConfig, transport media.Transport, client *http.Client) *TavusBackend {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &TavusBackend{cfg: cfg, transport: transport, client: client}
}

type createConversationRequest struct {
	ReplicaID        string                 `json:"replica_id"`
	PersonaID        string                 `json:"persona_id"`
	ConversationName string                 `json:"conversation_name"`
	Properties       conversationProperties `json:"properties"`
}

type conversationProperties struct {
	LiveKitURL   string `json:"livekit_ws_url"`
	LiveKitToken string `json:"livekit_room_token"`
}

type createConversationResponse struct {
	ConversationID  string `json:"conversation_id"`
	ConversationURL string `json:"conversation_url"`
	Status          string `json:"status"`
}

// Start 连接发布身份、为数字人签发凭证并创建 Tavus 会话。
func (b *TavusBackend) Start(ctx context.Context, room string) (Conversation, error) {
	if !b.cfg.Configured() {
		return nil, ErrAvatarDisabled
	}

	publisher, err := b.transport.EnsurePublisher(ctx, room, AgentIdentity(room))
	if err != nil {
		return nil, fmt.Errorf("ensure avatar publisher: %w", err)
	}

	token, err := b.transport.IssueToken(room, b.cfg.AvatarName)
	if err != nil {
		_ = publisher.Close()
		return nil, fmt.Errorf("issue avatar token: %w", err)
	}

	body := createConversationRequest{
		ReplicaID:        b.cfg.ReplicaID,
		PersonaID:        b.cfg.PersonaID,
		ConversationName: fmt.Sprintf("%s-%s", room, uuid.NewString()[:8]),
		Properties: conversationProperties{
			LiveKitURL:   b.transport.URL(),
			LiveKitToken: token,
		},
	}

	var resp createConversationResponse
	if err := b.do(ctx, http.MethodPost, "/v2/conversations", body, &resp); err != nil {
		_ = publisher.Close()
		return nil, err
	}
	if resp.ConversationID == "" {
		_ = publisher.Close()
		return nil, fmt.Errorf("tavus create conversation: empty conversation_id")
	}

	log.Printf("[avatar] tavus conversation created room=%s conversation=%s token=%s", room, resp.ConversationID, media.MaskSecret(token))
	return &tavusConversation{
		backend:        b,
		room:           room,
		conversationID: resp.ConversationID,
		avatarIdentity: b.cfg.AvatarName,
		publisher:      publisher,
		done:           make(chan struct{}),
	}, nil
}

func (b *TavusBackend) do(ctx context.Context, method, path string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal tavus request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(b.cfg.APIURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("build tavus request: %w", err)
	}
	req.Header.Set("x-api-key", b.cfg.APIKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("tavus %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tavus %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode tavus response: %w", err)
	}
	return nil
}

type tavusConversation struct {
	backend        *TavusBackend
	room           string
	conversationID string
	avatarIdentity string
	publisher      media.Publisher

	closeOnce sync.Once
	closeErr  error
	doneOnce  sync.Once
	done      chan struct{}
}

// WriteFrame 发布者已被关闭（例如房间被 ClosePublisher 清理）时会话随之失效。
func (c *tavusConversation) WriteFrame(ctx context.Context, frame media.Frame) error {
	err := c.publisher.WriteFrame(ctx, frame)
	if errors.Is(err, media.ErrPublisherClosed) {
		log.Printf("[avatar] avatar publisher gone room=%s conversation=%s", c.room, c.conversationID)
		c.markDone()
	}
	return err
}

func (c *tavusConversation) Interrupt(ctx context.Context) error {
	return c.publisher.SendData(ctx, ClearBufferTopic, []byte(`{"reason":"barge_in"}`), c.avatarIdentity)
}

func (c *tavusConversation) Done() <-chan struct{} {
	return c.done
}

func (c *tavusConversation) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Close 结束 Tavus 会话并断开发布身份，可重复调用。
func (c *tavusConversation) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		defer c.markDone()

		path := fmt.Sprintf("/v2/conversations/%s/end", c.conversationID)
		if err := c.backend.do(ctx, http.MethodPost, path, nil, nil); err != nil {
			log.Printf("[avatar] end tavus conversation failed room=%s conversation=%s: %v", c.room, c.conversationID, err)
			c.closeErr = err
		}
		if err := c.publisher.Close(); err != nil {
			log.Printf("[avatar] close avatar publisher failed room=%s: %v", c.room, err)
		}
		log.Printf("[avatar] tavus conversation ended room=%s conversation=%s", c.room, c.conversationID)
	})
	return c.closeErr
}
