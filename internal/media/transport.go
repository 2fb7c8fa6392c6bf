package media

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRoomNameRequired 房间名为空。
	ErrRoomNameRequired = errors.New("room name is required")
	// ErrPublisherClosed 发布者已关闭。
	ErrPublisherClosed = errors.New("publisher closed")
)

// Publisher 是房间内的一个发布身份，持有一条音频轨道。
type Publisher interface {
	Identity() string
	WriteFrame(ctx context.Context, frame Frame) error
	SendData(ctx context.Context, topic string, payload []byte, destinations ...string) error
	Close() error
}

// Transport 是实时媒体传输的抽象（房间、凭证、音频发布）。
type Transport interface {
	URL() string
	CreateRoom(ctx context.Context, room string) error
	IssueToken(room, participant string) (string, error)
	EnsurePublisher(ctx context.Context, room, identity string) (Publisher, error)
	PublishAudioFrame(ctx context.Context, room string, frame Frame) error
	DeleteRoom(ctx context.Context, room string) error
	ClosePublisher(room string) error
}

// MaskSecret 只保留凭证首尾各四个字符。
func MaskSecret(secret string) string {
	if secret == "" {
		return "<empty>"
	}
	if len(secret) <= 8 {
		return fmt.Sprintf("*** (len=%d)", len(secret))
	}
	return fmt.Sprintf("%s…%s (len=%d)", secret[:4], secret[len(secret)-4:], len(secret))
}
