package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hraban/opus"
	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"golang.org/x/sync/singleflight"

	"github.com/zhouzirui/z-interview/backend/internal/config"
)

var (
	// ErrTransportUnconfigured 缺少 LiveKit API 密钥，无法连接房间发布音频。
	ErrTransportUnconfigured = errors.New("livekit api key/secret not configured")
	// ErrNoPublisher 房间内没有对应身份的发布者。
	ErrNoPublisher = errors.New("no livekit publisher for room")
)

// LiveKit 实现 Transport：房间管理走 RoomService，音频通过 Opus 样本轨道发布。
type LiveKit struct {
	cfg   config.LiveKitConfig
	rooms *lksdk.RoomServiceClient

	mu         sync.Mutex
	publishers map[string]map[string]*livekitPublisher
	group      singleflight.Group
}

// NewLiveKit 创建 LiveKit 传输；缺少密钥时进入 mock 模式（只签发占位凭证）。
func NewLiveKit(cfg config.LiveKitConfig) *LiveKit {
	lk := &LiveKit{
		cfg:        cfg,
		publishers: make(map[string]map[string]*livekitPublisher),
	}
	if cfg.Configured() {
		lk.rooms = lksdk.NewRoomServiceClient(cfg.URL, cfg.APIKey, cfg.APISecret)
	}
	return lk
}

// URL 返回客户端连接地址。
func (l *LiveKit) URL() string {
	return l.cfg.URL
}

// CreateRoom 创建房间；房间已存在等失败只记录日志，客户端加入时会自动创建。
func (l *LiveKit) CreateRoom(ctx context.Context, room string) error {
	if room == "" {
		return ErrRoomNameRequired
	}
	if l.rooms == nil {
		log.Printf("[livekit] room service unavailable, skip create room=%s", room)
		return nil
	}

	created, err := l.rooms.CreateRoom(ctx, &livekit.CreateRoomRequest{Name: room})
	if err != nil {
		log.Printf("[livekit] create room %s failed (may already exist): %v", room, err)
		return nil
	}
	log.Printf("[livekit] created room=%s sid=%s", created.GetName(), created.GetSid())
	return nil
}

// IssueToken 签发入房凭证，有效期由配置决定（默认 6 小时）。
func (l *LiveKit) IssueToken(room, participant string) (string, error) {
	if room == "" {
		return "", ErrRoomNameRequired
	}
	if !l.cfg.Configured() {
		log.Printf("[livekit] using mock token participant=%s room=%s", participant, room)
		return fmt.Sprintf("mock_token_%s_%s", room, participant), nil
	}

	canPublish := true
	canSubscribe := true
	token := auth.NewAccessToken(l.cfg.APIKey, l.cfg.APISecret).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin:     true,
			Room:         room,
			CanPublish:   &canPublish,
			CanSubscribe: &canSubscribe,
		}).
		SetIdentity(participant).
		SetName(participant).
		SetValidFor(l.tokenTTL())

	jwt, err := token.ToJWT()
	if err != nil {
		return "", fmt.Errorf("sign livekit token: %w", err)
	}

	log.Printf("[livekit] issued token participant=%s room=%s token=%s", participant, room, MaskSecret(jwt))
	return jwt, nil
}

func (l *LiveKit) tokenTTL() time.Duration {
	if l.cfg.TokenTTL > 0 {
		return l.cfg.TokenTTL
	}
	return 6 * time.Hour
}

// EnsurePublisher 返回房间内指定身份的发布者，不存在时连接房间并发布音频轨道。
// 并发调用共享同一次连接。
func (l *LiveKit) EnsurePublisher(ctx context.Context, room, identity string) (Publisher, error) {
	if room == "" {
		return nil, ErrRoomNameRequired
	}
	if identity == "" {
		identity = l.cfg.PublisherIdentity
	}

	if pub := l.lookup(room, identity); pub != nil {
		return pub, nil
	}
	if !l.cfg.Configured() {
		return nil, ErrTransportUnconfigured
	}

	key := room + "\x00" + identity
	v, err, _ := l.group.Do(key, func() (any, error) {
		if pub := l.lookup(room, identity); pub != nil {
			return pub, nil
		}
		pub, err := l.connectPublisher(ctx, room, identity)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		byIdentity, ok := l.publishers[room]
		if !ok {
			byIdentity = make(map[string]*livekitPublisher)
			l.publishers[room] = byIdentity
		}
		byIdentity[identity] = pub
		l.mu.Unlock()
		return pub, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*livekitPublisher), nil
}

// lookup 返回仍可用的发布者；已关闭的发布者顺带移除，下次 EnsurePublisher 会重新连接。
func (l *LiveKit) lookup(room, identity string) *livekitPublisher {
	l.mu.Lock()
	defer l.mu.Unlock()
	byIdentity, ok := l.publishers[room]
	if !ok {
		return nil
	}
	pub, ok := byIdentity[identity]
	if !ok {
		return nil
	}
	if pub.isClosed() {
		delete(byIdentity, identity)
		if len(byIdentity) == 0 {
			delete(l.publishers, room)
		}
		return nil
	}
	return pub
}

func (l *LiveKit) connectPublisher(ctx context.Context, room, identity string) (*livekitPublisher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Printf("[livekit] connecting publisher url=%s room=%s identity=%s", l.cfg.URL, room, identity)
	lkRoom, err := lksdk.ConnectToRoom(l.cfg.URL, lksdk.ConnectInfo{
		APIKey:              l.cfg.APIKey,
		APISecret:           l.cfg.APISecret,
		RoomName:            room,
		ParticipantIdentity: identity,
		ParticipantName:     identity,
	}, &lksdk.RoomCallback{})
	if err != nil {
		return nil, fmt.Errorf("connect livekit room %s: %w", room, err)
	}

	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	})
	if err != nil {
		lkRoom.Disconnect()
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	if _, err := lkRoom.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "ai-audio",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		lkRoom.Disconnect()
		return nil, fmt.Errorf("publish audio track: %w", err)
	}

	log.Printf("[livekit] publisher connected room=%s identity=%s", room, identity)
	return &livekitPublisher{
		room:     room,
		identity: identity,
		lkRoom:   lkRoom,
		track:    track,
	}, nil
}

// PublishAudioFrame 通过默认发布身份写入一帧 PCM。
func (l *LiveKit) PublishAudioFrame(ctx context.Context, room string, frame Frame) error {
	pub := l.lookup(room, l.cfg.PublisherIdentity)
	if pub == nil {
		return fmt.Errorf("%w: %s", ErrNoPublisher, room)
	}
	return pub.WriteFrame(ctx, frame)
}

// DeleteRoom 删除房间。
func (l *LiveKit) DeleteRoom(ctx context.Context, room string) error {
	if l.rooms == nil {
		log.Printf("[livekit] room service unavailable, skip delete room=%s", room)
		return nil
	}
	if _, err := l.rooms.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room}); err != nil {
		return fmt.Errorf("delete livekit room %s: %w", room, err)
	}
	log.Printf("[livekit] deleted room=%s", room)
	return nil
}

// ClosePublisher 断开房间内全部发布者。
func (l *LiveKit) ClosePublisher(room string) error {
	l.mu.Lock()
	byIdentity := l.publishers[room]
	delete(l.publishers, room)
	l.mu.Unlock()

	var errs []error
	for _, pub := range byIdentity {
		if err := pub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type livekitPublisher struct {
	room     string
	identity string
	lkRoom   *lksdk.Room
	track    *lksdk.LocalSampleTrack

	mu          sync.Mutex
	encoder     *opus.Encoder
	encoderRate int
	encoderCh   int
	loggedFirst bool
	closed      bool
}

func (p *livekitPublisher) Identity() string {
	return p.identity
}

// WriteFrame 将 PCM16LE 帧编码为 Opus 样本写入轨道；不足一个 Opus 帧的尾帧补零。
func (p *livekitPublisher) WriteFrame(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPublisherClosed
	}

	if p.encoder == nil || p.encoderRate != frame.SampleRate || p.encoderCh != frame.Channels {
		enc, err := opus.NewEncoder(frame.SampleRate, frame.Channels, opus.AppVoIP)
		if err != nil {
			return fmt.Errorf("create opus encoder: %w", err)
		}
		p.encoder = enc
		p.encoderRate = frame.SampleRate
		p.encoderCh = frame.Channels
	}

	pcm := pcm16(frame.Data, opusFrameSamples(frame.SampleRate, frame.SamplesPerChannel)*frame.Channels)
	packet := make([]byte, 4000)
	n, err := p.encoder.Encode(pcm, packet)
	if err != nil {
		return fmt.Errorf("opus encode: %w", err)
	}

	duration := time.Duration(len(pcm)/frame.Channels) * time.Second / time.Duration(frame.SampleRate)
	if err := p.track.WriteSample(pionmedia.Sample{Data: packet[:n], Duration: duration}, nil); err != nil {
		return fmt.Errorf("write audio sample: %w", err)
	}

	if !p.loggedFirst {
		log.Printf("[livekit] audio first frame room=%s identity=%s bytes=%d samples=%d", p.room, p.identity, len(frame.Data), frame.SamplesPerChannel)
		p.loggedFirst = true
	}
	return nil
}

// SendData 在房间内发送数据包；destinations 为空时广播。
func (p *livekitPublisher) SendData(ctx context.Context, topic string, payload []byte, destinations ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPublisherClosed
	}

	opts := []lksdk.DataPublishOption{
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	}
	if len(destinations) > 0 {
		opts = append(opts, lksdk.WithDataPublishDestination(destinations))
	}
	return p.lkRoom.LocalParticipant.PublishDataPacket(lksdk.UserData(payload), opts...)
}

func (p *livekitPublisher) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *livekitPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.lkRoom.Disconnect()
	log.Printf("[livekit] publisher disconnected room=%s identity=%s", p.room, p.identity)
	return nil
}

// opusFrameSamples 返回不小于 samples 的最小合法 Opus 帧长（2.5/5/10/20/40/60ms）。
func opusFrameSamples(sampleRate, samples int) int {
	for _, tenthsMs := range []int{25, 50, 100, 200, 400, 600} {
		size := sampleRate * tenthsMs / 10000
		if samples <= size {
			return size
		}
	}
	return sampleRate * 60 / 1000
}

// pcm16 把小端字节解码为 int16 采样，并补零到 total 个采样。
func pcm16(data []byte, total int) []int16 {
	n := len(data) / 2
	if total < n {
		total = n
	}
	out := make([]int16, total)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
