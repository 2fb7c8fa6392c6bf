package interview

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/media"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/skills"
)

type fakeGenerator struct {
	mu       sync.Mutex
	requests []ai.GenerateRequest
	replies  []string
	reply    func(req ai.GenerateRequest, call int) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, req ai.GenerateRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	call := len(g.requests)
	g.requests = append(g.requests, req)
	if g.reply != nil {
		return g.reply(req, call)
	}
	if call < len(g.replies) {
		return g.replies[call], nil
	}
	return "Tell me more about that.", nil
}

func (g *fakeGenerator) Requests() []ai.GenerateRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ai.GenerateRequest(nil), g.requests...)
}

type fakeSkills map[string]*skills.Skill

func (f fakeSkills) Get(id string) (*skills.Skill, bool) {
	s, ok := f[id]
	return s, ok
}

// fakeSynth 默认为每段文本返回一个满帧；blocking 中的文本发出首帧后阻塞到取消。
type fakeSynth struct {
	mu       sync.Mutex
	chunks   map[string][][]byte
	blocking map[string]bool
}

func (s *fakeSynth) Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error] {
	s.mu.Lock()
	chunks, ok := s.chunks[text]
	blocking := s.blocking[text]
	s.mu.Unlock()
	if !ok {
		chunks = [][]byte{make([]byte, 960)}
	}

	return func(yield func([]byte, error) bool) {
		for _, chunk := range chunks {
			if !yield(chunk, nil) {
				return
			}
		}
		if blocking {
			<-ctx.Done()
			yield(nil, ctx.Err())
		}
	}
}

type publishedFrame struct {
	room  string
	frame media.Frame
}

type stubPublisher struct{ identity string }

func (p *stubPublisher) Identity() string { return p.identity }

func (p *stubPublisher) WriteFrame(context.Context, media.Frame) error { return nil }

func (p *stubPublisher) SendData(context.Context, string, []byte, ...string) error { return nil }

func (p *stubPublisher) Close() error { return nil }

type fakeTransport struct {
	mu             sync.Mutex
	created        []string
	deleted        []string
	closed         []string
	publisherCalls int
	frames         []publishedFrame
	published      chan publishedFrame
	publisherErr   error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{published: make(chan publishedFrame, 256)}
}

func (f *fakeTransport) URL() string { return "ws://livekit.test" }

func (f *fakeTransport) CreateRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, room)
	return nil
}

func (f *fakeTransport) IssueToken(room, participant string) (string, error) {
	return "mock_token_" + room + "_" + participant, nil
}

func (f *fakeTransport) EnsurePublisher(_ context.Context, room, identity string) (media.Publisher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publisherCalls++
	if f.publisherErr != nil {
		return nil, f.publisherErr
	}
	return &stubPublisher{identity: identity}, nil
}

func (f *fakeTransport) PublishAudioFrame(_ context.Context, room string, frame media.Frame) error {
	pf := publishedFrame{room: room, frame: frame}
	f.mu.Lock()
	f.frames = append(f.frames, pf)
	f.mu.Unlock()
	select {
	case f.published <- pf:
	default:
	}
	return nil
}

func (f *fakeTransport) DeleteRoom(_ context.Context, room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, room)
	return nil
}

func (f *fakeTransport) ClosePublisher(room string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, room)
	return nil
}

func (f *fakeTransport) Frames() []publishedFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedFrame(nil), f.frames...)
}

type fakeAvatar struct {
	mu         sync.Mutex
	enabled    bool
	startErr   error
	enqueueErr error
	started    map[string]int
	texts      []string
	closed     map[string]int
}

func newFakeAvatar() *fakeAvatar {
	return &fakeAvatar{enabled: true, started: map[string]int{}, closed: map[string]int{}}
}

func (a *fakeAvatar) Enabled() bool { return a.enabled }

func (a *fakeAvatar) EnsureAvatar(_ context.Context, room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.startErr != nil {
		return a.startErr
	}
	a.started[room]++
	return nil
}

func (a *fakeAvatar) EnqueueText(_ string, text string, _ time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.enqueueErr != nil {
		return a.enqueueErr
	}
	a.texts = append(a.texts, text)
	return nil
}

func (a *fakeAvatar) CloseRoom(_ context.Context, room string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed[room]++
	return nil
}

var errGeneratorDown = errors.New("generator down")

func newTestPacer(t *testing.T) *media.Pacer {
	t.Helper()
	pacer, err := media.NewPacer(media.DefaultFrameSpec())
	if err != nil {
		t.Fatalf("NewPacer err: %v", err)
	}
	return pacer.WithClock(time.Now, func(context.Context, time.Duration) error { return nil })
}

// waitFor 轮询 cond 直到成立或超时。
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
