package avatar

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/media"
	"github.com/zhouzirui/z-interview/backend/internal/service/tasks"
)

var (
	// ErrAvatarDisabled 数字人中继未启用或凭证不全。
	ErrAvatarDisabled = errors.New("avatar relay disabled")
	// ErrRoomNotStarted 房间没有运行中的数字人。
	ErrRoomNotStarted = errors.New("avatar not started for room")
	// ErrRelayClosed 房间的中继已关闭，不再接受文本。
	ErrRelayClosed = errors.New("avatar relay closed")
)

const labelUtterance = "avatarUtterance"

// Synthesizer 产出一段文本的 PCM 字节流。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error]
}

// Conversation 是一个已连接到房间的数字人会话。
type Conversation interface {
	// WriteFrame 把一帧音频送给数字人驱动口型。
	WriteFrame(ctx context.Context, frame media.Frame) error
	// Interrupt 让数字人立即停止当前发言（barge-in）。
	Interrupt(ctx context.Context) error
	// Done 在会话不可再用后关闭：本地 Close，或底层发布者已失效。
	Done() <-chan struct{}
	Close(ctx context.Context) error
}

// Backend 为房间启动数字人会话。
type Backend interface {
	Start(ctx context.Context, room string) (Conversation, error)
}

// Service 管理每个房间的数字人中继 worker。
type Service struct {
	backend Backend
	synth   Synthesizer
	pacer   *media.Pacer

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker
}

// NewService 创建中继服务；backend 为 nil 时服务处于禁用状态。
func NewService(backend Backend, synth Synthesizer, pacer *media.Pacer) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		backend: backend,
		synth:   synth,
		pacer:   pacer,
		ctx:     ctx,
		cancel:  cancel,
		workers: make(map[string]*worker),
	}
}

// Enabled 表示是否可以启动数字人。
func (s *Service) Enabled() bool {
	return s != nil && s.backend != nil && s.synth != nil && s.pacer != nil
}

// EnsureAvatar 为房间启动数字人与中继 worker；已在运行时直接返回。
func (s *Service) EnsureAvatar(ctx context.Context, room string) error {
	if !s.Enabled() {
		return ErrAvatarDisabled
	}
	if room == "" {
		return media.ErrRoomNameRequired
	}

	s.mu.Lock()
	if w, ok := s.workers[room]; ok && !w.isClosed() {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	conv, err := s.backend.Start(ctx, room)
	if err != nil {
		return fmt.Errorf("start avatar for room %s: %w", room, err)
	}

	s.mu.Lock()
	if existing, ok := s.workers[room]; ok && !existing.isClosed() {
		s.mu.Unlock()
		// 并发启动时保留先到的那个
		if cerr := conv.Close(ctx); cerr != nil {
			log.Printf("[avatar] room=%s close duplicate conversation failed: %v", room, cerr)
		}
		return nil
	}
	w := newWorker(s.ctx, room, conv, s.synth, s.pacer)
	s.workers[room] = w
	s.mu.Unlock()

	go w.run()
	log.Printf("[avatar] relay started room=%s", room)
	return nil
}

// EnqueueText 把一段文本放入房间的 FIFO 队列；不会阻塞。
// start 为本轮请求的起始时刻，用于首帧延迟统计，可为零值。
func (s *Service) EnqueueText(room, text string, start time.Time) error {
	s.mu.Lock()
	w, ok := s.workers[room]
	s.mu.Unlock()
	if !ok {
		log.Printf("[avatar] room state missing for %s", room)
		return ErrRoomNotStarted
	}
	if w.isClosed() {
		return ErrRelayClosed
	}
	return w.enqueue(&utterance{text: text, start: start})
}

// CloseRoom 向 worker 投递结束哨兵并等待其退出；可重复调用。
func (s *Service) CloseRoom(ctx context.Context, room string) error {
	s.mu.Lock()
	w, ok := s.workers[room]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	w.shutdown()

	select {
	case <-w.exited:
	case <-ctx.Done():
		return fmt.Errorf("await avatar worker for room %s: %w", room, ctx.Err())
	}

	s.mu.Lock()
	if s.workers[room] == w {
		delete(s.workers, room)
	}
	s.mu.Unlock()
	return nil
}

// Shutdown 关闭所有房间的 worker。
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.workers))
	for room := range s.workers {
		rooms = append(rooms, room)
	}
	s.mu.Unlock()

	var errs []error
	for _, room := range rooms {
		if err := s.CloseRoom(ctx, room); err != nil {
			errs = append(errs, err)
		}
	}
	s.cancel()
	return errors.Join(errs...)
}

type utterance struct {
	text  string
	start time.Time
}

// worker 持有一个房间的队列。nil 元素是结束哨兵。
type worker struct {
	room  string
	conv  Conversation
	synth Synthesizer
	pacer *media.Pacer
	ctx   context.Context
	tasks *tasks.Tracker

	mu      sync.Mutex
	queue   []*utterance
	closing bool
	signal  chan struct{}

	exited chan struct{}
}

func newWorker(parent context.Context, room string, conv Conversation, synth Synthesizer, pacer *media.Pacer) *worker {
	return &worker{
		room:   room,
		conv:   conv,
		synth:  synth,
		pacer:  pacer,
		ctx:    parent,
		tasks:  tasks.NewTracker(parent, room),
		signal: make(chan struct{}, 1),
		exited: make(chan struct{}),
	}
}

func (w *worker) enqueue(item *utterance) error {
	w.mu.Lock()
	if w.closing {
		w.mu.Unlock()
		return ErrRelayClosed
	}
	w.queue = append(w.queue, item)
	if item == nil {
		w.closing = true
	}
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
	return nil
}

func (w *worker) shutdown() {
	if err := w.enqueue(nil); err != nil && !errors.Is(err, ErrRelayClosed) {
		log.Printf("[avatar] room=%s enqueue sentinel failed: %v", w.room, err)
	}
}

func (w *worker) isClosed() bool {
	select {
	case <-w.exited:
		return true
	default:
		return false
	}
}

func (w *worker) pop() (item *utterance, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return nil, false
	}
	item = w.queue[0]
	w.queue[0] = nil
	w.queue = w.queue[1:]
	return item, true
}

func (w *worker) run() {
	defer close(w.exited)
	defer w.stop()

	for {
		item, ok := w.pop()
		if !ok {
			select {
			case <-w.signal:
				continue
			case <-w.conv.Done():
				log.Printf("[avatar] room=%s conversation closed", w.room)
				return
			case <-w.ctx.Done():
				return
			}
		}

		if item == nil {
			log.Printf("[avatar] room=%s client closed", w.room)
			return
		}

		w.interrupt()
		w.speak(item)
	}
}

// interrupt 打断仍在播放的上一句，并等它退出后再开始新的。
func (w *worker) interrupt() {
	current := w.tasks.Current(labelUtterance)
	if current == nil {
		return
	}
	current.Cancel()
	if err := w.conv.Interrupt(w.ctx); err != nil {
		log.Printf("[avatar] room=%s interrupt failed: %v", w.room, err)
	}
	if err := current.Wait(w.ctx); err != nil {
		log.Printf("[avatar] room=%s interrupted utterance ended with error: %v", w.room, err)
	}
}

func (w *worker) speak(item *utterance) {
	room := w.room
	pacer := *w.pacer
	pacer.OnFirstFrame = func(latency time.Duration) {
		if !item.start.IsZero() {
			log.Printf("[avatar] first frame published room=%s latency_ms=%d", room, latency.Milliseconds())
		}
	}

	_, err := w.tasks.Go(labelUtterance, func(ctx context.Context) error {
		stats, err := pacer.Run(ctx, w.synth.Synthesize(ctx, item.text), w.conv.WriteFrame, item.start)
		if err != nil {
			return err
		}
		if stats.Frames == 0 {
			log.Printf("[avatar] room=%s tts produced no audio text_len=%d", room, len(item.text))
			return media.ErrNoAudio
		}
		return nil
	})
	if err != nil {
		log.Printf("[avatar] room=%s speak rejected: %v", room, err)
	}
}

// stop 打断当前发言、等待任务退出并关闭会话。
func (w *worker) stop() {
	if current := w.tasks.Current(labelUtterance); current != nil {
		if err := w.conv.Interrupt(context.Background()); err != nil {
			log.Printf("[avatar] room=%s interrupt on close failed: %v", w.room, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.tasks.Shutdown(ctx); err != nil {
		log.Printf("[avatar] room=%s %v", w.room, err)
	}
	if err := w.conv.Close(ctx); err != nil {
		log.Printf("[avatar] room=%s close conversation failed: %v", w.room, err)
	}
	log.Printf("[avatar] relay stopped room=%s", w.room)
}
