package interview

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

// Synthesizer 产出一段文本的 PCM 字节流。
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) iter.Seq2[[]byte, error]
}

// AvatarRelay 是数字人中继路径。
type AvatarRelay interface {
	Enabled() bool
	EnsureAvatar(ctx context.Context, room string) error
	EnqueueText(room, text string, start time.Time) error
	CloseRoom(ctx context.Context, room string) error
}

// Coordinator 为单个房间在直推音频与数字人中继之间选路。
// 数字人启动或入队失败后切换为直推，之后不再切回。
type Coordinator struct {
	room      string
	transport media.Transport
	avatar    AvatarRelay
	synth     Synthesizer
	pacer     *media.Pacer
	tasks     *tasks.Tracker

	mu            sync.Mutex
	useAvatar     bool
	avatarStarted bool

	closeOnce sync.Once
	closeErr  error
}

func newCoordinator(room string, transport media.Transport, avatar AvatarRelay, synth Synthesizer, pacer *media.Pacer, tracker *tasks.Tracker) *Coordinator {
	return &Coordinator{
		room:      room,
		transport: transport,
		avatar:    avatar,
		synth:     synth,
		pacer:     pacer,
		tasks:     tracker,
	}
}

// Start 在会话创建时选路：优先启动数字人，失败或未启用时后台预热直推发布者。
func (c *Coordinator) Start(ctx context.Context, wantAvatar bool) {
	if wantAvatar && (c.avatar == nil || !c.avatar.Enabled()) {
		log.Printf("[coordinator] room=%s avatar requested but not configured, falling back to direct audio", c.room)
		wantAvatar = false
	}

	if wantAvatar {
		if err := c.avatar.EnsureAvatar(ctx, c.room); err != nil {
			log.Printf("[coordinator] room=%s avatar start failed, falling back to direct audio: %v", c.room, err)
		} else {
			c.mu.Lock()
			c.useAvatar = true
			c.avatarStarted = true
			c.mu.Unlock()
			return
		}
	}

	c.bootstrapPublisher()
}

func (c *Coordinator) bootstrapPublisher() {
	_, err := c.tasks.Go(tasks.LabelPublisherBootstrap, func(ctx context.Context) error {
		_, err := c.transport.EnsurePublisher(ctx, c.room, "")
		return err
	})
	if err != nil {
		log.Printf("[coordinator] room=%s publisher bootstrap rejected: %v", c.room, err)
	}
}

// UsingAvatar 表示当前是否走数字人中继。
func (c *Coordinator) UsingAvatar() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useAvatar
}

// Deliver 把一段回复送到房间。直推路径会先取消并等待上一句的音频任务，
// 保证被取消的发言不会在新发言开始后再发出任何帧。
func (c *Coordinator) Deliver(ctx context.Context, text string, start time.Time) error {
	if c.UsingAvatar() {
		err := c.avatar.EnsureAvatar(ctx, c.room)
		if err == nil {
			err = c.avatar.EnqueueText(c.room, text, start)
		}
		if err == nil {
			return nil
		}
		log.Printf("[coordinator] room=%s avatar enqueue failed, falling back to direct audio: %v", c.room, err)
		c.mu.Lock()
		c.useAvatar = false
		c.mu.Unlock()
	}

	if err := c.tasks.CancelAndWait(ctx, tasks.LabelAudio); err != nil {
		return fmt.Errorf("cancel previous audio: %w", err)
	}

	_, err := c.tasks.Go(tasks.LabelAudio, func(ctx context.Context) error {
		return c.stream(ctx, text, start)
	})
	return err
}

// stream 把 TTS 字节流整形为帧并写入房间的音频轨道。
func (c *Coordinator) stream(ctx context.Context, text string, start time.Time) error {
	if _, err := c.transport.EnsurePublisher(ctx, c.room, ""); err != nil {
		return fmt.Errorf("publisher unavailable: %w", err)
	}
	log.Printf("[coordinator] tts stream start room=%s text_len=%d", c.room, len(text))

	pacer := *c.pacer
	pacer.OnFirstFrame = func(latency time.Duration) {
		if !start.IsZero() {
			log.Printf("[coordinator] tts first frame published room=%s latency_ms=%d", c.room, latency.Milliseconds())
		}
	}

	emit := func(ctx context.Context, frame media.Frame) error {
		return c.transport.PublishAudioFrame(ctx, c.room, frame)
	}

	stats, err := pacer.Run(ctx, c.synth.Synthesize(ctx, text), emit, start)
	if err != nil {
		return err
	}
	if stats.Frames == 0 {
		log.Printf("[coordinator] tts stream ended without audio frames room=%s", c.room)
		return media.ErrNoAudio
	}
	log.Printf("[coordinator] tts stream done room=%s frames=%d samples=%d dropped_bytes=%d", c.room, stats.Frames, stats.Samples, stats.DroppedBytes)
	return nil
}

// AudioTask 返回当前音频任务（若有）。
func (c *Coordinator) AudioTask() *tasks.Task {
	return c.tasks.Current(tasks.LabelAudio)
}

// Close 取消并等待全部后台任务，再关闭数字人中继。可重复调用。
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.tasks.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}

		c.mu.Lock()
		started := c.avatarStarted
		c.useAvatar = false
		c.mu.Unlock()

		if started {
			if err := c.avatar.CloseRoom(ctx, c.room); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
