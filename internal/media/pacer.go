package media

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"
)

// FrameSpec 描述 PCM 分帧参数（有符号小端 PCM，交错声道）。
type FrameSpec struct {
	SampleRate     int
	Channels       int
	FrameMillis    int
	BytesPerSample int
}

// DefaultFrameSpec 24kHz 单声道 20ms 帧。
func DefaultFrameSpec() FrameSpec {
	return FrameSpec{SampleRate: 24000, Channels: 1, FrameMillis: 20, BytesPerSample: 2}
}

// Validate 检查分帧参数是否可用。
func (s FrameSpec) Validate() error {
	if s.SampleRate <= 0 || s.Channels <= 0 || s.FrameMillis <= 0 || s.BytesPerSample <= 0 {
		return fmt.Errorf("invalid frame spec: %+v", s)
	}
	if s.FrameSamples() == 0 {
		return fmt.Errorf("frame spec yields empty frames: %+v", s)
	}
	return nil
}

// FrameSamples 每帧每声道的采样数。
func (s FrameSpec) FrameSamples() int {
	return s.SampleRate * s.FrameMillis / 1000
}

// SampleBytes 一个采样帧（所有声道）的字节数。
func (s FrameSpec) SampleBytes() int {
	return s.BytesPerSample * s.Channels
}

// FrameBytes 一个完整帧的字节数。
func (s FrameSpec) FrameBytes() int {
	return s.FrameSamples() * s.SampleBytes()
}

// Frame 是一段可直接发布的 PCM 音频。
type Frame struct {
	Data              []byte
	SampleRate        int
	Channels          int
	SamplesPerChannel int
}

// Duration 返回帧的播放时长。
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SamplesPerChannel) * time.Second / time.Duration(f.SampleRate)
}

// Stats 汇总一次推流的结果。
type Stats struct {
	Frames            int
	Samples           int64
	Bytes             int64
	DroppedBytes      int
	FirstFrameLatency time.Duration
}

// EmitFunc 接收一个帧；返回错误会终止推流。
type EmitFunc func(ctx context.Context, frame Frame) error

// Pacer 把任意切分的 PCM 字节流整形为固定时长的帧，并按实时速率放行。
type Pacer struct {
	spec FrameSpec

	// OnFirstFrame 在首帧发布后调用一次，参数为调用方起始时间到首帧的延迟。
	OnFirstFrame func(latency time.Duration)

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer 创建一个使用系统时钟的 Pacer。
func NewPacer(spec FrameSpec) (*Pacer, error) {
	if spec.BytesPerSample == 0 {
		spec.BytesPerSample = 2
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Pacer{spec: spec, now: time.Now, sleep: sleepContext}, nil
}

// Spec 返回分帧参数。
func (p *Pacer) Spec() FrameSpec {
	return p.spec
}

// WithClock 替换时钟与休眠实现，便于确定性测试。
func (p *Pacer) WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) *Pacer {
	cp := *p
	cp.now = now
	cp.sleep = sleep
	return &cp
}

// Run 消费 chunks 直到耗尽，按帧调用 emit。start 为零值时以首个输入前的时刻作为基准。
func (p *Pacer) Run(ctx context.Context, chunks iter.Seq2[[]byte, error], emit EmitFunc, start time.Time) (Stats, error) {
	var stats Stats

	frameBytes := p.spec.FrameBytes()
	sampleBytes := p.spec.SampleBytes()
	streamStart := p.now()
	if start.IsZero() {
		start = streamStart
	}

	buf := make([]byte, 0, frameBytes*2)

	send := func(data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		samples := len(data) / sampleBytes
		frame := Frame{
			Data:              data,
			SampleRate:        p.spec.SampleRate,
			Channels:          p.spec.Channels,
			SamplesPerChannel: samples,
		}
		if err := emit(ctx, frame); err != nil {
			return err
		}

		stats.Frames++
		stats.Samples += int64(samples)
		stats.Bytes += int64(len(data))

		if stats.Frames == 1 {
			stats.FirstFrameLatency = p.now().Sub(start)
			if p.OnFirstFrame != nil {
				p.OnFirstFrame(stats.FirstFrameLatency)
			}
		}

		expected := time.Duration(stats.Samples) * time.Second / time.Duration(p.spec.SampleRate)
		elapsed := p.now().Sub(streamStart)
		if expected > elapsed {
			return p.sleep(ctx, expected-elapsed)
		}
		return nil
	}

	for chunk, err := range chunks {
		if err != nil {
			return stats, err
		}
		if len(chunk) == 0 {
			continue
		}

		buf = append(buf, chunk...)
		for len(buf) >= frameBytes {
			frame := make([]byte, frameBytes)
			copy(frame, buf[:frameBytes])
			buf = buf[frameBytes:]
			if err := send(frame); err != nil {
				return stats, err
			}
		}
	}

	if usable := len(buf) - len(buf)%sampleBytes; usable >= sampleBytes {
		stats.DroppedBytes = len(buf) - usable
		frame := make([]byte, usable)
		copy(frame, buf[:usable])
		if err := send(frame); err != nil {
			return stats, err
		}
	} else {
		stats.DroppedBytes = len(buf)
	}

	return stats, nil
}

// ErrNoAudio 表示 TTS 流没有产生任何可播放的字节。
var ErrNoAudio = errors.New("tts stream produced no audio")

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Chunks 把静态切片包装成字节块序列。
func Chunks(parts ...[]byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for _, part := range parts {
			if !yield(part, nil) {
				return
			}
		}
	}
}
