package media

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"testing"
	"time"
)

type fakeClock struct {
	now    time.Time
	slept  time.Duration
	sleeps int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	c.slept += d
	c.sleeps++
	return nil
}

func newTestPacer(t *testing.T, spec FrameSpec, clock *fakeClock) *Pacer {
	t.Helper()
	p, err := NewPacer(spec)
	if err != nil {
		t.Fatalf("NewPacer err: %v", err)
	}
	return p.WithClock(clock.Now, clock.Sleep)
}

func collect(frames *[]Frame) EmitFunc {
	return func(_ context.Context, f Frame) error {
		*frames = append(*frames, f)
		return nil
	}
}

func TestFrameSpecSizes(t *testing.T) {
	cases := []struct {
		spec    FrameSpec
		samples int
		bytes   int
	}{
		{FrameSpec{SampleRate: 24000, Channels: 1, FrameMillis: 20, BytesPerSample: 2}, 480, 960},
		{FrameSpec{SampleRate: 48000, Channels: 2, FrameMillis: 10, BytesPerSample: 2}, 480, 1920},
		{FrameSpec{SampleRate: 16000, Channels: 1, FrameMillis: 40, BytesPerSample: 2}, 640, 1280},
	}

	for _, tc := range cases {
		if got := tc.spec.FrameSamples(); got != tc.samples {
			t.Fatalf("FrameSamples(%+v) = %d, want %d", tc.spec, got, tc.samples)
		}
		if got := tc.spec.FrameBytes(); got != tc.bytes {
			t.Fatalf("FrameBytes(%+v) = %d, want %d", tc.spec, got, tc.bytes)
		}
		if tc.spec.FrameBytes() != tc.spec.FrameSamples()*tc.spec.Channels*2 {
			t.Fatalf("frame bytes mismatch for %+v", tc.spec)
		}
	}
}

func TestPacerEmitsFullFramesAndTruncatedTail(t *testing.T) {
	spec := FrameSpec{SampleRate: 24000, Channels: 2, FrameMillis: 20, BytesPerSample: 2}
	frameBytes := spec.FrameBytes() // 1920
	total := frameBytes*3 + 7       // 7 bytes tail -> one 4-byte sample frame, 3 dropped

	payload := make([]byte, total)
	for i := range payload {
		payload[i] = byte(i)
	}

	// 任意切分，包括空块
	chunks := Chunks(payload[:100], nil, payload[100:2500], []byte{}, payload[2500:])

	clock := newFakeClock()
	pacer := newTestPacer(t, spec, clock)

	var frames []Frame
	stats, err := pacer.Run(context.Background(), chunks, collect(&frames), time.Time{})
	if err != nil {
		t.Fatalf("Run err: %v", err)
	}

	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(frames))
	}
	for i := 0; i < 3; i++ {
		if len(frames[i].Data) != frameBytes {
			t.Fatalf("frame %d has %d bytes, want %d", i, len(frames[i].Data), frameBytes)
		}
		if frames[i].SamplesPerChannel != spec.FrameSamples() {
			t.Fatalf("frame %d samples = %d", i, frames[i].SamplesPerChannel)
		}
	}
	if len(frames[3].Data) != 4 {
		t.Fatalf("tail frame has %d bytes, want 4", len(frames[3].Data))
	}
	if frames[3].SamplesPerChannel != 1 {
		t.Fatalf("tail frame samples = %d, want 1", frames[3].SamplesPerChannel)
	}
	if stats.DroppedBytes != 3 {
		t.Fatalf("expected 3 dropped bytes, got %d", stats.DroppedBytes)
	}

	var joined []byte
	for _, f := range frames {
		joined = append(joined, f.Data...)
	}
	if !bytes.Equal(joined, payload[:total-3]) {
		t.Fatal("frames do not reproduce the input stream in order")
	}
}

func TestPacerNeverRunsAheadOfWallClock(t *testing.T) {
	spec := DefaultFrameSpec()
	clock := newFakeClock()
	pacer := newTestPacer(t, spec, clock)
	start := clock.Now()

	var samplesBefore int64
	var violations int
	emit := func(_ context.Context, f Frame) error {
		expected := time.Duration(samplesBefore) * time.Second / time.Duration(spec.SampleRate)
		elapsed := clock.Now().Sub(start)
		if expected > elapsed+time.Millisecond {
			violations++
		}
		samplesBefore += int64(f.SamplesPerChannel)
		return nil
	}

	payload := make([]byte, spec.FrameBytes()*50+10)
	stats, err := pacer.Run(context.Background(), Chunks(payload), emit, start)
	if err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if violations != 0 {
		t.Fatalf("pacer emitted %d frames ahead of real time", violations)
	}

	wantAudio := time.Duration(stats.Samples) * time.Second / time.Duration(spec.SampleRate)
	if clock.slept != wantAudio {
		t.Fatalf("expected total sleep %s, got %s", wantAudio, clock.slept)
	}
}

func TestPacerZeroBytesEmitsNothing(t *testing.T) {
	clock := newFakeClock()
	pacer := newTestPacer(t, DefaultFrameSpec(), clock)

	var frames []Frame
	stats, err := pacer.Run(context.Background(), Chunks(nil, []byte{}, []byte{1}), collect(&frames), time.Time{})
	if err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if len(frames) != 0 || stats.Frames != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if stats.DroppedBytes != 1 {
		t.Fatalf("expected single odd byte to be dropped, got %d", stats.DroppedBytes)
	}
}

func TestPacerReportsFirstFrameLatencyOnce(t *testing.T) {
	clock := newFakeClock()
	start := clock.Now().Add(-150 * time.Millisecond)
	pacer := newTestPacer(t, DefaultFrameSpec(), clock)

	var calls []time.Duration
	pacer.OnFirstFrame = func(d time.Duration) { calls = append(calls, d) }

	payload := make([]byte, DefaultFrameSpec().FrameBytes()*3)
	stats, err := pacer.Run(context.Background(), Chunks(payload), func(context.Context, Frame) error { return nil }, start)
	if err != nil {
		t.Fatalf("Run err: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected one latency callback, got %d", len(calls))
	}
	if calls[0] != 150*time.Millisecond || stats.FirstFrameLatency != calls[0] {
		t.Fatalf("unexpected latency: %s", calls[0])
	}
}

func TestPacerStopsOnCancellation(t *testing.T) {
	clock := newFakeClock()
	pacer := newTestPacer(t, DefaultFrameSpec(), clock)
	ctx, cancel := context.WithCancel(context.Background())

	var emitted int
	emit := func(_ context.Context, _ Frame) error {
		emitted++
		if emitted == 2 {
			cancel()
		}
		return nil
	}

	payload := make([]byte, DefaultFrameSpec().FrameBytes()*10)
	_, err := pacer.Run(ctx, Chunks(payload), emit, time.Time{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if emitted != 2 {
		t.Fatalf("expected emission to stop after cancel, got %d frames", emitted)
	}
}

func TestPacerPropagatesSourceError(t *testing.T) {
	clock := newFakeClock()
	pacer := newTestPacer(t, DefaultFrameSpec(), clock)
	boom := errors.New("tts dropped")

	var source iter.Seq2[[]byte, error] = func(yield func([]byte, error) bool) {
		if !yield(make([]byte, DefaultFrameSpec().FrameBytes()), nil) {
			return
		}
		yield(nil, boom)
	}

	var frames []Frame
	stats, err := pacer.Run(context.Background(), source, collect(&frames), time.Time{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	if stats.Frames != 1 {
		t.Fatalf("expected one frame before failure, got %d", stats.Frames)
	}
}
