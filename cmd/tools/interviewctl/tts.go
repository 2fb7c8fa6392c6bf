package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-interview/backend/internal/media"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
)

func newTTSCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tts [text]",
		Short: "合成文本并按帧写出 PCM 文件",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runTTSCmd,
	}

	cmd.Flags().StringP("out", "o", "", "输出 PCM 文件路径 (默认 tts-<unix>.pcm)")
	cmd.Flags().Bool("realtime", false, "按实时速率放行帧")
	cmd.Flags().Duration("timeout", 45*time.Second, "请求超时时间")
	return cmd
}

func runTTSCmd(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("tts 需要非空文本")
	}

	outPath, _ := cmd.Flags().GetString("out")
	realtime, _ := cmd.Flags().GetBool("realtime")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("配置加载失败: %w", err)
	}
	if !cfg.Speech.Enabled {
		return errors.New("语音服务未启用，请先在环境变量中配置 SPEECH_* 或 Ark 凭证")
	}

	pacer, err := media.NewPacer(media.FrameSpec{
		SampleRate:  cfg.Interview.SampleRate,
		Channels:    cfg.Interview.Channels,
		FrameMillis: cfg.Interview.FrameMillis,
	})
	if err != nil {
		return err
	}
	if !realtime {
		pacer = pacer.WithClock(time.Now, func(context.Context, time.Duration) error { return nil })
	}

	if outPath == "" {
		outPath = fmt.Sprintf("tts-%d.pcm", time.Now().Unix())
	}
	file, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("创建输出文件失败: %w", err)
	}
	defer file.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	svc := speech.NewService(cfg.Speech, cfg.Interview.SampleRate)
	start := time.Now()
	pacer.OnFirstFrame = func(latency time.Duration) {
		log.Printf("首帧延迟 %s", latency.Round(time.Millisecond))
	}

	log.Printf("开始合成: voice=%s sample_rate=%d frame_ms=%d", cfg.Speech.TTSVoice, cfg.Interview.SampleRate, cfg.Interview.FrameMillis)
	stats, err := pacer.Run(ctx, svc.Synthesize(ctx, text), func(_ context.Context, frame media.Frame) error {
		_, werr := file.Write(frame.Data)
		return werr
	}, start)
	if err != nil {
		return fmt.Errorf("合成失败: %w", err)
	}
	if stats.Frames == 0 {
		return media.ErrNoAudio
	}

	log.Printf("合成完成: 输出 %s frames=%d bytes=%d dropped=%d elapsed=%s",
		outPath, stats.Frames, stats.Bytes, stats.DroppedBytes, time.Since(start).Round(time.Millisecond))
	return nil
}
