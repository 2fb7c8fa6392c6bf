package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-interview/backend/internal/config"
	"github.com/zhouzirui/z-interview/backend/internal/handler"
	"github.com/zhouzirui/z-interview/backend/internal/handler/system"
	"github.com/zhouzirui/z-interview/backend/internal/media"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/avatar"
	"github.com/zhouzirui/z-interview/backend/internal/service/chat"
	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/skills"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// 文本生成：未配置时 Generate 返回 ErrGeneratorUnavailable
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("continuing without AI functionality - 请检查 Ark 模型相关环境变量")
		} else {
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，跳过 AI 功能初始化")
	}

	speechService := speech.NewService(cfg.Speech, cfg.Interview.SampleRate)
	if speechService.Enabled() {
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，合成请求将返回错误")
	}

	pacer, err := media.NewPacer(media.FrameSpec{
		SampleRate:     cfg.Interview.SampleRate,
		Channels:       cfg.Interview.Channels,
		FrameMillis:    cfg.Interview.FrameMillis,
		BytesPerSample: 2,
	})
	if err != nil {
		log.Fatalf("invalid audio framing: %v", err)
	}

	transport := media.NewLiveKit(cfg.LiveKit)
	if !cfg.LiveKit.Configured() {
		log.Println("LiveKit 凭证未配置，使用 mock token，音频不会发布到房间")
	}

	skillRegistry := loadSkills(cfg.Interview.SkillsDir)

	var backend avatar.Backend
	if cfg.Avatar.UseAvatar && cfg.Avatar.Configured() {
		backend = avatar.NewTavusBackend(cfg.Avatar, transport, nil)
		log.Println("Tavus avatar relay enabled")
	} else if cfg.Avatar.UseAvatar {
		log.Println("USE_TAVUS=true 但 Tavus 凭证不完整，使用直接音频发布")
	}
	avatarService := avatar.NewService(backend, speechService, pacer)

	registry := interview.NewRegistry(interview.Dependencies{
		Transport:   transport,
		Generator:   aiService,
		Synthesizer: speechService,
		Skills:      skillRegistry,
		Avatar:      avatarService,
		Transcripts: chat.NewService(),
		Pacer:       pacer,
	}, interview.Options{
		Turns: interview.TurnOptions{
			MaxTurns:        cfg.Interview.MaxTurns,
			MaxQuestions:    cfg.Interview.MaxQuestions,
			UseSkills:       cfg.Interview.UseSkills,
			GenerateTimeout: cfg.Interview.GenerateTimeout,
		},
		UseAvatar: cfg.Avatar.UseAvatar,
	})

	router := handler.NewRouter(handler.RouterOptions{
		Sessions: registry,
		Skills:   skillRegistry,
		Services: system.Services{
			LiveKit: cfg.LiveKit.Configured(),
			TTS:     speechService.Enabled(),
			Avatar:  cfg.Avatar.Configured(),
		},
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	startServer(ctx, cfg.Server, router)

	// 服务停止后清理所有房间与数字人
	cleanupCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.Shutdown(cleanupCtx); err != nil {
		log.Printf("warning: session shutdown incomplete: %v", err)
	}
	if err := avatarService.Shutdown(cleanupCtx); err != nil {
		log.Printf("warning: avatar shutdown incomplete: %v", err)
	}
	log.Println("interview backend stopped")
}

func loadSkills(dir string) *skills.Registry {
	if err := skills.EnsureDefaults(dir); err != nil {
		log.Printf("warning: failed to install default skills into %s: %v", dir, err)
	}
	registry := skills.NewRegistry(dir)
	if err := registry.Load(); err != nil {
		log.Printf("warning: failed to load skills from %s: %v", dir, err)
	}
	log.Printf("loaded %d interview skills from %s", len(registry.List()), dir)
	return registry
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Interview backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Printf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
