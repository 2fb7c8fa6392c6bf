package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// InterviewConfig 描述面试编排参数：轮次预算、音频分帧、技能目录与超时。
type InterviewConfig struct {
	MaxTurns        int           `toml:"max_turns"`
	MaxQuestions    int           `toml:"max_questions"`
	SampleRate      int           `toml:"sample_rate"`
	Channels        int           `toml:"channels"`
	FrameMillis     int           `toml:"frame_ms"`
	UseSkills       bool          `toml:"use_skills"`
	SkillsDir       string        `toml:"skills_dir"`
	GenerateTimeout time.Duration `toml:"-"`
	Timeouts        timeoutsFile  `toml:"timeouts"`
}

type timeoutsFile struct {
	Generate string `toml:"generate"`
}

// DefaultInterview 返回内置默认值。
func DefaultInterview() InterviewConfig {
	return InterviewConfig{
		MaxTurns:        7,
		MaxQuestions:    5,
		SampleRate:      24000,
		Channels:        1,
		FrameMillis:     20,
		UseSkills:       false,
		SkillsDir:       "skills",
		GenerateTimeout: 30 * time.Second,
	}
}

// Validate 校验分帧与预算参数。
func (c InterviewConfig) Validate() error {
	if c.MaxTurns <= 0 {
		return errors.New("max_turns must be positive")
	}
	if c.MaxQuestions <= 0 {
		return errors.New("max_questions must be positive")
	}
	// TTS 只产出单声道，Opus 编码器只接受固定采样率与帧长
	if c.Channels != 1 {
		return fmt.Errorf("channels must be 1 (got %d)", c.Channels)
	}
	if !slices.Contains(opusSampleRates, c.SampleRate) {
		return fmt.Errorf("sample_rate must be one of %v (got %d)", opusSampleRates, c.SampleRate)
	}
	if !slices.Contains(opusFrameMillis, c.FrameMillis) {
		return fmt.Errorf("frame_ms must be one of %v (got %d)", opusFrameMillis, c.FrameMillis)
	}
	return nil
}

var (
	opusSampleRates = []int{8000, 12000, 16000, 24000, 48000}
	opusFrameMillis = []int{10, 20, 40, 60}
)

func loadInterviewConfig() (InterviewConfig, error) {
	cfg := DefaultInterview()

	useSkills, err := parseBoolEnv("USE_SKILLS", cfg.UseSkills)
	if err != nil {
		return InterviewConfig{}, err
	}
	cfg.UseSkills = useSkills
	cfg.SkillsDir = getEnvOrDefault("SKILLS_DIR", cfg.SkillsDir)

	maxTurns, err := parseOptionalIntEnv("INTERVIEW_MAX_TURNS")
	if err != nil {
		return InterviewConfig{}, err
	}
	if maxTurns != nil {
		cfg.MaxTurns = *maxTurns
	}

	sampleRate, err := parseOptionalIntEnv("TTS_SAMPLE_RATE")
	if err != nil {
		return InterviewConfig{}, err
	}
	if sampleRate != nil {
		cfg.SampleRate = *sampleRate
	}

	frameMillis, err := parseOptionalIntEnv("TTS_FRAME_MS")
	if err != nil {
		return InterviewConfig{}, err
	}
	if frameMillis != nil {
		cfg.FrameMillis = *frameMillis
	}

	generateTimeout, err := parseOptionalDurationEnv("GENERATE_TIMEOUT")
	if err != nil {
		return InterviewConfig{}, err
	}
	if generateTimeout != nil {
		cfg.GenerateTimeout = *generateTimeout
	}

	return cfg, nil
}

// applyInterviewFile 用 TOML 文件覆盖面试参数，文件中未出现的字段保持原值。
func applyInterviewFile(path string, cfg *InterviewConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read interview config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode interview config %s: %w", path, err)
	}

	if cfg.Timeouts.Generate != "" {
		d, err := time.ParseDuration(cfg.Timeouts.Generate)
		if err != nil {
			return fmt.Errorf("invalid timeouts.generate %q: %w", cfg.Timeouts.Generate, err)
		}
		cfg.GenerateTimeout = d
	}

	return nil
}
