package interview

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/model/chat"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/skills"
)

const (
	rolePrompt   = "Hello, I'm your interviewer today. Which role are you interviewing for? Backend, Frontend, Fullstack, ML/AI, AI Infra, or DevOps?"
	roleReprompt = "Sorry, I didn't catch the role. Are you interviewing for Backend, Frontend, Fullstack, ML/AI, AI Infra, or DevOps?"

	jdMatchFallbackQuestion = "Can you tell me about your relevant experience for this role?"
)

// Generator 生成面试官的回复文本。
type Generator interface {
	Generate(ctx context.Context, req ai.GenerateRequest) (string, error)
}

// SkillSource 按 id 查找技能指南。
type SkillSource interface {
	Get(id string) (*skills.Skill, bool)
}

// TurnOptions 配置轮次预算与子流程开关。
type TurnOptions struct {
	MaxTurns     int
	MaxQuestions int
	UseSkills    bool
	// GenerateTimeout 限制单次生成调用；0 表示不限制。
	GenerateTimeout time.Duration
}

// Turns 是轮次状态机：根据阶段与计数决定问候、提问或结束。
type Turns struct {
	gen    Generator
	skills SkillSource
	opts   TurnOptions
}

// NewTurns 创建状态机；skills 可为 nil。
func NewTurns(gen Generator, skillSource SkillSource, opts TurnOptions) *Turns {
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 7
	}
	if opts.MaxQuestions <= 0 {
		opts.MaxQuestions = 5
	}
	return &Turns{gen: gen, skills: skillSource, opts: opts}
}

// Next 处理一条用户输入并返回回复。每条输入都计入 TurnCount；阶段与提问计数仅在成功时写回，
// 失败后会话可继续使用。
func (t *Turns) Next(ctx context.Context, st *State, text string, history []chat.Message) (Reply, error) {
	st.TurnCount++
	next := *st

	if next.Phase == PhaseFinished || next.TurnCount >= t.opts.MaxTurns {
		next.Phase = PhaseFinished
		*st = next
		return Reply{Text: FinishMessage, Kind: ReplyFinished}, nil
	}

	if next.Phase == PhaseNotStarted && next.Context.HasJob() {
		greeting := t.jobGreeting(ctx, &next, history)
		next.Phase = PhaseGreeted
		next.QuestionCount = 1
		*st = next
		return Reply{Text: greeting, Kind: ReplyGreeting}, nil
	}

	if t.opts.UseSkills && !next.Context.HasJob() {
		reply, handled, err := t.skillTurn(ctx, &next, text, history)
		if err != nil {
			return Reply{}, err
		}
		if handled {
			*st = next
			return reply, nil
		}
	}

	reply, err := t.questionTurn(ctx, &next, text, history)
	if err != nil {
		return Reply{}, err
	}
	*st = next
	return reply, nil
}

func (t *Turns) questionTurn(ctx context.Context, st *State, text string, history []chat.Message) (Reply, error) {
	if st.Phase == PhaseNotStarted {
		out, err := t.generate(ctx, ai.GreetingPrompt(), ai.UserTurn(text), ai.TemperatureQuestion, history)
		if err != nil {
			return Reply{}, err
		}
		st.Phase = PhaseGreeted
		st.QuestionCount = 1
		return Reply{Text: out, Kind: ReplyGreeting}, nil
	}

	number := st.QuestionCount + 1
	system := ai.QuestionPrompt(st.Context, st.SkillBody, number, t.opts.MaxQuestions)
	out, err := t.generate(ctx, system, ai.UserTurn(text), ai.TemperatureQuestion, history)
	if err != nil {
		return Reply{}, err
	}
	st.Phase = PhaseQuestioning
	st.QuestionCount = number
	return Reply{Text: out, Kind: ReplyQuestion}, nil
}

// skillTurn 运行岗位选择子流程。handled=false 表示技能缺失，应回到普通问答。
func (t *Turns) skillTurn(ctx context.Context, st *State, text string, history []chat.Message) (Reply, bool, error) {
	if !st.RolePrompted {
		st.RolePrompted = true
		log.Printf("[interview] room=%s skills greeting sent", st.Room)
		return Reply{Text: rolePrompt, Kind: ReplySkill}, true, nil
	}

	userText := text
	if st.SkillID == "" {
		role, ok := MatchRole(text)
		if !ok {
			log.Printf("[interview] room=%s role not recognised, reprompting", st.Room)
			return Reply{Text: roleReprompt, Kind: ReplySkill}, true, nil
		}
		st.SkillID = role.SkillID
		st.RoleLabel = role.Label
		userText = ai.SkillFirstQuestion(role.Label)
		log.Printf("[interview] room=%s role selected skill=%s label=%s", st.Room, role.SkillID, role.Label)
	}

	skill, ok := t.lookupSkill(st.SkillID)
	if !ok {
		log.Printf("[interview] room=%s skill %s missing locally, using default flow", st.Room, st.SkillID)
		return Reply{}, false, nil
	}

	out, err := t.generate(ctx, skill.Body, userText, ai.TemperatureQuestion, history)
	if err != nil {
		return Reply{}, false, err
	}
	return Reply{Text: out, Kind: ReplySkill}, true, nil
}

// jobGreeting 组装带岗位信息的开场白，依次尝试 JD 匹配问题、缓存的默认问题、自我介绍。
func (t *Turns) jobGreeting(ctx context.Context, st *State, history []chat.Message) string {
	job := st.Context.Job
	prefix := fmt.Sprintf("Hello %s, welcome to your interview for the %s position at %s.", st.Participant, job.Title, job.Company)

	switch {
	case st.SkillBody != "" && st.Context.Resume != "":
		question := t.jdMatchQuestion(ctx, st, history)
		return prefix + " Let's get started. " + question
	case st.DefaultQuestion != "":
		return prefix + " Let's get started. " + st.DefaultQuestion
	default:
		return prefix + " Please introduce yourself."
	}
}

func (t *Turns) jdMatchQuestion(ctx context.Context, st *State, history []chat.Message) string {
	system, user := ai.JDMatchPrompt(st.Context, st.SkillBody)
	question, err := t.generate(ctx, system, user, ai.TemperatureJDMatch, history)
	if err == nil && question != "" {
		return question
	}

	log.Printf("[interview] room=%s jd-matched question failed: %v", st.Room, err)
	if st.DefaultQuestion != "" {
		return st.DefaultQuestion
	}
	return jdMatchFallbackQuestion
}

// DefaultQuestion 为岗位生成可复用的开场问题，失败时返回固定兜底问题。
func (t *Turns) DefaultQuestion(ctx context.Context, st *State) string {
	job := st.Context.Job
	if job.DefaultQuestion != "" {
		return job.DefaultQuestion
	}

	system, user := ai.DefaultQuestionPrompt(job)
	question, err := t.generate(ctx, system, user, ai.TemperatureDefaultQuestion, nil)
	if err != nil || question == "" {
		log.Printf("[interview] room=%s default question generation failed: %v", st.Room, err)
		return ai.FallbackDefaultQuestion(job.Title)
	}
	return question
}

func (t *Turns) lookupSkill(id string) (*skills.Skill, bool) {
	if t.skills == nil || id == "" {
		return nil, false
	}
	return t.skills.Get(id)
}

func (t *Turns) generate(ctx context.Context, system, user string, temperature float32, history []chat.Message) (string, error) {
	if t.gen == nil {
		return "", ai.ErrGeneratorUnavailable
	}
	if t.opts.GenerateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.GenerateTimeout)
		defer cancel()
	}

	out, err := t.gen.Generate(ctx, ai.GenerateRequest{
		SystemPrompt: system,
		UserText:     user,
		Temperature:  temperature,
		History:      history,
	})
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return out, nil
}
