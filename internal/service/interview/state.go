package interview

import (
	"fmt"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/model/interview"
)

// FinishMessage 是达到轮次上限后的固定回复。
const FinishMessage = "This interview is finished. Thank you for participating."

// Phase 表示面试所处阶段。
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseGreeted
	PhaseQuestioning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "not_started"
	case PhaseGreeted:
		return "greeted"
	case PhaseQuestioning:
		return "questioning"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// MarshalText 让 JSON 输出阶段名称。
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ReplyKind 标记一次回复的来源，调用方据此决定是否计数。
type ReplyKind int

const (
	ReplyGreeting ReplyKind = iota
	ReplyQuestion
	ReplyFinished
	// ReplySkill 来自岗位选择子流程，不推进阶段与问题计数。
	ReplySkill
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyGreeting:
		return "greeting"
	case ReplyQuestion:
		return "question"
	case ReplyFinished:
		return "finished"
	case ReplySkill:
		return "skill"
	default:
		return fmt.Sprintf("ReplyKind(%d)", int(k))
	}
}

// Reply 是一轮对话的输出文本。
type Reply struct {
	Text string
	Kind ReplyKind
}

// State 是单个房间的对话状态。只由持有会话锁的调用方修改。
type State struct {
	Room          string
	Participant   string
	CreatedAt     time.Time
	Phase         Phase
	TurnCount     int
	QuestionCount int

	Context *interview.Context

	// 技能相关：创建时按岗位名自动匹配，或在子流程中由候选人选择。
	SkillID      string
	SkillBody    string
	RoleLabel    string
	RolePrompted bool

	DefaultQuestion string
}

// Snapshot 是对外暴露的只读状态视图。
type Snapshot struct {
	SessionID     string    `json:"session_id"`
	RoomName      string    `json:"room_name"`
	Participant   string    `json:"participant_name"`
	CreatedAt     time.Time `json:"created_at"`
	Phase         Phase     `json:"phase"`
	TurnCount     int       `json:"turn_count"`
	QuestionCount int       `json:"question_count"`
	SkillID       string    `json:"skill_id,omitempty"`
	RoleLabel     string    `json:"role_label,omitempty"`
	HasJob        bool      `json:"has_job"`
	HasResume     bool      `json:"has_resume"`
	AvatarEnabled bool      `json:"use_tavus"`
	AudioTask     string    `json:"audio_task,omitempty"`
	ClientOnline  bool      `json:"client_connected"`
}
