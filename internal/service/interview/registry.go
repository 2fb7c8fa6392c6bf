package interview

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zhouzirui/z-interview/backend/internal/media"
	"github.com/zhouzirui/z-interview/backend/internal/model/chat"
	"github.com/zhouzirui/z-interview/backend/internal/model/interview"
	chatsvc "github.com/zhouzirui/z-interview/backend/internal/service/chat"
	"github.com/zhouzirui/z-interview/backend/internal/service/tasks"
)

var (
	// ErrSessionNotFound 房间没有活动会话。
	ErrSessionNotFound = errors.New("interview session not found")
	// ErrRoomRequired 房间名为空。
	ErrRoomRequired = errors.New("room name is required")
	// ErrTextRequired 输入文本为空。
	ErrTextRequired = errors.New("text is required")
)

const teardownTimeout = 10 * time.Second

// Dependencies 是注册表依赖的外部能力。
type Dependencies struct {
	Transport   media.Transport
	Generator   Generator
	Synthesizer Synthesizer
	Skills      SkillSource
	Avatar      AvatarRelay
	Transcripts *chatsvc.Service
	Pacer       *media.Pacer
}

// Options 控制轮次预算与默认输出路径。
type Options struct {
	Turns     TurnOptions
	UseAvatar bool
}

// CreateRequest 是创建会话的参数。
type CreateRequest struct {
	Room        string
	Participant string
	Context     *interview.Context
}

// Descriptor 是创建会话后返回给客户端的连接信息。
type Descriptor struct {
	SessionID     string `json:"session_id"`
	Token         string `json:"token"`
	RoomName      string `json:"room_name"`
	URL           string `json:"url"`
	AvatarEnabled bool   `json:"use_tavus"`
}

// SayResult 是一轮对话的结果。
type SayResult struct {
	SessionID string    `json:"session_id"`
	RoomName  string    `json:"room_name"`
	Response  string    `json:"response"`
	Kind      ReplyKind `json:"-"`
	AudioURL  *string   `json:"audio_url"`
	VideoURL  *string   `json:"video_url"`
}

type session struct {
	id    string
	room  string
	coord *Coordinator

	// turnMu 串行化同一房间的对话轮次；stateMu 保护 state 的读写。
	turnMu  sync.Mutex
	stateMu sync.RWMutex
	state   State

	clientMu sync.Mutex
	client   Client
}

// Registry 持有每个房间的面试会话，是创建、对话、结束与查询的唯一入口。
type Registry struct {
	deps  Dependencies
	opts  Options
	turns *Turns

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
	locks    *roomLocks
}

// NewRegistry 创建会话注册表。
func NewRegistry(deps Dependencies, opts Options) *Registry {
	if deps.Transcripts == nil {
		deps.Transcripts = chatsvc.NewService()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		deps:     deps,
		opts:     opts,
		turns:    NewTurns(deps.Generator, deps.Skills, opts.Turns),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
		locks:    newRoomLocks(),
	}
}

// Create 分配房间与凭证并初始化会话。同名房间已有会话时先强制关闭旧会话。
func (r *Registry) Create(ctx context.Context, req CreateRequest) (Descriptor, error) {
	room := strings.TrimSpace(req.Room)
	if room == "" {
		return Descriptor{}, ErrRoomRequired
	}
	participant := strings.TrimSpace(req.Participant)
	if participant == "" {
		participant = "User"
	}

	unlock := r.locks.lock(room)
	defer unlock()

	if existing := r.remove(room); existing != nil {
		log.Printf("[registry] room=%s already active, closing previous session %s", room, existing.id)
		r.teardown(ctx, room, existing)
	}

	log.Printf("[registry] creating room=%s participant=%s", room, participant)
	if err := r.deps.Transport.CreateRoom(ctx, room); err != nil {
		return Descriptor{}, fmt.Errorf("create room: %w", err)
	}

	token, err := r.deps.Transport.IssueToken(room, participant)
	if err != nil {
		return Descriptor{}, fmt.Errorf("issue token: %w", err)
	}
	log.Printf("[registry] token issued room=%s participant=%s token_set=%t token=%s", room, participant, token != "", media.MaskSecret(token))

	transcript, err := r.deps.Transcripts.Open(ctx, room, participant)
	if err != nil {
		return Descriptor{}, fmt.Errorf("open transcript: %w", err)
	}

	state := State{
		Room:        room,
		Participant: participant,
		CreatedAt:   time.Now().UTC(),
		Phase:       PhaseNotStarted,
		Context:     req.Context,
	}
	r.prepareJobContext(ctx, &state)

	sess := &session{
		id:    transcript.ID,
		room:  room,
		state: state,
		coord: newCoordinator(room, r.deps.Transport, r.deps.Avatar, r.deps.Synthesizer, r.deps.Pacer, tasks.NewTracker(r.ctx, room)),
	}
	sess.coord.Start(ctx, r.opts.UseAvatar)

	r.mu.Lock()
	r.sessions[room] = sess
	r.mu.Unlock()

	log.Printf("[registry] session ready room=%s session=%s url=%s avatar=%t", room, sess.id, r.deps.Transport.URL(), sess.coord.UsingAvatar())
	return Descriptor{
		SessionID:     sess.id,
		Token:         token,
		RoomName:      room,
		URL:           r.deps.Transport.URL(),
		AvatarEnabled: sess.coord.UsingAvatar(),
	}, nil
}

// prepareJobContext 按岗位名匹配技能指南并准备默认开场问题。
func (r *Registry) prepareJobContext(ctx context.Context, st *State) {
	if !st.Context.HasJob() {
		return
	}
	job := st.Context.Job

	st.SkillID = st.Context.SkillID
	if st.SkillID == "" {
		if role, ok := MatchRole(job.Title); ok {
			st.SkillID = role.SkillID
			st.RoleLabel = role.Label
		} else {
			log.Printf("[registry] room=%s could not match a skill for job title %q", st.Room, job.Title)
		}
	}
	if st.SkillID != "" {
		if skill, ok := r.turns.lookupSkill(st.SkillID); ok {
			st.SkillBody = skill.Body
			log.Printf("[registry] room=%s matched skill %s for job %q", st.Room, st.SkillID, job.Title)
		} else {
			log.Printf("[registry] room=%s skill %s not found in registry", st.Room, st.SkillID)
		}
	}

	st.DefaultQuestion = r.turns.DefaultQuestion(ctx, st)
	log.Printf("[registry] room=%s loaded job context: %s at %s resume_chars=%d", st.Room, job.Title, job.Company, len(st.Context.Resume))
}

// Say 处理一条用户输入：推进状态机、记录对话并把回复送到房间。
// 同一房间的调用串行执行。
func (r *Registry) Say(ctx context.Context, room, text string, start time.Time) (SayResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SayResult{}, ErrTextRequired
	}

	sess := r.get(room)
	if sess == nil {
		return SayResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, room)
	}

	sess.turnMu.Lock()
	defer sess.turnMu.Unlock()

	if r.get(room) != sess {
		return SayResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, room)
	}

	history, err := r.deps.Transcripts.Transcript(ctx, room)
	if err != nil {
		history = nil
	}

	sess.stateMu.RLock()
	state := sess.state
	sess.stateMu.RUnlock()

	reply, err := r.turns.Next(ctx, &state, text, history)

	// 失败的轮次同样计入 TurnCount
	sess.stateMu.Lock()
	sess.state = state
	sess.stateMu.Unlock()

	if err != nil {
		log.Printf("[registry] room=%s turn=%d failed: %v", room, state.TurnCount, err)
		return SayResult{}, err
	}
	log.Printf("[registry] room=%s turn=%d kind=%s question=%d phase=%s", room, state.TurnCount, reply.Kind, state.QuestionCount, state.Phase)

	// 生成期间房间可能已被结束或重建
	if r.get(room) != sess {
		return SayResult{}, fmt.Errorf("%w: %s", ErrSessionNotFound, room)
	}
	r.record(ctx, sess, chat.SenderUser, text, "")
	r.record(ctx, sess, chat.SenderInterviewer, reply.Text, reply.Kind.String())

	if err := sess.coord.Deliver(ctx, reply.Text, start); err != nil {
		log.Printf("[registry] room=%s deliver failed: %v", room, err)
		return SayResult{}, fmt.Errorf("deliver reply: %w", err)
	}

	return SayResult{
		SessionID: sess.id,
		RoomName:  room,
		Response:  reply.Text,
		Kind:      reply.Kind,
	}, nil
}

func (r *Registry) record(ctx context.Context, sess *session, sender, content, kind string) {
	err := r.deps.Transcripts.Append(ctx, sess.room, chat.Message{SessionID: sess.id, Sender: sender, Content: content, Kind: kind})
	if err != nil {
		log.Printf("[registry] room=%s session=%s record %s message failed: %v", sess.room, sess.id, sender, err)
	}
}

// End 结束会话：取消后台任务、关闭数字人与发布者、删除房间。会话不存在时返回 false。
func (r *Registry) End(ctx context.Context, room string) bool {
	unlock := r.locks.lock(room)
	defer unlock()

	sess := r.remove(room)
	if sess == nil {
		return false
	}

	r.teardown(ctx, room, sess)
	log.Printf("[registry] ended session room=%s session=%s", room, sess.id)
	return true
}

// teardown 的每一步失败都只记录日志。
func (r *Registry) teardown(ctx context.Context, room string, sess *session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	if err := sess.coord.Close(ctx); err != nil {
		log.Printf("[registry] room=%s stop background work: %v", room, err)
	}
	if err := r.deps.Transport.DeleteRoom(ctx, room); err != nil {
		log.Printf("[registry] failed to delete room %s: %v", room, err)
	}
	if err := r.deps.Transport.ClosePublisher(room); err != nil {
		log.Printf("[registry] failed to close publisher for room %s: %v", room, err)
	}
	r.deps.Transcripts.Close(ctx, room)

	sess.clientMu.Lock()
	sess.client = nil
	sess.clientMu.Unlock()
}

// Status 返回会话快照。
func (r *Registry) Status(room string) (Snapshot, bool) {
	sess := r.get(room)
	if sess == nil {
		return Snapshot{}, false
	}
	return sess.snapshot(), true
}

// Transcript 返回会话的对话记录。
func (r *Registry) Transcript(ctx context.Context, room string) ([]chat.Message, error) {
	if r.get(room) == nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, room)
	}
	return r.deps.Transcripts.Transcript(ctx, room)
}

// Rooms 返回所有活动房间名。
func (r *Registry) Rooms() []string {
	r.mu.RLock()
	rooms := make([]string, 0, len(r.sessions))
	for room := range r.sessions {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()
	sort.Strings(rooms)
	return rooms
}

// AttachClient 记录房间的推送客户端，替换之前的客户端。
func (r *Registry) AttachClient(room string, client Client) error {
	sess := r.get(room)
	if sess == nil {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, room)
	}
	sess.clientMu.Lock()
	sess.client = client
	sess.clientMu.Unlock()
	return nil
}

// DetachClient 仅当 client 仍是当前客户端时才解除关联。
func (r *Registry) DetachClient(room string, client Client) {
	sess := r.get(room)
	if sess == nil {
		return
	}
	sess.clientMu.Lock()
	if sess.client == client {
		sess.client = nil
	}
	sess.clientMu.Unlock()
}

// Notify 向房间当前的推送客户端发送事件；没有客户端时忽略。
func (r *Registry) Notify(room string, event Event) {
	sess := r.get(room)
	if sess == nil {
		return
	}
	sess.clientMu.Lock()
	client := sess.client
	sess.clientMu.Unlock()
	if client == nil {
		return
	}
	if err := client.Send(event); err != nil {
		log.Printf("[registry] room=%s push %s event failed: %v", room, event.Type, err)
	}
}

// Shutdown 结束全部会话。ctx 在全部房间结束前到期时返回剩余房间数与 ctx 的错误。
func (r *Registry) Shutdown(ctx context.Context) error {
	defer r.cancel()

	rooms := r.Rooms()
	for i, room := range rooms {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("shutdown interrupted with %d rooms left: %w", len(rooms)-i, err)
		}
		r.End(ctx, room)
	}
	return nil
}

func (r *Registry) get(room string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[room]
}

func (r *Registry) remove(room string) *session {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[room]
	if !ok {
		return nil
	}
	delete(r.sessions, room)
	return sess
}

func (s *session) snapshot() Snapshot {
	s.stateMu.RLock()
	st := s.state
	s.stateMu.RUnlock()

	snap := Snapshot{
		SessionID:     s.id,
		RoomName:      st.Room,
		Participant:   st.Participant,
		CreatedAt:     st.CreatedAt,
		Phase:         st.Phase,
		TurnCount:     st.TurnCount,
		QuestionCount: st.QuestionCount,
		SkillID:       st.SkillID,
		RoleLabel:     st.RoleLabel,
		HasJob:        st.Context.HasJob(),
		HasResume:     st.Context != nil && st.Context.Resume != "",
		AvatarEnabled: s.coord.UsingAvatar(),
	}
	if task := s.coord.AudioTask(); task != nil {
		snap.AudioTask = task.State().String()
	}

	s.clientMu.Lock()
	snap.ClientOnline = s.client != nil
	s.clientMu.Unlock()
	return snap
}

// roomLocks 为每个房间提供独立的互斥锁，串行化同名房间的创建与结束。
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

func (l *roomLocks) lock(room string) (unlock func()) {
	l.mu.Lock()
	rl, ok := l.locks[room]
	if !ok {
		rl = &roomLock{}
		l.locks[room] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, room)
		}
		l.mu.Unlock()
	}
}
