package room

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-interview/backend/internal/model/chat"
	interviewmodel "github.com/zhouzirui/z-interview/backend/internal/model/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/ai"
	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/internal/service/speech"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// Sessions 是房间接口依赖的会话注册表能力。
type Sessions interface {
	Create(ctx context.Context, req interview.CreateRequest) (interview.Descriptor, error)
	Say(ctx context.Context, room, text string, start time.Time) (interview.SayResult, error)
	End(ctx context.Context, room string) bool
	Status(room string) (interview.Snapshot, bool)
	Transcript(ctx context.Context, room string) ([]chat.Message, error)
	Notify(room string, event interview.Event)
}

// Handler 面试房间的 HTTP 处理器
type Handler struct {
	sessions Sessions
}

// New 创建房间处理器
func New(sessions Sessions) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册房间相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/rooms/create", h.handleCreate)
	r.Get("/rooms/{room}/status", h.handleStatus)
	r.Get("/rooms/{room}/transcript", h.handleTranscript)
	r.Delete("/rooms/{room}", h.handleEnd)
	r.Post("/say", h.handleSay)
	r.Post("/metrics/latency", h.handleLatency)
}

type createRequest struct {
	RoomName        string                     `json:"room_name"`
	ParticipantName string                     `json:"participant_name"`
	Job             *interviewmodel.JobContext `json:"job,omitempty"`
	Resume          string                     `json:"resume,omitempty"`
	SkillID         string                     `json:"skill_id,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload createRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.RoomName == "" {
		utils.RespondError(w, http.StatusBadRequest, "room_name is required")
		return
	}

	var ictx *interviewmodel.Context
	if payload.Job != nil || payload.Resume != "" || payload.SkillID != "" {
		ictx = &interviewmodel.Context{Job: payload.Job, Resume: payload.Resume, SkillID: payload.SkillID}
	}

	desc, err := h.sessions.Create(r.Context(), interview.CreateRequest{
		Room:        payload.RoomName,
		Participant: payload.ParticipantName,
		Context:     ictx,
	})
	if err != nil {
		log.Printf("[room] failed to create room %s: %v", payload.RoomName, err)
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	log.Printf("[room] room created via api: room=%s url=%s token_set=%t", desc.RoomName, desc.URL, desc.Token != "")
	utils.RespondJSON(w, http.StatusOK, desc)
}

type sayRequest struct {
	RoomName string `json:"room_name"`
	Text     string `json:"text"`
}

type sayResponse struct {
	interview.SayResult
	T0Millis int64 `json:"t0_ms"`
}

func (h *Handler) handleSay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var payload sayRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.RoomName == "" {
		utils.RespondError(w, http.StatusBadRequest, "room_name is required")
		return
	}
	log.Printf("[room] say request received room=%s text_len=%d", payload.RoomName, len(payload.Text))

	result, err := h.sessions.Say(r.Context(), payload.RoomName, payload.Text, start)
	if err != nil {
		log.Printf("[room] failed to say text room=%s: %v", payload.RoomName, err)
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}

	h.sessions.Notify(payload.RoomName, interview.ResponseEvent(result))
	utils.RespondJSON(w, http.StatusOK, sayResponse{SayResult: result, T0Millis: start.UnixMilli()})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	snap, ok := h.sessions.Status(room)
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "Room not found")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"room_name": room,
		"status":    "active",
		"session":   snap,
	})
}

func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	messages, err := h.sessions.Transcript(r.Context(), room)
	if err != nil {
		utils.RespondError(w, StatusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"room_name": room,
		"messages":  messages,
	})
}

func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if !h.sessions.End(r.Context(), room) {
		utils.RespondError(w, http.StatusNotFound, "Room not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Room " + room + " ended",
	})
}

type latencyReport struct {
	RoomName   string   `json:"room_name"`
	Status     string   `json:"status"`
	LatencyMs  *float64 `json:"latency_ms"`
	ClientT0Ms *float64 `json:"client_t0_ms"`
	ClientT1Ms *float64 `json:"client_t1_ms"`
}

// handleLatency 记录客户端上报的端到端延迟
func (h *Handler) handleLatency(w http.ResponseWriter, r *http.Request) {
	var payload latencyReport
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	latency := payload.LatencyMs
	if latency == nil && payload.ClientT0Ms != nil && payload.ClientT1Ms != nil {
		v := *payload.ClientT1Ms - *payload.ClientT0Ms
		latency = &v
	}

	if latency != nil {
		log.Printf("[metrics] latency report room=%s status=%s latency_ms=%.0f", payload.RoomName, payload.Status, *latency)
	} else {
		log.Printf("[metrics] latency report room=%s status=%s latency_ms=unknown", payload.RoomName, payload.Status)
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{"status": "ok", "latency_ms": latency})
}

// StatusFor 把服务层错误映射为 HTTP 状态码。
func StatusFor(err error) int {
	switch {
	case errors.Is(err, interview.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, interview.ErrRoomRequired), errors.Is(err, interview.ErrTextRequired):
		return http.StatusBadRequest
	case errors.Is(err, ai.ErrGeneratorUnavailable), errors.Is(err, speech.ErrSynthesizerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
