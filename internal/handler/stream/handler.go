package stream

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// Sayer 执行一轮面试对话。
type Sayer interface {
	Say(ctx context.Context, room, text string, start time.Time) (interview.SayResult, error)
}

// Handler streams a single interview turn as Server-Sent Events
type Handler struct {
	sessions Sayer
}

// New creates a new stream handler
func New(sessions Sayer) *Handler {
	return &Handler{sessions: sessions}
}

// RegisterRoutes 注册SSE路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{room}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := h.HandleStreamRequest(r.Context(), w, room, message); err != nil {
		log.Printf("[stream] room=%s stream failed: %v", room, err)
	}
}

// HandleStreamRequest emits processing, then response or error, for one turn
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, room, message string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("streaming unsupported")
	}
	utils.SetupSSEHeaders(w)

	start := time.Now()
	utils.SendSSEEvent(w, flusher, string(interview.EventProcessing), interview.ProcessingEvent())

	result, err := h.sessions.Say(ctx, room, message, start)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, interview.ErrSessionNotFound) {
			msg = "Room not found"
		}
		utils.SendSSEEvent(w, flusher, string(interview.EventError), interview.ErrorEvent(msg))
		return err
	}

	utils.SendSSEEvent(w, flusher, string(interview.EventResponse), interview.ResponseEvent(result))
	log.Printf("[stream] completed turn room=%s in %s", room, time.Since(start).Round(time.Millisecond))
	return nil
}
