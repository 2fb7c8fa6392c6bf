package system

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-interview/backend/internal/service/skills"
	"github.com/zhouzirui/z-interview/backend/pkg/utils"
)

// Version 是服务对外报告的版本号。
const Version = "0.1.0"

// SkillLister 列出可用的面试技能。
type SkillLister interface {
	List() []skills.Metadata
}

// Services 描述外部依赖是否已配置。
type Services struct {
	LiveKit bool
	TTS     bool
	Avatar  bool
}

// Handler 提供健康检查与技能目录
type Handler struct {
	skills   SkillLister
	services Services
}

// New 创建系统处理器
func New(skills SkillLister, services Services) *Handler {
	return &Handler{skills: skills, services: services}
}

// RegisterRoutes 注册系统路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/skills", h.handleListSkills)
	r.Get("/skills/metadata", h.handleListSkills)
}

type healthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	Services map[string]string `json:"services"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: Version,
		Services: map[string]string{
			"livekit": configured(h.services.LiveKit),
			"tts":     configured(h.services.TTS),
			"tavus":   configured(h.services.Avatar),
		},
	})
}

// handleListSkills 列出所有技能
func (h *Handler) handleListSkills(w http.ResponseWriter, r *http.Request) {
	if h.skills == nil {
		utils.RespondJSON(w, http.StatusOK, []skills.Metadata{})
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.skills.List())
}

// HandleRoot 返回服务简介
func HandleRoot(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Interview Orchestrator API",
		"version": Version,
		"health":  "/api/health",
	})
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}
