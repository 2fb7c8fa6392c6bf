package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/zhouzirui/z-interview/backend/internal/handler/realtime"
	"github.com/zhouzirui/z-interview/backend/internal/handler/room"
	"github.com/zhouzirui/z-interview/backend/internal/handler/stream"
	"github.com/zhouzirui/z-interview/backend/internal/handler/system"
	"github.com/zhouzirui/z-interview/backend/internal/service/interview"
)

// RouterOptions 汇总路由需要的依赖。
type RouterOptions struct {
	Sessions    *interview.Registry
	Skills      system.SkillLister
	Services    system.Services
	CORSOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/", system.HandleRoot)

	r.Route("/api", func(api chi.Router) {
		system.New(opts.Skills, opts.Services).RegisterRoutes(api)
		room.New(opts.Sessions).RegisterRoutes(api)
		stream.New(opts.Sessions).RegisterRoutes(api)
		realtime.NewWebSocketHandler(opts.Sessions).RegisterRoutes(api)
	})

	return r
}
