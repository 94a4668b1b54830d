package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Proctoring *handler.ProctoringHandler
	Attempt    *handler.AttemptHandler
	Alert      *handler.AlertHandler
	WS         *handler.WSHandler
	Monitor    *handler.MonitorHandler
	System     *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
	log zerolog.Logger,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware(log))
	router.Use(metrics.Middleware())

	router.GET("/health", handlers.System.Health)
	router.GET("/metrics", metrics.Handler())

	requireJWT := middleware.RequireJWT(authService)
	signalLimiter := middleware.NewRateLimiter(cfg.SignalRatePerMinute, time.Minute)

	// ─── 1. Proctoring Group (JWT, either role) ────────────────────────
	proctoring := router.Group("/api/v1/proctoring")
	proctoring.Use(requireJWT, middleware.NoStore())
	{
		proctoring.DELETE("/sessions/:session_id", handlers.Proctoring.EndSession)

		exam := proctoring.Group("/exams/:exam_id")
		exam.Use(middleware.ExamIDParam())
		{
			exam.POST("/sessions",
				middleware.RequireRole(model.RoleStudent),
				handlers.Proctoring.StartSession,
			)
			exam.GET("/sessions", middleware.Brotli(), handlers.Proctoring.ListActiveSessions)
			exam.POST("/signals", signalLimiter.Middleware(), handlers.Proctoring.SendSignal)
			// SDP blobs make mailbox reads the largest responses we serve.
			exam.GET("/signals", middleware.Brotli(), handlers.Proctoring.SignalsFor)
		}
	}

	// ─── 2. Student Group (JWT + student role) ─────────────────────────
	studentAPI := router.Group("/api/v1/student/exams/:exam_id")
	studentAPI.Use(
		requireJWT,
		middleware.RequireRole(model.RoleStudent),
		middleware.ExamIDParam(),
		middleware.NoStore(),
	)
	{
		studentAPI.GET("/state", handlers.Attempt.GetState)
		studentAPI.POST("/start", handlers.Attempt.RequestStart)
		studentAPI.PATCH("/answers", handlers.Attempt.SaveAnswers)
		studentAPI.POST("/submit", handlers.Attempt.Submit)
		studentAPI.GET("/result", middleware.Brotli(), handlers.Attempt.GetResult)
	}

	// ─── 3. Invigilator Group (JWT + invigilator role) ─────────────────
	invigilatorAPI := router.Group("/api/v1/invigilator/exams/:exam_id")
	invigilatorAPI.Use(
		requireJWT,
		middleware.RequireRole(model.RoleInvigilator),
		middleware.ExamIDParam(),
	)
	{
		invigilatorAPI.GET("/alerts", middleware.Brotli(), handlers.Alert.ListAlerts)
		invigilatorAPI.GET("/monitor", handlers.Monitor.MonitorExamSSE)
	}

	// ─── 4. WebSocket Group (token in query) ───────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(requireJWT)
	{
		ws.GET("/proctoring/exams/:exam_id/feed", middleware.ExamIDParam(), handlers.WS.ProctorFeed)
		ws.GET("/student/exams/:exam_id/stream",
			middleware.RequireRole(model.RoleStudent),
			middleware.ExamIDParam(),
			handlers.WS.AttemptStream,
		)
	}

	return router
}
