package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"glucomate/internal/ai"
	appsvc "glucomate/internal/app"
	"glucomate/internal/bootstrap"
	"glucomate/internal/foodgi"
	"glucomate/internal/repository"
	"glucomate/internal/store"
	"glucomate/internal/transport/http/handler"
	"glucomate/internal/transport/http/middleware"
)

// Services are the application services the router exposes.
type Services struct {
	Auth    *appsvc.AuthService
	Chat    *appsvc.ChatService
	Lab     *appsvc.LabService
	Voice   *appsvc.VoiceService
	Glucose *appsvc.GlucoseService
	Food    *appsvc.FoodService
}

// NewServices wires repositories, stores and vendor clients held by app.
func NewServices(app *bootstrap.App) Services {
	cfg := app.Config
	logger := app.Logger

	userRepo := repository.NewUserRepository(app.MySQL)
	sessionRepo := repository.NewSessionRepository(app.MySQL)
	messageRepo := repository.NewMessageRepository(app.MySQL)
	glucoseRepo := repository.NewGlucoseRepository(app.MySQL)
	indicators := store.NewAbnormalIndicatorStore(app.KV)

	chatService := appsvc.NewChatService(appsvc.ChatServiceConfig{
		SessionRepo:  sessionRepo,
		MessageRepo:  messageRepo,
		UserRepo:     userRepo,
		Publisher:    app.Publisher,
		HistoryCache: app.HistoryCache,
		Current:      store.NewCurrentSessionStore(app.KV),
		Indicators:   indicators,
		LLM:          app.LLM,
		DefaultLLM: ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		MaxContext:  cfg.LLM.MaxContextMessage,
		MaxFindings: cfg.LLM.MaxPromptFindings,
		Logger:      logger,
	})

	return Services{
		Auth: appsvc.NewAuthService(
			userRepo,
			cfg.Auth.JWTSecret,
			time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute,
			logger,
		),
		Chat:    chatService,
		Lab:     appsvc.NewLabService(app.OCR, indicators, logger),
		Voice:   appsvc.NewVoiceService(app.Speech, chatService, logger),
		Glucose: appsvc.NewGlucoseService(glucoseRepo, logger),
		Food:    appsvc.NewFoodService(foodgi.NewCatalog(nil)),
	}
}

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(app.Logger), middleware.Recovery(app.Logger))
	router.MaxMultipartMemory = 16 << 20

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	RegisterRoutes(router.Group("/api/v1"), NewServices(app), app.Config.Auth.JWTSecret)
	return router
}

// RegisterRoutes mounts the /api/v1 surface on group.
func RegisterRoutes(v1 *gin.RouterGroup, svc Services, jwtSecret string) {
	auth := middleware.AuthJWT(jwtSecret)

	authHandler := handler.NewAuthHandler(svc.Auth)
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", auth, authHandler.Me)

	chatHandler := handler.NewChatHandler(svc.Chat)
	chatGroup := v1.Group("/chat", auth)
	chatGroup.POST("/sessions", chatHandler.CreateSession)
	chatGroup.GET("/sessions", chatHandler.ListSessions)
	chatGroup.GET("/sessions/current", chatHandler.CurrentSession)
	chatGroup.PUT("/sessions/current", chatHandler.SwitchSession)
	chatGroup.DELETE("/sessions/:id", chatHandler.DeleteSession)
	chatGroup.POST("/messages", chatHandler.SendMessage)
	chatGroup.POST("/messages/stream", chatHandler.StreamMessage)
	chatGroup.GET("/history", chatHandler.GetHistory)

	labHandler := handler.NewLabHandler(svc.Lab)
	labGroup := v1.Group("/lab", auth)
	labGroup.POST("/reports", labHandler.UploadReport)
	labGroup.POST("/extract", labHandler.ExtractText)
	labGroup.GET("/indicators", labHandler.ListIndicators)
	labGroup.DELETE("/indicators", labHandler.ClearIndicators)

	voiceHandler := handler.NewVoiceHandler(svc.Voice)
	v1.POST("/voice/transcribe", auth, voiceHandler.Transcribe)

	glucoseHandler := handler.NewGlucoseHandler(svc.Glucose)
	glucoseGroup := v1.Group("/glucose", auth)
	glucoseGroup.POST("/records", glucoseHandler.Log)
	glucoseGroup.GET("/records", glucoseHandler.List)
	glucoseGroup.GET("/stats", glucoseHandler.Stats)

	foodHandler := handler.NewFoodHandler(svc.Food)
	v1.GET("/foods", foodHandler.Search)
	v1.GET("/foods/:name", foodHandler.Get)
}
