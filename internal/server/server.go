package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"talkingrock/internal/ai"
	"talkingrock/internal/config"
	"talkingrock/internal/contact"
	"talkingrock/internal/contextreg"
	"talkingrock/internal/conversation"
	"talkingrock/internal/handler"
	adminHandler "talkingrock/internal/handler/admin"
	"talkingrock/internal/pipeline"
	"talkingrock/internal/pkg/cache"
	"talkingrock/internal/pkg/mongodb"
	"talkingrock/internal/pkg/storagefactory"
	"talkingrock/internal/pkg/tokens"
	"talkingrock/internal/ratelimit"
	"talkingrock/internal/repository"
	"talkingrock/internal/server/middleware"
	"talkingrock/internal/service"
)

// Server assembles the gateway: shared state composed once at start and
// threaded explicitly, no ambient singletons.
type Server struct {
	cfg    *config.Config
	engine *gin.Engine
	mongo  *mongodb.Client
	redis  *cache.RedisCache

	conversations *conversation.Store
	orchestrator  *pipeline.Orchestrator
	backend       ai.Backend
	contacts      *contact.Store
	registry      *contextreg.Registry
}

// New creates the server and wires all components
func New(cfg *config.Config) (*Server, error) {
	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	ctx := context.Background()

	// Model backend
	backend, err := ai.NewClient(ctx, &cfg.Models)
	if err != nil {
		return nil, err
	}

	// Token estimator shared by history and context budgets
	estimator := tokens.NewEstimator()

	// Context registry (static, atomic-reload)
	registry, err := contextreg.New(cfg.Paths.ContextDir, cfg.Security.MaxContextTokens, estimator)
	if err != nil {
		return nil, err
	}

	// Redis (optional): backs the shared rate limiter when configured
	var redisCache *cache.RedisCache
	if cfg.Redis.Addr != "" {
		rc, err := cache.NewRedisCache(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to Redis, continuing without it")
		} else {
			redisCache = rc
			log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to Redis")
		}
	}

	limits := ratelimit.Limits{
		PerIPPerMinute:  cfg.RateLimit.PerIPPerMinute,
		PerIPPerHour:    cfg.RateLimit.PerIPPerHour,
		GlobalPerMinute: cfg.RateLimit.GlobalPerMinute,
	}
	var limiter ratelimit.Limiter
	if cfg.RateLimit.Backend == "redis" && redisCache != nil {
		limiter = ratelimit.NewRedisLimiter(redisCache.Client(), limits)
		log.Info().Msg("using redis rate limiter")
	} else {
		limiter = ratelimit.NewMemoryLimiter(limits)
	}

	// MongoDB (optional): request log + analytics
	var mongoClient *mongodb.Client
	var requestLogRepo *repository.RequestLogRepo
	if cfg.Mongo.URI != "" {
		client, err := mongodb.New(&cfg.Mongo)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to MongoDB, continuing without it")
		} else {
			mongoClient = client
			log.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

			if err := mongodb.EnsureIndexes(mongoClient.Database()); err != nil {
				log.Warn().Err(err).Msg("failed to ensure indexes")
			}
			requestLogRepo = repository.NewRequestLogRepo(mongoClient.Database())
		}
	}

	// Contact inbox
	contactBackend, err := storagefactory.NewStorage(ctx, &cfg.Contact)
	if err != nil {
		return nil, err
	}
	contacts := contact.NewStore(contactBackend)

	// Conversation store
	conversations := conversation.NewStore(conversation.Config{
		MaxTurns: cfg.Conversation.MaxTurns,
		TTL:      cfg.Conversation.TTL,
		Capacity: cfg.Conversation.Capacity,
	})

	var sink pipeline.RequestSink
	if requestLogRepo != nil {
		sink = requestLogRepo
	}

	orchestrator := pipeline.NewOrchestrator(
		cfg, backend, limiter, conversations, registry, contacts, sink, estimator,
	)

	srv := &Server{
		cfg:           cfg,
		engine:        engine,
		mongo:         mongoClient,
		redis:         redisCache,
		conversations: conversations,
		orchestrator:  orchestrator,
		backend:       backend,
		contacts:      contacts,
		registry:      registry,
	}

	srv.setupRoutes(requestLogRepo)

	return srv, nil
}

func (s *Server) setupRoutes(requestLogRepo *repository.RequestLogRepo) {
	s.engine.Use(middleware.Recovery())
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger())
	s.engine.Use(middleware.CORS(s.cfg.Server.CORSOrigins))

	// Health
	healthHandler := handler.NewHealthHandler(s.backend)
	s.engine.GET("/health", healthHandler.Health)

	// Swagger docs
	s.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Chat
	chatHandler := handler.NewChatHandler(s.orchestrator, s.cfg.Security.MaxRequestSize)
	s.engine.POST("/chat", chatHandler.Chat)

	// Admin surface (owner-only, disabled unless a password hash is set)
	adminSvc := service.NewAdminService(&s.cfg.Admin)
	if adminSvc.Enabled() {
		analyticsSvc := service.NewAnalyticsService(requestLogRepo)
		adminHdl := adminHandler.NewHandler(adminSvc, analyticsSvc, s.contacts, s.registry)

		s.engine.POST("/admin/login", adminHdl.Login)

		authed := s.engine.Group("/admin")
		authed.Use(middleware.Auth(adminSvc.JWT()))
		{
			authed.GET("/analytics/summary", adminHdl.AnalyticsSummary)
			authed.GET("/analytics/daily", adminHdl.AnalyticsDaily)
			authed.GET("/inbox", adminHdl.InboxList)
			authed.GET("/inbox/:id", adminHdl.InboxGet)
			authed.POST("/context/reload", adminHdl.ContextReload)
		}
	} else {
		log.Info().Msg("admin password not configured, admin endpoints disabled")
	}
}

// Run starts the server and blocks until ctx is canceled
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// periodic conversation sweep alongside the lazy per-access expiry
	sweepTicker := time.NewTicker(time.Minute)
	defer sweepTicker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-sweepTicker.C:
			if removed := s.conversations.Sweep(); removed > 0 {
				log.Debug().Int("removed", removed).Msg("swept expired conversations")
			}
		case <-ctx.Done():
			log.Info().Msg("shutting down server")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			if s.mongo != nil {
				if err := s.mongo.Close(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("mongo close error")
				}
			}
			if s.redis != nil {
				if err := s.redis.Close(); err != nil {
					log.Warn().Err(err).Msg("redis close error")
				}
			}

			return nil
		}
	}
}
