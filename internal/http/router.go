package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/botfleet/internal/config"
	"github.com/wenwu/saas-platform/botfleet/internal/logging"
	"github.com/wenwu/saas-platform/botfleet/internal/service"
)

// RateLimiter 简单的内存速率限制器
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int           // 最大请求数
	window   time.Duration // 时间窗口
	now      func() time.Time

	lastSweep time.Time
}

// NewRateLimiter 创建速率限制器
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.window)

	// 每个窗口清理一次不再活跃的客户端
	if now.Sub(rl.lastSweep) >= rl.window {
		for k, times := range rl.requests {
			if len(times) == 0 || !times[len(times)-1].After(windowStart) {
				delete(rl.requests, k)
			}
		}
		rl.lastSweep = now
	}

	// 清理过期请求
	var valid []time.Time
	for _, t := range rl.requests[key] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[key] = valid
		return false
	}

	rl.requests[key] = append(valid, now)
	return true
}

// RateLimitMiddleware limits requests per client IP
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "Rate limit exceeded, please try again later",
			})
			return
		}
		c.Next()
	}
}

type Server struct {
	router  *gin.Engine
	handler *Handler
	cfg     *config.Config
	log     *zap.Logger

	deployLimiter *RateLimiter
	loginLimiter  *RateLimiter
}

func NewServer(
	cfg *config.Config,
	log *zap.Logger,
	deployments *service.DeploymentService,
	accounts *service.AccountPool,
	poller PingRunner,
) *Server {
	gin.SetMode(cfg.Server.Mode)
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		service.RegisterJSONFieldNames(v)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(logging.GinMiddleware(log))

	deployLimit := cfg.RateLimit.DeployPerHour
	if deployLimit < 1 {
		deployLimit = 1
	}

	s := &Server{
		router:        router,
		handler:       NewHandler(deployments, accounts, poller, cfg.Admin, log),
		cfg:           cfg,
		log:           log,
		deployLimiter: NewRateLimiter(deployLimit, time.Hour),
		// 登录限制: 每 IP 每分钟最多 10 次
		loginLimiter: NewRateLimiter(10, time.Minute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "botfleet",
		})
	})

	// Public API - deploy form
	public := s.router.Group("/api")
	{
		public.POST("/deploy", RateLimitMiddleware(s.deployLimiter), s.handler.Deploy)
		public.GET("/deployments", s.handler.ListUserDeployments)
		public.POST("/admin/login", RateLimitMiddleware(s.loginLimiter), s.handler.Login)
	}

	// Admin API - requires admin token
	admin := s.router.Group("/api/admin")
	admin.Use(AdminAuthMiddleware(s.cfg.Admin.JWTSecret))
	{
		admin.GET("/accounts", s.handler.ListAccounts)
		admin.POST("/accounts", s.handler.CreateAccount)
		admin.PATCH("/accounts/:id", s.handler.ToggleAccount)
		admin.DELETE("/accounts/:id", s.handler.DeleteAccount)

		admin.GET("/deployments", s.handler.ListDeployments)
		admin.GET("/deployments/:id", s.handler.GetDeployment)
		admin.PATCH("/deployments/:id", s.handler.DeploymentAction)
		admin.DELETE("/deployments/:id", s.handler.DeleteDeployment)
		admin.PUT("/deployments/:id/ping", s.handler.SetDeploymentPing)
		admin.GET("/deployments/:id/events", s.handler.DeploymentEvents)

		admin.GET("/ping", s.handler.PingStatus)
		admin.POST("/ping", s.handler.RunPing)
	}
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
