package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	ginGzip "github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	cachecontrol "go.eigsys.de/gin-cachecontrol/v2"

	"github.com/CodeAndHammer/khamklai/internal/app"
	"github.com/CodeAndHammer/khamklai/internal/config"
	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/dataset"
	"github.com/CodeAndHammer/khamklai/internal/embedding"
	"github.com/CodeAndHammer/khamklai/internal/game"
	"github.com/CodeAndHammer/khamklai/internal/handlers"
	"github.com/CodeAndHammer/khamklai/internal/metrics"
	"github.com/CodeAndHammer/khamklai/internal/middleware"
	"github.com/CodeAndHammer/khamklai/internal/scoring"
	"github.com/CodeAndHammer/khamklai/internal/session"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

const limiterCleanupInterval = 30 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		util.LogFatal("Invalid configuration: %v", err)
	}
	if err := util.SetLogLevel(cfg.LogLevel); err != nil {
		util.LogWarn("Invalid LOG_LEVEL %q, using info: %v", cfg.LogLevel, err)
	}
	if cfg.IsProduction {
		util.UseJSONLogs()
	}
	util.LogInfo("Starting khamklai in %s mode", cfg.Environment())

	words, err := dataset.Load(cfg.WordsFile)
	if err != nil {
		util.LogFatal("Failed to load words: %v", err)
	}
	util.LogInfo("Loaded %d words from dictionary", len(words))

	m := metrics.New(metrics.WithRuntimeCollectors())

	provider, err := embedding.NewProvider(cfg.ProviderConfig())
	if err != nil {
		util.LogFatal("Failed to create embedding provider: %v", err)
	}
	cache, err := embedding.NewCache(provider,
		embedding.WithMaxEntries(cfg.EmbeddingCacheLimit),
		embedding.WithMetrics(m),
	)
	if err != nil {
		util.LogFatal("Failed to create embedding cache: %v", err)
	}
	util.LogInfo("Using embedding model %s", cache.ModelName())

	scheduler := game.NewScheduler(words, cache, scoring.NewEngine(cache),
		game.WithSettings(cfg.GameSettings()),
		game.WithMetrics(m),
	)
	registry := session.NewRegistry(scheduler, m)

	a := app.New(cfg, words, registry, cache, m)
	router := newRouter(a)

	a.StartCleanupRoutines(limiterCleanupInterval)

	startServer(a, router)
}

func newRouter(a *app.App) *gin.Engine {
	if a.Config.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Observe(a.Metrics))
	router.Use(middleware.SecurityHeaders())
	router.Use(newCORS(a.Config.CORSOrigins))
	router.Use(ginGzip.Gzip(ginGzip.DefaultCompression,
		ginGzip.WithExcludedPaths([]string{constants.RouteMetrics})))
	router.Use(cachecontrol.New(cachecontrol.Config{
		NoStore:        true,
		NoCache:        true,
		MustRevalidate: true,
	}))

	if err := router.SetTrustedProxies([]string{"127.0.0.1"}); err != nil {
		util.LogWarn("Failed to set trusted proxies: %v", err)
	}

	router.POST(constants.RouteGuess, middleware.RateLimit(a), func(c *gin.Context) { handlers.GuessHandler(a, c) })
	router.GET(constants.RouteState, func(c *gin.Context) { handlers.StateHandler(a, c) })
	router.GET(constants.RouteHealthz, func(c *gin.Context) { handlers.HealthzHandler(a, c) })
	router.GET(constants.RouteMetrics, gin.WrapH(a.Metrics.Handler()))

	return router
}

func newCORS(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", "Origin", "X-Request-Id"},
		ExposeHeaders: []string{"X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func startServer(a *app.App, router *gin.Engine) {
	srv := &http.Server{
		Addr:              ":" + a.Config.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, syscall.SIGINT, syscall.SIGTERM)
		<-sigint
		util.LogInfo("Shutdown signal received, shutting down server gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			util.LogWarn("HTTP server Shutdown: %v", err)
		}
		a.Shutdown()
		close(idleConnsClosed)
	}()

	util.LogInfo("Server starting on http://localhost:%s", a.Config.Port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		util.LogFatal("Server failed to start: %v", err)
	}
	<-idleConnsClosed
	util.LogInfo("Server shutdown complete")
}
