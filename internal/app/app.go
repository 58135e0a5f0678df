// Package app holds the process-wide dependencies shared by handlers and middleware.
package app

import (
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/CodeAndHammer/khamklai/internal/config"
	"github.com/CodeAndHammer/khamklai/internal/embedding"
	"github.com/CodeAndHammer/khamklai/internal/metrics"
	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/session"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

type RateLimiterWithTime struct {
	Limiter    *rate.Limiter
	LastAccess time.Time
}

type App struct {
	Config    config.Config
	Words     []models.WordEntry
	Registry  *session.Registry
	Cache     *embedding.Cache
	Metrics   *metrics.Metrics
	StartTime time.Time

	LimiterMap   map[string]*RateLimiterWithTime
	LimiterMutex sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg config.Config, words []models.WordEntry, registry *session.Registry, cache *embedding.Cache, m *metrics.Metrics) *App {
	return &App{
		Config:     cfg,
		Words:      words,
		Registry:   registry,
		Cache:      cache,
		Metrics:    m,
		StartTime:  time.Now(),
		LimiterMap: make(map[string]*RateLimiterWithTime),
		stop:       make(chan struct{}),
	}
}

// GetLimiter returns the per-client limiter for key, creating it on first use.
func (a *App) GetLimiter(key string) *rate.Limiter {
	a.LimiterMutex.RLock()
	limWithTime, ok := a.LimiterMap[key]
	a.LimiterMutex.RUnlock()
	if ok {
		a.LimiterMutex.Lock()
		if limWithTime, ok = a.LimiterMap[key]; ok {
			limWithTime.LastAccess = time.Now()
		}
		a.LimiterMutex.Unlock()
		return limWithTime.Limiter
	}

	a.LimiterMutex.Lock()
	defer a.LimiterMutex.Unlock()
	if limWithTime, ok = a.LimiterMap[key]; ok {
		limWithTime.LastAccess = time.Now()
		return limWithTime.Limiter
	}

	if key == "" || key == "::1" {
		util.LogDebug("Rate limiter key is empty or loopback: %q", key)
	}
	rps := a.Config.RateLimitRPS
	if rps <= 0 {
		rps = 1
	}
	lim := rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), a.Config.RateLimitBurst)
	a.LimiterMap[key] = &RateLimiterWithTime{Limiter: lim, LastAccess: time.Now()}
	return lim
}

func (a *App) LimiterCount() int {
	a.LimiterMutex.RLock()
	defer a.LimiterMutex.RUnlock()
	return len(a.LimiterMap)
}

// CleanupStaleRateLimiters drops limiters idle for longer than RateLimiterTTL.
func (a *App) CleanupStaleRateLimiters() int {
	cutoff := time.Now().Add(-a.Config.RateLimiterTTL)

	a.LimiterMutex.Lock()
	defer a.LimiterMutex.Unlock()
	stale := lo.PickBy(a.LimiterMap, func(_ string, l *RateLimiterWithTime) bool {
		return l.LastAccess.Before(cutoff)
	})
	for key := range stale {
		delete(a.LimiterMap, key)
	}
	if len(stale) > 0 {
		util.LogInfo("Cleaned up %d stale rate limiters", len(stale))
	}
	return len(stale)
}

// StartCleanupRoutines runs the limiter cleanup until Shutdown is called.
func (a *App) StartCleanupRoutines(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				a.CleanupStaleRateLimiters()
			case <-a.stop:
				return
			}
		}
	}()

	util.LogInfo("Started cleanup routine for rate limiters")
}

// Shutdown stops background routines, round timers and the embedding cache.
func (a *App) Shutdown() {
	a.stopOnce.Do(func() {
		close(a.stop)
		if a.Registry != nil {
			a.Registry.Close()
		}
		if a.Cache != nil {
			a.Cache.Close()
		}
	})
}
