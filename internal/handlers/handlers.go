package handlers

import (
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeAndHammer/khamklai/internal/app"
	"github.com/CodeAndHammer/khamklai/internal/constants"
	"github.com/CodeAndHammer/khamklai/internal/embedding"
	"github.com/CodeAndHammer/khamklai/internal/game"
	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/session"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

type guessRequest struct {
	SessionID  string `json:"sessionId"`
	Guess      string `json:"guess" binding:"required"`
	PlayerName string `json:"playerName" binding:"required"`
}

type stateResponse struct {
	Answer      string                        `json:"answer,omitempty"`
	TimeLeft    int                           `json:"timeLeft"`
	Leaderboard map[string]float64            `json:"leaderboard"`
	Guesses     map[string]models.GuessRecord `json:"guesses"`
	Active      bool                          `json:"active"`
	Round       uint64                        `json:"round"`
}

func GuessHandler(a *app.App, c *gin.Context) {
	ctx := c.Request.Context()

	var req guessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidInput, "guess and playerName are required")
		return
	}
	player := strings.TrimSpace(req.PlayerName)
	if player == "" || strings.TrimSpace(req.Guess) == "" {
		respondError(c, http.StatusBadRequest, constants.ErrorCodeInvalidInput, "guess and playerName are required")
		return
	}

	round, err := a.Registry.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		respondFailure(c, err)
		return
	}

	outcome, err := round.Submit(ctx, player, req.Guess)
	if err != nil {
		respondFailure(c, err)
		return
	}
	util.WithRequest(ctx).Debugf("Session %s: %s guessed %q -> %s", round.ID(), player, req.Guess, outcome.Kind)

	c.JSON(http.StatusOK, outcomeBody(outcome))
}

func outcomeBody(o game.Outcome) gin.H {
	switch o.Kind {
	case game.OutcomeWaiting:
		return gin.H{"waiting": true}
	case game.OutcomeDuplicate:
		return gin.H{"duplicate": true, "by": o.By, "percentage": o.Percentage}
	case game.OutcomeUnknown:
		return gin.H{"correct": false, "unknown": true, "percentage": 0}
	case game.OutcomeCorrect:
		return gin.H{"correct": true, "answer": o.Answer, "winner": o.Winner, "percentage": constants.ExactScore}
	default:
		return gin.H{"correct": false, "percentage": o.Percentage}
	}
}

func StateHandler(a *app.App, c *gin.Context) {
	round, err := a.Registry.GetOrCreate(c.Request.Context(), c.Query("sessionId"))
	if err != nil {
		respondFailure(c, err)
		return
	}

	snap := round.Snapshot()
	resp := stateResponse{
		TimeLeft:    snap.TimeLeft,
		Leaderboard: snap.Leaderboard,
		Guesses:     snap.Guesses,
		Active:      snap.Active,
		Round:       snap.Round,
	}
	if a.Config.RevealAnswer {
		resp.Answer = snap.Answer
	}
	c.JSON(http.StatusOK, resp)
}

func HealthzHandler(a *app.App, c *gin.Context) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(a.StartTime)

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"env":               a.Config.Environment(),
		"words_loaded":      len(a.Words),
		"active_sessions":   a.Registry.Len(),
		"cached_embeddings": a.Cache.Len(),
		"embedding_model":   a.Cache.ModelName(),
		"active_limiters":   a.LimiterCount(),
		"memory_alloc_mb":   m.Alloc / 1024 / 1024,
		"memory_sys_mb":     m.Sys / 1024 / 1024,
		"memory_gc_count":   m.NumGC,
		"uptime":            util.FormatUptime(uptime),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func respondFailure(c *gin.Context, err error) {
	if errors.Is(err, embedding.ErrProviderUnavailable) {
		util.WithRequest(c.Request.Context()).Warnf("Embedding provider unavailable: %v", err)
		respondError(c, http.StatusServiceUnavailable, constants.ErrorCodeEmbeddingUnavailable, "embedding service unavailable, please retry")
		return
	}
	if errors.Is(err, session.ErrClosed) {
		respondError(c, http.StatusServiceUnavailable, constants.ErrorCodeShuttingDown, "server is shutting down")
		return
	}
	util.WithRequest(c.Request.Context()).Errorf("Request failed: %v", err)
	respondError(c, http.StatusInternalServerError, constants.ErrorCodeInternal, "internal error")
}

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error":     message,
		"code":      code,
		"retryable": status == http.StatusServiceUnavailable,
	})
}
