package constants

import "time"

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)

const (
	DefaultSessionID = "default"
)

const (
	DefaultRoundDuration = 60 * time.Second
	DefaultResetDelay    = 5 * time.Second
	DefaultSetupTimeout  = 15 * time.Second
)

// Scoring thresholds. MinConfidence and RescaleFloor differ on purpose: a
// guess between the two is accepted but scores near zero.
const (
	ExactScore       = 100.0
	RelatedScoreMin  = 92.0
	RelatedScoreMax  = 97.0
	MinConfidence    = 0.80
	RescaleFloor     = 0.82
	RescaleExponent  = 1.4
	SemanticScoreMin = 0.01
	SemanticScoreMax = 99.99
	MinGuessRunes    = 2
)

// Thai consonants ko kai through ho nokhuk.
const (
	ThaiConsonantFirst = 'ก'
	ThaiConsonantLast  = 'ฮ'
)

const (
	EmbeddingQueryPrefix  = "query: "
	GuessContextTemplate  = "คำว่า %s"
	TargetContextTemplate = "คำว่า %s เกี่ยวข้องกับ %s"
)

const (
	RouteGuess   = "/api/guess"
	RouteState   = "/api/state"
	RouteHealthz = "/healthz"
	RouteMetrics = "/metrics"
)

const (
	ErrorCodeInvalidInput         = "invalid_input"
	ErrorCodeEmbeddingUnavailable = "embedding_unavailable"
	ErrorCodeInternal             = "internal_error"
	ErrorCodeRateLimited          = "rate_limited"
	ErrorCodeShuttingDown         = "shutting_down"
)

const (
	OutcomeWaiting   = "waiting"
	OutcomeDuplicate = "duplicate"
	OutcomeUnknown   = "unknown"
	OutcomeCorrect   = "correct"
	OutcomeScored    = "scored"
)

const (
	RoundEndSolved  = "solved"
	RoundEndTimeout = "timeout"
)
