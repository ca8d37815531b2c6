package config

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/models"
)

// Default quota and timeout values used when the environment does not override them
const (
	DefaultAnonymousDailyLimit = 3
	DefaultAnonymousAnalyses   = 3
	DefaultUserCasesLimit      = 5
	DefaultUserAnalysesLimit   = 10
	DefaultUserGamePlansLimit  = 3
	DefaultUsageRetentionDays  = 30
	DefaultPredictionTimeout   = 5 * time.Minute
)

// Config holds the project config values
type Config struct {
	URL          string
	DatabaseName string
	BaseURL      string
	Port         string
	Env          string

	JWTSecret string

	PredictionURL     string
	GamePlanURL       string
	PredictionAPIKey  string
	PredictionTimeout time.Duration

	AnonymousDailyLimit int
	AnonymousAnalyses   int
	UserCasesLimit      int
	UserAnalysesLimit   int
	UserGamePlansLimit  int
	UsageRetentionDays  int

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadPreset string
}

// New sets up all config related services
func New() *Config {
	env := os.Getenv("ENV")

	//setup zap logger and replace default logger
	logger, err := setLogger(env)
	if err != nil {
		logger = zap.NewExample()
	}
	defer logger.Sync()
	_ = zap.ReplaceGlobals(logger)

	return &Config{
		URL:          os.Getenv("DB_URI"),
		DatabaseName: os.Getenv("DB_NAME"),
		BaseURL:      os.Getenv("BASE_URL"),
		Port:         os.Getenv("PORT"),
		Env:          env,

		JWTSecret: os.Getenv("JWT_SECRET"),

		PredictionURL:     os.Getenv("PREDICTION_API_URL"),
		GamePlanURL:       os.Getenv("GAME_PLAN_API_URL"),
		PredictionAPIKey:  os.Getenv("PREDICTION_API_KEY"),
		PredictionTimeout: envDuration("PREDICTION_TIMEOUT", DefaultPredictionTimeout),

		AnonymousDailyLimit: envInt("ANONYMOUS_DAILY_LIMIT", DefaultAnonymousDailyLimit),
		AnonymousAnalyses:   envInt("ANONYMOUS_ANALYSES_LIMIT", DefaultAnonymousAnalyses),
		UserCasesLimit:      envInt("USER_CASES_LIMIT", DefaultUserCasesLimit),
		UserAnalysesLimit:   envInt("USER_ANALYSES_LIMIT", DefaultUserAnalysesLimit),
		UserGamePlansLimit:  envInt("USER_GAME_PLANS_LIMIT", DefaultUserGamePlansLimit),
		UsageRetentionDays:  envInt("USAGE_RETENTION_DAYS", DefaultUsageRetentionDays),

		CloudinaryCloudName:    os.Getenv("CLOUDINARY_CLOUD_NAME"),
		CloudinaryAPIKey:       os.Getenv("CLOUDINARY_API_KEY"),
		CloudinaryAPISecret:    os.Getenv("CLOUDINARY_API_SECRET"),
		CloudinaryUploadPreset: os.Getenv("CLOUDINARY_UPLOAD_PRESET"),
	}
}

// setLogger picks the zap logger for the running environment
func setLogger(env string) (*zap.Logger, error) {
	switch env {
	case "production":
		return zap.NewProduction()
	case "development":
		return zap.NewDevelopment()
	default:
		return zap.NewExample(), nil
	}
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		zap.S().Warnw("invalid integer config value, using default",
			"key", key,
			"value", raw,
			"default", fallback)
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		zap.S().Warnw("invalid duration config value, using default",
			"key", key,
			"value", raw,
			"default", fallback)
		return fallback
	}
	return v
}

// ErrorStatus is a useful function that will log, write http headers and body for a
// give message, status code and err
func ErrorStatus(message string, httpStatusCode int, w http.ResponseWriter, err error) {
	zap.S().Errorw(message, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusCode)
	errText := ""
	if err != nil {
		errText = err.Error()
	}
	b, _ := json.Marshal(models.ErrorMessageResponse{Response: models.MessageError{Message: message, Error: errText}})
	w.Write(b)
}
