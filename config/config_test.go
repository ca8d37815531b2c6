package config

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/linesmerrill/casecraft-api/models"
)

func TestNew(t *testing.T) {
	os.Setenv("DB_URI", "mongodb://127.0.0.1:27017")
	os.Setenv("DB_NAME", "test")
	defer os.Unsetenv("DB_URI")
	defer os.Unsetenv("DB_NAME")
	conf := New()

	assert.NotEmpty(t, conf)
	assert.Equal(t, "mongodb://127.0.0.1:27017", conf.URL)
	assert.Equal(t, "test", conf.DatabaseName)
}

func TestNewDefaults(t *testing.T) {
	conf := New()

	assert.Equal(t, DefaultAnonymousDailyLimit, conf.AnonymousDailyLimit)
	assert.Equal(t, DefaultAnonymousAnalyses, conf.AnonymousAnalyses)
	assert.Equal(t, DefaultUserCasesLimit, conf.UserCasesLimit)
	assert.Equal(t, DefaultUserAnalysesLimit, conf.UserAnalysesLimit)
	assert.Equal(t, DefaultUserGamePlansLimit, conf.UserGamePlansLimit)
	assert.Equal(t, DefaultPredictionTimeout, conf.PredictionTimeout)
}

func TestNewOverrides(t *testing.T) {
	os.Setenv("USER_CASES_LIMIT", "12")
	os.Setenv("ANONYMOUS_DAILY_LIMIT", "not-a-number")
	os.Setenv("PREDICTION_TIMEOUT", "90s")
	defer os.Unsetenv("USER_CASES_LIMIT")
	defer os.Unsetenv("ANONYMOUS_DAILY_LIMIT")
	defer os.Unsetenv("PREDICTION_TIMEOUT")

	conf := New()

	assert.Equal(t, 12, conf.UserCasesLimit)
	assert.Equal(t, DefaultAnonymousDailyLimit, conf.AnonymousDailyLimit)
	assert.Equal(t, 90*time.Second, conf.PredictionTimeout)
}

func TestErrorStatus(t *testing.T) {
	rr := httptest.NewRecorder()
	ErrorStatus("error it borked", http.StatusBadRequest, rr, errors.New("bad request"))

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	expected := models.ErrorMessageResponse{Response: models.MessageError{Message: "error it borked", Error: "bad request"}}
	b, _ := json.Marshal(expected)
	assert.Equal(t, string(b), rr.Body.String())
}

func TestSetLoggerSetsDevelopmentLogger(t *testing.T) {
	l, err := setLogger("development")
	assert.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))
}

func TestSetLoggerSetsProductionLogger(t *testing.T) {
	l, err := setLogger("production")
	assert.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))
	assert.True(t, l.Core().Enabled(0))
}

func TestSetLoggerSetsLocalLogger(t *testing.T) {
	l, err := setLogger("local")
	assert.NoError(t, err)
	assert.True(t, l.Core().Enabled(-1))
}
