package middleware

import (
	"bytes"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"freelancehub/internal/auth"
)

type stubValidator map[string]*auth.TokenClaims

func (v stubValidator) ValidateToken(token string) (*auth.TokenClaims, error) {
	if claims, ok := v[token]; ok {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}

func newTestRouter(logger *slog.Logger, validator tokenValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CorrelationIDMiddleware(), SlogLoggerMiddleware(logger))
	r.GET("/whoami", AuthMiddleware(validator), func(c *gin.Context) {
		LoggerFromContext(c).Info("handler reached")
		c.String(http.StatusOK, c.GetString(UserIDKey)+"|"+GetCorrelationID(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	validator := stubValidator{
		"good":    {UserID: "u1", TokenType: auth.TokenTypeAccess},
		"refresh": {UserID: "u1", TokenType: auth.TokenTypeRefresh},
	}
	r := newTestRouter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), validator)

	cases := map[string]int{
		"":               http.StatusUnauthorized,
		"Bearer":         http.StatusUnauthorized,
		"Basic good":     http.StatusUnauthorized,
		"Bearer bad":     http.StatusUnauthorized,
		"Bearer refresh": http.StatusUnauthorized,
		"bearer good":    http.StatusOK,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, "header %q", header)
		if want == http.StatusOK {
			assert.True(t, strings.HasPrefix(rec.Body.String(), "u1|"))
		} else {
			assert.Contains(t, rec.Body.String(), `"code":4001`)
		}
	}
}

func TestCorrelationIDPropagatesToLogs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := newTestRouter(logger, stubValidator{"good": {UserID: "u1", TokenType: auth.TokenTypeAccess}})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set(correlationIDHeader, "req-123")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, "u1|req-123", rec.Body.String())
	assert.Equal(t, "req-123", rec.Header().Get(correlationIDHeader))
	assert.Contains(t, buf.String(), `"correlation_id":"req-123"`)
	assert.Contains(t, buf.String(), `"user_id":"u1"`)
	assert.Contains(t, buf.String(), `"path":"/whoami"`)
}

func TestCorrelationIDReplacesOversizedValue(t *testing.T) {
	r := newTestRouter(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)), stubValidator{})

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set(correlationIDHeader, strings.Repeat("x", maxCorrelationIDLen+1))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	id := rec.Header().Get(correlationIDHeader)
	assert.NotEmpty(t, id)
	assert.LessOrEqual(t, len(id), maxCorrelationIDLen)
}
