package logging

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(slog.NewTextHandler(&buf, nil)).WithFields(map[string]any{"user_id": "u-1"})

	l.Info("login succeeded")

	out := buf.String()
	assert.Contains(t, out, "login succeeded")
	assert.Contains(t, out, "user_id=u-1")
}

func TestWithError_Nil(t *testing.T) {
	l := Discard()
	assert.Same(t, l, l.WithError(nil))
}

func TestNewLogger_ProdIsJSON(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, false).Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	newLogger(&buf, false).Debug("hidden")
	assert.Empty(t, buf.String())
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := New(slog.NewTextHandler(&buf, nil))

	var fromCtx *Logger
	h := RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetLoggerFromContext(r.Context())
		w.WriteHeader(http.StatusUnauthorized)
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", nil))

	require.NotNil(t, fromCtx)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=401")
	assert.Contains(t, out, "path=/api/v1/auth/login")
}

func TestGetLoggerFromContext_Fallback(t *testing.T) {
	require.NotNil(t, GetLoggerFromContext(context.Background()))
}
