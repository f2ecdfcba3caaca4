package utils

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondWithError(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		message string
	}{
		{name: "bad request", code: http.StatusBadRequest, message: "Invalid input"},
		{name: "unauthorized", code: http.StatusUnauthorized, message: "Invalid API key"},
		{name: "busy", code: http.StatusTooManyRequests, message: "Server busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			RespondWithError(w, tt.code, tt.message)

			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var response ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
			assert.False(t, response.Success)
			assert.Equal(t, tt.message, response.Error)
			assert.Empty(t, response.Code)
		})
	}
}

func TestRespondWithErrorCode(t *testing.T) {
	w := httptest.NewRecorder()

	RespondWithErrorCode(w, http.StatusForbidden, "daily_limit_exceeded", "Daily limit exceeded")

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "daily_limit_exceeded", response.Code)
}

func TestHashString(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashString("abc"))
	assert.NotEqual(t, HashString("a"), HashString("b"))
}

func TestMaskMiddle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "ab", want: "***"},
		{in: "short-id", want: "sh***"},
		{in: "0123456789abcdef", want: "01***"},
		{in: "0123456789abcdefXYZ", want: "01234567***bcdefXYZ"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskMiddle(tt.in, 8))
		})
	}
}

func TestMaskSuffix(t *testing.T) {
	assert.Equal(t, "...wxyz", MaskSuffix("AIzaSy-secret-wxyz", 4))
	assert.Equal(t, "***", MaskSuffix("abc", 4))
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "test", Info)

	logger.Debug("hidden")
	logger.Info("visible", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "component=test")
	assert.Contains(t, out, "key=value")

	buf.Reset()
	logger.SetLogLevel(Error)
	logger.Warn("suppressed")
	logger.Error("failure")
	assert.NotContains(t, buf.String(), "suppressed")
	assert.Contains(t, buf.String(), "failure")
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, Debug, ParseLogLevel("DEBUG"))
	assert.Equal(t, Info, ParseLogLevel("info"))
	assert.Equal(t, Warning, ParseLogLevel("warn"))
	assert.Equal(t, Error, ParseLogLevel("error"))
	assert.Equal(t, Warning, ParseLogLevel("bogus"))
}
